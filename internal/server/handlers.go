package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/attriq/attriq/internal/apperrors"
	"github.com/attriq/attriq/internal/connector"
	"github.com/attriq/attriq/internal/domain"
)

// ResolverService is the slice of the resolver the HTTP layer calls.
type ResolverService interface {
	Resolve(ctx context.Context, connectionID, subjectID string, names []string, requestID string) (*domain.ResolveResult, error)
	TestConnection(ctx context.Context, connectionID string) error
	DiscoverSchema(ctx context.Context, connectionID string) ([]domain.SchemaField, error)
}

// ConnectorInvalidator drops per-connection connector state after deletion
// or credential rotation.
type ConnectorInvalidator interface {
	Forget(connectionID string)
}

// Pinger reports backing-store connectivity for the health endpoint.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handler owns the route table and all request handlers.
type Handler struct {
	resolver    ResolverService
	connections domain.ConnectionStore
	cache       domain.AttributeCache
	secrets     domain.SecretsStore
	audit       domain.AuditRepository
	connectors  ConnectorInvalidator
	db          Pinger
	classifier  *apperrors.ErrorClassifier
	validate    *validator.Validate
	logger      *slog.Logger
	version     string
}

func NewHandler(
	resolver ResolverService,
	connections domain.ConnectionStore,
	cache domain.AttributeCache,
	secrets domain.SecretsStore,
	audit domain.AuditRepository,
	connectors ConnectorInvalidator,
	db Pinger,
	logger *slog.Logger,
	version string,
) *Handler {
	return &Handler{
		resolver:    resolver,
		connections: connections,
		cache:       cache,
		secrets:     secrets,
		audit:       audit,
		connectors:  connectors,
		db:          db,
		classifier:  apperrors.NewErrorClassifier(logger),
		validate:    validator.New(),
		logger:      logger,
		version:     version,
	}
}

// Routes assembles the chi router with the shared middleware chain.
func (h *Handler) Routes(corsOrigins []string) http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(requestLogger(h.logger))
	r.Use(chimiddleware.Recoverer)

	if len(corsOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins:   corsOrigins,
			AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
			AllowedHeaders:   []string{"Accept", "Content-Type", elevatedHeader},
			AllowCredentials: false,
			MaxAge:           300,
		}))
	}

	r.Get("/healthz", h.handleHealthz)
	r.Get("/cache/stats", h.handleCacheStats)

	r.Route("/connections", func(r chi.Router) {
		r.Post("/", h.handleCreateConnection)
		r.Get("/", h.handleListConnections)

		r.Route("/{connectionID}", func(r chi.Router) {
			r.Get("/", h.handleGetConnection)
			r.Put("/", h.handleUpdateConnection)
			r.Delete("/", h.handleDeleteConnection)

			r.Post("/attributes:resolve", h.handleResolve)
			r.Get("/mappings", h.handleGetMappings)
			r.Put("/mappings", h.handleUpsertMappings)
			r.Get("/schema", h.handleDiscoverSchema)
			r.Post("/test", h.handleTestConnection)
			r.Post("/credentials:rotate", h.handleRotateCredential)
			r.Get("/audit-logs", h.handleAuditLogs)
			r.Delete("/cache", h.handleEvictCache)
		})
	})

	return r
}

type resolveRequest struct {
	SubjectID  string   `json:"subject_id" validate:"required"`
	Attributes []string `json:"attributes" validate:"required,min=1,dive,required"`
	RequestID  string   `json:"request_id"`
}

func (h *Handler) handleResolve(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	connectionID := chi.URLParam(r, "connectionID")

	var req resolveRequest
	if err := h.decode(r, &req); err != nil {
		h.writeError(ctx, w, err, "resolve_attributes")
		return
	}

	// A caller-supplied correlation ID wins; otherwise the middleware's.
	requestID := req.RequestID
	if requestID == "" {
		requestID = chimiddleware.GetReqID(ctx)
	}
	result, err := h.resolver.Resolve(ctx, connectionID, req.SubjectID, req.Attributes, requestID)
	if err != nil {
		h.writeError(ctx, w, err, "resolve_attributes")
		return
	}

	elevated := r.Header.Get(elevatedHeader) == "true"
	h.writeJSON(w, http.StatusOK, buildResolvePayload(result, requestID, elevated))
}

type connectionRequest struct {
	Name                string                 `json:"name" validate:"required"`
	Family              string                 `json:"family" validate:"required,oneof=identity-provider relational-database http-api message-tool"`
	Provider            string                 `json:"provider" validate:"required"`
	Config              domain.ConnectorConfig `json:"config"`
	Credential          json.RawMessage        `json:"credential" validate:"required"`
	SyncEnabled         bool                   `json:"sync_enabled"`
	SyncIntervalSeconds int64                  `json:"sync_interval_seconds"`
}

type connectionPayload struct {
	ID                  string                 `json:"id"`
	Name                string                 `json:"name"`
	Family              string                 `json:"family"`
	Provider            string                 `json:"provider"`
	Config              domain.ConnectorConfig `json:"config"`
	CredentialRef       string                 `json:"credential_ref"`
	SyncEnabled         bool                   `json:"sync_enabled"`
	SyncIntervalSeconds int64                  `json:"sync_interval_seconds"`
	CreatedAt           time.Time              `json:"created_at"`
	UpdatedAt           time.Time              `json:"updated_at"`
}

func toConnectionPayload(conn *domain.Connection) connectionPayload {
	return connectionPayload{
		ID:                  conn.ID,
		Name:                conn.Name,
		Family:              string(conn.Family),
		Provider:            conn.Provider,
		Config:              conn.Config,
		CredentialRef:       conn.CredentialRef.Truncated(),
		SyncEnabled:         conn.SyncEnabled,
		SyncIntervalSeconds: int64(conn.SyncInterval / time.Second),
		CreatedAt:           conn.CreatedAt,
		UpdatedAt:           conn.UpdatedAt,
	}
}

func (h *Handler) handleCreateConnection(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req connectionRequest
	if err := h.decode(r, &req); err != nil {
		h.writeError(ctx, w, err, "create_connection")
		return
	}
	if _, err := connector.ParseCredential(req.Credential); err != nil {
		h.writeError(ctx, w, fmt.Errorf("%w: %v", apperrors.ErrInvalidInput, err), "create_connection")
		return
	}

	handle, err := h.secrets.Store(ctx, req.Credential)
	if err != nil {
		h.writeError(ctx, w, err, "create_connection")
		return
	}

	now := time.Now().UTC()
	family := domain.ConnectionFamily(req.Family)
	req.Config.Family = family

	conn := &domain.Connection{
		ID:            uuid.New().String(),
		Name:          req.Name,
		Family:        family,
		Provider:      req.Provider,
		Config:        req.Config,
		CredentialRef: handle,
		SyncEnabled:   req.SyncEnabled,
		SyncInterval:  time.Duration(req.SyncIntervalSeconds) * time.Second,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	if err := h.connections.CreateConnection(ctx, conn); err != nil {
		if _, delErr := h.secrets.Delete(ctx, handle); delErr != nil {
			h.logger.WarnContext(ctx, "failed to clean up credential after create failure",
				"handle", handle.Truncated(), "error", delErr)
		}
		h.writeError(ctx, w, err, "create_connection")
		return
	}

	h.writeJSON(w, http.StatusCreated, toConnectionPayload(conn))
}

func (h *Handler) handleListConnections(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	conns, err := h.connections.ListConnections(ctx)
	if err != nil {
		h.writeError(ctx, w, err, "list_connections")
		return
	}

	payload := make([]connectionPayload, 0, len(conns))
	for _, conn := range conns {
		payload = append(payload, toConnectionPayload(conn))
	}
	h.writeJSON(w, http.StatusOK, payload)
}

func (h *Handler) handleGetConnection(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	conn, err := h.connections.GetConnection(ctx, chi.URLParam(r, "connectionID"))
	if err != nil {
		h.writeError(ctx, w, err, "get_connection")
		return
	}
	h.writeJSON(w, http.StatusOK, toConnectionPayload(conn))
}

type connectionUpdateRequest struct {
	Name                string                 `json:"name" validate:"required"`
	Config              domain.ConnectorConfig `json:"config"`
	SyncEnabled         bool                   `json:"sync_enabled"`
	SyncIntervalSeconds int64                  `json:"sync_interval_seconds"`
}

func (h *Handler) handleUpdateConnection(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	connectionID := chi.URLParam(r, "connectionID")

	var req connectionUpdateRequest
	if err := h.decode(r, &req); err != nil {
		h.writeError(ctx, w, err, "update_connection")
		return
	}

	conn, err := h.connections.GetConnection(ctx, connectionID)
	if err != nil {
		h.writeError(ctx, w, err, "update_connection")
		return
	}

	conn.Name = req.Name
	conn.Config = req.Config
	conn.Config.Family = conn.Family
	conn.SyncEnabled = req.SyncEnabled
	conn.SyncInterval = time.Duration(req.SyncIntervalSeconds) * time.Second
	conn.UpdatedAt = time.Now().UTC()

	if err := h.connections.UpdateConnection(ctx, conn); err != nil {
		h.writeError(ctx, w, err, "update_connection")
		return
	}

	h.connectors.Forget(connectionID)
	h.writeJSON(w, http.StatusOK, toConnectionPayload(conn))
}

func (h *Handler) handleDeleteConnection(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	connectionID := chi.URLParam(r, "connectionID")

	conn, err := h.connections.GetConnection(ctx, connectionID)
	if err != nil {
		h.writeError(ctx, w, err, "delete_connection")
		return
	}

	if err := h.connections.DeleteConnection(ctx, connectionID); err != nil {
		h.writeError(ctx, w, err, "delete_connection")
		return
	}

	if _, err := h.secrets.Delete(ctx, conn.CredentialRef); err != nil {
		h.logger.WarnContext(ctx, "failed to delete credential for removed connection",
			"connection_id", connectionID, "handle", conn.CredentialRef.Truncated(), "error", err)
	}
	h.cache.Evict(ctx, connectionID)
	h.connectors.Forget(connectionID)

	w.WriteHeader(http.StatusNoContent)
}

type mappingPayload struct {
	SourceField string `json:"source_field" validate:"required"`
	TargetName  string `json:"target_name" validate:"required"`
	Sensitivity string `json:"sensitivity" validate:"required,oneof=public internal confidential restricted"`
	Declared    bool   `json:"declared"`
	DataType    string `json:"data_type"`
	Required    bool   `json:"required"`
}

type mappingsRequest struct {
	Mappings []mappingPayload `json:"mappings" validate:"required,min=1,dive"`
}

func (h *Handler) handleGetMappings(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	connectionID := chi.URLParam(r, "connectionID")

	if _, err := h.connections.GetConnection(ctx, connectionID); err != nil {
		h.writeError(ctx, w, err, "get_mappings")
		return
	}

	mappings, err := h.connections.GetMappings(ctx, connectionID)
	if err != nil {
		h.writeError(ctx, w, err, "get_mappings")
		return
	}

	payload := make([]mappingPayload, 0, len(mappings))
	for _, m := range mappings {
		payload = append(payload, mappingPayload{
			SourceField: m.SourceField,
			TargetName:  m.TargetName,
			Sensitivity: m.Sensitivity.String(),
			Declared:    m.DeclaredSensitivity,
			DataType:    m.DataType,
			Required:    m.Required,
		})
	}
	h.writeJSON(w, http.StatusOK, payload)
}

// handleUpsertMappings declares mappings explicitly, which marks their
// sensitivity as administrator-assigned.
func (h *Handler) handleUpsertMappings(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	connectionID := chi.URLParam(r, "connectionID")

	var req mappingsRequest
	if err := h.decode(r, &req); err != nil {
		h.writeError(ctx, w, err, "upsert_mappings")
		return
	}

	if _, err := h.connections.GetConnection(ctx, connectionID); err != nil {
		h.writeError(ctx, w, err, "upsert_mappings")
		return
	}

	mappings := make([]domain.AttributeMapping, 0, len(req.Mappings))
	for _, m := range req.Mappings {
		tier, err := domain.TierFromString(m.Sensitivity)
		if err != nil {
			h.writeError(ctx, w, fmt.Errorf("%w: %v", apperrors.ErrInvalidInput, err), "upsert_mappings")
			return
		}
		mappings = append(mappings, domain.AttributeMapping{
			ConnectionID:        connectionID,
			SourceField:         m.SourceField,
			TargetName:          m.TargetName,
			Sensitivity:         tier,
			DeclaredSensitivity: true,
			DataType:            m.DataType,
			Required:            m.Required,
		})
	}

	if err := h.connections.UpsertMappings(ctx, connectionID, mappings); err != nil {
		h.writeError(ctx, w, err, "upsert_mappings")
		return
	}

	// Stale values cached under the previous sensitivity must not outlive
	// the mapping change.
	h.cache.Evict(ctx, connectionID)

	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleDiscoverSchema(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	fields, err := h.resolver.DiscoverSchema(ctx, chi.URLParam(r, "connectionID"))
	if err != nil {
		h.writeError(ctx, w, err, "discover_schema")
		return
	}

	type fieldPayload struct {
		Name            string `json:"name"`
		DataType        string `json:"data_type"`
		SensitivityHint string `json:"sensitivity_hint"`
	}
	payload := make([]fieldPayload, 0, len(fields))
	for _, f := range fields {
		payload = append(payload, fieldPayload{
			Name:            f.Name,
			DataType:        f.DataType,
			SensitivityHint: f.SensitivityHint.String(),
		})
	}
	h.writeJSON(w, http.StatusOK, payload)
}

func (h *Handler) handleTestConnection(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if err := h.resolver.TestConnection(ctx, chi.URLParam(r, "connectionID")); err != nil {
		h.writeError(ctx, w, err, "test_connection")
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type rotateCredentialRequest struct {
	Credential json.RawMessage `json:"credential" validate:"required"`
}

// handleRotateCredential re-encrypts the connection credential under a new
// handle and invalidates everything derived from the old one.
func (h *Handler) handleRotateCredential(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	connectionID := chi.URLParam(r, "connectionID")

	var req rotateCredentialRequest
	if err := h.decode(r, &req); err != nil {
		h.writeError(ctx, w, err, "rotate_credential")
		return
	}
	if _, err := connector.ParseCredential(req.Credential); err != nil {
		h.writeError(ctx, w, fmt.Errorf("%w: %v", apperrors.ErrInvalidInput, err), "rotate_credential")
		return
	}

	conn, err := h.connections.GetConnection(ctx, connectionID)
	if err != nil {
		h.writeError(ctx, w, err, "rotate_credential")
		return
	}

	newHandle, err := h.secrets.Rotate(ctx, conn.CredentialRef, req.Credential)
	if err != nil {
		h.writeError(ctx, w, err, "rotate_credential")
		return
	}

	conn.CredentialRef = newHandle
	conn.UpdatedAt = time.Now().UTC()
	if err := h.connections.UpdateConnection(ctx, conn); err != nil {
		h.writeError(ctx, w, err, "rotate_credential")
		return
	}

	h.cache.Evict(ctx, connectionID)
	h.connectors.Forget(connectionID)

	h.writeJSON(w, http.StatusOK, map[string]string{"credential_ref": newHandle.Truncated()})
}

type auditEntryPayload struct {
	ID            string    `json:"id"`
	ConnectionID  string    `json:"connection_id"`
	AttributeName string    `json:"attribute_name,omitempty"`
	Operation     string    `json:"operation"`
	SubjectID     string    `json:"subject_id,omitempty"`
	RequestID     string    `json:"request_id,omitempty"`
	Success       bool      `json:"success"`
	Error         string    `json:"error,omitempty"`
	Timestamp     time.Time `json:"timestamp"`
}

func (h *Handler) handleAuditLogs(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	q := domain.AuditQuery{
		ConnectionID: chi.URLParam(r, "connectionID"),
		SubjectID:    r.URL.Query().Get("userId"),
	}

	var err error
	if q.Start, err = parseTimeParam(r, "start"); err != nil {
		h.writeError(ctx, w, err, "query_audit_logs")
		return
	}
	if q.End, err = parseTimeParam(r, "end"); err != nil {
		h.writeError(ctx, w, err, "query_audit_logs")
		return
	}
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if q.Limit, err = strconv.Atoi(raw); err != nil {
			h.writeError(ctx, w, fmt.Errorf("%w: limit must be an integer", apperrors.ErrInvalidInput), "query_audit_logs")
			return
		}
	}

	entries, err := h.audit.Query(ctx, q)
	if err != nil {
		h.writeError(ctx, w, err, "query_audit_logs")
		return
	}

	payload := make([]auditEntryPayload, 0, len(entries))
	for _, e := range entries {
		payload = append(payload, auditEntryPayload{
			ID:            e.ID,
			ConnectionID:  e.ConnectionID,
			AttributeName: e.AttributeName,
			Operation:     string(e.Operation),
			SubjectID:     e.SubjectID,
			RequestID:     e.RequestID,
			Success:       e.Success,
			Error:         e.Error,
			Timestamp:     e.Timestamp,
		})
	}
	h.writeJSON(w, http.StatusOK, payload)
}

func (h *Handler) handleEvictCache(w http.ResponseWriter, r *http.Request) {
	h.cache.Evict(r.Context(), chi.URLParam(r, "connectionID"))
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleCacheStats(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, h.cache.Stats(r.Context()))
}

func (h *Handler) handleHealthz(w http.ResponseWriter, r *http.Request) {
	if h.db != nil {
		if err := h.db.Ping(r.Context()); err != nil {
			h.logger.ErrorContext(r.Context(), "health check failed", "error", err)
			h.writeJSON(w, http.StatusServiceUnavailable, map[string]string{
				"status":  "degraded",
				"version": h.version,
			})
			return
		}
	}
	h.writeJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"version": h.version,
	})
}

func parseTimeParam(r *http.Request, name string) (time.Time, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %s must be RFC 3339", apperrors.ErrInvalidInput, name)
	}
	return t, nil
}

func (h *Handler) decode(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return fmt.Errorf("%w: malformed request body: %v", apperrors.ErrInvalidInput, err)
	}
	if err := h.validate.Struct(v); err != nil {
		return fmt.Errorf("%w: %v", apperrors.ErrInvalidInput, err)
	}
	return nil
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Error("failed to encode response", "error", err)
	}
}

func (h *Handler) writeError(ctx context.Context, w http.ResponseWriter, err error, operation string) {
	status, message := h.classifier.LogAndStatus(ctx, h.classifier.Classify(err, operation))

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}
