package connector

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/attriq/attriq/internal/apperrors"
	"github.com/attriq/attriq/internal/domain"
)

// identityProviderDefaults fills in the user-lookup path for well-known
// providers when the connection config leaves it empty.
var identityProviderDefaults = map[string]string{
	"okta":     "/api/v1/users",
	"azure-ad": "/v1.0/users",
	"auth0":    "/api/v2/users",
	"generic":  "/users",
}

// IdentityConnector fetches a subject's user record from a REST identity
// provider and projects the mapped fields out of it.
type IdentityConnector struct {
	cfg      domain.IdentityConfig
	provider string
	cred     Credential
	client   *http.Client
}

func NewIdentityConnector(cfg domain.IdentityConfig, provider string, cred Credential, timeout time.Duration) *IdentityConnector {
	return &IdentityConnector{
		cfg:      cfg,
		provider: provider,
		cred:     cred,
		client:   &http.Client{Timeout: timeout},
	}
}

func (c *IdentityConnector) usersPath() string {
	if c.cfg.UsersPath != "" {
		return c.cfg.UsersPath
	}
	if p, ok := identityProviderDefaults[c.provider]; ok {
		return p
	}
	return identityProviderDefaults["generic"]
}

func (c *IdentityConnector) newRequest(ctx context.Context, path string) (*http.Request, error) {
	u, err := url.JoinPath(c.cfg.BaseURL, path)
	if err != nil {
		return nil, fmt.Errorf("failed to build request url: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}

	header := c.cfg.AuthHeader
	if header == "" {
		header = "Authorization"
	}
	req.Header.Set(header, "Bearer "+c.cred.APIToken)
	req.Header.Set("Accept", "application/json")
	return req, nil
}

func (c *IdentityConnector) TestConnection(ctx context.Context) error {
	req, err := c.newRequest(ctx, c.usersPath())
	if err != nil {
		return err
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return unavailable(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusInternalServerError {
		return fmt.Errorf("%w: provider returned %d", apperrors.ErrConnectorUnavailable, resp.StatusCode)
	}
	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return fmt.Errorf("provider rejected credential: status %d", resp.StatusCode)
	}
	return nil
}

// FetchSubjectAttributes issues one GET for the full user record and
// projects the requested fields. Nested source fields use dot notation.
func (c *IdentityConnector) FetchSubjectAttributes(ctx context.Context, subjectID string, names []string, mappings []domain.AttributeMapping) (map[string]any, error) {
	fields, err := resolveFields(names, mappings)
	if err != nil {
		return nil, err
	}

	req, err := c.newRequest(ctx, c.usersPath()+"/"+url.PathEscape(subjectID))
	if err != nil {
		return nil, err
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, unavailable(err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, fmt.Errorf("%w: subject %q", apperrors.ErrSubjectNotFound, subjectID)
	case resp.StatusCode >= http.StatusInternalServerError:
		return nil, fmt.Errorf("%w: provider returned %d", apperrors.ErrConnectorUnavailable, resp.StatusCode)
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("unexpected provider status %d", resp.StatusCode)
	}

	var record map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&record); err != nil {
		return nil, fmt.Errorf("failed to decode user record: %w", err)
	}

	values := make(map[string]any, len(fields))
	for canonical, source := range fields {
		if v, ok := lookupField(record, source); ok {
			values[canonical] = v
		}
	}
	return values, nil
}

// DiscoverSchema reports the top-level fields of a sample user record.
func (c *IdentityConnector) DiscoverSchema(ctx context.Context) ([]domain.SchemaField, error) {
	req, err := c.newRequest(ctx, c.usersPath())
	if err != nil {
		return nil, err
	}
	q := req.URL.Query()
	q.Set("limit", "1")
	req.URL.RawQuery = q.Encode()

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, unavailable(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: provider returned %d", apperrors.ErrConnectorUnavailable, resp.StatusCode)
	}

	var records []map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&records); err != nil {
		return nil, fmt.Errorf("failed to decode user listing: %w", err)
	}
	if len(records) == 0 {
		return nil, nil
	}

	fields := make([]domain.SchemaField, 0, len(records[0]))
	for name, value := range records[0] {
		fields = append(fields, domain.SchemaField{
			Name:            name,
			DataType:        jsonTypeName(value),
			SensitivityHint: hintFor(name),
		})
	}
	return fields, nil
}

// lookupField walks a decoded JSON record by dot-separated path.
func lookupField(record map[string]any, path string) (any, bool) {
	parts := strings.Split(path, ".")
	var current any = record
	for _, part := range parts {
		m, ok := current.(map[string]any)
		if !ok {
			return nil, false
		}
		current, ok = m[part]
		if !ok {
			return nil, false
		}
	}
	return current, true
}

func jsonTypeName(v any) string {
	switch v.(type) {
	case string:
		return "string"
	case float64:
		return "number"
	case bool:
		return "boolean"
	case map[string]any:
		return "object"
	case []any:
		return "array"
	default:
		return "null"
	}
}

// unavailable folds transport failures and timeouts into the single
// ConnectorUnavailable kind callers handle uniformly.
func unavailable(err error) error {
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return fmt.Errorf("%w: timed out: %w", apperrors.ErrConnectorUnavailable, err)
	}
	return fmt.Errorf("%w: %w", apperrors.ErrConnectorUnavailable, err)
}
