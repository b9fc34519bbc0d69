package domain

import "context"

// SchemaField is one source-system field reported by schema discovery,
// with the connector's best guess at its sensitivity.
type SchemaField struct {
	Name            string          `json:"name"`
	DataType        string          `json:"data_type"`
	SensitivityHint SensitivityTier `json:"sensitivity_hint"`
}

// Connector is the polymorphic capability over one external system family.
// Implementations are stateless per call; they hold only configuration and a
// resolved credential.
type Connector interface {
	// TestConnection verifies the backend is reachable with the configured
	// credential.
	TestConnection(ctx context.Context) error

	// FetchSubjectAttributes resolves canonical attribute names to source
	// fields via the supplied mappings, issues exactly one backend call
	// batching all requested fields, and returns raw values keyed by
	// canonical name.
	FetchSubjectAttributes(ctx context.Context, subjectID string, names []string, mappings []AttributeMapping) (map[string]any, error)

	// DiscoverSchema lists the fields the source exposes.
	DiscoverSchema(ctx context.Context) ([]SchemaField, error)
}

// ConnectorFactory constructs the concrete connector for a connection,
// keyed by (family, provider). Unknown providers fail with
// apperrors.ErrUnsupportedProvider.
type ConnectorFactory interface {
	New(ctx context.Context, conn *Connection) (Connector, error)
}
