package domain

import (
	"context"
	"time"
)

// ConnectionFamily identifies the class of external system a connection
// points at. The family selects which connector implementation and which
// config variant apply.
type ConnectionFamily string

const (
	FamilyIdentityProvider   ConnectionFamily = "identity-provider"
	FamilyRelationalDatabase ConnectionFamily = "relational-database"
	FamilyHTTPAPI            ConnectionFamily = "http-api"
	FamilyMessageTool        ConnectionFamily = "message-tool"
)

// IdentityConfig holds the non-secret settings for an identity-provider
// connection (Okta, Azure AD, Auth0 and friends).
type IdentityConfig struct {
	BaseURL      string `json:"base_url" validate:"required,url"`
	UsersPath    string `json:"users_path"`
	APIVersion   string `json:"api_version"`
	OrgID        string `json:"org_id"`
	PageSize     int    `json:"page_size"`
	VerifyTLS    bool   `json:"verify_tls"`
	AuthHeader   string `json:"auth_header"`
	SubjectField string `json:"subject_field"`
}

// RelationalConfig holds the non-secret settings for a SQL-backed connection.
// The DSN never carries the password; the credential reference supplies it.
type RelationalConfig struct {
	Host       string `json:"host" validate:"required"`
	Port       int    `json:"port" validate:"required,gte=1,lte=65535"`
	Database   string `json:"database" validate:"required"`
	User       string `json:"user" validate:"required"`
	SSLMode    string `json:"sslmode"`
	Table      string `json:"table" validate:"required"`
	KeyColumn  string `json:"key_column" validate:"required"`
	MaxConns   int    `json:"max_conns"`
}

// HTTPAPIConfig holds the non-secret settings for an OpenAPI-described
// source. The connector introspects the document rather than fetching rows.
type HTTPAPIConfig struct {
	SpecURL    string `json:"spec_url" validate:"required,url"`
	BaseURL    string `json:"base_url"`
	AuthScheme string `json:"auth_scheme"`
}

// ConnectorConfig is the tagged variant over the per-family config shapes.
// Exactly one of the pointers matching Family is set; the boundary decodes
// it before anything reaches the connector factory.
type ConnectorConfig struct {
	Family     ConnectionFamily  `json:"family"`
	Identity   *IdentityConfig   `json:"identity,omitempty"`
	Relational *RelationalConfig `json:"relational,omitempty"`
	HTTPAPI    *HTTPAPIConfig    `json:"http_api,omitempty"`
}

// Connection is a configured link to one external system. Credentials are
// referenced indirectly through the secrets store; the struct never holds
// plaintext secrets.
type Connection struct {
	ID            string
	Name          string
	Family        ConnectionFamily
	Provider      string
	Config        ConnectorConfig
	CredentialRef SecretHandle
	SyncEnabled   bool
	SyncInterval  time.Duration
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// AttributeMapping declares how a source-system field maps onto a canonical
// attribute name. Target names are unique per connection.
type AttributeMapping struct {
	ConnectionID string
	SourceField  string
	TargetName   string
	Sensitivity  SensitivityTier
	// DeclaredSensitivity records whether Sensitivity was set explicitly by
	// an administrator. Only a declared mapping may assign TierPublic.
	DeclaredSensitivity bool
	DataType            string
	Required            bool
}

// ConnectionStore persists connections and their attribute mappings.
type ConnectionStore interface {
	CreateConnection(ctx context.Context, conn *Connection) error
	GetConnection(ctx context.Context, id string) (*Connection, error)
	ListConnections(ctx context.Context) ([]*Connection, error)
	UpdateConnection(ctx context.Context, conn *Connection) error
	DeleteConnection(ctx context.Context, id string) error

	UpsertMappings(ctx context.Context, connectionID string, mappings []AttributeMapping) error
	GetMappings(ctx context.Context, connectionID string) ([]AttributeMapping, error)
}
