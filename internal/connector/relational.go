package connector

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/attriq/attriq/internal/apperrors"
	"github.com/attriq/attriq/internal/domain"
)

// RelationalConnector fetches one row by key from a SQL source and
// projects the mapped columns. It dials per call and holds no pool, so a
// connector instance stays stateless.
type RelationalConnector struct {
	cfg  domain.RelationalConfig
	cred Credential
}

func NewRelationalConnector(cfg domain.RelationalConfig, cred Credential) *RelationalConnector {
	return &RelationalConnector{cfg: cfg, cred: cred}
}

func (c *RelationalConnector) dsn() string {
	sslmode := c.cfg.SSLMode
	if sslmode == "" {
		sslmode = "prefer"
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		url.QueryEscape(c.cfg.User),
		url.QueryEscape(c.cred.Password),
		c.cfg.Host, c.cfg.Port, c.cfg.Database, sslmode)
}

func (c *RelationalConnector) connect(ctx context.Context) (*pgx.Conn, error) {
	conn, err := pgx.Connect(ctx, c.dsn())
	if err != nil {
		return nil, unavailable(err)
	}
	return conn, nil
}

func (c *RelationalConnector) TestConnection(ctx context.Context) error {
	conn, err := c.connect(ctx)
	if err != nil {
		return err
	}
	defer conn.Close(ctx)
	if err := conn.Ping(ctx); err != nil {
		return unavailable(err)
	}
	return nil
}

// FetchSubjectAttributes issues exactly one SELECT batching all mapped
// columns for the subject's row.
func (c *RelationalConnector) FetchSubjectAttributes(ctx context.Context, subjectID string, names []string, mappings []domain.AttributeMapping) (map[string]any, error) {
	fields, err := resolveFields(names, mappings)
	if err != nil {
		return nil, err
	}

	// Stable column order so scan targets line up with canonical names.
	canonical := make([]string, 0, len(fields))
	columns := make([]string, 0, len(fields))
	for name, source := range fields {
		canonical = append(canonical, name)
		columns = append(columns, pgx.Identifier{source}.Sanitize())
	}

	query := fmt.Sprintf("SELECT %s FROM %s WHERE %s = $1",
		strings.Join(columns, ", "),
		pgx.Identifier{c.cfg.Table}.Sanitize(),
		pgx.Identifier{c.cfg.KeyColumn}.Sanitize())

	conn, err := c.connect(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Close(ctx)

	row := conn.QueryRow(ctx, query, subjectID)

	dest := make([]any, len(canonical))
	for i := range dest {
		var v any
		dest[i] = &v
	}

	if err := row.Scan(dest...); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: subject %q", apperrors.ErrSubjectNotFound, subjectID)
		}
		return nil, unavailable(err)
	}

	values := make(map[string]any, len(canonical))
	for i, name := range canonical {
		values[name] = *(dest[i].(*any))
	}
	return values, nil
}

// DiscoverSchema lists the configured table's columns from the information
// schema.
func (c *RelationalConnector) DiscoverSchema(ctx context.Context) ([]domain.SchemaField, error) {
	conn, err := c.connect(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Close(ctx)

	rows, err := conn.Query(ctx,
		`SELECT column_name, data_type FROM information_schema.columns WHERE table_name = $1 ORDER BY ordinal_position`,
		c.cfg.Table)
	if err != nil {
		return nil, unavailable(err)
	}
	defer rows.Close()

	var fields []domain.SchemaField
	for rows.Next() {
		var name, dataType string
		if err := rows.Scan(&name, &dataType); err != nil {
			return nil, err
		}
		fields = append(fields, domain.SchemaField{
			Name:            name,
			DataType:        dataType,
			SensitivityHint: hintFor(name),
		})
	}
	return fields, rows.Err()
}
