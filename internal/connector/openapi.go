package connector

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/attriq/attriq/internal/apperrors"
	"github.com/attriq/attriq/internal/domain"
)

// OpenAPIConnector introspects an OpenAPI document and exposes its path,
// method, and security metadata as pseudo-attributes. There is no live row
// fetch; the same values come back for every subject.
type OpenAPIConnector struct {
	cfg    domain.HTTPAPIConfig
	cred   Credential
	client *http.Client
}

func NewOpenAPIConnector(cfg domain.HTTPAPIConfig, cred Credential, timeout time.Duration) *OpenAPIConnector {
	return &OpenAPIConnector{
		cfg:    cfg,
		cred:   cred,
		client: &http.Client{Timeout: timeout},
	}
}

// openAPIDoc is the subset of an OpenAPI document the connector reads.
type openAPIDoc struct {
	OpenAPI string `json:"openapi"`
	Swagger string `json:"swagger"`
	Info    struct {
		Title   string `json:"title"`
		Version string `json:"version"`
	} `json:"info"`
	Paths    map[string]map[string]json.RawMessage `json:"paths"`
	Security []map[string][]string                 `json:"security"`
}

func (c *OpenAPIConnector) fetchDoc(ctx context.Context) (*openAPIDoc, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.SpecURL, nil)
	if err != nil {
		return nil, err
	}
	if c.cred.APIToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.cred.APIToken)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, unavailable(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: spec endpoint returned %d", apperrors.ErrConnectorUnavailable, resp.StatusCode)
	}

	var doc openAPIDoc
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		return nil, fmt.Errorf("failed to decode openapi document: %w", err)
	}
	return &doc, nil
}

func (c *OpenAPIConnector) TestConnection(ctx context.Context) error {
	doc, err := c.fetchDoc(ctx)
	if err != nil {
		return err
	}
	if doc.OpenAPI == "" && doc.Swagger == "" {
		return fmt.Errorf("document at %s is not an openapi spec", c.cfg.SpecURL)
	}
	return nil
}

// pseudoAttributes flattens the document into source-field names of the
// form "api.title", "api.version", "path./users.get" and so on.
func (c *OpenAPIConnector) pseudoAttributes(doc *openAPIDoc) map[string]any {
	attrs := map[string]any{
		"api.title":   doc.Info.Title,
		"api.version": doc.Info.Version,
	}

	var schemes []string
	for _, sec := range doc.Security {
		for name := range sec {
			schemes = append(schemes, name)
		}
	}
	sort.Strings(schemes)
	attrs["api.security_schemes"] = strings.Join(schemes, ",")

	for path, ops := range doc.Paths {
		var methods []string
		for method := range ops {
			methods = append(methods, strings.ToUpper(method))
		}
		sort.Strings(methods)
		attrs["path."+path] = strings.Join(methods, ",")
	}
	return attrs
}

func (c *OpenAPIConnector) FetchSubjectAttributes(ctx context.Context, subjectID string, names []string, mappings []domain.AttributeMapping) (map[string]any, error) {
	fields, err := resolveFields(names, mappings)
	if err != nil {
		return nil, err
	}

	doc, err := c.fetchDoc(ctx)
	if err != nil {
		return nil, err
	}

	attrs := c.pseudoAttributes(doc)
	values := make(map[string]any, len(fields))
	for canonical, source := range fields {
		if v, ok := attrs[source]; ok {
			values[canonical] = v
		}
	}
	return values, nil
}

func (c *OpenAPIConnector) DiscoverSchema(ctx context.Context) ([]domain.SchemaField, error) {
	doc, err := c.fetchDoc(ctx)
	if err != nil {
		return nil, err
	}

	attrs := c.pseudoAttributes(doc)
	fields := make([]domain.SchemaField, 0, len(attrs))
	for name := range attrs {
		fields = append(fields, domain.SchemaField{
			Name:            name,
			DataType:        "string",
			SensitivityHint: hintFor(name),
		})
	}
	sort.Slice(fields, func(i, j int) bool { return fields[i].Name < fields[j].Name })
	return fields, nil
}
