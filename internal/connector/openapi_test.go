package connector

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/attriq/attriq/internal/domain"
)

const sampleSpec = `{
	"openapi": "3.0.0",
	"info": {"title": "Billing API", "version": "2.1.0"},
	"security": [{"oauth2": []}, {"apiKey": []}],
	"paths": {
		"/invoices": {"get": {}, "post": {}},
		"/invoices/{id}": {"get": {}}
	}
}`

func specServer() *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(sampleSpec))
	}))
}

func TestOpenAPIFetch(t *testing.T) {
	srv := specServer()
	defer srv.Close()

	c := NewOpenAPIConnector(domain.HTTPAPIConfig{SpecURL: srv.URL}, Credential{}, time.Second)

	mappings := []domain.AttributeMapping{
		{SourceField: "api.title", TargetName: "source.title"},
		{SourceField: "path./invoices", TargetName: "source.invoice_methods"},
		{SourceField: "api.security_schemes", TargetName: "source.auth"},
	}

	values, err := c.FetchSubjectAttributes(context.Background(), "any-subject",
		[]string{"source.title", "source.invoice_methods", "source.auth"}, mappings)

	require.NoError(t, err)
	assert.Equal(t, "Billing API", values["source.title"])
	assert.Equal(t, "GET,POST", values["source.invoice_methods"])
	assert.Equal(t, "apiKey,oauth2", values["source.auth"])
}

func TestOpenAPITestConnection(t *testing.T) {
	srv := specServer()
	defer srv.Close()

	c := NewOpenAPIConnector(domain.HTTPAPIConfig{SpecURL: srv.URL}, Credential{}, time.Second)
	assert.NoError(t, c.TestConnection(context.Background()))
}

func TestOpenAPIDiscoverSchema(t *testing.T) {
	srv := specServer()
	defer srv.Close()

	c := NewOpenAPIConnector(domain.HTTPAPIConfig{SpecURL: srv.URL}, Credential{}, time.Second)

	fields, err := c.DiscoverSchema(context.Background())
	require.NoError(t, err)

	names := make([]string, 0, len(fields))
	for _, f := range fields {
		names = append(names, f.Name)
	}
	assert.Contains(t, names, "api.title")
	assert.Contains(t, names, "api.version")
	assert.Contains(t, names, "path./invoices")
	assert.Contains(t, names, "path./invoices/{id}")
}
