package server

import (
	"time"

	"github.com/attriq/attriq/internal/domain"
)

// redactedValue replaces confidential and restricted values in responses to
// callers without an elevated grant.
const redactedValue = "[REDACTED]"

// elevatedHeader carries the caller's elevated-access grant. Presence with
// value "true" returns sensitive values in cleartext.
const elevatedHeader = "X-Elevated-Access"

type attributePayload struct {
	Name            string    `json:"name"`
	Value           any       `json:"value"`
	Sensitivity     string    `json:"sensitivity"`
	IsEncrypted     bool      `json:"is_encrypted"`
	Redacted        bool      `json:"redacted,omitempty"`
	CacheTTLSeconds int64     `json:"cache_ttl_seconds"`
	LastUpdated     time.Time `json:"last_updated"`
}

type resolvePayload struct {
	RequestID  string                      `json:"request_id"`
	Attributes map[string]attributePayload `json:"attributes"`
	Errors     []domain.AttributeError     `json:"errors,omitempty"`
}

// buildResolvePayload converts a resolution result into its wire shape,
// masking confidential and restricted values unless the caller holds an
// elevated grant. The sensitivity tier stays visible either way so policy
// engines can reason about what they were denied.
func buildResolvePayload(result *domain.ResolveResult, requestID string, elevated bool) resolvePayload {
	payload := resolvePayload{
		RequestID:  requestID,
		Attributes: make(map[string]attributePayload, len(result.Attributes)),
		Errors:     result.Errors,
	}

	for name, attr := range result.Attributes {
		out := attributePayload{
			Name:            attr.Name,
			Value:           attr.Value,
			Sensitivity:     attr.Sensitivity.String(),
			IsEncrypted:     attr.IsEncrypted,
			CacheTTLSeconds: int64(attr.CacheTTL.Seconds()),
			LastUpdated:     attr.LastUpdated,
		}
		if !elevated && attr.Sensitivity >= domain.TierConfidential {
			out.Value = redactedValue
			out.Redacted = true
		}
		payload.Attributes[name] = out
	}

	return payload
}
