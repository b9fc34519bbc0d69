// Package classify maps attribute names and values onto sensitivity tiers.
// The function is pure and is shared by the cache-write and audit paths so
// classification can never disagree between subsystems.
package classify

import (
	"regexp"
	"strings"

	"github.com/attriq/attriq/internal/domain"
)

// restrictedTokens is checked in order against the lowercased attribute
// name. A match forces TierRestricted regardless of the value.
var restrictedTokens = []string{
	"password",
	"secret",
	"token",
	"ssn",
	"salary",
	"phone",
	"address",
	"credit_card",
	"bank_account",
}

var emailPattern = regexp.MustCompile(`[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}`)

// Classify returns the inferred sensitivity tier for one attribute.
// TierPublic is never inferred; it can only come from a declared mapping.
func Classify(attributeName string, value any) domain.SensitivityTier {
	name := strings.ToLower(attributeName)
	for _, token := range restrictedTokens {
		if strings.Contains(name, token) {
			return domain.TierRestricted
		}
	}

	if s, ok := value.(string); ok {
		lower := strings.ToLower(s)
		if emailPattern.MatchString(s) || strings.Contains(lower, "password") || strings.Contains(lower, "secret") {
			return domain.TierConfidential
		}
	}

	return domain.TierInternal
}

// Effective combines a mapping's declared sensitivity with the inferred
// tier. The stricter of the two always wins, so a declaration can raise
// protection but never lower it below what the classifier infers.
func Effective(mapping *domain.AttributeMapping, inferred domain.SensitivityTier) domain.SensitivityTier {
	if mapping == nil || !mapping.DeclaredSensitivity {
		return inferred
	}
	return domain.StricterOf(mapping.Sensitivity, inferred)
}
