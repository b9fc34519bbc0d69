package classify

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/attriq/attriq/internal/domain"
)

func TestClassify_RestrictedTokens(t *testing.T) {
	cases := []struct {
		name  string
		value any
	}{
		{"password", "x"},
		{"user.ssn", "123-45-6789"},
		{"API_TOKEN", "abc"},
		{"base_salary", 90000},
		{"home_address", "1 Main St"},
		{"credit_card_number", "4111111111111111"},
		{"bank_account", "000123"},
		{"phone_number", "+15551234567"},
		{"client_secret", nil},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, domain.TierRestricted, Classify(tc.name, tc.value))
		})
	}
}

func TestClassify_ConfidentialValues(t *testing.T) {
	assert.Equal(t, domain.TierConfidential, Classify("user.email", "u1@example.com"))
	assert.Equal(t, domain.TierConfidential, Classify("notes", "the password is hunter2"))
	assert.Equal(t, domain.TierConfidential, Classify("notes", "shared SECRET value"))
}

func TestClassify_DefaultInternal(t *testing.T) {
	assert.Equal(t, domain.TierInternal, Classify("department", "engineering"))
	assert.Equal(t, domain.TierInternal, Classify("age", 42))
	assert.Equal(t, domain.TierInternal, Classify("display_name", "Sam"))
}

func TestClassify_NeverInfersPublic(t *testing.T) {
	for _, name := range []string{"department", "team", "title", "location"} {
		assert.Greater(t, Classify(name, "x"), domain.TierPublic)
	}
}

func TestClassify_Idempotent(t *testing.T) {
	first := Classify("user.email", "u1@example.com")
	second := Classify("user.email", "u1@example.com")
	assert.Equal(t, first, second)
}

func TestEffective_StricterWins(t *testing.T) {
	declared := &domain.AttributeMapping{
		Sensitivity:         domain.TierConfidential,
		DeclaredSensitivity: true,
	}
	assert.Equal(t, domain.TierConfidential, Effective(declared, domain.TierInternal))
	assert.Equal(t, domain.TierRestricted, Effective(declared, domain.TierRestricted))
}

func TestEffective_DeclaredCannotLower(t *testing.T) {
	declared := &domain.AttributeMapping{
		Sensitivity:         domain.TierPublic,
		DeclaredSensitivity: true,
	}
	assert.Equal(t, domain.TierInternal, Effective(declared, domain.TierInternal))
}

func TestEffective_NoDeclaration(t *testing.T) {
	assert.Equal(t, domain.TierInternal, Effective(nil, domain.TierInternal))

	undeclared := &domain.AttributeMapping{Sensitivity: domain.TierPublic}
	assert.Equal(t, domain.TierConfidential, Effective(undeclared, domain.TierConfidential))
}
