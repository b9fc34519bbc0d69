package domain

import (
	"encoding/json"
	"fmt"
)

// SensitivityTier orders attribute values by the protection they require.
// Comparison uses the integer ordering, so StricterOf can pick the higher
// of a declared and an inferred tier.
type SensitivityTier int

const (
	TierPublic SensitivityTier = iota
	TierInternal
	TierConfidential
	TierRestricted
)

func (t SensitivityTier) String() string {
	switch t {
	case TierPublic:
		return "public"
	case TierInternal:
		return "internal"
	case TierConfidential:
		return "confidential"
	case TierRestricted:
		return "restricted"
	default:
		return "unknown"
	}
}

// TierFromString parses the wire representation of a tier.
func TierFromString(s string) (SensitivityTier, error) {
	switch s {
	case "public":
		return TierPublic, nil
	case "internal":
		return TierInternal, nil
	case "confidential":
		return TierConfidential, nil
	case "restricted":
		return TierRestricted, nil
	default:
		return TierInternal, fmt.Errorf("unknown sensitivity tier %q", s)
	}
}

// MarshalJSON emits the wire representation of the tier.
func (t SensitivityTier) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.String())
}

func (t *SensitivityTier) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	tier, err := TierFromString(s)
	if err != nil {
		return err
	}
	*t = tier
	return nil
}

// StricterOf returns the tier requiring more protection.
func StricterOf(a, b SensitivityTier) SensitivityTier {
	if a > b {
		return a
	}
	return b
}

// RequiresEncryptionAtRest reports whether values of this tier must be
// encrypted before they are cached or otherwise persisted.
func (t SensitivityTier) RequiresEncryptionAtRest() bool {
	return t >= TierConfidential
}

// Cacheable reports whether values of this tier may be written to the cache
// at all. Restricted values are computed fresh on every request.
func (t SensitivityTier) Cacheable() bool {
	return t < TierRestricted
}
