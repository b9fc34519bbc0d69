package connector

import (
	"fmt"

	"github.com/attriq/attriq/internal/apperrors"
	"github.com/attriq/attriq/internal/domain"
)

// resolveFields maps canonical attribute names onto source field names via
// the connection's mappings. A requested name with no mapping fails with
// ErrMappingNotFound; connectors surface it rather than guessing.
func resolveFields(names []string, mappings []domain.AttributeMapping) (map[string]string, error) {
	byTarget := make(map[string]domain.AttributeMapping, len(mappings))
	for _, m := range mappings {
		byTarget[m.TargetName] = m
	}

	fields := make(map[string]string, len(names))
	for _, name := range names {
		m, ok := byTarget[name]
		if !ok {
			return nil, fmt.Errorf("%w: %s", apperrors.ErrMappingNotFound, name)
		}
		fields[name] = m.SourceField
	}
	return fields, nil
}
