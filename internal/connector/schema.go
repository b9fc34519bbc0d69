package connector

import (
	"github.com/attriq/attriq/internal/classify"
	"github.com/attriq/attriq/internal/domain"
)

// hintFor reuses the sensitivity classifier for schema discovery so the
// hint can never disagree with what resolution would later infer.
func hintFor(fieldName string) domain.SensitivityTier {
	return classify.Classify(fieldName, nil)
}
