package models

// Rule types. Exact compares field values verbatim; fuzzy scores string
// similarity and only counts when it clears the rule's own threshold.
const (
	RuleTypeExact = "exact"
	RuleTypeFuzzy = "fuzzy"
)

type MatchingRule struct {
	Field     string  `json:"field"`
	RuleType  string  `json:"rule_type"`
	Weight    float64 `json:"weight"`
	Threshold float64 `json:"threshold,omitempty"`
}
