package matching

import (
	"math"
	"sort"

	"record-reconciliation-backend/internal/apperr"
	"record-reconciliation-backend/internal/models"
)

// Outcome is what one full engine pass produces. Results holds matched pairs
// in assignment order, then unmatched A-side records, then unmatched B-side.
type Outcome struct {
	Results      []*models.ReconciliationResult
	MatchedPairs int
	UnmatchedA   int
	UnmatchedB   int
}

type candidatePair struct {
	a          models.Record
	b          models.Record
	confidence float64
	allExact   bool
}

// ValidateRules rejects malformed rule sets before a job is created or run.
func ValidateRules(rules []models.MatchingRule) error {
	if len(rules) == 0 {
		return apperr.Validationf("at least one matching rule is required")
	}
	for i, r := range rules {
		if r.Field == "" {
			return apperr.Validationf("rule %d: field is required", i)
		}
		if r.RuleType != models.RuleTypeExact && r.RuleType != models.RuleTypeFuzzy {
			return apperr.Validationf("rule %d: unknown rule type %q", i, r.RuleType)
		}
		if r.Weight <= 0 {
			return apperr.Validationf("rule %d: weight must be positive", i)
		}
		if r.RuleType == models.RuleTypeFuzzy && (r.Threshold < 0 || r.Threshold > 1) {
			return apperr.Validationf("rule %d: fuzzy threshold must be in [0,1]", i)
		}
	}
	return nil
}

// Match pairs records from both sets using the weighted rule set and returns
// pending results for every record on either side. Pure computation, no I/O.
//
// Candidate pairs are scored rule by rule, normalized by total weight and
// clamped to [0,1]; pairs under the confidence threshold are discarded. The
// survivors are assigned greedily one-to-one in confidence order, ties broken
// by (a.id, b.id) so the outcome is deterministic.
func Match(recordsA, recordsB []models.Record, rules []models.MatchingRule, confidenceThreshold float64) (*Outcome, error) {
	if confidenceThreshold < 0 || confidenceThreshold > 1 {
		return nil, apperr.Validationf("confidence threshold must be in [0,1]")
	}
	if err := ValidateRules(rules); err != nil {
		return nil, err
	}

	totalWeight := 0.0
	for _, r := range rules {
		totalWeight += r.Weight
	}

	var candidates []candidatePair
	for _, a := range recordsA {
		for _, b := range recordsB {
			confidence, allExact := scorePair(a, b, rules, totalWeight)
			if confidence < confidenceThreshold {
				continue
			}
			candidates = append(candidates, candidatePair{a: a, b: b, confidence: confidence, allExact: allExact})
		}
	}

	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].confidence != candidates[j].confidence {
			return candidates[i].confidence > candidates[j].confidence
		}
		if candidates[i].a.ID != candidates[j].a.ID {
			return candidates[i].a.ID < candidates[j].a.ID
		}
		return candidates[i].b.ID < candidates[j].b.ID
	})

	assignedA := make(map[string]bool, len(recordsA))
	assignedB := make(map[string]bool, len(recordsB))
	outcome := &Outcome{}

	for _, c := range candidates {
		if assignedA[c.a.ID] || assignedB[c.b.ID] {
			continue
		}
		assignedA[c.a.ID] = true
		assignedB[c.b.ID] = true

		matchType := models.MatchTypeFuzzy
		if c.allExact {
			matchType = models.MatchTypeExact
		}
		aID, bID := c.a.ID, c.b.ID
		score := c.confidence
		outcome.Results = append(outcome.Results, &models.ReconciliationResult{
			RecordAID:       &aID,
			RecordBID:       &bID,
			MatchType:       matchType,
			ConfidenceScore: &score,
			Status:          models.ResultStatusPending,
		})
		outcome.MatchedPairs++
	}

	for _, a := range recordsA {
		if assignedA[a.ID] {
			continue
		}
		aID := a.ID
		outcome.Results = append(outcome.Results, &models.ReconciliationResult{
			RecordAID: &aID,
			Status:    models.ResultStatusPending,
		})
		outcome.UnmatchedA++
	}
	for _, b := range recordsB {
		if assignedB[b.ID] {
			continue
		}
		bID := b.ID
		outcome.Results = append(outcome.Results, &models.ReconciliationResult{
			RecordBID: &bID,
			Status:    models.ResultStatusPending,
		})
		outcome.UnmatchedB++
	}

	return outcome, nil
}

// scorePair computes the normalized confidence for one candidate pair and
// whether every positively contributing rule was exact-type.
func scorePair(a, b models.Record, rules []models.MatchingRule, totalWeight float64) (float64, bool) {
	contribution := 0.0
	allExact := true
	for _, r := range rules {
		va, vb := a.Field(r.Field), b.Field(r.Field)
		switch r.RuleType {
		case models.RuleTypeExact:
			if va == vb {
				contribution += r.Weight
			}
		case models.RuleTypeFuzzy:
			sim := Similarity(va, vb)
			if sim >= r.Threshold && sim > 0 {
				contribution += r.Weight * sim
				// A fuzzy rule that found identical values is still an
				// exact field match; only a genuinely fuzzy contribution
				// downgrades the pair.
				if sim < 1 {
					allExact = false
				}
			}
		}
	}
	confidence := contribution / totalWeight
	if confidence > 1 {
		confidence = 1
	}
	if confidence < 0 {
		confidence = 0
	}
	return confidence, allExact
}

// Similarity scores two strings in [0,1] from their levenshtein distance.
func Similarity(a, b string) float64 {
	if a == b {
		return 1
	}
	maxLen := math.Max(float64(len(a)), float64(len(b)))
	if maxLen == 0 {
		return 1
	}
	return 1 - float64(levenshtein(a, b))/maxLen
}

func levenshtein(a, b string) int {
	if a == b {
		return 0
	}
	if len(a) == 0 {
		return len(b)
	}
	if len(b) == 0 {
		return len(a)
	}

	dp := make([][]int, len(a)+1)
	for i := range dp {
		dp[i] = make([]int, len(b)+1)
	}

	for i := 0; i <= len(a); i++ {
		dp[i][0] = i
	}
	for j := 0; j <= len(b); j++ {
		dp[0][j] = j
	}

	for i := 1; i <= len(a); i++ {
		for j := 1; j <= len(b); j++ {
			cost := 0
			if a[i-1] != b[j-1] {
				cost = 1
			}
			dp[i][j] = minOf(
				dp[i-1][j]+1,
				dp[i][j-1]+1,
				dp[i-1][j-1]+cost,
			)
		}
	}
	return dp[len(a)][len(b)]
}

func minOf(a, b, c int) int {
	if a < b && a < c {
		return a
	}
	if b < c {
		return b
	}
	return c
}
