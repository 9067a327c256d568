package reconciliation

import (
	"strings"

	"github.com/noah-isme/secretaria-go-api/internal/matching"
)

// Cause is the most likely reason a row could not be linked.
type Cause string

const (
	CauseNoGuardian    Cause = "no_guardian"
	CauseTruncatedName Cause = "truncated_name"
	CauseAccentOnly    Cause = "accent_only"
	CauseNameMismatch  Cause = "name_mismatch"
)

const (
	noGuardianCeiling = 0.5
	suggestionCount   = 3
)

// Unidentified is a row left for manual registration.
type Unidentified struct {
	RowID          uint     `json:"row_id"`
	PayerName      string   `json:"payer_name"`
	Normalized     string   `json:"normalized"`
	Cause          Cause    `json:"cause"`
	BestGuardianID *uint    `json:"best_guardian_id,omitempty"`
	BestScore      float64  `json:"best_score"`
	Suggestions    []string `json:"suggestions"`
}

func diagnose(row Row, group *payerGroup, guardians []Guardian, candidates []matching.Candidate) Unidentified {
	result := Unidentified{
		RowID:       row.ID,
		PayerName:   row.PayerName,
		Normalized:  group.normalized,
		Suggestions: matching.Suggest(group.normalized, candidates, suggestionCount),
	}
	if len(group.ranked) > 0 {
		best := group.ranked[0]
		id := best.Candidate.ID
		result.BestGuardianID = &id
		result.BestScore = best.Value
	}

	result.Cause = classify(group.normalized, result.BestScore, guardians)
	return result
}

func classify(payer string, best float64, guardians []Guardian) Cause {
	if payer == "" || len(guardians) == 0 {
		return CauseNoGuardian
	}
	for _, guardian := range guardians {
		// a stale stored normalization hides an exact match
		if guardian.Normalized != "" && guardian.Normalized != payer && matching.Normalize(guardian.Name) == payer {
			return CauseAccentOnly
		}
	}
	for _, guardian := range guardians {
		if truncates(payer, candidateKey(guardian)) {
			return CauseTruncatedName
		}
	}
	if best < noGuardianCeiling {
		return CauseNoGuardian
	}
	return CauseNameMismatch
}

// truncates reports whether payer looks like name cut short by the bank: every payer
// token matches the guardian token in the same position, the last one possibly
// only as a prefix, and the guardian name is longer.
func truncates(payer, name string) bool {
	if len(payer) >= len(name) {
		return false
	}
	payerTokens := strings.Fields(payer)
	nameTokens := strings.Fields(name)
	if len(payerTokens) == 0 || len(payerTokens) > len(nameTokens) {
		return false
	}
	last := len(payerTokens) - 1
	for i, token := range payerTokens {
		if i == last {
			return strings.HasPrefix(nameTokens[i], token)
		}
		if token != nameTokens[i] {
			return false
		}
	}
	return false
}
