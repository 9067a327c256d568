package matching

import (
	"sort"

	"github.com/schollz/closestmatch"
)

// Thresholds holds the similarity cut-offs used in the different reconciliation passes.
type Thresholds struct {
	Single    float64
	Strict    float64
	Grouped   float64
	TieMargin float64
}

// DefaultThresholds returns the cut-offs used when nothing is configured.
func DefaultThresholds() Thresholds {
	return Thresholds{
		Single:    0.90,
		Strict:    0.95,
		Grouped:   0.80,
		TieMargin: 0.01,
	}
}

// Candidate is a registered name that an incoming name can be matched against.
type Candidate struct {
	ID         uint
	Name       string
	Normalized string
}

// Key returns the normalized form used for scoring, computing it when absent.
func (c Candidate) Key() string {
	if c.Normalized != "" {
		return c.Normalized
	}
	return Normalize(c.Name)
}

// Score pairs a candidate with its similarity to the probed name.
type Score struct {
	Candidate Candidate
	Value     float64
}

// Decision classifies the outcome of a ranking against a threshold.
type Decision int

const (
	// DecisionNoMatch means no candidate reached the threshold.
	DecisionNoMatch Decision = iota
	// DecisionMatch means exactly one candidate clearly won.
	DecisionMatch
	// DecisionTie means the two best candidates are too close to tell apart.
	DecisionTie
)

func (d Decision) String() string {
	switch d {
	case DecisionMatch:
		return "match"
	case DecisionTie:
		return "tie"
	default:
		return "no_match"
	}
}

// Rank scores every candidate against the normalized name, best first. Equal scores
// keep ascending candidate id order.
func Rank(normalized string, candidates []Candidate) []Score {
	scores := make([]Score, 0, len(candidates))
	for _, candidate := range candidates {
		scores = append(scores, Score{Candidate: candidate, Value: Similarity(normalized, candidate.Key())})
	}
	sort.SliceStable(scores, func(i, j int) bool {
		if scores[i].Value != scores[j].Value {
			return scores[i].Value > scores[j].Value
		}
		return scores[i].Candidate.ID < scores[j].Candidate.ID
	})
	return scores
}

// Decide applies the threshold and the tie margin to a ranking produced by Rank.
// On a tie the returned slice holds every candidate within the margin of the best.
func (t Thresholds) Decide(ranked []Score, threshold float64) (Decision, []Score) {
	if len(ranked) == 0 || ranked[0].Value < threshold {
		return DecisionNoMatch, nil
	}
	best := ranked[0]
	tied := []Score{best}
	for _, other := range ranked[1:] {
		// tolerate float noise at exactly the margin
		if best.Value-other.Value <= t.TieMargin+1e-9 {
			tied = append(tied, other)
			continue
		}
		break
	}
	if len(tied) > 1 {
		return DecisionTie, tied
	}
	return DecisionMatch, tied
}

// Suggest returns up to n registered names closest to the probe, for manual review.
// Candidates are compared by normalized form; the display names are returned.
func Suggest(probe string, candidates []Candidate, n int) []string {
	if n <= 0 || len(candidates) == 0 || probe == "" {
		return nil
	}

	display := make(map[string]string, len(candidates))
	keys := make([]string, 0, len(candidates))
	for _, candidate := range candidates {
		key := candidate.Key()
		if key == "" {
			continue
		}
		if _, seen := display[key]; seen {
			continue
		}
		display[key] = candidate.Name
		keys = append(keys, key)
	}
	if len(keys) == 0 {
		return nil
	}

	cm := closestmatch.New(keys, []int{2, 3})
	matches := cm.ClosestN(probe, n)

	suggestions := make([]string, 0, len(matches))
	for _, match := range matches {
		if name, ok := display[match]; ok && match != "" {
			suggestions = append(suggestions, name)
		}
	}
	return suggestions
}
