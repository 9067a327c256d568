// Package reconciliation links anonymous PIX statement rows to registered guardians.
// It is pure: callers load rows and guardians, run Reconcile and persist the links.
package reconciliation

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/noah-isme/secretaria-go-api/internal/billing"
	"github.com/noah-isme/secretaria-go-api/internal/matching"
)

// Pass names which step produced a link.
type Pass string

const (
	PassSingle  Pass = "single"
	PassGrouped Pass = "grouped"
	PassManual  Pass = "manual"
)

// Row is a statement row as seen by the engine.
type Row struct {
	ID          uint
	PayerName   string
	Normalized  string
	Amount      decimal.Decimal
	PaymentDate time.Time
	GuardianID  *uint
}

// Guardian is a registered guardian together with the money the school expects from them.
type Guardian struct {
	ID              uint
	Name            string
	Normalized      string
	StudentIDs      []uint
	ExpectedAmounts []decimal.Decimal
}

// Options tunes a run.
type Options struct {
	Thresholds matching.Thresholds
	Strict     bool
}

// Link is a decision to attach a row to a guardian (and possibly a student).
type Link struct {
	RowID      uint    `json:"row_id"`
	GuardianID uint    `json:"guardian_id"`
	StudentID  *uint   `json:"student_id,omitempty"`
	Score      float64 `json:"score"`
	Pass       Pass    `json:"pass"`
}

// CandidateScore describes one guardian considered during review.
type CandidateScore struct {
	GuardianID uint    `json:"guardian_id"`
	Name       string  `json:"name"`
	Score      float64 `json:"score"`
}

// Review is a set of rows the engine refused to link on its own.
type Review struct {
	RowIDs     []uint           `json:"row_ids"`
	PayerName  string           `json:"payer_name"`
	Reason     ReviewReason     `json:"reason"`
	Candidates []CandidateScore `json:"candidates"`
}

// ReviewReason explains why manual review is needed.
type ReviewReason string

const (
	ReviewTiedCandidates     ReviewReason = "tied_candidates"
	ReviewAmbiguousAggregate ReviewReason = "ambiguous_aggregate"
)

// Report is the outcome of one run.
type Report struct {
	Links        []Link         `json:"links"`
	Reviews      []Review       `json:"reviews"`
	Unidentified []Unidentified `json:"unidentified"`
	Skipped      int            `json:"skipped"`
}

type payerGroup struct {
	normalized string
	payerName  string
	rows       []Row
	ranked     []matching.Score
}

// Reconcile runs the single-match pass, then the aggregation pass over whatever is
// left, then diagnoses the rows nobody could claim. Rows that already carry a
// guardian are skipped and never changed.
func Reconcile(rows []Row, guardians []Guardian, opts Options) Report {
	thresholds := opts.Thresholds
	if thresholds == (matching.Thresholds{}) {
		thresholds = matching.DefaultThresholds()
	}
	singleThreshold := thresholds.Single
	if opts.Strict {
		singleThreshold = thresholds.Strict
	}

	byID := make(map[uint]Guardian, len(guardians))
	candidates := make([]matching.Candidate, 0, len(guardians))
	for _, guardian := range guardians {
		byID[guardian.ID] = guardian
		candidates = append(candidates, matching.Candidate{ID: guardian.ID, Name: guardian.Name, Normalized: guardian.Normalized})
	}

	report := Report{}
	groups := groupRows(rows, &report)

	var pending []*payerGroup
	for _, group := range groups {
		group.ranked = matching.Rank(group.normalized, candidates)
		decision, winners := thresholds.Decide(group.ranked, singleThreshold)
		switch decision {
		case matching.DecisionMatch:
			guardian := byID[winners[0].Candidate.ID]
			for _, row := range group.rows {
				report.Links = append(report.Links, Link{
					RowID:      row.ID,
					GuardianID: guardian.ID,
					StudentID:  soleStudent(guardian),
					Score:      winners[0].Value,
					Pass:       PassSingle,
				})
			}
		case matching.DecisionTie:
			report.Reviews = append(report.Reviews, Review{
				RowIDs:     rowIDs(group.rows),
				PayerName:  group.payerName,
				Reason:     ReviewTiedCandidates,
				Candidates: candidateScores(winners),
			})
		default:
			pending = append(pending, group)
		}
	}

	unclaimed := aggregate(pending, byID, thresholds, &report)
	for _, group := range unclaimed {
		for _, row := range group.rows {
			report.Unidentified = append(report.Unidentified, diagnose(row, group, guardians, candidates))
		}
	}

	return report
}

func groupRows(rows []Row, report *Report) []*payerGroup {
	index := map[string]*payerGroup{}
	var groups []*payerGroup
	for _, row := range rows {
		if row.GuardianID != nil {
			report.Skipped++
			continue
		}
		key := row.Normalized
		if key == "" {
			key = matching.Normalize(row.PayerName)
		}
		row.Normalized = key
		group, ok := index[key]
		if !ok {
			group = &payerGroup{normalized: key, payerName: row.PayerName}
			index[key] = group
			groups = append(groups, group)
		}
		group.rows = append(group.rows, row)
	}
	sort.SliceStable(groups, func(i, j int) bool { return groups[i].normalized < groups[j].normalized })
	return groups
}

type aggregateKey struct {
	guardianID uint
	day        time.Time
}

type aggregateGroup struct {
	key   aggregateKey
	rows  []Row
	score float64
}

// aggregate handles a transfer split over several postings: rows whose payer resembles
// a guardian at the grouped threshold are summed per (guardian, day) and linked only
// when the total equals money that guardian actually owes. A row whose groups match
// more than one guardian goes to review. The groups left untouched are returned.
func aggregate(pending []*payerGroup, guardians map[uint]Guardian, thresholds matching.Thresholds, report *Report) []*payerGroup {
	buckets := map[aggregateKey]*aggregateGroup{}
	var order []aggregateKey
	for _, group := range pending {
		for _, score := range group.ranked {
			if score.Value < thresholds.Grouped {
				break
			}
			for _, row := range group.rows {
				key := aggregateKey{guardianID: score.Candidate.ID, day: billing.DateOnly(row.PaymentDate)}
				bucket, ok := buckets[key]
				if !ok {
					bucket = &aggregateGroup{key: key, score: score.Value}
					buckets[key] = bucket
					order = append(order, key)
				}
				bucket.rows = append(bucket.rows, row)
				if score.Value < bucket.score {
					bucket.score = score.Value
				}
			}
		}
	}

	var matched []*aggregateGroup
	claims := map[uint]map[uint]struct{}{}
	for _, key := range order {
		bucket := buckets[key]
		total := decimal.Zero
		for _, row := range bucket.rows {
			total = total.Add(row.Amount)
		}
		if !expects(guardians[key.guardianID], total) {
			continue
		}
		matched = append(matched, bucket)
		for _, row := range bucket.rows {
			if claims[row.ID] == nil {
				claims[row.ID] = map[uint]struct{}{}
			}
			claims[row.ID][key.guardianID] = struct{}{}
		}
	}

	handled := map[uint]struct{}{}
	for _, bucket := range matched {
		ambiguous := false
		for _, row := range bucket.rows {
			if len(claims[row.ID]) > 1 {
				ambiguous = true
				break
			}
		}
		if ambiguous {
			var ids []uint
			for _, row := range bucket.rows {
				if _, done := handled[row.ID]; done {
					continue
				}
				ids = append(ids, row.ID)
				handled[row.ID] = struct{}{}
			}
			if len(ids) > 0 {
				report.Reviews = append(report.Reviews, Review{
					RowIDs:     ids,
					PayerName:  bucket.rows[0].PayerName,
					Reason:     ReviewAmbiguousAggregate,
					Candidates: claimants(bucket.rows, claims, guardians),
				})
			}
			continue
		}

		guardian := guardians[bucket.key.guardianID]
		for _, row := range bucket.rows {
			if _, done := handled[row.ID]; done {
				continue
			}
			handled[row.ID] = struct{}{}
			report.Links = append(report.Links, Link{
				RowID:      row.ID,
				GuardianID: guardian.ID,
				StudentID:  soleStudent(guardian),
				Score:      bucket.score,
				Pass:       PassGrouped,
			})
		}
	}

	var left []*payerGroup
	for _, group := range pending {
		rest := &payerGroup{normalized: group.normalized, payerName: group.payerName, ranked: group.ranked}
		for _, row := range group.rows {
			if _, done := handled[row.ID]; !done {
				rest.rows = append(rest.rows, row)
			}
		}
		if len(rest.rows) > 0 {
			left = append(left, rest)
		}
	}
	return left
}

func expects(guardian Guardian, total decimal.Decimal) bool {
	for _, amount := range guardian.ExpectedAmounts {
		if amount.IsPositive() && billing.WithinTolerance(amount, total) {
			return true
		}
	}
	return false
}

func claimants(rows []Row, claims map[uint]map[uint]struct{}, guardians map[uint]Guardian) []CandidateScore {
	seen := map[uint]struct{}{}
	var out []CandidateScore
	for _, row := range rows {
		for id := range claims[row.ID] {
			if _, dup := seen[id]; dup {
				continue
			}
			seen[id] = struct{}{}
			guardian := guardians[id]
			out = append(out, CandidateScore{
				GuardianID: id,
				Name:       guardian.Name,
				Score:      matching.Similarity(matching.Normalize(row.PayerName), candidateKey(guardian)),
			})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].GuardianID < out[j].GuardianID })
	return out
}

func candidateKey(guardian Guardian) string {
	if guardian.Normalized != "" {
		return guardian.Normalized
	}
	return matching.Normalize(guardian.Name)
}

func soleStudent(guardian Guardian) *uint {
	if len(guardian.StudentIDs) != 1 {
		return nil
	}
	id := guardian.StudentIDs[0]
	return &id
}

func rowIDs(rows []Row) []uint {
	ids := make([]uint, 0, len(rows))
	for _, row := range rows {
		ids = append(ids, row.ID)
	}
	return ids
}

func candidateScores(scores []matching.Score) []CandidateScore {
	out := make([]CandidateScore, 0, len(scores))
	for _, score := range scores {
		out = append(out, CandidateScore{GuardianID: score.Candidate.ID, Name: score.Candidate.Name, Score: score.Value})
	}
	return out
}
