package reconciliation

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/secretaria-go-api/internal/matching"
)

func day(d int) time.Time {
	return time.Date(2024, time.March, d, 9, 30, 0, 0, time.UTC)
}

func amount(v string) decimal.Decimal {
	return decimal.RequireFromString(v)
}

func linksByRow(report Report) map[uint]Link {
	out := make(map[uint]Link, len(report.Links))
	for _, link := range report.Links {
		out[link.RowID] = link
	}
	return out
}

func TestReconcileSingleMatchFillsSoleStudent(t *testing.T) {
	linked := uint(99)
	guardians := []Guardian{
		{ID: 1, Name: "José da Silva", StudentIDs: []uint{10}},
		{ID: 2, Name: "Maria Oliveira", StudentIDs: []uint{20, 21}},
		{ID: 3, Name: "Carlos Pereira"},
	}
	rows := []Row{
		{ID: 1, PayerName: "JOSE DA SILVA", Amount: amount("500"), PaymentDate: day(5)},
		{ID: 2, PayerName: "José  DA  Silva", Amount: amount("300"), PaymentDate: day(6)},
		{ID: 3, PayerName: "Maria Oliveira", Amount: amount("800"), PaymentDate: day(6)},
		{ID: 4, PayerName: "Carlos Pereira", Amount: amount("100"), PaymentDate: day(7)},
		{ID: 5, PayerName: "Someone Else", Amount: amount("100"), PaymentDate: day(7), GuardianID: &linked},
	}

	report := Reconcile(rows, guardians, Options{})
	links := linksByRow(report)

	require.Len(t, links, 4)
	require.Equal(t, 1, report.Skipped)
	require.Equal(t, uint(1), links[1].GuardianID)
	require.Equal(t, uint(1), links[2].GuardianID)
	require.NotNil(t, links[1].StudentID)
	require.Equal(t, uint(10), *links[1].StudentID)
	require.Equal(t, PassSingle, links[1].Pass)
	require.Equal(t, 1.0, links[1].Score)

	require.Equal(t, uint(2), links[3].GuardianID)
	require.Nil(t, links[3].StudentID, "guardian with several students leaves the student open")

	require.Equal(t, uint(3), links[4].GuardianID)
	require.Nil(t, links[4].StudentID, "guardian without students is still linked")
	require.Empty(t, report.Reviews)
	require.Empty(t, report.Unidentified)
}

func TestReconcileIsIdempotentOnLinkedRows(t *testing.T) {
	guardians := []Guardian{{ID: 1, Name: "José da Silva", StudentIDs: []uint{10}}}
	rows := []Row{{ID: 1, PayerName: "Jose da Silva", Amount: amount("500"), PaymentDate: day(5)}}

	first := Reconcile(rows, guardians, Options{})
	require.Len(t, first.Links, 1)

	gid := first.Links[0].GuardianID
	rows[0].GuardianID = &gid
	second := Reconcile(rows, guardians, Options{})
	require.Empty(t, second.Links)
	require.Equal(t, 1, second.Skipped)
}

func TestReconcileTieGoesToReview(t *testing.T) {
	guardians := []Guardian{
		{ID: 1, Name: "Ana Paula Souza"},
		{ID: 2, Name: "Ana Paula de Souza"},
	}
	rows := []Row{{ID: 7, PayerName: "ANA PAULA SOUZA", Amount: amount("450"), PaymentDate: day(5)}}

	report := Reconcile(rows, guardians, Options{})
	require.Empty(t, report.Links)
	require.Len(t, report.Reviews, 1)
	require.Equal(t, ReviewTiedCandidates, report.Reviews[0].Reason)
	require.Equal(t, []uint{7}, report.Reviews[0].RowIDs)
	require.Len(t, report.Reviews[0].Candidates, 2)
}

func TestReconcileStrictPassRaisesThreshold(t *testing.T) {
	guardians := []Guardian{{ID: 1, Name: "Maria Aparecida Souzas"}}
	rows := []Row{{ID: 1, PayerName: "Maria Aparecida Sou", Amount: amount("10"), PaymentDate: day(5)}}

	require.Len(t, Reconcile(rows, guardians, Options{}).Links, 1)

	strict := Reconcile(rows, guardians, Options{Strict: true})
	require.Empty(t, strict.Links)
	require.Len(t, strict.Unidentified, 1)
	require.Equal(t, CauseTruncatedName, strict.Unidentified[0].Cause)
}

func TestReconcileAggregatesSplitTransfer(t *testing.T) {
	guardians := []Guardian{{
		ID:              1,
		Name:            "Roberto Carlos Mendes",
		StudentIDs:      []uint{5},
		ExpectedAmounts: []decimal.Decimal{amount("600")},
	}}
	rows := []Row{
		{ID: 10, PayerName: "Roberto C Mendes", Amount: amount("250"), PaymentDate: day(5)},
		{ID: 11, PayerName: "Roberto C Mendes", Amount: amount("350"), PaymentDate: time.Date(2024, time.March, 5, 17, 0, 0, 0, time.UTC)},
		{ID: 12, PayerName: "Roberto C Mendes", Amount: amount("100"), PaymentDate: day(6)},
	}

	report := Reconcile(rows, guardians, Options{})
	links := linksByRow(report)
	require.Len(t, links, 2)
	require.Equal(t, PassGrouped, links[10].Pass)
	require.Equal(t, uint(1), links[11].GuardianID)
	require.Equal(t, uint(5), *links[11].StudentID)
	require.GreaterOrEqual(t, links[10].Score, matching.DefaultThresholds().Grouped)

	require.Len(t, report.Unidentified, 1)
	require.Equal(t, uint(12), report.Unidentified[0].RowID)
	require.Equal(t, CauseNameMismatch, report.Unidentified[0].Cause)
	require.Contains(t, report.Unidentified[0].Suggestions, "Roberto Carlos Mendes")
}

func TestReconcileAmbiguousAggregateGoesToReview(t *testing.T) {
	guardians := []Guardian{
		{ID: 1, Name: "Roberto Carlos Mendes", ExpectedAmounts: []decimal.Decimal{amount("600")}},
		{ID: 2, Name: "Roberto Carla Mendes", ExpectedAmounts: []decimal.Decimal{amount("600")}},
	}
	rows := []Row{
		{ID: 10, PayerName: "Roberto C Mendes", Amount: amount("250"), PaymentDate: day(5)},
		{ID: 11, PayerName: "Roberto C Mendes", Amount: amount("350"), PaymentDate: day(5)},
	}

	report := Reconcile(rows, guardians, Options{})
	require.Empty(t, report.Links)
	require.Len(t, report.Reviews, 1)
	require.Equal(t, ReviewAmbiguousAggregate, report.Reviews[0].Reason)
	require.ElementsMatch(t, []uint{10, 11}, report.Reviews[0].RowIDs)
	require.Len(t, report.Reviews[0].Candidates, 2)
	require.Empty(t, report.Unidentified)
}

func TestReconcileClassifiesUnidentifiedRows(t *testing.T) {
	cases := []struct {
		name     string
		guardian Guardian
		payer    string
		cause    Cause
	}{
		{
			name:     "no guardian resembles the payer",
			guardian: Guardian{ID: 1, Name: "Maria Oliveira"},
			payer:    "Fulano Beltrano",
			cause:    CauseNoGuardian,
		},
		{
			name:     "bank truncated the payer name",
			guardian: Guardian{ID: 1, Name: "Maria Aparecida Souza Lima"},
			payer:    "Maria Aparecida Sou",
			cause:    CauseTruncatedName,
		},
		{
			name:     "stored normalization still carries accents",
			guardian: Guardian{ID: 1, Name: "Conceição Ramos", Normalized: "conceição ramos"},
			payer:    "Conceicao Ramos",
			cause:    CauseAccentOnly,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rows := []Row{{ID: 1, PayerName: tc.payer, Amount: amount("100"), PaymentDate: day(5)}}
			report := Reconcile(rows, []Guardian{tc.guardian}, Options{})
			require.Empty(t, report.Links)
			require.Len(t, report.Unidentified, 1)
			require.Equal(t, tc.cause, report.Unidentified[0].Cause)
		})
	}
}

func TestReconcileWithoutGuardians(t *testing.T) {
	rows := []Row{{ID: 1, PayerName: "Jose", Amount: amount("1"), PaymentDate: day(1)}}
	report := Reconcile(rows, nil, Options{})
	require.Len(t, report.Unidentified, 1)
	require.Equal(t, CauseNoGuardian, report.Unidentified[0].Cause)
	require.Nil(t, report.Unidentified[0].BestGuardianID)
}
