package billing

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// OpenItem is an outstanding receivable a payment may be applied to.
type OpenItem struct {
	ID        uint
	DueDate   time.Time
	Remaining decimal.Decimal
}

// Allocation is the share of a payment applied to one item.
type Allocation struct {
	ItemID uint
	Amount decimal.Decimal
}

// Plan describes how a payment is spread. Unapplied is kept as credit.
type Plan struct {
	Allocations []Allocation
	Unapplied   decimal.Decimal
}

// Allocate picks the receivables a payment settles when no target was named:
//   - the oldest item whose remaining amount equals the payment;
//   - otherwise, when the payment exceeds every remaining amount, items oldest first
//     until the money runs out, the rest becoming unapplied credit;
//   - otherwise the item whose remaining amount is closest above the payment,
//     oldest first on ties, which ends up partially paid.
func Allocate(amount decimal.Decimal, items []OpenItem) Plan {
	if !amount.IsPositive() {
		return Plan{Unapplied: decimal.Zero}
	}

	open := make([]OpenItem, 0, len(items))
	for _, item := range items {
		if item.Remaining.IsPositive() {
			open = append(open, item)
		}
	}
	if len(open) == 0 {
		return Plan{Unapplied: amount}
	}
	sort.SliceStable(open, func(i, j int) bool {
		if !open[i].DueDate.Equal(open[j].DueDate) {
			return open[i].DueDate.Before(open[j].DueDate)
		}
		return open[i].ID < open[j].ID
	})

	for _, item := range open {
		if WithinTolerance(item.Remaining, amount) {
			applied := decimal.Min(amount, item.Remaining)
			return Plan{
				Allocations: []Allocation{{ItemID: item.ID, Amount: applied}},
				Unapplied:   amount.Sub(applied),
			}
		}
	}

	var closest *OpenItem
	for i := range open {
		item := open[i]
		if item.Remaining.LessThan(amount) {
			continue
		}
		if closest == nil || item.Remaining.LessThan(closest.Remaining) {
			closest = &open[i]
		}
	}
	if closest != nil {
		return Plan{Allocations: []Allocation{{ItemID: closest.ID, Amount: amount}}, Unapplied: decimal.Zero}
	}

	left := amount
	plan := Plan{}
	for _, item := range open {
		if !left.IsPositive() {
			break
		}
		applied := decimal.Min(left, item.Remaining)
		plan.Allocations = append(plan.Allocations, Allocation{ItemID: item.ID, Amount: applied})
		left = left.Sub(applied)
	}
	plan.Unapplied = left
	return plan
}

// Installment is one part of a charge split over several months.
type Installment struct {
	Number  int
	Total   int
	Amount  decimal.Decimal
	DueDate time.Time
}

// SplitInstallments divides total into n monthly parts that add up exactly to total.
// Cents that do not divide evenly go to the last installment.
func SplitInstallments(total decimal.Decimal, n int, firstDue time.Time) []Installment {
	if n <= 0 || !total.IsPositive() {
		return nil
	}
	base := total.Div(decimal.NewFromInt(int64(n))).RoundDown(2)
	last := total.Sub(base.Mul(decimal.NewFromInt(int64(n - 1))))

	first := DateOnly(firstDue)
	installments := make([]Installment, 0, n)
	for i := 0; i < n; i++ {
		month := time.Date(first.Year(), first.Month()+time.Month(i), 1, 0, 0, 0, 0, time.UTC)
		amount := base
		if i == n-1 {
			amount = last
		}
		installments = append(installments, Installment{
			Number:  i + 1,
			Total:   n,
			Amount:  amount,
			DueDate: DueDateIn(month.Year(), month.Month(), first.Day()),
		})
	}
	return installments
}
