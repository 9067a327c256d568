package billing

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Status is the lifecycle state of a fee or charge.
type Status string

const (
	StatusUpcoming      Status = "upcoming"
	StatusOverdue       Status = "overdue"
	StatusPaid          Status = "paid"
	StatusPartiallyPaid Status = "partially_paid"
	StatusCancelled     Status = "cancelled"
)

// Statuses lists every status in report order.
var Statuses = []Status{StatusOverdue, StatusUpcoming, StatusPartiallyPaid, StatusPaid, StatusCancelled}

// Terminal reports whether no further automatic transition can leave the status.
func (s Status) Terminal() bool {
	return s == StatusPaid || s == StatusCancelled
}

// Outstanding reports whether money is still owed in this status.
func (s Status) Outstanding() bool {
	return s == StatusUpcoming || s == StatusOverdue || s == StatusPartiallyPaid
}

// ParseStatus validates a status name.
func ParseStatus(value string) (Status, bool) {
	status := Status(strings.ToLower(strings.TrimSpace(value)))
	for _, known := range Statuses {
		if known == status {
			return status, true
		}
	}
	return "", false
}

var (
	// ErrTerminalState is returned when a paid or cancelled receivable is mutated.
	ErrTerminalState = errors.New("receivable is already paid or cancelled")
	// ErrNonPositiveAmount is returned for zero or negative payments and discounts.
	ErrNonPositiveAmount = errors.New("amount must be greater than zero")
)

// Receivable is the money-owed view shared by fees and charges. Its status is never
// stored authoritatively: it is derived from the due date, today's date, the paid
// amount and the cancellation flag.
type Receivable struct {
	AmountDue     decimal.Decimal
	PaidAmount    decimal.Decimal
	DueDate       time.Time
	PaidDate      *time.Time
	PaymentMethod string
	Cancelled     bool
	CancelledAt   *time.Time
	Notes         string
}

// Remaining is the amount still owed, never negative.
func (r Receivable) Remaining() decimal.Decimal {
	remaining := r.AmountDue.Sub(r.PaidAmount)
	if remaining.IsNegative() {
		return decimal.Zero
	}
	return remaining
}

// Status derives the current state. Cancellation wins over any payment state.
func (r Receivable) Status(today time.Time) Status {
	if r.Cancelled {
		return StatusCancelled
	}
	if !r.AmountDue.IsPositive() {
		return StatusPaid
	}
	if r.PaidAmount.IsPositive() && r.PaidAmount.GreaterThanOrEqual(r.AmountDue.Sub(Tolerance)) {
		return StatusPaid
	}
	if r.PaidAmount.IsPositive() {
		return StatusPartiallyPaid
	}
	if DateOnly(r.DueDate).Before(DateOnly(today)) {
		return StatusOverdue
	}
	return StatusUpcoming
}

// ApplyPayment posts at most the remaining amount and returns what was applied and
// what is left over for other receivables or unapplied credit.
func (r *Receivable) ApplyPayment(amount decimal.Decimal, paidAt time.Time, method string, today time.Time) (decimal.Decimal, decimal.Decimal, error) {
	if !amount.IsPositive() {
		return decimal.Zero, decimal.Zero, ErrNonPositiveAmount
	}
	if r.Status(today).Terminal() {
		return decimal.Zero, amount, ErrTerminalState
	}

	applied := decimal.Min(amount, r.Remaining())
	leftover := amount.Sub(applied)

	r.PaidAmount = r.PaidAmount.Add(applied)
	date := DateOnly(paidAt)
	r.PaidDate = &date
	if method != "" {
		r.PaymentMethod = method
	}
	return applied, leftover, nil
}

// Cancel moves any non-terminal receivable to cancelled and appends an audit note.
func (r *Receivable) Cancel(actor, reason string, at time.Time, today time.Time) error {
	if r.Status(today).Terminal() {
		return ErrTerminalState
	}
	r.Cancelled = true
	stamp := at.UTC()
	r.CancelledAt = &stamp

	if actor == "" {
		actor = "system"
	}
	line := fmt.Sprintf("[%s] cancelled by %s", at.Format("02/01/2006 15:04"), actor)
	if reason = strings.TrimSpace(reason); reason != "" {
		line += ": " + reason
	}
	r.Notes = AppendNote(r.Notes, line)
	return nil
}

// ApplyDiscount lowers the amount due, never below what was already paid, and returns the
// discount actually granted. Money already received is never turned into an overpayment.
func (r *Receivable) ApplyDiscount(discount decimal.Decimal, today time.Time) (decimal.Decimal, error) {
	if !discount.IsPositive() {
		return decimal.Zero, ErrNonPositiveAmount
	}
	if r.Status(today).Terminal() {
		return decimal.Zero, ErrTerminalState
	}
	granted := decimal.Min(discount, r.Remaining())
	r.AmountDue = r.AmountDue.Sub(granted)
	return granted, nil
}

// AppendNote adds a line to free-text notes.
func AppendNote(notes, line string) string {
	notes = strings.TrimSpace(notes)
	if notes == "" {
		return line
	}
	return notes + "\n" + line
}
