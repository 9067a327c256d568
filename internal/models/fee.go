package models

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/noah-isme/secretaria-go-api/internal/billing"
)

// Fee is a monthly tuition charge (mensalidade). The stored status is a snapshot;
// readers derive the current one through Receivable.
type Fee struct {
	ID             uint            `gorm:"primaryKey" json:"id"`
	StudentID      uint            `gorm:"not null;index" json:"student_id"`
	GuardianID     *uint           `gorm:"index" json:"guardian_id"`
	ReferenceMonth time.Time       `gorm:"not null;index" json:"reference_month"`
	ReferenceLabel string          `gorm:"size:32;not null" json:"reference_label"`
	AmountDue      decimal.Decimal `gorm:"type:numeric(12,2);not null" json:"amount_due"`
	DueDate        time.Time       `gorm:"not null;index" json:"due_date"`
	Status         string          `gorm:"size:24;not null;index" json:"status"`
	PaidAmount     decimal.Decimal `gorm:"type:numeric(12,2);not null;default:0" json:"paid_amount"`
	PaidDate       *time.Time      `json:"paid_date"`
	PaymentMethod  string          `gorm:"size:32" json:"payment_method"`
	Notes          string          `gorm:"type:text" json:"notes"`
	CancelledAt    *time.Time      `json:"cancelled_at"`
	Version        int             `gorm:"not null;default:1" json:"-"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// Receivable returns the money view of the fee.
func (f Fee) Receivable() billing.Receivable {
	return billing.Receivable{
		AmountDue:     f.AmountDue,
		PaidAmount:    f.PaidAmount,
		DueDate:       f.DueDate,
		PaidDate:      f.PaidDate,
		PaymentMethod: f.PaymentMethod,
		Cancelled:     f.CancelledAt != nil || f.Status == string(billing.StatusCancelled),
		CancelledAt:   f.CancelledAt,
		Notes:         f.Notes,
	}
}

// Apply copies a mutated receivable back and refreshes the status snapshot.
func (f *Fee) Apply(r billing.Receivable, today time.Time) {
	f.AmountDue = r.AmountDue
	f.PaidAmount = r.PaidAmount
	f.PaidDate = r.PaidDate
	f.PaymentMethod = r.PaymentMethod
	f.CancelledAt = r.CancelledAt
	f.Notes = r.Notes
	f.Status = string(r.Status(today))
}

// CurrentStatus derives the status as of today.
func (f Fee) CurrentStatus(today time.Time) billing.Status {
	return f.Receivable().Status(today)
}

// Charge types.
const (
	ChargeTypeUniform    = "uniform"
	ChargeTypeMaterial   = "material"
	ChargeTypeEvent      = "event"
	ChargeTypeGraduation = "graduation"
	ChargeTypeOther      = "other"
)

// Charge is an ad-hoc receivable (cobrança) such as uniforms or events. Installments of
// the same charge share GroupID.
type Charge struct {
	ID                uint            `gorm:"primaryKey" json:"id"`
	StudentID         uint            `gorm:"not null;index" json:"student_id"`
	GuardianID        *uint           `gorm:"index" json:"guardian_id"`
	Title             string          `gorm:"size:160;not null" json:"title"`
	Description       string          `gorm:"type:text" json:"description"`
	Type              string          `gorm:"size:24;not null" json:"type"`
	AmountDue         decimal.Decimal `gorm:"type:numeric(12,2);not null" json:"amount_due"`
	DueDate           time.Time       `gorm:"not null;index" json:"due_date"`
	Status            string          `gorm:"size:24;not null;index" json:"status"`
	PaidAmount        decimal.Decimal `gorm:"type:numeric(12,2);not null;default:0" json:"paid_amount"`
	PaidDate          *time.Time      `json:"paid_date"`
	PaymentMethod     string          `gorm:"size:32" json:"payment_method"`
	GroupID           string          `gorm:"size:36;index" json:"group_id"`
	InstallmentNumber int             `gorm:"not null;default:1" json:"installment_number"`
	InstallmentTotal  int             `gorm:"not null;default:1" json:"installment_total"`
	Priority          int             `gorm:"not null;default:1" json:"priority"`
	Notes             string          `gorm:"type:text" json:"notes"`
	CancelledAt       *time.Time      `json:"cancelled_at"`
	Version           int             `gorm:"not null;default:1" json:"-"`
	CreatedAt         time.Time       `json:"created_at"`
	UpdatedAt         time.Time       `json:"updated_at"`
}

// Receivable returns the money view of the charge.
func (c Charge) Receivable() billing.Receivable {
	return billing.Receivable{
		AmountDue:     c.AmountDue,
		PaidAmount:    c.PaidAmount,
		DueDate:       c.DueDate,
		PaidDate:      c.PaidDate,
		PaymentMethod: c.PaymentMethod,
		Cancelled:     c.CancelledAt != nil || c.Status == string(billing.StatusCancelled),
		CancelledAt:   c.CancelledAt,
		Notes:         c.Notes,
	}
}

// Apply copies a mutated receivable back and refreshes the status snapshot.
func (c *Charge) Apply(r billing.Receivable, today time.Time) {
	c.AmountDue = r.AmountDue
	c.PaidAmount = r.PaidAmount
	c.PaidDate = r.PaidDate
	c.PaymentMethod = r.PaymentMethod
	c.CancelledAt = r.CancelledAt
	c.Notes = r.Notes
	c.Status = string(r.Status(today))
}
