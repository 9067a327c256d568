package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Payment types.
const (
	PaymentTypeEnrollment = "enrollment"
	PaymentTypeMonthlyFee = "monthly_fee"
	PaymentTypeMaterial   = "material"
	PaymentTypeUniform    = "uniform"
	PaymentTypeOther      = "other"
)

// PaymentMethodPIX is the default method for statement-originated payments.
const PaymentMethodPIX = "pix"

// Payment is money received from a guardian for a student.
type Payment struct {
	ID              uint                `gorm:"primaryKey" json:"id"`
	GuardianID      *uint               `gorm:"index" json:"guardian_id"`
	StudentID       uint                `gorm:"not null;index" json:"student_id"`
	PaymentDate     time.Time           `gorm:"not null;index" json:"payment_date"`
	Amount          decimal.Decimal     `gorm:"type:numeric(12,2);not null" json:"amount"`
	Type            string              `gorm:"size:24;not null" json:"type"`
	Method          string              `gorm:"size:24;not null" json:"method"`
	StatementRowID  *uint               `gorm:"index" json:"statement_row_id"`
	FeeID           *uint               `gorm:"index" json:"fee_id"`
	UnappliedAmount decimal.Decimal     `gorm:"type:numeric(12,2);not null;default:0" json:"unapplied_amount"`
	Notes           string              `gorm:"type:text" json:"notes"`
	Allocations     []PaymentAllocation `gorm:"foreignKey:PaymentID" json:"allocations,omitempty"`
	CreatedAt       time.Time           `json:"created_at"`
	UpdatedAt       time.Time           `json:"updated_at"`
}

// PaymentAllocation records the share of a payment applied to one fee.
type PaymentAllocation struct {
	ID        uint            `gorm:"primaryKey" json:"id"`
	PaymentID uint            `gorm:"not null;index" json:"payment_id"`
	FeeID     uint            `gorm:"not null;index" json:"fee_id"`
	Amount    decimal.Decimal `gorm:"type:numeric(12,2);not null" json:"amount"`
	CreatedAt time.Time       `json:"created_at"`
}
