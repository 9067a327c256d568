package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Statement row states.
const (
	StatementStatusNew        = "new"
	StatementStatusRegistered = "registered"
)

// StatementRow is one imported PIX transfer. Reconciliation fills the guardian and
// student; the payment linker flips the status once payments are recorded.
type StatementRow struct {
	ID                  uint            `gorm:"primaryKey" json:"id"`
	ExternalID          string          `gorm:"size:64;uniqueIndex;not null" json:"external_id"`
	PayerName           string          `gorm:"size:200;not null" json:"payer_name"`
	PayerNameNormalized string          `gorm:"size:200;index" json:"payer_name_normalized"`
	Amount              decimal.Decimal `gorm:"type:numeric(12,2);not null" json:"amount"`
	PaymentDate         time.Time       `gorm:"not null;index" json:"payment_date"`
	PaymentKey          string          `gorm:"size:140" json:"payment_key"`
	Status              string          `gorm:"size:16;not null;default:new;index" json:"status"`
	GuardianID          *uint           `gorm:"index" json:"guardian_id"`
	StudentID           *uint           `gorm:"index" json:"student_id"`
	MatchScore          *float64        `json:"match_score"`
	MatchPass           string          `gorm:"size:16" json:"match_pass"`
	Notes               string          `gorm:"type:text" json:"notes"`
	CreatedAt           time.Time       `json:"created_at"`
	UpdatedAt           time.Time       `json:"updated_at"`
}

// Linked reports whether a guardian was already attached.
func (r StatementRow) Linked() bool {
	return r.GuardianID != nil
}
