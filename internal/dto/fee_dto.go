package dto

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/noah-isme/secretaria-go-api/internal/models"
)

// FeeGenerateRequest selects the months to bill. Months wins over the period; with
// neither, billing runs from the month after enrollment through December.
type FeeGenerateRequest struct {
	PeriodStart string   `json:"period_start" validate:"omitempty,datetime=2006-01"`
	PeriodEnd   string   `json:"period_end" validate:"omitempty,datetime=2006-01"`
	Months      []string `json:"months" validate:"omitempty,dive,datetime=2006-01"`
	GuardianID  *uint    `json:"guardian_id"`
}

// FeeBatchGenerateRequest generates fees for every active student of the selection.
type FeeBatchGenerateRequest struct {
	ClassIDs    []uint   `json:"class_ids"`
	ClassNames  []string `json:"class_names" validate:"omitempty,dive,required"`
	StudentIDs  []uint   `json:"student_ids"`
	PeriodStart string   `json:"period_start" validate:"omitempty,datetime=2006-01"`
	PeriodEnd   string   `json:"period_end" validate:"omitempty,datetime=2006-01"`
	Months      []string `json:"months" validate:"omitempty,dive,datetime=2006-01"`
}

// FeeResponse serializes a fee with its status derived as of today.
type FeeResponse struct {
	ID             uint            `json:"id"`
	StudentID      uint            `json:"student_id"`
	GuardianID     *uint           `json:"guardian_id"`
	ReferenceMonth string          `json:"reference_month"`
	ReferenceLabel string          `json:"reference_label"`
	AmountDue      decimal.Decimal `json:"amount_due"`
	PaidAmount     decimal.Decimal `json:"paid_amount"`
	Remaining      decimal.Decimal `json:"remaining"`
	DueDate        time.Time       `json:"due_date"`
	Status         string          `json:"status"`
	PaidDate       *time.Time      `json:"paid_date"`
	PaymentMethod  string          `json:"payment_method,omitempty"`
	Notes          string          `json:"notes,omitempty"`
	CancelledAt    *time.Time      `json:"cancelled_at"`
}

// NewFeeResponse converts a fee model, deriving its status for today.
func NewFeeResponse(fee models.Fee, today time.Time) FeeResponse {
	receivable := fee.Receivable()
	return FeeResponse{
		ID:             fee.ID,
		StudentID:      fee.StudentID,
		GuardianID:     fee.GuardianID,
		ReferenceMonth: fee.ReferenceMonth.Format(MonthLayout),
		ReferenceLabel: fee.ReferenceLabel,
		AmountDue:      fee.AmountDue,
		PaidAmount:     fee.PaidAmount,
		Remaining:      receivable.Remaining(),
		DueDate:        fee.DueDate,
		Status:         string(receivable.Status(today)),
		PaidDate:       fee.PaidDate,
		PaymentMethod:  fee.PaymentMethod,
		Notes:          fee.Notes,
		CancelledAt:    fee.CancelledAt,
	}
}

// FeeGenerationResponse lists the fees created for a student.
type FeeGenerationResponse struct {
	StudentID  uint            `json:"student_id"`
	GuardianID *uint           `json:"guardian_id"`
	Fees       []FeeResponse   `json:"fees"`
	Total      decimal.Decimal `json:"total"`
}

// FeeBatchResponse reports a batch generation with one outcome per student.
type FeeBatchResponse struct {
	Generated   int           `json:"generated"`
	Skipped     int           `json:"skipped"`
	NeedsReview int           `json:"needs_review"`
	Failed      int           `json:"failed"`
	Interrupted bool          `json:"interrupted"`
	Items       []ItemOutcome `json:"items"`
}

// FeeListRequest filters fees. Status filters on the derived status.
type FeeListRequest struct {
	Page             int
	PageSize         int
	StudentID        *uint
	GuardianID       *uint
	Status           string
	From             string
	To               string
	IncludeCancelled bool
}

// FeeListResponse wraps a page of fees.
type FeeListResponse struct {
	Items      []FeeResponse  `json:"items"`
	Pagination PaginationMeta `json:"pagination"`
}

// FeeCancelRequest cancels a fee.
type FeeCancelRequest struct {
	Reason string `json:"reason" validate:"required,min=3,max=500"`
}

// FeeDiscountRequest lowers a fee by a fixed amount or a percentage of the amount due.
type FeeDiscountRequest struct {
	Amount  *decimal.Decimal `json:"amount"`
	Percent *decimal.Decimal `json:"percent"`
	Reason  string           `json:"reason" validate:"omitempty,max=500"`
}

// StudentWithdrawRequest ends a student's enrollment. With DryRun nothing is written and
// the response previews the fees that would be cancelled.
type StudentWithdrawRequest struct {
	ExitDate string `json:"exit_date" validate:"required,datetime=2006-01-02"`
	Reason   string `json:"reason" validate:"required,min=3,max=255"`
	DryRun   bool   `json:"dry_run"`
}

// StudentWithdrawResponse reports a withdrawal with one outcome per fee due after the exit date.
type StudentWithdrawResponse struct {
	StudentID       uint            `json:"student_id"`
	ExitDate        string          `json:"exit_date"`
	Reason          string          `json:"reason"`
	DryRun          bool            `json:"dry_run"`
	Cancelled       int             `json:"cancelled"`
	Skipped         int             `json:"skipped"`
	Failed          int             `json:"failed"`
	AmountCancelled decimal.Decimal `json:"amount_cancelled"`
	Items           []ItemOutcome   `json:"items"`
}

// FeeRefreshResponse reports a status maintenance pass.
type FeeRefreshResponse struct {
	Scanned int `json:"scanned"`
	Updated int `json:"updated"`
}

// StatusTotals aggregates fees sharing a derived status.
type StatusTotals struct {
	Status    string          `json:"status"`
	Count     int             `json:"count"`
	AmountDue decimal.Decimal `json:"amount_due"`
	Paid      decimal.Decimal `json:"paid"`
	Remaining decimal.Decimal `json:"remaining"`
}

// ClassTotals aggregates the fees of one class.
type ClassTotals struct {
	ClassID   *uint           `json:"class_id"`
	ClassName string          `json:"class_name"`
	Students  int             `json:"students"`
	AmountDue decimal.Decimal `json:"amount_due"`
	Paid      decimal.Decimal `json:"paid"`
	Overdue   decimal.Decimal `json:"overdue"`
}

// FeeSummaryRequest narrows a fee summary.
type FeeSummaryRequest struct {
	ClassIDs []uint
	From     string
	To       string
}

// FeeSummaryResponse aggregates fees by derived status and by class.
type FeeSummaryResponse struct {
	ByStatus []StatusTotals `json:"by_status"`
	ByClass  []ClassTotals  `json:"by_class"`
}
