package dto

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/noah-isme/secretaria-go-api/internal/models"
)

// StatementPaymentRequest turns a statement row into one payment. Without FeeID a
// monthly fee payment is matched against the student's open fees.
type StatementPaymentRequest struct {
	GuardianID *uint  `json:"guardian_id"`
	StudentID  *uint  `json:"student_id"`
	Type       string `json:"type" validate:"omitempty,oneof=enrollment monthly_fee material uniform other"`
	FeeID      *uint  `json:"fee_id"`
	Method     string `json:"method" validate:"omitempty,max=24"`
	Notes      string `json:"notes" validate:"omitempty,max=1000"`
}

// PaymentItemRequest is one share of a statement row split across several payments.
type PaymentItemRequest struct {
	StudentID uint            `json:"student_id" validate:"required"`
	Amount    decimal.Decimal `json:"amount"`
	Type      string          `json:"type" validate:"omitempty,oneof=enrollment monthly_fee material uniform other"`
	FeeID     *uint           `json:"fee_id"`
	Notes     string          `json:"notes" validate:"omitempty,max=1000"`
}

// MultiplePaymentRequest splits one statement row into several payments whose amounts
// must add up to the row amount.
type MultiplePaymentRequest struct {
	GuardianID *uint                `json:"guardian_id"`
	Method     string               `json:"method" validate:"omitempty,max=24"`
	Items      []PaymentItemRequest `json:"items" validate:"required,min=1,dive"`
}

// ManualPaymentRequest records money received outside the statement flow.
type ManualPaymentRequest struct {
	GuardianID  *uint           `json:"guardian_id"`
	StudentID   uint            `json:"student_id" validate:"required"`
	Amount      decimal.Decimal `json:"amount"`
	PaymentDate string          `json:"payment_date" validate:"required,datetime=2006-01-02"`
	Type        string          `json:"type" validate:"omitempty,oneof=enrollment monthly_fee material uniform other"`
	Method      string          `json:"method" validate:"omitempty,max=24"`
	FeeID       *uint           `json:"fee_id"`
	Notes       string          `json:"notes" validate:"omitempty,max=1000"`
}

// AllocationResponse is the share of a payment applied to one fee.
type AllocationResponse struct {
	FeeID  uint            `json:"fee_id"`
	Amount decimal.Decimal `json:"amount"`
}

// PaymentResponse serializes a payment with its allocations.
type PaymentResponse struct {
	ID              uint                 `json:"id"`
	GuardianID      *uint                `json:"guardian_id"`
	StudentID       uint                 `json:"student_id"`
	PaymentDate     time.Time            `json:"payment_date"`
	Amount          decimal.Decimal      `json:"amount"`
	Type            string               `json:"type"`
	Method          string               `json:"method"`
	StatementRowID  *uint                `json:"statement_row_id"`
	FeeID           *uint                `json:"fee_id"`
	UnappliedAmount decimal.Decimal      `json:"unapplied_amount"`
	Notes           string               `json:"notes,omitempty"`
	Allocations     []AllocationResponse `json:"allocations"`
}

// NewPaymentResponse converts a payment model.
func NewPaymentResponse(payment models.Payment) PaymentResponse {
	allocations := make([]AllocationResponse, 0, len(payment.Allocations))
	for _, allocation := range payment.Allocations {
		allocations = append(allocations, AllocationResponse{FeeID: allocation.FeeID, Amount: allocation.Amount})
	}
	return PaymentResponse{
		ID:              payment.ID,
		GuardianID:      payment.GuardianID,
		StudentID:       payment.StudentID,
		PaymentDate:     payment.PaymentDate,
		Amount:          payment.Amount,
		Type:            payment.Type,
		Method:          payment.Method,
		StatementRowID:  payment.StatementRowID,
		FeeID:           payment.FeeID,
		UnappliedAmount: payment.UnappliedAmount,
		Notes:           payment.Notes,
		Allocations:     allocations,
	}
}

// RegistrationResponse reports the payments created by one registration and the fees
// they moved.
type RegistrationResponse struct {
	Payments  []PaymentResponse `json:"payments"`
	Fees      []FeeResponse     `json:"fees"`
	Unapplied decimal.Decimal   `json:"unapplied"`
}

// PaymentListRequest filters payments.
type PaymentListRequest struct {
	Page           int
	PageSize       int
	StudentID      *uint
	GuardianID     *uint
	StatementRowID *uint
	Type           string
	From           string
	To             string
}

// PaymentListResponse wraps a page of payments.
type PaymentListResponse struct {
	Items      []PaymentResponse `json:"items"`
	Pagination PaginationMeta    `json:"pagination"`
}
