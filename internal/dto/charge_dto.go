package dto

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/noah-isme/secretaria-go-api/internal/models"
)

// ChargeCreateRequest creates one ad-hoc charge.
type ChargeCreateRequest struct {
	StudentID   uint            `json:"student_id" validate:"required"`
	GuardianID  *uint           `json:"guardian_id"`
	Title       string          `json:"title" validate:"required,min=3,max=160"`
	Description string          `json:"description" validate:"omitempty,max=2000"`
	Type        string          `json:"type" validate:"omitempty,oneof=uniform material event graduation other"`
	Amount      decimal.Decimal `json:"amount"`
	DueDate     string          `json:"due_date" validate:"required,datetime=2006-01-02"`
	Priority    int             `json:"priority" validate:"omitempty,min=1,max=3"`
	Notes       string          `json:"notes" validate:"omitempty,max=1000"`
}

// InstallmentCreateRequest splits a total into monthly charges sharing a group id.
type InstallmentCreateRequest struct {
	StudentID    uint            `json:"student_id" validate:"required"`
	GuardianID   *uint           `json:"guardian_id"`
	Title        string          `json:"title" validate:"required,min=3,max=140"`
	Description  string          `json:"description" validate:"omitempty,max=2000"`
	Type         string          `json:"type" validate:"omitempty,oneof=uniform material event graduation other"`
	Total        decimal.Decimal `json:"total"`
	Installments int             `json:"installments" validate:"required,min=1,max=24"`
	FirstDueDate string          `json:"first_due_date" validate:"required,datetime=2006-01-02"`
	Priority     int             `json:"priority" validate:"omitempty,min=1,max=3"`
	Notes        string          `json:"notes" validate:"omitempty,max=1000"`
}

// ChargeResponse serializes a charge with its status derived as of today.
type ChargeResponse struct {
	ID                uint            `json:"id"`
	StudentID         uint            `json:"student_id"`
	GuardianID        *uint           `json:"guardian_id"`
	Title             string          `json:"title"`
	DisplayTitle      string          `json:"display_title"`
	Description       string          `json:"description,omitempty"`
	Type              string          `json:"type"`
	AmountDue         decimal.Decimal `json:"amount_due"`
	PaidAmount        decimal.Decimal `json:"paid_amount"`
	Remaining         decimal.Decimal `json:"remaining"`
	DueDate           time.Time       `json:"due_date"`
	Status            string          `json:"status"`
	PaidDate          *time.Time      `json:"paid_date"`
	PaymentMethod     string          `json:"payment_method,omitempty"`
	GroupID           string          `json:"group_id,omitempty"`
	InstallmentNumber int             `json:"installment_number"`
	InstallmentTotal  int             `json:"installment_total"`
	Priority          int             `json:"priority"`
	Notes             string          `json:"notes,omitempty"`
}

// NewChargeResponse converts a charge model, deriving its status for today.
func NewChargeResponse(charge models.Charge, today time.Time) ChargeResponse {
	receivable := charge.Receivable()
	display := charge.Title
	if charge.GroupID != "" && charge.InstallmentTotal > 1 {
		display = fmt.Sprintf("%s (%d/%d)", charge.Title, charge.InstallmentNumber, charge.InstallmentTotal)
	}
	return ChargeResponse{
		ID:                charge.ID,
		StudentID:         charge.StudentID,
		GuardianID:        charge.GuardianID,
		Title:             charge.Title,
		DisplayTitle:      display,
		Description:       charge.Description,
		Type:              charge.Type,
		AmountDue:         charge.AmountDue,
		PaidAmount:        charge.PaidAmount,
		Remaining:         receivable.Remaining(),
		DueDate:           charge.DueDate,
		Status:            string(receivable.Status(today)),
		PaidDate:          charge.PaidDate,
		PaymentMethod:     charge.PaymentMethod,
		GroupID:           charge.GroupID,
		InstallmentNumber: charge.InstallmentNumber,
		InstallmentTotal:  charge.InstallmentTotal,
		Priority:          charge.Priority,
		Notes:             charge.Notes,
	}
}

// InstallmentResponse lists the charges of one installment group.
type InstallmentResponse struct {
	GroupID string           `json:"group_id"`
	Total   decimal.Decimal  `json:"total"`
	Charges []ChargeResponse `json:"charges"`
}

// ChargeListRequest filters charges.
type ChargeListRequest struct {
	StudentID        *uint
	GuardianID       *uint
	GroupID          string
	IncludePaid      bool
	IncludeCancelled bool
}

// ChargeStats aggregates a charge listing.
type ChargeStats struct {
	Total       int             `json:"total"`
	Open        int             `json:"open"`
	Overdue     int             `json:"overdue"`
	Paid        int             `json:"paid"`
	AmountOpen  decimal.Decimal `json:"amount_open"`
	AmountPaid  decimal.Decimal `json:"amount_paid"`
	HighestOpen int             `json:"highest_open_priority"`
}

// ChargeListResponse lists charges with their statistics.
type ChargeListResponse struct {
	Items []ChargeResponse `json:"items"`
	Stats ChargeStats      `json:"stats"`
}

// ChargePayRequest posts a payment to a charge.
type ChargePayRequest struct {
	Amount      decimal.Decimal `json:"amount"`
	PaymentDate string          `json:"payment_date" validate:"required,datetime=2006-01-02"`
	Method      string          `json:"method" validate:"omitempty,max=24"`
}

// ChargeCancelRequest cancels a charge.
type ChargeCancelRequest struct {
	Reason string `json:"reason" validate:"required,min=3,max=500"`
}
