package dto

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/noah-isme/secretaria-go-api/internal/models"
)

// GuardianCreateRequest registers a guardian.
type GuardianCreateRequest struct {
	Name    string `json:"name" validate:"required,min=2,max=160"`
	TaxID   string `json:"tax_id" validate:"omitempty,numeric,len=11"`
	Phone   string `json:"phone" validate:"omitempty,max=32"`
	Email   string `json:"email" validate:"omitempty,email,max=160"`
	Address string `json:"address" validate:"omitempty,max=255"`
}

// GuardianRenameRequest changes a guardian's display name.
type GuardianRenameRequest struct {
	Name string `json:"name" validate:"required,min=2,max=160"`
}

// GuardianContactRequest changes contact fields; nil fields are left untouched.
type GuardianContactRequest struct {
	Phone   *string `json:"phone" validate:"omitempty,max=32"`
	Email   *string `json:"email" validate:"omitempty,email,max=160"`
	Address *string `json:"address" validate:"omitempty,max=255"`
}

// GuardianTaxIDRequest sets or clears the guardian's CPF.
type GuardianTaxIDRequest struct {
	TaxID string `json:"tax_id" validate:"omitempty,numeric,len=11"`
}

// GuardianListRequest filters guardians.
type GuardianListRequest struct {
	Page     int
	PageSize int
	Search   string
	TaxID    string
}

// GuardianResponse serializes a guardian.
type GuardianResponse struct {
	ID             uint                     `json:"id"`
	Name           string                   `json:"name"`
	NormalizedName string                   `json:"normalized_name"`
	TaxID          string                   `json:"tax_id,omitempty"`
	Phone          string                   `json:"phone,omitempty"`
	Email          string                   `json:"email,omitempty"`
	Address        string                   `json:"address,omitempty"`
	Students       []GuardianStudentSummary `json:"students,omitempty"`
	CreatedAt      time.Time                `json:"created_at"`
	UpdatedAt      time.Time                `json:"updated_at"`
}

// GuardianStudentSummary lists a student linked to a guardian.
type GuardianStudentSummary struct {
	StudentID            uint   `json:"student_id"`
	Name                 string `json:"name"`
	ClassName            string `json:"class_name,omitempty"`
	Relation             string `json:"relation,omitempty"`
	FinancialResponsible bool   `json:"financial_responsible"`
}

// GuardianListResponse wraps a page of guardians.
type GuardianListResponse struct {
	Items      []GuardianResponse `json:"items"`
	Pagination PaginationMeta     `json:"pagination"`
}

// NewGuardianResponse converts a guardian model.
func NewGuardianResponse(guardian models.Guardian, links []models.GuardianLink) GuardianResponse {
	response := GuardianResponse{
		ID:             guardian.ID,
		Name:           guardian.Name,
		NormalizedName: guardian.NormalizedName,
		TaxID:          guardian.TaxID,
		Phone:          guardian.Phone,
		Email:          guardian.Email,
		Address:        guardian.Address,
		CreatedAt:      guardian.CreatedAt,
		UpdatedAt:      guardian.UpdatedAt,
	}
	for _, link := range links {
		summary := GuardianStudentSummary{
			StudentID:            link.StudentID,
			Relation:             link.Relation,
			FinancialResponsible: link.FinancialResponsible,
		}
		if link.Student != nil {
			summary.Name = link.Student.Name
			summary.ClassName = link.Student.ClassName()
		}
		response.Students = append(response.Students, summary)
	}
	return response
}

// ClassCreateRequest registers a class.
type ClassCreateRequest struct {
	Name string `json:"name" validate:"required,min=1,max=120"`
}

// GuardianLinkRequest links a guardian to a student.
type GuardianLinkRequest struct {
	GuardianID           uint   `json:"guardian_id" validate:"required"`
	Relation             string `json:"relation" validate:"omitempty,max=32"`
	FinancialResponsible bool   `json:"financial_responsible"`
}

// GuardianLinkUpdateRequest changes a link's attributes.
type GuardianLinkUpdateRequest struct {
	Relation             *string `json:"relation" validate:"omitempty,max=32"`
	FinancialResponsible *bool   `json:"financial_responsible"`
}

// StudentCreateRequest registers a student.
type StudentCreateRequest struct {
	Name           string                `json:"name" validate:"required,min=2,max=160"`
	ClassID        *uint                 `json:"class_id"`
	EnrollmentDate string                `json:"enrollment_date" validate:"omitempty,datetime=2006-01-02"`
	MonthlyFee     *decimal.Decimal      `json:"monthly_fee"`
	DueDay         *int                  `json:"due_day" validate:"omitempty,min=1,max=31"`
	Notes          string                `json:"notes" validate:"omitempty,max=2000"`
	Guardians      []GuardianLinkRequest `json:"guardians" validate:"omitempty,dive"`
}

// StudentProfileRequest changes descriptive student fields.
type StudentProfileRequest struct {
	Name    *string `json:"name" validate:"omitempty,min=2,max=160"`
	ClassID *uint   `json:"class_id"`
	Status  *string `json:"status" validate:"omitempty,oneof=active inactive"`
	Notes   *string `json:"notes" validate:"omitempty,max=2000"`
}

// StudentBillingRequest changes the terms used to generate monthly fees.
type StudentBillingRequest struct {
	EnrollmentDate *string          `json:"enrollment_date" validate:"omitempty,datetime=2006-01-02"`
	MonthlyFee     *decimal.Decimal `json:"monthly_fee"`
	DueDay         *int             `json:"due_day" validate:"omitempty,min=1,max=31"`
}

// StudentListRequest filters students.
type StudentListRequest struct {
	Page       int
	PageSize   int
	Search     string
	ClassIDs   []uint
	ClassNames []string
	Status     string
}

// StudentGuardianResponse describes a guardian attached to a student.
type StudentGuardianResponse struct {
	GuardianID           uint   `json:"guardian_id"`
	Name                 string `json:"name"`
	Relation             string `json:"relation,omitempty"`
	FinancialResponsible bool   `json:"financial_responsible"`
	Phone                string `json:"phone,omitempty"`
	Email                string `json:"email,omitempty"`
}

// StudentResponse serializes a student.
type StudentResponse struct {
	ID             uint                      `json:"id"`
	Name           string                    `json:"name"`
	ClassID        *uint                     `json:"class_id"`
	ClassName      string                    `json:"class_name,omitempty"`
	EnrollmentDate *time.Time                `json:"enrollment_date"`
	MonthlyFee     *decimal.Decimal          `json:"monthly_fee"`
	DueDay         *int                      `json:"due_day"`
	FeesGenerated  bool                      `json:"fees_generated"`
	Status         string                    `json:"status"`
	Notes          string                    `json:"notes,omitempty"`
	ExitDate       *time.Time                `json:"exit_date,omitempty"`
	ExitReason     string                    `json:"exit_reason,omitempty"`
	Guardians      []StudentGuardianResponse `json:"guardians"`
	CreatedAt      time.Time                 `json:"created_at"`
	UpdatedAt      time.Time                 `json:"updated_at"`
}

// StudentListResponse wraps a page of students.
type StudentListResponse struct {
	Items      []StudentResponse `json:"items"`
	Pagination PaginationMeta    `json:"pagination"`
}

// NewStudentResponse converts a student model with its preloaded links.
func NewStudentResponse(student models.Student) StudentResponse {
	response := StudentResponse{
		ID:             student.ID,
		Name:           student.Name,
		ClassID:        student.ClassID,
		ClassName:      student.ClassName(),
		EnrollmentDate: student.EnrollmentDate,
		DueDay:         student.DueDay,
		FeesGenerated:  student.FeesGenerated,
		Status:         student.Status,
		Notes:          student.Notes,
		ExitDate:       student.ExitDate,
		ExitReason:     student.ExitReason,
		Guardians:      make([]StudentGuardianResponse, 0, len(student.Links)),
		CreatedAt:      student.CreatedAt,
		UpdatedAt:      student.UpdatedAt,
	}
	if student.MonthlyFee.Valid {
		fee := student.MonthlyFee.Decimal
		response.MonthlyFee = &fee
	}
	for _, link := range student.Links {
		entry := StudentGuardianResponse{
			GuardianID:           link.GuardianID,
			Relation:             link.Relation,
			FinancialResponsible: link.FinancialResponsible,
		}
		if link.Guardian != nil {
			entry.Name = link.Guardian.Name
			entry.Phone = link.Guardian.Phone
			entry.Email = link.Guardian.Email
		}
		response.Guardians = append(response.Guardians, entry)
	}
	return response
}

// GuardianMatch is a registered guardian scored against a searched name.
type GuardianMatch struct {
	Guardian GuardianResponse `json:"guardian"`
	Score    float64          `json:"score"`
}

// GuardianFindResponse ranks registered guardians by name similarity.
type GuardianFindResponse struct {
	Query       string          `json:"query"`
	Normalized  string          `json:"normalized"`
	Matches     []GuardianMatch `json:"matches"`
	Suggestions []string        `json:"suggestions,omitempty"`
}
