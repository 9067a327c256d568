package models

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/noah-isme/secretaria-go-api/internal/billing"
	"github.com/noah-isme/secretaria-go-api/internal/matching"
)

// Student lifecycle states.
const (
	StudentStatusActive    = "active"
	StudentStatusInactive  = "inactive"
	StudentStatusWithdrawn = "withdrawn"
)

// Class groups students of the same cohort.
type Class struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	Name      string    `gorm:"size:120;uniqueIndex;not null" json:"name"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Guardian is the adult responsible for one or more students.
type Guardian struct {
	ID             uint      `gorm:"primaryKey" json:"id"`
	Name           string    `gorm:"size:160;not null" json:"name"`
	NormalizedName string    `gorm:"size:160;index" json:"normalized_name"`
	TaxID          string    `gorm:"size:14;index" json:"tax_id"`
	Phone          string    `gorm:"size:32" json:"phone"`
	Email          string    `gorm:"size:160" json:"email"`
	Address        string    `gorm:"size:255" json:"address"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// BeforeCreate keeps the cached normalized name in sync with the display name.
func (g *Guardian) BeforeCreate(tx *gorm.DB) error {
	g.NormalizedName = matching.Normalize(g.Name)
	return nil
}

// Student is an enrolled learner and carries the terms used to bill monthly fees.
type Student struct {
	ID             uint                `gorm:"primaryKey" json:"id"`
	Name           string              `gorm:"size:160;not null" json:"name"`
	ClassID        *uint               `gorm:"index" json:"class_id"`
	Class          *Class              `gorm:"foreignKey:ClassID" json:"class,omitempty"`
	EnrollmentDate *time.Time          `json:"enrollment_date"`
	MonthlyFee     decimal.NullDecimal `gorm:"type:numeric(12,2)" json:"monthly_fee"`
	DueDay         *int                `json:"due_day"`
	FeesGenerated  bool                `gorm:"not null;default:false" json:"fees_generated"`
	Status         string              `gorm:"size:16;not null;default:active" json:"status"`
	Notes          string              `gorm:"type:text" json:"notes"`
	ExitDate       *time.Time          `json:"exit_date"`
	ExitReason     string              `gorm:"size:255" json:"exit_reason"`
	Links          []GuardianLink      `gorm:"foreignKey:StudentID" json:"links,omitempty"`
	CreatedAt      time.Time           `json:"created_at"`
	UpdatedAt      time.Time           `json:"updated_at"`
}

// BillingTerms exposes the fields the fee generator needs.
func (s Student) BillingTerms() billing.Terms {
	terms := billing.Terms{
		EnrollmentDate: s.EnrollmentDate,
		DueDay:         s.DueDay,
		FeesGenerated:  s.FeesGenerated,
	}
	if s.MonthlyFee.Valid {
		fee := s.MonthlyFee.Decimal
		terms.MonthlyFee = &fee
	}
	return terms
}

// ClassName returns the class name when the association was loaded.
func (s Student) ClassName() string {
	if s.Class == nil {
		return ""
	}
	return s.Class.Name
}

// GuardianLink ties a guardian to a student.
type GuardianLink struct {
	ID                   uint      `gorm:"primaryKey" json:"id"`
	GuardianID           uint      `gorm:"not null;uniqueIndex:idx_guardian_student" json:"guardian_id"`
	StudentID            uint      `gorm:"not null;uniqueIndex:idx_guardian_student;index" json:"student_id"`
	Relation             string    `gorm:"size:32" json:"relation"`
	FinancialResponsible bool      `gorm:"not null;default:false" json:"financial_responsible"`
	Guardian             *Guardian `gorm:"foreignKey:GuardianID" json:"guardian,omitempty"`
	Student              *Student  `gorm:"foreignKey:StudentID" json:"student,omitempty"`
	CreatedAt            time.Time `json:"created_at"`
	UpdatedAt            time.Time `json:"updated_at"`
}
