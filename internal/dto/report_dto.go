package dto

import (
	"time"

	"github.com/shopspring/decimal"
)

// Report buckets in the order renderers print them.
const (
	BucketOverdue   = "overdue"
	BucketUpcoming  = "upcoming"
	BucketPaid      = "paid"
	BucketCancelled = "cancelled"
)

// ReportBuckets lists the fee sections of a student report in print order.
var ReportBuckets = []string{BucketOverdue, BucketUpcoming, BucketPaid, BucketCancelled}

// FinancialReportRequest selects the students and fees of a financial report. When
// Statuses is set, only fees in those derived statuses are kept and students left
// without fees are dropped.
type FinancialReportRequest struct {
	ClassIDs        []uint   `json:"class_ids"`
	ClassNames      []string `json:"class_names" validate:"omitempty,dive,required"`
	From            string   `json:"from" validate:"omitempty,datetime=2006-01-02"`
	To              string   `json:"to" validate:"omitempty,datetime=2006-01-02"`
	Statuses        []string `json:"statuses" validate:"omitempty,dive,oneof=upcoming overdue paid partially_paid cancelled"`
	IncludePayments bool     `json:"include_payments"`
}

// ReportGuardian is a guardian as printed on a student report.
type ReportGuardian struct {
	ID        uint   `json:"id"`
	Name      string `json:"name"`
	Relation  string `json:"relation,omitempty"`
	Financial bool   `json:"financial"`
	Phone     string `json:"phone,omitempty"`
	Email     string `json:"email,omitempty"`
}

// FeeBucket is one section of a student report.
type FeeBucket struct {
	Bucket string          `json:"bucket"`
	Fees   []FeeResponse   `json:"fees"`
	Amount decimal.Decimal `json:"amount"`
}

// StudentReport is one student's page of the financial report.
type StudentReport struct {
	StudentID   uint              `json:"student_id"`
	Name        string            `json:"name"`
	ClassName   string            `json:"class_name"`
	Guardians   []ReportGuardian  `json:"guardians"`
	Buckets     []FeeBucket       `json:"buckets"`
	Outstanding decimal.Decimal   `json:"outstanding"`
	Paid        decimal.Decimal   `json:"paid"`
	Payments    []PaymentResponse `json:"payments,omitempty"`
}

// BucketTotal aggregates one bucket across the report.
type BucketTotal struct {
	Bucket string          `json:"bucket"`
	Count  int             `json:"count"`
	Amount decimal.Decimal `json:"amount"`
}

// ReportTotals aggregates the whole report.
type ReportTotals struct {
	Students    int             `json:"students"`
	Fees        int             `json:"fees"`
	Buckets     []BucketTotal   `json:"buckets"`
	Outstanding decimal.Decimal `json:"outstanding"`
	Paid        decimal.Decimal `json:"paid"`
}

// FinancialReport is the structured payload handed to document renderers.
type FinancialReport struct {
	GeneratedAt time.Time              `json:"generated_at"`
	ReferenceOn string                 `json:"reference_on"`
	Filter      FinancialReportRequest `json:"filter"`
	Students    []StudentReport        `json:"students"`
	Totals      ReportTotals           `json:"totals"`
}

// ReportFile is a rendered report ready for download.
type ReportFile struct {
	Name        string
	ContentType string
	Data        []byte
}

// ReportArchiveResponse points at an archived report.
type ReportArchiveResponse struct {
	Name string `json:"name"`
	URL  string `json:"url"`
}
