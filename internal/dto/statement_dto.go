package dto

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/noah-isme/secretaria-go-api/internal/models"
	"github.com/noah-isme/secretaria-go-api/internal/reconciliation"
)

// StatementImportItem is one pre-parsed PIX statement line.
type StatementImportItem struct {
	ExternalID  string          `json:"external_id" validate:"required,max=64"`
	PayerName   string          `json:"payer_name" validate:"required,max=200"`
	Amount      decimal.Decimal `json:"amount"`
	PaymentDate string          `json:"payment_date" validate:"required,datetime=2006-01-02"`
	PaymentKey  string          `json:"payment_key" validate:"omitempty,max=140"`
	Notes       string          `json:"notes" validate:"omitempty,max=1000"`
}

// StatementImportRequest carries a batch of statement lines.
type StatementImportRequest struct {
	Rows []StatementImportItem `json:"rows" validate:"required,min=1"`
}

// StatementImportResponse summarises an import with one outcome per line.
type StatementImportResponse struct {
	Created    int           `json:"created"`
	Duplicates int           `json:"duplicates"`
	Invalid    int           `json:"invalid"`
	Items      []ItemOutcome `json:"items"`
}

// StatementListRequest filters statement rows.
type StatementListRequest struct {
	Page       int
	PageSize   int
	Status     string
	Linked     *bool
	GuardianID *uint
	From       string
	To         string
}

// StatementRowResponse serializes a statement row.
type StatementRowResponse struct {
	ID                  uint            `json:"id"`
	ExternalID          string          `json:"external_id"`
	PayerName           string          `json:"payer_name"`
	PayerNameNormalized string          `json:"payer_name_normalized"`
	Amount              decimal.Decimal `json:"amount"`
	PaymentDate         time.Time       `json:"payment_date"`
	PaymentKey          string          `json:"payment_key,omitempty"`
	Status              string          `json:"status"`
	GuardianID          *uint           `json:"guardian_id"`
	StudentID           *uint           `json:"student_id"`
	MatchScore          *float64        `json:"match_score,omitempty"`
	MatchPass           string          `json:"match_pass,omitempty"`
	Notes               string          `json:"notes,omitempty"`
}

// StatementListResponse wraps a page of statement rows.
type StatementListResponse struct {
	Items      []StatementRowResponse `json:"items"`
	Pagination PaginationMeta         `json:"pagination"`
}

// NewStatementRowResponse converts a statement row model.
func NewStatementRowResponse(row models.StatementRow) StatementRowResponse {
	return StatementRowResponse{
		ID:                  row.ID,
		ExternalID:          row.ExternalID,
		PayerName:           row.PayerName,
		PayerNameNormalized: row.PayerNameNormalized,
		Amount:              row.Amount,
		PaymentDate:         row.PaymentDate,
		PaymentKey:          row.PaymentKey,
		Status:              row.Status,
		GuardianID:          row.GuardianID,
		StudentID:           row.StudentID,
		MatchScore:          row.MatchScore,
		MatchPass:           row.MatchPass,
		Notes:               row.Notes,
	}
}

// StatementStatsResponse aggregates statement rows by registration and link state.
type StatementStatsResponse struct {
	Total          int             `json:"total"`
	New            int             `json:"new"`
	Registered     int             `json:"registered"`
	Linked         int             `json:"linked"`
	Unlinked       int             `json:"unlinked"`
	AmountTotal    decimal.Decimal `json:"amount_total"`
	AmountLinked   decimal.Decimal `json:"amount_linked"`
	AmountUnlinked decimal.Decimal `json:"amount_unlinked"`
}

// ManualLinkRequest attaches a statement row to a guardian by hand.
type ManualLinkRequest struct {
	GuardianID uint  `json:"guardian_id" validate:"required"`
	StudentID  *uint `json:"student_id"`
}

// ReconcileRequest configures a reconciliation run.
type ReconcileRequest struct {
	Strict bool `json:"strict"`
	DryRun bool `json:"dry_run"`
}

// ReconcileResponse reports a reconciliation run. Conflicts lists rows another writer
// linked while the run was in progress.
type ReconcileResponse struct {
	DryRun      bool                  `json:"dry_run"`
	Linked      int                   `json:"linked"`
	Conflicts   []uint                `json:"conflicts"`
	Interrupted bool                  `json:"interrupted"`
	Report      reconciliation.Report `json:"report"`
}

// RenormalizeResponse reports guardians whose cached normalized name was rewritten.
type RenormalizeResponse struct {
	Scanned int    `json:"scanned"`
	Updated []uint `json:"updated"`
}
