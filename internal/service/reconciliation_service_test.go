package service

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/noah-isme/secretaria-go-api/internal/dto"
	"github.com/noah-isme/secretaria-go-api/internal/matching"
	"github.com/noah-isme/secretaria-go-api/internal/models"
	"github.com/noah-isme/secretaria-go-api/internal/reconciliation"
	"github.com/noah-isme/secretaria-go-api/internal/repository"
)

func newTestReconciliation(env testEnv) ReconciliationService {
	return NewReconciliationService(ReconciliationDeps{
		Rows:      env.rows,
		Guardians: env.guardians,
		Students:  env.students,
		Fees:      env.fees,
		Charges:   env.charges,
	}, matching.Thresholds{}, testValidator(), env.activity, nil, testLogger())
}

func TestReconciliationRunLinksExactPayer(t *testing.T) {
	env := newTestEnv(t)
	svc := newTestReconciliation(env)
	ctx := context.Background()

	jose := env.guardian(t, "José da Silva")
	student := env.student(t, "Lucas da Silva", 500, jose.ID)
	env.guardian(t, "Ana Paula Ferreira")
	known := env.row(t, "rec-1", "JOSE DA SILVA", "500.00", nil)
	unknown := env.row(t, "rec-2", "XPTO COMERCIO LTDA", "42.00", nil)

	dry, err := svc.Run(ctx, testActor(), dto.ReconcileRequest{DryRun: true})
	require.NoError(t, err)
	require.True(t, dry.DryRun)
	require.Zero(t, dry.Linked)
	require.Len(t, dry.Report.Links, 1)

	stored, err := env.rows.GetByID(ctx, known.ID)
	require.NoError(t, err)
	require.Nil(t, stored.GuardianID)

	resp, err := svc.Run(ctx, testActor(), dto.ReconcileRequest{})
	require.NoError(t, err)
	require.Equal(t, 1, resp.Linked)
	require.Empty(t, resp.Conflicts)
	require.Equal(t, known.ID, resp.Report.Links[0].RowID)
	require.Equal(t, reconciliation.PassSingle, resp.Report.Links[0].Pass)

	require.Len(t, resp.Report.Unidentified, 1)
	require.Equal(t, unknown.ID, resp.Report.Unidentified[0].RowID)

	stored, err = env.rows.GetByID(ctx, known.ID)
	require.NoError(t, err)
	require.Equal(t, jose.ID, *stored.GuardianID)
	require.Equal(t, student.ID, *stored.StudentID)

	again, err := svc.Run(ctx, testActor(), dto.ReconcileRequest{})
	require.NoError(t, err)
	require.Zero(t, again.Linked)
}

type recordingSpan struct {
	noop.Span
	code   codes.Code
	errors []error
}

func (s *recordingSpan) SetStatus(code codes.Code, _ string) { s.code = code }

func (s *recordingSpan) RecordError(err error, _ ...trace.EventOption) {
	s.errors = append(s.errors, err)
}

type recordingTracer struct {
	noop.Tracer
	span *recordingSpan
}

func (t *recordingTracer) Start(ctx context.Context, _ string, _ ...trace.SpanStartOption) (context.Context, trace.Span) {
	t.span = &recordingSpan{}
	return trace.ContextWithSpan(ctx, t.span), t.span
}

type brokenRows struct {
	repository.StatementRepository
}

func (brokenRows) ListUnregistered(context.Context) ([]models.StatementRow, error) {
	return nil, errors.New("rows unavailable")
}

type brokenGuardians struct {
	repository.GuardianRepository
}

func (brokenGuardians) ListAll(context.Context) ([]models.Guardian, error) {
	return nil, errors.New("guardians unavailable")
}

func TestReconciliationRunMarksSpanOnLoadFailure(t *testing.T) {
	cases := map[string]func(env testEnv) ReconciliationDeps{
		"statement rows": func(env testEnv) ReconciliationDeps {
			return ReconciliationDeps{Rows: brokenRows{env.rows}, Guardians: env.guardians, Students: env.students, Fees: env.fees, Charges: env.charges}
		},
		"guardians": func(env testEnv) ReconciliationDeps {
			return ReconciliationDeps{Rows: env.rows, Guardians: brokenGuardians{env.guardians}, Students: env.students, Fees: env.fees, Charges: env.charges}
		},
	}

	for name, deps := range cases {
		t.Run(name, func(t *testing.T) {
			env := newTestEnv(t)
			svc := NewReconciliationService(deps(env), matching.Thresholds{}, testValidator(), env.activity, nil, testLogger()).(*reconciliationService)
			tracer := &recordingTracer{}
			svc.tracer = tracer

			_, err := svc.Run(context.Background(), testActor(), dto.ReconcileRequest{})
			require.Error(t, err)
			require.Equal(t, codes.Error, tracer.span.code)
			require.Len(t, tracer.span.errors, 1)
		})
	}
}

func TestReconciliationManualLinkNeverReplaces(t *testing.T) {
	env := newTestEnv(t)
	svc := newTestReconciliation(env)
	ctx := context.Background()

	first := env.guardian(t, "Irene Matos")
	second := env.guardian(t, "Otávio Matos")
	student := env.student(t, "Beatriz Matos", 300, second.ID)

	linked := env.row(t, "man-1", "I MATOS", "300.00", &first.ID)
	_, err := svc.LinkRow(ctx, testActor(), linked.ID, dto.ManualLinkRequest{GuardianID: second.ID})
	require.ErrorIs(t, err, ErrPrecondition)

	open := env.row(t, "man-2", "O MATOS", "300.00", nil)
	resp, err := svc.LinkRow(ctx, testActor(), open.ID, dto.ManualLinkRequest{GuardianID: second.ID})
	require.NoError(t, err)
	require.Equal(t, second.ID, *resp.GuardianID)
	require.Equal(t, student.ID, *resp.StudentID)

	other := env.student(t, "Caetano Nobre", 300)
	loose := env.row(t, "man-3", "O MATOS", "300.00", nil)
	_, err = svc.LinkRow(ctx, testActor(), loose.ID, dto.ManualLinkRequest{GuardianID: second.ID, StudentID: &other.ID})
	require.ErrorIs(t, err, ErrValidation)

	_, err = svc.LinkRow(ctx, testActor(), loose.ID, dto.ManualLinkRequest{GuardianID: 999})
	require.ErrorIs(t, err, ErrNotFound)
}

func TestReconciliationRenormalizeGuardians(t *testing.T) {
	env := newTestEnv(t)
	svc := newTestReconciliation(env)
	ctx := context.Background()

	stale := env.guardian(t, "Conceição Araújo")
	env.guardian(t, "Rui Barros")
	require.NoError(t, env.db.Model(&models.Guardian{}).Where("id = ?", stale.ID).Update("normalized_name", "CONCEIÇÃO ARAÚJO").Error)

	resp, err := svc.RenormalizeGuardians(ctx, testActor())
	require.NoError(t, err)
	require.Equal(t, 2, resp.Scanned)
	require.Equal(t, []uint{stale.ID}, resp.Updated)

	stored, err := env.guardians.GetByID(ctx, stale.ID)
	require.NoError(t, err)
	require.Equal(t, matching.Normalize("Conceição Araújo"), stored.NormalizedName)
}

func TestStatementImportReportsDuplicatesAndInvalidRows(t *testing.T) {
	env := newTestEnv(t)
	svc := NewStatementService(env.rows, testValidator(), env.activity, nil, 10, testLogger())
	ctx := context.Background()

	env.row(t, "dup-stored", "JOAO PAULO", "10.00", nil)

	resp, err := svc.Import(ctx, testActor(), dto.StatementImportRequest{Rows: []dto.StatementImportItem{
		{ExternalID: "new-1", PayerName: "Maria Souza", Amount: decimal.RequireFromString("500.005"), PaymentDate: "2024-04-10"},
		{ExternalID: "new-1", PayerName: "Maria Souza", Amount: decimal.NewFromInt(500), PaymentDate: "2024-04-10"},
		{ExternalID: "dup-stored", PayerName: "Joao Paulo", Amount: decimal.NewFromInt(10), PaymentDate: "2024-04-10"},
		{ExternalID: "bad-date", PayerName: "Lia", Amount: decimal.NewFromInt(10), PaymentDate: "2024-02-30"},
		{ExternalID: "bad-amount", PayerName: "Lia", Amount: decimal.NewFromInt(-5), PaymentDate: "2024-04-10"},
		{ExternalID: "bad-name", PayerName: "<b></b>", Amount: decimal.NewFromInt(5), PaymentDate: "2024-04-10"},
	}})
	require.NoError(t, err)
	require.Equal(t, 1, resp.Created)
	require.Equal(t, 2, resp.Duplicates)
	require.Equal(t, 3, resp.Invalid)
	require.Len(t, resp.Items, 6)
	require.Equal(t, dto.OutcomeCreated, resp.Items[0].Outcome)
	require.Equal(t, dto.OutcomeDuplicate, resp.Items[1].Outcome)
	require.Equal(t, "payer name is empty", resp.Items[5].Reason)

	row, err := svc.Get(ctx, *resp.Items[0].ID)
	require.NoError(t, err)
	require.Equal(t, "maria souza", row.PayerNameNormalized)
	require.True(t, decimal.RequireFromString("500.01").Equal(row.Amount))

	tooMany := make([]dto.StatementImportItem, 11)
	for index := range tooMany {
		tooMany[index] = dto.StatementImportItem{ExternalID: "x", PayerName: "x", Amount: decimal.NewFromInt(1), PaymentDate: "2024-04-10"}
	}
	_, err = svc.Import(ctx, testActor(), dto.StatementImportRequest{Rows: tooMany})
	require.ErrorIs(t, err, ErrValidation)
}

func TestStatementListAndStats(t *testing.T) {
	env := newTestEnv(t)
	svc := NewStatementService(env.rows, testValidator(), env.activity, nil, 0, testLogger())
	ctx := context.Background()

	guardian := env.guardian(t, "Sara Leal")
	env.row(t, "st-1", "SARA LEAL", "100.00", &guardian.ID)
	env.row(t, "st-2", "DESCONHECIDO", "40.00", nil)
	require.NoError(t, env.db.Model(&models.StatementRow{}).Where("external_id = ?", "st-1").Update("status", models.StatementStatusRegistered).Error)

	unlinked := false
	list, err := svc.List(ctx, dto.StatementListRequest{Linked: &unlinked, Page: 1, PageSize: 10})
	require.NoError(t, err)
	require.Len(t, list.Items, 1)
	require.Equal(t, "st-2", list.Items[0].ExternalID)

	_, err = svc.List(ctx, dto.StatementListRequest{Status: "pending"})
	require.ErrorIs(t, err, ErrValidation)

	stats, err := svc.Stats(ctx, "2024-04-01", "2024-04-30")
	require.NoError(t, err)
	require.Equal(t, 2, stats.Total)
	require.Equal(t, 1, stats.Registered)
	require.Equal(t, 1, stats.Linked)
	require.True(t, decimal.NewFromInt(140).Equal(stats.AmountTotal))
	require.True(t, decimal.NewFromInt(40).Equal(stats.AmountUnlinked))

	empty, err := svc.Stats(ctx, "2024-05-01", "")
	require.NoError(t, err)
	require.Zero(t, empty.Total)

	_, err = svc.Stats(ctx, "2024-04-30", "2024-04-01")
	require.ErrorIs(t, err, ErrValidation)
}
