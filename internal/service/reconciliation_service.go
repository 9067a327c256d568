package service

import (
	"context"
	"sort"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/noah-isme/secretaria-go-api/internal/billing"
	"github.com/noah-isme/secretaria-go-api/internal/dto"
	"github.com/noah-isme/secretaria-go-api/internal/matching"
	"github.com/noah-isme/secretaria-go-api/internal/models"
	"github.com/noah-isme/secretaria-go-api/internal/observability"
	"github.com/noah-isme/secretaria-go-api/internal/reconciliation"
	"github.com/noah-isme/secretaria-go-api/internal/repository"
)

// ReconciliationService links statement rows to guardians, automatically or by hand.
type ReconciliationService interface {
	Run(ctx context.Context, actor ActivityActor, req dto.ReconcileRequest) (dto.ReconcileResponse, error)
	LinkRow(ctx context.Context, actor ActivityActor, rowID uint, req dto.ManualLinkRequest) (dto.StatementRowResponse, error)
	RenormalizeGuardians(ctx context.Context, actor ActivityActor) (dto.RenormalizeResponse, error)
}

type reconciliationService struct {
	rows       repository.StatementRepository
	guardians  repository.GuardianRepository
	students   repository.StudentRepository
	fees       repository.FeeRepository
	charges    repository.ChargeRepository
	thresholds matching.Thresholds
	validator  *validator.Validate
	activity   ActivityRecorder
	events     EventPublisher
	logger     zerolog.Logger
	tracer     trace.Tracer
}

// ReconciliationDeps groups the stores the reconciliation service reads and writes.
type ReconciliationDeps struct {
	Rows      repository.StatementRepository
	Guardians repository.GuardianRepository
	Students  repository.StudentRepository
	Fees      repository.FeeRepository
	Charges   repository.ChargeRepository
}

// NewReconciliationService constructs the reconciliation service.
func NewReconciliationService(deps ReconciliationDeps, thresholds matching.Thresholds, validate *validator.Validate, activity ActivityRecorder, events EventPublisher, logger zerolog.Logger) ReconciliationService {
	if events == nil {
		events = NoopEventPublisher()
	}
	if thresholds == (matching.Thresholds{}) {
		thresholds = matching.DefaultThresholds()
	}
	return &reconciliationService{
		rows:       deps.Rows,
		guardians:  deps.Guardians,
		students:   deps.Students,
		fees:       deps.Fees,
		charges:    deps.Charges,
		thresholds: thresholds,
		validator:  validate,
		activity:   activity,
		events:     events,
		logger:     logger.With().Str("component", "reconciliation_service").Logger(),
		tracer:     otel.Tracer("github.com/noah-isme/secretaria-go-api/internal/service/reconciliation"),
	}
}

// Run reconciles every unregistered statement row. Links are written one row at a time
// and only into empty guardian slots, so a concurrent manual link always wins and shows
// up in Conflicts. A cancelled context stops the run between rows.
func (s *reconciliationService) Run(ctx context.Context, actor ActivityActor, req dto.ReconcileRequest) (dto.ReconcileResponse, error) {
	spanCtx, span := s.tracer.Start(ctx, "reconciliation.run", trace.WithAttributes(
		attribute.Bool("reconciliation.strict", req.Strict),
		attribute.Bool("reconciliation.dry_run", req.DryRun),
	))
	defer span.End()

	start := time.Now()
	defer func() {
		observability.ReconciliationLatency().Observe(time.Since(start).Seconds())
	}()

	stored, err := s.rows.ListUnregistered(spanCtx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return dto.ReconcileResponse{}, err
	}
	guardians, err := s.loadGuardians(spanCtx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return dto.ReconcileResponse{}, err
	}

	rows := make([]reconciliation.Row, 0, len(stored))
	for _, row := range stored {
		rows = append(rows, reconciliation.Row{
			ID:          row.ID,
			PayerName:   row.PayerName,
			Normalized:  row.PayerNameNormalized,
			Amount:      row.Amount,
			PaymentDate: row.PaymentDate,
			GuardianID:  row.GuardianID,
		})
	}

	report := reconciliation.Reconcile(rows, guardians, reconciliation.Options{Thresholds: s.thresholds, Strict: req.Strict})
	response := dto.ReconcileResponse{DryRun: req.DryRun, Report: report, Conflicts: []uint{}}
	span.SetAttributes(
		attribute.Int("reconciliation.rows", len(rows)),
		attribute.Int("reconciliation.proposed_links", len(report.Links)),
		attribute.Int("reconciliation.reviews", len(report.Reviews)),
	)

	if req.DryRun {
		return response, nil
	}

	for _, link := range report.Links {
		if err := spanCtx.Err(); err != nil {
			response.Interrupted = true
			s.logger.Warn().Int("linked", response.Linked).Msg("reconciliation interrupted")
			break
		}

		score := link.Score
		ok, err := s.rows.LinkGuardian(spanCtx, repository.StatementLink{
			RowID:      link.RowID,
			GuardianID: link.GuardianID,
			StudentID:  link.StudentID,
			Score:      &score,
			Pass:       string(link.Pass),
		})
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return response, err
		}
		if !ok {
			response.Conflicts = append(response.Conflicts, link.RowID)
			continue
		}
		response.Linked++
		observability.ReconciliationLinks().WithLabelValues(string(link.Pass)).Inc()
	}

	s.logger.Info().
		Int("linked", response.Linked).
		Int("conflicts", len(response.Conflicts)).
		Int("reviews", len(report.Reviews)).
		Int("unidentified", len(report.Unidentified)).
		Bool("strict", req.Strict).
		Msg("reconciliation finished")

	if response.Linked > 0 {
		metadata := map[string]interface{}{
			"linked":       response.Linked,
			"reviews":      len(report.Reviews),
			"unidentified": len(report.Unidentified),
			"strict":       req.Strict,
		}
		audit(spanCtx, s.activity, s.logger, actor, "statement.reconciled", "statement", 0, metadata)
		s.events.Publish(spanCtx, Event{Type: EventStatementLinked, EntityType: "statement", Data: metadata})
	}

	return response, nil
}

// LinkRow attaches a row to a guardian by hand. An existing link is never replaced.
func (s *reconciliationService) LinkRow(ctx context.Context, actor ActivityActor, rowID uint, req dto.ManualLinkRequest) (dto.StatementRowResponse, error) {
	if err := s.validator.Struct(req); err != nil {
		return dto.StatementRowResponse{}, err
	}

	row, err := s.rows.GetByID(ctx, rowID)
	if err != nil {
		return dto.StatementRowResponse{}, notFound(err, "statement row", rowID)
	}
	if row.Linked() {
		return dto.StatementRowResponse{}, preconditionf("statement row %d is already linked to guardian %d", rowID, *row.GuardianID)
	}
	if _, err := s.guardians.GetByID(ctx, req.GuardianID); err != nil {
		return dto.StatementRowResponse{}, notFound(err, "guardian", req.GuardianID)
	}

	links, err := s.students.LinksForGuardian(ctx, req.GuardianID)
	if err != nil {
		return dto.StatementRowResponse{}, err
	}
	studentID := req.StudentID
	if studentID != nil {
		if !hasStudent(links, *studentID) {
			return dto.StatementRowResponse{}, validationf("student %d is not linked to guardian %d", *studentID, req.GuardianID)
		}
	} else if len(links) == 1 {
		studentID = uintPtr(links[0].StudentID)
	}

	ok, err := s.rows.LinkGuardian(ctx, repository.StatementLink{
		RowID:      rowID,
		GuardianID: req.GuardianID,
		StudentID:  studentID,
		Pass:       string(reconciliation.PassManual),
	})
	if err != nil {
		return dto.StatementRowResponse{}, err
	}
	if !ok {
		return dto.StatementRowResponse{}, preconditionf("statement row %d was linked concurrently", rowID)
	}

	audit(ctx, s.activity, s.logger, actor, "statement.linked", "statement_row", rowID, map[string]interface{}{
		"guardian_id": req.GuardianID,
		"pass":        string(reconciliation.PassManual),
	})
	s.events.Publish(ctx, Event{Type: EventStatementLinked, EntityType: "statement_row", EntityID: rowID, Data: map[string]interface{}{
		"guardian_id": req.GuardianID,
	}})

	updated, err := s.rows.GetByID(ctx, rowID)
	if err != nil {
		return dto.StatementRowResponse{}, err
	}
	return dto.NewStatementRowResponse(updated), nil
}

// RenormalizeGuardians rewrites cached normalized names that drifted from the current
// normalization rules.
func (s *reconciliationService) RenormalizeGuardians(ctx context.Context, actor ActivityActor) (dto.RenormalizeResponse, error) {
	guardians, err := s.guardians.ListAll(ctx)
	if err != nil {
		return dto.RenormalizeResponse{}, err
	}

	response := dto.RenormalizeResponse{Scanned: len(guardians), Updated: []uint{}}
	for _, guardian := range guardians {
		if err := ctx.Err(); err != nil {
			return response, err
		}
		normalized := matching.Normalize(guardian.Name)
		if normalized == guardian.NormalizedName {
			continue
		}
		if _, err := s.guardians.Update(ctx, guardian.ID, map[string]interface{}{"normalized_name": normalized}); err != nil {
			return response, err
		}
		response.Updated = append(response.Updated, guardian.ID)
	}

	if len(response.Updated) > 0 {
		audit(ctx, s.activity, s.logger, actor, "guardian.renormalized", "guardian", 0, map[string]interface{}{
			"updated": len(response.Updated),
		})
	}
	return response, nil
}

// loadGuardians builds the engine's view of every guardian: their students and the
// amounts they are expected to pay (open fee balances, monthly fees, the siblings'
// combined fee and open charges).
func (s *reconciliationService) loadGuardians(ctx context.Context) ([]reconciliation.Guardian, error) {
	guardians, err := s.guardians.ListAll(ctx)
	if err != nil {
		return nil, err
	}
	links, err := s.students.AllLinks(ctx)
	if err != nil {
		return nil, err
	}

	studentsByGuardian := map[uint][]models.Student{}
	var studentIDs []uint
	seenStudent := map[uint]struct{}{}
	for _, link := range links {
		if link.Student == nil {
			continue
		}
		studentsByGuardian[link.GuardianID] = append(studentsByGuardian[link.GuardianID], *link.Student)
		if _, ok := seenStudent[link.StudentID]; !ok {
			seenStudent[link.StudentID] = struct{}{}
			studentIDs = append(studentIDs, link.StudentID)
		}
	}

	openByStudent := map[uint][]decimal.Decimal{}
	if len(studentIDs) > 0 {
		fees, err := s.fees.ListOpenByStudents(ctx, studentIDs)
		if err != nil {
			return nil, err
		}
		for _, fee := range fees {
			if remaining := fee.Receivable().Remaining(); remaining.IsPositive() {
				openByStudent[fee.StudentID] = append(openByStudent[fee.StudentID], remaining)
			}
		}
		if s.charges != nil {
			charges, err := s.charges.List(ctx, repository.ChargeFilter{StudentIDs: studentIDs})
			if err != nil {
				return nil, err
			}
			for _, charge := range charges {
				if remaining := charge.Receivable().Remaining(); remaining.IsPositive() {
					openByStudent[charge.StudentID] = append(openByStudent[charge.StudentID], remaining)
				}
			}
		}
	}

	result := make([]reconciliation.Guardian, 0, len(guardians))
	for _, guardian := range guardians {
		students := studentsByGuardian[guardian.ID]
		candidate := reconciliation.Guardian{
			ID:         guardian.ID,
			Name:       guardian.Name,
			Normalized: guardian.NormalizedName,
		}

		var expected []decimal.Decimal
		siblings := decimal.Zero
		for _, student := range students {
			candidate.StudentIDs = append(candidate.StudentIDs, student.ID)
			expected = append(expected, openByStudent[student.ID]...)
			if student.MonthlyFee.Valid && student.MonthlyFee.Decimal.IsPositive() {
				expected = append(expected, student.MonthlyFee.Decimal)
				siblings = siblings.Add(student.MonthlyFee.Decimal)
			}
		}
		if len(students) > 1 && siblings.IsPositive() {
			expected = append(expected, siblings)
		}
		candidate.ExpectedAmounts = uniqueAmounts(expected)
		sort.Slice(candidate.StudentIDs, func(i, j int) bool { return candidate.StudentIDs[i] < candidate.StudentIDs[j] })
		result = append(result, candidate)
	}
	return result, nil
}

func uniqueAmounts(amounts []decimal.Decimal) []decimal.Decimal {
	var unique []decimal.Decimal
	for _, amount := range amounts {
		duplicate := false
		for _, existing := range unique {
			if billing.WithinTolerance(existing, amount) {
				duplicate = true
				break
			}
		}
		if !duplicate {
			unique = append(unique, amount)
		}
	}
	return unique
}

func hasStudent(links []models.GuardianLink, studentID uint) bool {
	for _, link := range links {
		if link.StudentID == studentID {
			return true
		}
	}
	return false
}
