package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/microcosm-cc/bluemonday"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/noah-isme/secretaria-go-api/internal/billing"
	"github.com/noah-isme/secretaria-go-api/internal/dto"
	"github.com/noah-isme/secretaria-go-api/internal/models"
	"github.com/noah-isme/secretaria-go-api/internal/observability"
	"github.com/noah-isme/secretaria-go-api/internal/repository"
)

// FeeService generates monthly fees and drives their lifecycle.
type FeeService interface {
	Generate(ctx context.Context, actor ActivityActor, studentID uint, req dto.FeeGenerateRequest) (dto.FeeGenerationResponse, error)
	GenerateBatch(ctx context.Context, actor ActivityActor, req dto.FeeBatchGenerateRequest) (dto.FeeBatchResponse, error)
	Get(ctx context.Context, id uint) (dto.FeeResponse, error)
	List(ctx context.Context, req dto.FeeListRequest) (dto.FeeListResponse, error)
	Cancel(ctx context.Context, actor ActivityActor, id uint, req dto.FeeCancelRequest) (dto.FeeResponse, error)
	ApplyDiscount(ctx context.Context, actor ActivityActor, id uint, req dto.FeeDiscountRequest) (dto.FeeResponse, error)
	ResetGeneration(ctx context.Context, actor ActivityActor, studentID uint) error
	Withdraw(ctx context.Context, actor ActivityActor, studentID uint, req dto.StudentWithdrawRequest) (dto.StudentWithdrawResponse, error)
	RefreshStatuses(ctx context.Context) (dto.FeeRefreshResponse, error)
	Summary(ctx context.Context, req dto.FeeSummaryRequest) (dto.FeeSummaryResponse, error)
}

type feeService struct {
	fees      repository.FeeRepository
	students  repository.StudentRepository
	validator *validator.Validate
	sanitizer *bluemonday.Policy
	activity  ActivityRecorder
	events    EventPublisher
	location  *time.Location
	logger    zerolog.Logger
	now       func() time.Time
}

// NewFeeService constructs the fee service. loc is the school's timezone, used to decide
// what "today" is when deriving statuses.
func NewFeeService(fees repository.FeeRepository, students repository.StudentRepository, validate *validator.Validate, activity ActivityRecorder, events EventPublisher, loc *time.Location, logger zerolog.Logger) FeeService {
	if events == nil {
		events = NoopEventPublisher()
	}
	return &feeService{
		fees:      fees,
		students:  students,
		validator: validate,
		sanitizer: bluemonday.StrictPolicy(),
		activity:  activity,
		events:    events,
		location:  loc,
		logger:    logger.With().Str("component", "fee_service").Logger(),
		now:       time.Now,
	}
}

func (s *feeService) today() time.Time {
	return today(s.now, s.location)
}

// Generate bills the requested months for one student. Either every fee is created and
// the student is flagged as generated, or nothing is written.
func (s *feeService) Generate(ctx context.Context, actor ActivityActor, studentID uint, req dto.FeeGenerateRequest) (dto.FeeGenerationResponse, error) {
	if err := s.validator.Struct(req); err != nil {
		return dto.FeeGenerationResponse{}, err
	}

	student, err := s.students.GetByID(ctx, studentID)
	if err != nil {
		observability.FeesGenerated().WithLabelValues(dto.OutcomeFailed).Inc()
		return dto.FeeGenerationResponse{}, notFound(err, "student", studentID)
	}

	response, err := s.generate(ctx, actor, student, req.GuardianID, req.PeriodStart, req.PeriodEnd, req.Months)
	observability.FeesGenerated().WithLabelValues(generationOutcome(err)).Inc()
	return response, err
}

func (s *feeService) generate(ctx context.Context, actor ActivityActor, student models.Student, guardianID *uint, periodStart, periodEnd string, months []string) (dto.FeeGenerationResponse, error) {
	if student.Status != models.StudentStatusActive {
		return dto.FeeGenerationResponse{}, preconditionf("student %d is %s", student.ID, student.Status)
	}

	guardian, err := s.resolveGuardian(student, guardianID)
	if err != nil {
		return dto.FeeGenerationResponse{}, err
	}

	window, err := buildWindow(student.EnrollmentDate, periodStart, periodEnd, months)
	if err != nil {
		return dto.FeeGenerationResponse{}, err
	}

	today := s.today()
	drafts, err := billing.Generate(student.BillingTerms(), window, today)
	if err != nil {
		return dto.FeeGenerationResponse{}, generationError(err)
	}

	fees := make([]models.Fee, 0, len(drafts))
	for _, draft := range drafts {
		fees = append(fees, models.Fee{
			StudentID:      student.ID,
			GuardianID:     guardian,
			ReferenceMonth: draft.ReferenceMonth,
			ReferenceLabel: draft.Label,
			AmountDue:      draft.Amount,
			DueDate:        draft.DueDate,
			Status:         string(draft.Status),
			PaidAmount:     decimal.Zero,
		})
	}

	if err := s.fees.CreateForStudent(ctx, student.ID, fees); err != nil {
		if errors.Is(err, repository.ErrConditionFailed) {
			return dto.FeeGenerationResponse{}, fmt.Errorf("%w: %s", ErrPrecondition, billing.ErrFeesAlreadyGenerated)
		}
		s.logger.Error().Err(err).Uint("student_id", student.ID).Msg("failed to persist generated fees")
		return dto.FeeGenerationResponse{}, err
	}

	response := dto.FeeGenerationResponse{
		StudentID:  student.ID,
		GuardianID: guardian,
		Fees:       make([]dto.FeeResponse, 0, len(fees)),
		Total:      decimal.Zero,
	}
	for _, fee := range fees {
		response.Fees = append(response.Fees, dto.NewFeeResponse(fee, today))
		response.Total = response.Total.Add(fee.AmountDue)
	}

	metadata := map[string]interface{}{
		"fees":  len(fees),
		"total": response.Total.StringFixed(2),
		"first": fees[0].ReferenceLabel,
		"last":  fees[len(fees)-1].ReferenceLabel,
	}
	audit(ctx, s.activity, s.logger, actor, "fees.generated", "student", student.ID, metadata)
	s.events.Publish(ctx, Event{Type: EventFeesGenerated, EntityType: "student", EntityID: student.ID, Data: metadata})

	s.logger.Info().Uint("student_id", student.ID).Int("fees", len(fees)).Msg("fees generated")
	return response, nil
}

// GenerateBatch runs Generate for every active student of the selection and reports one
// outcome per student. A cancelled context stops the batch between students.
func (s *feeService) GenerateBatch(ctx context.Context, actor ActivityActor, req dto.FeeBatchGenerateRequest) (dto.FeeBatchResponse, error) {
	if err := s.validator.Struct(req); err != nil {
		return dto.FeeBatchResponse{}, err
	}
	if len(req.ClassIDs) == 0 && len(req.ClassNames) == 0 && len(req.StudentIDs) == 0 {
		return dto.FeeBatchResponse{}, validationf("select at least one class or student")
	}

	students, _, err := s.students.List(ctx, repository.StudentFilter{
		ClassIDs:   req.ClassIDs,
		ClassNames: req.ClassNames,
		StudentIDs: req.StudentIDs,
		Status:     models.StudentStatusActive,
	})
	if err != nil {
		return dto.FeeBatchResponse{}, err
	}

	response := dto.FeeBatchResponse{Items: make([]dto.ItemOutcome, 0, len(students))}
	for index, student := range students {
		if ctx.Err() != nil {
			response.Interrupted = true
			s.logger.Warn().Int("processed", index).Msg("fee batch interrupted")
			break
		}

		outcome := dto.ItemOutcome{Index: index, Key: student.Name, ID: uintPtr(student.ID)}
		_, genErr := s.generate(ctx, actor, student, nil, req.PeriodStart, req.PeriodEnd, req.Months)
		outcome.Outcome = generationOutcome(genErr)
		switch outcome.Outcome {
		case dto.OutcomeGenerated:
			response.Generated++
		case dto.OutcomeNeedsReview:
			response.NeedsReview++
			outcome.Reason = genErr.Error()
		case dto.OutcomeSkipped:
			response.Skipped++
			outcome.Reason = genErr.Error()
		default:
			response.Failed++
			outcome.Reason = genErr.Error()
			s.logger.Error().Err(genErr).Uint("student_id", student.ID).Msg("fee generation failed")
		}
		observability.FeesGenerated().WithLabelValues(outcome.Outcome).Inc()
		response.Items = append(response.Items, outcome)
	}

	return response, nil
}

func (s *feeService) resolveGuardian(student models.Student, requested *uint) (*uint, error) {
	if requested != nil {
		if !hasGuardian(student.Links, *requested) {
			return nil, validationf("guardian %d is not linked to student %d", *requested, student.ID)
		}
		return requested, nil
	}
	return financialGuardian(student.Links)
}

func (s *feeService) Get(ctx context.Context, id uint) (dto.FeeResponse, error) {
	fee, err := s.fees.GetByID(ctx, id)
	if err != nil {
		return dto.FeeResponse{}, notFound(err, "fee", id)
	}
	return dto.NewFeeResponse(fee, s.today()), nil
}

// List returns fees ordered by due date. The status filter applies to the derived
// status, so it is evaluated after loading.
func (s *feeService) List(ctx context.Context, req dto.FeeListRequest) (dto.FeeListResponse, error) {
	filter := repository.FeeFilter{
		GuardianID:       req.GuardianID,
		IncludeCancelled: req.IncludeCancelled,
	}
	if req.StudentID != nil {
		filter.StudentIDs = []uint{*req.StudentID}
	}
	if err := applyPeriod(req.From, req.To, &filter.From, &filter.To); err != nil {
		return dto.FeeListResponse{}, err
	}

	var status billing.Status
	if strings.TrimSpace(req.Status) != "" {
		parsed, ok := billing.ParseStatus(req.Status)
		if !ok {
			return dto.FeeListResponse{}, validationf("unknown fee status %q", req.Status)
		}
		status = parsed
		if status == billing.StatusCancelled {
			filter.IncludeCancelled = true
		}
	} else {
		filter.Page = req.Page
		filter.PageSize = req.PageSize
	}

	fees, total, err := s.fees.List(ctx, filter)
	if err != nil {
		return dto.FeeListResponse{}, err
	}

	today := s.today()
	items := make([]dto.FeeResponse, 0, len(fees))
	for _, fee := range fees {
		response := dto.NewFeeResponse(fee, today)
		if status != "" && response.Status != string(status) {
			continue
		}
		items = append(items, response)
	}

	if status != "" {
		total = int64(len(items))
		items = pageOf(items, req.Page, req.PageSize)
	}
	return dto.FeeListResponse{Items: items, Pagination: dto.NewPagination(req.Page, req.PageSize, total)}, nil
}

func (s *feeService) Cancel(ctx context.Context, actor ActivityActor, id uint, req dto.FeeCancelRequest) (dto.FeeResponse, error) {
	req.Reason = cleanText(s.sanitizer, req.Reason)
	if err := s.validator.Struct(req); err != nil {
		return dto.FeeResponse{}, err
	}

	fee, err := s.fees.GetByID(ctx, id)
	if err != nil {
		return dto.FeeResponse{}, notFound(err, "fee", id)
	}

	today := s.today()
	receivable := fee.Receivable()
	if err := receivable.Cancel(actor.Label(), req.Reason, s.now().In(s.loc()), today); err != nil {
		return dto.FeeResponse{}, fmt.Errorf("%w: fee %d is %s", ErrPrecondition, id, receivable.Status(today))
	}
	fee.Apply(receivable, today)

	if err := s.fees.Save(ctx, &fee); err != nil {
		return dto.FeeResponse{}, conflict(err, fmt.Sprintf("fee %d changed concurrently", id))
	}

	audit(ctx, s.activity, s.logger, actor, "fee.cancelled", "fee", id, map[string]interface{}{
		"student_id": fee.StudentID,
		"reason":     req.Reason,
	})
	s.events.Publish(ctx, Event{Type: EventFeeCancelled, EntityType: "fee", EntityID: id})
	return dto.NewFeeResponse(fee, today), nil
}

// ApplyDiscount lowers the amount due of an open fee by a value or a percentage.
func (s *feeService) ApplyDiscount(ctx context.Context, actor ActivityActor, id uint, req dto.FeeDiscountRequest) (dto.FeeResponse, error) {
	req.Reason = cleanText(s.sanitizer, req.Reason)
	if err := s.validator.Struct(req); err != nil {
		return dto.FeeResponse{}, err
	}
	if (req.Amount == nil) == (req.Percent == nil) {
		return dto.FeeResponse{}, validationf("provide either amount or percent")
	}
	if req.Percent != nil && (!req.Percent.IsPositive() || req.Percent.GreaterThan(decimal.NewFromInt(100))) {
		return dto.FeeResponse{}, validationf("percent must be within (0, 100]")
	}

	fee, err := s.fees.GetByID(ctx, id)
	if err != nil {
		return dto.FeeResponse{}, notFound(err, "fee", id)
	}

	var discount decimal.Decimal
	if req.Amount != nil {
		discount = req.Amount.Round(2)
	} else {
		discount = fee.AmountDue.Mul(*req.Percent).Div(decimal.NewFromInt(100)).Round(2)
	}

	today := s.today()
	receivable := fee.Receivable()
	granted, err := receivable.ApplyDiscount(discount, today)
	switch {
	case errors.Is(err, billing.ErrNonPositiveAmount):
		return dto.FeeResponse{}, validationf("discount must be greater than zero")
	case errors.Is(err, billing.ErrTerminalState):
		return dto.FeeResponse{}, fmt.Errorf("%w: fee %d is %s", ErrPrecondition, id, receivable.Status(today))
	case err != nil:
		return dto.FeeResponse{}, err
	}

	line := fmt.Sprintf("[%s] discount of %s by %s", s.now().In(s.loc()).Format("02/01/2006 15:04"), granted.StringFixed(2), actor.Label())
	if req.Reason != "" {
		line += ": " + req.Reason
	}
	receivable.Notes = billing.AppendNote(receivable.Notes, line)
	fee.Apply(receivable, today)

	if err := s.fees.Save(ctx, &fee); err != nil {
		return dto.FeeResponse{}, conflict(err, fmt.Sprintf("fee %d changed concurrently", id))
	}

	metadata := map[string]interface{}{
		"discount": granted.StringFixed(2),
		"reason":   req.Reason,
	}
	audit(ctx, s.activity, s.logger, actor, "fee.discounted", "fee", id, metadata)
	s.events.Publish(ctx, Event{Type: EventFeeDiscounted, EntityType: "fee", EntityID: id, Data: metadata})
	return dto.NewFeeResponse(fee, today), nil
}

// ResetGeneration lets fees be generated again for a student whose fees were all cancelled.
func (s *feeService) ResetGeneration(ctx context.Context, actor ActivityActor, studentID uint) error {
	if _, err := s.students.GetByID(ctx, studentID); err != nil {
		return notFound(err, "student", studentID)
	}
	if err := s.fees.ResetGeneration(ctx, studentID); err != nil {
		return conflict(err, "student still has fees that are not cancelled")
	}
	audit(ctx, s.activity, s.logger, actor, "fees.generation_reset", "student", studentID, nil)
	return nil
}

// Withdraw ends a student's enrollment: open fees due after the exit date are cancelled
// one by one, then the student is marked withdrawn with the exit date and reason. Fees that
// already received money are left for manual settlement. A dry run only previews.
func (s *feeService) Withdraw(ctx context.Context, actor ActivityActor, studentID uint, req dto.StudentWithdrawRequest) (dto.StudentWithdrawResponse, error) {
	req.Reason = cleanText(s.sanitizer, req.Reason)
	if err := s.validator.Struct(req); err != nil {
		return dto.StudentWithdrawResponse{}, err
	}
	exitDate, err := parseDate(req.ExitDate)
	if err != nil {
		return dto.StudentWithdrawResponse{}, err
	}

	student, err := s.students.GetByID(ctx, studentID)
	if err != nil {
		return dto.StudentWithdrawResponse{}, notFound(err, "student", studentID)
	}
	if student.Status == models.StudentStatusWithdrawn {
		return dto.StudentWithdrawResponse{}, preconditionf("student %d is already withdrawn", studentID)
	}

	fees, _, err := s.fees.List(ctx, repository.FeeFilter{StudentIDs: []uint{studentID}})
	if err != nil {
		return dto.StudentWithdrawResponse{}, err
	}

	today := s.today()
	at := s.now().In(s.loc())
	note := "withdrawal: " + req.Reason
	response := dto.StudentWithdrawResponse{
		StudentID:       studentID,
		ExitDate:        exitDate.Format(dto.DateLayout),
		Reason:          req.Reason,
		DryRun:          req.DryRun,
		AmountCancelled: decimal.Zero,
		Items:           make([]dto.ItemOutcome, 0),
	}

	for i := range fees {
		fee := fees[i]
		if !fee.DueDate.After(exitDate) {
			continue
		}
		item := dto.ItemOutcome{
			Index: len(response.Items),
			Key:   fee.ReferenceMonth.Format(dto.MonthLayout),
			ID:    uintPtr(fee.ID),
		}
		receivable := fee.Receivable()
		status := receivable.Status(today)
		remaining := receivable.Remaining()

		switch {
		case status.Terminal():
			item.Outcome, item.Reason = dto.OutcomeSkipped, "fee is "+string(status)
		case fee.PaidAmount.IsPositive():
			item.Outcome, item.Reason = dto.OutcomeSkipped, "fee already received "+fee.PaidAmount.StringFixed(2)+", settle it manually"
		case req.DryRun:
			item.Outcome = dto.OutcomeCancelled
		default:
			item.Outcome, item.Reason = s.cancelForWithdrawal(ctx, actor, &fee, receivable, note, at, today)
		}

		switch item.Outcome {
		case dto.OutcomeCancelled:
			response.Cancelled++
			response.AmountCancelled = response.AmountCancelled.Add(remaining)
		case dto.OutcomeSkipped:
			response.Skipped++
		default:
			response.Failed++
		}
		response.Items = append(response.Items, item)
	}

	if req.DryRun {
		return response, nil
	}

	if _, err := s.students.Update(ctx, studentID, map[string]interface{}{
		"status":      models.StudentStatusWithdrawn,
		"exit_date":   exitDate,
		"exit_reason": req.Reason,
	}); err != nil {
		return response, err
	}

	metadata := map[string]interface{}{
		"exit_date": response.ExitDate,
		"reason":    req.Reason,
		"cancelled": response.Cancelled,
		"skipped":   response.Skipped,
		"failed":    response.Failed,
	}
	audit(ctx, s.activity, s.logger, actor, "student.withdrawn", "student", studentID, metadata)
	s.events.Publish(ctx, Event{Type: EventStudentWithdrawn, EntityType: "student", EntityID: studentID, Data: metadata})
	s.logger.Info().Uint("student_id", studentID).Int("cancelled", response.Cancelled).Int("failed", response.Failed).Msg("student withdrawn")
	return response, nil
}

func (s *feeService) cancelForWithdrawal(ctx context.Context, actor ActivityActor, fee *models.Fee, receivable billing.Receivable, note string, at, today time.Time) (string, string) {
	if err := receivable.Cancel(actor.Label(), note, at, today); err != nil {
		return dto.OutcomeFailed, err.Error()
	}
	fee.Apply(receivable, today)
	if err := s.fees.Save(ctx, fee); err != nil {
		if errors.Is(err, repository.ErrStaleRecord) {
			return dto.OutcomeFailed, "fee changed concurrently"
		}
		return dto.OutcomeFailed, err.Error()
	}
	s.events.Publish(ctx, Event{Type: EventFeeCancelled, EntityType: "fee", EntityID: fee.ID})
	return dto.OutcomeCancelled, ""
}

// RefreshStatuses rewrites stale status snapshots of open fees. Paid and cancelled fees
// are never touched.
func (s *feeService) RefreshStatuses(ctx context.Context) (dto.FeeRefreshResponse, error) {
	fees, _, err := s.fees.List(ctx, repository.FeeFilter{OnlyOpen: true})
	if err != nil {
		return dto.FeeRefreshResponse{}, err
	}

	today := s.today()
	response := dto.FeeRefreshResponse{Scanned: len(fees)}
	for i := range fees {
		if err := ctx.Err(); err != nil {
			return response, err
		}
		fee := fees[i]
		derived := string(fee.CurrentStatus(today))
		if derived == fee.Status {
			continue
		}
		fee.Status = derived
		if err := s.fees.Save(ctx, &fee); err != nil {
			if errors.Is(err, repository.ErrStaleRecord) {
				continue
			}
			return response, err
		}
		response.Updated++
		observability.FeeStatusUpdates().Inc()
	}

	s.logger.Info().Int("scanned", response.Scanned).Int("updated", response.Updated).Msg("fee statuses refreshed")
	return response, nil
}

// Summary aggregates fees by derived status and by class.
func (s *feeService) Summary(ctx context.Context, req dto.FeeSummaryRequest) (dto.FeeSummaryResponse, error) {
	students, _, err := s.students.List(ctx, repository.StudentFilter{ClassIDs: req.ClassIDs})
	if err != nil {
		return dto.FeeSummaryResponse{}, err
	}
	response := dto.FeeSummaryResponse{ByStatus: []dto.StatusTotals{}, ByClass: []dto.ClassTotals{}}
	if len(students) == 0 {
		return response, nil
	}

	studentIDs := make([]uint, 0, len(students))
	byStudent := make(map[uint]models.Student, len(students))
	for _, student := range students {
		studentIDs = append(studentIDs, student.ID)
		byStudent[student.ID] = student
	}

	filter := repository.FeeFilter{StudentIDs: studentIDs, IncludeCancelled: true}
	if err := applyPeriod(req.From, req.To, &filter.From, &filter.To); err != nil {
		return dto.FeeSummaryResponse{}, err
	}
	fees, _, err := s.fees.List(ctx, filter)
	if err != nil {
		return dto.FeeSummaryResponse{}, err
	}

	today := s.today()
	statusIndex := map[billing.Status]*dto.StatusTotals{}
	for _, status := range billing.Statuses {
		statusIndex[status] = &dto.StatusTotals{Status: string(status), AmountDue: decimal.Zero, Paid: decimal.Zero, Remaining: decimal.Zero}
	}
	classIndex := map[string]*dto.ClassTotals{}
	classStudents := map[string]map[uint]struct{}{}
	var classOrder []string

	for _, fee := range fees {
		receivable := fee.Receivable()
		status := receivable.Status(today)

		totals := statusIndex[status]
		totals.Count++
		totals.AmountDue = totals.AmountDue.Add(fee.AmountDue)
		totals.Paid = totals.Paid.Add(fee.PaidAmount)
		if status.Outstanding() {
			totals.Remaining = totals.Remaining.Add(receivable.Remaining())
		}

		if status == billing.StatusCancelled {
			continue
		}
		student := byStudent[fee.StudentID]
		name := student.ClassName()
		if name == "" {
			name = "Sem turma"
		}
		class, ok := classIndex[name]
		if !ok {
			class = &dto.ClassTotals{ClassID: student.ClassID, ClassName: name, AmountDue: decimal.Zero, Paid: decimal.Zero, Overdue: decimal.Zero}
			classIndex[name] = class
			classStudents[name] = map[uint]struct{}{}
			classOrder = append(classOrder, name)
		}
		classStudents[name][fee.StudentID] = struct{}{}
		class.AmountDue = class.AmountDue.Add(fee.AmountDue)
		class.Paid = class.Paid.Add(fee.PaidAmount)
		if status == billing.StatusOverdue || (status == billing.StatusPartiallyPaid && billing.DateOnly(fee.DueDate).Before(today)) {
			class.Overdue = class.Overdue.Add(receivable.Remaining())
		}
	}

	for _, status := range billing.Statuses {
		response.ByStatus = append(response.ByStatus, *statusIndex[status])
	}
	sort.Strings(classOrder)
	for _, name := range classOrder {
		class := classIndex[name]
		class.Students = len(classStudents[name])
		response.ByClass = append(response.ByClass, *class)
	}
	return response, nil
}

func (s *feeService) loc() *time.Location {
	if s.location == nil {
		return time.UTC
	}
	return s.location
}

func buildWindow(enrollment *time.Time, periodStart, periodEnd string, months []string) (billing.Window, error) {
	if len(months) > 0 {
		window := billing.Window{Months: make([]time.Time, 0, len(months))}
		for _, value := range months {
			month, err := parseMonth(value)
			if err != nil {
				return billing.Window{}, err
			}
			window.Months = append(window.Months, month)
		}
		return window, nil
	}

	if periodStart == "" && periodEnd == "" {
		if enrollment == nil {
			return billing.Window{}, nil
		}
		return billing.DefaultWindow(*enrollment), nil
	}

	var window billing.Window
	if periodStart != "" {
		start, err := parseMonth(periodStart)
		if err != nil {
			return billing.Window{}, err
		}
		window.Start = start
	} else if enrollment != nil {
		window.Start = billing.MonthStart(*enrollment)
	}
	if periodEnd != "" {
		end, err := parseMonth(periodEnd)
		if err != nil {
			return billing.Window{}, err
		}
		window.End = end
	} else if !window.Start.IsZero() {
		window.End = time.Date(window.Start.Year(), time.December, 1, 0, 0, 0, 0, time.UTC)
	}
	if !window.Start.IsZero() && !window.End.IsZero() && window.End.Before(window.Start) {
		return billing.Window{}, validationf("period end is before its start")
	}
	return window, nil
}

func generationError(err error) error {
	switch {
	case errors.Is(err, billing.ErrEmptyWindow):
		return fmt.Errorf("%w: %s", ErrValidation, err)
	case errors.Is(err, billing.ErrFeesAlreadyGenerated),
		errors.Is(err, billing.ErrMissingEnrollmentDate),
		errors.Is(err, billing.ErrMissingDueDay),
		errors.Is(err, billing.ErrInvalidDueDay),
		errors.Is(err, billing.ErrInvalidMonthlyFee):
		return fmt.Errorf("%w: %w", ErrPrecondition, err)
	default:
		return err
	}
}

func generationOutcome(err error) string {
	if err == nil {
		return dto.OutcomeGenerated
	}
	if _, ok := AsReview(err); ok {
		return dto.OutcomeNeedsReview
	}
	if errors.Is(err, ErrPrecondition) || errors.Is(err, ErrValidation) {
		return dto.OutcomeSkipped
	}
	return dto.OutcomeFailed
}

func hasGuardian(links []models.GuardianLink, guardianID uint) bool {
	for _, link := range links {
		if link.GuardianID == guardianID {
			return true
		}
	}
	return false
}

func pageOf[T any](items []T, page, pageSize int) []T {
	if pageSize <= 0 {
		return items
	}
	if page <= 0 {
		page = 1
	}
	start := (page - 1) * pageSize
	if start >= len(items) {
		return []T{}
	}
	end := start + pageSize
	if end > len(items) {
		end = len(items)
	}
	return items[start:end]
}
