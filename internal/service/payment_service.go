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

// Payment sources, used as a metric label.
const (
	paymentSourceStatement = "statement"
	paymentSourceMultiple  = "statement_multiple"
	paymentSourceManual    = "manual"
)

// PaymentService turns received money into payments and applies them to fees.
type PaymentService interface {
	RegisterFromStatement(ctx context.Context, actor ActivityActor, rowID uint, req dto.StatementPaymentRequest) (dto.RegistrationResponse, error)
	RegisterMultipleFromStatement(ctx context.Context, actor ActivityActor, rowID uint, req dto.MultiplePaymentRequest) (dto.RegistrationResponse, error)
	RegisterManual(ctx context.Context, actor ActivityActor, req dto.ManualPaymentRequest) (dto.RegistrationResponse, error)
	Get(ctx context.Context, id uint) (dto.PaymentResponse, error)
	List(ctx context.Context, req dto.PaymentListRequest) (dto.PaymentListResponse, error)
}

// PaymentDeps groups the repositories the payment linker reads and writes.
type PaymentDeps struct {
	Payments  repository.PaymentRepository
	Rows      repository.StatementRepository
	Fees      repository.FeeRepository
	Students  repository.StudentRepository
	Guardians repository.GuardianRepository
}

type paymentService struct {
	deps      PaymentDeps
	validator *validator.Validate
	sanitizer *bluemonday.Policy
	activity  ActivityRecorder
	events    EventPublisher
	location  *time.Location
	logger    zerolog.Logger
	now       func() time.Time
}

// NewPaymentService constructs the payment linker.
func NewPaymentService(deps PaymentDeps, validate *validator.Validate, activity ActivityRecorder, events EventPublisher, loc *time.Location, logger zerolog.Logger) PaymentService {
	if events == nil {
		events = NoopEventPublisher()
	}
	return &paymentService{
		deps:      deps,
		validator: validate,
		sanitizer: bluemonday.StrictPolicy(),
		activity:  activity,
		events:    events,
		location:  loc,
		logger:    logger.With().Str("component", "payment_service").Logger(),
		now:       time.Now,
	}
}

// paymentLine is one payment to create before fees are applied.
type paymentLine struct {
	studentID uint
	amount    decimal.Decimal
	kind      string
	feeID     *uint
	notes     string
}

// ledger accumulates the effects of one registration so they can be written at once.
type ledger struct {
	today    time.Time
	fees     map[uint]*models.Fee
	touched  []uint
	payments []*models.Payment
	write    repository.LedgerWrite
}

func (s *paymentService) RegisterFromStatement(ctx context.Context, actor ActivityActor, rowID uint, req dto.StatementPaymentRequest) (dto.RegistrationResponse, error) {
	req.Notes = cleanText(s.sanitizer, req.Notes)
	if err := s.validator.Struct(req); err != nil {
		return dto.RegistrationResponse{}, err
	}

	row, guardianID, err := s.loadRow(ctx, rowID, req.GuardianID)
	if err != nil {
		return dto.RegistrationResponse{}, err
	}

	studentID, err := s.resolveStudent(ctx, row, guardianID, req.StudentID)
	if err != nil {
		return dto.RegistrationResponse{}, err
	}

	line := paymentLine{
		studentID: studentID,
		amount:    row.Amount,
		kind:      paymentType(req.Type),
		feeID:     req.FeeID,
		notes:     req.Notes,
	}
	return s.register(ctx, actor, paymentSourceStatement, &row, guardianID, paymentMethod(req.Method), row.PaymentDate, []paymentLine{line})
}

// RegisterMultipleFromStatement splits one row into independent payments. The amounts
// must add up to the row amount within a cent; otherwise nothing is written.
func (s *paymentService) RegisterMultipleFromStatement(ctx context.Context, actor ActivityActor, rowID uint, req dto.MultiplePaymentRequest) (dto.RegistrationResponse, error) {
	for i := range req.Items {
		req.Items[i].Notes = cleanText(s.sanitizer, req.Items[i].Notes)
	}
	if err := s.validator.Struct(req); err != nil {
		return dto.RegistrationResponse{}, err
	}

	row, guardianID, err := s.loadRow(ctx, rowID, req.GuardianID)
	if err != nil {
		return dto.RegistrationResponse{}, err
	}

	total := decimal.Zero
	lines := make([]paymentLine, 0, len(req.Items))
	for index, item := range req.Items {
		if !item.Amount.IsPositive() {
			return dto.RegistrationResponse{}, validationf("item %d: amount must be greater than zero", index)
		}
		total = total.Add(item.Amount)
		lines = append(lines, paymentLine{
			studentID: item.StudentID,
			amount:    item.Amount.Round(2),
			kind:      paymentType(item.Type),
			feeID:     item.FeeID,
			notes:     item.Notes,
		})
	}
	if !billing.WithinTolerance(total, row.Amount) {
		return dto.RegistrationResponse{}, consistencyf("payments add up to %s but the statement row is %s", total.StringFixed(2), row.Amount.StringFixed(2))
	}

	return s.register(ctx, actor, paymentSourceMultiple, &row, guardianID, paymentMethod(req.Method), row.PaymentDate, lines)
}

func (s *paymentService) RegisterManual(ctx context.Context, actor ActivityActor, req dto.ManualPaymentRequest) (dto.RegistrationResponse, error) {
	req.Notes = cleanText(s.sanitizer, req.Notes)
	if err := s.validator.Struct(req); err != nil {
		return dto.RegistrationResponse{}, err
	}
	if !req.Amount.IsPositive() {
		return dto.RegistrationResponse{}, validationf("amount must be greater than zero")
	}
	paidAt, err := parseDate(req.PaymentDate)
	if err != nil {
		return dto.RegistrationResponse{}, err
	}
	if req.GuardianID != nil {
		if _, err := s.deps.Guardians.GetByID(ctx, *req.GuardianID); err != nil {
			return dto.RegistrationResponse{}, notFound(err, "guardian", *req.GuardianID)
		}
	}

	line := paymentLine{
		studentID: req.StudentID,
		amount:    req.Amount.Round(2),
		kind:      paymentType(req.Type),
		feeID:     req.FeeID,
		notes:     req.Notes,
	}
	return s.register(ctx, actor, paymentSourceManual, nil, req.GuardianID, paymentMethod(req.Method), paidAt, []paymentLine{line})
}

// register builds every payment, allocation and fee change of a registration and hands
// them to the repository as one write. The statement row flip is guarded on status new.
func (s *paymentService) register(ctx context.Context, actor ActivityActor, source string, row *models.StatementRow, guardianID *uint, method string, paidAt time.Time, lines []paymentLine) (dto.RegistrationResponse, error) {
	book := &ledger{
		today: today(s.now, s.location),
		fees:  map[uint]*models.Fee{},
	}
	if row != nil {
		book.write.StatementRowID = uintPtr(row.ID)
	}

	students := map[uint]models.Student{}
	for index, line := range lines {
		student, ok := students[line.studentID]
		if !ok {
			loaded, err := s.deps.Students.GetByID(ctx, line.studentID)
			if err != nil {
				return dto.RegistrationResponse{}, notFound(err, "student", line.studentID)
			}
			student = loaded
			students[line.studentID] = student
		}
		if guardianID != nil && len(student.Links) > 0 && !hasGuardian(student.Links, *guardianID) {
			return dto.RegistrationResponse{}, validationf("line %d: guardian %d is not linked to student %d", index, *guardianID, student.ID)
		}

		payment := &models.Payment{
			GuardianID:      guardianID,
			StudentID:       student.ID,
			PaymentDate:     billing.DateOnly(paidAt),
			Amount:          line.amount,
			Type:            line.kind,
			Method:          method,
			UnappliedAmount: decimal.Zero,
			Notes:           line.notes,
		}
		if row != nil {
			payment.StatementRowID = uintPtr(row.ID)
		}

		switch {
		case line.kind == models.PaymentTypeMonthlyFee || line.feeID != nil:
			if err := s.applyToFees(ctx, book, payment, line); err != nil {
				return dto.RegistrationResponse{}, err
			}
		default:
			payment.UnappliedAmount = line.amount
		}

		if line.kind == models.PaymentTypeEnrollment && student.EnrollmentDate == nil && book.write.EnrollmentStudentID == nil {
			date := billing.DateOnly(paidAt)
			book.write.EnrollmentStudentID = uintPtr(student.ID)
			book.write.EnrollmentDate = &date
		}

		book.payments = append(book.payments, payment)
	}

	book.write.Payments = book.payments
	for _, id := range book.touched {
		book.write.Fees = append(book.write.Fees, book.fees[id])
	}

	if err := s.deps.Payments.Record(ctx, book.write); err != nil {
		switch {
		case errors.Is(err, repository.ErrConditionFailed) && row != nil:
			return dto.RegistrationResponse{}, preconditionf("statement row %d was already registered", row.ID)
		case errors.Is(err, repository.ErrStaleRecord):
			return dto.RegistrationResponse{}, preconditionf("a fee changed while the payment was being registered")
		}
		s.logger.Error().Err(err).Str("source", source).Msg("failed to record payment")
		return dto.RegistrationResponse{}, err
	}

	response := dto.RegistrationResponse{
		Payments:  make([]dto.PaymentResponse, 0, len(book.payments)),
		Fees:      make([]dto.FeeResponse, 0, len(book.touched)),
		Unapplied: decimal.Zero,
	}
	for _, payment := range book.payments {
		response.Payments = append(response.Payments, dto.NewPaymentResponse(*payment))
		response.Unapplied = response.Unapplied.Add(payment.UnappliedAmount)
		observability.PaymentsRegistered().WithLabelValues(payment.Type, source).Inc()

		metadata := map[string]interface{}{
			"student_id": payment.StudentID,
			"amount":     payment.Amount.StringFixed(2),
			"type":       payment.Type,
			"source":     source,
		}
		if payment.StatementRowID != nil {
			metadata["statement_row_id"] = *payment.StatementRowID
		}
		audit(ctx, s.activity, s.logger, actor, "payment.registered", "payment", payment.ID, metadata)
		s.events.Publish(ctx, Event{Type: EventPaymentRegistered, EntityType: "payment", EntityID: payment.ID, Data: metadata})
	}
	for _, id := range book.touched {
		response.Fees = append(response.Fees, dto.NewFeeResponse(*book.fees[id], book.today))
	}

	s.logger.Info().
		Str("source", source).
		Int("payments", len(book.payments)).
		Int("fees", len(book.touched)).
		Str("unapplied", response.Unapplied.StringFixed(2)).
		Msg("payment registered")
	return response, nil
}

// applyToFees posts the payment to a named fee, or lets the allocation policy pick
// among the student's open fees. Whatever is not applied becomes credit.
func (s *paymentService) applyToFees(ctx context.Context, book *ledger, payment *models.Payment, line paymentLine) error {
	var plan billing.Plan
	if line.feeID != nil {
		fee, err := s.fee(ctx, book, *line.feeID)
		if err != nil {
			return err
		}
		if fee.StudentID != line.studentID {
			return validationf("fee %d does not belong to student %d", fee.ID, line.studentID)
		}
		status := fee.CurrentStatus(book.today)
		if status.Terminal() {
			return preconditionf("fee %d is %s", fee.ID, status)
		}
		plan = billing.Plan{Allocations: []billing.Allocation{{ItemID: fee.ID, Amount: line.amount}}}
	} else {
		open, err := s.openFees(ctx, book, line.studentID)
		if err != nil {
			return err
		}
		plan = billing.Allocate(line.amount, open)
	}

	unapplied := plan.Unapplied
	for _, allocation := range plan.Allocations {
		fee := book.fees[allocation.ItemID]
		receivable := fee.Receivable()
		applied, leftover, err := receivable.ApplyPayment(allocation.Amount, payment.PaymentDate, payment.Method, book.today)
		if err != nil {
			return fmt.Errorf("%w: fee %d: %s", ErrPrecondition, fee.ID, err)
		}
		unapplied = unapplied.Add(leftover)
		if !applied.IsPositive() {
			continue
		}
		fee.Apply(receivable, book.today)
		book.touch(fee.ID)

		if payment.FeeID == nil {
			payment.FeeID = uintPtr(fee.ID)
		}
		payment.Allocations = append(payment.Allocations, models.PaymentAllocation{FeeID: fee.ID, Amount: applied})
	}
	payment.UnappliedAmount = unapplied
	return nil
}

// fee loads a fee once per registration so several lines see each other's effects.
func (s *paymentService) fee(ctx context.Context, book *ledger, id uint) (*models.Fee, error) {
	if fee, ok := book.fees[id]; ok {
		return fee, nil
	}
	fee, err := s.deps.Fees.GetByID(ctx, id)
	if err != nil {
		return nil, notFound(err, "fee", id)
	}
	book.fees[id] = &fee
	return &fee, nil
}

func (s *paymentService) openFees(ctx context.Context, book *ledger, studentID uint) ([]billing.OpenItem, error) {
	fees, err := s.deps.Fees.ListOpenByStudents(ctx, []uint{studentID})
	if err != nil {
		return nil, err
	}
	for i := range fees {
		if _, ok := book.fees[fees[i].ID]; !ok {
			fee := fees[i]
			book.fees[fee.ID] = &fee
		}
	}

	items := make([]billing.OpenItem, 0, len(fees))
	for id, fee := range book.fees {
		if fee.StudentID != studentID || fee.CurrentStatus(book.today).Terminal() {
			continue
		}
		items = append(items, billing.OpenItem{ID: id, DueDate: fee.DueDate, Remaining: fee.Receivable().Remaining()})
	}
	sort.Slice(items, func(i, j int) bool { return items[i].ID < items[j].ID })
	return items, nil
}

func (b *ledger) touch(id uint) {
	for _, existing := range b.touched {
		if existing == id {
			return
		}
	}
	b.touched = append(b.touched, id)
}

// loadRow returns a registrable row and the guardian the payments belong to.
func (s *paymentService) loadRow(ctx context.Context, rowID uint, requested *uint) (models.StatementRow, *uint, error) {
	row, err := s.deps.Rows.GetByID(ctx, rowID)
	if err != nil {
		return models.StatementRow{}, nil, notFound(err, "statement row", rowID)
	}
	if row.Status != models.StatementStatusNew {
		return models.StatementRow{}, nil, preconditionf("statement row %d was already registered", rowID)
	}

	switch {
	case row.GuardianID != nil && requested != nil && *row.GuardianID != *requested:
		return models.StatementRow{}, nil, validationf("statement row %d is linked to guardian %d", rowID, *row.GuardianID)
	case row.GuardianID != nil:
		return row, row.GuardianID, nil
	case requested != nil:
		if _, err := s.deps.Guardians.GetByID(ctx, *requested); err != nil {
			return models.StatementRow{}, nil, notFound(err, "guardian", *requested)
		}
		return row, requested, nil
	default:
		return models.StatementRow{}, nil, preconditionf("statement row %d is not linked to a guardian", rowID)
	}
}

// resolveStudent picks the explicit student, then the row's, then the guardian's only
// student. A guardian with several students needs an explicit choice.
func (s *paymentService) resolveStudent(ctx context.Context, row models.StatementRow, guardianID *uint, requested *uint) (uint, error) {
	if requested != nil {
		return *requested, nil
	}
	if row.StudentID != nil {
		return *row.StudentID, nil
	}

	links, err := s.deps.Students.LinksForGuardian(ctx, *guardianID)
	if err != nil {
		return 0, err
	}
	switch len(links) {
	case 0:
		return 0, preconditionf("guardian %d has no students", *guardianID)
	case 1:
		return links[0].StudentID, nil
	default:
		candidates := make([]interface{}, 0, len(links))
		for _, link := range links {
			candidate := map[string]interface{}{"student_id": link.StudentID}
			if link.Student != nil {
				candidate["name"] = link.Student.Name
			}
			candidates = append(candidates, candidate)
		}
		return 0, &ReviewRequired{
			Reason:     fmt.Sprintf("guardian %d has %d students; choose one", *guardianID, len(links)),
			Candidates: candidates,
		}
	}
}

func (s *paymentService) Get(ctx context.Context, id uint) (dto.PaymentResponse, error) {
	payment, err := s.deps.Payments.GetByID(ctx, id)
	if err != nil {
		return dto.PaymentResponse{}, notFound(err, "payment", id)
	}
	return dto.NewPaymentResponse(payment), nil
}

func (s *paymentService) List(ctx context.Context, req dto.PaymentListRequest) (dto.PaymentListResponse, error) {
	filter := repository.PaymentFilter{
		Page:           req.Page,
		PageSize:       req.PageSize,
		GuardianID:     req.GuardianID,
		StatementRowID: req.StatementRowID,
		Type:           strings.TrimSpace(req.Type),
	}
	if req.StudentID != nil {
		filter.StudentIDs = []uint{*req.StudentID}
	}
	if err := applyPeriod(req.From, req.To, &filter.From, &filter.To); err != nil {
		return dto.PaymentListResponse{}, err
	}

	payments, total, err := s.deps.Payments.List(ctx, filter)
	if err != nil {
		return dto.PaymentListResponse{}, err
	}
	items := make([]dto.PaymentResponse, 0, len(payments))
	for _, payment := range payments {
		items = append(items, dto.NewPaymentResponse(payment))
	}
	return dto.PaymentListResponse{Items: items, Pagination: dto.NewPagination(req.Page, req.PageSize, total)}, nil
}

func paymentType(value string) string {
	if value = strings.TrimSpace(value); value == "" {
		return models.PaymentTypeMonthlyFee
	}
	return value
}

func paymentMethod(value string) string {
	if value = strings.ToLower(strings.TrimSpace(value)); value == "" {
		return models.PaymentMethodPIX
	}
	return value
}
