package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/microcosm-cc/bluemonday"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/noah-isme/secretaria-go-api/internal/billing"
	"github.com/noah-isme/secretaria-go-api/internal/dto"
	"github.com/noah-isme/secretaria-go-api/internal/models"
	"github.com/noah-isme/secretaria-go-api/internal/observability"
	"github.com/noah-isme/secretaria-go-api/internal/repository"
)

const defaultChargePriority = 2

// ChargeService manages ad-hoc charges such as uniforms, events and graduation.
type ChargeService interface {
	Create(ctx context.Context, actor ActivityActor, req dto.ChargeCreateRequest) (dto.ChargeResponse, error)
	CreateInstallments(ctx context.Context, actor ActivityActor, req dto.InstallmentCreateRequest) (dto.InstallmentResponse, error)
	Get(ctx context.Context, id uint) (dto.ChargeResponse, error)
	List(ctx context.Context, req dto.ChargeListRequest) (dto.ChargeListResponse, error)
	Pay(ctx context.Context, actor ActivityActor, id uint, req dto.ChargePayRequest) (dto.ChargeResponse, error)
	Cancel(ctx context.Context, actor ActivityActor, id uint, req dto.ChargeCancelRequest) (dto.ChargeResponse, error)
}

type chargeService struct {
	charges   repository.ChargeRepository
	students  repository.StudentRepository
	validator *validator.Validate
	sanitizer *bluemonday.Policy
	activity  ActivityRecorder
	events    EventPublisher
	location  *time.Location
	logger    zerolog.Logger
	now       func() time.Time
	newGroup  func() string
}

// NewChargeService constructs the charge service.
func NewChargeService(charges repository.ChargeRepository, students repository.StudentRepository, validate *validator.Validate, activity ActivityRecorder, events EventPublisher, loc *time.Location, logger zerolog.Logger) ChargeService {
	if events == nil {
		events = NoopEventPublisher()
	}
	return &chargeService{
		charges:   charges,
		students:  students,
		validator: validate,
		sanitizer: bluemonday.StrictPolicy(),
		activity:  activity,
		events:    events,
		location:  loc,
		logger:    logger.With().Str("component", "charge_service").Logger(),
		now:       time.Now,
		newGroup:  uuid.NewString,
	}
}

func (s *chargeService) today() time.Time {
	return today(s.now, s.location)
}

func (s *chargeService) Create(ctx context.Context, actor ActivityActor, req dto.ChargeCreateRequest) (dto.ChargeResponse, error) {
	req.Title = cleanText(s.sanitizer, req.Title)
	req.Description = cleanText(s.sanitizer, req.Description)
	req.Notes = cleanText(s.sanitizer, req.Notes)
	if err := s.validator.Struct(req); err != nil {
		return dto.ChargeResponse{}, err
	}
	if !req.Amount.IsPositive() {
		return dto.ChargeResponse{}, validationf("amount must be greater than zero")
	}
	due, err := parseDate(req.DueDate)
	if err != nil {
		return dto.ChargeResponse{}, err
	}

	guardianID, err := s.chargeGuardian(ctx, req.StudentID, req.GuardianID)
	if err != nil {
		return dto.ChargeResponse{}, err
	}

	today := s.today()
	charge := models.Charge{
		StudentID:         req.StudentID,
		GuardianID:        guardianID,
		Title:             req.Title,
		Description:       req.Description,
		Type:              chargeType(req.Type),
		AmountDue:         req.Amount.Round(2),
		DueDate:           due,
		PaidAmount:        decimal.Zero,
		InstallmentNumber: 1,
		InstallmentTotal:  1,
		Priority:          chargePriority(req.Priority),
		Notes:             req.Notes,
	}
	charge.Status = string(charge.Receivable().Status(today))

	charges := []models.Charge{charge}
	if err := s.charges.CreateBatch(ctx, charges); err != nil {
		s.logger.Error().Err(err).Uint("student_id", req.StudentID).Msg("failed to create charge")
		return dto.ChargeResponse{}, err
	}
	created := charges[0]

	s.created(ctx, actor, created.ID, map[string]interface{}{
		"student_id": created.StudentID,
		"title":      created.Title,
		"amount":     created.AmountDue.StringFixed(2),
	})
	return dto.NewChargeResponse(created, today), nil
}

// CreateInstallments splits the total into monthly parts that add up exactly to it.
// Every part is written in one transaction and shares a generated group id.
func (s *chargeService) CreateInstallments(ctx context.Context, actor ActivityActor, req dto.InstallmentCreateRequest) (dto.InstallmentResponse, error) {
	req.Title = cleanText(s.sanitizer, req.Title)
	req.Description = cleanText(s.sanitizer, req.Description)
	req.Notes = cleanText(s.sanitizer, req.Notes)
	if err := s.validator.Struct(req); err != nil {
		return dto.InstallmentResponse{}, err
	}
	total := req.Total.Round(2)
	if !total.IsPositive() {
		return dto.InstallmentResponse{}, validationf("total must be greater than zero")
	}
	if total.LessThan(decimal.New(1, -2).Mul(decimal.NewFromInt(int64(req.Installments)))) {
		return dto.InstallmentResponse{}, validationf("total is too small for %d installments", req.Installments)
	}
	first, err := parseDate(req.FirstDueDate)
	if err != nil {
		return dto.InstallmentResponse{}, err
	}

	guardianID, err := s.chargeGuardian(ctx, req.StudentID, req.GuardianID)
	if err != nil {
		return dto.InstallmentResponse{}, err
	}

	today := s.today()
	group := s.newGroup()
	parts := billing.SplitInstallments(total, req.Installments, first)
	charges := make([]models.Charge, 0, len(parts))
	for _, part := range parts {
		charge := models.Charge{
			StudentID:         req.StudentID,
			GuardianID:        guardianID,
			Title:             req.Title,
			Description:       req.Description,
			Type:              chargeType(req.Type),
			AmountDue:         part.Amount,
			DueDate:           part.DueDate,
			PaidAmount:        decimal.Zero,
			GroupID:           group,
			InstallmentNumber: part.Number,
			InstallmentTotal:  part.Total,
			Priority:          chargePriority(req.Priority),
			Notes:             req.Notes,
		}
		charge.Status = string(charge.Receivable().Status(today))
		charges = append(charges, charge)
	}

	if err := s.charges.CreateBatch(ctx, charges); err != nil {
		s.logger.Error().Err(err).Uint("student_id", req.StudentID).Msg("failed to create installments")
		return dto.InstallmentResponse{}, err
	}

	response := dto.InstallmentResponse{GroupID: group, Total: total, Charges: make([]dto.ChargeResponse, 0, len(charges))}
	for _, charge := range charges {
		response.Charges = append(response.Charges, dto.NewChargeResponse(charge, today))
	}

	s.created(ctx, actor, charges[0].ID, map[string]interface{}{
		"student_id":   req.StudentID,
		"title":        req.Title,
		"group_id":     group,
		"installments": len(charges),
		"total":        total.StringFixed(2),
	})
	return response, nil
}

func (s *chargeService) created(ctx context.Context, actor ActivityActor, id uint, metadata map[string]interface{}) {
	audit(ctx, s.activity, s.logger, actor, "charge.created", "charge", id, metadata)
	s.events.Publish(ctx, Event{Type: EventChargeCreated, EntityType: "charge", EntityID: id, Data: metadata})
}

// chargeGuardian defaults to the student's financial guardian.
func (s *chargeService) chargeGuardian(ctx context.Context, studentID uint, requested *uint) (*uint, error) {
	student, err := s.students.GetByID(ctx, studentID)
	if err != nil {
		return nil, notFound(err, "student", studentID)
	}
	if requested != nil {
		if !hasGuardian(student.Links, *requested) {
			return nil, validationf("guardian %d is not linked to student %d", *requested, studentID)
		}
		return requested, nil
	}
	return financialGuardian(student.Links)
}

func (s *chargeService) Get(ctx context.Context, id uint) (dto.ChargeResponse, error) {
	charge, err := s.charges.GetByID(ctx, id)
	if err != nil {
		return dto.ChargeResponse{}, notFound(err, "charge", id)
	}
	return dto.NewChargeResponse(charge, s.today()), nil
}

// List returns charges with derived statuses and statistics over the returned items.
func (s *chargeService) List(ctx context.Context, req dto.ChargeListRequest) (dto.ChargeListResponse, error) {
	if req.StudentID == nil && req.GuardianID == nil && req.GroupID == "" {
		return dto.ChargeListResponse{}, validationf("filter by student, guardian or group")
	}
	charges, err := s.charges.List(ctx, repository.ChargeFilter{
		StudentID:        req.StudentID,
		GuardianID:       req.GuardianID,
		GroupID:          req.GroupID,
		IncludePaid:      req.IncludePaid,
		IncludeCancelled: req.IncludeCancelled,
	})
	if err != nil {
		return dto.ChargeListResponse{}, err
	}

	today := s.today()
	response := dto.ChargeListResponse{
		Items: make([]dto.ChargeResponse, 0, len(charges)),
		Stats: dto.ChargeStats{AmountOpen: decimal.Zero, AmountPaid: decimal.Zero},
	}
	for _, charge := range charges {
		item := dto.NewChargeResponse(charge, today)
		response.Items = append(response.Items, item)

		response.Stats.Total++
		response.Stats.AmountPaid = response.Stats.AmountPaid.Add(charge.PaidAmount)
		switch billing.Status(item.Status) {
		case billing.StatusPaid:
			response.Stats.Paid++
		case billing.StatusOverdue:
			response.Stats.Overdue++
			fallthrough
		case billing.StatusUpcoming, billing.StatusPartiallyPaid:
			response.Stats.Open++
			response.Stats.AmountOpen = response.Stats.AmountOpen.Add(item.Remaining)
			if response.Stats.HighestOpen == 0 || charge.Priority < response.Stats.HighestOpen {
				response.Stats.HighestOpen = charge.Priority
			}
		}
	}
	return response, nil
}

// Pay posts money to a charge. Anything above the remaining amount is refused.
func (s *chargeService) Pay(ctx context.Context, actor ActivityActor, id uint, req dto.ChargePayRequest) (dto.ChargeResponse, error) {
	if err := s.validator.Struct(req); err != nil {
		return dto.ChargeResponse{}, err
	}
	if !req.Amount.IsPositive() {
		return dto.ChargeResponse{}, validationf("amount must be greater than zero")
	}
	paidAt, err := parseDate(req.PaymentDate)
	if err != nil {
		return dto.ChargeResponse{}, err
	}

	charge, err := s.charges.GetByID(ctx, id)
	if err != nil {
		return dto.ChargeResponse{}, notFound(err, "charge", id)
	}

	today := s.today()
	receivable := charge.Receivable()
	if remaining := receivable.Remaining(); req.Amount.Round(2).GreaterThan(remaining.Add(billing.Tolerance)) {
		return dto.ChargeResponse{}, validationf("amount %s exceeds the remaining %s", req.Amount.StringFixed(2), remaining.StringFixed(2))
	}
	applied, _, err := receivable.ApplyPayment(req.Amount.Round(2), paidAt, paymentMethod(req.Method), today)
	switch {
	case errors.Is(err, billing.ErrTerminalState):
		return dto.ChargeResponse{}, fmt.Errorf("%w: charge %d is %s", ErrPrecondition, id, receivable.Status(today))
	case err != nil:
		return dto.ChargeResponse{}, err
	}
	charge.Apply(receivable, today)

	if err := s.charges.Save(ctx, &charge); err != nil {
		return dto.ChargeResponse{}, conflict(err, fmt.Sprintf("charge %d changed concurrently", id))
	}

	observability.PaymentsRegistered().WithLabelValues(charge.Type, "charge").Inc()
	metadata := map[string]interface{}{
		"amount": applied.StringFixed(2),
		"status": charge.Status,
	}
	audit(ctx, s.activity, s.logger, actor, "charge.paid", "charge", id, metadata)
	s.events.Publish(ctx, Event{Type: EventChargePaid, EntityType: "charge", EntityID: id, Data: metadata})
	return dto.NewChargeResponse(charge, today), nil
}

func (s *chargeService) Cancel(ctx context.Context, actor ActivityActor, id uint, req dto.ChargeCancelRequest) (dto.ChargeResponse, error) {
	req.Reason = cleanText(s.sanitizer, req.Reason)
	if err := s.validator.Struct(req); err != nil {
		return dto.ChargeResponse{}, err
	}

	charge, err := s.charges.GetByID(ctx, id)
	if err != nil {
		return dto.ChargeResponse{}, notFound(err, "charge", id)
	}

	today := s.today()
	receivable := charge.Receivable()
	if err := receivable.Cancel(actor.Label(), req.Reason, s.now(), today); err != nil {
		return dto.ChargeResponse{}, fmt.Errorf("%w: charge %d is %s", ErrPrecondition, id, receivable.Status(today))
	}
	charge.Apply(receivable, today)

	if err := s.charges.Save(ctx, &charge); err != nil {
		return dto.ChargeResponse{}, conflict(err, fmt.Sprintf("charge %d changed concurrently", id))
	}

	metadata := map[string]interface{}{"reason": req.Reason}
	audit(ctx, s.activity, s.logger, actor, "charge.cancelled", "charge", id, metadata)
	s.events.Publish(ctx, Event{Type: EventChargeCancelled, EntityType: "charge", EntityID: id, Data: metadata})
	return dto.NewChargeResponse(charge, today), nil
}

func chargeType(value string) string {
	if value == "" {
		return models.ChargeTypeOther
	}
	return value
}

func chargePriority(value int) int {
	if value == 0 {
		return defaultChargePriority
	}
	return value
}
