package service

import (
	"context"
	"errors"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/microcosm-cc/bluemonday"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/noah-isme/secretaria-go-api/internal/dto"
	"github.com/noah-isme/secretaria-go-api/internal/models"
	"github.com/noah-isme/secretaria-go-api/internal/repository"
)

// StudentService manages students, classes and guardian links.
type StudentService interface {
	Create(ctx context.Context, actor ActivityActor, req dto.StudentCreateRequest) (dto.StudentResponse, error)
	Get(ctx context.Context, id uint) (dto.StudentResponse, error)
	List(ctx context.Context, req dto.StudentListRequest) (dto.StudentListResponse, error)
	UpdateProfile(ctx context.Context, actor ActivityActor, id uint, req dto.StudentProfileRequest) (dto.StudentResponse, error)
	UpdateBilling(ctx context.Context, actor ActivityActor, id uint, req dto.StudentBillingRequest) (dto.StudentResponse, error)

	LinkGuardian(ctx context.Context, actor ActivityActor, studentID uint, req dto.GuardianLinkRequest) (dto.StudentResponse, error)
	UpdateLink(ctx context.Context, actor ActivityActor, studentID, guardianID uint, req dto.GuardianLinkUpdateRequest) (dto.StudentResponse, error)
	UnlinkGuardian(ctx context.Context, actor ActivityActor, studentID, guardianID uint) (dto.StudentResponse, error)

	CreateClass(ctx context.Context, actor ActivityActor, req dto.ClassCreateRequest) (models.Class, error)
	ListClasses(ctx context.Context) ([]models.Class, error)
}

type studentService struct {
	students  repository.StudentRepository
	guardians repository.GuardianRepository
	validator *validator.Validate
	sanitizer *bluemonday.Policy
	activity  ActivityRecorder
	logger    zerolog.Logger
}

// NewStudentService constructs the student registry service.
func NewStudentService(students repository.StudentRepository, guardians repository.GuardianRepository, validate *validator.Validate, activity ActivityRecorder, logger zerolog.Logger) StudentService {
	return &studentService{
		students:  students,
		guardians: guardians,
		validator: validate,
		sanitizer: bluemonday.StrictPolicy(),
		activity:  activity,
		logger:    logger.With().Str("component", "student_service").Logger(),
	}
}

func (s *studentService) Create(ctx context.Context, actor ActivityActor, req dto.StudentCreateRequest) (dto.StudentResponse, error) {
	req.Name = cleanText(s.sanitizer, req.Name)
	if err := s.validator.Struct(req); err != nil {
		return dto.StudentResponse{}, err
	}

	enrollment, err := parseOptionalDate(req.EnrollmentDate)
	if err != nil {
		return dto.StudentResponse{}, err
	}
	if err := validateMonthlyFee(req.MonthlyFee); err != nil {
		return dto.StudentResponse{}, err
	}
	for _, link := range req.Guardians {
		if _, err := s.guardians.GetByID(ctx, link.GuardianID); err != nil {
			return dto.StudentResponse{}, notFound(err, "guardian", link.GuardianID)
		}
	}

	student := models.Student{
		Name:           req.Name,
		ClassID:        req.ClassID,
		EnrollmentDate: enrollment,
		DueDay:         req.DueDay,
		Status:         models.StudentStatusActive,
		Notes:          cleanText(s.sanitizer, req.Notes),
	}
	if req.MonthlyFee != nil {
		student.MonthlyFee = decimal.NewNullDecimal(req.MonthlyFee.Round(2))
	}
	if err := s.students.Create(ctx, &student); err != nil {
		return dto.StudentResponse{}, err
	}

	for _, link := range req.Guardians {
		model := models.GuardianLink{
			GuardianID:           link.GuardianID,
			StudentID:            student.ID,
			Relation:             strings.TrimSpace(link.Relation),
			FinancialResponsible: link.FinancialResponsible,
		}
		if err := s.students.Link(ctx, &model); err != nil {
			s.logger.Error().Err(err).Uint("student_id", student.ID).Uint("guardian_id", link.GuardianID).Msg("failed to link guardian")
			return dto.StudentResponse{}, err
		}
	}

	audit(ctx, s.activity, s.logger, actor, "student.created", "student", student.ID, map[string]interface{}{
		"name":      student.Name,
		"guardians": len(req.Guardians),
	})
	return s.Get(ctx, student.ID)
}

func (s *studentService) Get(ctx context.Context, id uint) (dto.StudentResponse, error) {
	student, err := s.students.GetByID(ctx, id)
	if err != nil {
		return dto.StudentResponse{}, notFound(err, "student", id)
	}
	return dto.NewStudentResponse(student), nil
}

func (s *studentService) List(ctx context.Context, req dto.StudentListRequest) (dto.StudentListResponse, error) {
	students, total, err := s.students.List(ctx, repository.StudentFilter{
		Page:       req.Page,
		PageSize:   req.PageSize,
		Search:     strings.TrimSpace(req.Search),
		ClassIDs:   req.ClassIDs,
		ClassNames: req.ClassNames,
		Status:     strings.TrimSpace(req.Status),
	})
	if err != nil {
		return dto.StudentListResponse{}, err
	}

	items := make([]dto.StudentResponse, 0, len(students))
	for _, student := range students {
		items = append(items, dto.NewStudentResponse(student))
	}
	return dto.StudentListResponse{Items: items, Pagination: dto.NewPagination(req.Page, req.PageSize, total)}, nil
}

func (s *studentService) UpdateProfile(ctx context.Context, actor ActivityActor, id uint, req dto.StudentProfileRequest) (dto.StudentResponse, error) {
	if err := s.validator.Struct(req); err != nil {
		return dto.StudentResponse{}, err
	}

	updates := map[string]interface{}{}
	if req.Name != nil {
		name := cleanText(s.sanitizer, *req.Name)
		if len([]rune(name)) < 2 {
			return dto.StudentResponse{}, validationf("name is too short")
		}
		updates["name"] = name
	}
	if req.ClassID != nil {
		updates["class_id"] = *req.ClassID
	}
	if req.Status != nil {
		updates["status"] = *req.Status
	}
	if req.Notes != nil {
		updates["notes"] = cleanText(s.sanitizer, *req.Notes)
	}
	if len(updates) == 0 {
		return dto.StudentResponse{}, validationf("no profile field provided")
	}

	student, err := s.students.Update(ctx, id, updates)
	if err != nil {
		return dto.StudentResponse{}, notFound(err, "student", id)
	}

	audit(ctx, s.activity, s.logger, actor, "student.profile_updated", "student", id, map[string]interface{}{
		"fields": mapKeys(updates),
	})
	return dto.NewStudentResponse(student), nil
}

// UpdateBilling changes the terms the fee generator reads. Fees already generated
// keep their amounts and due dates.
func (s *studentService) UpdateBilling(ctx context.Context, actor ActivityActor, id uint, req dto.StudentBillingRequest) (dto.StudentResponse, error) {
	if err := s.validator.Struct(req); err != nil {
		return dto.StudentResponse{}, err
	}
	if err := validateMonthlyFee(req.MonthlyFee); err != nil {
		return dto.StudentResponse{}, err
	}

	updates := map[string]interface{}{}
	if req.EnrollmentDate != nil {
		enrollment, err := parseOptionalDate(*req.EnrollmentDate)
		if err != nil {
			return dto.StudentResponse{}, err
		}
		updates["enrollment_date"] = enrollment
	}
	if req.MonthlyFee != nil {
		updates["monthly_fee"] = decimal.NewNullDecimal(req.MonthlyFee.Round(2))
	}
	if req.DueDay != nil {
		updates["due_day"] = *req.DueDay
	}
	if len(updates) == 0 {
		return dto.StudentResponse{}, validationf("no billing field provided")
	}

	student, err := s.students.Update(ctx, id, updates)
	if err != nil {
		return dto.StudentResponse{}, notFound(err, "student", id)
	}

	metadata := map[string]interface{}{"fields": mapKeys(updates)}
	if student.FeesGenerated {
		metadata["fees_generated"] = true
	}
	audit(ctx, s.activity, s.logger, actor, "student.billing_updated", "student", id, metadata)
	return dto.NewStudentResponse(student), nil
}

func (s *studentService) LinkGuardian(ctx context.Context, actor ActivityActor, studentID uint, req dto.GuardianLinkRequest) (dto.StudentResponse, error) {
	if err := s.validator.Struct(req); err != nil {
		return dto.StudentResponse{}, err
	}
	if _, err := s.students.GetByID(ctx, studentID); err != nil {
		return dto.StudentResponse{}, notFound(err, "student", studentID)
	}
	if _, err := s.guardians.GetByID(ctx, req.GuardianID); err != nil {
		return dto.StudentResponse{}, notFound(err, "guardian", req.GuardianID)
	}

	links, err := s.students.LinksForStudent(ctx, studentID)
	if err != nil {
		return dto.StudentResponse{}, err
	}
	for _, link := range links {
		if link.GuardianID == req.GuardianID {
			return dto.StudentResponse{}, preconditionf("guardian %d is already linked to student %d", req.GuardianID, studentID)
		}
	}

	link := models.GuardianLink{
		GuardianID:           req.GuardianID,
		StudentID:            studentID,
		Relation:             strings.TrimSpace(req.Relation),
		FinancialResponsible: req.FinancialResponsible,
	}
	if err := s.students.Link(ctx, &link); err != nil {
		return dto.StudentResponse{}, err
	}

	audit(ctx, s.activity, s.logger, actor, "student.guardian_linked", "student", studentID, map[string]interface{}{
		"guardian_id":           req.GuardianID,
		"financial_responsible": req.FinancialResponsible,
	})
	return s.Get(ctx, studentID)
}

func (s *studentService) UpdateLink(ctx context.Context, actor ActivityActor, studentID, guardianID uint, req dto.GuardianLinkUpdateRequest) (dto.StudentResponse, error) {
	if err := s.validator.Struct(req); err != nil {
		return dto.StudentResponse{}, err
	}

	updates := map[string]interface{}{}
	if req.Relation != nil {
		updates["relation"] = strings.TrimSpace(*req.Relation)
	}
	if req.FinancialResponsible != nil {
		updates["financial_responsible"] = *req.FinancialResponsible
	}
	if len(updates) == 0 {
		return dto.StudentResponse{}, validationf("no link field provided")
	}

	if _, err := s.students.UpdateLink(ctx, guardianID, studentID, updates); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return dto.StudentResponse{}, notFound(err, "guardian link", guardianID)
		}
		return dto.StudentResponse{}, err
	}

	audit(ctx, s.activity, s.logger, actor, "student.guardian_link_updated", "student", studentID, map[string]interface{}{
		"guardian_id": guardianID,
		"fields":      mapKeys(updates),
	})
	return s.Get(ctx, studentID)
}

func (s *studentService) UnlinkGuardian(ctx context.Context, actor ActivityActor, studentID, guardianID uint) (dto.StudentResponse, error) {
	if err := s.students.Unlink(ctx, guardianID, studentID); err != nil {
		return dto.StudentResponse{}, notFound(err, "guardian link", guardianID)
	}

	audit(ctx, s.activity, s.logger, actor, "student.guardian_unlinked", "student", studentID, map[string]interface{}{
		"guardian_id": guardianID,
	})
	return s.Get(ctx, studentID)
}

func (s *studentService) CreateClass(ctx context.Context, actor ActivityActor, req dto.ClassCreateRequest) (models.Class, error) {
	req.Name = cleanText(s.sanitizer, req.Name)
	if err := s.validator.Struct(req); err != nil {
		return models.Class{}, err
	}

	existing, err := s.students.ListClasses(ctx)
	if err != nil {
		return models.Class{}, err
	}
	for _, class := range existing {
		if strings.EqualFold(class.Name, req.Name) {
			return models.Class{}, preconditionf("class %q already exists", class.Name)
		}
	}

	class := models.Class{Name: req.Name}
	if err := s.students.CreateClass(ctx, &class); err != nil {
		return models.Class{}, err
	}
	audit(ctx, s.activity, s.logger, actor, "class.created", "class", class.ID, map[string]interface{}{"name": class.Name})
	return class, nil
}

func (s *studentService) ListClasses(ctx context.Context) ([]models.Class, error) {
	return s.students.ListClasses(ctx)
}

// financialGuardian picks the guardian fees are billed to: the only link flagged as
// financially responsible. Several flagged links need a human decision.
func financialGuardian(links []models.GuardianLink) (*uint, error) {
	var flagged []models.GuardianLink
	for _, link := range links {
		if link.FinancialResponsible {
			flagged = append(flagged, link)
		}
	}

	switch len(flagged) {
	case 0:
		return nil, nil
	case 1:
		return uintPtr(flagged[0].GuardianID), nil
	default:
		candidates := make([]interface{}, 0, len(flagged))
		for _, link := range flagged {
			entry := map[string]interface{}{"guardian_id": link.GuardianID}
			if link.Guardian != nil {
				entry["name"] = link.Guardian.Name
			}
			candidates = append(candidates, entry)
		}
		return nil, &ReviewRequired{Reason: "several guardians are financially responsible", Candidates: candidates}
	}
}

func validateMonthlyFee(fee *decimal.Decimal) error {
	if fee != nil && !fee.IsPositive() {
		return validationf("monthly fee must be greater than zero")
	}
	return nil
}

func mapKeys(values map[string]interface{}) []string {
	keys := make([]string, 0, len(values))
	for key := range values {
		keys = append(keys, key)
	}
	return keys
}
