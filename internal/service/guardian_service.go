package service

import (
	"context"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/microcosm-cc/bluemonday"
	"github.com/rs/zerolog"

	"github.com/noah-isme/secretaria-go-api/internal/dto"
	"github.com/noah-isme/secretaria-go-api/internal/matching"
	"github.com/noah-isme/secretaria-go-api/internal/models"
	"github.com/noah-isme/secretaria-go-api/internal/repository"
)

// GuardianService manages the guardian registry. Every name write refreshes the cached
// normalized name used by reconciliation.
type GuardianService interface {
	Create(ctx context.Context, actor ActivityActor, req dto.GuardianCreateRequest) (dto.GuardianResponse, error)
	Get(ctx context.Context, id uint) (dto.GuardianResponse, error)
	List(ctx context.Context, req dto.GuardianListRequest) (dto.GuardianListResponse, error)
	Find(ctx context.Context, name string, limit int) (dto.GuardianFindResponse, error)
	Rename(ctx context.Context, actor ActivityActor, id uint, req dto.GuardianRenameRequest) (dto.GuardianResponse, error)
	UpdateContact(ctx context.Context, actor ActivityActor, id uint, req dto.GuardianContactRequest) (dto.GuardianResponse, error)
	UpdateTaxID(ctx context.Context, actor ActivityActor, id uint, req dto.GuardianTaxIDRequest) (dto.GuardianResponse, error)
}

type guardianService struct {
	guardians repository.GuardianRepository
	students  repository.StudentRepository
	validator *validator.Validate
	sanitizer *bluemonday.Policy
	activity  ActivityRecorder
	logger    zerolog.Logger
}

// NewGuardianService constructs the guardian registry service.
func NewGuardianService(guardians repository.GuardianRepository, students repository.StudentRepository, validate *validator.Validate, activity ActivityRecorder, logger zerolog.Logger) GuardianService {
	return &guardianService{
		guardians: guardians,
		students:  students,
		validator: validate,
		sanitizer: bluemonday.StrictPolicy(),
		activity:  activity,
		logger:    logger.With().Str("component", "guardian_service").Logger(),
	}
}

func (s *guardianService) Create(ctx context.Context, actor ActivityActor, req dto.GuardianCreateRequest) (dto.GuardianResponse, error) {
	req.Name = s.clean(req.Name)
	req.TaxID = strings.TrimSpace(req.TaxID)
	if err := s.validator.Struct(req); err != nil {
		return dto.GuardianResponse{}, err
	}
	if err := s.ensureTaxIDFree(ctx, req.TaxID, 0); err != nil {
		return dto.GuardianResponse{}, err
	}

	guardian := models.Guardian{
		Name:    req.Name,
		TaxID:   req.TaxID,
		Phone:   strings.TrimSpace(req.Phone),
		Email:   strings.ToLower(strings.TrimSpace(req.Email)),
		Address: s.clean(req.Address),
	}
	if err := s.guardians.Create(ctx, &guardian); err != nil {
		return dto.GuardianResponse{}, err
	}

	audit(ctx, s.activity, s.logger, actor, "guardian.created", "guardian", guardian.ID, map[string]interface{}{
		"name": guardian.Name,
	})
	return dto.NewGuardianResponse(guardian, nil), nil
}

func (s *guardianService) Get(ctx context.Context, id uint) (dto.GuardianResponse, error) {
	guardian, err := s.guardians.GetByID(ctx, id)
	if err != nil {
		return dto.GuardianResponse{}, notFound(err, "guardian", id)
	}
	links, err := s.students.LinksForGuardian(ctx, id)
	if err != nil {
		return dto.GuardianResponse{}, err
	}
	return dto.NewGuardianResponse(guardian, links), nil
}

func (s *guardianService) List(ctx context.Context, req dto.GuardianListRequest) (dto.GuardianListResponse, error) {
	filter := repository.GuardianFilter{
		Page:     req.Page,
		PageSize: req.PageSize,
		Search:   matching.Normalize(req.Search),
		TaxID:    strings.TrimSpace(req.TaxID),
	}
	guardians, total, err := s.guardians.List(ctx, filter)
	if err != nil {
		return dto.GuardianListResponse{}, err
	}

	items := make([]dto.GuardianResponse, 0, len(guardians))
	for _, guardian := range guardians {
		items = append(items, dto.NewGuardianResponse(guardian, nil))
	}
	return dto.GuardianListResponse{Items: items, Pagination: dto.NewPagination(req.Page, req.PageSize, total)}, nil
}

// Find ranks every guardian by similarity to name. When nothing scores above zero the
// closest registered names are returned as suggestions.
func (s *guardianService) Find(ctx context.Context, name string, limit int) (dto.GuardianFindResponse, error) {
	name = s.clean(name)
	normalized := matching.Normalize(name)
	if normalized == "" {
		return dto.GuardianFindResponse{}, validationf("name is required")
	}
	if limit <= 0 || limit > 20 {
		limit = 5
	}

	guardians, err := s.guardians.ListAll(ctx)
	if err != nil {
		return dto.GuardianFindResponse{}, err
	}
	byID := make(map[uint]models.Guardian, len(guardians))
	candidates := make([]matching.Candidate, 0, len(guardians))
	for _, guardian := range guardians {
		byID[guardian.ID] = guardian
		candidates = append(candidates, matching.Candidate{ID: guardian.ID, Name: guardian.Name, Normalized: guardian.NormalizedName})
	}

	response := dto.GuardianFindResponse{Query: name, Normalized: normalized, Matches: []dto.GuardianMatch{}}
	for _, score := range matching.Rank(normalized, candidates) {
		if len(response.Matches) == limit || score.Value <= 0 {
			break
		}
		response.Matches = append(response.Matches, dto.GuardianMatch{
			Guardian: dto.NewGuardianResponse(byID[score.Candidate.ID], nil),
			Score:    score.Value,
		})
	}
	if len(response.Matches) == 0 {
		response.Suggestions = matching.Suggest(normalized, candidates, limit)
	}
	return response, nil
}

func (s *guardianService) Rename(ctx context.Context, actor ActivityActor, id uint, req dto.GuardianRenameRequest) (dto.GuardianResponse, error) {
	req.Name = s.clean(req.Name)
	if err := s.validator.Struct(req); err != nil {
		return dto.GuardianResponse{}, err
	}

	guardian, err := s.guardians.Update(ctx, id, map[string]interface{}{
		"name":            req.Name,
		"normalized_name": matching.Normalize(req.Name),
	})
	if err != nil {
		return dto.GuardianResponse{}, notFound(err, "guardian", id)
	}

	audit(ctx, s.activity, s.logger, actor, "guardian.renamed", "guardian", id, map[string]interface{}{
		"name": guardian.Name,
	})
	return s.Get(ctx, guardian.ID)
}

func (s *guardianService) UpdateContact(ctx context.Context, actor ActivityActor, id uint, req dto.GuardianContactRequest) (dto.GuardianResponse, error) {
	if err := s.validator.Struct(req); err != nil {
		return dto.GuardianResponse{}, err
	}

	updates := map[string]interface{}{}
	if req.Phone != nil {
		updates["phone"] = strings.TrimSpace(*req.Phone)
	}
	if req.Email != nil {
		updates["email"] = strings.ToLower(strings.TrimSpace(*req.Email))
	}
	if req.Address != nil {
		updates["address"] = s.clean(*req.Address)
	}
	if len(updates) == 0 {
		return dto.GuardianResponse{}, validationf("no contact field provided")
	}

	if _, err := s.guardians.Update(ctx, id, updates); err != nil {
		return dto.GuardianResponse{}, notFound(err, "guardian", id)
	}

	audit(ctx, s.activity, s.logger, actor, "guardian.contact_updated", "guardian", id, map[string]interface{}{
		"fields": mapKeys(updates),
	})
	return s.Get(ctx, id)
}

func (s *guardianService) UpdateTaxID(ctx context.Context, actor ActivityActor, id uint, req dto.GuardianTaxIDRequest) (dto.GuardianResponse, error) {
	req.TaxID = strings.TrimSpace(req.TaxID)
	if err := s.validator.Struct(req); err != nil {
		return dto.GuardianResponse{}, err
	}
	if err := s.ensureTaxIDFree(ctx, req.TaxID, id); err != nil {
		return dto.GuardianResponse{}, err
	}

	if _, err := s.guardians.Update(ctx, id, map[string]interface{}{"tax_id": req.TaxID}); err != nil {
		return dto.GuardianResponse{}, notFound(err, "guardian", id)
	}

	audit(ctx, s.activity, s.logger, actor, "guardian.tax_id_updated", "guardian", id, nil)
	return s.Get(ctx, id)
}

func (s *guardianService) ensureTaxIDFree(ctx context.Context, taxID string, owner uint) error {
	if taxID == "" {
		return nil
	}
	existing, _, err := s.guardians.List(ctx, repository.GuardianFilter{TaxID: taxID})
	if err != nil {
		return err
	}
	for _, guardian := range existing {
		if guardian.ID != owner {
			return preconditionf("tax id already registered for guardian %d", guardian.ID)
		}
	}
	return nil
}

func (s *guardianService) clean(value string) string {
	return cleanText(s.sanitizer, value)
}
