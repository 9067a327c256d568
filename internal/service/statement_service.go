package service

import (
	"context"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/microcosm-cc/bluemonday"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/noah-isme/secretaria-go-api/internal/dto"
	"github.com/noah-isme/secretaria-go-api/internal/matching"
	"github.com/noah-isme/secretaria-go-api/internal/models"
	"github.com/noah-isme/secretaria-go-api/internal/observability"
	"github.com/noah-isme/secretaria-go-api/internal/repository"
)

// StatementService imports pre-parsed PIX statement rows and answers queries about them.
type StatementService interface {
	Import(ctx context.Context, actor ActivityActor, req dto.StatementImportRequest) (dto.StatementImportResponse, error)
	Get(ctx context.Context, id uint) (dto.StatementRowResponse, error)
	List(ctx context.Context, req dto.StatementListRequest) (dto.StatementListResponse, error)
	Stats(ctx context.Context, from, to string) (dto.StatementStatsResponse, error)
}

type statementService struct {
	rows      repository.StatementRepository
	validator *validator.Validate
	sanitizer *bluemonday.Policy
	activity  ActivityRecorder
	events    EventPublisher
	limit     int
	logger    zerolog.Logger
}

// NewStatementService constructs the statement service. limit caps the rows accepted per import.
func NewStatementService(rows repository.StatementRepository, validate *validator.Validate, activity ActivityRecorder, events EventPublisher, limit int, logger zerolog.Logger) StatementService {
	if events == nil {
		events = NoopEventPublisher()
	}
	return &statementService{
		rows:      rows,
		validator: validate,
		sanitizer: bluemonday.StrictPolicy(),
		activity:  activity,
		events:    events,
		limit:     limit,
		logger:    logger.With().Str("component", "statement_service").Logger(),
	}
}

// Import stores every valid row once. Rows whose external id already exists, in the
// store or earlier in the same batch, are reported as duplicates and left untouched.
func (s *statementService) Import(ctx context.Context, actor ActivityActor, req dto.StatementImportRequest) (dto.StatementImportResponse, error) {
	if err := s.validator.Struct(req); err != nil {
		return dto.StatementImportResponse{}, err
	}
	if s.limit > 0 && len(req.Rows) > s.limit {
		return dto.StatementImportResponse{}, validationf("import accepts at most %d rows", s.limit)
	}

	response := dto.StatementImportResponse{Items: make([]dto.ItemOutcome, 0, len(req.Rows))}
	seen := make(map[string]struct{}, len(req.Rows))

	for index, item := range req.Rows {
		if err := ctx.Err(); err != nil {
			s.logger.Warn().Int("processed", index).Msg("statement import interrupted")
			return response, err
		}

		key := strings.TrimSpace(item.ExternalID)
		outcome := dto.ItemOutcome{Index: index, Key: key}

		row, reason := s.buildRow(item)
		switch {
		case reason != "":
			outcome.Outcome = dto.OutcomeInvalid
			outcome.Reason = reason
			response.Invalid++
		default:
			if _, dup := seen[key]; dup {
				outcome.Outcome = dto.OutcomeDuplicate
				response.Duplicates++
				break
			}
			seen[key] = struct{}{}

			inserted, err := s.rows.Insert(ctx, &row)
			if err != nil {
				s.logger.Error().Err(err).Str("external_id", key).Msg("failed to store statement row")
				return response, err
			}
			if !inserted {
				outcome.Outcome = dto.OutcomeDuplicate
				response.Duplicates++
				break
			}
			outcome.Outcome = dto.OutcomeCreated
			outcome.ID = uintPtr(row.ID)
			response.Created++
		}

		observability.StatementRows().WithLabelValues(outcome.Outcome).Inc()
		response.Items = append(response.Items, outcome)
	}

	s.logger.Info().
		Int("created", response.Created).
		Int("duplicates", response.Duplicates).
		Int("invalid", response.Invalid).
		Msg("statement import finished")

	if response.Created > 0 {
		metadata := map[string]interface{}{
			"created":    response.Created,
			"duplicates": response.Duplicates,
			"invalid":    response.Invalid,
		}
		audit(ctx, s.activity, s.logger, actor, "statement.imported", "statement", 0, metadata)
		s.events.Publish(ctx, Event{Type: EventStatementImported, EntityType: "statement", Data: metadata})
	}

	return response, nil
}

func (s *statementService) buildRow(item dto.StatementImportItem) (models.StatementRow, string) {
	if err := s.validator.Struct(item); err != nil {
		return models.StatementRow{}, err.Error()
	}
	payer := cleanText(s.sanitizer, item.PayerName)
	if payer == "" {
		return models.StatementRow{}, "payer name is empty"
	}
	if !item.Amount.IsPositive() {
		return models.StatementRow{}, "amount must be greater than zero"
	}
	date, err := parseDate(item.PaymentDate)
	if err != nil {
		return models.StatementRow{}, err.Error()
	}

	return models.StatementRow{
		ExternalID:          strings.TrimSpace(item.ExternalID),
		PayerName:           payer,
		PayerNameNormalized: matching.Normalize(payer),
		Amount:              item.Amount.Round(2),
		PaymentDate:         date,
		PaymentKey:          strings.TrimSpace(item.PaymentKey),
		Status:              models.StatementStatusNew,
		Notes:               cleanText(s.sanitizer, item.Notes),
	}, ""
}

func (s *statementService) Get(ctx context.Context, id uint) (dto.StatementRowResponse, error) {
	row, err := s.rows.GetByID(ctx, id)
	if err != nil {
		return dto.StatementRowResponse{}, notFound(err, "statement row", id)
	}
	return dto.NewStatementRowResponse(row), nil
}

func (s *statementService) List(ctx context.Context, req dto.StatementListRequest) (dto.StatementListResponse, error) {
	filter := repository.StatementFilter{
		Page:       req.Page,
		PageSize:   req.PageSize,
		Status:     strings.TrimSpace(req.Status),
		Linked:     req.Linked,
		GuardianID: req.GuardianID,
	}
	if filter.Status != "" && filter.Status != models.StatementStatusNew && filter.Status != models.StatementStatusRegistered {
		return dto.StatementListResponse{}, validationf("unknown statement status %q", filter.Status)
	}
	if err := applyPeriod(req.From, req.To, &filter.From, &filter.To); err != nil {
		return dto.StatementListResponse{}, err
	}

	rows, total, err := s.rows.List(ctx, filter)
	if err != nil {
		return dto.StatementListResponse{}, err
	}

	items := make([]dto.StatementRowResponse, 0, len(rows))
	for _, row := range rows {
		items = append(items, dto.NewStatementRowResponse(row))
	}
	return dto.StatementListResponse{Items: items, Pagination: dto.NewPagination(req.Page, req.PageSize, total)}, nil
}

func (s *statementService) Stats(ctx context.Context, from, to string) (dto.StatementStatsResponse, error) {
	filter := repository.StatementFilter{}
	if err := applyPeriod(from, to, &filter.From, &filter.To); err != nil {
		return dto.StatementStatsResponse{}, err
	}

	rows, _, err := s.rows.List(ctx, filter)
	if err != nil {
		return dto.StatementStatsResponse{}, err
	}

	stats := dto.StatementStatsResponse{
		AmountTotal:    decimal.Zero,
		AmountLinked:   decimal.Zero,
		AmountUnlinked: decimal.Zero,
	}
	for _, row := range rows {
		stats.Total++
		stats.AmountTotal = stats.AmountTotal.Add(row.Amount)
		if row.Status == models.StatementStatusRegistered {
			stats.Registered++
		} else {
			stats.New++
		}
		if row.Linked() {
			stats.Linked++
			stats.AmountLinked = stats.AmountLinked.Add(row.Amount)
		} else {
			stats.Unlinked++
			stats.AmountUnlinked = stats.AmountUnlinked.Add(row.Amount)
		}
	}
	return stats, nil
}
