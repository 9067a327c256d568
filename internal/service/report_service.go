package service

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/go-playground/validator/v10"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"
	"golang.org/x/text/collate"
	"golang.org/x/text/language"

	"github.com/noah-isme/secretaria-go-api/internal/billing"
	"github.com/noah-isme/secretaria-go-api/internal/dto"
	"github.com/noah-isme/secretaria-go-api/internal/models"
	"github.com/noah-isme/secretaria-go-api/internal/observability"
	"github.com/noah-isme/secretaria-go-api/internal/repository"
)

const (
	reportCachePrefix = "report:financial:"
	summarySheet      = "Resumo"
	feesSheet         = "Mensalidades"
)

// ErrArchiveDisabled is returned when no document storage is configured.
var ErrArchiveDisabled = fmt.Errorf("%w: report archive is not configured", ErrPrecondition)

// FileUploader stores a rendered document and returns where it can be fetched.
type FileUploader interface {
	Upload(ctx context.Context, name string, reader io.Reader) (string, error)
}

// ReportService assembles the financial report consumed by document renderers.
type ReportService interface {
	FinancialReport(ctx context.Context, req dto.FinancialReportRequest) (dto.FinancialReport, error)
	ExportXLSX(ctx context.Context, req dto.FinancialReportRequest) (dto.ReportFile, error)
	Archive(ctx context.Context, actor ActivityActor, req dto.FinancialReportRequest) (dto.ReportArchiveResponse, error)
}

// ReportDeps groups the repositories a report reads.
type ReportDeps struct {
	Students repository.StudentRepository
	Fees     repository.FeeRepository
	Payments repository.PaymentRepository
}

type reportService struct {
	deps      ReportDeps
	validator *validator.Validate
	cache     *redis.Client
	cacheTTL  time.Duration
	uploader  FileUploader
	activity  ActivityRecorder
	location  *time.Location
	logger    zerolog.Logger
	now       func() time.Time
}

// NewReportService builds the report service. cache and uploader are optional.
func NewReportService(deps ReportDeps, validate *validator.Validate, cache *redis.Client, ttl time.Duration, uploader FileUploader, activity ActivityRecorder, loc *time.Location, logger zerolog.Logger) ReportService {
	return &reportService{
		deps:      deps,
		validator: validate,
		cache:     cache,
		cacheTTL:  ttl,
		uploader:  uploader,
		activity:  activity,
		location:  loc,
		logger:    logger.With().Str("component", "report_service").Logger(),
		now:       time.Now,
	}
}

// FinancialReport lists the selected students alphabetically with their guardians and
// their fees split into overdue, upcoming, paid and cancelled sections. Reports are
// cached per filter, per reference day and per cache generation, which every finance
// event moves forward.
func (s *reportService) FinancialReport(ctx context.Context, req dto.FinancialReportRequest) (dto.FinancialReport, error) {
	if err := s.validator.Struct(req); err != nil {
		return dto.FinancialReport{}, err
	}

	today := today(s.now, s.location)
	cacheKey := reportCacheKey(req, today, s.cacheGeneration(ctx))

	if s.cache != nil {
		if cached, err := s.cache.Get(ctx, cacheKey).Result(); err == nil {
			var report dto.FinancialReport
			if unmarshalErr := json.Unmarshal([]byte(cached), &report); unmarshalErr == nil {
				observability.ReportCache().WithLabelValues("hit").Inc()
				s.logger.Debug().Str("key", cacheKey).Msg("report cache hit")
				return report, nil
			}
		} else if !errors.Is(err, redis.Nil) {
			observability.ReportCache().WithLabelValues("error").Inc()
			s.logger.Warn().Err(err).Msg("failed to read report cache")
		}
		observability.ReportCache().WithLabelValues("miss").Inc()
	}

	report, err := s.build(ctx, req, today)
	if err != nil {
		return dto.FinancialReport{}, err
	}

	if s.cache != nil {
		payload, err := json.Marshal(report)
		if err == nil {
			if err := s.cache.Set(ctx, cacheKey, payload, s.cacheTTL).Err(); err != nil {
				s.logger.Warn().Err(err).Msg("failed to store report cache")
			}
		}
	}

	return report, nil
}

func (s *reportService) build(ctx context.Context, req dto.FinancialReportRequest, today time.Time) (dto.FinancialReport, error) {
	report := dto.FinancialReport{
		GeneratedAt: s.now().UTC(),
		ReferenceOn: today.Format(dto.DateLayout),
		Filter:      req,
		Students:    []dto.StudentReport{},
		Totals:      dto.ReportTotals{Outstanding: decimal.Zero, Paid: decimal.Zero},
	}

	filter := repository.FeeFilter{IncludeCancelled: true}
	if err := applyPeriod(req.From, req.To, &filter.From, &filter.To); err != nil {
		return dto.FinancialReport{}, err
	}

	students, _, err := s.deps.Students.List(ctx, repository.StudentFilter{ClassIDs: req.ClassIDs, ClassNames: req.ClassNames})
	if err != nil {
		return dto.FinancialReport{}, err
	}

	bucketTotals := map[string]*dto.BucketTotal{}
	for _, bucket := range dto.ReportBuckets {
		bucketTotals[bucket] = &dto.BucketTotal{Bucket: bucket, Amount: decimal.Zero}
	}
	finish := func() dto.FinancialReport {
		report.Totals.Buckets = make([]dto.BucketTotal, 0, len(dto.ReportBuckets))
		for _, bucket := range dto.ReportBuckets {
			report.Totals.Buckets = append(report.Totals.Buckets, *bucketTotals[bucket])
		}
		return report
	}

	if len(students) == 0 {
		return finish(), nil
	}

	sortStudents(students)
	for _, student := range students {
		filter.StudentIDs = append(filter.StudentIDs, student.ID)
	}
	fees, _, err := s.deps.Fees.List(ctx, filter)
	if err != nil {
		return dto.FinancialReport{}, err
	}

	wanted := map[string]bool{}
	for _, status := range req.Statuses {
		wanted[status] = true
	}
	feesByStudent := map[uint][]models.Fee{}
	for _, fee := range fees {
		if len(wanted) > 0 && !wanted[string(fee.CurrentStatus(today))] {
			continue
		}
		feesByStudent[fee.StudentID] = append(feesByStudent[fee.StudentID], fee)
	}

	paymentsByStudent := map[uint][]dto.PaymentResponse{}
	if req.IncludePayments {
		payments, _, err := s.deps.Payments.List(ctx, repository.PaymentFilter{StudentIDs: filter.StudentIDs, From: filter.From, To: filter.To})
		if err != nil {
			return dto.FinancialReport{}, err
		}
		for _, payment := range payments {
			paymentsByStudent[payment.StudentID] = append(paymentsByStudent[payment.StudentID], dto.NewPaymentResponse(payment))
		}
	}

	for _, student := range students {
		studentFees := feesByStudent[student.ID]
		if len(wanted) > 0 && len(studentFees) == 0 {
			continue
		}

		entry := dto.StudentReport{
			StudentID:   student.ID,
			Name:        student.Name,
			ClassName:   student.ClassName(),
			Guardians:   reportGuardians(student.Links),
			Outstanding: decimal.Zero,
			Paid:        decimal.Zero,
			Payments:    paymentsByStudent[student.ID],
		}

		sections := map[string]*dto.FeeBucket{}
		for _, bucket := range dto.ReportBuckets {
			sections[bucket] = &dto.FeeBucket{Bucket: bucket, Fees: []dto.FeeResponse{}, Amount: decimal.Zero}
		}
		for _, fee := range studentFees {
			bucket, amount := feeBucket(fee, today)
			section := sections[bucket]
			section.Fees = append(section.Fees, dto.NewFeeResponse(fee, today))
			section.Amount = section.Amount.Add(amount)

			totals := bucketTotals[bucket]
			totals.Count++
			totals.Amount = totals.Amount.Add(amount)

			if bucket == dto.BucketOverdue || bucket == dto.BucketUpcoming {
				entry.Outstanding = entry.Outstanding.Add(amount)
			}
			entry.Paid = entry.Paid.Add(fee.PaidAmount)
		}
		for _, bucket := range dto.ReportBuckets {
			entry.Buckets = append(entry.Buckets, *sections[bucket])
		}

		report.Students = append(report.Students, entry)
		report.Totals.Students++
		report.Totals.Fees += len(studentFees)
		report.Totals.Outstanding = report.Totals.Outstanding.Add(entry.Outstanding)
		report.Totals.Paid = report.Totals.Paid.Add(entry.Paid)
	}

	return finish(), nil
}

// ExportXLSX renders the financial report as a workbook with a summary sheet and one
// row per fee.
func (s *reportService) ExportXLSX(ctx context.Context, req dto.FinancialReportRequest) (dto.ReportFile, error) {
	report, err := s.FinancialReport(ctx, req)
	if err != nil {
		return dto.ReportFile{}, err
	}

	data, err := renderWorkbook(report)
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to render report workbook")
		return dto.ReportFile{}, err
	}

	return dto.ReportFile{
		Name:        fmt.Sprintf("relatorio-financeiro-%s.xlsx", report.ReferenceOn),
		ContentType: mimetype.Detect(data).String(),
		Data:        data,
	}, nil
}

// Archive uploads the rendered workbook to document storage.
func (s *reportService) Archive(ctx context.Context, actor ActivityActor, req dto.FinancialReportRequest) (dto.ReportArchiveResponse, error) {
	if s.uploader == nil {
		return dto.ReportArchiveResponse{}, ErrArchiveDisabled
	}

	file, err := s.ExportXLSX(ctx, req)
	if err != nil {
		return dto.ReportArchiveResponse{}, err
	}

	url, err := s.uploader.Upload(ctx, file.Name, bytes.NewReader(file.Data))
	if err != nil {
		s.logger.Error().Err(err).Str("name", file.Name).Msg("failed to archive report")
		return dto.ReportArchiveResponse{}, err
	}

	audit(ctx, s.activity, s.logger, actor, "report.archived", "report", 0, map[string]interface{}{
		"name": file.Name,
		"url":  url,
	})
	return dto.ReportArchiveResponse{Name: file.Name, URL: url}, nil
}

// feeBucket places a fee in its report section and returns the amount printed there.
// Partially paid fees are still owed and follow their due date.
func feeBucket(fee models.Fee, today time.Time) (string, decimal.Decimal) {
	receivable := fee.Receivable()
	switch receivable.Status(today) {
	case billing.StatusCancelled:
		return dto.BucketCancelled, fee.AmountDue
	case billing.StatusPaid:
		return dto.BucketPaid, fee.PaidAmount
	case billing.StatusOverdue:
		return dto.BucketOverdue, receivable.Remaining()
	case billing.StatusPartiallyPaid:
		if billing.DateOnly(fee.DueDate).Before(today) {
			return dto.BucketOverdue, receivable.Remaining()
		}
		return dto.BucketUpcoming, receivable.Remaining()
	default:
		return dto.BucketUpcoming, receivable.Remaining()
	}
}

func reportGuardians(links []models.GuardianLink) []dto.ReportGuardian {
	guardians := make([]dto.ReportGuardian, 0, len(links))
	for _, link := range links {
		entry := dto.ReportGuardian{ID: link.GuardianID, Relation: link.Relation, Financial: link.FinancialResponsible}
		if link.Guardian != nil {
			entry.Name = link.Guardian.Name
			entry.Phone = link.Guardian.Phone
			entry.Email = link.Guardian.Email
		}
		guardians = append(guardians, entry)
	}
	sort.SliceStable(guardians, func(i, j int) bool {
		return guardians[i].Financial && !guardians[j].Financial
	})
	return guardians
}

// sortStudents orders students the way Portuguese readers expect, accents included.
func sortStudents(students []models.Student) {
	collator := collate.New(language.BrazilianPortuguese, collate.IgnoreCase)
	sort.SliceStable(students, func(i, j int) bool {
		return collator.CompareString(students[i].Name, students[j].Name) < 0
	})
}

func (s *reportService) cacheGeneration(ctx context.Context) int64 {
	if s.cache == nil {
		return 0
	}
	generation, err := s.cache.Get(ctx, reportGenerationKey).Int64()
	if err != nil && !errors.Is(err, redis.Nil) {
		s.logger.Warn().Err(err).Msg("failed to read report cache generation")
	}
	return generation
}

func reportCacheKey(req dto.FinancialReportRequest, today time.Time, generation int64) string {
	normalized := req
	normalized.ClassIDs = append([]uint(nil), req.ClassIDs...)
	sort.Slice(normalized.ClassIDs, func(i, j int) bool { return normalized.ClassIDs[i] < normalized.ClassIDs[j] })
	normalized.ClassNames = append([]string(nil), req.ClassNames...)
	sort.Strings(normalized.ClassNames)
	normalized.Statuses = append([]string(nil), req.Statuses...)
	sort.Strings(normalized.Statuses)

	payload, _ := json.Marshal(struct {
		Filter     dto.FinancialReportRequest `json:"filter"`
		On         string                     `json:"on"`
		Generation int64                      `json:"generation"`
	}{normalized, today.Format(dto.DateLayout), generation})
	sum := sha256.Sum256(payload)
	return reportCachePrefix + hex.EncodeToString(sum[:12])
}

func renderWorkbook(report dto.FinancialReport) ([]byte, error) {
	book := excelize.NewFile()
	defer book.Close()

	if err := book.SetSheetName("Sheet1", summarySheet); err != nil {
		return nil, err
	}
	if _, err := book.NewSheet(feesSheet); err != nil {
		return nil, err
	}
	header, err := book.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return nil, err
	}

	summary := [][]interface{}{
		{"Referência", report.ReferenceOn},
		{"Alunos", report.Totals.Students},
		{"Mensalidades", report.Totals.Fees},
		{"Em aberto", report.Totals.Outstanding.InexactFloat64()},
		{"Recebido", report.Totals.Paid.InexactFloat64()},
		{},
		{"Seção", "Quantidade", "Valor"},
	}
	for _, bucket := range report.Totals.Buckets {
		summary = append(summary, []interface{}{bucketTitle(bucket.Bucket), bucket.Count, bucket.Amount.InexactFloat64()})
	}
	for index, row := range summary {
		cell, _ := excelize.CoordinatesToCellName(1, index+1)
		if err := book.SetSheetRow(summarySheet, cell, &row); err != nil {
			return nil, err
		}
	}
	if err := book.SetCellStyle(summarySheet, "A7", "C7", header); err != nil {
		return nil, err
	}
	if err := book.SetColWidth(summarySheet, "A", "C", 18); err != nil {
		return nil, err
	}

	columns := []interface{}{"Aluno", "Turma", "Responsável financeiro", "Seção", "Referência", "Vencimento", "Situação", "Valor", "Pago", "Restante"}
	if err := book.SetSheetRow(feesSheet, "A1", &columns); err != nil {
		return nil, err
	}
	if err := book.SetCellStyle(feesSheet, "A1", "J1", header); err != nil {
		return nil, err
	}

	line := 2
	for _, student := range report.Students {
		guardian := financialGuardianName(student.Guardians)
		for _, bucket := range student.Buckets {
			for _, fee := range bucket.Fees {
				row := []interface{}{
					student.Name,
					student.ClassName,
					guardian,
					bucketTitle(bucket.Bucket),
					fee.ReferenceLabel,
					fee.DueDate.Format("02/01/2006"),
					fee.Status,
					fee.AmountDue.InexactFloat64(),
					fee.PaidAmount.InexactFloat64(),
					fee.Remaining.InexactFloat64(),
				}
				cell, _ := excelize.CoordinatesToCellName(1, line)
				if err := book.SetSheetRow(feesSheet, cell, &row); err != nil {
					return nil, err
				}
				line++
			}
		}
	}
	if err := book.SetColWidth(feesSheet, "A", "C", 28); err != nil {
		return nil, err
	}

	buffer, err := book.WriteToBuffer()
	if err != nil {
		return nil, err
	}
	return buffer.Bytes(), nil
}

func financialGuardianName(guardians []dto.ReportGuardian) string {
	for _, guardian := range guardians {
		if guardian.Financial {
			return guardian.Name
		}
	}
	if len(guardians) > 0 {
		return guardians[0].Name
	}
	return ""
}

func bucketTitle(bucket string) string {
	switch bucket {
	case dto.BucketOverdue:
		return "Em atraso"
	case dto.BucketUpcoming:
		return "A vencer"
	case dto.BucketPaid:
		return "Pagas"
	case dto.BucketCancelled:
		return "Canceladas"
	default:
		return bucket
	}
}
