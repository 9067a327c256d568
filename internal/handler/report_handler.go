package handler

import (
	"fmt"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/noah-isme/secretaria-go-api/internal/dto"
	"github.com/noah-isme/secretaria-go-api/internal/middleware"
	"github.com/noah-isme/secretaria-go-api/internal/service"
	"github.com/noah-isme/secretaria-go-api/internal/utils"
)

// ReportHandler exposes the financial report as JSON, as a spreadsheet and as an archive upload.
type ReportHandler struct {
	service service.ReportService
	logger  zerolog.Logger
}

// NewReportHandler constructs the handler.
func NewReportHandler(service service.ReportService, logger zerolog.Logger) *ReportHandler {
	return &ReportHandler{
		service: service,
		logger:  logger.With().Str("component", "report_handler").Logger(),
	}
}

// Register attaches report routes.
func (h *ReportHandler) Register(router fiber.Router) {
	router.Get("/financial", h.financial)
	router.Get("/financial/export", h.export)
	router.Post("/financial/archive", middleware.WithAuth(h.archive, middleware.AuthOptions{Role: middleware.AuthRoleFinance}))
}

func (h *ReportHandler) financial(c *fiber.Ctx) error {
	req, err := reportRequestFromQuery(c)
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	report, err := h.service.FinancialReport(withRequestContext(c), req)
	if err != nil {
		return sendServiceError(c, h.logger, err)
	}
	return utils.SendSuccess(c, "financial report generated", report)
}

func (h *ReportHandler) export(c *fiber.Ctx) error {
	req, err := reportRequestFromQuery(c)
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	file, err := h.service.ExportXLSX(withRequestContext(c), req)
	if err != nil {
		return sendServiceError(c, h.logger, err)
	}

	c.Set(fiber.HeaderContentType, file.ContentType)
	c.Set(fiber.HeaderContentDisposition, fmt.Sprintf("attachment; filename=%q", file.Name))
	return c.Status(fiber.StatusOK).Send(file.Data)
}

func (h *ReportHandler) archive(c *fiber.Ctx) error {
	var req dto.FinancialReportRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return utils.SendError(c, fiber.StatusBadRequest, "invalid request payload")
		}
	}

	result, err := h.service.Archive(withRequestContext(c), activityActorFromContext(c), req)
	if err != nil {
		return sendServiceError(c, h.logger, err)
	}
	return utils.SendSuccessWithStatus(c, fiber.StatusCreated, "financial report archived", result)
}

func reportRequestFromQuery(c *fiber.Ctx) (dto.FinancialReportRequest, error) {
	classIDs, err := parseUintList(c, "class_ids")
	if err != nil {
		return dto.FinancialReportRequest{}, err
	}
	return dto.FinancialReportRequest{
		ClassIDs:        classIDs,
		ClassNames:      splitAndTrim(c.Query("classes")),
		From:            c.Query("from"),
		To:              c.Query("to"),
		Statuses:        splitAndTrim(c.Query("statuses")),
		IncludePayments: c.QueryBool("include_payments", false),
	}, nil
}
