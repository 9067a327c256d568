package handler

import (
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/noah-isme/secretaria-go-api/internal/dto"
	"github.com/noah-isme/secretaria-go-api/internal/middleware"
	"github.com/noah-isme/secretaria-go-api/internal/service"
	"github.com/noah-isme/secretaria-go-api/internal/utils"
)

// StatementHandler exposes PIX statement import, queries and reconciliation.
type StatementHandler struct {
	statements     service.StatementService
	reconciliation service.ReconciliationService
	logger         zerolog.Logger
}

// NewStatementHandler constructs the handler.
func NewStatementHandler(statements service.StatementService, reconciliation service.ReconciliationService, logger zerolog.Logger) *StatementHandler {
	return &StatementHandler{
		statements:     statements,
		reconciliation: reconciliation,
		logger:         logger.With().Str("component", "statement_handler").Logger(),
	}
}

// Register attaches statement routes.
func (h *StatementHandler) Register(router fiber.Router) {
	finance := middleware.AuthOptions{Role: middleware.AuthRoleFinance}

	router.Get("", h.list)
	router.Get("/stats", h.stats)
	router.Get("/:id", h.get)
	router.Post("/import", middleware.WithAuth(h.importRows, finance))
	router.Post("/reconcile", middleware.WithAuth(h.reconcile, finance))
	router.Post("/renormalize", middleware.WithAuth(h.renormalize, middleware.AuthOptions{Role: middleware.AuthRoleAdmin}))
	router.Post("/:id/link", middleware.WithAuth(h.link, finance))
}

func (h *StatementHandler) list(c *fiber.Ctx) error {
	page, pageSize, err := parsePagination(c)
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}
	linked, err := parseOptionalBoolQuery(c, "linked")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}
	guardianID, err := parseOptionalUintQuery(c, "guardian_id")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	req := dto.StatementListRequest{
		Page:       page,
		PageSize:   pageSize,
		Status:     c.Query("status"),
		Linked:     linked,
		GuardianID: guardianID,
		From:       c.Query("from"),
		To:         c.Query("to"),
	}
	result, err := h.statements.List(withRequestContext(c), req)
	if err != nil {
		return sendServiceError(c, h.logger, err)
	}
	return utils.OK(c, result.Items, "statement rows retrieved", fiber.Map{"pagination": result.Pagination})
}

func (h *StatementHandler) stats(c *fiber.Ctx) error {
	stats, err := h.statements.Stats(withRequestContext(c), c.Query("from"), c.Query("to"))
	if err != nil {
		return sendServiceError(c, h.logger, err)
	}
	return utils.SendSuccess(c, "statement stats computed", stats)
}

func (h *StatementHandler) get(c *fiber.Ctx) error {
	id, err := parseUintParam(c, "id")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	row, err := h.statements.Get(withRequestContext(c), id)
	if err != nil {
		return sendServiceError(c, h.logger, err)
	}
	return utils.SendSuccess(c, "statement row retrieved", row)
}

func (h *StatementHandler) importRows(c *fiber.Ctx) error {
	var req dto.StatementImportRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid request payload")
	}

	result, err := h.statements.Import(withRequestContext(c), activityActorFromContext(c), req)
	if err != nil {
		return sendServiceError(c, h.logger, err)
	}
	return utils.SendSuccess(c, "statement imported", result)
}

func (h *StatementHandler) reconcile(c *fiber.Ctx) error {
	var req dto.ReconcileRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return utils.SendError(c, fiber.StatusBadRequest, "invalid request payload")
		}
	}

	result, err := h.reconciliation.Run(withRequestContext(c), activityActorFromContext(c), req)
	if err != nil {
		return sendServiceError(c, h.logger, err)
	}
	return utils.SendSuccess(c, "reconciliation finished", result)
}

func (h *StatementHandler) link(c *fiber.Ctx) error {
	id, err := parseUintParam(c, "id")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}
	var req dto.ManualLinkRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid request payload")
	}

	row, err := h.reconciliation.LinkRow(withRequestContext(c), activityActorFromContext(c), id, req)
	if err != nil {
		return sendServiceError(c, h.logger, err)
	}
	return utils.SendSuccess(c, "statement row linked", row)
}

func (h *StatementHandler) renormalize(c *fiber.Ctx) error {
	result, err := h.reconciliation.RenormalizeGuardians(withRequestContext(c), activityActorFromContext(c))
	if err != nil {
		return sendServiceError(c, h.logger, err)
	}
	return utils.SendSuccess(c, "guardian names renormalized", result)
}
