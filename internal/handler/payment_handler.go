package handler

import (
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/noah-isme/secretaria-go-api/internal/dto"
	"github.com/noah-isme/secretaria-go-api/internal/middleware"
	"github.com/noah-isme/secretaria-go-api/internal/service"
	"github.com/noah-isme/secretaria-go-api/internal/utils"
)

// PaymentHandler registers payments, from statement rows or by hand.
type PaymentHandler struct {
	service service.PaymentService
	logger  zerolog.Logger
}

// NewPaymentHandler constructs the handler.
func NewPaymentHandler(service service.PaymentService, logger zerolog.Logger) *PaymentHandler {
	return &PaymentHandler{
		service: service,
		logger:  logger.With().Str("component", "payment_handler").Logger(),
	}
}

// Register attaches payment routes.
func (h *PaymentHandler) Register(router fiber.Router) {
	router.Get("", h.list)
	router.Get("/:id", h.get)
	router.Post("", middleware.WithAuth(h.registerManual, middleware.AuthOptions{Role: middleware.AuthRoleFinance}))
}

// RegisterStatementRoutes attaches the statement-row registration routes under /statements.
func (h *PaymentHandler) RegisterStatementRoutes(router fiber.Router) {
	finance := middleware.AuthOptions{Role: middleware.AuthRoleFinance}

	router.Post("/:id/payment", middleware.WithAuth(h.registerFromStatement, finance))
	router.Post("/:id/payments", middleware.WithAuth(h.registerMultiple, finance))
}

func (h *PaymentHandler) list(c *fiber.Ctx) error {
	page, pageSize, err := parsePagination(c)
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}
	studentID, err := parseOptionalUintQuery(c, "student_id")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}
	guardianID, err := parseOptionalUintQuery(c, "guardian_id")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}
	rowID, err := parseOptionalUintQuery(c, "statement_row_id")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	result, err := h.service.List(withRequestContext(c), dto.PaymentListRequest{
		Page:           page,
		PageSize:       pageSize,
		StudentID:      studentID,
		GuardianID:     guardianID,
		StatementRowID: rowID,
		Type:           c.Query("type"),
		From:           c.Query("from"),
		To:             c.Query("to"),
	})
	if err != nil {
		return sendServiceError(c, h.logger, err)
	}
	return utils.OK(c, result.Items, "payments retrieved", fiber.Map{"pagination": result.Pagination})
}

func (h *PaymentHandler) get(c *fiber.Ctx) error {
	id, err := parseUintParam(c, "id")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	payment, err := h.service.Get(withRequestContext(c), id)
	if err != nil {
		return sendServiceError(c, h.logger, err)
	}
	return utils.SendSuccess(c, "payment retrieved", payment)
}

func (h *PaymentHandler) registerManual(c *fiber.Ctx) error {
	var req dto.ManualPaymentRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid request payload")
	}

	result, err := h.service.RegisterManual(withRequestContext(c), activityActorFromContext(c), req)
	if err != nil {
		return sendServiceError(c, h.logger, err)
	}
	return utils.SendSuccessWithStatus(c, fiber.StatusCreated, "payment registered", result)
}

func (h *PaymentHandler) registerFromStatement(c *fiber.Ctx) error {
	rowID, err := parseUintParam(c, "id")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}
	var req dto.StatementPaymentRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return utils.SendError(c, fiber.StatusBadRequest, "invalid request payload")
		}
	}

	result, err := h.service.RegisterFromStatement(withRequestContext(c), activityActorFromContext(c), rowID, req)
	if err != nil {
		return sendServiceError(c, h.logger, err)
	}
	return utils.SendSuccessWithStatus(c, fiber.StatusCreated, "payment registered", result)
}

func (h *PaymentHandler) registerMultiple(c *fiber.Ctx) error {
	rowID, err := parseUintParam(c, "id")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}
	var req dto.MultiplePaymentRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid request payload")
	}

	result, err := h.service.RegisterMultipleFromStatement(withRequestContext(c), activityActorFromContext(c), rowID, req)
	if err != nil {
		return sendServiceError(c, h.logger, err)
	}
	return utils.SendSuccessWithStatus(c, fiber.StatusCreated, "payments registered", result)
}
