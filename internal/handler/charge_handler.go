package handler

import (
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/noah-isme/secretaria-go-api/internal/dto"
	"github.com/noah-isme/secretaria-go-api/internal/middleware"
	"github.com/noah-isme/secretaria-go-api/internal/service"
	"github.com/noah-isme/secretaria-go-api/internal/utils"
)

// ChargeHandler exposes one-off charges and installment plans.
type ChargeHandler struct {
	service service.ChargeService
	logger  zerolog.Logger
}

// NewChargeHandler constructs the handler.
func NewChargeHandler(service service.ChargeService, logger zerolog.Logger) *ChargeHandler {
	return &ChargeHandler{
		service: service,
		logger:  logger.With().Str("component", "charge_handler").Logger(),
	}
}

// Register attaches charge routes.
func (h *ChargeHandler) Register(router fiber.Router) {
	finance := middleware.AuthOptions{Role: middleware.AuthRoleFinance}

	router.Get("", h.list)
	router.Get("/:id", h.get)
	router.Post("", middleware.WithAuth(h.create, finance))
	router.Post("/installments", middleware.WithAuth(h.createInstallments, finance))
	router.Post("/:id/pay", middleware.WithAuth(h.pay, finance))
	router.Post("/:id/cancel", middleware.WithAuth(h.cancel, finance))
}

func (h *ChargeHandler) list(c *fiber.Ctx) error {
	studentID, err := parseOptionalUintQuery(c, "student_id")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}
	guardianID, err := parseOptionalUintQuery(c, "guardian_id")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	result, err := h.service.List(withRequestContext(c), dto.ChargeListRequest{
		StudentID:        studentID,
		GuardianID:       guardianID,
		GroupID:          c.Query("group_id"),
		IncludePaid:      c.QueryBool("include_paid", false),
		IncludeCancelled: c.QueryBool("include_cancelled", false),
	})
	if err != nil {
		return sendServiceError(c, h.logger, err)
	}
	return utils.OK(c, result.Items, "charges retrieved", fiber.Map{"stats": result.Stats})
}

func (h *ChargeHandler) get(c *fiber.Ctx) error {
	id, err := parseUintParam(c, "id")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	charge, err := h.service.Get(withRequestContext(c), id)
	if err != nil {
		return sendServiceError(c, h.logger, err)
	}
	return utils.SendSuccess(c, "charge retrieved", charge)
}

func (h *ChargeHandler) create(c *fiber.Ctx) error {
	var req dto.ChargeCreateRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid request payload")
	}

	charge, err := h.service.Create(withRequestContext(c), activityActorFromContext(c), req)
	if err != nil {
		return sendServiceError(c, h.logger, err)
	}
	return utils.SendSuccessWithStatus(c, fiber.StatusCreated, "charge created", charge)
}

func (h *ChargeHandler) createInstallments(c *fiber.Ctx) error {
	var req dto.InstallmentCreateRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid request payload")
	}

	result, err := h.service.CreateInstallments(withRequestContext(c), activityActorFromContext(c), req)
	if err != nil {
		return sendServiceError(c, h.logger, err)
	}
	return utils.SendSuccessWithStatus(c, fiber.StatusCreated, "installments created", result)
}

func (h *ChargeHandler) pay(c *fiber.Ctx) error {
	id, err := parseUintParam(c, "id")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}
	var req dto.ChargePayRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid request payload")
	}

	charge, err := h.service.Pay(withRequestContext(c), activityActorFromContext(c), id, req)
	if err != nil {
		return sendServiceError(c, h.logger, err)
	}
	return utils.SendSuccess(c, "charge payment recorded", charge)
}

func (h *ChargeHandler) cancel(c *fiber.Ctx) error {
	id, err := parseUintParam(c, "id")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}
	var req dto.ChargeCancelRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid request payload")
	}

	charge, err := h.service.Cancel(withRequestContext(c), activityActorFromContext(c), id, req)
	if err != nil {
		return sendServiceError(c, h.logger, err)
	}
	return utils.SendSuccess(c, "charge cancelled", charge)
}
