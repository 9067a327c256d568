package handler

import (
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/noah-isme/secretaria-go-api/internal/dto"
	"github.com/noah-isme/secretaria-go-api/internal/middleware"
	"github.com/noah-isme/secretaria-go-api/internal/service"
	"github.com/noah-isme/secretaria-go-api/internal/utils"
)

// FeeHandler exposes monthly fee generation, queries and status changes.
type FeeHandler struct {
	service service.FeeService
	logger  zerolog.Logger
}

// NewFeeHandler constructs the handler.
func NewFeeHandler(service service.FeeService, logger zerolog.Logger) *FeeHandler {
	return &FeeHandler{
		service: service,
		logger:  logger.With().Str("component", "fee_handler").Logger(),
	}
}

// Register attaches fee routes.
func (h *FeeHandler) Register(router fiber.Router) {
	finance := middleware.AuthOptions{Role: middleware.AuthRoleFinance}

	router.Get("", h.list)
	router.Get("/summary", h.summary)
	router.Get("/:id", h.get)
	router.Post("/generate", middleware.WithAuth(h.generateBatch, finance))
	router.Post("/refresh", middleware.WithAuth(h.refresh, finance))
	router.Post("/:id/cancel", middleware.WithAuth(h.cancel, finance))
	router.Post("/:id/discount", middleware.WithAuth(h.discount, finance))
}

// RegisterStudentRoutes attaches the per-student generation routes under /students.
func (h *FeeHandler) RegisterStudentRoutes(router fiber.Router) {
	finance := middleware.AuthOptions{Role: middleware.AuthRoleFinance}

	router.Post("/:id/fees", middleware.WithAuth(h.generate, finance))
	router.Post("/:id/withdraw", middleware.WithAuth(h.withdraw, finance))
	router.Delete("/:id/fees/generation", middleware.WithAuth(h.resetGeneration, middleware.AuthOptions{Role: middleware.AuthRoleAdmin}))
}

func (h *FeeHandler) list(c *fiber.Ctx) error {
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

	req := dto.FeeListRequest{
		Page:             page,
		PageSize:         pageSize,
		StudentID:        studentID,
		GuardianID:       guardianID,
		Status:           c.Query("status"),
		From:             c.Query("from"),
		To:               c.Query("to"),
		IncludeCancelled: c.QueryBool("include_cancelled", false),
	}
	result, err := h.service.List(withRequestContext(c), req)
	if err != nil {
		return sendServiceError(c, h.logger, err)
	}
	return utils.OK(c, result.Items, "fees retrieved", fiber.Map{"pagination": result.Pagination})
}

func (h *FeeHandler) summary(c *fiber.Ctx) error {
	classIDs, err := parseUintList(c, "class_ids")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	result, err := h.service.Summary(withRequestContext(c), dto.FeeSummaryRequest{
		ClassIDs: classIDs,
		From:     c.Query("from"),
		To:       c.Query("to"),
	})
	if err != nil {
		return sendServiceError(c, h.logger, err)
	}
	return utils.SendSuccess(c, "fee summary computed", result)
}

func (h *FeeHandler) get(c *fiber.Ctx) error {
	id, err := parseUintParam(c, "id")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	fee, err := h.service.Get(withRequestContext(c), id)
	if err != nil {
		return sendServiceError(c, h.logger, err)
	}
	return utils.SendSuccess(c, "fee retrieved", fee)
}

func (h *FeeHandler) generate(c *fiber.Ctx) error {
	studentID, err := parseUintParam(c, "id")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}
	var req dto.FeeGenerateRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return utils.SendError(c, fiber.StatusBadRequest, "invalid request payload")
		}
	}

	result, err := h.service.Generate(withRequestContext(c), activityActorFromContext(c), studentID, req)
	if err != nil {
		return sendServiceError(c, h.logger, err)
	}
	return utils.SendSuccessWithStatus(c, fiber.StatusCreated, "fees generated", result)
}

func (h *FeeHandler) generateBatch(c *fiber.Ctx) error {
	var req dto.FeeBatchGenerateRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid request payload")
	}

	result, err := h.service.GenerateBatch(withRequestContext(c), activityActorFromContext(c), req)
	if err != nil {
		return sendServiceError(c, h.logger, err)
	}
	return utils.SendSuccess(c, "fee batch processed", result)
}

func (h *FeeHandler) resetGeneration(c *fiber.Ctx) error {
	studentID, err := parseUintParam(c, "id")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	if err := h.service.ResetGeneration(withRequestContext(c), activityActorFromContext(c), studentID); err != nil {
		return sendServiceError(c, h.logger, err)
	}
	return utils.SendSuccess(c, "fee generation reset", fiber.Map{"student_id": studentID})
}

func (h *FeeHandler) withdraw(c *fiber.Ctx) error {
	studentID, err := parseUintParam(c, "id")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}
	var req dto.StudentWithdrawRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid request payload")
	}

	result, err := h.service.Withdraw(withRequestContext(c), activityActorFromContext(c), studentID, req)
	if err != nil {
		return sendServiceError(c, h.logger, err)
	}
	if req.DryRun {
		return utils.SendSuccess(c, "withdrawal previewed", result)
	}
	return utils.SendSuccess(c, "student withdrawn", result)
}

func (h *FeeHandler) refresh(c *fiber.Ctx) error {
	result, err := h.service.RefreshStatuses(withRequestContext(c))
	if err != nil {
		return sendServiceError(c, h.logger, err)
	}
	return utils.SendSuccess(c, "fee statuses refreshed", result)
}

func (h *FeeHandler) cancel(c *fiber.Ctx) error {
	id, err := parseUintParam(c, "id")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}
	var req dto.FeeCancelRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid request payload")
	}

	fee, err := h.service.Cancel(withRequestContext(c), activityActorFromContext(c), id, req)
	if err != nil {
		return sendServiceError(c, h.logger, err)
	}
	return utils.SendSuccess(c, "fee cancelled", fee)
}

func (h *FeeHandler) discount(c *fiber.Ctx) error {
	id, err := parseUintParam(c, "id")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}
	var req dto.FeeDiscountRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid request payload")
	}

	fee, err := h.service.ApplyDiscount(withRequestContext(c), activityActorFromContext(c), id, req)
	if err != nil {
		return sendServiceError(c, h.logger, err)
	}
	return utils.SendSuccess(c, "fee discounted", fee)
}
