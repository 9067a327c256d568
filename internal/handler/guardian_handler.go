package handler

import (
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/noah-isme/secretaria-go-api/internal/dto"
	"github.com/noah-isme/secretaria-go-api/internal/middleware"
	"github.com/noah-isme/secretaria-go-api/internal/service"
	"github.com/noah-isme/secretaria-go-api/internal/utils"
)

// GuardianHandler exposes the guardian registry.
type GuardianHandler struct {
	service service.GuardianService
	logger  zerolog.Logger
}

// NewGuardianHandler constructs the handler.
func NewGuardianHandler(service service.GuardianService, logger zerolog.Logger) *GuardianHandler {
	return &GuardianHandler{
		service: service,
		logger:  logger.With().Str("component", "guardian_handler").Logger(),
	}
}

// Register attaches routes.
func (h *GuardianHandler) Register(router fiber.Router) {
	staff := middleware.AuthOptions{Role: middleware.AuthRoleStaff}

	router.Get("", h.list)
	router.Get("/find", h.find)
	router.Get("/:id", h.get)
	router.Post("", middleware.WithAuth(h.create, staff))
	router.Patch("/:id/name", middleware.WithAuth(h.rename, staff))
	router.Patch("/:id/contact", middleware.WithAuth(h.updateContact, staff))
	router.Patch("/:id/tax-id", middleware.WithAuth(h.updateTaxID, staff))
}

func (h *GuardianHandler) list(c *fiber.Ctx) error {
	page, pageSize, err := parsePagination(c)
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	req := dto.GuardianListRequest{
		Page:     page,
		PageSize: pageSize,
		Search:   c.Query("search"),
		TaxID:    c.Query("tax_id"),
	}
	result, err := h.service.List(withRequestContext(c), req)
	if err != nil {
		return sendServiceError(c, h.logger, err)
	}

	return utils.OK(c, result.Items, "guardians retrieved", fiber.Map{"pagination": result.Pagination})
}

func (h *GuardianHandler) find(c *fiber.Ctx) error {
	limit, err := parseQueryInt(c, "limit")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid limit")
	}

	result, err := h.service.Find(withRequestContext(c), c.Query("name"), limit)
	if err != nil {
		return sendServiceError(c, h.logger, err)
	}
	return utils.SendSuccess(c, "guardian candidates ranked", result)
}

func (h *GuardianHandler) get(c *fiber.Ctx) error {
	id, err := parseUintParam(c, "id")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	guardian, err := h.service.Get(withRequestContext(c), id)
	if err != nil {
		return sendServiceError(c, h.logger, err)
	}
	return utils.SendSuccess(c, "guardian retrieved", guardian)
}

func (h *GuardianHandler) create(c *fiber.Ctx) error {
	var req dto.GuardianCreateRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid request payload")
	}

	guardian, err := h.service.Create(withRequestContext(c), activityActorFromContext(c), req)
	if err != nil {
		return sendServiceError(c, h.logger, err)
	}
	return utils.SendSuccessWithStatus(c, fiber.StatusCreated, "guardian created", guardian)
}

func (h *GuardianHandler) rename(c *fiber.Ctx) error {
	id, err := parseUintParam(c, "id")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}
	var req dto.GuardianRenameRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid request payload")
	}

	guardian, err := h.service.Rename(withRequestContext(c), activityActorFromContext(c), id, req)
	if err != nil {
		return sendServiceError(c, h.logger, err)
	}
	return utils.SendSuccess(c, "guardian renamed", guardian)
}

func (h *GuardianHandler) updateContact(c *fiber.Ctx) error {
	id, err := parseUintParam(c, "id")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}
	var req dto.GuardianContactRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid request payload")
	}

	guardian, err := h.service.UpdateContact(withRequestContext(c), activityActorFromContext(c), id, req)
	if err != nil {
		return sendServiceError(c, h.logger, err)
	}
	return utils.SendSuccess(c, "guardian contact updated", guardian)
}

func (h *GuardianHandler) updateTaxID(c *fiber.Ctx) error {
	id, err := parseUintParam(c, "id")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}
	var req dto.GuardianTaxIDRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid request payload")
	}

	guardian, err := h.service.UpdateTaxID(withRequestContext(c), activityActorFromContext(c), id, req)
	if err != nil {
		return sendServiceError(c, h.logger, err)
	}
	return utils.SendSuccess(c, "guardian tax id updated", guardian)
}
