package handler

import (
	"encoding/json"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/noah-isme/secretaria-go-api/internal/dto"
	"github.com/noah-isme/secretaria-go-api/internal/service"
	"github.com/noah-isme/secretaria-go-api/internal/utils"
)

// AssistantHandler exposes the natural-language assistant and its tool catalog.
type AssistantHandler struct {
	service service.AssistantService
	logger  zerolog.Logger
}

// NewAssistantHandler constructs the handler.
func NewAssistantHandler(service service.AssistantService, logger zerolog.Logger) *AssistantHandler {
	return &AssistantHandler{
		service: service,
		logger:  logger.With().Str("component", "assistant_handler").Logger(),
	}
}

// Register attaches assistant routes.
func (h *AssistantHandler) Register(router fiber.Router) {
	router.Post("/chat", h.chat)
	router.Get("/tools", h.tools)
	router.Post("/tools/:name", h.execute)
}

func (h *AssistantHandler) chat(c *fiber.Ctx) error {
	var req dto.AssistantChatRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid request payload")
	}

	response, err := h.service.Converse(withRequestContext(c), activityActorFromContext(c), req)
	if err != nil {
		return sendServiceError(c, h.logger, err)
	}
	return utils.SendSuccess(c, "assistant replied", response)
}

func (h *AssistantHandler) tools(c *fiber.Ctx) error {
	return utils.SendSuccess(c, "assistant tools", h.service.Tools())
}

// execute runs one tool directly. The tool envelope is always returned; the HTTP status
// only reflects whether the call was well formed.
func (h *AssistantHandler) execute(c *fiber.Ctx) error {
	name := strings.TrimSpace(c.Params("name"))
	body := c.Body()
	if len(body) == 0 {
		body = []byte("{}")
	}
	args := make(json.RawMessage, len(body))
	copy(args, body)

	result := h.service.Execute(withRequestContext(c), activityActorFromContext(c), name, args)

	status := fiber.StatusOK
	switch {
	case result.Status == dto.ToolStatusNeedsReview:
		status = fiber.StatusAccepted
	case result.Error != nil && result.Error.Code == "unknown_tool":
		status = fiber.StatusNotFound
	case result.Error != nil && result.Error.Code == "invalid_arguments":
		status = fiber.StatusBadRequest
	}

	return c.Status(status).JSON(utils.APIResponse{
		Success: result.Status == dto.ToolStatusSuccess,
		Data:    result,
		Message: result.Status,
	})
}
