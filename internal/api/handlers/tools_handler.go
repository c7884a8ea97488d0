package handlers

import (
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/kbsearch/backend/internal/tools"
	"github.com/kbsearch/backend/pkg/logger"
)

// ToolsHandler exposes the dispatcher over HTTP. The response body is always
// the uniform tool envelope; the status code mirrors the error class.
type ToolsHandler struct {
	dispatcher *tools.Dispatcher
}

func NewToolsHandler(dispatcher *tools.Dispatcher) *ToolsHandler {
	return &ToolsHandler{dispatcher: dispatcher}
}

func (h *ToolsHandler) HandleCall(c *fiber.Ctx) error {
	name := c.Params("name")

	args := tools.Args{}
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&args); err != nil {
			logger.Error("Failed to parse tool arguments", zap.Error(err))
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "Invalid request body",
			})
		}
	}

	result := h.dispatcher.Dispatch(c.Context(), name, args)

	return c.Status(statusFor(result)).JSON(result)
}

func (h *ToolsHandler) ListTools(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"tools": h.dispatcher.Names(),
	})
}

func statusFor(result *tools.Result) int {
	if result.Error == nil {
		return fiber.StatusOK
	}
	switch result.Error.Code {
	case tools.CodeUnknownTool, tools.CodeNotFound:
		return fiber.StatusNotFound
	case tools.CodeValidationError:
		return fiber.StatusBadRequest
	case tools.CodeBackendUnavailable:
		return fiber.StatusServiceUnavailable
	case tools.CodeTimeout:
		return fiber.StatusGatewayTimeout
	default:
		return fiber.StatusInternalServerError
	}
}
