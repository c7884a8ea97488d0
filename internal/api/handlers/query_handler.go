package handlers

import (
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/kbsearch/backend/internal/storage/sqlite"
	"github.com/kbsearch/backend/pkg/logger"
)

type QueryHandler struct {
	db *sqlite.Client
}

func NewQueryHandler(db *sqlite.Client) *QueryHandler {
	return &QueryHandler{db: db}
}

// GetQueryHistory lists past searches for a user, most recent first.
func (h *QueryHandler) GetQueryHistory(c *fiber.Ctx) error {
	userID := c.Query("user_id")
	if userID == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "user_id is required",
		})
	}

	limit := c.QueryInt("limit", 50)
	if limit <= 0 || limit > 500 {
		limit = 50
	}

	history, err := h.db.GetQueryHistory(userID, limit)
	if err != nil {
		logger.Error("Failed to load query history", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to load query history",
		})
	}

	return c.JSON(fiber.Map{
		"history": history,
		"count":   len(history),
	})
}
