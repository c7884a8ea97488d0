package handlers

import (
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/kbsearch/backend/internal/analytics"
	"github.com/kbsearch/backend/pkg/logger"
)

type AnalyticsHandler struct {
	rollup *analytics.Rollup
}

func NewAnalyticsHandler(rollup *analytics.Rollup) *AnalyticsHandler {
	return &AnalyticsHandler{rollup: rollup}
}

// HandleRollups recomputes and returns per-profile aggregates so the
// response is never staler than the request.
func (h *AnalyticsHandler) HandleRollups(c *fiber.Ctx) error {
	if err := h.rollup.Recompute(); err != nil {
		logger.Error("Failed to recompute rollups", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to recompute rollups",
		})
	}

	rollups, err := h.rollup.Snapshot()
	if err != nil {
		logger.Error("Failed to load rollups", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to load rollups",
		})
	}

	return c.JSON(fiber.Map{
		"rollups": rollups,
		"count":   len(rollups),
	})
}
