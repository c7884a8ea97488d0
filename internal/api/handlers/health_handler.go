package handlers

import (
	"context"

	"github.com/gofiber/fiber/v2"

	redisclient "github.com/kbsearch/backend/internal/cache/redis"
	"github.com/kbsearch/backend/internal/cicd"
	"github.com/kbsearch/backend/internal/storage/sqlite"
)

// HealthHandler reports component reachability without mutating any state.
type HealthHandler struct {
	db    *sqlite.Client
	cicd  *cicd.Store
	redis *redisclient.Client
}

func NewHealthHandler(db *sqlite.Client, cicdStore *cicd.Store, redisClient *redisclient.Client) *HealthHandler {
	return &HealthHandler{
		db:    db,
		cicd:  cicdStore,
		redis: redisClient,
	}
}

func (h *HealthHandler) HandleHealth(c *fiber.Ctx) error {
	dbErr := h.db.Ping()
	cicdErr := h.cicd.Ping()

	components := fiber.Map{
		"sqlite": componentStatus(dbErr),
		"cicd":   componentStatus(cicdErr),
	}

	healthy := dbErr == nil && cicdErr == nil

	if h.redis != nil {
		err := h.redis.Ping(context.Background())
		components["redis"] = componentStatus(err)
		// Redis is an accelerator; its loss degrades but does not down the
		// service.
	}

	status := "ok"
	code := fiber.StatusOK
	if !healthy {
		status = "degraded"
		code = fiber.StatusServiceUnavailable
	}

	return c.Status(code).JSON(fiber.Map{
		"status":     status,
		"components": components,
	})
}

func componentStatus(err error) string {
	if err != nil {
		return "unavailable"
	}
	return "ok"
}
