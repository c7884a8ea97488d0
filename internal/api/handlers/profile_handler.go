package handlers

import (
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/kbsearch/backend/internal/profile"
	"github.com/kbsearch/backend/internal/storage/models"
	"github.com/kbsearch/backend/internal/toolerr"
	"github.com/kbsearch/backend/pkg/logger"
)

type ProfileHandler struct {
	profiles *profile.Store
}

func NewProfileHandler(profiles *profile.Store) *ProfileHandler {
	return &ProfileHandler{profiles: profiles}
}

// HandleCreate creates a new immutable profile version. Tuning an existing
// profile means creating a successor with ParentID set.
func (h *ProfileHandler) HandleCreate(c *fiber.Ctx) error {
	var req struct {
		Name        string                  `json:"name"`
		Version     string                  `json:"version"`
		ParentID    string                  `json:"parent_id"`
		Provider    models.ProviderConfig   `json:"provider"`
		Chunking    models.ChunkingConfig   `json:"chunking"`
		Retrieval   models.RetrievalConfig  `json:"retrieval"`
		Generation  models.GenerationConfig `json:"generation"`
		System      models.SystemConfig     `json:"system"`
		WeightTotal float64                 `json:"weight_total"`
		Activate    bool                    `json:"activate"`
		CreatedBy   string                  `json:"created_by"`
	}

	if err := c.BodyParser(&req); err != nil {
		logger.Error("Failed to parse request body", zap.Error(err))
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	p, err := h.profiles.Create(profile.CreateRequest{
		Name:        req.Name,
		Version:     req.Version,
		ParentID:    req.ParentID,
		Provider:    req.Provider,
		Chunking:    req.Chunking,
		Retrieval:   req.Retrieval,
		Generation:  req.Generation,
		System:      req.System,
		WeightTotal: req.WeightTotal,
		Activate:    req.Activate,
		CreatedBy:   req.CreatedBy,
	})
	if err != nil {
		return profileError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(p)
}

func (h *ProfileHandler) HandleGet(c *fiber.Ctx) error {
	p, err := h.profiles.Get(c.Params("id"))
	if err != nil {
		return profileError(c, err)
	}
	return c.JSON(p)
}

func (h *ProfileHandler) HandleGetActive(c *fiber.Ctx) error {
	name := c.Query("name")
	if name == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "name is required",
		})
	}

	p, err := h.profiles.GetActive(name)
	if err != nil {
		return profileError(c, err)
	}
	return c.JSON(p)
}

// HandleRecordChange appends a change-log entry documenting what a successor
// profile altered relative to this one.
func (h *ProfileHandler) HandleRecordChange(c *fiber.Ctx) error {
	var req struct {
		ParameterPath string `json:"parameter_path"`
		OldValue      string `json:"old_value"`
		NewValue      string `json:"new_value"`
		Reason        string `json:"reason"`
	}

	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}
	if req.ParameterPath == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "parameter_path is required",
		})
	}

	if err := h.profiles.RecordChange(c.Params("id"), req.ParameterPath, req.OldValue, req.NewValue, req.Reason); err != nil {
		return profileError(c, err)
	}

	return c.SendStatus(fiber.StatusNoContent)
}

func profileError(c *fiber.Ctx, err error) error {
	switch {
	case toolerr.IsValidation(err):
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	case toolerr.IsNotFound(err):
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": err.Error()})
	default:
		logger.Error("Profile operation failed", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Profile operation failed"})
	}
}
