package handlers

import (
	"strings"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/kbsearch/backend/internal/ingestion"
	"github.com/kbsearch/backend/internal/toolerr"
	"github.com/kbsearch/backend/pkg/logger"
)

type DocumentHandler struct {
	processor *ingestion.Processor
}

func NewDocumentHandler(processor *ingestion.Processor) *DocumentHandler {
	return &DocumentHandler{processor: processor}
}

// HandleUpload ingests one document into the corpus under the active
// profile's chunking configuration.
func (h *DocumentHandler) HandleUpload(c *fiber.Ctx) error {
	var req struct {
		Content     string `json:"content"`
		SourceURL   string `json:"source_url"`
		SourceType  string `json:"source_type"`
		Title       string `json:"title"`
		ContentType string `json:"content_type"`
	}

	if err := c.BodyParser(&req); err != nil {
		logger.Error("Failed to parse request body", zap.Error(err))
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	if req.Content == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "content is required",
		})
	}

	report, err := h.processor.Process(c.Context(), ingestion.Document{
		Content:    req.Content,
		SourceURL:  req.SourceURL,
		SourceType: req.SourceType,
		Title:      req.Title,
		IsHTML:     strings.Contains(strings.ToLower(req.ContentType), "html"),
	})
	if err != nil {
		if toolerr.IsValidation(err) {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": err.Error(),
			})
		}
		logger.Error("Failed to process document", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to process document",
		})
	}

	return c.Status(fiber.StatusCreated).JSON(report)
}
