package handlers

import (
	"context"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/fisioflow/backend/internal/knowledge"
	"github.com/fisioflow/backend/internal/metrics"
	"github.com/fisioflow/backend/pkg/logger"
)

// CacheInvalidator drops hot-layer cache entries whose answers may have
// been superseded by a knowledge-base change.
type CacheInvalidator interface {
	Flush(ctx context.Context) error
}

type KnowledgeHandler struct {
	store       *knowledge.Store
	invalidator CacheInvalidator
}

// NewKnowledgeHandler wires the curated-knowledge endpoints. invalidator
// may be nil when no hot cache layer is configured.
func NewKnowledgeHandler(store *knowledge.Store, invalidator CacheInvalidator) *KnowledgeHandler {
	return &KnowledgeHandler{
		store:       store,
		invalidator: invalidator,
	}
}

func (h *KnowledgeHandler) invalidateCache(ctx context.Context) {
	if h.invalidator == nil {
		return
	}
	if err := h.invalidator.Flush(ctx); err != nil {
		logger.Warn("Failed to flush hot cache after knowledge change", zap.Error(err))
	}
}

// HandleContribute accepts a new entry from a practitioner. New entries
// start with moderate confidence until peers validate them.
func (h *KnowledgeHandler) HandleContribute(c *fiber.Ctx) error {
	var req struct {
		Type    string   `json:"type"`
		Title   string   `json:"title"`
		Content string   `json:"content"`
		Tags    []string `json:"tags"`
		UserID  string   `json:"user_id"`
	}

	if err := c.BodyParser(&req); err != nil {
		logger.Error("Failed to parse request body", zap.Error(err))
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	if req.Title == "" || req.Content == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Title and content are required",
		})
	}

	entry, err := h.store.Contribute(c.Context(), knowledge.ContributionInput{
		Type:     req.Type,
		Title:    req.Title,
		Content:  req.Content,
		Tags:     req.Tags,
		AuthorID: req.UserID,
	})
	if err != nil {
		logger.Error("Failed to contribute knowledge entry", zap.Error(err))
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": err.Error(),
		})
	}

	metrics.KnowledgeEntriesContributed.Inc()
	h.invalidateCache(c.Context())

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"id":         entry.ID,
		"title":      entry.Title,
		"tags":       entry.Tags,
		"confidence": entry.ConfidenceScore,
	})
}

// HandleImport ingests an HTML document (clinical guideline pages,
// exported protocols) as a knowledge entry.
func (h *KnowledgeHandler) HandleImport(c *fiber.Ctx) error {
	var req struct {
		HTML   string `json:"html"`
		Type   string `json:"type"`
		UserID string `json:"user_id"`
	}

	if err := c.BodyParser(&req); err != nil {
		logger.Error("Failed to parse request body", zap.Error(err))
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	if req.HTML == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "HTML content is required",
		})
	}

	result, err := h.store.ImportHTML(c.Context(), req.HTML, req.Type, req.UserID)
	if err != nil {
		logger.Error("Failed to import HTML document", zap.Error(err))
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": err.Error(),
		})
	}

	metrics.KnowledgeEntriesContributed.Inc()
	h.invalidateCache(c.Context())

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"id":    result.EntryID,
		"title": result.Title,
		"tags":  result.Tags,
	})
}

// HandleValidate records a peer validation, nudging the entry's
// confidence toward the validator's score.
func (h *KnowledgeHandler) HandleValidate(c *fiber.Ctx) error {
	entryID := c.Params("id")
	if entryID == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Entry id is required",
		})
	}

	var req struct {
		Score  float64 `json:"score"`
		UserID string  `json:"user_id"`
	}

	if err := c.BodyParser(&req); err != nil {
		logger.Error("Failed to parse request body", zap.Error(err))
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	if err := h.store.Validate(c.Context(), entryID, req.UserID, req.Score); err != nil {
		logger.Error("Failed to validate knowledge entry", zap.String("entry_id", entryID), zap.Error(err))
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": err.Error(),
		})
	}

	h.invalidateCache(c.Context())

	return c.JSON(fiber.Map{
		"status": "validated",
	})
}
