package handlers

import (
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/fisioflow/backend/internal/orchestrator"
	"github.com/fisioflow/backend/internal/storage/models"
	"github.com/fisioflow/backend/pkg/logger"
)

type QueryHandler struct {
	orch *orchestrator.Orchestrator
}

func NewQueryHandler(orch *orchestrator.Orchestrator) *QueryHandler {
	return &QueryHandler{
		orch: orch,
	}
}

func (h *QueryHandler) HandleQuery(c *fiber.Ctx) error {
	var req struct {
		Query     string `json:"query"`
		UserID    string `json:"user_id"`
		PatientID string `json:"patient_id"`
		Category  string `json:"category"`
		Priority  string `json:"priority"`
	}

	if err := c.BodyParser(&req); err != nil {
		logger.Error("Failed to parse request body", zap.Error(err))
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	if req.Query == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Query is required",
		})
	}

	qctx := models.QueryContext{
		UserID:    req.UserID,
		PatientID: req.PatientID,
		Category:  models.ParseCategory(req.Category),
		Priority:  req.Priority,
	}

	answer, err := h.orch.Resolve(c.Context(), req.Query, qctx)
	if err != nil {
		logger.Error("Failed to resolve query", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to process query",
		})
	}

	return c.JSON(fiber.Map{
		"id":                 answer.LogID,
		"response":           answer.Response,
		"source":             answer.Source,
		"confidence":         answer.Confidence,
		"processing_time_ms": answer.ProcessingTimeMs,
	})
}

func (h *QueryHandler) HandleFeedback(c *fiber.Ctx) error {
	logID := c.Params("id")
	if logID == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Query id is required",
		})
	}

	var req struct {
		Rating   int    `json:"rating"`
		Feedback string `json:"feedback"`
	}

	if err := c.BodyParser(&req); err != nil {
		logger.Error("Failed to parse request body", zap.Error(err))
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	if err := h.orch.Rate(c.Context(), logID, req.Rating, req.Feedback); err != nil {
		logger.Error("Failed to record feedback", zap.String("log_id", logID), zap.Error(err))
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": err.Error(),
		})
	}

	return c.JSON(fiber.Map{
		"status": "recorded",
	})
}

func (h *QueryHandler) HandleStats(c *fiber.Ctx) error {
	windowDays := c.QueryInt("window_days", 7)

	stats, err := h.orch.Stats(c.Context(), windowDays)
	if err != nil {
		logger.Error("Failed to aggregate stats", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to aggregate stats",
		})
	}

	return c.JSON(fiber.Map{
		"total_queries":     stats.TotalQueries,
		"avg_processing_ms": stats.AvgProcessingMs,
		"source_counts":     stats.SourceCounts,
		"avg_rating":        stats.AvgRating,
		"rated_queries":     stats.RatedQueries,
		"cache_hit_rate":    stats.CacheHitRate,
		"window_days":       windowDays,
	})
}
