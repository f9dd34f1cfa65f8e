package handlers

import (
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/fisioflow/backend/internal/orchestrator"
	"github.com/fisioflow/backend/pkg/logger"
)

type AdminHandler struct {
	orch *orchestrator.Orchestrator
}

func NewAdminHandler(orch *orchestrator.Orchestrator) *AdminHandler {
	return &AdminHandler{
		orch: orch,
	}
}

// HandleCacheCleanup triggers an eviction sweep. Scheduling is left to
// external cron-style callers.
func (h *AdminHandler) HandleCacheCleanup(c *fiber.Ctx) error {
	stats, err := h.orch.CleanupCache(c.Context())
	if err != nil {
		logger.Error("Cache cleanup failed", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Cache cleanup failed",
		})
	}

	return c.JSON(fiber.Map{
		"expired": stats.Expired,
		"evicted": stats.Evicted,
	})
}

// HandleQuotaReset zeroes every backend account's daily usage counter.
// Meant to be called by the daily scheduler at midnight.
func (h *AdminHandler) HandleQuotaReset(c *fiber.Ctx) error {
	affected, err := h.orch.ResetDailyQuota(c.Context())
	if err != nil {
		logger.Error("Quota reset failed", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Quota reset failed",
		})
	}

	return c.JSON(fiber.Map{
		"accounts_reset": affected,
	})
}
