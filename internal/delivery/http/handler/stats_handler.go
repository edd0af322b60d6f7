package handler

import (
	"github.com/gofiber/fiber/v2"
	"github.com/tilecache-microservice/internal/pkg/errors"
	"github.com/tilecache-microservice/internal/pkg/utils"
	"github.com/tilecache-microservice/internal/usecase"
	"github.com/tilecache-microservice/internal/usecase/dto"
	"go.uber.org/zap"
)

// StatsHandler serves the aggregate rollups.
type StatsHandler struct {
	statsUC *usecase.StatsUseCase
	logger  *zap.Logger
}

func NewStatsHandler(statsUC *usecase.StatsUseCase, logger *zap.Logger) *StatsHandler {
	return &StatsHandler{
		statsUC: statsUC,
		logger:  logger,
	}
}

// GetGlobalStats godoc
// @Summary Aggregate statistics over all caches
// @Tags Statistics
// @Produce json
// @Param from query string false "Lower bound on cache creation time (RFC 3339)"
// @Param to query string false "Upper bound on cache creation time (RFC 3339)"
// @Success 200 {object} utils.SuccessResponse
// @Failure 500 {object} utils.ErrorResponse
// @Router /api/v1/stats [get]
func (h *StatsHandler) GetGlobalStats(c *fiber.Ctx) error {
	var req dto.StatsRequest
	if err := c.QueryParser(&req); err != nil {
		return utils.SendError(c, errors.ErrInvalidRequest)
	}

	stats, err := h.statsUC.GetGlobalStats(c.Context(), req)
	if err != nil {
		h.logger.Error("Failed to compute global stats", zap.Error(err))
		return utils.SendError(c, err)
	}
	return utils.SendSuccess(c, stats, nil)
}

// GetRegionStats returns per-region rollups, optionally narrowed to one
// region via ?region_id=.
func (h *StatsHandler) GetRegionStats(c *fiber.Ctx) error {
	var req dto.StatsRequest
	if err := c.QueryParser(&req); err != nil {
		return utils.SendError(c, errors.ErrInvalidRequest)
	}

	stats, err := h.statsUC.GetRegionStats(c.Context(), req)
	if err != nil {
		h.logger.Error("Failed to compute region stats", zap.Error(err))
		return utils.SendError(c, err)
	}
	return utils.SendSuccess(c, stats, &utils.Meta{Total: len(stats)})
}
