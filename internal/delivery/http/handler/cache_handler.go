package handler

import (
	"github.com/gofiber/fiber/v2"
	"github.com/tilecache-microservice/internal/domain"
	"github.com/tilecache-microservice/internal/pkg/errors"
	"github.com/tilecache-microservice/internal/pkg/utils"
	"github.com/tilecache-microservice/internal/pkg/validator"
	"github.com/tilecache-microservice/internal/usecase"
	"github.com/tilecache-microservice/internal/usecase/dto"
	"go.uber.org/zap"
)

// CacheHandler exposes the cache registry over HTTP.
type CacheHandler struct {
	registryUC *usecase.RegistryUseCase
	logger     *zap.Logger
}

func NewCacheHandler(registryUC *usecase.RegistryUseCase, logger *zap.Logger) *CacheHandler {
	return &CacheHandler{
		registryUC: registryUC,
		logger:     logger,
	}
}

// CreateCache godoc
// @Summary Create an offline tile cache
// @Description Registers a cache for a polygonal region and enumerates its full tile pyramid
// @Tags Caches
// @Accept json
// @Produce json
// @Param request body dto.CreateCacheRequest true "Cache definition"
// @Success 201 {object} utils.SuccessResponse
// @Failure 400 {object} utils.ErrorResponse
// @Router /api/v1/caches [post]
func (h *CacheHandler) CreateCache(c *fiber.Ctx) error {
	var req dto.CreateCacheRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.SendError(c, errors.ErrInvalidRequest.WithDetails(map[string]interface{}{
			"reason": "malformed request body",
		}))
	}
	if err := validator.Validate(&req); err != nil {
		return utils.SendError(c, errors.ErrInvalidRequest.WithDetails(map[string]interface{}{
			"reason": err.Error(),
		}))
	}

	cache, err := h.registryUC.CreateCache(c.Context(), req)
	if err != nil {
		return utils.SendError(c, err)
	}
	return utils.SendCreated(c, dto.NewCacheResponse(cache))
}

// ListCaches godoc
// @Summary List caches
// @Tags Caches
// @Produce json
// @Param region_id query string false "Filter by region"
// @Param status query string false "Filter by status"
// @Param map_type query string false "Filter by map type"
// @Success 200 {object} utils.SuccessResponse
// @Router /api/v1/caches [get]
func (h *CacheHandler) ListCaches(c *fiber.Ctx) error {
	var req dto.ListCachesRequest
	if err := c.QueryParser(&req); err != nil {
		return utils.SendError(c, errors.ErrInvalidRequest)
	}

	caches, err := h.registryUC.ListCaches(c.Context(), req)
	if err != nil {
		return utils.SendError(c, err)
	}
	return utils.SendSuccess(c, dto.NewCacheResponses(caches), &utils.Meta{
		Total: len(caches),
	})
}

// GetCache godoc
// @Summary Get one cache
// @Tags Caches
// @Produce json
// @Param id path string true "Cache ID"
// @Success 200 {object} utils.SuccessResponse
// @Failure 404 {object} utils.ErrorResponse
// @Router /api/v1/caches/{id} [get]
func (h *CacheHandler) GetCache(c *fiber.Ctx) error {
	cache, err := h.registryUC.GetCache(c.Context(), c.Params("id"))
	if err != nil {
		return utils.SendError(c, err)
	}
	return utils.SendSuccess(c, dto.NewCacheResponse(cache), nil)
}

// DeleteCache godoc
// @Summary Delete a cache and its stored tiles
// @Tags Caches
// @Produce json
// @Param id path string true "Cache ID"
// @Success 200 {object} utils.SuccessResponse
// @Failure 404 {object} utils.ErrorResponse
// @Failure 409 {object} utils.ErrorResponse "Active download session"
// @Router /api/v1/caches/{id} [delete]
func (h *CacheHandler) DeleteCache(c *fiber.Ctx) error {
	id := c.Params("id")
	if err := h.registryUC.DeleteCache(c.Context(), id); err != nil {
		return utils.SendError(c, err)
	}
	return utils.SendSuccess(c, fiber.Map{"deleted": id}, nil)
}

// FindWithinBounds returns caches whose region intersects the query box.
func (h *CacheHandler) FindWithinBounds(c *fiber.Ctx) error {
	var req dto.BBoxRequest
	if err := c.QueryParser(&req); err != nil {
		return utils.SendError(c, errors.ErrInvalidRequest)
	}
	if err := validator.Validate(&req); err != nil {
		return utils.SendError(c, errors.ErrInvalidRequest.WithDetails(map[string]interface{}{
			"reason": err.Error(),
		}))
	}

	caches, err := h.registryUC.FindWithinBounds(c.Context(), domain.BoundingBox{
		MinLat: req.MinLat,
		MinLon: req.MinLon,
		MaxLat: req.MaxLat,
		MaxLon: req.MaxLon,
	})
	if err != nil {
		return utils.SendError(c, err)
	}
	return utils.SendSuccess(c, dto.NewCacheResponses(caches), &utils.Meta{
		Total: len(caches),
	})
}

// FindContainingPoint returns caches whose region contains the point.
func (h *CacheHandler) FindContainingPoint(c *fiber.Ctx) error {
	var req dto.PointRequest
	if err := c.QueryParser(&req); err != nil {
		return utils.SendError(c, errors.ErrInvalidRequest)
	}
	if err := validator.Validate(&req); err != nil {
		return utils.SendError(c, errors.ErrInvalidRequest.WithDetails(map[string]interface{}{
			"reason": err.Error(),
		}))
	}

	caches, err := h.registryUC.FindContainingPoint(c.Context(), domain.Point{
		Lat: req.Lat,
		Lon: req.Lon,
	})
	if err != nil {
		return utils.SendError(c, err)
	}
	return utils.SendSuccess(c, dto.NewCacheResponses(caches), &utils.Meta{
		Total: len(caches),
	})
}

// CleanupExpired runs the expiry sweep once and reports how many caches it
// expired.
func (h *CacheHandler) CleanupExpired(c *fiber.Ctx) error {
	cleaned, err := h.registryUC.CleanupExpired(c.Context())
	if err != nil {
		return utils.SendError(c, err)
	}
	return utils.SendSuccess(c, fiber.Map{"expired": cleaned}, nil)
}
