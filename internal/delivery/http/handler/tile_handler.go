package handler

import (
	"strconv"

	"github.com/gofiber/fiber/v2"
	"github.com/tilecache-microservice/internal/pkg/errors"
	"github.com/tilecache-microservice/internal/pkg/utils"
	"github.com/tilecache-microservice/internal/usecase"
	"github.com/tilecache-microservice/internal/usecase/dto"
	"go.uber.org/zap"
)

// TileHandler serves the tile index and stored tile images.
type TileHandler struct {
	registryUC *usecase.RegistryUseCase
	logger     *zap.Logger
}

func NewTileHandler(registryUC *usecase.RegistryUseCase, logger *zap.Logger) *TileHandler {
	return &TileHandler{
		registryUC: registryUC,
		logger:     logger,
	}
}

// ListTiles pages through the tile index of one cache.
func (h *TileHandler) ListTiles(c *fiber.Ctx) error {
	var req dto.ListTilesRequest
	if err := c.QueryParser(&req); err != nil {
		return utils.SendError(c, errors.ErrInvalidRequest)
	}

	tiles, total, err := h.registryUC.ListTiles(c.Context(), c.Params("id"), req)
	if err != nil {
		return utils.SendError(c, err)
	}
	return utils.SendSuccess(c, tiles, &utils.Meta{
		Total: total,
		Page:  req.Page,
		Limit: req.Limit,
	})
}

// GetTileData godoc
// @Summary Serve one stored tile image
// @Tags Tiles
// @Produce png
// @Param id path string true "Cache ID"
// @Param z path int true "Zoom"
// @Param x path int true "Tile column"
// @Param y path int true "Tile row"
// @Success 200 {file} binary
// @Failure 404 {object} utils.ErrorResponse
// @Router /api/v1/caches/{id}/tiles/{z}/{x}/{y} [get]
func (h *TileHandler) GetTileData(c *fiber.Ctx) error {
	z, errZ := strconv.Atoi(c.Params("z"))
	x, errX := strconv.Atoi(c.Params("x"))
	y, errY := strconv.Atoi(c.Params("y"))
	if errZ != nil || errX != nil || errY != nil {
		return utils.SendError(c, errors.ErrInvalidRequest.WithDetails(map[string]interface{}{
			"reason": "tile coordinates must be integers",
		}))
	}

	data, format, err := h.registryUC.GetTileData(c.Context(), c.Params("id"), z, x, y)
	if err != nil {
		return utils.SendError(c, err)
	}

	c.Set(fiber.HeaderContentType, tileContentType(format))
	return c.Send(data)
}

func tileContentType(format string) string {
	switch format {
	case "png":
		return "image/png"
	case "jpg", "jpeg":
		return "image/jpeg"
	case "webp":
		return "image/webp"
	}
	return fiber.MIMEOctetStream
}
