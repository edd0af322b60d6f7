package handler

import (
	"github.com/gofiber/fiber/v2"
	"github.com/tilecache-microservice/internal/pkg/utils"
	"github.com/tilecache-microservice/internal/usecase"
	"go.uber.org/zap"
)

// DownloadHandler exposes download session control.
type DownloadHandler struct {
	downloadUC *usecase.DownloadUseCase
	logger     *zap.Logger
}

func NewDownloadHandler(downloadUC *usecase.DownloadUseCase, logger *zap.Logger) *DownloadHandler {
	return &DownloadHandler{
		downloadUC: downloadUC,
		logger:     logger,
	}
}

// Start godoc
// @Summary Start downloading a cache
// @Tags Downloads
// @Produce json
// @Param id path string true "Cache ID"
// @Success 202 {object} utils.SuccessResponse
// @Failure 404 {object} utils.ErrorResponse
// @Failure 409 {object} utils.ErrorResponse "Session already active or cache complete"
// @Router /api/v1/caches/{id}/download [post]
func (h *DownloadHandler) Start(c *fiber.Ctx) error {
	session, err := h.downloadUC.Start(c.Context(), c.Params("id"))
	if err != nil {
		return utils.SendError(c, err)
	}
	return c.Status(fiber.StatusAccepted).JSON(utils.SuccessResponse{Data: session})
}

// Pause stops the workers cooperatively and keeps the session resumable.
func (h *DownloadHandler) Pause(c *fiber.Ctx) error {
	session, err := h.downloadUC.Pause(c.Context(), c.Params("id"))
	if err != nil {
		return utils.SendError(c, err)
	}
	return utils.SendSuccess(c, session, nil)
}

// Resume continues a paused session under its original identity.
func (h *DownloadHandler) Resume(c *fiber.Ctx) error {
	session, err := h.downloadUC.Resume(c.Context(), c.Params("id"))
	if err != nil {
		return utils.SendError(c, err)
	}
	return utils.SendSuccess(c, session, nil)
}

// Cancel ends the session; downloaded tiles are kept.
func (h *DownloadHandler) Cancel(c *fiber.Ctx) error {
	session, err := h.downloadUC.Cancel(c.Context(), c.Params("id"))
	if err != nil {
		return utils.SendError(c, err)
	}
	return utils.SendSuccess(c, session, nil)
}

// Status returns the latest session for the cache with live progress, speed
// and ETA.
func (h *DownloadHandler) Status(c *fiber.Ctx) error {
	session, err := h.downloadUC.GetDownloadStatus(c.Context(), c.Params("id"))
	if err != nil {
		return utils.SendError(c, err)
	}
	return utils.SendSuccess(c, session, nil)
}

// ListSessions returns the session history of a cache.
func (h *DownloadHandler) ListSessions(c *fiber.Ctx) error {
	sessions, err := h.downloadUC.ListSessions(c.Context(), c.Params("id"))
	if err != nil {
		return utils.SendError(c, err)
	}
	return utils.SendSuccess(c, sessions, &utils.Meta{Total: len(sessions)})
}

// GetSession looks a session up by its own ID.
func (h *DownloadHandler) GetSession(c *fiber.Ctx) error {
	session, err := h.downloadUC.GetSession(c.Context(), c.Params("id"))
	if err != nil {
		return utils.SendError(c, err)
	}
	return utils.SendSuccess(c, session, nil)
}
