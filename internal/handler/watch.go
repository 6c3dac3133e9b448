package handler

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"pm-embed/internal/auth"
	"pm-embed/internal/service"
)

// WatchRunner triggers one watch run.
type WatchRunner interface {
	RunOnce(ctx context.Context) (service.RunSummary, error)
}

type WatchHandler struct {
	Gate   *auth.Gate
	Runner WatchRunner
	Logger zerolog.Logger
}

func (h *WatchHandler) Register(r *gin.Engine) {
	r.POST("/api/watch/run", h.run)
	r.GET("/api/watch/run", h.run)
}

func (h *WatchHandler) run(c *gin.Context) {
	principal, err := h.Gate.AuthorizeRun(c.GetHeader(adminKeyHeader), c.GetHeader("Authorization"))
	if !allowed(c, err, "Missing ADMIN_API_KEY or CRON_SECRET") {
		return
	}

	summary, err := h.Runner.RunOnce(c.Request.Context())
	if err != nil {
		if errors.Is(err, service.ErrRunInProgress) {
			writeError(c, http.StatusConflict, err.Error())
			return
		}
		h.Logger.Error().Err(err).Str("principal", string(principal)).Msg("watch run failed")
		writeError(c, http.StatusInternalServerError, err.Error())
		return
	}
	c.JSON(http.StatusOK, summary)
}
