package handler

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"pm-embed/internal/auth"
	"pm-embed/internal/storage"
	"pm-embed/internal/watch"
)

const (
	defaultAlertLimit = 50
	maxAlertLimit     = 200
	defaultPurgeKind  = "updated_at_changed"
)

type AlertsHandler struct {
	Gate   *auth.Gate
	Alerts storage.AlertStore
	Logger zerolog.Logger
}

func (h *AlertsHandler) Register(r *gin.Engine) {
	r.GET("/api/alerts", h.list)
	r.POST("/api/alerts/cleanup", h.cleanup)
}

type alertView struct {
	storage.AlertRecord
	Summary string `json:"summary"`
}

func viewAlerts(rows []storage.AlertRecord) []alertView {
	out := make([]alertView, 0, len(rows))
	for _, a := range rows {
		out = append(out, alertView{AlertRecord: a, Summary: watch.Describe(a.Kind)})
	}
	return out
}

func (h *AlertsHandler) list(c *gin.Context) {
	slug := strings.TrimSpace(c.Query("slug"))
	limit := clamp(intQuery(c, "limit", defaultAlertLimit), 1, maxAlertLimit)

	rows, err := h.Alerts.ListAlerts(c.Request.Context(), slug, limit)
	if err != nil {
		h.Logger.Error().Err(err).Str("slug", slug).Msg("list alerts failed")
		writeError(c, http.StatusInternalServerError, "failed to list alerts")
		return
	}

	var slugField any
	if slug != "" {
		slugField = slug
	}
	c.JSON(http.StatusOK, gin.H{"slug": slugField, "alerts": viewAlerts(rows)})
}

func (h *AlertsHandler) cleanup(c *gin.Context) {
	if !requireAdmin(c, h.Gate) {
		return
	}

	var body struct {
		Kind string `json:"kind"`
	}
	// An empty or malformed body purges the default kind.
	_ = c.ShouldBindJSON(&body)
	kind := strings.TrimSpace(body.Kind)
	if kind == "" {
		kind = defaultPurgeKind
	}

	deleted, err := h.Alerts.DeleteAlertsByKind(c.Request.Context(), kind)
	if err != nil {
		h.Logger.Error().Err(err).Str("kind", kind).Msg("cleanup alerts failed")
		writeError(c, http.StatusInternalServerError, "failed to delete alerts")
		return
	}
	h.Logger.Info().Str("kind", kind).Int64("deleted", deleted).Msg("alerts purged")
	c.JSON(http.StatusOK, gin.H{"ok": true, "kind": kind, "deleted": deleted})
}
