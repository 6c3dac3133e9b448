package handler

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"pm-embed/internal/auth"
	"pm-embed/internal/tracking"
)

// Tracker records embed events and reports on them.
type Tracker interface {
	Record(ctx context.Context, origin string, req tracking.Request) error
	Report(ctx context.Context, days int, pub, article string) (tracking.Report, error)
}

// TokenIssuer signs publisher tokens.
type TokenIssuer interface {
	Issue(pub string) (string, time.Time, error)
}

type TrackHandler struct {
	Gate    *auth.Gate
	Tracker Tracker
	Tokens  TokenIssuer
	Logger  zerolog.Logger
}

func (h *TrackHandler) Register(r *gin.Engine) {
	track := r.Group("/api/track", CORS("POST,OPTIONS"))
	track.POST("", h.track)
	track.OPTIONS("", func(c *gin.Context) {})

	r.GET("/api/stats", h.stats)
	r.POST("/api/publishers/token", h.issueToken)
}

func (h *TrackHandler) track(c *gin.Context) {
	var req tracking.Request
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"ok": false, "error": "Invalid event"})
		return
	}

	err := h.Tracker.Record(c.Request.Context(), c.GetHeader("Origin"), req)
	switch {
	case err == nil:
		c.JSON(http.StatusOK, gin.H{"ok": true})
	case errors.Is(err, tracking.ErrOriginNotAllowed):
		c.JSON(http.StatusForbidden, gin.H{"ok": false, "error": "Origin not allowed"})
	case errors.Is(err, tracking.ErrInvalidEvent):
		c.JSON(http.StatusBadRequest, gin.H{"ok": false, "error": "Invalid event"})
	case errors.Is(err, auth.ErrInvalidToken):
		c.JSON(http.StatusUnauthorized, gin.H{"ok": false, "error": "Invalid publisher token"})
	default:
		h.Logger.Error().Err(err).Msg("record event failed")
		c.JSON(http.StatusInternalServerError, gin.H{"ok": false, "error": "Failed to record event"})
	}
}

func (h *TrackHandler) stats(c *gin.Context) {
	days := 0
	if raw := strings.TrimSpace(c.Query("days")); raw != "" {
		if f, err := strconv.ParseFloat(raw, 64); err == nil && f > 0 {
			days = int(f)
		}
	}
	report, err := h.Tracker.Report(c.Request.Context(), days, strings.TrimSpace(c.Query("pub")), strings.TrimSpace(c.Query("article")))
	if err != nil {
		h.Logger.Error().Err(err).Msg("stats failed")
		writeError(c, http.StatusInternalServerError, "failed to load stats")
		return
	}
	c.JSON(http.StatusOK, report)
}

func (h *TrackHandler) issueToken(c *gin.Context) {
	if !requireAdmin(c, h.Gate) {
		return
	}
	var body struct {
		Pub string `json:"pub"`
	}
	_ = c.ShouldBindJSON(&body)
	pub := strings.TrimSpace(body.Pub)

	token, _, err := h.Tokens.Issue(pub)
	switch {
	case errors.Is(err, auth.ErrNotConfigured):
		writeError(c, http.StatusInternalServerError, "Missing EMBED_SIGNING_SECRET")
		return
	case pub == "":
		writeError(c, http.StatusBadRequest, "pub required")
		return
	case err != nil:
		h.Logger.Error().Err(err).Str("pub", pub).Msg("issue token failed")
		writeError(c, http.StatusInternalServerError, "failed to issue token")
		return
	}
	c.JSON(http.StatusOK, gin.H{"pub": pub, "token": token})
}
