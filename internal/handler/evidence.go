package handler

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"pm-embed/internal/auth"
	"pm-embed/internal/evidence"
	"pm-embed/internal/fetcher"
)

// EvidenceService captures and lists evidence.
type EvidenceService interface {
	Save(ctx context.Context, req evidence.SaveRequest) (evidence.Saved, error)
	List(ctx context.Context, slug string, limit int) ([]evidence.Item, error)
}

type EvidenceHandler struct {
	Gate     *auth.Gate
	Evidence EvidenceService
	Logger   zerolog.Logger
}

func (h *EvidenceHandler) Register(r *gin.Engine) {
	r.POST("/api/evidence/save", h.save)
	r.GET("/api/evidence/list", h.list)
}

type saveBody struct {
	Slug             string `json:"slug"`
	ResolutionURL    string `json:"resolutionUrl"`
	ResolutionURLAlt string `json:"resolution_url"`
	Notes            string `json:"notes"`
}

func (h *EvidenceHandler) save(c *gin.Context) {
	if !requireAdmin(c, h.Gate) {
		return
	}

	var body saveBody
	_ = c.ShouldBindJSON(&body)
	slug := strings.TrimSpace(body.Slug)
	if slug == "" {
		slug = strings.TrimSpace(c.Query("slug"))
	}
	resolutionURL := body.ResolutionURL
	if strings.TrimSpace(resolutionURL) == "" {
		resolutionURL = body.ResolutionURLAlt
	}

	saved, err := h.Evidence.Save(c.Request.Context(), evidence.SaveRequest{
		Slug:          slug,
		ResolutionURL: resolutionURL,
		Notes:         body.Notes,
	})
	switch {
	case err == nil:
		c.JSON(http.StatusOK, saved)
	case errors.Is(err, evidence.ErrSlugRequired):
		writeError(c, http.StatusBadRequest, "Missing slug")
	case errors.Is(err, fetcher.ErrMarketNotFound):
		writeError(c, http.StatusNotFound, "Market not found")
	case errors.Is(err, evidence.ErrUpstream):
		writeError(c, http.StatusBadGateway, "Gamma fetch failed")
	default:
		h.Logger.Error().Err(err).Str("slug", slug).Msg("save evidence failed")
		writeError(c, http.StatusInternalServerError, "failed to save evidence")
	}
}

func (h *EvidenceHandler) list(c *gin.Context) {
	slug := strings.TrimSpace(c.Query("slug"))
	if slug == "" {
		writeError(c, http.StatusBadRequest, "Missing slug")
		return
	}
	items, err := h.Evidence.List(c.Request.Context(), slug, intQuery(c, "limit", 0))
	if err != nil {
		h.Logger.Error().Err(err).Str("slug", slug).Msg("list evidence failed")
		writeError(c, http.StatusInternalServerError, "failed to list evidence")
		return
	}
	c.JSON(http.StatusOK, gin.H{"slug": slug, "evidence": items})
}
