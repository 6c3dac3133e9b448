package handler

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"pm-embed/internal/fetcher"
	"pm-embed/internal/risk"
	"pm-embed/internal/storage"
)

const riskPageAlerts = 20

// EvidenceCounter counts stored evidence snapshots.
type EvidenceCounter interface {
	Count(ctx context.Context, slug string) (int64, error)
}

// MarketHandler serves the embed-facing market endpoints.
type MarketHandler struct {
	Markets  fetcher.MarketFetcher
	Evidence EvidenceCounter
	Alerts   storage.AlertStore
	Logger   zerolog.Logger

	now func() time.Time
}

func (h *MarketHandler) Register(r *gin.Engine) {
	gamma := r.Group("/api/gamma", CORS("GET,OPTIONS"))
	gamma.GET("/market", h.gammaMarket)
	gamma.OPTIONS("/market", func(c *gin.Context) {})

	r.GET("/api/embed/meta", h.embedMeta)
	r.GET("/api/risk/:slug", h.riskPage)
	r.GET("/trade/:slug", h.trade)
	r.HEAD("/trade/:slug", h.trade)
}

func (h *MarketHandler) clock() time.Time {
	if h.now != nil {
		return h.now()
	}
	return time.Now()
}

// lookup writes the error response itself and returns nil on failure.
func (h *MarketHandler) lookup(c *gin.Context, slug string) fetcher.Market {
	if slug == "" {
		writeError(c, http.StatusBadRequest, "Missing slug")
		return nil
	}
	market, err := h.Markets.FetchMarket(c.Request.Context(), slug)
	switch {
	case err == nil:
		return market
	case errors.Is(err, fetcher.ErrMarketNotFound):
		writeError(c, http.StatusNotFound, "Market not found")
	default:
		h.Logger.Warn().Err(err).Str("slug", slug).Msg("gamma lookup failed")
		writeError(c, http.StatusBadGateway, "Gamma fetch failed")
	}
	return nil
}

func (h *MarketHandler) gammaMarket(c *gin.Context) {
	market := h.lookup(c, strings.TrimSpace(c.Query("slug")))
	if market == nil {
		return
	}
	c.JSON(http.StatusOK, market)
}

func (h *MarketHandler) embedMeta(c *gin.Context) {
	slug := strings.TrimSpace(c.Query("slug"))
	market := h.lookup(c, slug)
	if market == nil {
		return
	}
	count, err := h.Evidence.Count(c.Request.Context(), slug)
	if err != nil {
		h.Logger.Error().Err(err).Str("slug", slug).Msg("count evidence failed")
		writeError(c, http.StatusInternalServerError, "failed to count evidence")
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"slug":          slug,
		"risk":          risk.Compute(market, h.clock()),
		"evidenceCount": count,
	})
}

func (h *MarketHandler) riskPage(c *gin.Context) {
	slug := strings.TrimSpace(c.Param("slug"))
	market := h.lookup(c, slug)
	if market == nil {
		return
	}

	ctx := c.Request.Context()
	alerts, err := h.Alerts.ListAlerts(ctx, slug, riskPageAlerts)
	if err != nil {
		h.Logger.Error().Err(err).Str("slug", slug).Msg("list alerts failed")
		writeError(c, http.StatusInternalServerError, "failed to list alerts")
		return
	}
	count, err := h.Evidence.Count(ctx, slug)
	if err != nil {
		h.Logger.Error().Err(err).Str("slug", slug).Msg("count evidence failed")
		writeError(c, http.StatusInternalServerError, "failed to count evidence")
		return
	}

	var question any
	if q := market.Text("question"); q != "" {
		question = q
	}
	c.JSON(http.StatusOK, gin.H{
		"slug":          slug,
		"question":      question,
		"risk":          risk.Compute(market, h.clock()),
		"alerts":        viewAlerts(alerts),
		"evidenceCount": count,
	})
}

// trade sends the reader back to the widget page with attribution intact.
func (h *MarketHandler) trade(c *gin.Context) {
	q := url.Values{}
	for key, val := range map[string]string{
		"pub":     c.Query("pub"),
		"article": c.Query("article"),
		"slug":    c.Param("slug"),
	} {
		if val = strings.TrimSpace(val); val != "" {
			q.Set(key, val)
		}
	}
	target := "/"
	if encoded := q.Encode(); encoded != "" {
		target += "?" + encoded
	}
	c.Redirect(http.StatusTemporaryRedirect, target)
}
