package evidence

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"pm-embed/internal/fetcher"
	"pm-embed/internal/storage"
)

var (
	ErrSlugRequired = errors.New("missing slug")
	// ErrUpstream wraps market lookup failures other than not-found.
	ErrUpstream = errors.New("gamma fetch failed")
)

const (
	metaKey          = "_disputeShield"
	defaultListLimit = 20
)

// SaveRequest is an operator request to capture evidence for a market.
type SaveRequest struct {
	Slug          string
	ResolutionURL string
	Notes         string
}

// Saved is the outcome of a capture.
type Saved struct {
	OK               bool    `json:"ok"`
	Slug             string  `json:"slug"`
	Question         *string `json:"question"`
	ResolutionSource *string `json:"resolution_source"`
	ResolutionURL    *string `json:"resolution_url"`
	Notes            *string `json:"notes"`
	SavedAt          int64   `json:"savedAt"`
}

// Item is the listing view of one evidence row.
type Item struct {
	ID                int64   `json:"id"`
	Slug              string  `json:"slug"`
	CreatedAt         int64   `json:"created_at"`
	ResolutionURL     *string `json:"resolution_url"`
	Question          *string `json:"question"`
	ResolutionSource  *string `json:"resolution_source"`
	ManualEvidenceURL *string `json:"manual_evidence_url"`
	Notes             *string `json:"notes"`
	SavedAt           int64   `json:"saved_at"`
}

type meta struct {
	Question          *string `json:"question"`
	ResolutionSource  *string `json:"resolution_source"`
	ManualEvidenceURL *string `json:"manual_evidence_url"`
	Notes             *string `json:"notes"`
	SavedAt           int64   `json:"saved_at"`
}

// Service captures and lists evidence snapshots.
type Service struct {
	markets fetcher.MarketFetcher
	pages   fetcher.PageFetcher
	store   storage.EvidenceStore
	logger  zerolog.Logger
	now     func() time.Time
}

func NewService(markets fetcher.MarketFetcher, pages fetcher.PageFetcher, store storage.EvidenceStore, logger zerolog.Logger) *Service {
	return &Service{
		markets: markets,
		pages:   pages,
		store:   store,
		logger:  logger.With().Str("component", "evidence").Logger(),
		now:     time.Now,
	}
}

// Save fetches the market and its resolution page and stores both. A page
// fetch failure is tolerated; the market lookup is not.
func (s *Service) Save(ctx context.Context, req SaveRequest) (Saved, error) {
	slug := strings.TrimSpace(req.Slug)
	if slug == "" {
		return Saved{}, ErrSlugRequired
	}
	manualURL := strings.TrimSpace(req.ResolutionURL)
	notes := optional(req.Notes)

	market, err := s.markets.FetchMarket(ctx, slug)
	if err != nil {
		if errors.Is(err, fetcher.ErrMarketNotFound) {
			return Saved{}, err
		}
		return Saved{}, fmt.Errorf("%w: %v", ErrUpstream, err)
	}

	question := optional(market.Text("question"))
	source := optional(market.Text("resolutionSource"))

	resolutionURL := optional(manualURL)
	if resolutionURL == nil {
		resolutionURL = source
	}

	var html *string
	if resolutionURL != nil && s.pages != nil {
		page, err := s.pages.FetchPage(ctx, *resolutionURL)
		if err != nil {
			s.logger.Warn().Err(err).Str("slug", slug).Str("url", *resolutionURL).Msg("resolution page fetch failed")
		} else {
			html = &page
		}
	}

	savedAt := s.now().UnixMilli()
	withMeta := market.Clone()
	withMeta[metaKey] = meta{
		Question:          question,
		ResolutionSource:  source,
		ManualEvidenceURL: optional(manualURL),
		Notes:             notes,
		SavedAt:           savedAt,
	}
	raw, err := json.Marshal(withMeta)
	if err != nil {
		return Saved{}, fmt.Errorf("encode market: %w", err)
	}

	id, err := s.store.InsertEvidence(ctx, storage.EvidenceRecord{
		Slug:           slug,
		MarketJSON:     string(raw),
		ResolutionURL:  resolutionURL,
		ResolutionHTML: html,
		CreatedAt:      savedAt,
	})
	if err != nil {
		return Saved{}, fmt.Errorf("insert evidence: %w", err)
	}

	s.logger.Info().Str("slug", slug).Int64("id", id).Bool("page", html != nil).Msg("evidence saved")
	return Saved{
		OK:               true,
		Slug:             slug,
		Question:         question,
		ResolutionSource: source,
		ResolutionURL:    resolutionURL,
		Notes:            notes,
		SavedAt:          savedAt,
	}, nil
}

// List returns the newest evidence rows for slug.
func (s *Service) List(ctx context.Context, slug string, limit int) ([]Item, error) {
	slug = strings.TrimSpace(slug)
	if slug == "" {
		return nil, ErrSlugRequired
	}
	if limit <= 0 {
		limit = defaultListLimit
	}
	rows, err := s.store.ListEvidence(ctx, slug, limit)
	if err != nil {
		return nil, fmt.Errorf("list evidence: %w", err)
	}
	items := make([]Item, 0, len(rows))
	for _, row := range rows {
		items = append(items, view(row))
	}
	return items, nil
}

// Count returns how many snapshots exist for slug.
func (s *Service) Count(ctx context.Context, slug string) (int64, error) {
	return s.store.CountEvidence(ctx, slug)
}

func view(row storage.EvidenceRecord) Item {
	item := Item{
		ID:            row.ID,
		Slug:          row.Slug,
		CreatedAt:     row.CreatedAt,
		ResolutionURL: row.ResolutionURL,
		SavedAt:       row.CreatedAt,
	}

	var doc struct {
		Question         string          `json:"question"`
		ResolutionSource string          `json:"resolutionSource"`
		Meta             json.RawMessage `json:"_disputeShield"`
	}
	if err := json.Unmarshal([]byte(row.MarketJSON), &doc); err != nil {
		return item
	}
	var m meta
	if len(doc.Meta) > 0 {
		_ = json.Unmarshal(doc.Meta, &m)
	}

	item.Question = firstOf(m.Question, optional(doc.Question))
	item.ResolutionSource = firstOf(m.ResolutionSource, optional(doc.ResolutionSource))
	item.ManualEvidenceURL = firstOf(m.ManualEvidenceURL)
	item.Notes = firstOf(m.Notes)
	if m.SavedAt > 0 {
		item.SavedAt = m.SavedAt
	}
	return item
}

func optional(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}

func firstOf(values ...*string) *string {
	for _, v := range values {
		if v != nil && *v != "" {
			return v
		}
	}
	return nil
}
