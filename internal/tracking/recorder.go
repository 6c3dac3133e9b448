package tracking

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"pm-embed/internal/storage"
)

// TokenVerifier checks publisher tokens.
type TokenVerifier interface {
	Enabled() bool
	Verify(token, pub string) error
}

// Recorder validates and persists embed events, and reports on them.
type Recorder struct {
	events  storage.EventStore
	origins *Origins
	tokens  TokenVerifier
	logger  zerolog.Logger
	now     func() time.Time
}

func NewRecorder(events storage.EventStore, origins *Origins, tokens TokenVerifier, logger zerolog.Logger) *Recorder {
	return &Recorder{
		events:  events,
		origins: origins,
		tokens:  tokens,
		logger:  logger.With().Str("component", "tracking").Logger(),
		now:     time.Now,
	}
}

// Record applies the origin allow-list, event validation and, when a signing
// secret is configured, publisher token verification, then stores the event.
func (r *Recorder) Record(ctx context.Context, origin string, req Request) error {
	if !r.origins.Allow(origin) {
		return ErrOriginNotAllowed
	}
	ev, err := Sanitize(req, r.now())
	if err != nil {
		return err
	}
	if r.tokens != nil && r.tokens.Enabled() {
		if err := r.tokens.Verify(req.Token, req.Publisher()); err != nil {
			return err
		}
	}
	if err := r.events.InsertEvent(ctx, ev); err != nil {
		return fmt.Errorf("insert event: %w", err)
	}
	r.logger.Debug().Str("event", ev.Event).Str("pub", ev.Pub).Str("slug", ev.Slug).Msg("event recorded")
	return nil
}

// Totals adds the click-through rate to raw counts.
type Totals struct {
	storage.Counts
	CTR float64 `json:"ctr"`
}

type Filters struct {
	Pub     string `json:"pub"`
	Article string `json:"article"`
}

// Report is the analytics summary for a time window.
type Report struct {
	Days      int                     `json:"days"`
	Filters   Filters                 `json:"filters"`
	Totals    Totals                  `json:"totals"`
	ByPub     []storage.PubCounts     `json:"byPub"`
	ByArticle []storage.ArticleCounts `json:"byArticle"`
	BySlug    []storage.SlugCounts    `json:"bySlug"`
	Recent    []storage.RecentEvent   `json:"recent"`
}

const defaultReportDays = 7

// Report summarises the last days of events. Non-positive days fall back to 7.
func (r *Recorder) Report(ctx context.Context, days int, pub, article string) (Report, error) {
	if days <= 0 {
		days = defaultReportDays
	}
	since := r.now().Add(-time.Duration(days) * 24 * time.Hour).UnixMilli()
	stats, err := r.events.Stats(ctx, storage.StatsFilter{Since: since, Pub: pub, Article: article})
	if err != nil {
		return Report{}, fmt.Errorf("query stats: %w", err)
	}
	return Report{
		Days:      days,
		Filters:   Filters{Pub: pub, Article: article},
		Totals:    Totals{Counts: stats.Totals, CTR: CTR(stats.Totals)},
		ByPub:     nonNil(stats.ByPub),
		ByArticle: nonNil(stats.ByArticle),
		BySlug:    nonNil(stats.BySlug),
		Recent:    nonNil(stats.Recent),
	}, nil
}

// CTR is unique clicks over unique impressions, or 0 without impressions.
func CTR(c storage.Counts) float64 {
	if c.ImpressionsUnique <= 0 {
		return 0
	}
	return decimal.NewFromInt(c.ClicksUnique).
		DivRound(decimal.NewFromInt(c.ImpressionsUnique), 6).
		InexactFloat64()
}

func nonNil[T any](in []T) []T {
	if in == nil {
		return []T{}
	}
	return in
}
