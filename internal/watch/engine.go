package watch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"pm-embed/internal/fetcher"
	"pm-embed/internal/storage"
)

// Alert kinds.
const (
	KindMarketMissing           = "market_missing"
	KindWatchInitialized        = "watch_initialized"
	KindQuestionChanged         = "question_changed"
	KindResolutionSourceChanged = "resolution_source_changed"
	KindStatusChanged           = "status_changed"
	KindRestrictedChanged       = "restricted_changed"
	KindEndDateChanged          = "end_date_changed"
	KindOutcomesChanged         = "outcomes_changed"
	KindDescriptionChanged      = "description_changed"
	KindYesPriceJump            = "yes_price_jump"
)

// AlertAppender appends change records.
type AlertAppender interface {
	InsertAlert(ctx context.Context, alert storage.AlertRecord) (storage.AlertRecord, error)
}

// Change is one detected field-level difference.
type Change struct {
	Slug     string
	Kind     string
	OldValue *string
	NewValue *string
}

// Options tune optional rules.
type Options struct {
	// PriceJumpThreshold enables yes_price_jump when positive.
	PriceJumpThreshold decimal.Decimal
}

// Engine compares fresh market snapshots with stored watch records and
// records the differences as alerts.
type Engine struct {
	markets fetcher.MarketFetcher
	watches storage.WatchStore
	alerts  AlertAppender
	opts    Options
	logger  zerolog.Logger
	now     func() time.Time
}

// NewEngine wires the diff engine.
func NewEngine(markets fetcher.MarketFetcher, watches storage.WatchStore, alerts AlertAppender, opts Options, logger zerolog.Logger) *Engine {
	return &Engine{
		markets: markets,
		watches: watches,
		alerts:  alerts,
		opts:    opts,
		logger:  logger.With().Str("component", "diff_engine").Logger(),
		now:     time.Now,
	}
}

// Check runs one diff pass for slug and returns the alerts it recorded.
// Upstream failures are treated as an absent market.
func (e *Engine) Check(ctx context.Context, slug string) ([]Change, error) {
	prev, err := e.watches.GetWatchRecord(ctx, slug)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			return nil, fmt.Errorf("load watch record: %w", err)
		}
		prev = nil
	}

	market, err := e.markets.FetchMarket(ctx, slug)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		if !errors.Is(err, fetcher.ErrMarketNotFound) {
			e.logger.Warn().Err(err).Str("slug", slug).Msg("market fetch failed; treating as missing")
		}
		market = nil
	}

	now := e.now().UnixMilli()

	if market == nil {
		if prev == nil {
			e.logger.Debug().Str("slug", slug).Msg("no market and no baseline")
			return nil, nil
		}
		changes := []Change{{Slug: slug, Kind: KindMarketMissing, OldValue: ptr("present"), NewValue: ptr("missing")}}
		if err := e.record(ctx, changes, now); err != nil {
			return nil, err
		}
		kept := *prev
		kept.LastChecked = now
		if err := e.watches.UpsertWatchRecord(ctx, kept); err != nil {
			return nil, fmt.Errorf("upsert watch record: %w", err)
		}
		return changes, nil
	}

	raw, err := json.Marshal(market)
	if err != nil {
		return nil, fmt.Errorf("encode market: %w", err)
	}
	cur := Normalize(market)

	var changes []Change
	if prev == nil {
		summary, err := baselineSummary(cur)
		if err != nil {
			return nil, err
		}
		changes = []Change{{Slug: slug, Kind: KindWatchInitialized, NewValue: &summary}}
	} else {
		changes = diff(slug, previousSnapshot(prev), cur, e.opts.PriceJumpThreshold)
	}

	if err := e.record(ctx, changes, now); err != nil {
		return nil, err
	}

	rawText := string(raw)
	rec := storage.WatchRecord{
		Slug:                 slug,
		Question:             cur.Question,
		LastResolutionSource: cur.ResolutionSource,
		LastActive:           &cur.Active,
		LastClosed:           &cur.Closed,
		LastUpdatedAt:        cur.UpdatedAt,
		LastChecked:          now,
		LastMarketJSON:       &rawText,
	}
	if err := e.watches.UpsertWatchRecord(ctx, rec); err != nil {
		return nil, fmt.Errorf("upsert watch record: %w", err)
	}

	e.logger.Debug().Str("slug", slug).Int("changes", len(changes)).Msg("slug checked")
	return changes, nil
}

func (e *Engine) record(ctx context.Context, changes []Change, now int64) error {
	for _, c := range changes {
		if _, err := e.alerts.InsertAlert(ctx, storage.AlertRecord{
			Slug:      c.Slug,
			Kind:      c.Kind,
			OldValue:  c.OldValue,
			NewValue:  c.NewValue,
			CreatedAt: now,
		}); err != nil {
			return fmt.Errorf("insert %s alert: %w", c.Kind, err)
		}
	}
	return nil
}

// previousSnapshot rebuilds the baseline from the stored raw market, falling
// back to the record columns when the raw market is unavailable.
func previousSnapshot(rec *storage.WatchRecord) *Snapshot {
	if rec.LastMarketJSON != nil {
		if m, err := fetcher.DecodeMarket([]byte(*rec.LastMarketJSON)); err == nil {
			return Normalize(m)
		}
	}
	snap := &Snapshot{
		Question:         trimmed(rec.Question),
		ResolutionSource: trimmed(rec.LastResolutionSource),
		UpdatedAt:        trimmed(rec.LastUpdatedAt),
	}
	if rec.LastActive != nil {
		snap.Active = *rec.LastActive
	}
	if rec.LastClosed != nil {
		snap.Closed = *rec.LastClosed
	}
	return snap
}

func diff(slug string, prev, cur *Snapshot, threshold decimal.Decimal) []Change {
	var changes []Change
	add := func(kind string, oldV, newV *string) {
		changes = append(changes, Change{Slug: slug, Kind: kind, OldValue: oldV, NewValue: newV})
	}

	if !samePtr(prev.Question, cur.Question) {
		add(KindQuestionChanged, prev.Question, cur.Question)
	}
	if !samePtr(prev.ResolutionSource, cur.ResolutionSource) {
		add(KindResolutionSourceChanged, prev.ResolutionSource, cur.ResolutionSource)
	}
	if prev.Status() != cur.Status() {
		add(KindStatusChanged, ptr(prev.Status()), ptr(cur.Status()))
	}
	if prev.Restricted != cur.Restricted {
		add(KindRestrictedChanged, ptr(strconv.Itoa(prev.Restricted)), ptr(strconv.Itoa(cur.Restricted)))
	}
	if !samePtr(prev.EndDate, cur.EndDate) {
		add(KindEndDateChanged, prev.EndDate, cur.EndDate)
	}
	if oldO, newO := outcomesValue(prev.Outcomes), outcomesValue(cur.Outcomes); !samePtr(oldO, newO) {
		add(KindOutcomesChanged, oldO, newO)
	}
	if !samePtr(prev.DescriptionSignature, cur.DescriptionSignature) {
		add(KindDescriptionChanged, prev.DescriptionSignature, cur.DescriptionSignature)
	}
	if threshold.IsPositive() && len(prev.OutcomePrices) > 0 && len(cur.OutcomePrices) > 0 {
		oldP, newP := prev.OutcomePrices[0], cur.OutcomePrices[0]
		if newP.Sub(oldP).Abs().GreaterThanOrEqual(threshold) {
			add(KindYesPriceJump, ptr(oldP.String()), ptr(newP.String()))
		}
	}
	return changes
}

type baseline struct {
	ResolutionSource     *string  `json:"resolutionSource"`
	Status               string   `json:"status"`
	Restricted           int      `json:"restricted"`
	EndDate              *string  `json:"endDate"`
	DescriptionSignature *string  `json:"descriptionSignature"`
	Outcomes             []string `json:"outcomes"`
}

func baselineSummary(s *Snapshot) (string, error) {
	b, err := json.Marshal(baseline{
		ResolutionSource:     s.ResolutionSource,
		Status:               s.Status(),
		Restricted:           s.Restricted,
		EndDate:              s.EndDate,
		DescriptionSignature: s.DescriptionSignature,
		Outcomes:             s.Outcomes,
	})
	if err != nil {
		return "", fmt.Errorf("encode baseline: %w", err)
	}
	return string(b), nil
}

func outcomesValue(outcomes []string) *string {
	if outcomes == nil {
		return nil
	}
	b, err := json.Marshal(outcomes)
	if err != nil {
		return nil
	}
	s := string(b)
	return &s
}

func trimmed(s *string) *string {
	if s == nil {
		return nil
	}
	return text(*s)
}

func samePtr(a, b *string) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

func ptr(s string) *string { return &s }
