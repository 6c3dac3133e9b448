package watch

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"pm-embed/internal/fetcher"
	"pm-embed/internal/storage"
)

type fakeMarkets struct {
	markets map[string]fetcher.Market
	errs    map[string]error
}

func (f *fakeMarkets) FetchMarket(_ context.Context, slug string) (fetcher.Market, error) {
	if err := f.errs[slug]; err != nil {
		return nil, err
	}
	m, ok := f.markets[slug]
	if !ok {
		return nil, fetcher.ErrMarketNotFound
	}
	return m.Clone(), nil
}

type fakeStore struct {
	watches map[string]storage.WatchRecord
	alerts  []storage.AlertRecord
	upserts int
}

func newFakeStore() *fakeStore {
	return &fakeStore{watches: map[string]storage.WatchRecord{}}
}

func (f *fakeStore) GetWatchRecord(_ context.Context, slug string) (*storage.WatchRecord, error) {
	rec, ok := f.watches[slug]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return &rec, nil
}

func (f *fakeStore) UpsertWatchRecord(_ context.Context, rec storage.WatchRecord) error {
	f.upserts++
	f.watches[rec.Slug] = rec
	return nil
}

func (f *fakeStore) InsertAlert(_ context.Context, a storage.AlertRecord) (storage.AlertRecord, error) {
	a.ID = int64(len(f.alerts) + 1)
	f.alerts = append(f.alerts, a)
	return a, nil
}

func newTestEngine(markets *fakeMarkets, store *fakeStore, threshold decimal.Decimal) *Engine {
	e := NewEngine(markets, store, store, Options{PriceJumpThreshold: threshold}, zerolog.Nop())
	e.now = func() time.Time { return time.UnixMilli(1_700_000_000_000) }
	return e
}

func baseMarket() fetcher.Market {
	return fetcher.Market{
		"question":         "Will it rain?",
		"resolutionSource": "https://a.example",
		"active":           true,
		"closed":           false,
		"description":      "Resolves YES if it rains.",
		"outcomes":         `["Yes","No"]`,
		"outcomePrices":    `["0.40","0.60"]`,
		"endDate":          "2026-12-31T00:00:00Z",
		"updatedAt":        "2026-10-01T00:00:00Z",
	}
}

func kinds(changes []Change) []string {
	out := make([]string, 0, len(changes))
	for _, c := range changes {
		out = append(out, c.Kind)
	}
	return out
}

func TestNormalizeStringsAndFlags(t *testing.T) {
	s := Normalize(fetcher.Market{
		"question":         "  Q?  ",
		"resolutionSource": "   ",
		"active":           "true",
		"closed":           true,
		"restricted":       1,
	})
	if s.Question == nil || *s.Question != "Q?" {
		t.Fatalf("question not trimmed: %v", s.Question)
	}
	if s.ResolutionSource != nil {
		t.Fatalf("blank resolution source should be nil, got %q", *s.ResolutionSource)
	}
	if s.Active != 0 || s.Closed != 1 || s.Restricted != 0 {
		t.Fatalf("flags only accept literal true: %+v", s)
	}
	if s.Status() != "0/1" {
		t.Fatalf("unexpected status %q", s.Status())
	}
	if Normalize(nil) != nil {
		t.Fatal("nil market must normalize to nil")
	}
}

func TestNormalizeArrays(t *testing.T) {
	s := Normalize(fetcher.Market{
		"outcomes":      []any{"Yes", "No"},
		"outcomePrices": `["0.25", 0.75]`,
	})
	if len(s.Outcomes) != 2 || s.Outcomes[1] != "No" {
		t.Fatalf("unexpected outcomes %v", s.Outcomes)
	}
	if len(s.OutcomePrices) != 2 || !s.OutcomePrices[1].Equal(decimal.RequireFromString("0.75")) {
		t.Fatalf("unexpected prices %v", s.OutcomePrices)
	}

	s = Normalize(fetcher.Market{
		"outcomes":      `not json`,
		"outcomePrices": `["0.25","abc"]`,
	})
	if s.Outcomes != nil {
		t.Fatalf("invalid outcomes should be nil, got %v", s.Outcomes)
	}
	if s.OutcomePrices != nil {
		t.Fatalf("partially numeric prices should be nil, got %v", s.OutcomePrices)
	}
}

func TestNormalizeEndDatePrefersEvent(t *testing.T) {
	s := Normalize(fetcher.Market{
		"endDate": "2026-01-01",
		"events":  []any{map[string]any{"endDate": "2026-02-02"}},
	})
	if s.EndDate == nil || *s.EndDate != "2026-02-02" {
		t.Fatalf("expected event end date, got %v", s.EndDate)
	}

	s = Normalize(fetcher.Market{
		"endDate": "2026-01-01",
		"events":  []any{map[string]any{"title": "no date"}},
	})
	if s.EndDate == nil || *s.EndDate != "2026-01-01" {
		t.Fatalf("expected market end date, got %v", s.EndDate)
	}
}

func TestDescriptionSignature(t *testing.T) {
	if DescriptionSignature("") != nil {
		t.Fatal("empty description has no signature")
	}
	a := DescriptionSignature("Resolves YES.")
	b := DescriptionSignature("Resolves YES")
	if *a == *b {
		t.Fatal("one trailing character must change the signature")
	}
	if again := DescriptionSignature("Resolves YES."); *again != *a {
		t.Fatal("signature must be deterministic")
	}
	if sig := *DescriptionSignature("héllo"); !strings.HasSuffix(sig, ":5") {
		t.Fatalf("length should count characters, got %q", sig)
	}
}

func TestFirstRunInitializesOnly(t *testing.T) {
	store := newFakeStore()
	markets := &fakeMarkets{markets: map[string]fetcher.Market{"rain": baseMarket()}}
	e := newTestEngine(markets, store, decimal.Zero)

	changes, err := e.Check(context.Background(), "rain")
	if err != nil {
		t.Fatal(err)
	}
	if len(changes) != 1 || changes[0].Kind != KindWatchInitialized {
		t.Fatalf("expected single watch_initialized, got %v", kinds(changes))
	}
	summary := *changes[0].NewValue
	for _, want := range []string{`"resolutionSource":"https://a.example"`, `"status":"1/0"`, `"outcomes":["Yes","No"]`} {
		if !strings.Contains(summary, want) {
			t.Fatalf("summary %s missing %s", summary, want)
		}
	}
	rec := store.watches["rain"]
	if rec.LastChecked != 1_700_000_000_000 || rec.LastMarketJSON == nil {
		t.Fatalf("watch record not written: %+v", rec)
	}
}

func TestSecondRunIsIdempotent(t *testing.T) {
	store := newFakeStore()
	markets := &fakeMarkets{markets: map[string]fetcher.Market{"rain": baseMarket()}}
	e := newTestEngine(markets, store, decimal.RequireFromString("0.05"))
	ctx := context.Background()

	if _, err := e.Check(ctx, "rain"); err != nil {
		t.Fatal(err)
	}
	changes, err := e.Check(ctx, "rain")
	if err != nil {
		t.Fatal(err)
	}
	if len(changes) != 0 {
		t.Fatalf("expected no changes, got %v", kinds(changes))
	}
	if len(store.alerts) != 1 || store.upserts != 2 {
		t.Fatalf("alerts=%d upserts=%d", len(store.alerts), store.upserts)
	}
}

func TestResolutionSourceChangeOnly(t *testing.T) {
	store := newFakeStore()
	m := baseMarket()
	markets := &fakeMarkets{markets: map[string]fetcher.Market{"rain": m}}
	e := newTestEngine(markets, store, decimal.Zero)
	ctx := context.Background()
	if _, err := e.Check(ctx, "rain"); err != nil {
		t.Fatal(err)
	}

	next := baseMarket()
	next["resolutionSource"] = "https://b.example"
	markets.markets["rain"] = next

	changes, err := e.Check(ctx, "rain")
	if err != nil {
		t.Fatal(err)
	}
	if len(changes) != 1 {
		t.Fatalf("expected exactly one change, got %v", kinds(changes))
	}
	c := changes[0]
	if c.Kind != KindResolutionSourceChanged || *c.OldValue != "https://a.example" || *c.NewValue != "https://b.example" {
		t.Fatalf("unexpected change %+v", c)
	}
}

func TestFieldChangesAreOrdered(t *testing.T) {
	store := newFakeStore()
	markets := &fakeMarkets{markets: map[string]fetcher.Market{"rain": baseMarket()}}
	e := newTestEngine(markets, store, decimal.Zero)
	ctx := context.Background()
	if _, err := e.Check(ctx, "rain"); err != nil {
		t.Fatal(err)
	}

	next := baseMarket()
	next["question"] = "Will it pour?"
	next["closed"] = true
	next["restricted"] = true
	next["endDate"] = "2027-01-01T00:00:00Z"
	next["outcomes"] = []any{"Yes", "No", "Maybe"}
	next["description"] = "Resolves YES if it rains!"
	next["updatedAt"] = "2026-10-02T00:00:00Z"
	markets.markets["rain"] = next

	changes, err := e.Check(ctx, "rain")
	if err != nil {
		t.Fatal(err)
	}
	want := []string{
		KindQuestionChanged,
		KindStatusChanged,
		KindRestrictedChanged,
		KindEndDateChanged,
		KindOutcomesChanged,
		KindDescriptionChanged,
	}
	got := kinds(changes)
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Fatalf("got %v want %v", got, want)
	}
	if *changes[1].OldValue != "1/0" || *changes[1].NewValue != "1/1" {
		t.Fatalf("unexpected status values %+v", changes[1])
	}
	if *changes[4].NewValue != `["Yes","No","Maybe"]` {
		t.Fatalf("unexpected outcomes value %s", *changes[4].NewValue)
	}
}

func TestValueToNullIsAChange(t *testing.T) {
	store := newFakeStore()
	markets := &fakeMarkets{markets: map[string]fetcher.Market{"rain": baseMarket()}}
	e := newTestEngine(markets, store, decimal.Zero)
	ctx := context.Background()
	if _, err := e.Check(ctx, "rain"); err != nil {
		t.Fatal(err)
	}

	next := baseMarket()
	delete(next, "resolutionSource")
	markets.markets["rain"] = next

	changes, err := e.Check(ctx, "rain")
	if err != nil {
		t.Fatal(err)
	}
	if len(changes) != 1 || changes[0].Kind != KindResolutionSourceChanged || changes[0].NewValue != nil {
		t.Fatalf("expected change to null, got %+v", changes)
	}
}

func TestMarketMissingPreservesSnapshot(t *testing.T) {
	store := newFakeStore()
	markets := &fakeMarkets{markets: map[string]fetcher.Market{"rain": baseMarket()}}
	e := newTestEngine(markets, store, decimal.Zero)
	ctx := context.Background()
	if _, err := e.Check(ctx, "rain"); err != nil {
		t.Fatal(err)
	}
	before := *store.watches["rain"].LastMarketJSON

	delete(markets.markets, "rain")
	e.now = func() time.Time { return time.UnixMilli(1_700_000_600_000) }

	changes, err := e.Check(ctx, "rain")
	if err != nil {
		t.Fatal(err)
	}
	if len(changes) != 1 || changes[0].Kind != KindMarketMissing {
		t.Fatalf("expected market_missing, got %v", kinds(changes))
	}
	if *changes[0].OldValue != "present" || *changes[0].NewValue != "missing" {
		t.Fatalf("unexpected values %+v", changes[0])
	}
	rec := store.watches["rain"]
	if *rec.LastMarketJSON != before {
		t.Fatal("last market json must be preserved")
	}
	if rec.LastChecked != 1_700_000_600_000 {
		t.Fatalf("last checked not refreshed: %d", rec.LastChecked)
	}
}

func TestFetchErrorTreatedAsMissing(t *testing.T) {
	store := newFakeStore()
	markets := &fakeMarkets{markets: map[string]fetcher.Market{"rain": baseMarket()}}
	e := newTestEngine(markets, store, decimal.Zero)
	ctx := context.Background()
	if _, err := e.Check(ctx, "rain"); err != nil {
		t.Fatal(err)
	}

	markets.errs = map[string]error{"rain": errors.New("gamma api error (503)")}
	changes, err := e.Check(ctx, "rain")
	if err != nil {
		t.Fatal(err)
	}
	if len(changes) != 1 || changes[0].Kind != KindMarketMissing {
		t.Fatalf("expected market_missing, got %v", kinds(changes))
	}
}

func TestNoMarketNoBaselineIsNoop(t *testing.T) {
	store := newFakeStore()
	e := newTestEngine(&fakeMarkets{}, store, decimal.Zero)

	changes, err := e.Check(context.Background(), "ghost")
	if err != nil {
		t.Fatal(err)
	}
	if len(changes) != 0 || len(store.alerts) != 0 || store.upserts != 0 {
		t.Fatalf("expected no writes, got changes=%d alerts=%d upserts=%d", len(changes), len(store.alerts), store.upserts)
	}
}

func TestPriceJumpRule(t *testing.T) {
	ctx := context.Background()
	run := func(threshold string, nextPrices string) []Change {
		store := newFakeStore()
		markets := &fakeMarkets{markets: map[string]fetcher.Market{"rain": baseMarket()}}
		e := newTestEngine(markets, store, decimal.RequireFromString(threshold))
		if _, err := e.Check(ctx, "rain"); err != nil {
			t.Fatal(err)
		}
		next := baseMarket()
		next["outcomePrices"] = nextPrices
		markets.markets["rain"] = next
		changes, err := e.Check(ctx, "rain")
		if err != nil {
			t.Fatal(err)
		}
		return changes
	}

	if got := run("0", `["0.90","0.10"]`); len(got) != 0 {
		t.Fatalf("rule must be off at zero threshold, got %v", kinds(got))
	}
	got := run("0.1", `["0.50","0.50"]`)
	if len(got) != 1 || got[0].Kind != KindYesPriceJump {
		t.Fatalf("expected yes_price_jump at exact threshold, got %v", kinds(got))
	}
	if *got[0].OldValue != "0.4" || *got[0].NewValue != "0.5" {
		t.Fatalf("unexpected price values %s -> %s", *got[0].OldValue, *got[0].NewValue)
	}
	if got := run("0.1", `["0.45","0.55"]`); len(got) != 0 {
		t.Fatalf("small move must not alert, got %v", kinds(got))
	}
	if got := run("0.1", `["bad","0.55"]`); len(got) != 0 {
		t.Fatalf("non-numeric price must not alert, got %v", kinds(got))
	}
}

func TestPreviousSnapshotFallsBackToColumns(t *testing.T) {
	q := "Q"
	src := " https://a.example "
	active, closed := 1, 0
	bad := "{not json"
	snap := previousSnapshot(&storage.WatchRecord{
		Slug:                 "rain",
		Question:             &q,
		LastResolutionSource: &src,
		LastActive:           &active,
		LastClosed:           &closed,
		LastMarketJSON:       &bad,
	})
	if *snap.Question != "Q" || *snap.ResolutionSource != "https://a.example" || snap.Status() != "1/0" {
		t.Fatalf("unexpected fallback snapshot %+v", snap)
	}
	if snap.Outcomes != nil || snap.DescriptionSignature != nil {
		t.Fatal("fields absent from columns should be nil")
	}
}

func TestDescribe(t *testing.T) {
	if got := Describe(KindResolutionSourceChanged); got != "Resolution source changed" {
		t.Fatalf("unexpected label: %q", got)
	}
	if got := Describe("updated_at_changed"); got != "updated_at_changed" {
		t.Fatalf("unknown kinds should pass through, got %q", got)
	}
}
