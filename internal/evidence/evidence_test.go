package evidence

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"pm-embed/internal/fetcher"
	"pm-embed/internal/storage"
)

type stubMarkets struct {
	market fetcher.Market
	err    error
}

func (s stubMarkets) FetchMarket(context.Context, string) (fetcher.Market, error) {
	return s.market, s.err
}

type stubPages struct {
	url  string
	body string
	err  error
}

func (s *stubPages) FetchPage(_ context.Context, url string) (string, error) {
	s.url = url
	return s.body, s.err
}

type memEvidence struct {
	rows []storage.EvidenceRecord
}

func (m *memEvidence) InsertEvidence(_ context.Context, rec storage.EvidenceRecord) (int64, error) {
	rec.ID = int64(len(m.rows) + 1)
	m.rows = append(m.rows, rec)
	return rec.ID, nil
}

func (m *memEvidence) ListEvidence(_ context.Context, slug string, limit int) ([]storage.EvidenceRecord, error) {
	var out []storage.EvidenceRecord
	for i := len(m.rows) - 1; i >= 0 && len(out) < limit; i-- {
		if m.rows[i].Slug == slug {
			out = append(out, m.rows[i])
		}
	}
	return out, nil
}

func (m *memEvidence) CountEvidence(_ context.Context, slug string) (int64, error) {
	var n int64
	for _, r := range m.rows {
		if r.Slug == slug {
			n++
		}
	}
	return n, nil
}

func (m *memEvidence) ListTrackedSlugs(context.Context, int) ([]string, error) { return nil, nil }

func newService(markets fetcher.MarketFetcher, pages fetcher.PageFetcher, store *memEvidence) *Service {
	s := NewService(markets, pages, store, zerolog.Nop())
	s.now = func() time.Time { return time.UnixMilli(1_760_000_000_000) }
	return s
}

func TestSavePrefersManualURL(t *testing.T) {
	store := &memEvidence{}
	pages := &stubPages{body: "<html>rules</html>"}
	svc := newService(stubMarkets{market: fetcher.Market{
		"question":         "Will it rain?",
		"resolutionSource": "https://source.example",
	}}, pages, store)

	saved, err := svc.Save(context.Background(), SaveRequest{Slug: " rain ", ResolutionURL: "https://manual.example", Notes: " check "})
	if err != nil {
		t.Fatal(err)
	}
	if saved.Slug != "rain" || *saved.ResolutionURL != "https://manual.example" || *saved.Notes != "check" {
		t.Fatalf("unexpected result %+v", saved)
	}
	if pages.url != "https://manual.example" {
		t.Fatalf("fetched %q", pages.url)
	}

	rec := store.rows[0]
	if rec.ResolutionHTML == nil || *rec.ResolutionHTML != "<html>rules</html>" {
		t.Fatalf("page not stored: %v", rec.ResolutionHTML)
	}
	var doc map[string]any
	if err := json.Unmarshal([]byte(rec.MarketJSON), &doc); err != nil {
		t.Fatal(err)
	}
	m, ok := doc["_disputeShield"].(map[string]any)
	if !ok || m["manual_evidence_url"] != "https://manual.example" || m["question"] != "Will it rain?" {
		t.Fatalf("metadata missing: %v", doc["_disputeShield"])
	}
}

func TestSaveToleratesPageFailure(t *testing.T) {
	store := &memEvidence{}
	svc := newService(stubMarkets{market: fetcher.Market{"resolutionSource": "https://source.example"}},
		&stubPages{err: errors.New("timeout")}, store)

	saved, err := svc.Save(context.Background(), SaveRequest{Slug: "rain"})
	if err != nil {
		t.Fatal(err)
	}
	if *saved.ResolutionURL != "https://source.example" || saved.Question != nil {
		t.Fatalf("unexpected result %+v", saved)
	}
	if store.rows[0].ResolutionHTML != nil {
		t.Fatal("html should be nil after a failed fetch")
	}
}

func TestSaveErrors(t *testing.T) {
	ctx := context.Background()
	store := &memEvidence{}

	if _, err := newService(stubMarkets{}, nil, store).Save(ctx, SaveRequest{}); !errors.Is(err, ErrSlugRequired) {
		t.Fatalf("expected ErrSlugRequired, got %v", err)
	}
	if _, err := newService(stubMarkets{err: fetcher.ErrMarketNotFound}, nil, store).Save(ctx, SaveRequest{Slug: "x"}); !errors.Is(err, fetcher.ErrMarketNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if _, err := newService(stubMarkets{err: errors.New("gamma api error (500)")}, nil, store).Save(ctx, SaveRequest{Slug: "x"}); !errors.Is(err, ErrUpstream) {
		t.Fatalf("expected ErrUpstream, got %v", err)
	}
	if len(store.rows) != 0 {
		t.Fatal("failed saves must not write")
	}
}

func TestListView(t *testing.T) {
	store := &memEvidence{rows: []storage.EvidenceRecord{
		{ID: 1, Slug: "rain", MarketJSON: `{"question":"Old?","resolutionSource":"https://a.example"}`, CreatedAt: 10},
		{ID: 2, Slug: "rain", MarketJSON: `{"question":"Q","_disputeShield":{"question":"Q","notes":"n","saved_at":20}}`, CreatedAt: 20},
		{ID: 3, Slug: "rain", MarketJSON: `not json`, CreatedAt: 30},
	}}
	svc := newService(stubMarkets{}, nil, store)

	items, err := svc.List(context.Background(), "rain", 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(items) != 3 || items[0].ID != 3 {
		t.Fatalf("unexpected order %+v", items)
	}
	if items[0].Question != nil || items[0].SavedAt != 30 {
		t.Fatalf("unparseable row should fall back to row fields: %+v", items[0])
	}
	if *items[1].Notes != "n" || items[1].SavedAt != 20 {
		t.Fatalf("metadata not surfaced: %+v", items[1])
	}
	if *items[2].Question != "Old?" || *items[2].ResolutionSource != "https://a.example" || items[2].Notes != nil {
		t.Fatalf("market fields not surfaced: %+v", items[2])
	}
}
