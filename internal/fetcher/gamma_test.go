package fetcher

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"pm-embed/internal/cache"
)

func TestDecodeMarketShapes(t *testing.T) {
	m, err := DecodeMarket([]byte(`[{"slug":"a","volume24hr":123.5}]`))
	if err != nil {
		t.Fatalf("array body: %v", err)
	}
	if m.Text("slug") != "a" {
		t.Fatalf("unexpected slug %q", m.Text("slug"))
	}
	if _, ok := m["volume24hr"].(json.Number); !ok {
		t.Fatalf("numbers should decode as json.Number, got %T", m["volume24hr"])
	}

	m, err = DecodeMarket([]byte(`{"slug":" b "}`))
	if err != nil || m.Text("slug") != "b" {
		t.Fatalf("object body: %v %q", err, m.Text("slug"))
	}

	for _, body := range []string{``, `null`, `[]`} {
		if _, err := DecodeMarket([]byte(body)); !errors.Is(err, ErrMarketNotFound) {
			t.Fatalf("body %q: expected ErrMarketNotFound, got %v", body, err)
		}
	}

	if _, err := DecodeMarket([]byte(`{bad`)); err == nil || errors.Is(err, ErrMarketNotFound) {
		t.Fatalf("expected decode error, got %v", err)
	}
}

func TestGammaFetchMarket(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/markets" {
			http.NotFound(w, r)
			return
		}
		switch r.URL.Query().Get("slug") {
		case "known":
			_, _ = w.Write([]byte(`[{"slug":"known","question":"Will it?"}]`))
		case "broken":
			w.WriteHeader(http.StatusBadGateway)
		default:
			_, _ = w.Write([]byte(`[]`))
		}
	}))
	defer srv.Close()

	g := NewGamma(GammaOptions{BaseURL: srv.URL + "/", Timeout: time.Second}, zerolog.Nop())
	ctx := context.Background()

	m, err := g.FetchMarket(ctx, "known")
	if err != nil {
		t.Fatalf("fetch known: %v", err)
	}
	if m.Text("question") != "Will it?" {
		t.Fatalf("unexpected question %q", m.Text("question"))
	}

	if _, err := g.FetchMarket(ctx, "missing"); !errors.Is(err, ErrMarketNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}

	_, err = g.FetchMarket(ctx, "broken")
	if err == nil || !strings.Contains(err.Error(), "502") {
		t.Fatalf("expected upstream status error, got %v", err)
	}
}

type countingFetcher struct {
	calls  atomic.Int32
	market Market
	err    error
}

func (f *countingFetcher) FetchMarket(context.Context, string) (Market, error) {
	f.calls.Add(1)
	return f.market, f.err
}

func TestCachedMarketsStoresHitsOnly(t *testing.T) {
	ctx := context.Background()
	store := cache.NewMemoryStore()

	hit := &countingFetcher{market: Market{"slug": "a", "liquidity": json.Number("10.5")}}
	c := NewCachedMarkets(hit, store, time.Minute, zerolog.Nop())
	for i := 0; i < 3; i++ {
		m, err := c.FetchMarket(ctx, "a")
		if err != nil {
			t.Fatal(err)
		}
		if m["liquidity"] != json.Number("10.5") {
			t.Fatalf("cached market lost number fidelity: %#v", m["liquidity"])
		}
	}
	if got := hit.calls.Load(); got != 1 {
		t.Fatalf("expected one upstream call, got %d", got)
	}

	miss := &countingFetcher{err: ErrMarketNotFound}
	c = NewCachedMarkets(miss, store, time.Minute, zerolog.Nop())
	for i := 0; i < 2; i++ {
		if _, err := c.FetchMarket(ctx, "gone"); !errors.Is(err, ErrMarketNotFound) {
			t.Fatalf("expected not found, got %v", err)
		}
	}
	if got := miss.calls.Load(); got != 2 {
		t.Fatalf("misses must not be cached, got %d calls", got)
	}
}

func TestTruncateChars(t *testing.T) {
	if got := truncateChars("héllo", 2); got != "hé" {
		t.Fatalf("unexpected truncation %q", got)
	}
	if got := truncateChars("abc", 10); got != "abc" {
		t.Fatalf("short input changed: %q", got)
	}
}
