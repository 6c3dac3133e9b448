package fetcher

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
)

// ErrMarketNotFound reports that the upstream answered but holds no market for the slug.
var ErrMarketNotFound = errors.New("market not found")

// Market is a raw, loosely-typed upstream market object. Numbers are kept as
// json.Number so that re-serialisation is byte-stable.
type Market map[string]any

// MarketFetcher looks up a single market by slug.
type MarketFetcher interface {
	FetchMarket(ctx context.Context, slug string) (Market, error)
}

// PageFetcher downloads a resolution page for evidence capture.
type PageFetcher interface {
	FetchPage(ctx context.Context, url string) (string, error)
}

// DecodeMarket parses an upstream body that is either a market object or an
// array whose first element is the market.
func DecodeMarket(payload []byte) (Market, error) {
	trimmed := bytes.TrimSpace(payload)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil, ErrMarketNotFound
	}

	dec := json.NewDecoder(bytes.NewReader(trimmed))
	dec.UseNumber()

	if trimmed[0] == '[' {
		var list []json.RawMessage
		if err := dec.Decode(&list); err != nil {
			return nil, err
		}
		if len(list) == 0 {
			return nil, ErrMarketNotFound
		}
		return DecodeMarket(list[0])
	}

	var market Market
	if err := dec.Decode(&market); err != nil {
		return nil, err
	}
	if market == nil {
		return nil, ErrMarketNotFound
	}
	return market, nil
}

// Text returns a trimmed string field, or "" when absent or not a string.
func (m Market) Text(key string) string {
	if m == nil {
		return ""
	}
	s, _ := m[key].(string)
	return strings.TrimSpace(s)
}

// Clone returns a shallow copy so callers can attach metadata without
// mutating a cached value.
func (m Market) Clone() Market {
	out := make(Market, len(m)+1)
	for k, v := range m {
		out[k] = v
	}
	return out
}
