package fetcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"pm-embed/internal/version"
)

const gammaMarketsPath = "/markets"

// maxMarketBody caps a single market response.
const maxMarketBody = 4 << 20

// GammaOptions parameterise the Gamma market fetcher.
type GammaOptions struct {
	BaseURL   string
	Timeout   time.Duration
	UserAgent string
}

// Gamma fetches market metadata from the Polymarket Gamma API.
type Gamma struct {
	opts    GammaOptions
	logger  zerolog.Logger
	client  *http.Client
	baseURL string
}

// NewGamma constructs a market fetcher.
func NewGamma(opts GammaOptions, logger zerolog.Logger) *Gamma {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://gamma-api.polymarket.com"
	}

	return &Gamma{
		opts:    opts,
		logger:  logger.With().Str("component", "gamma_fetcher").Logger(),
		client:  &http.Client{Timeout: timeout},
		baseURL: baseURL,
	}
}

// FetchMarket retrieves the market for slug. A non-2xx answer or transport
// failure is returned as an error; an empty answer as ErrMarketNotFound.
func (g *Gamma) FetchMarket(ctx context.Context, slug string) (Market, error) {
	slug = strings.TrimSpace(slug)
	if slug == "" {
		return nil, ErrMarketNotFound
	}

	endpoint := g.baseURL + gammaMarketsPath + "?slug=" + url.QueryEscape(slug)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Cache-Control", "no-store")
	if ua := strings.TrimSpace(g.opts.UserAgent); ua != "" {
		req.Header.Set("User-Agent", ua)
	} else {
		req.Header.Set("User-Agent", version.UserAgent())
	}

	resp, err := g.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("gamma request: %w", err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, maxMarketBody))
	if err != nil {
		return nil, fmt.Errorf("read gamma body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("gamma api error (%d)", resp.StatusCode)
	}

	market, err := DecodeMarket(payload)
	if err != nil {
		if errors.Is(err, ErrMarketNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("decode gamma market: %w", err)
	}

	g.logger.Debug().Str("slug", slug).Msg("market fetched")
	return market, nil
}

var _ MarketFetcher = (*Gamma)(nil)
