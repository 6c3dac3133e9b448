package fetcher

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog"

	"pm-embed/internal/version"
)

// PageOptions parameterise the resolution page fetcher.
type PageOptions struct {
	Timeout  time.Duration
	MaxChars int
}

// Page downloads resolution source pages, truncated to MaxChars characters.
type Page struct {
	opts   PageOptions
	logger zerolog.Logger
	client *http.Client
}

// NewPage constructs a page fetcher.
func NewPage(opts PageOptions, logger zerolog.Logger) *Page {
	if opts.Timeout <= 0 {
		opts.Timeout = 15 * time.Second
	}
	if opts.MaxChars <= 0 {
		opts.MaxChars = 120000
	}
	return &Page{
		opts:   opts,
		logger: logger.With().Str("component", "page_fetcher").Logger(),
		client: &http.Client{Timeout: opts.Timeout},
	}
}

// FetchPage returns the body of url regardless of status code, capped to
// MaxChars characters.
func (p *Page) FetchPage(ctx context.Context, url string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("User-Agent", version.UserAgent())

	resp, err := p.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch page: %w", err)
	}
	defer resp.Body.Close()

	// UTF-8 needs at most 4 bytes per character.
	raw, err := io.ReadAll(io.LimitReader(resp.Body, int64(p.opts.MaxChars)*4))
	if err != nil {
		return "", fmt.Errorf("read page: %w", err)
	}

	p.logger.Debug().Str("url", url).Int("status", resp.StatusCode).Int("bytes", len(raw)).Msg("page fetched")
	return truncateChars(string(raw), p.opts.MaxChars), nil
}

func truncateChars(s string, max int) string {
	if max <= 0 || utf8.RuneCountInString(s) <= max {
		return s
	}
	n := 0
	for i := range s {
		if n == max {
			return s[:i]
		}
		n++
	}
	return s
}

var _ PageFetcher = (*Page)(nil)
