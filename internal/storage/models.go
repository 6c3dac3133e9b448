package storage

// WatchRecord is the last-known state of one tracked market slug.
// Timestamps are epoch milliseconds.
type WatchRecord struct {
	Slug                 string  `json:"slug"`
	Question             *string `json:"question"`
	LastResolutionSource *string `json:"last_resolution_source"`
	LastActive           *int    `json:"last_active"`
	LastClosed           *int    `json:"last_closed"`
	LastUpdatedAt        *string `json:"last_updated_at"`
	LastChecked          int64   `json:"last_checked"`
	LastMarketJSON       *string `json:"last_market_json"`
}

// AlertRecord is one detected change. Rows are append-only.
type AlertRecord struct {
	ID        int64   `json:"id"`
	Slug      string  `json:"slug"`
	Kind      string  `json:"kind"`
	OldValue  *string `json:"old_value"`
	NewValue  *string `json:"new_value"`
	CreatedAt int64   `json:"created_at"`
}

// EvidenceRecord is a saved market snapshot plus its resolution page.
type EvidenceRecord struct {
	ID             int64
	Slug           string
	MarketJSON     string
	ResolutionURL  *string
	ResolutionHTML *string
	CreatedAt      int64
}

// TrackEvent is a sanitized impression or click.
type TrackEvent struct {
	Event    string
	Slug     string
	Question string
	Pub      string
	Article  string
	PageURL  string
	Referrer string
	TS       int64
}

// StatsFilter scopes an analytics query.
type StatsFilter struct {
	Since   int64
	Pub     string
	Article string
}

// Counts aggregates raw and 30-minute-unique event totals.
type Counts struct {
	ImpressionsTotal  int64 `json:"impressions_total"`
	ClicksTotal       int64 `json:"clicks_total"`
	ImpressionsUnique int64 `json:"impressions_unique"`
	ClicksUnique      int64 `json:"clicks_unique"`
}

type PubCounts struct {
	Pub string `json:"pub"`
	Counts
}

type ArticleCounts struct {
	Article string `json:"article"`
	Counts
}

type SlugCounts struct {
	Slug     string `json:"slug"`
	Question string `json:"question"`
	Counts
}

type RecentEvent struct {
	Event   string `json:"event"`
	Pub     string `json:"pub"`
	Article string `json:"article"`
	Slug    string `json:"slug"`
	PageURL string `json:"page_url"`
	TS      int64  `json:"ts"`
}

// Stats is the result of one analytics query.
type Stats struct {
	Totals    Counts
	ByPub     []PubCounts
	ByArticle []ArticleCounts
	BySlug    []SlugCounts
	Recent    []RecentEvent
}

// DailyCounts is one UTC day of impressions and clicks.
type DailyCounts struct {
	Day         string
	Impressions int64
	Clicks      int64
}
