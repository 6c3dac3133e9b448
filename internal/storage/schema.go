package storage

import (
	"context"
	"fmt"
)

var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS events (
        id        BIGSERIAL PRIMARY KEY,
        event     TEXT   NOT NULL,
        slug      TEXT   NOT NULL DEFAULT '',
        question  TEXT   NOT NULL DEFAULT '',
        pub       TEXT   NOT NULL DEFAULT '',
        article   TEXT   NOT NULL DEFAULT '',
        page_url  TEXT   NOT NULL DEFAULT '',
        referrer  TEXT   NOT NULL DEFAULT '',
        ts        BIGINT NOT NULL
    );`,
	`CREATE INDEX IF NOT EXISTS idx_events_ts ON events (ts);`,
	`CREATE INDEX IF NOT EXISTS idx_events_pub ON events (pub);`,
	`CREATE INDEX IF NOT EXISTS idx_events_article ON events (article);`,
	`CREATE INDEX IF NOT EXISTS idx_events_slug ON events (slug);`,
	`CREATE TABLE IF NOT EXISTS evidence (
        id              BIGSERIAL PRIMARY KEY,
        slug            TEXT   NOT NULL,
        market_json     TEXT   NOT NULL,
        resolution_url  TEXT,
        resolution_html TEXT,
        created_at      BIGINT NOT NULL
    );`,
	`CREATE INDEX IF NOT EXISTS idx_evidence_slug_created ON evidence (slug, created_at);`,
	`CREATE TABLE IF NOT EXISTS market_watch (
        slug                   TEXT PRIMARY KEY,
        question               TEXT,
        last_resolution_source TEXT,
        last_active            INTEGER,
        last_closed            INTEGER,
        last_updated_at        TEXT,
        last_checked           BIGINT NOT NULL DEFAULT 0,
        last_market_json       TEXT
    );`,
	`CREATE TABLE IF NOT EXISTS alerts (
        id         BIGSERIAL PRIMARY KEY,
        slug       TEXT   NOT NULL,
        kind       TEXT   NOT NULL,
        old_value  TEXT,
        new_value  TEXT,
        created_at BIGINT NOT NULL
    );`,
	`CREATE INDEX IF NOT EXISTS idx_alerts_slug_created ON alerts (slug, created_at);`,
	`CREATE INDEX IF NOT EXISTS idx_alerts_created ON alerts (created_at);`,
}

// EnsureSchema creates missing tables and indexes. It is idempotent and is
// called once at startup.
func (s *Store) EnsureSchema(ctx context.Context) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	for _, stmt := range schemaStatements {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}
