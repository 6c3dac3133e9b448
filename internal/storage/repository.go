package storage

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5"
)

const (
	getWatchRecordSQL = `SELECT
        slug,
        question,
        last_resolution_source,
        last_active,
        last_closed,
        last_updated_at,
        last_checked,
        last_market_json
    FROM market_watch
    WHERE slug = $1;`

	upsertWatchRecordSQL = `INSERT INTO market_watch (
        slug,
        question,
        last_resolution_source,
        last_active,
        last_closed,
        last_updated_at,
        last_checked,
        last_market_json
    ) VALUES (
        $1,$2,$3,$4,$5,$6,$7,$8
    )
    ON CONFLICT (slug) DO UPDATE
    SET
        question               = EXCLUDED.question,
        last_resolution_source = EXCLUDED.last_resolution_source,
        last_active            = EXCLUDED.last_active,
        last_closed            = EXCLUDED.last_closed,
        last_updated_at        = EXCLUDED.last_updated_at,
        last_checked           = EXCLUDED.last_checked,
        last_market_json       = EXCLUDED.last_market_json;`

	insertAlertSQL = `INSERT INTO alerts (
        slug,
        kind,
        old_value,
        new_value,
        created_at
    ) VALUES (
        $1,$2,$3,$4,$5
    )
    RETURNING id;`

	listAlertsSQL = `SELECT id, slug, kind, old_value, new_value, created_at
    FROM alerts
    ORDER BY created_at DESC, id DESC
    LIMIT $1;`

	listAlertsBySlugSQL = `SELECT id, slug, kind, old_value, new_value, created_at
    FROM alerts
    WHERE slug = $1
    ORDER BY created_at DESC, id DESC
    LIMIT $2;`

	deleteAlertsByKindSQL = `DELETE FROM alerts WHERE kind = $1;`

	insertEvidenceSQL = `INSERT INTO evidence (
        slug,
        market_json,
        resolution_url,
        resolution_html,
        created_at
    ) VALUES (
        $1,$2,$3,$4,$5
    )
    RETURNING id;`

	listEvidenceSQL = `SELECT id, slug, market_json, resolution_url, created_at
    FROM evidence
    WHERE slug = $1
    ORDER BY created_at DESC, id DESC
    LIMIT $2;`

	countEvidenceSQL = `SELECT COUNT(*) FROM evidence WHERE slug = $1;`

	listTrackedSlugsSQL = `SELECT DISTINCT slug
    FROM evidence
    ORDER BY slug
    LIMIT $1;`

	insertEventSQL = `INSERT INTO events (
        event,
        slug,
        question,
        pub,
        article,
        page_url,
        referrer,
        ts
    ) VALUES (
        $1,$2,$3,$4,$5,$6,$7,$8
    );`

	dailyCountsSQL = `SELECT
        to_char(to_timestamp(ts / 1000.0) AT TIME ZONE 'UTC', 'YYYY-MM-DD') AS day,
        SUM(CASE WHEN event = 'impression' THEN 1 ELSE 0 END) AS impressions,
        SUM(CASE WHEN event = 'click' THEN 1 ELSE 0 END) AS clicks
    FROM events
    WHERE ts >= $1
    GROUP BY day
    ORDER BY day;`
)

// uniqueKeyExpr buckets events into 30-minute windows per placement.
const uniqueKeyExpr = `((ts / 1800000)::text || ':' || pub || ':' || article || ':' || slug || ':' || page_url)`

const countsColumns = `
        SUM(CASE WHEN event = 'impression' THEN 1 ELSE 0 END) AS impressions_total,
        SUM(CASE WHEN event = 'click' THEN 1 ELSE 0 END) AS clicks_total,
        COUNT(DISTINCT CASE WHEN event = 'impression' THEN ` + uniqueKeyExpr + ` END) AS impressions_unique,
        COUNT(DISTINCT CASE WHEN event = 'click' THEN ` + uniqueKeyExpr + ` END) AS clicks_unique`

const (
	statsTopLimit    = 25
	statsRecentLimit = 50
)

// WatchStore persists per-slug watch state.
type WatchStore interface {
	GetWatchRecord(ctx context.Context, slug string) (*WatchRecord, error)
	UpsertWatchRecord(ctx context.Context, rec WatchRecord) error
}

// AlertStore defines operations on the change log.
type AlertStore interface {
	InsertAlert(ctx context.Context, alert AlertRecord) (AlertRecord, error)
	ListAlerts(ctx context.Context, slug string, limit int) ([]AlertRecord, error)
	DeleteAlertsByKind(ctx context.Context, kind string) (int64, error)
}

// EvidenceStore defines evidence persistence. Its distinct slugs are the
// tracked set for watch runs.
type EvidenceStore interface {
	InsertEvidence(ctx context.Context, rec EvidenceRecord) (int64, error)
	ListEvidence(ctx context.Context, slug string, limit int) ([]EvidenceRecord, error)
	CountEvidence(ctx context.Context, slug string) (int64, error)
	ListTrackedSlugs(ctx context.Context, limit int) ([]string, error)
}

// EventStore defines analytics persistence and aggregation.
type EventStore interface {
	InsertEvent(ctx context.Context, ev TrackEvent) error
	Stats(ctx context.Context, filter StatsFilter) (Stats, error)
	DailyCounts(ctx context.Context, since int64) ([]DailyCounts, error)
}

// GetWatchRecord returns ErrNotFound when slug has never been checked.
func (s *Store) GetWatchRecord(ctx context.Context, slug string) (*WatchRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	var rec WatchRecord
	scanErr := pool.QueryRow(ctx, getWatchRecordSQL, slug).Scan(
		&rec.Slug,
		&rec.Question,
		&rec.LastResolutionSource,
		&rec.LastActive,
		&rec.LastClosed,
		&rec.LastUpdatedAt,
		&rec.LastChecked,
		&rec.LastMarketJSON,
	)
	if errors.Is(scanErr, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if scanErr != nil {
		return nil, fmt.Errorf("get watch record: %w", scanErr)
	}
	return &rec, nil
}

// UpsertWatchRecord inserts or replaces the watch state for rec.Slug.
func (s *Store) UpsertWatchRecord(ctx context.Context, rec WatchRecord) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if _, execErr := pool.Exec(ctx, upsertWatchRecordSQL,
		rec.Slug,
		rec.Question,
		rec.LastResolutionSource,
		rec.LastActive,
		rec.LastClosed,
		rec.LastUpdatedAt,
		rec.LastChecked,
		rec.LastMarketJSON,
	); execErr != nil {
		return fmt.Errorf("upsert watch record: %w", execErr)
	}
	return nil
}

// InsertAlert appends an alert and returns it with its id.
func (s *Store) InsertAlert(ctx context.Context, alert AlertRecord) (AlertRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return AlertRecord{}, err
	}
	if scanErr := pool.QueryRow(ctx, insertAlertSQL,
		alert.Slug,
		alert.Kind,
		alert.OldValue,
		alert.NewValue,
		alert.CreatedAt,
	).Scan(&alert.ID); scanErr != nil {
		return AlertRecord{}, fmt.Errorf("insert alert: %w", scanErr)
	}
	return alert, nil
}

// ListAlerts lists the newest alerts, optionally for one slug.
func (s *Store) ListAlerts(ctx context.Context, slug string, limit int) ([]AlertRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	var rows pgx.Rows
	var queryErr error
	if slug != "" {
		rows, queryErr = pool.Query(ctx, listAlertsBySlugSQL, slug, limit)
	} else {
		rows, queryErr = pool.Query(ctx, listAlertsSQL, limit)
	}
	if queryErr != nil {
		return nil, fmt.Errorf("list alerts: %w", queryErr)
	}
	defer rows.Close()

	alerts := make([]AlertRecord, 0, limit)
	for rows.Next() {
		var rec AlertRecord
		if err := rows.Scan(&rec.ID, &rec.Slug, &rec.Kind, &rec.OldValue, &rec.NewValue, &rec.CreatedAt); err != nil {
			return nil, err
		}
		alerts = append(alerts, rec)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return alerts, nil
}

// DeleteAlertsByKind purges every alert of kind and reports how many went.
func (s *Store) DeleteAlertsByKind(ctx context.Context, kind string) (int64, error) {
	pool, err := s.getPool()
	if err != nil {
		return 0, err
	}
	tag, execErr := pool.Exec(ctx, deleteAlertsByKindSQL, kind)
	if execErr != nil {
		return 0, fmt.Errorf("delete alerts by kind: %w", execErr)
	}
	return tag.RowsAffected(), nil
}

func (s *Store) InsertEvidence(ctx context.Context, rec EvidenceRecord) (int64, error) {
	pool, err := s.getPool()
	if err != nil {
		return 0, err
	}
	var id int64
	if scanErr := pool.QueryRow(ctx, insertEvidenceSQL,
		rec.Slug,
		rec.MarketJSON,
		rec.ResolutionURL,
		rec.ResolutionHTML,
		rec.CreatedAt,
	).Scan(&id); scanErr != nil {
		return 0, fmt.Errorf("insert evidence: %w", scanErr)
	}
	return id, nil
}

// ListEvidence omits the stored page body.
func (s *Store) ListEvidence(ctx context.Context, slug string, limit int) ([]EvidenceRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}
	rows, queryErr := pool.Query(ctx, listEvidenceSQL, slug, limit)
	if queryErr != nil {
		return nil, fmt.Errorf("list evidence: %w", queryErr)
	}
	defer rows.Close()

	out := make([]EvidenceRecord, 0, limit)
	for rows.Next() {
		var rec EvidenceRecord
		if err := rows.Scan(&rec.ID, &rec.Slug, &rec.MarketJSON, &rec.ResolutionURL, &rec.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return out, nil
}

func (s *Store) CountEvidence(ctx context.Context, slug string) (int64, error) {
	pool, err := s.getPool()
	if err != nil {
		return 0, err
	}
	var count int64
	if scanErr := pool.QueryRow(ctx, countEvidenceSQL, slug).Scan(&count); scanErr != nil {
		return 0, fmt.Errorf("count evidence: %w", scanErr)
	}
	return count, nil
}

// ListTrackedSlugs returns distinct evidence slugs in lexical order.
func (s *Store) ListTrackedSlugs(ctx context.Context, limit int) ([]string, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}
	rows, queryErr := pool.Query(ctx, listTrackedSlugsSQL, limit)
	if queryErr != nil {
		return nil, fmt.Errorf("list tracked slugs: %w", queryErr)
	}
	slugs, collectErr := pgx.CollectRows(rows, pgx.RowTo[string])
	if collectErr != nil {
		return nil, fmt.Errorf("list tracked slugs: %w", collectErr)
	}
	return slugs, nil
}

func (s *Store) InsertEvent(ctx context.Context, ev TrackEvent) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if _, execErr := pool.Exec(ctx, insertEventSQL,
		ev.Event,
		ev.Slug,
		ev.Question,
		ev.Pub,
		ev.Article,
		ev.PageURL,
		ev.Referrer,
		ev.TS,
	); execErr != nil {
		return fmt.Errorf("insert event: %w", execErr)
	}
	return nil
}

// Stats aggregates events matching filter.
func (s *Store) Stats(ctx context.Context, filter StatsFilter) (Stats, error) {
	pool, err := s.getPool()
	if err != nil {
		return Stats{}, err
	}

	where, args := statsWhere(filter)
	var out Stats

	totalsSQL := `SELECT ` + countsColumns + ` FROM events WHERE ` + where + `;`
	var it, ct *int64
	var iu, cu int64
	if scanErr := pool.QueryRow(ctx, totalsSQL, args...).Scan(&it, &ct, &iu, &cu); scanErr != nil {
		return Stats{}, fmt.Errorf("stats totals: %w", scanErr)
	}
	out.Totals = Counts{ImpressionsTotal: deref(it), ClicksTotal: deref(ct), ImpressionsUnique: iu, ClicksUnique: cu}

	if out.ByPub, err = queryGrouped(ctx, pool, "pub", where, args, func(row pgx.Row) (PubCounts, error) {
		var r PubCounts
		return r, scanCounts(row, &r.Counts, &r.Pub)
	}); err != nil {
		return Stats{}, err
	}
	if out.ByArticle, err = queryGrouped(ctx, pool, "article", where, args, func(row pgx.Row) (ArticleCounts, error) {
		var r ArticleCounts
		return r, scanCounts(row, &r.Counts, &r.Article)
	}); err != nil {
		return Stats{}, err
	}
	if out.BySlug, err = queryGrouped(ctx, pool, "slug", where, args, func(row pgx.Row) (SlugCounts, error) {
		var r SlugCounts
		return r, scanCounts(row, &r.Counts, &r.Slug, &r.Question)
	}); err != nil {
		return Stats{}, err
	}

	recentSQL := `SELECT event, pub, article, slug, page_url, ts FROM events WHERE ` + where +
		` ORDER BY ts DESC LIMIT ` + strconv.Itoa(statsRecentLimit) + `;`
	rows, queryErr := pool.Query(ctx, recentSQL, args...)
	if queryErr != nil {
		return Stats{}, fmt.Errorf("stats recent: %w", queryErr)
	}
	defer rows.Close()
	for rows.Next() {
		var r RecentEvent
		if err := rows.Scan(&r.Event, &r.Pub, &r.Article, &r.Slug, &r.PageURL, &r.TS); err != nil {
			return Stats{}, err
		}
		out.Recent = append(out.Recent, r)
	}
	if rows.Err() != nil {
		return Stats{}, rows.Err()
	}
	return out, nil
}

// DailyCounts returns per-day totals since the given epoch millisecond.
func (s *Store) DailyCounts(ctx context.Context, since int64) ([]DailyCounts, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}
	rows, queryErr := pool.Query(ctx, dailyCountsSQL, since)
	if queryErr != nil {
		return nil, fmt.Errorf("daily counts: %w", queryErr)
	}
	defer rows.Close()

	out := make([]DailyCounts, 0)
	for rows.Next() {
		var d DailyCounts
		if err := rows.Scan(&d.Day, &d.Impressions, &d.Clicks); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return out, nil
}

type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func queryGrouped[T any](ctx context.Context, q querier, column, where string, args []any, scan func(pgx.Row) (T, error)) ([]T, error) {
	sql := groupedSQL(column, where)
	rows, err := q.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("stats by %s: %w", column, err)
	}
	defer rows.Close()

	out := make([]T, 0)
	for rows.Next() {
		item, err := scan(rows)
		if err != nil {
			return nil, fmt.Errorf("scan stats by %s: %w", column, err)
		}
		out = append(out, item)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return out, nil
}

func groupedSQL(column, where string) string {
	extra := ""
	if column == "slug" {
		extra = "MAX(question) AS question,"
	}
	return `SELECT ` + column + `, ` + extra + countsColumns +
		` FROM events WHERE ` + where +
		` GROUP BY ` + column +
		` ORDER BY clicks_unique DESC, impressions_unique DESC` +
		` LIMIT ` + strconv.Itoa(statsTopLimit) + `;`
}

// scanCounts scans the key columns followed by the four count columns.
func scanCounts(row pgx.Row, c *Counts, keys ...*string) error {
	dest := make([]any, 0, len(keys)+4)
	for _, k := range keys {
		dest = append(dest, k)
	}
	var it, ct *int64
	dest = append(dest, &it, &ct, &c.ImpressionsUnique, &c.ClicksUnique)
	if err := row.Scan(dest...); err != nil {
		return err
	}
	c.ImpressionsTotal = deref(it)
	c.ClicksTotal = deref(ct)
	return nil
}

func statsWhere(f StatsFilter) (string, []any) {
	clauses := []string{"ts >= $1"}
	args := []any{f.Since}
	if f.Pub != "" {
		args = append(args, f.Pub)
		clauses = append(clauses, "pub = $"+strconv.Itoa(len(args)))
	}
	if f.Article != "" {
		args = append(args, f.Article)
		clauses = append(clauses, "article = $"+strconv.Itoa(len(args)))
	}
	return strings.Join(clauses, " AND "), args
}

func deref(v *int64) int64 {
	if v == nil {
		return 0
	}
	return *v
}

var (
	_ WatchStore    = (*Store)(nil)
	_ AlertStore    = (*Store)(nil)
	_ EvidenceStore = (*Store)(nil)
	_ EventStore    = (*Store)(nil)
)
