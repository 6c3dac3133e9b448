package storage

import (
	"context"
	"errors"
	"strings"
	"testing"
)

func TestStatsWhere(t *testing.T) {
	where, args := statsWhere(StatsFilter{Since: 100})
	if where != "ts >= $1" || len(args) != 1 || args[0] != int64(100) {
		t.Fatalf("unexpected %q %v", where, args)
	}

	where, args = statsWhere(StatsFilter{Since: 5, Pub: "daily", Article: "a-1"})
	if where != "ts >= $1 AND pub = $2 AND article = $3" {
		t.Fatalf("unexpected where %q", where)
	}
	if len(args) != 3 || args[1] != "daily" || args[2] != "a-1" {
		t.Fatalf("unexpected args %v", args)
	}

	where, _ = statsWhere(StatsFilter{Article: "a-1"})
	if where != "ts >= $1 AND article = $2" {
		t.Fatalf("placeholders must stay dense: %q", where)
	}
}

func TestGroupedSQL(t *testing.T) {
	q := groupedSQL("slug", "ts >= $1")
	for _, want := range []string{"SELECT slug, MAX(question) AS question,", "GROUP BY slug", "LIMIT 25", "ORDER BY clicks_unique DESC, impressions_unique DESC"} {
		if !strings.Contains(q, want) {
			t.Fatalf("query missing %q:\n%s", want, q)
		}
	}
	if strings.Contains(groupedSQL("pub", "ts >= $1"), "MAX(question)") {
		t.Fatal("only the slug breakdown carries a question")
	}
}

func TestUnconfiguredStore(t *testing.T) {
	var s *Store
	ctx := context.Background()
	if _, err := s.GetWatchRecord(ctx, "x"); !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("expected ErrNotConfigured, got %v", err)
	}
	if err := NewStore(nil).Ping(ctx); !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("expected ErrNotConfigured, got %v", err)
	}
	if _, _, err := s.TryAdvisoryLock(ctx, 1); !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("expected ErrNotConfigured, got %v", err)
	}
}
