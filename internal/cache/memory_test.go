package cache

import (
	"context"
	"testing"
	"time"
)

func TestMemoryStoreExpiry(t *testing.T) {
	ctx := context.Background()
	now := time.Unix(1_700_000_000, 0)
	s := NewMemoryStore()
	s.now = func() time.Time { return now }

	if err := s.Set(ctx, "gamma:market:a", []byte("v1"), time.Minute); err != nil {
		t.Fatal(err)
	}
	got, found, err := s.Get(ctx, "gamma:market:a")
	if err != nil || !found || string(got) != "v1" {
		t.Fatalf("expected hit, got %q found=%v err=%v", got, found, err)
	}

	now = now.Add(2 * time.Minute)
	if _, found, _ := s.Get(ctx, "gamma:market:a"); found {
		t.Fatal("entry should have expired")
	}
}

func TestMemoryStoreCopiesValues(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	value := []byte("abc")
	_ = s.Set(ctx, "k", value, 0)
	value[0] = 'z'

	got, _, _ := s.Get(ctx, "k")
	if string(got) != "abc" {
		t.Fatalf("stored value mutated: %q", got)
	}
	got[1] = 'z'
	again, _, _ := s.Get(ctx, "k")
	if string(again) != "abc" {
		t.Fatalf("returned value aliases storage: %q", again)
	}
}

func TestNewDrivers(t *testing.T) {
	if s, err := New(Options{Driver: "none"}); err != nil || s != nil {
		t.Fatalf("none driver should disable cache, got %v %v", s, err)
	}
	if _, err := New(Options{Driver: "redis"}); err == nil {
		t.Fatal("redis without address should fail")
	}
	if _, err := New(Options{Driver: "etcd"}); err == nil {
		t.Fatal("unknown driver should fail")
	}
	s, err := New(Options{Driver: "redis", RedisAddr: "127.0.0.1:6379"})
	if err != nil {
		t.Fatalf("redis driver: %v", err)
	}
	if _, ok := s.(*RedisStore); !ok {
		t.Fatalf("expected *RedisStore, got %T", s)
	}
}
