package service

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"pm-embed/internal/alerting"
	"pm-embed/internal/watch"
)

type fakeChecker struct {
	mu      sync.Mutex
	calls   []string
	results map[string][]watch.Change
	errs    map[string]error
	panics  map[string]bool
	block   chan struct{}
}

func (f *fakeChecker) Check(_ context.Context, slug string) ([]watch.Change, error) {
	f.mu.Lock()
	f.calls = append(f.calls, slug)
	f.mu.Unlock()
	if f.block != nil {
		<-f.block
	}
	if f.panics[slug] {
		panic("boom")
	}
	return f.results[slug], f.errs[slug]
}

type fakeSlugs []string

func (f fakeSlugs) ListTrackedSlugs(_ context.Context, limit int) ([]string, error) {
	if len(f) > limit {
		return f[:limit], nil
	}
	return f, nil
}

type fakeLocker struct {
	acquired bool
	released int
}

func (f *fakeLocker) TryAdvisoryLock(context.Context, int64) (func(), bool, error) {
	if !f.acquired {
		return nil, false, nil
	}
	return func() { f.released++ }, true, nil
}

type recordingNotifier struct {
	notes []alerting.Notification
	err   error
}

func (r *recordingNotifier) Notify(_ context.Context, n alerting.Notification) error {
	r.notes = append(r.notes, n)
	return r.err
}

func TestRunOnceIsolatesFailures(t *testing.T) {
	checker := &fakeChecker{
		results: map[string][]watch.Change{
			"a": {{Slug: "a", Kind: watch.KindWatchInitialized}},
			"c": {{Slug: "c", Kind: watch.KindStatusChanged}, {Slug: "c", Kind: watch.KindEndDateChanged}},
		},
		errs:   map[string]error{"b": errors.New("db down")},
		panics: map[string]bool{"d": true},
	}
	notifier := &recordingNotifier{}
	svc := New(Options{AlertsOn: true, SkipKinds: []string{watch.KindWatchInitialized}}, nil, checker, fakeSlugs{"c", "a", "b", "d"}, nil, notifier, zerolog.Nop())

	sum, err := svc.RunOnce(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if strings.Join(checker.calls, ",") != "a,b,c,d" {
		t.Fatalf("slugs should run sorted, got %v", checker.calls)
	}
	if !sum.OK || sum.Checked != 4 || sum.Slugs != 4 || sum.ChangeCount != 3 {
		t.Fatalf("unexpected summary %+v", sum)
	}
	if len(sum.Errors) != 2 || sum.Errors[0].Slug != "b" || !strings.Contains(sum.Errors[1].Error, "panic") {
		t.Fatalf("unexpected errors %+v", sum.Errors)
	}
	if sum.RunID == "" {
		t.Fatal("run id missing")
	}
	if len(notifier.notes) != 1 || len(notifier.notes[0].Changes) != 2 {
		t.Fatalf("expected one notification with two changes, got %+v", notifier.notes)
	}
}

func TestRunOnceNotificationFailureDoesNotFailRun(t *testing.T) {
	checker := &fakeChecker{results: map[string][]watch.Change{"a": {{Slug: "a", Kind: watch.KindMarketMissing}}}}
	notifier := &recordingNotifier{err: errors.New("telegram down")}
	svc := New(Options{AlertsOn: true}, nil, checker, fakeSlugs{"a"}, nil, notifier, zerolog.Nop())

	if _, err := svc.RunOnce(context.Background()); err != nil {
		t.Fatalf("notification failure must not fail the run: %v", err)
	}
}

func TestRunOnceSkipsNotifyWhenOnlyInitialized(t *testing.T) {
	checker := &fakeChecker{results: map[string][]watch.Change{"a": {{Slug: "a", Kind: watch.KindWatchInitialized}}}}
	notifier := &recordingNotifier{}
	svc := New(Options{AlertsOn: true, SkipKinds: []string{watch.KindWatchInitialized}}, nil, checker, fakeSlugs{"a"}, nil, notifier, zerolog.Nop())

	if _, err := svc.RunOnce(context.Background()); err != nil {
		t.Fatal(err)
	}
	if len(notifier.notes) != 0 {
		t.Fatal("initialization-only runs should not notify")
	}
}

func TestRunOnceAdvisoryLockHeld(t *testing.T) {
	checker := &fakeChecker{}
	svc := New(Options{LockKey: 42}, nil, checker, fakeSlugs{"a"}, &fakeLocker{acquired: false}, nil, zerolog.Nop())

	if _, err := svc.RunOnce(context.Background()); !errors.Is(err, ErrRunInProgress) {
		t.Fatalf("expected ErrRunInProgress, got %v", err)
	}
	if len(checker.calls) != 0 {
		t.Fatal("no slug should be checked without the lock")
	}

	locker := &fakeLocker{acquired: true}
	svc = New(Options{LockKey: 42}, nil, checker, fakeSlugs{"a"}, locker, nil, zerolog.Nop())
	if _, err := svc.RunOnce(context.Background()); err != nil {
		t.Fatal(err)
	}
	if locker.released != 1 {
		t.Fatalf("lock should be released once, got %d", locker.released)
	}
}

func TestRunOnceRejectsOverlap(t *testing.T) {
	checker := &fakeChecker{block: make(chan struct{})}
	svc := New(Options{}, nil, checker, fakeSlugs{"a"}, nil, nil, zerolog.Nop())

	done := make(chan error, 1)
	go func() {
		_, err := svc.RunOnce(context.Background())
		done <- err
	}()

	for {
		checker.mu.Lock()
		started := len(checker.calls) > 0
		checker.mu.Unlock()
		if started {
			break
		}
		time.Sleep(time.Millisecond)
	}

	if _, err := svc.RunOnce(context.Background()); !errors.Is(err, ErrRunInProgress) {
		t.Fatalf("expected ErrRunInProgress, got %v", err)
	}
	close(checker.block)
	if err := <-done; err != nil {
		t.Fatal(err)
	}
}

func TestTrackedSlugsMergesExtras(t *testing.T) {
	svc := New(Options{MaxSlugs: 2, ExtraSlugs: []string{" z ", "a", ""}}, nil, &fakeChecker{}, fakeSlugs{"b", "a", "c"}, nil, nil, zerolog.Nop())
	got, err := svc.TrackedSlugs(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if strings.Join(got, ",") != "a,b,z" {
		t.Fatalf("unexpected slugs %v", got)
	}
}
