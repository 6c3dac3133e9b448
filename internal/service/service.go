package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"pm-embed/internal/alerting"
	"pm-embed/internal/scheduler"
	"pm-embed/internal/storage"
	"pm-embed/internal/watch"
)

// ErrRunInProgress reports that another watch run holds the lock.
var ErrRunInProgress = errors.New("watch run already in progress")

// Checker runs the diff for a single slug.
type Checker interface {
	Check(ctx context.Context, slug string) ([]watch.Change, error)
}

// SlugSource lists the slugs that have evidence on file.
type SlugSource interface {
	ListTrackedSlugs(ctx context.Context, limit int) ([]string, error)
}

// Options configure a Service.
type Options struct {
	MaxSlugs   int
	ExtraSlugs []string
	LockKey    int64
	AlertsOn   bool
	SkipKinds  []string
}

// ChangeRef identifies one change in a run summary.
type ChangeRef struct {
	Slug string `json:"slug"`
	Kind string `json:"kind"`
}

// SlugError records a slug whose processing failed.
type SlugError struct {
	Slug  string `json:"slug"`
	Error string `json:"error"`
}

// RunSummary is returned to the caller of a watch run.
type RunSummary struct {
	OK          bool        `json:"ok"`
	RunID       string      `json:"runId"`
	Checked     int         `json:"checked"`
	Slugs       int         `json:"slugs"`
	ChangeCount int         `json:"changeCount"`
	Changes     []ChangeRef `json:"changes"`
	Errors      []SlugError `json:"errors"`
	RanAt       int64       `json:"ranAt"`
}

// Service 编排一次完整的 watch run：枚举 slug、加锁、逐个 diff、推送摘要。
type Service struct {
	scheduler *scheduler.Scheduler
	checker   Checker
	slugs     SlugSource
	locker    storage.AdvisoryLocker
	notifier  alerting.Notifier
	opts      Options
	logger    zerolog.Logger

	mu  sync.Mutex
	now func() time.Time
}

// New constructs the watch service. sched, locker and notifier may be nil.
func New(opts Options, sched *scheduler.Scheduler, checker Checker, slugs SlugSource, locker storage.AdvisoryLocker, notifier alerting.Notifier, logger zerolog.Logger) *Service {
	if opts.MaxSlugs <= 0 {
		opts.MaxSlugs = 1000
	}
	return &Service{
		scheduler: sched,
		checker:   checker,
		slugs:     slugs,
		locker:    locker,
		notifier:  notifier,
		opts:      opts,
		logger:    logger.With().Str("component", "service").Logger(),
		now:       time.Now,
	}
}

// Run blocks on the scheduler, triggering a watch run per tick.
func (s *Service) Run(ctx context.Context) error {
	if s.scheduler == nil {
		return fmt.Errorf("scheduler not configured")
	}
	return s.scheduler.Run(ctx, func(ctx context.Context, tick time.Time) error {
		_, err := s.RunOnce(ctx)
		if errors.Is(err, ErrRunInProgress) {
			s.logger.Debug().Time("tick", tick).Msg("skip tick because a run is in progress")
			return nil
		}
		return err
	})
}

// RunOnce performs one watch run. Overlapping runs, in this process or on
// another replica sharing the database, fail with ErrRunInProgress.
func (s *Service) RunOnce(ctx context.Context) (RunSummary, error) {
	if !s.mu.TryLock() {
		return RunSummary{}, ErrRunInProgress
	}
	defer s.mu.Unlock()

	unlock, proceed, err := s.acquireLock(ctx)
	if err != nil {
		return RunSummary{}, err
	}
	if !proceed {
		return RunSummary{}, ErrRunInProgress
	}
	if unlock != nil {
		defer unlock()
	}

	return s.execute(ctx)
}

func (s *Service) execute(ctx context.Context) (RunSummary, error) {
	slugs, err := s.TrackedSlugs(ctx)
	if err != nil {
		return RunSummary{}, err
	}

	ranAt := s.now()
	summary := RunSummary{
		OK:      true,
		RunID:   uuid.NewString(),
		Slugs:   len(slugs),
		Changes: []ChangeRef{},
		Errors:  []SlugError{},
		RanAt:   ranAt.UnixMilli(),
	}
	logger := s.logger.With().Str("run_id", summary.RunID).Logger()

	var all []watch.Change
	for _, slug := range slugs {
		if err := ctx.Err(); err != nil {
			return summary, err
		}
		summary.Checked++

		changes, err := s.checkSlug(ctx, slug)
		if err != nil {
			logger.Error().Err(err).Str("slug", slug).Msg("slug check failed")
			summary.Errors = append(summary.Errors, SlugError{Slug: slug, Error: err.Error()})
			continue
		}
		for _, c := range changes {
			summary.Changes = append(summary.Changes, ChangeRef{Slug: c.Slug, Kind: c.Kind})
		}
		all = append(all, changes...)
	}
	summary.ChangeCount = len(summary.Changes)

	logger.Info().
		Int("slugs", summary.Slugs).
		Int("checked", summary.Checked).
		Int("changes", summary.ChangeCount).
		Int("errors", len(summary.Errors)).
		Msg("watch run complete")

	s.notify(ctx, summary, ranAt, all)
	return summary, nil
}

// checkSlug isolates one slug so a panic cannot abort the run.
func (s *Service) checkSlug(ctx context.Context, slug string) (changes []watch.Change, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return s.checker.Check(ctx, slug)
}

func (s *Service) notify(ctx context.Context, summary RunSummary, ranAt time.Time, changes []watch.Change) {
	if !s.opts.AlertsOn || s.notifier == nil {
		return
	}
	relevant := alerting.Filter(changes, s.opts.SkipKinds)
	if len(relevant) == 0 {
		return
	}
	note := alerting.Notification{
		RunID:   summary.RunID,
		RanAt:   ranAt,
		Checked: summary.Checked,
		Changes: relevant,
	}
	if err := s.notifier.Notify(ctx, note); err != nil {
		s.logger.Error().Err(err).Str("run_id", summary.RunID).Msg("failed to dispatch change summary")
	}
}

// TrackedSlugs returns evidence slugs plus configured extras, sorted and
// de-duplicated.
func (s *Service) TrackedSlugs(ctx context.Context) ([]string, error) {
	var base []string
	if s.slugs != nil {
		listed, err := s.slugs.ListTrackedSlugs(ctx, s.opts.MaxSlugs)
		if err != nil {
			return nil, fmt.Errorf("list tracked slugs: %w", err)
		}
		base = listed
	}
	return mergeSlugs(base, s.opts.ExtraSlugs), nil
}

func mergeSlugs(lists ...[]string) []string {
	seen := map[string]struct{}{}
	out := []string{}
	for _, list := range lists {
		for _, slug := range list {
			slug = strings.TrimSpace(slug)
			if slug == "" {
				continue
			}
			if _, ok := seen[slug]; ok {
				continue
			}
			seen[slug] = struct{}{}
			out = append(out, slug)
		}
	}
	sort.Strings(out)
	return out
}

func (s *Service) acquireLock(ctx context.Context) (func(), bool, error) {
	if s.opts.LockKey == 0 || s.locker == nil {
		return nil, true, nil
	}
	unlock, acquired, err := s.locker.TryAdvisoryLock(ctx, s.opts.LockKey)
	if err != nil {
		return nil, false, fmt.Errorf("acquire advisory lock: %w", err)
	}
	if !acquired {
		return nil, false, nil
	}
	return unlock, true, nil
}
