package app

import (
	"context"
	"errors"
	"io"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"pm-embed/internal/alerting"
	"pm-embed/internal/auth"
	"pm-embed/internal/cache"
	"pm-embed/internal/config"
	"pm-embed/internal/evidence"
	"pm-embed/internal/fetcher"
	"pm-embed/internal/handler"
	"pm-embed/internal/scheduler"
	"pm-embed/internal/service"
	"pm-embed/internal/storage"
	"pm-embed/internal/tracking"
	"pm-embed/internal/watch"
)

// App aggregates configuration and shared dependencies for the CLI commands.
type App struct {
	Config *config.Config
	Logger zerolog.Logger
}

// NewApp constructs a new application handle.
func NewApp(cfg *config.Config, logger zerolog.Logger) *App {
	return &App{Config: cfg, Logger: logger.With().Str("component", "app").Logger()}
}

func (a *App) newGamma() *fetcher.Gamma {
	return fetcher.NewGamma(fetcher.GammaOptions{
		BaseURL:   a.Config.Gamma.BaseURL,
		Timeout:   a.Config.Gamma.RequestTimeout,
		UserAgent: a.Config.Gamma.UserAgent,
	}, a.Logger)
}

func (a *App) newPages() *fetcher.Page {
	return fetcher.NewPage(fetcher.PageOptions{
		Timeout:  a.Config.Evidence.FetchTimeout,
		MaxChars: a.Config.Evidence.MaxHTMLChars,
	}, a.Logger)
}

// newCachedMarkets wraps gamma with the configured lookup cache. The returned
// closer is never nil.
func (a *App) newCachedMarkets(gamma fetcher.MarketFetcher) (fetcher.MarketFetcher, func(), error) {
	store, err := cache.New(cache.Options{
		Driver:        a.Config.Cache.Driver,
		RedisAddr:     a.Config.Cache.RedisAddr,
		RedisPassword: a.Config.Cache.RedisPassword,
		RedisDB:       a.Config.Cache.RedisDB,
	})
	if err != nil {
		return nil, nil, err
	}
	closer := func() {}
	if c, ok := store.(io.Closer); ok {
		closer = func() {
			if err := c.Close(); err != nil {
				a.Logger.Warn().Err(err).Msg("close cache")
			}
		}
	}
	return fetcher.NewCachedMarkets(gamma, store, a.Config.Cache.TTL, a.Logger), closer, nil
}

func (a *App) newNotifier() alerting.Notifier {
	if a.Config.Alerting.Telegram.Enabled {
		cfg := a.Config.Alerting.Telegram
		return alerting.NewTelegramNotifier(cfg.BotToken, cfg.ChatID, cfg.APIBase, 10*time.Second, a.Logger)
	}
	return nil
}

func (a *App) newTokens() *auth.PublisherTokens {
	return auth.NewPublisherTokens(a.Config.Embed.SigningSecret, a.Config.Embed.TokenTTL)
}

func (a *App) openStore(ctx context.Context) (*storage.Store, func(), error) {
	store, err := storage.Open(ctx, a.Config.Database)
	if err != nil {
		return nil, nil, err
	}
	if err := store.EnsureSchema(ctx); err != nil {
		store.Close()
		return nil, nil, err
	}
	return store, store.Close, nil
}

// newWatchService wires the diff engine against store. sched may be nil.
func (a *App) newWatchService(store *storage.Store, sched *scheduler.Scheduler) *service.Service {
	engine := watch.NewEngine(a.newGamma(), store, store, watch.Options{
		PriceJumpThreshold: decimal.NewFromFloat(a.Config.Watcher.PriceJumpThreshold),
	}, a.Logger)

	return service.New(service.Options{
		MaxSlugs:   a.Config.Watcher.MaxSlugs,
		ExtraSlugs: a.Config.Watcher.ExtraSlugs,
		LockKey:    a.Config.Database.AdvisoryLockKey,
		AlertsOn:   a.Config.Alerting.Enabled,
		SkipKinds:  a.Config.Alerting.SkipKinds,
	}, sched, engine, store, store, a.newNotifier(), a.Logger)
}

func (a *App) newScheduler() (*scheduler.Scheduler, error) {
	return scheduler.New(scheduler.Options{
		Interval:     a.Config.Scheduler.Interval,
		Cron:         a.Config.Scheduler.Cron,
		AlignToStart: a.Config.Scheduler.AlignToBucket,
		StartupDelay: a.Config.Scheduler.StartupDelay,
	}, a.Logger)
}

// Serve runs the HTTP API and, when enabled, the periodic watch scheduler.
func (a *App) Serve(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	var sched *scheduler.Scheduler
	if a.Config.Scheduler.Enabled {
		if sched, err = a.newScheduler(); err != nil {
			return err
		}
	}

	markets, closeCache, err := a.newCachedMarkets(a.newGamma())
	if err != nil {
		return err
	}
	defer closeCache()

	gate := auth.NewGate(a.Config.Auth.AdminAPIKey, a.Config.Auth.CronSecret)
	tokens := a.newTokens()
	svc := a.newWatchService(store, sched)
	evidenceSvc := evidence.NewService(a.newGamma(), a.newPages(), store, a.Logger)
	recorder := tracking.NewRecorder(store, tracking.NewOrigins(a.Config.Embed.AllowedOrigins), tokens, a.Logger)

	router := handler.NewRouter(a.Logger,
		&handler.HealthHandler{DB: store},
		&handler.WatchHandler{Gate: gate, Runner: svc, Logger: a.Logger},
		&handler.AlertsHandler{Gate: gate, Alerts: store, Logger: a.Logger},
		&handler.TrackHandler{Gate: gate, Tracker: recorder, Tokens: tokens, Logger: a.Logger},
		&handler.MarketHandler{Markets: markets, Evidence: evidenceSvc, Alerts: store, Logger: a.Logger},
		&handler.EvidenceHandler{Gate: gate, Evidence: evidenceSvc, Logger: a.Logger},
	)

	srv := &http.Server{
		Addr:         a.Config.Server.Addr,
		Handler:      router,
		ReadTimeout:  a.Config.Server.ReadTimeout,
		WriteTimeout: a.Config.Server.WriteTimeout,
	}

	errCh := make(chan error, 2)
	go func() {
		a.Logger.Info().Str("addr", srv.Addr).Msg("http server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()
	if sched != nil {
		go func() {
			if err := svc.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				errCh <- err
			}
		}()
	}

	select {
	case <-ctx.Done():
	case err = <-errCh:
		a.Logger.Error().Err(err).Msg("service terminated with error")
	}

	shutdownCtx, stop := context.WithTimeout(context.Background(), 10*time.Second)
	defer stop()
	if shutdownErr := srv.Shutdown(shutdownCtx); shutdownErr != nil {
		a.Logger.Warn().Err(shutdownErr).Msg("http shutdown")
	}

	a.Logger.Info().Msg("server stopped")
	return err
}

// ExportOptions hold parameters for exporting daily embed activity.
type ExportOptions struct {
	Days    int
	PNGPath string
	CSVPath string
}

// AlertsOptions configure the alerts command.
type AlertsOptions struct {
	Slug  string
	Limit int
}

// TrackOptions configure the track command.
type TrackOptions struct {
	Slugs         []string
	ResolutionURL string
	Notes         string
	DryRun        bool
}
