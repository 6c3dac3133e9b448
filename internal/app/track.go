package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"pm-embed/internal/evidence"
	"pm-embed/internal/fetcher"
	"pm-embed/internal/risk"
)

// Track 为每个 slug 保存一次证据快照，使其进入 watch 列表。
func (a *App) Track(ctx context.Context, opts TrackOptions) error {
	if len(opts.Slugs) == 0 {
		return errors.New("at least one slug is required")
	}

	gamma := a.newGamma()
	if opts.DryRun {
		a.Logger.Warn().Msg("track dry-run：不会写入数据库")
		return a.previewSlugs(ctx, gamma, opts.Slugs)
	}

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	svc := evidence.NewService(gamma, a.newPages(), store, a.Logger)

	saved, failed := 0, 0
	for _, slug := range opts.Slugs {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		res, err := svc.Save(ctx, evidence.SaveRequest{
			Slug:          slug,
			ResolutionURL: opts.ResolutionURL,
			Notes:         opts.Notes,
		})
		if err != nil {
			failed++
			a.Logger.Error().Err(err).Str("slug", slug).Msg("保存证据失败")
			continue
		}
		saved++
		fmt.Fprintf(os.Stdout, "%s\tsaved\t%s\n", res.Slug, deref(res.ResolutionURL))
	}

	a.Logger.Info().Int("saved", saved).Int("failed", failed).Msg("track 完成")
	if failed > 0 {
		return fmt.Errorf("%d of %d slugs failed, see logs", failed, len(opts.Slugs))
	}
	return nil
}

// previewSlugs prints what a track run would capture.
func (a *App) previewSlugs(ctx context.Context, markets fetcher.MarketFetcher, slugs []string) error {
	now := time.Now()
	for _, slug := range slugs {
		slug = strings.TrimSpace(slug)
		market, err := markets.FetchMarket(ctx, slug)
		if err != nil {
			fmt.Fprintf(os.Stdout, "%s\terror\t%v\n", slug, err)
			continue
		}
		assessment := risk.Compute(market, now)
		fmt.Fprintf(os.Stdout, "%s\t%s\t%d\t%s\n", slug, assessment.Level, assessment.Score, market.Text("question"))
	}
	return nil
}

// IssueToken prints a signed publisher token.
func (a *App) IssueToken(pub string) error {
	token, expiresAt, err := a.newTokens().Issue(pub)
	if err != nil {
		return err
	}
	fmt.Fprintf(os.Stdout, "pub: %s\nexpires: %s\ntoken: %s\n", strings.TrimSpace(pub), expiresAt.Format(time.RFC3339), token)
	return nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
