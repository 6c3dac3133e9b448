package app

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"pm-embed/internal/storage"
	"pm-embed/internal/watch"
)

// ShowAlerts prints recent alerts, newest first.
func (a *App) ShowAlerts(ctx context.Context, opts AlertsOptions) error {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	alerts, err := store.ListAlerts(ctx, strings.TrimSpace(opts.Slug), opts.Limit)
	if err != nil {
		return err
	}
	return writeAlerts(os.Stdout, alerts)
}

func writeAlerts(out io.Writer, alerts []storage.AlertRecord) error {
	if len(alerts) == 0 {
		_, err := fmt.Fprintln(out, "no alerts found")
		return err
	}

	writer := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Time (UTC)\tSlug\tKind\tOld\tNew\tSummary")
	for _, alert := range alerts {
		fmt.Fprintf(
			writer,
			"%s\t%s\t%s\t%s\t%s\t%s\n",
			time.UnixMilli(alert.CreatedAt).UTC().Format(time.RFC3339),
			alert.Slug,
			alert.Kind,
			cell(alert.OldValue),
			cell(alert.NewValue),
			watch.Describe(alert.Kind),
		)
	}
	return writer.Flush()
}

const maxCellChars = 48

func cell(v *string) string {
	if v == nil {
		return "-"
	}
	cleaned := strings.ReplaceAll(*v, "\n", " ")
	cleaned = strings.ReplaceAll(cleaned, "\r", " ")
	if r := []rune(cleaned); len(r) > maxCellChars {
		return string(r[:maxCellChars-1]) + "…"
	}
	return cleaned
}

// Cleanup purges every alert of kind.
func (a *App) Cleanup(ctx context.Context, kind string) error {
	kind = strings.TrimSpace(kind)
	if kind == "" {
		return fmt.Errorf("--kind is required")
	}

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	deleted, err := store.DeleteAlertsByKind(ctx, kind)
	if err != nil {
		return err
	}
	a.Logger.Info().Str("kind", kind).Int64("deleted", deleted).Msg("alerts purged")
	fmt.Fprintf(os.Stdout, "deleted %d %s alerts\n", deleted, kind)
	return nil
}
