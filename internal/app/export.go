package app

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
	chart "github.com/wcharczuk/go-chart/v2"

	"pm-embed/internal/storage"
)

const dayLayout = "2006-01-02"

// Export renders daily impressions and clicks as CSV and/or PNG.
func (a *App) Export(ctx context.Context, opts ExportOptions) error {
	if opts.CSVPath == "" && opts.PNGPath == "" {
		return errors.New("at least one of --csv or --png must be provided")
	}
	opts.Days = a.Config.ResolveDays(opts.Days)
	if opts.Days <= 0 {
		return errors.New("--days must be greater than zero")
	}

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	since := time.Now().UTC().AddDate(0, 0, -opts.Days).UnixMilli()
	days, err := store.DailyCounts(ctx, since)
	if err != nil {
		return err
	}
	if len(days) == 0 {
		a.Logger.Info().Int("days", opts.Days).Msg("no events found for export window")
		return nil
	}
	a.Logger.Info().Int("rows", len(days)).Msg("exporting daily counts")

	if opts.CSVPath != "" {
		if err := writeFile(opts.CSVPath, func(w io.Writer) error { return writeDailyCSV(w, days) }); err != nil {
			return err
		}
	}
	if opts.PNGPath != "" {
		if err := writeFile(opts.PNGPath, func(w io.Writer) error { return writeDailyPNG(w, days) }); err != nil {
			return err
		}
	}
	return nil
}

func dailyCTR(d storage.DailyCounts) decimal.Decimal {
	if d.Impressions <= 0 {
		return decimal.Zero
	}
	return decimal.NewFromInt(d.Clicks).DivRound(decimal.NewFromInt(d.Impressions), 4)
}

func writeDailyCSV(w io.Writer, days []storage.DailyCounts) error {
	writer := csv.NewWriter(w)
	if err := writer.Write([]string{"day", "impressions", "clicks", "ctr"}); err != nil {
		return err
	}
	for _, d := range days {
		record := []string{
			d.Day,
			strconv.FormatInt(d.Impressions, 10),
			strconv.FormatInt(d.Clicks, 10),
			dailyCTR(d).StringFixed(4),
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}
	writer.Flush()
	return writer.Error()
}

func writeDailyPNG(w io.Writer, days []storage.DailyCounts) error {
	if len(days) < 2 {
		return errors.New("at least two days of data are needed to render a chart")
	}

	x := make([]time.Time, 0, len(days))
	impressions := make([]float64, 0, len(days))
	clicks := make([]float64, 0, len(days))
	for _, d := range days {
		day, err := time.Parse(dayLayout, d.Day)
		if err != nil {
			return fmt.Errorf("parse day %q: %w", d.Day, err)
		}
		x = append(x, day)
		impressions = append(impressions, float64(d.Impressions))
		clicks = append(clicks, float64(d.Clicks))
	}

	countFormatter := func(v interface{}) string {
		return chart.FloatValueFormatterWithFormat(v, "%.0f")
	}
	graph := chart.Chart{
		Width:  1280,
		Height: 720,
		XAxis: chart.XAxis{
			ValueFormatter: chart.TimeValueFormatter,
		},
		YAxis: chart.YAxis{
			Name:           "Impressions",
			ValueFormatter: countFormatter,
		},
		YAxisSecondary: chart.YAxis{
			Name:           "Clicks",
			ValueFormatter: countFormatter,
		},
		Series: []chart.Series{
			chart.TimeSeries{
				Name:    "Impressions",
				XValues: x,
				YValues: impressions,
			},
			chart.TimeSeries{
				Name:    "Clicks",
				XValues: x,
				YValues: clicks,
				YAxis:   chart.YAxisSecondary,
			},
		},
	}
	graph.Elements = []chart.Renderable{chart.Legend(&graph)}
	return graph.Render(chart.PNG, w)
}

func writeFile(path string, write func(io.Writer) error) error {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := write(file); err != nil {
		file.Close()
		return err
	}
	return file.Close()
}
