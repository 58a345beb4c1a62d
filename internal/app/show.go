package app

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/shopspring/decimal"

	"price-oracle/internal/storage"
)

// Show prints recent samples, or recent alerts when opts.Alerts is set.
func (a *App) Show(ctx context.Context, opts ShowOptions) error {
	store, closeStore, err := a.requireStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	if opts.Alerts {
		return a.showAlerts(ctx, store, opts.Limit)
	}

	samples, err := store.ListRecentSamples(ctx, opts.Limit)
	if err != nil {
		return err
	}
	if len(samples) == 0 {
		fmt.Fprintln(a.Out, "no samples found")
		return nil
	}

	writer := tabwriter.NewWriter(a.Out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Time (UTC)\tPrice ID\tPrice\tMultiplier\tDecimals\tStatus\tError")

	for _, sample := range samples {
		errMsg := ""
		if sample.Error != nil {
			errMsg = sanitizeInline(*sample.Error)
		}
		fmt.Fprintf(
			writer,
			"%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			sample.Bucket.UTC().Format(time.RFC3339),
			sample.AssetID,
			formatNullDecimal(sample.Price),
			derefString(sample.Multiplier),
			formatDecimals(sample.Decimals),
			sample.Status,
			errMsg,
		)
	}

	return writer.Flush()
}

func (a *App) showAlerts(ctx context.Context, store storage.AlertStore, limit int) error {
	alerts, err := store.ListRecentAlerts(ctx, limit)
	if err != nil {
		return err
	}
	if len(alerts) == 0 {
		fmt.Fprintln(a.Out, "no alerts found")
		return nil
	}

	writer := tabwriter.NewWriter(a.Out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Time (UTC)\tAsset\tPeriod\tMedian\tEMA\tDeviation%\tDirection\tChannels")
	for _, alert := range alerts {
		fmt.Fprintf(
			writer,
			"%s\t%s\t%ds\t%s\t%s\t%s\t%s\t%s\n",
			alert.SampleTS.UTC().Format(time.RFC3339),
			alert.AssetID,
			alert.PeriodSec,
			alert.MedianPrice.String(),
			alert.EMAPrice.String(),
			formatDecimal(alert.DeviationPct, 3),
			alert.Direction,
			strings.Join(alert.Channels, ","),
		)
	}
	return writer.Flush()
}

func sanitizeInline(v string) string {
	cleaned := strings.ReplaceAll(v, "\n", " ")
	cleaned = strings.ReplaceAll(cleaned, "\r", " ")
	return cleaned
}

func formatNullDecimal(d decimal.NullDecimal) string {
	if !d.Valid {
		return "-"
	}
	return d.Decimal.String()
}

func formatDecimals(d *int16) string {
	if d == nil {
		return "-"
	}
	return strconv.Itoa(int(*d))
}

func derefString(s *string) string {
	if s == nil {
		return "-"
	}
	return *s
}
