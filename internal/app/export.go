package app

import (
	"context"
	"encoding/csv"
	"errors"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
	chart "github.com/wcharczuk/go-chart/v2"

	"price-oracle/internal/storage"
)

// Export renders served price history as CSV and/or PNG.
func (a *App) Export(ctx context.Context, opts ExportOptions) error {
	if opts.CSVPath == "" && opts.PNGPath == "" {
		return errors.New("at least one of --csv or --png must be provided")
	}

	opts.MaxPoints = a.Config.ResolveMaxPoints(opts.MaxPoints)

	store, closeStore, err := a.requireStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	to := time.Now().UTC()
	if opts.To != nil {
		to = opts.To.UTC()
	}

	from := to.Add(-time.Duration(opts.MaxPoints) * a.Config.Scheduler.Interval)
	if opts.From != nil {
		from = opts.From.UTC()
	}

	if !from.Before(to) {
		return errors.New("from must be before to")
	}

	samples, err := store.ListSamplesBetween(ctx, from, to, opts.AssetID)
	if err != nil {
		return err
	}
	if len(samples) == 0 {
		a.Logger.Info().Msg("no samples found for export window")
		return nil
	}

	ids, series := groupSamples(samples)
	exported := 0
	for _, id := range ids {
		series[id] = downsampleSamples(series[id], opts.MaxPoints)
		exported += len(series[id])
	}
	a.Logger.Info().Int("total", len(samples)).Int("exported", exported).Int("series", len(ids)).Msg("exporting samples")

	if opts.CSVPath != "" {
		if err := writeSamplesCSV(opts.CSVPath, ids, series); err != nil {
			return err
		}
	}

	if opts.PNGPath != "" {
		if err := writeSamplesPNG(opts.PNGPath, ids, series); err != nil {
			return err
		}
	}

	return nil
}

// groupSamples splits samples by price id, keeping first-seen order.
func groupSamples(samples []storage.PriceSample) ([]string, map[string][]storage.PriceSample) {
	ids := make([]string, 0)
	series := make(map[string][]storage.PriceSample)
	for _, sample := range samples {
		if _, ok := series[sample.AssetID]; !ok {
			ids = append(ids, sample.AssetID)
		}
		series[sample.AssetID] = append(series[sample.AssetID], sample)
	}
	return ids, series
}

func downsampleSamples(samples []storage.PriceSample, max int) []storage.PriceSample {
	if max <= 0 || len(samples) <= max {
		return samples
	}
	if max == 1 {
		return samples[len(samples)-1:]
	}

	result := make([]storage.PriceSample, 0, max)
	step := float64(len(samples)-1) / float64(max-1)
	for i := 0; i < max; i++ {
		idx := int(math.Round(step * float64(i)))
		if idx >= len(samples) {
			idx = len(samples) - 1
		}
		result = append(result, samples[idx])
	}
	return result
}

func writeSamplesCSV(path string, ids []string, series map[string][]storage.PriceSample) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	header := []string{"bucket_ts", "asset_id", "multiplier", "decimals", "price", "status", "error"}
	if err := writer.Write(header); err != nil {
		return err
	}

	for _, id := range ids {
		for _, sample := range series[id] {
			multiplier, decimals, value, errMsg := "", "", "", ""
			if sample.Multiplier != nil {
				multiplier = *sample.Multiplier
			}
			if sample.Decimals != nil {
				decimals = strconv.Itoa(int(*sample.Decimals))
			}
			if sample.Price.Valid {
				value = sample.Price.Decimal.String()
			}
			if sample.Error != nil {
				errMsg = *sample.Error
			}
			record := []string{
				sample.Bucket.Format(time.RFC3339),
				sample.AssetID,
				multiplier,
				decimals,
				value,
				sample.Status,
				errMsg,
			}
			if err := writer.Write(record); err != nil {
				return err
			}
		}
	}

	writer.Flush()
	return writer.Error()
}

func writeSamplesPNG(path string, ids []string, series map[string][]storage.PriceSample) error {
	var lines []chart.Series
	for _, id := range ids {
		var x []time.Time
		var y []float64
		for _, sample := range series[id] {
			if !sample.Price.Valid {
				continue
			}
			x = append(x, sample.Bucket)
			y = append(y, sample.Price.Decimal.InexactFloat64())
		}
		// go-chart cannot range a single point.
		if len(x) < 2 {
			continue
		}
		lines = append(lines, chart.TimeSeries{Name: id, XValues: x, YValues: y})
	}
	if len(lines) == 0 {
		return errors.New("not enough served prices to plot")
	}

	if err := ensureDir(path); err != nil {
		return err
	}

	priceFormatter := func(v interface{}) string {
		return chart.FloatValueFormatterWithFormat(v, "%.4f")
	}
	graph := chart.Chart{
		Width:  1280,
		Height: 720,
		XAxis: chart.XAxis{
			ValueFormatter: chart.TimeValueFormatter,
		},
		YAxis: chart.YAxis{
			Name:           "Price",
			ValueFormatter: priceFormatter,
		},
		Series: lines,
	}
	graph.Elements = []chart.Renderable{chart.Legend(&graph)}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	return graph.Render(chart.PNG, file)
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}

func formatDecimal(d decimal.Decimal, places int32) string {
	return d.StringFixed(places)
}
