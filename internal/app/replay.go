package app

import (
	"cmp"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"slices"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"price-oracle/internal/clock"
	"price-oracle/internal/oracle"
	"price-oracle/internal/price"
	"price-oracle/internal/storage"
)

type replayRow struct {
	line     int
	ts       clock.Timestamp
	oracleID string
	assetID  string
	price    price.Price
}

// Replay applies historical reports in timestamp order and prints the served
// median and averages after each batch. Reports sharing a timestamp and a
// reporter form one batch. Unknown reporters, assets and averages are created
// on the fly.
func (a *App) Replay(ctx context.Context, opts ReplayOptions) error {
	file, err := os.Open(opts.CSVPath)
	if err != nil {
		return err
	}
	defer file.Close()

	rows, err := readReplayCSV(file)
	if err != nil {
		return err
	}
	if len(rows) == 0 {
		return errors.New("回放文件为空")
	}
	// One batch per (timestamp, reporter), in file order within a batch.
	slices.SortStableFunc(rows, func(x, y replayRow) int {
		if c := cmp.Compare(x.ts, y.ts); c != 0 {
			return c
		}
		return strings.Compare(x.oracleID, y.oracleID)
	})

	var records storage.RecordStore
	if opts.Database {
		store, closeStore, err := a.requireStore(ctx)
		if err != nil {
			return err
		}
		defer closeStore()
		records = store
	} else {
		records = storage.NewMemoryStore()
	}

	clk := clock.NewFixed(rows[0].ts)
	svc := a.newOracle(records, clk)
	periods := make([]clock.DurationSec, 0, len(opts.EMAPeriods))
	for _, p := range opts.EMAPeriods {
		periods = append(periods, clock.DurationSec(p))
	}

	writer := tabwriter.NewWriter(a.Out, 0, 4, 2, ' ', 0)
	header := []string{"Time (UTC)", "Oracle", "Asset", "Median"}
	for _, p := range periods {
		header = append(header, fmt.Sprintf("EMA %ds", p))
	}
	fmt.Fprintln(writer, strings.Join(header, "\t"))

	batches := 0
	for start := 0; start < len(rows); {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		end := start + 1
		for end < len(rows) && rows[end].ts == rows[start].ts && rows[end].oracleID == rows[start].oracleID {
			end++
		}
		group := rows[start:end]
		start = end

		clk.Set(group[0].ts)
		batch := make([]oracle.AssetPrice, 0, len(group))
		assets := make([]string, 0, len(group))
		if err := ensureOracle(ctx, svc, group[0].oracleID); err != nil {
			return err
		}
		for _, row := range group {
			if err := ensureAsset(ctx, svc, row.assetID, periods); err != nil {
				return err
			}
			batch = append(batch, oracle.AssetPrice{AssetID: row.assetID, Price: row.price})
			if !slices.Contains(assets, row.assetID) {
				assets = append(assets, row.assetID)
			}
		}

		outcomes, err := svc.ApplyReports(ctx, group[0].oracleID, batch)
		if err != nil {
			return fmt.Errorf("line %d: %w", group[0].line, err)
		}
		for i, o := range outcomes {
			if !o.Accepted {
				a.Logger.Warn().Err(o.Err).Int("line", group[i].line).Msg("回放报告被拒绝")
			}
		}
		batches++

		for _, assetID := range assets {
			ids := []string{assetID}
			for _, p := range periods {
				ids = append(ids, oracle.PriceID{AssetID: assetID, Period: p}.String())
			}
			data, err := svc.GetPriceData(ctx, ids)
			if err != nil {
				return err
			}
			cols := []string{group[0].ts.Time().Format(time.RFC3339), group[0].oracleID, assetID}
			for _, entry := range data.Prices {
				cols = append(cols, formatPrice(entry.Price))
			}
			fmt.Fprintln(writer, strings.Join(cols, "\t"))
		}
	}

	if err := writer.Flush(); err != nil {
		return err
	}
	a.Logger.Info().Int("rows", len(rows)).Int("batches", batches).Msg("回放完成")
	return nil
}

func ensureOracle(ctx context.Context, svc *oracle.Service, oracleID string) error {
	if err := svc.AddOracle(ctx, oracleID); err != nil && !errors.Is(err, oracle.ErrOracleExists) {
		return err
	}
	return nil
}

func ensureAsset(ctx context.Context, svc *oracle.Service, assetID string, periods []clock.DurationSec) error {
	if err := svc.AddAsset(ctx, assetID); err != nil && !errors.Is(err, oracle.ErrAssetExists) {
		return err
	}
	for _, p := range periods {
		if err := svc.AddAssetEMA(ctx, assetID, p); err != nil && !errors.Is(err, oracle.ErrEMAExists) {
			return err
		}
	}
	return nil
}

func formatPrice(p *price.Price) string {
	if p == nil {
		return "-"
	}
	return p.Decimal().String()
}

// readReplayCSV parses rows of timestamp,oracle_id,asset_id,multiplier,decimals.
// Timestamps are RFC3339 or integer nanoseconds; a header row is skipped.
func readReplayCSV(r io.Reader) ([]replayRow, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = 5
	reader.TrimLeadingSpace = true
	reader.Comment = '#'

	var rows []replayRow
	for line := 1; ; line++ {
		rec, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		if line == 1 && strings.EqualFold(rec[0], "timestamp") {
			continue
		}

		ts, err := parseReplayTimestamp(rec[0])
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		decimals, err := strconv.ParseUint(rec[4], 10, 8)
		if err != nil {
			return nil, fmt.Errorf("line %d: invalid decimals %q", line, rec[4])
		}
		p, err := price.Parse(rec[3], uint8(decimals))
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		rows = append(rows, replayRow{line: line, ts: ts, oracleID: rec[1], assetID: rec[2], price: p})
	}
	return rows, nil
}

func parseReplayTimestamp(v string) (clock.Timestamp, error) {
	if ns, err := strconv.ParseUint(v, 10, 64); err == nil {
		return clock.Timestamp(ns), nil
	}
	t, err := time.Parse(time.RFC3339Nano, v)
	if err != nil {
		return 0, fmt.Errorf("invalid timestamp %q", v)
	}
	return clock.FromTime(t), nil
}
