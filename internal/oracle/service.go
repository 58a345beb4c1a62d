// Package oracle combines reporter ledgers, medians and moving averages into
// the price queries and report submissions served to consumers.
package oracle

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/rs/zerolog"

	"price-oracle/internal/clock"
	"price-oracle/internal/ledger"
	"price-oracle/internal/price"
	"price-oracle/internal/record"
	"price-oracle/internal/storage"
)

// DefaultRecencyDuration is how long a report or EMA update stays fresh.
const DefaultRecencyDuration clock.DurationSec = 90

// Service is the aggregation facade over a record store.
type Service struct {
	store   storage.RecordStore
	clock   clock.Clock
	logger  zerolog.Logger
	recency atomic.Uint32
}

// New constructs the facade. A zero recency falls back to DefaultRecencyDuration.
func New(store storage.RecordStore, clk clock.Clock, recency clock.DurationSec, logger zerolog.Logger) *Service {
	if clk == nil {
		clk = clock.System{}
	}
	if recency == 0 {
		recency = DefaultRecencyDuration
	}
	s := &Service{
		store:  store,
		clock:  clk,
		logger: logger.With().Str("component", "oracle").Logger(),
	}
	s.recency.Store(uint32(recency))
	return s
}

// RecencyDuration returns the freshness window used by queries.
func (s *Service) RecencyDuration() clock.DurationSec {
	return clock.DurationSec(s.recency.Load())
}

// SetRecencyDuration replaces the freshness window.
func (s *Service) SetRecencyDuration(sec clock.DurationSec) {
	s.recency.Store(uint32(sec))
	s.logger.Info().Uint32("recency_duration_sec", uint32(sec)).Msg("recency duration updated")
}

// ApplyReports records a batch from one reporter at the clock's current time.
//
// An unregistered reporter or an unknown asset rejects the whole batch with an
// error wrapping ErrNotFound and nothing is persisted. Invalid prices reject
// only their own entry. Every touched asset is persisted with its ledger and
// recomputed averages in one store transaction, together with the reporter's
// stats.
func (s *Service) ApplyReports(ctx context.Context, oracleID string, batch []AssetPrice) ([]ReportOutcome, error) {
	if len(batch) == 0 {
		return nil, ErrEmptyBatch
	}
	now := s.clock.Now()
	cutoff := now.Cutoff(s.RecencyDuration())

	var outcomes []ReportOutcome
	err := s.store.Update(ctx, func(tx storage.KV) error {
		stats, ok, err := loadReporter(ctx, tx, oracleID)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%w: %q", ErrUnknownOracle, oracleID)
		}
		registered, err := NewStoreRegistry(tx).CountRegistered(ctx)
		if err != nil {
			return fmt.Errorf("count oracles: %w", err)
		}
		quorum := ledger.Quorum(registered)

		assets := make(map[string]*record.Asset, len(batch))
		order := make([]string, 0, len(batch))
		for _, item := range batch {
			if _, seen := assets[item.AssetID]; seen {
				continue
			}
			asset, ok, err := loadAsset(ctx, tx, item.AssetID)
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("%w: %q", ErrUnknownAsset, item.AssetID)
			}
			assets[item.AssetID] = &asset
			order = append(order, item.AssetID)
		}

		outcomes = make([]ReportOutcome, 0, len(batch))
		dirty := make(map[string]bool, len(assets))
		accepted := 0
		for _, item := range batch {
			if err := item.Price.Validate(); err != nil {
				s.logger.Warn().Err(err).
					Str("oracle_id", oracleID).
					Str("asset_id", item.AssetID).
					Msg("report rejected")
				outcomes = append(outcomes, ReportOutcome{
					AssetID: item.AssetID,
					Err:     fmt.Errorf("asset %q: %w", item.AssetID, err),
				})
				continue
			}

			asset := assets[item.AssetID]
			asset.Reports.Upsert(oracleID, now, item.Price)
			if len(asset.EMAs) > 0 {
				if median, ok := asset.Reports.Median(cutoff, quorum); ok {
					asset.EMAs.RecomputeAll(median, now)
					s.logger.Debug().
						Str("asset_id", item.AssetID).
						Str("median", median.String()).
						Int("emas", len(asset.EMAs)).
						Msg("ema recomputed")
				}
			}
			dirty[item.AssetID] = true
			accepted++
			outcomes = append(outcomes, ReportOutcome{AssetID: item.AssetID, Accepted: true})
		}
		if accepted == 0 {
			return nil
		}

		for _, id := range order {
			if !dirty[id] {
				continue
			}
			if err := putAsset(ctx, tx, id, *assets[id]); err != nil {
				return err
			}
		}
		stats.LastReport = now
		stats.ReportCount += uint64(accepted)
		return putReporter(ctx, tx, oracleID, stats)
	})
	if err != nil {
		return nil, err
	}
	return outcomes, nil
}

// GetPrice returns the quorum median of the asset's fresh reports. Unknown,
// hidden and under-reported assets return false without error.
func (s *Service) GetPrice(ctx context.Context, assetID string) (price.Price, bool, error) {
	quorum, err := s.quorum(ctx)
	if err != nil {
		return price.Price{}, false, err
	}
	return s.lookup(ctx, PriceID{AssetID: assetID}, s.clock.Now().Cutoff(s.RecencyDuration()), quorum)
}

// GetEMAPrice returns the asset's moving average over period. The average is
// unavailable when it was last updated before the recency window, however
// fresh the asset's reports are.
func (s *Service) GetEMAPrice(ctx context.Context, assetID string, period clock.DurationSec) (price.Price, bool, error) {
	if period == 0 {
		return price.Price{}, false, ErrInvalidPeriod
	}
	return s.lookup(ctx, PriceID{AssetID: assetID, Period: period}, s.clock.Now().Cutoff(s.RecencyDuration()), 0)
}

// GetPriceData answers a set of price ids ("asset" or "asset#period") at the
// clock's current time. A nil slice queries every stored asset.
func (s *Service) GetPriceData(ctx context.Context, priceIDs []string) (PriceData, error) {
	now := s.clock.Now()
	recency := s.RecencyDuration()
	cutoff := now.Cutoff(recency)

	if priceIDs == nil {
		ids, err := s.assetIDs(ctx)
		if err != nil {
			return PriceData{}, err
		}
		priceIDs = ids
	}
	parsed := make([]PriceID, 0, len(priceIDs))
	for _, raw := range priceIDs {
		id, err := ParsePriceID(raw)
		if err != nil {
			return PriceData{}, err
		}
		parsed = append(parsed, id)
	}

	quorum, err := s.quorum(ctx)
	if err != nil {
		return PriceData{}, err
	}

	data := PriceData{
		Timestamp:          now,
		RecencyDurationSec: recency,
		Prices:             make([]AssetOptionalPrice, 0, len(parsed)),
	}
	for i, id := range parsed {
		entry := AssetOptionalPrice{AssetID: priceIDs[i]}
		p, ok, err := s.lookup(ctx, id, cutoff, quorum)
		if err != nil {
			return PriceData{}, err
		}
		if ok {
			entry.Price = &p
		}
		data.Prices = append(data.Prices, entry)
	}
	return data, nil
}

// GetOraclePriceData returns one reporter's own fresh reports with their report
// times. recency overrides the service window when non-nil. Asset status is
// ignored.
func (s *Service) GetOraclePriceData(ctx context.Context, oracleID string, assetIDs []string, recency *clock.DurationSec) (ReporterPriceData, error) {
	now := s.clock.Now()
	window := s.RecencyDuration()
	if recency != nil {
		window = *recency
	}
	cutoff := now.Cutoff(window)

	if assetIDs == nil {
		ids, err := s.assetIDs(ctx)
		if err != nil {
			return ReporterPriceData{}, err
		}
		assetIDs = ids
	}

	data := ReporterPriceData{
		Timestamp:          now,
		RecencyDurationSec: window,
		Prices:             make([]ReporterPrice, 0, len(assetIDs)),
	}
	for _, id := range assetIDs {
		entry := ReporterPrice{AssetID: id}
		asset, ok, err := loadAsset(ctx, s.store, id)
		if err != nil {
			return ReporterPriceData{}, err
		}
		if ok {
			if rp, found := asset.Reports.Find(oracleID); found && rp.Timestamp >= cutoff {
				p, ts := rp.Price, rp.Timestamp
				entry.Price = &p
				entry.Timestamp = &ts
			}
		}
		data.Prices = append(data.Prices, entry)
	}
	return data, nil
}

// CleanOracleData removes a deregistered reporter's reports from the assets
// (every asset when assetIDs is nil). An unknown asset id aborts the whole
// cleanup. It returns the number of assets that changed.
func (s *Service) CleanOracleData(ctx context.Context, oracleID string, assetIDs []string) (int, error) {
	cleaned := 0
	err := s.store.Update(ctx, func(tx storage.KV) error {
		registered, err := NewStoreRegistry(tx).IsRegistered(ctx, oracleID)
		if err != nil {
			return err
		}
		if registered {
			return fmt.Errorf("%w: %q", ErrOracleRegistered, oracleID)
		}

		ids := assetIDs
		if ids == nil {
			if ids, err = listKeys(ctx, tx, storage.NamespaceAssets); err != nil {
				return err
			}
		}
		cleaned = 0
		for _, id := range ids {
			asset, ok, err := loadAsset(ctx, tx, id)
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("%w: %q", ErrUnknownAsset, id)
			}
			if !asset.Reports.Remove(oracleID) {
				continue
			}
			if err := putAsset(ctx, tx, id, asset); err != nil {
				return err
			}
			cleaned++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	s.logger.Info().Str("oracle_id", oracleID).Int("assets", cleaned).Msg("oracle data cleaned")
	return cleaned, nil
}

// HideAsset lets any registered reporter withdraw an asset from public queries.
func (s *Service) HideAsset(ctx context.Context, oracleID, assetID string) error {
	err := s.store.Update(ctx, func(tx storage.KV) error {
		registered, err := NewStoreRegistry(tx).IsRegistered(ctx, oracleID)
		if err != nil {
			return err
		}
		if !registered {
			return fmt.Errorf("%w: %q", ErrUnknownOracle, oracleID)
		}
		return s.mutateAsset(ctx, tx, assetID, func(a *record.Asset) error {
			a.Status = record.StatusHidden
			return nil
		})
	})
	if err != nil {
		return err
	}
	s.logger.Info().Str("oracle_id", oracleID).Str("asset_id", assetID).Msg("asset hidden")
	return nil
}

// SetAssetStatus sets the asset's visibility.
func (s *Service) SetAssetStatus(ctx context.Context, assetID string, status record.Status) error {
	err := s.store.Update(ctx, func(tx storage.KV) error {
		return s.mutateAsset(ctx, tx, assetID, func(a *record.Asset) error {
			a.Status = status
			return nil
		})
	})
	if err != nil {
		return err
	}
	s.logger.Info().Str("asset_id", assetID).Stringer("status", status).Msg("asset status updated")
	return nil
}

// lookup resolves one price id against the stored asset.
func (s *Service) lookup(ctx context.Context, id PriceID, cutoff clock.Timestamp, quorum int) (price.Price, bool, error) {
	asset, ok, err := loadAsset(ctx, s.store, id.AssetID)
	if err != nil || !ok || asset.Status != record.StatusActive {
		return price.Price{}, false, err
	}
	if !id.HasPeriod() {
		p, ok := asset.Reports.Median(cutoff, quorum)
		return p, ok, nil
	}
	i := asset.EMAs.Find(id.Period)
	if i < 0 {
		return price.Price{}, false, nil
	}
	tracker := asset.EMAs[i]
	if tracker.Timestamp < cutoff {
		return price.Price{}, false, nil
	}
	p, ok := tracker.Value()
	return p, ok, nil
}

func (s *Service) quorum(ctx context.Context) (int, error) {
	registered, err := NewStoreRegistry(s.store).CountRegistered(ctx)
	if err != nil {
		return 0, fmt.Errorf("count oracles: %w", err)
	}
	return ledger.Quorum(registered), nil
}

func (s *Service) assetIDs(ctx context.Context) ([]string, error) {
	return listKeys(ctx, s.store, storage.NamespaceAssets)
}

func (s *Service) mutateAsset(ctx context.Context, kv storage.KV, assetID string, fn func(*record.Asset) error) error {
	asset, ok, err := loadAsset(ctx, kv, assetID)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownAsset, assetID)
	}
	if err := fn(&asset); err != nil {
		return err
	}
	return putAsset(ctx, kv, assetID, asset)
}

func loadAsset(ctx context.Context, kv storage.KV, id string) (record.Asset, bool, error) {
	raw, ok, err := kv.Get(ctx, storage.NamespaceAssets, id)
	if err != nil {
		return record.Asset{}, false, fmt.Errorf("load asset %q: %w", id, err)
	}
	if !ok {
		return record.Asset{}, false, nil
	}
	asset, err := record.DecodeAsset(raw)
	if err != nil {
		return record.Asset{}, false, fmt.Errorf("decode asset %q: %w", id, err)
	}
	return asset, true, nil
}

func putAsset(ctx context.Context, kv storage.KV, id string, asset record.Asset) error {
	if err := kv.Put(ctx, storage.NamespaceAssets, id, record.EncodeAsset(asset)); err != nil {
		return fmt.Errorf("store asset %q: %w", id, err)
	}
	return nil
}

func loadReporter(ctx context.Context, kv storage.KV, id string) (record.ReporterStats, bool, error) {
	raw, ok, err := kv.Get(ctx, storage.NamespaceOracles, id)
	if err != nil {
		return record.ReporterStats{}, false, fmt.Errorf("load oracle %q: %w", id, err)
	}
	if !ok {
		return record.ReporterStats{}, false, nil
	}
	stats, err := record.DecodeReporterStats(raw)
	if err != nil {
		return record.ReporterStats{}, false, fmt.Errorf("decode oracle %q: %w", id, err)
	}
	return stats, true, nil
}

func putReporter(ctx context.Context, kv storage.KV, id string, stats record.ReporterStats) error {
	if err := kv.Put(ctx, storage.NamespaceOracles, id, record.EncodeReporterStats(stats)); err != nil {
		return fmt.Errorf("store oracle %q: %w", id, err)
	}
	return nil
}

func listKeys(ctx context.Context, kv storage.KV, ns storage.Namespace) ([]string, error) {
	entries, err := kv.List(ctx, ns, 0, 0)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", ns, err)
	}
	keys := make([]string, 0, len(entries))
	for _, e := range entries {
		keys = append(keys, e.Key)
	}
	return keys, nil
}

// IsNotFound reports whether err signals a missing asset or reporter.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
