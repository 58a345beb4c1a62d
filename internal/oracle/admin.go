package oracle

import (
	"context"
	"fmt"

	"price-oracle/internal/clock"
	"price-oracle/internal/record"
	"price-oracle/internal/storage"
)

// AddOracle registers a reporter with empty stats.
func (s *Service) AddOracle(ctx context.Context, oracleID string) error {
	if oracleID == "" {
		return fmt.Errorf("oracle id is required")
	}
	err := s.store.Update(ctx, func(tx storage.KV) error {
		_, exists, err := loadReporter(ctx, tx, oracleID)
		if err != nil {
			return err
		}
		if exists {
			return fmt.Errorf("%w: %q", ErrOracleExists, oracleID)
		}
		return putReporter(ctx, tx, oracleID, record.ReporterStats{})
	})
	if err != nil {
		return err
	}
	s.logger.Info().Str("oracle_id", oracleID).Msg("oracle added")
	return nil
}

// RemoveOracle deregisters a reporter. Its reports stay in the ledgers until
// CleanOracleData runs.
func (s *Service) RemoveOracle(ctx context.Context, oracleID string) error {
	removed, err := s.store.Delete(ctx, storage.NamespaceOracles, oracleID)
	if err != nil {
		return fmt.Errorf("remove oracle %q: %w", oracleID, err)
	}
	if !removed {
		return fmt.Errorf("%w: %q", ErrUnknownOracle, oracleID)
	}
	s.logger.Info().Str("oracle_id", oracleID).Msg("oracle removed")
	return nil
}

// GetOracle returns a reporter's stats.
func (s *Service) GetOracle(ctx context.Context, oracleID string) (record.ReporterStats, bool, error) {
	return loadReporter(ctx, s.store, oracleID)
}

// ListOracles pages through registered reporters in id order. A non-positive
// limit returns every reporter from offset on.
func (s *Service) ListOracles(ctx context.Context, offset, limit int) ([]OracleEntry, error) {
	entries, err := s.store.List(ctx, storage.NamespaceOracles, offset, limit)
	if err != nil {
		return nil, fmt.Errorf("list oracles: %w", err)
	}
	out := make([]OracleEntry, 0, len(entries))
	for _, e := range entries {
		stats, err := record.DecodeReporterStats(e.Value)
		if err != nil {
			return nil, fmt.Errorf("decode oracle %q: %w", e.Key, err)
		}
		out = append(out, OracleEntry{ID: e.Key, Stats: stats})
	}
	return out, nil
}

// AddAsset creates an active asset with no reports or averages.
func (s *Service) AddAsset(ctx context.Context, assetID string) error {
	if err := validateAssetID(assetID); err != nil {
		return fmt.Errorf("%w: %q", err, assetID)
	}
	err := s.store.Update(ctx, func(tx storage.KV) error {
		_, exists, err := loadAsset(ctx, tx, assetID)
		if err != nil {
			return err
		}
		if exists {
			return fmt.Errorf("%w: %q", ErrAssetExists, assetID)
		}
		return putAsset(ctx, tx, assetID, record.NewAsset())
	})
	if err != nil {
		return err
	}
	s.logger.Info().Str("asset_id", assetID).Msg("asset added")
	return nil
}

// RemoveAsset deletes an asset with its reports and averages.
func (s *Service) RemoveAsset(ctx context.Context, assetID string) error {
	removed, err := s.store.Delete(ctx, storage.NamespaceAssets, assetID)
	if err != nil {
		return fmt.Errorf("remove asset %q: %w", assetID, err)
	}
	if !removed {
		return fmt.Errorf("%w: %q", ErrUnknownAsset, assetID)
	}
	s.logger.Info().Str("asset_id", assetID).Msg("asset removed")
	return nil
}

// GetAsset returns the stored asset regardless of status.
func (s *Service) GetAsset(ctx context.Context, assetID string) (record.Asset, bool, error) {
	return loadAsset(ctx, s.store, assetID)
}

// ListAssets pages through assets in id order. A non-positive limit returns
// every asset from offset on.
func (s *Service) ListAssets(ctx context.Context, offset, limit int) ([]AssetEntry, error) {
	entries, err := s.store.List(ctx, storage.NamespaceAssets, offset, limit)
	if err != nil {
		return nil, fmt.Errorf("list assets: %w", err)
	}
	out := make([]AssetEntry, 0, len(entries))
	for _, e := range entries {
		asset, err := record.DecodeAsset(e.Value)
		if err != nil {
			return nil, fmt.Errorf("decode asset %q: %w", e.Key, err)
		}
		out = append(out, AssetEntry{ID: e.Key, Asset: asset})
	}
	return out, nil
}

// AddAssetEMA attaches an unfed moving average with the period.
func (s *Service) AddAssetEMA(ctx context.Context, assetID string, period clock.DurationSec) error {
	if period == 0 {
		return ErrInvalidPeriod
	}
	err := s.store.Update(ctx, func(tx storage.KV) error {
		return s.mutateAsset(ctx, tx, assetID, func(a *record.Asset) error {
			if !a.EMAs.Add(period) {
				return fmt.Errorf("%w: %s", ErrEMAExists, PriceID{AssetID: assetID, Period: period})
			}
			return nil
		})
	})
	if err != nil {
		return err
	}
	s.logger.Info().Str("asset_id", assetID).Uint32("period_sec", uint32(period)).Msg("asset ema added")
	return nil
}

// RemoveAssetEMA detaches the moving average with the period.
func (s *Service) RemoveAssetEMA(ctx context.Context, assetID string, period clock.DurationSec) error {
	err := s.store.Update(ctx, func(tx storage.KV) error {
		return s.mutateAsset(ctx, tx, assetID, func(a *record.Asset) error {
			if !a.EMAs.Remove(period) {
				return fmt.Errorf("%w: %s", ErrEMANotFound, PriceID{AssetID: assetID, Period: period})
			}
			return nil
		})
	})
	if err != nil {
		return err
	}
	s.logger.Info().Str("asset_id", assetID).Uint32("period_sec", uint32(period)).Msg("asset ema removed")
	return nil
}
