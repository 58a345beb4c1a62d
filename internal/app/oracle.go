package app

import (
	"context"
	"encoding/json"
	"fmt"

	"price-oracle/internal/clock"
	"price-oracle/internal/oracle"
	"price-oracle/internal/price"
	"price-oracle/internal/record"
)

// withOracle runs fn against the facade over the configured database.
func (a *App) withOracle(ctx context.Context, fn func(*oracle.Service) error) error {
	store, closeStore, err := a.requireStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()
	return fn(a.newOracle(store, clock.System{}))
}

func (a *App) printJSON(v any) error {
	enc := json.NewEncoder(a.Out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// Price prints the served values of price ids; no ids means every asset.
func (a *App) Price(ctx context.Context, ids []string) error {
	return a.withOracle(ctx, func(svc *oracle.Service) error {
		if len(ids) == 0 {
			ids = nil
		}
		data, err := svc.GetPriceData(ctx, ids)
		if err != nil {
			return err
		}
		return a.printJSON(data)
	})
}

// OraclePrices prints one reporter's own fresh reports.
func (a *App) OraclePrices(ctx context.Context, oracleID string, ids []string, recency *clock.DurationSec) error {
	return a.withOracle(ctx, func(svc *oracle.Service) error {
		if len(ids) == 0 {
			ids = nil
		}
		data, err := svc.GetOraclePriceData(ctx, oracleID, ids, recency)
		if err != nil {
			return err
		}
		return a.printJSON(data)
	})
}

// Report submits one price as the given reporter.
func (a *App) Report(ctx context.Context, opts ReportOptions) error {
	p, err := price.Parse(opts.Multiplier, opts.Decimals)
	if err != nil {
		return err
	}
	return a.withOracle(ctx, func(svc *oracle.Service) error {
		outcomes, err := svc.ApplyReports(ctx, opts.OracleID, []oracle.AssetPrice{{AssetID: opts.AssetID, Price: p}})
		if err != nil {
			return err
		}
		for _, o := range outcomes {
			if !o.Accepted {
				return o.Err
			}
		}
		a.Logger.Info().Str("oracle_id", opts.OracleID).Str("asset_id", opts.AssetID).Str("price", p.String()).Msg("report accepted")
		return nil
	})
}

// AddAsset creates an asset.
func (a *App) AddAsset(ctx context.Context, assetID string) error {
	return a.withOracle(ctx, func(svc *oracle.Service) error {
		return svc.AddAsset(ctx, assetID)
	})
}

// RemoveAsset deletes an asset.
func (a *App) RemoveAsset(ctx context.Context, assetID string) error {
	return a.withOracle(ctx, func(svc *oracle.Service) error {
		return svc.RemoveAsset(ctx, assetID)
	})
}

// HideAsset hides an asset on behalf of a registered reporter.
func (a *App) HideAsset(ctx context.Context, oracleID, assetID string) error {
	return a.withOracle(ctx, func(svc *oracle.Service) error {
		return svc.HideAsset(ctx, oracleID, assetID)
	})
}

// SetAssetStatus sets an asset's status by name.
func (a *App) SetAssetStatus(ctx context.Context, assetID, status string) error {
	st, err := record.ParseStatus(status)
	if err != nil {
		return err
	}
	return a.withOracle(ctx, func(svc *oracle.Service) error {
		return svc.SetAssetStatus(ctx, assetID, st)
	})
}

// AddAssetEMA attaches a moving average.
func (a *App) AddAssetEMA(ctx context.Context, assetID string, period uint32) error {
	return a.withOracle(ctx, func(svc *oracle.Service) error {
		return svc.AddAssetEMA(ctx, assetID, clock.DurationSec(period))
	})
}

// RemoveAssetEMA detaches a moving average.
func (a *App) RemoveAssetEMA(ctx context.Context, assetID string, period uint32) error {
	return a.withOracle(ctx, func(svc *oracle.Service) error {
		return svc.RemoveAssetEMA(ctx, assetID, clock.DurationSec(period))
	})
}

// ListAssets prints stored assets.
func (a *App) ListAssets(ctx context.Context, offset, limit int) error {
	return a.withOracle(ctx, func(svc *oracle.Service) error {
		assets, err := svc.ListAssets(ctx, offset, limit)
		if err != nil {
			return err
		}
		return a.printJSON(assets)
	})
}

// AddOracle registers a reporter.
func (a *App) AddOracle(ctx context.Context, oracleID string) error {
	return a.withOracle(ctx, func(svc *oracle.Service) error {
		return svc.AddOracle(ctx, oracleID)
	})
}

// RemoveOracle deregisters a reporter.
func (a *App) RemoveOracle(ctx context.Context, oracleID string) error {
	return a.withOracle(ctx, func(svc *oracle.Service) error {
		return svc.RemoveOracle(ctx, oracleID)
	})
}

// CleanOracle drops a deregistered reporter's reports.
func (a *App) CleanOracle(ctx context.Context, oracleID string, assetIDs []string) error {
	return a.withOracle(ctx, func(svc *oracle.Service) error {
		if len(assetIDs) == 0 {
			assetIDs = nil
		}
		n, err := svc.CleanOracleData(ctx, oracleID, assetIDs)
		if err != nil {
			return err
		}
		fmt.Fprintf(a.Out, "cleaned %d assets\n", n)
		return nil
	})
}

// ListOracles prints registered reporters.
func (a *App) ListOracles(ctx context.Context, offset, limit int) error {
	return a.withOracle(ctx, func(svc *oracle.Service) error {
		oracles, err := svc.ListOracles(ctx, offset, limit)
		if err != nil {
			return err
		}
		return a.printJSON(oracles)
	})
}
