package cli

import (
	"fmt"
	"math"

	"github.com/spf13/cobra"

	"price-oracle/internal/app"
	"price-oracle/internal/clock"
)

var (
	reportOracleID   string
	reportAssetID    string
	reportMultiplier string
	reportDecimals   uint8

	hideOracleID     string
	listOffset       int
	listLimit        int
	pricesRecencySec uint32
)

var priceCmd = &cobra.Command{
	Use:   "price [price-id...]",
	Short: "Print served prices (asset or asset#period); all assets when none given",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Price(cmd.Context(), args)
	},
}

var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Submit one price as a reporter",
	RunE: func(cmd *cobra.Command, args []string) error {
		if reportOracleID == "" || reportAssetID == "" || reportMultiplier == "" {
			return fmt.Errorf("--oracle, --asset and --multiplier must be provided")
		}
		return getApp().Report(cmd.Context(), app.ReportOptions{
			OracleID:   reportOracleID,
			AssetID:    reportAssetID,
			Multiplier: reportMultiplier,
			Decimals:   reportDecimals,
		})
	},
}

var assetCmd = &cobra.Command{
	Use:   "asset",
	Short: "Manage assets",
}

var assetAddCmd = &cobra.Command{
	Use:   "add <asset-id>",
	Short: "Create an asset",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().AddAsset(cmd.Context(), args[0])
	},
}

var assetRemoveCmd = &cobra.Command{
	Use:   "remove <asset-id>",
	Short: "Delete an asset and its reports",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().RemoveAsset(cmd.Context(), args[0])
	},
}

var assetHideCmd = &cobra.Command{
	Use:   "hide <asset-id>",
	Short: "Hide an asset on behalf of a registered reporter",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if hideOracleID == "" {
			return fmt.Errorf("--oracle must be provided")
		}
		return getApp().HideAsset(cmd.Context(), hideOracleID, args[0])
	},
}

var assetStatusCmd = &cobra.Command{
	Use:   "status <asset-id> <active|hidden>",
	Short: "Set an asset's status",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().SetAssetStatus(cmd.Context(), args[0], args[1])
	},
}

var assetEMAAddCmd = &cobra.Command{
	Use:   "ema-add <asset-id> <period-sec>",
	Short: "Attach a moving average to an asset",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		period, err := parsePeriod(args[1])
		if err != nil {
			return err
		}
		return getApp().AddAssetEMA(cmd.Context(), args[0], period)
	},
}

var assetEMARemoveCmd = &cobra.Command{
	Use:   "ema-remove <asset-id> <period-sec>",
	Short: "Detach a moving average from an asset",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		period, err := parsePeriod(args[1])
		if err != nil {
			return err
		}
		return getApp().RemoveAssetEMA(cmd.Context(), args[0], period)
	},
}

var assetListCmd = &cobra.Command{
	Use:   "list",
	Short: "List assets",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().ListAssets(cmd.Context(), listOffset, listLimit)
	},
}

var oracleCmd = &cobra.Command{
	Use:   "oracle",
	Short: "Manage reporters",
}

var oracleAddCmd = &cobra.Command{
	Use:   "add <oracle-id>",
	Short: "Register a reporter",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().AddOracle(cmd.Context(), args[0])
	},
}

var oracleRemoveCmd = &cobra.Command{
	Use:   "remove <oracle-id>",
	Short: "Deregister a reporter; its reports are kept",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().RemoveOracle(cmd.Context(), args[0])
	},
}

var oracleCleanCmd = &cobra.Command{
	Use:   "clean <oracle-id> [asset-id...]",
	Short: "Drop a deregistered reporter's reports",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().CleanOracle(cmd.Context(), args[0], args[1:])
	},
}

var oracleListCmd = &cobra.Command{
	Use:   "list",
	Short: "List registered reporters",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().ListOracles(cmd.Context(), listOffset, listLimit)
	},
}

var oraclePricesCmd = &cobra.Command{
	Use:   "prices <oracle-id> [asset-id...]",
	Short: "Print one reporter's own fresh reports",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var recency *clock.DurationSec
		if cmd.Flags().Changed("recency") {
			r := clock.DurationSec(pricesRecencySec)
			recency = &r
		}
		return getApp().OraclePrices(cmd.Context(), args[0], args[1:], recency)
	},
}

func parsePeriod(v string) (uint32, error) {
	var period uint64
	if _, err := fmt.Sscan(v, &period); err != nil || period == 0 || period > math.MaxUint32 {
		return 0, fmt.Errorf("invalid period %q", v)
	}
	return uint32(period), nil
}

func toPeriods(values []uint) ([]uint32, error) {
	periods := make([]uint32, 0, len(values))
	for _, v := range values {
		if v == 0 || v > math.MaxUint32 {
			return nil, fmt.Errorf("invalid period %d", v)
		}
		periods = append(periods, uint32(v))
	}
	return periods, nil
}

func init() {
	reportCmd.Flags().StringVar(&reportOracleID, "oracle", "", "Reporter id")
	reportCmd.Flags().StringVar(&reportAssetID, "asset", "", "Asset id")
	reportCmd.Flags().StringVar(&reportMultiplier, "multiplier", "", "Integer multiplier")
	reportCmd.Flags().Uint8Var(&reportDecimals, "decimals", 0, "Decimal exponent")

	assetHideCmd.Flags().StringVar(&hideOracleID, "oracle", "", "Registered reporter id")
	for _, c := range []*cobra.Command{assetListCmd, oracleListCmd} {
		c.Flags().IntVar(&listOffset, "offset", 0, "Entries to skip")
		c.Flags().IntVar(&listLimit, "limit", 0, "Maximum entries (0 = all)")
	}
	oraclePricesCmd.Flags().Uint32Var(&pricesRecencySec, "recency", 0, "Recency window in seconds (defaults to the configured one)")

	assetCmd.AddCommand(assetAddCmd, assetRemoveCmd, assetHideCmd, assetStatusCmd, assetEMAAddCmd, assetEMARemoveCmd, assetListCmd)
	oracleCmd.AddCommand(oracleAddCmd, oracleRemoveCmd, oracleCleanCmd, oracleListCmd, oraclePricesCmd)
}
