package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"price-oracle/internal/app"
)

var (
	replayCSVPath    string
	replayEMAPeriods []uint
	replayDatabase   bool
)

var replayCmd = &cobra.Command{
	Use:   "replay",
	Short: "Replay historical reports and print medians and moving averages",
	RunE: func(cmd *cobra.Command, args []string) error {
		if replayCSVPath == "" {
			return fmt.Errorf("--csv must be provided")
		}

		periods, err := toPeriods(replayEMAPeriods)
		if err != nil {
			return err
		}

		opts := app.ReplayOptions{
			CSVPath:    replayCSVPath,
			EMAPeriods: periods,
			Database:   replayDatabase,
		}
		return getApp().Replay(cmd.Context(), opts)
	},
}

func init() {
	replayCmd.Flags().StringVar(&replayCSVPath, "csv", "", "CSV of timestamp,oracle_id,asset_id,multiplier,decimals")
	replayCmd.Flags().UintSliceVar(&replayEMAPeriods, "ema-period", nil, "Moving average periods in seconds (repeatable)")
	replayCmd.Flags().BoolVar(&replayDatabase, "db", false, "Apply reports to the configured database instead of memory")
}
