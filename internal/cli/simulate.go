package cli

import (
	"errors"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
)

var (
	simulateAsset  string
	simulateMedian float64
	simulateEMA    float64
)

var simulateCmd = &cobra.Command{
	Use:   "simulate-alert",
	Short: "模拟一次中位数偏离 EMA 并触发告警",
	RunE: func(cmd *cobra.Command, args []string) error {
		if simulateAsset == "" {
			return errors.New("--asset 不能为空")
		}
		if simulateMedian <= 0 || simulateEMA <= 0 {
			return errors.New("--median 与 --ema 必须大于 0")
		}

		median := decimal.NewFromFloat(simulateMedian)
		ema := decimal.NewFromFloat(simulateEMA)
		return getApp().SimulateAlert(cmd.Context(), simulateAsset, median, ema)
	},
}

func init() {
	simulateCmd.Flags().StringVar(&simulateAsset, "asset", "", "资产 ID")
	simulateCmd.Flags().Float64Var(&simulateMedian, "median", 0, "中位数价格")
	simulateCmd.Flags().Float64Var(&simulateEMA, "ema", 0, "EMA 价格")
}
