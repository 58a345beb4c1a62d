package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"price-oracle/internal/alerting"
)

// SimulateAlert 通过给定的中位数/EMA 价格模拟一次告警推送。
func (a *App) SimulateAlert(ctx context.Context, assetID string, median, ema decimal.Decimal) error {
	if !a.Config.Alerting.Enabled {
		return errors.New("alerting 未启用")
	}
	if ema.IsZero() {
		return errors.New("ema 不能为 0")
	}

	notifier := a.newNotifier()
	if notifier == nil {
		return errors.New("未配置任何告警通道")
	}

	threshold := decimal.NewFromFloat(a.Config.Alerting.ThresholdPct)
	deviation := alerting.Deviation(median, ema)
	if !deviation.Abs().GreaterThan(threshold) {
		fmt.Fprintf(a.Out, "deviation %s%% within threshold %s%%; no alert\n", formatDecimal(deviation, 3), threshold.String())
		return nil
	}

	note := alerting.Notification{
		Bucket:        time.Now().UTC().Truncate(a.Config.Scheduler.Interval),
		AssetID:       assetID,
		PeriodSec:     a.Config.Alerting.EMAPeriod,
		MedianPrice:   median,
		EMAPrice:      ema,
		DeviationPct:  deviation,
		ThresholdPct:  threshold,
		Direction:     alerting.Direction(deviation),
		Channels:      a.Config.Alerting.Channels,
		AdditionalMsg: "simulated",
	}
	if err := notifier.Notify(ctx, note); err != nil {
		return err
	}
	fmt.Fprintf(a.Out, "alert dispatched: deviation %s%% (%s)\n", formatDecimal(deviation, 3), note.Direction)
	return nil
}
