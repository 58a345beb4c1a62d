package alerting

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// Notification 封装告警上下文：中位数相对 EMA 的偏离。
type Notification struct {
	Bucket        time.Time
	AssetID       string
	PeriodSec     uint32
	MedianPrice   decimal.Decimal
	EMAPrice      decimal.Decimal
	DeviationPct  decimal.Decimal
	ThresholdPct  decimal.Decimal
	Direction     string
	Channels      []string
	AdditionalMsg string
}

// Deviation returns (median/ema - 1) * 100. A zero EMA yields zero.
func Deviation(median, ema decimal.Decimal) decimal.Decimal {
	if ema.IsZero() {
		return decimal.Zero
	}
	return median.Div(ema).Sub(decimal.NewFromInt(1)).Mul(decimal.NewFromInt(100))
}

// Direction classifies a deviation as up, down or flat.
func Direction(d decimal.Decimal) string {
	switch d.Sign() {
	case 1:
		return "up"
	case -1:
		return "down"
	default:
		return "flat"
	}
}

// Notifier 定义告警输送接口。
type Notifier interface {
	Notify(ctx context.Context, notification Notification) error
}

// TelegramNotifier 通过 Telegram Bot API 推送消息。
type TelegramNotifier struct {
	botToken string
	chatID   string
	baseURL  string
	client   *http.Client
	logger   zerolog.Logger
}

// NewTelegramNotifier 构造 Telegram 告警器。
func NewTelegramNotifier(botToken, chatID, baseURL string, timeout time.Duration, logger zerolog.Logger) *TelegramNotifier {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if baseURL == "" {
		baseURL = "https://api.telegram.org"
	}

	return &TelegramNotifier{
		botToken: botToken,
		chatID:   chatID,
		baseURL:  strings.TrimRight(baseURL, "/"),
		client:   &http.Client{Timeout: timeout},
		logger:   logger.With().Str("component", "alert_telegram").Logger(),
	}
}

// Notify 调用 sendMessage API 推送文本。
func (n *TelegramNotifier) Notify(ctx context.Context, note Notification) error {
	payload := map[string]string{
		"chat_id": n.chatID,
		"text":    renderMessage(note),
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal telegram payload: %w", err)
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", n.baseURL, n.botToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create telegram request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send telegram request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("telegram 响应码异常: %d", resp.StatusCode)
	}

	var result struct {
		OK bool `json:"ok"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err == nil {
		if !result.OK {
			return fmt.Errorf("telegram 返回 ok=false")
		}
	}

	n.logger.Info().Time("bucket", note.Bucket).
		Str("asset_id", note.AssetID).
		Str("direction", note.Direction).
		Str("channels", strings.Join(note.Channels, ",")).
		Msg("告警已发送 (Telegram)")
	return nil
}

func renderMessage(note Notification) string {
	builder := strings.Builder{}
	builder.WriteString(fmt.Sprintf("[Price Oracle Alert] %s\n", note.AssetID))
	builder.WriteString(fmt.Sprintf("Bucket: %s UTC\n", note.Bucket.UTC().Format(time.RFC3339)))
	builder.WriteString(fmt.Sprintf("Median: %s\n", note.MedianPrice.String()))
	builder.WriteString(fmt.Sprintf("EMA %ds: %s\n", note.PeriodSec, note.EMAPrice.String()))
	builder.WriteString(fmt.Sprintf("Deviation: %s%% (threshold %s%%)\n", note.DeviationPct.StringFixed(3), note.ThresholdPct.StringFixed(3)))
	builder.WriteString(fmt.Sprintf("Direction: %s\n", note.Direction))
	if len(note.Channels) > 0 {
		builder.WriteString(fmt.Sprintf("Channels: %s\n", strings.Join(note.Channels, ",")))
	}
	if note.AdditionalMsg != "" {
		builder.WriteString(note.AdditionalMsg)
	}
	return builder.String()
}

var _ Notifier = (*TelegramNotifier)(nil)

// LogNotifier 将告警写入日志，用于未配置 Telegram 的部署。
type LogNotifier struct {
	logger zerolog.Logger
}

// NewLogNotifier builds a notifier that only logs.
func NewLogNotifier(logger zerolog.Logger) *LogNotifier {
	return &LogNotifier{logger: logger.With().Str("component", "alert_log").Logger()}
}

// Notify implements Notifier.
func (n *LogNotifier) Notify(_ context.Context, note Notification) error {
	n.logger.Warn().Time("bucket", note.Bucket).
		Str("asset_id", note.AssetID).
		Uint32("period_sec", note.PeriodSec).
		Str("median", note.MedianPrice.String()).
		Str("ema", note.EMAPrice.String()).
		Str("deviation_pct", note.DeviationPct.StringFixed(3)).
		Str("direction", note.Direction).
		Msg("price divergence")
	return nil
}

var _ Notifier = (*LogNotifier)(nil)
