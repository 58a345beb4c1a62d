package alerting

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

func sampleNote() Notification {
	return Notification{
		Bucket:       time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
		AssetID:      "wrap.near",
		PeriodSec:    3600,
		MedianPrice:  decimal.RequireFromString("3.3"),
		EMAPrice:     decimal.RequireFromString("3"),
		DeviationPct: decimal.NewFromInt(10),
		ThresholdPct: decimal.NewFromInt(2),
		Direction:    "up",
		Channels:     []string{"telegram"},
	}
}

func TestTelegramNotifierSuccess(t *testing.T) {
	received := make(map[string]string)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.Contains(r.URL.Path, "sendMessage") {
			t.Fatalf("路径应包含 sendMessage, 实际 %s", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&received); err != nil {
			t.Fatalf("解析请求体失败: %v", err)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"ok": true})
	}))
	defer srv.Close()

	notifier := NewTelegramNotifier("token", "chat", srv.URL, time.Second, testLogger())
	if err := notifier.Notify(context.Background(), sampleNote()); err != nil {
		t.Fatalf("Telegram Notify 应成功: %v", err)
	}

	if received["chat_id"] != "chat" {
		t.Fatalf("chat_id 不正确: %#v", received)
	}
	text := received["text"]
	for _, want := range []string{"wrap.near", "EMA 3600s: 3", "Median: 3.3", "Deviation: 10.000%"} {
		if !strings.Contains(text, want) {
			t.Fatalf("消息缺少 %q: %s", want, text)
		}
	}
}

func TestTelegramNotifierError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(map[string]any{"ok": false})
	}))
	defer srv.Close()

	notifier := NewTelegramNotifier("token", "chat", srv.URL, time.Second, testLogger())
	if err := notifier.Notify(context.Background(), sampleNote()); err == nil {
		t.Fatal("ok=false 应报错")
	}
}

func TestLogNotifier(t *testing.T) {
	var buf bytes.Buffer
	notifier := NewLogNotifier(zerolog.New(&buf))
	if err := notifier.Notify(context.Background(), sampleNote()); err != nil {
		t.Fatalf("LogNotifier 不应报错: %v", err)
	}
	if !strings.Contains(buf.String(), `"asset_id":"wrap.near"`) {
		t.Fatalf("日志缺少 asset_id: %s", buf.String())
	}
}

func TestDeviation(t *testing.T) {
	d := Deviation(decimal.RequireFromString("3.3"), decimal.NewFromInt(3))
	if !d.Equal(decimal.NewFromInt(10)) {
		t.Fatalf("期望 10, 实际 %s", d)
	}
	if !Deviation(decimal.NewFromInt(1), decimal.Zero).IsZero() {
		t.Fatal("EMA 为零时偏离应为零")
	}
	if Direction(d) != "up" || Direction(d.Neg()) != "down" || Direction(decimal.Zero) != "flat" {
		t.Fatal("方向分类错误")
	}
}

func testLogger() zerolog.Logger {
	return zerolog.Nop()
}
