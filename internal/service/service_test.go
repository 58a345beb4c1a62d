package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"price-oracle/internal/alerting"
	"price-oracle/internal/clock"
	"price-oracle/internal/config"
	"price-oracle/internal/fetcher"
	"price-oracle/internal/oracle"
	"price-oracle/internal/price"
	"price-oracle/internal/storage"
)

type switchFetcher struct {
	mu    sync.Mutex
	price price.Price
	err   error
}

func (f *switchFetcher) set(p price.Price) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.price = p
}

func (f *switchFetcher) FetchPrice(context.Context) (price.Price, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.price, f.err
}

type sampleKey struct {
	bucket  time.Time
	assetID string
}

type memHistory struct {
	mu       sync.Mutex
	samples  map[sampleKey]storage.PriceSample
	locked   bool
	lockKeys []int64
}

func newMemHistory() *memHistory {
	return &memHistory{samples: make(map[sampleKey]storage.PriceSample)}
}

func (h *memHistory) UpsertPriceSample(_ context.Context, s storage.PriceSample) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.samples[sampleKey{s.Bucket, s.AssetID}] = s
	return nil
}

func (h *memHistory) ListSamplesBetween(context.Context, time.Time, time.Time, string) ([]storage.PriceSample, error) {
	return nil, nil
}

func (h *memHistory) ListRecentSamples(context.Context, int) ([]storage.PriceSample, error) {
	return nil, nil
}

func (h *memHistory) CountSamples(context.Context) (int64, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return int64(len(h.samples)), nil
}

func (h *memHistory) TryAdvisoryLock(_ context.Context, key int64) (func(), bool, error) {
	h.lockKeys = append(h.lockKeys, key)
	if h.locked {
		return nil, false, nil
	}
	return func() {}, true, nil
}

func (h *memHistory) get(bucket time.Time, id string) (storage.PriceSample, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	s, ok := h.samples[sampleKey{bucket, id}]
	return s, ok
}

type memAlerts struct {
	records []storage.AlertRecord
}

func (a *memAlerts) InsertAlert(_ context.Context, r storage.AlertRecord) (storage.AlertRecord, error) {
	r.ID = int64(len(a.records) + 1)
	a.records = append(a.records, r)
	return r, nil
}

func (a *memAlerts) ListRecentAlerts(context.Context, int) ([]storage.AlertRecord, error) {
	return a.records, nil
}

func (a *memAlerts) DeleteAlertsBefore(context.Context, time.Time) error { return nil }

type recordingNotifier struct {
	notes []alerting.Notification
}

func (n *recordingNotifier) Notify(_ context.Context, note alerting.Notification) error {
	n.notes = append(n.notes, note)
	return nil
}

type feederFixture struct {
	ctx      context.Context
	clock    *clock.Fixed
	oracle   *oracle.Service
	feeder   *Service
	wnear    *switchFetcher
	history  *memHistory
	alerts   *memAlerts
	notifier *recordingNotifier
}

var bucket0 = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func newFeederFixture(t *testing.T, lockKey int64) *feederFixture {
	t.Helper()
	cfg := &config.Config{
		Scheduler: config.SchedulerConfig{Interval: time.Minute, AdvisoryLockKey: lockKey},
		Feeder: config.FeederConfig{
			Enabled:    true,
			OracleID:   "feeder.near",
			EMAPeriods: []uint32{60, 600},
		},
		Alerting: config.AlertingConfig{
			Enabled:      true,
			ThresholdPct: 1,
			EMAPeriod:    60,
			Cooldown:     30 * time.Minute,
			Channels:     []string{"telegram"},
		},
	}

	usdc, err := fetcher.NewStatic("1", 6)
	require.NoError(t, err)
	f := &feederFixture{
		ctx:      context.Background(),
		clock:    clock.NewFixed(clock.FromTime(bucket0)),
		wnear:    &switchFetcher{price: price.New(3_000000, 6)},
		history:  newMemHistory(),
		alerts:   &memAlerts{},
		notifier: &recordingNotifier{},
	}
	f.oracle = oracle.New(storage.NewMemoryStore(), f.clock, 90, zerolog.Nop())
	sources := []fetcher.Source{
		{AssetID: "usdc", Fetcher: usdc},
		{AssetID: "wnear", Fetcher: f.wnear},
		{AssetID: "broken", Fetcher: &switchFetcher{err: errors.New("rpc down")}},
	}
	f.feeder = New(cfg, nil, f.oracle, sources, f.history, f.alerts, f.notifier, zerolog.Nop())
	require.NoError(t, f.feeder.Bootstrap(f.ctx))
	return f
}

func TestBootstrapIsIdempotent(t *testing.T) {
	f := newFeederFixture(t, 0)
	require.NoError(t, f.feeder.Bootstrap(f.ctx))

	asset, ok, err := f.oracle.GetAsset(f.ctx, "wnear")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Len(t, asset.EMAs, 2)

	stats, ok, err := f.oracle.GetOracle(f.ctx, "feeder.near")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Zero(t, stats.ReportCount)
}

func TestProcessBucketFeedsAndSnapshots(t *testing.T) {
	f := newFeederFixture(t, 0)
	require.NoError(t, f.feeder.ProcessBucket(f.ctx, bucket0))

	usdc, ok := f.history.get(bucket0, "usdc")
	require.True(t, ok)
	assert.Equal(t, storage.SampleStatusOK, usdc.Status)
	require.NotNil(t, usdc.Multiplier)
	assert.Equal(t, "1000000", *usdc.Multiplier)
	assert.Equal(t, "1", usdc.Price.Decimal.String())

	ema, ok := f.history.get(bucket0, "wnear#60")
	require.True(t, ok)
	assert.Equal(t, storage.SampleStatusOK, ema.Status)
	assert.Equal(t, "3", ema.Price.Decimal.String())

	broken, ok := f.history.get(bucket0, "broken")
	require.True(t, ok)
	assert.Equal(t, storage.SampleStatusErrored, broken.Status)
	require.NotNil(t, broken.Error)
	assert.Contains(t, *broken.Error, "rpc down")

	brokenEMA, ok := f.history.get(bucket0, "broken#600")
	require.True(t, ok)
	assert.Equal(t, storage.SampleStatusUnavailable, brokenEMA.Status)

	stats, _, err := f.oracle.GetOracle(f.ctx, "feeder.near")
	require.NoError(t, err)
	assert.Equal(t, uint64(2), stats.ReportCount)
	assert.Empty(t, f.notifier.notes)
}

func TestProcessBucketAlertsOnDivergenceWithCooldown(t *testing.T) {
	f := newFeederFixture(t, 0)
	require.NoError(t, f.feeder.ProcessBucket(f.ctx, bucket0))

	f.clock.Skip(60)
	f.wnear.set(price.New(3_300000, 6))
	require.NoError(t, f.feeder.ProcessBucket(f.ctx, bucket0.Add(time.Minute)))

	require.Len(t, f.notifier.notes, 1)
	note := f.notifier.notes[0]
	assert.Equal(t, "wnear", note.AssetID)
	assert.Equal(t, uint32(60), note.PeriodSec)
	assert.Equal(t, "up", note.Direction)
	assert.True(t, note.DeviationPct.GreaterThan(note.ThresholdPct))
	require.Len(t, f.alerts.records, 1)
	assert.Equal(t, "wnear", f.alerts.records[0].AssetID)

	f.clock.Skip(60)
	f.wnear.set(price.New(3_600000, 6))
	require.NoError(t, f.feeder.ProcessBucket(f.ctx, bucket0.Add(2*time.Minute)))
	assert.Len(t, f.notifier.notes, 1, "second divergence falls inside the cooldown")
}

func TestProcessBucketSkipsWhenLockHeld(t *testing.T) {
	f := newFeederFixture(t, 42)
	f.history.locked = true

	require.NoError(t, f.feeder.ProcessBucket(f.ctx, bucket0))
	assert.Equal(t, []int64{42}, f.history.lockKeys)

	count, err := f.history.CountSamples(f.ctx)
	require.NoError(t, err)
	assert.Zero(t, count)
	stats, _, err := f.oracle.GetOracle(f.ctx, "feeder.near")
	require.NoError(t, err)
	assert.Zero(t, stats.ReportCount)
}

func TestRunRequiresScheduler(t *testing.T) {
	f := newFeederFixture(t, 0)
	assert.Error(t, f.feeder.Run(f.ctx))
}
