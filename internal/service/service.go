package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"price-oracle/internal/alerting"
	"price-oracle/internal/clock"
	"price-oracle/internal/config"
	"price-oracle/internal/fetcher"
	"price-oracle/internal/oracle"
	"price-oracle/internal/price"
	"price-oracle/internal/scheduler"
	"price-oracle/internal/storage"
)

// Service is the bundled reporter: it fetches configured sources, submits
// them as one batch, snapshots the served prices and raises divergence alerts.
type Service struct {
	scheduler  *scheduler.Scheduler
	oracle     *oracle.Service
	sources    []fetcher.Source
	history    storage.HistoryStore
	alertStore storage.AlertStore
	notifier   alerting.Notifier
	logger     zerolog.Logger

	oracleID    string
	emaPeriods  []clock.DurationSec
	threshold   decimal.Decimal
	alertPeriod clock.DurationSec
	cooldown    time.Duration
	channels    []string
	alertsOn    bool
	locker      storage.AdvisoryLocker
	lockKey     int64

	mu        sync.Mutex
	lastAlert map[string]time.Time
}

// New constructs the feeder.
func New(cfg *config.Config, sched *scheduler.Scheduler, oracleSvc *oracle.Service, sources []fetcher.Source, history storage.HistoryStore, alertStore storage.AlertStore, notifier alerting.Notifier, logger zerolog.Logger) *Service {
	threshold := decimal.Zero
	if cfg.Alerting.Enabled && cfg.Alerting.ThresholdPct > 0 {
		threshold = decimal.NewFromFloat(cfg.Alerting.ThresholdPct)
	}

	periods := make([]clock.DurationSec, 0, len(cfg.Feeder.EMAPeriods)+1)
	for _, p := range cfg.Feeder.EMAPeriods {
		periods = appendPeriod(periods, clock.DurationSec(p))
	}
	alertPeriod := clock.DurationSec(cfg.Alerting.EMAPeriod)
	if cfg.Alerting.Enabled && alertPeriod > 0 {
		periods = appendPeriod(periods, alertPeriod)
	}

	var locker storage.AdvisoryLocker
	if l, ok := history.(storage.AdvisoryLocker); ok {
		locker = l
	}

	return &Service{
		scheduler:   sched,
		oracle:      oracleSvc,
		sources:     sources,
		history:     history,
		alertStore:  alertStore,
		notifier:    notifier,
		logger:      logger.With().Str("component", "feeder").Logger(),
		oracleID:    cfg.Feeder.OracleID,
		emaPeriods:  periods,
		threshold:   threshold,
		alertPeriod: alertPeriod,
		cooldown:    cfg.Alerting.Cooldown,
		channels:    cfg.Alerting.Channels,
		alertsOn:    cfg.Alerting.Enabled,
		locker:      locker,
		lockKey:     cfg.Scheduler.AdvisoryLockKey,
		lastAlert:   make(map[string]time.Time),
	}
}

func appendPeriod(periods []clock.DurationSec, p clock.DurationSec) []clock.DurationSec {
	for _, existing := range periods {
		if existing == p {
			return periods
		}
	}
	return append(periods, p)
}

// Bootstrap registers the feeder reporter, its assets and their EMAs when missing.
func (s *Service) Bootstrap(ctx context.Context) error {
	if err := s.oracle.AddOracle(ctx, s.oracleID); err != nil && !errors.Is(err, oracle.ErrOracleExists) {
		return fmt.Errorf("register feeder oracle: %w", err)
	}
	for _, src := range s.sources {
		if err := s.oracle.AddAsset(ctx, src.AssetID); err != nil && !errors.Is(err, oracle.ErrAssetExists) {
			return fmt.Errorf("register asset %q: %w", src.AssetID, err)
		}
		for _, p := range s.emaPeriods {
			if err := s.oracle.AddAssetEMA(ctx, src.AssetID, p); err != nil && !errors.Is(err, oracle.ErrEMAExists) {
				return fmt.Errorf("register ema %s: %w", oracle.PriceID{AssetID: src.AssetID, Period: p}, err)
			}
		}
	}
	s.logger.Info().
		Str("oracle_id", s.oracleID).
		Int("sources", len(s.sources)).
		Int("ema_periods", len(s.emaPeriods)).
		Msg("feeder bootstrapped")
	return nil
}

// Run begins the aligned feeding loop.
func (s *Service) Run(ctx context.Context) error {
	if s.scheduler == nil {
		return fmt.Errorf("scheduler not configured")
	}
	return s.scheduler.Run(ctx, s.ProcessBucket)
}

// ProcessBucket 执行单个时间桶的喂价逻辑。
func (s *Service) ProcessBucket(ctx context.Context, bucket time.Time) error {
	unlock, proceed, err := s.acquireLock(ctx)
	if err != nil {
		return err
	}
	if !proceed {
		s.logger.Debug().Time("bucket", bucket).Msg("skip bucket because advisory lock held elsewhere")
		return nil
	}
	if unlock != nil {
		defer unlock()
	}

	return s.executeBucket(ctx, bucket)
}

func (s *Service) executeBucket(ctx context.Context, bucket time.Time) error {
	batch := make([]oracle.AssetPrice, 0, len(s.sources))
	failures := make(map[string]error)
	for _, src := range s.sources {
		p, err := src.Fetcher.FetchPrice(ctx)
		if err != nil {
			s.logger.Error().Err(err).Str("asset_id", src.AssetID).Time("bucket", bucket).Msg("fetch failed")
			failures[src.AssetID] = err
			continue
		}
		batch = append(batch, oracle.AssetPrice{AssetID: src.AssetID, Price: p})
	}

	if len(batch) > 0 {
		outcomes, err := s.oracle.ApplyReports(ctx, s.oracleID, batch)
		if err != nil {
			return fmt.Errorf("apply reports: %w", err)
		}
		for _, o := range outcomes {
			if !o.Accepted {
				failures[o.AssetID] = o.Err
			}
		}
	}

	ids := s.servedIDs()
	data, err := s.oracle.GetPriceData(ctx, ids)
	if err != nil {
		return fmt.Errorf("read back prices: %w", err)
	}

	served := make(map[string]*price.Price, len(data.Prices))
	for _, entry := range data.Prices {
		served[entry.AssetID] = entry.Price
		// A failed source whose asset is still served keeps the served row.
		if err, failed := failures[entry.AssetID]; failed && entry.Price == nil {
			s.recordSample(ctx, erroredSample(bucket, entry.AssetID, err))
			continue
		}
		s.recordSample(ctx, servedSample(bucket, entry))
	}

	s.logger.Info().Time("bucket", bucket).
		Int("reported", len(batch)).
		Int("failed", len(failures)).
		Int("served", len(ids)).
		Msg("bucket fed")

	if s.alertsOn && s.notifier != nil && !s.threshold.IsZero() {
		for _, src := range s.sources {
			median := served[src.AssetID]
			ema := served[oracle.PriceID{AssetID: src.AssetID, Period: s.alertPeriod}.String()]
			if median == nil || ema == nil {
				continue
			}
			s.checkDivergence(ctx, bucket, src.AssetID, median.Decimal(), ema.Decimal())
		}
	}

	return nil
}

func (s *Service) servedIDs() []string {
	ids := make([]string, 0, len(s.sources)*(1+len(s.emaPeriods)))
	for _, src := range s.sources {
		ids = append(ids, src.AssetID)
		for _, p := range s.emaPeriods {
			ids = append(ids, oracle.PriceID{AssetID: src.AssetID, Period: p}.String())
		}
	}
	return ids
}

func (s *Service) checkDivergence(ctx context.Context, bucket time.Time, assetID string, median, ema decimal.Decimal) {
	deviation := alerting.Deviation(median, ema)
	if !deviation.Abs().GreaterThan(s.threshold) {
		return
	}
	if !s.allowAlert(assetID, bucket) {
		s.logger.Debug().Str("asset_id", assetID).Time("bucket", bucket).Msg("alert suppressed by cooldown")
		return
	}

	direction := alerting.Direction(deviation)
	note := alerting.Notification{
		Bucket:       bucket,
		AssetID:      assetID,
		PeriodSec:    uint32(s.alertPeriod),
		MedianPrice:  median,
		EMAPrice:     ema,
		DeviationPct: deviation,
		ThresholdPct: s.threshold,
		Direction:    direction,
		Channels:     s.channels,
	}
	if s.alertStore != nil {
		record := storage.AlertRecord{
			SampleTS:     bucket,
			AssetID:      assetID,
			PeriodSec:    int64(s.alertPeriod),
			MedianPrice:  median,
			EMAPrice:     ema,
			DeviationPct: deviation,
			ThresholdPct: s.threshold,
			Direction:    direction,
			Channels:     s.channels,
		}
		if _, err := s.alertStore.InsertAlert(ctx, record); err != nil {
			s.logger.Error().Err(err).Time("bucket", bucket).Msg("failed to persist alert record")
		}
	}
	if err := s.notifier.Notify(ctx, note); err != nil {
		s.logger.Error().Err(err).Time("bucket", bucket).Msg("failed to dispatch alert")
	}
}

func (s *Service) allowAlert(assetID string, bucket time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if last, ok := s.lastAlert[assetID]; ok && s.cooldown > 0 && bucket.Sub(last) < s.cooldown {
		return false
	}
	s.lastAlert[assetID] = bucket
	return true
}

func (s *Service) recordSample(ctx context.Context, sample storage.PriceSample) {
	if s.history == nil {
		return
	}
	if err := s.history.UpsertPriceSample(ctx, sample); err != nil {
		s.logger.Error().Err(err).Time("bucket", sample.Bucket).Str("asset_id", sample.AssetID).Msg("failed to upsert sample")
	}
}

func servedSample(bucket time.Time, entry oracle.AssetOptionalPrice) storage.PriceSample {
	sample := storage.PriceSample{
		Bucket:    bucket,
		AssetID:   entry.AssetID,
		Status:    storage.SampleStatusUnavailable,
		CreatedAt: time.Now().UTC(),
	}
	if entry.Price == nil {
		return sample
	}
	multiplier := entry.Price.Multiplier.Dec()
	decimals := int16(entry.Price.Decimals)
	sample.Multiplier = &multiplier
	sample.Decimals = &decimals
	sample.Price = decimal.NewNullDecimal(entry.Price.Decimal())
	sample.Status = storage.SampleStatusOK
	return sample
}

func erroredSample(bucket time.Time, assetID string, err error) storage.PriceSample {
	msg := err.Error()
	return storage.PriceSample{
		Bucket:    bucket,
		AssetID:   assetID,
		Status:    storage.SampleStatusErrored,
		Error:     &msg,
		CreatedAt: time.Now().UTC(),
	}
}

func (s *Service) acquireLock(ctx context.Context) (func(), bool, error) {
	if s.lockKey == 0 || s.locker == nil {
		return nil, true, nil
	}
	unlock, acquired, err := s.locker.TryAdvisoryLock(ctx, s.lockKey)
	if err != nil {
		return nil, false, fmt.Errorf("acquire advisory lock: %w", err)
	}
	if !acquired {
		return nil, false, nil
	}
	return unlock, true, nil
}
