package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"price-oracle/internal/alerting"
	"price-oracle/internal/clock"
	"price-oracle/internal/config"
	"price-oracle/internal/fetcher"
	"price-oracle/internal/oracle"
	"price-oracle/internal/scheduler"
	"price-oracle/internal/service"
	"price-oracle/internal/storage"
)

// App aggregates configuration and shared dependencies for the CLI commands.
type App struct {
	Config *config.Config
	Logger zerolog.Logger
	Out    io.Writer
}

// NewApp constructs a new application handle.
func NewApp(cfg *config.Config, logger zerolog.Logger) *App {
	return &App{Config: cfg, Logger: logger.With().Str("component", "app").Logger(), Out: os.Stdout}
}

// backend bundles the stores a command works against. pg is nil when no
// database is configured and records live in memory.
type backend struct {
	records storage.RecordStore
	pg      *storage.Store
	close   func()
}

func (b *backend) history() storage.HistoryStore {
	if b.pg == nil {
		return nil
	}
	return b.pg
}

func (b *backend) alerts() storage.AlertStore {
	if b.pg == nil {
		return nil
	}
	return b.pg
}

func (a *App) openStore(ctx context.Context) (*storage.Store, func(), error) {
	if a.Config.Database.DSN == "" {
		return nil, nil, nil
	}

	pool, err := storage.NewPool(ctx, a.Config.Database)
	if err != nil {
		return nil, nil, err
	}

	store := storage.NewStore(pool)
	if a.Config.Database.AutoMigrate {
		if err := store.EnsureSchema(ctx); err != nil {
			store.Close()
			return nil, nil, err
		}
	}
	closer := func() {
		store.Close()
	}
	return store, closer, nil
}

// openBackend prefers PostgreSQL and falls back to an in-memory record store.
func (a *App) openBackend(ctx context.Context) (*backend, error) {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return nil, err
	}
	if store == nil {
		a.Logger.Warn().Msg("database.dsn not configured; records kept in memory only")
		return &backend{records: storage.NewMemoryStore(), close: func() {}}, nil
	}
	return &backend{records: store, pg: store, close: closeStore}, nil
}

func (a *App) requireStore(ctx context.Context) (*storage.Store, func(), error) {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return nil, nil, err
	}
	if store == nil {
		return nil, nil, errors.New("database.dsn not configured")
	}
	return store, closeStore, nil
}

func (a *App) newOracle(records storage.RecordStore, clk clock.Clock) *oracle.Service {
	return oracle.New(records, clk, clock.DurationSec(a.Config.Oracle.RecencyDurationSec), a.Logger)
}

func (a *App) newSources() ([]fetcher.Source, error) {
	sources := make([]fetcher.Source, 0, len(a.Config.Feeder.Sources))
	for _, src := range a.Config.Feeder.Sources {
		var f fetcher.PriceFetcher
		switch src.Kind {
		case config.SourceERC4626:
			f = fetcher.NewERC4626(fetcher.ERC4626Options{
				RPCURL:        a.Config.Ethereum.RPCURL,
				Vault:         src.Vault,
				ShareDecimals: src.ShareDecimals,
				Decimals:      src.Decimals,
				Timeout:       a.Config.Ethereum.RequestTimeout,
			}, a.Logger)
		case config.SourceCow:
			f = fetcher.NewCow(fetcher.CowOptions{
				BaseURL:      a.Config.Cow.BaseURL,
				PriceQuality: a.Config.Cow.PriceQuality,
				Timeout:      a.Config.Cow.RequestTimeout,
				UserAgent:    a.Config.Cow.UserAgent,
				SellToken:    src.SellToken,
				BuyToken:     src.BuyToken,
				SellAmount:   decimal.NewFromFloat(src.SellAmount),
				SellDecimals: src.SellDecimals,
				BuyDecimals:  src.BuyDecimals,
				Decimals:     src.Decimals,
			}, a.Logger)
		case config.SourceStatic:
			static, err := fetcher.NewStatic(src.Value, src.Decimals)
			if err != nil {
				return nil, fmt.Errorf("source %q: %w", src.AssetID, err)
			}
			f = static
		default:
			return nil, fmt.Errorf("source %q: unknown kind %q", src.AssetID, src.Kind)
		}
		sources = append(sources, fetcher.Source{AssetID: src.AssetID, Fetcher: f})
	}
	return sources, nil
}

func (a *App) newNotifier() alerting.Notifier {
	if !a.Config.Alerting.Enabled {
		return nil
	}
	if a.Config.Alerting.Telegram.Enabled {
		cfg := a.Config.Alerting.Telegram
		return alerting.NewTelegramNotifier(cfg.BotToken, cfg.ChatID, cfg.APIBase, 10*time.Second, a.Logger)
	}
	return alerting.NewLogNotifier(a.Logger)
}

// Run executes the long-running feeder.
func (a *App) Run(ctx context.Context) error {
	if !a.Config.Feeder.Enabled {
		return errors.New("feeder.enabled is false; nothing to run")
	}

	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	b, err := a.openBackend(ctx)
	if err != nil {
		return err
	}
	defer b.close()

	sched, err := scheduler.New(scheduler.Options{
		Interval:       a.Config.Scheduler.Interval,
		AlignToStart:   a.Config.Scheduler.AlignToBucket,
		StartupDelay:   a.Config.Scheduler.StartupDelay,
		RunImmediately: a.Config.Scheduler.RunImmediately,
	}, a.Logger)
	if err != nil {
		return err
	}

	sources, err := a.newSources()
	if err != nil {
		return err
	}

	oracleSvc := a.newOracle(b.records, clock.System{})
	svc := service.New(a.Config, sched, oracleSvc, sources, b.history(), b.alerts(), a.newNotifier(), a.Logger)
	if err := svc.Bootstrap(ctx); err != nil {
		return err
	}

	a.Logger.Info().Msg("starting feeder")
	err = svc.Run(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		a.Logger.Error().Err(err).Msg("feeder terminated with error")
		return err
	}

	a.Logger.Info().Msg("feeder stopped")
	return nil
}

// Migrate applies the embedded schema.
func (a *App) Migrate(ctx context.Context) error {
	store, closeStore, err := a.requireStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	if err := store.EnsureSchema(ctx); err != nil {
		return err
	}
	a.Logger.Info().Msg("schema applied")
	return nil
}

// ExportOptions hold parameters for exporting price history.
type ExportOptions struct {
	From      *time.Time
	To        *time.Time
	AssetID   string
	PNGPath   string
	CSVPath   string
	MaxPoints int
}

// ShowOptions configure the show command.
type ShowOptions struct {
	Limit  int
	Alerts bool
}

// ReplayOptions configure a replay of historical reports.
type ReplayOptions struct {
	CSVPath    string
	EMAPeriods []uint32
	// Database applies the replay to the configured record store instead of
	// a fresh in-memory one.
	Database bool
}

// ReportOptions describe a single manual report.
type ReportOptions struct {
	OracleID   string
	AssetID    string
	Multiplier string
	Decimals   uint8
}
