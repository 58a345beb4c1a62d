package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"price-oracle/internal/logging"
)

// Source kinds understood by the feeder.
const (
	SourceERC4626 = "erc4626"
	SourceCow     = "cow"
	SourceStatic  = "static"
)

// Config materialises application configuration.
type Config struct {
	App       AppConfig       `mapstructure:"app"`
	Logging   logging.Config  `mapstructure:"logging"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Oracle    OracleConfig    `mapstructure:"oracle"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Feeder    FeederConfig    `mapstructure:"feeder"`
	Ethereum  EthereumConfig  `mapstructure:"ethereum"`
	Cow       CowConfig       `mapstructure:"cow"`
	Alerting  AlertingConfig  `mapstructure:"alerting"`
	Export    ExportConfig    `mapstructure:"export"`
}

// AppConfig general metadata.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
}

// DatabaseConfig encapsulates PostgreSQL connectivity. An empty DSN selects
// the in-memory record store.
type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	AutoMigrate     bool          `mapstructure:"auto_migrate"`
}

// OracleConfig tunes aggregation.
type OracleConfig struct {
	RecencyDurationSec uint32 `mapstructure:"recency_duration_sec"`
}

// SchedulerConfig governs feeding cadence.
type SchedulerConfig struct {
	Interval        time.Duration `mapstructure:"interval"`
	AlignToBucket   bool          `mapstructure:"align_to_bucket"`
	AdvisoryLockKey int64         `mapstructure:"advisory_lock_key"`
	StartupDelay    time.Duration `mapstructure:"startup_delay"`
	RunImmediately  bool          `mapstructure:"run_immediately"`
}

// FeederConfig describes the bundled reporter.
type FeederConfig struct {
	Enabled    bool           `mapstructure:"enabled"`
	OracleID   string         `mapstructure:"oracle_id"`
	EMAPeriods []uint32       `mapstructure:"ema_periods"`
	Sources    []SourceConfig `mapstructure:"sources"`
}

// SourceConfig is one fetched asset.
type SourceConfig struct {
	AssetID  string `mapstructure:"asset_id"`
	Kind     string `mapstructure:"kind"`
	Decimals uint8  `mapstructure:"decimals"`

	// erc4626: vault address and the decimals of its share token.
	Vault         string `mapstructure:"vault"`
	ShareDecimals uint8  `mapstructure:"share_decimals"`

	// cow: token pair and the sold amount in whole tokens.
	SellToken    string  `mapstructure:"sell_token"`
	BuyToken     string  `mapstructure:"buy_token"`
	SellAmount   float64 `mapstructure:"sell_amount"`
	SellDecimals uint8   `mapstructure:"sell_decimals"`
	BuyDecimals  uint8   `mapstructure:"buy_decimals"`

	// static: fixed value.
	Value string `mapstructure:"value"`
}

// EthereumConfig covers on-chain data access.
type EthereumConfig struct {
	RPCURL         string        `mapstructure:"rpc_url"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

// CowConfig captures CoW Protocol connectivity.
type CowConfig struct {
	BaseURL        string        `mapstructure:"base_url"`
	PriceQuality   string        `mapstructure:"price_quality"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	UserAgent      string        `mapstructure:"user_agent"`
}

// AlertingConfig defines divergence thresholds and routing.
type AlertingConfig struct {
	Enabled      bool           `mapstructure:"enabled"`
	ThresholdPct float64        `mapstructure:"threshold_pct"`
	EMAPeriod    uint32         `mapstructure:"ema_period"`
	Cooldown     time.Duration  `mapstructure:"cooldown"`
	Channels     []string       `mapstructure:"channels"`
	Telegram     TelegramConfig `mapstructure:"telegram"`
}

// TelegramConfig 描述 Telegram 告警参数。
type TelegramConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	BotToken string `mapstructure:"bot_token"`
	ChatID   string `mapstructure:"chat_id"`
	APIBase  string `mapstructure:"api_base"`
}

// ExportConfig sets CLI export behaviour.
type ExportConfig struct {
	MaxDataPoints int `mapstructure:"max_data_points"`
}

// Load builds configuration from file, environment, and defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("PRICEORACLE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	if err := readConfig(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, decodeHook()); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func readConfig(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "priceoracle")
	v.SetDefault("app.environment", "development")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("oracle.recency_duration_sec", 90)

	v.SetDefault("scheduler.interval", "1m")
	v.SetDefault("scheduler.align_to_bucket", true)
	v.SetDefault("scheduler.advisory_lock_key", int64(0x6f72636c))
	v.SetDefault("scheduler.startup_delay", "0s")
	v.SetDefault("scheduler.run_immediately", false)

	v.SetDefault("feeder.enabled", false)

	v.SetDefault("ethereum.request_timeout", "10s")

	v.SetDefault("cow.base_url", "https://api.cow.fi/mainnet/api/v1")
	v.SetDefault("cow.price_quality", "optimal")
	v.SetDefault("cow.request_timeout", "10s")
	v.SetDefault("cow.user_agent", "priceoracle/1.0")

	v.SetDefault("alerting.enabled", false)
	v.SetDefault("alerting.threshold_pct", 2.0)
	v.SetDefault("alerting.ema_period", 3600)
	v.SetDefault("alerting.cooldown", "30m")
	v.SetDefault("alerting.channels", []string{"telegram"})
	v.SetDefault("alerting.telegram.enabled", false)
	v.SetDefault("alerting.telegram.api_base", "https://api.telegram.org")

	v.SetDefault("export.max_data_points", 100000)

	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", "30m")
	v.SetDefault("database.auto_migrate", true)
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}
}

// Validate performs basic sanity checks on the configuration values.
func (c *Config) Validate() error {
	if c.Export.MaxDataPoints <= 0 {
		return fmt.Errorf("export.max_data_points must be greater than zero")
	}
	if c.Scheduler.Interval <= 0 {
		return fmt.Errorf("scheduler.interval must be greater than zero")
	}
	if c.Oracle.RecencyDurationSec == 0 {
		return fmt.Errorf("oracle.recency_duration_sec must be greater than zero")
	}
	if c.Alerting.ThresholdPct < 0 {
		return fmt.Errorf("alerting.threshold_pct cannot be negative")
	}
	if c.Alerting.Enabled && c.Alerting.EMAPeriod == 0 {
		return fmt.Errorf("alerting.ema_period must be greater than zero")
	}
	if c.Alerting.Telegram.Enabled {
		if c.Alerting.Telegram.BotToken == "" {
			return fmt.Errorf("alerting.telegram.bot_token 必须配置")
		}
		if c.Alerting.Telegram.ChatID == "" {
			return fmt.Errorf("alerting.telegram.chat_id 必须配置")
		}
	}
	for _, p := range c.Feeder.EMAPeriods {
		if p == 0 {
			return fmt.Errorf("feeder.ema_periods entries must be greater than zero")
		}
	}
	if c.Feeder.Enabled {
		if c.Feeder.OracleID == "" {
			return fmt.Errorf("feeder.oracle_id is required when the feeder is enabled")
		}
		if len(c.Feeder.Sources) == 0 {
			return fmt.Errorf("feeder.sources must not be empty when the feeder is enabled")
		}
	}
	seen := make(map[string]bool, len(c.Feeder.Sources))
	for i, src := range c.Feeder.Sources {
		if err := src.validate(); err != nil {
			return fmt.Errorf("feeder.sources[%d]: %w", i, err)
		}
		if seen[src.AssetID] {
			return fmt.Errorf("feeder.sources[%d]: duplicate asset_id %q", i, src.AssetID)
		}
		seen[src.AssetID] = true
	}
	return nil
}

func (s SourceConfig) validate() error {
	if s.AssetID == "" {
		return fmt.Errorf("asset_id is required")
	}
	if strings.Contains(s.AssetID, "#") {
		return fmt.Errorf("asset_id %q must not contain '#'", s.AssetID)
	}
	switch s.Kind {
	case SourceERC4626:
		if s.Vault == "" {
			return fmt.Errorf("vault is required for %s", s.Kind)
		}
	case SourceCow:
		if s.SellToken == "" || s.BuyToken == "" {
			return fmt.Errorf("sell_token and buy_token are required for %s", s.Kind)
		}
		if s.SellAmount <= 0 {
			return fmt.Errorf("sell_amount must be greater than zero")
		}
	case SourceStatic:
		if s.Value == "" {
			return fmt.Errorf("value is required for %s", s.Kind)
		}
	default:
		return fmt.Errorf("unknown kind %q", s.Kind)
	}
	return nil
}

// ResolveMaxPoints returns either the CLI override or config default.
func (c *Config) ResolveMaxPoints(override int) int {
	if override > 0 {
		return override
	}
	return c.Export.MaxDataPoints
}
