package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleYAML = `
oracle:
  recency_duration_sec: 120
feeder:
  enabled: true
  oracle_id: feeder.near
  ema_periods: [600, 3600]
  sources:
    - asset_id: susde
      kind: erc4626
      vault: "0x9D39A5DE30e57443BfF2A8307A4256c8797A3497"
      decimals: 18
      share_decimals: 18
    - asset_id: usdc
      kind: static
      value: "1.0001"
      decimals: 6
alerting:
  enabled: true
  ema_period: 600
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, "app:\n  name: test\n"))
	require.NoError(t, err)

	assert.Equal(t, "test", cfg.App.Name)
	assert.Equal(t, uint32(90), cfg.Oracle.RecencyDurationSec)
	assert.Equal(t, time.Minute, cfg.Scheduler.Interval)
	assert.True(t, cfg.Database.AutoMigrate)
	assert.Equal(t, []string{"telegram"}, cfg.Alerting.Channels)
	assert.Equal(t, 100000, cfg.ResolveMaxPoints(0))
	assert.Equal(t, 5, cfg.ResolveMaxPoints(5))
}

func TestLoadFeederSources(t *testing.T) {
	cfg, err := Load(writeConfig(t, sampleYAML))
	require.NoError(t, err)

	assert.Equal(t, uint32(120), cfg.Oracle.RecencyDurationSec)
	assert.Equal(t, "feeder.near", cfg.Feeder.OracleID)
	assert.Equal(t, []uint32{600, 3600}, cfg.Feeder.EMAPeriods)
	require.Len(t, cfg.Feeder.Sources, 2)
	assert.Equal(t, SourceERC4626, cfg.Feeder.Sources[0].Kind)
	assert.Equal(t, uint8(18), cfg.Feeder.Sources[0].ShareDecimals)
	assert.Equal(t, "1.0001", cfg.Feeder.Sources[1].Value)
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("PRICEORACLE_ORACLE_RECENCY_DURATION_SEC", "30")
	cfg, err := Load(writeConfig(t, ""))
	require.NoError(t, err)
	assert.Equal(t, uint32(30), cfg.Oracle.RecencyDurationSec)
}

func TestValidate(t *testing.T) {
	valid := func() Config {
		return Config{
			Oracle:    OracleConfig{RecencyDurationSec: 90},
			Scheduler: SchedulerConfig{Interval: time.Minute},
			Export:    ExportConfig{MaxDataPoints: 10},
		}
	}

	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero recency", func(c *Config) { c.Oracle.RecencyDurationSec = 0 }},
		{"negative threshold", func(c *Config) { c.Alerting.ThresholdPct = -1 }},
		{"alerting without period", func(c *Config) { c.Alerting.Enabled = true }},
		{"feeder without oracle", func(c *Config) {
			c.Feeder.Enabled = true
			c.Feeder.Sources = []SourceConfig{{AssetID: "a", Kind: SourceStatic, Value: "1"}}
		}},
		{"unknown kind", func(c *Config) { c.Feeder.Sources = []SourceConfig{{AssetID: "a", Kind: "ftp"}} }},
		{"period in asset id", func(c *Config) {
			c.Feeder.Sources = []SourceConfig{{AssetID: "a#60", Kind: SourceStatic, Value: "1"}}
		}},
		{"duplicate asset", func(c *Config) {
			c.Feeder.Sources = []SourceConfig{
				{AssetID: "a", Kind: SourceStatic, Value: "1"},
				{AssetID: "a", Kind: SourceStatic, Value: "2"},
			}
		}},
		{"cow without amount", func(c *Config) {
			c.Feeder.Sources = []SourceConfig{{AssetID: "a", Kind: SourceCow, SellToken: "0x1", BuyToken: "0x2"}}
		}},
		{"zero ema period", func(c *Config) { c.Feeder.EMAPeriods = []uint32{0} }},
	}

	base := valid()
	require.NoError(t, base.Validate())
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := valid()
			tc.mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}
