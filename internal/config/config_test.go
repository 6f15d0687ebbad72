package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const validYAML = `
environment:
  mode: paper
  log_level: info

broker:
  base_url: https://api.upstox.com/v2
  access_token: test-token
  index_key: "NSE_INDEX|Nifty 50"
  timeout: 10s

strategy:
  strike_interval: 50
  body_width: 800
  wing_width: 400
  lots: 75
  payoff_step: 50

retry:
  max_retries: 3
  initial_backoff: 1s
  max_backoff: 30s

cycle:
  interval: 5m
  positions_timeout: 10s
  spot_timeout: 5s
  order_timeout: 15s

feed:
  url: wss://feed.example.com/market
  schema: delimited
  buffer_size: 256
  max_retries: 5
  base_delay: 1s

calendar:
  holidays:
    - "2025-10-02"
    - "2025-10-21"

dashboard:
  enabled: true
  port: 8080
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoad_Valid(t *testing.T) {
	cfg, err := Load(writeConfig(t, validYAML))
	require.NoError(t, err)

	assert.True(t, cfg.IsPaperTrading())
	assert.Equal(t, "test-token", cfg.Broker.AccessToken)
	assert.Equal(t, 50.0, cfg.Strategy.StrikeInterval)
	assert.Equal(t, 800.0, cfg.Strategy.BodyWidth)
	assert.Equal(t, 75, cfg.Strategy.Lots)
	assert.Equal(t, 5*time.Minute, cfg.CycleInterval())
	assert.Equal(t, 10*time.Second, cfg.PositionsTimeout())
	assert.Equal(t, 5*time.Second, cfg.SpotTimeout())
	assert.Equal(t, 15*time.Second, cfg.OrderTimeout())
}

func TestLoad_ExpandsEnvironmentVariables(t *testing.T) {
	t.Setenv("UPSTOX_ACCESS_TOKEN", "secret-from-env")
	yaml := `
environment:
  mode: live
broker:
  access_token: ${UPSTOX_ACCESS_TOKEN}
  index_key: "NSE_INDEX|Nifty 50"
strategy:
  strike_interval: 50
  body_width: 800
  wing_width: 400
  lots: 75
feed:
  url: wss://feed.example.com/market
  schema: records
`
	cfg, err := Load(writeConfig(t, yaml))
	require.NoError(t, err)
	assert.Equal(t, "secret-from-env", cfg.Broker.AccessToken)
	assert.False(t, cfg.IsPaperTrading())
}

func TestLoad_RejectsUnknownFields(t *testing.T) {
	_, err := Load(writeConfig(t, validYAML+"\nunknown_section:\n  x: 1\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parsing config")
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}

func TestLoad_DefaultsWhenTimingsOmitted(t *testing.T) {
	yaml := `
environment:
  mode: paper
broker:
  access_token: tok
  index_key: "NSE_INDEX|Nifty 50"
strategy:
  strike_interval: 50
  body_width: 800
  wing_width: 400
  lots: 75
feed:
  url: wss://feed.example.com/market
  schema: delimited
`
	cfg, err := Load(writeConfig(t, yaml))
	require.NoError(t, err)
	assert.Equal(t, 5*time.Minute, cfg.CycleInterval())
	assert.Equal(t, 10*time.Second, cfg.PositionsTimeout())
	assert.Equal(t, 5*time.Second, cfg.SpotTimeout())
	assert.Equal(t, 15*time.Second, cfg.OrderTimeout())
}

func TestValidate_Failures(t *testing.T) {
	base := func() Config {
		return Config{
			Environment: EnvironmentConfig{Mode: "paper"},
			Broker: BrokerConfig{
				AccessToken: "tok",
				IndexKey:    "NSE_INDEX|Nifty 50",
			},
			Strategy: StrategyConfig{
				StrikeInterval: 50,
				BodyWidth:      800,
				WingWidth:      400,
				Lots:           75,
			},
			Feed: FeedConfig{URL: "wss://feed.example.com", Schema: "delimited"},
		}
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"bad mode", func(c *Config) { c.Environment.Mode = "backtest" }, "environment.mode"},
		{"missing token", func(c *Config) { c.Broker.AccessToken = "" }, "access_token"},
		{"missing index key", func(c *Config) { c.Broker.IndexKey = "" }, "index_key"},
		{"bad broker timeout", func(c *Config) { c.Broker.Timeout = "soon" }, "broker.timeout"},
		{"zero interval", func(c *Config) { c.Strategy.StrikeInterval = 0 }, "strike_interval"},
		{"zero body", func(c *Config) { c.Strategy.BodyWidth = 0 }, "body_width"},
		{"zero wing", func(c *Config) { c.Strategy.WingWidth = 0 }, "wing_width"},
		{"zero lots", func(c *Config) { c.Strategy.Lots = 0 }, "lots"},
		{"half body off grid", func(c *Config) { c.Strategy.BodyWidth = 850 }, "body_width/2"},
		{"wing off grid", func(c *Config) { c.Strategy.WingWidth = 420 }, "wing_width"},
		{"negative retries", func(c *Config) { c.Retry.MaxRetries = -1 }, "max_retries"},
		{"bad backoff", func(c *Config) { c.Retry.InitialBackoff = "fast" }, "initial_backoff"},
		{"missing feed url", func(c *Config) { c.Feed.URL = "" }, "feed.url"},
		{"bad feed schema", func(c *Config) { c.Feed.Schema = "csv" }, "feed.schema"},
		{"bad holiday", func(c *Config) { c.Calendar.Holidays = []string{"02-10-2025"} }, "holidays"},
		{"bad dashboard port", func(c *Config) { c.Dashboard = DashboardConfig{Enabled: true, Port: 0} }, "dashboard.port"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base()
			tt.mutate(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestHolidaySet(t *testing.T) {
	cfg := Config{Calendar: CalendarConfig{Holidays: []string{"2025-10-02"}}}
	set := cfg.HolidaySet()
	assert.True(t, set.Contains(time.Date(2025, time.October, 2, 15, 30, 0, 0, time.UTC)),
		"membership ignores time of day")
	assert.False(t, set.Contains(time.Date(2025, time.October, 3, 0, 0, 0, 0, time.UTC)))
}
