// Package config provides configuration management for the condor engine.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	yaml "gopkg.in/yaml.v3"

	"github.com/prabhuswaminathan/nifty-condor-bot/internal/expiry"
	"github.com/prabhuswaminathan/nifty-condor-bot/internal/feed"
)

const (
	// defaultPositionsTimeout is used when cycle.positions_timeout is unset.
	defaultPositionsTimeout = 10 * time.Second
	// defaultSpotTimeout is used when cycle.spot_timeout is unset.
	defaultSpotTimeout = 5 * time.Second
	// defaultOrderTimeout is used when cycle.order_timeout is unset.
	defaultOrderTimeout = 15 * time.Second
	// defaultCycleInterval is used when cycle.interval is unset.
	defaultCycleInterval = 5 * time.Minute
)

// Config represents the complete application configuration.
type Config struct {
	Environment EnvironmentConfig `yaml:"environment"`
	Broker      BrokerConfig      `yaml:"broker"`
	Strategy    StrategyConfig    `yaml:"strategy"`
	Retry       RetryConfig       `yaml:"retry"`
	Cycle       CycleConfig       `yaml:"cycle"`
	Feed        FeedConfig        `yaml:"feed"`
	Calendar    CalendarConfig    `yaml:"calendar"`
	Dashboard   DashboardConfig   `yaml:"dashboard"`
}

// EnvironmentConfig defines the environment settings.
type EnvironmentConfig struct {
	Mode     string `yaml:"mode"`      // paper | live
	LogLevel string `yaml:"log_level"` // debug | info | warn | error
}

// BrokerConfig defines broker API settings.
type BrokerConfig struct {
	BaseURL     string `yaml:"base_url"`
	AccessToken string `yaml:"access_token"`
	IndexKey    string `yaml:"index_key"` // e.g. "NSE_INDEX|Nifty 50"
	Timeout     string `yaml:"timeout"`
}

// StrategyConfig defines condor construction parameters. Widths are in index
// points, not strike counts.
type StrategyConfig struct {
	StrikeInterval float64 `yaml:"strike_interval"`
	BodyWidth      float64 `yaml:"body_width"`
	WingWidth      float64 `yaml:"wing_width"`
	Lots           int     `yaml:"lots"`
	PayoffStep     float64 `yaml:"payoff_step"`
}

// RetryConfig defines the bounded backoff policy for transient fetch errors.
// Kept in configuration so the engine stays testable with fake clocks.
type RetryConfig struct {
	MaxRetries     int    `yaml:"max_retries"`
	InitialBackoff string `yaml:"initial_backoff"`
	MaxBackoff     string `yaml:"max_backoff"`
}

// CycleConfig defines decision cycle scheduling and per-call timeouts.
type CycleConfig struct {
	Interval         string `yaml:"interval"`
	PositionsTimeout string `yaml:"positions_timeout"`
	SpotTimeout      string `yaml:"spot_timeout"`
	OrderTimeout     string `yaml:"order_timeout"`
}

// FeedConfig defines the streaming feed connection settings.
type FeedConfig struct {
	URL        string `yaml:"url"`
	Schema     string `yaml:"schema"` // delimited | records
	BufferSize int    `yaml:"buffer_size"`
	MaxRetries int    `yaml:"max_retries"`
	BaseDelay  string `yaml:"base_delay"`
}

// CalendarConfig supplies the trading holiday set as static configuration.
type CalendarConfig struct {
	Holidays []string `yaml:"holidays"` // "2006-01-02" dates
}

// DashboardConfig defines the read-only status server settings.
type DashboardConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

// Load reads and parses the configuration file from the specified path.
func Load(configPath string) (*Config, error) {
	if configPath == "" {
		configPath = "config.yaml"
	}

	data, err := os.ReadFile(configPath) // #nosec G304 -- configPath is a user-provided config file path
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	// Expand environment variables so tokens stay out of the file.
	expanded := os.ExpandEnv(string(data))

	var config Config
	dec := yaml.NewDecoder(strings.NewReader(expanded))
	dec.KnownFields(true)
	if err := dec.Decode(&config); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &config, nil
}

// Validate checks that all configuration values are valid and consistent.
func (c *Config) Validate() error {
	if c.Environment.Mode != "paper" && c.Environment.Mode != "live" {
		return fmt.Errorf("environment.mode must be 'paper' or 'live'")
	}

	if c.Broker.AccessToken == "" {
		return fmt.Errorf("broker.access_token is required")
	}
	if c.Broker.IndexKey == "" {
		return fmt.Errorf("broker.index_key is required")
	}
	if c.Broker.Timeout != "" {
		if _, err := time.ParseDuration(c.Broker.Timeout); err != nil {
			return fmt.Errorf("broker.timeout invalid: %w", err)
		}
	}

	if c.Strategy.StrikeInterval <= 0 {
		return fmt.Errorf("strategy.strike_interval must be > 0")
	}
	if c.Strategy.BodyWidth <= 0 {
		return fmt.Errorf("strategy.body_width must be > 0")
	}
	if c.Strategy.WingWidth <= 0 {
		return fmt.Errorf("strategy.wing_width must be > 0")
	}
	if c.Strategy.Lots <= 0 {
		return fmt.Errorf("strategy.lots must be > 0")
	}
	// Half the body sits on each side of the center strike, so both half-body
	// and wing offsets must land exactly on the strike grid.
	if !isMultipleOf(c.Strategy.BodyWidth/2, c.Strategy.StrikeInterval) {
		return fmt.Errorf("strategy.body_width/2 (%.2f) must be a multiple of strike_interval (%.2f)",
			c.Strategy.BodyWidth/2, c.Strategy.StrikeInterval)
	}
	if !isMultipleOf(c.Strategy.WingWidth, c.Strategy.StrikeInterval) {
		return fmt.Errorf("strategy.wing_width (%.2f) must be a multiple of strike_interval (%.2f)",
			c.Strategy.WingWidth, c.Strategy.StrikeInterval)
	}

	if c.Retry.MaxRetries < 0 {
		return fmt.Errorf("retry.max_retries must be >= 0")
	}
	for name, v := range map[string]string{
		"retry.initial_backoff":   c.Retry.InitialBackoff,
		"retry.max_backoff":       c.Retry.MaxBackoff,
		"cycle.interval":          c.Cycle.Interval,
		"cycle.positions_timeout": c.Cycle.PositionsTimeout,
		"cycle.spot_timeout":      c.Cycle.SpotTimeout,
		"cycle.order_timeout":     c.Cycle.OrderTimeout,
		"feed.base_delay":         c.Feed.BaseDelay,
	} {
		if v == "" {
			continue
		}
		if _, err := time.ParseDuration(v); err != nil {
			return fmt.Errorf("%s invalid: %w", name, err)
		}
	}

	if c.Feed.URL == "" {
		return fmt.Errorf("feed.url is required")
	}
	switch feed.SchemaHint(c.Feed.Schema) {
	case feed.SchemaDelimited, feed.SchemaRecords:
	default:
		return fmt.Errorf("feed.schema must be 'delimited' or 'records'")
	}

	for _, d := range c.Calendar.Holidays {
		if _, err := time.Parse("2006-01-02", d); err != nil {
			return fmt.Errorf("calendar.holidays entry %q invalid: %w", d, err)
		}
	}

	if c.Dashboard.Enabled && (c.Dashboard.Port <= 0 || c.Dashboard.Port > 65535) {
		return fmt.Errorf("dashboard.port must be in (0, 65535]")
	}

	return nil
}

// IsPaperTrading returns true if the engine is configured for paper trading.
func (c *Config) IsPaperTrading() bool {
	return c.Environment.Mode == "paper"
}

// HolidaySet parses the configured holiday dates into an expiry.Holidays set.
// Call only after Validate.
func (c *Config) HolidaySet() expiry.Holidays {
	dates := make([]time.Time, 0, len(c.Calendar.Holidays))
	for _, d := range c.Calendar.Holidays {
		t, err := time.Parse("2006-01-02", d)
		if err != nil {
			continue
		}
		dates = append(dates, t)
	}
	return expiry.NewHolidays(dates...)
}

// Duration parses the named duration field, falling back to def when unset.
func Duration(v string, def time.Duration) time.Duration {
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}

// CycleInterval returns the configured decision cycle interval.
func (c *Config) CycleInterval() time.Duration {
	return Duration(c.Cycle.Interval, defaultCycleInterval)
}

// PositionsTimeout returns the position snapshot timeout.
func (c *Config) PositionsTimeout() time.Duration {
	return Duration(c.Cycle.PositionsTimeout, defaultPositionsTimeout)
}

// SpotTimeout returns the spot quote timeout.
func (c *Config) SpotTimeout() time.Duration {
	return Duration(c.Cycle.SpotTimeout, defaultSpotTimeout)
}

// OrderTimeout returns the order placement timeout.
func (c *Config) OrderTimeout() time.Duration {
	return Duration(c.Cycle.OrderTimeout, defaultOrderTimeout)
}

func isMultipleOf(v, step float64) bool {
	if step <= 0 {
		return false
	}
	ratio := v / step
	const eps = 1e-6
	diff := ratio - float64(int64(ratio+0.5))
	return diff < eps && diff > -eps
}
