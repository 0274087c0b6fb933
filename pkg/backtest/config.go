package backtest

import (
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"tradewind/pkg/confkit"
)

// Config controls a backtest run: costs, execution frictions, and sizing.
type Config struct {
	Symbol         string  `yaml:"symbol"`
	InitialCapital float64 `yaml:"initial_capital"`
	FeeRate        float64 `yaml:"fee_rate"`
	SlippageBps    float64 `yaml:"slippage_bps"`
	LatencyCandles int     `yaml:"latency_candles"`

	FundingRatePerInterval float64 `yaml:"funding_rate_per_interval"`
	FundingIntervalCandles int     `yaml:"funding_interval_candles"`

	MaxPositionPct        float64 `yaml:"max_position_pct"`
	Leverage              int     `yaml:"leverage"`
	MaxPositionsPerSymbol int     `yaml:"max_positions_per_symbol"`
	MaxConcurrent         int     `yaml:"max_concurrent_positions"`

	WindowSize int    `yaml:"window_size"`
	ReportPath string `yaml:"report_path"`

	latencySet bool
}

// LoadConfig reads configuration from disk.
func LoadConfig(path string) (*Config, error) {
	confkit.LoadDotenvOnce()
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open backtest config: %w", err)
	}
	defer file.Close()
	return LoadConfigFromReader(file)
}

// MustLoad reads backtest configuration from the default project location
// and panics on error.
func MustLoad() *Config {
	path := confkit.MustProjectPath("etc/backtest.yaml")
	cfg, err := LoadConfig(path)
	if err != nil {
		panic(err)
	}
	return cfg
}

// LoadConfigFromReader constructs a Config from a reader.
func LoadConfigFromReader(r io.Reader) (*Config, error) {
	confkit.LoadDotenvOnce()
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read backtest config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal backtest config: %w", err)
	}
	// Zero latency is a legal fill-next-bar-open setting.
	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err == nil {
		if _, ok := raw["latency_candles"]; ok {
			cfg.latencySet = true
		}
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// DefaultConfig returns a Config with calibrated defaults.
func DefaultConfig() *Config {
	cfg := &Config{latencySet: true, LatencyCandles: 1}
	cfg.applyDefaults()
	return cfg
}

func (c *Config) applyDefaults() {
	if c.Symbol == "" {
		c.Symbol = "BTC/USDT"
	}
	if c.InitialCapital <= 0 {
		c.InitialCapital = 10000
	}
	if c.FeeRate <= 0 {
		c.FeeRate = 0.0004
	}
	if c.SlippageBps <= 0 {
		c.SlippageBps = 5.0
	}
	if !c.latencySet {
		c.LatencyCandles = 1
	}
	if c.FundingIntervalCandles <= 0 {
		c.FundingIntervalCandles = 32
	}
	if c.MaxPositionPct <= 0 {
		c.MaxPositionPct = 0.10
	}
	if c.Leverage <= 0 {
		c.Leverage = 1
	}
	if c.MaxPositionsPerSymbol <= 0 {
		c.MaxPositionsPerSymbol = 1
	}
	if c.MaxConcurrent <= 0 {
		c.MaxConcurrent = 5
	}
	if c.WindowSize <= 0 {
		c.WindowSize = 50
	}
}

// Validate ensures configuration sanity.
func (c *Config) Validate() error {
	if c.MaxPositionPct > 1 {
		return errors.New("backtest config: max_position_pct must be at most 1")
	}
	if c.LatencyCandles < 0 {
		return errors.New("backtest config: latency_candles cannot be negative")
	}
	if c.WindowSize < 30 {
		return errors.New("backtest config: window_size must be at least 30 for indicator warmup")
	}
	return nil
}
