package decision

import (
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"tradewind/pkg/confkit"
)

// Config holds the tunable thresholds of the decision pipeline. Defaults
// reproduce the values the system was calibrated with; a config file only
// needs the fields it wants to change.
type Config struct {
	BaseConfidenceThreshold float64 `yaml:"base_confidence_threshold"`
	UnstableRegimeBump      float64 `yaml:"unstable_regime_bump"`
	StrongConfidence        float64 `yaml:"strong_confidence"`

	StrategicWaitProb float64 `yaml:"strategic_wait_prob"`
	EVGating          bool    `yaml:"ev_gating"`
	EVThreshold       float64 `yaml:"ev_threshold"`

	MinSignalScore   float64 `yaml:"min_signal_score"`
	RSIOverbought    float64 `yaml:"rsi_overbought"`
	RSIOversold      float64 `yaml:"rsi_oversold"`
	TrendSpreadMin   float64 `yaml:"trend_spread_min"`
	HTFSpreadMin     float64 `yaml:"htf_trend_spread_min"`
	MinVolumeZScore  float64 `yaml:"min_volume_zscore"`
	NearLevelPct     float64 `yaml:"near_level_pct"`
	FundingArbThresh float64 `yaml:"funding_arb_threshold"`

	MaxSpreadPct   float64 `yaml:"max_spread_pct"`
	MaxGapPct      float64 `yaml:"max_gap_pct"`
	MaxBodyPct     float64 `yaml:"max_body_pct"`
	MMMaxSpreadPct float64 `yaml:"mm_max_spread_pct"`
	MMMaxBodyPct   float64 `yaml:"mm_max_body_pct"`

	waitProbSet bool
	evGatingSet bool
}

// LoadConfig reads configuration from disk.
func LoadConfig(path string) (*Config, error) {
	confkit.LoadDotenvOnce()
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open decision config: %w", err)
	}
	defer file.Close()
	return LoadConfigFromReader(file)
}

// MustLoad reads decision configuration from the default project location
// and panics on error.
func MustLoad() *Config {
	path := confkit.MustProjectPath("etc/decision.yaml")
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
		return nil, fmt.Errorf("read decision config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal decision config: %w", err)
	}
	// Zero is a legal value for these two, so distinguish "absent" from
	// "explicitly zero" before defaulting.
	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err == nil {
		if _, ok := raw["strategic_wait_prob"]; ok {
			cfg.waitProbSet = true
		}
		if _, ok := raw["ev_gating"]; ok {
			cfg.evGatingSet = true
		}
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// DefaultConfig returns the calibrated defaults without touching disk.
func DefaultConfig() *Config {
	cfg := &Config{waitProbSet: true, evGatingSet: true, StrategicWaitProb: 0.10, EVGating: true}
	cfg.applyDefaults()
	return cfg
}

func (c *Config) applyDefaults() {
	if c.BaseConfidenceThreshold <= 0 {
		c.BaseConfidenceThreshold = 0.50
	}
	if c.UnstableRegimeBump <= 0 {
		c.UnstableRegimeBump = 0.10
	}
	if c.StrongConfidence <= 0 {
		c.StrongConfidence = 0.70
	}
	if !c.waitProbSet {
		c.StrategicWaitProb = 0.10
	}
	if !c.evGatingSet {
		c.EVGating = true
	}
	if c.MinSignalScore <= 0 {
		c.MinSignalScore = 0.60
	}
	if c.RSIOverbought <= 0 {
		c.RSIOverbought = 65
	}
	if c.RSIOversold <= 0 {
		c.RSIOversold = 35
	}
	if c.TrendSpreadMin <= 0 {
		c.TrendSpreadMin = 0.2
	}
	if c.HTFSpreadMin <= 0 {
		c.HTFSpreadMin = 0.1
	}
	if c.MinVolumeZScore <= 0 {
		c.MinVolumeZScore = 1.0
	}
	if c.NearLevelPct <= 0 {
		c.NearLevelPct = 1.0
	}
	if c.FundingArbThresh <= 0 {
		c.FundingArbThresh = 0.08
	}
	if c.MaxSpreadPct <= 0 {
		c.MaxSpreadPct = 0.8
	}
	if c.MaxGapPct <= 0 {
		c.MaxGapPct = 1.0
	}
	if c.MaxBodyPct <= 0 {
		c.MaxBodyPct = 2.0
	}
	if c.MMMaxSpreadPct <= 0 {
		c.MMMaxSpreadPct = 0.12
	}
	if c.MMMaxBodyPct <= 0 {
		c.MMMaxBodyPct = 0.80
	}
}

// Validate ensures configuration sanity.
func (c *Config) Validate() error {
	if c.BaseConfidenceThreshold <= 0 || c.BaseConfidenceThreshold >= 1 {
		return errors.New("decision config: base_confidence_threshold must be in (0, 1)")
	}
	if c.StrongConfidence <= c.BaseConfidenceThreshold || c.StrongConfidence > 1 {
		return errors.New("decision config: strong_confidence must be above the base threshold and at most 1")
	}
	if c.StrategicWaitProb < 0 || c.StrategicWaitProb > 1 {
		return errors.New("decision config: strategic_wait_prob must be in [0, 1]")
	}
	if c.MinSignalScore <= 0 || c.MinSignalScore > 1 {
		return errors.New("decision config: min_signal_score must be in (0, 1]")
	}
	if c.RSIOversold >= c.RSIOverbought {
		return errors.New("decision config: rsi_oversold must be below rsi_overbought")
	}
	if c.MaxSpreadPct <= 0 || c.MaxGapPct <= 0 || c.MaxBodyPct <= 0 {
		return errors.New("decision config: execution filter caps must be positive")
	}
	return nil
}
