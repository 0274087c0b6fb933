package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"tradewind/internal/config"
)

func TestKeyFormats(t *testing.T) {
	assert.Equal(t, "tradewind:decision:last:BTC/USDT", DecisionLastKey("BTC/USDT"))
	assert.Equal(t, "tradewind:decision:stats", DecisionStatsKey())
	assert.Equal(t, "tradewind:decision:record:abc-123", DecisionRecordKey("abc-123"))
	assert.Equal(t, "tradewind:meta:threshold", ThresholdKey())
	assert.Equal(t, "tradewind:positions:BTC/USDT", PositionsHashKey("BTC/USDT"))
	assert.Equal(t, "tradewind:portfolio:summary", PortfolioSummaryKey())
	assert.Equal(t, "tradewind:trades:recent:ETH/USDT", TradesRecentKey("ETH/USDT"))
	assert.Equal(t, "tradewind:ingest:trade:abc-123", TradeIngestGuardKey("abc-123"))
	assert.Equal(t, "tradewind:perf:weights:BULL_TREND", StrategyWeightsKey("BULL_TREND"))
	assert.Equal(t, "tradewind:backtest:report:run-7", BacktestReportKey("run-7"))
}

func TestFormatCacheKey_SkipsBlankParts(t *testing.T) {
	assert.Equal(t, "tradewind:a:b", FormatCacheKey("a", "  ", "", "b"))
}

func TestBuildKeyWithSuffix(t *testing.T) {
	assert.Equal(t, "tradewind:a:extra", BuildKeyWithSuffix("tradewind:a", "extra"))
	assert.Equal(t, "tradewind:a", BuildKeyWithSuffix("tradewind:a", "  "), "a blank suffix leaves the key alone")
}

func TestNewTTLSet(t *testing.T) {
	ttl := NewTTLSet(config.CacheTTL{Short: 10, Medium: 60, Long: 300})
	assert.Equal(t, 10*time.Second, ttl.Short)
	assert.Equal(t, time.Minute, ttl.Medium)
	assert.Equal(t, 5*time.Minute, ttl.Long)

	defaults := NewTTLSet(config.CacheTTL{})
	assert.Equal(t, 10*time.Second, defaults.Short, "zero falls back to the default")

	off := NewTTLSet(config.CacheTTL{Short: -1, Medium: 60, Long: 300})
	assert.Zero(t, off.Short, "a negative TTL disables expiry")
}

func TestTTLSet_DurationAndScaled(t *testing.T) {
	ttl := NewTTLSet(config.CacheTTL{Short: 10, Medium: 60, Long: 300})
	assert.Equal(t, time.Minute, ttl.Duration(TTLMedium))
	assert.Zero(t, ttl.Duration(TTLClass("bogus")))
	assert.Equal(t, 30*time.Second, ttl.Scaled(TTLMedium, 0.5))
	assert.Equal(t, 10*time.Minute, ttl.Scaled(TTLLong, 2))
	assert.Equal(t, time.Minute, ttl.Scaled(TTLMedium, 0), "a non-positive factor is ignored")
}

func TestDerivedTTLHelpers(t *testing.T) {
	ttl := NewTTLSet(config.CacheTTL{Short: 10, Medium: 60, Long: 300})
	assert.Equal(t, time.Minute, DecisionLastTTL(ttl))
	assert.Equal(t, 30*time.Second, PositionsTTL(ttl))
	assert.Equal(t, 10*time.Second, PortfolioSummaryTTL(ttl))
	assert.Equal(t, 5*time.Minute, StrategyWeightsTTL(ttl))
	assert.Equal(t, 10*time.Minute, BacktestReportTTL(ttl))
	assert.Equal(t, 24*time.Hour, TradeIngestGuardTTL())
}
