package cache

import (
	"fmt"
	"strings"
	"time"

	"tradewind/internal/config"
)

// Namespace is the Redis key prefix for the tradewind application.
const Namespace = "tradewind"

// TTLClass represents a config-driven TTL bucket.
type TTLClass string

const (
	TTLShort  TTLClass = "short"
	TTLMedium TTLClass = "medium"
	TTLLong   TTLClass = "long"
)

// TTLSet normalises cache TTLs from config into time.Duration values.
type TTLSet struct {
	Short  time.Duration
	Medium time.Duration
	Long   time.Duration
}

// NewTTLSet converts config TTLs (in seconds) into durations.
func NewTTLSet(cfg config.CacheTTL) TTLSet {
	return TTLSet{
		Short:  durationOrDefault(cfg.Short, 10*time.Second),
		Medium: durationOrDefault(cfg.Medium, time.Minute),
		Long:   durationOrDefault(cfg.Long, 5*time.Minute),
	}
}

func durationOrDefault(seconds int, fallback time.Duration) time.Duration {
	if seconds < 0 {
		return 0
	}
	if seconds == 0 {
		return fallback
	}
	return time.Duration(seconds) * time.Second
}

// Duration returns the configured duration for the given TTL class.
func (t TTLSet) Duration(class TTLClass) time.Duration {
	switch class {
	case TTLShort:
		return t.Short
	case TTLMedium:
		return t.Medium
	case TTLLong:
		return t.Long
	default:
		return 0
	}
}

// Scaled applies a multiplier to a TTL class, useful for half/double TTL variants.
func (t TTLSet) Scaled(class TTLClass, factor float64) time.Duration {
	base := t.Duration(class)
	if base <= 0 || factor <= 0 {
		return base
	}
	return time.Duration(float64(base) * factor)
}

func formatKey(parts ...string) string {
	values := make([]string, 0, len(parts)+1)
	values = append(values, Namespace)
	for _, part := range parts {
		clean := strings.TrimSpace(part)
		if clean == "" {
			continue
		}
		values = append(values, clean)
	}
	return strings.Join(values, ":")
}

// --- Decision Keys ----------------------------------------------------------

// DecisionLastKey caches a summary of the latest decision cycle for a symbol.
func DecisionLastKey(symbol string) string {
	return formatKey("decision", "last", symbol)
}

// DecisionStatsKey caches aggregated decision log statistics.
func DecisionStatsKey() string {
	return formatKey("decision", "stats")
}

// DecisionRecordKey addresses a single persisted decision by ID.
func DecisionRecordKey(decisionID string) string {
	return formatKey("decision", "record", decisionID)
}

// ThresholdKey caches the adaptive confidence threshold snapshot.
func ThresholdKey() string {
	return formatKey("meta", "threshold")
}

// --- Portfolio Keys ---------------------------------------------------------

func PositionsHashKey(symbol string) string {
	return formatKey("positions", symbol)
}

// PortfolioSummaryKey caches the daily equity/drawdown summary payload.
func PortfolioSummaryKey() string {
	return formatKey("portfolio", "summary")
}

// TradesRecentKey caches the recent closed-trade list for a symbol.
func TradesRecentKey(symbol string) string {
	return formatKey("trades", "recent", symbol)
}

// TradeIngestGuardKey prevents duplicate ingestion of the same decision ID.
func TradeIngestGuardKey(decisionID string) string {
	return formatKey("ingest", "trade", decisionID)
}

// --- Performance Keys -------------------------------------------------------

// StrategyWeightsKey caches per-regime strategy weights.
func StrategyWeightsKey(regime string) string {
	return formatKey("perf", "weights", regime)
}

// BacktestReportKey caches a rendered backtest report by run ID.
func BacktestReportKey(runID string) string {
	return formatKey("backtest", "report", runID)
}

// --- TTL Helpers ------------------------------------------------------------

// DecisionLastTTL returns the TTL for last decision snapshots.
func DecisionLastTTL(ttl TTLSet) time.Duration {
	return ttl.Duration(TTLMedium)
}

// DecisionStatsTTL returns the TTL for aggregated statistics.
func DecisionStatsTTL(ttl TTLSet) time.Duration {
	return ttl.Duration(TTLMedium)
}

// PositionsTTL returns the TTL for positions hash payloads.
func PositionsTTL(ttl TTLSet) time.Duration {
	return ttl.Scaled(TTLMedium, 0.5) // target ~30s when medium=60s
}

// PortfolioSummaryTTL returns the TTL for the summary payload.
func PortfolioSummaryTTL(ttl TTLSet) time.Duration {
	return ttl.Duration(TTLShort)
}

// TradesRecentTTL returns the TTL for recent trade lists.
func TradesRecentTTL(ttl TTLSet) time.Duration {
	return ttl.Duration(TTLMedium)
}

// TradeIngestGuardTTL returns the TTL for trade idempotency guards.
func TradeIngestGuardTTL() time.Duration {
	return 24 * time.Hour
}

// StrategyWeightsTTL returns the TTL for strategy weight payloads.
func StrategyWeightsTTL(ttl TTLSet) time.Duration {
	return ttl.Duration(TTLLong)
}

// BacktestReportTTL returns the TTL for cached backtest reports.
func BacktestReportTTL(ttl TTLSet) time.Duration {
	return ttl.Scaled(TTLLong, 2) // target ~600s when long=300s
}

// FormatCacheKey is exported for dynamic key construction when patterns
// are not covered by helpers.
func FormatCacheKey(parts ...string) string {
	return formatKey(parts...)
}

// BuildKeyWithSuffix appends an arbitrary suffix to an existing key.
func BuildKeyWithSuffix(baseKey, suffix string) string {
	if strings.TrimSpace(suffix) == "" {
		return baseKey
	}
	return fmt.Sprintf("%s:%s", baseKey, strings.TrimSpace(suffix))
}
