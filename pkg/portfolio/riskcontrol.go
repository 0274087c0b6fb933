package portfolio

import (
	"fmt"
	"math"
	"time"
)

// Portfolio-level risk limit defaults.
const (
	DefaultMaxDailyLossPct = 5.0
	DefaultMaxDrawdownPct  = 15.0
	DefaultVolTargetDaily  = 2.0
)

// RiskState tracks the equity high-water mark, the daily baseline, and
// whether trading is halted.
type RiskState struct {
	PeakEquity       float64
	DailyStartEquity float64
	DailyDate        string
	Halted           bool
	HaltReason       string
}

// RiskOptions tune the portfolio risk manager. Zero values use defaults.
type RiskOptions struct {
	MaxDailyLossPct float64
	MaxDrawdownPct  float64
	VolTargetDaily  float64
	Now             func() time.Time
}

// RiskManager enforces book-level loss limits independent of any single
// position: a breached daily-loss or drawdown limit halts all new entries
// until the next UTC day.
type RiskManager struct {
	opts  RiskOptions
	state RiskState
}

// NewRiskManager starts limit tracking from the given equity.
func NewRiskManager(initialEquity float64, opts RiskOptions) *RiskManager {
	if opts.MaxDailyLossPct <= 0 {
		opts.MaxDailyLossPct = DefaultMaxDailyLossPct
	}
	if opts.MaxDrawdownPct <= 0 {
		opts.MaxDrawdownPct = DefaultMaxDrawdownPct
	}
	if opts.VolTargetDaily <= 0 {
		opts.VolTargetDaily = DefaultVolTargetDaily
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &RiskManager{
		opts: opts,
		state: RiskState{
			PeakEquity:       initialEquity,
			DailyStartEquity: initialEquity,
			DailyDate:        opts.Now().UTC().Format("2006-01-02"),
		},
	}
}

// State returns a copy of the current risk state.
func (m *RiskManager) State() RiskState { return m.state }

// UpdateEquity advances the peak and, on a UTC day rollover, resets the
// daily baseline and clears any halt.
func (m *RiskManager) UpdateEquity(equity float64) {
	if equity > m.state.PeakEquity {
		m.state.PeakEquity = equity
	}
	today := m.opts.Now().UTC().Format("2006-01-02")
	if today != m.state.DailyDate {
		m.state.DailyDate = today
		m.state.DailyStartEquity = equity
		m.state.Halted = false
		m.state.HaltReason = ""
	}
}

// CheckLimits reports whether trading should halt and why. The daily-loss
// limit is checked before the drawdown limit.
func (m *RiskManager) CheckLimits(equity float64) (bool, string) {
	m.UpdateEquity(equity)

	dayStart := math.Max(1e-9, m.state.DailyStartEquity)
	dailyLoss := (m.state.DailyStartEquity - equity) / dayStart * 100
	if dailyLoss >= m.opts.MaxDailyLossPct {
		m.state.Halted = true
		m.state.HaltReason = fmt.Sprintf("daily loss %.2f%% >= %.2f%%", dailyLoss, m.opts.MaxDailyLossPct)
		return true, m.state.HaltReason
	}

	peak := math.Max(1e-9, m.state.PeakEquity)
	drawdown := (m.state.PeakEquity - equity) / peak * 100
	if drawdown >= m.opts.MaxDrawdownPct {
		m.state.Halted = true
		m.state.HaltReason = fmt.Sprintf("drawdown %.2f%% >= %.2f%%", drawdown, m.opts.MaxDrawdownPct)
		return true, m.state.HaltReason
	}
	return false, ""
}

// VolatilityScaler converts realized daily volatility into a position size
// multiplier in [0.25, 1.5], targeting the configured daily vol.
func (m *RiskManager) VolatilityScaler(dailyVolPct float64) float64 {
	if dailyVolPct <= 0 || m.opts.VolTargetDaily <= 0 {
		return 1.0
	}
	return math.Max(0.25, math.Min(1.5, m.opts.VolTargetDaily/dailyVolPct))
}

// ComputeDailyVol is the population standard deviation of a return series.
func ComputeDailyVol(returns []float64) float64 {
	if len(returns) == 0 {
		return 0
	}
	mean := 0.0
	for _, r := range returns {
		mean += r
	}
	mean /= float64(len(returns))
	variance := 0.0
	for _, r := range returns {
		d := r - mean
		variance += d * d
	}
	return math.Sqrt(variance / float64(len(returns)))
}

// GrossExposure is total open notional as a multiple of equity.
func GrossExposure(positions []Position, equity float64) float64 {
	if equity <= 0 {
		return 0
	}
	exposure := 0.0
	for _, p := range positions {
		exposure += p.SizeUSD
	}
	return exposure / equity
}

// ClusterExposure aggregates notional-over-equity per cluster using a
// symbol-to-cluster mapping; unmapped symbols land in "OTHER".
func ClusterExposure(positions []Position, equity float64, clusters map[string]string) map[string]float64 {
	out := map[string]float64{}
	if equity <= 0 {
		return out
	}
	for _, p := range positions {
		cluster, ok := clusters[p.Symbol]
		if !ok {
			cluster = "OTHER"
		}
		out[cluster] += p.SizeUSD
	}
	for k, v := range out {
		out[k] = v / equity
	}
	return out
}
