// Package perf tracks realized per-strategy performance over a sliding
// window and converts it into selection weights: strategies that keep
// winning get sized up, strategies that keep losing get throttled or
// blocked outright.
package perf

import (
	"fmt"
	"sync"

	"tradewind/pkg/decision"
)

// Tracker defaults, overridable through Options.
const (
	DefaultWindow     = 200
	DefaultMinSamples = 20
	DefaultMinWinRate = 0.45
	DefaultMinAvgPnL  = -0.02
)

// Options tune the tracker's window and blocking thresholds. Zero values
// fall back to the defaults; MinAvgPnL uses a sentinel because a zero
// threshold is meaningful.
type Options struct {
	Window     int
	MinSamples int
	MinWinRate float64
	MinAvgPnL  *float64
}

// Tracker keeps the last Window trade results per key. Keys are either a
// bare strategy name or "strategy|regime" so weights can be regime-aware.
type Tracker struct {
	mu      sync.Mutex
	window  int
	minN    int
	minWin  float64
	minPnL  float64
	history map[string][]float64
}

// NewTracker builds a tracker from opts.
func NewTracker(opts Options) *Tracker {
	if opts.Window <= 0 {
		opts.Window = DefaultWindow
	}
	if opts.MinSamples <= 0 {
		opts.MinSamples = DefaultMinSamples
	}
	if opts.MinWinRate <= 0 {
		opts.MinWinRate = DefaultMinWinRate
	}
	minPnL := DefaultMinAvgPnL
	if opts.MinAvgPnL != nil {
		minPnL = *opts.MinAvgPnL
	}
	return &Tracker{
		window:  opts.Window,
		minN:    opts.MinSamples,
		minWin:  opts.MinWinRate,
		minPnL:  minPnL,
		history: map[string][]float64{},
	}
}

// Key builds the regime-aware tracking key.
func Key(strat decision.Strategy, regime decision.Regime) string {
	return fmt.Sprintf("%s|%s", strat, regime)
}

// Record appends one realized PnL percentage under key, evicting the
// oldest entry once the window is full.
func (t *Tracker) Record(key string, pnlPct float64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	h := append(t.history[key], pnlPct)
	if len(h) > t.window {
		h = h[len(h)-t.window:]
	}
	t.history[key] = h
}

func (t *Tracker) statsLocked(key string) (total int, winRate, avgPnL float64) {
	h := t.history[key]
	total = len(h)
	if total == 0 {
		return 0, 0, 0
	}
	wins := 0
	sum := 0.0
	for _, p := range h {
		if p > 0 {
			wins++
		}
		sum += p
	}
	return total, float64(wins) / float64(total), sum / float64(total)
}

// Weight maps a key's track record to a multiplier in [0.25, 1.75]. Keys
// without enough samples stay neutral at 1.0.
func (t *Tracker) Weight(key string) float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.weightLocked(key)
}

func (t *Tracker) weightLocked(key string) float64 {
	total, winRate, avgPnL := t.statsLocked(key)
	if total < t.minN {
		return 1.0
	}
	weight := winRate / 0.5
	if weight < 0.5 {
		weight = 0.5
	}
	if weight > 1.5 {
		weight = 1.5
	}
	if avgPnL < 0 {
		weight *= 0.8
	}
	if weight < 0.25 {
		weight = 0.25
	}
	if weight > 1.75 {
		weight = 1.75
	}
	return weight
}

// IsBlocked reports whether a key's track record is bad enough to exclude
// its strategy from selection entirely.
func (t *Tracker) IsBlocked(key string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	total, winRate, avgPnL := t.statsLocked(key)
	if total < t.minN {
		return false
	}
	return winRate < t.minWin || avgPnL < t.minPnL
}

// StrategyWeights produces the selector-facing weight map for the given
// regime: blocked strategies get zero (which excludes them), the rest get
// their performance weight under the regime-aware key.
func (t *Tracker) StrategyWeights(regime decision.Regime) map[decision.Strategy]float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make(map[decision.Strategy]float64, len(decision.Strategies()))
	for _, strat := range decision.Strategies() {
		key := Key(strat, regime)
		total, winRate, avgPnL := t.statsLocked(key)
		if total >= t.minN && (winRate < t.minWin || avgPnL < t.minPnL) {
			out[strat] = 0
			continue
		}
		out[strat] = t.weightLocked(key)
	}
	return out
}
