package decision

import (
	"fmt"
	"math/rand"
	"sort"
	"time"
)

// herdingLimit is the number of consecutive identical decisions (same
// strategy under the same regime and volatility) after which the selector
// forces a different choice.
const herdingLimit = 3

// Selection is the selector's full output: the chosen action, how many
// times in a row this exact choice has now been made, and the raw scores
// for diagnostics.
type Selection struct {
	Action  Action
	Repeats int
	Scores  map[Strategy]float64
}

type candidate struct {
	strategy Strategy
	action   Action
	score    float64
}

// SignalSelector turns an observation into a concrete action by scoring
// every gate-allowed strategy against the current tape. The RNG drives
// only the strategic WAIT injection; tests pass a seeded source or set the
// probability to zero.
type SignalSelector struct {
	cfg *Config
	rng *rand.Rand
}

// NewSignalSelector builds a selector over cfg (nil means defaults) and
// rng (nil means time-seeded).
func NewSignalSelector(cfg *Config, rng *rand.Rand) *SignalSelector {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &SignalSelector{cfg: cfg, rng: rng}
}

// Select picks the best-scoring allowed strategy, or WAIT when nothing
// clears the bar. weights are external per-strategy multipliers (absent
// means 1.0; zero or negative excludes the strategy). history is the most
// recent decisions first and feeds the anti-herding check.
func (s *SignalSelector) Select(obs MarketObservation, allowed map[Strategy]bool, weights map[Strategy]float64, history []HistoryEntry) Selection {
	done := func(a Action) Selection {
		return Selection{Action: a, Repeats: countRepeats(history, a.Strategy, obs)}
	}

	if len(allowed) == 0 {
		if obs.CurrentDrawdownPercent <= CircuitBreakerDrawdownPct {
			return done(Wait(fmt.Sprintf("Circuit breaker: drawdown %.2f%%", obs.CurrentDrawdownPercent)))
		}
		return done(Wait("No strategy permitted in current regime"))
	}

	// Exploration: occasionally sit one out even with valid signals, so the
	// reward stream keeps sampling the value of doing nothing.
	if s.cfg.StrategicWaitProb > 0 && s.rng.Float64() < s.cfg.StrategicWaitProb {
		return done(Wait("Strategic wait (exploration)"))
	}

	if reason := s.execFilterReason(obs); reason != "" {
		return done(Wait(reason))
	}

	cands, scores := s.scoreCandidates(obs, allowed, weights)
	if len(cands) == 0 {
		sel := done(Wait("No signal above minimum score"))
		sel.Scores = scores
		return sel
	}

	best := cands[0]
	if countRepeats(history, best.strategy, obs) >= herdingLimit {
		// Same trade three times running: force variety. Take the runner-up
		// if one cleared the bar, otherwise stand down.
		if len(cands) > 1 {
			alt := cands[1]
			alt.action.Reasoning += " (anti-herding alternative)"
			sel := done(alt.action)
			sel.Scores = scores
			return sel
		}
		sel := done(Wait(fmt.Sprintf("Anti-herding: %s chosen %d times consecutively", best.strategy, herdingLimit)))
		sel.Scores = scores
		return sel
	}

	sel := done(best.action)
	sel.Scores = scores
	return sel
}

// execFilterReason rejects observations whose microstructure makes any
// entry unattractive regardless of signal.
func (s *SignalSelector) execFilterReason(obs MarketObservation) string {
	if obs.SpreadPct > s.cfg.MaxSpreadPct {
		return fmt.Sprintf("Spread %.2f%% exceeds %.2f%% cap", obs.SpreadPct, s.cfg.MaxSpreadPct)
	}
	if gap := abs(obs.GapPct); gap > s.cfg.MaxGapPct {
		return fmt.Sprintf("Gap %.2f%% exceeds %.2f%% cap", gap, s.cfg.MaxGapPct)
	}
	if obs.BodyPct > s.cfg.MaxBodyPct {
		return fmt.Sprintf("Candle body %.2f%% exceeds %.2f%% cap", obs.BodyPct, s.cfg.MaxBodyPct)
	}
	return ""
}

func (s *SignalSelector) scoreCandidates(obs MarketObservation, allowed map[Strategy]bool, weights map[Strategy]float64) ([]candidate, map[Strategy]float64) {
	// Context multipliers shared by every strategy score.
	ctxMult := 0.85 + 0.15*clamp01(obs.RegimeConfidence)
	if !obs.RegimeStable {
		ctxMult *= 0.9
	}

	scores := make(map[Strategy]float64, len(allowed))
	var cands []candidate
	for strat := range allowed {
		weight := 1.0
		if weights != nil {
			if w, ok := weights[strat]; ok {
				weight = w
			}
		}
		if weight <= 0 {
			continue
		}
		raw, action := s.score(strat, obs)
		score := raw * ctxMult * weight
		scores[strat] = score
		if raw <= 0 || score < s.cfg.MinSignalScore {
			continue
		}
		action.Reasoning = fmt.Sprintf("%s signal score %.2f in %s", strat, score, obs.MarketRegime)
		cands = append(cands, candidate{strategy: strat, action: action, score: score})
	}
	sort.Slice(cands, func(i, j int) bool {
		if cands[i].score != cands[j].score {
			return cands[i].score > cands[j].score
		}
		return cands[i].strategy < cands[j].strategy
	})
	return cands, scores
}

// score rates one strategy in [0, 1] before context multipliers and returns
// the action it would take. A zero score means the setup is absent.
func (s *SignalSelector) score(strat Strategy, obs MarketObservation) (float64, Action) {
	cfg := s.cfg
	switch strat {
	case StrategyMomentum:
		if obs.TrendSpread < cfg.TrendSpreadMin || obs.MACDHist <= 0 || obs.RSI >= cfg.RSIOverbought {
			return 0, Action{}
		}
		score := 0.6
		if obs.HTFTrendSpread >= cfg.HTFSpreadMin {
			score += 0.15
		}
		if obs.VolumeZScore >= cfg.MinVolumeZScore {
			score += 0.15
		}
		if obs.TrendStrength == TrendStrong {
			score += 0.10
		}
		return clamp01(score), s.tradeAction(strat, DirectionLong, score)

	case StrategyShortMomentum:
		if obs.TrendSpread > -cfg.TrendSpreadMin || obs.MACDHist >= 0 || obs.RSI <= cfg.RSIOversold {
			return 0, Action{}
		}
		score := 0.6
		if obs.HTFTrendSpread <= -cfg.HTFSpreadMin {
			score += 0.15
		}
		if obs.VolumeZScore >= cfg.MinVolumeZScore {
			score += 0.15
		}
		if obs.TrendStrength == TrendStrong {
			score += 0.10
		}
		return clamp01(score), s.tradeAction(strat, DirectionShort, score)

	case StrategyBreakout:
		if obs.DistToHigh > cfg.NearLevelPct || obs.VolumeZScore < cfg.MinVolumeZScore {
			return 0, Action{}
		}
		score := 0.6
		if obs.VolumeZScore >= cfg.MinVolumeZScore+1 {
			score += 0.20
		}
		if obs.MACDHist > 0 {
			score += 0.10
		}
		if obs.TrendStrength == TrendStrong {
			score += 0.10
		}
		return clamp01(score), s.tradeAction(strat, DirectionLong, score)

	case StrategyMeanReversion:
		switch {
		case obs.RSI >= cfg.RSIOverbought:
			score := 0.6
			if obs.BBUpper > 0 && obs.CurrentPrice >= obs.BBUpper {
				score += 0.15
			}
			if obs.RSI >= cfg.RSIOverbought+5 {
				score += 0.15
			}
			return clamp01(score), s.tradeAction(strat, DirectionShort, score)
		case obs.RSI <= cfg.RSIOversold && obs.RSI > 0:
			score := 0.6
			if obs.BBLower > 0 && obs.CurrentPrice <= obs.BBLower {
				score += 0.15
			}
			if obs.RSI <= cfg.RSIOversold-5 {
				score += 0.15
			}
			return clamp01(score), s.tradeAction(strat, DirectionLong, score)
		}
		return 0, Action{}

	case StrategyScalp:
		width := obs.BBUpper - obs.BBLower
		if width <= 0 {
			return 0, Action{}
		}
		pos := (obs.CurrentPrice - obs.BBLower) / width
		var dir Direction
		switch {
		case pos <= 0.2:
			dir = DirectionLong
		case pos >= 0.8:
			dir = DirectionShort
		default:
			return 0, Action{}
		}
		score := 0.6
		if (dir == DirectionLong && obs.RSI < 50) || (dir == DirectionShort && obs.RSI > 50) {
			score += 0.10
		}
		if obs.SpreadPct <= cfg.MMMaxSpreadPct {
			score += 0.10
		}
		return clamp01(score), s.tradeAction(strat, dir, score)

	case StrategyArbitrage:
		f := abs(obs.FundingRate)
		if !obs.FundingExtreme && f < cfg.FundingArbThresh {
			return 0, Action{}
		}
		score := 0.7
		if obs.FundingExtreme {
			score = 0.9
		} else if cfg.FundingArbThresh > 0 {
			score += 0.2 * clamp01((f-cfg.FundingArbThresh)/cfg.FundingArbThresh)
		}
		// Positive funding means longs pay: fade them and collect.
		dir := DirectionLong
		if obs.FundingRate > 0 {
			dir = DirectionShort
		}
		return clamp01(score), s.tradeAction(strat, dir, score)

	case StrategyMarketMaking:
		if obs.SpreadPct > cfg.MMMaxSpreadPct || obs.BodyPct > cfg.MMMaxBodyPct {
			return 0, Action{}
		}
		// Quote the side that leans back toward the middle of the range:
		// short above the mid, long below or without band context.
		dir := DirectionLong
		if obs.BBMid > 0 && obs.CurrentPrice > obs.BBMid {
			dir = DirectionShort
		}
		score := 0.65
		if obs.VolatilityLevel == VolLow {
			score += 0.10
		}
		if obs.LiquidityProxy > 0 {
			score += 0.10
		}
		return clamp01(score), s.tradeAction(strat, dir, score)
	}
	return 0, Action{}
}

// tradeAction builds the pre-gate action for a scored strategy. Directional
// trades start at MEDIUM risk (HIGH on very strong raw scores); quoting and
// carry strategies stay LOW.
func (s *SignalSelector) tradeAction(strat Strategy, dir Direction, rawScore float64) Action {
	level := RiskLow
	switch strat {
	case StrategyMomentum, StrategyShortMomentum, StrategyBreakout:
		level = RiskMedium
		if rawScore >= 0.9 {
			level = RiskHigh
		}
	}
	return Action{
		Strategy:       strat,
		Direction:      dir,
		RiskLevel:      level,
		RiskMultiplier: 1.0,
	}
}

// countRepeats counts how many of the most recent decisions chose strat
// under the same regime and volatility, stopping at the first mismatch.
func countRepeats(history []HistoryEntry, strat Strategy, obs MarketObservation) int {
	n := 0
	for _, h := range history {
		if h.Strategy != strat || h.Regime != obs.MarketRegime || h.Volatility != obs.VolatilityLevel {
			break
		}
		n++
	}
	return n
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
