package decision

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// bullObs is a clean momentum setup in a strong bull trend.
func bullObs() MarketObservation {
	return MarketObservation{
		Symbol:           "BTC/USDT",
		MarketRegime:     RegimeBullTrend,
		VolatilityLevel:  VolNormal,
		TrendStrength:    TrendStrong,
		CurrentPrice:     100,
		RSI:              55,
		TrendSpread:      1.0,
		DistToHigh:       3.0,
		MACDHist:         5.0,
		ATR:              1.0,
		VolumeZScore:     1.5,
		HTFTrendSpread:   0.5,
		RegimeConfidence: 1.0,
		RegimeStable:     true,
	}
}

func noWaitCfg() *Config {
	cfg := *DefaultConfig()
	cfg.StrategicWaitProb = 0
	return &cfg
}

func bullAllowed() map[Strategy]bool {
	return StrategyGater{}.AllowedStrategies(bullObs())
}

func TestSelector_MomentumWinsBullTrend(t *testing.T) {
	sel := NewSignalSelector(noWaitCfg(), rand.New(rand.NewSource(1)))
	out := sel.Select(bullObs(), bullAllowed(), nil, nil)
	assert.Equal(t, StrategyMomentum, out.Action.Strategy, "full momentum setup should win the bull regime")
	assert.Equal(t, DirectionLong, out.Action.Direction, "momentum trades long")
	assert.Equal(t, RiskHigh, out.Action.RiskLevel, "a maximal raw score escalates to HIGH risk")
	assert.Greater(t, out.Scores[StrategyMomentum], out.Scores[StrategyBreakout], "momentum should outscore breakout here")
}

func TestSelector_EmptyAllowedIsCircuitBreakerWait(t *testing.T) {
	sel := NewSignalSelector(noWaitCfg(), rand.New(rand.NewSource(1)))
	obs := bullObs()
	obs.CurrentDrawdownPercent = -6.0
	out := sel.Select(obs, map[Strategy]bool{}, nil, nil)
	assert.True(t, out.Action.IsWait(), "no allowed strategies must produce a WAIT")
	assert.Contains(t, out.Action.Reasoning, "Circuit breaker", "deep drawdown names the breaker")
}

func TestSelector_EmptyAllowedWithoutDrawdown(t *testing.T) {
	sel := NewSignalSelector(noWaitCfg(), rand.New(rand.NewSource(1)))
	out := sel.Select(bullObs(), map[Strategy]bool{}, nil, nil)
	assert.True(t, out.Action.IsWait(), "no allowed strategies must produce a WAIT")
	assert.Contains(t, out.Action.Reasoning, "No strategy permitted", "reason should name the gate")
}

func TestSelector_StrategicWaitInjection(t *testing.T) {
	cfg := *DefaultConfig()
	cfg.StrategicWaitProb = 1.0
	sel := NewSignalSelector(&cfg, rand.New(rand.NewSource(1)))
	out := sel.Select(bullObs(), bullAllowed(), nil, nil)
	assert.True(t, out.Action.IsWait(), "probability 1 must always inject the exploratory WAIT")
	assert.Contains(t, out.Action.Reasoning, "Strategic wait", "reason should mark the injection")
}

func TestSelector_ExecutionFiltersBlockEntries(t *testing.T) {
	sel := NewSignalSelector(noWaitCfg(), rand.New(rand.NewSource(1)))

	spread := bullObs()
	spread.SpreadPct = 2.0
	out := sel.Select(spread, bullAllowed(), nil, nil)
	assert.True(t, out.Action.IsWait(), "wide spread must block entries")
	assert.Contains(t, out.Action.Reasoning, "Spread")

	gap := bullObs()
	gap.GapPct = -1.5
	out = sel.Select(gap, bullAllowed(), nil, nil)
	assert.True(t, out.Action.IsWait(), "a large gap in either direction must block entries")
	assert.Contains(t, out.Action.Reasoning, "Gap")

	body := bullObs()
	body.BodyPct = 3.0
	out = sel.Select(body, bullAllowed(), nil, nil)
	assert.True(t, out.Action.IsWait(), "an outsized candle body must block entries")
	assert.Contains(t, out.Action.Reasoning, "body")
}

func TestSelector_NoSignalMeansWait(t *testing.T) {
	sel := NewSignalSelector(noWaitCfg(), rand.New(rand.NewSource(1)))
	obs := bullObs()
	obs.TrendSpread = 0   // kills momentum
	obs.DistToHigh = 10   // kills breakout
	obs.VolumeZScore = 0  // kills breakout volume leg
	obs.FundingRate = 0   // kills arbitrage
	out := sel.Select(obs, bullAllowed(), nil, nil)
	assert.True(t, out.Action.IsWait(), "no setup should mean no trade")
	assert.Contains(t, out.Action.Reasoning, "No signal above minimum score")
}

func TestSelector_ZeroWeightExcludesStrategy(t *testing.T) {
	sel := NewSignalSelector(noWaitCfg(), rand.New(rand.NewSource(1)))
	weights := map[Strategy]float64{StrategyMomentum: 0}
	out := sel.Select(bullObs(), bullAllowed(), weights, nil)
	assert.NotEqual(t, StrategyMomentum, out.Action.Strategy, "a zero weight must exclude the strategy entirely")
}

func TestSelector_WeightReordersCandidates(t *testing.T) {
	sel := NewSignalSelector(noWaitCfg(), rand.New(rand.NewSource(1)))
	weights := map[Strategy]float64{StrategyMomentum: 0.5, StrategyBreakout: 1.5}
	obs := bullObs()
	obs.DistToHigh = 0.5
	out := sel.Select(obs, bullAllowed(), weights, nil)
	assert.Equal(t, StrategyBreakout, out.Action.Strategy, "performance weights should be able to flip the ranking")
}

func TestSelector_AntiHerdingPrefersRunnerUp(t *testing.T) {
	sel := NewSignalSelector(noWaitCfg(), rand.New(rand.NewSource(1)))
	obs := bullObs()
	obs.DistToHigh = 0.5 // breakout is a live runner-up
	history := []HistoryEntry{
		{Strategy: StrategyMomentum, Regime: RegimeBullTrend, Volatility: VolNormal},
		{Strategy: StrategyMomentum, Regime: RegimeBullTrend, Volatility: VolNormal},
		{Strategy: StrategyMomentum, Regime: RegimeBullTrend, Volatility: VolNormal},
	}
	out := sel.Select(obs, bullAllowed(), nil, history)
	require.False(t, out.Action.IsWait(), "a qualified runner-up should trade instead of waiting")
	assert.NotEqual(t, StrategyMomentum, out.Action.Strategy, "three repeats must force a different strategy")
	assert.Contains(t, out.Action.Reasoning, "anti-herding alternative")
}

func TestSelector_AntiHerdingFallsBackToWait(t *testing.T) {
	sel := NewSignalSelector(noWaitCfg(), rand.New(rand.NewSource(1)))
	obs := bullObs()
	obs.DistToHigh = 10  // no breakout runner-up
	obs.VolumeZScore = 0 // momentum still scores 0.85 via HTF+strong bonuses
	history := []HistoryEntry{
		{Strategy: StrategyMomentum, Regime: RegimeBullTrend, Volatility: VolNormal},
		{Strategy: StrategyMomentum, Regime: RegimeBullTrend, Volatility: VolNormal},
		{Strategy: StrategyMomentum, Regime: RegimeBullTrend, Volatility: VolNormal},
	}
	out := sel.Select(obs, bullAllowed(), nil, history)
	assert.True(t, out.Action.IsWait(), "with no runner-up the selector must stand down")
	assert.Contains(t, out.Action.Reasoning, "Anti-herding")
}

func TestSelector_RepeatCountStopsAtContextChange(t *testing.T) {
	obs := bullObs()
	history := []HistoryEntry{
		{Strategy: StrategyMomentum, Regime: RegimeBullTrend, Volatility: VolNormal},
		{Strategy: StrategyMomentum, Regime: RegimeBullTrend, Volatility: VolHigh}, // context break
		{Strategy: StrategyMomentum, Regime: RegimeBullTrend, Volatility: VolNormal},
	}
	assert.Equal(t, 1, countRepeats(history, StrategyMomentum, obs), "a context change resets the streak")
}

func TestSelector_ShortMomentumInBearTrend(t *testing.T) {
	sel := NewSignalSelector(noWaitCfg(), rand.New(rand.NewSource(1)))
	obs := bullObs()
	obs.MarketRegime = RegimeBearTrend
	obs.TrendSpread = -1.0
	obs.MACDHist = -5.0
	obs.RSI = 45
	obs.HTFTrendSpread = -0.5
	allowed := StrategyGater{}.AllowedStrategies(obs)
	out := sel.Select(obs, allowed, nil, nil)
	assert.Equal(t, StrategyShortMomentum, out.Action.Strategy, "bear setup should pick short momentum")
	assert.Equal(t, DirectionShort, out.Action.Direction, "short momentum trades short")
}

func TestSelector_MarketMakingPicksTradeableSide(t *testing.T) {
	sel := NewSignalSelector(noWaitCfg(), rand.New(rand.NewSource(1)))
	obs := bullObs()
	obs.MarketRegime = RegimeSidewaysLowVol
	obs.VolatilityLevel = VolLow
	obs.RSI = 50 // mean reversion stays out
	obs.TrendSpread = 0
	obs.MACDHist = 0
	obs.FundingRate = 0
	obs.SpreadPct = 0.05
	obs.BodyPct = 0.3
	obs.LiquidityProxy = 1.0
	obs.BBLower = 90
	obs.BBUpper = 110
	obs.BBMid = 100

	obs.CurrentPrice = 98 // mid-band, so scalp stays out too
	allowed := StrategyGater{}.AllowedStrategies(obs)
	out := sel.Select(obs, allowed, nil, nil)
	require.Equal(t, StrategyMarketMaking, out.Action.Strategy, "a quiet tight tape should select market making")
	assert.Equal(t, DirectionLong, out.Action.Direction, "below the band mid the quote leans long")
	assert.NotEqual(t, DirectionFlat, out.Action.Direction, "market making must place a sided order")

	obs.CurrentPrice = 102
	out = sel.Select(obs, StrategyGater{}.AllowedStrategies(obs), nil, nil)
	require.Equal(t, StrategyMarketMaking, out.Action.Strategy)
	assert.Equal(t, DirectionShort, out.Action.Direction, "above the band mid the quote leans short")
}

func TestSelector_ArbitrageFadesPositiveFunding(t *testing.T) {
	sel := NewSignalSelector(noWaitCfg(), rand.New(rand.NewSource(1)))
	obs := bullObs()
	obs.MarketRegime = RegimeSidewaysHighVol
	obs.VolatilityLevel = VolHigh
	obs.RSI = 50
	obs.FundingRate = 0.12
	obs.FundingExtreme = true
	allowed := StrategyGater{}.AllowedStrategies(obs)
	out := sel.Select(obs, allowed, nil, nil)
	assert.Equal(t, StrategyArbitrage, out.Action.Strategy, "extreme funding should select arbitrage")
	assert.Equal(t, DirectionShort, out.Action.Direction, "positive funding means longs pay, so fade them")
}
