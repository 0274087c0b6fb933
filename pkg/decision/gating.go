package decision

// CircuitBreakerDrawdownPct is the drawdown (a negative percentage) at or
// below which all trading is suspended regardless of regime.
const CircuitBreakerDrawdownPct = -5.0

// StrategyGater maps market regimes to the set of strategies allowed to
// compete this cycle. The gate runs before scoring, so a strategy that is
// not listed here can never trade no matter how strong its signal is.
type StrategyGater struct{}

// AllowedStrategies returns the strategies eligible under the current
// regime and risk state. An empty set means the only legal action is WAIT.
func (StrategyGater) AllowedStrategies(obs MarketObservation) map[Strategy]bool {
	// Circuit breaker: deep drawdown overrides everything else.
	if obs.CurrentDrawdownPercent <= CircuitBreakerDrawdownPct {
		return map[Strategy]bool{}
	}

	allowed := map[Strategy]bool{}
	switch obs.MarketRegime {
	case RegimeBullTrend:
		allowed[StrategyMomentum] = true
		allowed[StrategyBreakout] = true
		allowed[StrategyArbitrage] = true
	case RegimeBearTrend:
		allowed[StrategyShortMomentum] = true
		allowed[StrategyArbitrage] = true
	case RegimeSidewaysLowVol:
		allowed[StrategyScalp] = true
		allowed[StrategyMeanReversion] = true
		allowed[StrategyArbitrage] = true
		allowed[StrategyMarketMaking] = true
	case RegimeSidewaysHighVol:
		allowed[StrategyScalp] = true
		allowed[StrategyMeanReversion] = true
		allowed[StrategyArbitrage] = true
	case RegimeTransition:
		// Regime is ambiguous: sit out until it resolves.
	}

	// Breakouts need expansion room that a dead-quiet tape does not offer.
	if obs.VolatilityLevel == VolLow {
		delete(allowed, StrategyBreakout)
	}
	return allowed
}
