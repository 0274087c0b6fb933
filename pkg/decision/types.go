// Package decision implements the strategy-gating and risk pipeline that
// turns a market observation into a sized trading action: validation,
// regime gating, signal selection, confidence and expected-value gates, and
// hard risk caps. All components are pure; orchestration lives in
// pkg/engine.
package decision

// Regime is the categorical market-trend classification.
type Regime string

const (
	RegimeBullTrend       Regime = "BULL_TREND"
	RegimeBearTrend       Regime = "BEAR_TREND"
	RegimeSidewaysLowVol  Regime = "SIDEWAYS_LOW_VOL"
	RegimeSidewaysHighVol Regime = "SIDEWAYS_HIGH_VOL"
	RegimeTransition      Regime = "TRANSITION"
)

// Valid reports whether r is a known regime value.
func (r Regime) Valid() bool {
	switch r {
	case RegimeBullTrend, RegimeBearTrend, RegimeSidewaysLowVol, RegimeSidewaysHighVol, RegimeTransition:
		return true
	}
	return false
}

// Volatility is the categorical volatility level.
type Volatility string

const (
	VolLow    Volatility = "LOW"
	VolNormal Volatility = "NORMAL"
	VolHigh   Volatility = "HIGH"
)

// Valid reports whether v is a known volatility level.
func (v Volatility) Valid() bool {
	switch v {
	case VolLow, VolNormal, VolHigh:
		return true
	}
	return false
}

// TrendStrength classifies how established the current trend is.
type TrendStrength string

const (
	TrendWeak     TrendStrength = "WEAK"
	TrendModerate TrendStrength = "MODERATE"
	TrendStrong   TrendStrength = "STRONG"
)

// RiskLevel is the per-action risk bucket mapped to a base risk percentage.
type RiskLevel string

const (
	RiskLow    RiskLevel = "LOW"
	RiskMedium RiskLevel = "MEDIUM"
	RiskHigh   RiskLevel = "HIGH"
)

// Strategy is the closed set of tradeable strategies. Adding a strategy is
// a compile-time change: the gater and selector switch over every value.
type Strategy string

const (
	StrategyMomentum      Strategy = "MOMENTUM"
	StrategyBreakout      Strategy = "BREAKOUT"
	StrategyShortMomentum Strategy = "SHORT_MOMENTUM"
	StrategyScalp         Strategy = "SCALP"
	StrategyMeanReversion Strategy = "MEAN_REVERSION"
	StrategyArbitrage     Strategy = "ARBITRAGE"
	StrategyMarketMaking  Strategy = "MARKET_MAKING"
	StrategyWait          Strategy = "WAIT"
)

// Strategies lists every tradeable strategy (WAIT excluded).
func Strategies() []Strategy {
	return []Strategy{
		StrategyMomentum,
		StrategyBreakout,
		StrategyShortMomentum,
		StrategyScalp,
		StrategyMeanReversion,
		StrategyArbitrage,
		StrategyMarketMaking,
	}
}

// Direction is the trade side.
type Direction string

const (
	DirectionLong  Direction = "LONG"
	DirectionShort Direction = "SHORT"
	DirectionFlat  Direction = "FLAT"
)

// Action is a trading decision. It is a value type: risk refinement stages
// return a modified copy and never mutate an action a caller still holds.
type Action struct {
	Strategy       Strategy  `json:"strategy"`
	Direction      Direction `json:"direction"`
	RiskLevel      RiskLevel `json:"risk_level"`
	BaseRisk       float64   `json:"base_risk"`
	AdjustedRisk   float64   `json:"adjusted_risk"`
	RiskMultiplier float64   `json:"risk_multiplier"`
	TP             float64   `json:"tp"`
	SL             float64   `json:"sl"`
	Reasoning      string    `json:"reasoning"`
}

// Wait builds the canonical no-trade action.
func Wait(reason string) Action {
	if reason == "" {
		reason = "Insufficient specific signal"
	}
	return Action{
		Strategy:       StrategyWait,
		Direction:      DirectionFlat,
		RiskLevel:      RiskLow,
		RiskMultiplier: 1.0,
		Reasoning:      reason,
	}
}

// IsWait reports whether the action is a no-trade decision.
func (a Action) IsWait() bool { return a.Strategy == StrategyWait }

// HistoryEntry is the slice of a past decision the selector needs for its
// anti-herding check. The engine maps stored records into this shape so the
// selector stays decoupled from the log.
type HistoryEntry struct {
	Strategy   Strategy
	Regime     Regime
	Volatility Volatility
}
