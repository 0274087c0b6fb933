package decision

// TradeMode distinguishes quick scalps from multi-day swing positions. The
// mode drives TP/SL distances and the expected-value gate inputs.
type TradeMode string

const (
	ModeScalp TradeMode = "SCALP"
	ModeSwing TradeMode = "SWING"
)

// Percent-of-entry targets per mode.
const (
	scalpTPPct = 1.5
	scalpSLPct = 1.0
	swingTPPct = 6.0
	swingSLPct = 2.0
)

// ATR multipliers per mode. ATR distances are floored at the percent
// targets so a compressed ATR cannot produce degenerate stops.
const (
	scalpTPATRMult = 1.2
	scalpSLATRMult = 0.8
	swingTPATRMult = 2.5
	swingSLATRMult = 1.2
)

// ModeFor picks the trade mode: strong trends in a trending regime are
// traded as swings, everything else as scalps.
func ModeFor(obs MarketObservation) TradeMode {
	trending := obs.MarketRegime == RegimeBullTrend || obs.MarketRegime == RegimeBearTrend
	if trending && obs.TrendStrength == TrendStrong {
		return ModeSwing
	}
	return ModeScalp
}

// TargetPcts returns the take-profit and stop-loss distances for the mode,
// as percentages of entry price.
func (m TradeMode) TargetPcts() (tpPct, slPct float64) {
	if m == ModeSwing {
		return swingTPPct, swingSLPct
	}
	return scalpTPPct, scalpSLPct
}

// CalcTPSL computes absolute take-profit and stop-loss prices for an entry.
// When atr is positive the distances are ATR-scaled, floored at the
// percent-of-entry targets; otherwise the percent targets apply directly.
func CalcTPSL(entry, atr float64, mode TradeMode, dir Direction) (tp, sl float64) {
	tpPct, slPct := mode.TargetPcts()
	tpDist := entry * tpPct / 100
	slDist := entry * slPct / 100

	if atr > 0 {
		tpMult, slMult := scalpTPATRMult, scalpSLATRMult
		if mode == ModeSwing {
			tpMult, slMult = swingTPATRMult, swingSLATRMult
		}
		if d := atr * tpMult; d > tpDist {
			tpDist = d
		}
		if d := atr * slMult; d > slDist {
			slDist = d
		}
	}

	if dir == DirectionShort {
		return entry - tpDist, entry + slDist
	}
	return entry + tpDist, entry - slDist
}

// ExpectedValue is the probability-weighted return of a trade in percent:
// confidence times the TP distance minus the complement times the SL
// distance.
func ExpectedValue(confidence, tpPct, slPct float64) float64 {
	return confidence*tpPct - (1-confidence)*slPct
}
