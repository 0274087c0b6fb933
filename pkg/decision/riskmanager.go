package decision

// Base risk per bucket, in percent of equity.
const (
	baseRiskLow    = 0.5
	baseRiskMedium = 1.0
	baseRiskHigh   = 2.0

	// MaxAdjustedRiskPct caps adjusted risk after all multipliers.
	MaxAdjustedRiskPct = 2.0

	// DowngradeDrawdownPct forces every action to LOW risk once breached.
	DowngradeDrawdownPct = -4.0
)

// RiskStateDanger is the portfolio risk state that forces LOW risk sizing.
const RiskStateDanger = "DANGER"

// RiskManager applies hard risk caps to a proposed action. It never mutates
// its input: the refined action is returned as a new value so the caller's
// copy (and anything already logged) stays intact.
type RiskManager struct{}

// Refine resolves the action's base and adjusted risk against the current
// portfolio state.
func (RiskManager) Refine(action Action, obs MarketObservation) Action {
	out := action

	if obs.CurrentRiskState == RiskStateDanger || obs.CurrentDrawdownPercent <= DowngradeDrawdownPct {
		out.RiskLevel = RiskLow
	}

	switch out.RiskLevel {
	case RiskHigh:
		out.BaseRisk = baseRiskHigh
	case RiskMedium:
		out.BaseRisk = baseRiskMedium
	default:
		out.RiskLevel = RiskLow
		out.BaseRisk = baseRiskLow
	}

	mult := out.RiskMultiplier
	if mult <= 0 {
		mult = 1.0
		out.RiskMultiplier = mult
	}
	out.AdjustedRisk = out.BaseRisk * mult
	if out.AdjustedRisk > MaxAdjustedRiskPct {
		out.AdjustedRisk = MaxAdjustedRiskPct
	}
	return out
}
