package decision

import "fmt"

// Gate block reasons recorded in decision metadata.
const (
	BlockReasonConfidence    = "CONFIDENCE"
	BlockReasonExpectedValue = "EXPECTED_VALUE"
)

// GateOutcome is the result of running a proposed action through the
// confidence and expected-value gates. When a gate blocks, Action is a
// WAIT and Original keeps what the selector wanted, so the log can show
// both sides of the veto.
type GateOutcome struct {
	Action      Action
	Confidence  float64
	Threshold   float64
	Blocked     bool
	BlockReason string
	Original    *Action
}

// ConfidenceGate is the final filter between the selector and execution.
// It blocks low-confidence actions, scales position risk by confidence
// band, and optionally requires a positive expected value.
type ConfidenceGate struct {
	cfg *Config
}

// NewConfidenceGate builds a gate over cfg (nil means defaults).
func NewConfidenceGate(cfg *Config) ConfidenceGate {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	return ConfidenceGate{cfg: cfg}
}

// EffectiveThreshold raises the supplied threshold when the regime is
// unstable: ambiguous tape demands more conviction.
func (g ConfidenceGate) EffectiveThreshold(threshold float64, obs MarketObservation) float64 {
	if !obs.RegimeStable {
		threshold += g.cfg.UnstableRegimeBump
	}
	return threshold
}

// PositionScaling maps confidence to a risk multiplier: strong conviction
// sizes up, marginal conviction sizes down.
func (g ConfidenceGate) PositionScaling(confidence, threshold float64) float64 {
	switch {
	case confidence >= g.cfg.StrongConfidence:
		return 1.2
	case confidence >= threshold:
		return 1.0
	default:
		return 0.8
	}
}

// Apply runs the proposed action through both gates. WAIT actions pass
// untouched. Surviving actions come back with the confidence-band risk
// multiplier and TP/SL targets filled in.
func (g ConfidenceGate) Apply(action Action, obs MarketObservation, confidence, threshold float64) GateOutcome {
	threshold = g.EffectiveThreshold(threshold, obs)
	out := GateOutcome{Action: action, Confidence: confidence, Threshold: threshold}
	if action.IsWait() {
		return out
	}

	if confidence < threshold {
		orig := action
		out.Blocked = true
		out.BlockReason = BlockReasonConfidence
		out.Original = &orig
		out.Action = Wait(fmt.Sprintf("Confidence %.2f below threshold %.2f for %s", confidence, threshold, action.Strategy))
		return out
	}

	mode := ModeFor(obs)
	tpPct, slPct := mode.TargetPcts()
	if g.cfg.EVGating {
		if ev := ExpectedValue(confidence, tpPct, slPct); ev < g.cfg.EVThreshold {
			orig := action
			out.Blocked = true
			out.BlockReason = BlockReasonExpectedValue
			out.Original = &orig
			out.Action = Wait(fmt.Sprintf("Expected value %.2f%% below %.2f%% for %s", ev, g.cfg.EVThreshold, action.Strategy))
			return out
		}
	}

	out.Action.RiskMultiplier = g.PositionScaling(confidence, threshold)
	out.Action.TP, out.Action.SL = CalcTPSL(obs.CurrentPrice, obs.ATR, mode, action.Direction)
	return out
}
