package decision

import "fmt"

// ValidationError marks an observation rejected before any strategy logic
// ran. The engine treats it as a recoverable condition and falls back to a
// WAIT decision instead of aborting the cycle.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("decision: invalid observation field %s: %s", e.Field, e.Reason)
}

// StateValidator performs sanity checks on incoming observations.
type StateValidator struct{}

// Validate returns a ValidationError describing the first problem found, or
// nil when the observation is usable.
func (StateValidator) Validate(obs MarketObservation) error {
	if !obs.MarketRegime.Valid() {
		return &ValidationError{Field: "market_regime", Reason: fmt.Sprintf("unknown value %q", obs.MarketRegime)}
	}
	if !obs.VolatilityLevel.Valid() {
		return &ValidationError{Field: "volatility_level", Reason: fmt.Sprintf("unknown value %q", obs.VolatilityLevel)}
	}
	if obs.CurrentDrawdownPercent > 0 || obs.CurrentDrawdownPercent < -100 {
		return &ValidationError{
			Field:  "current_drawdown_percent",
			Reason: fmt.Sprintf("%.4f outside [-100, 0]", obs.CurrentDrawdownPercent),
		}
	}
	if obs.TimeRemainingDays < 0 {
		return &ValidationError{
			Field:  "time_remaining_days",
			Reason: fmt.Sprintf("%.4f is negative", obs.TimeRemainingDays),
		}
	}
	if obs.MarketRegime == RegimeSidewaysLowVol && obs.VolatilityLevel == VolHigh {
		return &ValidationError{
			Field:  "market_regime",
			Reason: "SIDEWAYS_LOW_VOL contradicts HIGH volatility",
		}
	}
	return nil
}
