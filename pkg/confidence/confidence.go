// Package confidence defines the boundary to the learned scoring model.
// The engine only needs a probability that a proposed action works out;
// how that probability is produced (ONNX runtime, remote service, lookup
// table) stays behind the Model interface.
package confidence

import "tradewind/pkg/decision"

// Model scores a proposed action in [0, 1] given the observation it was
// derived from and how many times in a row it has been chosen.
type Model interface {
	Predict(obs decision.MarketObservation, action decision.Action, repeats int) (float64, error)
}

// Func adapts a plain function to Model.
type Func func(obs decision.MarketObservation, action decision.Action, repeats int) (float64, error)

// Predict implements Model.
func (f Func) Predict(obs decision.MarketObservation, action decision.Action, repeats int) (float64, error) {
	return f(obs, action, repeats)
}

// Neutral is the fallback model used when no trained model is wired in: it
// returns 0.5 for everything, leaving the gates to the static thresholds.
type Neutral struct{}

// Predict implements Model.
func (Neutral) Predict(decision.MarketObservation, decision.Action, int) (float64, error) {
	return 0.5, nil
}
