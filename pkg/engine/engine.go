// Package engine wires the decision pipeline together: validate the
// observation, gate strategies by regime, select a signal, score it with
// the confidence model, apply the risk gates, and log the result. Every
// failure mode degrades to a logged WAIT; the engine never returns an
// unlogged decision.
package engine

import (
	"fmt"
	"math/rand"

	"github.com/zeromicro/go-zero/core/logx"

	"tradewind/pkg/confidence"
	"tradewind/pkg/decision"
	"tradewind/pkg/decisionlog"
	"tradewind/pkg/perf"
)

// historyLookback is how many recent records feed the anti-herding check.
const historyLookback = 3

// Decision is the engine's output for one analysis cycle.
type Decision struct {
	Action     decision.Action
	ID         string
	Repeats    int
	Confidence float64
}

// Options configure an Engine. Store is required; everything else has a
// working default.
type Options struct {
	Config  *decision.Config
	Store   decisionlog.Store
	Model   confidence.Model
	Adapter *decision.ThresholdAdapter
	Tracker *perf.Tracker
	Rand    *rand.Rand

	// Metadata stamped into every record.
	Mode           string
	DataSource     string
	MarketPeriodID string
}

// Engine runs the full decision pipeline for one symbol.
type Engine struct {
	cfg       *decision.Config
	store     decisionlog.Store
	model     confidence.Model
	adapter   *decision.ThresholdAdapter
	tracker   *perf.Tracker
	validator decision.StateValidator
	gater     decision.StrategyGater
	selector  *decision.SignalSelector
	gate      decision.ConfidenceGate
	risk      decision.RiskManager

	mode           string
	dataSource     string
	marketPeriodID string
}

// New builds an Engine from opts.
func New(opts Options) (*Engine, error) {
	if opts.Store == nil {
		return nil, fmt.Errorf("engine: decision log store is required")
	}
	cfg := opts.Config
	if cfg == nil {
		cfg = decision.DefaultConfig()
	}
	model := opts.Model
	if model == nil {
		model = confidence.Neutral{}
	}
	mode := opts.Mode
	if mode == "" {
		mode = "live"
	}
	return &Engine{
		cfg:            cfg,
		store:          opts.Store,
		model:          model,
		adapter:        opts.Adapter,
		tracker:        opts.Tracker,
		selector:       decision.NewSignalSelector(cfg, opts.Rand),
		gate:           decision.NewConfidenceGate(cfg),
		mode:           mode,
		dataSource:     opts.DataSource,
		marketPeriodID: opts.MarketPeriodID,
	}, nil
}

// RunAnalysis executes one decision cycle. It always returns a logged
// decision: validation failures, model errors, and log-read problems all
// collapse to a WAIT with the cause in its reasoning.
func (e *Engine) RunAnalysis(obs decision.MarketObservation) (Decision, error) {
	if err := e.validator.Validate(obs); err != nil {
		logx.Errorf("engine: observation rejected: %v", err)
		return e.logDecision(obs, decision.Wait(fmt.Sprintf("Invalid observation: %v", err)), 0, 0, nil)
	}

	history, err := e.recentHistory()
	if err != nil {
		logx.Errorf("engine: history unavailable, herding check degraded: %v", err)
	}

	var weights map[decision.Strategy]float64
	if e.tracker != nil {
		weights = e.tracker.StrategyWeights(obs.MarketRegime)
	}

	allowed := e.gater.AllowedStrategies(obs)
	sel := e.selector.Select(obs, allowed, weights, history)

	conf, err := e.model.Predict(obs, sel.Action, sel.Repeats)
	if err != nil {
		logx.Errorf("engine: confidence model failed: %v", err)
		wait := decision.Wait("Confidence model unavailable")
		return e.logDecision(obs, wait, countWaitRepeats(history, obs), 0, nil)
	}

	outcome := e.gate.Apply(sel.Action, obs, conf, e.threshold())
	final := e.risk.Refine(outcome.Action, obs)

	// A gate-blocked WAIT still logs the vetoed strategy's repeat count.
	return e.logDecision(obs, final, sel.Repeats, conf, outcome.Original)
}

func (e *Engine) threshold() float64 {
	if e.adapter != nil {
		return e.adapter.Threshold()
	}
	return e.cfg.BaseConfidenceThreshold
}

func (e *Engine) recentHistory() ([]decision.HistoryEntry, error) {
	recs, err := e.store.Recent(historyLookback)
	if err != nil {
		return nil, err
	}
	out := make([]decision.HistoryEntry, 0, len(recs))
	for _, r := range recs {
		out = append(out, decision.HistoryEntry{
			Strategy:   r.ActionTaken.Strategy,
			Regime:     r.MarketState.MarketRegime,
			Volatility: r.MarketState.VolatilityLevel,
		})
	}
	return out, nil
}

func (e *Engine) logDecision(obs decision.MarketObservation, action decision.Action, repeats int, conf float64, original *decision.Action) (Decision, error) {
	rec := decisionlog.NewRecord(obs, action, repeats, decisionlog.Metadata{
		Mode:           e.mode,
		DataSource:     e.dataSource,
		MarketPeriodID: e.marketPeriodID,
		MLConfidence:   conf,
		OriginalAction: original,
	})
	if err := e.store.Append(rec); err != nil {
		return Decision{}, fmt.Errorf("engine: log decision: %w", err)
	}
	logx.Infof("engine: %s %s %s risk=%.2f%% conf=%.2f repeats=%d",
		obs.Symbol, action.Strategy, action.Direction, action.AdjustedRisk, conf, repeats)
	return Decision{Action: action, ID: rec.ID, Repeats: repeats, Confidence: conf}, nil
}

// Resolve finalizes a logged decision and feeds its result back into the
// adaptive threshold.
func (e *Engine) Resolve(id string, reward float64, outcome decisionlog.Outcome) error {
	if err := e.store.Finalize(id, reward, outcome); err != nil {
		return err
	}
	if e.adapter != nil {
		e.adapter.RecordOutcome(outcome.PnLPct > 0, outcome.LossCategory)
	}
	return nil
}

// Store exposes the underlying log for callers that flush or inspect it.
func (e *Engine) Store() decisionlog.Store { return e.store }

func countWaitRepeats(history []decision.HistoryEntry, obs decision.MarketObservation) int {
	n := 0
	for _, h := range history {
		if h.Strategy != decision.StrategyWait || h.Regime != obs.MarketRegime || h.Volatility != obs.VolatilityLevel {
			break
		}
		n++
	}
	return n
}
