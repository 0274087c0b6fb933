package engine

import (
	"errors"
	"math/rand"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradewind/pkg/confidence"
	"tradewind/pkg/decision"
	"tradewind/pkg/decisionlog"
	"tradewind/pkg/perf"
)

// strongBull is a clean momentum setup in a strong bull trend.
func strongBull() decision.MarketObservation {
	return decision.MarketObservation{
		Symbol:           "BTC/USDT",
		MarketRegime:     decision.RegimeBullTrend,
		VolatilityLevel:  decision.VolNormal,
		TrendStrength:    decision.TrendStrong,
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

type engineFixture struct {
	eng     *Engine
	store   decisionlog.Store
	adapter *decision.ThresholdAdapter
}

func newFixture(t *testing.T, model confidence.Model) engineFixture {
	t.Helper()
	store, err := decisionlog.NewFileStore(filepath.Join(t.TempDir(), "decision_log.jsonl"))
	require.NoError(t, err)
	cfg := *decision.DefaultConfig()
	cfg.StrategicWaitProb = 0
	adapter := decision.NewThresholdAdapter("", cfg.BaseConfidenceThreshold)
	eng, err := New(Options{
		Config:  &cfg,
		Store:   store,
		Model:   model,
		Adapter: adapter,
		Rand:    rand.New(rand.NewSource(1)),
		Mode:    "live",
	})
	require.NoError(t, err)
	return engineFixture{eng: eng, store: store, adapter: adapter}
}

func TestNew_RequiresStore(t *testing.T) {
	_, err := New(Options{})
	assert.Error(t, err, "an engine without a log store is useless")
}

func TestRunAnalysis_TradesACleanSetup(t *testing.T) {
	fx := newFixture(t, confidence.Func(func(decision.MarketObservation, decision.Action, int) (float64, error) {
		return 0.9, nil
	}))

	dec, err := fx.eng.RunAnalysis(strongBull())
	require.NoError(t, err)
	assert.Equal(t, decision.StrategyMomentum, dec.Action.Strategy)
	assert.Equal(t, decision.DirectionLong, dec.Action.Direction)
	assert.InDelta(t, 0.9, dec.Confidence, 1e-9)
	assert.NotEmpty(t, dec.ID)

	recs, err := fx.store.Recent(1)
	require.NoError(t, err)
	require.Len(t, recs, 1, "every cycle is logged")
	assert.Equal(t, dec.ID, recs[0].ID)
	assert.Equal(t, "live", recs[0].Metadata.Mode)
	assert.InDelta(t, 0.9, recs[0].Metadata.MLConfidence, 1e-9)
}

func TestRunAnalysis_InvalidObservationWaits(t *testing.T) {
	fx := newFixture(t, confidence.Neutral{})
	obs := strongBull()
	obs.MarketRegime = decision.Regime("NOT_A_REGIME")

	dec, err := fx.eng.RunAnalysis(obs)
	require.NoError(t, err, "a bad observation degrades, it does not abort")
	assert.True(t, dec.Action.IsWait())
	assert.Contains(t, dec.Action.Reasoning, "Invalid observation")

	recs, err := fx.store.Recent(1)
	require.NoError(t, err)
	require.Len(t, recs, 1, "the degraded WAIT is still logged")
}

func TestRunAnalysis_ModelFailureWaits(t *testing.T) {
	fx := newFixture(t, confidence.Func(func(decision.MarketObservation, decision.Action, int) (float64, error) {
		return 0, errors.New("model offline")
	}))

	dec, err := fx.eng.RunAnalysis(strongBull())
	require.NoError(t, err)
	assert.True(t, dec.Action.IsWait())
	assert.Contains(t, dec.Action.Reasoning, "Confidence model unavailable")
}

func TestRunAnalysis_LowConfidenceIsGated(t *testing.T) {
	fx := newFixture(t, confidence.Func(func(decision.MarketObservation, decision.Action, int) (float64, error) {
		return 0.2, nil
	}))

	dec, err := fx.eng.RunAnalysis(strongBull())
	require.NoError(t, err)
	assert.True(t, dec.Action.IsWait(), "a 0.2 score cannot clear the 0.5 threshold")

	recs, err := fx.store.Recent(1)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	require.NotNil(t, recs[0].Metadata.OriginalAction, "the vetoed action is preserved for training")
	assert.Equal(t, decision.StrategyMomentum, recs[0].Metadata.OriginalAction.Strategy)
}

func TestRunAnalysis_GatedWaitKeepsTheVetoedStreakCount(t *testing.T) {
	confs := []float64{0.9, 0.9, 0.2}
	call := 0
	fx := newFixture(t, confidence.Func(func(decision.MarketObservation, decision.Action, int) (float64, error) {
		c := confs[call]
		call++
		return c, nil
	}))

	for i := 0; i < 2; i++ {
		dec, err := fx.eng.RunAnalysis(strongBull())
		require.NoError(t, err)
		require.Equal(t, decision.StrategyMomentum, dec.Action.Strategy)
	}

	dec, err := fx.eng.RunAnalysis(strongBull())
	require.NoError(t, err)
	require.True(t, dec.Action.IsWait(), "0.2 confidence cannot clear the gate")
	assert.Equal(t, 2, dec.Repeats, "the blocked WAIT reports the vetoed strategy's streak")

	recs, err := fx.store.Recent(1)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, 2, recs[0].RepetitionCount)
}

func TestRunAnalysis_BlockedStrategiesFallToTheRunnerUp(t *testing.T) {
	tracker := perf.NewTracker(perf.Options{MinSamples: 5})
	key := perf.Key(decision.StrategyMomentum, decision.RegimeBullTrend)
	for i := 0; i < 5; i++ {
		tracker.Record(key, -2.0)
	}

	store, err := decisionlog.NewFileStore(filepath.Join(t.TempDir(), "decision_log.jsonl"))
	require.NoError(t, err)
	cfg := *decision.DefaultConfig()
	cfg.StrategicWaitProb = 0
	eng, err := New(Options{
		Config:  &cfg,
		Store:   store,
		Model:   confidence.Func(func(decision.MarketObservation, decision.Action, int) (float64, error) { return 0.9, nil }),
		Tracker: tracker,
		Rand:    rand.New(rand.NewSource(1)),
	})
	require.NoError(t, err)

	dec, err := eng.RunAnalysis(strongBull())
	require.NoError(t, err)
	assert.NotEqual(t, decision.StrategyMomentum, dec.Action.Strategy, "a blocked track record excludes the strategy")
}

func TestResolve_FeedsTheAdaptiveThreshold(t *testing.T) {
	fx := newFixture(t, confidence.Func(func(decision.MarketObservation, decision.Action, int) (float64, error) {
		return 0.9, nil
	}))

	for i := 0; i < 10; i++ {
		dec, err := fx.eng.RunAnalysis(strongBull())
		require.NoError(t, err)
		require.NoError(t, fx.eng.Resolve(dec.ID, 2.0, decisionlog.Outcome{PnLPct: 2.0, ExitReason: "TP"}))
	}

	assert.InDelta(t, 0.48, fx.adapter.Threshold(), 1e-9, "ten straight wins ease the threshold")

	recs, err := fx.store.Recent(1)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.True(t, recs[0].Resolved)
	assert.InDelta(t, 2.0, recs[0].Reward, 1e-9)
}

func TestResolve_UnknownID(t *testing.T) {
	fx := newFixture(t, confidence.Neutral{})
	_, err := fx.eng.RunAnalysis(strongBull())
	require.NoError(t, err)
	assert.Error(t, fx.eng.Resolve("no-such-id", 1.0, decisionlog.Outcome{}), "resolving an unlogged decision must fail")
}
