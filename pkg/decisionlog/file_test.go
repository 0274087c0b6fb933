package decisionlog

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradewind/pkg/decision"
)

func testRecord(strategy decision.Strategy, reasoning string) Record {
	obs := decision.MarketObservation{
		Symbol:          "BTC/USDT",
		MarketRegime:    decision.RegimeBullTrend,
		VolatilityLevel: decision.VolNormal,
		CurrentPrice:    50000,
	}
	action := decision.Action{
		Strategy:  strategy,
		Direction: decision.DirectionLong,
		Reasoning: reasoning,
	}
	if strategy == decision.StrategyWait {
		action.Direction = decision.DirectionFlat
	}
	return NewRecord(obs, action, 0, Metadata{Mode: "test", MLConfidence: 0.6})
}

func newTestFileStore(t *testing.T) *FileStore {
	t.Helper()
	store, err := NewFileStore(filepath.Join(t.TempDir(), "decision_log.jsonl"))
	require.NoError(t, err, "opening a fresh store must succeed")
	return store
}

func TestFileStore_AppendAndRecent(t *testing.T) {
	store := newTestFileStore(t)

	first := testRecord(decision.StrategyMomentum, "first")
	second := testRecord(decision.StrategyBreakout, "second")
	require.NoError(t, store.Append(first))
	require.NoError(t, store.Append(second))

	recs, err := store.Recent(10)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, second.ID, recs[0].ID, "the newest record comes back first")
	assert.Equal(t, first.ID, recs[1].ID)
	assert.Equal(t, 2, store.Count())
}

func TestFileStore_RecentHonorsLimit(t *testing.T) {
	store := newTestFileStore(t)
	var ids []string
	for i := 0; i < 5; i++ {
		rec := testRecord(decision.StrategyMomentum, fmt.Sprintf("rec %d", i))
		require.NoError(t, store.Append(rec))
		ids = append(ids, rec.ID)
	}

	recs, err := store.Recent(3)
	require.NoError(t, err)
	require.Len(t, recs, 3)
	assert.Equal(t, ids[4], recs[0].ID)
	assert.Equal(t, ids[2], recs[2].ID)

	recs, err = store.Recent(0)
	require.NoError(t, err)
	assert.Empty(t, recs, "a non-positive limit returns nothing")
}

func TestFileStore_RecentSpansTailChunks(t *testing.T) {
	store := newTestFileStore(t)
	// Pad each record well past the tail chunk size so every read crosses
	// a chunk boundary.
	padding := strings.Repeat("x", tailChunkSize)
	var ids []string
	for i := 0; i < 4; i++ {
		rec := testRecord(decision.StrategyMomentum, padding)
		require.NoError(t, store.Append(rec))
		ids = append(ids, rec.ID)
	}

	recs, err := store.Recent(4)
	require.NoError(t, err)
	require.Len(t, recs, 4)
	for i := range recs {
		assert.Equal(t, ids[3-i], recs[i].ID, "ordering must survive the chunked backwards read")
	}
}

func TestFileStore_FinalizeRoundTrip(t *testing.T) {
	store := newTestFileStore(t)
	rec := testRecord(decision.StrategyMomentum, "entry")
	require.NoError(t, store.Append(rec))

	outcome := Outcome{PnLPct: 1.8, PnLUSD: 180, ExitReason: "TP", DurationCandles: 4}
	require.NoError(t, store.Finalize(rec.ID, 2.3, outcome))

	recs, err := store.Recent(1)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	got := recs[0]
	assert.True(t, got.Resolved)
	assert.InDelta(t, 2.3, got.Reward, 1e-9)
	require.NotNil(t, got.Outcome)
	assert.Equal(t, "TP", got.Outcome.ExitReason)
	assert.NotEmpty(t, got.ResolutionTime, "resolution is timestamped")
}

func TestFileStore_FinalizeIsIdempotent(t *testing.T) {
	store := newTestFileStore(t)
	rec := testRecord(decision.StrategyMomentum, "entry")
	require.NoError(t, store.Append(rec))
	require.NoError(t, store.Finalize(rec.ID, 1.0, Outcome{ExitReason: "TP"}))

	require.NoError(t, store.Finalize(rec.ID, -9.0, Outcome{ExitReason: "SL"}), "re-finalizing is a no-op, not an error")

	recs, err := store.Recent(1)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.InDelta(t, 1.0, recs[0].Reward, 1e-9, "the first resolution sticks")
	assert.Equal(t, "TP", recs[0].Outcome.ExitReason)
}

func TestFileStore_FinalizeUnknownID(t *testing.T) {
	store := newTestFileStore(t)
	require.NoError(t, store.Append(testRecord(decision.StrategyMomentum, "entry")))
	err := store.Finalize("no-such-id", 1.0, Outcome{})
	assert.Error(t, err, "finalizing a missing record must fail loudly")
}

func TestFileStore_CorruptLinesAreSkipped(t *testing.T) {
	store := newTestFileStore(t)
	require.NoError(t, store.Append(testRecord(decision.StrategyMomentum, "good one")))

	f, err := os.OpenFile(store.Path(), os.O_WRONLY|os.O_APPEND, 0o644)
	require.NoError(t, err)
	_, err = f.WriteString("{this line is garbage\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	require.NoError(t, store.Append(testRecord(decision.StrategyBreakout, "good two")))

	reopened, err := NewFileStore(store.Path())
	require.NoError(t, err)
	assert.Equal(t, 2, reopened.Count(), "corrupt lines do not count as records")

	recs, err := reopened.Recent(10)
	require.NoError(t, err)
	assert.Len(t, recs, 2, "corrupt lines are skipped on read")
}

func TestFileStore_StatsRebuildOnOpen(t *testing.T) {
	store := newTestFileStore(t)
	require.NoError(t, store.Append(testRecord(decision.StrategyMomentum, "a")))
	require.NoError(t, store.Append(testRecord(decision.StrategyMomentum, "b")))
	require.NoError(t, store.Append(testRecord(decision.StrategyWait, "c")))

	reopened, err := NewFileStore(store.Path())
	require.NoError(t, err)
	stats := reopened.Stats()
	assert.Equal(t, 3, stats.Total)
	assert.Equal(t, 2, stats.ByStrategy[decision.StrategyMomentum])
	assert.Equal(t, 1, stats.ByStrategy[decision.StrategyWait])
	assert.Equal(t, 3, stats.ByRegime[decision.RegimeBullTrend])
	assert.Equal(t, 1, stats.ByDirection[decision.DirectionFlat])
}

func TestFileStore_StatsAreACopy(t *testing.T) {
	store := newTestFileStore(t)
	require.NoError(t, store.Append(testRecord(decision.StrategyMomentum, "a")))

	stats := store.Stats()
	stats.ByStrategy[decision.StrategyMomentum] = 99

	assert.Equal(t, 1, store.Stats().ByStrategy[decision.StrategyMomentum], "callers must not reach live counters")
}
