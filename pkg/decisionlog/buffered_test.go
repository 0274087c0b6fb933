package decisionlog

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradewind/pkg/decision"
)

func newTestBufferedStore(t *testing.T) (*BufferedStore, *FileStore) {
	t.Helper()
	file := newTestFileStore(t)
	return NewBufferedStore(file), file
}

func TestBufferedStore_AppendStaysInMemoryUntilFlush(t *testing.T) {
	buf, file := newTestBufferedStore(t)

	require.NoError(t, buf.Append(testRecord(decision.StrategyMomentum, "buffered")))
	assert.Equal(t, 1, buf.Count())
	assert.Equal(t, 0, file.Count(), "nothing hits disk before Flush")

	require.NoError(t, buf.Flush())
	assert.Equal(t, 1, file.Count(), "Flush drains the buffer to the file")
	assert.Equal(t, 1, buf.Count(), "the total is unchanged by flushing")
}

func TestBufferedStore_RecentPrefersBuffer(t *testing.T) {
	buf, _ := newTestBufferedStore(t)

	flushed := testRecord(decision.StrategyMomentum, "on disk")
	require.NoError(t, buf.Append(flushed))
	require.NoError(t, buf.Flush())

	inMemory := testRecord(decision.StrategyBreakout, "in memory")
	require.NoError(t, buf.Append(inMemory))

	recs, err := buf.Recent(10)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, inMemory.ID, recs[0].ID, "buffered records rank newest")
	assert.Equal(t, flushed.ID, recs[1].ID)
}

func TestBufferedStore_FinalizeInBuffer(t *testing.T) {
	buf, _ := newTestBufferedStore(t)
	rec := testRecord(decision.StrategyMomentum, "entry")
	require.NoError(t, buf.Append(rec))

	require.NoError(t, buf.Finalize(rec.ID, 1.7, Outcome{ExitReason: "TP", PnLPct: 1.5}))

	recs, err := buf.Recent(1)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.True(t, recs[0].Resolved, "a buffered record is patched in place")
	assert.InDelta(t, 1.7, recs[0].Reward, 1e-9)
}

func TestBufferedStore_FinalizeAfterFlushIsQueued(t *testing.T) {
	buf, file := newTestBufferedStore(t)
	rec := testRecord(decision.StrategyMomentum, "entry")
	require.NoError(t, buf.Append(rec))
	require.NoError(t, buf.Flush())

	require.NoError(t, buf.Finalize(rec.ID, -1.2, Outcome{ExitReason: "SL", PnLPct: -1.0}))

	onDisk, err := file.Recent(1)
	require.NoError(t, err)
	require.Len(t, onDisk, 1)
	assert.False(t, onDisk[0].Resolved, "the resolution waits for the next Flush")

	require.NoError(t, buf.Flush())
	onDisk, err = file.Recent(1)
	require.NoError(t, err)
	require.Len(t, onDisk, 1)
	assert.True(t, onDisk[0].Resolved)
	assert.InDelta(t, -1.2, onDisk[0].Reward, 1e-9)
	assert.Equal(t, "SL", onDisk[0].Outcome.ExitReason)
}

func TestBufferedStore_FlushResolvesWholeBatchAtOnce(t *testing.T) {
	buf, file := newTestBufferedStore(t)
	a := testRecord(decision.StrategyMomentum, "a")
	b := testRecord(decision.StrategyBreakout, "b")
	c := testRecord(decision.StrategyScalp, "c")
	for _, rec := range []Record{a, b, c} {
		require.NoError(t, buf.Append(rec))
	}
	require.NoError(t, buf.Flush())

	require.NoError(t, buf.Finalize(a.ID, 2.0, Outcome{ExitReason: "TP", PnLPct: 1.5}))
	require.NoError(t, buf.Finalize(c.ID, -1.0, Outcome{ExitReason: "SL", PnLPct: -1.0}))
	require.NoError(t, buf.Flush())

	onDisk, err := file.Recent(3)
	require.NoError(t, err)
	require.Len(t, onDisk, 3)
	byID := map[string]Record{}
	for _, rec := range onDisk {
		byID[rec.ID] = rec
	}
	assert.True(t, byID[a.ID].Resolved, "every queued resolution lands in the same rewrite")
	assert.True(t, byID[c.ID].Resolved)
	assert.False(t, byID[b.ID].Resolved, "unresolved records pass through untouched")
	assert.InDelta(t, 2.0, byID[a.ID].Reward, 1e-9)
	assert.Equal(t, "SL", byID[c.ID].Outcome.ExitReason)
}

func TestBufferedStore_CorruptLineDoesNotWedgeFlush(t *testing.T) {
	buf, file := newTestBufferedStore(t)
	rec := testRecord(decision.StrategyMomentum, "entry")
	require.NoError(t, buf.Append(rec))
	require.NoError(t, buf.Flush())

	// Truncate the record's line on disk so its id can never be matched.
	data, err := os.ReadFile(file.Path())
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(file.Path(), data[:len(data)/2], 0o644))

	require.NoError(t, buf.Finalize(rec.ID, 1.0, Outcome{ExitReason: "TP", PnLPct: 1.0}))
	require.NoError(t, buf.Flush(), "a resolution with no landing line must not fail the flush")
	require.NoError(t, buf.Flush(), "and must not poison later flushes either")

	require.NoError(t, buf.Append(testRecord(decision.StrategyBreakout, "after")))
	require.NoError(t, buf.Flush(), "the store keeps accepting writes afterwards")
}

func TestBufferedStore_CloseFlushes(t *testing.T) {
	buf, file := newTestBufferedStore(t)
	require.NoError(t, buf.Append(testRecord(decision.StrategyMomentum, "entry")))
	require.NoError(t, buf.Close())
	assert.Equal(t, 1, file.Count(), "Close must not drop buffered records")
}

func TestBufferedStore_StatsCombineBufferAndFile(t *testing.T) {
	buf, _ := newTestBufferedStore(t)
	require.NoError(t, buf.Append(testRecord(decision.StrategyMomentum, "a")))
	require.NoError(t, buf.Flush())
	require.NoError(t, buf.Append(testRecord(decision.StrategyMomentum, "b")))
	require.NoError(t, buf.Append(testRecord(decision.StrategyWait, "c")))

	stats := buf.Stats()
	assert.Equal(t, 3, stats.Total)
	assert.Equal(t, 2, stats.ByStrategy[decision.StrategyMomentum])
	assert.Equal(t, 1, stats.ByStrategy[decision.StrategyWait])
}
