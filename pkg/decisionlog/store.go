package decisionlog

// Store is the persistence boundary for decision records. FileStore writes
// through on every call; BufferedStore batches for backtests. Both keep the
// same on-disk format, so a backtest log and a live log are interchangeable
// as training data.
type Store interface {
	// Append persists a new, unresolved record.
	Append(rec Record) error
	// Finalize marks a record resolved with its reward and outcome.
	// Finalizing an already resolved record is a no-op.
	Finalize(id string, reward float64, outcome Outcome) error
	// Recent returns up to n of the newest records, newest first.
	Recent(n int) ([]Record, error)
	// Count returns the total number of records appended.
	Count() int
	// Stats returns aggregate counters over everything appended.
	Stats() Stats
	// Flush forces any buffered writes to disk.
	Flush() error
	// Close flushes and releases the store.
	Close() error
}
