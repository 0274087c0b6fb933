package decisionlog

import (
	"fmt"
	"sync"
	"time"
)

type pendingResolution struct {
	reward  float64
	outcome Outcome
}

// BufferedStore batches appends and finalizations in memory and writes
// them out in one pass on Flush. Backtests use it so a ten-thousand-bar
// run does not rewrite the log file ten thousand times. Recent consults
// the buffer before the file, so the anti-herding lookback sees decisions
// that have not hit disk yet.
type BufferedStore struct {
	mu      sync.Mutex
	file    *FileStore
	buffer  []Record
	pending map[string]pendingResolution
	stats   Stats
}

// NewBufferedStore wraps a FileStore in a write buffer.
func NewBufferedStore(file *FileStore) *BufferedStore {
	return &BufferedStore{
		file:    file,
		pending: map[string]pendingResolution{},
		stats:   newStats(),
	}
}

// Append implements Store.
func (s *BufferedStore) Append(rec Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.buffer = append(s.buffer, rec)
	s.stats.observe(rec)
	return nil
}

// Finalize implements Store. Records still in the buffer are patched in
// place; records already flushed are queued and patched on the next Flush.
func (s *BufferedStore) Finalize(id string, reward float64, outcome Outcome) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.buffer {
		if s.buffer[i].ID != id {
			continue
		}
		if s.buffer[i].Resolved {
			return nil
		}
		s.buffer[i].Resolved = true
		s.buffer[i].Reward = reward
		oc := outcome
		s.buffer[i].Outcome = &oc
		s.buffer[i].ResolutionTime = time.Now().UTC().Format(time.RFC3339Nano)
		return nil
	}
	s.pending[id] = pendingResolution{reward: reward, outcome: outcome}
	return nil
}

// Recent implements Store, returning buffered records first (newest
// first), then falling back to the file for the remainder.
func (s *BufferedStore) Recent(n int) ([]Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n <= 0 {
		return nil, nil
	}
	var recs []Record
	for i := len(s.buffer) - 1; i >= 0 && len(recs) < n; i-- {
		recs = append(recs, s.buffer[i])
	}
	if len(recs) < n {
		fromFile, err := s.file.Recent(n - len(recs))
		if err != nil {
			return nil, err
		}
		recs = append(recs, fromFile...)
	}
	return recs, nil
}

// Count implements Store.
func (s *BufferedStore) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.file.Count() + s.stats.Total
}

// Stats implements Store, combining buffered counters with the underlying
// file's.
func (s *BufferedStore) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.file.Stats()
	out.Total += s.stats.Total
	for k, v := range s.stats.ByStrategy {
		out.ByStrategy[k] += v
	}
	for k, v := range s.stats.ByRegime {
		out.ByRegime[k] += v
	}
	for k, v := range s.stats.ByDirection {
		out.ByDirection[k] += v
	}
	return out
}

// Flush implements Store: one append pass for the whole buffer, then one
// rewrite pass applying every queued resolution. A resolution whose record
// no longer parses on disk is dropped with the batch rather than blocking
// every later flush.
func (s *BufferedStore) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.file.AppendAll(s.buffer); err != nil {
		return fmt.Errorf("decisionlog: flush buffered records: %w", err)
	}
	s.buffer = nil
	// The file store re-counts flushed records, so local counters reset.
	s.stats = newStats()

	if err := s.file.FinalizeAll(s.pending); err != nil {
		return fmt.Errorf("decisionlog: flush pending resolutions: %w", err)
	}
	s.pending = map[string]pendingResolution{}
	return nil
}

// Close implements Store.
func (s *BufferedStore) Close() error {
	if err := s.Flush(); err != nil {
		return err
	}
	return s.file.Close()
}
