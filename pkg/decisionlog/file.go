package decisionlog

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gofrs/flock"
	"github.com/zeromicro/go-zero/core/logx"
)

const (
	// tailChunkSize is the block size for the backwards reader in Recent.
	tailChunkSize = 8 * 1024
	// maxLineSize bounds a single record line when scanning the log.
	maxLineSize = 1 << 20
)

// FileStore is the write-through log used in live mode: every Append hits
// disk before the call returns, and Finalize atomically rewrites the file.
// A sibling .lock file guards against concurrent writers from other
// processes; a mutex serializes goroutines within this one.
type FileStore struct {
	mu    sync.Mutex
	path  string
	flk   *flock.Flock
	stats Stats
}

// NewFileStore opens (or creates) the log at path and rebuilds aggregate
// stats by scanning it. Corrupt lines are counted and skipped, never
// removed.
func NewFileStore(path string) (*FileStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("decisionlog: create log dir: %w", err)
	}
	s := &FileStore{
		path:  path,
		flk:   flock.New(path + ".lock"),
		stats: newStats(),
	}
	if err := s.rebuildStats(); err != nil {
		return nil, err
	}
	return s, nil
}

// Path returns the log file location.
func (s *FileStore) Path() string { return s.path }

func (s *FileStore) rebuildStats() error {
	f, err := os.Open(s.path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("decisionlog: open log: %w", err)
	}
	defer f.Close()

	corrupt := 0
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64*1024), maxLineSize)
	for sc.Scan() {
		line := bytes.TrimSpace(sc.Bytes())
		if len(line) == 0 {
			continue
		}
		var rec Record
		if err := json.Unmarshal(line, &rec); err != nil {
			corrupt++
			continue
		}
		s.stats.observe(rec)
	}
	if err := sc.Err(); err != nil {
		return fmt.Errorf("decisionlog: scan log: %w", err)
	}
	if corrupt > 0 {
		logx.Errorf("decisionlog: skipped %d corrupt lines in %s", corrupt, s.path)
	}
	return nil
}

// Append implements Store.
func (s *FileStore) Append(rec Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.appendLocked(rec)
}

func (s *FileStore) appendLocked(rec Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("decisionlog: marshal record %s: %w", rec.ID, err)
	}
	if err := s.flk.Lock(); err != nil {
		return fmt.Errorf("decisionlog: acquire lock: %w", err)
	}
	defer s.flk.Unlock()

	f, err := os.OpenFile(s.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("decisionlog: open log for append: %w", err)
	}
	defer f.Close()
	if _, err := f.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("decisionlog: append record %s: %w", rec.ID, err)
	}
	s.stats.observe(rec)
	return nil
}

// AppendAll writes a batch of records under a single lock acquisition and
// file open. Used by the buffered store's flush.
func (s *FileStore) AppendAll(recs []Record) error {
	if len(recs) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var buf bytes.Buffer
	for _, rec := range recs {
		data, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("decisionlog: marshal record %s: %w", rec.ID, err)
		}
		buf.Write(data)
		buf.WriteByte('\n')
	}

	if err := s.flk.Lock(); err != nil {
		return fmt.Errorf("decisionlog: acquire lock: %w", err)
	}
	defer s.flk.Unlock()

	f, err := os.OpenFile(s.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("decisionlog: open log for append: %w", err)
	}
	defer f.Close()
	if _, err := f.Write(buf.Bytes()); err != nil {
		return fmt.Errorf("decisionlog: append batch: %w", err)
	}
	for _, rec := range recs {
		s.stats.observe(rec)
	}
	return nil
}

// FinalizeAll applies a whole batch of resolutions in one read-patch-rename
// pass. Unparseable lines are copied through untouched, already-resolved
// records keep their first resolution, and ids with no matching line are
// dropped silently: a resolution that cannot land must not wedge the
// caller's queue.
func (s *FileStore) FinalizeAll(pending map[string]pendingResolution) error {
	if len(pending) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.flk.Lock(); err != nil {
		return fmt.Errorf("decisionlog: acquire lock: %w", err)
	}
	defer s.flk.Unlock()

	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("decisionlog: read log for finalize: %w", err)
	}

	now := time.Now().UTC().Format(time.RFC3339Nano)
	var out bytes.Buffer
	out.Grow(len(data) + 256*len(pending))
	for _, line := range bytes.Split(data, []byte("\n")) {
		trimmed := bytes.TrimSpace(line)
		if len(trimmed) == 0 {
			continue
		}
		var rec Record
		res, ok := pendingResolutionFor(pending, trimmed, &rec)
		if !ok || rec.Resolved {
			out.Write(trimmed)
			out.WriteByte('\n')
			continue
		}
		rec.Resolved = true
		rec.Reward = res.reward
		oc := res.outcome
		rec.Outcome = &oc
		rec.ResolutionTime = now
		patched, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("decisionlog: marshal finalized record %s: %w", rec.ID, err)
		}
		out.Write(patched)
		out.WriteByte('\n')
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, out.Bytes(), 0o644); err != nil {
		return fmt.Errorf("decisionlog: write patched log: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("decisionlog: replace log: %w", err)
	}
	return nil
}

func pendingResolutionFor(pending map[string]pendingResolution, line []byte, rec *Record) (pendingResolution, bool) {
	if err := json.Unmarshal(line, rec); err != nil {
		return pendingResolution{}, false
	}
	res, ok := pending[rec.ID]
	return res, ok
}

// Finalize implements Store. The whole file is rewritten through a
// temporary sibling and renamed into place, so readers never observe a
// half-patched log. Unparseable lines are copied through untouched.
func (s *FileStore) Finalize(id string, reward float64, outcome Outcome) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.finalizeLocked(id, reward, outcome)
}

func (s *FileStore) finalizeLocked(id string, reward float64, outcome Outcome) error {
	if err := s.flk.Lock(); err != nil {
		return fmt.Errorf("decisionlog: acquire lock: %w", err)
	}
	defer s.flk.Unlock()

	data, err := os.ReadFile(s.path)
	if err != nil {
		return fmt.Errorf("decisionlog: read log for finalize: %w", err)
	}

	var out bytes.Buffer
	out.Grow(len(data) + 256)
	found := false
	for _, line := range bytes.Split(data, []byte("\n")) {
		trimmed := bytes.TrimSpace(line)
		if len(trimmed) == 0 {
			continue
		}
		var rec Record
		if err := json.Unmarshal(trimmed, &rec); err != nil || rec.ID != id {
			out.Write(trimmed)
			out.WriteByte('\n')
			continue
		}
		found = true
		if rec.Resolved {
			logx.Infof("decisionlog: record %s already resolved, finalize skipped", id)
			return nil
		}
		rec.Resolved = true
		rec.Reward = reward
		oc := outcome
		rec.Outcome = &oc
		rec.ResolutionTime = time.Now().UTC().Format(time.RFC3339Nano)
		patched, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("decisionlog: marshal finalized record %s: %w", id, err)
		}
		out.Write(patched)
		out.WriteByte('\n')
	}
	if !found {
		return fmt.Errorf("decisionlog: finalize: record %s not found", id)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, out.Bytes(), 0o644); err != nil {
		return fmt.Errorf("decisionlog: write patched log: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("decisionlog: replace log: %w", err)
	}
	return nil
}

// Recent implements Store: the newest records are read from the tail of
// the file in fixed-size chunks, so a multi-gigabyte log costs the same as
// a small one.
func (s *FileStore) Recent(n int) ([]Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.recentLocked(n)
}

func (s *FileStore) recentLocked(n int) ([]Record, error) {
	if n <= 0 {
		return nil, nil
	}
	f, err := os.Open(s.path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("decisionlog: open log: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("decisionlog: stat log: %w", err)
	}

	var recs []Record
	var carry []byte
	pos := info.Size()
	for pos > 0 && len(recs) < n {
		size := int64(tailChunkSize)
		if pos < size {
			size = pos
		}
		pos -= size
		buf := make([]byte, size, size+int64(len(carry)))
		if _, err := f.ReadAt(buf, pos); err != nil {
			return nil, fmt.Errorf("decisionlog: read log tail: %w", err)
		}
		buf = append(buf, carry...)
		parts := bytes.Split(buf, []byte("\n"))
		carry = parts[0]
		for i := len(parts) - 1; i >= 1 && len(recs) < n; i-- {
			appendParsed(&recs, parts[i])
		}
	}
	if pos == 0 && len(recs) < n {
		appendParsed(&recs, carry)
	}
	return recs, nil
}

func appendParsed(recs *[]Record, line []byte) {
	line = bytes.TrimSpace(line)
	if len(line) == 0 {
		return
	}
	var rec Record
	if err := json.Unmarshal(line, &rec); err != nil {
		return
	}
	*recs = append(*recs, rec)
}

// Count implements Store.
func (s *FileStore) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats.Total
}

// Stats implements Store.
func (s *FileStore) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats.clone()
}

// Flush implements Store; FileStore writes through, so there is nothing
// pending.
func (s *FileStore) Flush() error { return nil }

// Close implements Store.
func (s *FileStore) Close() error { return nil }
