package perf

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/vmihailenco/msgpack/v5"
)

// snapshot is the on-disk form of the tracker's sliding windows. Msgpack
// keeps large histories compact; the file is advisory state, so load
// failures reset to empty rather than abort.
type snapshot struct {
	Window  int                  `msgpack:"window"`
	History map[string][]float64 `msgpack:"history"`
}

// Save writes the tracker's history to path atomically.
func (t *Tracker) Save(path string) error {
	t.mu.Lock()
	snap := snapshot{Window: t.window, History: make(map[string][]float64, len(t.history))}
	for k, h := range t.history {
		snap.History[k] = append([]float64(nil), h...)
	}
	t.mu.Unlock()

	data, err := msgpack.Marshal(snap)
	if err != nil {
		return fmt.Errorf("perf: marshal snapshot: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("perf: create snapshot dir: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("perf: write snapshot: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("perf: replace snapshot: %w", err)
	}
	return nil
}

// Load replaces the tracker's history with a previously saved snapshot.
// A missing file leaves the tracker empty and returns nil.
func (t *Tracker) Load(path string) error {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("perf: read snapshot: %w", err)
	}
	var snap snapshot
	if err := msgpack.Unmarshal(data, &snap); err != nil {
		return fmt.Errorf("perf: unmarshal snapshot: %w", err)
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	t.history = map[string][]float64{}
	for k, h := range snap.History {
		if len(h) > t.window {
			h = h[len(h)-t.window:]
		}
		t.history[k] = h
	}
	return nil
}
