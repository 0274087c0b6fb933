package decision

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/zeromicro/go-zero/core/logx"
)

// Adaptive threshold bounds and tuning cadence.
const (
	thresholdFloor   = 0.40
	thresholdCeiling = 0.65
	outcomeWindow    = 50
	tuneEvery        = 10
)

// ThresholdAdapter tunes the confidence threshold from realized outcomes: a
// hot streak lowers the bar to take more trades, a cold streak raises it.
// It also keeps loss-category counters for post-mortem analysis. State is
// persisted to a JSON file and survives restarts; a missing or corrupt
// file just resets to the configured base.
type ThresholdAdapter struct {
	mu    sync.Mutex
	path  string
	state metaState
}

type metaState struct {
	Threshold       float64        `json:"confidence_threshold"`
	RecentOutcomes  []bool         `json:"recent_outcomes"`
	TradesSinceTune int            `json:"trades_since_tune"`
	LossCategories  map[string]int `json:"loss_categories"`
}

// NewThresholdAdapter loads persisted tuning state from path, falling back
// to base when no usable state exists. An empty path disables persistence.
func NewThresholdAdapter(path string, base float64) *ThresholdAdapter {
	a := &ThresholdAdapter{
		path: path,
		state: metaState{
			Threshold:      base,
			LossCategories: map[string]int{},
		},
	}
	if path == "" {
		return a
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return a
	}
	var loaded metaState
	if err := json.Unmarshal(data, &loaded); err != nil {
		logx.Errorf("decision: discarding corrupt meta state %s: %v", path, err)
		return a
	}
	if loaded.Threshold < thresholdFloor || loaded.Threshold > thresholdCeiling {
		loaded.Threshold = base
	}
	if loaded.LossCategories == nil {
		loaded.LossCategories = map[string]int{}
	}
	a.state = loaded
	return a
}

// Threshold returns the current adapted confidence threshold.
func (a *ThresholdAdapter) Threshold() float64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state.Threshold
}

// LossCategories returns a copy of the loss-category counters.
func (a *ThresholdAdapter) LossCategories() map[string]int {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make(map[string]int, len(a.state.LossCategories))
	for k, v := range a.state.LossCategories {
		out[k] = v
	}
	return out
}

// RecordOutcome feeds one resolved trade into the adapter. Losses carry a
// category label (empty for wins). Every tuneEvery outcomes the threshold
// shifts: win rate above 60% eases it down, below 40% tightens it up, and
// the state is flushed to disk.
func (a *ThresholdAdapter) RecordOutcome(win bool, lossCategory string) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.state.RecentOutcomes = append(a.state.RecentOutcomes, win)
	if n := len(a.state.RecentOutcomes); n > outcomeWindow {
		a.state.RecentOutcomes = a.state.RecentOutcomes[n-outcomeWindow:]
	}
	if !win && lossCategory != "" {
		a.state.LossCategories[lossCategory]++
	}

	a.state.TradesSinceTune++
	if a.state.TradesSinceTune < tuneEvery {
		return
	}
	a.state.TradesSinceTune = 0

	wins := 0
	for _, w := range a.state.RecentOutcomes {
		if w {
			wins++
		}
	}
	winRate := float64(wins) / float64(len(a.state.RecentOutcomes))
	switch {
	case winRate > 0.6:
		a.state.Threshold -= 0.02
		if a.state.Threshold < thresholdFloor {
			a.state.Threshold = thresholdFloor
		}
	case winRate < 0.4:
		a.state.Threshold += 0.03
		if a.state.Threshold > thresholdCeiling {
			a.state.Threshold = thresholdCeiling
		}
	}

	if err := a.saveLocked(); err != nil {
		logx.Errorf("decision: persist meta state: %v", err)
	}
}

func (a *ThresholdAdapter) saveLocked() error {
	if a.path == "" {
		return nil
	}
	data, err := json.MarshalIndent(a.state, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal meta state: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(a.path), 0o755); err != nil {
		return fmt.Errorf("create meta state dir: %w", err)
	}
	tmp := a.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write meta state: %w", err)
	}
	if err := os.Rename(tmp, a.path); err != nil {
		return fmt.Errorf("replace meta state: %w", err)
	}
	return nil
}
