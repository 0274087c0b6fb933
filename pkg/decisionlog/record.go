// Package decisionlog persists every decision cycle as one JSON object per
// line in an append-only log file. Records are written unresolved at
// decision time and patched in place once the outcome is known, so the log
// doubles as the training corpus for the scoring model.
package decisionlog

import (
	"time"

	"github.com/google/uuid"

	"tradewind/pkg/decision"
)

// SchemaVersion is stamped into every record's metadata.
const SchemaVersion = "1.0"

// Metadata carries provenance for a record: which mode produced it, where
// the market data came from, and what the scoring model thought.
type Metadata struct {
	Version        string           `json:"version"`
	Mode           string           `json:"mode"`
	DataSource     string           `json:"data_source,omitempty"`
	MarketPeriodID string           `json:"market_period_id,omitempty"`
	MLConfidence   float64          `json:"ml_confidence"`
	OriginalAction *decision.Action `json:"original_action,omitempty"`
}

// Outcome describes how a resolved decision played out.
type Outcome struct {
	PnLPct          float64 `json:"pnl_pct"`
	PnLUSD          float64 `json:"pnl_usd"`
	ExitReason      string  `json:"exit_reason"`
	DurationCandles int     `json:"duration_candles"`
	LossCategory    string  `json:"loss_category,omitempty"`
	PriceChangePct  float64 `json:"price_change_pct,omitempty"`
}

// Record is one logged decision cycle. Field names are the on-disk schema;
// renaming one invalidates every existing log.
type Record struct {
	ID              string                     `json:"id"`
	Timestamp       string                     `json:"timestamp"`
	MarketState     decision.MarketObservation `json:"market_state"`
	ActionTaken     decision.Action            `json:"action_taken"`
	Reward          float64                    `json:"reward"`
	Resolved        bool                       `json:"resolved"`
	Outcome         *Outcome                   `json:"outcome"`
	RepetitionCount int                        `json:"repetition_count"`
	ResolutionTime  string                     `json:"resolution_time,omitempty"`
	Metadata        Metadata                   `json:"metadata"`
}

// NewRecord builds an unresolved record for a just-made decision.
func NewRecord(obs decision.MarketObservation, action decision.Action, repeats int, meta Metadata) Record {
	meta.Version = SchemaVersion
	return Record{
		ID:              uuid.NewString(),
		Timestamp:       time.Now().UTC().Format(time.RFC3339Nano),
		MarketState:     obs,
		ActionTaken:     action,
		Resolved:        false,
		RepetitionCount: repeats,
		Metadata:        meta,
	}
}

// Stats are aggregate counters over the log, rebuilt on open and updated
// on every append.
type Stats struct {
	Total       int
	ByStrategy  map[decision.Strategy]int
	ByRegime    map[decision.Regime]int
	ByDirection map[decision.Direction]int
}

func newStats() Stats {
	return Stats{
		ByStrategy:  map[decision.Strategy]int{},
		ByRegime:    map[decision.Regime]int{},
		ByDirection: map[decision.Direction]int{},
	}
}

func (s *Stats) observe(r Record) {
	s.Total++
	s.ByStrategy[r.ActionTaken.Strategy]++
	s.ByRegime[r.MarketState.MarketRegime]++
	s.ByDirection[r.ActionTaken.Direction]++
}

// clone returns a deep copy so callers cannot mutate live counters.
func (s Stats) clone() Stats {
	out := newStats()
	out.Total = s.Total
	for k, v := range s.ByStrategy {
		out.ByStrategy[k] = v
	}
	for k, v := range s.ByRegime {
		out.ByRegime[k] = v
	}
	for k, v := range s.ByDirection {
		out.ByDirection[k] = v
	}
	return out
}
