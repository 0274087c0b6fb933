// Package sched runs background maintenance for a live engine: periodic
// perf snapshots, decision log flushes, database mirroring, and retrain
// markers for the offline training job.
package sched

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/zeromicro/go-zero/core/logx"

	persistpkg "tradewind/internal/persistence/decision"
	"tradewind/pkg/decisionlog"
	"tradewind/pkg/perf"
)

const (
	defaultInterval = 5 * time.Minute
	// retrainEvery is the number of newly resolved decisions that triggers
	// a retrain marker.
	retrainEvery = 50

	retrainMarkerFile = "retrain_requested.json"
)

// mirrorBatch bounds how many recent records are mirrored per tick.
const mirrorBatch = 100

// Options configure a Scheduler.
type Options struct {
	Store        decisionlog.Store
	Tracker      *perf.Tracker
	SnapshotPath string
	DataPath     string
	Persister    *persistpkg.Service // nil disables mirroring
	Interval     time.Duration
}

// Scheduler owns the maintenance loop. Build with New, start with Run,
// stop with Stop; Stop is safe to call more than once.
type Scheduler struct {
	opts Options

	resolvedSeen int
	stopChan     chan struct{}
	stopOnce     sync.Once
	wg           sync.WaitGroup
}

// New builds a Scheduler.
func New(opts Options) (*Scheduler, error) {
	if opts.Store == nil {
		return nil, errors.New("sched: decision log store is required")
	}
	if opts.Interval <= 0 {
		opts.Interval = defaultInterval
	}
	return &Scheduler{
		opts:     opts,
		stopChan: make(chan struct{}),
	}, nil
}

// Run starts the loop in a goroutine and returns immediately.
func (s *Scheduler) Run(ctx context.Context) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.opts.Interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-s.stopChan:
				return
			case <-ticker.C:
				s.tick(ctx)
			}
		}
	}()
}

// Stop signals the loop to exit and waits for the in-flight tick.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() { close(s.stopChan) })
	s.wg.Wait()
}

func (s *Scheduler) tick(ctx context.Context) {
	if err := s.opts.Store.Flush(); err != nil {
		logx.Errorf("sched: flush decision log: %v", err)
	}
	if s.opts.Tracker != nil && s.opts.SnapshotPath != "" {
		if err := s.opts.Tracker.Save(s.opts.SnapshotPath); err != nil {
			logx.Errorf("sched: save perf snapshot: %v", err)
		}
	}
	s.mirrorRecent(ctx)
	s.maybeRequestRetrain()
}

// mirrorRecent copies the newest records into Postgres. Upserts make the
// repeat work per tick harmless.
func (s *Scheduler) mirrorRecent(ctx context.Context) {
	if s.opts.Persister == nil {
		return
	}
	recs, err := s.opts.Store.Recent(mirrorBatch)
	if err != nil {
		logx.Errorf("sched: read recent decisions: %v", err)
		return
	}
	resolved := 0
	for _, rec := range recs {
		if err := s.opts.Persister.RecordDecision(ctx, rec); err != nil {
			logx.Errorf("sched: mirror decision %s: %v", rec.ID, err)
			return
		}
		if rec.Resolved {
			resolved++
		}
	}
	s.resolvedSeen = resolved
}

// maybeRequestRetrain drops a marker file once enough resolved decisions
// exist. The training job consumes and deletes the marker.
func (s *Scheduler) maybeRequestRetrain() {
	if s.opts.DataPath == "" || s.resolvedSeen < retrainEvery {
		return
	}
	path := filepath.Join(s.opts.DataPath, retrainMarkerFile)
	if _, err := os.Stat(path); err == nil {
		return
	}
	marker := map[string]any{
		"requested_at":   time.Now().UTC().Format(time.RFC3339),
		"resolved_count": s.resolvedSeen,
	}
	data, err := json.Marshal(marker)
	if err != nil {
		logx.Errorf("sched: marshal retrain marker: %v", err)
		return
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		logx.Errorf("sched: write retrain marker: %v", err)
		return
	}
	logx.Infof("sched: retrain requested, %d resolved decisions in window", s.resolvedSeen)
}
