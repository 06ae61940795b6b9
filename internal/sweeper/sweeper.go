// Package sweeper deletes expired dedup fingerprints on a schedule.
// Expiry is already enforced lazily on lookup; the sweep only keeps the
// table from growing without bound and stays off the processing hot path.
package sweeper

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"chatwatch/internal/config"
	"chatwatch/internal/storage"
)

// Sweeper runs the periodic dedup purge.
type Sweeper struct {
	store storage.Storage
	ttl   time.Duration
	cron  *cron.Cron
	log   *slog.Logger
}

// New creates a Sweeper on the configured cron schedule.
func New(store storage.Storage, cfg config.DedupConfig, log *slog.Logger) (*Sweeper, error) {
	s := &Sweeper{
		store: store,
		ttl:   time.Duration(cfg.TTLDays) * 24 * time.Hour,
		cron:  cron.New(),
		log:   log,
	}
	if _, err := s.cron.AddFunc(cfg.SweepSchedule, func() { s.sweep(context.Background()) }); err != nil {
		return nil, fmt.Errorf("invalid sweep schedule %q: %w", cfg.SweepSchedule, err)
	}
	return s, nil
}

// Start begins scheduled sweeps in the background.
func (s *Sweeper) Start() {
	s.cron.Start()
}

// Stop halts the schedule and waits for a running sweep to finish.
func (s *Sweeper) Stop() {
	<-s.cron.Stop().Done()
}

// RunOnce purges immediately. Called at startup so a long-stopped process
// sheds stale fingerprints before the first message arrives.
func (s *Sweeper) RunOnce(ctx context.Context) {
	s.sweep(ctx)
}

func (s *Sweeper) sweep(ctx context.Context) {
	removed, err := s.store.PurgeDedup(ctx, time.Now().Add(-s.ttl))
	if err != nil {
		s.log.Error("dedup sweep failed", "error", err)
		return
	}
	if removed > 0 {
		s.log.Info("dedup sweep removed fingerprints", "count", removed)
	}
}
