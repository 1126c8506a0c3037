// Package scheduler runs the periodic housekeeping of the robots server:
// pruning old games from the results ledger and sampling host resource usage.
package scheduler

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/robots-arena/robots/internal/util"
)

// Pruner deletes finished games that ended before a cutoff.
type Pruner interface {
	PruneGames(ctx context.Context, cutoff time.Time) (int64, error)
}

// Options configures the scheduled tasks. A zero Retention or a nil Ledger
// disables pruning; a zero StatsInterval disables resource sampling.
type Options struct {
	Ledger        Pruner
	Retention     time.Duration
	PruneInterval time.Duration
	StatsInterval time.Duration
	// DataDir is the directory whose disk usage is sampled.
	DataDir string
}

// Scheduler manages periodic background tasks.
type Scheduler struct {
	opts   Options
	now    func() time.Time
	sample func(path string) util.ResourceUsage
	logger zerolog.Logger
}

// NewScheduler creates a new task scheduler.
func NewScheduler(opts Options) *Scheduler {
	if opts.DataDir == "" {
		opts.DataDir = "."
	}
	return &Scheduler{
		opts:   opts,
		now:    time.Now,
		sample: util.GetResourceUsage,
		logger: util.ComponentLogger("scheduler"),
	}
}

// Start runs every enabled task until ctx is cancelled.
func (s *Scheduler) Start(ctx context.Context) {
	s.logger.Info().Msg("scheduler started")

	var prune, stats <-chan time.Time
	if s.opts.Ledger != nil && s.opts.Retention > 0 && s.opts.PruneInterval > 0 {
		t := time.NewTicker(s.opts.PruneInterval)
		defer t.Stop()
		prune = t.C
		s.logger.Info().
			Dur("retention", s.opts.Retention).
			Dur("interval", s.opts.PruneInterval).
			Msg("ledger pruning scheduled")
	}
	if s.opts.StatsInterval > 0 {
		t := time.NewTicker(s.opts.StatsInterval)
		defer t.Stop()
		stats = t.C
	}

	for {
		select {
		case <-ctx.Done():
			s.logger.Info().Msg("scheduler stopped")
			return
		case <-prune:
			s.pruneLedger(ctx)
		case <-stats:
			s.collectStats()
		}
	}
}

// pruneLedger removes games older than the retention window.
func (s *Scheduler) pruneLedger(ctx context.Context) int64 {
	cutoff := s.now().Add(-s.opts.Retention)
	n, err := s.opts.Ledger.PruneGames(ctx, cutoff)
	if err != nil {
		s.logger.Warn().Err(err).Msg("ledger pruning failed")
		return 0
	}
	s.logger.Debug().Int64("deleted_games", n).Time("cutoff", cutoff).Msg("ledger pruning completed")
	return n
}

// collectStats samples host resource usage.
func (s *Scheduler) collectStats() util.ResourceUsage {
	u := s.sample(s.opts.DataDir)
	s.logger.Info().
		Float64("cpu_percent", u.CPUPercent).
		Float64("memory_percent", u.MemoryPercent).
		Float64("disk_percent", u.DiskPercent).
		Msg("resource usage")
	return u
}
