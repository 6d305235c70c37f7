package jobs

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"progkeeper/api/internal/metrics"
)

// Pruner deletes sessions whose expiry has passed.
type Pruner interface {
	PruneExpired(ctx context.Context, now time.Time) (int64, error)
}

type Scheduler struct {
	cron     *cron.Cron
	pruner   Pruner
	schedule string
	metrics  *metrics.Metrics
	log      zerolog.Logger
}

// NewScheduler takes a six-field cron spec (seconds first). An empty spec
// disables pruning.
func NewScheduler(pruner Pruner, schedule string, m *metrics.Metrics, log zerolog.Logger) *Scheduler {
	c := cron.New(cron.WithSeconds(), cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	return &Scheduler{
		cron:     c,
		pruner:   pruner,
		schedule: schedule,
		metrics:  m,
		log:      log,
	}
}

func (s *Scheduler) Start() error {
	if s.pruner == nil || s.schedule == "" {
		return nil
	}

	if _, err := s.cron.AddFunc(s.schedule, s.pruneExpired); err != nil {
		return err
	}

	s.cron.Start()
	s.log.Info().Str("schedule", s.schedule).Msg("session prune scheduled")
	return nil
}

// Stop halts the schedule and waits for a running prune until ctx ends.
func (s *Scheduler) Stop(ctx context.Context) error {
	select {
	case <-s.cron.Stop().Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Scheduler) pruneExpired() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	if _, err := s.PruneOnce(ctx); err != nil {
		s.log.Error().Err(err).Msg("prune expired sessions failed")
	}
}

// PruneOnce runs a single prune pass.
func (s *Scheduler) PruneOnce(ctx context.Context) (int64, error) {
	n, err := s.pruner.PruneExpired(ctx, time.Now())
	if err != nil {
		return 0, err
	}
	if s.metrics != nil {
		s.metrics.SessionsPrunedTotal.Add(float64(n))
	}
	if n > 0 {
		s.log.Info().Int64("count", n).Msg("expired sessions pruned")
	}
	return n, nil
}
