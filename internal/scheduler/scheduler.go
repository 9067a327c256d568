// Package scheduler runs periodic back-office maintenance.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/noah-isme/secretaria-go-api/internal/dto"
)

// FeeRefresher is the part of the fee service the scheduler drives.
type FeeRefresher interface {
	RefreshStatuses(ctx context.Context) (dto.FeeRefreshResponse, error)
}

// Scheduler rewrites fee status snapshots on a cron schedule. Status is always derived on
// read, so a missed run only leaves stored snapshots stale.
type Scheduler struct {
	cron    *cron.Cron
	fees    FeeRefresher
	timeout time.Duration
	logger  zerolog.Logger
}

// New parses schedule in the school's timezone and registers the refresh job.
func New(schedule string, loc *time.Location, fees FeeRefresher, logger zerolog.Logger) (*Scheduler, error) {
	if loc == nil {
		loc = time.UTC
	}
	s := &Scheduler{
		cron:    cron.New(cron.WithLocation(loc)),
		fees:    fees,
		timeout: 5 * time.Minute,
		logger:  logger.With().Str("component", "scheduler").Logger(),
	}
	if _, err := s.cron.AddFunc(schedule, s.refreshFees); err != nil {
		return nil, fmt.Errorf("invalid fee refresh schedule %q: %w", schedule, err)
	}
	return s, nil
}

// Start runs the scheduler in the background.
func (s *Scheduler) Start() {
	s.cron.Start()
	s.logger.Info().Int("jobs", len(s.cron.Entries())).Msg("scheduler started")
}

// Stop waits for a running job to finish or ctx to expire.
func (s *Scheduler) Stop(ctx context.Context) {
	done := s.cron.Stop()
	select {
	case <-done.Done():
	case <-ctx.Done():
		s.logger.Warn().Msg("scheduler stopped before the running job finished")
	}
}

func (s *Scheduler) refreshFees() {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	start := time.Now()
	result, err := s.fees.RefreshStatuses(ctx)
	if err != nil {
		s.logger.Error().Err(err).Msg("fee status refresh failed")
		return
	}
	s.logger.Info().
		Int("scanned", result.Scanned).
		Int("updated", result.Updated).
		Dur("elapsed", time.Since(start)).
		Msg("fee statuses refreshed")
}
