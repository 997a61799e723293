package audit

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"

	"objectos/pkg/logging"
)

// DefaultRetentionSchedule runs the sweep every day at 03:00.
const DefaultRetentionSchedule = "0 3 * * *"

// RetentionSweeper deletes entries older than the retention window on a
// cron schedule.
type RetentionSweeper struct {
	store         Store
	retentionDays int
	schedule      string
	cron          *cron.Cron
	now           func() time.Time
}

// NewRetentionSweeper creates a sweeper. A retentionDays of zero or less
// disables sweeping; Start becomes a no-op.
func NewRetentionSweeper(store Store, retentionDays int, schedule string) *RetentionSweeper {
	if schedule == "" {
		schedule = DefaultRetentionSchedule
	}
	return &RetentionSweeper{
		store:         store,
		retentionDays: retentionDays,
		schedule:      schedule,
		now:           time.Now,
	}
}

// Start schedules the sweep.
func (s *RetentionSweeper) Start() error {
	if s.retentionDays <= 0 {
		logging.Debug("Audit", "Retention disabled, sweeper not started")
		return nil
	}

	s.cron = cron.New()
	if _, err := s.cron.AddFunc(s.schedule, func() {
		if err := s.SweepOnce(context.Background()); err != nil {
			logging.Error("Audit", err, "Retention sweep failed")
		}
	}); err != nil {
		return err
	}
	s.cron.Start()

	logging.Info("Audit", "Retention sweeper started: %d day window, schedule %q", s.retentionDays, s.schedule)
	return nil
}

// SweepOnce deletes everything older than the retention cutoff.
func (s *RetentionSweeper) SweepOnce(ctx context.Context) error {
	cutoff := s.now().AddDate(0, 0, -s.retentionDays)
	removed, err := s.store.DeleteOlderThan(ctx, cutoff)
	if err != nil {
		return err
	}
	if removed > 0 {
		logging.Info("Audit", "Retention removed %d entries older than %s", removed, cutoff.Format(time.RFC3339))
	}
	return nil
}

// Stop halts the schedule and waits for a running sweep to finish.
func (s *RetentionSweeper) Stop() {
	if s.cron == nil {
		return
	}
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.cron = nil
}
