package watchdog

import (
	"context"
	"fmt"
	"log/slog"

	cronlib "github.com/robfig/cron/v3"
)

// DefaultSchedule runs a sweep every 15 seconds
const DefaultSchedule = "@every 15s"

// cronParser supports standard 5-field cron and descriptors like "@every 15s"
var cronParser = cronlib.NewParser(
	cronlib.Minute | cronlib.Hour | cronlib.Dom | cronlib.Month | cronlib.Dow | cronlib.Descriptor,
)

// ParseSchedule parses a cron expression
func ParseSchedule(expr string) (cronlib.Schedule, error) {
	return cronParser.Parse(expr)
}

// Scheduler runs Watchdog sweeps on a cron schedule. A sweep that is still
// running when the next one is due causes that tick to be skipped.
type Scheduler struct {
	watchdog *Watchdog
	schedule string
	logger   *slog.Logger
}

// NewScheduler creates a new Scheduler after validating schedule
func NewScheduler(watchdog *Watchdog, schedule string, logger *slog.Logger) (*Scheduler, error) {
	if schedule == "" {
		schedule = DefaultSchedule
	}
	if _, err := ParseSchedule(schedule); err != nil {
		return nil, fmt.Errorf("invalid watchdog schedule %q: %w", schedule, err)
	}
	return &Scheduler{
		watchdog: watchdog,
		schedule: schedule,
		logger:   logger,
	}, nil
}

// Run blocks until ctx is canceled, then waits for an in-flight sweep to finish
func (s *Scheduler) Run(ctx context.Context) error {
	cronLog := cronLogger{logger: s.logger}
	c := cronlib.New(
		cronlib.WithParser(cronParser),
		cronlib.WithLogger(cronLog),
		cronlib.WithChain(cronlib.Recover(cronLog), cronlib.SkipIfStillRunning(cronLog)),
	)

	if _, err := c.AddFunc(s.schedule, func() { s.sweep(ctx) }); err != nil {
		return fmt.Errorf("failed to schedule watchdog: %w", err)
	}

	s.logger.Info("Watchdog scheduler started",
		slog.String("schedule", s.schedule),
	)

	c.Start()
	<-ctx.Done()

	s.logger.Info("Stopping watchdog scheduler...")
	<-c.Stop().Done()
	s.logger.Info("Watchdog scheduler stopped")

	return nil
}

func (s *Scheduler) sweep(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	if _, err := s.watchdog.Sweep(ctx); err != nil {
		s.logger.Error("Watchdog sweep failed",
			slog.Any("error", err),
		)
	}
}

// cronLogger adapts slog to the cron library's logger interface
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Debug(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Error(msg, append([]any{slog.Any("error", err)}, keysAndValues...)...)
}
