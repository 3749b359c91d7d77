// Package worker runs the pipeline on a daily schedule.
package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/vykuang/mh-flight-logs/config"
	"github.com/vykuang/mh-flight-logs/pipeline"
	"github.com/vykuang/mh-flight-logs/pkg/logger"
)

// Runner executes one pipeline run.
type Runner interface {
	Run(ctx context.Context, opts pipeline.Options) (*pipeline.Result, error)
}

// Scheduler runs the pipeline for the current local date on a cron schedule.
type Scheduler struct {
	runner   Runner
	cronExpr string
	loc      *time.Location
	cron     *cron.Cron
	log      *logger.Logger
	now      func() time.Time
	timeout  time.Duration

	mutex   sync.Mutex
	entry   cron.EntryID
	started bool
	last    *pipeline.Result
}

// NewScheduler creates a new scheduler
func NewScheduler(runner Runner, cfg config.ScheduleConfig, log *logger.Logger) (*Scheduler, error) {
	if log == nil {
		log = logger.Default()
	}
	tz := cfg.Timezone
	if tz == "" {
		tz = "UTC"
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("scheduler: time zone %q: %w", tz, err)
	}
	if _, err := cron.ParseStandard(cfg.Cron); err != nil {
		return nil, fmt.Errorf("scheduler: cron expression %q: %w", cfg.Cron, err)
	}

	return &Scheduler{
		runner:   runner,
		cronExpr: cfg.Cron,
		loc:      loc,
		cron: cron.New(
			cron.WithLocation(loc),
			cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)),
		),
		log:      log.WithField("component", "scheduler"),
		now:      time.Now,
		timeout:  30 * time.Minute,
	}, nil
}

// Start schedules the daily run and starts the cron loop. Starting twice is a no-op.
func (s *Scheduler) Start() error {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if s.started {
		return nil
	}

	if s.entry == 0 {
		entryID, err := s.cron.AddFunc(s.cronExpr, s.runScheduled)
		if err != nil {
			return fmt.Errorf("failed to add cron job: %w", err)
		}
		s.entry = entryID
	}

	s.cron.Start()
	s.started = true
	s.log.Info("Scheduler started", "cron", s.cronExpr, "timezone", s.loc.String(), "next", s.cron.Entry(s.entry).Next)
	return nil
}

// Stop stops the scheduler and waits for a running job to finish.
func (s *Scheduler) Stop() {
	s.mutex.Lock()
	if !s.started {
		s.mutex.Unlock()
		return
	}
	s.started = false
	s.mutex.Unlock()

	ctx := s.cron.Stop()
	<-ctx.Done()
	s.log.Info("Scheduler stopped")
}

// Next returns the next scheduled run, or the zero time when stopped.
func (s *Scheduler) Next() time.Time {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if !s.started {
		return time.Time{}
	}
	return s.cron.Entry(s.entry).Next
}

// Today is the current date in the schedule's time zone.
func (s *Scheduler) Today() string {
	return s.now().In(s.loc).Format(time.DateOnly)
}

// Last returns the result of the most recent run, if any.
func (s *Scheduler) Last() *pipeline.Result {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.last
}

// RunOnce runs the pipeline for today.
func (s *Scheduler) RunOnce(ctx context.Context) (*pipeline.Result, error) {
	date := s.Today()
	s.log.Info("Executing scheduled run", "date", date)

	res, err := s.runner.Run(ctx, pipeline.Options{Date: date})
	if res != nil {
		s.mutex.Lock()
		s.last = res
		s.mutex.Unlock()
	}
	return res, err
}

func (s *Scheduler) runScheduled() {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	if _, err := s.RunOnce(ctx); err != nil {
		s.log.Error(err, "scheduled run failed")
	}
}
