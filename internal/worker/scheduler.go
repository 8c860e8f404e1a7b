package worker

import (
	"context"
	"sync"
	"time"

	"github.com/go-co-op/gocron"
	"github.com/rs/zerolog"
)

// Scheduler runs the sweep job on a fixed interval.
type Scheduler struct {
	scheduler *gocron.Scheduler
	job       *SweepJob
	interval  time.Duration
	logger    zerolog.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
}

// NewScheduler creates a scheduler for job. Runs never overlap: a tick that
// fires while a sweep is in progress is skipped.
func NewScheduler(job *SweepJob, interval time.Duration, logger zerolog.Logger) *Scheduler {
	if interval <= 0 {
		interval = DefaultSweepConfig().Interval
	}
	s := gocron.NewScheduler(time.UTC)
	s.SingletonModeAll()
	return &Scheduler{
		scheduler: s,
		job:       job,
		interval:  interval,
		logger:    logger,
	}
}

// Start schedules the sweep and starts the underlying scheduler. The first
// sweep runs immediately. Sweeps are cancelled when ctx is done or Stop is called.
func (s *Scheduler) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)

	_, err := s.scheduler.Every(s.interval).Do(func() {
		s.logger.Debug().Msg("scheduled sweep triggered")
		s.job.Run(ctx)
	})
	if err != nil {
		cancel()
		return err
	}

	s.mu.Lock()
	s.cancel = cancel
	s.mu.Unlock()

	s.logger.Info().Dur("interval", s.interval).Msg("sweep scheduler started")
	s.scheduler.StartAsync()
	return nil
}

// Stop cancels the running sweep and stops future ones.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if s.cancel != nil {
		s.cancel()
	}
	s.mu.Unlock()

	s.scheduler.Stop()
}

// IsRunning reports whether the scheduler is active.
func (s *Scheduler) IsRunning() bool {
	return s.scheduler.IsRunning()
}
