package scheduler

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/user/viral-detector-go/internal/config"
	"github.com/user/viral-detector-go/internal/pipeline"
)

// Job is one detection pass
type Job interface {
	Run(ctx context.Context) (*pipeline.Summary, error)
}

// Scheduler repeats a detection run on an interval
type Scheduler struct {
	job      Job
	config   *config.SchedulerConfig
	running  atomic.Bool
	mu       sync.Mutex // held while a run is in progress
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewScheduler creates a new scheduler instance
func NewScheduler(job Job, cfg *config.SchedulerConfig) *Scheduler {
	return &Scheduler{
		job:    job,
		config: cfg,
		stopCh: make(chan struct{}),
	}
}

// Start runs the job after the initial delay and then every interval
func (s *Scheduler) Start(ctx context.Context) {
	s.wg.Add(1)
	go s.run(ctx)
}

// run is the main scheduler loop
func (s *Scheduler) run(ctx context.Context) {
	defer s.wg.Done()

	log.Info().Dur("delay", s.config.InitialDelay).Msg("Scheduler starting with initial delay")

	select {
	case <-time.After(s.config.InitialDelay):
		s.execute(ctx, "scheduled")
	case <-s.stopCh:
		log.Info().Msg("Scheduler stopped during initial delay")
		return
	case <-ctx.Done():
		log.Info().Msg("Scheduler context cancelled during initial delay")
		return
	}

	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	log.Info().Dur("interval", s.config.Interval).Msg("Scheduler started periodic execution")

	for {
		select {
		case <-ticker.C:
			s.execute(ctx, "scheduled")
		case <-s.stopCh:
			log.Info().Msg("Scheduler stopped")
			return
		case <-ctx.Done():
			log.Info().Msg("Scheduler context cancelled")
			return
		}
	}
}

// execute runs the job unless a run is already in progress, and reports
// whether it ran
func (s *Scheduler) execute(ctx context.Context, trigger string) bool {
	if !s.mu.TryLock() {
		log.Warn().Str("trigger", trigger).Msg("Detection run already in progress, skipping this trigger")
		return false
	}
	defer s.mu.Unlock()

	s.running.Store(true)
	defer s.running.Store(false)

	startTime := time.Now()
	log.Info().Str("trigger", trigger).Msg("Starting detection run")

	summary, err := s.job.Run(ctx)
	if err != nil {
		log.Error().Err(err).Str("trigger", trigger).Msg("Detection run failed")
	}

	event := log.Info().Str("trigger", trigger).Dur("duration", time.Since(startTime))
	if summary != nil {
		event = event.Str("run_id", summary.RunID).Str("outcome", string(summary.Outcome))
	}
	event.Msg("Detection run completed")
	return true
}

// Stop gracefully stops the scheduler and waits for a running job to return
func (s *Scheduler) Stop() {
	log.Info().Msg("Stopping scheduler...")
	s.stopOnce.Do(func() { close(s.stopCh) })
	s.wg.Wait()
	log.Info().Msg("Scheduler stopped")
}

// IsRunning returns true if a run is currently in progress
func (s *Scheduler) IsRunning() bool {
	return s.running.Load()
}

// TryRun attempts to run the job immediately.
// Returns false if a run is already in progress.
func (s *Scheduler) TryRun(ctx context.Context) bool {
	return s.execute(ctx, "manual")
}
