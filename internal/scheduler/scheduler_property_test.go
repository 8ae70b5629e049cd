package scheduler

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/user/viral-detector-go/internal/config"
	"github.com/user/viral-detector-go/internal/model"
	"github.com/user/viral-detector-go/internal/pipeline"
)

// MockJob implements Job. Runs whose 1-based number is in fail return a
// failure summary and pipeline.ErrRunFailed.
type MockJob struct {
	delay  time.Duration
	fail   map[int32]bool
	runs   atomic.Int32
	active atomic.Int32
	peak   atomic.Int32
}

func NewMockJob(delay time.Duration) *MockJob {
	return &MockJob{delay: delay}
}

func (m *MockJob) Run(ctx context.Context) (*pipeline.Summary, error) {
	n := m.runs.Add(1)
	cur := m.active.Add(1)
	defer m.active.Add(-1)
	for {
		peak := m.peak.Load()
		if cur <= peak || m.peak.CompareAndSwap(peak, cur) {
			break
		}
	}

	time.Sleep(m.delay)

	summary := &pipeline.Summary{RunID: fmt.Sprintf("run-%d", n), Outcome: model.RunOutcomeSuccess}
	if m.fail[n] {
		summary.Outcome = model.RunOutcomeFailure
		return summary, pipeline.ErrRunFailed
	}
	return summary, nil
}

func (m *MockJob) GetRunCount() int32 {
	return m.runs.Load()
}

var _ Job = (*MockJob)(nil)

func testSchedulerConfig() *config.SchedulerConfig {
	return &config.SchedulerConfig{
		Interval:     time.Hour, // Long interval to prevent auto-triggers
		InitialDelay: time.Hour,
	}
}

// Property 10: Scheduler Mutual Exclusion
// *For any* number of concurrent triggers, at most one detection run is in
// progress at a time and every trigger that reports success ran the job once.
func TestProperty_SchedulerMutualExclusion(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 50
	properties := gopter.NewProperties(parameters)

	properties.Property("overlapping triggers are skipped", prop.ForAll(
		func(triggers int, delayMs int) bool {
			job := NewMockJob(time.Duration(delayMs) * time.Millisecond)
			s := NewScheduler(job, testSchedulerConfig())

			var wg sync.WaitGroup
			var ran atomic.Int32
			for i := 0; i < triggers; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					if s.TryRun(context.Background()) {
						ran.Add(1)
					}
				}()
			}
			wg.Wait()

			return job.peak.Load() <= 1 && job.GetRunCount() == ran.Load() && ran.Load() >= 1
		},
		gen.IntRange(2, 10),
		gen.IntRange(5, 30),
	))

	properties.TestingRun(t)
}

// Property 11: Failed Runs Release The Scheduler
// *For any* sequence of run results, each sequential trigger runs the job,
// including triggers that follow a failed run.
func TestProperty_FailedRunReleasesScheduler(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("no trigger is skipped after a failure", prop.ForAll(
		func(failures []bool) bool {
			job := NewMockJob(0)
			job.fail = make(map[int32]bool)
			for i, f := range failures {
				job.fail[int32(i+1)] = f
			}
			s := NewScheduler(job, testSchedulerConfig())

			for range failures {
				if !s.TryRun(context.Background()) {
					return false
				}
			}
			return job.GetRunCount() == int32(len(failures)) && !s.IsRunning()
		},
		gen.SliceOfN(8, gen.Bool()),
	))

	properties.TestingRun(t)
}
