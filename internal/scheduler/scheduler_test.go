package scheduler

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/user/viral-detector-go/internal/config"
)

func TestScheduler_RunsAfterDelayAndPeriodically(t *testing.T) {
	job := NewMockJob(0)
	s := NewScheduler(job, &config.SchedulerConfig{
		InitialDelay: 5 * time.Millisecond,
		Interval:     10 * time.Millisecond,
	})

	s.Start(context.Background())
	deadline := time.Now().Add(2 * time.Second)
	for job.GetRunCount() < 3 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	s.Stop()

	if got := job.GetRunCount(); got < 3 {
		t.Errorf("run count = %d, want at least 3", got)
	}
}

func TestScheduler_StopDuringInitialDelay(t *testing.T) {
	job := NewMockJob(0)
	s := NewScheduler(job, testSchedulerConfig())

	s.Start(context.Background())
	s.Stop()
	// a second Stop is harmless
	s.Stop()

	if got := job.GetRunCount(); got != 0 {
		t.Errorf("run count = %d, want 0", got)
	}
}

func TestScheduler_ContextCancelStopsLoop(t *testing.T) {
	job := NewMockJob(0)
	s := NewScheduler(job, testSchedulerConfig())

	ctx, cancel := context.WithCancel(context.Background())
	s.Start(ctx)
	cancel()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("scheduler loop did not exit after cancel")
	}
}

func TestScheduler_LogsRunSummary(t *testing.T) {
	var buf bytes.Buffer
	prev := log.Logger
	log.Logger = zerolog.New(&buf)
	defer func() { log.Logger = prev }()

	job := NewMockJob(0)
	job.fail = map[int32]bool{2: true}
	s := NewScheduler(job, testSchedulerConfig())

	if !s.TryRun(context.Background()) || !s.TryRun(context.Background()) {
		t.Fatal("TryRun() skipped a sequential trigger")
	}

	out := buf.String()
	for _, want := range []string{`"run_id":"run-1"`, `"outcome":"success"`, `"run_id":"run-2"`, `"outcome":"failure"`, "Detection run failed"} {
		if !strings.Contains(out, want) {
			t.Errorf("log output missing %s:\n%s", want, out)
		}
	}
	if s.IsRunning() {
		t.Error("IsRunning() = true after runs returned")
	}
}
