package feed

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

// timing slack for limiter rounding
const gateSlack = time.Millisecond

// Property 4: Global Request Spacing
// *For any* interval and number of calls, N consecutive passes through one
// gate take at least (N-1) intervals, even when the calls come from several
// goroutines.
func TestProperty_GlobalRequestSpacing(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 20
	properties := gopter.NewProperties(parameters)

	properties.Property("sequential waits are spaced by the interval", prop.ForAll(
		func(intervalMs int, calls int) bool {
			interval := time.Duration(intervalMs) * time.Millisecond
			gate := NewIntervalGate(interval)

			start := time.Now()
			for i := 0; i < calls; i++ {
				if err := gate.Wait(context.Background()); err != nil {
					return false
				}
			}
			elapsed := time.Since(start)

			return elapsed >= time.Duration(calls-1)*interval-gateSlack
		},
		gen.IntRange(2, 10),
		gen.IntRange(2, 6),
	))

	properties.Property("concurrent waits share one spacing", prop.ForAll(
		func(intervalMs int, workers int) bool {
			interval := time.Duration(intervalMs) * time.Millisecond
			gate := NewIntervalGate(interval)

			var mu sync.Mutex
			passed := 0
			var wg sync.WaitGroup
			start := time.Now()
			for w := 0; w < workers; w++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					for i := 0; i < 2; i++ {
						if err := gate.Wait(context.Background()); err != nil {
							return
						}
						mu.Lock()
						passed++
						mu.Unlock()
					}
				}()
			}
			wg.Wait()
			elapsed := time.Since(start)

			return passed == workers*2 && elapsed >= time.Duration(passed-1)*interval-gateSlack
		},
		gen.IntRange(2, 8),
		gen.IntRange(2, 4),
	))

	properties.Property("gate has burst size of 1", prop.ForAll(
		func(intervalMs int) bool {
			gate := NewIntervalGate(time.Duration(intervalMs) * time.Millisecond)
			return gate.Limiter().Burst() == 1
		},
		gen.IntRange(1, 5000),
	))

	properties.TestingRun(t)
}

func TestIntervalGate_RespectsCancellation(t *testing.T) {
	gate := NewIntervalGate(time.Hour)
	if err := gate.Wait(context.Background()); err != nil {
		t.Fatalf("first Wait() error = %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if err := gate.Wait(ctx); err == nil {
		t.Fatal("Wait() should fail when the next slot is past the deadline")
	}
}
