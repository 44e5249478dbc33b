package syncclock

import (
	"sync"
	"testing"
	"time"

	"pgregory.net/rapid"
)

// TestRateAdjustmentStaysWithinConfiguredBounds is spec.md §8's
// "rate-adjustment bounds" property: for any sequence of reported
// timing errors, calculate_rate_adjustment never returns a value
// outside [1-max, 1+max].
func TestRateAdjustmentStaysWithinConfiguredBounds(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		cfg := DefaultConfig()
		cfg.MaxRateAdjustment = rapid.Float64Range(0.001, 0.2).Draw(rt, "max")
		cfg.Kp = rapid.Float64Range(0.01, 2).Draw(rt, "kp")
		cfg.EMAFactor = rapid.Float64Range(0, 1).Draw(rt, "ema")

		c := NewClock(48000, cfg)
		c.RegisterSink("s", 0)

		steps := rapid.IntRange(1, 20).Draw(rt, "steps")
		for i := 0; i < steps; i++ {
			produced := rapid.IntRange(0, 4096).Draw(rt, "produced")
			actual := rapid.IntRange(-100000, 100000).Draw(rt, "actual")
			c.ReportSinkTiming("s", produced, false, actual)
			adj := c.CalculateRateAdjustment("s")
			if adj > 1+cfg.MaxRateAdjustment || adj < 1-cfg.MaxRateAdjustment {
				rt.Fatalf("rate adjustment %v escaped bound [%v,%v]", adj, 1-cfg.MaxRateAdjustment, 1+cfg.MaxRateAdjustment)
			}
		}
	})
}

// TestBarrierReleasesEveryRegisteredSinkLiveness is spec.md §8's
// "barrier liveness" property: for any number of registered sinks, once
// every one of them has called WaitForDispatchBarrier, every call
// returns before its timeout, never deadlocking.
func TestBarrierReleasesEveryRegisteredSinkLiveness(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		n := rapid.IntRange(2, 8).Draw(rt, "n")
		c := NewClock(48000, DefaultConfig())
		ids := make([]string, n)
		for i := range ids {
			ids[i] = rapid.StringMatching(`sink-[0-9]+`).Draw(rt, "id") + "-" + string(rune('a'+i))
			c.RegisterSink(ids[i], 0)
		}

		var wg sync.WaitGroup
		done := make(chan struct{}, n)
		wg.Add(n)
		for _, id := range ids {
			id := id
			go func() {
				defer wg.Done()
				c.WaitForDispatchBarrier(id, 2*time.Second)
				done <- struct{}{}
			}()
		}

		finished := make(chan struct{})
		go func() {
			wg.Wait()
			close(finished)
		}()

		select {
		case <-finished:
		case <-time.After(3 * time.Second):
			rt.Fatalf("barrier did not release all %d sinks before timeout", n)
		}
		close(done)
		count := 0
		for range done {
			count++
		}
		if count != n {
			rt.Fatalf("expected %d releases, got %d", n, count)
		}
	})
}
