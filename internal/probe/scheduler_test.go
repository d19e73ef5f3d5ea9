package probe

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"
)

func testSchedulerConfig(targets ...string) ProbeConfig {
	cfg := DefaultConfig()
	cfg.Targets = targets
	cfg.Interval = 50 * time.Millisecond
	cfg.Timeout = 10 * time.Millisecond
	cfg.MaxWorkers = 2
	return cfg
}

func TestScheduler_Running(t *testing.T) {
	s := NewScheduler(testSchedulerConfig("a"), fakePing(nil, nil), func(context.Context, []Result) {}, zap.NewNop())

	if s.Running() {
		t.Error("Running() = true before Start, want false")
	}
	s.Start(context.Background())
	if !s.Running() {
		t.Error("Running() = false after Start, want true")
	}
	s.Stop()
	if s.Running() {
		t.Error("Running() = true after Stop, want false")
	}
}

func TestScheduler_RoundKeepsTargetOrder(t *testing.T) {
	rounds := make(chan []Result, 4)
	s := NewScheduler(
		testSchedulerConfig("a", "b", "c", "d", "e"),
		fakePing(nil, map[string]bool{"c": true}),
		func(_ context.Context, r []Result) { rounds <- r },
		zap.NewNop(),
	)
	s.Start(context.Background())
	defer s.Stop()

	var got []Result
	select {
	case got = <-rounds:
	case <-time.After(2 * time.Second):
		t.Fatal("no round completed")
	}

	want := []string{"a", "b", "c", "d", "e"}
	for i, r := range got {
		if r.Target != want[i] {
			t.Errorf("results[%d].Target = %q, want %q", i, r.Target, want[i])
		}
		if r.At.IsZero() {
			t.Errorf("results[%d].At not stamped", i)
		}
	}
	if got[2].Error == "" {
		t.Error("failing ping should carry its error")
	}
}

func TestScheduler_BoundsConcurrency(t *testing.T) {
	var inFlight, peak atomic.Int64
	ping := func(_ context.Context, _ string, _ ProbeConfig) (Result, error) {
		n := inFlight.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		inFlight.Add(-1)
		return Result{PacketsRecv: 1}, nil
	}

	done := make(chan struct{}, 1)
	s := NewScheduler(testSchedulerConfig("a", "b", "c", "d", "e", "f"), ping,
		func(context.Context, []Result) {
			select {
			case done <- struct{}{}:
			default:
			}
		}, zap.NewNop())
	s.Start(context.Background())
	defer s.Stop()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("no round completed")
	}
	if p := peak.Load(); p > 2 {
		t.Errorf("peak concurrency = %d, want <= 2", p)
	}
}
