package scheduler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"
)

func TestNewValidation(t *testing.T) {
	noop := func(context.Context) error { return nil }
	if _, err := New(500*time.Millisecond, noop, nil); err == nil {
		t.Error("expected error for sub-second interval")
	}
	if _, err := New(time.Minute, nil, nil); err == nil {
		t.Error("expected error for nil pass")
	}
	if _, err := New(time.Minute, noop, nil); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestStartRunsImmediately(t *testing.T) {
	var calls atomic.Int32
	done := make(chan struct{}, 1)
	s, err := New(time.Hour, func(context.Context) error {
		calls.Add(1)
		done <- struct{}{}
		return nil
	}, zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- s.Run(ctx) }()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("first pass did not run")
	}
	cancel()
	if err := <-errc; err != nil {
		t.Fatalf("Run: %v", err)
	}
	if n := calls.Load(); n != 1 {
		t.Errorf("passes = %d, want 1", n)
	}
	if last, err := s.LastRun(); last.IsZero() || err != nil {
		t.Errorf("LastRun = %v, %v", last, err)
	}
}

func TestRunNowRejectsOverlap(t *testing.T) {
	release := make(chan struct{})
	entered := make(chan struct{})
	s, err := New(time.Hour, func(context.Context) error {
		close(entered)
		<-release
		return nil
	}, nil)
	if err != nil {
		t.Fatal(err)
	}

	errc := make(chan error, 1)
	go func() { errc <- s.RunNow(context.Background()) }()
	<-entered

	if err := s.RunNow(context.Background()); !errors.Is(err, ErrPassRunning) {
		t.Errorf("overlapping RunNow = %v, want ErrPassRunning", err)
	}
	close(release)
	if err := <-errc; err != nil {
		t.Errorf("first RunNow: %v", err)
	}
}

func TestRunNowRecordsError(t *testing.T) {
	boom := errors.New("listing down")
	s, err := New(time.Hour, func(context.Context) error { return boom }, nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := s.RunNow(context.Background()); !errors.Is(err, boom) {
		t.Fatalf("RunNow = %v, want %v", err, boom)
	}
	if _, last := s.LastRun(); !errors.Is(last, boom) {
		t.Errorf("LastRun error = %v", last)
	}
}

func TestTickSkipsWhenCancelled(t *testing.T) {
	var calls atomic.Int32
	s, err := New(time.Hour, func(context.Context) error {
		calls.Add(1)
		return nil
	}, nil)
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	s.baseCtx = ctx
	s.tick()
	if calls.Load() != 0 {
		t.Error("tick ran a pass after cancellation")
	}
}

func TestTrigger(t *testing.T) {
	release := make(chan struct{})
	s, err := New(time.Hour, func(context.Context) error {
		<-release
		return nil
	}, nil)
	if err != nil {
		t.Fatal(err)
	}

	if err := s.Trigger(); err != nil {
		t.Fatalf("Trigger: %v", err)
	}
	if err := s.Trigger(); !errors.Is(err, ErrPassRunning) {
		t.Errorf("second Trigger = %v, want ErrPassRunning", err)
	}
	close(release)
	s.background.Wait()

	if err := s.RunNow(context.Background()); err != nil {
		t.Errorf("RunNow after triggered pass: %v", err)
	}
}

func TestNextPassWaitsIntervalAfterPreviousEnds(t *testing.T) {
	const passTime = 300 * time.Millisecond
	var (
		mu     sync.Mutex
		starts []time.Time
		ends   []time.Time
	)
	second := make(chan struct{})
	s, err := New(time.Second, func(context.Context) error {
		mu.Lock()
		starts = append(starts, time.Now())
		n := len(starts)
		mu.Unlock()
		if n == 2 {
			close(second)
			return nil
		}
		time.Sleep(passTime)
		mu.Lock()
		ends = append(ends, time.Now())
		mu.Unlock()
		return nil
	}, nil)
	if err != nil {
		t.Fatal(err)
	}
	// A pass that takes longer than the interval must still be followed by a
	// full interval of rest.
	s.interval = 200 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- s.Run(ctx) }()

	select {
	case <-second:
	case <-time.After(5 * time.Second):
		t.Fatal("second pass did not run")
	}
	cancel()
	if err := <-errc; err != nil {
		t.Fatalf("Run: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if gap := starts[1].Sub(ends[0]); gap < s.interval {
		t.Errorf("second pass started %v after the first ended, want >= %v", gap, s.interval)
	}
}

func TestTriggerAfterShutdown(t *testing.T) {
	var calls atomic.Int32
	first := make(chan struct{}, 1)
	s, err := New(time.Hour, func(context.Context) error {
		calls.Add(1)
		select {
		case first <- struct{}{}:
		default:
		}
		return nil
	}, nil)
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- s.Run(ctx) }()
	<-first
	cancel()

	// Between cancellation and Run returning, and after it, no pass starts.
	if err := s.Trigger(); !errors.Is(err, ErrStopped) {
		t.Errorf("Trigger during shutdown = %v, want ErrStopped", err)
	}
	if err := <-errc; err != nil {
		t.Fatalf("Run: %v", err)
	}
	if err := s.Trigger(); !errors.Is(err, ErrStopped) {
		t.Errorf("Trigger after Run = %v, want ErrStopped", err)
	}
	if n := calls.Load(); n != 1 {
		t.Errorf("passes = %d, want 1", n)
	}
}
