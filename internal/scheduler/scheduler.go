// Package scheduler drives periodic poll passes. At most one pass runs at a
// time, and the next scheduled pass starts one interval after the previous
// pass finished, however long it took.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/feedvault/feedvault/internal/logging"
)

var (
	// ErrPassRunning is returned by RunNow while another pass is in progress.
	ErrPassRunning = errors.New("poll pass already running")
	// ErrStopped is returned by Trigger once the scheduler is shutting down.
	ErrStopped = errors.New("scheduler stopped")
)

// Pass is one poll over every channel.
type Pass func(ctx context.Context) error

// Scheduler runs a Pass immediately on Start and then again one interval
// after each pass ends.
type Scheduler struct {
	cron     *cron.Cron
	pass     Pass
	interval time.Duration
	logger   *zap.Logger

	running    sync.Mutex
	background sync.WaitGroup

	mu      sync.Mutex
	baseCtx context.Context
	stopped bool
	entry   cron.EntryID
	lastRun time.Time
	lastErr error
}

// oneShot fires once at a fixed instant. Every finished pass replaces it
// with a new one, so passes never queue up behind a slow one.
type oneShot struct{ at time.Time }

func (o oneShot) Next(t time.Time) time.Time {
	if t.Before(o.at) {
		return o.at
	}
	return time.Time{}
}

// New creates a Scheduler. The interval must be at least one second.
func New(interval time.Duration, pass Pass, logger *zap.Logger) (*Scheduler, error) {
	if interval < time.Second {
		return nil, fmt.Errorf("poll interval %s is below one second", interval)
	}
	if pass == nil {
		return nil, errors.New("scheduler needs a pass")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	cl := logging.CronLogger(logger)
	s := &Scheduler{
		cron:     cron.New(cron.WithLogger(cl), cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl))),
		pass:     pass,
		interval: interval,
		logger:   logger,
		baseCtx:  context.Background(),
	}
	return s, nil
}

// Start runs the first pass in the background and starts the timer that the
// pass arms when it finishes. Scheduled and triggered passes inherit ctx.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	s.baseCtx = ctx
	s.mu.Unlock()

	s.logger.Info("scheduler starting", zap.Duration("interval", s.interval))
	s.background.Add(1)
	go func() {
		defer s.background.Done()
		s.tick()
	}()
	s.cron.Start()
}

// Stop halts the timer. The returned context is done once any running
// scheduled pass has returned.
func (s *Scheduler) Stop() context.Context {
	s.logger.Info("scheduler stopping")
	return s.cron.Stop()
}

// Run starts the scheduler and blocks until ctx is cancelled and the
// in-flight pass, if any, has finished.
func (s *Scheduler) Run(ctx context.Context) error {
	s.Start(ctx)
	<-ctx.Done()

	s.mu.Lock()
	s.stopped = true
	s.mu.Unlock()

	<-s.Stop().Done()
	s.background.Wait()
	return nil
}

// RunNow executes a pass synchronously. It returns ErrPassRunning without
// waiting when a pass is already in progress.
func (s *Scheduler) RunNow(ctx context.Context) error {
	if !s.running.TryLock() {
		return ErrPassRunning
	}
	defer s.running.Unlock()
	return s.run(ctx, "manual")
}

// Trigger starts a pass in the background under the Start context. It
// returns ErrPassRunning without starting one when a pass is in progress,
// and ErrStopped once that context is done.
func (s *Scheduler) Trigger() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ctx := s.baseCtx
	if s.stopped || ctx.Err() != nil {
		return ErrStopped
	}
	if !s.running.TryLock() {
		return ErrPassRunning
	}

	// Added under mu so that Run never waits while a new pass is being added.
	s.background.Add(1)
	go func() {
		defer s.background.Done()
		defer s.running.Unlock()
		_ = s.run(ctx, "manual")
	}()
	return nil
}

// LastRun reports when the most recent pass finished and its error.
func (s *Scheduler) LastRun() (time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastRun, s.lastErr
}

func (s *Scheduler) tick() {
	if !s.running.TryLock() {
		s.logger.Info("poll pass still running, skipping tick")
		return
	}
	defer s.running.Unlock()

	s.mu.Lock()
	ctx := s.baseCtx
	s.mu.Unlock()
	if ctx.Err() != nil {
		return
	}
	_ = s.run(ctx, "scheduled")
}

func (s *Scheduler) run(ctx context.Context, trigger string) error {
	log := s.logger.With(zap.String("trigger", trigger))
	log.Info("poll pass starting")
	start := time.Now()

	err := s.pass(ctx)
	s.finish(err)

	if err != nil {
		log.Error("poll pass failed", zap.Error(err), zap.Duration("elapsed", time.Since(start)))
		return err
	}
	log.Info("poll pass completed", zap.Duration("elapsed", time.Since(start)))
	return nil
}

// finish records the outcome of a pass and arms the next scheduled one.
func (s *Scheduler) finish(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastRun = time.Now()
	s.lastErr = err

	if s.entry != 0 {
		s.cron.Remove(s.entry)
	}
	next := s.lastRun.Add(s.interval)
	s.entry = s.cron.Schedule(oneShot{at: next}, cron.FuncJob(s.tick))
	s.logger.Debug("next poll pass scheduled", zap.Time("at", next))
}
