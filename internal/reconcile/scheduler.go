package reconcile

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Runner performs one reconciliation run.
type Runner interface {
	Run(ctx context.Context) (*Report, error)
}

// Locker elects a single scheduler replica per tick. A false result means
// another replica holds the lock.
type Locker interface {
	TryLock(ctx context.Context) (unlock func(context.Context) error, acquired bool, err error)
}

// Scheduler triggers the sweep on a fixed interval.
type Scheduler struct {
	runner     Runner
	locker     Locker
	interval   time.Duration
	runTimeout time.Duration
	runOnStart bool
	logger     *zap.Logger

	shutdownSignal chan struct{}
	shutdownOnce   sync.Once
	done           chan struct{}
}

type SchedulerOption func(*Scheduler)

// WithLocker makes every tick try locker first and skip the run when
// another holder has it.
func WithLocker(locker Locker) SchedulerOption {
	return func(s *Scheduler) { s.locker = locker }
}

func WithRunOnStart(runOnStart bool) SchedulerOption {
	return func(s *Scheduler) { s.runOnStart = runOnStart }
}

// WithRunTimeout bounds a single run. Zero means no bound.
func WithRunTimeout(timeout time.Duration) SchedulerOption {
	return func(s *Scheduler) { s.runTimeout = timeout }
}

func NewScheduler(runner Runner, interval time.Duration, logger *zap.Logger, opts ...SchedulerOption) *Scheduler {
	s := &Scheduler{
		runner:         runner,
		interval:       interval,
		logger:         logger,
		shutdownSignal: make(chan struct{}),
		done:           make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start runs the ticker loop until ctx is done or Stop is called. It blocks.
func (s *Scheduler) Start(ctx context.Context) {
	defer close(s.done)
	s.logger.Info("Starting reconciliation scheduler", zap.Duration("interval", s.interval), zap.Bool("run_on_start", s.runOnStart))

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	if s.runOnStart {
		s.tick(ctx)
	}

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Reconciliation scheduler stopped by context")
			return
		case <-s.shutdownSignal:
			s.logger.Info("Reconciliation scheduler stopped")
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

// Stop signals the loop to exit and waits for an in-flight run to finish
// or ctx to end.
func (s *Scheduler) Stop(ctx context.Context) {
	s.shutdownOnce.Do(func() {
		s.logger.Info("Signaling reconciliation scheduler to stop...")
		close(s.shutdownSignal)
	})
	select {
	case <-s.done:
	case <-ctx.Done():
		s.logger.Warn("Reconciliation scheduler did not stop in time", zap.Error(ctx.Err()))
	}
}

func (s *Scheduler) tick(ctx context.Context) {
	runCtx := ctx
	if s.runTimeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, s.runTimeout)
		defer cancel()
	}

	if s.locker != nil {
		unlock, acquired, err := s.locker.TryLock(runCtx)
		switch {
		case err != nil:
			// Overlapping runs are safe.
			s.logger.Warn("Failed to acquire reconciliation lock, running without it", zap.Error(err))
		case !acquired:
			s.logger.Debug("Reconciliation lock held elsewhere, skipping run")
			return
		default:
			defer func() {
				unlockCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
				defer cancel()
				if err := unlock(unlockCtx); err != nil {
					s.logger.Warn("Failed to release reconciliation lock", zap.Error(err))
				}
			}()
		}
	}

	if _, err := s.runner.Run(runCtx); err != nil {
		s.logger.Error("Reconciliation run failed", zap.Error(err))
	}
}
