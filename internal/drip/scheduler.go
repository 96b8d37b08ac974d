package drip

import (
	"context"
	"errors"
	"time"

	"github.com/smallbiznis/dripflow/internal/clock"
	"github.com/smallbiznis/dripflow/internal/config"
	"github.com/smallbiznis/dripflow/internal/observability/metrics"
	"github.com/smallbiznis/dripflow/internal/ratelimit"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const (
	jobDripTick     = "drip_tick"
	jobDispatchDue  = "dispatch_due"
	dripTickLockKey = "dripflow:drip:tick"
)

// DispatchRunner is the slice of the dispatch service the scheduler drives.
type DispatchRunner interface {
	RunDue(ctx context.Context) (int, error)
}

type SchedulerParams struct {
	fx.In

	Log      *zap.Logger
	Clock    clock.Clock
	Config   config.Config
	Engine   *Engine
	Dispatch DispatchRunner
	Locker   *ratelimit.Locker
}

// Scheduler ticks the drip engine and the dispatch retry queue. One instance
// per deployment does the work; the redis lock keeps replicas from racing a
// tick, and row-level claiming covers the window where the lock fails open.
type Scheduler struct {
	log      *zap.Logger
	clock    clock.Clock
	interval time.Duration
	lockTTL  time.Duration
	engine   *Engine
	dispatch DispatchRunner
	locker   *ratelimit.Locker
	sched    *metrics.SchedulerMetrics

	done chan struct{}
}

func NewScheduler(p SchedulerParams) *Scheduler {
	interval := p.Config.Drip.RunInterval
	if interval <= 0 {
		interval = time.Minute
	}
	lockTTL := p.Config.Drip.LockTTL
	if lockTTL <= 0 || lockTTL >= interval {
		lockTTL = interval - interval/10
	}
	return &Scheduler{
		log:      p.Log.Named("drip.scheduler"),
		clock:    p.Clock,
		interval: interval,
		lockTTL:  lockTTL,
		engine:   p.Engine,
		dispatch: p.Dispatch,
		locker:   p.Locker,
		sched:    metrics.Scheduler(),
		done:     make(chan struct{}),
	}
}

// Start runs the tick loop until ctx is cancelled.
func (s *Scheduler) Start(ctx context.Context) {
	defer close(s.done)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.log.Info("scheduler started",
		zap.Duration("interval", s.interval),
		zap.Duration("lock_ttl", s.lockTTL),
	)

	for {
		select {
		case <-ctx.Done():
			s.log.Info("scheduler stopped")
			return
		case scheduledAt := <-ticker.C:
			s.sched.ObserveRunLoopLag(time.Since(scheduledAt))
			s.tick(ctx)
		}
	}
}

// Done is closed once the loop has exited.
func (s *Scheduler) Done() <-chan struct{} { return s.done }

func (s *Scheduler) tick(ctx context.Context) {
	lock, ok := s.locker.Acquire(ctx, dripTickLockKey, s.lockTTL)
	if !ok {
		s.sched.IncBatchDeferred(jobDripTick, "lock_held")
		return
	}
	defer lock.Release(ctx)

	s.runJob(ctx, jobDripTick, func(jobCtx context.Context) error {
		sent, err := s.engine.RunOnce(jobCtx)
		s.sched.AddBatchProcessed(jobDripTick, metrics.LockResourceSubscribersForDrip, sent)
		return err
	})
	s.runJob(ctx, jobDispatchDue, func(jobCtx context.Context) error {
		n, err := s.dispatch.RunDue(jobCtx)
		s.sched.AddBatchProcessed(jobDispatchDue, metrics.LockResourceDispatchJobsDue, n)
		return err
	})
}

func (s *Scheduler) runJob(ctx context.Context, job string, fn func(context.Context) error) {
	s.sched.IncJobRun(job)
	jobCtx, cancel := context.WithTimeout(ctx, s.lockTTL)
	defer cancel()

	start := time.Now()
	err := fn(jobCtx)
	s.sched.ObserveJobDuration(job, time.Since(start))

	if err == nil {
		return
	}
	if errors.Is(err, context.DeadlineExceeded) {
		s.sched.IncJobTimeout(job)
	}
	s.sched.IncJobError(job, err)
	s.log.Error("scheduler job failed", zap.String("job", job), zap.Error(err))
}
