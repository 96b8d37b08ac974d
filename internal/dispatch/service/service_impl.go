package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/smallbiznis/dripflow/internal/audit/domain"
	"github.com/smallbiznis/dripflow/internal/clock"
	"github.com/smallbiznis/dripflow/internal/config"
	"github.com/smallbiznis/dripflow/internal/dispatch/domain"
	"github.com/smallbiznis/dripflow/internal/observability/metrics"
	"github.com/smallbiznis/dripflow/internal/providers/tracking"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB      *gorm.DB
	Log     *zap.Logger
	Clock   clock.Clock
	Config  config.Config
	GenID   *snowflake.Node
	Repo    domain.Repository
	Sinks   []tracking.Sink
	Audit   auditdomain.Service
	Metrics *metrics.Metrics
}

type Service struct {
	db      *gorm.DB
	log     *zap.Logger
	clock   clock.Clock
	genID   *snowflake.Node
	repo    domain.Repository
	sinks   map[string]tracking.Sink
	policy  domain.RetryPolicy
	audit   auditdomain.Service
	metrics *metrics.Metrics

	wg sync.WaitGroup
}

func NewService(p Params) domain.Service {
	sinks := make(map[string]tracking.Sink, len(p.Sinks))
	for _, s := range p.Sinks {
		sinks[s.Name()] = s
	}
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("dispatch.service"),
		clock: p.Clock,
		genID: p.GenID,
		repo:  p.Repo,
		sinks: sinks,
		policy: domain.RetryPolicy{
			MaxAttempts: p.Config.Dispatch.MaxAttempts,
			BaseDelay:   p.Config.Dispatch.BaseDelay,
			Multiplier:  p.Config.Dispatch.Multiplier,
		},
		audit:   p.Audit,
		metrics: p.Metrics,
	}
}

// Dispatch persists one job per sink, then attempts the first delivery of each
// from its own goroutine. A slow or failing sink only delays its own job; the
// webhook that triggered the conversion has already returned by the time
// retries happen.
func (s *Service) Dispatch(ctx context.Context, conv *domain.PaidConversion) error {
	now := s.clock.Now()

	var errs []error
	for name := range s.sinks {
		job := &domain.DispatchJob{
			ID:            s.genID.Generate(),
			TransactionID: conv.TransactionID,
			Sink:          name,
			SubscriberID:  conv.SubscriberID,
			Tier:          conv.Tier,
			Provider:      conv.Provider,
			AmountCents:   conv.AmountCents,
			Currency:      conv.Currency,
			UTMSource:     conv.UTMSource,
			UTMCampaign:   conv.UTMCampaign,
			PaidAt:        conv.PaidAt,
			Status:        domain.JobStatusPending,
			NextRunAt:     now,
			CreatedAt:     now,
			UpdatedAt:     now,
		}
		inserted, err := s.repo.Enqueue(ctx, s.db, job)
		if err != nil {
			errs = append(errs, fmt.Errorf("enqueue %s: %w", name, err))
			continue
		}
		if !inserted {
			// Already fanned out for this transaction, nothing to redo.
			continue
		}

		s.wg.Add(1)
		go func(job *domain.DispatchJob) {
			defer s.wg.Done()
			deliveryCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
			defer cancel()
			s.attempt(deliveryCtx, job)
		}(job)
	}
	return errors.Join(errs...)
}

// RunDue picks up pending jobs whose backoff has elapsed, typically ones whose
// first in-process attempt failed or was lost to a restart.
func (s *Service) RunDue(ctx context.Context) (int, error) {
	jobs, err := s.repo.ClaimDue(ctx, s.db, s.clock.Now(), 100)
	if err != nil {
		return 0, err
	}
	for _, job := range jobs {
		s.attempt(ctx, job)
	}
	return len(jobs), nil
}

// Wait blocks until in-flight first attempts finish. Tests use it to avoid
// racing the background goroutines.
func (s *Service) Wait() { s.wg.Wait() }

func (s *Service) attempt(ctx context.Context, job *domain.DispatchJob) {
	sink, ok := s.sinks[job.Sink]
	if !ok {
		// Sink removed from the funnel catalog after the job was enqueued.
		s.abandon(ctx, job, job.Attempts+1, "sink_not_configured")
		return
	}

	err := sink.Deliver(ctx, &tracking.Conversion{
		OrderKey:     "order-" + job.TransactionID,
		SubscriberID: job.SubscriberID,
		Tier:         job.Tier,
		AmountCents:  job.AmountCents,
		Currency:     job.Currency,
		Provider:     job.Provider,
		UTMSource:    job.UTMSource,
		UTMCampaign:  job.UTMCampaign,
		PaidAt:       job.PaidAt,
	})

	attempts := job.Attempts + 1
	if err == nil {
		s.metrics.RecordDispatchAttempt(job.Sink, "delivered")
		if markErr := s.repo.MarkDelivered(ctx, s.db, int64(job.ID), s.clock.Now()); markErr != nil {
			s.log.Warn("failed to mark job delivered", zap.Int64("job_id", int64(job.ID)), zap.Error(markErr))
		}
		return
	}

	s.metrics.RecordDispatchAttempt(job.Sink, "failed")
	s.log.Warn("sink delivery failed",
		zap.String("sink", job.Sink),
		zap.String("transaction_id", job.TransactionID),
		zap.Int("attempts", attempts),
		zap.Error(err),
	)

	if s.policy.Exhausted(attempts) {
		s.abandon(ctx, job, attempts, err.Error())
		return
	}

	nextRunAt := s.clock.Now().Add(s.policy.Delay(attempts))
	if markErr := s.repo.MarkRetry(ctx, s.db, int64(job.ID), attempts, nextRunAt, err.Error()); markErr != nil {
		s.log.Warn("failed to schedule retry", zap.Int64("job_id", int64(job.ID)), zap.Error(markErr))
	}
}

func (s *Service) abandon(ctx context.Context, job *domain.DispatchJob, attempts int, reason string) {
	s.metrics.RecordDispatchAttempt(job.Sink, "abandoned")
	if err := s.repo.MarkAbandoned(ctx, s.db, int64(job.ID), attempts, reason); err != nil {
		s.log.Warn("failed to abandon job", zap.Int64("job_id", int64(job.ID)), zap.Error(err))
	}
	s.audit.Record(ctx, auditdomain.LevelWarning, "dispatch.abandoned", auditdomain.Fields{
		SubscriberID:  job.SubscriberID,
		TransactionID: job.TransactionID,
		Details: map[string]any{
			"sink":       job.Sink,
			"attempts":   attempts,
			"last_error": reason,
		},
	})
}
