package domain

import (
	"context"
	"math"
	"time"

	"gorm.io/gorm"
)

// RetryPolicy shapes the backoff between delivery attempts.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	Multiplier  float64
}

// Delay returns how long to wait after the given attempt number, counted from
// one. The first retry waits BaseDelay, each later one grows by Multiplier.
func (p RetryPolicy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	mult := p.Multiplier
	if mult <= 0 {
		mult = 1
	}
	return time.Duration(float64(p.BaseDelay) * math.Pow(mult, float64(attempt-1)))
}

// Exhausted reports whether the attempt count has used up the policy.
func (p RetryPolicy) Exhausted(attempts int) bool {
	return attempts >= p.MaxAttempts
}

type Repository interface {
	// Enqueue inserts the job unless (transaction_id, sink) already exists.
	// inserted=false with a nil error means the conversion was already fanned
	// out to that sink.
	Enqueue(ctx context.Context, db *gorm.DB, job *DispatchJob) (inserted bool, err error)
	ClaimDue(ctx context.Context, db *gorm.DB, dueBefore time.Time, limit int) ([]*DispatchJob, error)
	MarkDelivered(ctx context.Context, db *gorm.DB, id int64, at time.Time) error
	MarkRetry(ctx context.Context, db *gorm.DB, id int64, attempts int, nextRunAt time.Time, lastError string) error
	MarkAbandoned(ctx context.Context, db *gorm.DB, id int64, attempts int, lastError string) error
}

type Service interface {
	// Dispatch enqueues one job per enabled sink and kicks off the first
	// delivery attempt in the background. It never blocks on sink latency.
	Dispatch(ctx context.Context, conv *PaidConversion) error
	// RunDue retries pending jobs whose backoff has elapsed. Returns the
	// number of jobs processed.
	RunDue(ctx context.Context) (int, error)
}
