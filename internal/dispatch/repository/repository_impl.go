package repository

import (
	"context"
	"time"

	"github.com/smallbiznis/dripflow/internal/dispatch/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Enqueue(ctx context.Context, db *gorm.DB, job *domain.DispatchJob) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`INSERT INTO dispatch_jobs (
			id, transaction_id, sink, subscriber_id, tier, provider,
			amount_cents, currency, utm_source, utm_campaign, paid_at,
			status, attempts, next_run_at, last_error, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 'pending', 0, ?, '', ?, ?)
		ON CONFLICT (transaction_id, sink) DO NOTHING`,
		job.ID,
		job.TransactionID,
		job.Sink,
		job.SubscriberID,
		job.Tier,
		job.Provider,
		job.AmountCents,
		job.Currency,
		job.UTMSource,
		job.UTMCampaign,
		job.PaidAt,
		job.NextRunAt,
		job.CreatedAt,
		job.UpdatedAt,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) ClaimDue(ctx context.Context, db *gorm.DB, dueBefore time.Time, limit int) ([]*domain.DispatchJob, error) {
	query := `SELECT id, transaction_id, sink, subscriber_id, tier, provider,
			amount_cents, currency, utm_source, utm_campaign, paid_at,
			status, attempts, next_run_at, last_error, created_at, updated_at
		 FROM dispatch_jobs
		 WHERE status = 'pending' AND next_run_at <= ?
		 ORDER BY next_run_at, id`
	// sqlite has no row locks; tests run single-writer.
	if db.Dialector.Name() == "sqlite" {
		query += `
		 LIMIT ?`
	} else {
		query += `
		 LIMIT ?
		 FOR UPDATE SKIP LOCKED`
	}

	var jobs []*domain.DispatchJob
	err := db.WithContext(ctx).Raw(query, dueBefore, limit).Scan(&jobs).Error
	if err != nil {
		return nil, err
	}
	return jobs, nil
}

func (r *repo) MarkDelivered(ctx context.Context, db *gorm.DB, id int64, at time.Time) error {
	return db.WithContext(ctx).Exec(
		`UPDATE dispatch_jobs
		 SET status = 'delivered', attempts = attempts + 1, last_error = '', updated_at = ?
		 WHERE id = ? AND status = 'pending'`,
		at,
		id,
	).Error
}

func (r *repo) MarkRetry(ctx context.Context, db *gorm.DB, id int64, attempts int, nextRunAt time.Time, lastError string) error {
	return db.WithContext(ctx).Exec(
		`UPDATE dispatch_jobs
		 SET attempts = ?, next_run_at = ?, last_error = ?, updated_at = ?
		 WHERE id = ? AND status = 'pending'`,
		attempts,
		nextRunAt,
		lastError,
		nextRunAt,
		id,
	).Error
}

func (r *repo) MarkAbandoned(ctx context.Context, db *gorm.DB, id int64, attempts int, lastError string) error {
	return db.WithContext(ctx).Exec(
		`UPDATE dispatch_jobs
		 SET status = 'abandoned', attempts = ?, last_error = ?, updated_at = ?
		 WHERE id = ? AND status = 'pending'`,
		attempts,
		lastError,
		time.Now().UTC(),
		id,
	).Error
}
