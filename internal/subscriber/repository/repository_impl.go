package repository

import (
	"context"
	"time"

	"github.com/smallbiznis/dripflow/internal/subscriber/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Ensure(ctx context.Context, db *gorm.DB, sub *domain.Subscriber) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`INSERT INTO subscribers (
			id, tier, drip_step, paid, utm_source, utm_campaign, created_at, updated_at
		) VALUES (?, ?, 0, FALSE, ?, ?, ?, ?)
		ON CONFLICT (id) DO NOTHING`,
		sub.ID,
		sub.Tier,
		sub.UTMSource,
		sub.UTMCampaign,
		sub.CreatedAt,
		sub.UpdatedAt,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) Get(ctx context.Context, db *gorm.DB, id string) (*domain.Subscriber, error) {
	var item domain.Subscriber
	err := db.WithContext(ctx).Raw(
		`SELECT id, tier, drip_step, paid, paid_at, last_touch_at,
			utm_source, utm_campaign, created_at, updated_at
		 FROM subscribers
		 WHERE id = ?
		 LIMIT 1`,
		id,
	).Scan(&item).Error
	if err != nil {
		return nil, err
	}
	if item.ID == "" {
		return nil, nil
	}
	return &item, nil
}

func (r *repo) MarkPaid(ctx context.Context, db *gorm.DB, id string, paidAt time.Time) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE subscribers
		 SET paid = TRUE, paid_at = ?, updated_at = ?
		 WHERE id = ? AND paid = FALSE`,
		paidAt,
		paidAt,
		id,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) AdvanceStep(ctx context.Context, db *gorm.DB, id string, fromStep int, touchedAt time.Time) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE subscribers
		 SET drip_step = drip_step + 1, last_touch_at = ?, updated_at = ?
		 WHERE id = ? AND paid = FALSE AND drip_step = ?`,
		touchedAt,
		touchedAt,
		id,
		fromStep,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) ClaimDue(ctx context.Context, db *gorm.DB, dueBefore time.Time, limit int) ([]*domain.Subscriber, error) {
	query := `SELECT id, tier, drip_step, paid, paid_at, last_touch_at,
			utm_source, utm_campaign, created_at, updated_at
		 FROM subscribers
		 WHERE paid = FALSE
		   AND (last_touch_at IS NULL OR last_touch_at <= ?)
		 ORDER BY last_touch_at NULLS FIRST, id`
	// sqlite has neither row locks nor NULLS FIRST; tests run single-writer.
	if db.Dialector.Name() == "sqlite" {
		query = `SELECT id, tier, drip_step, paid, paid_at, last_touch_at,
			utm_source, utm_campaign, created_at, updated_at
		 FROM subscribers
		 WHERE paid = FALSE
		   AND (last_touch_at IS NULL OR last_touch_at <= ?)
		 ORDER BY last_touch_at IS NULL DESC, last_touch_at, id
		 LIMIT ?`
	} else {
		query += `
		 LIMIT ?
		 FOR UPDATE SKIP LOCKED`
	}

	var subscribers []*domain.Subscriber
	err := db.WithContext(ctx).Raw(query, dueBefore, limit).Scan(&subscribers).Error
	if err != nil {
		return nil, err
	}
	return subscribers, nil
}

func (r *repo) Reset(ctx context.Context, db *gorm.DB, id string) error {
	res := db.WithContext(ctx).Exec(
		`UPDATE subscribers
		 SET paid = FALSE, paid_at = NULL, drip_step = 0, last_touch_at = NULL, updated_at = ?
		 WHERE id = ?`,
		time.Now().UTC(),
		id,
	)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return domain.ErrSubscriberNotFound
	}
	return nil
}

func (r *repo) Touch(ctx context.Context, db *gorm.DB, id string, touchedAt time.Time) error {
	return db.WithContext(ctx).Exec(
		`UPDATE subscribers
		 SET last_touch_at = ?, updated_at = ?
		 WHERE id = ?`,
		touchedAt,
		touchedAt,
		id,
	).Error
}
