package repository

import (
	"context"
	"strings"

	"github.com/smallbiznis/dripflow/internal/payment/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Append(ctx context.Context, db *gorm.DB, event *domain.EventRecord) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`INSERT INTO funnel_events (
			id, kind, transaction_id, subscriber_id, provider, amount_cents,
			currency, tier, correlation_id, metadata, occurred_at, recorded_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (kind, transaction_id) DO NOTHING`,
		event.ID,
		event.Kind,
		event.TransactionID,
		event.SubscriberID,
		event.Provider,
		event.AmountCents,
		event.Currency,
		event.Tier,
		event.CorrelationID,
		event.Metadata,
		event.OccurredAt,
		event.RecordedAt,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) FindByTransaction(ctx context.Context, db *gorm.DB, kind domain.EventKind, transactionID string) (*domain.EventRecord, error) {
	var item domain.EventRecord
	err := db.WithContext(ctx).Raw(
		`SELECT id, kind, transaction_id, subscriber_id, provider, amount_cents,
			currency, tier, correlation_id, metadata, occurred_at, recorded_at
		 FROM funnel_events
		 WHERE kind = ? AND transaction_id = ?
		 LIMIT 1`,
		kind,
		transactionID,
	).Scan(&item).Error
	if err != nil {
		return nil, err
	}
	if item.ID == 0 {
		return nil, nil
	}
	return &item, nil
}

func (r *repo) FindLastOfferShown(ctx context.Context, db *gorm.DB, subscriberID, tier string) (*domain.EventRecord, error) {
	var item domain.EventRecord
	err := db.WithContext(ctx).Raw(
		`SELECT id, kind, transaction_id, subscriber_id, provider, amount_cents,
			currency, tier, correlation_id, metadata, occurred_at, recorded_at
		 FROM funnel_events
		 WHERE kind = ? AND subscriber_id = ? AND tier = ?
		 ORDER BY occurred_at DESC
		 LIMIT 1`,
		domain.KindOfferShown,
		subscriberID,
		tier,
	).Scan(&item).Error
	if err != nil {
		return nil, err
	}
	if item.ID == 0 {
		return nil, nil
	}
	return &item, nil
}

func (r *repo) List(ctx context.Context, db *gorm.DB, filter domain.ListFilter) ([]*domain.EventRecord, error) {
	var events []*domain.EventRecord
	stmt := db.WithContext(ctx).Model(&domain.EventRecord{})

	if subscriberID := strings.TrimSpace(filter.SubscriberID); subscriberID != "" {
		stmt = stmt.Where("subscriber_id = ?", subscriberID)
	}
	if filter.Kind != "" {
		stmt = stmt.Where("kind = ?", filter.Kind)
	}
	if transactionID := strings.TrimSpace(filter.TransactionID); transactionID != "" {
		stmt = stmt.Where("transaction_id = ?", transactionID)
	}

	stmt = stmt.Order("occurred_at desc, id desc")
	if filter.Limit > 0 {
		stmt = stmt.Limit(filter.Limit)
	}

	if err := stmt.Find(&events).Error; err != nil {
		return nil, err
	}
	return events, nil
}
