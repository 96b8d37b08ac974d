package repository

import (
	"context"
	"strings"

	"github.com/smallbiznis/dripflow/internal/audit/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, entry *domain.AuditLog) error {
	if entry == nil {
		return nil
	}
	return db.WithContext(ctx).Exec(
		`INSERT INTO audit_logs (
			id, event_name, level, subscriber_id, transaction_id, correlation_id,
			actor_type, actor_id, ip_address, user_agent, utm_source, utm_campaign,
			details, logged_at, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.ID,
		entry.EventName,
		entry.Level,
		entry.SubscriberID,
		entry.TransactionID,
		entry.CorrelationID,
		entry.ActorType,
		entry.ActorID,
		entry.IPAddress,
		entry.UserAgent,
		entry.UTMSource,
		entry.UTMCampaign,
		entry.Details,
		entry.LoggedAt,
		entry.CreatedAt,
	).Error
}

func (r *repo) List(ctx context.Context, db *gorm.DB, filter domain.ListFilter) ([]*domain.AuditLog, error) {
	var logs []*domain.AuditLog
	stmt := db.WithContext(ctx).Model(&domain.AuditLog{})

	if subscriberID := strings.TrimSpace(filter.SubscriberID); subscriberID != "" {
		stmt = stmt.Where("subscriber_id = ?", subscriberID)
	}
	if eventName := strings.TrimSpace(filter.EventName); eventName != "" {
		stmt = stmt.Where("event_name = ?", eventName)
	}
	if filter.StartAt != nil {
		stmt = stmt.Where("logged_at >= ?", filter.StartAt)
	}
	if filter.EndAt != nil {
		stmt = stmt.Where("logged_at <= ?", filter.EndAt)
	}

	stmt = stmt.Order("logged_at desc, id desc")
	if filter.Limit > 0 {
		stmt = stmt.Limit(filter.Limit)
	}

	if err := stmt.Find(&logs).Error; err != nil {
		return nil, err
	}
	return logs, nil
}
