package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Level classifies an audit record's severity.
type Level string

const (
	LevelInfo    Level = "info"
	LevelWarning Level = "warning"
)

// Fields carries the flat business payload of an audit record. Correlation
// fields are filled in by the service, not by callers.
type Fields struct {
	SubscriberID  string
	TransactionID string
	Details       map[string]any
}

// AuditLog is one flat audit record. LoggedAt is rendered in the business
// timezone so operators read funnel history in local wall-clock time.
type AuditLog struct {
	ID            snowflake.ID      `gorm:"column:id;primaryKey"`
	EventName     string            `gorm:"column:event_name"`
	Level         string            `gorm:"column:level"`
	SubscriberID  string            `gorm:"column:subscriber_id"`
	TransactionID string            `gorm:"column:transaction_id"`
	CorrelationID string            `gorm:"column:correlation_id"`
	ActorType     string            `gorm:"column:actor_type"`
	ActorID       string            `gorm:"column:actor_id"`
	IPAddress     string            `gorm:"column:ip_address"`
	UserAgent     string            `gorm:"column:user_agent"`
	UTMSource     string            `gorm:"column:utm_source"`
	UTMCampaign   string            `gorm:"column:utm_campaign"`
	Details       datatypes.JSONMap `gorm:"column:details"`
	LoggedAt      time.Time         `gorm:"column:logged_at"`
	CreatedAt     time.Time         `gorm:"column:created_at"`
}

func (AuditLog) TableName() string {
	return "audit_logs"
}

// ListFilter narrows audit log queries.
type ListFilter struct {
	SubscriberID string
	EventName    string
	StartAt      *time.Time
	EndAt        *time.Time
	Limit        int
}

// Service records and queries the structured audit trail. Record never
// propagates its own failure to the caller.
type Service interface {
	Record(ctx context.Context, level Level, eventName string, fields Fields)
	List(ctx context.Context, filter ListFilter) ([]*AuditLog, error)
}

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, entry *AuditLog) error
	List(ctx context.Context, db *gorm.DB, filter ListFilter) ([]*AuditLog, error)
}

var ErrInvalidEventName = errors.New("invalid_event_name")
