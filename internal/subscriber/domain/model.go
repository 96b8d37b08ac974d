package domain

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
)

// Subscriber is one chat contact moving through the funnel. The primary key
// is the opaque chat id assigned by the messaging platform.
type Subscriber struct {
	ID          string     `json:"id" gorm:"primaryKey;type:text"`
	Tier        string     `json:"tier" gorm:"type:text;not null;default:''"`
	DripStep    int        `json:"drip_step" gorm:"not null;default:0"`
	Paid        bool       `json:"paid" gorm:"not null;default:false"`
	PaidAt      *time.Time `json:"paid_at"`
	LastTouchAt *time.Time `json:"last_touch_at"`
	UTMSource   string     `json:"utm_source" gorm:"type:text;not null;default:''"`
	UTMCampaign string     `json:"utm_campaign" gorm:"type:text;not null;default:''"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

func (Subscriber) TableName() string { return "subscribers" }

var ErrSubscriberNotFound = errors.New("subscriber_not_found")

// Repository mutates subscribers exclusively through guarded single-statement
// updates so racing writers cannot interleave read-modify-write cycles.
type Repository interface {
	// Ensure creates the subscriber at drip step zero if absent and reports
	// whether a row was created.
	Ensure(ctx context.Context, db *gorm.DB, sub *Subscriber) (created bool, err error)
	Get(ctx context.Context, db *gorm.DB, id string) (*Subscriber, error)
	// MarkPaid flips paid exactly once. false means the subscriber was
	// already paid or missing.
	MarkPaid(ctx context.Context, db *gorm.DB, id string, paidAt time.Time) (bool, error)
	// AdvanceStep moves drip_step from fromStep to fromStep+1 unless the
	// subscriber has paid or another worker advanced it first.
	AdvanceStep(ctx context.Context, db *gorm.DB, id string, fromStep int, touchedAt time.Time) (bool, error)
	// ClaimDue selects and row-locks unpaid subscribers whose last touch is
	// older than dueBefore, skipping rows locked by concurrent ticks.
	ClaimDue(ctx context.Context, db *gorm.DB, dueBefore time.Time, limit int) ([]*Subscriber, error)
	Reset(ctx context.Context, db *gorm.DB, id string) error
	Touch(ctx context.Context, db *gorm.DB, id string, touchedAt time.Time) error
}

// Status is the public view of a subscriber's funnel position.
type Status struct {
	SubscriberID string     `json:"subscriber_id"`
	Tier         string     `json:"tier"`
	Paid         bool       `json:"paid"`
	DripStep     int        `json:"drip_step"`
	PaidAt       *time.Time `json:"paid_at,omitempty"`
	LastTouchAt  *time.Time `json:"last_touch_at,omitempty"`
}

// Service exposes subscriber lifecycle operations.
type Service interface {
	Enroll(ctx context.Context, id, tier, utmSource, utmCampaign string) (*Subscriber, error)
	Status(ctx context.Context, id string) (*Status, error)
	Reset(ctx context.Context, id string) error
}
