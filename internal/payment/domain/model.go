package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// EventKind is the canonical funnel event kind.
type EventKind string

const (
	KindOfferShown    EventKind = "offer_shown"
	KindChargeCreated EventKind = "charge_created"
	KindChargePaid    EventKind = "charge_paid"
)

// ChargeCreatedValidity is how long a pending charge stays authoritative.
// After this window the gateway has expired the charge and a fresh
// charge_created for the same transaction id is legitimate.
const ChargeCreatedValidity = 30 * time.Minute

// EventRecord is one append-only row in the funnel event ledger.
// UNIQUE (kind, transaction_id) makes the first writer authoritative.
type EventRecord struct {
	ID            snowflake.ID   `json:"id" gorm:"primaryKey"`
	Kind          EventKind      `json:"kind" gorm:"type:text;not null;uniqueIndex:uq_funnel_events_kind_tx"`
	TransactionID string         `json:"transaction_id" gorm:"type:text;not null;uniqueIndex:uq_funnel_events_kind_tx"`
	SubscriberID  string         `json:"subscriber_id" gorm:"type:text;not null;index"`
	Provider      string         `json:"provider" gorm:"type:text;not null"`
	AmountCents   int64          `json:"amount_cents" gorm:"not null"`
	Currency      string         `json:"currency" gorm:"type:text;not null"`
	Tier          string         `json:"tier" gorm:"type:text"`
	CorrelationID string         `json:"correlation_id" gorm:"type:text"`
	Metadata      datatypes.JSON `json:"metadata" gorm:"type:jsonb"`
	OccurredAt    time.Time      `json:"occurred_at" gorm:"not null"`
	RecordedAt    time.Time      `json:"recorded_at" gorm:"not null"`
}

func (EventRecord) TableName() string { return "funnel_events" }

// ChargeStatus is the normalized status an adapter extracts from a provider
// webhook payload.
type ChargeStatus string

const (
	StatusCreated ChargeStatus = "created"
	StatusPaid    ChargeStatus = "paid"
	StatusExpired ChargeStatus = "expired"
)

// PaymentEvent is the canonical payment event parsed by gateway adapters.
type PaymentEvent struct {
	Provider      string
	TransactionID string
	Status        ChargeStatus
	SubscriberID  string
	AmountCents   int64
	Currency      string
	Tier          string
	PayerMeta     map[string]any
	OccurredAt    time.Time
	RawPayload    []byte
}

// Kind maps the normalized charge status onto the ledger event kind.
// Expired charges carry no ledger kind; they only release the transaction id.
func (e *PaymentEvent) Kind() (EventKind, bool) {
	switch e.Status {
	case StatusCreated:
		return KindChargeCreated, true
	case StatusPaid:
		return KindChargePaid, true
	default:
		return "", false
	}
}
