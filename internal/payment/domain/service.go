package domain

import (
	"context"
	"errors"
	"net/http"

	"gorm.io/gorm"
)

var (
	ErrInvalidProvider  = errors.New("invalid_provider")
	ErrProviderNotFound = errors.New("provider_not_found")
	ErrInvalidPayload   = errors.New("invalid_payload")
	ErrInvalidEvent     = errors.New("invalid_event")
	ErrEventIgnored     = errors.New("event_ignored")
	ErrNoAdapter        = errors.New("no_adapter_available")
)

// Repository is the append-only funnel event ledger.
type Repository interface {
	// Append inserts the record unless (kind, transaction_id) already exists.
	// inserted=false with a nil error means a duplicate lost the race.
	Append(ctx context.Context, db *gorm.DB, event *EventRecord) (inserted bool, err error)
	FindByTransaction(ctx context.Context, db *gorm.DB, kind EventKind, transactionID string) (*EventRecord, error)
	FindLastOfferShown(ctx context.Context, db *gorm.DB, subscriberID, tier string) (*EventRecord, error)
	List(ctx context.Context, db *gorm.DB, filter ListFilter) ([]*EventRecord, error)
}

// ListFilter narrows ledger queries.
type ListFilter struct {
	SubscriberID  string
	Kind          EventKind
	TransactionID string
	Limit         int
}

// Outcome reports how an inbound event was settled.
type Outcome struct {
	Accepted  bool
	Duplicate bool
}

// Service reconciles canonical payment events against the ledger and the
// subscriber state.
type Service interface {
	ProcessEvent(ctx context.Context, event *PaymentEvent) (Outcome, error)
	RecordOfferShown(ctx context.Context, subscriberID, tier string, amountCents int64) error
}

// WebhookService normalizes raw provider payloads and feeds the reconciler.
type WebhookService interface {
	IngestWebhook(ctx context.Context, provider string, payload []byte, headers http.Header) (Outcome, error)
}
