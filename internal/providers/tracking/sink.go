package tracking

import (
	"context"
	"time"
)

// Conversion is the normalized payload delivered to every tracking sink. The
// OrderKey is derived from the payment transaction id, so a sink that dedupes
// on it sees each conversion at most once no matter how often we retry.
type Conversion struct {
	OrderKey     string    `json:"order_key"`
	SubscriberID string    `json:"subscriber_id"`
	Tier         string    `json:"tier"`
	AmountCents  int64     `json:"amount_cents"`
	Currency     string    `json:"currency"`
	Provider     string    `json:"provider"`
	UTMSource    string    `json:"utm_source,omitempty"`
	UTMCampaign  string    `json:"utm_campaign,omitempty"`
	PaidAt       time.Time `json:"paid_at"`
}

// Sink receives paid conversions. Implementations must be safe for concurrent
// use; the dispatcher delivers to each sink from its own goroutine.
type Sink interface {
	Name() string
	Deliver(ctx context.Context, conv *Conversion) error
}

// NoOpSink swallows conversions. Used in tests and when the funnel catalog
// enables no sinks.
type NoOpSink struct{ SinkName string }

func (s *NoOpSink) Name() string { return s.SinkName }

func (s *NoOpSink) Deliver(ctx context.Context, conv *Conversion) error { return nil }
