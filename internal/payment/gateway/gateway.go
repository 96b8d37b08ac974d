package gateway

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/smallbiznis/dripflow/internal/payment/domain"
)

// ChargeRequest asks a provider to create a pending charge.
type ChargeRequest struct {
	SubscriberID string
	Tier         string
	AmountCents  int64
	Currency     string
	Metadata     map[string]string
}

// Charge is the provider's answer to a charge creation.
type Charge struct {
	Provider      string
	TransactionID string
	PaymentURL    string
	ExpiresAt     time.Time
}

// Adapter wraps one payment provider. Adapters are capability-equivalent:
// each can parse its provider's webhooks and create charges.
type Adapter interface {
	Provider() string
	ParseWebhook(ctx context.Context, payload []byte, headers http.Header) (*domain.PaymentEvent, error)
	CreateCharge(ctx context.Context, req ChargeRequest) (*Charge, error)
}

// Registry indexes adapters by provider name.
type Registry struct {
	adapters map[string]Adapter
}

func NewRegistry(adapters ...Adapter) *Registry {
	registry := &Registry{adapters: map[string]Adapter{}}
	for _, adapter := range adapters {
		if adapter == nil {
			continue
		}
		provider := strings.ToLower(strings.TrimSpace(adapter.Provider()))
		if provider == "" {
			continue
		}
		registry.adapters[provider] = adapter
	}
	return registry
}

func (r *Registry) ProviderExists(provider string) bool {
	if r == nil {
		return false
	}
	provider = strings.ToLower(strings.TrimSpace(provider))
	_, ok := r.adapters[provider]
	return ok
}

func (r *Registry) Adapter(provider string) (Adapter, error) {
	if r == nil {
		return nil, domain.ErrProviderNotFound
	}
	provider = strings.ToLower(strings.TrimSpace(provider))
	adapter, ok := r.adapters[provider]
	if !ok {
		return nil, domain.ErrProviderNotFound
	}
	return adapter, nil
}
