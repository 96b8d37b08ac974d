package gateway

import (
	"context"
	"errors"
	"fmt"

	"github.com/smallbiznis/dripflow/internal/payment/domain"
	"go.uber.org/zap"
)

// FallbackPolicy tries adapters in their configured order until one creates
// the charge. Order is explicit configuration, not discovery.
type FallbackPolicy struct {
	order []Adapter
	log   *zap.Logger
}

// NewFallbackPolicy resolves the configured provider order against the
// registry. Unknown provider names are rejected so a typo fails at startup
// rather than at charge time.
func NewFallbackPolicy(providers []string, registry *Registry, log *zap.Logger) (*FallbackPolicy, error) {
	if len(providers) == 0 {
		return nil, errors.New("no gateway providers configured")
	}
	order := make([]Adapter, 0, len(providers))
	for _, name := range providers {
		adapter, err := registry.Adapter(name)
		if err != nil {
			return nil, fmt.Errorf("gateway provider %q: %w", name, err)
		}
		order = append(order, adapter)
	}
	return &FallbackPolicy{
		order: order,
		log:   log.Named("payment.gateway"),
	}, nil
}

// NewDisabledFallbackPolicy returns a policy with no adapters; CreateCharge
// always fails with ErrNoAdapter. Used when no provider credentials are
// configured so webhook-only deployments still boot.
func NewDisabledFallbackPolicy(log *zap.Logger) *FallbackPolicy {
	return &FallbackPolicy{log: log.Named("payment.gateway")}
}

// CreateCharge walks the adapter order: the first success wins, errors fall
// through to the next adapter.
func (p *FallbackPolicy) CreateCharge(ctx context.Context, req ChargeRequest) (*Charge, error) {
	var lastErr error
	for _, adapter := range p.order {
		charge, err := adapter.CreateCharge(ctx, req)
		if err == nil {
			return charge, nil
		}
		lastErr = err
		p.log.Warn("charge creation failed, falling through",
			zap.String("provider", adapter.Provider()),
			zap.Error(err),
		)
	}
	if lastErr != nil {
		return nil, fmt.Errorf("%w: %s", domain.ErrNoAdapter, lastErr)
	}
	return nil, domain.ErrNoAdapter
}

// Providers returns the configured order, first choice first.
func (p *FallbackPolicy) Providers() []string {
	out := make([]string, 0, len(p.order))
	for _, adapter := range p.order {
		out = append(out, adapter.Provider())
	}
	return out
}
