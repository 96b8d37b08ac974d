package payment

import (
	"github.com/smallbiznis/dripflow/internal/config"
	"github.com/smallbiznis/dripflow/internal/payment/gateway"
	"github.com/smallbiznis/dripflow/internal/payment/gateway/pagoro"
	"github.com/smallbiznis/dripflow/internal/payment/gateway/pixnow"
	"github.com/smallbiznis/dripflow/internal/payment/idempotency"
	"github.com/smallbiznis/dripflow/internal/payment/pricing"
	"github.com/smallbiznis/dripflow/internal/payment/repository"
	"github.com/smallbiznis/dripflow/internal/payment/service"
	"github.com/smallbiznis/dripflow/internal/payment/webhook"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("payment.service",
	fx.Provide(repository.Provide),
	fx.Provide(NewRegistry),
	fx.Provide(NewFallbackPolicy),
	fx.Provide(idempotency.NewGuard),
	fx.Provide(pricing.NewAuditor),
	fx.Provide(service.NewService),
	fx.Provide(webhook.NewService),
)

// NewRegistry wires one adapter per configured provider credential.
func NewRegistry(cfg config.Config) *gateway.Registry {
	var adapters []gateway.Adapter
	if cfg.Gateway.PixnowAPIKey != "" {
		adapters = append(adapters, pixnow.New(cfg.Gateway.PixnowAPIKey))
	}
	if cfg.Gateway.PagoroToken != "" {
		adapters = append(adapters, pagoro.New(cfg.Gateway.PagoroToken))
	}
	return gateway.NewRegistry(adapters...)
}

// NewFallbackPolicy orders charge creation across the configured providers.
func NewFallbackPolicy(cfg config.Config, registry *gateway.Registry, log *zap.Logger) (*gateway.FallbackPolicy, error) {
	var known []string
	for _, name := range cfg.Gateway.Providers {
		if registry.ProviderExists(name) {
			known = append(known, name)
		} else {
			log.Warn("skipping unconfigured gateway provider", zap.String("provider", name))
		}
	}
	if len(known) == 0 {
		log.Warn("no gateway providers configured, charge creation disabled")
		return gateway.NewDisabledFallbackPolicy(log), nil
	}
	return gateway.NewFallbackPolicy(known, registry, log)
}
