package webhook

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/smallbiznis/dripflow/internal/payment/domain"
	"github.com/smallbiznis/dripflow/internal/payment/gateway"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type Params struct {
	fx.In

	Log      *zap.Logger
	Registry *gateway.Registry
	Payments domain.Service
}

// Service turns raw provider webhooks into canonical events and hands them to
// the reconciler.
type Service struct {
	log      *zap.Logger
	registry *gateway.Registry
	payments domain.Service
}

func NewService(p Params) domain.WebhookService {
	return &Service{
		log:      p.Log.Named("payment.webhook"),
		registry: p.Registry,
		payments: p.Payments,
	}
}

// IngestWebhook parses the provider payload and reconciles the resulting
// event. Event kinds the provider emits but the funnel does not track are
// acknowledged as no-ops so the provider stops retrying them.
func (s *Service) IngestWebhook(ctx context.Context, provider string, payload []byte, headers http.Header) (domain.Outcome, error) {
	provider = strings.ToLower(strings.TrimSpace(provider))
	if provider == "" {
		return domain.Outcome{}, domain.ErrInvalidProvider
	}

	adapter, err := s.registry.Adapter(provider)
	if err != nil {
		return domain.Outcome{}, err
	}

	event, err := adapter.ParseWebhook(ctx, payload, headers)
	if err != nil {
		if errors.Is(err, domain.ErrEventIgnored) {
			s.log.Debug("provider event ignored",
				zap.String("provider", provider),
			)
			return domain.Outcome{Accepted: true}, nil
		}
		return domain.Outcome{}, err
	}
	event.Provider = provider

	return s.payments.ProcessEvent(ctx, event)
}
