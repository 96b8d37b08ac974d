package service

import (
	"context"
	"strings"

	auditdomain "github.com/smallbiznis/dripflow/internal/audit/domain"
	"github.com/smallbiznis/dripflow/internal/clock"
	"github.com/smallbiznis/dripflow/internal/subscriber/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	Clock clock.Clock
	Repo  domain.Repository
	Audit auditdomain.Service
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	clock clock.Clock
	repo  domain.Repository
	audit auditdomain.Service
}

func NewService(p Params) domain.Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("subscriber.service"),
		clock: p.Clock,
		repo:  p.Repo,
		audit: p.Audit,
	}
}

// Enroll registers the chat contact at drip step zero. Re-enrolling an
// existing subscriber is a no-op that returns the current row.
func (s *Service) Enroll(ctx context.Context, id, tier, utmSource, utmCampaign string) (*domain.Subscriber, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, domain.ErrSubscriberNotFound
	}

	now := s.clock.Now()
	created, err := s.repo.Ensure(ctx, s.db, &domain.Subscriber{
		ID:          id,
		Tier:        strings.TrimSpace(tier),
		UTMSource:   strings.TrimSpace(utmSource),
		UTMCampaign: strings.TrimSpace(utmCampaign),
		CreatedAt:   now,
		UpdatedAt:   now,
	})
	if err != nil {
		return nil, err
	}
	if created {
		s.audit.Record(ctx, auditdomain.LevelInfo, "subscriber.enrolled", auditdomain.Fields{
			SubscriberID: id,
			Details: map[string]any{
				"tier":         tier,
				"utm_source":   utmSource,
				"utm_campaign": utmCampaign,
			},
		})
	}
	return s.repo.Get(ctx, s.db, id)
}

func (s *Service) Status(ctx context.Context, id string) (*domain.Status, error) {
	sub, err := s.repo.Get(ctx, s.db, strings.TrimSpace(id))
	if err != nil {
		return nil, err
	}
	if sub == nil {
		return nil, domain.ErrSubscriberNotFound
	}
	return &domain.Status{
		SubscriberID: sub.ID,
		Tier:         sub.Tier,
		Paid:         sub.Paid,
		DripStep:     sub.DripStep,
		PaidAt:       sub.PaidAt,
		LastTouchAt:  sub.LastTouchAt,
	}, nil
}

// Reset re-arms the subscriber for another funnel pass. Testing affordance;
// production funnels never call this.
func (s *Service) Reset(ctx context.Context, id string) error {
	id = strings.TrimSpace(id)
	if err := s.repo.Reset(ctx, s.db, id); err != nil {
		return err
	}
	s.audit.Record(ctx, auditdomain.LevelInfo, "subscriber.reset", auditdomain.Fields{
		SubscriberID: id,
	})
	return nil
}
