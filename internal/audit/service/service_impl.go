package service

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/smallbiznis/dripflow/internal/audit/domain"
	auditcontext "github.com/smallbiznis/dripflow/internal/auditcontext"
	"github.com/smallbiznis/dripflow/internal/clock"
	"github.com/smallbiznis/dripflow/internal/config"
	"github.com/smallbiznis/dripflow/pkg/telemetry/correlation"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB     *gorm.DB
	Log    *zap.Logger
	Config config.Config
	Clock  clock.Clock
	GenID  *snowflake.Node
	Repo   auditdomain.Repository
}

type Service struct {
	db       *gorm.DB
	log      *zap.Logger
	clock    clock.Clock
	genID    *snowflake.Node
	repo     auditdomain.Repository
	location *time.Location
}

func NewService(p Params) auditdomain.Service {
	return &Service{
		db:       p.DB,
		log:      p.Log.Named("audit.service"),
		clock:    p.Clock,
		genID:    p.GenID,
		repo:     p.Repo,
		location: p.Config.BusinessLocation(),
	}
}

// Record writes one flat audit record. Insert failures are logged and
// swallowed: the audit trail must never abort a payment or drip flow.
func (s *Service) Record(ctx context.Context, level auditdomain.Level, eventName string, fields auditdomain.Fields) {
	eventName = strings.TrimSpace(eventName)
	if eventName == "" {
		s.log.Warn("dropping audit record without event name")
		return
	}
	if level == "" {
		level = auditdomain.LevelInfo
	}

	details := map[string]any{}
	for key, value := range fields.Details {
		if key == "" {
			continue
		}
		details[key] = value
	}

	actorType, actorID := auditcontext.ActorFromContext(ctx)
	utmSource, utmCampaign := auditcontext.CampaignFromContext(ctx)

	correlationID := correlation.ExtractCorrelationID(ctx)
	if correlationID == "" {
		correlationID = auditcontext.RequestIDFromContext(ctx)
	}

	subscriberID := strings.TrimSpace(fields.SubscriberID)
	if subscriberID == "" {
		subscriberID = auditcontext.SubscriberIDFromContext(ctx)
	}
	transactionID := strings.TrimSpace(fields.TransactionID)
	if transactionID == "" {
		transactionID = auditcontext.TransactionIDFromContext(ctx)
	}

	now := s.clock.Now()
	entry := auditdomain.AuditLog{
		ID:            s.genID.Generate(),
		EventName:     eventName,
		Level:         string(level),
		SubscriberID:  subscriberID,
		TransactionID: transactionID,
		CorrelationID: correlationID,
		ActorType:     actorType,
		ActorID:       actorID,
		IPAddress:     auditcontext.IPAddressFromContext(ctx),
		UserAgent:     auditcontext.UserAgentFromContext(ctx),
		UTMSource:     utmSource,
		UTMCampaign:   utmCampaign,
		Details:       datatypes.JSONMap(details),
		LoggedAt:      now.In(s.location),
		CreatedAt:     now,
	}

	if err := s.repo.Insert(ctx, s.db, &entry); err != nil {
		s.log.Warn("failed to write audit log",
			zap.String("event_name", eventName),
			zap.Error(err),
		)
	}
}

func (s *Service) List(ctx context.Context, filter auditdomain.ListFilter) ([]*auditdomain.AuditLog, error) {
	if filter.Limit <= 0 {
		filter.Limit = 50
	}
	if filter.Limit > 250 {
		filter.Limit = 250
	}
	return s.repo.List(ctx, s.db, filter)
}
