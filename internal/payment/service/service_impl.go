package service

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/smallbiznis/dripflow/internal/audit/domain"
	"github.com/smallbiznis/dripflow/internal/auditcontext"
	"github.com/smallbiznis/dripflow/internal/clock"
	dispatchdomain "github.com/smallbiznis/dripflow/internal/dispatch/domain"
	"github.com/smallbiznis/dripflow/internal/observability/metrics"
	"github.com/smallbiznis/dripflow/internal/payment/domain"
	"github.com/smallbiznis/dripflow/internal/payment/idempotency"
	"github.com/smallbiznis/dripflow/internal/payment/pricing"
	subscriberdomain "github.com/smallbiznis/dripflow/internal/subscriber/domain"
	"github.com/smallbiznis/dripflow/pkg/telemetry/correlation"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB          *gorm.DB
	Log         *zap.Logger
	Clock       clock.Clock
	GenID       *snowflake.Node
	Repo        domain.Repository
	Guard       *idempotency.Guard
	Auditor     *pricing.Auditor
	Subscribers subscriberdomain.Repository
	Dispatch    dispatchdomain.Service
	Audit       auditdomain.Service
	Metrics     *metrics.Metrics
}

// Service reconciles canonical payment events against the ledger and drives
// the downstream effects of a confirmed payment.
type Service struct {
	db          *gorm.DB
	log         *zap.Logger
	clock       clock.Clock
	genID       *snowflake.Node
	repo        domain.Repository
	guard       *idempotency.Guard
	auditor     *pricing.Auditor
	subscribers subscriberdomain.Repository
	dispatch    dispatchdomain.Service
	audit       auditdomain.Service
	metrics     *metrics.Metrics
}

func NewService(p Params) domain.Service {
	return &Service{
		db:          p.DB,
		log:         p.Log.Named("payment.service"),
		clock:       p.Clock,
		genID:       p.GenID,
		repo:        p.Repo,
		guard:       p.Guard,
		auditor:     p.Auditor,
		subscribers: p.Subscribers,
		dispatch:    p.Dispatch,
		audit:       p.Audit,
		metrics:     p.Metrics,
	}
}

// ProcessEvent settles one canonical payment event: duplicate screening, price
// audit, ledger append, and for confirmed payments the subscriber flip and
// conversion fan-out. Duplicates are a silent success so provider retries get
// a clean 200.
func (s *Service) ProcessEvent(ctx context.Context, event *domain.PaymentEvent) (domain.Outcome, error) {
	if event == nil {
		return domain.Outcome{}, domain.ErrInvalidEvent
	}
	if err := validate(event); err != nil {
		s.metrics.RecordFunnelEvent(event.Provider, string(event.Status), "invalid")
		return domain.Outcome{}, err
	}
	ctx = auditcontext.WithSubscriberID(ctx, event.SubscriberID)
	ctx = auditcontext.WithTransactionID(ctx, event.TransactionID)

	if event.Status == domain.StatusExpired {
		return s.processExpired(ctx, event)
	}

	kind, ok := event.Kind()
	if !ok {
		return domain.Outcome{}, domain.ErrInvalidEvent
	}

	verdict, err := s.guard.CheckAndReserve(ctx, kind, event.TransactionID, event.SubscriberID)
	if err != nil {
		return domain.Outcome{}, err
	}
	recreated := verdict.Duplicate && verdict.Expired && kind == domain.KindChargeCreated
	if verdict.Duplicate && !recreated {
		tier := "ledger"
		if verdict.Existing == nil {
			tier = "cache"
		}
		s.metrics.RecordDuplicateEvent(string(kind), tier)
		s.metrics.RecordFunnelEvent(event.Provider, string(kind), "duplicate")
		s.log.Info("duplicate event ignored",
			zap.String("kind", string(kind)),
			zap.String("transaction_id", event.TransactionID),
			zap.String("guard_tier", tier),
		)
		return domain.Outcome{Accepted: true, Duplicate: true}, nil
	}

	priceResult := s.auditPrice(ctx, kind, event)

	meta := map[string]any{}
	for k, v := range event.PayerMeta {
		meta[k] = v
	}
	if recreated {
		// The original pending charge aged out; the gateway reissued the
		// transaction id and this creation is authoritative again.
		meta["recreated"] = true
		s.audit.Record(ctx, auditdomain.LevelInfo, "payment.charge_recreated", auditdomain.Fields{
			SubscriberID:  event.SubscriberID,
			TransactionID: event.TransactionID,
			Details: map[string]any{
				"provider":     event.Provider,
				"amount_cents": event.AmountCents,
			},
		})
	}

	if kind == domain.KindChargePaid {
		if err := s.annotatePaid(ctx, event, meta); err != nil {
			return domain.Outcome{}, err
		}
	}

	inserted, err := s.appendLedger(ctx, kind, event, meta)
	if err != nil {
		return domain.Outcome{}, err
	}
	if !inserted && !recreated {
		// Lost an append race to a concurrent delivery of the same event.
		s.metrics.RecordDuplicateEvent(string(kind), "ledger")
		s.metrics.RecordFunnelEvent(event.Provider, string(kind), "duplicate")
		return domain.Outcome{Accepted: true, Duplicate: true}, nil
	}

	if kind == domain.KindChargePaid {
		if err := s.settlePaid(ctx, event, priceResult); err != nil {
			return domain.Outcome{}, err
		}
	}

	s.guard.Remember(kind, event.TransactionID, event.SubscriberID)
	s.metrics.RecordFunnelEvent(event.Provider, string(kind), "accepted")
	return domain.Outcome{Accepted: true}, nil
}

// RecordOfferShown appends an offer_shown baseline for the subscriber and
// tier. Each show gets its own synthetic transaction id, so the ledger keeps
// the full history and the price auditor always compares against the latest.
func (s *Service) RecordOfferShown(ctx context.Context, subscriberID, tier string, amountCents int64) error {
	subscriberID = strings.TrimSpace(subscriberID)
	tier = strings.TrimSpace(tier)
	if subscriberID == "" || tier == "" || amountCents <= 0 {
		return domain.ErrInvalidEvent
	}

	now := s.clock.Now()
	id := s.genID.Generate()
	record := &domain.EventRecord{
		ID:            id,
		Kind:          domain.KindOfferShown,
		TransactionID: "shown-" + id.String(),
		SubscriberID:  subscriberID,
		Tier:          tier,
		AmountCents:   amountCents,
		Currency:      "BRL",
		CorrelationID: correlation.ExtractCorrelationID(ctx),
		OccurredAt:    now,
		RecordedAt:    now,
	}
	if _, err := s.repo.Append(ctx, s.db, record); err != nil {
		return err
	}
	s.metrics.RecordFunnelEvent("funnel", string(domain.KindOfferShown), "accepted")
	return nil
}

func validate(event *domain.PaymentEvent) error {
	if event == nil {
		return domain.ErrInvalidEvent
	}
	if strings.TrimSpace(event.TransactionID) == "" || strings.TrimSpace(event.SubscriberID) == "" {
		return domain.ErrInvalidEvent
	}
	switch event.Status {
	case domain.StatusCreated, domain.StatusPaid, domain.StatusExpired:
	default:
		return domain.ErrInvalidEvent
	}
	if event.Status != domain.StatusExpired && event.AmountCents <= 0 {
		return domain.ErrInvalidEvent
	}
	return nil
}

// processExpired handles gateway expirations. Nothing is appended: expiry
// carries no ledger kind, it only frees the transaction id for re-creation
// once the validity window of the original charge_created lapses.
func (s *Service) processExpired(ctx context.Context, event *domain.PaymentEvent) (domain.Outcome, error) {
	s.audit.Record(ctx, auditdomain.LevelInfo, "payment.charge_expired", auditdomain.Fields{
		SubscriberID:  event.SubscriberID,
		TransactionID: event.TransactionID,
		Details: map[string]any{
			"provider": event.Provider,
		},
	})
	s.metrics.RecordFunnelEvent(event.Provider, string(domain.StatusExpired), "accepted")
	return domain.Outcome{Accepted: true}, nil
}

// auditPrice runs the advisory price check. Divergence never blocks the
// event; it raises an audit entry and a metric for the operator.
func (s *Service) auditPrice(ctx context.Context, kind domain.EventKind, event *domain.PaymentEvent) pricing.Result {
	if event.Tier == "" || event.AmountCents <= 0 {
		return pricing.Result{Consistent: true, NoBaseline: true}
	}
	result, err := s.auditor.Audit(ctx, event.SubscriberID, event.Tier, event.AmountCents)
	if err != nil {
		return pricing.Result{Consistent: true, NoBaseline: true}
	}
	if !result.Consistent {
		s.metrics.RecordPriceDivergence(string(kind))
		s.audit.Record(ctx, auditdomain.LevelWarning, "payment.price_divergence", auditdomain.Fields{
			SubscriberID:  event.SubscriberID,
			TransactionID: event.TransactionID,
			Details: map[string]any{
				"tier":         event.Tier,
				"shown_cents":  result.ShownCents,
				"actual_cents": event.AmountCents,
				"delta_cents":  result.DeltaCents,
				"delta_pct":    result.DeltaPct,
			},
		})
	}
	return result
}

// annotatePaid cross-checks a charge_paid against its charge_created. A paid
// event with no prior creation is an orphan: suspicious but money arrived, so
// it stays valid and only gets flagged. A paid landing after the creation
// window expired is honored too; the gateway's word is final on settled money.
func (s *Service) annotatePaid(ctx context.Context, event *domain.PaymentEvent, meta map[string]any) error {
	created, err := s.repo.FindByTransaction(ctx, s.db, domain.KindChargeCreated, event.TransactionID)
	if err != nil {
		return err
	}
	switch {
	case created == nil:
		meta["orphan"] = true
		s.audit.Record(ctx, auditdomain.LevelWarning, "payment.orphan_paid", auditdomain.Fields{
			SubscriberID:  event.SubscriberID,
			TransactionID: event.TransactionID,
			Details: map[string]any{
				"provider":     event.Provider,
				"amount_cents": event.AmountCents,
			},
		})
	case s.clock.Now().Sub(created.OccurredAt) > domain.ChargeCreatedValidity:
		meta["created_expired"] = true
	}
	return nil
}

func (s *Service) appendLedger(ctx context.Context, kind domain.EventKind, event *domain.PaymentEvent, meta map[string]any) (bool, error) {
	var metadata datatypes.JSON
	if len(meta) > 0 {
		raw, err := json.Marshal(meta)
		if err != nil {
			return false, err
		}
		metadata = datatypes.JSON(raw)
	}

	occurredAt := event.OccurredAt
	if occurredAt.IsZero() {
		occurredAt = s.clock.Now()
	}
	return s.repo.Append(ctx, s.db, &domain.EventRecord{
		ID:            s.genID.Generate(),
		Kind:          kind,
		TransactionID: event.TransactionID,
		SubscriberID:  event.SubscriberID,
		Provider:      event.Provider,
		AmountCents:   event.AmountCents,
		Currency:      currencyOrDefault(event.Currency),
		Tier:          event.Tier,
		CorrelationID: correlation.ExtractCorrelationID(ctx),
		Metadata:      metadata,
		OccurredAt:    occurredAt,
		RecordedAt:    s.clock.Now(),
	})
}

// settlePaid flips the subscriber and fans the conversion out to the tracking
// sinks. MarkPaid is a guarded update: whoever got there first wins and a
// second paid for the same subscriber changes nothing.
func (s *Service) settlePaid(ctx context.Context, event *domain.PaymentEvent, priceResult pricing.Result) error {
	now := s.clock.Now()

	// The contact may have paid from a link that never hit the enroll path.
	if _, err := s.subscribers.Ensure(ctx, s.db, &subscriberdomain.Subscriber{
		ID:        event.SubscriberID,
		Tier:      event.Tier,
		CreatedAt: now,
		UpdatedAt: now,
	}); err != nil {
		return err
	}

	paidAt := event.OccurredAt
	if paidAt.IsZero() {
		paidAt = now
	}
	flipped, err := s.subscribers.MarkPaid(ctx, s.db, event.SubscriberID, paidAt)
	if err != nil {
		return err
	}
	if !flipped {
		s.log.Info("subscriber already paid, skipping fan-out",
			zap.String("subscriber_id", event.SubscriberID),
			zap.String("transaction_id", event.TransactionID),
		)
	}

	sub, err := s.subscribers.Get(ctx, s.db, event.SubscriberID)
	if err != nil {
		return err
	}
	conv := &dispatchdomain.PaidConversion{
		TransactionID: event.TransactionID,
		SubscriberID:  event.SubscriberID,
		Tier:          event.Tier,
		Provider:      event.Provider,
		AmountCents:   event.AmountCents,
		Currency:      currencyOrDefault(event.Currency),
		PaidAt:        paidAt,
	}
	if sub != nil {
		conv.UTMSource = sub.UTMSource
		conv.UTMCampaign = sub.UTMCampaign
		if conv.Tier == "" {
			conv.Tier = sub.Tier
		}
	}
	if err := s.dispatch.Dispatch(ctx, conv); err != nil {
		// The jobs that did enqueue will deliver; the rest are retried by the
		// scheduler once the insert succeeds on a later delivery.
		s.log.Warn("conversion fan-out partially failed",
			zap.String("transaction_id", event.TransactionID),
			zap.Error(err),
		)
	}

	details := map[string]any{
		"provider":     event.Provider,
		"amount_cents": event.AmountCents,
		"currency":     currencyOrDefault(event.Currency),
		"tier":         conv.Tier,
	}
	if !priceResult.Consistent {
		details["price_divergence_pct"] = priceResult.DeltaPct
	}
	s.audit.Record(ctx, auditdomain.LevelInfo, "payment.charge_paid", auditdomain.Fields{
		SubscriberID:  event.SubscriberID,
		TransactionID: event.TransactionID,
		Details:       details,
	})
	return nil
}

func currencyOrDefault(currency string) string {
	currency = strings.ToUpper(strings.TrimSpace(currency))
	if currency == "" {
		return "BRL"
	}
	return currency
}

var _ domain.Service = (*Service)(nil)
