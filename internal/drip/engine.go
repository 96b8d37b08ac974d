package drip

import (
	"context"
	"errors"
	"fmt"
	"time"

	auditdomain "github.com/smallbiznis/dripflow/internal/audit/domain"
	"github.com/smallbiznis/dripflow/internal/catalog"
	"github.com/smallbiznis/dripflow/internal/clock"
	"github.com/smallbiznis/dripflow/internal/config"
	"github.com/smallbiznis/dripflow/internal/observability/metrics"
	paymentdomain "github.com/smallbiznis/dripflow/internal/payment/domain"
	"github.com/smallbiznis/dripflow/internal/providers/messenger"
	subscriberdomain "github.com/smallbiznis/dripflow/internal/subscriber/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB          *gorm.DB
	Log         *zap.Logger
	Clock       clock.Clock
	Config      config.Config
	Catalog     *catalog.Catalog
	Subscribers subscriberdomain.Repository
	Messenger   messenger.Provider
	Payments    paymentdomain.Service
	Audit       auditdomain.Service
	Metrics     *metrics.Metrics
}

// Engine walks unpaid subscribers through their tier's drip sequence. Each
// tick claims a batch, sends the next step to everyone whose delay has
// elapsed, and advances the step pointer under a guarded update so concurrent
// workers and racing payments never double-send.
type Engine struct {
	db          *gorm.DB
	log         *zap.Logger
	clock       clock.Clock
	catalog     *catalog.Catalog
	loc         *time.Location
	batchSize   int
	subscribers subscriberdomain.Repository
	messenger   messenger.Provider
	payments    paymentdomain.Service
	audit       auditdomain.Service
	metrics     *metrics.Metrics
}

func NewEngine(p Params) *Engine {
	batchSize := p.Config.Drip.BatchSize
	if batchSize <= 0 {
		batchSize = 50
	}
	return &Engine{
		db:          p.DB,
		log:         p.Log.Named("drip.engine"),
		clock:       p.Clock,
		catalog:     p.Catalog,
		loc:         p.Config.BusinessLocation(),
		batchSize:   batchSize,
		subscribers: p.Subscribers,
		messenger:   p.Messenger,
		payments:    p.Payments,
		audit:       p.Audit,
		metrics:     p.Metrics,
	}
}

// RunOnce processes one batch of due subscribers. It returns how many were
// sent a step; per-subscriber failures are joined so one bad contact never
// hides the rest of the batch.
func (e *Engine) RunOnce(ctx context.Context) (int, error) {
	now := e.clock.Now()

	var due []*subscriberdomain.Subscriber
	err := e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var txErr error
		due, txErr = e.subscribers.ClaimDue(ctx, tx, now, e.batchSize)
		return txErr
	})
	if err != nil {
		return 0, err
	}
	if len(due) == 0 {
		return 0, nil
	}

	var sent int
	var errs []error
	for _, sub := range due {
		ok, err := e.processSubscriber(ctx, sub, now)
		if err != nil {
			errs = append(errs, fmt.Errorf("subscriber %s: %w", sub.ID, err))
		}
		if ok {
			sent++
		}
	}
	return sent, errors.Join(errs...)
}

func (e *Engine) processSubscriber(ctx context.Context, sub *subscriberdomain.Subscriber, now time.Time) (bool, error) {
	tier, err := e.catalog.TierByName(sub.Tier)
	if err != nil {
		// Tier removed from the funnel file; park the row until an operator
		// fixes the catalog or resets the subscriber.
		e.metrics.RecordDripSend("unknown_tier")
		return false, e.subscribers.Touch(ctx, e.db, sub.ID, now)
	}

	step, ok := tier.Step(sub.DripStep)
	if !ok {
		// Sequence exhausted without a payment. Touching keeps the row from
		// being reclaimed every tick.
		e.metrics.RecordDripSend("exhausted")
		return false, e.subscribers.Touch(ctx, e.db, sub.ID, now)
	}

	if !e.stepDue(sub, step, now) {
		return false, nil
	}
	if !step.SendWindow.Contains(now.In(e.loc)) {
		// Outside the step's local send window; the next tick inside it
		// picks the subscriber up again.
		return false, nil
	}

	// The claim read committed state, but a payment webhook may have landed
	// since. Re-check right before sending.
	fresh, err := e.subscribers.Get(ctx, e.db, sub.ID)
	if err != nil {
		return false, err
	}
	if fresh == nil || fresh.Paid || fresh.DripStep != sub.DripStep {
		return false, nil
	}

	media := make([]messenger.Attachment, 0, len(step.MediaPlan))
	for _, kind := range step.MediaPlan {
		media = append(media, messenger.Attachment{Kind: kind, Ref: step.MediaRef})
	}
	sendErr := e.messenger.Send(ctx, sub.ID, messenger.Message{
		Copy:  step.Copy,
		Media: media,
	})

	switch {
	case sendErr == nil:
		e.metrics.RecordDripSend("sent")
	case messenger.IsPermanent(sendErr):
		// The chat is gone. Advance anyway so the dead contact drains out of
		// the batch instead of blocking it forever.
		e.metrics.RecordDripSend("permanent_failure")
		e.audit.Record(ctx, auditdomain.LevelWarning, "drip.send_failed", auditdomain.Fields{
			SubscriberID: sub.ID,
			Details: map[string]any{
				"step":      sub.DripStep,
				"tier":      sub.Tier,
				"error":     sendErr.Error(),
				"permanent": true,
			},
		})
	default:
		// Transient failure leaves the step pointer alone; the next tick
		// retries the same step.
		e.metrics.RecordDripSend("transient_failure")
		return false, sendErr
	}

	advanced, err := e.subscribers.AdvanceStep(ctx, e.db, sub.ID, sub.DripStep, now)
	if err != nil {
		return false, err
	}
	if !advanced {
		// Lost the guarded update: either a payment landed mid-send or
		// another worker advanced first. The send may duplicate once; the
		// funnel tolerates that over wedging the pointer.
		e.log.Info("step advance lost its guard",
			zap.String("subscriber_id", sub.ID),
			zap.Int("step", sub.DripStep),
		)
		return sendErr == nil, nil
	}

	if sendErr == nil && step.DiscountCents > 0 {
		offerCents := tier.PriceCents - step.DiscountCents
		if offerCents > 0 {
			if err := e.payments.RecordOfferShown(ctx, sub.ID, tier.Name, offerCents); err != nil {
				e.log.Warn("failed to record shown offer",
					zap.String("subscriber_id", sub.ID),
					zap.Error(err),
				)
			}
		}
	}
	return sendErr == nil, nil
}

// stepDue checks the step's own delay against the last touch. A never-touched
// subscriber measures from enrollment.
func (e *Engine) stepDue(sub *subscriberdomain.Subscriber, step catalog.DripStep, now time.Time) bool {
	since := sub.CreatedAt
	if sub.LastTouchAt != nil {
		since = *sub.LastTouchAt
	}
	return now.Sub(since) >= step.Delay
}
