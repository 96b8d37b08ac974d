package pricing

import (
	"context"
	"math"

	"github.com/smallbiznis/dripflow/internal/payment/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// divergenceThresholdPct is the advisory tolerance: a charge differing from
// the shown price by strictly more than this percentage is flagged.
const divergenceThresholdPct = 1.0

// Result is the advisory price-consistency verdict.
type Result struct {
	Consistent bool
	ShownCents int64
	DeltaCents int64
	DeltaPct   float64
	// NoBaseline means no offer_shown existed for the subscriber and tier, so
	// there was nothing to compare against.
	NoBaseline bool
}

type Params struct {
	fx.In

	DB   *gorm.DB
	Log  *zap.Logger
	Repo domain.Repository
}

// Auditor compares charged amounts against the last shown offer. It is
// advisory only: it never blocks the payment path.
type Auditor struct {
	db   *gorm.DB
	log  *zap.Logger
	repo domain.Repository
}

func NewAuditor(p Params) *Auditor {
	return &Auditor{
		db:   p.DB,
		log:  p.Log.Named("payment.pricing"),
		repo: p.Repo,
	}
}

// Audit checks actualCents against the last offer_shown baseline for the
// subscriber and tier. Ledger read failures degrade to a consistent verdict.
func (a *Auditor) Audit(ctx context.Context, subscriberID, tier string, actualCents int64) (Result, error) {
	baseline, err := a.repo.FindLastOfferShown(ctx, a.db, subscriberID, tier)
	if err != nil {
		a.log.Warn("price baseline lookup failed, skipping audit",
			zap.String("subscriber_id", subscriberID),
			zap.String("tier", tier),
			zap.Error(err),
		)
		return Result{Consistent: true, NoBaseline: true}, nil
	}
	if baseline == nil || baseline.AmountCents <= 0 {
		a.log.Info("no price baseline for charge",
			zap.String("subscriber_id", subscriberID),
			zap.String("tier", tier),
			zap.Int64("actual_cents", actualCents),
		)
		return Result{Consistent: true, NoBaseline: true}, nil
	}

	delta := actualCents - baseline.AmountCents
	pct := math.Abs(float64(delta)) / float64(baseline.AmountCents) * 100

	return Result{
		Consistent: pct <= divergenceThresholdPct,
		ShownCents: baseline.AmountCents,
		DeltaCents: delta,
		DeltaPct:   pct,
	}, nil
}
