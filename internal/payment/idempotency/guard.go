package idempotency

import (
	"context"
	"fmt"
	"time"

	"github.com/smallbiznis/dripflow/internal/cache"
	"github.com/smallbiznis/dripflow/internal/clock"
	"github.com/smallbiznis/dripflow/internal/payment/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	cacheTTL      = 5 * time.Minute
	cacheCapacity = 10_000
)

// Verdict is the guard's answer for one inbound event.
type Verdict struct {
	// Duplicate means an authoritative record for (kind, transaction_id)
	// already exists and the event must not be re-processed.
	Duplicate bool
	// Expired qualifies a duplicate charge_created whose validity window has
	// lapsed: the transaction id is legitimately re-creatable.
	Expired bool
	// Existing is the ledger row backing the verdict, when one was read.
	Existing *domain.EventRecord
}

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	Clock clock.Clock
	Repo  domain.Repository
}

// Guard is the two-tier idempotency check: a bounded TTL cache of recently
// accepted events in front of the authoritative ledger. The cache only ever
// short-circuits positively identified duplicates; a miss always consults
// the ledger.
type Guard struct {
	db    *gorm.DB
	log   *zap.Logger
	clock clock.Clock
	repo  domain.Repository
	seen  cache.Cache[string, time.Time]
}

func NewGuard(p Params) *Guard {
	return &Guard{
		db:    p.DB,
		log:   p.Log.Named("payment.idempotency"),
		clock: p.Clock,
		repo:  p.Repo,
		seen:  cache.NewBoundedTTLCache[string, time.Time](cacheCapacity),
	}
}

// CheckAndReserve decides whether the event is a duplicate. Storage errors
// fail closed for charge_paid (money must never double-process) and fail open
// for everything else (advisory kinds degrade to ledger-only safety).
func (g *Guard) CheckAndReserve(ctx context.Context, kind domain.EventKind, transactionID, subscriberID string) (Verdict, error) {
	key := cacheKey(kind, transactionID, subscriberID)
	if rememberedAt, hit := g.seen.Get(key); hit {
		// The cache tier keeps its own wall-clock TTL; re-check against the
		// injected clock so the window stays testable.
		if g.clock.Now().Sub(rememberedAt) < cacheTTL {
			return Verdict{Duplicate: true}, nil
		}
		g.seen.Delete(key)
	}

	existing, err := g.repo.FindByTransaction(ctx, g.db, kind, transactionID)
	if err != nil {
		if kind == domain.KindChargePaid {
			return Verdict{}, err
		}
		g.log.Warn("idempotency ledger read failed, allowing event through",
			zap.String("kind", string(kind)),
			zap.String("transaction_id", transactionID),
			zap.Error(err),
		)
		return Verdict{}, nil
	}
	if existing == nil {
		return Verdict{}, nil
	}

	verdict := Verdict{Duplicate: true, Existing: existing}
	if kind == domain.KindChargeCreated {
		age := g.clock.Now().Sub(existing.OccurredAt)
		if age > domain.ChargeCreatedValidity {
			verdict.Expired = true
		}
	}
	return verdict, nil
}

// Remember records an accepted event in the cache tier. The ledger row is the
// durable record; this only spares the next replay a round trip.
func (g *Guard) Remember(kind domain.EventKind, transactionID, subscriberID string) {
	g.seen.Set(cacheKey(kind, transactionID, subscriberID), g.clock.Now(), cacheTTL)
}

func cacheKey(kind domain.EventKind, transactionID, subscriberID string) string {
	return fmt.Sprintf("%s|%s|%s", kind, transactionID, subscriberID)
}
