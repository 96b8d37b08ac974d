package drip

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	auditdomain "github.com/smallbiznis/dripflow/internal/audit/domain"
	"github.com/smallbiznis/dripflow/internal/catalog"
	"github.com/smallbiznis/dripflow/internal/clock"
	"github.com/smallbiznis/dripflow/internal/config"
	paymentdomain "github.com/smallbiznis/dripflow/internal/payment/domain"
	"github.com/smallbiznis/dripflow/internal/providers/messenger"
	subscriberdomain "github.com/smallbiznis/dripflow/internal/subscriber/domain"
	subscriberrepo "github.com/smallbiznis/dripflow/internal/subscriber/repository"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type fakeMessenger struct {
	sends []string
	errs  map[string]error
}

func (m *fakeMessenger) Send(ctx context.Context, subscriberID string, msg messenger.Message) error {
	m.sends = append(m.sends, subscriberID)
	return m.errs[subscriberID]
}

type fakePayments struct {
	offers []int64
}

func (p *fakePayments) ProcessEvent(ctx context.Context, event *paymentdomain.PaymentEvent) (paymentdomain.Outcome, error) {
	return paymentdomain.Outcome{}, errors.New("not used")
}

func (p *fakePayments) RecordOfferShown(ctx context.Context, subscriberID, tier string, amountCents int64) error {
	p.offers = append(p.offers, amountCents)
	return nil
}

type fakeAudit struct {
	events []string
}

func (a *fakeAudit) Record(ctx context.Context, level auditdomain.Level, eventName string, fields auditdomain.Fields) {
	a.events = append(a.events, eventName)
}

func (a *fakeAudit) List(ctx context.Context, filter auditdomain.ListFilter) ([]*auditdomain.AuditLog, error) {
	return nil, nil
}

func testCatalog() *catalog.Catalog {
	return &catalog.Catalog{
		Tiers: []catalog.Tier{
			{
				Name:       "vip",
				PriceCents: 1990,
				Currency:   "BRL",
				DripSteps: []catalog.DripStep{
					{Copy: "welcome", MediaPlan: []catalog.MediaKind{catalog.MediaKindVideo}, MediaRef: "intro.mp4", Delay: time.Hour},
					{Copy: "last chance", Delay: 2 * time.Hour, DiscountCents: 200},
				},
			},
		},
	}
}

type engineFixture struct {
	engine    *Engine
	db        *gorm.DB
	fc        *clock.FakeClock
	messenger *fakeMessenger
	payments  *fakePayments
	audit     *fakeAudit
	repo      subscriberdomain.Repository
}

func newEngineFixture(t *testing.T) *engineFixture {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "drip.db")), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&subscriberdomain.Subscriber{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	fc := clock.NewFakeClock(time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC))
	msgr := &fakeMessenger{errs: map[string]error{}}
	payments := &fakePayments{}
	audit := &fakeAudit{}
	repo := subscriberrepo.Provide()

	cfg := config.Config{}
	cfg.Drip.BatchSize = 10

	engine := NewEngine(Params{
		DB:          db,
		Log:         zap.NewNop(),
		Clock:       fc,
		Config:      cfg,
		Catalog:     testCatalog(),
		Subscribers: repo,
		Messenger:   msgr,
		Payments:    payments,
		Audit:       audit,
	})
	return &engineFixture{engine: engine, db: db, fc: fc, messenger: msgr, payments: payments, audit: audit, repo: repo}
}

func (f *engineFixture) enroll(t *testing.T, id string) {
	t.Helper()
	now := f.fc.Now()
	if _, err := f.repo.Ensure(context.Background(), f.db, &subscriberdomain.Subscriber{
		ID:        id,
		Tier:      "vip",
		CreatedAt: now,
		UpdatedAt: now,
	}); err != nil {
		t.Fatalf("ensure: %v", err)
	}
}

func (f *engineFixture) step(t *testing.T, id string) int {
	t.Helper()
	sub, err := f.repo.Get(context.Background(), f.db, id)
	if err != nil || sub == nil {
		t.Fatalf("get %s: %v", id, err)
	}
	return sub.DripStep
}

func TestRunOnceSendsDueStep(t *testing.T) {
	f := newEngineFixture(t)
	f.enroll(t, "sub-1")

	// Step zero waits an hour after enrollment.
	sent, err := f.engine.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if sent != 0 || len(f.messenger.sends) != 0 {
		t.Fatalf("nothing is due yet, sent=%d", sent)
	}

	f.fc.Advance(time.Hour)
	sent, err = f.engine.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if sent != 1 {
		t.Fatalf("expected 1 send, got %d", sent)
	}
	if f.step(t, "sub-1") != 1 {
		t.Fatalf("step must advance to 1, got %d", f.step(t, "sub-1"))
	}
}

func TestDiscountStepRecordsOffer(t *testing.T) {
	f := newEngineFixture(t)
	f.enroll(t, "sub-1")

	f.fc.Advance(time.Hour)
	if _, err := f.engine.RunOnce(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}
	f.fc.Advance(2 * time.Hour)
	if _, err := f.engine.RunOnce(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}

	if len(f.payments.offers) != 1 || f.payments.offers[0] != 1790 {
		t.Fatalf("discount step must record the discounted price, got %v", f.payments.offers)
	}
}

func TestPaidSubscriberIsNeverTouched(t *testing.T) {
	f := newEngineFixture(t)
	f.enroll(t, "sub-1")

	if _, err := f.repo.MarkPaid(context.Background(), f.db, "sub-1", f.fc.Now()); err != nil {
		t.Fatalf("mark paid: %v", err)
	}

	f.fc.Advance(2 * time.Hour)
	sent, err := f.engine.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if sent != 0 || len(f.messenger.sends) != 0 {
		t.Fatal("paid subscribers must not receive drip sends")
	}
}

func TestPermanentFailureAdvancesAnyway(t *testing.T) {
	f := newEngineFixture(t)
	f.enroll(t, "sub-1")
	f.messenger.errs["sub-1"] = messenger.Permanentf("blocked")

	f.fc.Advance(time.Hour)
	sent, err := f.engine.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if sent != 0 {
		t.Fatalf("a failed send must not count, got %d", sent)
	}
	if f.step(t, "sub-1") != 1 {
		t.Fatal("permanent failure must advance so the dead chat drains out")
	}
	if len(f.audit.events) != 1 || f.audit.events[0] != "drip.send_failed" {
		t.Fatalf("expected drip.send_failed audit, got %v", f.audit.events)
	}
}

func TestTransientFailureRetriesSameStep(t *testing.T) {
	f := newEngineFixture(t)
	f.enroll(t, "sub-1")
	f.messenger.errs["sub-1"] = errors.New("platform down")

	f.fc.Advance(time.Hour)
	_, err := f.engine.RunOnce(context.Background())
	if err == nil {
		t.Fatal("transient failure must surface")
	}
	if f.step(t, "sub-1") != 0 {
		t.Fatal("transient failure must leave the step pointer alone")
	}

	// Next tick retries the same step.
	delete(f.messenger.errs, "sub-1")
	sent, err := f.engine.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("retry run: %v", err)
	}
	if sent != 1 || f.step(t, "sub-1") != 1 {
		t.Fatalf("retry must deliver step 0, sent=%d step=%d", sent, f.step(t, "sub-1"))
	}
}

func TestBatchIsolatesFailures(t *testing.T) {
	f := newEngineFixture(t)
	f.enroll(t, "sub-a")
	f.enroll(t, "sub-b")
	f.messenger.errs["sub-a"] = errors.New("platform down")

	f.fc.Advance(time.Hour)
	sent, err := f.engine.RunOnce(context.Background())
	if err == nil {
		t.Fatal("expected joined error for sub-a")
	}
	if sent != 1 {
		t.Fatalf("sub-b must still be served, sent=%d", sent)
	}
	if f.step(t, "sub-b") != 1 {
		t.Fatal("sub-b must advance despite sub-a failing")
	}
}

func TestSendWindowDefersDelivery(t *testing.T) {
	f := newEngineFixture(t)
	f.engine.catalog.Tiers[0].DripSteps[0].SendWindow = &catalog.SendWindow{From: "12:00", To: "20:00"}
	f.enroll(t, "sub-1")

	// Due at 10:00 local but the window opens at noon.
	f.fc.Advance(time.Hour)
	sent, err := f.engine.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if sent != 0 || f.step(t, "sub-1") != 0 {
		t.Fatal("sends outside the window must wait")
	}

	f.fc.Advance(2 * time.Hour)
	sent, err = f.engine.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if sent != 1 || f.step(t, "sub-1") != 1 {
		t.Fatalf("window open, expected delivery, sent=%d step=%d", sent, f.step(t, "sub-1"))
	}
}

func TestExhaustedSequenceParksSubscriber(t *testing.T) {
	f := newEngineFixture(t)
	f.enroll(t, "sub-1")

	f.fc.Advance(time.Hour)
	if _, err := f.engine.RunOnce(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}
	f.fc.Advance(2 * time.Hour)
	if _, err := f.engine.RunOnce(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}

	// Both steps delivered. Further ticks must not send anything.
	f.fc.Advance(24 * time.Hour)
	sent, err := f.engine.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if sent != 0 || len(f.messenger.sends) != 2 {
		t.Fatalf("exhausted sequence must go quiet, sent=%d sends=%d", sent, len(f.messenger.sends))
	}
}
