package service

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/smallbiznis/dripflow/internal/audit/domain"
	"github.com/smallbiznis/dripflow/internal/clock"
	"github.com/smallbiznis/dripflow/internal/config"
	"github.com/smallbiznis/dripflow/internal/dispatch/domain"
	"github.com/smallbiznis/dripflow/internal/dispatch/repository"
	"github.com/smallbiznis/dripflow/internal/providers/tracking"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type fakeSink struct {
	mu    sync.Mutex
	name  string
	fail  bool
	calls int
}

func (s *fakeSink) Name() string { return s.name }

func (s *fakeSink) Deliver(ctx context.Context, conv *tracking.Conversion) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.fail {
		return errors.New("sink down")
	}
	return nil
}

func (s *fakeSink) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

type fakeAudit struct {
	mu     sync.Mutex
	events []string
}

func (a *fakeAudit) Record(ctx context.Context, level auditdomain.Level, eventName string, fields auditdomain.Fields) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.events = append(a.events, eventName)
}

func (a *fakeAudit) List(ctx context.Context, filter auditdomain.ListFilter) ([]*auditdomain.AuditLog, error) {
	return nil, nil
}

func (a *fakeAudit) recorded() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]string(nil), a.events...)
}

func newTestService(t *testing.T, fc *clock.FakeClock, sinks ...tracking.Sink) (*Service, *gorm.DB, *fakeAudit) {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "dispatch.db")), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&domain.DispatchJob{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	node, err := snowflake.NewNode(1)
	if err != nil {
		t.Fatalf("snowflake: %v", err)
	}
	audit := &fakeAudit{}

	cfg := config.Config{}
	cfg.Dispatch.MaxAttempts = 3
	cfg.Dispatch.BaseDelay = 2 * time.Second
	cfg.Dispatch.Multiplier = 2.0

	svc := NewService(Params{
		DB:     db,
		Log:    zap.NewNop(),
		Clock:  fc,
		Config: cfg,
		GenID:  node,
		Repo:   repository.Provide(),
		Sinks:  sinks,
		Audit:  audit,
	}).(*Service)
	return svc, db, audit
}

func conversion(tx string) *domain.PaidConversion {
	return &domain.PaidConversion{
		TransactionID: tx,
		SubscriberID:  "sub-1",
		Tier:          "vip",
		Provider:      "pixnow",
		AmountCents:   1990,
		Currency:      "BRL",
		UTMSource:     "tiktok",
		UTMCampaign:   "launch",
		PaidAt:        time.Now().UTC(),
	}
}

func TestRetryPolicyDelayGrowsGeometrically(t *testing.T) {
	policy := domain.RetryPolicy{MaxAttempts: 5, BaseDelay: 2 * time.Second, Multiplier: 2.0}
	cases := []struct {
		attempt int
		want    time.Duration
	}{
		{1, 2 * time.Second},
		{2, 4 * time.Second},
		{3, 8 * time.Second},
		{4, 16 * time.Second},
	}
	for _, tc := range cases {
		if got := policy.Delay(tc.attempt); got != tc.want {
			t.Fatalf("delay(%d) = %v, want %v", tc.attempt, got, tc.want)
		}
	}
	if policy.Exhausted(4) {
		t.Fatal("4 attempts must not exhaust a 5 attempt policy")
	}
	if !policy.Exhausted(5) {
		t.Fatal("5 attempts must exhaust the policy")
	}
}

func TestDispatchIsolatesSinkFailures(t *testing.T) {
	fc := clock.NewFakeClock(time.Now().UTC())
	healthy := &fakeSink{name: "utmify"}
	broken := &fakeSink{name: "pixelgrid", fail: true}
	svc, db, _ := newTestService(t, fc, healthy, broken)

	if err := svc.Dispatch(context.Background(), conversion("tx-1")); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	svc.Wait()

	if healthy.callCount() != 1 {
		t.Fatalf("healthy sink must be called once, got %d", healthy.callCount())
	}

	var statuses []string
	if err := db.Raw(`SELECT status FROM dispatch_jobs ORDER BY sink`).Scan(&statuses).Error; err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(statuses) != 2 {
		t.Fatalf("expected 2 jobs, got %d", len(statuses))
	}
	// pixelgrid stays pending for retry, utmify is done.
	if statuses[0] != "pending" || statuses[1] != "delivered" {
		t.Fatalf("unexpected statuses %v", statuses)
	}
}

func TestDispatchDeduplicatesByTransactionAndSink(t *testing.T) {
	fc := clock.NewFakeClock(time.Now().UTC())
	sink := &fakeSink{name: "utmify"}
	svc, db, _ := newTestService(t, fc, sink)

	if err := svc.Dispatch(context.Background(), conversion("tx-1")); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	svc.Wait()
	if err := svc.Dispatch(context.Background(), conversion("tx-1")); err != nil {
		t.Fatalf("second dispatch: %v", err)
	}
	svc.Wait()

	if sink.callCount() != 1 {
		t.Fatalf("sink must see the conversion once, got %d calls", sink.callCount())
	}
	var count int64
	if err := db.Raw(`SELECT COUNT(*) FROM dispatch_jobs`).Scan(&count).Error; err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected a single job row, got %d", count)
	}
}

func TestRunDueAbandonsAfterMaxAttempts(t *testing.T) {
	start := time.Now().UTC()
	fc := clock.NewFakeClock(start)
	broken := &fakeSink{name: "pixelgrid", fail: true}
	svc, db, audit := newTestService(t, fc, broken)

	if err := svc.Dispatch(context.Background(), conversion("tx-1")); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	svc.Wait()

	// Attempt 1 already happened inline. Walk the clock past each backoff
	// window until the policy gives up.
	for i := 0; i < 2; i++ {
		fc.Advance(time.Minute)
		if _, err := svc.RunDue(context.Background()); err != nil {
			t.Fatalf("run due: %v", err)
		}
	}

	var job struct {
		Status   string
		Attempts int
	}
	if err := db.Raw(`SELECT status, attempts FROM dispatch_jobs WHERE transaction_id = ?`, "tx-1").Scan(&job).Error; err != nil {
		t.Fatalf("query: %v", err)
	}
	if job.Status != "abandoned" || job.Attempts != 3 {
		t.Fatalf("expected abandoned after 3 attempts, got %+v", job)
	}

	events := audit.recorded()
	if len(events) != 1 || events[0] != "dispatch.abandoned" {
		t.Fatalf("expected dispatch.abandoned audit, got %v", events)
	}

	// Abandoned jobs never come back.
	fc.Advance(time.Hour)
	n, err := svc.RunDue(context.Background())
	if err != nil {
		t.Fatalf("run due: %v", err)
	}
	if n != 0 {
		t.Fatalf("abandoned job must not be claimed, got %d", n)
	}
}
