package repository

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/smallbiznis/dripflow/internal/subscriber/domain"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "subscribers.db")), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&domain.Subscriber{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

func seed(t *testing.T, db *gorm.DB, id string) {
	t.Helper()
	now := time.Now().UTC()
	created, err := Provide().Ensure(context.Background(), db, &domain.Subscriber{
		ID:        id,
		Tier:      "vip",
		CreatedAt: now,
		UpdatedAt: now,
	})
	if err != nil {
		t.Fatalf("ensure: %v", err)
	}
	if !created {
		t.Fatalf("expected %s to be created", id)
	}
}

func TestEnsureIsIdempotent(t *testing.T) {
	db := newTestDB(t)
	repo := Provide()
	ctx := context.Background()

	seed(t, db, "sub-1")

	now := time.Now().UTC()
	created, err := repo.Ensure(ctx, db, &domain.Subscriber{ID: "sub-1", Tier: "basic", CreatedAt: now, UpdatedAt: now})
	if err != nil {
		t.Fatalf("second ensure: %v", err)
	}
	if created {
		t.Fatal("second ensure must not create a row")
	}

	sub, err := repo.Get(ctx, db, "sub-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if sub.Tier != "vip" {
		t.Fatalf("first writer must win, got tier %q", sub.Tier)
	}
}

func TestMarkPaidIsMonotonic(t *testing.T) {
	db := newTestDB(t)
	repo := Provide()
	ctx := context.Background()
	seed(t, db, "sub-1")

	paidAt := time.Now().UTC()
	flipped, err := repo.MarkPaid(ctx, db, "sub-1", paidAt)
	if err != nil {
		t.Fatalf("mark paid: %v", err)
	}
	if !flipped {
		t.Fatal("first MarkPaid must flip")
	}

	flipped, err = repo.MarkPaid(ctx, db, "sub-1", paidAt.Add(time.Minute))
	if err != nil {
		t.Fatalf("second mark paid: %v", err)
	}
	if flipped {
		t.Fatal("second MarkPaid must be a no-op")
	}

	sub, err := repo.Get(ctx, db, "sub-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !sub.Paid || sub.PaidAt == nil || !sub.PaidAt.Equal(paidAt) {
		t.Fatalf("paid_at must keep the first timestamp, got %+v", sub)
	}
}

func TestAdvanceStepGuards(t *testing.T) {
	db := newTestDB(t)
	repo := Provide()
	ctx := context.Background()
	seed(t, db, "sub-1")

	now := time.Now().UTC()
	advanced, err := repo.AdvanceStep(ctx, db, "sub-1", 0, now)
	if err != nil {
		t.Fatalf("advance: %v", err)
	}
	if !advanced {
		t.Fatal("expected advance from step 0")
	}

	// A second worker holding the stale step loses the CAS.
	advanced, err = repo.AdvanceStep(ctx, db, "sub-1", 0, now)
	if err != nil {
		t.Fatalf("stale advance: %v", err)
	}
	if advanced {
		t.Fatal("stale advance must lose")
	}

	// Paid subscribers never advance.
	if _, err := repo.MarkPaid(ctx, db, "sub-1", now); err != nil {
		t.Fatalf("mark paid: %v", err)
	}
	advanced, err = repo.AdvanceStep(ctx, db, "sub-1", 1, now)
	if err != nil {
		t.Fatalf("advance after paid: %v", err)
	}
	if advanced {
		t.Fatal("paid subscriber must not advance")
	}
}

func TestClaimDueSelectsUntouchedFirst(t *testing.T) {
	db := newTestDB(t)
	repo := Provide()
	ctx := context.Background()

	seed(t, db, "sub-a")
	seed(t, db, "sub-b")
	seed(t, db, "sub-c")

	now := time.Now().UTC()
	if err := repo.Touch(ctx, db, "sub-b", now.Add(-2*time.Hour)); err != nil {
		t.Fatalf("touch: %v", err)
	}
	if err := repo.Touch(ctx, db, "sub-c", now); err != nil {
		t.Fatalf("touch: %v", err)
	}

	due, err := repo.ClaimDue(ctx, db, now.Add(-time.Hour), 10)
	if err != nil {
		t.Fatalf("claim due: %v", err)
	}
	if len(due) != 2 {
		t.Fatalf("expected 2 due subscribers, got %d", len(due))
	}
	if due[0].ID != "sub-a" {
		t.Fatalf("never-touched subscriber must come first, got %q", due[0].ID)
	}
	if due[1].ID != "sub-b" {
		t.Fatalf("expected sub-b second, got %q", due[1].ID)
	}
}

func TestResetRearms(t *testing.T) {
	db := newTestDB(t)
	repo := Provide()
	ctx := context.Background()
	seed(t, db, "sub-1")

	now := time.Now().UTC()
	if _, err := repo.AdvanceStep(ctx, db, "sub-1", 0, now); err != nil {
		t.Fatalf("advance: %v", err)
	}
	if _, err := repo.MarkPaid(ctx, db, "sub-1", now); err != nil {
		t.Fatalf("mark paid: %v", err)
	}

	if err := repo.Reset(ctx, db, "sub-1"); err != nil {
		t.Fatalf("reset: %v", err)
	}

	sub, err := repo.Get(ctx, db, "sub-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if sub.Paid || sub.DripStep != 0 || sub.PaidAt != nil {
		t.Fatalf("reset must re-arm the funnel, got %+v", sub)
	}

	if err := repo.Reset(ctx, db, "ghost"); err != domain.ErrSubscriberNotFound {
		t.Fatalf("expected ErrSubscriberNotFound, got %v", err)
	}
}
