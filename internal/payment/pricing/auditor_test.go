package pricing

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/smallbiznis/dripflow/internal/payment/domain"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type stubLedger struct {
	baseline *domain.EventRecord
	err      error
}

func (s *stubLedger) Append(ctx context.Context, db *gorm.DB, event *domain.EventRecord) (bool, error) {
	return false, errors.New("not used")
}

func (s *stubLedger) FindByTransaction(ctx context.Context, db *gorm.DB, kind domain.EventKind, transactionID string) (*domain.EventRecord, error) {
	return nil, nil
}

func (s *stubLedger) FindLastOfferShown(ctx context.Context, db *gorm.DB, subscriberID, tier string) (*domain.EventRecord, error) {
	return s.baseline, s.err
}

func (s *stubLedger) List(ctx context.Context, db *gorm.DB, filter domain.ListFilter) ([]*domain.EventRecord, error) {
	return nil, nil
}

func newAuditor(ledger *stubLedger) *Auditor {
	return NewAuditor(Params{DB: nil, Log: zap.NewNop(), Repo: ledger})
}

func TestAuditFlagsDivergence(t *testing.T) {
	auditor := newAuditor(&stubLedger{
		baseline: &domain.EventRecord{AmountCents: 1790},
	})

	result, err := auditor.Audit(context.Background(), "sub-1", "vip", 1990)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Consistent {
		t.Fatal("expected inconsistent verdict")
	}
	if result.DeltaCents != 200 {
		t.Fatalf("expected delta 200, got %d", result.DeltaCents)
	}
	if math.Abs(result.DeltaPct-11.17) > 0.01 {
		t.Fatalf("expected pct ~11.17, got %f", result.DeltaPct)
	}
	if result.ShownCents != 1790 {
		t.Fatalf("expected shown 1790, got %d", result.ShownCents)
	}
}

func TestAuditToleratesSmallDelta(t *testing.T) {
	auditor := newAuditor(&stubLedger{
		baseline: &domain.EventRecord{AmountCents: 2000},
	})

	// 0.5% under the shown price is within tolerance.
	result, err := auditor.Audit(context.Background(), "sub-1", "vip", 1990)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.Consistent {
		t.Fatalf("expected consistent verdict, got %+v", result)
	}
}

func TestAuditWithoutBaseline(t *testing.T) {
	auditor := newAuditor(&stubLedger{})

	result, err := auditor.Audit(context.Background(), "sub-1", "vip", 1990)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.Consistent || !result.NoBaseline {
		t.Fatalf("missing baseline must be consistent+NoBaseline, got %+v", result)
	}
}

func TestAuditFailsOpenOnStorageError(t *testing.T) {
	auditor := newAuditor(&stubLedger{err: errors.New("connection refused")})

	result, err := auditor.Audit(context.Background(), "sub-1", "vip", 1990)
	if err != nil {
		t.Fatalf("advisory audit must fail open, got %v", err)
	}
	if !result.Consistent {
		t.Fatalf("fail-open verdict must be consistent, got %+v", result)
	}
}
