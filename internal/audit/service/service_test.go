package service

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/smallbiznis/dripflow/internal/audit/domain"
	auditcontext "github.com/smallbiznis/dripflow/internal/auditcontext"
	"github.com/smallbiznis/dripflow/internal/clock"
	"github.com/smallbiznis/dripflow/internal/config"
	"github.com/smallbiznis/dripflow/internal/audit/repository"
	"github.com/smallbiznis/dripflow/pkg/telemetry/correlation"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newTestService(t *testing.T, fc *clock.FakeClock) (*Service, *gorm.DB) {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "audit.db")), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&auditdomain.AuditLog{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	node, err := snowflake.NewNode(1)
	if err != nil {
		t.Fatalf("snowflake node: %v", err)
	}

	svc := NewService(Params{
		DB:     db,
		Log:    zap.NewNop(),
		Config: config.Config{BusinessTimezone: "America/Sao_Paulo"},
		Clock:  fc,
		GenID:  node,
		Repo:   repository.Provide(),
	}).(*Service)
	return svc, db
}

func TestRecordFillsCorrelationFields(t *testing.T) {
	fc := clock.NewFakeClock(time.Date(2024, 6, 1, 15, 0, 0, 0, time.UTC))
	svc, db := newTestService(t, fc)

	ctx := context.Background()
	ctx = correlation.ContextWithCorrelationID(ctx, "corr-1")
	ctx = auditcontext.WithIPAddress(ctx, "203.0.113.9")
	ctx = auditcontext.WithUserAgent(ctx, "curl/8.0")
	ctx = auditcontext.WithCampaign(ctx, "tiktok", "june_vip")

	svc.Record(ctx, auditdomain.LevelInfo, "payment.charge_paid", auditdomain.Fields{
		SubscriberID:  "sub-1",
		TransactionID: "tx-1",
		Details:       map[string]any{"amount_cents": int64(1990)},
	})

	var entry auditdomain.AuditLog
	if err := db.First(&entry).Error; err != nil {
		t.Fatalf("load audit log: %v", err)
	}
	if entry.CorrelationID != "corr-1" {
		t.Fatalf("expected correlation id, got %q", entry.CorrelationID)
	}
	if entry.IPAddress != "203.0.113.9" || entry.UserAgent != "curl/8.0" {
		t.Fatalf("network metadata not filled: %+v", entry)
	}
	if entry.UTMSource != "tiktok" || entry.UTMCampaign != "june_vip" {
		t.Fatalf("campaign attribution not filled: %+v", entry)
	}

	// 15:00 UTC is 12:00 in America/Sao_Paulo.
	if entry.LoggedAt.Hour() != 12 {
		t.Fatalf("expected business-timezone hour 12, got %d", entry.LoggedAt.Hour())
	}
}

func TestRecordNeverFailsCaller(t *testing.T) {
	fc := clock.NewFakeClock(time.Now())
	svc, db := newTestService(t, fc)

	// Drop the table so the insert fails.
	if err := db.Migrator().DropTable(&auditdomain.AuditLog{}); err != nil {
		t.Fatalf("drop table: %v", err)
	}

	// Must not panic or surface the error.
	svc.Record(context.Background(), auditdomain.LevelWarning, "dispatch.abandoned", auditdomain.Fields{
		TransactionID: "tx-2",
	})
}

func TestRecordDropsEmptyEventName(t *testing.T) {
	fc := clock.NewFakeClock(time.Now())
	svc, db := newTestService(t, fc)

	svc.Record(context.Background(), auditdomain.LevelInfo, "  ", auditdomain.Fields{})

	var count int64
	if err := db.Model(&auditdomain.AuditLog{}).Count(&count).Error; err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 0 {
		t.Fatalf("expected no rows, got %d", count)
	}
}
