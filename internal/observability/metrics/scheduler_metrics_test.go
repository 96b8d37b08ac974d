package metrics

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"gorm.io/gorm"
)

func TestClassifySchedulerJobReason(t *testing.T) {
	cases := map[string]struct {
		err  error
		want string
	}{
		"deadline":              {context.DeadlineExceeded, SchedulerJobReasonDeadlineExceeded},
		"db_lock_timeout":       {&pgconn.PgError{Code: "55P03"}, SchedulerJobReasonDBLockTimeout},
		"serialization_failure": {&pgconn.PgError{Code: "40001"}, SchedulerJobReasonSerializationFailure},
		"unique_violation":      {gorm.ErrDuplicatedKey, SchedulerJobReasonUniqueViolation},
		"unknown":               {errors.New("boom"), SchedulerJobReasonUnknown},
	}

	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			if got := ClassifySchedulerJobReason(tc.err); got != tc.want {
				t.Fatalf("expected reason %q, got %q", tc.want, got)
			}
		})
	}
}

func TestAddBatchProcessed(t *testing.T) {
	registry := prometheus.NewRegistry()
	metrics := newSchedulerMetrics(registry, Config{
		ServiceName: "dripflow",
		Environment: "test",
	})

	metrics.AddBatchProcessed("drip_tick", "subscribers", 3)
	metrics.AddBatchProcessed("drip_tick", "subscribers", 0)
	metrics.AddBatchProcessed("drip_tick", "subscribers", -1)

	got := testutil.ToFloat64(metrics.batchProcessed.WithLabelValues("drip_tick", "subscribers"))
	if got != 3 {
		t.Fatalf("expected processed count 3 with non-positive adds ignored, got %v", got)
	}
}

func TestAddBatchProcessedNilReceiver(t *testing.T) {
	var metrics *SchedulerMetrics
	metrics.AddBatchProcessed("drip_tick", "subscribers", 1)
}
