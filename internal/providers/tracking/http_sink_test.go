package tracking

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/smallbiznis/dripflow/internal/catalog"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestDeliverPostsNormalizedPayload(t *testing.T) {
	var got Conversion
	var auth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	sink := NewHTTPSink(catalog.SinkConfig{
		Name:    "utmify",
		URL:     srv.URL,
		Token:   "sink-token",
		Enabled: true,
	}, zap.NewNop())

	paidAt := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	err := sink.Deliver(context.Background(), &Conversion{
		OrderKey:     "order-tx-1",
		SubscriberID: "sub-1",
		Tier:         "vip",
		AmountCents:  1990,
		Currency:     "BRL",
		Provider:     "pixnow",
		UTMSource:    "tiktok",
		UTMCampaign:  "launch",
		PaidAt:       paidAt,
	})
	require.NoError(t, err)
	require.Equal(t, "Bearer sink-token", auth)
	require.Equal(t, "order-tx-1", got.OrderKey)
	require.Equal(t, int64(1990), got.AmountCents)
	require.Equal(t, "tiktok", got.UTMSource)
	require.True(t, got.PaidAt.Equal(paidAt))
}

func TestDeliverRejectsNon2xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	sink := NewHTTPSink(catalog.SinkConfig{Name: "utmify", URL: srv.URL, Enabled: true}, zap.NewNop())
	err := sink.Deliver(context.Background(), &Conversion{OrderKey: "order-tx-1"})
	require.Error(t, err)
}
