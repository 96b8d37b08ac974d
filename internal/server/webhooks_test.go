package server

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	auditdomain "github.com/smallbiznis/dripflow/internal/audit/domain"
	"github.com/smallbiznis/dripflow/internal/catalog"
	"github.com/smallbiznis/dripflow/internal/config"
	paymentdomain "github.com/smallbiznis/dripflow/internal/payment/domain"
	"github.com/smallbiznis/dripflow/internal/payment/gateway"
	subscriberdomain "github.com/smallbiznis/dripflow/internal/subscriber/domain"
	"go.uber.org/zap"
)

func testCatalog() *catalog.Catalog {
	return &catalog.Catalog{
		Tiers: []catalog.Tier{
			{
				Name:       "vip",
				PriceCents: 1990,
				Currency:   "BRL",
				DripSteps:  []catalog.DripStep{{Copy: "welcome"}},
			},
		},
	}
}

type fakeWebhookService struct {
	outcome paymentdomain.Outcome
	err     error
}

func (f *fakeWebhookService) IngestWebhook(ctx context.Context, provider string, payload []byte, headers http.Header) (paymentdomain.Outcome, error) {
	return f.outcome, f.err
}

type fakePaymentService struct {
	offerErr error
}

func (f *fakePaymentService) ProcessEvent(ctx context.Context, event *paymentdomain.PaymentEvent) (paymentdomain.Outcome, error) {
	return paymentdomain.Outcome{}, errors.New("not used")
}

func (f *fakePaymentService) RecordOfferShown(ctx context.Context, subscriberID, tier string, amountCents int64) error {
	return f.offerErr
}

type fakeSubscriberService struct {
	status *subscriberdomain.Status
	err    error
}

func (f *fakeSubscriberService) Enroll(ctx context.Context, id, tier, utmSource, utmCampaign string) (*subscriberdomain.Subscriber, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &subscriberdomain.Subscriber{ID: id, Tier: tier}, nil
}

func (f *fakeSubscriberService) Status(ctx context.Context, id string) (*subscriberdomain.Status, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.status, nil
}

func (f *fakeSubscriberService) Reset(ctx context.Context, id string) error {
	return f.err
}

type noopAudit struct{}

func (noopAudit) Record(ctx context.Context, level auditdomain.Level, eventName string, fields auditdomain.Fields) {
}

func (noopAudit) List(ctx context.Context, filter auditdomain.ListFilter) ([]*auditdomain.AuditLog, error) {
	return nil, nil
}

func newTestServer(t *testing.T, webhooks *fakeWebhookService, subscribers *fakeSubscriberService) *Server {
	t.Helper()
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(ErrorHandlingMiddleware())

	return NewServer(ServerParams{
		Gin:           r,
		Cfg:           config.Config{Environment: "test"},
		Catalog:       testCatalog(),
		Charges:       gateway.NewDisabledFallbackPolicy(zap.NewNop()),
		WebhookSvc:    webhooks,
		PaymentSvc:    &fakePaymentService{},
		SubscriberSvc: subscribers,
		AuditSvc:      noopAudit{},
	})
}

func do(s *Server, method, path, body string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	s.Engine().ServeHTTP(w, req)
	return w
}

func TestWebhookAccepted(t *testing.T) {
	s := newTestServer(t, &fakeWebhookService{outcome: paymentdomain.Outcome{Accepted: true}}, &fakeSubscriberService{})

	w := do(s, http.MethodPost, "/webhooks/payments/pixnow", `{"event":"charge.paid"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
}

func TestWebhookDuplicateIsSilent200(t *testing.T) {
	s := newTestServer(t, &fakeWebhookService{outcome: paymentdomain.Outcome{Accepted: true, Duplicate: true}}, &fakeSubscriberService{})

	w := do(s, http.MethodPost, "/webhooks/payments/pixnow", `{"event":"charge.paid"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("duplicates must be acknowledged, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "duplicate") {
		t.Fatalf("expected duplicate marker, got %s", w.Body.String())
	}
}

func TestWebhookInvalidPayloadIs400(t *testing.T) {
	s := newTestServer(t, &fakeWebhookService{err: paymentdomain.ErrInvalidPayload}, &fakeSubscriberService{})

	w := do(s, http.MethodPost, "/webhooks/payments/pixnow", `not-json`)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

func TestWebhookUnknownProviderIs400(t *testing.T) {
	s := newTestServer(t, &fakeWebhookService{err: paymentdomain.ErrProviderNotFound}, &fakeSubscriberService{})

	w := do(s, http.MethodPost, "/webhooks/payments/ghostpay", `{}`)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

func TestWebhookStorageFailureIs503(t *testing.T) {
	s := newTestServer(t, &fakeWebhookService{err: errors.New("connection refused")}, &fakeSubscriberService{})

	w := do(s, http.MethodPost, "/webhooks/payments/pixnow", `{"event":"charge.paid"}`)
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("provider must be told to retry, got %d", w.Code)
	}
}

func TestSubscriberStatus(t *testing.T) {
	paidAt := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	s := newTestServer(t, &fakeWebhookService{}, &fakeSubscriberService{
		status: &subscriberdomain.Status{SubscriberID: "sub-1", Tier: "vip", Paid: true, PaidAt: &paidAt},
	})

	w := do(s, http.MethodGet, "/subscribers/sub-1/status", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), `"paid":true`) {
		t.Fatalf("unexpected body %s", w.Body.String())
	}
}

func TestSubscriberStatusNotFound(t *testing.T) {
	s := newTestServer(t, &fakeWebhookService{}, &fakeSubscriberService{err: subscriberdomain.ErrSubscriberNotFound})

	w := do(s, http.MethodGet, "/subscribers/ghost/status", "")
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
}

func TestResetRegisteredOutsideProduction(t *testing.T) {
	s := newTestServer(t, &fakeWebhookService{}, &fakeSubscriberService{})

	w := do(s, http.MethodPost, "/subscribers/sub-1/reset", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
}
