package pixnow

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/smallbiznis/dripflow/internal/payment/domain"
	"github.com/smallbiznis/dripflow/internal/payment/gateway"
)

const defaultBaseURL = "https://api.pixnow.example/v1"

// Adapter integrates the Pixnow PIX gateway.
type Adapter struct {
	apiKey  string
	baseURL string
	client  *http.Client
}

type Option func(*Adapter)

func WithBaseURL(url string) Option {
	return func(a *Adapter) { a.baseURL = strings.TrimRight(url, "/") }
}

func WithHTTPClient(client *http.Client) Option {
	return func(a *Adapter) { a.client = client }
}

func New(apiKey string, opts ...Option) *Adapter {
	adapter := &Adapter{
		apiKey:  strings.TrimSpace(apiKey),
		baseURL: defaultBaseURL,
		client:  &http.Client{Timeout: 10 * time.Second},
	}
	for _, opt := range opts {
		opt(adapter)
	}
	return adapter
}

func (a *Adapter) Provider() string { return "pixnow" }

// webhookPayload is Pixnow's charge lifecycle notification.
type webhookPayload struct {
	Event  string `json:"event"`
	Charge struct {
		ID          string `json:"id"`
		Status      string `json:"status"`
		AmountCents int64  `json:"amount_cents"`
		Currency    string `json:"currency"`
	} `json:"charge"`
	Customer struct {
		ExternalID string `json:"external_id"`
	} `json:"customer"`
	Metadata  map[string]string `json:"metadata"`
	CreatedAt time.Time         `json:"created_at"`
}

func (a *Adapter) ParseWebhook(ctx context.Context, payload []byte, headers http.Header) (*domain.PaymentEvent, error) {
	_ = ctx
	_ = headers

	var body webhookPayload
	if err := json.Unmarshal(payload, &body); err != nil {
		return nil, domain.ErrInvalidPayload
	}
	if body.Charge.ID == "" || body.Customer.ExternalID == "" {
		return nil, domain.ErrInvalidPayload
	}

	var status domain.ChargeStatus
	switch strings.ToLower(body.Charge.Status) {
	case "pending":
		status = domain.StatusCreated
	case "approved":
		status = domain.StatusPaid
	case "expired":
		status = domain.StatusExpired
	default:
		return nil, domain.ErrEventIgnored
	}

	occurredAt := body.CreatedAt
	if occurredAt.IsZero() {
		occurredAt = time.Now().UTC()
	}

	meta := map[string]any{}
	for key, value := range body.Metadata {
		meta[key] = value
	}

	return &domain.PaymentEvent{
		Provider:      a.Provider(),
		TransactionID: body.Charge.ID,
		Status:        status,
		SubscriberID:  body.Customer.ExternalID,
		AmountCents:   body.Charge.AmountCents,
		Currency:      defaultCurrency(body.Charge.Currency),
		Tier:          body.Metadata["tier"],
		PayerMeta:     meta,
		OccurredAt:    occurredAt.UTC(),
		RawPayload:    payload,
	}, nil
}

type createChargeRequest struct {
	AmountCents int64             `json:"amount_cents"`
	Currency    string            `json:"currency"`
	ExternalID  string            `json:"external_id"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

type createChargeResponse struct {
	ID        string    `json:"id"`
	QRCodeURL string    `json:"qr_code_url"`
	ExpiresAt time.Time `json:"expires_at"`
}

func (a *Adapter) CreateCharge(ctx context.Context, req gateway.ChargeRequest) (*gateway.Charge, error) {
	metadata := map[string]string{"tier": req.Tier}
	for key, value := range req.Metadata {
		metadata[key] = value
	}

	body, err := json.Marshal(createChargeRequest{
		AmountCents: req.AmountCents,
		Currency:    defaultCurrency(req.Currency),
		ExternalID:  req.SubscriberID,
		Metadata:    metadata,
	})
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/charges", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+a.apiKey)

	resp, err := a.client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("pixnow charge creation returned %d", resp.StatusCode)
	}

	var out createChargeResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, err
	}
	if out.ID == "" {
		return nil, fmt.Errorf("pixnow charge creation returned no id")
	}

	return &gateway.Charge{
		Provider:      a.Provider(),
		TransactionID: out.ID,
		PaymentURL:    out.QRCodeURL,
		ExpiresAt:     out.ExpiresAt,
	}, nil
}

func defaultCurrency(currency string) string {
	currency = strings.ToUpper(strings.TrimSpace(currency))
	if currency == "" {
		return "BRL"
	}
	return currency
}
