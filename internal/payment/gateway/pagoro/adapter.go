package pagoro

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/smallbiznis/dripflow/internal/payment/domain"
	"github.com/smallbiznis/dripflow/internal/payment/gateway"
)

const defaultBaseURL = "https://checkout.pagoro.example/api"

// Adapter integrates the Pagoro checkout gateway. Pagoro reports amounts as
// decimal strings and wraps everything in a transaction envelope.
type Adapter struct {
	token   string
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

func New(token string, opts ...Option) *Adapter {
	adapter := &Adapter{
		token:   strings.TrimSpace(token),
		baseURL: defaultBaseURL,
		client:  &http.Client{Timeout: 10 * time.Second},
	}
	for _, opt := range opts {
		opt(adapter)
	}
	return adapter
}

func (a *Adapter) Provider() string { return "pagoro" }

type webhookPayload struct {
	Transaction struct {
		Code   string `json:"code"`
		State  string `json:"state"`
		Amount string `json:"amount"`
	} `json:"transaction"`
	Buyer struct {
		ChatID string `json:"chat_id"`
	} `json:"buyer"`
	Offer struct {
		Tier string `json:"tier"`
	} `json:"offer"`
	OccurredAt int64 `json:"occurred_at"`
}

func (a *Adapter) ParseWebhook(ctx context.Context, payload []byte, headers http.Header) (*domain.PaymentEvent, error) {
	_ = ctx
	_ = headers

	var body webhookPayload
	if err := json.Unmarshal(payload, &body); err != nil {
		return nil, domain.ErrInvalidPayload
	}
	if body.Transaction.Code == "" || body.Buyer.ChatID == "" {
		return nil, domain.ErrInvalidPayload
	}

	var status domain.ChargeStatus
	switch strings.ToLower(body.Transaction.State) {
	case "waiting_payment":
		status = domain.StatusCreated
	case "paid":
		status = domain.StatusPaid
	case "cancelled", "canceled":
		status = domain.StatusExpired
	default:
		return nil, domain.ErrEventIgnored
	}

	amountCents, err := parseDecimalCents(body.Transaction.Amount)
	if err != nil {
		return nil, domain.ErrInvalidPayload
	}

	occurredAt := time.Now().UTC()
	if body.OccurredAt > 0 {
		occurredAt = time.Unix(body.OccurredAt, 0).UTC()
	}

	return &domain.PaymentEvent{
		Provider:      a.Provider(),
		TransactionID: body.Transaction.Code,
		Status:        status,
		SubscriberID:  body.Buyer.ChatID,
		AmountCents:   amountCents,
		Currency:      "BRL",
		Tier:          body.Offer.Tier,
		PayerMeta:     map[string]any{"chat_id": body.Buyer.ChatID},
		OccurredAt:    occurredAt,
		RawPayload:    payload,
	}, nil
}

type createChargeRequest struct {
	Amount     string            `json:"amount"`
	BuyerID    string            `json:"buyer_id"`
	Offer      string            `json:"offer"`
	Attributes map[string]string `json:"attributes,omitempty"`
}

type createChargeResponse struct {
	Transaction struct {
		Code        string `json:"code"`
		CheckoutURL string `json:"checkout_url"`
		ExpiresAt   int64  `json:"expires_at"`
	} `json:"transaction"`
}

func (a *Adapter) CreateCharge(ctx context.Context, req gateway.ChargeRequest) (*gateway.Charge, error) {
	body, err := json.Marshal(createChargeRequest{
		Amount:     formatDecimal(req.AmountCents),
		BuyerID:    req.SubscriberID,
		Offer:      req.Tier,
		Attributes: req.Metadata,
	})
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/transactions", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-Pagoro-Token", a.token)

	resp, err := a.client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("pagoro charge creation returned %d", resp.StatusCode)
	}

	var out createChargeResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, err
	}
	if out.Transaction.Code == "" {
		return nil, fmt.Errorf("pagoro charge creation returned no code")
	}

	charge := &gateway.Charge{
		Provider:      a.Provider(),
		TransactionID: out.Transaction.Code,
		PaymentURL:    out.Transaction.CheckoutURL,
	}
	if out.Transaction.ExpiresAt > 0 {
		charge.ExpiresAt = time.Unix(out.Transaction.ExpiresAt, 0).UTC()
	}
	return charge, nil
}

// parseDecimalCents converts a "19.90" style amount to integer cents without
// floating point drift on the cent digits.
func parseDecimalCents(raw string) (int64, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, fmt.Errorf("empty amount")
	}
	whole, frac, found := strings.Cut(raw, ".")
	units, err := strconv.ParseInt(whole, 10, 64)
	if err != nil {
		return 0, err
	}
	if !found {
		return units * 100, nil
	}
	if len(frac) > 2 {
		frac = frac[:2]
	}
	for len(frac) < 2 {
		frac += "0"
	}
	cents, err := strconv.ParseInt(frac, 10, 64)
	if err != nil {
		return 0, err
	}
	if units < 0 {
		cents = -cents
	}
	total := units*100 + cents
	if math.Abs(float64(total)) > math.MaxInt64/2 {
		return 0, fmt.Errorf("amount out of range")
	}
	return total, nil
}

func formatDecimal(cents int64) string {
	sign := ""
	if cents < 0 {
		sign = "-"
		cents = -cents
	}
	return fmt.Sprintf("%s%d.%02d", sign, cents/100, cents%100)
}
