package messenger

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/smallbiznis/dripflow/internal/catalog"
	"go.uber.org/zap"
)

// Config holds Chatwire bot API settings.
type Config struct {
	APIURL string
	Token  string
}

// ChatwireProvider sends drip messages through the Chatwire bot API.
type ChatwireProvider struct {
	cfg    Config
	client *http.Client
	log    *zap.Logger
}

type Option func(*ChatwireProvider)

func WithHTTPClient(client *http.Client) Option {
	return func(p *ChatwireProvider) {
		if client != nil {
			p.client = client
		}
	}
}

func NewChatwireProvider(cfg Config, log *zap.Logger, opts ...Option) *ChatwireProvider {
	p := &ChatwireProvider{
		cfg:    cfg,
		client: &http.Client{Timeout: 10 * time.Second},
		log:    log.Named("providers.messenger"),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

type sendRequest struct {
	ChatID    string `json:"chat_id"`
	Text      string `json:"text"`
	MediaKind string `json:"media_kind,omitempty"`
	MediaRef  string `json:"media_ref,omitempty"`
}

type sendResponse struct {
	OK          bool   `json:"ok"`
	ErrorCode   string `json:"error_code"`
	Description string `json:"description"`
}

// Send walks the message's media plan in order and delivers the first variant
// the platform accepts. Media failures fall through to the next entry; a plain
// text send is the implicit last resort. Recipient errors are permanent and
// short-circuit the plan.
func (p *ChatwireProvider) Send(ctx context.Context, subscriberID string, msg Message) error {
	plan := msg.Media
	if len(plan) == 0 {
		plan = []Attachment{{Kind: catalog.MediaKindText}}
	}

	var lastErr error
	for _, att := range plan {
		err := p.sendVariant(ctx, subscriberID, msg.Copy, att)
		if err == nil {
			return nil
		}
		if IsPermanent(err) {
			return err
		}
		p.log.Warn("media variant failed, falling back",
			zap.String("subscriber_id", subscriberID),
			zap.String("media_kind", string(att.Kind)),
			zap.Error(err),
		)
		lastErr = err
	}

	// Every planned variant failed. Try bare text once before giving up,
	// unless the plan already ended in text.
	if plan[len(plan)-1].Kind != catalog.MediaKindText {
		if err := p.sendVariant(ctx, subscriberID, msg.Copy, Attachment{Kind: catalog.MediaKindText}); err == nil {
			return nil
		} else if IsPermanent(err) {
			return err
		} else {
			lastErr = err
		}
	}
	return fmt.Errorf("all media variants failed: %w", lastErr)
}

func (p *ChatwireProvider) sendVariant(ctx context.Context, subscriberID, copyText string, att Attachment) error {
	payload := sendRequest{
		ChatID: subscriberID,
		Text:   copyText,
	}
	if att.Kind != catalog.MediaKindText {
		payload.MediaKind = string(att.Kind)
		payload.MediaRef = att.Ref
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.cfg.APIURL+"/messages", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+p.cfg.Token)

	resp, err := p.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))

	switch {
	case resp.StatusCode == http.StatusOK:
		return nil
	case resp.StatusCode == http.StatusForbidden, resp.StatusCode == http.StatusNotFound, resp.StatusCode == http.StatusGone:
		// The contact blocked the bot or the chat no longer exists.
		return Permanentf("recipient unreachable: status=%d body=%s", resp.StatusCode, truncate(raw, 256))
	case resp.StatusCode >= http.StatusInternalServerError, resp.StatusCode == http.StatusTooManyRequests:
		return fmt.Errorf("chatwire unavailable: status=%d", resp.StatusCode)
	default:
		var out sendResponse
		if json.Unmarshal(raw, &out) == nil && out.ErrorCode != "" {
			return fmt.Errorf("chatwire rejected send: %s (%s)", out.ErrorCode, out.Description)
		}
		return fmt.Errorf("chatwire rejected send: status=%d body=%s", resp.StatusCode, truncate(raw, 256))
	}
}

func truncate(raw []byte, max int) string {
	if len(raw) > max {
		raw = raw[:max]
	}
	return string(raw)
}
