package auditcontext

import (
	"context"
	"strings"
)

type contextKey string

const (
	requestIDKey    contextKey = "audit_request_id"
	ipAddressKey    contextKey = "audit_ip_address"
	userAgentKey    contextKey = "audit_user_agent"
	actorTypeKey    contextKey = "audit_actor_type"
	actorIDKey      contextKey = "audit_actor_id"
	subscriberIDKey contextKey = "audit_subscriber_id"
	transactionKey  contextKey = "audit_transaction_id"
	utmSourceKey    contextKey = "audit_utm_source"
	utmCampaignKey  contextKey = "audit_utm_campaign"
)

func WithRequestID(ctx context.Context, requestID string) context.Context {
	return withValue(ctx, requestIDKey, requestID)
}

func RequestIDFromContext(ctx context.Context) string {
	return value(ctx, requestIDKey)
}

func WithIPAddress(ctx context.Context, ip string) context.Context {
	return withValue(ctx, ipAddressKey, ip)
}

func IPAddressFromContext(ctx context.Context) string {
	return value(ctx, ipAddressKey)
}

func WithUserAgent(ctx context.Context, ua string) context.Context {
	return withValue(ctx, userAgentKey, ua)
}

func UserAgentFromContext(ctx context.Context) string {
	return value(ctx, userAgentKey)
}

func WithActor(ctx context.Context, actorType, actorID string) context.Context {
	ctx = withValue(ctx, actorTypeKey, actorType)
	return withValue(ctx, actorIDKey, actorID)
}

func ActorFromContext(ctx context.Context) (string, string) {
	return value(ctx, actorTypeKey), value(ctx, actorIDKey)
}

func WithSubscriberID(ctx context.Context, subscriberID string) context.Context {
	return withValue(ctx, subscriberIDKey, subscriberID)
}

func SubscriberIDFromContext(ctx context.Context) string {
	return value(ctx, subscriberIDKey)
}

func WithTransactionID(ctx context.Context, transactionID string) context.Context {
	return withValue(ctx, transactionKey, transactionID)
}

func TransactionIDFromContext(ctx context.Context) string {
	return value(ctx, transactionKey)
}

func WithCampaign(ctx context.Context, utmSource, utmCampaign string) context.Context {
	ctx = withValue(ctx, utmSourceKey, utmSource)
	return withValue(ctx, utmCampaignKey, utmCampaign)
}

func CampaignFromContext(ctx context.Context) (string, string) {
	return value(ctx, utmSourceKey), value(ctx, utmCampaignKey)
}

func withValue(ctx context.Context, key contextKey, raw string) context.Context {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ctx
	}
	return context.WithValue(ctx, key, raw)
}

func value(ctx context.Context, key contextKey) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(key).(string); ok {
		return v
	}
	return ""
}
