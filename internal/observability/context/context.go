package obscontext

import (
	"context"
	"strings"
)

type contextKey string

const (
	requestIDKey    contextKey = "obs_request_id"
	subscriberIDKey contextKey = "obs_subscriber_id"
	actorTypeKey    contextKey = "obs_actor_type"
	actorIDKey      contextKey = "obs_actor_id"
)

// WithRequestID stores the request id on the context.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return withValue(ctx, requestIDKey, requestID)
}

// RequestIDFromContext returns the request id or an empty string.
func RequestIDFromContext(ctx context.Context) string {
	return value(ctx, requestIDKey)
}

// WithSubscriberID stores the subscriber id on the context.
func WithSubscriberID(ctx context.Context, subscriberID string) context.Context {
	return withValue(ctx, subscriberIDKey, subscriberID)
}

// SubscriberIDFromContext returns the subscriber id or an empty string.
func SubscriberIDFromContext(ctx context.Context) string {
	return value(ctx, subscriberIDKey)
}

// WithActor stores the acting principal on the context.
func WithActor(ctx context.Context, actorType, actorID string) context.Context {
	ctx = withValue(ctx, actorTypeKey, actorType)
	return withValue(ctx, actorIDKey, actorID)
}

// ActorFromContext returns the actor type and id, empty when absent.
func ActorFromContext(ctx context.Context) (string, string) {
	return value(ctx, actorTypeKey), value(ctx, actorIDKey)
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
