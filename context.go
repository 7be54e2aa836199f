package eventstore

import "context"

type ctxKey string

const (
	requestIDKey      ctxKey = "requestID"
	entityIDKey       ctxKey = "entityID"
	entityTypeNameKey ctxKey = "entityTypeName"
)

// WithRequestID attaches correlation metadata to the context. StoreEvents
// copies it onto envelopes that do not carry their own request ID.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey, requestID)
}

// RequestIDFromContext returns the request ID or "" if not present.
func RequestIDFromContext(ctx context.Context) string {
	if v := ctx.Value(requestIDKey); v != nil {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

// WithEntity records the entity a dispatch batch belongs to, for downstream
// handlers and logging middleware.
func WithEntity(ctx context.Context, entityTypeName, entityID string) context.Context {
	ctx = context.WithValue(ctx, entityTypeNameKey, entityTypeName)
	return context.WithValue(ctx, entityIDKey, entityID)
}

// EntityIDFromContext returns the entity ID or "" if not present.
func EntityIDFromContext(ctx context.Context) string {
	if v := ctx.Value(entityIDKey); v != nil {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

// EntityTypeNameFromContext returns the entity type name or "" if not present.
func EntityTypeNameFromContext(ctx context.Context) string {
	if v := ctx.Value(entityTypeNameKey); v != nil {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}
