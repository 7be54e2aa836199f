package logging

import (
	"context"
	"log/slog"

	"github.com/entitystream/eventstore"
)

// WithLoggingMiddleware wraps a Dispatcher so every batch delivery is logged
// with the entity and request context the store attached.
func WithLoggingMiddleware(logger *slog.Logger, next eventstore.Dispatcher) eventstore.Dispatcher {
	return eventstore.NewDispatcherFunc(func(ctx context.Context, envelopes []eventstore.PendingEnvelope) error {
		l := logger.With(
			"entityTypeName", eventstore.EntityTypeNameFromContext(ctx),
			"entityId", eventstore.EntityIDFromContext(ctx),
			"requestId", eventstore.RequestIDFromContext(ctx),
			"count", len(envelopes),
		)

		l.DebugContext(ctx, "dispatch started")

		err := next.Dispatch(ctx, envelopes)

		if err != nil {
			l.ErrorContext(ctx, "error dispatching batch", "error", err)
		} else {
			l.DebugContext(ctx, "batch dispatched successfully")
		}

		return err
	})
}
