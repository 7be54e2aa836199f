package eventstore

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// Store orchestrates reads and writes against a Registry. It is stateless
// between calls: durable ownership of envelopes belongs to the registry, and
// all conflict resolution is delegated to the registry's store-time version
// check plus the bounded retry policy.
type Store struct {
	registry Registry
	logger   *slog.Logger
	strategy RetryStrategy
	clock    func() time.Time
}

// StoreOption customizes a Store.
type StoreOption func(*Store)

// WithLogger sets the structured logger. Logging is purely observational and
// never affects control flow.
func WithLogger(logger *slog.Logger) StoreOption {
	return func(s *Store) { s.logger = logger }
}

// WithRetryStrategy sets the backoff factory used for conflict retries on
// the write path.
func WithRetryStrategy(strategy RetryStrategy) StoreOption {
	return func(s *Store) { s.strategy = strategy }
}

// WithClock overrides the PersistedAt clock.
func WithClock(clock func() time.Time) StoreOption {
	return func(s *Store) { s.clock = clock }
}

// NewStore creates a Store on top of the given registry.
func NewStore(registry Registry, options ...StoreOption) *Store {
	s := &Store{
		registry: registry,
		logger:   slog.Default(),
		strategy: DefaultRetryStrategy,
		clock:    time.Now,
	}

	for _, option := range options {
		option(s)
	}

	return s
}

// ReadEvents returns the entity's event envelopes with CreatedAt strictly
// greater than since, oldest first. A zero since reads from the beginning of
// time. Registry failures propagate unchanged.
func (s *Store) ReadEvents(ctx context.Context, entityTypeName, entityID string, since time.Time) ([]Envelope, error) {
	envelopes, err := s.registry.Query(ctx, Filter{
		EntityTypeName: entityTypeName,
		EntityID:       entityID,
		Kind:           KindEvent,
		Since:          since,
	})
	if err != nil {
		return nil, err
	}

	s.logger.DebugContext(ctx, "events read",
		"entityTypeName", entityTypeName,
		"entityId", entityID,
		"count", len(envelopes),
	)

	return envelopes, nil
}

// LatestSnapshot returns the most recent snapshot for the entity, or
// ErrSnapshotNotFound when none exists. Absence means "replay from origin",
// not an error condition.
func (s *Store) LatestSnapshot(ctx context.Context, entityTypeName, entityID string) (SnapshotEnvelope, error) {
	return s.registry.LatestSnapshot(ctx, Filter{
		EntityTypeName: entityTypeName,
		EntityID:       entityID,
		Kind:           KindSnapshot,
	})
}

// StoreEvents persists the batch strictly one envelope at a time, each store
// wrapped individually in the conflict retry policy. Sequential processing
// keeps the writer's own batch internally consistent and keeps error
// attribution per event.
//
// PersistedAt is stamped fresh on every attempt so the durable timestamp
// reflects the actual write time. If an envelope exhausts its retries the
// whole call fails; envelopes persisted before it remain durable and later
// ones are never attempted.
//
// On full success the sink (if non-nil) is invoked exactly once with the
// original pending batch in original order. A sink failure is returned as a
// *DispatchError: the batch is durable, redelivery is the caller's call.
func (s *Store) StoreEvents(ctx context.Context, envelopes []PendingEnvelope, sink Dispatcher) error {
	requestID := RequestIDFromContext(ctx)

	for i := range envelopes {
		if envelopes[i].RequestID == "" {
			envelopes[i].RequestID = requestID
		}

		pending := envelopes[i]
		err := retryConflict(ctx, s.strategy(), func() error {
			return s.registry.Store(ctx, pending.persisted(s.clock()))
		})
		if err != nil {
			s.logger.ErrorContext(ctx, "event store failed",
				"entityTypeName", pending.EntityTypeName,
				"entityId", pending.EntityID,
				"eventType", pending.EventType,
				"version", pending.Version,
				"persisted", i,
				"error", err,
			)
			return err
		}
	}

	s.logger.DebugContext(ctx, "events stored",
		"count", len(envelopes),
	)

	if sink == nil || len(envelopes) == 0 {
		return nil
	}

	dispatchCtx := WithEntity(ctx, envelopes[0].EntityTypeName, envelopes[0].EntityID)
	if err := sink.Dispatch(dispatchCtx, envelopes); err != nil {
		return &DispatchError{Err: err}
	}

	return nil
}

// StoreSnapshot persists a single snapshot under the same retry policy. No
// dispatch follows: snapshots are a cache, not a fact requiring downstream
// reaction.
func (s *Store) StoreSnapshot(ctx context.Context, snapshot SnapshotEnvelope) error {
	err := retryConflict(ctx, s.strategy(), func() error {
		snapshot.PersistedAt = s.clock()
		return s.registry.Store(ctx, snapshot)
	})
	if err != nil {
		s.logger.ErrorContext(ctx, "snapshot store failed",
			"entityTypeName", snapshot.EntityTypeName,
			"entityId", snapshot.EntityID,
			"version", snapshot.Version,
			"error", err,
		)
		return err
	}

	s.logger.DebugContext(ctx, "snapshot stored",
		"entityTypeName", snapshot.EntityTypeName,
		"entityId", snapshot.EntityID,
		"version", snapshot.Version,
	)

	return nil
}

// Folder evolves the given state into a new state with the envelope's event
// applied.
type Folder[T any] func(state T, envelope Envelope) T

// Rehydrate reconstructs entity state by loading the latest snapshot and
// folding every event stored after it. Snapshot absence falls back to a full
// replay from the beginning of time. It returns the folded state and the
// version of the last applied event, which is the position the producer's
// next envelope must advance from.
func Rehydrate[T any](ctx context.Context, s *Store, entityTypeName, entityID string, initial T, fold Folder[T]) (T, uint64, error) {
	state := initial
	var version uint64
	var since time.Time

	snapshot, err := s.LatestSnapshot(ctx, entityTypeName, entityID)
	switch {
	case err == nil:
		if folded, ok := snapshot.Value.(T); ok {
			state = folded
			version = snapshot.Version
			since = snapshot.CreatedAt
		}
	case errors.Is(err, ErrSnapshotNotFound):
		// Full replay.
	default:
		return initial, 0, err
	}

	envelopes, err := s.ReadEvents(ctx, entityTypeName, entityID, since)
	if err != nil {
		return initial, 0, err
	}

	for _, envelope := range envelopes {
		state = fold(state, envelope)
		version = envelope.Version
	}

	return state, version, nil
}
