package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/entitystream/eventstore"
)

type entityKey struct {
	typeName string
	id       string
}

// Registry is an in-process eventstore.Registry for tests and development.
// The version check in Store happens under the same mutex as the append, so
// conflict detection is atomic with the write.
type Registry struct {
	mu        sync.RWMutex
	events    map[entityKey][]eventstore.Envelope
	snapshots map[entityKey]eventstore.SnapshotEnvelope
}

var _ eventstore.Registry = (*Registry)(nil)

func NewRegistry() *Registry {
	return &Registry{
		events:    make(map[entityKey][]eventstore.Envelope),
		snapshots: make(map[entityKey]eventstore.SnapshotEnvelope),
	}
}

func (r *Registry) Query(ctx context.Context, filter eventstore.Filter) ([]eventstore.Envelope, error) {
	if err := ctx.Err(); err != nil {
		return nil, eventstore.WrapRegistryError(err)
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	key := entityKey{typeName: filter.EntityTypeName, id: filter.EntityID}

	var matches []eventstore.Envelope
	for _, envelope := range r.events[key] {
		if !filter.Since.IsZero() && !envelope.CreatedAt.After(filter.Since) {
			continue
		}
		matches = append(matches, envelope)
	}

	sort.SliceStable(matches, func(i, j int) bool {
		if matches[i].CreatedAt.Equal(matches[j].CreatedAt) {
			return matches[i].Version < matches[j].Version
		}
		return matches[i].CreatedAt.Before(matches[j].CreatedAt)
	})

	return matches, nil
}

func (r *Registry) LatestSnapshot(ctx context.Context, filter eventstore.Filter) (eventstore.SnapshotEnvelope, error) {
	if err := ctx.Err(); err != nil {
		return eventstore.SnapshotEnvelope{}, eventstore.WrapRegistryError(err)
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	key := entityKey{typeName: filter.EntityTypeName, id: filter.EntityID}
	snapshot, ok := r.snapshots[key]
	if !ok {
		return eventstore.SnapshotEnvelope{}, eventstore.ErrSnapshotNotFound
	}
	return snapshot, nil
}

func (r *Registry) Store(ctx context.Context, record eventstore.Record) error {
	if err := ctx.Err(); err != nil {
		return eventstore.WrapRegistryError(err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	switch rec := record.(type) {
	case eventstore.Envelope:
		return r.storeEvent(rec)
	case eventstore.SnapshotEnvelope:
		return r.storeSnapshot(rec)
	default:
		return eventstore.WrapRegistryError(errUnknownRecord{record})
	}
}

func (r *Registry) storeEvent(envelope eventstore.Envelope) error {
	key := entityKey{typeName: envelope.EntityTypeName, id: envelope.EntityID}
	current := uint64(len(r.events[key]))

	if envelope.Version != current+1 {
		return &eventstore.VersionConflictError{
			EntityTypeName: envelope.EntityTypeName,
			EntityID:       envelope.EntityID,
			Expected:       envelope.Version,
			Actual:         current,
		}
	}

	r.events[key] = append(r.events[key], envelope)
	return nil
}

func (r *Registry) storeSnapshot(snapshot eventstore.SnapshotEnvelope) error {
	key := entityKey{typeName: snapshot.EntityTypeName, id: snapshot.EntityID}

	if existing, ok := r.snapshots[key]; ok && snapshot.Version < existing.Version {
		return &eventstore.VersionConflictError{
			EntityTypeName: snapshot.EntityTypeName,
			EntityID:       snapshot.EntityID,
			Expected:       snapshot.Version,
			Actual:         existing.Version,
		}
	}

	r.snapshots[key] = snapshot
	return nil
}

type errUnknownRecord struct {
	record eventstore.Record
}

func (e errUnknownRecord) Error() string {
	return "unknown record kind: " + string(e.record.RecordKind())
}
