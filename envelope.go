package eventstore

import (
	"time"

	"github.com/google/uuid"
)

// Kind discriminates the record shapes a registry persists. It is set once
// at construction and is only ever used to filter queries.
type Kind string

const (
	KindEvent    Kind = "event"
	KindSnapshot Kind = "snapshot"
)

var now = time.Now

// Envelope is one persisted domain fact about one entity instance. Once
// stored it is immutable; the core never reorders or rewrites envelopes.
type Envelope struct {
	EventID        uuid.UUID
	EntityTypeName string
	EntityID       string
	Kind           Kind
	EventType      string
	Value          any
	Version        uint64
	CreatedAt      time.Time
	PersistedAt    time.Time
	RequestID      string
	Metadata       map[string]any
}

// PendingEnvelope is an event that has not been durably stored yet. It
// becomes an Envelope exactly once, when the store operation assigns
// PersistedAt at the moment of the durable write.
type PendingEnvelope struct {
	EventID        uuid.UUID
	EntityTypeName string
	EntityID       string
	Kind           Kind
	EventType      string
	Value          any
	Version        uint64
	CreatedAt      time.Time
	RequestID      string
	Metadata       map[string]any
}

// persisted converts the pending envelope into its durable form, stamped
// with the actual write time.
func (p PendingEnvelope) persisted(at time.Time) Envelope {
	return Envelope{
		EventID:        p.EventID,
		EntityTypeName: p.EntityTypeName,
		EntityID:       p.EntityID,
		Kind:           p.Kind,
		EventType:      p.EventType,
		Value:          p.Value,
		Version:        p.Version,
		CreatedAt:      p.CreatedAt,
		PersistedAt:    at,
		RequestID:      p.RequestID,
		Metadata:       p.Metadata,
	}
}

// SnapshotEnvelope is a replaceable, cached fold of an entity's events up to
// Version. Its absence never changes the correctness of a replay, only the
// cost.
type SnapshotEnvelope struct {
	EntityTypeName string
	EntityID       string
	Kind           Kind
	Value          any
	Version        uint64
	CreatedAt      time.Time
	PersistedAt    time.Time
}

// EnvelopeOption customizes a pending envelope at construction time.
type EnvelopeOption func(*PendingEnvelope)

// WithMetadata merges the given key/value pairs into the envelope metadata.
func WithMetadata(md map[string]any) EnvelopeOption {
	return func(p *PendingEnvelope) {
		for k, v := range md {
			p.Metadata[k] = v
		}
	}
}

// WithEnvelopeRequestID sets the correlation metadata carried through
// unchanged.
func WithEnvelopeRequestID(requestID string) EnvelopeOption {
	return func(p *PendingEnvelope) {
		p.RequestID = requestID
	}
}

// WithCreatedAt overrides the envelope's CreatedAt timestamp. Callers are
// responsible for keeping CreatedAt non-decreasing per entity.
func WithCreatedAt(at time.Time) EnvelopeOption {
	return func(p *PendingEnvelope) {
		p.CreatedAt = at
	}
}

// NewPendingEnvelope wraps a domain event payload for a specific entity
// instance. Version is the expected 1-based stream position the registry
// compares atomically at write time.
func NewPendingEnvelope(entityTypeName, entityID, eventType string, value any, version uint64, options ...EnvelopeOption) PendingEnvelope {
	p := PendingEnvelope{
		EventID:        uuid.New(),
		EntityTypeName: entityTypeName,
		EntityID:       entityID,
		Kind:           KindEvent,
		EventType:      eventType,
		Value:          value,
		Version:        version,
		CreatedAt:      now(),
		Metadata:       make(map[string]any),
	}

	for _, option := range options {
		option(&p)
	}

	return p
}

// NewSnapshotEnvelope packages a folded entity state at the given stream
// position for StoreSnapshot.
func NewSnapshotEnvelope(entityTypeName, entityID string, state any, version uint64) SnapshotEnvelope {
	return SnapshotEnvelope{
		EntityTypeName: entityTypeName,
		EntityID:       entityID,
		Kind:           KindSnapshot,
		Value:          state,
		Version:        version,
		CreatedAt:      now(),
	}
}

// Record is the one value shape crossing the registry boundary: either an
// event envelope or a snapshot envelope.
type Record interface {
	RecordKind() Kind
}

func (e Envelope) RecordKind() Kind         { return e.Kind }
func (s SnapshotEnvelope) RecordKind() Kind { return s.Kind }
