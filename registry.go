package eventstore

import (
	"context"
	"time"
)

// Filter is the structured predicate the core sends to a registry instead of
// an ad hoc query map. The zero Since means "from the beginning of time".
type Filter struct {
	EntityTypeName string
	EntityID       string
	Kind           Kind

	// Since is an exclusive lower bound on CreatedAt: only records with
	// CreatedAt strictly greater than Since match.
	Since time.Time
}

// Registry is the durable storage capability this core depends on. It is the
// only shared mutable resource; the core treats it as opaque and never
// caches or mutates envelopes once submitted.
//
// Implementations must guarantee:
//   - Query results are finite, materialized and ordered ascending by
//     CreatedAt (ties broken by Version).
//   - Store compares the record's Version against the entity's current
//     position atomically with the write, and rejects a stale write with a
//     *VersionConflictError. Any other failure is a distinct error kind and
//     is never retried by the core.
type Registry interface {
	// Query returns all event envelopes matching the filter, oldest first.
	// An empty result is not an error.
	Query(ctx context.Context, filter Filter) ([]Envelope, error)

	// LatestSnapshot returns the single most recent snapshot for the
	// entity identified by the filter, or ErrSnapshotNotFound when none
	// exists. It never returns a zero-value snapshot.
	LatestSnapshot(ctx context.Context, filter Filter) (SnapshotEnvelope, error)

	// Store persists exactly one record, event or snapshot.
	Store(ctx context.Context, record Record) error
}
