package fixtures

import (
	"context"
	"sync"

	es "github.com/entitystream/eventstore"
)

// RegistrySpy is a configurable mock Registry for testing. It tracks calls
// and allows injecting custom behavior or failures.
type RegistrySpy struct {
	mu sync.Mutex

	// Function overrides for custom behavior
	QueryFn          func(ctx context.Context, filter es.Filter) ([]es.Envelope, error)
	LatestSnapshotFn func(ctx context.Context, filter es.Filter) (es.SnapshotEnvelope, error)
	StoreFn          func(ctx context.Context, record es.Record) error

	// Call tracking
	QueryCalls          int
	LatestSnapshotCalls int
	StoreCalls          int

	// Captured arguments
	LastFilter    es.Filter
	StoredRecords []es.Record

	// Error injection
	storeErr       error
	storeFailures  int
	queryErr       error
	latestSnapshot *es.SnapshotEnvelope
}

// NewRegistrySpy creates a RegistrySpy with empty state.
func NewRegistrySpy() *RegistrySpy {
	return &RegistrySpy{}
}

// FailStoreTimes makes the next n Store calls fail with err, after which
// stores succeed again.
func (r *RegistrySpy) FailStoreTimes(n int, err error) *RegistrySpy {
	r.storeFailures = n
	r.storeErr = err
	return r
}

// FailStoreAlways makes every Store call fail with err.
func (r *RegistrySpy) FailStoreAlways(err error) *RegistrySpy {
	r.storeFailures = -1
	r.storeErr = err
	return r
}

// FailQuery makes Query return err.
func (r *RegistrySpy) FailQuery(err error) *RegistrySpy {
	r.queryErr = err
	return r
}

// WithSnapshot pre-populates the latest snapshot.
func (r *RegistrySpy) WithSnapshot(snapshot es.SnapshotEnvelope) *RegistrySpy {
	r.latestSnapshot = &snapshot
	return r
}

// Query implements Registry.Query. Without an override it returns the
// event envelopes recorded by Store, filtered on entity and Since.
func (r *RegistrySpy) Query(ctx context.Context, filter es.Filter) ([]es.Envelope, error) {
	r.mu.Lock()
	r.QueryCalls++
	r.LastFilter = filter
	fn := r.QueryFn
	queryErr := r.queryErr
	records := make([]es.Record, len(r.StoredRecords))
	copy(records, r.StoredRecords)
	r.mu.Unlock()

	if fn != nil {
		return fn(ctx, filter)
	}
	if queryErr != nil {
		return nil, queryErr
	}

	var matches []es.Envelope
	for _, record := range records {
		envelope, ok := record.(es.Envelope)
		if !ok {
			continue
		}
		if filter.Kind != "" && envelope.Kind != filter.Kind {
			continue
		}
		if envelope.EntityTypeName != filter.EntityTypeName || envelope.EntityID != filter.EntityID {
			continue
		}
		if !filter.Since.IsZero() && !envelope.CreatedAt.After(filter.Since) {
			continue
		}
		matches = append(matches, envelope)
	}
	return matches, nil
}

// LatestSnapshot implements Registry.LatestSnapshot.
func (r *RegistrySpy) LatestSnapshot(ctx context.Context, filter es.Filter) (es.SnapshotEnvelope, error) {
	r.mu.Lock()
	r.LatestSnapshotCalls++
	r.LastFilter = filter
	fn := r.LatestSnapshotFn
	snapshot := r.latestSnapshot
	r.mu.Unlock()

	if fn != nil {
		return fn(ctx, filter)
	}
	if snapshot == nil {
		return es.SnapshotEnvelope{}, es.ErrSnapshotNotFound
	}
	return *snapshot, nil
}

// Store implements Registry.Store, recording every successfully stored
// record.
func (r *RegistrySpy) Store(ctx context.Context, record es.Record) error {
	r.mu.Lock()
	r.StoreCalls++
	fn := r.StoreFn
	var err error
	if fn == nil && r.storeFailures != 0 && r.storeErr != nil {
		if r.storeFailures > 0 {
			r.storeFailures--
		}
		err = r.storeErr
	}
	if fn == nil && err == nil {
		r.StoredRecords = append(r.StoredRecords, record)
	}
	r.mu.Unlock()

	if fn != nil {
		return fn(ctx, record)
	}
	return err
}

// StoredEvents returns the event envelopes stored so far, in store order.
func (r *RegistrySpy) StoredEvents() []es.Envelope {
	r.mu.Lock()
	defer r.mu.Unlock()

	var envelopes []es.Envelope
	for _, record := range r.StoredRecords {
		if envelope, ok := record.(es.Envelope); ok {
			envelopes = append(envelopes, envelope)
		}
	}
	return envelopes
}
