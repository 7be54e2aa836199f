package fixtures

import (
	"context"
	"sync"

	es "github.com/entitystream/eventstore"
)

// DispatcherSpy is a configurable mock Dispatcher for testing. It captures
// every dispatched batch and allows injecting failures.
type DispatcherSpy struct {
	mu sync.Mutex

	// Function override
	DispatchFn func(ctx context.Context, envelopes []es.PendingEnvelope) error

	// Call tracking
	DispatchCalls int
	Batches       [][]es.PendingEnvelope

	// Error injection
	dispatchErr error
}

// NewDispatcherSpy creates a DispatcherSpy.
func NewDispatcherSpy() *DispatcherSpy {
	return &DispatcherSpy{}
}

// FailOnDispatch configures the spy to return an error on Dispatch.
func (d *DispatcherSpy) FailOnDispatch(err error) *DispatcherSpy {
	d.dispatchErr = err
	return d
}

// Dispatch implements Dispatcher.Dispatch.
func (d *DispatcherSpy) Dispatch(ctx context.Context, envelopes []es.PendingEnvelope) error {
	d.mu.Lock()
	d.DispatchCalls++
	batch := make([]es.PendingEnvelope, len(envelopes))
	copy(batch, envelopes)
	d.Batches = append(d.Batches, batch)
	fn := d.DispatchFn
	err := d.dispatchErr
	d.mu.Unlock()

	if fn != nil {
		return fn(ctx, envelopes)
	}
	return err
}

// LastBatch returns the most recently dispatched batch, or nil.
func (d *DispatcherSpy) LastBatch() []es.PendingEnvelope {
	d.mu.Lock()
	defer d.mu.Unlock()

	if len(d.Batches) == 0 {
		return nil
	}
	return d.Batches[len(d.Batches)-1]
}
