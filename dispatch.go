package eventstore

import "context"

// Dispatcher is the downstream fan-out invoked exactly once per successfully
// stored batch. It receives the envelopes in their original, pre-persistence
// form and order. Dispatch failures are not retried by the store.
type Dispatcher interface {
	Dispatch(ctx context.Context, envelopes []PendingEnvelope) error
}

// NewDispatcherFunc adapts a plain function into a Dispatcher.
func NewDispatcherFunc(fn func(ctx context.Context, envelopes []PendingEnvelope) error) Dispatcher {
	return dispatcherFunc(fn)
}

type dispatcherFunc func(ctx context.Context, envelopes []PendingEnvelope) error

func (d dispatcherFunc) Dispatch(ctx context.Context, envelopes []PendingEnvelope) error {
	return d(ctx, envelopes)
}
