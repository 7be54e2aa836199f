package eventstore_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"reflect"
	"testing"
	"time"

	es "github.com/entitystream/eventstore"
	"github.com/entitystream/eventstore/fixtures"
	"github.com/entitystream/eventstore/registry/memory"
)

// Test payload types

type OrderPlaced struct {
	OrderID    string
	CustomerID string
}

type ItemAdded struct {
	OrderID string
	ItemID  string
	Qty     int
}

type orderState struct {
	Placed bool
	Items  int
}

// Helper functions

func newPending(entityID, eventType string, value any, version uint64, at time.Time) es.PendingEnvelope {
	return es.NewPendingEnvelope("order", entityID, eventType, value, version, es.WithCreatedAt(at))
}

func quietStore(registry es.Registry, options ...es.StoreOption) *es.Store {
	options = append([]es.StoreOption{
		es.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		es.WithRetryStrategy(es.ConstantRetryStrategy(0, 3)),
	}, options...)
	return es.NewStore(registry, options...)
}

func conflictErr() error {
	return &es.VersionConflictError{EntityTypeName: "order", EntityID: "order-1", Expected: 1, Actual: 3}
}

// ReadEvents

func TestReadEvents_EmptyStream(t *testing.T) {
	store := quietStore(memory.NewRegistry())

	envelopes, err := store.ReadEvents(context.Background(), "order", "order-1", time.Time{})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if len(envelopes) != 0 {
		t.Errorf("expected empty result, got %d envelopes", len(envelopes))
	}
}

func TestReadEvents_PreservesStoreOrder(t *testing.T) {
	registry := memory.NewRegistry()
	store := quietStore(registry)
	ctx := context.Background()

	base := time.Now()
	batch := []es.PendingEnvelope{
		newPending("order-1", "OrderPlaced", OrderPlaced{OrderID: "order-1"}, 1, base),
		newPending("order-1", "ItemAdded", ItemAdded{OrderID: "order-1", ItemID: "item-1", Qty: 2}, 2, base.Add(time.Millisecond)),
		newPending("order-1", "ItemAdded", ItemAdded{OrderID: "order-1", ItemID: "item-2", Qty: 1}, 3, base.Add(2*time.Millisecond)),
	}
	if err := store.StoreEvents(ctx, batch, nil); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	envelopes, err := store.ReadEvents(ctx, "order", "order-1", time.Time{})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if len(envelopes) != 3 {
		t.Fatalf("expected 3 envelopes, got %d", len(envelopes))
	}
	for i, envelope := range envelopes {
		if envelope.Version != uint64(i+1) {
			t.Errorf("envelope %d: expected version %d, got %d", i, i+1, envelope.Version)
		}
		if envelope.PersistedAt.IsZero() {
			t.Errorf("envelope %d: expected PersistedAt to be set", i)
		}
	}
}

func TestReadEvents_SinceIsExclusive(t *testing.T) {
	registry := memory.NewRegistry()
	store := quietStore(registry)
	ctx := context.Background()

	t1 := time.Now()
	t2 := t1.Add(time.Second)
	batch := []es.PendingEnvelope{
		newPending("order-1", "OrderPlaced", OrderPlaced{OrderID: "order-1"}, 1, t1),
		newPending("order-1", "ItemAdded", ItemAdded{OrderID: "order-1", ItemID: "item-1", Qty: 1}, 2, t2),
	}
	if err := store.StoreEvents(ctx, batch, nil); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	envelopes, err := store.ReadEvents(ctx, "order", "order-1", t1)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if len(envelopes) != 1 {
		t.Fatalf("expected 1 envelope, got %d", len(envelopes))
	}
	if envelopes[0].EventType != "ItemAdded" {
		t.Errorf("expected ItemAdded, got %s", envelopes[0].EventType)
	}
}

func TestReadEvents_RegistryErrorPropagatesUnchanged(t *testing.T) {
	boom := &es.RegistryError{Err: errors.New("disk on fire")}
	registry := fixtures.NewRegistrySpy().FailQuery(boom)
	store := quietStore(registry)

	_, err := store.ReadEvents(context.Background(), "order", "order-1", time.Time{})
	if !errors.Is(err, boom) {
		t.Fatalf("expected the registry error unchanged, got %v", err)
	}
}

// LatestSnapshot

func TestLatestSnapshot_AbsentIsNotFound(t *testing.T) {
	store := quietStore(memory.NewRegistry())

	_, err := store.LatestSnapshot(context.Background(), "order", "order-1")
	if !errors.Is(err, es.ErrSnapshotNotFound) {
		t.Fatalf("expected ErrSnapshotNotFound, got %v", err)
	}
}

func TestLatestSnapshot_IdempotentLookup(t *testing.T) {
	registry := memory.NewRegistry()
	store := quietStore(registry)
	ctx := context.Background()

	snapshot := es.NewSnapshotEnvelope("order", "order-1", orderState{Placed: true, Items: 2}, 2)
	if err := store.StoreSnapshot(ctx, snapshot); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	first, err := store.LatestSnapshot(ctx, "order", "order-1")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	second, err := store.LatestSnapshot(ctx, "order", "order-1")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if !reflect.DeepEqual(first, second) {
		t.Errorf("expected equal snapshots, got %+v and %+v", first, second)
	}
}

// StoreEvents

func TestStoreEvents_RetryBoundedness(t *testing.T) {
	maxAttempts := uint64(3)

	for k := 0; k <= 4; k++ {
		registry := fixtures.NewRegistrySpy().FailStoreTimes(k, conflictErr())
		store := quietStore(registry, es.WithRetryStrategy(es.ConstantRetryStrategy(0, maxAttempts)))

		batch := []es.PendingEnvelope{newPending("order-1", "OrderPlaced", OrderPlaced{OrderID: "order-1"}, 1, time.Now())}
		err := store.StoreEvents(context.Background(), batch, nil)

		if k < int(maxAttempts) {
			if err != nil {
				t.Errorf("k=%d: expected success, got %v", k, err)
			}
		} else {
			var conflict *es.VersionConflictError
			if !errors.As(err, &conflict) {
				t.Errorf("k=%d: expected conflict error, got %v", k, err)
			}
			if registry.StoreCalls > int(maxAttempts) {
				t.Errorf("k=%d: expected at most %d attempts, got %d", k, maxAttempts, registry.StoreCalls)
			}
		}
	}
}

func TestStoreEvents_RegistryErrorNotRetried(t *testing.T) {
	boom := &es.RegistryError{Err: errors.New("permission denied")}
	registry := fixtures.NewRegistrySpy().FailStoreAlways(boom)
	store := quietStore(registry)

	batch := []es.PendingEnvelope{newPending("order-1", "OrderPlaced", OrderPlaced{OrderID: "order-1"}, 1, time.Now())}
	err := store.StoreEvents(context.Background(), batch, nil)

	if !errors.Is(err, boom) {
		t.Fatalf("expected the registry error unchanged, got %v", err)
	}
	if registry.StoreCalls != 1 {
		t.Errorf("expected exactly 1 attempt, got %d", registry.StoreCalls)
	}
}

func TestStoreEvents_PartialBatchDurability(t *testing.T) {
	var stored []es.Record
	attempts := map[uint64]int{}

	registry := fixtures.NewRegistrySpy()
	registry.StoreFn = func(ctx context.Context, record es.Record) error {
		envelope := record.(es.Envelope)
		attempts[envelope.Version]++
		if envelope.Version == 2 {
			return conflictErr()
		}
		stored = append(stored, record)
		return nil
	}
	store := quietStore(registry, es.WithRetryStrategy(es.ConstantRetryStrategy(0, 2)))
	sink := fixtures.NewDispatcherSpy()

	base := time.Now()
	batch := []es.PendingEnvelope{
		newPending("order-1", "OrderPlaced", OrderPlaced{OrderID: "order-1"}, 1, base),
		newPending("order-1", "ItemAdded", ItemAdded{OrderID: "order-1", ItemID: "item-1", Qty: 1}, 2, base.Add(time.Millisecond)),
		newPending("order-1", "ItemAdded", ItemAdded{OrderID: "order-1", ItemID: "item-2", Qty: 1}, 3, base.Add(2*time.Millisecond)),
	}
	err := store.StoreEvents(context.Background(), batch, sink)

	var conflict *es.VersionConflictError
	if !errors.As(err, &conflict) {
		t.Fatalf("expected conflict error, got %v", err)
	}
	if len(stored) != 1 {
		t.Fatalf("expected exactly the first envelope stored, got %d", len(stored))
	}
	if stored[0].(es.Envelope).Version != 1 {
		t.Errorf("expected version 1 stored, got %d", stored[0].(es.Envelope).Version)
	}
	if attempts[3] != 0 {
		t.Errorf("expected the third envelope never attempted, got %d attempts", attempts[3])
	}
	if attempts[2] != 2 {
		t.Errorf("expected the second envelope attempted twice, got %d", attempts[2])
	}
	if sink.DispatchCalls != 0 {
		t.Errorf("expected no dispatch on failed batch, got %d", sink.DispatchCalls)
	}
}

func TestStoreEvents_DispatchAfterSuccess(t *testing.T) {
	registry := fixtures.NewRegistrySpy()
	sink := fixtures.NewDispatcherSpy()
	store := quietStore(registry)

	base := time.Now()
	batch := []es.PendingEnvelope{
		newPending("order-1", "OrderPlaced", OrderPlaced{OrderID: "order-1"}, 1, base),
		newPending("order-1", "ItemAdded", ItemAdded{OrderID: "order-1", ItemID: "item-1", Qty: 1}, 2, base.Add(time.Millisecond)),
	}
	if err := store.StoreEvents(context.Background(), batch, sink); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	if sink.DispatchCalls != 1 {
		t.Fatalf("expected exactly one dispatch, got %d", sink.DispatchCalls)
	}
	dispatched := sink.LastBatch()
	if len(dispatched) != 2 {
		t.Fatalf("expected 2 envelopes dispatched, got %d", len(dispatched))
	}
	for i := range dispatched {
		if dispatched[i].EventID != batch[i].EventID {
			t.Errorf("envelope %d: dispatch order or content differs from input", i)
		}
	}
	if registry.StoreCalls != 2 {
		t.Errorf("expected 2 stores before dispatch, got %d", registry.StoreCalls)
	}
}

func TestStoreEvents_DispatchFailureIsDistinct(t *testing.T) {
	registry := fixtures.NewRegistrySpy()
	sink := fixtures.NewDispatcherSpy().FailOnDispatch(errors.New("handler offline"))
	store := quietStore(registry)

	batch := []es.PendingEnvelope{newPending("order-1", "OrderPlaced", OrderPlaced{OrderID: "order-1"}, 1, time.Now())}
	err := store.StoreEvents(context.Background(), batch, sink)

	var dispatchErr *es.DispatchError
	if !errors.As(err, &dispatchErr) {
		t.Fatalf("expected DispatchError, got %v", err)
	}
	// The batch stays durable; only delivery failed.
	if len(registry.StoredRecords) != 1 {
		t.Errorf("expected the envelope to remain stored, got %d records", len(registry.StoredRecords))
	}
	if sink.DispatchCalls != 1 {
		t.Errorf("expected no dispatch retry, got %d calls", sink.DispatchCalls)
	}
}

func TestStoreEvents_FreshPersistedAtPerAttempt(t *testing.T) {
	var persistedAts []time.Time
	registry := fixtures.NewRegistrySpy()
	registry.StoreFn = func(ctx context.Context, record es.Record) error {
		envelope := record.(es.Envelope)
		persistedAts = append(persistedAts, envelope.PersistedAt)
		if len(persistedAts) == 1 {
			return conflictErr()
		}
		return nil
	}

	tick := time.Now()
	clock := func() time.Time {
		tick = tick.Add(time.Second)
		return tick
	}
	store := quietStore(registry, es.WithClock(clock))

	batch := []es.PendingEnvelope{newPending("order-1", "OrderPlaced", OrderPlaced{OrderID: "order-1"}, 1, time.Now())}
	if err := store.StoreEvents(context.Background(), batch, nil); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	if len(persistedAts) != 2 {
		t.Fatalf("expected 2 attempts, got %d", len(persistedAts))
	}
	if !persistedAts[1].After(persistedAts[0]) {
		t.Errorf("expected a fresh PersistedAt on retry, got %v then %v", persistedAts[0], persistedAts[1])
	}
}

func TestStoreEvents_RequestIDFromContext(t *testing.T) {
	registry := fixtures.NewRegistrySpy()
	store := quietStore(registry)

	ctx := es.WithRequestID(context.Background(), "req-42")
	batch := []es.PendingEnvelope{newPending("order-1", "OrderPlaced", OrderPlaced{OrderID: "order-1"}, 1, time.Now())}
	if err := store.StoreEvents(ctx, batch, nil); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	stored := registry.StoredEvents()
	if len(stored) != 1 {
		t.Fatalf("expected 1 stored envelope, got %d", len(stored))
	}
	if stored[0].RequestID != "req-42" {
		t.Errorf("expected request ID from context, got %q", stored[0].RequestID)
	}
}

// StoreSnapshot

func TestStoreSnapshot_RetryBoundedness(t *testing.T) {
	maxAttempts := uint64(2)

	registry := fixtures.NewRegistrySpy().FailStoreTimes(1, conflictErr())
	store := quietStore(registry, es.WithRetryStrategy(es.ConstantRetryStrategy(0, maxAttempts)))

	snapshot := es.NewSnapshotEnvelope("order", "order-1", orderState{Placed: true}, 1)
	if err := store.StoreSnapshot(context.Background(), snapshot); err != nil {
		t.Fatalf("expected success after one conflict, got %v", err)
	}
	if registry.StoreCalls != 2 {
		t.Errorf("expected 2 attempts, got %d", registry.StoreCalls)
	}
}

func TestStoreSnapshot_RegistryErrorNotRetried(t *testing.T) {
	boom := &es.RegistryError{Err: errors.New("serialization broke")}
	registry := fixtures.NewRegistrySpy().FailStoreAlways(boom)
	store := quietStore(registry)

	snapshot := es.NewSnapshotEnvelope("order", "order-1", orderState{}, 1)
	err := store.StoreSnapshot(context.Background(), snapshot)
	if !errors.Is(err, boom) {
		t.Fatalf("expected the registry error unchanged, got %v", err)
	}
	if registry.StoreCalls != 1 {
		t.Errorf("expected exactly 1 attempt, got %d", registry.StoreCalls)
	}
}

// Scenario from the drawing board: entity order-1, no prior events.

func TestScenario_OrderLifecycle(t *testing.T) {
	registry := memory.NewRegistry()
	store := quietStore(registry)
	ctx := context.Background()

	envelopes, err := store.ReadEvents(ctx, "order", "order-1", time.Time{})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if len(envelopes) != 0 {
		t.Fatalf("expected empty history, got %d", len(envelopes))
	}

	t1 := time.Now()
	t2 := t1.Add(time.Second)
	e1 := newPending("order-1", "OrderPlaced", OrderPlaced{OrderID: "order-1"}, 1, t1)
	e2 := newPending("order-1", "ItemAdded", ItemAdded{OrderID: "order-1", ItemID: "item-1", Qty: 1}, 2, t2)
	if err := store.StoreEvents(ctx, []es.PendingEnvelope{e1, e2}, nil); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	envelopes, err = store.ReadEvents(ctx, "order", "order-1", time.Time{})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if len(envelopes) != 2 || envelopes[0].EventID != e1.EventID || envelopes[1].EventID != e2.EventID {
		t.Fatalf("expected [e1, e2], got %+v", envelopes)
	}

	envelopes, err = store.ReadEvents(ctx, "order", "order-1", t1)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if len(envelopes) != 1 || envelopes[0].EventID != e2.EventID {
		t.Fatalf("expected [e2], got %+v", envelopes)
	}
}

// Rehydrate

func TestRehydrate_FullReplayWithoutSnapshot(t *testing.T) {
	registry := memory.NewRegistry()
	store := quietStore(registry)
	ctx := context.Background()

	base := time.Now()
	batch := []es.PendingEnvelope{
		newPending("order-1", "OrderPlaced", OrderPlaced{OrderID: "order-1"}, 1, base),
		newPending("order-1", "ItemAdded", ItemAdded{OrderID: "order-1", ItemID: "item-1", Qty: 1}, 2, base.Add(time.Millisecond)),
	}
	if err := store.StoreEvents(ctx, batch, nil); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	state, version, err := es.Rehydrate(ctx, store, "order", "order-1", orderState{}, foldOrder)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if !state.Placed || state.Items != 1 {
		t.Errorf("unexpected state %+v", state)
	}
	if version != 2 {
		t.Errorf("expected version 2, got %d", version)
	}
}

func TestRehydrate_SnapshotShortensReplay(t *testing.T) {
	registry := memory.NewRegistry()
	store := quietStore(registry)
	ctx := context.Background()

	base := time.Now()
	batch := []es.PendingEnvelope{
		newPending("order-1", "OrderPlaced", OrderPlaced{OrderID: "order-1"}, 1, base),
		newPending("order-1", "ItemAdded", ItemAdded{OrderID: "order-1", ItemID: "item-1", Qty: 1}, 2, base.Add(time.Millisecond)),
	}
	if err := store.StoreEvents(ctx, batch, nil); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	snapshot := es.SnapshotEnvelope{
		EntityTypeName: "order",
		EntityID:       "order-1",
		Kind:           es.KindSnapshot,
		Value:          orderState{Placed: true, Items: 1},
		Version:        2,
		CreatedAt:      base.Add(time.Millisecond),
	}
	if err := store.StoreSnapshot(ctx, snapshot); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	later := []es.PendingEnvelope{
		newPending("order-1", "ItemAdded", ItemAdded{OrderID: "order-1", ItemID: "item-2", Qty: 1}, 3, base.Add(2*time.Millisecond)),
	}
	if err := store.StoreEvents(ctx, later, nil); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	state, version, err := es.Rehydrate(ctx, store, "order", "order-1", orderState{}, foldOrder)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if state.Items != 2 {
		t.Errorf("expected 2 items after snapshot + 1 event, got %d", state.Items)
	}
	if version != 3 {
		t.Errorf("expected version 3, got %d", version)
	}
}

func foldOrder(state orderState, envelope es.Envelope) orderState {
	switch envelope.Value.(type) {
	case OrderPlaced:
		state.Placed = true
	case ItemAdded:
		state.Items++
	}
	return state
}
