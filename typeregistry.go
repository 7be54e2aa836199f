package eventstore

import (
	"fmt"
	"sync"
)

var (
	// eventValues maps event type names to factory functions. Each factory
	// must return a pointer to a fresh zero value of the payload type, so
	// the codec can unmarshal into it.
	eventValues = map[string]func() any{}

	// snapshotValues maps entity type names to factories for the folded
	// state carried by snapshots.
	snapshotValues = map[string]func() any{}

	// registryMu protects both maps for concurrent registration.
	registryMu sync.RWMutex
)

// RegisterEventValue registers the payload type stored under the given event
// type name. Durable registries need it to round-trip opaque event values.
//
// Panics if the factory is nil, returns nil, or the name is already taken;
// registration is an init-time concern and duplicates are programmer error.
//
// Example:
//
//	RegisterEventValue("OrderPlaced", func() any { return &OrderPlaced{} })
func RegisterEventValue(eventType string, fn func() any) {
	registerValue(eventValues, eventType, fn)
}

// RegisterSnapshotValue registers the folded-state type snapshots carry for
// the given entity type name.
func RegisterSnapshotValue(entityTypeName string, fn func() any) {
	registerValue(snapshotValues, entityTypeName, fn)
}

// NewEventValue returns a fresh payload value for the given event type name,
// or an error if the name was never registered.
func NewEventValue(eventType string) (any, error) {
	return newValue(eventValues, "event", eventType)
}

// NewSnapshotValue returns a fresh folded-state value for the given entity
// type name.
func NewSnapshotValue(entityTypeName string) (any, error) {
	return newValue(snapshotValues, "snapshot", entityTypeName)
}

func registerValue(values map[string]func() any, name string, fn func() any) {
	if fn == nil {
		panic("cannot register nil factory")
	}

	registryMu.Lock()
	defer registryMu.Unlock()

	if _, exists := values[name]; exists {
		panic(fmt.Sprintf("value type already registered: %s", name))
	}

	if fn() == nil {
		panic(fmt.Sprintf("factory returned nil for: %s", name))
	}

	values[name] = fn
}

func newValue(values map[string]func() any, kind, name string) (any, error) {
	registryMu.RLock()
	factory, ok := values[name]
	registryMu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("%s value type not registered: %s", kind, name)
	}
	v := factory()
	if v == nil {
		return nil, fmt.Errorf("factory returned nil for %s value: %s", kind, name)
	}
	return v, nil
}
