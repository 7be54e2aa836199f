package eventstore

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// storedEvent is the wire layout durable registries keep on disk. The
// payload is serialized separately so it can be decoded back into the
// registered concrete type.
type storedEvent struct {
	EventID        uuid.UUID       `json:"eventId"`
	EntityTypeName string          `json:"entityTypeName"`
	EntityID       string          `json:"entityId"`
	Kind           Kind            `json:"kind"`
	EventType      string          `json:"typeName"`
	Value          json.RawMessage `json:"value"`
	Version        uint64          `json:"version"`
	CreatedAt      time.Time       `json:"createdAt"`
	PersistedAt    time.Time       `json:"persistedAt"`
	RequestID      string          `json:"requestID,omitempty"`
	Metadata       map[string]any  `json:"metadata,omitempty"`
}

type storedSnapshot struct {
	EntityTypeName string          `json:"entityTypeName"`
	EntityID       string          `json:"entityId"`
	Kind           Kind            `json:"kind"`
	Value          json.RawMessage `json:"value"`
	Version        uint64          `json:"version"`
	CreatedAt      time.Time       `json:"createdAt"`
	PersistedAt    time.Time       `json:"persistedAt"`
}

// MarshalEnvelope serializes an event envelope for durable storage.
func MarshalEnvelope(envelope Envelope) ([]byte, error) {
	value, err := json.Marshal(envelope.Value)
	if err != nil {
		return nil, err
	}
	return json.Marshal(storedEvent{
		EventID:        envelope.EventID,
		EntityTypeName: envelope.EntityTypeName,
		EntityID:       envelope.EntityID,
		Kind:           envelope.Kind,
		EventType:      envelope.EventType,
		Value:          value,
		Version:        envelope.Version,
		CreatedAt:      envelope.CreatedAt,
		PersistedAt:    envelope.PersistedAt,
		RequestID:      envelope.RequestID,
		Metadata:       envelope.Metadata,
	})
}

// UnmarshalEnvelope decodes a stored event, reconstructing the payload via
// the registered event value type.
func UnmarshalEnvelope(data []byte) (Envelope, error) {
	var stored storedEvent
	if err := json.Unmarshal(data, &stored); err != nil {
		return Envelope{}, err
	}

	value, err := NewEventValue(stored.EventType)
	if err != nil {
		return Envelope{}, err
	}
	if err := json.Unmarshal(stored.Value, value); err != nil {
		return Envelope{}, err
	}

	return Envelope{
		EventID:        stored.EventID,
		EntityTypeName: stored.EntityTypeName,
		EntityID:       stored.EntityID,
		Kind:           stored.Kind,
		EventType:      stored.EventType,
		Value:          value,
		Version:        stored.Version,
		CreatedAt:      stored.CreatedAt,
		PersistedAt:    stored.PersistedAt,
		RequestID:      stored.RequestID,
		Metadata:       stored.Metadata,
	}, nil
}

// MarshalSnapshot serializes a snapshot envelope for durable storage.
func MarshalSnapshot(snapshot SnapshotEnvelope) ([]byte, error) {
	value, err := json.Marshal(snapshot.Value)
	if err != nil {
		return nil, err
	}
	return json.Marshal(storedSnapshot{
		EntityTypeName: snapshot.EntityTypeName,
		EntityID:       snapshot.EntityID,
		Kind:           snapshot.Kind,
		Value:          value,
		Version:        snapshot.Version,
		CreatedAt:      snapshot.CreatedAt,
		PersistedAt:    snapshot.PersistedAt,
	})
}

// UnmarshalSnapshot decodes a stored snapshot via the registered snapshot
// value type for the entity.
func UnmarshalSnapshot(data []byte) (SnapshotEnvelope, error) {
	var stored storedSnapshot
	if err := json.Unmarshal(data, &stored); err != nil {
		return SnapshotEnvelope{}, err
	}

	value, err := NewSnapshotValue(stored.EntityTypeName)
	if err != nil {
		return SnapshotEnvelope{}, err
	}
	if err := json.Unmarshal(stored.Value, value); err != nil {
		return SnapshotEnvelope{}, err
	}

	return SnapshotEnvelope{
		EntityTypeName: stored.EntityTypeName,
		EntityID:       stored.EntityID,
		Kind:           stored.Kind,
		Value:          value,
		Version:        stored.Version,
		CreatedAt:      stored.CreatedAt,
		PersistedAt:    stored.PersistedAt,
	}, nil
}
