package eventstore

import (
	"errors"
	"fmt"
)

// ErrSnapshotNotFound signals that no snapshot exists for an entity. Callers
// must treat it as "replay from origin", not as a failure.
var ErrSnapshotNotFound = errors.New("snapshot not found")

// VersionConflictError is returned by a registry when a concurrent writer
// already advanced the entity's position past the one implied by the stored
// record. It is the only error kind the retry policy retries.
type VersionConflictError struct {
	EntityTypeName string
	EntityID       string
	Expected       uint64
	Actual         uint64
}

func (e *VersionConflictError) Error() string {
	return fmt.Sprintf("version conflict on %s/%s: expected version %d, actual %d",
		e.EntityTypeName, e.EntityID, e.Expected, e.Actual)
}

// RegistryError wraps any non-conflict storage failure. It is never retried;
// the original error stays reachable through Unwrap.
type RegistryError struct {
	Err error
}

func (e *RegistryError) Error() string {
	return fmt.Sprintf("registry error: %v", e.Err)
}

func (e *RegistryError) Unwrap() error {
	return e.Err
}

func WrapRegistryError(err error) error {
	if err == nil {
		return nil
	}
	var conflict *VersionConflictError
	if errors.As(err, &conflict) {
		return err
	}
	return &RegistryError{Err: err}
}

// DispatchError reports a batch that was durably persisted but whose
// downstream dispatch failed. The caller can redeliver without
// re-persisting; re-persisting would duplicate events.
type DispatchError struct {
	Err error
}

func (e *DispatchError) Error() string {
	return fmt.Sprintf("events persisted but dispatch failed: %v", e.Err)
}

func (e *DispatchError) Unwrap() error {
	return e.Err
}
