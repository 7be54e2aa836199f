package eventstore

import (
	"errors"
	"testing"
)

func TestErrorStrings(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{
			name: "VersionConflictError",
			err: &VersionConflictError{
				EntityTypeName: "order",
				EntityID:       "order-1",
				Expected:       5,
				Actual:         7,
			},
			want: "version conflict on order/order-1: expected version 5, actual 7",
		},
		{
			name: "RegistryError",
			err:  &RegistryError{Err: errors.New("connection refused")},
			want: "registry error: connection refused",
		},
		{
			name: "DispatchError",
			err:  &DispatchError{Err: errors.New("handler offline")},
			want: "events persisted but dispatch failed: handler offline",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.err.Error()
			if got != tt.want {
				t.Errorf("Error() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestWrapRegistryError(t *testing.T) {
	if WrapRegistryError(nil) != nil {
		t.Error("expected nil for nil error")
	}

	inner := errors.New("bad sector")
	wrapped := WrapRegistryError(inner)
	var registryErr *RegistryError
	if !errors.As(wrapped, &registryErr) {
		t.Fatalf("expected RegistryError, got %T", wrapped)
	}
	if !errors.Is(wrapped, inner) {
		t.Error("expected the inner error to stay reachable")
	}

	// Conflicts must keep their own kind or the retry policy cannot see them.
	conflict := &VersionConflictError{EntityTypeName: "order", EntityID: "order-1"}
	if got := WrapRegistryError(conflict); got != conflict {
		t.Errorf("expected conflict passed through, got %v", got)
	}
}
