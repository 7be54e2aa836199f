package logging_test

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"

	es "github.com/entitystream/eventstore"
	"github.com/entitystream/eventstore/logging"
)

func TestWithLoggingMiddleware_PassesThrough(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	var received []es.PendingEnvelope
	next := es.NewDispatcherFunc(func(ctx context.Context, envelopes []es.PendingEnvelope) error {
		received = envelopes
		return nil
	})

	dispatcher := logging.WithLoggingMiddleware(logger, next)

	ctx := es.WithEntity(es.WithRequestID(context.Background(), "req-9"), "order", "order-1")
	batch := []es.PendingEnvelope{es.NewPendingEnvelope("order", "order-1", "OrderPlaced", struct{}{}, 1)}
	if err := dispatcher.Dispatch(ctx, batch); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	if len(received) != 1 {
		t.Fatalf("expected the batch forwarded, got %d envelopes", len(received))
	}
	out := buf.String()
	if !strings.Contains(out, "batch dispatched successfully") {
		t.Errorf("expected success log, got %q", out)
	}
	if !strings.Contains(out, "order-1") || !strings.Contains(out, "req-9") {
		t.Errorf("expected entity and request context in log, got %q", out)
	}
}

func TestWithLoggingMiddleware_LogsAndReturnsError(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	boom := errors.New("downstream offline")
	next := es.NewDispatcherFunc(func(ctx context.Context, envelopes []es.PendingEnvelope) error {
		return boom
	})

	dispatcher := logging.WithLoggingMiddleware(logger, next)
	err := dispatcher.Dispatch(context.Background(), nil)
	if !errors.Is(err, boom) {
		t.Fatalf("expected the dispatch error returned, got %v", err)
	}
	if !strings.Contains(buf.String(), "error dispatching batch") {
		t.Errorf("expected error log, got %q", buf.String())
	}
}
