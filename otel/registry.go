package otel

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/entitystream/eventstore"
)

var _ eventstore.Registry = (*TelemetryRegistry)(nil)

// TelemetryRegistry decorates a Registry with spans and metrics. It is
// purely observational: every call, result and error is forwarded unchanged.
type TelemetryRegistry struct {
	next eventstore.Registry
}

// WithRegistryTelemetry wraps the given registry.
func WithRegistryTelemetry(next eventstore.Registry) eventstore.Registry {
	return TelemetryRegistry{next: next}
}

func (t TelemetryRegistry) Query(ctx context.Context, filter eventstore.Filter) ([]eventstore.Envelope, error) {
	ctx, span := tracer.Start(ctx, "Registry.Query",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			AttrOperation.String("query"),
			AttrEntityTypeName.String(filter.EntityTypeName),
			AttrEntityID.String(filter.EntityID),
		),
	)
	defer span.End()

	start := time.Now()
	envelopes, err := t.next.Query(ctx, filter)

	RegistryDuration.Record(ctx, float64(time.Since(start).Milliseconds()),
		metric.WithAttributes(AttrOperation.String("query")),
	)

	if err != nil {
		RegistryErrors.Add(ctx, 1)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return envelopes, err
	}

	EventsLoaded.Add(ctx, int64(len(envelopes)))
	span.SetAttributes(AttrEventCount.Int64(int64(len(envelopes))))

	return envelopes, nil
}

func (t TelemetryRegistry) LatestSnapshot(ctx context.Context, filter eventstore.Filter) (eventstore.SnapshotEnvelope, error) {
	ctx, span := tracer.Start(ctx, "Registry.LatestSnapshot",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			AttrOperation.String("latest_snapshot"),
			AttrEntityTypeName.String(filter.EntityTypeName),
			AttrEntityID.String(filter.EntityID),
		),
	)
	defer span.End()

	start := time.Now()
	snapshot, err := t.next.LatestSnapshot(ctx, filter)

	RegistryDuration.Record(ctx, float64(time.Since(start).Milliseconds()),
		metric.WithAttributes(AttrOperation.String("latest_snapshot")),
	)

	if err != nil {
		// Absence is a defined outcome, not a failure.
		if !errors.Is(err, eventstore.ErrSnapshotNotFound) {
			RegistryErrors.Add(ctx, 1)
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		return snapshot, err
	}

	SnapshotsLoaded.Add(ctx, 1)
	span.SetAttributes(AttrVersion.Int64(int64(snapshot.Version)))

	return snapshot, nil
}

func (t TelemetryRegistry) Store(ctx context.Context, record eventstore.Record) error {
	kind := record.RecordKind()

	ctx, span := tracer.Start(ctx, "Registry.Store",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			AttrOperation.String("store"),
			AttrRecordKind.String(string(kind)),
		),
	)
	defer span.End()

	start := time.Now()
	err := t.next.Store(ctx, record)

	RegistryDuration.Record(ctx, float64(time.Since(start).Milliseconds()),
		metric.WithAttributes(AttrOperation.String("store")),
	)

	if err != nil {
		var conflict *eventstore.VersionConflictError
		if errors.As(err, &conflict) {
			ConcurrencyConflicts.Add(ctx, 1)
		} else {
			RegistryErrors.Add(ctx, 1)
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	switch kind {
	case eventstore.KindEvent:
		EventsAppended.Add(ctx, 1)
	case eventstore.KindSnapshot:
		SnapshotsStored.Add(ctx, 1)
	}

	return nil
}
