package otel

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/entitystream/eventstore"
)

const (
	instrumentationName = "github.com/entitystream/eventstore"
)

// Semantic attribute keys following OpenTelemetry conventions
const (
	AttrEntityTypeName = attribute.Key("eventstore.entity.type_name")
	AttrEntityID       = attribute.Key("eventstore.entity.id")
	AttrRecordKind     = attribute.Key("eventstore.record.kind")
	AttrEventType      = attribute.Key("eventstore.event.type")
	AttrEventCount     = attribute.Key("eventstore.events.count")
	AttrVersion        = attribute.Key("eventstore.record.version")
	AttrOperation      = attribute.Key("eventstore.operation")
)

var (
	meter  = otel.Meter(instrumentationName, metric.WithInstrumentationVersion(eventstore.InstrumentationVersion))
	tracer = otel.Tracer(instrumentationName, trace.WithInstrumentationVersion(eventstore.InstrumentationVersion))

	// Registry metrics
	EventsAppended, _ = meter.Int64Counter(
		"eventstore.events.appended",
		metric.WithDescription("Number of event envelopes durably stored"),
		metric.WithUnit("{event}"),
	)

	EventsLoaded, _ = meter.Int64Counter(
		"eventstore.events.loaded",
		metric.WithDescription("Number of event envelopes returned by queries"),
		metric.WithUnit("{event}"),
	)

	SnapshotsStored, _ = meter.Int64Counter(
		"eventstore.snapshots.stored",
		metric.WithDescription("Number of snapshots durably stored"),
		metric.WithUnit("{snapshot}"),
	)

	SnapshotsLoaded, _ = meter.Int64Counter(
		"eventstore.snapshots.loaded",
		metric.WithDescription("Number of latest-snapshot lookups that found one"),
		metric.WithUnit("{snapshot}"),
	)

	ConcurrencyConflicts, _ = meter.Int64Counter(
		"eventstore.concurrency.conflicts",
		metric.WithDescription("Number of version conflicts rejected at store time"),
		metric.WithUnit("{conflict}"),
	)

	RegistryErrors, _ = meter.Int64Counter(
		"eventstore.registry.errors",
		metric.WithDescription("Number of non-conflict registry failures"),
		metric.WithUnit("{error}"),
	)

	RegistryDuration, _ = meter.Float64Histogram(
		"eventstore.registry.duration",
		metric.WithDescription("Registry operation duration"),
		metric.WithUnit("ms"),
		metric.WithExplicitBucketBoundaries(1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000),
	)
)
