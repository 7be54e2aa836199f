// Package eventstore is an event-sourcing persistence core. It appends
// immutable domain events for an entity, reconstructs entity state from
// event history shortened by snapshots, and guards each entity stream with
// optimistic concurrency: a version check at store time plus a bounded retry
// that touches nothing but the conflict case.
//
// The core is stateless between calls. Durable ownership of envelopes
// belongs to a Registry implementation (registry/memory, registry/bbolt,
// registry/sqlite); downstream delivery belongs to a Dispatcher the caller
// supplies per batch.
package eventstore

// InstrumentationVersion is reported with telemetry emitted by this module.
const InstrumentationVersion = "0.1.0"
