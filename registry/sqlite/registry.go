// Package sqlite provides a durable registry on database/sql with the
// go-sqlite3 driver. The unique (entity_type, entity_id, version) index is
// the atomic backstop for the version check: two writers racing past the
// in-transaction comparison still cannot both commit the same position.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"

	sqlite3 "github.com/mattn/go-sqlite3"

	"github.com/entitystream/eventstore"
)

type Registry struct {
	db *sql.DB
}

var _ eventstore.Registry = (*Registry)(nil)

// Open opens the registry stored in the given sqlite DSN (":memory:" for an
// ephemeral one) and runs the migration.
func Open(dsn string) (*Registry, error) {
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, eventstore.WrapRegistryError(err)
	}
	// One connection: sqlite serializes writers anyway, and a pooled
	// ":memory:" DSN would hand every connection its own empty database.
	db.SetMaxOpenConns(1)

	r := &Registry{db: db}
	if err := r.Migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return r, nil
}

// New wraps an already opened database. The caller runs Migrate.
func New(db *sql.DB) *Registry {
	return &Registry{db: db}
}

// Close the connection.
func (r *Registry) Close() error {
	return r.db.Close()
}

// Migrate creates the events and snapshots tables.
func (r *Registry) Migrate() error {
	stmt := `
	create table if not exists events (id integer primary key autoincrement, entity_type varchar not null, entity_id varchar not null, version integer not null, event_type varchar not null, created_at_ns integer not null, data varchar not null);
	create unique index if not exists entity_version on events (entity_type, entity_id, version);
	create index if not exists entity_created_at on events (entity_type, entity_id, created_at_ns);
	create table if not exists snapshots (entity_type varchar not null, entity_id varchar not null, version integer not null, data varchar not null, primary key (entity_type, entity_id));
	`
	_, err := r.db.Exec(stmt)
	return eventstore.WrapRegistryError(err)
}

func (r *Registry) Query(ctx context.Context, filter eventstore.Filter) ([]eventstore.Envelope, error) {
	sinceNS := int64(math.MinInt64)
	if !filter.Since.IsZero() {
		sinceNS = filter.Since.UnixNano()
	}

	statement := `select data from events where entity_type=? and entity_id=? and created_at_ns > ? order by created_at_ns, version`
	rows, err := r.db.QueryContext(ctx, statement, filter.EntityTypeName, filter.EntityID, sinceNS)
	if err != nil {
		return nil, eventstore.WrapRegistryError(err)
	}
	defer rows.Close()

	var envelopes []eventstore.Envelope
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, eventstore.WrapRegistryError(err)
		}
		envelope, err := eventstore.UnmarshalEnvelope(data)
		if err != nil {
			return nil, eventstore.WrapRegistryError(err)
		}
		envelopes = append(envelopes, envelope)
	}
	if err := rows.Err(); err != nil {
		return nil, eventstore.WrapRegistryError(err)
	}

	return envelopes, nil
}

func (r *Registry) LatestSnapshot(ctx context.Context, filter eventstore.Filter) (eventstore.SnapshotEnvelope, error) {
	statement := `select data from snapshots where entity_type=? and entity_id=? limit 1`

	var data []byte
	err := r.db.QueryRowContext(ctx, statement, filter.EntityTypeName, filter.EntityID).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return eventstore.SnapshotEnvelope{}, eventstore.ErrSnapshotNotFound
	}
	if err != nil {
		return eventstore.SnapshotEnvelope{}, eventstore.WrapRegistryError(err)
	}

	snapshot, err := eventstore.UnmarshalSnapshot(data)
	if err != nil {
		return eventstore.SnapshotEnvelope{}, eventstore.WrapRegistryError(err)
	}
	return snapshot, nil
}

func (r *Registry) Store(ctx context.Context, record eventstore.Record) error {
	switch rec := record.(type) {
	case eventstore.Envelope:
		return r.storeEvent(ctx, rec)
	case eventstore.SnapshotEnvelope:
		return r.storeSnapshot(ctx, rec)
	default:
		return eventstore.WrapRegistryError(fmt.Errorf("unknown record kind %q", record.RecordKind()))
	}
}

func (r *Registry) storeEvent(ctx context.Context, envelope eventstore.Envelope) error {
	data, err := eventstore.MarshalEnvelope(envelope)
	if err != nil {
		return eventstore.WrapRegistryError(err)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return eventstore.WrapRegistryError(err)
	}
	defer tx.Rollback()

	var current uint64
	statement := `select coalesce(max(version), 0) from events where entity_type=? and entity_id=?`
	if err := tx.QueryRowContext(ctx, statement, envelope.EntityTypeName, envelope.EntityID).Scan(&current); err != nil {
		return eventstore.WrapRegistryError(err)
	}

	if envelope.Version != current+1 {
		return &eventstore.VersionConflictError{
			EntityTypeName: envelope.EntityTypeName,
			EntityID:       envelope.EntityID,
			Expected:       envelope.Version,
			Actual:         current,
		}
	}

	statement = `insert into events (entity_type, entity_id, version, event_type, created_at_ns, data) values (?, ?, ?, ?, ?, ?)`
	_, err = tx.ExecContext(ctx, statement,
		envelope.EntityTypeName, envelope.EntityID, envelope.Version,
		envelope.EventType, envelope.CreatedAt.UnixNano(), data,
	)
	if err != nil {
		return conflictOrRegistryError(ctx, tx, err, envelope)
	}

	return eventstore.WrapRegistryError(tx.Commit())
}

func (r *Registry) storeSnapshot(ctx context.Context, snapshot eventstore.SnapshotEnvelope) error {
	data, err := eventstore.MarshalSnapshot(snapshot)
	if err != nil {
		return eventstore.WrapRegistryError(err)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return eventstore.WrapRegistryError(err)
	}
	defer tx.Rollback()

	var current uint64
	statement := `select version from snapshots where entity_type=? and entity_id=? limit 1`
	err = tx.QueryRowContext(ctx, statement, snapshot.EntityTypeName, snapshot.EntityID).Scan(&current)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return eventstore.WrapRegistryError(err)
	}

	if snapshot.Version < current {
		return &eventstore.VersionConflictError{
			EntityTypeName: snapshot.EntityTypeName,
			EntityID:       snapshot.EntityID,
			Expected:       snapshot.Version,
			Actual:         current,
		}
	}

	statement = `insert into snapshots (entity_type, entity_id, version, data) values (?, ?, ?, ?)
		on conflict (entity_type, entity_id) do update set version=excluded.version, data=excluded.data`
	if _, err := tx.ExecContext(ctx, statement, snapshot.EntityTypeName, snapshot.EntityID, snapshot.Version, data); err != nil {
		return eventstore.WrapRegistryError(err)
	}

	return eventstore.WrapRegistryError(tx.Commit())
}

// conflictOrRegistryError maps a unique index violation on the version
// column to the conflict error kind; anything else stays a registry error.
// The violation means another writer committed the position between our
// version check and the insert, so the current max is re-read for the
// conflict detail. Zero means the position could not be re-read.
func conflictOrRegistryError(ctx context.Context, tx *sql.Tx, err error, envelope eventstore.Envelope) error {
	var sqliteErr sqlite3.Error
	if !errors.As(err, &sqliteErr) || sqliteErr.ExtendedCode != sqlite3.ErrConstraintUnique {
		return eventstore.WrapRegistryError(err)
	}

	var actual uint64
	statement := `select coalesce(max(version), 0) from events where entity_type=? and entity_id=?`
	if err := tx.QueryRowContext(ctx, statement, envelope.EntityTypeName, envelope.EntityID).Scan(&actual); err != nil {
		actual = 0
	}

	return &eventstore.VersionConflictError{
		EntityTypeName: envelope.EntityTypeName,
		EntityID:       envelope.EntityID,
		Expected:       envelope.Version,
		Actual:         actual,
	}
}
