// Package bbolt provides a single-file durable registry backed by bbolt.
//
// Events live in one bucket per entity instance, keyed by the big endian
// encoding of their version so a cursor walks them in stream order.
// Snapshots live in a shared bucket keyed by entity, holding only the latest
// one. The version check runs inside the write transaction, which makes it
// atomic with the append.
package bbolt

import (
	"context"
	"encoding/binary"
	"fmt"
	"sort"
	"time"

	"go.etcd.io/bbolt"

	"github.com/entitystream/eventstore"
)

const snapshotBucketName = "snapshots"

// itob returns an 8-byte big endian representation of v.
func itob(v uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, v)
	return b
}

type Registry struct {
	db *bbolt.DB
}

var _ eventstore.Registry = (*Registry)(nil)

// Open opens (and if needed initializes) the registry stored in the given
// file.
func Open(dbFile string) (*Registry, error) {
	db, err := bbolt.Open(dbFile, 0600, &bbolt.Options{
		Timeout: 1 * time.Second,
	})
	if err != nil {
		return nil, eventstore.WrapRegistryError(err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(snapshotBucketName))
		return err
	})
	if err != nil {
		return nil, eventstore.WrapRegistryError(err)
	}

	return &Registry{db: db}, nil
}

// Close releases the underlying database file.
func (r *Registry) Close() error {
	return r.db.Close()
}

func entityBucketKey(entityTypeName, entityID string) []byte {
	return []byte(fmt.Sprintf("events_%s_%s", entityTypeName, entityID))
}

func snapshotKey(entityTypeName, entityID string) []byte {
	return []byte(fmt.Sprintf("%s_%s", entityTypeName, entityID))
}

func (r *Registry) Query(ctx context.Context, filter eventstore.Filter) ([]eventstore.Envelope, error) {
	if err := ctx.Err(); err != nil {
		return nil, eventstore.WrapRegistryError(err)
	}

	var envelopes []eventstore.Envelope
	err := r.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(entityBucketKey(filter.EntityTypeName, filter.EntityID))
		if bucket == nil {
			return nil
		}

		cursor := bucket.Cursor()
		for k, v := cursor.First(); k != nil; k, v = cursor.Next() {
			envelope, err := eventstore.UnmarshalEnvelope(v)
			if err != nil {
				return err
			}
			if !filter.Since.IsZero() && !envelope.CreatedAt.After(filter.Since) {
				continue
			}
			envelopes = append(envelopes, envelope)
		}
		return nil
	})
	if err != nil {
		return nil, eventstore.WrapRegistryError(err)
	}

	// Cursor order is version order; surface CreatedAt order as queries
	// promise, with version breaking ties.
	sort.SliceStable(envelopes, func(i, j int) bool {
		if envelopes[i].CreatedAt.Equal(envelopes[j].CreatedAt) {
			return envelopes[i].Version < envelopes[j].Version
		}
		return envelopes[i].CreatedAt.Before(envelopes[j].CreatedAt)
	})

	return envelopes, nil
}

func (r *Registry) LatestSnapshot(ctx context.Context, filter eventstore.Filter) (eventstore.SnapshotEnvelope, error) {
	if err := ctx.Err(); err != nil {
		return eventstore.SnapshotEnvelope{}, eventstore.WrapRegistryError(err)
	}

	var snapshot eventstore.SnapshotEnvelope
	found := false

	err := r.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(snapshotBucketName))
		if bucket == nil {
			return nil
		}
		data := bucket.Get(snapshotKey(filter.EntityTypeName, filter.EntityID))
		if data == nil {
			return nil
		}

		var err error
		snapshot, err = eventstore.UnmarshalSnapshot(data)
		if err != nil {
			return err
		}
		found = true
		return nil
	})
	if err != nil {
		return eventstore.SnapshotEnvelope{}, eventstore.WrapRegistryError(err)
	}
	if !found {
		return eventstore.SnapshotEnvelope{}, eventstore.ErrSnapshotNotFound
	}

	return snapshot, nil
}

func (r *Registry) Store(ctx context.Context, record eventstore.Record) error {
	if err := ctx.Err(); err != nil {
		return eventstore.WrapRegistryError(err)
	}

	switch rec := record.(type) {
	case eventstore.Envelope:
		return r.storeEvent(rec)
	case eventstore.SnapshotEnvelope:
		return r.storeSnapshot(rec)
	default:
		return eventstore.WrapRegistryError(fmt.Errorf("unknown record kind %q", record.RecordKind()))
	}
}

func (r *Registry) storeEvent(envelope eventstore.Envelope) error {
	data, err := eventstore.MarshalEnvelope(envelope)
	if err != nil {
		return eventstore.WrapRegistryError(err)
	}

	err = r.db.Update(func(tx *bbolt.Tx) error {
		bucket, err := tx.CreateBucketIfNotExists(entityBucketKey(envelope.EntityTypeName, envelope.EntityID))
		if err != nil {
			return err
		}

		var current uint64
		if k, _ := bucket.Cursor().Last(); k != nil {
			current = binary.BigEndian.Uint64(k)
		}

		if envelope.Version != current+1 {
			return &eventstore.VersionConflictError{
				EntityTypeName: envelope.EntityTypeName,
				EntityID:       envelope.EntityID,
				Expected:       envelope.Version,
				Actual:         current,
			}
		}

		return bucket.Put(itob(envelope.Version), data)
	})
	return eventstore.WrapRegistryError(err)
}

func (r *Registry) storeSnapshot(snapshot eventstore.SnapshotEnvelope) error {
	data, err := eventstore.MarshalSnapshot(snapshot)
	if err != nil {
		return eventstore.WrapRegistryError(err)
	}

	err = r.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(snapshotBucketName))
		key := snapshotKey(snapshot.EntityTypeName, snapshot.EntityID)

		if existing := bucket.Get(key); existing != nil {
			stored, err := eventstore.UnmarshalSnapshot(existing)
			if err != nil {
				return err
			}
			if snapshot.Version < stored.Version {
				return &eventstore.VersionConflictError{
					EntityTypeName: snapshot.EntityTypeName,
					EntityID:       snapshot.EntityID,
					Expected:       snapshot.Version,
					Actual:         stored.Version,
				}
			}
		}

		return bucket.Put(key, data)
	})
	return eventstore.WrapRegistryError(err)
}
