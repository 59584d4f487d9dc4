// Copyright 2020 New Relic Corporation. All rights reserved.
// SPDX-License-Identifier: Apache-2.0
package storage

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/errors"
	bolt "go.etcd.io/bbolt"

	"github.com/newrelic/thinghub/pkg/log"
)

var slog = log.WithComponent("Storage")

const boltFileMode = os.FileMode(0600)

// BoltStore persists the hub state in a single bolt database. Roles map
// to top-level buckets, groups to nested buckets, keys to JSON-encoded
// typed values. Bolt transactions give us the per-role atomicity the
// store contract requires.
type BoltStore struct {
	db *bolt.DB
}

// OpenBolt opens (creating if needed) the bolt database and makes sure
// every role bucket exists.
func OpenBolt(path string) (*BoltStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, errors.Wrap(err, "unable to create data directory")
	}
	db, err := bolt.Open(path, boltFileMode, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, errors.Wrap(err, "unable to open store")
	}
	err = db.Update(func(tx *bolt.Tx) error {
		for _, role := range Roles {
			if _, err := tx.CreateBucketIfNotExists([]byte(role)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "unable to initialize role buckets")
	}
	return &BoltStore{db: db}, nil
}

// Read runs fn inside a read-only transaction rooted at the role
// bucket.
func (s *BoltStore) Read(role Role, fn func(g Group) error) error {
	return s.db.View(func(tx *bolt.Tx) error {
		return fn(&boltGroup{bucket: tx.Bucket([]byte(role))})
	})
}

// Write runs fn inside a read-write transaction rooted at the role
// bucket. The whole callback commits or rolls back as a unit.
func (s *BoltStore) Write(role Role, fn func(g Group) error) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		bucket, err := tx.CreateBucketIfNotExists([]byte(role))
		if err != nil {
			return err
		}
		return fn(&boltGroup{bucket: bucket, writable: true})
	})
}

// Close closes the underlying database.
func (s *BoltStore) Close() error {
	return s.db.Close()
}

// boltGroup adapts a bolt bucket to the Group interface. A nil bucket
// on the read path behaves as an empty group; an error during descent
// is carried and surfaced by the first operation.
type boltGroup struct {
	bucket   *bolt.Bucket
	writable bool
	err      error
}

func (g *boltGroup) Group(name string) Group {
	if g.err != nil {
		return g
	}
	if g.bucket == nil {
		return &boltGroup{writable: g.writable}
	}
	if g.writable {
		child, err := g.bucket.CreateBucketIfNotExists([]byte(name))
		if err != nil {
			return &boltGroup{writable: true, err: err}
		}
		return &boltGroup{bucket: child, writable: true}
	}
	return &boltGroup{bucket: g.bucket.Bucket([]byte(name))}
}

func (g *boltGroup) Groups() ([]string, error) {
	if g.err != nil {
		return nil, g.err
	}
	if g.bucket == nil {
		return nil, nil
	}
	var names []string
	cursor := g.bucket.Cursor()
	for k, v := cursor.First(); k != nil; k, v = cursor.Next() {
		if v == nil { // nested buckets have nil values
			names = append(names, string(k))
		}
	}
	return names, nil
}

func (g *boltGroup) Keys() ([]string, error) {
	if g.err != nil {
		return nil, g.err
	}
	if g.bucket == nil {
		return nil, nil
	}
	var keys []string
	cursor := g.bucket.Cursor()
	for k, v := cursor.First(); k != nil; k, v = cursor.Next() {
		if v != nil {
			keys = append(keys, string(k))
		}
	}
	return keys, nil
}

func (g *boltGroup) Get(key string) (TypedValue, bool, error) {
	if g.err != nil {
		return TypedValue{}, false, g.err
	}
	if g.bucket == nil {
		return TypedValue{}, false, nil
	}
	raw := g.bucket.Get([]byte(key))
	if raw == nil {
		return TypedValue{}, false, nil
	}
	var tv TypedValue
	if err := json.Unmarshal(raw, &tv); err != nil {
		return TypedValue{}, false, errors.Wrapf(err, "corrupt value at key %q", key)
	}
	return tv, true, nil
}

func (g *boltGroup) Put(key string, tv TypedValue) error {
	if g.err != nil {
		return g.err
	}
	if !g.writable {
		return errors.New("put on read-only transaction")
	}
	raw, err := json.Marshal(tv)
	if err != nil {
		return errors.Wrapf(err, "unable to encode value at key %q", key)
	}
	return g.bucket.Put([]byte(key), raw)
}

func (g *boltGroup) Delete(key string) error {
	if g.err != nil {
		return g.err
	}
	if !g.writable {
		return errors.New("delete on read-only transaction")
	}
	return g.bucket.Delete([]byte(key))
}

func (g *boltGroup) DeleteGroup(name string) error {
	if g.err != nil {
		return g.err
	}
	if !g.writable {
		return errors.New("delete on read-only transaction")
	}
	if g.bucket == nil || g.bucket.Bucket([]byte(name)) == nil {
		return nil
	}
	return g.bucket.DeleteBucket([]byte(name))
}
