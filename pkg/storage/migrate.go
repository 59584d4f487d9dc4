// Copyright 2020 New Relic Corporation. All rights reserved.
// SPDX-License-Identifier: Apache-2.0
package storage

import (
	"github.com/pkg/errors"
	bolt "go.etcd.io/bbolt"
)

// legacyThingsBucket is the top-level group name older installations
// used for thing configuration.
const legacyThingsBucket = "DeviceConfig"

var errReadOnly = errors.New("write on read-only transaction")

// Migrate copies entries from legacy layouts into the current one and
// removes the old groups. Safe to run on every startup.
func (s *BoltStore) Migrate() error {
	return s.db.Update(func(tx *bolt.Tx) error {
		legacy := tx.Bucket([]byte(legacyThingsBucket))
		if legacy == nil {
			return nil
		}
		slog.Info("Migrating legacy thing configuration layout.")
		target, err := tx.CreateBucketIfNotExists([]byte(RoleThings))
		if err != nil {
			return err
		}
		if err := copyBucket(legacy, target); err != nil {
			return errors.Wrap(err, "unable to migrate legacy thing configuration")
		}
		return tx.DeleteBucket([]byte(legacyThingsBucket))
	})
}

// copyBucket recursively copies keys and nested buckets from src into
// dst. Existing entries in dst win: the migration never overwrites
// configuration already written in the current layout.
func copyBucket(src, dst *bolt.Bucket) error {
	cursor := src.Cursor()
	for k, v := cursor.First(); k != nil; k, v = cursor.Next() {
		if v == nil {
			child, err := dst.CreateBucketIfNotExists(k)
			if err != nil {
				return err
			}
			if err := copyBucket(src.Bucket(k), child); err != nil {
				return err
			}
			continue
		}
		if dst.Get(k) == nil {
			if err := dst.Put(k, v); err != nil {
				return err
			}
		}
	}
	return nil
}
