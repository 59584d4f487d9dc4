// Copyright 2020 New Relic Corporation. All rights reserved.
// SPDX-License-Identifier: Apache-2.0
package storage

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	bolt "go.etcd.io/bbolt"

	"github.com/newrelic/thinghub/pkg/types"
)

func setupBolt(t *testing.T) *BoltStore {
	t.Helper()
	s, err := OpenBolt(filepath.Join(t.TempDir(), "thinghub-test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, s.Close()) })
	return s
}

// both backends must behave identically
func stores(t *testing.T) map[string]Store {
	return map[string]Store{
		"bolt":   setupBolt(t),
		"memory": NewMemory(),
	}
}

func TestStoreRoundTrip(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			err := s.Write(RoleThings, func(g Group) error {
				thing := g.Group("thing-1")
				if err := thing.Put("name", String("Living room lamp")); err != nil {
					return err
				}
				if err := thing.Put("autoCreated", Bool(false)); err != nil {
					return err
				}
				params := thing.Group("Params").Group("param-1")
				return params.Put("value", TypedValue{Type: types.TypeInt, Value: 42})
			})
			require.NoError(t, err)

			err = s.Read(RoleThings, func(g Group) error {
				thing := g.Group("thing-1")
				tv, ok, err := thing.Get("name")
				require.NoError(t, err)
				require.True(t, ok)
				assert.Equal(t, "Living room lamp", tv.Value)

				tv, ok, err = thing.Group("Params").Group("param-1").Get("value")
				require.NoError(t, err)
				require.True(t, ok)
				decoded, err := tv.Decode()
				require.NoError(t, err)
				assert.Equal(t, int64(42), decoded)
				return nil
			})
			require.NoError(t, err)
		})
	}
}

func TestStoreGroupsAndKeys(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			err := s.Write(RoleRules, func(g Group) error {
				if err := g.Group("rule-a").Put("name", String("a")); err != nil {
					return err
				}
				if err := g.Group("rule-b").Put("name", String("b")); err != nil {
					return err
				}
				return g.Put("version", String("1"))
			})
			require.NoError(t, err)

			err = s.Read(RoleRules, func(g Group) error {
				groups, err := g.Groups()
				require.NoError(t, err)
				assert.ElementsMatch(t, []string{"rule-a", "rule-b"}, groups)

				keys, err := g.Keys()
				require.NoError(t, err)
				assert.Equal(t, []string{"version"}, keys)
				return nil
			})
			require.NoError(t, err)
		})
	}
}

func TestStoreDeleteGroupRemovesSubtree(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			err := s.Write(RoleThings, func(g Group) error {
				return g.Group("thing-1").Group("Params").Group("p").Put("value", String("x"))
			})
			require.NoError(t, err)

			err = s.Write(RoleThings, func(g Group) error {
				return g.DeleteGroup("thing-1")
			})
			require.NoError(t, err)

			err = s.Read(RoleThings, func(g Group) error {
				groups, err := g.Groups()
				require.NoError(t, err)
				assert.Empty(t, groups)
				_, ok, err := g.Group("thing-1").Group("Params").Group("p").Get("value")
				require.NoError(t, err)
				assert.False(t, ok)
				return nil
			})
			require.NoError(t, err)
		})
	}
}

func TestStoreMissingGroupReadsEmpty(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			err := s.Read(RoleThingStates, func(g Group) error {
				sub := g.Group("nope").Group("nothing")
				groups, err := sub.Groups()
				require.NoError(t, err)
				assert.Empty(t, groups)
				_, ok, err := sub.Get("key")
				require.NoError(t, err)
				assert.False(t, ok)
				return nil
			})
			require.NoError(t, err)
		})
	}
}

func TestStoreWriteRollsBackOnError(t *testing.T) {
	s := setupBolt(t)

	wantErr := assert.AnError
	err := s.Write(RoleThings, func(g Group) error {
		if err := g.Group("thing-1").Put("name", String("half written")); err != nil {
			return err
		}
		return wantErr
	})
	require.ErrorIs(t, err, wantErr)

	err = s.Read(RoleThings, func(g Group) error {
		_, ok, err := g.Group("thing-1").Get("name")
		require.NoError(t, err)
		assert.False(t, ok, "aborted write must not leave partial state")
		return nil
	})
	require.NoError(t, err)
}

func TestMigrateLegacyThingsLayout(t *testing.T) {
	path := filepath.Join(t.TempDir(), "legacy.db")

	// seed a database with the historical top-level group name
	db, err := bolt.Open(path, 0600, nil)
	require.NoError(t, err)
	err = db.Update(func(tx *bolt.Tx) error {
		legacy, err := tx.CreateBucket([]byte(legacyThingsBucket))
		if err != nil {
			return err
		}
		thing, err := legacy.CreateBucket([]byte("thing-1"))
		if err != nil {
			return err
		}
		return thing.Put([]byte("name"), []byte(`{"type":"string","value":"old lamp"}`))
	})
	require.NoError(t, err)
	require.NoError(t, db.Close())

	s, err := OpenBolt(path)
	require.NoError(t, err)
	defer s.Close()
	require.NoError(t, s.Migrate())

	err = s.Read(RoleThings, func(g Group) error {
		tv, ok, err := g.Group("thing-1").Get("name")
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, "old lamp", tv.Value)
		return nil
	})
	require.NoError(t, err)

	// old group is gone
	err = s.db.View(func(tx *bolt.Tx) error {
		assert.Nil(t, tx.Bucket([]byte(legacyThingsBucket)))
		return nil
	})
	require.NoError(t, err)

	// idempotent
	require.NoError(t, s.Migrate())
}
