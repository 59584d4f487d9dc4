// Copyright 2020 New Relic Corporation. All rights reserved.
// SPDX-License-Identifier: Apache-2.0
// Package storage is the hub persistence layer: a hierarchical
// key/value store with grouped sections, split into per-role top-level
// sections. Writes are atomic at role granularity.
package storage

import (
	"encoding/json"

	"github.com/newrelic/thinghub/pkg/types"
)

// Role is a top-level logical section of the store.
type Role string

const (
	RoleThings      Role = "things"
	RoleThingStates Role = "thingStates"
	RolePlugins     Role = "plugins"
	RoleRules       Role = "rules"
	RoleTags        Role = "tags"
)

// Roles lists every section a backend must provide.
var Roles = []Role{RoleThings, RoleThingStates, RolePlugins, RoleRules, RoleTags}

// TypedValue is a value persisted together with its semantic-type tag
// so it can be restored losslessly.
type TypedValue struct {
	Type  types.SemanticType `json:"type"`
	Value interface{}        `json:"value"`
}

// String builds a string-tagged value.
func String(v string) TypedValue { return TypedValue{Type: types.TypeString, Value: v} }

// Bool builds a bool-tagged value.
func Bool(v bool) TypedValue { return TypedValue{Type: types.TypeBool, Value: v} }

// Variant builds an untagged structured value.
func Variant(v interface{}) TypedValue { return TypedValue{Type: types.TypeVariant, Value: v} }

// Decode normalizes the raw persisted value back into the canonical Go
// representation of its semantic type.
func (tv TypedValue) Decode() (interface{}, error) {
	return tv.Type.Convert(tv.Value)
}

// DecodeInto re-marshals a variant value into a typed destination.
// Used for structured payloads such as rule descriptors.
func (tv TypedValue) DecodeInto(dst interface{}) error {
	raw, err := json.Marshal(tv.Value)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, dst)
}

// Group is one hierarchy level within a role. Read-path groups that do
// not exist behave as empty; write-path groups are created on descent.
type Group interface {
	// Group descends into (or, when writing, creates) a child group.
	Group(name string) Group
	// Groups enumerates the child group names.
	Groups() ([]string, error)
	// Keys enumerates the value keys at this level.
	Keys() ([]string, error)
	// Get reads a typed value; ok is false when the key is absent.
	Get(key string) (tv TypedValue, ok bool, err error)
	// Put writes a typed value. Write transactions only.
	Put(key string, tv TypedValue) error
	// Delete removes a key. Write transactions only.
	Delete(key string) error
	// DeleteGroup removes a child group and its subtree. Write
	// transactions only.
	DeleteGroup(name string) error
}

// Store is the persistence contract used by the thing manager, the
// rule engine and the plugin host. An implementation must apply a
// whole Write callback atomically per role.
type Store interface {
	Read(role Role, fn func(g Group) error) error
	Write(role Role, fn func(g Group) error) error
	Close() error
}
