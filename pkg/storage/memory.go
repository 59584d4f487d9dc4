// Copyright 2020 New Relic Corporation. All rights reserved.
// SPDX-License-Identifier: Apache-2.0
package storage

import (
	"sort"
	"sync"
)

// MemoryStore is an in-memory Store used by tests and ephemeral runs.
type MemoryStore struct {
	mu    sync.Mutex
	roles map[Role]*memGroup
}

// NewMemory builds an empty in-memory store.
func NewMemory() *MemoryStore {
	roles := make(map[Role]*memGroup, len(Roles))
	for _, role := range Roles {
		roles[role] = newMemGroup()
	}
	return &MemoryStore{roles: roles}
}

func (s *MemoryStore) Read(role Role, fn func(g Group) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn(&memView{group: s.roles[role]})
}

func (s *MemoryStore) Write(role Role, fn func(g Group) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn(&memView{group: s.roles[role], writable: true})
}

func (s *MemoryStore) Close() error { return nil }

type memGroup struct {
	groups map[string]*memGroup
	values map[string]TypedValue
}

func newMemGroup() *memGroup {
	return &memGroup{groups: map[string]*memGroup{}, values: map[string]TypedValue{}}
}

// memView adapts a memGroup to the Group interface.
type memView struct {
	group    *memGroup
	writable bool
}

func (v *memView) Group(name string) Group {
	if v.group == nil {
		return &memView{writable: v.writable}
	}
	child, ok := v.group.groups[name]
	if !ok {
		if !v.writable {
			return &memView{}
		}
		child = newMemGroup()
		v.group.groups[name] = child
	}
	return &memView{group: child, writable: v.writable}
}

func (v *memView) Groups() ([]string, error) {
	if v.group == nil {
		return nil, nil
	}
	names := make([]string, 0, len(v.group.groups))
	for name := range v.group.groups {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

func (v *memView) Keys() ([]string, error) {
	if v.group == nil {
		return nil, nil
	}
	keys := make([]string, 0, len(v.group.values))
	for key := range v.group.values {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys, nil
}

func (v *memView) Get(key string) (TypedValue, bool, error) {
	if v.group == nil {
		return TypedValue{}, false, nil
	}
	tv, ok := v.group.values[key]
	return tv, ok, nil
}

func (v *memView) Put(key string, tv TypedValue) error {
	if !v.writable {
		return errReadOnly
	}
	v.group.values[key] = tv
	return nil
}

func (v *memView) Delete(key string) error {
	if !v.writable {
		return errReadOnly
	}
	delete(v.group.values, key)
	return nil
}

func (v *memView) DeleteGroup(name string) error {
	if !v.writable {
		return errReadOnly
	}
	delete(v.group.groups, name)
	return nil
}
