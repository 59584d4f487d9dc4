// Copyright 2020 New Relic Corporation. All rights reserved.
// SPDX-License-Identifier: Apache-2.0
package things

import (
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/newrelic/thinghub/pkg/storage"
	"github.com/newrelic/thinghub/pkg/types"
)

// Persisted layout, things role:
//
//	<thingId>/
//	  name, thingClassId, pluginId, parentId, autoCreated
//	  Params/<paramTypeId>   -> typed value
//	  Settings/<paramTypeId> -> typed value
//
// thingStates role:
//
//	<thingId>/<stateTypeId>  -> typed value
const (
	keyName         = "name"
	keyThingClassID = "thingClassId"
	keyPluginID     = "pluginId"
	keyParentID     = "parentId"
	keyAutoCreated  = "autoCreated"

	groupParams   = "Params"
	groupSettings = "Settings"
)

// saveThing persists a thing's identity, params and settings.
func (m *Manager) saveThing(t *types.Thing) {
	err := m.store.Write(storage.RoleThings, func(g storage.Group) error {
		tg := g.Group(t.ID.String())
		if err := tg.Put(keyName, storage.String(t.Name)); err != nil {
			return err
		}
		if err := tg.Put(keyThingClassID, storage.String(t.ThingClassID.String())); err != nil {
			return err
		}
		if err := tg.Put(keyPluginID, storage.String(t.PluginID.String())); err != nil {
			return err
		}
		if err := tg.Put(keyParentID, storage.String(t.ParentID.String())); err != nil {
			return err
		}
		if err := tg.Put(keyAutoCreated, storage.Bool(t.AutoCreated)); err != nil {
			return err
		}
		if err := writeParams(tg, groupParams, t.Class().ParamTypes, t.Params); err != nil {
			return err
		}
		return writeParams(tg, groupSettings, t.Class().SettingsTypes, t.Settings)
	})
	if err != nil {
		mlog.WithError(err).WithThing(t.ID.String()).Error("Unable to persist thing.")
	}
}

func writeParams(tg storage.Group, group string, paramTypes []types.ParamType, params types.Params) error {
	if err := tg.DeleteGroup(group); err != nil {
		return err
	}
	pg := tg.Group(group)
	for _, pt := range paramTypes {
		value, ok := params[pt.ID]
		if !ok {
			continue
		}
		if err := pg.Put(pt.ID.String(), storage.TypedValue{Type: pt.Type, Value: value}); err != nil {
			return err
		}
	}
	return nil
}

// saveCachedStates persists every cached state value of a thing.
func (m *Manager) saveCachedStates(t *types.Thing) {
	err := m.store.Write(storage.RoleThingStates, func(g storage.Group) error {
		sg := g.Group(t.ID.String())
		for _, st := range t.Class().StateTypes {
			if !st.Cached {
				continue
			}
			value, ok := t.StateValue(st.ID)
			if !ok {
				continue
			}
			if err := sg.Put(st.ID.String(), storage.TypedValue{Type: st.Type, Value: value}); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		mlog.WithError(err).WithThing(t.ID.String()).Error("Unable to persist thing states.")
	}
}

// saveStateValue persists one cached state value.
func (m *Manager) saveStateValue(t *types.Thing, st types.StateType, value interface{}) {
	err := m.store.Write(storage.RoleThingStates, func(g storage.Group) error {
		return g.Group(t.ID.String()).Put(st.ID.String(), storage.TypedValue{Type: st.Type, Value: value})
	})
	if err != nil {
		mlog.WithError(err).WithThing(t.ID.String()).
			WithField("stateType", st.Name).Error("Unable to persist state value.")
	}
}

// purgeThing removes a thing's persisted identity and states.
func (m *Manager) purgeThing(thingID uuid.UUID) {
	err := m.store.Write(storage.RoleThings, func(g storage.Group) error {
		return g.DeleteGroup(thingID.String())
	})
	if err == nil {
		err = m.store.Write(storage.RoleThingStates, func(g storage.Group) error {
			return g.DeleteGroup(thingID.String())
		})
	}
	if err != nil {
		mlog.WithError(err).WithThing(thingID.String()).Error("Unable to purge persisted thing.")
	}
}

// storedThing is one persisted entry before instantiation.
type storedThing struct {
	id           uuid.UUID
	thingClassID uuid.UUID
	pluginID     uuid.UUID
	parentID     uuid.UUID
	name         string
	autoCreated  bool
	params       types.Params
	settings     types.Params
	states       map[uuid.UUID]interface{}
}

// LoadThings restores the configured thing set, instantiates
// parents before children and runs every restored thing's setup.
// Things whose class is unknown stay persisted but are not
// instantiated; a parent cycle means a corrupted store.
func (m *Manager) LoadThings() error {
	stored, err := m.readStoredThings()
	if err != nil {
		return errors.Wrap(err, "unable to read persisted things")
	}

	// entries whose class is unknown stay persisted but dormant, along
	// with their whole subtree
	dormant := map[uuid.UUID]bool{}
	for _, st := range stored {
		if _, ok := m.registry.ThingClass(st.thingClassID); !ok {
			mlog.WithThing(st.id.String()).WithField("thingClass", st.thingClassID.String()).
				Warn("Thing class of persisted thing unknown, keeping it dormant.")
			dormant[st.id] = true
		}
	}
	for changed := true; changed; {
		changed = false
		for _, st := range stored {
			if !dormant[st.id] && dormant[st.parentID] {
				mlog.WithThing(st.id.String()).Warn("Parent of persisted thing is dormant, keeping it dormant.")
				dormant[st.id] = true
				changed = true
			}
		}
	}

	// multi-pass: instantiate entries whose parent is already live (or
	// absent). No progress over a pass means a parent cycle.
	var remaining []*storedThing
	for _, st := range stored {
		if !dormant[st.id] {
			remaining = append(remaining, st)
		}
	}
	for len(remaining) > 0 {
		var deferred []*storedThing
		progressed := false
		for _, st := range remaining {
			if st.parentID != uuid.Nil {
				if _, parentLive := m.things[st.parentID]; !parentLive {
					if _, parentStored := indexByID(stored, st.parentID); parentStored {
						deferred = append(deferred, st)
						continue
					}
					// dangling parent reference: restore as root
					mlog.WithThing(st.id.String()).Warn("Parent of persisted thing is gone, restoring without parent.")
					st.parentID = uuid.Nil
				}
			}
			m.restoreThing(st)
			progressed = true
		}
		if !progressed {
			return errors.New("persisted things contain a parent cycle, store is corrupted")
		}
		remaining = deferred
	}
	return nil
}

func indexByID(stored []*storedThing, id uuid.UUID) (*storedThing, bool) {
	for _, st := range stored {
		if st.id == id {
			return st, true
		}
	}
	return nil, false
}

// restoreThing instantiates one persisted entry and starts its setup.
// Cached state values are applied before the setup runs so plugins see
// the last known state.
func (m *Manager) restoreThing(st *storedThing) {
	tlog := mlog.WithThing(st.id.String())
	class, ok := m.registry.ThingClass(st.thingClassID)
	if !ok {
		return
	}
	thing := types.NewThing(st.id, class, st.name)
	thing.ParentID = st.parentID
	thing.AutoCreated = st.autoCreated
	thing.Params = st.params
	thing.Settings = st.settings
	for id, value := range st.states {
		stateType, ok := class.StateType(id)
		if !ok || !stateType.Cached {
			continue
		}
		thing.SetStateValue(id, value)
	}
	m.things[thing.ID] = thing

	if _, terr := m.startSetup(thing, true); terr != types.ThingErrorNoError {
		thing.SetupStatus = types.SetupStatusFailed
		thing.SetupError = terr
		tlog.WithFields(logrus.Fields{"status": string(terr)}).Warn("Unable to set up restored thing.")
	}
}

// readStoredThings loads all persisted entries and their cached states.
func (m *Manager) readStoredThings() ([]*storedThing, error) {
	var out []*storedThing
	err := m.store.Read(storage.RoleThings, func(g storage.Group) error {
		ids, err := g.Groups()
		if err != nil {
			return err
		}
		for _, idStr := range ids {
			id, err := uuid.Parse(idStr)
			if err != nil {
				mlog.WithField("group", idStr).Warn("Skipping persisted thing with malformed id.")
				continue
			}
			st, err := readStoredThing(g.Group(idStr), id)
			if err != nil {
				mlog.WithError(err).WithThing(idStr).Warn("Skipping unreadable persisted thing.")
				continue
			}
			out = append(out, st)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	err = m.store.Read(storage.RoleThingStates, func(g storage.Group) error {
		for _, st := range out {
			values, err := readTypedGroup(g.Group(st.id.String()))
			if err != nil {
				mlog.WithError(err).WithThing(st.id.String()).Warn("Unable to restore cached states.")
				continue
			}
			st.states = values
		}
		return nil
	})
	return out, err
}

func readStoredThing(tg storage.Group, id uuid.UUID) (*storedThing, error) {
	st := &storedThing{id: id, params: types.Params{}, settings: types.Params{}}

	name, err := readString(tg, keyName)
	if err != nil {
		return nil, err
	}
	st.name = name
	if st.thingClassID, err = readUUID(tg, keyThingClassID); err != nil {
		return nil, err
	}
	if st.pluginID, err = readUUID(tg, keyPluginID); err != nil {
		return nil, err
	}
	if st.parentID, err = readUUID(tg, keyParentID); err != nil {
		return nil, err
	}
	if tv, ok, err := tg.Get(keyAutoCreated); err != nil {
		return nil, err
	} else if ok {
		if v, err := tv.Decode(); err == nil {
			st.autoCreated, _ = v.(bool)
		}
	}
	if st.params, err = readTypedParams(tg.Group(groupParams)); err != nil {
		return nil, err
	}
	if st.settings, err = readTypedParams(tg.Group(groupSettings)); err != nil {
		return nil, err
	}
	return st, nil
}

func readString(g storage.Group, key string) (string, error) {
	tv, ok, err := g.Get(key)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", errors.Errorf("missing key %s", key)
	}
	s, ok := tv.Value.(string)
	if !ok {
		return "", errors.Errorf("key %s is not a string", key)
	}
	return s, nil
}

func readUUID(g storage.Group, key string) (uuid.UUID, error) {
	s, err := readString(g, key)
	if err != nil {
		return uuid.Nil, err
	}
	id, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, errors.Wrapf(err, "key %s is not a uuid", key)
	}
	return id, nil
}

func readTypedParams(g storage.Group) (types.Params, error) {
	values, err := readTypedGroup(g)
	if err != nil {
		return nil, err
	}
	return types.Params(values), nil
}

func readTypedGroup(g storage.Group) (map[uuid.UUID]interface{}, error) {
	out := map[uuid.UUID]interface{}{}
	keys, err := g.Keys()
	if err != nil {
		return nil, err
	}
	for _, key := range keys {
		id, err := uuid.Parse(key)
		if err != nil {
			continue
		}
		tv, ok, err := g.Get(key)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		value, err := tv.Decode()
		if err != nil {
			continue
		}
		out[id] = value
	}
	return out, nil
}
