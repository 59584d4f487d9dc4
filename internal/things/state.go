// Copyright 2020 New Relic Corporation. All rights reserved.
// SPDX-License-Identifier: Apache-2.0
package things

import (
	"encoding/json"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/newrelic/thinghub/pkg/types"
)

// HandleStateValue applies a state update reported by a plugin.
// Unknown things or state types are dropped with a warning, equal
// values are a no-op. A change emits the synthesized state-change event
// and, for cached states, persists the new value.
func (m *Manager) HandleStateValue(thingID, stateTypeID uuid.UUID, value interface{}) {
	thing, ok := m.things[thingID]
	if !ok {
		mlog.WithThing(thingID.String()).Warn("Dropping state value for unknown thing.")
		return
	}
	if thing.SetupStatus != types.SetupStatusComplete {
		mlog.WithThing(thingID.String()).Debug("Dropping state value for a thing not completely set up.")
		return
	}
	stateType, ok := thing.Class().StateType(stateTypeID)
	if !ok {
		mlog.WithThing(thingID.String()).WithField("stateType", stateTypeID.String()).
			Warn("Dropping value for unknown state type.")
		return
	}
	converted, err := stateType.Type.Convert(value)
	if err != nil {
		mlog.WithError(err).WithThing(thingID.String()).
			WithField("stateType", stateType.Name).Warn("Dropping unconvertible state value.")
		return
	}
	if current, has := thing.StateValue(stateTypeID); has && types.Equal(current, converted) {
		return
	}
	thing.SetStateValue(stateTypeID, converted)
	mlog.WithThing(thingID.String()).WithFieldsF(func() logrus.Fields {
		return logrus.Fields{"stateType": stateType.Name, "value": converted}
	}).Debug("State value changed.")
	if stateType.Cached {
		m.saveStateValue(thing, stateType, converted)
	}
	if m.OnStateChanged != nil {
		m.OnStateChanged(thing, stateTypeID, converted)
	}
	// the synthesized event mirrors the state: same id, one param
	// carrying the new value
	m.dispatchEvent(types.Event{
		EventTypeID:   stateTypeID,
		ThingID:       thingID,
		Params:        types.Params{stateTypeID: converted},
		IsStateChange: true,
	})
}

// HandleEvent forwards a plugin-emitted event. Events of unknown things
// or types are dropped with a warning; params are validated against the
// event type.
func (m *Manager) HandleEvent(event types.Event) {
	thing, ok := m.things[event.ThingID]
	if !ok {
		mlog.WithThing(event.ThingID.String()).Warn("Dropping event for unknown thing.")
		return
	}
	if thing.SetupStatus != types.SetupStatusComplete {
		mlog.WithThing(event.ThingID.String()).Debug("Dropping event for a thing not completely set up.")
		return
	}
	eventType, ok := thing.Class().EventType(event.EventTypeID)
	if !ok {
		mlog.WithThing(event.ThingID.String()).WithField("eventType", event.EventTypeID.String()).
			Warn("Dropping event of unknown type.")
		return
	}
	normalized, err := types.ValidateParams(eventType.ParamTypes, event.Params, false)
	if err != nil {
		mlog.WithError(err).WithThing(event.ThingID.String()).
			WithField("eventType", eventType.Name).Warn("Dropping event with invalid params.")
		return
	}
	event.Params = normalized
	m.dispatchEvent(event)
}

func (m *Manager) dispatchEvent(event types.Event) {
	if mlog.IsDebugEnabled() {
		raw, _ := json.Marshal(event.Params)
		mlog.WithThing(event.ThingID.String()).
			WithField("eventType", event.EventTypeID.String()).
			WithField("params", string(raw)).Debug("Dispatching event.")
	}
	if m.OnEventTriggered != nil {
		m.OnEventTriggered(event)
	}
}

// HandleAutoThingsAppeared ingests descriptors for things a plugin
// found on its own. New descriptors become auto-created things
// immediately; descriptors matching an already configured thing
// reconfigure it when the reported params changed.
func (m *Manager) HandleAutoThingsAppeared(pluginID uuid.UUID, descriptors []types.ThingDescriptor) {
	for _, d := range descriptors {
		class, ok := m.registry.ThingClass(d.ThingClassID)
		if !ok || class.PluginID != pluginID {
			mlog.WithPlugin(pluginID.String()).WithField("thingClass", d.ThingClassID.String()).
				Warn("Dropping auto thing of unknown class.")
			continue
		}
		if !class.SupportsCreateMethod(types.CreateMethodAuto) {
			mlog.WithPlugin(pluginID.String()).WithField("thingClass", class.Name).
				Warn("Dropping auto thing of a class without the auto create method.")
			continue
		}
		normalized, err := types.ValidateParams(class.ParamTypes, d.Params, false)
		if err != nil {
			mlog.WithError(err).WithPlugin(pluginID.String()).WithField("thingClass", class.Name).
				Warn("Dropping auto thing with invalid params.")
			continue
		}
		if existing, ok := m.autoThingFor(class.ID, d, normalized); ok {
			if paramsEqual(existing.Params, normalized) {
				continue
			}
			if _, terr := m.reconfigure(existing.ID, normalized); terr != types.ThingErrorAsync {
				mlog.WithPlugin(pluginID.String()).WithThing(existing.ID.String()).
					WithField("status", string(terr)).Warn("Unable to reconfigure reappeared auto thing.")
			}
			continue
		}
		if _, terr := m.addThing(class, d.Title, normalized, uuid.Nil, d.ParentID, true); terr != types.ThingErrorAsync {
			mlog.WithPlugin(pluginID.String()).WithFields(logrus.Fields{
				"thingClass": class.Name, "status": string(terr),
			}).Warn("Unable to add auto thing.")
		}
	}
}

// autoThingFor matches an auto descriptor to a configured thing, either
// explicitly via ExistingThingID or by identical normalized params.
func (m *Manager) autoThingFor(classID uuid.UUID, d types.ThingDescriptor, params types.Params) (*types.Thing, bool) {
	if d.ExistingThingID != uuid.Nil {
		t, ok := m.things[d.ExistingThingID]
		return t, ok
	}
	for _, t := range m.things {
		if t.ThingClassID != classID || !t.AutoCreated {
			continue
		}
		if paramsEqual(t.Params, params) {
			return t, true
		}
	}
	return nil, false
}

// HandleAutoThingDisappeared removes an auto-created thing the plugin
// reports gone. Manually created things are never removed this way.
func (m *Manager) HandleAutoThingDisappeared(pluginID, thingID uuid.UUID) {
	thing, ok := m.things[thingID]
	if !ok {
		return
	}
	if thing.PluginID != pluginID || !thing.AutoCreated {
		mlog.WithPlugin(pluginID.String()).WithThing(thingID.String()).
			Warn("Ignoring disappearance of a thing the plugin does not own.")
		return
	}
	cascade := m.collectCascade(thingID)
	for i := len(cascade) - 1; i >= 0; i-- {
		m.removeThing(cascade[i], nil)
	}
}

func paramsEqual(a, b types.Params) bool {
	if len(a) != len(b) {
		return false
	}
	for k, av := range a {
		bv, ok := b[k]
		if !ok || !types.Equal(av, bv) {
			return false
		}
	}
	return true
}
