// Copyright 2020 New Relic Corporation. All rights reserved.
// SPDX-License-Identifier: Apache-2.0
package types

import (
	"github.com/google/uuid"
)

// SetupStatus is the lifecycle state of a configured thing.
type SetupStatus string

const (
	SetupStatusNone       SetupStatus = "none"
	SetupStatusInProgress SetupStatus = "inProgress"
	SetupStatusComplete   SetupStatus = "complete"
	SetupStatusFailed     SetupStatus = "failed"
)

// Thing is a configured device or service instance provided by a
// plugin. All mutation happens on the hub core loop.
type Thing struct {
	ID           uuid.UUID
	ThingClassID uuid.UUID
	PluginID     uuid.UUID
	Name         string
	ParentID     uuid.UUID // uuid.Nil when the thing has no parent
	Params       Params    // immutable after setup
	Settings     Params    // user-mutable
	AutoCreated  bool

	SetupStatus         SetupStatus
	SetupError          ThingError
	SetupDisplayMessage string

	class  *ThingClass
	states map[uuid.UUID]interface{}
}

// NewThing builds a thing of the given class with default state values.
func NewThing(id uuid.UUID, class *ThingClass, name string) *Thing {
	t := &Thing{
		ID:           id,
		ThingClassID: class.ID,
		PluginID:     class.PluginID,
		Name:         name,
		Params:       Params{},
		Settings:     Params{},
		SetupStatus:  SetupStatusNone,
		class:        class,
		states:       map[uuid.UUID]interface{}{},
	}
	for _, st := range class.StateTypes {
		if st.DefaultValue != nil {
			if v, err := st.Type.Convert(st.DefaultValue); err == nil {
				t.states[st.ID] = v
			}
		}
	}
	return t
}

// Class returns the thing class schema.
func (t *Thing) Class() *ThingClass {
	return t.class
}

// StateValue returns the current value of one state.
func (t *Thing) StateValue(stateTypeID uuid.UUID) (interface{}, bool) {
	v, ok := t.states[stateTypeID]
	return v, ok
}

// SetStateValue stores a state value without validation. Callers
// validate against the state type first.
func (t *Thing) SetStateValue(stateTypeID uuid.UUID, value interface{}) {
	t.states[stateTypeID] = value
}

// StateValues returns a copy of all current state values.
func (t *Thing) StateValues() map[uuid.UUID]interface{} {
	out := make(map[uuid.UUID]interface{}, len(t.states))
	for k, v := range t.states {
		out[k] = v
	}
	return out
}

// ThingDescriptor is a provisional thing produced by discovery or auto
// appearance, pending add or discard.
type ThingDescriptor struct {
	ID              uuid.UUID `json:"id"`
	ThingClassID    uuid.UUID `json:"thingClassId"`
	Title           string    `json:"title"`
	Description     string    `json:"description,omitempty"`
	ParentID        uuid.UUID `json:"parentId,omitempty"`
	ExistingThingID uuid.UUID `json:"existingThingId,omitempty"`
	Params          Params    `json:"params,omitempty"`
}
