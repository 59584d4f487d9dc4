// Copyright 2020 New Relic Corporation. All rights reserved.
// SPDX-License-Identifier: Apache-2.0
package types

import (
	"github.com/google/uuid"
)

// CreateMethod describes how a thing of a class can come into
// existence.
type CreateMethod string

const (
	CreateMethodUser      CreateMethod = "user"
	CreateMethodDiscovery CreateMethod = "discovery"
	CreateMethodAuto      CreateMethod = "auto"
)

func (m CreateMethod) Valid() bool {
	switch m {
	case CreateMethodUser, CreateMethodDiscovery, CreateMethodAuto:
		return true
	}
	return false
}

// SetupMethod describes the pairing flow a thing class requires.
type SetupMethod string

const (
	SetupMethodJustAdd         SetupMethod = "justAdd"
	SetupMethodDisplayPin      SetupMethod = "displayPin"
	SetupMethodEnterPin        SetupMethod = "enterPin"
	SetupMethodPushButton      SetupMethod = "pushButton"
	SetupMethodUserAndPassword SetupMethod = "userAndPassword"
	SetupMethodOAuth           SetupMethod = "oAuth"
)

func (m SetupMethod) Valid() bool {
	switch m {
	case SetupMethodJustAdd, SetupMethodDisplayPin, SetupMethodEnterPin,
		SetupMethodPushButton, SetupMethodUserAndPassword, SetupMethodOAuth:
		return true
	}
	return false
}

// Vendor identifies the maker of a set of thing classes.
type Vendor struct {
	ID          uuid.UUID `json:"id"`
	Name        string    `json:"name"`
	DisplayName string    `json:"displayName"`
}

// ThingClass is the immutable schema every configured thing of that
// class conforms to. Built from plugin metadata at load time.
type ThingClass struct {
	ID                  uuid.UUID      `json:"id"`
	VendorID            uuid.UUID      `json:"vendorId"`
	PluginID            uuid.UUID      `json:"pluginId"`
	Name                string         `json:"name"`
	DisplayName         string         `json:"displayName"`
	CreateMethods       []CreateMethod `json:"createMethods"`
	SetupMethod         SetupMethod    `json:"setupMethod"`
	Interfaces          []string       `json:"interfaces,omitempty"`
	Browsable           bool           `json:"browsable,omitempty"`
	ParamTypes          []ParamType    `json:"paramTypes,omitempty"`
	SettingsTypes       []ParamType    `json:"settingsTypes,omitempty"`
	DiscoveryParamTypes []ParamType    `json:"discoveryParamTypes,omitempty"`
	StateTypes          []StateType    `json:"stateTypes,omitempty"`
	ActionTypes         []ActionType   `json:"actionTypes,omitempty"`
	EventTypes          []EventType    `json:"eventTypes,omitempty"`
}

// SupportsCreateMethod reports whether things of this class may be
// created through the given method.
func (tc *ThingClass) SupportsCreateMethod(m CreateMethod) bool {
	for _, cm := range tc.CreateMethods {
		if cm == m {
			return true
		}
	}
	return false
}

// StateType returns the state type with the given id.
func (tc *ThingClass) StateType(id uuid.UUID) (StateType, bool) {
	for _, st := range tc.StateTypes {
		if st.ID == id {
			return st, true
		}
	}
	return StateType{}, false
}

// StateTypeByName returns the state type with the given name.
func (tc *ThingClass) StateTypeByName(name string) (StateType, bool) {
	for _, st := range tc.StateTypes {
		if st.Name == name {
			return st, true
		}
	}
	return StateType{}, false
}

// ActionType returns the action type with the given id.
func (tc *ThingClass) ActionType(id uuid.UUID) (ActionType, bool) {
	for _, at := range tc.ActionTypes {
		if at.ID == id {
			return at, true
		}
	}
	return ActionType{}, false
}

// ActionTypeByName returns the action type with the given name.
func (tc *ThingClass) ActionTypeByName(name string) (ActionType, bool) {
	for _, at := range tc.ActionTypes {
		if at.Name == name {
			return at, true
		}
	}
	return ActionType{}, false
}

// EventType returns the event type with the given id.
func (tc *ThingClass) EventType(id uuid.UUID) (EventType, bool) {
	for _, et := range tc.EventTypes {
		if et.ID == id {
			return et, true
		}
	}
	return EventType{}, false
}

// EventTypeByName returns the event type with the given name.
func (tc *ThingClass) EventTypeByName(name string) (EventType, bool) {
	for _, et := range tc.EventTypes {
		if et.Name == name {
			return et, true
		}
	}
	return EventType{}, false
}

// HasInterface reports whether the class claims the given interface.
// Interface compliance is verified at registration time, so a claimed
// interface is a conforming one.
func (tc *ThingClass) HasInterface(name string) bool {
	for _, ifaceName := range tc.Interfaces {
		if ifaceName == name {
			return true
		}
	}
	return false
}
