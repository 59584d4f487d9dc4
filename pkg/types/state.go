// Copyright 2020 New Relic Corporation. All rights reserved.
// SPDX-License-Identifier: Apache-2.0
package types

import (
	"github.com/google/uuid"
)

// StateType describes one state exposed by a thing class. For every
// state type the registry synthesizes a matching "state changed" event
// type and, when the state is writable, a matching action type; both
// share the state type's id.
type StateType struct {
	ID                uuid.UUID     `json:"id"`
	Name              string        `json:"name"`
	DisplayName       string        `json:"displayName"`
	Type              SemanticType  `json:"type"`
	Index             int           `json:"index"`
	DefaultValue      interface{}   `json:"defaultValue,omitempty"`
	MinValue          interface{}   `json:"minValue,omitempty"`
	MaxValue          interface{}   `json:"maxValue,omitempty"`
	PossibleValues    []interface{} `json:"possibleValues,omitempty"`
	Unit              string        `json:"unit,omitempty"`
	Cached            bool          `json:"cached,omitempty"`
	Writable          bool          `json:"writable,omitempty"`
	DisplayNameEvent  string        `json:"displayNameEvent,omitempty"`
	DisplayNameAction string        `json:"displayNameAction,omitempty"`
}

// State is a live state value of a configured thing.
type State struct {
	StateTypeID uuid.UUID   `json:"stateTypeId"`
	ThingID     uuid.UUID   `json:"thingId"`
	Value       interface{} `json:"value"`
}
