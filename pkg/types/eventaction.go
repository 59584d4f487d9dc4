// Copyright 2020 New Relic Corporation. All rights reserved.
// SPDX-License-Identifier: Apache-2.0
package types

import (
	"github.com/google/uuid"
)

// EventType describes one event a thing class can emit.
type EventType struct {
	ID          uuid.UUID   `json:"id"`
	Name        string      `json:"name"`
	DisplayName string      `json:"displayName"`
	Index       int         `json:"index"`
	ParamTypes  []ParamType `json:"paramTypes,omitempty"`
}

// ActionType describes one action a thing class can execute.
type ActionType struct {
	ID          uuid.UUID   `json:"id"`
	Name        string      `json:"name"`
	DisplayName string      `json:"displayName"`
	Index       int         `json:"index"`
	ParamTypes  []ParamType `json:"paramTypes,omitempty"`
}

// ActionTrigger tells apart user-initiated and rule-initiated actions.
type ActionTrigger string

const (
	TriggerUser ActionTrigger = "user"
	TriggerRule ActionTrigger = "rule"
)

// Action is a transient request to execute an action on a thing.
type Action struct {
	ActionTypeID uuid.UUID     `json:"actionTypeId"`
	ThingID      uuid.UUID     `json:"thingId"`
	Params       Params        `json:"params,omitempty"`
	Trigger      ActionTrigger `json:"trigger,omitempty"`
}

// Event is a transient occurrence emitted by a thing. State changes are
// delivered as events too, flagged with IsStateChange.
type Event struct {
	EventTypeID   uuid.UUID `json:"eventTypeId"`
	ThingID       uuid.UUID `json:"thingId"`
	Params        Params    `json:"params,omitempty"`
	IsStateChange bool      `json:"isStateChange,omitempty"`
}

// BrowserItem is one entry of a browsable thing's hierarchy.
type BrowserItem struct {
	ID            string      `json:"id"`
	DisplayName   string      `json:"displayName"`
	Description   string      `json:"description,omitempty"`
	Icon          string      `json:"icon,omitempty"`
	Thumbnail     string      `json:"thumbnail,omitempty"`
	Executable    bool        `json:"executable,omitempty"`
	Browsable     bool        `json:"browsable,omitempty"`
	Disabled      bool        `json:"disabled,omitempty"`
	ActionTypeIDs []uuid.UUID `json:"actionTypeIds,omitempty"`
}

// BrowserAction executes a browser item of a browsable thing.
type BrowserAction struct {
	ThingID uuid.UUID `json:"thingId"`
	ItemID  string    `json:"itemId"`
}

// BrowserItemAction executes an action on a browser item.
type BrowserItemAction struct {
	ThingID      uuid.UUID `json:"thingId"`
	ItemID       string    `json:"itemId"`
	ActionTypeID uuid.UUID `json:"actionTypeId"`
	Params       Params    `json:"params,omitempty"`
}
