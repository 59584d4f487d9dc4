// Copyright 2020 New Relic Corporation. All rights reserved.
// SPDX-License-Identifier: Apache-2.0
// Package rules holds the rule engine: rule storage, the per-event and
// per-minute evaluation machinery and the action dispatcher resolving
// rule actions into concrete thing actions.
package rules

import (
	"time"

	"github.com/google/uuid"

	"github.com/newrelic/thinghub/pkg/types"
)

// RuleKind is the evaluation archetype of a rule, derived from which
// descriptor fields are populated.
type RuleKind string

const (
	// KindEvent rules fire their actions once per matching event,
	// optionally gated by state and calendar.
	KindEvent RuleKind = "event"
	// KindState rules carry an active flag; actions fire on the
	// inactive to active transition, exit actions on the way back.
	KindState RuleKind = "state"
)

// ValueOperator compares a live value against a descriptor value.
type ValueOperator string

const (
	OperatorEquals         ValueOperator = "eq"
	OperatorNotEquals      ValueOperator = "neq"
	OperatorLess           ValueOperator = "lt"
	OperatorLessOrEqual    ValueOperator = "lte"
	OperatorGreater        ValueOperator = "gt"
	OperatorGreaterOrEqual ValueOperator = "gte"
)

func (o ValueOperator) valid() bool {
	switch o {
	case OperatorEquals, OperatorNotEquals, OperatorLess, OperatorLessOrEqual,
		OperatorGreater, OperatorGreaterOrEqual:
		return true
	}
	return false
}

// apply evaluates the operator over a comparison outcome. Incomparable
// values never satisfy an operator.
func (o ValueOperator) apply(current, reference interface{}) bool {
	switch o {
	case OperatorEquals:
		return types.Equal(current, reference)
	case OperatorNotEquals:
		return !types.Equal(current, reference)
	}
	cmp, err := types.Compare(current, reference)
	if err != nil {
		return false
	}
	switch o {
	case OperatorLess:
		return cmp < 0
	case OperatorLessOrEqual:
		return cmp <= 0
	case OperatorGreater:
		return cmp > 0
	case OperatorGreaterOrEqual:
		return cmp >= 0
	}
	return false
}

// ParamFilter restricts an event descriptor to events whose param
// value satisfies the operator.
type ParamFilter struct {
	ParamTypeID uuid.UUID     `json:"paramTypeId"`
	Operator    ValueOperator `json:"operator"`
	Value       interface{}   `json:"value"`
}

// EventDescriptor matches events either of one thing or of every thing
// implementing an interface.
type EventDescriptor struct {
	EventTypeID    uuid.UUID     `json:"eventTypeId,omitempty"`
	ThingID        uuid.UUID     `json:"thingId,omitempty"`
	Interface      string        `json:"interface,omitempty"`
	InterfaceEvent string        `json:"interfaceEvent,omitempty"`
	ParamFilters   []ParamFilter `json:"paramFilters,omitempty"`
}

// RuleActionParamSource tells how one action param value is produced.
type RuleActionParamSource string

const (
	// ParamSourceValue uses the literal value stored with the rule.
	ParamSourceValue RuleActionParamSource = "value"
	// ParamSourceEvent copies a param from the triggering event.
	ParamSourceEvent RuleActionParamSource = "event"
	// ParamSourceState reads a state value at execution time.
	ParamSourceState RuleActionParamSource = "state"
)

// RuleActionParam is one parameter of a rule action.
type RuleActionParam struct {
	ParamTypeID uuid.UUID `json:"paramTypeId,omitempty"`
	ParamName   string    `json:"paramName,omitempty"`

	Value interface{} `json:"value,omitempty"`

	EventTypeID      uuid.UUID `json:"eventTypeId,omitempty"`
	EventParamTypeID uuid.UUID `json:"eventParamTypeId,omitempty"`

	StateThingID uuid.UUID `json:"stateThingId,omitempty"`
	StateTypeID  uuid.UUID `json:"stateTypeId,omitempty"`
}

// Source derives where the param value comes from.
func (p RuleActionParam) Source() RuleActionParamSource {
	switch {
	case p.EventParamTypeID != uuid.Nil:
		return ParamSourceEvent
	case p.StateTypeID != uuid.Nil && p.StateThingID != uuid.Nil:
		return ParamSourceState
	default:
		return ParamSourceValue
	}
}

// RuleAction addresses either one thing's action type, an interface
// action fanned out over all implementing things, or a browser item.
type RuleAction struct {
	ThingID         uuid.UUID `json:"thingId,omitempty"`
	ActionTypeID    uuid.UUID `json:"actionTypeId,omitempty"`
	Interface       string    `json:"interface,omitempty"`
	InterfaceAction string    `json:"interfaceAction,omitempty"`
	BrowserItemID   string    `json:"browserItemId,omitempty"`

	Params []RuleActionParam `json:"params,omitempty"`
}

// Rule is one persisted automation.
type Rule struct {
	ID         uuid.UUID `json:"id"`
	Name       string    `json:"name"`
	Enabled    bool      `json:"enabled"`
	Executable bool      `json:"executable,omitempty"`

	TimeDescriptor   TimeDescriptor    `json:"timeDescriptor,omitempty"`
	EventDescriptors []EventDescriptor `json:"eventDescriptors,omitempty"`
	StateEvaluator   *StateEvaluator   `json:"stateEvaluator,omitempty"`

	Actions     []RuleAction `json:"actions,omitempty"`
	ExitActions []RuleAction `json:"exitActions,omitempty"`
}

// Kind derives the evaluation archetype. Event descriptors or time
// event items make the rule event-based; otherwise it is state-based.
func (r *Rule) Kind() RuleKind {
	if len(r.EventDescriptors) > 0 || len(r.TimeDescriptor.TimeEventItems) > 0 {
		return KindEvent
	}
	return KindState
}

// ReferencesThing reports whether any descriptor or action of the rule
// addresses the given thing.
func (r *Rule) ReferencesThing(thingID uuid.UUID) bool {
	for _, ed := range r.EventDescriptors {
		if ed.ThingID == thingID {
			return true
		}
	}
	if r.StateEvaluator != nil && r.StateEvaluator.referencesThing(thingID) {
		return true
	}
	for _, a := range r.Actions {
		if ruleActionReferencesThing(a, thingID) {
			return true
		}
	}
	for _, a := range r.ExitActions {
		if ruleActionReferencesThing(a, thingID) {
			return true
		}
	}
	return false
}

func ruleActionReferencesThing(a RuleAction, thingID uuid.UUID) bool {
	if a.ThingID == thingID {
		return true
	}
	for _, p := range a.Params {
		if p.StateThingID == thingID {
			return true
		}
	}
	return false
}

// pruneThing removes every reference to the given thing from the rule.
func (r *Rule) pruneThing(thingID uuid.UUID) {
	kept := r.EventDescriptors[:0]
	for _, ed := range r.EventDescriptors {
		if ed.ThingID != thingID {
			kept = append(kept, ed)
		}
	}
	r.EventDescriptors = kept
	if r.StateEvaluator != nil {
		r.StateEvaluator = r.StateEvaluator.pruneThing(thingID)
	}
	r.Actions = pruneActions(r.Actions, thingID)
	r.ExitActions = pruneActions(r.ExitActions, thingID)
}

func pruneActions(actions []RuleAction, thingID uuid.UUID) []RuleAction {
	kept := actions[:0]
	for _, a := range actions {
		if ruleActionReferencesThing(a, thingID) {
			continue
		}
		kept = append(kept, a)
	}
	return kept
}

// empty reports whether pruning left the rule without triggers or
// actions.
func (r *Rule) empty() bool {
	hasTrigger := len(r.EventDescriptors) > 0 ||
		len(r.TimeDescriptor.TimeEventItems) > 0 ||
		len(r.TimeDescriptor.CalendarItems) > 0 ||
		r.StateEvaluator != nil
	hasAction := len(r.Actions) > 0 || len(r.ExitActions) > 0
	return !hasTrigger || !hasAction
}

// ruleState is the runtime evaluation state of one rule, never
// persisted.
type ruleState struct {
	active           bool
	calendarActive   bool
	stateActive      bool
	lastActiveChange time.Time
}
