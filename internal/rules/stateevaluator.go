// Copyright 2020 New Relic Corporation. All rights reserved.
// SPDX-License-Identifier: Apache-2.0
package rules

import (
	"github.com/google/uuid"

	"github.com/newrelic/thinghub/pkg/types"
)

// ThingAccessor is the read-only slice of the thing manager the rule
// engine evaluates against.
type ThingAccessor interface {
	Thing(id uuid.UUID) (*types.Thing, bool)
	ThingsImplementingInterface(name string) []*types.Thing
}

// BoolOperator combines the child results of an evaluator node.
type BoolOperator string

const (
	BoolOperatorAnd BoolOperator = "and"
	BoolOperatorOr  BoolOperator = "or"
)

// StateDescriptor is one leaf condition, addressing either a concrete
// thing's state or a state of every thing implementing an interface.
// Interface descriptors are satisfied when at least one implementing
// thing matches.
type StateDescriptor struct {
	ThingID     uuid.UUID     `json:"thingId,omitempty"`
	StateTypeID uuid.UUID     `json:"stateTypeId,omitempty"`
	Interface   string        `json:"interface,omitempty"`
	StateName   string        `json:"stateName,omitempty"`
	Operator    ValueOperator `json:"operator"`
	Value       interface{}   `json:"value"`
}

// StateEvaluator is a boolean tree over state descriptors. A node
// either carries a descriptor or combines child evaluators.
type StateEvaluator struct {
	Operator   BoolOperator     `json:"operator,omitempty"`
	Descriptor *StateDescriptor `json:"stateDescriptor,omitempty"`
	Children   []StateEvaluator `json:"childEvaluators,omitempty"`
}

// validate checks descriptor addressing and operators recursively.
func (e *StateEvaluator) validate() RuleError {
	if e.Descriptor != nil {
		d := e.Descriptor
		if !d.Operator.valid() {
			return RuleErrorInvalidStateEvaluatorValue
		}
		byThing := d.ThingID != uuid.Nil && d.StateTypeID != uuid.Nil
		byInterface := d.Interface != "" && d.StateName != ""
		if byThing == byInterface {
			return RuleErrorInvalidStateEvaluatorValue
		}
		return RuleErrorNoError
	}
	if len(e.Children) == 0 {
		return RuleErrorInvalidStateEvaluatorValue
	}
	if e.Operator != BoolOperatorAnd && e.Operator != BoolOperatorOr {
		return RuleErrorInvalidStateEvaluatorValue
	}
	for i := range e.Children {
		if rerr := e.Children[i].validate(); rerr != RuleErrorNoError {
			return rerr
		}
	}
	return RuleErrorNoError
}

// Evaluate computes the truth value of the tree against the current
// thing states.
func (e *StateEvaluator) Evaluate(things ThingAccessor) bool {
	if e.Descriptor != nil {
		return e.Descriptor.matches(things)
	}
	switch e.Operator {
	case BoolOperatorOr:
		for i := range e.Children {
			if e.Children[i].Evaluate(things) {
				return true
			}
		}
		return false
	default:
		for i := range e.Children {
			if !e.Children[i].Evaluate(things) {
				return false
			}
		}
		return len(e.Children) > 0
	}
}

func (d *StateDescriptor) matches(things ThingAccessor) bool {
	if d.ThingID != uuid.Nil {
		thing, ok := things.Thing(d.ThingID)
		if !ok {
			return false
		}
		current, ok := thing.StateValue(d.StateTypeID)
		if !ok {
			return false
		}
		return d.Operator.apply(current, d.Value)
	}
	for _, thing := range things.ThingsImplementingInterface(d.Interface) {
		st, ok := thing.Class().StateTypeByName(d.StateName)
		if !ok {
			continue
		}
		current, ok := thing.StateValue(st.ID)
		if !ok {
			continue
		}
		if d.Operator.apply(current, d.Value) {
			return true
		}
	}
	return false
}

func (e *StateEvaluator) referencesThing(thingID uuid.UUID) bool {
	if e.Descriptor != nil && e.Descriptor.ThingID == thingID {
		return true
	}
	for i := range e.Children {
		if e.Children[i].referencesThing(thingID) {
			return true
		}
	}
	return false
}

// pruneThing removes descriptors addressing the thing. A node left
// without descriptor and children collapses to nil.
func (e *StateEvaluator) pruneThing(thingID uuid.UUID) *StateEvaluator {
	if e.Descriptor != nil {
		if e.Descriptor.ThingID == thingID {
			return nil
		}
		return e
	}
	kept := e.Children[:0]
	for i := range e.Children {
		if pruned := e.Children[i].pruneThing(thingID); pruned != nil {
			kept = append(kept, *pruned)
		}
	}
	e.Children = kept
	if len(e.Children) == 0 {
		return nil
	}
	return e
}
