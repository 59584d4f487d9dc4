// Copyright 2020 New Relic Corporation. All rights reserved.
// SPDX-License-Identifier: Apache-2.0
package rules

import (
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/newrelic/thinghub/internal/plugins"
	"github.com/newrelic/thinghub/pkg/log"
	"github.com/newrelic/thinghub/pkg/types"
)

var dlog = log.WithComponent("ActionDispatcher")

// ActionExecutor is the slice of the thing manager the dispatcher
// needs: thing lookup plus action submission.
type ActionExecutor interface {
	ThingAccessor
	ExecuteAction(action types.Action) (*plugins.ActionInfo, types.ThingError)
	ExecuteBrowserItem(action types.BrowserAction) (*plugins.BrowserActionInfo, types.ThingError)
}

// Dispatcher resolves rule actions into concrete thing actions and
// submits them. Failures of one action are logged and do not cancel
// sibling actions.
type Dispatcher struct {
	executor ActionExecutor
}

// NewDispatcher builds a dispatcher submitting through the given
// executor.
func NewDispatcher(executor ActionExecutor) *Dispatcher {
	return &Dispatcher{executor: executor}
}

// Dispatch executes a rule's action list. event is the triggering
// event for event-based rules, nil otherwise. The first failure status
// is returned after every sibling ran.
func (d *Dispatcher) Dispatch(ruleID uuid.UUID, actions []RuleAction, event *types.Event) RuleError {
	result := RuleErrorNoError
	for _, ra := range actions {
		if rerr := d.dispatchOne(ruleID, ra, event); rerr != RuleErrorNoError && result == RuleErrorNoError {
			result = rerr
		}
	}
	return result
}

func (d *Dispatcher) dispatchOne(ruleID uuid.UUID, ra RuleAction, event *types.Event) RuleError {
	rlog := dlog.WithRule(ruleID.String())

	if ra.BrowserItemID != "" {
		_, terr := d.executor.ExecuteBrowserItem(types.BrowserAction{
			ThingID: ra.ThingID,
			ItemID:  ra.BrowserItemID,
		})
		if terr != types.ThingErrorAsync && terr != types.ThingErrorNoError {
			rlog.WithField("status", string(terr)).Warn("Browser item action failed.")
			return mapThingError(terr)
		}
		return RuleErrorNoError
	}

	if ra.Interface != "" {
		// interface actions fan out over the implementing things known
		// right now; each resulting action stands alone
		result := RuleErrorNoError
		for _, thing := range d.executor.ThingsImplementingInterface(ra.Interface) {
			actionType, ok := thing.Class().ActionTypeByName(ra.InterfaceAction)
			if !ok {
				continue
			}
			if rerr := d.execute(rlog, thing, actionType, ra.Params, event); rerr != RuleErrorNoError && result == RuleErrorNoError {
				result = rerr
			}
		}
		return result
	}

	thing, ok := d.executor.Thing(ra.ThingID)
	if !ok {
		rlog.WithThing(ra.ThingID.String()).Warn("Rule action addresses an unknown thing.")
		return RuleErrorThingNotFound
	}
	actionType, ok := thing.Class().ActionType(ra.ActionTypeID)
	if !ok {
		rlog.WithThing(ra.ThingID.String()).WithField("actionType", ra.ActionTypeID.String()).
			Warn("Rule action addresses an unknown action type.")
		return RuleErrorTypeNotFound
	}
	return d.execute(rlog, thing, actionType, ra.Params, event)
}

func (d *Dispatcher) execute(rlog log.Entry, thing *types.Thing, actionType types.ActionType,
	ruleParams []RuleActionParam, event *types.Event) RuleError {

	params, rerr := d.resolveParams(actionType, ruleParams, event)
	if rerr != RuleErrorNoError {
		rlog.WithThing(thing.ID.String()).WithField("actionType", actionType.Name).
			Warn("Unable to resolve rule action params.")
		return rerr
	}
	_, terr := d.executor.ExecuteAction(types.Action{
		ActionTypeID: actionType.ID,
		ThingID:      thing.ID,
		Params:       params,
		Trigger:      types.TriggerRule,
	})
	if terr != types.ThingErrorAsync && terr != types.ThingErrorNoError {
		rlog.WithThing(thing.ID.String()).WithFields(logrus.Fields{
			"actionType": actionType.Name, "status": string(terr),
		}).Warn("Rule action failed.")
		return mapThingError(terr)
	}
	return RuleErrorNoError
}

// resolveParams materializes the action's param values: literals are
// taken as stored, event params are copied from the triggering event,
// state params are read from the live state.
func (d *Dispatcher) resolveParams(actionType types.ActionType, ruleParams []RuleActionParam,
	event *types.Event) (types.Params, RuleError) {

	params := types.Params{}
	for _, rp := range ruleParams {
		paramTypeID := rp.ParamTypeID
		if paramTypeID == uuid.Nil && rp.ParamName != "" {
			for _, pt := range actionType.ParamTypes {
				if pt.Name == rp.ParamName {
					paramTypeID = pt.ID
					break
				}
			}
		}
		if paramTypeID == uuid.Nil {
			return nil, RuleErrorTypeNotFound
		}

		switch rp.Source() {
		case ParamSourceEvent:
			if event == nil {
				return nil, RuleErrorInvalidRuleFormat
			}
			if rp.EventTypeID != uuid.Nil && rp.EventTypeID != event.EventTypeID {
				return nil, RuleErrorInvalidRuleFormat
			}
			value, ok := event.Params[rp.EventParamTypeID]
			if !ok {
				return nil, RuleErrorTypeNotFound
			}
			params[paramTypeID] = value
		case ParamSourceState:
			thing, ok := d.executor.Thing(rp.StateThingID)
			if !ok {
				return nil, RuleErrorThingNotFound
			}
			value, ok := thing.StateValue(rp.StateTypeID)
			if !ok {
				return nil, RuleErrorTypeNotFound
			}
			params[paramTypeID] = value
		default:
			params[paramTypeID] = rp.Value
		}
	}
	return params, RuleErrorNoError
}

func mapThingError(terr types.ThingError) RuleError {
	switch terr {
	case types.ThingErrorNoError, types.ThingErrorAsync:
		return RuleErrorNoError
	case types.ThingErrorThingNotFound:
		return RuleErrorThingNotFound
	case types.ThingErrorActionTypeNotFound, types.ThingErrorStateTypeNotFound,
		types.ThingErrorEventTypeNotFound:
		return RuleErrorTypeNotFound
	default:
		return RuleErrorNetworkError
	}
}
