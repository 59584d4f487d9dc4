// Copyright 2020 New Relic Corporation. All rights reserved.
// SPDX-License-Identifier: Apache-2.0
package rules

import (
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/newrelic/thinghub/pkg/log"
	"github.com/newrelic/thinghub/pkg/storage"
	"github.com/newrelic/thinghub/pkg/types"
)

var elog = log.WithComponent("RuleEngine")

// Engine stores the rules and evaluates them on incoming events and
// minute changes. All methods run on the hub core loop.
type Engine struct {
	store      storage.Store
	things     ThingAccessor
	dispatcher *Dispatcher
	now        func() time.Time

	rules  map[uuid.UUID]*Rule
	states map[uuid.UUID]*ruleState

	// notification hooks, wired by the hub
	OnRuleAdded         func(r *Rule)
	OnRuleRemoved       func(id uuid.UUID)
	OnRuleChanged       func(r *Rule)
	OnRuleActiveChanged func(id uuid.UUID, active bool)
}

// NewEngine builds a rule engine dispatching through executor. now
// supplies the hub clock, usually the time manager's.
func NewEngine(store storage.Store, executor ActionExecutor, now func() time.Time) *Engine {
	if now == nil {
		now = time.Now
	}
	return &Engine{
		store:      store,
		things:     executor,
		dispatcher: NewDispatcher(executor),
		now:        now,
		rules:      map[uuid.UUID]*Rule{},
		states:     map[uuid.UUID]*ruleState{},
	}
}

// Rule returns the rule with the given id.
func (e *Engine) Rule(id uuid.UUID) (*Rule, bool) {
	r, ok := e.rules[id]
	return r, ok
}

// Rules returns all rules.
func (e *Engine) Rules() []*Rule {
	out := make([]*Rule, 0, len(e.rules))
	for _, r := range e.rules {
		out = append(out, r)
	}
	return out
}

// Active reports a rule's current active flag. Only state-based rules
// maintain one.
func (e *Engine) Active(id uuid.UUID) bool {
	if st, ok := e.states[id]; ok {
		return st.active
	}
	return false
}

// AddRule validates, stores and persists a new rule. The initial
// active flag is computed without firing any actions.
func (e *Engine) AddRule(rule Rule) RuleError {
	if rule.ID == uuid.Nil {
		rule.ID = uuid.New()
	}
	if _, dup := e.rules[rule.ID]; dup {
		return RuleErrorInvalidRuleFormat
	}
	if rerr := e.validateRule(&rule); rerr != RuleErrorNoError {
		return rerr
	}
	r := rule
	e.rules[r.ID] = &r
	e.states[r.ID] = e.initialState(&r)
	e.saveRule(&r)
	elog.WithRule(r.ID.String()).WithField("name", r.Name).Info("Rule added.")
	if e.OnRuleAdded != nil {
		e.OnRuleAdded(&r)
	}
	return RuleErrorNoError
}

// EditRule replaces an existing rule. The runtime state is recomputed
// without firing actions.
func (e *Engine) EditRule(rule Rule) RuleError {
	if _, ok := e.rules[rule.ID]; !ok {
		return RuleErrorRuleNotFound
	}
	if rerr := e.validateRule(&rule); rerr != RuleErrorNoError {
		return rerr
	}
	r := rule
	e.rules[r.ID] = &r
	e.states[r.ID] = e.initialState(&r)
	e.saveRule(&r)
	if e.OnRuleChanged != nil {
		e.OnRuleChanged(&r)
	}
	return RuleErrorNoError
}

// RemoveRule deletes a rule and its persisted form.
func (e *Engine) RemoveRule(id uuid.UUID) RuleError {
	if _, ok := e.rules[id]; !ok {
		return RuleErrorRuleNotFound
	}
	delete(e.rules, id)
	delete(e.states, id)
	e.deleteRule(id)
	elog.WithRule(id.String()).Info("Rule removed.")
	if e.OnRuleRemoved != nil {
		e.OnRuleRemoved(id)
	}
	return RuleErrorNoError
}

// EnableRule lets the rule participate in evaluation again.
func (e *Engine) EnableRule(id uuid.UUID) RuleError {
	return e.setEnabled(id, true)
}

// DisableRule takes the rule out of evaluation. An active state-based
// rule transitions to inactive on the next evaluation.
func (e *Engine) DisableRule(id uuid.UUID) RuleError {
	return e.setEnabled(id, false)
}

func (e *Engine) setEnabled(id uuid.UUID, enabled bool) RuleError {
	r, ok := e.rules[id]
	if !ok {
		return RuleErrorRuleNotFound
	}
	if r.Enabled == enabled {
		return RuleErrorNoError
	}
	r.Enabled = enabled
	e.saveRule(r)
	if e.OnRuleChanged != nil {
		e.OnRuleChanged(r)
	}
	return RuleErrorNoError
}

// ExecuteActions runs an executable rule's action list directly.
func (e *Engine) ExecuteActions(id uuid.UUID) RuleError {
	r, ok := e.rules[id]
	if !ok {
		return RuleErrorRuleNotFound
	}
	if !r.Executable {
		return RuleErrorInvalidRuleFormat
	}
	return e.dispatcher.Dispatch(r.ID, r.Actions, nil)
}

// ExecuteExitActions runs an executable rule's exit action list
// directly.
func (e *Engine) ExecuteExitActions(id uuid.UUID) RuleError {
	r, ok := e.rules[id]
	if !ok {
		return RuleErrorRuleNotFound
	}
	if !r.Executable {
		return RuleErrorInvalidRuleFormat
	}
	return e.dispatcher.Dispatch(r.ID, r.ExitActions, nil)
}

// FindRules returns the ids of every rule referencing the given thing.
func (e *Engine) FindRules(thingID uuid.UUID) []uuid.UUID {
	var out []uuid.UUID
	for id, r := range e.rules {
		if r.ReferencesThing(thingID) {
			out = append(out, id)
		}
	}
	return out
}

// RemoveThingFromRules detaches a removed thing from every rule
// referencing it. Rules listed in cascade are removed entirely; the
// rest get their references pruned, and a rule emptied by pruning is
// removed too.
func (e *Engine) RemoveThingFromRules(thingID uuid.UUID, cascade map[uuid.UUID]bool) {
	for _, id := range e.FindRules(thingID) {
		r := e.rules[id]
		if cascade[id] {
			e.RemoveRule(id)
			continue
		}
		r.pruneThing(thingID)
		if r.empty() {
			elog.WithRule(id.String()).Info("Rule emptied by thing removal, removing it.")
			e.RemoveRule(id)
			continue
		}
		e.states[id] = e.initialState(r)
		e.saveRule(r)
		if e.OnRuleChanged != nil {
			e.OnRuleChanged(r)
		}
	}
}

// HandleEvent evaluates the rules against one incoming event. State
// transitions are recomputed first since the event may be a state
// change.
func (e *Engine) HandleEvent(event types.Event) {
	dt := e.now()
	e.evaluateStateRules(dt)

	for _, r := range e.rules {
		if r.Kind() != KindEvent || !r.Enabled {
			continue
		}
		if !e.eventMatches(r, event) {
			continue
		}
		if !e.gateOpen(r, dt) {
			continue
		}
		elog.WithRule(r.ID.String()).WithField("eventType", event.EventTypeID.String()).
			Debug("Rule triggered by event.")
		e.dispatcher.Dispatch(r.ID, r.Actions, &event)
	}
}

// HandleDateTimeChanged runs the per-minute evaluation: calendar
// windows, state transitions, then time event triggers.
func (e *Engine) HandleDateTimeChanged(dt time.Time) {
	e.evaluateStateRules(dt)

	for _, r := range e.rules {
		if r.Kind() != KindEvent || !r.Enabled {
			continue
		}
		if !r.TimeDescriptor.FiresAt(dt) {
			continue
		}
		if !e.gateOpen(r, dt) {
			continue
		}
		elog.WithRule(r.ID.String()).Debug("Rule triggered by time event.")
		e.dispatcher.Dispatch(r.ID, r.Actions, nil)
	}
}

// evaluateStateRules recomputes the active flag of every state-based
// rule and fires actions or exit actions on transitions.
func (e *Engine) evaluateStateRules(dt time.Time) {
	for _, r := range e.rules {
		if r.Kind() != KindState {
			continue
		}
		st := e.states[r.ID]
		st.calendarActive = r.TimeDescriptor.ActiveAt(dt)
		st.stateActive = r.StateEvaluator == nil || r.StateEvaluator.Evaluate(e.things)

		newActive := r.Enabled && st.calendarActive && st.stateActive
		if newActive == st.active {
			continue
		}
		st.active = newActive
		st.lastActiveChange = dt
		elog.WithRule(r.ID.String()).WithField("active", newActive).Debug("Rule active state changed.")
		if newActive {
			e.dispatcher.Dispatch(r.ID, r.Actions, nil)
		} else {
			e.dispatcher.Dispatch(r.ID, r.ExitActions, nil)
		}
		if e.OnRuleActiveChanged != nil {
			e.OnRuleActiveChanged(r.ID, newActive)
		}
	}
}

// gateOpen checks the state and calendar gate of an event-based rule.
func (e *Engine) gateOpen(r *Rule, dt time.Time) bool {
	if !r.TimeDescriptor.ActiveAt(dt) {
		return false
	}
	return r.StateEvaluator == nil || r.StateEvaluator.Evaluate(e.things)
}

// eventMatches reports whether any of the rule's event descriptors
// matches the event, param filters included.
func (e *Engine) eventMatches(r *Rule, event types.Event) bool {
	for _, ed := range r.EventDescriptors {
		if !e.descriptorMatches(ed, event) {
			continue
		}
		return true
	}
	return false
}

func (e *Engine) descriptorMatches(ed EventDescriptor, event types.Event) bool {
	if ed.Interface != "" {
		thing, ok := e.things.Thing(event.ThingID)
		if !ok || !thing.Class().HasInterface(ed.Interface) {
			return false
		}
		et, ok := thing.Class().EventTypeByName(ed.InterfaceEvent)
		if !ok || et.ID != event.EventTypeID {
			return false
		}
	} else {
		if ed.EventTypeID != event.EventTypeID {
			return false
		}
		if ed.ThingID != uuid.Nil && ed.ThingID != event.ThingID {
			return false
		}
	}
	for _, f := range ed.ParamFilters {
		value, ok := event.Params[f.ParamTypeID]
		if !ok || !f.Operator.apply(value, f.Value) {
			return false
		}
	}
	return true
}

// initialState computes a rule's runtime state without firing actions.
func (e *Engine) initialState(r *Rule) *ruleState {
	dt := e.now()
	st := &ruleState{
		calendarActive: r.TimeDescriptor.ActiveAt(dt),
		stateActive:    r.StateEvaluator == nil || r.StateEvaluator.Evaluate(e.things),
	}
	if r.Kind() == KindState {
		st.active = r.Enabled && st.calendarActive && st.stateActive
	}
	return st
}

// validateRule enforces the structural invariants: a trigger and an
// action list must be present, descriptors must be well-formed, and
// referenced things and types must exist.
func (e *Engine) validateRule(r *Rule) RuleError {
	hasTrigger := len(r.EventDescriptors) > 0 ||
		len(r.TimeDescriptor.TimeEventItems) > 0 ||
		len(r.TimeDescriptor.CalendarItems) > 0 ||
		r.StateEvaluator != nil
	if !hasTrigger {
		return RuleErrorInvalidRuleFormat
	}
	if len(r.Actions) == 0 && len(r.ExitActions) == 0 {
		return RuleErrorInvalidRuleFormat
	}
	if rerr := r.TimeDescriptor.validate(); rerr != RuleErrorNoError {
		return rerr
	}
	if r.StateEvaluator != nil {
		if rerr := r.StateEvaluator.validate(); rerr != RuleErrorNoError {
			return rerr
		}
		if rerr := e.validateStateReferences(r.StateEvaluator); rerr != RuleErrorNoError {
			return rerr
		}
	}
	for _, ed := range r.EventDescriptors {
		byThing := ed.EventTypeID != uuid.Nil
		byInterface := ed.Interface != "" && ed.InterfaceEvent != ""
		if byThing == byInterface {
			return RuleErrorInvalidRuleFormat
		}
		if ed.ThingID != uuid.Nil {
			thing, ok := e.things.Thing(ed.ThingID)
			if !ok {
				return RuleErrorThingNotFound
			}
			if _, ok := thing.Class().EventType(ed.EventTypeID); !ok {
				return RuleErrorTypeNotFound
			}
		}
		for _, f := range ed.ParamFilters {
			if !f.Operator.valid() {
				return RuleErrorInvalidRuleFormat
			}
		}
	}
	for _, ra := range append(append([]RuleAction{}, r.Actions...), r.ExitActions...) {
		if rerr := e.validateAction(ra); rerr != RuleErrorNoError {
			return rerr
		}
	}
	return RuleErrorNoError
}

func (e *Engine) validateStateReferences(ev *StateEvaluator) RuleError {
	if ev.Descriptor != nil && ev.Descriptor.ThingID != uuid.Nil {
		thing, ok := e.things.Thing(ev.Descriptor.ThingID)
		if !ok {
			return RuleErrorThingNotFound
		}
		if _, ok := thing.Class().StateType(ev.Descriptor.StateTypeID); !ok {
			return RuleErrorTypeNotFound
		}
	}
	for i := range ev.Children {
		if rerr := e.validateStateReferences(&ev.Children[i]); rerr != RuleErrorNoError {
			return rerr
		}
	}
	return RuleErrorNoError
}

func (e *Engine) validateAction(ra RuleAction) RuleError {
	if ra.Interface != "" {
		if ra.InterfaceAction == "" {
			return RuleErrorInvalidRuleFormat
		}
		return RuleErrorNoError
	}
	thing, ok := e.things.Thing(ra.ThingID)
	if !ok {
		return RuleErrorThingNotFound
	}
	if ra.BrowserItemID != "" {
		return RuleErrorNoError
	}
	if _, ok := thing.Class().ActionType(ra.ActionTypeID); !ok {
		return RuleErrorTypeNotFound
	}
	return RuleErrorNoError
}

// Persisted layout, rules role:
//
//	<ruleId>/
//	  name, enabled, executable
//	  timeDescriptor, eventDescriptors, stateEvaluator, actions,
//	  exitActions (structured values)
const (
	keyRuleName        = "name"
	keyRuleEnabled     = "enabled"
	keyRuleExecutable  = "executable"
	keyTimeDescriptor  = "timeDescriptor"
	keyEventDescriptor = "eventDescriptors"
	keyStateEvaluator  = "stateEvaluator"
	keyActions         = "actions"
	keyExitActions     = "exitActions"
)

func (e *Engine) saveRule(r *Rule) {
	err := e.store.Write(storage.RoleRules, func(g storage.Group) error {
		rg := g.Group(r.ID.String())
		if err := rg.Put(keyRuleName, storage.String(r.Name)); err != nil {
			return err
		}
		if err := rg.Put(keyRuleEnabled, storage.Bool(r.Enabled)); err != nil {
			return err
		}
		if err := rg.Put(keyRuleExecutable, storage.Bool(r.Executable)); err != nil {
			return err
		}
		if err := rg.Put(keyTimeDescriptor, storage.Variant(r.TimeDescriptor)); err != nil {
			return err
		}
		if err := rg.Put(keyEventDescriptor, storage.Variant(r.EventDescriptors)); err != nil {
			return err
		}
		if err := rg.Put(keyStateEvaluator, storage.Variant(r.StateEvaluator)); err != nil {
			return err
		}
		if err := rg.Put(keyActions, storage.Variant(r.Actions)); err != nil {
			return err
		}
		return rg.Put(keyExitActions, storage.Variant(r.ExitActions))
	})
	if err != nil {
		elog.WithError(err).WithRule(r.ID.String()).Error("Unable to persist rule.")
	}
}

func (e *Engine) deleteRule(id uuid.UUID) {
	err := e.store.Write(storage.RoleRules, func(g storage.Group) error {
		return g.DeleteGroup(id.String())
	})
	if err != nil {
		elog.WithError(err).WithRule(id.String()).Error("Unable to purge persisted rule.")
	}
}

// LoadRules restores the persisted rules. Runtime state is initialized
// without firing any actions.
func (e *Engine) LoadRules() error {
	return e.store.Read(storage.RoleRules, func(g storage.Group) error {
		ids, err := g.Groups()
		if err != nil {
			return errors.Wrap(err, "unable to enumerate persisted rules")
		}
		for _, idStr := range ids {
			id, err := uuid.Parse(idStr)
			if err != nil {
				elog.WithField("group", idStr).Warn("Skipping persisted rule with malformed id.")
				continue
			}
			rule, err := readRule(g.Group(idStr), id)
			if err != nil {
				elog.WithError(err).WithRule(idStr).Warn("Skipping unreadable persisted rule.")
				continue
			}
			e.rules[id] = rule
			e.states[id] = e.initialState(rule)
		}
		elog.WithField("count", len(e.rules)).Info("Rules restored.")
		return nil
	})
}

func readRule(rg storage.Group, id uuid.UUID) (*Rule, error) {
	r := &Rule{ID: id}

	tv, ok, err := rg.Get(keyRuleName)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, errors.New("missing rule name")
	}
	r.Name, _ = tv.Value.(string)

	if tv, ok, err = rg.Get(keyRuleEnabled); err != nil {
		return nil, err
	} else if ok {
		r.Enabled, _ = tv.Value.(bool)
	}
	if tv, ok, err = rg.Get(keyRuleExecutable); err != nil {
		return nil, err
	} else if ok {
		r.Executable, _ = tv.Value.(bool)
	}
	if err := readStructured(rg, keyTimeDescriptor, &r.TimeDescriptor); err != nil {
		return nil, err
	}
	if err := readStructured(rg, keyEventDescriptor, &r.EventDescriptors); err != nil {
		return nil, err
	}
	if err := readStructured(rg, keyStateEvaluator, &r.StateEvaluator); err != nil {
		return nil, err
	}
	if err := readStructured(rg, keyActions, &r.Actions); err != nil {
		return nil, err
	}
	if err := readStructured(rg, keyExitActions, &r.ExitActions); err != nil {
		return nil, err
	}
	return r, nil
}

func readStructured(rg storage.Group, key string, dst interface{}) error {
	tv, ok, err := rg.Get(key)
	if err != nil {
		return err
	}
	if !ok || tv.Value == nil {
		return nil
	}
	return tv.DecodeInto(dst)
}
