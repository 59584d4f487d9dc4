// Copyright 2020 New Relic Corporation. All rights reserved.
// SPDX-License-Identifier: Apache-2.0
package rules

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/newrelic/thinghub/internal/plugins"
	"github.com/newrelic/thinghub/pkg/storage"
	"github.com/newrelic/thinghub/pkg/types"
)

var (
	heaterClassID = uuid.MustParse("cccccccc-0000-0000-0000-000000000001")
	powerStateID  = uuid.MustParse("cccccccc-0000-0000-0000-000000000002")
	tempStateID   = uuid.MustParse("cccccccc-0000-0000-0000-000000000003")
	pressedEvtID  = uuid.MustParse("cccccccc-0000-0000-0000-000000000004")
)

// heaterClass is a hand-built schema: a writable bool "power" state
// (with the synthesized event and action sharing its id), a read-only
// int "temperature" state and a plain "pressed" event.
func heaterClass() *types.ThingClass {
	powerParam := types.ParamType{ID: powerStateID, Name: "power", Type: types.TypeBool}
	tempParam := types.ParamType{ID: tempStateID, Name: "temperature", Type: types.TypeInt}
	return &types.ThingClass{
		ID:         heaterClassID,
		Name:       "heater",
		Interfaces: []string{"power"},
		StateTypes: []types.StateType{
			{ID: powerStateID, Name: "power", Type: types.TypeBool, DefaultValue: false, Writable: true},
			{ID: tempStateID, Name: "temperature", Type: types.TypeInt, DefaultValue: 0},
		},
		ActionTypes: []types.ActionType{
			{ID: powerStateID, Name: "power", ParamTypes: []types.ParamType{powerParam}},
		},
		EventTypes: []types.EventType{
			{ID: powerStateID, Name: "power", ParamTypes: []types.ParamType{powerParam}},
			{ID: tempStateID, Name: "temperature", ParamTypes: []types.ParamType{tempParam}},
			{ID: pressedEvtID, Name: "pressed"},
		},
	}
}

// fakeExecutor satisfies ActionExecutor with an in-memory thing set,
// recording every dispatched action.
type fakeExecutor struct {
	things  map[uuid.UUID]*types.Thing
	actions []types.Action
	browser []types.BrowserAction
}

func newFakeExecutor() *fakeExecutor {
	return &fakeExecutor{things: map[uuid.UUID]*types.Thing{}}
}

func (f *fakeExecutor) addThing(class *types.ThingClass, name string) *types.Thing {
	thing := types.NewThing(uuid.New(), class, name)
	f.things[thing.ID] = thing
	return thing
}

func (f *fakeExecutor) Thing(id uuid.UUID) (*types.Thing, bool) {
	t, ok := f.things[id]
	return t, ok
}

func (f *fakeExecutor) ThingsImplementingInterface(name string) []*types.Thing {
	var out []*types.Thing
	for _, t := range f.things {
		if t.Class().HasInterface(name) {
			out = append(out, t)
		}
	}
	return out
}

func (f *fakeExecutor) ExecuteAction(action types.Action) (*plugins.ActionInfo, types.ThingError) {
	f.actions = append(f.actions, action)
	return nil, types.ThingErrorNoError
}

func (f *fakeExecutor) ExecuteBrowserItem(action types.BrowserAction) (*plugins.BrowserActionInfo, types.ThingError) {
	f.browser = append(f.browser, action)
	return nil, types.ThingErrorNoError
}

type engineHarness struct {
	engine   *Engine
	executor *fakeExecutor
	store    storage.Store
	now      time.Time
}

func newEngineHarness(t *testing.T) *engineHarness {
	t.Helper()
	h := &engineHarness{
		executor: newFakeExecutor(),
		store:    storage.NewMemory(),
		now:      at(2020, time.June, 15, 12, 0),
	}
	h.engine = NewEngine(h.store, h.executor, func() time.Time { return h.now })
	return h
}

// advanceTo moves the clock and delivers the minute change.
func (h *engineHarness) advanceTo(dt time.Time) {
	h.now = dt
	h.engine.HandleDateTimeChanged(dt)
}

// setState mutates a thing state and delivers the synthesized
// state-change event, the way the thing manager does.
func (h *engineHarness) setState(thing *types.Thing, stateTypeID uuid.UUID, value interface{}) {
	thing.SetStateValue(stateTypeID, value)
	h.engine.HandleEvent(types.Event{
		EventTypeID:   stateTypeID,
		ThingID:       thing.ID,
		Params:        types.Params{stateTypeID: value},
		IsStateChange: true,
	})
}

func powerAction(thing *types.Thing, on bool) RuleAction {
	return RuleAction{
		ThingID:      thing.ID,
		ActionTypeID: powerStateID,
		Params:       []RuleActionParam{{ParamTypeID: powerStateID, Value: on}},
	}
}

func TestTimeBasedDailyRule(t *testing.T) {
	h := newEngineHarness(t)
	heater := h.executor.addThing(heaterClass(), "Heater")

	rule := Rule{
		ID:      uuid.New(),
		Name:    "Morning heat",
		Enabled: true,
		TimeDescriptor: TimeDescriptor{TimeEventItems: []TimeEventItem{
			{Time: "10:15", Repeating: RepeatingOption{Mode: RepeatingDaily}},
		}},
		Actions: []RuleAction{powerAction(heater, true)},
	}
	require.Equal(t, RuleErrorNoError, h.engine.AddRule(rule))

	h.advanceTo(at(2020, time.June, 16, 10, 14))
	assert.Empty(t, h.executor.actions)
	h.advanceTo(at(2020, time.June, 16, 10, 15))
	assert.Len(t, h.executor.actions, 1)
	h.advanceTo(at(2020, time.June, 16, 10, 16))
	assert.Len(t, h.executor.actions, 1)

	require.Equal(t, RuleErrorNoError, h.engine.DisableRule(rule.ID))
	h.advanceTo(at(2020, time.June, 17, 10, 14))
	h.advanceTo(at(2020, time.June, 17, 10, 15))
	assert.Len(t, h.executor.actions, 1)

	require.Equal(t, RuleErrorNoError, h.engine.EnableRule(rule.ID))
	h.advanceTo(at(2020, time.June, 18, 10, 15))
	assert.Len(t, h.executor.actions, 2)
}

func TestStateBasedRuleWithExitActions(t *testing.T) {
	h := newEngineHarness(t)
	heater := h.executor.addThing(heaterClass(), "Heater")
	fan := h.executor.addThing(heaterClass(), "Fan")

	// temperature >= 65 AND power == true
	rule := Rule{
		ID:      uuid.New(),
		Name:    "Overheat fan",
		Enabled: true,
		StateEvaluator: &StateEvaluator{
			Operator: BoolOperatorAnd,
			Children: []StateEvaluator{
				{Descriptor: &StateDescriptor{
					ThingID: heater.ID, StateTypeID: tempStateID,
					Operator: OperatorGreaterOrEqual, Value: 65,
				}},
				{Descriptor: &StateDescriptor{
					ThingID: heater.ID, StateTypeID: powerStateID,
					Operator: OperatorEquals, Value: true,
				}},
			},
		},
		Actions:     []RuleAction{powerAction(fan, true)},
		ExitActions: []RuleAction{powerAction(fan, false)},
	}
	require.Equal(t, RuleErrorNoError, h.engine.AddRule(rule))

	h.setState(heater, tempStateID, int64(66)) // power still false
	assert.Empty(t, h.executor.actions)
	assert.False(t, h.engine.Active(rule.ID))

	h.setState(heater, powerStateID, true) // both hold: enter
	require.Len(t, h.executor.actions, 1)
	assert.Equal(t, true, h.executor.actions[0].Params[powerStateID])
	assert.True(t, h.engine.Active(rule.ID))

	h.setState(heater, tempStateID, int64(64)) // leave
	require.Len(t, h.executor.actions, 2)
	assert.Equal(t, false, h.executor.actions[1].Params[powerStateID])
	assert.False(t, h.engine.Active(rule.ID))

	h.setState(heater, tempStateID, int64(65)) // enter again
	require.Len(t, h.executor.actions, 3)
	assert.Equal(t, true, h.executor.actions[2].Params[powerStateID])
}

func TestEventRuleWithCalendarGateAcrossMidnight(t *testing.T) {
	h := newEngineHarness(t)
	button := h.executor.addThing(heaterClass(), "Button")
	heater := h.executor.addThing(heaterClass(), "Heater")

	rule := Rule{
		ID:      uuid.New(),
		Name:    "Night mode",
		Enabled: true,
		EventDescriptors: []EventDescriptor{
			{EventTypeID: pressedEvtID, ThingID: button.ID},
		},
		TimeDescriptor: TimeDescriptor{CalendarItems: []CalendarItem{
			{StartTime: "23:00", Duration: 120, Repeating: RepeatingOption{Mode: RepeatingDaily}},
		}},
		Actions: []RuleAction{powerAction(heater, true)},
	}
	require.Equal(t, RuleErrorNoError, h.engine.AddRule(rule))

	press := types.Event{EventTypeID: pressedEvtID, ThingID: button.ID}

	h.now = at(2020, time.June, 15, 22, 0)
	h.engine.HandleEvent(press)
	assert.Empty(t, h.executor.actions)

	h.now = at(2020, time.June, 15, 23, 30)
	h.engine.HandleEvent(press)
	assert.Len(t, h.executor.actions, 1)

	h.now = at(2020, time.June, 16, 0, 30)
	h.engine.HandleEvent(press)
	assert.Len(t, h.executor.actions, 2)

	h.now = at(2020, time.June, 16, 1, 0)
	h.engine.HandleEvent(press)
	assert.Len(t, h.executor.actions, 2)
}

func TestEventRuleFiresOncePerMatchingEvent(t *testing.T) {
	h := newEngineHarness(t)
	button := h.executor.addThing(heaterClass(), "Button")
	heater := h.executor.addThing(heaterClass(), "Heater")

	rule := Rule{
		ID:      uuid.New(),
		Enabled: true,
		EventDescriptors: []EventDescriptor{
			{EventTypeID: pressedEvtID, ThingID: button.ID},
		},
		Actions: []RuleAction{powerAction(heater, true)},
	}
	require.Equal(t, RuleErrorNoError, h.engine.AddRule(rule))

	press := types.Event{EventTypeID: pressedEvtID, ThingID: button.ID}
	h.engine.HandleEvent(press)
	h.engine.HandleEvent(press)
	assert.Len(t, h.executor.actions, 2)

	// events of another thing do not match
	h.engine.HandleEvent(types.Event{EventTypeID: pressedEvtID, ThingID: heater.ID})
	assert.Len(t, h.executor.actions, 2)
}

func TestEventDescriptorParamFilters(t *testing.T) {
	h := newEngineHarness(t)
	sensor := h.executor.addThing(heaterClass(), "Sensor")
	heater := h.executor.addThing(heaterClass(), "Heater")

	rule := Rule{
		ID:      uuid.New(),
		Enabled: true,
		EventDescriptors: []EventDescriptor{{
			EventTypeID: tempStateID,
			ThingID:     sensor.ID,
			ParamFilters: []ParamFilter{
				{ParamTypeID: tempStateID, Operator: OperatorGreater, Value: 30},
			},
		}},
		Actions: []RuleAction{powerAction(heater, false)},
	}
	require.Equal(t, RuleErrorNoError, h.engine.AddRule(rule))

	h.engine.HandleEvent(types.Event{
		EventTypeID: tempStateID, ThingID: sensor.ID,
		Params: types.Params{tempStateID: int64(25)},
	})
	assert.Empty(t, h.executor.actions)

	h.engine.HandleEvent(types.Event{
		EventTypeID: tempStateID, ThingID: sensor.ID,
		Params: types.Params{tempStateID: int64(31)},
	})
	assert.Len(t, h.executor.actions, 1)
}

func TestEventBasedActionParams(t *testing.T) {
	h := newEngineHarness(t)
	sensor := h.executor.addThing(heaterClass(), "Sensor")
	heater := h.executor.addThing(heaterClass(), "Heater")

	// copy the power value of the triggering event onto the action
	rule := Rule{
		ID:      uuid.New(),
		Enabled: true,
		EventDescriptors: []EventDescriptor{
			{EventTypeID: powerStateID, ThingID: sensor.ID},
		},
		Actions: []RuleAction{{
			ThingID:      heater.ID,
			ActionTypeID: powerStateID,
			Params: []RuleActionParam{{
				ParamTypeID:      powerStateID,
				EventTypeID:      powerStateID,
				EventParamTypeID: powerStateID,
			}},
		}},
	}
	require.Equal(t, RuleErrorNoError, h.engine.AddRule(rule))

	h.engine.HandleEvent(types.Event{
		EventTypeID: powerStateID, ThingID: sensor.ID,
		Params: types.Params{powerStateID: true}, IsStateChange: true,
	})
	require.Len(t, h.executor.actions, 1)
	assert.Equal(t, true, h.executor.actions[0].Params[powerStateID])
}

func TestStateBasedActionParams(t *testing.T) {
	h := newEngineHarness(t)
	sensor := h.executor.addThing(heaterClass(), "Sensor")
	heater := h.executor.addThing(heaterClass(), "Heater")
	sensor.SetStateValue(powerStateID, true)

	rule := Rule{
		ID:      uuid.New(),
		Enabled: true,
		EventDescriptors: []EventDescriptor{
			{EventTypeID: pressedEvtID, ThingID: sensor.ID},
		},
		Actions: []RuleAction{{
			ThingID:      heater.ID,
			ActionTypeID: powerStateID,
			Params: []RuleActionParam{{
				ParamTypeID:  powerStateID,
				StateThingID: sensor.ID,
				StateTypeID:  powerStateID,
			}},
		}},
	}
	require.Equal(t, RuleErrorNoError, h.engine.AddRule(rule))

	h.engine.HandleEvent(types.Event{EventTypeID: pressedEvtID, ThingID: sensor.ID})
	require.Len(t, h.executor.actions, 1)
	assert.Equal(t, true, h.executor.actions[0].Params[powerStateID])
}

func TestInterfaceActionFanOut(t *testing.T) {
	h := newEngineHarness(t)
	button := h.executor.addThing(heaterClass(), "Button")
	h.executor.addThing(heaterClass(), "Heater 1")
	h.executor.addThing(heaterClass(), "Heater 2")

	rule := Rule{
		ID:      uuid.New(),
		Enabled: true,
		EventDescriptors: []EventDescriptor{
			{EventTypeID: pressedEvtID, ThingID: button.ID},
		},
		Actions: []RuleAction{{
			Interface:       "power",
			InterfaceAction: "power",
			Params:          []RuleActionParam{{ParamName: "power", Value: false}},
		}},
	}
	require.Equal(t, RuleErrorNoError, h.engine.AddRule(rule))

	h.engine.HandleEvent(types.Event{EventTypeID: pressedEvtID, ThingID: button.ID})
	// all three things implement "power", the button included
	assert.Len(t, h.executor.actions, 3)
	for _, a := range h.executor.actions {
		assert.Equal(t, false, a.Params[powerStateID])
	}
}

func TestRuleValidation(t *testing.T) {
	h := newEngineHarness(t)
	heater := h.executor.addThing(heaterClass(), "Heater")

	// no trigger
	assert.Equal(t, RuleErrorInvalidRuleFormat, h.engine.AddRule(Rule{
		ID: uuid.New(), Actions: []RuleAction{powerAction(heater, true)},
	}))
	// no actions
	assert.Equal(t, RuleErrorInvalidRuleFormat, h.engine.AddRule(Rule{
		ID:               uuid.New(),
		EventDescriptors: []EventDescriptor{{EventTypeID: pressedEvtID, ThingID: heater.ID}},
	}))
	// unknown thing in the action
	assert.Equal(t, RuleErrorThingNotFound, h.engine.AddRule(Rule{
		ID:               uuid.New(),
		EventDescriptors: []EventDescriptor{{EventTypeID: pressedEvtID, ThingID: heater.ID}},
		Actions: []RuleAction{{
			ThingID: uuid.New(), ActionTypeID: powerStateID,
		}},
	}))
	// unknown action type
	assert.Equal(t, RuleErrorTypeNotFound, h.engine.AddRule(Rule{
		ID:               uuid.New(),
		EventDescriptors: []EventDescriptor{{EventTypeID: pressedEvtID, ThingID: heater.ID}},
		Actions: []RuleAction{{
			ThingID: heater.ID, ActionTypeID: uuid.New(),
		}},
	}))
	// malformed calendar item
	assert.Equal(t, RuleErrorInvalidCalendarItem, h.engine.AddRule(Rule{
		ID:             uuid.New(),
		TimeDescriptor: TimeDescriptor{CalendarItems: []CalendarItem{{StartTime: "10:00", Duration: 0}}},
		StateEvaluator: &StateEvaluator{Descriptor: &StateDescriptor{
			ThingID: heater.ID, StateTypeID: powerStateID, Operator: OperatorEquals, Value: true,
		}},
		Actions: []RuleAction{powerAction(heater, true)},
	}))
	// malformed evaluator operator
	assert.Equal(t, RuleErrorInvalidStateEvaluatorValue, h.engine.AddRule(Rule{
		ID: uuid.New(),
		StateEvaluator: &StateEvaluator{Descriptor: &StateDescriptor{
			ThingID: heater.ID, StateTypeID: powerStateID, Operator: "almost", Value: true,
		}},
		Actions: []RuleAction{powerAction(heater, true)},
	}))
}

func TestExecuteActionsRequiresExecutableFlag(t *testing.T) {
	h := newEngineHarness(t)
	heater := h.executor.addThing(heaterClass(), "Heater")

	rule := Rule{
		ID:      uuid.New(),
		Enabled: true,
		EventDescriptors: []EventDescriptor{
			{EventTypeID: pressedEvtID, ThingID: heater.ID},
		},
		Actions:     []RuleAction{powerAction(heater, true)},
		ExitActions: []RuleAction{powerAction(heater, false)},
	}
	require.Equal(t, RuleErrorNoError, h.engine.AddRule(rule))
	assert.Equal(t, RuleErrorInvalidRuleFormat, h.engine.ExecuteActions(rule.ID))

	rule.Executable = true
	require.Equal(t, RuleErrorNoError, h.engine.EditRule(rule))
	assert.Equal(t, RuleErrorNoError, h.engine.ExecuteActions(rule.ID))
	assert.Equal(t, RuleErrorNoError, h.engine.ExecuteExitActions(rule.ID))
	assert.Len(t, h.executor.actions, 2)

	assert.Equal(t, RuleErrorRuleNotFound, h.engine.ExecuteActions(uuid.New()))
}

func TestRulePersistenceRoundTrip(t *testing.T) {
	h := newEngineHarness(t)
	heater := h.executor.addThing(heaterClass(), "Heater")

	start := at(2020, time.December, 24, 18, 0)
	rule := Rule{
		ID:         uuid.New(),
		Name:       "Christmas lights",
		Enabled:    true,
		Executable: true,
		TimeDescriptor: TimeDescriptor{
			CalendarItems: []CalendarItem{{
				StartDateTime: &start, Duration: 360,
				Repeating: RepeatingOption{Mode: RepeatingYearly},
			}},
			TimeEventItems: []TimeEventItem{{
				Time: "18:00", Repeating: RepeatingOption{Mode: RepeatingWeekly, WeekDays: []int{6, 7}},
			}},
		},
		StateEvaluator: &StateEvaluator{
			Operator: BoolOperatorOr,
			Children: []StateEvaluator{
				{Descriptor: &StateDescriptor{
					ThingID: heater.ID, StateTypeID: powerStateID,
					Operator: OperatorEquals, Value: true,
				}},
				{Descriptor: &StateDescriptor{
					Interface: "power", StateName: "power",
					Operator: OperatorEquals, Value: false,
				}},
			},
		},
		Actions:     []RuleAction{powerAction(heater, true)},
		ExitActions: []RuleAction{powerAction(heater, false)},
	}
	require.Equal(t, RuleErrorNoError, h.engine.AddRule(rule))

	restored := NewEngine(h.store, h.executor, func() time.Time { return h.now })
	require.NoError(t, restored.LoadRules())

	got, ok := restored.Rule(rule.ID)
	require.True(t, ok)
	assert.Equal(t, rule.Name, got.Name)
	assert.True(t, got.Enabled)
	assert.True(t, got.Executable)
	require.Len(t, got.TimeDescriptor.CalendarItems, 1)
	assert.Equal(t, 360, got.TimeDescriptor.CalendarItems[0].Duration)
	assert.Equal(t, RepeatingYearly, got.TimeDescriptor.CalendarItems[0].Repeating.Mode)
	require.Len(t, got.TimeDescriptor.TimeEventItems, 1)
	assert.Equal(t, []int{6, 7}, got.TimeDescriptor.TimeEventItems[0].Repeating.WeekDays)
	require.NotNil(t, got.StateEvaluator)
	require.Len(t, got.StateEvaluator.Children, 2)
	assert.Equal(t, heater.ID, got.StateEvaluator.Children[0].Descriptor.ThingID)
	assert.Equal(t, "power", got.StateEvaluator.Children[1].Descriptor.Interface)
	require.Len(t, got.Actions, 1)
	assert.Equal(t, heater.ID, got.Actions[0].ThingID)
	require.Len(t, got.ExitActions, 1)
}

func TestRemoveThingFromRules(t *testing.T) {
	h := newEngineHarness(t)
	heater := h.executor.addThing(heaterClass(), "Heater")
	fan := h.executor.addThing(heaterClass(), "Fan")

	// references both things: survives pruning of one
	mixed := Rule{
		ID:      uuid.New(),
		Enabled: true,
		EventDescriptors: []EventDescriptor{
			{EventTypeID: pressedEvtID, ThingID: heater.ID},
			{EventTypeID: pressedEvtID, ThingID: fan.ID},
		},
		Actions: []RuleAction{powerAction(heater, true), powerAction(fan, true)},
	}
	// references only the heater: emptied by pruning
	single := Rule{
		ID:      uuid.New(),
		Enabled: true,
		EventDescriptors: []EventDescriptor{
			{EventTypeID: pressedEvtID, ThingID: heater.ID},
		},
		Actions: []RuleAction{powerAction(heater, true)},
	}
	// cascaded away entirely
	cascaded := Rule{
		ID:      uuid.New(),
		Enabled: true,
		EventDescriptors: []EventDescriptor{
			{EventTypeID: pressedEvtID, ThingID: heater.ID},
		},
		Actions: []RuleAction{powerAction(fan, true)},
	}
	require.Equal(t, RuleErrorNoError, h.engine.AddRule(mixed))
	require.Equal(t, RuleErrorNoError, h.engine.AddRule(single))
	require.Equal(t, RuleErrorNoError, h.engine.AddRule(cascaded))

	found := h.engine.FindRules(heater.ID)
	assert.ElementsMatch(t, []uuid.UUID{mixed.ID, single.ID, cascaded.ID}, found)

	h.engine.RemoveThingFromRules(heater.ID, map[uuid.UUID]bool{cascaded.ID: true})

	_, ok := h.engine.Rule(cascaded.ID)
	assert.False(t, ok)
	_, ok = h.engine.Rule(single.ID)
	assert.False(t, ok)

	got, ok := h.engine.Rule(mixed.ID)
	require.True(t, ok)
	require.Len(t, got.EventDescriptors, 1)
	assert.Equal(t, fan.ID, got.EventDescriptors[0].ThingID)
	require.Len(t, got.Actions, 1)
	assert.Equal(t, fan.ID, got.Actions[0].ThingID)
}

func TestAddRuleDoesNotFireOnMatchingInitialState(t *testing.T) {
	h := newEngineHarness(t)
	heater := h.executor.addThing(heaterClass(), "Heater")
	fan := h.executor.addThing(heaterClass(), "Fan")
	heater.SetStateValue(powerStateID, true)

	rule := Rule{
		ID:      uuid.New(),
		Enabled: true,
		StateEvaluator: &StateEvaluator{Descriptor: &StateDescriptor{
			ThingID: heater.ID, StateTypeID: powerStateID,
			Operator: OperatorEquals, Value: true,
		}},
		Actions:     []RuleAction{powerAction(fan, true)},
		ExitActions: []RuleAction{powerAction(fan, false)},
	}
	require.Equal(t, RuleErrorNoError, h.engine.AddRule(rule))

	// already satisfied at add time: active without dispatch
	assert.True(t, h.engine.Active(rule.ID))
	assert.Empty(t, h.executor.actions)

	// leaving fires the exit actions
	h.setState(heater, powerStateID, false)
	require.Len(t, h.executor.actions, 1)
	assert.Equal(t, false, h.executor.actions[0].Params[powerStateID])
}
