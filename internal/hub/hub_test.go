// Copyright 2020 New Relic Corporation. All rights reserved.
// SPDX-License-Identifier: Apache-2.0
package hub

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/newrelic/thinghub/internal/plugins"
	"github.com/newrelic/thinghub/internal/rules"
	"github.com/newrelic/thinghub/internal/things"
	"github.com/newrelic/thinghub/pkg/config"
	"github.com/newrelic/thinghub/pkg/storage"
	"github.com/newrelic/thinghub/pkg/types"
)

var (
	hubPluginID    = uuid.MustParse("dddddddd-0000-0000-0000-000000000001")
	hubLampClassID = uuid.MustParse("dddddddd-0000-0000-0000-000000000003")
	hubAddressID   = uuid.MustParse("dddddddd-0000-0000-0000-000000000004")
	hubPowerID     = uuid.MustParse("dddddddd-0000-0000-0000-000000000005")
	hubSignalID    = uuid.MustParse("dddddddd-0000-0000-0000-000000000006")
	hubPollID      = uuid.MustParse("dddddddd-0000-0000-0000-000000000007")
)

const hubMetadata = `{
	"id": "dddddddd-0000-0000-0000-000000000001",
	"name": "hublamps",
	"displayName": "Hub Lamps",
	"apiVersion": "1.5",
	"paramTypes": [{
		"id": "dddddddd-0000-0000-0000-000000000007",
		"name": "pollInterval",
		"displayName": "Poll interval",
		"type": "int",
		"defaultValue": 10
	}],
	"vendors": [{
		"id": "dddddddd-0000-0000-0000-000000000002",
		"name": "acme",
		"displayName": "ACME",
		"thingClasses": [{
			"id": "dddddddd-0000-0000-0000-000000000003",
			"name": "lamp",
			"displayName": "Lamp",
			"createMethods": ["user", "auto"],
			"setupMethod": "justAdd",
			"interfaces": ["light"],
			"paramTypes": [{
				"id": "dddddddd-0000-0000-0000-000000000004",
				"name": "address",
				"displayName": "Address",
				"type": "string",
				"defaultValue": ""
			}],
			"stateTypes": [{
				"id": "dddddddd-0000-0000-0000-000000000005",
				"name": "power",
				"displayName": "Power",
				"type": "bool",
				"defaultValue": false,
				"writable": true
			}, {
				"id": "dddddddd-0000-0000-0000-000000000006",
				"name": "signalStrength",
				"displayName": "Signal strength",
				"type": "int",
				"defaultValue": 0,
				"minValue": 0,
				"maxValue": 100
			}]
		}]
	}]
}`

// hubPlugin is a minimal plugin recording the actions the hub routes
// to it and exposing the context for emitting signals.
type hubPlugin struct {
	plugins.PluginBase

	mu      sync.Mutex
	ctx     plugins.HubContext
	actions []types.Action
}

func (p *hubPlugin) ID() uuid.UUID { return hubPluginID }

func (p *hubPlugin) Init(ctx plugins.HubContext, _ *types.PluginMetadata, _ types.Params) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ctx = ctx
	return nil
}

func (p *hubPlugin) SetupThing(info *plugins.SetupInfo) {
	info.Finish(types.ThingErrorNoError)
}

func (p *hubPlugin) ExecuteAction(info *plugins.ActionInfo) {
	p.mu.Lock()
	p.actions = append(p.actions, info.Action)
	p.mu.Unlock()
	info.Finish(types.ThingErrorNoError)
}

func (p *hubPlugin) context() plugins.HubContext {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ctx
}

func (p *hubPlugin) recordedActions() []types.Action {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]types.Action, len(p.actions))
	copy(out, p.actions)
	return out
}

type collector struct {
	mu            sync.Mutex
	notifications []Notification
}

func (c *collector) add(n Notification) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.notifications = append(c.notifications, n)
}

func (c *collector) has(kind NotificationKind) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, n := range c.notifications {
		if n.Kind == kind {
			return true
		}
	}
	return false
}

func (c *collector) count(kind NotificationKind) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	count := 0
	for _, n := range c.notifications {
		if n.Kind == kind {
			count++
		}
	}
	return count
}

func newHubHarness(t *testing.T) (*Hub, *hubPlugin, *collector) {
	t.Helper()
	dataDir := t.TempDir()
	pluginDir := filepath.Join(dataDir, "plugins")
	require.NoError(t, os.MkdirAll(pluginDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(pluginDir, "hublamps.json"), []byte(hubMetadata), 0o644))

	cfg := config.NewTest(dataDir)
	cfg.PluginDirs = []string{pluginDir}

	p := &hubPlugin{}
	plugins.RegisterFactory(hubPluginID, func() plugins.Plugin { return p })

	h := New(cfg, storage.NewMemory())
	c := &collector{}
	h.Notifier().Subscribe(c.add)

	require.NoError(t, h.Start())
	t.Cleanup(h.Stop)
	return h, p, c
}

// addLamp adds a lamp and waits until its setup completed.
func addLamp(t *testing.T, h *Hub, name string) *types.Thing {
	t.Helper()
	var terr types.ThingError
	h.Do(func() {
		_, terr = h.ThingManager().AddConfiguredThing(hubLampClassID, name, types.Params{
			hubAddressID: "10.0.0.1",
		}, uuid.Nil)
	})
	require.Equal(t, types.ThingErrorAsync, terr)

	var thing *types.Thing
	require.Eventually(t, func() bool {
		h.Do(func() {
			for _, candidate := range h.ThingManager().Things() {
				if candidate.Name == name && candidate.SetupStatus == types.SetupStatusComplete {
					thing = candidate
				}
			}
		})
		return thing != nil
	}, time.Second, 5*time.Millisecond)
	return thing
}

func TestHubAddThingPublishesNotification(t *testing.T) {
	h, _, c := newHubHarness(t)

	thing := addLamp(t, h, "Desk lamp")
	assert.Equal(t, hubLampClassID, thing.ThingClassID)
	assert.True(t, c.has(NotificationThingAdded))
}

func TestHubStateRuleEndToEnd(t *testing.T) {
	h, p, c := newHubHarness(t)
	thing := addLamp(t, h, "Desk lamp")

	rule := rules.Rule{
		Name:    "Power on at good signal",
		Enabled: true,
		StateEvaluator: &rules.StateEvaluator{Descriptor: &rules.StateDescriptor{
			ThingID:     thing.ID,
			StateTypeID: hubSignalID,
			Operator:    rules.OperatorGreater,
			Value:       50,
		}},
		Actions: []rules.RuleAction{{
			ThingID:      thing.ID,
			ActionTypeID: hubPowerID,
			Params:       []rules.RuleActionParam{{ParamTypeID: hubPowerID, Value: true}},
		}},
	}
	var rerr rules.RuleError
	h.Do(func() { rerr = h.RuleEngine().AddRule(rule) })
	require.Equal(t, rules.RuleErrorNoError, rerr)

	p.context().SetStateValue(thing.ID, hubSignalID, int64(60))

	require.Eventually(t, func() bool {
		return len(p.recordedActions()) == 1
	}, time.Second, 5*time.Millisecond)
	action := p.recordedActions()[0]
	assert.Equal(t, hubPowerID, action.ActionTypeID)
	assert.Equal(t, true, action.Params[hubPowerID])
	assert.Equal(t, types.TriggerRule, action.Trigger)

	assert.True(t, c.has(NotificationStateChanged))
	assert.True(t, c.has(NotificationRuleActiveChanged))
}

func TestHubTimeEventRule(t *testing.T) {
	h, p, _ := newHubHarness(t)
	thing := addLamp(t, h, "Desk lamp")

	rule := rules.Rule{
		Name:    "Lights off at night",
		Enabled: true,
		TimeDescriptor: rules.TimeDescriptor{TimeEventItems: []rules.TimeEventItem{{
			Time:      "23:30",
			Repeating: rules.RepeatingOption{Mode: rules.RepeatingDaily},
		}}},
		Actions: []rules.RuleAction{{
			ThingID:      thing.ID,
			ActionTypeID: hubPowerID,
			Params:       []rules.RuleActionParam{{ParamTypeID: hubPowerID, Value: false}},
		}},
	}
	var rerr rules.RuleError
	h.Do(func() { rerr = h.RuleEngine().AddRule(rule) })
	require.Equal(t, rules.RuleErrorNoError, rerr)

	h.Clock().SetTime(time.Date(2020, time.June, 15, 23, 30, 0, 0, time.Local))

	require.Eventually(t, func() bool {
		return len(p.recordedActions()) == 1
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, false, p.recordedActions()[0].Params[hubPowerID])
}

func TestHubAutoThingLifecycle(t *testing.T) {
	h, p, c := newHubHarness(t)

	p.context().AutoThingsAppeared([]types.ThingDescriptor{{
		Title:        "Found lamp",
		ThingClassID: hubLampClassID,
		Params:       types.Params{hubAddressID: "10.0.0.9"},
	}})

	var auto *types.Thing
	require.Eventually(t, func() bool {
		h.Do(func() {
			for _, candidate := range h.ThingManager().Things() {
				if candidate.AutoCreated && candidate.SetupStatus == types.SetupStatusComplete {
					auto = candidate
				}
			}
		})
		return auto != nil
	}, time.Second, 5*time.Millisecond)
	assert.True(t, c.has(NotificationThingAdded))

	p.context().AutoThingDisappeared(auto.ID)
	require.Eventually(t, func() bool {
		gone := false
		h.Do(func() {
			_, ok := h.ThingManager().Thing(auto.ID)
			gone = !ok
		})
		return gone
	}, time.Second, 5*time.Millisecond)
	assert.True(t, c.has(NotificationThingRemoved))
}

func TestHubThingRemovalPrunesRules(t *testing.T) {
	h, _, c := newHubHarness(t)
	thing := addLamp(t, h, "Desk lamp")

	rule := rules.Rule{
		Name:    "Power follows signal",
		Enabled: true,
		StateEvaluator: &rules.StateEvaluator{Descriptor: &rules.StateDescriptor{
			ThingID:     thing.ID,
			StateTypeID: hubSignalID,
			Operator:    rules.OperatorGreater,
			Value:       50,
		}},
		Actions: []rules.RuleAction{{
			ThingID:      thing.ID,
			ActionTypeID: hubPowerID,
			Params:       []rules.RuleActionParam{{ParamTypeID: hubPowerID, Value: true}},
		}},
	}
	var rerr rules.RuleError
	var ruleIDs []uuid.UUID
	h.Do(func() {
		rerr = h.RuleEngine().AddRule(rule)
		ruleIDs = h.RuleEngine().FindRules(thing.ID)
	})
	require.Equal(t, rules.RuleErrorNoError, rerr)
	require.Len(t, ruleIDs, 1)

	// removal without a policy is refused while the rule references the thing
	var terr types.ThingError
	var blocking []uuid.UUID
	h.Do(func() { terr, blocking = h.ThingManager().RemoveConfiguredThing(thing.ID, nil) })
	assert.Equal(t, types.ThingErrorThingInRule, terr)
	assert.Equal(t, ruleIDs, blocking)

	h.Do(func() {
		terr, _ = h.ThingManager().RemoveConfiguredThing(thing.ID, map[uuid.UUID]things.RemovalPolicy{
			ruleIDs[0]: things.RemovalPolicyUpdate,
		})
	})
	assert.Equal(t, types.ThingErrorNoError, terr)

	// the rule lost its only thing and is gone with it
	h.Do(func() { ruleIDs = h.RuleEngine().FindRules(thing.ID) })
	assert.Empty(t, ruleIDs)
	assert.True(t, c.has(NotificationRuleRemoved))
	assert.True(t, c.has(NotificationThingRemoved))
}

func TestHubPluginConfigNotification(t *testing.T) {
	h, _, c := newHubHarness(t)

	var terr types.ThingError
	h.Do(func() {
		terr = h.PluginHost().SetPluginConfig(hubPluginID, types.Params{hubPollID: int64(30)})
	})
	require.Equal(t, types.ThingErrorNoError, terr)
	assert.True(t, c.has(NotificationPluginConfigChanged))
}

func TestHubStopIsIdempotent(t *testing.T) {
	h, _, _ := newHubHarness(t)
	addLamp(t, h, "Desk lamp")
	h.Stop()
	h.Stop()
}
