// Copyright 2020 New Relic Corporation. All rights reserved.
// SPDX-License-Identifier: Apache-2.0
// Package things owns the configured thing set and drives the
// discover / pair / setup / reconfigure / remove lifecycle. Every
// method of Manager runs on the hub core loop; plugin completions are
// routed back there by the AsyncOpTracker.
package things

import (
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/newrelic/thinghub/internal/plugins"
	"github.com/newrelic/thinghub/pkg/config"
	"github.com/newrelic/thinghub/pkg/log"
	"github.com/newrelic/thinghub/pkg/storage"
	"github.com/newrelic/thinghub/pkg/types"
)

var mlog = log.WithComponent("ThingManager")

// RemovalPolicy decides what happens to a rule referencing a removed
// thing.
type RemovalPolicy string

const (
	// RemovalPolicyCascade removes the whole rule.
	RemovalPolicyCascade RemovalPolicy = "cascade"
	// RemovalPolicyUpdate prunes the thing references; an emptied rule
	// is removed.
	RemovalPolicyUpdate RemovalPolicy = "update"
)

type cachedDescriptor struct {
	descriptor types.ThingDescriptor
	expiry     *time.Timer
}

// Manager is the thing manager.
type Manager struct {
	cfg      *config.Config
	registry *types.Registry
	host     *plugins.Host
	store    storage.Store
	tracker  *AsyncOpTracker
	submit   func(fn func())

	things      map[uuid.UUID]*types.Thing
	descriptors map[uuid.UUID]*cachedDescriptor
	pairings    map[uuid.UUID]*pendingPairing

	// notification hooks, wired by the hub
	OnThingAdded          func(t *types.Thing)
	OnThingRemoved        func(id uuid.UUID)
	OnThingChanged        func(t *types.Thing)
	OnThingSettingChanged func(thingID, paramTypeID uuid.UUID, value interface{})
	OnStateChanged        func(t *types.Thing, stateTypeID uuid.UUID, value interface{})
	OnEventTriggered      func(e types.Event)

	// rule engine hooks, wired by the hub
	RulesForThing        func(thingID uuid.UUID) []uuid.UUID
	RemoveThingFromRules func(thingID uuid.UUID, policies map[uuid.UUID]RemovalPolicy)
}

// NewManager builds a thing manager. submit posts a closure onto the
// core loop; completions and timer fires go through it.
func NewManager(cfg *config.Config, registry *types.Registry, host *plugins.Host,
	store storage.Store, submit func(fn func())) *Manager {
	return &Manager{
		cfg:         cfg,
		registry:    registry,
		host:        host,
		store:       store,
		tracker:     NewTracker(submit),
		submit:      submit,
		things:      map[uuid.UUID]*types.Thing{},
		descriptors: map[uuid.UUID]*cachedDescriptor{},
		pairings:    map[uuid.UUID]*pendingPairing{},
	}
}

// Thing returns the configured thing with the given id.
func (m *Manager) Thing(id uuid.UUID) (*types.Thing, bool) {
	t, ok := m.things[id]
	return t, ok
}

// Things returns all configured things.
func (m *Manager) Things() []*types.Thing {
	out := make([]*types.Thing, 0, len(m.things))
	for _, t := range m.things {
		out = append(out, t)
	}
	return out
}

// ThingsImplementingInterface returns every configured thing whose
// class claims the given interface.
func (m *Manager) ThingsImplementingInterface(name string) []*types.Thing {
	var out []*types.Thing
	for _, t := range m.things {
		if t.Class().HasInterface(name) {
			out = append(out, t)
		}
	}
	return out
}

// Tracker exposes the async op tracker for the hub and tests.
func (m *Manager) Tracker() *AsyncOpTracker {
	return m.tracker
}

// DiscoverThings starts a discovery run for a thing class. The
// returned info completes asynchronously; collected descriptors stay
// cached for the configured retention after completion.
func (m *Manager) DiscoverThings(thingClassID uuid.UUID, params types.Params) (*plugins.DiscoveryInfo, types.ThingError) {
	class, ok := m.registry.ThingClass(thingClassID)
	if !ok {
		return nil, types.ThingErrorThingClassNotFound
	}
	if !class.SupportsCreateMethod(types.CreateMethodDiscovery) {
		return nil, types.ThingErrorCreationMethodNotSupported
	}
	normalized, err := types.ValidateParams(class.DiscoveryParamTypes, params, true)
	if err != nil {
		return nil, types.FromValidationError(err)
	}
	plugin, ok := m.host.Plugin(class.PluginID)
	if !ok {
		return nil, types.ThingErrorPluginNotFound
	}

	info := plugins.NewDiscoveryInfo(thingClassID, normalized)
	m.tracker.Track(OpDiscovery, info, uuid.Nil, m.cfg.DiscoveryTimeout(),
		func(status types.ThingError, _ string) {
			if status != types.ThingErrorNoError {
				return
			}
			for _, d := range info.Descriptors() {
				m.cacheDescriptor(d)
			}
		})
	plugin.Discover(info)
	return info, types.ThingErrorAsync
}

// cacheDescriptor stores a descriptor until it is consumed or expires.
func (m *Manager) cacheDescriptor(d types.ThingDescriptor) {
	if existing, ok := m.descriptors[d.ID]; ok {
		existing.expiry.Stop()
	}
	id := d.ID
	m.descriptors[id] = &cachedDescriptor{
		descriptor: d,
		expiry: time.AfterFunc(m.cfg.DescriptorRetention(), func() {
			m.submit(func() { delete(m.descriptors, id) })
		}),
	}
}

// takeDescriptor consumes a cached descriptor.
func (m *Manager) takeDescriptor(id uuid.UUID) (types.ThingDescriptor, bool) {
	entry, ok := m.descriptors[id]
	if !ok {
		return types.ThingDescriptor{}, false
	}
	entry.expiry.Stop()
	delete(m.descriptors, id)
	return entry.descriptor, true
}

// AddConfiguredThing creates a thing through the user create method.
// Only classes with the justAdd setup method qualify; everything else
// goes through the pairing flow.
func (m *Manager) AddConfiguredThing(thingClassID uuid.UUID, name string, params types.Params,
	id uuid.UUID) (*plugins.SetupInfo, types.ThingError) {

	class, ok := m.registry.ThingClass(thingClassID)
	if !ok {
		return nil, types.ThingErrorThingClassNotFound
	}
	if !class.SupportsCreateMethod(types.CreateMethodUser) {
		return nil, types.ThingErrorCreationMethodNotSupported
	}
	if class.SetupMethod != types.SetupMethodJustAdd {
		return nil, types.ThingErrorSetupMethodNotSupported
	}
	normalized, err := types.ValidateParams(class.ParamTypes, params, true)
	if err != nil {
		return nil, types.FromValidationError(err)
	}
	return m.addThing(class, name, normalized, id, uuid.Nil, false)
}

// AddDiscoveredThing creates a thing from a cached discovery
// descriptor. User-supplied overrides win over descriptor params. The
// descriptor is consumed either way.
func (m *Manager) AddDiscoveredThing(thingClassID uuid.UUID, name string, descriptorID uuid.UUID,
	overrides types.Params, id uuid.UUID) (*plugins.SetupInfo, types.ThingError) {

	class, ok := m.registry.ThingClass(thingClassID)
	if !ok {
		return nil, types.ThingErrorThingClassNotFound
	}
	if !class.SupportsCreateMethod(types.CreateMethodDiscovery) {
		return nil, types.ThingErrorCreationMethodNotSupported
	}
	descriptor, ok := m.takeDescriptor(descriptorID)
	if !ok || descriptor.ThingClassID != thingClassID {
		return nil, types.ThingErrorThingDescriptorNotFound
	}

	// overrides are user input: they may not touch readOnly params
	for ptID := range overrides {
		if pt, ok := findClassParamType(class, ptID); ok && pt.ReadOnly {
			return nil, types.ThingErrorParameterNotWritable
		}
	}
	merged := descriptor.Params.Merged(overrides)
	normalized, err := types.ValidateParams(class.ParamTypes, merged, false)
	if err != nil {
		return nil, types.FromValidationError(err)
	}

	if descriptor.ExistingThingID != uuid.Nil {
		// re-discovered an already configured thing
		return m.reconfigure(descriptor.ExistingThingID, normalized)
	}
	return m.addThing(class, name, normalized, id, descriptor.ParentID, false)
}

// addThing builds the thing and runs the setup flow. On setup failure
// the thing is not added to the live set.
func (m *Manager) addThing(class *types.ThingClass, name string, params types.Params,
	id, parentID uuid.UUID, autoCreated bool) (*plugins.SetupInfo, types.ThingError) {

	if id == uuid.Nil {
		id = uuid.New()
	}
	if _, dup := m.things[id]; dup {
		return nil, types.ThingErrorDuplicateUuid
	}
	thing := types.NewThing(id, class, name)
	thing.Params = params
	thing.ParentID = parentID
	thing.AutoCreated = autoCreated

	info, terr := m.startSetup(thing, false)
	if terr != types.ThingErrorNoError {
		return nil, terr
	}
	return info, types.ThingErrorAsync
}

// startSetup transitions the thing to inProgress and asks the plugin
// to set it up. existing tells apart initial adds from reconfigures of
// live things.
func (m *Manager) startSetup(thing *types.Thing, existing bool) (*plugins.SetupInfo, types.ThingError) {
	plugin, ok := m.host.Plugin(thing.PluginID)
	if !ok {
		return nil, types.ThingErrorPluginNotFound
	}
	thing.SetupStatus = types.SetupStatusInProgress
	thing.SetupError = types.ThingErrorNoError
	thing.SetupDisplayMessage = ""

	info := plugins.NewSetupInfo(thing)
	m.tracker.Track(OpSetup, info, thing.ID, m.cfg.SetupTimeout(),
		func(status types.ThingError, displayMessage string) {
			m.onSetupFinished(thing, existing, status, displayMessage)
		})
	plugin.SetupThing(info)
	return info, types.ThingErrorNoError
}

func (m *Manager) onSetupFinished(thing *types.Thing, existing bool, status types.ThingError, displayMessage string) {
	tlog := mlog.WithThing(thing.ID.String())
	if status != types.ThingErrorNoError {
		thing.SetupStatus = types.SetupStatusFailed
		thing.SetupError = status
		thing.SetupDisplayMessage = displayMessage
		tlog.WithFields(logrus.Fields{"status": string(status)}).Warn("Thing setup failed.")
		if existing {
			// reconfigure failure: the thing stays, in failed state
			m.saveThing(thing)
			if m.OnThingChanged != nil {
				m.OnThingChanged(thing)
			}
		}
		return
	}

	thing.SetupStatus = types.SetupStatusComplete
	thing.SetupError = types.ThingErrorNoError
	thing.SetupDisplayMessage = displayMessage

	isNew := false
	if _, present := m.things[thing.ID]; !present {
		m.things[thing.ID] = thing
		isNew = true
	}
	m.saveThing(thing)
	m.saveCachedStates(thing)

	if plugin, ok := m.host.Plugin(thing.PluginID); ok {
		plugin.PostSetup(thing)
	}
	tlog.Info("Thing setup complete.")

	if isNew && !existing {
		if m.OnThingAdded != nil {
			m.OnThingAdded(thing)
		}
	} else if m.OnThingChanged != nil {
		m.OnThingChanged(thing)
	}
}

// ReconfigureThing applies new params to an existing thing and runs
// its setup again. Unless the params come from a discovery, readOnly
// params may not be supplied.
func (m *Manager) ReconfigureThing(thingID uuid.UUID, params types.Params, fromDiscovery bool) (*plugins.SetupInfo, types.ThingError) {
	thing, ok := m.things[thingID]
	if !ok {
		return nil, types.ThingErrorThingNotFound
	}
	class := thing.Class()
	if !fromDiscovery {
		for ptID := range params {
			if pt, ok := findClassParamType(class, ptID); ok && pt.ReadOnly {
				return nil, types.ThingErrorParameterNotWritable
			}
		}
	}
	merged := thing.Params.Merged(params)
	normalized, err := types.ValidateParams(class.ParamTypes, merged, false)
	if err != nil {
		return nil, types.FromValidationError(err)
	}
	return m.reconfigure(thingID, normalized)
}

// ReconfigureDiscoveredThing reconfigures a thing from a cached
// discovery descriptor.
func (m *Manager) ReconfigureDiscoveredThing(thingID, descriptorID uuid.UUID) (*plugins.SetupInfo, types.ThingError) {
	descriptor, ok := m.takeDescriptor(descriptorID)
	if !ok {
		return nil, types.ThingErrorThingDescriptorNotFound
	}
	thing, ok := m.things[thingID]
	if !ok {
		return nil, types.ThingErrorThingNotFound
	}
	merged := thing.Params.Merged(descriptor.Params)
	normalized, err := types.ValidateParams(thing.Class().ParamTypes, merged, false)
	if err != nil {
		return nil, types.FromValidationError(err)
	}
	return m.reconfigure(thingID, normalized)
}

// reconfigure runs the documented sequence: notify the plugin the old
// instance is gone, drop setupComplete, apply the new params, set up
// again. Working state values stay in memory until setup succeeds.
func (m *Manager) reconfigure(thingID uuid.UUID, params types.Params) (*plugins.SetupInfo, types.ThingError) {
	thing, ok := m.things[thingID]
	if !ok {
		return nil, types.ThingErrorThingNotFound
	}
	if plugin, ok := m.host.Plugin(thing.PluginID); ok {
		plugin.ThingRemoved(thing)
	}
	thing.SetupStatus = types.SetupStatusNone
	thing.Params = params

	info, terr := m.startSetup(thing, true)
	if terr != types.ThingErrorNoError {
		thing.SetupStatus = types.SetupStatusFailed
		thing.SetupError = terr
		return nil, terr
	}
	return info, types.ThingErrorAsync
}

// EditThing renames a thing. Metadata only.
func (m *Manager) EditThing(thingID uuid.UUID, name string) types.ThingError {
	thing, ok := m.things[thingID]
	if !ok {
		return types.ThingErrorThingNotFound
	}
	thing.Name = name
	m.saveThing(thing)
	if m.OnThingChanged != nil {
		m.OnThingChanged(thing)
	}
	return types.ThingErrorNoError
}

// SetThingSettings applies user settings, emitting a settingChanged
// signal per modified value.
func (m *Manager) SetThingSettings(thingID uuid.UUID, settings types.Params) types.ThingError {
	thing, ok := m.things[thingID]
	if !ok {
		return types.ThingErrorThingNotFound
	}
	merged := thing.Settings.Merged(settings)
	normalized, err := types.ValidateParams(thing.Class().SettingsTypes, merged, true)
	if err != nil {
		return types.FromValidationError(err)
	}

	var changed []uuid.UUID
	for id, value := range normalized {
		if !types.Equal(thing.Settings[id], value) {
			changed = append(changed, id)
		}
	}
	thing.Settings = normalized
	m.saveThing(thing)
	for _, id := range changed {
		if m.OnThingSettingChanged != nil {
			m.OnThingSettingChanged(thingID, id, normalized[id])
		}
	}
	return types.ThingErrorNoError
}

// RemoveConfiguredThing removes a thing, cascading to its children.
// When rules reference any of the affected things and no policy covers
// them, the removal is rejected with the affected rule ids.
func (m *Manager) RemoveConfiguredThing(thingID uuid.UUID, policies map[uuid.UUID]RemovalPolicy) (types.ThingError, []uuid.UUID) {
	thing, ok := m.things[thingID]
	if !ok {
		return types.ThingErrorThingNotFound, nil
	}
	if thing.AutoCreated && thing.ParentID != uuid.Nil {
		if _, parentAlive := m.things[thing.ParentID]; parentAlive {
			return types.ThingErrorThingIsChild, nil
		}
	}

	cascade := m.collectCascade(thingID)

	if m.RulesForThing != nil {
		var affected []uuid.UUID
		for _, id := range cascade {
			for _, ruleID := range m.RulesForThing(id) {
				if _, covered := policies[ruleID]; !covered {
					affected = append(affected, ruleID)
				}
			}
		}
		if len(affected) > 0 {
			return types.ThingErrorThingInRule, dedupe(affected)
		}
	}

	// children first
	for i := len(cascade) - 1; i >= 0; i-- {
		m.removeThing(cascade[i], policies)
	}
	return types.ThingErrorNoError, nil
}

// collectCascade returns the thing and all descendants, parents before
// children.
func (m *Manager) collectCascade(rootID uuid.UUID) []uuid.UUID {
	out := []uuid.UUID{rootID}
	for i := 0; i < len(out); i++ {
		for _, t := range m.things {
			if t.ParentID == out[i] {
				out = append(out, t.ID)
			}
		}
	}
	return out
}

func (m *Manager) removeThing(thingID uuid.UUID, policies map[uuid.UUID]RemovalPolicy) {
	thing, ok := m.things[thingID]
	if !ok {
		return
	}
	// pending ops addressing the thing complete as ThingNotFound and
	// their late callbacks are dropped
	m.tracker.AbortThing(thingID, types.ThingErrorThingNotFound)

	if m.RemoveThingFromRules != nil {
		m.RemoveThingFromRules(thingID, policies)
	}
	if plugin, ok := m.host.Plugin(thing.PluginID); ok {
		plugin.ThingRemoved(thing)
	}
	delete(m.things, thingID)
	m.purgeThing(thingID)
	mlog.WithThing(thingID.String()).Info("Thing removed.")
	if m.OnThingRemoved != nil {
		m.OnThingRemoved(thingID)
	}
}

// ExecuteAction validates and routes an action to the owning plugin.
func (m *Manager) ExecuteAction(action types.Action) (*plugins.ActionInfo, types.ThingError) {
	thing, ok := m.things[action.ThingID]
	if !ok {
		return nil, types.ThingErrorThingNotFound
	}
	if thing.SetupStatus != types.SetupStatusComplete {
		return nil, types.ThingErrorSetupFailed
	}
	actionType, ok := thing.Class().ActionType(action.ActionTypeID)
	if !ok {
		return nil, types.ThingErrorActionTypeNotFound
	}
	normalized, err := types.ValidateParams(actionType.ParamTypes, action.Params, false)
	if err != nil {
		return nil, types.FromValidationError(err)
	}
	action.Params = normalized
	plugin, ok := m.host.Plugin(thing.PluginID)
	if !ok {
		return nil, types.ThingErrorPluginNotFound
	}

	info := plugins.NewActionInfo(thing, action)
	m.tracker.Track(OpAction, info, thing.ID, m.cfg.ActionTimeout(), nil)
	plugin.ExecuteAction(info)
	return info, types.ThingErrorAsync
}

func findClassParamType(class *types.ThingClass, id uuid.UUID) (types.ParamType, bool) {
	for _, pt := range class.ParamTypes {
		if pt.ID == id {
			return pt, true
		}
	}
	return types.ParamType{}, false
}

func dedupe(ids []uuid.UUID) []uuid.UUID {
	seen := map[uuid.UUID]struct{}{}
	out := ids[:0]
	for _, id := range ids {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
