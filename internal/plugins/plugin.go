// Copyright 2020 New Relic Corporation. All rights reserved.
// SPDX-License-Identifier: Apache-2.0
// Package plugins hosts the integration plugins: the operation contract
// every plugin implements, the async info handles the core hands to
// plugins, and the host that loads metadata and wires plugins up.
package plugins

import (
	"github.com/google/uuid"

	"github.com/newrelic/thinghub/pkg/config"
	"github.com/newrelic/thinghub/pkg/types"
)

// HubContext is the interface the core exposes to plugins. Calls may
// come from plugin worker goroutines; implementations post the
// resulting mutation onto the core loop.
type HubContext interface {
	// EmitEvent publishes an event of a configured thing.
	EmitEvent(event types.Event)
	// SetStateValue updates a state value of a configured thing.
	SetStateValue(thingID, stateTypeID uuid.UUID, value interface{})
	// AutoThingsAppeared announces things an auto plugin found.
	AutoThingsAppeared(descriptors []types.ThingDescriptor)
	// AutoThingDisappeared announces a vanished auto-created thing.
	AutoThingDisappeared(thingID uuid.UUID)
	// Config returns the hub configuration.
	Config() *config.Config
}

// Plugin is the fixed operation set every integration implements.
// Operations taking an info handle may complete asynchronously by
// calling the handle's Finish from any goroutine.
type Plugin interface {
	ID() uuid.UUID
	Init(ctx HubContext, metadata *types.PluginMetadata, configParams types.Params) error
	// SetConfiguration delivers updated plugin config params.
	SetConfiguration(params types.Params)
	// StartMonitoringAuto begins watching for auto-created things. It is
	// invoked once after the configured things have been set up.
	StartMonitoringAuto()
	Discover(info *DiscoveryInfo)
	SetupThing(info *SetupInfo)
	// PostSetup runs after a thing reached the complete setup state.
	PostSetup(thing *types.Thing)
	// ThingRemoved tells the plugin a thing instance is gone.
	ThingRemoved(thing *types.Thing)
	StartPairing(info *PairingInfo)
	ConfirmPairing(info *PairingInfo, username, secret string)
	ExecuteAction(info *ActionInfo)
	Browse(result *BrowseResult)
	BrowserItem(result *BrowserItemResult)
	ExecuteBrowserItem(info *BrowserActionInfo)
	ExecuteBrowserItemAction(info *BrowserItemActionInfo)
}

// PluginBase provides no-op defaults for the optional parts of the
// Plugin contract. Embed it and override what the integration needs.
type PluginBase struct{}

func (PluginBase) SetConfiguration(types.Params) {}
func (PluginBase) StartMonitoringAuto()          {}
func (PluginBase) PostSetup(*types.Thing)        {}
func (PluginBase) ThingRemoved(*types.Thing)     {}

func (PluginBase) Discover(info *DiscoveryInfo) {
	info.Finish(types.ThingErrorUnsupportedFeature)
}

func (PluginBase) StartPairing(info *PairingInfo) {
	info.Finish(types.ThingErrorSetupMethodNotSupported)
}

func (PluginBase) ConfirmPairing(info *PairingInfo, username, secret string) {
	info.Finish(types.ThingErrorSetupMethodNotSupported)
}

func (PluginBase) ExecuteAction(info *ActionInfo) {
	info.Finish(types.ThingErrorUnsupportedFeature)
}

func (PluginBase) Browse(result *BrowseResult) {
	result.Finish(types.ThingErrorUnsupportedFeature)
}

func (PluginBase) BrowserItem(result *BrowserItemResult) {
	result.Finish(types.ThingErrorItemNotFound)
}

func (PluginBase) ExecuteBrowserItem(info *BrowserActionInfo) {
	info.Finish(types.ThingErrorUnsupportedFeature)
}

func (PluginBase) ExecuteBrowserItemAction(info *BrowserItemActionInfo) {
	info.Finish(types.ThingErrorUnsupportedFeature)
}
