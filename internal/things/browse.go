// Copyright 2020 New Relic Corporation. All rights reserved.
// SPDX-License-Identifier: Apache-2.0
package things

import (
	"github.com/google/uuid"

	"github.com/newrelic/thinghub/internal/plugins"
	"github.com/newrelic/thinghub/pkg/types"
)

// browsableThing resolves a thing and checks its class allows browsing.
func (m *Manager) browsableThing(thingID uuid.UUID) (*types.Thing, *plugins.LoadedPlugin, types.ThingError) {
	thing, ok := m.things[thingID]
	if !ok {
		return nil, nil, types.ThingErrorThingNotFound
	}
	if !thing.Class().Browsable {
		return nil, nil, types.ThingErrorUnsupportedFeature
	}
	plugin, ok := m.host.Plugin(thing.PluginID)
	if !ok {
		return nil, nil, types.ThingErrorPluginNotFound
	}
	return thing, plugin, types.ThingErrorNoError
}

// BrowseThing lists the children of one node in a thing's browse tree.
// An empty itemID addresses the root.
func (m *Manager) BrowseThing(thingID uuid.UUID, itemID, locale string) (*plugins.BrowseResult, types.ThingError) {
	thing, plugin, terr := m.browsableThing(thingID)
	if terr != types.ThingErrorNoError {
		return nil, terr
	}
	result := plugins.NewBrowseResult(thing, itemID, locale)
	m.tracker.Track(OpBrowse, result, thingID, m.cfg.BrowseTimeout(), nil)
	plugin.Browse(result)
	return result, types.ThingErrorAsync
}

// BrowserItem looks up metadata of a single browse tree node.
func (m *Manager) BrowserItem(thingID uuid.UUID, itemID, locale string) (*plugins.BrowserItemResult, types.ThingError) {
	thing, plugin, terr := m.browsableThing(thingID)
	if terr != types.ThingErrorNoError {
		return nil, terr
	}
	result := plugins.NewBrowserItemResult(thing, itemID, locale)
	m.tracker.Track(OpBrowse, result, thingID, m.cfg.BrowseTimeout(), nil)
	plugin.BrowserItem(result)
	return result, types.ThingErrorAsync
}

// ExecuteBrowserItem triggers the default action of an executable
// browse tree node.
func (m *Manager) ExecuteBrowserItem(action types.BrowserAction) (*plugins.BrowserActionInfo, types.ThingError) {
	thing, plugin, terr := m.browsableThing(action.ThingID)
	if terr != types.ThingErrorNoError {
		return nil, terr
	}
	info := plugins.NewBrowserActionInfo(thing, action)
	m.tracker.Track(OpBrowse, info, thing.ID, m.cfg.ActionTimeout(), nil)
	plugin.ExecuteBrowserItem(info)
	return info, types.ThingErrorAsync
}

// ExecuteBrowserItemAction triggers a named context action on a browse
// tree node.
func (m *Manager) ExecuteBrowserItemAction(action types.BrowserItemAction) (*plugins.BrowserItemActionInfo, types.ThingError) {
	thing, plugin, terr := m.browsableThing(action.ThingID)
	if terr != types.ThingErrorNoError {
		return nil, terr
	}
	info := plugins.NewBrowserItemActionInfo(thing, action)
	m.tracker.Track(OpBrowse, info, thing.ID, m.cfg.ActionTimeout(), nil)
	plugin.ExecuteBrowserItemAction(info)
	return info, types.ThingErrorAsync
}
