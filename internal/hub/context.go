// Copyright 2020 New Relic Corporation. All rights reserved.
// SPDX-License-Identifier: Apache-2.0
package hub

import (
	"github.com/google/uuid"

	"github.com/newrelic/thinghub/internal/plugins"
	"github.com/newrelic/thinghub/pkg/config"
	"github.com/newrelic/thinghub/pkg/types"
)

// hubContext is the plugins.HubContext handed to every plugin. Its
// methods may be called from plugin goroutines; each posts the
// resulting mutation onto the core loop.
type hubContext struct {
	h *Hub
}

func (h *Hub) context() plugins.HubContext {
	return hubContext{h: h}
}

func (c hubContext) EmitEvent(event types.Event) {
	c.h.submit(func() { c.h.things.HandleEvent(event) })
}

func (c hubContext) SetStateValue(thingID, stateTypeID uuid.UUID, value interface{}) {
	c.h.submit(func() { c.h.things.HandleStateValue(thingID, stateTypeID, value) })
}

func (c hubContext) AutoThingsAppeared(descriptors []types.ThingDescriptor) {
	c.h.submit(func() {
		// the owning plugin follows from the descriptor's class
		byPlugin := map[uuid.UUID][]types.ThingDescriptor{}
		for _, d := range descriptors {
			class, ok := c.h.registry.ThingClass(d.ThingClassID)
			if !ok {
				hublog.WithField("thingClass", d.ThingClassID.String()).
					Warn("Dropping appeared thing of unknown class.")
				continue
			}
			byPlugin[class.PluginID] = append(byPlugin[class.PluginID], d)
		}
		for pluginID, ds := range byPlugin {
			c.h.things.HandleAutoThingsAppeared(pluginID, ds)
		}
	})
}

func (c hubContext) AutoThingDisappeared(thingID uuid.UUID) {
	c.h.submit(func() {
		thing, ok := c.h.things.Thing(thingID)
		if !ok {
			return
		}
		c.h.things.HandleAutoThingDisappeared(thing.PluginID, thingID)
	})
}

func (c hubContext) Config() *config.Config {
	return c.h.cfg
}
