// Copyright 2020 New Relic Corporation. All rights reserved.
// SPDX-License-Identifier: Apache-2.0
// Package types holds the hub type system: vendors, thing classes,
// param/state/event/action types and the interface catalog, all loaded
// from plugin metadata. Read-only after plugin load.
package types

import (
	"sort"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/newrelic/thinghub/pkg/log"
)

var rlog = log.WithComponent("TypeRegistry")

// Registry indexes every type definition known to the hub.
type Registry struct {
	vendors         map[uuid.UUID]Vendor
	classes         map[uuid.UUID]*ThingClass
	classesByPlugin map[uuid.UUID][]uuid.UUID
	interfaces      map[string]*Interface
}

// NewRegistry builds an empty registry seeded with the bundled
// interface catalog.
func NewRegistry() *Registry {
	r := &Registry{
		vendors:         map[uuid.UUID]Vendor{},
		classes:         map[uuid.UUID]*ThingClass{},
		classesByPlugin: map[uuid.UUID][]uuid.UUID{},
		interfaces:      map[string]*Interface{},
	}
	for i := range builtinInterfaces {
		iface := builtinInterfaces[i]
		r.interfaces[iface.Name] = &iface
	}
	return r
}

// RegisterPlugin ingests one plugin metadata document. Offending
// vendors and thing classes are skipped with a warning; the rest of the
// plugin still loads.
func (r *Registry) RegisterPlugin(meta *PluginMetadata) {
	plog := rlog.WithPlugin(meta.ID.String())
	for vi := range meta.Vendors {
		vendor := &meta.Vendors[vi]
		if vendor.ID == uuid.Nil || vendor.Name == "" {
			plog.Warn("Skipping vendor with missing id or name.")
			continue
		}
		r.vendors[vendor.ID] = Vendor{ID: vendor.ID, Name: vendor.Name, DisplayName: vendor.DisplayName}
		for ci := range vendor.ThingClasses {
			tc := vendor.ThingClasses[ci]
			if reason, flagged := meta.invalidClasses[tc.ID]; flagged {
				plog.WithFields(logrus.Fields{"thingClass": tc.Name, "reason": reason}).
					Warn("Skipping invalid thing class.")
				continue
			}
			if err := validateThingClass(&tc); err != nil {
				plog.WithError(err).WithField("thingClass", tc.Name).
					Warn("Skipping invalid thing class.")
				continue
			}
			if _, dup := r.classes[tc.ID]; dup {
				plog.WithField("thingClass", tc.Name).Warn("Skipping duplicate thing class id.")
				continue
			}
			tc.VendorID = vendor.ID
			tc.PluginID = meta.ID
			r.synthesizeTypes(&tc)
			r.verifyInterfaces(&tc)
			r.classes[tc.ID] = &tc
			r.classesByPlugin[meta.ID] = append(r.classesByPlugin[meta.ID], tc.ID)
		}
	}
}

// synthesizeTypes creates, for every state type, a matching
// "state changed" event type and, for writable states, a matching
// action type. Synthesized ids equal the state type id so events,
// actions and states of one concern correlate without extra lookup
// tables.
func (r *Registry) synthesizeTypes(tc *ThingClass) {
	for _, st := range tc.StateTypes {
		mirror := ParamType{
			ID:            st.ID,
			Name:          st.Name,
			DisplayName:   st.DisplayName,
			Type:          st.Type,
			MinValue:      st.MinValue,
			MaxValue:      st.MaxValue,
			AllowedValues: st.PossibleValues,
			Unit:          st.Unit,
		}
		if _, exists := tc.EventType(st.ID); !exists {
			displayName := st.DisplayNameEvent
			if displayName == "" {
				displayName = st.DisplayName + " changed"
			}
			tc.EventTypes = append(tc.EventTypes, EventType{
				ID:          st.ID,
				Name:        st.Name,
				DisplayName: displayName,
				Index:       len(tc.EventTypes),
				ParamTypes:  []ParamType{mirror},
			})
		}
		if st.Writable {
			if _, exists := tc.ActionType(st.ID); !exists {
				displayName := st.DisplayNameAction
				if displayName == "" {
					displayName = "Set " + st.DisplayName
				}
				tc.ActionTypes = append(tc.ActionTypes, ActionType{
					ID:          st.ID,
					Name:        st.Name,
					DisplayName: displayName,
					Index:       len(tc.ActionTypes),
					ParamTypes:  []ParamType{mirror},
				})
			}
		}
	}
}

// verifyInterfaces drops claimed interfaces the class does not
// implement.
func (r *Registry) verifyInterfaces(tc *ThingClass) {
	kept := tc.Interfaces[:0]
	for _, name := range tc.Interfaces {
		if complies(r.interfaces, tc, name) {
			kept = append(kept, name)
			continue
		}
		rlog.WithFields(logrus.Fields{"thingClass": tc.Name, "interface": name}).
			Warn("Thing class claims an interface it does not implement, dropping it.")
	}
	tc.Interfaces = kept
}

// Vendor returns the vendor with the given id.
func (r *Registry) Vendor(id uuid.UUID) (Vendor, bool) {
	v, ok := r.vendors[id]
	return v, ok
}

// Vendors lists all known vendors sorted by name.
func (r *Registry) Vendors() []Vendor {
	out := make([]Vendor, 0, len(r.vendors))
	for _, v := range r.vendors {
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// ThingClass returns the thing class with the given id.
func (r *Registry) ThingClass(id uuid.UUID) (*ThingClass, bool) {
	tc, ok := r.classes[id]
	return tc, ok
}

// ThingClasses lists all known thing classes sorted by name.
func (r *Registry) ThingClasses() []*ThingClass {
	out := make([]*ThingClass, 0, len(r.classes))
	for _, tc := range r.classes {
		out = append(out, tc)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// ThingClassesOfPlugin lists the classes registered by one plugin.
func (r *Registry) ThingClassesOfPlugin(pluginID uuid.UUID) []*ThingClass {
	var out []*ThingClass
	for _, id := range r.classesByPlugin[pluginID] {
		out = append(out, r.classes[id])
	}
	return out
}

// Interface returns the interface definition with the given name.
func (r *Registry) Interface(name string) (*Interface, bool) {
	iface, ok := r.interfaces[name]
	return iface, ok
}
