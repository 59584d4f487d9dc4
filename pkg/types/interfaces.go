// Copyright 2020 New Relic Corporation. All rights reserved.
// SPDX-License-Identifier: Apache-2.0
package types

// InterfaceMember names a state, action, or event a thing class must
// provide to claim an interface. Members are matched by name; the type
// must be identical and, where the member constrains the range, the
// class must constrain it too.
type InterfaceMember struct {
	Name     string
	Type     SemanticType
	Writable bool
	Ranged   bool
}

// Interface is a named capability set. A class claiming an interface
// must provide all members of the interface and of every interface it
// extends.
type Interface struct {
	Name    string
	Extends []string
	States  []InterfaceMember
	Actions []InterfaceMember
	Events  []InterfaceMember
}

// builtinInterfaces is the declarative catalog bundled with the hub.
// Plugins cannot define interfaces, they can only claim them.
var builtinInterfaces = []Interface{
	{
		Name: "battery",
		States: []InterfaceMember{
			{Name: "batteryLevel", Type: TypeInt, Ranged: true},
			{Name: "batteryCritical", Type: TypeBool},
		},
	},
	{
		Name: "connectable",
		States: []InterfaceMember{
			{Name: "connected", Type: TypeBool},
		},
	},
	{
		Name: "power",
		States: []InterfaceMember{
			{Name: "power", Type: TypeBool, Writable: true},
		},
	},
	{
		Name:    "light",
		Extends: []string{"power"},
	},
	{
		Name:    "dimmablelight",
		Extends: []string{"light"},
		States: []InterfaceMember{
			{Name: "brightness", Type: TypeInt, Writable: true, Ranged: true},
		},
	},
	{
		Name: "sensor",
	},
	{
		Name:    "temperaturesensor",
		Extends: []string{"sensor"},
		States: []InterfaceMember{
			{Name: "temperature", Type: TypeDouble},
		},
	},
	{
		Name:    "humiditysensor",
		Extends: []string{"sensor"},
		States: []InterfaceMember{
			{Name: "humidity", Type: TypeDouble, Ranged: true},
		},
	},
	{
		Name:    "presencesensor",
		Extends: []string{"sensor"},
		States: []InterfaceMember{
			{Name: "isPresent", Type: TypeBool},
		},
		Events: []InterfaceMember{
			{Name: "lastSeenTime"},
		},
	},
	{
		Name: "button",
		Events: []InterfaceMember{
			{Name: "pressed"},
		},
	},
	{
		Name:    "longpressbutton",
		Extends: []string{"button"},
		Events: []InterfaceMember{
			{Name: "longPressed"},
		},
	},
	{
		Name: "gateway",
	},
}

// resolveMembers flattens an interface and its parents into the full
// member set the class has to satisfy. Unknown parents are reported so
// the caller can drop the claim.
func resolveMembers(ifaces map[string]*Interface, name string) (states, actions, events []InterfaceMember, ok bool) {
	iface, found := ifaces[name]
	if !found {
		return nil, nil, nil, false
	}
	for _, parent := range iface.Extends {
		ps, pa, pe, found := resolveMembers(ifaces, parent)
		if !found {
			return nil, nil, nil, false
		}
		states = append(states, ps...)
		actions = append(actions, pa...)
		events = append(events, pe...)
	}
	states = append(states, iface.States...)
	actions = append(actions, iface.Actions...)
	events = append(events, iface.Events...)
	return states, actions, events, true
}

// complies verifies a thing class against one interface. Interface
// verification runs after event/action synthesis, so writable states
// satisfy action members through their synthesized action types.
func complies(ifaces map[string]*Interface, tc *ThingClass, name string) bool {
	states, actions, events, ok := resolveMembers(ifaces, name)
	if !ok {
		return false
	}
	for _, m := range states {
		st, found := tc.StateTypeByName(m.Name)
		if !found {
			return false
		}
		if m.Type != "" && st.Type != m.Type {
			return false
		}
		if m.Writable && !st.Writable {
			return false
		}
		if m.Ranged && (st.MinValue == nil || st.MaxValue == nil) && len(st.PossibleValues) == 0 {
			return false
		}
	}
	for _, m := range actions {
		if _, found := tc.ActionTypeByName(m.Name); !found {
			return false
		}
	}
	for _, m := range events {
		if _, found := tc.EventTypeByName(m.Name); !found {
			return false
		}
	}
	return true
}
