// Copyright 2020 New Relic Corporation. All rights reserved.
// SPDX-License-Identifier: Apache-2.0
package types

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const lampMetadata = `{
	"id": "aaaaaaaa-0000-0000-0000-000000000001",
	"name": "lamps",
	"displayName": "Lamps",
	"apiVersion": "1.0",
	"vendors": [{
		"id": "aaaaaaaa-0000-0000-0000-000000000002",
		"name": "acme",
		"displayName": "ACME",
		"thingClasses": [{
			"id": "aaaaaaaa-0000-0000-0000-000000000003",
			"name": "lamp",
			"displayName": "Lamp",
			"createMethods": ["user"],
			"setupMethod": "justAdd",
			"interfaces": ["light"],
			"paramTypes": [{
				"id": "aaaaaaaa-0000-0000-0000-000000000004",
				"name": "address",
				"displayName": "Address",
				"type": "string",
				"defaultValue": ""
			}],
			"stateTypes": [{
				"id": "aaaaaaaa-0000-0000-0000-000000000005",
				"name": "power",
				"displayName": "Power",
				"type": "bool",
				"defaultValue": false,
				"cached": true,
				"writable": true,
				"displayNameEvent": "Power changed",
				"displayNameAction": "Set power"
			}, {
				"id": "aaaaaaaa-0000-0000-0000-000000000006",
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

func registerLampPlugin(t *testing.T) (*Registry, *ThingClass) {
	t.Helper()
	meta, err := ParseMetadata([]byte(lampMetadata))
	require.NoError(t, err)

	r := NewRegistry()
	r.RegisterPlugin(meta)

	tc, ok := r.ThingClass(uuid.MustParse("aaaaaaaa-0000-0000-0000-000000000003"))
	require.True(t, ok)
	return r, tc
}

func TestRegisterPluginBuildsGraph(t *testing.T) {
	r, tc := registerLampPlugin(t)

	vendor, ok := r.Vendor(uuid.MustParse("aaaaaaaa-0000-0000-0000-000000000002"))
	require.True(t, ok)
	assert.Equal(t, "acme", vendor.Name)

	assert.Equal(t, uuid.MustParse("aaaaaaaa-0000-0000-0000-000000000001"), tc.PluginID)
	assert.Equal(t, vendor.ID, tc.VendorID)
	assert.True(t, tc.SupportsCreateMethod(CreateMethodUser))
	assert.False(t, tc.SupportsCreateMethod(CreateMethodDiscovery))
}

func TestRegisterPluginSynthesizesStateTypes(t *testing.T) {
	_, tc := registerLampPlugin(t)

	powerID := uuid.MustParse("aaaaaaaa-0000-0000-0000-000000000005")
	signalID := uuid.MustParse("aaaaaaaa-0000-0000-0000-000000000006")

	// every state gets a matching event type sharing the state type id
	et, ok := tc.EventType(powerID)
	require.True(t, ok)
	assert.Equal(t, "power", et.Name)
	assert.Equal(t, "Power changed", et.DisplayName)
	require.Len(t, et.ParamTypes, 1)
	assert.Equal(t, powerID, et.ParamTypes[0].ID)
	assert.Equal(t, TypeBool, et.ParamTypes[0].Type)

	// writable states additionally get an action type
	at, ok := tc.ActionType(powerID)
	require.True(t, ok)
	assert.Equal(t, "Set power", at.DisplayName)

	// read-only states do not
	_, ok = tc.ActionType(signalID)
	assert.False(t, ok)
	_, ok = tc.EventType(signalID)
	assert.True(t, ok)
}

func TestRegisterPluginVerifiesInterfaces(t *testing.T) {
	_, tc := registerLampPlugin(t)
	// lamp has a writable bool "power" state, so "light" (extends
	// "power") holds
	assert.True(t, tc.HasInterface("light"))
}

func TestRegisterPluginDropsNonCompliantInterface(t *testing.T) {
	meta, err := ParseMetadata([]byte(`{
		"id": "bbbbbbbb-0000-0000-0000-000000000001",
		"name": "broken",
		"vendors": [{
			"id": "bbbbbbbb-0000-0000-0000-000000000002",
			"name": "acme",
			"thingClasses": [{
				"id": "bbbbbbbb-0000-0000-0000-000000000003",
				"name": "fakelight",
				"createMethods": ["user"],
				"interfaces": ["light", "battery"]
			}]
		}]
	}`))
	require.NoError(t, err)

	r := NewRegistry()
	r.RegisterPlugin(meta)

	tc, ok := r.ThingClass(uuid.MustParse("bbbbbbbb-0000-0000-0000-000000000003"))
	require.True(t, ok)
	// no states at all: both claimed interfaces must be dropped
	assert.Empty(t, tc.Interfaces)
}

func TestRegisterPluginSkipsInvalidClassKeepsRest(t *testing.T) {
	meta, err := ParseMetadata([]byte(`{
		"id": "cccccccc-0000-0000-0000-000000000001",
		"name": "mixed",
		"vendors": [{
			"id": "cccccccc-0000-0000-0000-000000000002",
			"name": "acme",
			"thingClasses": [{
				"id": "cccccccc-0000-0000-0000-000000000003",
				"name": "bad",
				"createMethods": ["teleport"]
			}, {
				"id": "cccccccc-0000-0000-0000-000000000004",
				"name": "good",
				"createMethods": ["user"]
			}]
		}]
	}`))
	require.NoError(t, err)

	r := NewRegistry()
	r.RegisterPlugin(meta)

	_, ok := r.ThingClass(uuid.MustParse("cccccccc-0000-0000-0000-000000000003"))
	assert.False(t, ok)
	_, ok = r.ThingClass(uuid.MustParse("cccccccc-0000-0000-0000-000000000004"))
	assert.True(t, ok)
}

func TestRegisterPluginSkipsClassWithUnknownField(t *testing.T) {
	meta, err := ParseMetadata([]byte(`{
		"id": "dddddddd-0000-0000-0000-000000000001",
		"name": "unknownfield",
		"vendors": [{
			"id": "dddddddd-0000-0000-0000-000000000002",
			"name": "acme",
			"thingClasses": [{
				"id": "dddddddd-0000-0000-0000-000000000003",
				"name": "odd",
				"createMethods": ["user"],
				"frobnicate": true
			}]
		}]
	}`))
	require.NoError(t, err)

	r := NewRegistry()
	r.RegisterPlugin(meta)

	_, ok := r.ThingClass(uuid.MustParse("dddddddd-0000-0000-0000-000000000003"))
	assert.False(t, ok)
}

func TestParseMetadataMandatoryFields(t *testing.T) {
	_, err := ParseMetadata([]byte(`{"name": "noid"}`))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidMetadata)

	_, err = ParseMetadata([]byte(`{"id": "eeeeeeee-0000-0000-0000-000000000001"}`))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidMetadata)
}
