// Copyright 2020 New Relic Corporation. All rights reserved.
// SPDX-License-Identifier: Apache-2.0
package types

import (
	"encoding/json"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// ErrInvalidMetadata flags a plugin metadata document (or a part of it)
// that cannot be accepted: missing mandatory field, unknown field, or a
// bad enum value.
var ErrInvalidMetadata = errors.New("invalid plugin metadata")

// PluginMetadata is the declarative document shipped with every plugin.
type PluginMetadata struct {
	ID          uuid.UUID        `json:"id"`
	Name        string           `json:"name"`
	DisplayName string           `json:"displayName"`
	APIVersion  string           `json:"apiVersion"`
	BuiltIn     bool             `json:"builtIn,omitempty"`
	ParamTypes  []ParamType      `json:"paramTypes,omitempty"`
	Vendors     []VendorMetadata `json:"vendors"`

	// class id -> reason, for classes carrying unknown fields. Filled by
	// ParseMetadata, consumed by the registry which skips the offenders.
	invalidClasses map[uuid.UUID]string
}

// VendorMetadata is one vendor block of a plugin metadata document.
type VendorMetadata struct {
	ID           uuid.UUID    `json:"id"`
	Name         string       `json:"name"`
	DisplayName  string       `json:"displayName"`
	ThingClasses []ThingClass `json:"thingClasses"`
}

// thingClassFields are the keys a thing class block may carry.
var thingClassFields = map[string]struct{}{
	"id": {}, "name": {}, "displayName": {}, "createMethods": {},
	"setupMethod": {}, "interfaces": {}, "browsable": {}, "paramTypes": {},
	"settingsTypes": {}, "discoveryParamTypes": {}, "stateTypes": {},
	"actionTypes": {}, "eventTypes": {},
}

// ParseMetadata decodes a plugin metadata document. Document-level
// problems fail the whole parse; per-class problems are recorded so the
// registry can skip the offending class and still load the rest.
func ParseMetadata(raw []byte) (*PluginMetadata, error) {
	var meta PluginMetadata
	if err := json.Unmarshal(raw, &meta); err != nil {
		return nil, errors.Wrap(ErrInvalidMetadata, err.Error())
	}
	if meta.ID == uuid.Nil {
		return nil, errors.Wrap(ErrInvalidMetadata, "missing mandatory field: id")
	}
	if meta.Name == "" {
		return nil, errors.Wrap(ErrInvalidMetadata, "missing mandatory field: name")
	}
	meta.invalidClasses = scanUnknownClassFields(raw)
	return &meta, nil
}

// scanUnknownClassFields walks the raw document and flags thing classes
// carrying keys outside the declared schema.
func scanUnknownClassFields(raw []byte) map[uuid.UUID]string {
	var doc struct {
		Vendors []struct {
			ThingClasses []map[string]json.RawMessage `json:"thingClasses"`
		} `json:"vendors"`
	}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil
	}
	flagged := map[uuid.UUID]string{}
	for _, vendor := range doc.Vendors {
		for _, class := range vendor.ThingClasses {
			var id uuid.UUID
			if rawID, ok := class["id"]; ok {
				_ = json.Unmarshal(rawID, &id)
			}
			for key := range class {
				if _, known := thingClassFields[key]; !known {
					flagged[id] = "unknown field: " + key
					break
				}
			}
		}
	}
	return flagged
}

// validateThingClass checks mandatory fields and enum values of one
// thing class block.
func validateThingClass(tc *ThingClass) error {
	if tc.ID == uuid.Nil {
		return errors.Wrap(ErrInvalidMetadata, "missing mandatory field: id")
	}
	if tc.Name == "" {
		return errors.Wrap(ErrInvalidMetadata, "missing mandatory field: name")
	}
	if len(tc.CreateMethods) == 0 {
		return errors.Wrap(ErrInvalidMetadata, "missing mandatory field: createMethods")
	}
	for _, cm := range tc.CreateMethods {
		if !cm.Valid() {
			return errors.Wrapf(ErrInvalidMetadata, "bad createMethod %q", cm)
		}
	}
	if tc.SetupMethod == "" {
		tc.SetupMethod = SetupMethodJustAdd
	}
	if !tc.SetupMethod.Valid() {
		return errors.Wrapf(ErrInvalidMetadata, "bad setupMethod %q", tc.SetupMethod)
	}
	for _, group := range [][]ParamType{tc.ParamTypes, tc.SettingsTypes, tc.DiscoveryParamTypes} {
		for _, pt := range group {
			if err := validateParamType(pt); err != nil {
				return err
			}
		}
	}
	for _, st := range tc.StateTypes {
		if st.ID == uuid.Nil || st.Name == "" {
			return errors.Wrap(ErrInvalidMetadata, "state type missing id or name")
		}
		if !st.Type.Valid() {
			return errors.Wrapf(ErrInvalidMetadata, "state type %q: bad type %q", st.Name, st.Type)
		}
	}
	for _, at := range tc.ActionTypes {
		if at.ID == uuid.Nil || at.Name == "" {
			return errors.Wrap(ErrInvalidMetadata, "action type missing id or name")
		}
	}
	for _, et := range tc.EventTypes {
		if et.ID == uuid.Nil || et.Name == "" {
			return errors.Wrap(ErrInvalidMetadata, "event type missing id or name")
		}
	}
	return nil
}

func validateParamType(pt ParamType) error {
	if pt.ID == uuid.Nil || pt.Name == "" {
		return errors.Wrap(ErrInvalidMetadata, "param type missing id or name")
	}
	if !pt.Type.Valid() {
		return errors.Wrapf(ErrInvalidMetadata, "param type %q: bad type %q", pt.Name, pt.Type)
	}
	return nil
}
