// Copyright 2020 New Relic Corporation. All rights reserved.
// SPDX-License-Identifier: Apache-2.0
package types

import (
	"github.com/google/uuid"
)

// ParamType describes a single configuration parameter of a thing
// class, a discovery request, a plugin, or an event/action payload.
// Immutable once parsed from plugin metadata.
type ParamType struct {
	ID            uuid.UUID     `json:"id"`
	Name          string        `json:"name"`
	DisplayName   string        `json:"displayName"`
	Type          SemanticType  `json:"type"`
	Index         int           `json:"index"`
	DefaultValue  interface{}   `json:"defaultValue,omitempty"`
	MinValue      interface{}   `json:"minValue,omitempty"`
	MaxValue      interface{}   `json:"maxValue,omitempty"`
	AllowedValues []interface{} `json:"allowedValues,omitempty"`
	Unit          string        `json:"unit,omitempty"`
	InputType     string        `json:"inputType,omitempty"`
	ReadOnly      bool          `json:"readOnly,omitempty"`
}

// Params maps a param type id onto its current value.
type Params map[uuid.UUID]interface{}

// Copy returns a shallow copy of the param map.
func (p Params) Copy() Params {
	out := make(Params, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}

// Merged returns the union of p and overrides, with overrides winning.
func (p Params) Merged(overrides Params) Params {
	out := p.Copy()
	for k, v := range overrides {
		out[k] = v
	}
	return out
}

// findParamType locates a param type by id within a descriptor list.
func findParamType(paramTypes []ParamType, id uuid.UUID) (ParamType, bool) {
	for _, pt := range paramTypes {
		if pt.ID == id {
			return pt, true
		}
	}
	return ParamType{}, false
}
