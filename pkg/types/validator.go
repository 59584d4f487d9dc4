// Copyright 2020 New Relic Corporation. All rights reserved.
// SPDX-License-Identifier: Apache-2.0
package types

import (
	"fmt"

	"github.com/google/uuid"
)

// ValidationCode classifies a param validation failure.
type ValidationCode string

const (
	MissingParameter     ValidationCode = "MissingParameter"
	InvalidParameter     ValidationCode = "InvalidParameter"
	ParameterNotWritable ValidationCode = "ParameterNotWritable"
)

// ValidationError reports which param failed validation and why.
// Validation failures never mutate state.
type ValidationError struct {
	Code        ValidationCode
	ParamTypeID uuid.UUID
	Name        string
	Reason      string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: param %q (%s): %s", e.Code, e.Name, e.ParamTypeID, e.Reason)
}

// ValidateParams checks params against the given param type
// descriptors and returns the normalized map with defaults filled in.
// fromUser guards readOnly params: discovery-sourced calls may supply
// them, user-initiated calls may not.
func ValidateParams(paramTypes []ParamType, params Params, fromUser bool) (Params, error) {
	normalized := make(Params, len(paramTypes))

	for id, value := range params {
		pt, known := findParamType(paramTypes, id)
		if !known {
			return nil, &ValidationError{
				Code:        InvalidParameter,
				ParamTypeID: id,
				Reason:      "no such param type",
			}
		}
		if pt.ReadOnly && fromUser {
			return nil, &ValidationError{
				Code:        ParameterNotWritable,
				ParamTypeID: id,
				Name:        pt.Name,
				Reason:      "param is read-only",
			}
		}
		converted, err := ValidateValue(pt.Type, value, pt.MinValue, pt.MaxValue, pt.AllowedValues)
		if err != nil {
			return nil, &ValidationError{
				Code:        InvalidParameter,
				ParamTypeID: id,
				Name:        pt.Name,
				Reason:      err.Error(),
			}
		}
		normalized[id] = converted
	}

	for _, pt := range paramTypes {
		if _, supplied := normalized[pt.ID]; supplied {
			continue
		}
		if pt.DefaultValue != nil {
			converted, err := pt.Type.Convert(pt.DefaultValue)
			if err != nil {
				return nil, &ValidationError{
					Code:        InvalidParameter,
					ParamTypeID: pt.ID,
					Name:        pt.Name,
					Reason:      "default value not convertible",
				}
			}
			normalized[pt.ID] = converted
			continue
		}
		return nil, &ValidationError{
			Code:        MissingParameter,
			ParamTypeID: pt.ID,
			Name:        pt.Name,
			Reason:      "param missing and no default declared",
		}
	}

	return normalized, nil
}

// ValidateValue converts a single value to the semantic type and checks
// range and whitelist constraints. Integer and double ranges compare
// numerically, everything else through natural variant ordering.
func ValidateValue(t SemanticType, value, min, max interface{}, allowed []interface{}) (interface{}, error) {
	converted, err := t.Convert(value)
	if err != nil {
		return nil, err
	}

	if min != nil {
		bound, err := t.Convert(min)
		if err == nil {
			if c, err := Compare(converted, bound); err == nil && c < 0 {
				return nil, fmt.Errorf("value below minimum %v", min)
			}
		}
	}
	if max != nil {
		bound, err := t.Convert(max)
		if err == nil {
			if c, err := Compare(converted, bound); err == nil && c > 0 {
				return nil, fmt.Errorf("value above maximum %v", max)
			}
		}
	}

	if len(allowed) > 0 {
		match := false
		for _, candidate := range allowed {
			normalized, err := t.Convert(candidate)
			if err != nil {
				continue
			}
			if Equal(converted, normalized) {
				match = true
				break
			}
		}
		if !match {
			return nil, fmt.Errorf("value %v not in allowed values", value)
		}
	}

	return converted, nil
}
