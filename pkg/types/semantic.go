// Copyright 2020 New Relic Corporation. All rights reserved.
// SPDX-License-Identifier: Apache-2.0
package types

import (
	"fmt"
	"strconv"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// SemanticType is the value type of a param or state as declared by
// plugin metadata.
type SemanticType string

const (
	TypeBool    SemanticType = "bool"
	TypeInt     SemanticType = "int"
	TypeUint    SemanticType = "uint"
	TypeDouble  SemanticType = "double"
	TypeString  SemanticType = "string"
	TypeUUID    SemanticType = "uuid"
	TypeVariant SemanticType = "variant"
)

// ErrNotConvertible is returned when a value cannot be converted to the
// target semantic type.
var ErrNotConvertible = errors.New("value not convertible to declared type")

// Valid reports whether t is one of the known semantic types.
func (t SemanticType) Valid() bool {
	switch t {
	case TypeBool, TypeInt, TypeUint, TypeDouble, TypeString, TypeUUID, TypeVariant:
		return true
	}
	return false
}

// Convert normalizes v into the canonical Go representation for t:
// bool, int64, uint64, float64, string, uuid.UUID. Variant values pass
// through untouched. JSON decoding hands numbers over as float64 and
// ids as strings, so cross-type conversions are attempted before
// giving up.
func (t SemanticType) Convert(v interface{}) (interface{}, error) {
	if v == nil {
		return nil, ErrNotConvertible
	}
	switch t {
	case TypeBool:
		return toBool(v)
	case TypeInt:
		return toInt(v)
	case TypeUint:
		return toUint(v)
	case TypeDouble:
		return toDouble(v)
	case TypeString:
		return toString(v)
	case TypeUUID:
		return toUUID(v)
	case TypeVariant:
		return v, nil
	}
	return nil, errors.Wrapf(ErrNotConvertible, "unknown semantic type %q", t)
}

func toBool(v interface{}) (interface{}, error) {
	switch val := v.(type) {
	case bool:
		return val, nil
	case string:
		b, err := strconv.ParseBool(val)
		if err != nil {
			return nil, ErrNotConvertible
		}
		return b, nil
	}
	return nil, ErrNotConvertible
}

func toInt(v interface{}) (interface{}, error) {
	switch val := v.(type) {
	case int:
		return int64(val), nil
	case int32:
		return int64(val), nil
	case int64:
		return val, nil
	case uint64:
		return int64(val), nil
	case float64:
		// JSON numbers arrive as float64. Only whole values qualify.
		if val != float64(int64(val)) {
			return nil, ErrNotConvertible
		}
		return int64(val), nil
	case float32:
		if val != float32(int64(val)) {
			return nil, ErrNotConvertible
		}
		return int64(val), nil
	case string:
		i, err := strconv.ParseInt(val, 10, 64)
		if err != nil {
			return nil, ErrNotConvertible
		}
		return i, nil
	}
	return nil, ErrNotConvertible
}

func toUint(v interface{}) (interface{}, error) {
	i, err := toInt(v)
	if err != nil {
		return nil, err
	}
	signed := i.(int64)
	if signed < 0 {
		return nil, ErrNotConvertible
	}
	return uint64(signed), nil
}

func toDouble(v interface{}) (interface{}, error) {
	switch val := v.(type) {
	case float64:
		return val, nil
	case float32:
		return float64(val), nil
	case int:
		return float64(val), nil
	case int64:
		return float64(val), nil
	case uint64:
		return float64(val), nil
	case string:
		f, err := strconv.ParseFloat(val, 64)
		if err != nil {
			return nil, ErrNotConvertible
		}
		return f, nil
	}
	return nil, ErrNotConvertible
}

func toString(v interface{}) (interface{}, error) {
	switch val := v.(type) {
	case string:
		return val, nil
	case bool:
		return strconv.FormatBool(val), nil
	case int64:
		return strconv.FormatInt(val, 10), nil
	case uint64:
		return strconv.FormatUint(val, 10), nil
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64), nil
	case uuid.UUID:
		return val.String(), nil
	}
	return nil, ErrNotConvertible
}

func toUUID(v interface{}) (interface{}, error) {
	switch val := v.(type) {
	case uuid.UUID:
		return val, nil
	case string:
		id, err := uuid.Parse(val)
		if err != nil {
			return nil, ErrNotConvertible
		}
		return id, nil
	}
	return nil, ErrNotConvertible
}

// Compare orders two values. Numeric values compare numerically
// regardless of their concrete type; everything else falls back to the
// natural ordering of its string form. Incomparable values return an
// error.
func Compare(a, b interface{}) (int, error) {
	if fa, okA := asFloat(a); okA {
		if fb, okB := asFloat(b); okB {
			switch {
			case fa < fb:
				return -1, nil
			case fa > fb:
				return 1, nil
			}
			return 0, nil
		}
	}

	sa, okA := asNatural(a)
	sb, okB := asNatural(b)
	if !okA || !okB {
		return 0, errors.Errorf("values %T and %T are not comparable", a, b)
	}
	switch {
	case sa < sb:
		return -1, nil
	case sa > sb:
		return 1, nil
	}
	return 0, nil
}

// Equal reports whether two values are the same after numeric
// unification. Incomparable values are never equal.
func Equal(a, b interface{}) bool {
	c, err := Compare(a, b)
	return err == nil && c == 0
}

func asFloat(v interface{}) (float64, bool) {
	switch val := v.(type) {
	case int:
		return float64(val), true
	case int32:
		return float64(val), true
	case int64:
		return float64(val), true
	case uint64:
		return float64(val), true
	case float32:
		return float64(val), true
	case float64:
		return val, true
	}
	return 0, false
}

func asNatural(v interface{}) (string, bool) {
	switch val := v.(type) {
	case string:
		return val, true
	case bool:
		return strconv.FormatBool(val), true
	case uuid.UUID:
		return val.String(), true
	case fmt.Stringer:
		return val.String(), true
	}
	return "", false
}
