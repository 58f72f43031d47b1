package ir

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// ErrFloat is returned for numbers with a fractional part or an exponent.
// Values hold int64 numbers only so that canonical JSON and hashes stay
// exact.
var ErrFloat = errors.New("floats are not allowed in values")

func floatError(literal string) error {
	return fmt.Errorf("%w: %s is not an integer (use an int, or a string for decimals)", ErrFloat, literal)
}

// FromGo converts a decoded Go value (from YAML, JSON or CUE) into a Value.
//
// Accepted inputs: nil (Null), bool, string, all integer kinds, json.Number,
// integral float64/float32 (YAML and CUE decoders may produce them),
// []any, map[string]any and map[any]any with string keys. Values that are
// already a Value are returned unchanged.
func FromGo(v any) (Value, error) {
	switch val := v.(type) {
	case nil:
		return Null{}, nil
	case Value:
		return val, nil
	case bool:
		return Bool(val), nil
	case string:
		return String(val), nil
	case int:
		return Int(val), nil
	case int8:
		return Int(val), nil
	case int16:
		return Int(val), nil
	case int32:
		return Int(val), nil
	case int64:
		return Int(val), nil
	case uint8:
		return Int(val), nil
	case uint16:
		return Int(val), nil
	case uint32:
		return Int(val), nil
	case uint:
		if uint64(val) > math.MaxInt64 {
			return nil, fmt.Errorf("number out of int64 range: %d", val)
		}
		return Int(val), nil
	case uint64:
		if val > math.MaxInt64 {
			return nil, fmt.Errorf("number out of int64 range: %d", val)
		}
		return Int(val), nil
	case float64:
		return fromFloat(val)
	case float32:
		return fromFloat(float64(val))
	case json.Number:
		s := string(val)
		if strings.ContainsAny(s, ".eE") {
			return nil, floatError(s)
		}
		n, err := val.Int64()
		if err != nil {
			return nil, fmt.Errorf("number out of int64 range: %s", s)
		}
		return Int(n), nil
	case []any:
		arr := make(Array, len(val))
		for i, elem := range val {
			conv, err := FromGo(elem)
			if err != nil {
				return nil, fmt.Errorf("array[%d]: %w", i, err)
			}
			arr[i] = conv
		}
		return arr, nil
	case map[string]any:
		obj := make(Object, len(val))
		for k, elem := range val {
			conv, err := FromGo(elem)
			if err != nil {
				return nil, fmt.Errorf("object[%q]: %w", k, err)
			}
			obj[k] = conv
		}
		return obj, nil
	case map[any]any:
		obj := make(Object, len(val))
		for k, elem := range val {
			key, ok := k.(string)
			if !ok {
				return nil, fmt.Errorf("object key %v: keys must be strings", k)
			}
			conv, err := FromGo(elem)
			if err != nil {
				return nil, fmt.Errorf("object[%q]: %w", key, err)
			}
			obj[key] = conv
		}
		return obj, nil
	default:
		return nil, fmt.Errorf("unsupported type: %T", v)
	}
}

// MustFromGo is FromGo for literals known to be valid. It panics on error.
func MustFromGo(v any) Value {
	val, err := FromGo(v)
	if err != nil {
		panic(fmt.Sprintf("ir.MustFromGo: %v", err))
	}
	return val
}

func fromFloat(f float64) (Value, error) {
	if f != math.Trunc(f) || math.IsInf(f, 0) || math.IsNaN(f) {
		return nil, floatError(strconv.FormatFloat(f, 'g', -1, 64))
	}
	if f > math.MaxInt64 || f < math.MinInt64 {
		return nil, fmt.Errorf("number out of int64 range: %v", f)
	}
	return Int(int64(f)), nil
}

// ToGo converts a Value into plain Go values: nil, bool, string, int64,
// []any and map[string]any. Unset converts to nil.
func ToGo(v Value) any {
	switch val := v.(type) {
	case Null, nil, unset:
		return nil
	case String:
		return string(val)
	case Int:
		return int64(val)
	case Bool:
		return bool(val)
	case Array:
		out := make([]any, len(val))
		for i, elem := range val {
			out[i] = ToGo(elem)
		}
		return out
	case Object:
		out := make(map[string]any, len(val))
		for k, elem := range val {
			out[k] = ToGo(elem)
		}
		return out
	default:
		return nil
	}
}

// Format renders v as compact JSON for logs and error messages.
// Unset renders as "<unset>".
func Format(v Value) string {
	if IsUnset(v) {
		return "<unset>"
	}
	data, err := MarshalValue(v)
	if err != nil {
		return fmt.Sprintf("<%v>", err)
	}
	return string(data)
}
