// Package models defines the domain types shared by the sync client and the
// reference server: versioned entities, their field values, queued
// mutations and pending media blobs.
package models

import (
	"fmt"
	"strconv"
)

// ValueKind tags the payload carried by a Value.
type ValueKind string

const (
	KindNull   ValueKind = "null"
	KindString ValueKind = "string"
	KindInt    ValueKind = "int"
	KindFloat  ValueKind = "float"
	KindBool   ValueKind = "bool"
)

// Value is a tagged field value. Only the member matching Kind is meaningful.
type Value struct {
	Kind  ValueKind `json:"kind"`
	Str   string    `json:"s,omitempty"`
	Int   int64     `json:"i,omitempty"`
	Float float64   `json:"f,omitempty"`
	Bool  bool      `json:"b,omitempty"`
}

func Null() Value { return Value{Kind: KindNull} }
func String(s string) Value { return Value{Kind: KindString, Str: s} }
func Int(i int64) Value { return Value{Kind: KindInt, Int: i} }
func Float(f float64) Value { return Value{Kind: KindFloat, Float: f} }
func Bool(b bool) Value { return Value{Kind: KindBool, Bool: b} }
func (v Value) IsNull() bool { return v.Kind == "" || v.Kind == KindNull }

func (v Value) Equal(o Value) bool {
	if v.IsNull() || o.IsNull() {
		return v.IsNull() && o.IsNull()
	}
	if v.Kind != o.Kind {
		return false
	}
	switch v.Kind {
	case KindString:
		return v.Str == o.Str
	case KindInt:
		return v.Int == o.Int
	case KindFloat:
		return v.Float == o.Float
	case KindBool:
		return v.Bool == o.Bool
	}
	return false
}

// Native returns the value as a plain Go value (nil, string, int64,
// float64 or bool), the shape JSON encoders and validators expect.
func (v Value) Native() any {
	switch v.Kind {
	case KindString:
		return v.Str
	case KindInt:
		return v.Int
	case KindFloat:
		return v.Float
	case KindBool:
		return v.Bool
	default:
		return nil
	}
}

func (v Value) String() string {
	switch v.Kind {
	case KindString:
		return strconv.Quote(v.Str)
	case KindInt:
		return strconv.FormatInt(v.Int, 10)
	case KindFloat:
		return strconv.FormatFloat(v.Float, 'g', -1, 64)
	case KindBool:
		return strconv.FormatBool(v.Bool)
	default:
		return "null"
	}
}

// ParseValue infers a Value from user text: true/false, integers, floats,
// "null", and everything else as a string.
func ParseValue(s string) Value {
	switch s {
	case "null":
		return Null()
	case "true", "false":
		return Bool(s == "true")
	}
	if i, err := strconv.ParseInt(s, 10, 64); err == nil {
		return Int(i)
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return Float(f)
	}
	return String(s)
}

// FromNative converts a plain Go value into a Value.
func FromNative(x any) (Value, error) {
	switch v := x.(type) {
	case nil:
		return Null(), nil
	case string:
		return String(v), nil
	case bool:
		return Bool(v), nil
	case int:
		return Int(int64(v)), nil
	case int64:
		return Int(v), nil
	case float64:
		return Float(v), nil
	case Value:
		return v, nil
	default:
		return Value{}, fmt.Errorf("unsupported value type %T", x)
	}
}
