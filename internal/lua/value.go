// Copyright 2024 The zb Authors
// SPDX-License-Identifier: MIT

package lua

import (
	"fmt"
	"math"
	"sync/atomic"

	"punchdrunk.256lights.llc/pkg/internal/luacode"
	"punchdrunk.256lights.llc/pkg/internal/lualex"
)

// Type is an enumeration of Lua data types.
type Type int

// TypeNone is the value returned from [TypeOf] for a missing argument.
const TypeNone Type = -1

// Value types.
// The numeric values match the Lua 5.1 type tags.
const (
	TypeNil      Type = 0
	TypeBoolean  Type = 1
	TypeNumber   Type = 3
	TypeString   Type = 4
	TypeTable    Type = 5
	TypeFunction Type = 6
	TypeThread   Type = 8
)

// String returns the name of the type encoded by the value tp.
func (tp Type) String() string {
	switch tp {
	case TypeNone:
		return "no value"
	case TypeNil:
		return "nil"
	case TypeBoolean:
		return "boolean"
	case TypeNumber:
		return "number"
	case TypeString:
		return "string"
	case TypeTable:
		return "table"
	case TypeFunction:
		return "function"
	case TypeThread:
		return "thread"
	default:
		return fmt.Sprintf("lua.Type(%d)", int(tp))
	}
}

// Value is a Lua value.
// A nil Value is Lua nil.
// The concrete types are
// [Boolean], [Number], [String], [*Table], [*Closure], [*GoFunction], and [*Coroutine].
type Value interface {
	valueType() Type
}

var (
	_ Value = Boolean(false)
	_ Value = Number(0)
	_ Value = String("")
	_ Value = (*Table)(nil)
	_ Value = (*Closure)(nil)
	_ Value = (*GoFunction)(nil)
	_ Value = (*Coroutine)(nil)
)

// TypeOf returns the [Type] of a [Value].
func TypeOf(v Value) Type {
	if v == nil {
		return TypeNil
	}
	return v.valueType()
}

// Boolean is a boolean [Value].
type Boolean bool

func (b Boolean) valueType() Type { return TypeBoolean }

// Number is a numeric [Value].
// Lua 5.1 represents all numbers as double-precision floats.
type Number float64

func (n Number) valueType() Type { return TypeNumber }

// String is a string [Value].
// Strings are immutable byte sequences and need not be valid UTF-8.
type String string

func (s String) valueType() Type { return TypeString }

// importConstant converts a constant from a [luacode.Prototype] to a [Value].
func importConstant(k luacode.Value) Value {
	switch {
	case k.IsBoolean():
		b, _ := k.Bool()
		return Boolean(b)
	case k.IsNumber():
		f, _ := k.Float64()
		return Number(f)
	case k.IsString():
		s, _ := k.Unquoted()
		return String(s)
	default:
		return nil
	}
}

// ToBoolean reports whether the value is anything except nil or false.
func ToBoolean(v Value) bool {
	switch v := v.(type) {
	case nil:
		return false
	case Boolean:
		return bool(v)
	default:
		return true
	}
}

// ToNumber coerces a value to a number
// using the string conversion rules for arithmetic.
func ToNumber(v Value) (_ float64, ok bool) {
	switch v := v.(type) {
	case Number:
		return float64(v), true
	case String:
		f, err := lualex.ParseNumber(string(v))
		return f, err == nil
	default:
		return 0, false
	}
}

// toStringCoerce converts numbers and strings to a string
// as the concatenation operator does.
func toStringCoerce(v Value) (_ string, ok bool) {
	switch v := v.(type) {
	case String:
		return string(v), true
	case Number:
		return lualex.FormatNumber(float64(v)), true
	default:
		return "", false
	}
}

// rawString formats a value without consulting metatables.
func rawString(v Value) string {
	switch v := v.(type) {
	case nil:
		return "nil"
	case Boolean:
		if v {
			return "true"
		}
		return "false"
	case Number:
		return lualex.FormatNumber(float64(v))
	case String:
		return string(v)
	case *Table:
		return formatObject("table", v.id)
	case *Closure:
		return formatObject("function", v.id)
	case *GoFunction:
		return formatObject("function", v.id)
	case *Coroutine:
		return formatObject("thread", v.id)
	default:
		return fmt.Sprintf("%v", v)
	}
}

func formatObject(kind string, id uint64) string {
	return fmt.Sprintf("%s: 0x%08x", kind, id)
}

// RawEqual reports whether two values are equal
// without consulting the "__eq" metamethod.
func RawEqual(v1, v2 Value) bool {
	// All concrete value types are comparable.
	// Numbers compare with IEEE semantics, so NaN ~= NaN.
	return v1 == v2
}

// typeName returns the name of a value's type for error messages.
func typeName(v Value) string {
	return TypeOf(v).String()
}

var lastID atomic.Uint64

// nextID returns a new identifier for a reference value.
func nextID() uint64 {
	return lastID.Add(1)
}

// normalizeKey converts a table key into its canonical form.
// Negative zero is indexed as zero.
func normalizeKey(k Value) (Value, error) {
	switch kk := k.(type) {
	case nil:
		return nil, errNilIndex
	case Number:
		if math.IsNaN(float64(kk)) {
			return nil, errNaNIndex
		}
		if kk == 0 {
			return Number(0), nil
		}
	}
	return k, nil
}

// arrayIndex returns the 1-based integer value of a number key.
func arrayIndex(k Value) (int, bool) {
	n, ok := k.(Number)
	if !ok {
		return 0, false
	}
	f := float64(n)
	if f < 1 || f > math.MaxInt32 || f != math.Trunc(f) {
		return 0, false
	}
	return int(f), true
}
