// Copyright (C) 1994-2012 Lua.org, PUC-Rio.
// Copyright 2024 The zb Authors
// SPDX-License-Identifier: MIT

package luacode

import (
	"math"
	"strconv"

	"punchdrunk.256lights.llc/pkg/internal/lualex"
)

// valueType is the type tag used by luac 5.1 in the constant pool.
type valueType byte

const (
	valueTypeNil     valueType = 0
	valueTypeBoolean valueType = 1
	valueTypeNumber  valueType = 3
	valueTypeString  valueType = 4
)

// Value is a subset of Lua values that can be used as constants:
// nil, booleans, numbers, and strings.
// The zero value is nil.
// Values can be compared for equality with the == operator.
// Unlike Lua equality, NaN constants with the same bit pattern compare equal.
type Value struct {
	bits uint64
	s    string
	t    valueType
}

// BoolValue converts a boolean to a [Value].
func BoolValue(b bool) Value {
	v := Value{t: valueTypeBoolean}
	if b {
		v.bits = 1
	}
	return v
}

// NumberValue converts a floating-point number to a [Value].
func NumberValue(f float64) Value {
	return Value{
		t:    valueTypeNumber,
		bits: math.Float64bits(f),
	}
}

// StringValue converts a string to a [Value].
func StringValue(s string) Value {
	return Value{
		t: valueTypeString,
		s: s,
	}
}

// IsNil reports whether v is the zero value.
func (v Value) IsNil() bool {
	return v.t == valueTypeNil
}

// IsNumber reports whether v is a number.
func (v Value) IsNumber() bool {
	return v.t == valueTypeNumber
}

// IsString reports whether v is a string.
func (v Value) IsString() bool {
	return v.t == valueTypeString
}

// IsBoolean reports whether v is a boolean.
func (v Value) IsBoolean() bool {
	return v.t == valueTypeBoolean
}

// Bool returns the boolean value of v.
func (v Value) Bool() (_ bool, isBool bool) {
	return v.bits != 0, v.t == valueTypeBoolean
}

// Float64 returns the numeric value of v.
func (v Value) Float64() (_ float64, isNumber bool) {
	if v.t != valueTypeNumber {
		return 0, false
	}
	return math.Float64frombits(v.bits), true
}

// Unquoted returns the string value of v.
func (v Value) Unquoted() (s string, isString bool) {
	if v.t != valueTypeString {
		return "", false
	}
	return v.s, true
}

// String formats the value as a Lua constant.
func (v Value) String() string {
	switch v.t {
	case valueTypeNil:
		return "nil"
	case valueTypeBoolean:
		return strconv.FormatBool(v.bits != 0)
	case valueTypeNumber:
		return lualex.FormatNumber(math.Float64frombits(v.bits))
	case valueTypeString:
		return lualex.Quote(v.s)
	default:
		return "<invalid>"
	}
}
