// Copyright 2024 The zb Authors
// SPDX-License-Identifier: MIT

package lua

import (
	"context"
	"strings"

	"punchdrunk.256lights.llc/pkg/internal/luacode"
)

// maxTagLoop is the maximum length of an "__index", "__newindex", or "__call" chain.
const maxTagLoop = 100

// metatable returns the metatable of a value.
// Strings share the engine's string metatable.
func (e *Engine) metatable(v Value) *Table {
	switch v := v.(type) {
	case *Table:
		return v.meta
	case String:
		return e.stringMeta
	default:
		return nil
	}
}

// metafield returns the metatable field of v for the given event,
// or nil if none exists.
func (e *Engine) metafield(v Value, event string) Value {
	return e.metatable(v).GetString(event)
}

// call1 calls fn in a nested host loop and returns its first result.
func (e *Engine) call1(ctx context.Context, fn Value, args ...Value) (Value, error) {
	results, err := e.Call(ctx, fn, args...)
	if err != nil || len(results) == 0 {
		return nil, err
	}
	return results[0], nil
}

func isFunction(v Value) bool {
	return TypeOf(v) == TypeFunction
}

// index returns t[k], consulting "__index" metamethods.
func (e *Engine) index(ctx context.Context, t, k Value) (Value, error) {
	for range maxTagLoop {
		var h Value
		if tab, ok := t.(*Table); ok {
			if v := tab.Get(k); v != nil {
				return v, nil
			}
			h = tab.meta.GetString("__index")
			if h == nil {
				return nil, nil
			}
		} else {
			h = e.metafield(t, "__index")
			if h == nil {
				return nil, newError(TypeError, "attempt to index a %s value", typeName(t))
			}
		}
		if isFunction(h) {
			return e.call1(ctx, h, t, k)
		}
		t = h
	}
	return nil, newError(RuntimeError, "loop in gettable")
}

// setIndex performs t[k] = v, consulting "__newindex" metamethods.
func (e *Engine) setIndex(ctx context.Context, t, k, v Value) error {
	for range maxTagLoop {
		var h Value
		if tab, ok := t.(*Table); ok {
			h = tab.meta.GetString("__newindex")
			if h == nil || tab.Get(k) != nil {
				if err := tab.Set(k, v); err != nil {
					return newError(TypeError, "%v", err)
				}
				return nil
			}
		} else {
			h = e.metafield(t, "__newindex")
			if h == nil {
				return newError(TypeError, "attempt to index a %s value", typeName(t))
			}
		}
		if isFunction(h) {
			_, err := e.Call(ctx, h, t, k, v)
			return err
		}
		t = h
	}
	return newError(RuntimeError, "loop in settable")
}

var arithEvents = map[luacode.OpCode]string{
	luacode.OpAdd: "__add",
	luacode.OpSub: "__sub",
	luacode.OpMul: "__mul",
	luacode.OpDiv: "__div",
	luacode.OpMod: "__mod",
	luacode.OpPow: "__pow",
	luacode.OpUnm: "__unm",
}

// arith performs an arithmetic operation,
// coercing strings to numbers or falling back to metamethods.
func (e *Engine) arith(ctx context.Context, op luacode.OpCode, a, b Value) (Value, error) {
	x, aok := ToNumber(a)
	y, bok := ToNumber(b)
	if aok && bok {
		return Number(arith(op, x, y)), nil
	}
	event := arithEvents[op]
	h := e.metafield(a, event)
	if h == nil {
		h = e.metafield(b, event)
	}
	if h != nil {
		return e.call1(ctx, h, a, b)
	}
	bad := b
	if !aok {
		bad = a
	}
	return nil, newError(TypeError, "attempt to perform arithmetic on a %s value", typeName(bad))
}

// Arith performs an arithmetic operation on two values
// the way the corresponding Lua operator does.
// op must be one of the arithmetic opcodes ([luacode.OpAdd] through [luacode.OpUnm]).
func (e *Engine) Arith(ctx context.Context, op luacode.OpCode, a, b Value) (Value, error) {
	if _, ok := arithEvents[op]; !ok {
		return nil, newError(RuntimeError, "%v is not an arithmetic operation", op)
	}
	return e.arith(ctx, op, a, b)
}

// equal compares two values with the "==" operator.
// The "__eq" metamethod is only consulted for two tables
// that share the same metatable.
func (e *Engine) equal(ctx context.Context, a, b Value) (bool, error) {
	if RawEqual(a, b) {
		return true, nil
	}
	ta, ok1 := a.(*Table)
	tb, ok2 := b.(*Table)
	if !ok1 || !ok2 || ta.meta == nil || ta.meta != tb.meta {
		return false, nil
	}
	h := ta.meta.GetString("__eq")
	if h == nil {
		return false, nil
	}
	v, err := e.call1(ctx, h, a, b)
	return ToBoolean(v), err
}

// orderHandler returns the handler for a comparison event
// if both operands share a metatable that defines it.
func (e *Engine) orderHandler(a, b Value, event string) Value {
	if TypeOf(a) != TypeOf(b) {
		return nil
	}
	ma, mb := e.metatable(a), e.metatable(b)
	if ma == nil || ma != mb {
		return nil
	}
	return ma.GetString(event)
}

func (e *Engine) lessThan(ctx context.Context, a, b Value) (bool, error) {
	switch a := a.(type) {
	case Number:
		if b, ok := b.(Number); ok {
			return a < b, nil
		}
	case String:
		if b, ok := b.(String); ok {
			return a < b, nil
		}
	}
	if h := e.orderHandler(a, b, "__lt"); h != nil {
		v, err := e.call1(ctx, h, a, b)
		return ToBoolean(v), err
	}
	return false, compareError(a, b)
}

func (e *Engine) lessEqual(ctx context.Context, a, b Value) (bool, error) {
	switch a := a.(type) {
	case Number:
		if b, ok := b.(Number); ok {
			return a <= b, nil
		}
	case String:
		if b, ok := b.(String); ok {
			return a <= b, nil
		}
	}
	if h := e.orderHandler(a, b, "__le"); h != nil {
		v, err := e.call1(ctx, h, a, b)
		return ToBoolean(v), err
	}
	if h := e.orderHandler(a, b, "__lt"); h != nil {
		v, err := e.call1(ctx, h, b, a)
		return !ToBoolean(v), err
	}
	return false, compareError(a, b)
}

func compareError(a, b Value) *Error {
	t1, t2 := typeName(a), typeName(b)
	if t1 == t2 {
		return newError(TypeError, "attempt to compare two %s values", t1)
	}
	return newError(TypeError, "attempt to compare %s with %s", t1, t2)
}

// length implements the "#" operator.
func (e *Engine) length(ctx context.Context, v Value) (Value, error) {
	switch v := v.(type) {
	case String:
		return Number(len(v)), nil
	case *Table:
		return Number(v.Len()), nil
	}
	if h := e.metafield(v, "__len"); h != nil {
		return e.call1(ctx, h, v)
	}
	return nil, newError(TypeError, "attempt to get length of a %s value", typeName(v))
}

// concat implements the ".." operator over a run of values.
// Like the operator, it associates to the right:
// maximal runs of strings and numbers at the end are joined at once,
// and "__concat" is consulted pairwise otherwise.
func (e *Engine) concat(ctx context.Context, values []Value) (Value, error) {
	vals := make([]Value, len(values))
	copy(vals, values)
	for len(vals) > 1 {
		n := len(vals)
		a, b := vals[n-2], vals[n-1]
		_, aok := toStringCoerce(a)
		_, bok := toStringCoerce(b)
		if !aok || !bok {
			h := e.metafield(a, "__concat")
			if h == nil {
				h = e.metafield(b, "__concat")
			}
			if h == nil {
				bad := a
				if aok {
					bad = b
				}
				return nil, newError(TypeError, "attempt to concatenate a %s value", typeName(bad))
			}
			v, err := e.call1(ctx, h, a, b)
			if err != nil {
				return nil, err
			}
			vals = append(vals[:n-2], v)
			continue
		}

		i := n - 2
		for i > 0 {
			if _, ok := toStringCoerce(vals[i-1]); !ok {
				break
			}
			i--
		}
		sb := new(strings.Builder)
		for _, v := range vals[i:] {
			s, _ := toStringCoerce(v)
			sb.WriteString(s)
		}
		vals = append(vals[:i], String(sb.String()))
	}
	return vals[0], nil
}

// tostring converts a value to a string the way the "tostring" function does.
func (e *Engine) tostring(ctx context.Context, v Value) (string, error) {
	if h := e.metafield(v, "__tostring"); h != nil {
		s, err := e.call1(ctx, h, v)
		if err != nil {
			return "", err
		}
		str, ok := s.(String)
		if !ok {
			return "", newError(TypeError, "'__tostring' must return a string")
		}
		return string(str), nil
	}
	return rawString(v), nil
}
