// Copyright 2024 The zb Authors
// SPDX-License-Identifier: MIT

package lua

import (
	"context"
	"strings"

	"punchdrunk.256lights.llc/pkg/internal/lualex"
)

// Version is the value of the _VERSION global.
const Version = "Lua 5.1"

// GName is the name of the global table.
const GName = "_G"

// maxUnpack is the largest number of values unpack returns.
const maxUnpack = 1 << 20

// openBase opens the basic library into the global table.
func (e *Engine) openBase() {
	g := e.globals
	setFuncs(g, map[string]Function{
		"assert":         baseAssert,
		"collectgarbage": baseCollectGarbage,
		"error":          baseError,
		"getfenv":        unsupported("getfenv"),
		"getmetatable":   baseGetMetatable,
		"ipairs":         baseIPairs,
		"load":           unsupported("load"),
		"loadfile":       baseLoadfile,
		"loadstring":     unsupported("loadstring"),
		"next":           baseNext,
		"pairs":          basePairs,
		"print":          basePrint,
		"rawequal":       baseRawEqual,
		"rawget":         baseRawGet,
		"rawset":         baseRawSet,
		"select":         baseSelect,
		"setfenv":        unsupported("setfenv"),
		"setmetatable":   baseSetMetatable,
		"tonumber":       baseToNumber,
		"tostring":       baseToString,
		"type":           baseType,
		"unpack":         baseUnpack,
	})
	g.SetString("pcall", newControlFunction("pcall", basePCall))
	g.SetString("xpcall", newControlFunction("xpcall", baseXPCall))
	g.SetString("dofile", newControlFunction("dofile", baseDofile))
	g.SetString(GName, g)
	g.SetString("_VERSION", String(Version))

	argTable := newTable(len(e.opts.Args), 0)
	for i, a := range e.opts.Args {
		argTable.Set(Number(i+1), String(a))
	}
	g.SetString("arg", argTable)
}

// unsupported returns a function that always fails.
func unsupported(fname string) Function {
	return func(ctx context.Context, e *Engine, args []Value) ([]Value, error) {
		return nil, newError(RuntimeError, "%s: unsupported", fname)
	}
}

func baseAssert(ctx context.Context, e *Engine, args []Value) ([]Value, error) {
	a := newArgs("assert", args)
	v, err := a.checkAny(1)
	if err != nil {
		return nil, err
	}
	if !ToBoolean(v) {
		msg, err := a.optString(2, "assertion failed!")
		if err != nil {
			return nil, err
		}
		return nil, newError(RuntimeError, "%s", msg)
	}
	return args, nil
}

func baseCollectGarbage(ctx context.Context, e *Engine, args []Value) ([]Value, error) {
	// Memory is managed by the Go runtime.
	return results(Number(0)), nil
}

func baseError(ctx context.Context, e *Engine, args []Value) ([]Value, error) {
	a := newArgs("error", args)
	level, err := a.optInt(2, 1)
	if err != nil {
		return nil, err
	}
	v := a.arg(1)
	if s, ok := v.(String); ok && level > 0 {
		v = String(e.where(level)) + s
	}
	return nil, &Error{Kind: RuntimeError, Value: v, positioned: true}
}

// where returns the position prefix for the given call level,
// where level 1 is the function that called the running Go function.
// Go functions have no position.
func (e *Engine) where(level int) string {
	if level == 1 {
		return e.site.where()
	}
	frames := e.current.frames
	i := len(frames) - level
	if e.site.proto == nil {
		// Level 1 is a Go function that is not on the frame stack.
		i++
	}
	if i < 0 || i >= len(frames) {
		return ""
	}
	return frames[i].site().where()
}

func baseGetMetatable(ctx context.Context, e *Engine, args []Value) ([]Value, error) {
	v, err := newArgs("getmetatable", args).checkAny(1)
	if err != nil {
		return nil, err
	}
	mt := e.metatable(v)
	if mt == nil {
		return results(nil), nil
	}
	if protected := mt.GetString("__metatable"); protected != nil {
		return results(protected), nil
	}
	return results(mt), nil
}

func baseSetMetatable(ctx context.Context, e *Engine, args []Value) ([]Value, error) {
	a := newArgs("setmetatable", args)
	t, err := a.checkTable(1)
	if err != nil {
		return nil, err
	}
	var mt *Table
	switch v := a.arg(2).(type) {
	case nil:
	case *Table:
		mt = v
	default:
		return nil, a.typeError(2, "nil or table")
	}
	if t.meta.GetString("__metatable") != nil {
		return nil, newError(ProtectionError, "cannot change a protected metatable")
	}
	t.SetMetatable(mt)
	return results(t), nil
}

func baseIPairs(ctx context.Context, e *Engine, args []Value) ([]Value, error) {
	t, err := newArgs("ipairs", args).checkTable(1)
	if err != nil {
		return nil, err
	}
	return results(ipairsIterator, t, Number(0)), nil
}

var ipairsIterator = NewFunction("ipairs_aux", func(ctx context.Context, e *Engine, args []Value) ([]Value, error) {
	a := newArgs("ipairs_aux", args)
	t, err := a.checkTable(1)
	if err != nil {
		return nil, err
	}
	i, err := a.checkInt(2)
	if err != nil {
		return nil, err
	}
	i++
	v := t.Get(Number(i))
	if v == nil {
		return results(nil), nil
	}
	return results(Number(i), v), nil
})

func baseLoadfile(ctx context.Context, e *Engine, args []Value) ([]Value, error) {
	path, err := newArgs("loadfile", args).checkString(1)
	if err != nil {
		return nil, err
	}
	fn, err := e.LoadFile(ctx, path)
	if err != nil {
		return results(nil, ErrorValue(err)), nil
	}
	return results(fn), nil
}

func baseDofile(ctx context.Context, e *Engine, args []Value, t *resultTarget) error {
	path, err := newArgs("dofile", args).checkString(1)
	if err != nil {
		return err
	}
	fn, err := e.LoadFile(ctx, path)
	if err != nil {
		return err
	}
	return e.callValue(ctx, callSite{}, fn, nil, t)
}

func baseNext(ctx context.Context, e *Engine, args []Value) ([]Value, error) {
	a := newArgs("next", args)
	t, err := a.checkTable(1)
	if err != nil {
		return nil, err
	}
	k, v, err := t.Next(a.arg(2))
	if err != nil {
		return nil, newError(RuntimeError, "%v", err)
	}
	if k == nil {
		return results(nil), nil
	}
	return results(k, v), nil
}

var nextFunction = NewFunction("next", baseNext)

func basePairs(ctx context.Context, e *Engine, args []Value) ([]Value, error) {
	t, err := newArgs("pairs", args).checkTable(1)
	if err != nil {
		return nil, err
	}
	return results(nextFunction, t, nil), nil
}

func basePCall(ctx context.Context, e *Engine, args []Value, t *resultTarget) error {
	fn, err := newArgs("pcall", args).checkAny(1)
	if err != nil {
		return err
	}
	return e.callValue(ctx, callSite{}, fn, args[1:], &resultTarget{kind: targetProtect, next: t})
}

func baseXPCall(ctx context.Context, e *Engine, args []Value, t *resultTarget) error {
	a := newArgs("xpcall", args)
	fn, err := a.checkAny(1)
	if err != nil {
		return err
	}
	handler, err := a.checkAny(2)
	if err != nil {
		return err
	}
	return e.callValue(ctx, callSite{}, fn, nil, &resultTarget{
		kind:    targetProtect,
		handler: handler,
		next:    t,
	})
}

func basePrint(ctx context.Context, e *Engine, args []Value) ([]Value, error) {
	sb := new(strings.Builder)
	for i, arg := range args {
		if i > 0 {
			sb.WriteByte('\t')
		}
		s, err := e.tostring(ctx, arg)
		if err != nil {
			return nil, err
		}
		sb.WriteString(s)
	}
	sb.WriteByte('\n')
	if _, err := e.opts.Stdout.Write([]byte(sb.String())); err != nil {
		return nil, err
	}
	return nil, nil
}

func baseRawEqual(ctx context.Context, e *Engine, args []Value) ([]Value, error) {
	a := newArgs("rawequal", args)
	v1, err := a.checkAny(1)
	if err != nil {
		return nil, err
	}
	v2, err := a.checkAny(2)
	if err != nil {
		return nil, err
	}
	return results(Boolean(RawEqual(v1, v2))), nil
}

func baseRawGet(ctx context.Context, e *Engine, args []Value) ([]Value, error) {
	a := newArgs("rawget", args)
	t, err := a.checkTable(1)
	if err != nil {
		return nil, err
	}
	k, err := a.checkAny(2)
	if err != nil {
		return nil, err
	}
	return results(t.Get(k)), nil
}

func baseRawSet(ctx context.Context, e *Engine, args []Value) ([]Value, error) {
	a := newArgs("rawset", args)
	t, err := a.checkTable(1)
	if err != nil {
		return nil, err
	}
	k, err := a.checkAny(2)
	if err != nil {
		return nil, err
	}
	v, err := a.checkAny(3)
	if err != nil {
		return nil, err
	}
	if err := t.Set(k, v); err != nil {
		return nil, newError(TypeError, "%v", err)
	}
	return results(t), nil
}

func baseSelect(ctx context.Context, e *Engine, args []Value) ([]Value, error) {
	a := newArgs("select", args)
	n := len(args)
	if s, ok := a.arg(1).(String); ok && s == "#" {
		return results(Number(n - 1)), nil
	}
	i, err := a.checkInt(1)
	if err != nil {
		return nil, err
	}
	if i < 0 {
		i = n + i
	} else if i > n {
		i = n
	}
	if i < 1 {
		return nil, a.argError(1, "index out of range")
	}
	return args[i:], nil
}

func baseToNumber(ctx context.Context, e *Engine, args []Value) ([]Value, error) {
	a := newArgs("tonumber", args)
	base, err := a.optInt(2, 10)
	if err != nil {
		return nil, err
	}
	if base == 10 {
		v, err := a.checkAny(1)
		if err != nil {
			return nil, err
		}
		if f, ok := ToNumber(v); ok {
			return results(Number(f)), nil
		}
		return results(nil), nil
	}
	s, err := a.checkString(1)
	if err != nil {
		return nil, err
	}
	if base < 2 || base > 36 {
		return nil, a.argError(2, "base out of range")
	}
	f, err := lualex.ParseIntBase(s, base)
	if err != nil {
		return results(nil), nil
	}
	return results(Number(f)), nil
}

func baseToString(ctx context.Context, e *Engine, args []Value) ([]Value, error) {
	v, err := newArgs("tostring", args).checkAny(1)
	if err != nil {
		return nil, err
	}
	s, err := e.tostring(ctx, v)
	if err != nil {
		return nil, err
	}
	return results(String(s)), nil
}

func baseType(ctx context.Context, e *Engine, args []Value) ([]Value, error) {
	v, err := newArgs("type", args).checkAny(1)
	if err != nil {
		return nil, err
	}
	return results(String(typeName(v))), nil
}

func baseUnpack(ctx context.Context, e *Engine, args []Value) ([]Value, error) {
	a := newArgs("unpack", args)
	t, err := a.checkTable(1)
	if err != nil {
		return nil, err
	}
	i, err := a.optInt(2, 1)
	if err != nil {
		return nil, err
	}
	var j int
	if a.isNoneOrNil(3) {
		j = t.Len()
	} else if j, err = a.checkInt(3); err != nil {
		return nil, err
	}
	if i > j {
		return nil, nil
	}
	n := j - i + 1
	if n <= 0 || n >= maxUnpack {
		return nil, newError(RuntimeError, "too many results to unpack")
	}
	out := make([]Value, n)
	for k := range out {
		out[k] = t.Get(Number(i + k))
	}
	return out, nil
}
