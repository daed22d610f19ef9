// Copyright 2024 The zb Authors
// SPDX-License-Identifier: MIT

package lua

import (
	"context"

	"punchdrunk.256lights.llc/pkg/internal/luacode"
)

// A Function is a callback for a Lua function implemented in Go.
// It receives the call's arguments and returns its results.
// Returning an error raises a Lua error:
// a [*Error] is raised as-is,
// and any other error is raised as a [HostError].
//
// A Function may call [*Engine.Suspend] to park the engine
// (for example, while waiting for I/O),
// in which case its results are ignored
// and the values passed to [*Engine.Resume] are used instead.
type Function func(ctx context.Context, e *Engine, args []Value) ([]Value, error)

// controlFunction is a built-in function that manipulates the flow of control
// (for example, pcall or coroutine.resume).
// Instead of returning results, it arranges for results to be delivered to t.
type controlFunction func(ctx context.Context, e *Engine, args []Value, t *resultTarget) error

// GoFunction is a function [Value] implemented in Go.
type GoFunction struct {
	id   uint64
	name string
	fn   Function
	ctl  controlFunction
}

// NewFunction returns a new function value that calls f.
// The name is used in error messages.
func NewFunction(name string, f Function) *GoFunction {
	return &GoFunction{
		id:   nextID(),
		name: name,
		fn:   f,
	}
}

func newControlFunction(name string, f controlFunction) *GoFunction {
	return &GoFunction{
		id:   nextID(),
		name: name,
		ctl:  f,
	}
}

func (f *GoFunction) valueType() Type { return TypeFunction }

// Name returns the name given to [NewFunction].
func (f *GoFunction) Name() string {
	return f.name
}

// Closure is a Lua function value:
// a [luacode.Prototype] together with its captured upvalues.
type Closure struct {
	id       uint64
	proto    *luacode.Prototype
	upvalues []*upvalue
}

func (c *Closure) valueType() Type { return TypeFunction }

// Prototype returns the function's compiled definition.
func (c *Closure) Prototype() *luacode.Prototype {
	return c.proto
}

// An upvalue is a variable captured from an enclosing function.
// An upvalue is "open" while it refers to a register of a live activation
// and "closed" once that activation has ended
// and the upvalue holds its own value.
type upvalue struct {
	regs  *registers
	index int
	value Value
}

func closedUpvalue(v Value) *upvalue {
	return &upvalue{value: v}
}

func (uv *upvalue) isOpen() bool {
	return uv.regs != nil
}

func (uv *upvalue) get() Value {
	if uv.regs != nil {
		return uv.regs.slots[uv.index]
	}
	return uv.value
}

func (uv *upvalue) set(v Value) {
	if uv.regs != nil {
		uv.regs.slots[uv.index] = v
	} else {
		uv.value = v
	}
}

// close copies the register's current value into the upvalue.
func (uv *upvalue) close() {
	uv.value = uv.regs.slots[uv.index]
	uv.regs = nil
}
