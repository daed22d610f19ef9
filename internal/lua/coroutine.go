// Copyright 2024 The zb Authors
// SPDX-License-Identifier: MIT

package lua

import (
	"context"
	"fmt"
)

// CoroutineStatus is the state of a [*Coroutine].
type CoroutineStatus int

// Coroutine states.
const (
	// CoroutineSuspended is a coroutine that has not started
	// or that has yielded.
	CoroutineSuspended CoroutineStatus = iota
	// CoroutineRunning is the coroutine currently executing.
	CoroutineRunning
	// CoroutineNormal is a coroutine that resumed another coroutine.
	CoroutineNormal
	// CoroutineDead is a coroutine whose body returned or raised an error.
	CoroutineDead
)

// String returns the status as reported by coroutine.status.
func (status CoroutineStatus) String() string {
	switch status {
	case CoroutineSuspended:
		return "suspended"
	case CoroutineRunning:
		return "running"
	case CoroutineNormal:
		return "normal"
	case CoroutineDead:
		return "dead"
	default:
		return fmt.Sprintf("CoroutineStatus(%d)", int(status))
	}
}

// Coroutine is a Lua thread [Value]:
// a function with its own stack of activations
// that can suspend itself with coroutine.yield.
type Coroutine struct {
	id      uint64
	fn      Value
	th      thread
	status  CoroutineStatus
	started bool
	// resumer is the thread that resumed the coroutine while it is running.
	resumer *thread
	// resumeTarget receives the results of the resume that is in progress.
	resumeTarget *resultTarget
	// yieldTarget receives the arguments of the next resume.
	yieldTarget *resultTarget
	// err is the error that killed the coroutine.
	err *Error
}

// NewCoroutine returns a new suspended coroutine that runs fn.
func NewCoroutine(fn Value) *Coroutine {
	co := &Coroutine{
		id: nextID(),
		fn: fn,
	}
	co.th.co = co
	return co
}

func (co *Coroutine) valueType() Type { return TypeThread }

// Status returns the coroutine's status.
func (co *Coroutine) Status() CoroutineStatus {
	return co.status
}

// running returns the coroutine executing on the current thread,
// or nil if the main thread is running.
func (e *Engine) running() *Coroutine {
	return e.current.co
}

// resume switches to co, passing it args,
// and arranges for the results of the resume
// (true followed by yielded or returned values, or false and an error message)
// to be delivered to t.
func (e *Engine) resume(ctx context.Context, co *Coroutine, args []Value, t *resultTarget) error {
	switch co.status {
	case CoroutineDead:
		return e.resumeFailed(ctx, t, newError(RuntimeError, "cannot resume dead coroutine"))
	case CoroutineRunning, CoroutineNormal:
		return e.resumeFailed(ctx, t, newError(RuntimeError, "cannot resume non-suspended coroutine"))
	}

	if prev := e.current.co; prev != nil {
		prev.status = CoroutineNormal
	}
	co.resumer = e.current
	co.resumeTarget = t
	co.status = CoroutineRunning
	e.current = &co.th
	e.coroutines = append(e.coroutines, co)

	if !co.started {
		co.started = true
		return e.callValue(ctx, callSite{}, co.fn, args, &resultTarget{kind: targetCoroutine, co: co})
	}
	yt := co.yieldTarget
	co.yieldTarget = nil
	return e.deliver(ctx, yt, args)
}

// yield suspends the running coroutine,
// delivering args to the resumer.
func (e *Engine) yield(ctx context.Context, args []Value, t *resultTarget) error {
	co := e.current.co
	if co == nil {
		return newError(RuntimeError, "attempt to yield from outside a coroutine")
	}
	if co.th.hostDepth > 0 {
		return newError(RuntimeError, "attempt to yield across metamethod/C-call boundary")
	}
	co.yieldTarget = t
	rt := e.switchToResumer(co, CoroutineSuspended)
	return e.deliver(ctx, rt, prepend(Boolean(true), args))
}

// finishCoroutine marks co dead and switches to its resumer.
// It returns the target waiting for the resume results.
func (e *Engine) finishCoroutine(co *Coroutine) *resultTarget {
	return e.switchToResumer(co, CoroutineDead)
}

func (e *Engine) switchToResumer(co *Coroutine, status CoroutineStatus) *resultTarget {
	co.status = status
	e.current = co.resumer
	co.resumer = nil
	e.coroutines[len(e.coroutines)-1] = nil
	e.coroutines = e.coroutines[:len(e.coroutines)-1]
	if prev := e.current.co; prev != nil {
		prev.status = CoroutineRunning
	}
	rt := co.resumeTarget
	co.resumeTarget = nil
	if status == CoroutineDead {
		for len(co.th.frames) > 0 {
			e.popFrame(&co.th)
		}
	}
	return rt
}

// resumeFailed reports a failed resume to its target.
// Wrapped coroutines propagate the error;
// coroutine.resume returns false and the error value.
func (e *Engine) resumeFailed(ctx context.Context, rt *resultTarget, lerr *Error) error {
	if rt.kind == targetUnwrap {
		return e.raiseTo(ctx, rt.next, lerr)
	}
	return e.deliver(ctx, rt, []Value{Boolean(false), lerr.Value})
}
