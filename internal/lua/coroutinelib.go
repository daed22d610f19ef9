// Copyright 2024 The zb Authors
// SPDX-License-Identifier: MIT

package lua

import "context"

// CoroutineLibraryName is the conventional identifier for the coroutine manipulation library.
const CoroutineLibraryName = "coroutine"

func (e *Engine) openCoroutine() *Table {
	lib := newLib(map[string]Function{
		"create":  coroutineCreate,
		"running": coroutineRunning,
		"status":  coroutineStatus,
		"wrap":    coroutineWrap,
	})
	lib.SetString("resume", newControlFunction("resume", coroutineResume))
	lib.SetString("yield", newControlFunction("yield", coroutineYield))
	return lib
}

func coroutineCreate(ctx context.Context, e *Engine, args []Value) ([]Value, error) {
	f, err := newArgs("create", args).checkFunction(1)
	if err != nil {
		return nil, err
	}
	return results(NewCoroutine(f)), nil
}

func coroutineResume(ctx context.Context, e *Engine, args []Value, t *resultTarget) error {
	co, err := newArgs("resume", args).checkCoroutine(1)
	if err != nil {
		return err
	}
	return e.resume(ctx, co, args[1:], t)
}

func coroutineYield(ctx context.Context, e *Engine, args []Value, t *resultTarget) error {
	return e.yield(ctx, args, t)
}

func coroutineStatus(ctx context.Context, e *Engine, args []Value) ([]Value, error) {
	co, err := newArgs("status", args).checkCoroutine(1)
	if err != nil {
		return nil, err
	}
	return results(String(co.Status().String())), nil
}

func coroutineRunning(ctx context.Context, e *Engine, args []Value) ([]Value, error) {
	co := e.running()
	if co == nil {
		return results(nil), nil
	}
	return results(co), nil
}

// coroutineWrap returns a function that resumes a new coroutine
// and propagates its errors instead of returning a status.
func coroutineWrap(ctx context.Context, e *Engine, args []Value) ([]Value, error) {
	f, err := newArgs("wrap", args).checkFunction(1)
	if err != nil {
		return nil, err
	}
	co := NewCoroutine(f)
	wrapper := newControlFunction("wrap", func(ctx context.Context, e *Engine, args []Value, t *resultTarget) error {
		return e.resume(ctx, co, args, &resultTarget{kind: targetUnwrap, next: t})
	})
	return results(wrapper), nil
}
