// Copyright 2024 The zb Authors
// SPDX-License-Identifier: MIT

package lua

import (
	"context"
	"errors"
	"fmt"
	"math"
	"slices"

	"punchdrunk.256lights.llc/pkg/internal/luacode"
)

// maxCallDepth is the maximum number of Lua activations on a single thread.
const maxCallDepth = 20000

// maxHostDepth is the maximum number of nested host loops
// (metamethods, library callbacks, and [*Engine.Call]) across all threads.
const maxHostDepth = 200

// checkInterval is the number of instructions
// executed between checks for context cancellation.
const checkInterval = 1 << 12

// thread is a stack of activations.
// The engine's main thread and each coroutine have their own.
type thread struct {
	frames []*frame
	// hostDepth is the number of nested host loops
	// started on this thread (metamethods, callbacks, [*Engine.Call]).
	// A thread cannot yield while hostDepth > 0.
	hostDepth int
	// co is the coroutine that owns the thread,
	// or nil for the main thread.
	co *Coroutine
	// ret holds the results of the last RETURN instruction.
	ret []Value
}

func (th *thread) top() *frame {
	if len(th.frames) == 0 {
		return nil
	}
	return th.frames[len(th.frames)-1]
}

type targetKind int

const (
	// targetRegisters stores results into the registers
	// of the thread's top frame.
	targetRegisters targetKind = iota
	// targetTForLoop stores results of a generic for iterator
	// and decides whether the loop continues.
	targetTForLoop
	// targetProtect is a pcall or xpcall boundary.
	targetProtect
	// targetHost completes a host loop.
	targetHost
	// targetCoroutine completes a coroutine's body.
	targetCoroutine
	// targetUnwrap strips the status from coroutine.resume results
	// for a coroutine.wrap function.
	targetUnwrap
	// targetRequire records the result of a module's main chunk.
	targetRequire
)

// resultTarget describes where the results of a call go.
// Targets form chains that replace recursion in the host stack:
// for example, pcall delivers to a protect target
// whose next target is pcall's own caller.
type resultTarget struct {
	kind targetKind
	// a and want describe registers for targetRegisters and targetTForLoop.
	a, want int
	next    *resultTarget
	// handler is the xpcall message handler.
	handler Value
	sink    *hostSink
	co      *Coroutine
	// module is the name being loaded for targetRequire.
	module string
}

// hostSink receives the outcome of a host loop.
type hostSink struct {
	done    bool
	results []Value
	err     *Error
}

type action int

const (
	// actionCall means the top frame changed and dispatch must restart.
	actionCall action = iota
	// actionReturn means the top frame executed RETURN.
	actionReturn
	// actionSuspend means a host function suspended the engine.
	actionSuspend
)

// run executes instructions until sink is done.
// pending is an error that must be raised before anything else runs.
// run returns [ErrSuspended] if the engine suspended,
// or another error if the engine cannot continue.
func (e *Engine) run(ctx context.Context, sink *hostSink, pending error) error {
	err := pending
	for {
		if err != nil {
			if len(e.current.frames) == 0 {
				return err
			}
			err = e.unwind(ctx, err)
			continue
		}
		if sink.done {
			return nil
		}
		if e.status == StatusSuspending {
			return ErrSuspended
		}
		th := e.current
		if len(th.frames) == 0 {
			return errors.New("lua: internal error: empty call stack")
		}
		var act action
		act, err = e.exec(ctx, th)
		if err != nil {
			continue
		}
		switch act {
		case actionReturn:
			results := th.ret
			th.ret = nil
			err = e.returnFrom(ctx, th, results)
		case actionSuspend:
			return ErrSuspended
		}
	}
}

// unwind pops frames from the current thread
// until a target catches the error.
// It returns a new error if one was raised while handling the error.
func (e *Engine) unwind(ctx context.Context, err error) error {
	lerr := toError(err)
	th := e.current
	for len(th.frames) > 0 {
		lerr.Trace = append(lerr.Trace, e.traceFrame(th, len(th.frames)-1))
		t := th.top().target
		e.popFrame(th)
		if caught, next := e.catch(ctx, t, lerr); caught {
			return next
		}
	}
	return nil
}

// raiseTo offers an error to a target.
// If the target does not catch it,
// raiseTo returns the error so that the current thread unwinds.
func (e *Engine) raiseTo(ctx context.Context, t *resultTarget, lerr *Error) error {
	if caught, next := e.catch(ctx, t, lerr); caught {
		return next
	}
	return lerr
}

// catch walks a target chain looking for a target that handles errors.
// If one is found, catch reports true along with any error
// raised while handling it.
func (e *Engine) catch(ctx context.Context, t *resultTarget, lerr *Error) (caught bool, next error) {
	for ; t != nil; t = t.next {
		switch t.kind {
		case targetRegisters, targetTForLoop:
			// The target belongs to a frame that is unwound next.
			return false, nil
		case targetProtect:
			msg := lerr.Value
			if t.handler != nil {
				results, err := e.Call(ctx, t.handler, msg)
				if err != nil {
					msg = ErrorValue(err)
				} else if len(results) > 0 {
					msg = results[0]
				} else {
					msg = nil
				}
			}
			return true, e.deliver(ctx, t.next, []Value{Boolean(false), msg})
		case targetHost:
			t.sink.err = lerr
			t.sink.done = true
			return true, nil
		case targetCoroutine:
			rt := e.finishCoroutine(t.co)
			t.co.err = lerr
			return true, e.resumeFailed(ctx, rt, lerr)
		}
	}
	return false, nil
}

// deliver passes results to a target.
// results must not alias any register file.
func (e *Engine) deliver(ctx context.Context, t *resultTarget, results []Value) error {
	switch t.kind {
	case targetRegisters:
		e.current.top().setResults(t.a, t.want, results)
		return nil
	case targetTForLoop:
		f := e.current.top()
		f.setResults(t.a+3, t.want, results)
		if v := f.regs.slots[t.a+3]; v != nil {
			f.regs.slots[t.a+2] = v
		} else {
			f.pc++
		}
		return nil
	case targetProtect:
		return e.deliver(ctx, t.next, prepend(Boolean(true), results))
	case targetHost:
		t.sink.results = results
		t.sink.done = true
		return nil
	case targetCoroutine:
		rt := e.finishCoroutine(t.co)
		return e.deliver(ctx, rt, prepend(Boolean(true), results))
	case targetUnwrap:
		if len(results) > 0 && results[0] == Boolean(false) {
			var msg Value
			if len(results) > 1 {
				msg = results[1]
			}
			return e.raiseTo(ctx, t.next, &Error{Kind: RuntimeError, Value: msg, positioned: true})
		}
		if len(results) > 0 {
			results = results[1:]
		}
		return e.deliver(ctx, t.next, results)
	case targetRequire:
		loaded := e.loadedTable()
		if len(results) > 0 && results[0] != nil {
			loaded.SetString(t.module, results[0])
		}
		v := loaded.GetString(t.module)
		if v == nil || v == sentinelLoading {
			v = Boolean(true)
			loaded.SetString(t.module, v)
		}
		return e.deliver(ctx, t.next, []Value{v})
	default:
		panic("unreachable")
	}
}

func prepend(v Value, values []Value) []Value {
	out := make([]Value, 0, len(values)+1)
	out = append(out, v)
	return append(out, values...)
}

// callValue calls fn with the given arguments,
// arranging for the results to be delivered to t.
// Closures are pushed onto the current thread and run later by [*Engine.run].
// Go functions run immediately.
// An error returned by callValue must be raised on the current thread.
func (e *Engine) callValue(ctx context.Context, site callSite, fn Value, args []Value, t *resultTarget) error {
	for range maxTagLoop {
		switch f := fn.(type) {
		case *Closure:
			if err := e.pushFrame(e.current, f, args, t); err != nil {
				return e.raiseTo(ctx, t, toError(err))
			}
			return nil
		case *GoFunction:
			if f.ctl != nil {
				if err := f.ctl(ctx, e, args, t); err != nil {
					lerr := toError(err)
					addPosition(lerr, site)
					return e.raiseTo(ctx, t, lerr)
				}
				return nil
			}
			prevSite := e.site
			e.site = site
			results, err := f.fn(ctx, e, args)
			e.site = prevSite
			if e.status == StatusSuspending {
				if err == nil {
					e.suspendTarget = t
					return nil
				}
				e.status = StatusRunning
			}
			if err != nil {
				lerr := toError(err)
				addPosition(lerr, site)
				return e.raiseTo(ctx, t, lerr)
			}
			return e.deliver(ctx, t, results)
		default:
			h := e.metafield(fn, "__call")
			if h == nil {
				lerr := newError(TypeError, "attempt to call a %s value", typeName(fn))
				addPosition(lerr, site)
				return e.raiseTo(ctx, t, lerr)
			}
			args = prepend(fn, args)
			fn = h
		}
	}
	lerr := newError(RuntimeError, "'__call' chain too long")
	addPosition(lerr, site)
	return e.raiseTo(ctx, t, lerr)
}

// pushFrame starts a new activation of cl on th.
func (e *Engine) pushFrame(th *thread, cl *Closure, args []Value, t *resultTarget) error {
	if len(th.frames) >= maxCallDepth {
		return newError(RuntimeError, "stack overflow")
	}
	p := cl.proto
	f := e.pool.newFrame(cl, t)
	f.k = e.constants(p)
	np := int(p.NumParams)
	f.ensure(np)
	copy(f.regs.slots[:np], args)
	if len(args) > np && p.VarArg.IsVararg() {
		f.varargs = args[np:]
	}
	if p.VarArg.NeedsArg() {
		argTable := newTable(len(f.varargs), 1)
		for i, v := range f.varargs {
			argTable.Set(Number(i+1), v)
		}
		argTable.SetString("n", Number(len(f.varargs)))
		f.ensure(np + 1)
		f.regs.slots[np] = argTable
	}
	th.frames = append(th.frames, f)
	return nil
}

func (e *Engine) popFrame(th *thread) {
	n := len(th.frames)
	f := th.frames[n-1]
	th.frames[n-1] = nil
	th.frames = th.frames[:n-1]
	e.pool.releaseFrame(f)
}

// returnFrom pops the top frame of th and delivers its results.
func (e *Engine) returnFrom(ctx context.Context, th *thread, results []Value) error {
	t := th.top().target
	e.popFrame(th)
	return e.deliver(ctx, t, results)
}

// constants returns the prototype's constants as values.
func (e *Engine) constants(p *luacode.Prototype) []Value {
	if k, ok := e.constCache[p]; ok {
		return k
	}
	k := make([]Value, len(p.Constants))
	for i, c := range p.Constants {
		k[i] = importConstant(c)
	}
	e.constCache[p] = k
	return k
}

// exec runs instructions in the top frame of th
// until the frame changes or an error occurs.
func (e *Engine) exec(ctx context.Context, th *thread) (act action, err error) {
	f := th.top()
	p := f.fn.proto
	code := p.Code
	defer func() {
		if err != nil {
			lerr := toError(err)
			// f may have been popped and returned to the pool.
			if !lerr.positioned && th.top() == f {
				addPosition(lerr, f.site())
			}
			err = lerr
		}
	}()

	for {
		if f.pc >= len(code) {
			return 0, newError(RuntimeError, "execution fell off the end of the function")
		}
		e.steps++
		if e.steps%checkInterval == 0 {
			if err := ctx.Err(); err != nil {
				return 0, err
			}
		}
		i := code[f.pc]
		f.pc++
		a := int(i.A)
		r := f.regs.slots
		switch i.OpCode {
		case luacode.OpMove:
			r[a] = r[i.B]
		case luacode.OpLoadK:
			r[a] = f.k[i.B]
		case luacode.OpLoadBool:
			r[a] = Boolean(i.B != 0)
			if i.C != 0 {
				f.pc++
			}
		case luacode.OpLoadNil:
			clear(r[a : i.B+1])
		case luacode.OpGetUpval:
			r[a] = f.fn.upvalues[i.B].get()
		case luacode.OpGetGlobal:
			v, err := e.index(ctx, e.globals, f.k[i.B])
			if err != nil {
				return 0, err
			}
			f.regs.slots[a] = v
		case luacode.OpGetTable:
			v, err := e.index(ctx, r[i.B], f.rk(i.C))
			if err != nil {
				return 0, err
			}
			f.regs.slots[a] = v
		case luacode.OpSetGlobal:
			if err := e.setIndex(ctx, e.globals, f.k[i.B], r[a]); err != nil {
				return 0, err
			}
		case luacode.OpSetUpval:
			f.fn.upvalues[i.B].set(r[a])
		case luacode.OpSetTable:
			if err := e.setIndex(ctx, r[a], f.rk(i.B), f.rk(i.C)); err != nil {
				return 0, err
			}
		case luacode.OpNewTable:
			r[a] = newTable(fb2int(int(i.B)), fb2int(int(i.C)))
		case luacode.OpSelf:
			obj := r[i.B]
			v, err := e.index(ctx, obj, f.rk(i.C))
			if err != nil {
				return 0, err
			}
			f.regs.slots[a+1] = obj
			f.regs.slots[a] = v
		case luacode.OpAdd, luacode.OpSub, luacode.OpMul, luacode.OpDiv, luacode.OpMod, luacode.OpPow:
			b, c := f.rk(i.B), f.rk(i.C)
			if x, ok := b.(Number); ok {
				if y, ok := c.(Number); ok {
					r[a] = Number(arith(i.OpCode, float64(x), float64(y)))
					continue
				}
			}
			v, err := e.arith(ctx, i.OpCode, b, c)
			if err != nil {
				return 0, err
			}
			f.regs.slots[a] = v
		case luacode.OpUnm:
			b := r[i.B]
			if x, ok := b.(Number); ok {
				r[a] = -x
				continue
			}
			v, err := e.arith(ctx, i.OpCode, b, b)
			if err != nil {
				return 0, err
			}
			f.regs.slots[a] = v
		case luacode.OpNot:
			r[a] = Boolean(!ToBoolean(r[i.B]))
		case luacode.OpLen:
			v, err := e.length(ctx, r[i.B])
			if err != nil {
				return 0, err
			}
			f.regs.slots[a] = v
		case luacode.OpConcat:
			v, err := e.concat(ctx, r[i.B:i.C+1])
			if err != nil {
				return 0, err
			}
			f.regs.slots[a] = v
		case luacode.OpJmp:
			f.pc += int(i.B)
		case luacode.OpEq, luacode.OpLT, luacode.OpLE:
			var result bool
			var err error
			b, c := f.rk(i.B), f.rk(i.C)
			switch i.OpCode {
			case luacode.OpEq:
				result, err = e.equal(ctx, b, c)
			case luacode.OpLT:
				result, err = e.lessThan(ctx, b, c)
			default:
				result, err = e.lessEqual(ctx, b, c)
			}
			if err != nil {
				return 0, err
			}
			if result != (a != 0) {
				f.pc++
			}
		case luacode.OpTest:
			if ToBoolean(r[a]) != (i.C != 0) {
				f.pc++
			}
		case luacode.OpTestSet:
			if v := r[i.B]; ToBoolean(v) == (i.C != 0) {
				r[a] = v
			} else {
				f.pc++
			}
		case luacode.OpCall:
			args := f.callArgs(a, int(i.B))
			t := &resultTarget{kind: targetRegisters, a: a, want: int(i.C) - 1}
			if act, done, err := e.call(ctx, th, f, r[a], args, t); done {
				return act, err
			}
		case luacode.OpTailCall:
			fn := r[a]
			args := f.callArgs(a, int(i.B))
			site := f.site()
			t := f.target
			e.popFrame(th)
			if err := e.callValue(ctx, site, fn, args, t); err != nil {
				// f has been released, so its position must not be added.
				lerr := toError(err)
				lerr.positioned = true
				return 0, lerr
			}
			if e.status == StatusSuspending {
				return actionSuspend, nil
			}
			return actionCall, nil
		case luacode.OpReturn:
			var results []Value
			if i.B == 0 {
				results = slices.Clone(r[a:f.top])
			} else {
				results = slices.Clone(r[a : a+int(i.B)-1])
			}
			th.ret = results
			return actionReturn, nil
		case luacode.OpForLoop:
			step := float64(r[a+2].(Number))
			idx := float64(r[a].(Number)) + step
			limit := float64(r[a+1].(Number))
			if (step > 0 && idx <= limit) || (step <= 0 && limit <= idx) {
				f.pc += int(i.B)
				r[a] = Number(idx)
				r[a+3] = Number(idx)
			}
		case luacode.OpForPrep:
			init, ok := ToNumber(r[a])
			if !ok {
				return 0, newError(TypeError, "'for' initial value must be a number")
			}
			limit, ok := ToNumber(r[a+1])
			if !ok {
				return 0, newError(TypeError, "'for' limit must be a number")
			}
			step, ok := ToNumber(r[a+2])
			if !ok {
				return 0, newError(TypeError, "'for' step must be a number")
			}
			r[a] = Number(init - step)
			r[a+1] = Number(limit)
			r[a+2] = Number(step)
			f.pc += int(i.B)
		case luacode.OpTForLoop:
			args := []Value{r[a+1], r[a+2]}
			t := &resultTarget{kind: targetTForLoop, a: a, want: int(i.C)}
			if act, done, err := e.call(ctx, th, f, r[a], args, t); done {
				return act, err
			}
		case luacode.OpSetList:
			n := int(i.B)
			if n == 0 {
				n = f.top - a - 1
			}
			batch := int(i.C)
			if batch == 0 {
				batch = int(code[f.pc].A)
				f.pc++
			}
			tab, ok := r[a].(*Table)
			if !ok {
				return 0, newError(TypeError, "SETLIST on a %s value", typeName(r[a]))
			}
			base := (batch - 1) * luacode.FieldsPerFlush
			for j := 1; j <= n; j++ {
				tab.Set(Number(base+j), r[a+j])
			}
		case luacode.OpClose:
			f.closeUpvalues(a)
		case luacode.OpClosure:
			fp := p.Functions[i.B]
			cl := &Closure{
				id:       nextID(),
				proto:    fp,
				upvalues: make([]*upvalue, fp.NumUpvalues),
			}
			for k := range cl.upvalues {
				pseudo := code[f.pc]
				f.pc++
				switch pseudo.OpCode {
				case luacode.OpMove:
					cl.upvalues[k] = f.capture(int(pseudo.B))
				case luacode.OpGetUpval:
					cl.upvalues[k] = f.fn.upvalues[pseudo.B]
				default:
					return 0, newError(RuntimeError, "invalid upvalue pseudo-instruction %v", pseudo.OpCode)
				}
			}
			r[a] = cl
		case luacode.OpVararg:
			if i.B == 0 {
				n := len(f.varargs)
				f.ensure(a + n)
				copy(f.regs.slots[a:], f.varargs)
				f.top = a + n
			} else {
				n := int(i.B) - 1
				m := copy(r[a:a+n], f.varargs)
				clear(r[a+m : a+n])
			}
		default:
			return 0, fmt.Errorf("unknown opcode %v", i.OpCode)
		}
	}
}

// call performs a CALL or TFORLOOP instruction.
// It reports done = true if exec must return act and err,
// or false if execution continues with the next instruction of f.
func (e *Engine) call(ctx context.Context, th *thread, f *frame, fn Value, args []Value, t *resultTarget) (act action, done bool, err error) {
	if cl, ok := fn.(*Closure); ok {
		return actionCall, true, e.pushFrame(th, cl, args, t)
	}
	if err := e.callValue(ctx, f.site(), fn, args, t); err != nil {
		return actionCall, true, err
	}
	if e.status == StatusSuspending {
		return actionSuspend, true, nil
	}
	if e.current != th || th.top() != f {
		return actionCall, true, nil
	}
	return actionCall, false, nil
}

// callArgs copies the arguments of a call instruction out of the registers.
func (f *frame) callArgs(a, b int) []Value {
	if b == 0 {
		return slices.Clone(f.regs.slots[a+1 : f.top])
	}
	return slices.Clone(f.regs.slots[a+1 : a+b])
}

// fb2int decodes the "floating point byte" table size hint
// used by NEWTABLE.
func fb2int(x int) int {
	if x < 8 {
		return x
	}
	return ((x & 7) + 8) << ((x >> 3) - 1)
}

func arith(op luacode.OpCode, x, y float64) float64 {
	switch op {
	case luacode.OpAdd:
		return x + y
	case luacode.OpSub:
		return x - y
	case luacode.OpMul:
		return x * y
	case luacode.OpDiv:
		return x / y
	case luacode.OpMod:
		return x - math.Floor(x/y)*y
	case luacode.OpPow:
		return math.Pow(x, y)
	case luacode.OpUnm:
		return -x
	default:
		panic("unreachable")
	}
}

// traceFrame describes the activation at th.frames[i].
func (e *Engine) traceFrame(th *thread, i int) TraceFrame {
	f := th.frames[i]
	p := f.fn.proto
	source := p.SourcePath
	if source == "" {
		source = p.Source.String()
	}
	return TraceFrame{
		Name:   e.functionName(th, i),
		Source: source,
		Line:   p.Line(f.pc - 1),
	}
}

// functionName guesses the name of the function running at th.frames[i]
// by looking for it in its caller's locals, then its caller's upvalues,
// then the global table.
func (e *Engine) functionName(th *thread, i int) string {
	f := th.frames[i]
	if f.fn.proto.IsMainChunk() {
		return "main chunk"
	}
	var fn Value = f.fn
	if i > 0 {
		caller := th.frames[i-1]
		cp := caller.fn.proto
		for reg, v := range caller.regs.slots {
			if v == fn && reg <= math.MaxUint8 {
				if name := cp.LocalName(uint8(reg), caller.pc-1); name != "" {
					return name
				}
			}
		}
		for j, uv := range caller.fn.upvalues {
			if uv.get() == fn {
				if name := cp.UpvalueName(j); name != "" {
					return name
				}
			}
		}
	}
	for k, v := range e.globals.All() {
		if v == fn {
			if s, ok := k.(String); ok {
				return string(s)
			}
		}
	}
	return "function"
}
