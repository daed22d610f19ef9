// Copyright 2024 The zb Authors
// SPDX-License-Identifier: MIT

package lua

import (
	"punchdrunk.256lights.llc/pkg/internal/luacode"
)

// registers is the register file of a single activation.
type registers struct {
	slots []Value
}

// frame is an activation record of a [*Closure].
type frame struct {
	fn   *Closure
	k    []Value
	regs *registers
	// pc is the index of the next instruction to execute.
	pc int
	// top is one past the last register set by an instruction
	// that produces a variable number of values.
	top     int
	varargs []Value
	// open is the list of upvalues that refer to this frame's registers.
	open []*upvalue
	// target is where the frame's results are delivered.
	target *resultTarget
}

// ensure grows the register file so that it has at least n slots.
func (f *frame) ensure(n int) {
	if n > len(f.regs.slots) {
		f.regs.slots = append(f.regs.slots, make([]Value, n-len(f.regs.slots))...)
	}
}

// rk returns the value of an RK operand.
func (f *frame) rk(x int32) Value {
	if luacode.IsConstant(x) {
		return f.k[luacode.ConstantIndex(x)]
	}
	return f.regs.slots[x]
}

// capture returns an open upvalue for the given register,
// reusing an existing one if another closure already captured it.
func (f *frame) capture(index int) *upvalue {
	for _, uv := range f.open {
		if uv.index == index {
			return uv
		}
	}
	uv := &upvalue{regs: f.regs, index: index}
	f.open = append(f.open, uv)
	return uv
}

// closeUpvalues closes every open upvalue at or above the given register.
func (f *frame) closeUpvalues(from int) {
	n := 0
	for _, uv := range f.open {
		if uv.index >= from {
			uv.close()
		} else {
			f.open[n] = uv
			n++
		}
	}
	clear(f.open[n:])
	f.open = f.open[:n]
}

// site returns the call site of the instruction before pc.
func (f *frame) site() callSite {
	return callSite{proto: f.fn.proto, pc: f.pc}
}

// setResults stores call results into consecutive registers starting at a.
// If want is [multipleResults], all results are stored and top is updated.
func (f *frame) setResults(a, want int, results []Value) {
	if want == multipleResults {
		f.ensure(a + len(results))
		copy(f.regs.slots[a:], results)
		f.top = a + len(results)
		return
	}
	f.ensure(a + want)
	n := copy(f.regs.slots[a:a+want], results)
	clear(f.regs.slots[a+n : a+want])
}

// multipleResults is the sentinel want count
// that indicates that all results are accepted.
const multipleResults = -1

// maxPooled is the maximum number of frames or register files
// an engine keeps for reuse.
const maxPooled = 256

// pool holds released frames and register files.
type pool struct {
	frames []*frame
	regs   []*registers
}

func (p *pool) newFrame(fn *Closure, target *resultTarget) *frame {
	var f *frame
	if n := len(p.frames); n > 0 {
		f = p.frames[n-1]
		p.frames[n-1] = nil
		p.frames = p.frames[:n-1]
	} else {
		f = new(frame)
	}
	f.fn = fn
	f.target = target
	f.regs = p.newRegisters(int(fn.proto.MaxStackSize))
	return f
}

// releaseFrame closes all of the frame's upvalues
// and returns its storage to the pool.
func (p *pool) releaseFrame(f *frame) {
	f.closeUpvalues(0)
	p.releaseRegisters(f.regs)
	clear(f.open)
	*f = frame{open: f.open[:0]}
	if len(p.frames) < maxPooled {
		p.frames = append(p.frames, f)
	}
}

func (p *pool) newRegisters(n int) *registers {
	if k := len(p.regs); k > 0 {
		r := p.regs[k-1]
		p.regs[k-1] = nil
		p.regs = p.regs[:k-1]
		if cap(r.slots) >= n {
			r.slots = r.slots[:n]
		} else {
			r.slots = make([]Value, n)
		}
		return r
	}
	return &registers{slots: make([]Value, n)}
}

func (p *pool) releaseRegisters(r *registers) {
	clear(r.slots[:cap(r.slots)])
	r.slots = r.slots[:0]
	if len(p.regs) < maxPooled {
		p.regs = append(p.regs, r)
	}
}
