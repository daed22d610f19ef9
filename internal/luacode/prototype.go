// Copyright (C) 1994-2012 Lua.org, PUC-Rio.
// Copyright 2024 The zb Authors
// SPDX-License-Identifier: MIT

package luacode

import (
	"fmt"
	"slices"
)

// VarArgFlags is the set of bits stored in a prototype's is_vararg field.
type VarArgFlags uint8

// Variadic function flags.
const (
	// VarArgHasArg is set when the function was compiled
	// with Lua 5.0 vararg compatibility.
	VarArgHasArg VarArgFlags = 1 << iota
	// VarArgIsVararg is set for functions declared with "...".
	VarArgIsVararg
	// VarArgNeedsArg is set when the function body refers to
	// the implicit "arg" table of Lua 5.0.
	VarArgNeedsArg
)

// LegacyVarArg is the flag combination that the distiller writes
// for functions that use the implicit "arg" table.
const LegacyVarArg = VarArgHasArg | VarArgIsVararg | VarArgNeedsArg

// IsVararg reports whether the function accepts a variable number of arguments.
func (flags VarArgFlags) IsVararg() bool {
	return flags&VarArgIsVararg != 0
}

// NeedsArg reports whether calls to the function
// must create the implicit "arg" table from the extra arguments.
func (flags VarArgFlags) NeedsArg() bool {
	return flags&VarArgNeedsArg != 0
}

// Prototype represents a compiled function.
type Prototype struct {
	// NumParams is the number of fixed (named) parameters.
	NumParams uint8
	VarArg    VarArgFlags
	// MaxStackSize is the number of registers needed by this function.
	MaxStackSize uint8
	// NumUpvalues is the number of upvalues a closure of this function captures.
	NumUpvalues uint8

	Constants []Value
	Code      []Instruction
	Functions []*Prototype

	// Debug information:

	Source Source
	// SourcePath is the path of the file the function was compiled from,
	// if known.
	SourcePath string
	// Upvalues is the list of upvalue names.
	// It is either empty or has NumUpvalues entries.
	Upvalues []string
	// LocalVariables is a list of the function's local variables in declaration order.
	// It is guaranteed that LocalVariables[i].StartPC <= LocalVariables[i+1].StartPC.
	LocalVariables []LocalVariable
	// LineInfo is the source line of each instruction in Code.
	// It is either empty or the same length as Code.
	LineInfo        []int
	LineDefined     int
	LastLineDefined int
}

// LocalVariable is a description of a local variable in [Prototype]
// used for debug information.
type LocalVariable struct {
	Name string
	// StartPC is the first instruction in the [Prototype.Code] slice
	// where the variable is active.
	StartPC int
	// EndPC is the first instruction in the [Prototype.Code] slice
	// where the variable is dead.
	EndPC int
}

// IsMainChunk reports whether the prototype represents a compiled source file
// (as opposed to a function inside a file).
func (f *Prototype) IsMainChunk() bool {
	return f.LineDefined == 0
}

// Line returns the source line of the instruction at pc
// or 0 if no line information is available.
func (f *Prototype) Line(pc int) int {
	if pc < 0 || pc >= len(f.LineInfo) {
		return 0
	}
	return f.LineInfo[pc]
}

// StripDebug returns a copy of a [Prototype]
// with the debug information removed.
func (f *Prototype) StripDebug() *Prototype {
	f2 := new(Prototype)
	*f2 = *f
	f2.Source = ""
	f2.SourcePath = ""
	f2.Upvalues = nil
	f2.LineInfo = nil
	f2.LocalVariables = nil

	if len(f.Functions) > 0 {
		f2.Functions = make([]*Prototype, len(f.Functions))
		for i, p := range f.Functions {
			f2.Functions[i] = p.StripDebug()
		}
	}

	return f2
}

// LocalName returns the name of the local variable the given register represents
// during the execution of the given instruction,
// or the empty string if the register does not represent a local variable
// (or the debug information has been stripped).
func (f *Prototype) LocalName(register uint8, pc int) string {
	for _, v := range f.LocalVariables {
		if v.StartPC > pc {
			// Local variables are ordered by StartPC,
			// so this variable and any subsequent ones will be out of scope.
			break
		}
		if pc < v.EndPC {
			if register == 0 {
				return v.Name
			}
			register--
		}
	}
	return ""
}

// UpvalueName returns the name of the i'th upvalue
// or the empty string if the name is not known.
func (f *Prototype) UpvalueName(i int) string {
	if i < 0 || i >= len(f.Upvalues) {
		return ""
	}
	return f.Upvalues[i]
}

// Validate performs structural checks on the prototype and its nested functions
// so that the interpreter can index constants, registers, and nested functions
// without further bounds checks on operands.
func (f *Prototype) Validate() error {
	if len(f.LineInfo) != 0 && len(f.LineInfo) != len(f.Code) {
		return fmt.Errorf("line info has %d entries for %d instructions", len(f.LineInfo), len(f.Code))
	}
	if len(f.Upvalues) != 0 && len(f.Upvalues) != int(f.NumUpvalues) {
		return fmt.Errorf("%d upvalue names for %d upvalues", len(f.Upvalues), f.NumUpvalues)
	}
	for pc := 0; pc < len(f.Code); pc++ {
		i := f.Code[pc]
		if !i.OpCode.IsValid() {
			return fmt.Errorf("instruction %d: invalid opcode %d", pc, uint8(i.OpCode))
		}
		if err := f.validateOperands(pc, i); err != nil {
			return fmt.Errorf("instruction %d (%v): %v", pc, i.OpCode, err)
		}
		if i.OpCode == OpSetList && i.C == 0 {
			// Skip the batch number.
			pc++
			if pc >= len(f.Code) {
				return fmt.Errorf("instruction %d (%v): missing batch number", pc-1, i.OpCode)
			}
		}
	}
	for i, p := range f.Functions {
		if err := p.Validate(); err != nil {
			return fmt.Errorf("function %d: %v", i, err)
		}
	}
	return nil
}

func (f *Prototype) validateOperands(pc int, i Instruction) error {
	if i.A < 0 || i.A > maxArgA {
		return fmt.Errorf("register %d out of range", i.A)
	}
	switch i.OpCode.OpMode() {
	case OpModeABx:
		switch i.OpCode {
		case OpLoadK, OpGetGlobal, OpSetGlobal:
			if int(i.B) >= len(f.Constants) || i.B < 0 {
				return fmt.Errorf("constant %d out of range", i.B)
			}
			if i.OpCode != OpLoadK && !f.Constants[i.B].IsString() {
				return fmt.Errorf("global name constant %d is not a string", i.B)
			}
		case OpClosure:
			if int(i.B) >= len(f.Functions) || i.B < 0 {
				return fmt.Errorf("function %d out of range", i.B)
			}
		}
	case OpModeAsBx:
		if target := pc + 1 + int(i.B); target < 0 || target >= len(f.Code) {
			return fmt.Errorf("jump target %d out of range", target)
		}
	default:
		for _, operand := range []struct {
			mode argMode
			x    int32
		}{{i.OpCode.bMode(), i.B}, {i.OpCode.cMode(), i.C}} {
			if operand.mode == argK && IsConstant(operand.x) && ConstantIndex(operand.x) >= len(f.Constants) {
				return fmt.Errorf("constant %d out of range", ConstantIndex(operand.x))
			}
		}
		if i.OpCode == OpGetUpval || i.OpCode == OpSetUpval {
			if i.B < 0 || i.B >= int32(f.NumUpvalues) {
				return fmt.Errorf("upvalue %d out of range", i.B)
			}
		}
	}
	return nil
}

// inferUpvalueCounts fills in [Prototype.NumUpvalues]
// for the nested functions listed in unknown
// by counting the capture pseudo-instructions after each [OpClosure].
func (f *Prototype) inferUpvalueCounts(unknown map[*Prototype]bool) {
	for pc, i := range f.Code {
		if i.OpCode != OpClosure || i.B < 0 || int(i.B) >= len(f.Functions) {
			continue
		}
		p := f.Functions[i.B]
		if !unknown[p] {
			continue
		}
		n := 0
		for _, next := range f.Code[pc+1:] {
			if (next.OpCode != OpMove && next.OpCode != OpGetUpval) || next.A != 0 {
				break
			}
			n++
		}
		if len(p.Upvalues) > n {
			n = len(p.Upvalues)
		}
		p.NumUpvalues = uint8(min(n, maxUpvalues))
		delete(unknown, p)
	}
	for _, p := range f.Functions {
		p.inferUpvalueCounts(unknown)
	}
}

// Equal reports whether two prototypes are structurally identical.
// Nil and empty slices are considered equal.
func (f *Prototype) Equal(f2 *Prototype) bool {
	if f == nil || f2 == nil {
		return f == f2
	}
	return f.NumParams == f2.NumParams &&
		f.VarArg == f2.VarArg &&
		f.MaxStackSize == f2.MaxStackSize &&
		f.NumUpvalues == f2.NumUpvalues &&
		slices.Equal(f.Constants, f2.Constants) &&
		slices.Equal(f.Code, f2.Code) &&
		slices.EqualFunc(f.Functions, f2.Functions, (*Prototype).Equal) &&
		f.Source == f2.Source &&
		f.SourcePath == f2.SourcePath &&
		slices.Equal(f.Upvalues, f2.Upvalues) &&
		slices.Equal(f.LocalVariables, f2.LocalVariables) &&
		slices.Equal(f.LineInfo, f2.LineInfo) &&
		f.LineDefined == f2.LineDefined &&
		f.LastLineDefined == f2.LastLineDefined
}

// maxUpvalues is the maximum number of upvalues in a closure.
const maxUpvalues = 255
