// Copyright (C) 1994-2012 Lua.org, PUC-Rio.
// Copyright 2024 The zb Authors
// SPDX-License-Identifier: MIT

//go:generate stringer -type=OpCode,OpMode -linecomment -output=instruction_string.go

package luacode

import "fmt"

// Instruction is a single decoded virtual machine instruction.
//
// The operand fields hold the decoded arguments regardless of the [OpMode]:
// for [OpModeABx] instructions B holds Bx,
// and for [OpModeAsBx] instructions B holds the signed sBx offset.
// C is zero for both of those modes.
//
// A [OpSetList] instruction with C == 0 is followed by a pseudo-instruction
// whose A field holds the batch number.
type Instruction struct {
	OpCode OpCode
	A      int32
	B      int32
	C      int32
}

// ABC returns a new [OpModeABC] [Instruction].
func ABC(op OpCode, a, b, c int32) Instruction {
	return Instruction{OpCode: op, A: a, B: b, C: c}
}

// ABx returns a new [OpModeABx] or [OpModeAsBx] [Instruction].
func ABx(op OpCode, a, bx int32) Instruction {
	return Instruction{OpCode: op, A: a, B: bx}
}

// Binary instruction layout from lopcodes.h.
const (
	sizeOp = 6
	sizeA  = 8
	sizeB  = 9
	sizeC  = 9
	sizeBx = sizeB + sizeC

	posOp = 0
	posA  = posOp + sizeOp
	posC  = posA + sizeA
	posB  = posC + sizeC
	posBx = posC

	maxArgA  = 1<<sizeA - 1
	maxArgB  = 1<<sizeB - 1
	maxArgC  = 1<<sizeC - 1
	maxArgBx = 1<<sizeBx - 1
	// MaxArgSBx is the largest magnitude of a signed Bx argument.
	MaxArgSBx = maxArgBx >> 1
)

// ConstantBit is the bit set in a B or C operand
// that refers to a constant instead of a register ("RK" operands).
const ConstantBit = 1 << (sizeB - 1)

// IsConstant reports whether an RK operand refers to a constant.
func IsConstant(rk int32) bool {
	return rk&ConstantBit != 0
}

// ConstantIndex returns the constant pool index referred to by an RK operand.
func ConstantIndex(rk int32) int {
	return int(rk &^ ConstantBit)
}

// FieldsPerFlush is the number of list items
// each [OpSetList] instruction stores.
const FieldsPerFlush = 50

// DecodeInstruction decodes a 32-bit instruction word
// as written in a luac 5.1 binary chunk.
func DecodeInstruction(word uint32) Instruction {
	op := OpCode(word >> posOp & (1<<sizeOp - 1))
	i := Instruction{
		OpCode: op,
		A:      int32(word >> posA & maxArgA),
	}
	switch op.OpMode() {
	case OpModeABx:
		i.B = int32(word >> posBx & maxArgBx)
	case OpModeAsBx:
		i.B = int32(word>>posBx&maxArgBx) - MaxArgSBx
	default:
		i.B = int32(word >> posB & maxArgB)
		i.C = int32(word >> posC & maxArgC)
	}
	return i
}

// Word encodes the instruction in the 32-bit luac 5.1 format.
// It returns an error if any operand is out of range.
func (i Instruction) Word() (uint32, error) {
	if !i.OpCode.IsValid() {
		return 0, fmt.Errorf("encode instruction: invalid opcode %d", uint8(i.OpCode))
	}
	if i.A < 0 || i.A > maxArgA {
		return 0, fmt.Errorf("encode %v: A argument out of range", i.OpCode)
	}
	w := uint32(i.OpCode)<<posOp | uint32(i.A)<<posA
	switch i.OpCode.OpMode() {
	case OpModeABx:
		if i.B < 0 || i.B > maxArgBx {
			return 0, fmt.Errorf("encode %v: Bx argument out of range", i.OpCode)
		}
		w |= uint32(i.B) << posBx
	case OpModeAsBx:
		if i.B < -MaxArgSBx || i.B > maxArgBx-MaxArgSBx {
			return 0, fmt.Errorf("encode %v: sBx argument out of range", i.OpCode)
		}
		w |= uint32(i.B+MaxArgSBx) << posBx
	default:
		if i.B < 0 || i.B > maxArgB || i.C < 0 || i.C > maxArgC {
			return 0, fmt.Errorf("encode %v: B or C argument out of range", i.OpCode)
		}
		w |= uint32(i.B)<<posB | uint32(i.C)<<posC
	}
	return w, nil
}

// String decodes the instruction
// and formats it in a manner similar to [luac] -l.
// Constant operands are shown as negative numbers (-1 - index).
//
// [luac]: https://www.lua.org/manual/5.1/luac.html
func (i Instruction) String() string {
	switch op := i.OpCode; op.OpMode() {
	case OpModeABC:
		b := i.B
		if op.bMode() == argK && IsConstant(b) {
			b = -1 - int32(ConstantIndex(b))
		}
		c := i.C
		if op.cMode() == argK && IsConstant(c) {
			c = -1 - int32(ConstantIndex(c))
		}
		switch {
		case op.bMode() == argN && op.cMode() == argN:
			return fmt.Sprintf("%-9s %d", op, i.A)
		case op.cMode() == argN:
			return fmt.Sprintf("%-9s %d %d", op, i.A, b)
		default:
			return fmt.Sprintf("%-9s %d %d %d", op, i.A, b, c)
		}
	case OpModeABx:
		if op == OpLoadK || op == OpGetGlobal || op == OpSetGlobal {
			return fmt.Sprintf("%-9s %d %d", op, i.A, -1-i.B)
		}
		return fmt.Sprintf("%-9s %d %d", op, i.A, i.B)
	case OpModeAsBx:
		if op == OpJmp {
			return fmt.Sprintf("%-9s %d", op, i.B)
		}
		return fmt.Sprintf("%-9s %d %d", op, i.A, i.B)
	default:
		return fmt.Sprintf("Instruction(%d, %d, %d, %d)", uint8(i.OpCode), i.A, i.B, i.C)
	}
}
