// Copyright (C) 1994-2012 Lua.org, PUC-Rio.
// Copyright 2024 The zb Authors
// SPDX-License-Identifier: MIT

package luacode

// OpCode is an enumeration of [Instruction] types.
type OpCode uint8

// Defined [OpCode] values.
// The numeric values match the Lua 5.1 encoding.
const (
	// A B R(A) := R(B)
	OpMove OpCode = 0 // MOVE
	// A Bx R(A) := Kst(Bx)
	OpLoadK OpCode = 1 // LOADK
	// A B C R(A) := (Bool)B; if (C) pc++
	OpLoadBool OpCode = 2 // LOADBOOL
	// A B R(A) := ... := R(B) := nil
	OpLoadNil OpCode = 3 // LOADNIL
	// A B R(A) := UpValue[B]
	OpGetUpval OpCode = 4 // GETUPVAL

	// A Bx R(A) := Gbl[Kst(Bx)]
	OpGetGlobal OpCode = 5 // GETGLOBAL
	// A B C R(A) := R(B)[RK(C)]
	OpGetTable OpCode = 6 // GETTABLE

	// A Bx Gbl[Kst(Bx)] := R(A)
	OpSetGlobal OpCode = 7 // SETGLOBAL
	// A B UpValue[B] := R(A)
	OpSetUpval OpCode = 8 // SETUPVAL
	// A B C R(A)[RK(B)] := RK(C)
	OpSetTable OpCode = 9 // SETTABLE

	// A B C R(A) := {} (size = B,C)
	OpNewTable OpCode = 10 // NEWTABLE

	// A B C R(A+1) := R(B); R(A) := R(B)[RK(C)]
	OpSelf OpCode = 11 // SELF

	// A B C R(A) := RK(B) + RK(C)
	OpAdd OpCode = 12 // ADD
	// A B C R(A) := RK(B) - RK(C)
	OpSub OpCode = 13 // SUB
	// A B C R(A) := RK(B) * RK(C)
	OpMul OpCode = 14 // MUL
	// A B C R(A) := RK(B) / RK(C)
	OpDiv OpCode = 15 // DIV
	// A B C R(A) := RK(B) % RK(C)
	OpMod OpCode = 16 // MOD
	// A B C R(A) := RK(B) ^ RK(C)
	OpPow OpCode = 17 // POW
	// A B R(A) := -R(B)
	OpUnm OpCode = 18 // UNM
	// A B R(A) := not R(B)
	OpNot OpCode = 19 // NOT
	// A B R(A) := length of R(B)
	OpLen OpCode = 20 // LEN

	// A B C R(A) := R(B).. ... ..R(C)
	OpConcat OpCode = 21 // CONCAT

	// sBx pc+=sBx
	OpJmp OpCode = 22 // JMP

	// A B C if ((RK(B) == RK(C)) ~= A) then pc++
	OpEq OpCode = 23 // EQ
	// A B C if ((RK(B) <  RK(C)) ~= A) then pc++
	OpLT OpCode = 24 // LT
	// A B C if ((RK(B) <= RK(C)) ~= A) then pc++
	OpLE OpCode = 25 // LE

	// A C if not (R(A) <=> C) then pc++
	OpTest OpCode = 26 // TEST
	// A B C if (R(B) <=> C) then R(A) := R(B) else pc++
	OpTestSet OpCode = 27 // TESTSET

	// A B C R(A), ... ,R(A+C-2) := R(A)(R(A+1), ... ,R(A+B-1))
	OpCall OpCode = 28 // CALL
	// A B C return R(A)(R(A+1), ... ,R(A+B-1))
	OpTailCall OpCode = 29 // TAILCALL
	// A B return R(A), ... ,R(A+B-2)
	OpReturn OpCode = 30 // RETURN

	// A sBx R(A)+=R(A+2); if R(A) <?= R(A+1) then { pc+=sBx; R(A+3)=R(A) }
	OpForLoop OpCode = 31 // FORLOOP
	// A sBx R(A)-=R(A+2); pc+=sBx
	OpForPrep OpCode = 32 // FORPREP

	// A C R(A+3), ... ,R(A+2+C) := R(A)(R(A+1), R(A+2)); if R(A+3) ~= nil then R(A+2)=R(A+3) else pc++
	OpTForLoop OpCode = 33 // TFORLOOP
	// A B C R(A)[(C-1)*FPF+i] := R(A+i), 1 <= i <= B
	OpSetList OpCode = 34 // SETLIST

	// A close all variables in the stack up to (>=) R(A)
	OpClose OpCode = 35 // CLOSE
	// A Bx R(A) := closure(KPROTO[Bx], R(A), ... ,R(A+n))
	OpClosure OpCode = 36 // CLOSURE

	// A B R(A), R(A+1), ..., R(A+B-1) = vararg
	OpVararg OpCode = 37 // VARARG

	maxOpCode = OpVararg
)

// NumOpCodes is the number of defined opcodes.
const NumOpCodes = int(maxOpCode) + 1

// IsValid reports whether the opcode is one of the known instructions.
func (op OpCode) IsValid() bool {
	return op <= maxOpCode
}

// OpMode is an enumeration of [Instruction] formats.
type OpMode uint8

// Instruction formats.
const (
	OpModeABC  OpMode = 0 // iABC
	OpModeABx  OpMode = 1 // iABx
	OpModeAsBx OpMode = 2 // iAsBx
)

type argMode uint8

const (
	// argN means the argument is not used.
	argN argMode = iota
	// argU means the argument is used.
	argU
	// argR means the argument is a register or a jump offset.
	argR
	// argK means the argument is a constant or register/constant.
	argK
)

// opProps mirrors luaP_opmodes from lopcodes.c.
var opProps = [NumOpCodes]struct {
	test bool
	setA bool
	b    argMode
	c    argMode
	mode OpMode
}{
	OpMove:      {false, true, argR, argN, OpModeABC},
	OpLoadK:     {false, true, argK, argN, OpModeABx},
	OpLoadBool:  {false, true, argU, argU, OpModeABC},
	OpLoadNil:   {false, true, argR, argN, OpModeABC},
	OpGetUpval:  {false, true, argU, argN, OpModeABC},
	OpGetGlobal: {false, true, argK, argN, OpModeABx},
	OpGetTable:  {false, true, argR, argK, OpModeABC},
	OpSetGlobal: {false, false, argK, argN, OpModeABx},
	OpSetUpval:  {false, false, argU, argN, OpModeABC},
	OpSetTable:  {false, false, argK, argK, OpModeABC},
	OpNewTable:  {false, true, argU, argU, OpModeABC},
	OpSelf:      {false, true, argR, argK, OpModeABC},
	OpAdd:       {false, true, argK, argK, OpModeABC},
	OpSub:       {false, true, argK, argK, OpModeABC},
	OpMul:       {false, true, argK, argK, OpModeABC},
	OpDiv:       {false, true, argK, argK, OpModeABC},
	OpMod:       {false, true, argK, argK, OpModeABC},
	OpPow:       {false, true, argK, argK, OpModeABC},
	OpUnm:       {false, true, argR, argN, OpModeABC},
	OpNot:       {false, true, argR, argN, OpModeABC},
	OpLen:       {false, true, argR, argN, OpModeABC},
	OpConcat:    {false, true, argR, argR, OpModeABC},
	OpJmp:       {false, false, argR, argN, OpModeAsBx},
	OpEq:        {true, false, argK, argK, OpModeABC},
	OpLT:        {true, false, argK, argK, OpModeABC},
	OpLE:        {true, false, argK, argK, OpModeABC},
	OpTest:      {true, true, argR, argU, OpModeABC},
	OpTestSet:   {true, true, argR, argU, OpModeABC},
	OpCall:      {false, true, argU, argU, OpModeABC},
	OpTailCall:  {false, true, argU, argU, OpModeABC},
	OpReturn:    {false, false, argU, argN, OpModeABC},
	OpForLoop:   {false, true, argR, argN, OpModeAsBx},
	OpForPrep:   {false, true, argR, argN, OpModeAsBx},
	OpTForLoop:  {true, false, argN, argU, OpModeABC},
	OpSetList:   {false, false, argU, argU, OpModeABC},
	OpClose:     {false, false, argN, argN, OpModeABC},
	OpClosure:   {false, true, argU, argN, OpModeABx},
	OpVararg:    {false, true, argU, argN, OpModeABC},
}

// OpMode returns the format of an [Instruction] that uses the opcode.
func (op OpCode) OpMode() OpMode {
	if !op.IsValid() {
		return OpModeABC
	}
	return opProps[op].mode
}

// SetsA reports whether an [Instruction] that uses the opcode
// would change the value of the register given in A.
func (op OpCode) SetsA() bool {
	return op.IsValid() && opProps[op].setA
}

// IsTest reports whether the instruction is a test.
// In a valid program, the next instruction will be a jump.
func (op OpCode) IsTest() bool {
	return op.IsValid() && opProps[op].test
}

func (op OpCode) bMode() argMode {
	if !op.IsValid() {
		return argN
	}
	return opProps[op].b
}

func (op OpCode) cMode() argMode {
	if !op.IsValid() {
		return argN
	}
	return opProps[op].c
}
