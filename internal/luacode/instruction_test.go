// Copyright 2024 The zb Authors
// SPDX-License-Identifier: MIT

package luacode

import (
	"math"
	"testing"
)

func TestInstructionWord(t *testing.T) {
	tests := []struct {
		i    Instruction
		word uint32
	}{
		{ABx(OpGetGlobal, 0, 0), 5},
		{ABx(OpLoadK, 1, 1), 1 | 1<<6 | 1<<14},
		{ABC(OpCall, 0, 2, 1), 28 | 1<<14 | 2<<23},
		{ABC(OpGetTable, 0, 0, 259), 6 | 259<<14},
		{ABx(OpJmp, 0, -1), 22 | (MaxArgSBx-1)<<14},
		{ABx(OpForPrep, 3, 2), 32 | 3<<6 | (MaxArgSBx+2)<<14},
		{ABC(OpReturn, 0, 1, 0), 30 | 1<<23},
	}
	for _, test := range tests {
		got, err := test.i.Word()
		if got != test.word || err != nil {
			t.Errorf("%v.Word() = %#08x, %v; want %#08x, <nil>", test.i, got, err, test.word)
		}
		if got := DecodeInstruction(test.word); got != test.i {
			t.Errorf("DecodeInstruction(%#08x) = %+v; want %+v", test.word, got, test.i)
		}
	}
}

func TestInstructionWordRange(t *testing.T) {
	tests := []Instruction{
		ABC(OpMove, 256, 0, 0),
		ABC(OpMove, -1, 0, 0),
		ABC(OpAdd, 0, 512, 0),
		ABx(OpLoadK, 0, 1<<18),
		ABx(OpJmp, 0, math.MaxInt32),
		{OpCode: 99},
	}
	for _, i := range tests {
		if got, err := i.Word(); err == nil {
			t.Errorf("%+v.Word() = %#08x, <nil>; want error", i, got)
		}
	}
}

func TestInstructionString(t *testing.T) {
	tests := []struct {
		i    Instruction
		want string
	}{
		{ABC(OpMove, 1, 0, 0), "MOVE      1 0"},
		{ABx(OpLoadK, 1, 1), "LOADK     1 -2"},
		{ABx(OpGetGlobal, 0, 0), "GETGLOBAL 0 -1"},
		{ABC(OpGetTable, 0, 0, 259), "GETTABLE  0 0 -4"},
		{ABC(OpAdd, 2, 0, 1), "ADD       2 0 1"},
		{ABx(OpJmp, 0, -3), "JMP       -3"},
		{ABx(OpForLoop, 4, -2), "FORLOOP   4 -2"},
		{ABC(OpClose, 3, 0, 0), "CLOSE     3"},
		{ABx(OpClosure, 0, 1), "CLOSURE   0 1"},
	}
	for _, test := range tests {
		if got := test.i.String(); got != test.want {
			t.Errorf("%+v.String() = %q; want %q", test.i, got, test.want)
		}
	}
}

func TestOpCodeString(t *testing.T) {
	tests := []struct {
		op   OpCode
		want string
	}{
		{OpMove, "MOVE"},
		{OpTestSet, "TESTSET"},
		{OpTForLoop, "TFORLOOP"},
		{OpVararg, "VARARG"},
		{OpCode(38), "OpCode(38)"},
	}
	for _, test := range tests {
		if got := test.op.String(); got != test.want {
			t.Errorf("OpCode(%d).String() = %q; want %q", uint8(test.op), got, test.want)
		}
	}
	if NumOpCodes != 38 {
		t.Errorf("NumOpCodes = %d; want 38", NumOpCodes)
	}
}

func TestValueString(t *testing.T) {
	tests := []struct {
		value Value
		want  string
	}{
		{Value{}, "nil"},
		{BoolValue(false), "false"},
		{BoolValue(true), "true"},
		{NumberValue(0), "0"},
		{NumberValue(42), "42"},
		{NumberValue(-0.5), "-0.5"},
		{NumberValue(math.Inf(1)), "inf"},
		{StringValue(""), `""`},
		{StringValue("abc\ndef"), `"abc\ndef"`},
	}
	for _, test := range tests {
		if got := test.value.String(); got != test.want {
			t.Errorf("%#v.String() = %q; want %q", test.value, got, test.want)
		}
	}
}
