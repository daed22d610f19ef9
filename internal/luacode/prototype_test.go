// Copyright 2024 The zb Authors
// SPDX-License-Identifier: MIT

package luacode

import (
	"bytes"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

// bootPrototype is the function described by testdata/boot.lua.json.
func bootPrototype() *Prototype {
	return &Prototype{
		VarArg:       VarArgIsVararg,
		MaxStackSize: 2,
		Code: []Instruction{
			ABx(OpGetGlobal, 0, 0),
			ABx(OpLoadK, 1, 1),
			ABC(OpCall, 0, 2, 1),
			ABx(OpGetGlobal, 0, 2),
			ABC(OpGetTable, 0, 0, ConstantBit|3),
			ABC(OpCall, 0, 1, 1),
			ABC(OpReturn, 0, 1, 0),
		},
		Constants: []Value{
			StringValue("require"),
			StringValue("main"),
			StringValue("love"),
			StringValue("run"),
		},
		Source:     "@js/boot.lua",
		SourcePath: "js/boot.lua",
		LineInfo:   []int{1, 1, 1, 3, 3, 3, 3},
	}
}

// closurePrototype returns a main chunk with a nested function
// that captures a local and shares it with a grandchild.
func closurePrototype() *Prototype {
	grandchild := &Prototype{
		NumUpvalues:  1,
		MaxStackSize: 2,
		Code: []Instruction{
			ABC(OpGetUpval, 0, 0, 0),
			ABC(OpReturn, 0, 2, 0),
		},
		Source:          "@closure.lua",
		SourcePath:      "closure.lua",
		Upvalues:        []string{"x"},
		LineInfo:        []int{4, 4},
		LineDefined:     4,
		LastLineDefined: 4,
	}
	child := &Prototype{
		NumParams:    1,
		NumUpvalues:  1,
		VarArg:       LegacyVarArg,
		MaxStackSize: 3,
		Code: []Instruction{
			ABx(OpClosure, 1, 0),
			ABC(OpGetUpval, 0, 0, 0),
			ABC(OpReturn, 1, 2, 0),
		},
		Functions:       []*Prototype{grandchild},
		Source:          "@closure.lua",
		SourcePath:      "closure.lua",
		Upvalues:        []string{"x"},
		LocalVariables:  []LocalVariable{{Name: "n", StartPC: 0, EndPC: 3}},
		LineInfo:        []int{3, 4, 5},
		LineDefined:     2,
		LastLineDefined: 6,
	}
	return &Prototype{
		VarArg:       VarArgIsVararg,
		MaxStackSize: 2,
		Code: []Instruction{
			ABx(OpLoadK, 0, 0),
			ABx(OpClosure, 1, 0),
			ABC(OpMove, 0, 0, 0),
			ABC(OpNewTable, 0, 2, 0),
			ABx(OpLoadK, 1, 1),
			ABC(OpSetList, 0, 1, 0),
			{A: 1},
			ABC(OpReturn, 0, 1, 0),
		},
		Constants: []Value{
			NumberValue(1.5),
			StringValue("hello"),
			BoolValue(true),
			{},
		},
		Functions:      []*Prototype{child},
		Source:         "@closure.lua",
		SourcePath:     "closure.lua",
		LocalVariables: []LocalVariable{{Name: "x", StartPC: 1, EndPC: 8}},
		LineInfo:       []int{1, 6, 6, 7, 7, 7, 7, 8},
	}
}

func TestDecodeJSON(t *testing.T) {
	data, err := os.ReadFile(filepath.Join("testdata", "boot.lua.json"))
	if err != nil {
		t.Fatal(err)
	}
	got, err := Decode("boot.lua.json", data)
	if err != nil {
		t.Fatal(err)
	}
	if want := bootPrototype(); !got.Equal(want) {
		t.Errorf("Decode(...) = %+v; want %+v", got, want)
	}
}

func TestUnmarshalJSONInstructionObjects(t *testing.T) {
	const data = `{
		"paramCount": 1,
		"is_vararg": 0,
		"maxStackSize": 2,
		"instructions": [
			{"op": 0, "A": 1, "B": 0, "C": 0},
			{"op": 30, "A": 1, "B": 2, "C": 0}
		],
		"constants": [null, true, 3.25, "s"],
		"extra": {"ignored": [1, 2, 3]}
	}`
	got := new(Prototype)
	if err := got.UnmarshalJSON([]byte(data)); err != nil {
		t.Fatal(err)
	}
	want := &Prototype{
		NumParams:    1,
		MaxStackSize: 2,
		Code: []Instruction{
			ABC(OpMove, 1, 0, 0),
			ABC(OpReturn, 1, 2, 0),
		},
		Constants: []Value{{}, BoolValue(true), NumberValue(3.25), StringValue("s")},
	}
	if !got.Equal(want) {
		t.Errorf("UnmarshalJSON(...) = %+v; want %+v", got, want)
	}
}

func TestUnmarshalJSONInfersUpvalueCount(t *testing.T) {
	const data = `{
		"maxStackSize": 3,
		"instructions": [
			36, 2, 0, 0,
			0, 0, 0, 0,
			4, 0, 1, 0,
			0, 1, 2, 0,
			30, 0, 1, 0
		],
		"functions": [{"maxStackSize": 2, "instructions": [30, 0, 1, 0]}]
	}`
	got := new(Prototype)
	if err := got.UnmarshalJSON([]byte(data)); err != nil {
		t.Fatal(err)
	}
	if len(got.Functions) != 1 {
		t.Fatalf("len(Functions) = %d; want 1", len(got.Functions))
	}
	if n := got.Functions[0].NumUpvalues; n != 2 {
		t.Errorf("Functions[0].NumUpvalues = %d; want 2", n)
	}
}

func TestUnmarshalJSONErrors(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"NotObject", `[]`},
		{"ShortInstructions", `{"instructions": [0, 0, 0]}`},
		{"BadConstant", `{"constants": [{}]}`},
		{"BadOpCode", `{"instructions": [300, 0, 0, 0]}`},
		{"TrailingData", `{} {}`},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			f := new(Prototype)
			if err := f.UnmarshalJSON([]byte(test.data)); err == nil {
				t.Errorf("UnmarshalJSON(%q) = <nil>; want error", test.data)
			}
		})
	}
}

func TestEncodeRoundTrip(t *testing.T) {
	for _, format := range []Format{FormatJSON, FormatBinary, FormatCBOR} {
		t.Run(format.String(), func(t *testing.T) {
			want := closurePrototype()
			data, err := want.Encode(format)
			if err != nil {
				t.Fatal(err)
			}
			if got := DetectFormat(data); got != format {
				t.Errorf("DetectFormat(...) = %v; want %v", got, format)
			}
			got, err := Decode("closure", data)
			if err != nil {
				t.Fatal(err)
			}
			if !got.Equal(want) {
				t.Errorf("round trip = %+v; want %+v", got, want)
			}
		})
	}
}

func TestCBORPreservesNaN(t *testing.T) {
	want := &Prototype{
		Code:      []Instruction{ABC(OpReturn, 0, 1, 0)},
		Constants: []Value{NumberValue(math.NaN()), NumberValue(math.Inf(-1))},
	}
	data, err := want.MarshalCBOR()
	if err != nil {
		t.Fatal(err)
	}
	got := new(Prototype)
	if err := got.UnmarshalCBOR(data); err != nil {
		t.Fatal(err)
	}
	if !got.Equal(want) {
		t.Errorf("round trip = %+v; want %+v", got, want)
	}
	if _, err := want.MarshalJSON(); err == nil {
		t.Error("MarshalJSON did not return an error for a NaN constant")
	}
}

func TestCBORDeterministic(t *testing.T) {
	data1, err := closurePrototype().MarshalCBOR()
	if err != nil {
		t.Fatal(err)
	}
	data2, err := closurePrototype().MarshalCBOR()
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(data1, data2) {
		t.Error("encoding the same prototype twice produced different bytes")
	}
}

func TestUnmarshalBinaryErrors(t *testing.T) {
	good, err := bootPrototype().MarshalBinary()
	if err != nil {
		t.Fatal(err)
	}
	tests := []struct {
		name string
		data []byte
	}{
		{"Empty", nil},
		{"Signature", []byte("\x1bLu")},
		{"Version", append([]byte(Signature+"\x54"), good[5:]...)},
		{"Truncated", good[:len(good)-3]},
		{"Trailing", append(append([]byte(nil), good...), 0)},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			f := new(Prototype)
			if err := f.UnmarshalBinary(test.data); err == nil {
				t.Error("UnmarshalBinary did not return an error")
			}
		})
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name string
		f    *Prototype
	}{
		{
			name: "ConstantOutOfRange",
			f:    &Prototype{Code: []Instruction{ABx(OpLoadK, 0, 0)}},
		},
		{
			name: "GlobalNameNotString",
			f: &Prototype{
				Code:      []Instruction{ABx(OpGetGlobal, 0, 0)},
				Constants: []Value{NumberValue(1)},
			},
		},
		{
			name: "RKOutOfRange",
			f:    &Prototype{Code: []Instruction{ABC(OpAdd, 0, ConstantBit|1, 0)}},
		},
		{
			name: "FunctionOutOfRange",
			f:    &Prototype{Code: []Instruction{ABx(OpClosure, 0, 0)}},
		},
		{
			name: "JumpOutOfRange",
			f:    &Prototype{Code: []Instruction{ABx(OpJmp, 0, 5)}},
		},
		{
			name: "UpvalueOutOfRange",
			f:    &Prototype{Code: []Instruction{ABC(OpGetUpval, 0, 0, 0)}},
		},
		{
			name: "MissingBatchNumber",
			f:    &Prototype{Code: []Instruction{ABC(OpSetList, 0, 1, 0)}},
		},
		{
			name: "LineInfoLength",
			f: &Prototype{
				Code:     []Instruction{ABC(OpReturn, 0, 1, 0)},
				LineInfo: []int{1, 2},
			},
		},
		{
			name: "Nested",
			f: &Prototype{
				Code:      []Instruction{ABx(OpClosure, 0, 0), ABC(OpReturn, 0, 1, 0)},
				Functions: []*Prototype{{Code: []Instruction{{OpCode: 50}}}},
			},
		},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			if err := test.f.Validate(); err == nil {
				t.Error("Validate() = <nil>; want error")
			}
		})
	}

	if err := closurePrototype().Validate(); err != nil {
		t.Errorf("closurePrototype().Validate() = %v; want <nil>", err)
	}
}

func TestLocalName(t *testing.T) {
	f := &Prototype{
		LocalVariables: []LocalVariable{
			{Name: "a", StartPC: 0, EndPC: 10},
			{Name: "b", StartPC: 2, EndPC: 5},
			{Name: "c", StartPC: 6, EndPC: 10},
		},
	}
	tests := []struct {
		register uint8
		pc       int
		want     string
	}{
		{0, 0, "a"},
		{1, 0, ""},
		{1, 3, "b"},
		{1, 7, "c"},
		{2, 7, ""},
	}
	for _, test := range tests {
		if got := f.LocalName(test.register, test.pc); got != test.want {
			t.Errorf("LocalName(%d, %d) = %q; want %q", test.register, test.pc, got, test.want)
		}
	}
}

func TestSourceString(t *testing.T) {
	tests := []struct {
		source Source
		want   string
	}{
		{FilenameSource("foo.lua"), "foo.lua"},
		{AbstractSource("stdin"), "stdin"},
		{UnknownSource, "?"},
		{"x = 1", `[string "x = 1"]`},
		{"x = 1\ny = 2", `[string "x = 1..."]`},
		{FilenameSource(strings.Repeat("a/", 40)), "..." + strings.Repeat("a/", 40)[80-57:]},
	}
	for _, test := range tests {
		if got := test.source.String(); got != test.want {
			t.Errorf("Source(%q).String() = %q; want %q", string(test.source), got, test.want)
		}
	}
}

func TestWriteListing(t *testing.T) {
	buf := new(bytes.Buffer)
	if err := WriteListing(buf, closurePrototype(), &ListingOptions{Full: true}); err != nil {
		t.Fatal(err)
	}
	got := buf.String()
	wantLines := []string{
		"main <closure.lua:0,0> (8 instructions for main)",
		"0+ params, 2 slots, 0 upvalues, 1 local, 4 constants, 1 function",
		"\t1\t[1]\tLOADK     0 -1\t; 1.5",
		"\t2\t[6]\tCLOSURE   1 0\t; F[0]",
		"\t7\t[7]\t(batch)   1",
		"function <closure.lua:2,6> (3 instructions for F[0])",
		"1+ param, 3 slots, 1 upvalue, 1 local, 0 constants, 1 function",
		"\t2\t[4]\tGETUPVAL  0 0\t; x",
		"function <closure.lua:4,4> (2 instructions for F[0][0])",
		"constants (4) for main",
		"\t2\t\"hello\"",
		"locals (1) for F[0]",
		"\t0\tn\t1\t4",
	}
	for _, line := range wantLines {
		if !strings.Contains(got, line+"\n") {
			t.Errorf("listing does not contain line %q. Full listing:\n%s", line, got)
		}
	}
	if diff := cmp.Diff(1, strings.Count(got, "main <")); diff != "" {
		t.Errorf("main chunk headers (-want +got):\n%s", diff)
	}
}
