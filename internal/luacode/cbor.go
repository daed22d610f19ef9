// Copyright 2024 The zb Authors
// SPDX-License-Identifier: MIT

package luacode

import (
	"errors"
	"fmt"
	"strings"

	"github.com/fxamacker/cbor/v2"
)

// CBORSignature is the self-describing CBOR tag (55799)
// that prefixes data produced by [*Prototype.MarshalCBOR].
const CBORSignature = "\xd9\xd9\xf7"

var cborEncMode cbor.EncMode

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("luacode: create CBOR enc mode: %v", err))
	}
	cborEncMode = em
}

type cborPrototype struct {
	NumParams       uint8            `cbor:"1,keyasint"`
	VarArg          uint8            `cbor:"2,keyasint"`
	MaxStackSize    uint8            `cbor:"3,keyasint"`
	NumUpvalues     uint8            `cbor:"4,keyasint"`
	Code            []int32          `cbor:"5,keyasint"`
	Constants       []cborConstant   `cbor:"6,keyasint,omitempty"`
	Functions       []*cborPrototype `cbor:"7,keyasint,omitempty"`
	Source          string           `cbor:"8,keyasint,omitempty"`
	SourcePath      string           `cbor:"9,keyasint,omitempty"`
	Upvalues        []string         `cbor:"10,keyasint,omitempty"`
	LocalVariables  []cborLocal      `cbor:"11,keyasint,omitempty"`
	LineInfo        []int            `cbor:"12,keyasint,omitempty"`
	LineDefined     int              `cbor:"13,keyasint,omitempty"`
	LastLineDefined int              `cbor:"14,keyasint,omitempty"`
}

type cborConstant struct {
	Type   uint8  `cbor:"1,keyasint"`
	Bits   uint64 `cbor:"2,keyasint,omitempty"`
	String string `cbor:"3,keyasint,omitempty"`
}

type cborLocal struct {
	Name    string `cbor:"1,keyasint"`
	StartPC int    `cbor:"2,keyasint"`
	EndPC   int    `cbor:"3,keyasint"`
}

// MarshalCBOR encodes the function in a deterministic CBOR representation,
// so that equal prototypes produce identical bytes.
func (f *Prototype) MarshalCBOR() ([]byte, error) {
	data, err := cborEncMode.Marshal(toCBOR(f))
	if err != nil {
		return nil, fmt.Errorf("marshal function: %v", err)
	}
	return append([]byte(CBORSignature), data...), nil
}

func toCBOR(f *Prototype) *cborPrototype {
	w := &cborPrototype{
		NumParams:       f.NumParams,
		VarArg:          uint8(f.VarArg),
		MaxStackSize:    f.MaxStackSize,
		NumUpvalues:     f.NumUpvalues,
		Code:            make([]int32, 0, len(f.Code)*4),
		Source:          string(f.Source),
		SourcePath:      f.SourcePath,
		Upvalues:        f.Upvalues,
		LineInfo:        f.LineInfo,
		LineDefined:     f.LineDefined,
		LastLineDefined: f.LastLineDefined,
	}
	for _, i := range f.Code {
		w.Code = append(w.Code, int32(i.OpCode), i.A, i.B, i.C)
	}
	for _, k := range f.Constants {
		w.Constants = append(w.Constants, cborConstant{
			Type:   uint8(k.t),
			Bits:   k.bits,
			String: k.s,
		})
	}
	for _, p := range f.Functions {
		w.Functions = append(w.Functions, toCBOR(p))
	}
	for _, v := range f.LocalVariables {
		w.LocalVariables = append(w.LocalVariables, cborLocal(v))
	}
	return w
}

// UnmarshalCBOR decodes a function encoded by [*Prototype.MarshalCBOR].
func (f *Prototype) UnmarshalCBOR(data []byte) error {
	rest, ok := strings.CutPrefix(string(data), CBORSignature)
	if !ok {
		return errors.New("unmarshal function: missing CBOR signature")
	}
	w := new(cborPrototype)
	if err := cbor.Unmarshal([]byte(rest), w); err != nil {
		return fmt.Errorf("unmarshal function: %v", err)
	}
	p, err := fromCBOR(w)
	if err != nil {
		return fmt.Errorf("unmarshal function: %v", err)
	}
	*f = *p
	return nil
}

func fromCBOR(w *cborPrototype) (*Prototype, error) {
	if len(w.Code)%4 != 0 {
		return nil, errors.New("instruction list length is not a multiple of 4")
	}
	f := &Prototype{
		NumParams:       w.NumParams,
		VarArg:          VarArgFlags(w.VarArg),
		MaxStackSize:    w.MaxStackSize,
		NumUpvalues:     w.NumUpvalues,
		Code:            make([]Instruction, 0, len(w.Code)/4),
		Source:          Source(w.Source),
		SourcePath:      w.SourcePath,
		Upvalues:        w.Upvalues,
		LineInfo:        w.LineInfo,
		LineDefined:     w.LineDefined,
		LastLineDefined: w.LastLineDefined,
	}
	for i := 0; i < len(w.Code); i += 4 {
		if w.Code[i] < 0 || w.Code[i] > 0xff {
			return nil, fmt.Errorf("invalid opcode %d", w.Code[i])
		}
		f.Code = append(f.Code, Instruction{
			OpCode: OpCode(w.Code[i]),
			A:      w.Code[i+1],
			B:      w.Code[i+2],
			C:      w.Code[i+3],
		})
	}
	for i, k := range w.Constants {
		switch t := valueType(k.Type); t {
		case valueTypeNil, valueTypeBoolean, valueTypeNumber, valueTypeString:
			f.Constants = append(f.Constants, Value{t: t, bits: k.Bits, s: k.String})
		default:
			return nil, fmt.Errorf("constants[%d]: unknown type %d", i, k.Type)
		}
	}
	for i, pw := range w.Functions {
		if pw == nil {
			return nil, fmt.Errorf("functions[%d]: missing", i)
		}
		p, err := fromCBOR(pw)
		if err != nil {
			return nil, fmt.Errorf("functions[%d]: %v", i, err)
		}
		f.Functions = append(f.Functions, p)
	}
	for _, v := range w.LocalVariables {
		f.LocalVariables = append(f.LocalVariables, LocalVariable(v))
	}
	return f, nil
}
