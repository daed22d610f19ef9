// Copyright (C) 1994-2012 Lua.org, PUC-Rio.
// Copyright 2024 The zb Authors
// SPDX-License-Identifier: MIT

package luacode

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
)

// Signature is the magic header for a binary (pre-compiled) Lua chunk.
// Data with this prefix can be loaded in with [*Prototype.UnmarshalBinary].
const Signature = "\x1bLua"

const (
	luacVersion byte = 5*16 + 1
	luacFormat  byte = 0
)

// [Value] type constants in dump format.
const (
	valueDumpTypeNil     byte = byte(valueTypeNil)
	valueDumpTypeBoolean byte = byte(valueTypeBoolean)
	valueDumpTypeNumber  byte = byte(valueTypeNumber)
	valueDumpTypeString  byte = byte(valueTypeString)
)

// MarshalBinary marshals the function as a precompiled chunk
// in the same format as [luac 5.1] on a little-endian 64-bit machine.
//
// [luac 5.1]: https://www.lua.org/manual/5.1/luac.html
func (f *Prototype) MarshalBinary() ([]byte, error) {
	var buf []byte
	buf = append(buf, Signature...)
	buf = append(buf,
		luacVersion,
		luacFormat,
		1, // little endian
		4, // sizeof(int)
		8, // sizeof(size_t)
		4, // sizeof(Instruction)
		8, // sizeof(lua_Number)
		0, // lua_Number is floating-point
	)
	return dumpFunction(buf, f, "")
}

func dumpFunction(buf []byte, f *Prototype, parentSource Source) ([]byte, error) {
	if f.Source == "" || f.Source == parentSource {
		buf = dumpSize(buf, 0)
	} else {
		buf = dumpString(buf, string(f.Source))
	}
	buf = dumpInt(buf, f.LineDefined)
	buf = dumpInt(buf, f.LastLineDefined)
	buf = append(buf, f.NumUpvalues, f.NumParams, byte(f.VarArg), f.MaxStackSize)

	// Code
	buf = dumpInt(buf, len(f.Code))
	for pc, code := range f.Code {
		var word uint32
		if pc > 0 && f.Code[pc-1].OpCode == OpSetList && f.Code[pc-1].C == 0 {
			word = uint32(code.A)
		} else {
			var err error
			word, err = code.Word()
			if err != nil {
				return nil, fmt.Errorf("dump lua chunk: instruction %d: %v", pc, err)
			}
		}
		buf = binary.LittleEndian.AppendUint32(buf, word)
	}

	// Constants
	buf = dumpInt(buf, len(f.Constants))
	for _, value := range f.Constants {
		switch value.t {
		case valueTypeNil:
			buf = append(buf, valueDumpTypeNil)
		case valueTypeBoolean:
			buf = append(buf, valueDumpTypeBoolean, byte(value.bits))
		case valueTypeNumber:
			buf = append(buf, valueDumpTypeNumber)
			buf = binary.LittleEndian.AppendUint64(buf, value.bits)
		case valueTypeString:
			buf = append(buf, valueDumpTypeString)
			buf = dumpString(buf, value.s)
		}
	}

	// Protos
	buf = dumpInt(buf, len(f.Functions))
	for _, p := range f.Functions {
		var err error
		buf, err = dumpFunction(buf, p, f.Source)
		if err != nil {
			return nil, err
		}
	}

	// Debug information
	buf = dumpInt(buf, len(f.LineInfo))
	for _, line := range f.LineInfo {
		buf = dumpInt(buf, line)
	}
	buf = dumpInt(buf, len(f.LocalVariables))
	for _, v := range f.LocalVariables {
		buf = dumpString(buf, v.Name)
		buf = dumpInt(buf, v.StartPC)
		buf = dumpInt(buf, v.EndPC)
	}
	buf = dumpInt(buf, len(f.Upvalues))
	for _, name := range f.Upvalues {
		buf = dumpString(buf, name)
	}

	return buf, nil
}

func dumpInt(buf []byte, i int) []byte {
	return binary.LittleEndian.AppendUint32(buf, uint32(int32(i)))
}

func dumpSize(buf []byte, n int) []byte {
	return binary.LittleEndian.AppendUint64(buf, uint64(n))
}

// dumpString appends a string with its trailing NUL byte,
// which luac counts in the length prefix.
func dumpString(buf []byte, s string) []byte {
	buf = dumpSize(buf, len(s)+1)
	buf = append(buf, s...)
	buf = append(buf, 0)
	return buf
}

// UnmarshalBinary unmarshals a precompiled chunk like those produced by [luac].
// UnmarshalBinary supports chunks from different architectures,
// but the chunk must be produced by Lua 5.1
// with double-precision floating-point numbers.
//
// [luac]: https://www.lua.org/manual/5.1/luac.html
func (f *Prototype) UnmarshalBinary(data []byte) error {
	r, err := newChunkReader(data)
	if err != nil {
		return fmt.Errorf("load lua chunk: %v", err)
	}
	*f = Prototype{}
	if err := loadFunction(f, r, UnknownSource); err != nil {
		return fmt.Errorf("load lua chunk: %v", err)
	}
	if len(r.s) > 0 {
		return errors.New("load lua chunk: trailing data")
	}
	return nil
}

func loadFunction(f *Prototype, r *chunkReader, parentSource Source) error {
	source, hasSource, err := r.readString()
	if err != nil {
		return fmt.Errorf("load function: source: %v", err)
	}
	if !hasSource {
		source = string(parentSource)
	}
	f.Source = Source(source)
	if fname, ok := f.Source.Filename(); ok {
		f.SourcePath = fname
	}

	f.LineDefined, err = r.readInt()
	if err != nil {
		return fmt.Errorf("load function: line defined: %v", err)
	}
	f.LastLineDefined, err = r.readInt()
	if err != nil {
		return fmt.Errorf("load function: last line defined: %v", err)
	}
	var header [4]byte
	if !r.read(header[:]) {
		return fmt.Errorf("load function: header: %v", io.ErrUnexpectedEOF)
	}
	f.NumUpvalues = header[0]
	f.NumParams = header[1]
	f.VarArg = VarArgFlags(header[2])
	f.MaxStackSize = header[3]

	// Code
	n, err := r.readCount()
	if err != nil {
		return fmt.Errorf("load function: instruction length: %v", err)
	}
	f.Code = make([]Instruction, n)
	for i := range f.Code {
		word, ok := r.readUint32()
		if !ok {
			return fmt.Errorf("load function: instructions: %v", io.ErrUnexpectedEOF)
		}
		if i > 0 && f.Code[i-1].OpCode == OpSetList && f.Code[i-1].C == 0 {
			f.Code[i] = Instruction{A: int32(word)}
			continue
		}
		f.Code[i] = DecodeInstruction(word)
	}

	// Constants
	n, err = r.readCount()
	if err != nil {
		return fmt.Errorf("load function: constant table size: %v", err)
	}
	f.Constants = make([]Value, n)
	for i := range f.Constants {
		t, ok := r.readByte()
		if !ok {
			return fmt.Errorf("load function: constant table: %v", io.ErrUnexpectedEOF)
		}
		switch t {
		case valueDumpTypeNil:
			// Already zeroed; nothing to do.
		case valueDumpTypeBoolean:
			b, ok := r.readByte()
			if !ok {
				return fmt.Errorf("load function: constant table: %v", io.ErrUnexpectedEOF)
			}
			f.Constants[i] = BoolValue(b != 0)
		case valueDumpTypeNumber:
			n, ok := r.readNumber()
			if !ok {
				return fmt.Errorf("load function: constant table: %v", io.ErrUnexpectedEOF)
			}
			f.Constants[i] = NumberValue(n)
		case valueDumpTypeString:
			s, _, err := r.readString()
			if err != nil {
				return fmt.Errorf("load function: constant table [%d]: %v", i, err)
			}
			f.Constants[i] = StringValue(s)
		default:
			return fmt.Errorf("load function: constant table [%d]: unknown type %#02x", i, t)
		}
	}

	// Protos
	n, err = r.readCount()
	if err != nil {
		return fmt.Errorf("load function: prototypes: %v", err)
	}
	f.Functions = make([]*Prototype, n)
	for i := range f.Functions {
		fi := new(Prototype)
		if err := loadFunction(fi, r, f.Source); err != nil {
			return err
		}
		f.Functions[i] = fi
	}

	// Debug
	n, err = r.readCount()
	if err != nil {
		return fmt.Errorf("load function: line info: %v", err)
	}
	if n > 0 {
		f.LineInfo = make([]int, n)
		for i := range f.LineInfo {
			f.LineInfo[i], err = r.readInt()
			if err != nil {
				return fmt.Errorf("load function: line info: %v", err)
			}
		}
	}
	n, err = r.readCount()
	if err != nil {
		return fmt.Errorf("load function: local variables: %v", err)
	}
	if n > 0 {
		f.LocalVariables = make([]LocalVariable, n)
	}
	for i := range f.LocalVariables {
		f.LocalVariables[i].Name, _, err = r.readString()
		if err != nil {
			return fmt.Errorf("load function: local variables [%d]: name: %v", i, err)
		}
		f.LocalVariables[i].StartPC, err = r.readInt()
		if err != nil {
			return fmt.Errorf("load function: local variables [%d]: start pc: %v", i, err)
		}
		f.LocalVariables[i].EndPC, err = r.readInt()
		if err != nil {
			return fmt.Errorf("load function: local variables [%d]: end pc: %v", i, err)
		}
	}
	n, err = r.readCount()
	if err != nil {
		return fmt.Errorf("load function: upvalue names: %v", err)
	}
	if n != 0 && n != int(f.NumUpvalues) {
		return fmt.Errorf("load function: upvalue names: length (%d) does not match count (%d)", n, f.NumUpvalues)
	}
	if n > 0 {
		f.Upvalues = make([]string, n)
	}
	for i := range f.Upvalues {
		f.Upvalues[i], _, err = r.readString()
		if err != nil {
			return fmt.Errorf("load function: upvalue names [%d]: %v", i, err)
		}
	}

	return nil
}

type chunkReader struct {
	s []byte

	byteOrder binary.ByteOrder
	intSize   int
	sizeTSize int
}

func newChunkReader(s []byte) (*chunkReader, error) {
	r := &chunkReader{s: s}
	if !r.literal(Signature) {
		return nil, errors.New("missing signature")
	}
	var header [8]byte
	if !r.read(header[:]) {
		return nil, io.ErrUnexpectedEOF
	}
	if header[0] != luacVersion {
		return nil, errors.New("version mismatch")
	}
	if header[1] != luacFormat {
		return nil, errors.New("format mismatch")
	}
	switch header[2] {
	case 0:
		r.byteOrder = binary.BigEndian
	case 1:
		r.byteOrder = binary.LittleEndian
	default:
		return nil, fmt.Errorf("invalid endianness flag (%d)", header[2])
	}
	r.intSize = int(header[3])
	if r.intSize != 4 && r.intSize != 8 {
		return nil, fmt.Errorf("unsupported int size (%d)", r.intSize)
	}
	r.sizeTSize = int(header[4])
	if r.sizeTSize != 4 && r.sizeTSize != 8 {
		return nil, fmt.Errorf("unsupported size_t size (%d)", r.sizeTSize)
	}
	if header[5] != 4 {
		return nil, errors.New("instruction size must be 4")
	}
	if header[6] != 8 || header[7] != 0 {
		return nil, errors.New("numbers must be 8-byte floating-point")
	}
	return r, nil
}

func (r *chunkReader) read(p []byte) bool {
	if len(r.s) < len(p) {
		return false
	}
	copy(p, r.s)
	r.s = r.s[len(p):]
	return true
}

func (r *chunkReader) readByte() (byte, bool) {
	if len(r.s) == 0 {
		return 0, false
	}
	b := r.s[0]
	r.s = r.s[1:]
	return b, true
}

func (r *chunkReader) readUint32() (uint32, bool) {
	if len(r.s) < 4 {
		return 0, false
	}
	x := r.byteOrder.Uint32(r.s)
	r.s = r.s[4:]
	return x, true
}

func (r *chunkReader) readSized(size int) (uint64, bool) {
	if len(r.s) < size {
		return 0, false
	}
	var x uint64
	switch size {
	case 4:
		x = uint64(r.byteOrder.Uint32(r.s))
	case 8:
		x = r.byteOrder.Uint64(r.s)
	default:
		return 0, false
	}
	r.s = r.s[size:]
	return x, true
}

func (r *chunkReader) readInt() (int, error) {
	x, ok := r.readSized(r.intSize)
	if !ok {
		return 0, io.ErrUnexpectedEOF
	}
	if r.intSize == 4 {
		return int(int32(uint32(x))), nil
	}
	return int(int64(x)), nil
}

// readCount reads a non-negative int used as a list length.
// The length is bounded by the remaining data
// so that corrupted chunks cannot trigger huge allocations.
func (r *chunkReader) readCount() (int, error) {
	n, err := r.readInt()
	if err != nil {
		return 0, err
	}
	if n < 0 || n > len(r.s) {
		return 0, fmt.Errorf("invalid length %d", n)
	}
	return n, nil
}

func (r *chunkReader) readNumber() (float64, bool) {
	x, ok := r.readSized(8)
	if !ok {
		return 0, false
	}
	return math.Float64frombits(x), true
}

func (r *chunkReader) readString() (s string, valid bool, err error) {
	n, ok := r.readSized(r.sizeTSize)
	if !ok {
		return "", false, io.ErrUnexpectedEOF
	}
	if n == 0 {
		return "", false, nil
	}
	if n > uint64(len(r.s)) {
		return "", false, io.ErrUnexpectedEOF
	}
	// Drop the trailing NUL.
	s = string(r.s[:n-1])
	r.s = r.s[n:]
	return s, true, nil
}

func (r *chunkReader) literal(prefix string) bool {
	if len(r.s) < len(prefix) || string(r.s[:len(prefix)]) != prefix {
		return false
	}
	r.s = r.s[len(prefix):]
	return true
}
