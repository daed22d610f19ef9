// Copyright 2024 The zb Authors
// SPDX-License-Identifier: MIT

package luacode

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"math"

	jsonv2 "github.com/go-json-experiment/json"
	"github.com/go-json-experiment/json/jsontext"
)

// MarshalJSON marshals the function as a JSON module tree.
func (f *Prototype) MarshalJSON() ([]byte, error) {
	buf := new(bytes.Buffer)
	if err := f.MarshalJSONTo(jsontext.NewEncoder(buf)); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// UnmarshalJSON unmarshals a JSON module tree.
func (f *Prototype) UnmarshalJSON(data []byte) error {
	in := jsontext.NewDecoder(bytes.NewReader(data))
	if err := f.UnmarshalJSONFrom(in); err != nil {
		return err
	}
	if _, err := in.ReadToken(); err != io.EOF {
		return errors.New("unmarshal function: trailing data")
	}
	return nil
}

// MarshalJSONTo writes the function to the JSON encoder
// in the module tree format read by [*Prototype.UnmarshalJSONFrom].
func (f *Prototype) MarshalJSONTo(out *jsontext.Encoder) error {
	if err := out.WriteToken(jsontext.BeginObject); err != nil {
		return err
	}
	if f.Source != "" {
		if err := writeMember(out, "sourceName", string(f.Source)); err != nil {
			return err
		}
	}
	members := []struct {
		name  string
		value any
	}{
		{"lineDefined", f.LineDefined},
		{"lastLineDefined", f.LastLineDefined},
		{"upvalueCount", f.NumUpvalues},
		{"paramCount", f.NumParams},
		{"is_vararg", uint8(f.VarArg)},
		{"maxStackSize", f.MaxStackSize},
	}
	for _, m := range members {
		if err := writeMember(out, m.name, m.value); err != nil {
			return err
		}
	}

	if err := out.WriteToken(jsontext.String("instructions")); err != nil {
		return err
	}
	if err := out.WriteToken(jsontext.BeginArray); err != nil {
		return err
	}
	for _, i := range f.Code {
		for _, x := range [4]int32{int32(i.OpCode), i.A, i.B, i.C} {
			if err := out.WriteToken(jsontext.Int(int64(x))); err != nil {
				return err
			}
		}
	}
	if err := out.WriteToken(jsontext.EndArray); err != nil {
		return err
	}

	if err := out.WriteToken(jsontext.String("constants")); err != nil {
		return err
	}
	if err := out.WriteToken(jsontext.BeginArray); err != nil {
		return err
	}
	for i, k := range f.Constants {
		var tok jsontext.Token
		switch k.t {
		case valueTypeNil:
			tok = jsontext.Null
		case valueTypeBoolean:
			tok = jsontext.Bool(k.bits != 0)
		case valueTypeNumber:
			n := math.Float64frombits(k.bits)
			if math.IsNaN(n) || math.IsInf(n, 0) {
				return fmt.Errorf("marshal constants[%d]: %v cannot be represented in JSON", i, n)
			}
			tok = jsontext.Float(n)
		case valueTypeString:
			tok = jsontext.String(k.s)
		}
		if err := out.WriteToken(tok); err != nil {
			return err
		}
	}
	if err := out.WriteToken(jsontext.EndArray); err != nil {
		return err
	}

	if err := out.WriteToken(jsontext.String("functions")); err != nil {
		return err
	}
	if err := out.WriteToken(jsontext.BeginArray); err != nil {
		return err
	}
	for i, p := range f.Functions {
		if err := p.MarshalJSONTo(out); err != nil {
			return fmt.Errorf("marshal functions[%d]: %w", i, err)
		}
	}
	if err := out.WriteToken(jsontext.EndArray); err != nil {
		return err
	}

	locals := make([]jsonLocal, len(f.LocalVariables))
	for i, v := range f.LocalVariables {
		locals[i] = jsonLocal(v)
	}
	upvalues := f.Upvalues
	if upvalues == nil {
		upvalues = []string{}
	}
	lines := f.LineInfo
	if lines == nil {
		lines = []int{}
	}
	if err := writeMember(out, "linePositions", lines); err != nil {
		return err
	}
	if err := writeMember(out, "locals", locals); err != nil {
		return err
	}
	if err := writeMember(out, "upvalues", upvalues); err != nil {
		return err
	}
	if f.SourcePath != "" {
		if err := writeMember(out, "sourcePath", f.SourcePath); err != nil {
			return err
		}
	}
	return out.WriteToken(jsontext.EndObject)
}

func writeMember(out *jsontext.Encoder, name string, value any) error {
	if err := out.WriteToken(jsontext.String(name)); err != nil {
		return err
	}
	if err := jsonv2.MarshalEncode(out, value); err != nil {
		return fmt.Errorf("marshal %s: %w", name, err)
	}
	return nil
}

type jsonLocal struct {
	Name    string `json:"varname"`
	StartPC int    `json:"startpc"`
	EndPC   int    `json:"endpc"`
}

type jsonInstruction struct {
	OpCode int32 `json:"op"`
	A      int32 `json:"A"`
	B      int32 `json:"B"`
	C      int32 `json:"C"`
}

// UnmarshalJSONFrom reads a JSON module tree from the decoder,
// replacing any existing contents of f.
//
// The "instructions" member may be either a flat array
// with four integers per instruction (opcode, A, B, C)
// or an array of objects with "op", "A", "B", and "C" members.
// B holds the decoded Bx or sBx argument for instructions that use them.
// If the tree does not record upvalue counts,
// they are inferred from the instructions following each [OpClosure].
func (f *Prototype) UnmarshalJSONFrom(in *jsontext.Decoder) error {
	unknown := make(map[*Prototype]bool)
	if err := f.unmarshalJSONFrom(in, unknown); err != nil {
		return err
	}
	delete(unknown, f)
	f.inferUpvalueCounts(unknown)
	return nil
}

func (f *Prototype) unmarshalJSONFrom(in *jsontext.Decoder, unknownUpvalues map[*Prototype]bool) error {
	tok, err := in.ReadToken()
	if err != nil {
		return err
	}
	if got := tok.Kind(); got != '{' {
		return fmt.Errorf("function must be an object not a %v", got)
	}
	*f = Prototype{}
	hasUpvalueCount := false

	for {
		keyToken, err := in.ReadToken()
		if err != nil {
			return err
		}
		switch kind := keyToken.Kind(); kind {
		case '}':
			if !hasUpvalueCount {
				if len(f.Upvalues) > 0 {
					f.NumUpvalues = uint8(min(len(f.Upvalues), maxUpvalues))
				} else {
					unknownUpvalues[f] = true
				}
			}
			return nil
		case '"':
			// Keep going.
		default:
			return fmt.Errorf("unexpected non-string key (%v) in object", kind)
		}

		switch k := keyToken.String(); k {
		case "sourceName", "source":
			var s *string
			if err := jsonv2.UnmarshalDecode(in, &s); err != nil {
				return fmt.Errorf("unmarshal %s: %w", k, err)
			}
			if s != nil {
				f.Source = Source(*s)
			}
		case "sourcePath":
			var s *string
			if err := jsonv2.UnmarshalDecode(in, &s); err != nil {
				return fmt.Errorf("unmarshal %s: %w", k, err)
			}
			if s != nil {
				f.SourcePath = *s
			}
		case "lineDefined", "linedefined":
			if err := jsonv2.UnmarshalDecode(in, &f.LineDefined); err != nil {
				return fmt.Errorf("unmarshal %s: %w", k, err)
			}
		case "lastLineDefined", "lastlinedefined":
			if err := jsonv2.UnmarshalDecode(in, &f.LastLineDefined); err != nil {
				return fmt.Errorf("unmarshal %s: %w", k, err)
			}
		case "upvalueCount", "nups":
			if err := jsonv2.UnmarshalDecode(in, &f.NumUpvalues); err != nil {
				return fmt.Errorf("unmarshal %s: %w", k, err)
			}
			hasUpvalueCount = true
		case "paramCount", "numparams":
			if err := jsonv2.UnmarshalDecode(in, &f.NumParams); err != nil {
				return fmt.Errorf("unmarshal %s: %w", k, err)
			}
		case "is_vararg":
			if err := unmarshalVarArg(in, &f.VarArg); err != nil {
				return fmt.Errorf("unmarshal %s: %w", k, err)
			}
		case "maxStackSize", "maxstacksize":
			if err := jsonv2.UnmarshalDecode(in, &f.MaxStackSize); err != nil {
				return fmt.Errorf("unmarshal %s: %w", k, err)
			}
		case "instructions":
			if err := f.unmarshalInstructions(in); err != nil {
				return fmt.Errorf("unmarshal %s: %w", k, err)
			}
		case "constants":
			if err := f.unmarshalConstants(in); err != nil {
				return fmt.Errorf("unmarshal %s: %w", k, err)
			}
		case "functions":
			if err := expectArray(in); err != nil {
				return fmt.Errorf("unmarshal %s: %w", k, err)
			}
			for in.PeekKind() != ']' {
				p := new(Prototype)
				if err := p.unmarshalJSONFrom(in, unknownUpvalues); err != nil {
					return fmt.Errorf("unmarshal functions[%d]: %w", len(f.Functions), err)
				}
				f.Functions = append(f.Functions, p)
			}
			if _, err := in.ReadToken(); err != nil {
				return err
			}
		case "upvalues":
			if err := jsonv2.UnmarshalDecode(in, &f.Upvalues); err != nil {
				return fmt.Errorf("unmarshal %s: %w", k, err)
			}
		case "locals":
			var locals []jsonLocal
			if err := jsonv2.UnmarshalDecode(in, &locals); err != nil {
				return fmt.Errorf("unmarshal %s: %w", k, err)
			}
			f.LocalVariables = make([]LocalVariable, len(locals))
			for i, v := range locals {
				f.LocalVariables[i] = LocalVariable(v)
			}
		case "linePositions":
			if err := jsonv2.UnmarshalDecode(in, &f.LineInfo); err != nil {
				return fmt.Errorf("unmarshal %s: %w", k, err)
			}
		default:
			if reject, _ := jsonv2.GetOption(in.Options(), jsonv2.RejectUnknownMembers); reject {
				return fmt.Errorf("unmarshal function: unknown field %q", k)
			}
			if err := in.SkipValue(); err != nil {
				return err
			}
		}
	}
}

// unmarshalVarArg accepts either the numeric flag set or a boolean.
func unmarshalVarArg(in *jsontext.Decoder, dst *VarArgFlags) error {
	tok, err := in.ReadToken()
	if err != nil {
		return err
	}
	switch tok.Kind() {
	case 't':
		*dst = VarArgIsVararg
	case 'f', 'n':
		*dst = 0
	case '0':
		n := tok.Int()
		if n < 0 || n > 0xff {
			return fmt.Errorf("flags %d out of range", n)
		}
		*dst = VarArgFlags(n)
	default:
		return fmt.Errorf("unexpected %v", tok.Kind())
	}
	return nil
}

func (f *Prototype) unmarshalInstructions(in *jsontext.Decoder) error {
	if err := expectArray(in); err != nil {
		return err
	}
	if in.PeekKind() == '{' {
		for in.PeekKind() != ']' {
			var ji jsonInstruction
			if err := jsonv2.UnmarshalDecode(in, &ji); err != nil {
				return err
			}
			if ji.OpCode < 0 || ji.OpCode > 0xff {
				return fmt.Errorf("invalid opcode %d", ji.OpCode)
			}
			f.Code = append(f.Code, Instruction{
				OpCode: OpCode(ji.OpCode),
				A:      ji.A,
				B:      ji.B,
				C:      ji.C,
			})
		}
		_, err := in.ReadToken()
		return err
	}

	var fields [4]int32
	n := 0
	for {
		tok, err := in.ReadToken()
		if err != nil {
			return err
		}
		switch tok.Kind() {
		case ']':
			if n != 0 {
				return errors.New("instruction list length is not a multiple of 4")
			}
			return nil
		case '0':
			x := tok.Int()
			if x < math.MinInt32 || x > math.MaxInt32 {
				return fmt.Errorf("operand %d out of range", x)
			}
			fields[n] = int32(x)
		default:
			return fmt.Errorf("unexpected %v in instruction list", tok.Kind())
		}
		n++
		if n == len(fields) {
			if fields[0] < 0 || fields[0] > 0xff {
				return fmt.Errorf("invalid opcode %d", fields[0])
			}
			f.Code = append(f.Code, Instruction{
				OpCode: OpCode(fields[0]),
				A:      fields[1],
				B:      fields[2],
				C:      fields[3],
			})
			n = 0
		}
	}
}

func (f *Prototype) unmarshalConstants(in *jsontext.Decoder) error {
	if err := expectArray(in); err != nil {
		return err
	}
	for {
		tok, err := in.ReadToken()
		if err != nil {
			return err
		}
		switch tok.Kind() {
		case ']':
			return nil
		case 'n':
			f.Constants = append(f.Constants, Value{})
		case 't', 'f':
			f.Constants = append(f.Constants, BoolValue(tok.Bool()))
		case '0':
			f.Constants = append(f.Constants, NumberValue(tok.Float()))
		case '"':
			f.Constants = append(f.Constants, StringValue(tok.String()))
		default:
			return fmt.Errorf("unexpected %v in constant list", tok.Kind())
		}
	}
}

func expectArray(in *jsontext.Decoder) error {
	tok, err := in.ReadToken()
	if err != nil {
		return err
	}
	if got := tok.Kind(); got != '[' {
		return fmt.Errorf("expected array, got %v", got)
	}
	return nil
}
