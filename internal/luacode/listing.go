// Copyright 2024 The zb Authors
// SPDX-License-Identifier: MIT

package luacode

import (
	"bufio"
	"fmt"
	"io"
	"strings"
)

// ListingOptions controls the output of [WriteListing].
type ListingOptions struct {
	// Full includes the constant, local, and upvalue tables of each function.
	Full bool
	// RawPC shows zero-based instruction indices instead of one-based ones.
	RawPC bool
}

// WriteListing writes a human-readable listing of the function
// and all its nested functions to w,
// in a format similar to [luac] -l.
//
// [luac]: https://www.lua.org/manual/5.1/luac.html
func WriteListing(w io.Writer, f *Prototype, opts *ListingOptions) error {
	if opts == nil {
		opts = new(ListingOptions)
	}
	bw := bufio.NewWriter(w)
	functionNames := make(map[*Prototype]string)
	nameFunctions(functionNames, f)
	pcBase := 1
	if opts.RawPC {
		pcBase = 0
	}
	printFunction(bw, f, functionNames, pcBase, opts.Full)
	return bw.Flush()
}

func printFunction(w *bufio.Writer, f *Prototype, functionNames map[*Prototype]string, pcBase int, full bool) {
	var source string
	if s, ok := f.Source.Abstract(); ok {
		source = s
	} else if s, ok := f.Source.Filename(); ok {
		source = s
	} else if strings.HasPrefix(string(f.Source), Signature[:1]) {
		source = "(bstring)"
	} else {
		source = "(string)"
	}
	ifElse := func(b bool, t, f string) string {
		if b {
			return t
		} else {
			return f
		}
	}
	plural := func(n int, unit string, unitPlural string) string {
		if n == 1 {
			return "1 " + unit
		}
		return fmt.Sprintf("%d %s", n, unitPlural)
	}
	pluralUnit := func(n int, unit string, unitPlural string) string {
		if n == 1 {
			return unit
		}
		return unitPlural
	}
	fmt.Fprintf(w,
		"\n%s <%s:%d,%d> (%s for %s)\n",
		ifElse(f.IsMainChunk(), "main", "function"),
		source,
		f.LineDefined,
		f.LastLineDefined,
		plural(len(f.Code), "instruction", "instructions"),
		functionNames[f],
	)
	fmt.Fprintf(w,
		"%d%s %s, %s, %s, %s, %s, %s\n",
		f.NumParams,
		ifElse(f.VarArg.IsVararg(), "+", ""),
		pluralUnit(int(f.NumParams), "param", "params"),
		plural(int(f.MaxStackSize), "slot", "slots"),
		plural(int(f.NumUpvalues), "upvalue", "upvalues"),
		plural(len(f.LocalVariables), "local", "locals"),
		plural(len(f.Constants), "constant", "constants"),
		plural(len(f.Functions), "function", "functions"),
	)

	constant := func(rk int32) string {
		if idx := ConstantIndex(rk); IsConstant(rk) && idx < len(f.Constants) {
			return f.Constants[idx].String()
		}
		return "-"
	}
	for pc, i := range f.Code {
		fmt.Fprintf(w, "\t%d\t", pcBase+pc)
		if line := f.Line(pc); line > 0 {
			fmt.Fprintf(w, "[%d]\t", line)
		} else {
			w.WriteString("[-]\t")
		}
		if pc > 0 && f.Code[pc-1].OpCode == OpSetList && f.Code[pc-1].C == 0 {
			fmt.Fprintf(w, "%-9s %d\n", "(batch)", i.A)
			continue
		}
		w.WriteString(i.String())

		// Contextual comments.
		switch i.OpCode {
		case OpLoadK, OpGetGlobal, OpSetGlobal:
			if int(i.B) < len(f.Constants) {
				fmt.Fprintf(w, "\t; %v", f.Constants[i.B])
			}
		case OpGetUpval, OpSetUpval:
			if name := f.UpvalueName(int(i.B)); name != "" {
				fmt.Fprintf(w, "\t; %s", name)
			}
		case OpGetTable, OpSelf:
			if IsConstant(i.C) {
				fmt.Fprintf(w, "\t; %s", constant(i.C))
			}
		case OpSetTable, OpAdd, OpSub, OpMul, OpDiv, OpMod, OpPow, OpEq, OpLT, OpLE:
			if IsConstant(i.B) || IsConstant(i.C) {
				fmt.Fprintf(w, "\t; %s %s", constant(i.B), constant(i.C))
			}
		case OpJmp, OpForLoop, OpForPrep:
			fmt.Fprintf(w, "\t; to %d", pcBase+pc+1+int(i.B))
		case OpClosure:
			if int(i.B) < len(f.Functions) {
				fmt.Fprintf(w, "\t; %s", functionNames[f.Functions[i.B]])
			}
		}
		w.WriteByte('\n')
	}

	if full {
		fmt.Fprintf(w, "constants (%d) for %s\n", len(f.Constants), functionNames[f])
		for i, k := range f.Constants {
			fmt.Fprintf(w, "\t%d\t%v\n", pcBase+i, k)
		}
		fmt.Fprintf(w, "locals (%d) for %s\n", len(f.LocalVariables), functionNames[f])
		for i, v := range f.LocalVariables {
			fmt.Fprintf(w, "\t%d\t%s\t%d\t%d\n", i, v.Name, pcBase+v.StartPC, pcBase+v.EndPC)
		}
		fmt.Fprintf(w, "upvalues (%d) for %s\n", len(f.Upvalues), functionNames[f])
		for i, name := range f.Upvalues {
			fmt.Fprintf(w, "\t%d\t%s\n", i, name)
		}
	}

	for _, f := range f.Functions {
		printFunction(w, f, functionNames, pcBase, full)
	}
}

func nameFunctions(names map[*Prototype]string, f *Prototype) {
	base := names[f]
	isTop := base == ""
	if isTop {
		if f.IsMainChunk() {
			base = "main"
		} else {
			base = "top"
		}
		names[f] = base
	}

	for i, f := range f.Functions {
		var name string
		if isTop {
			name = fmt.Sprintf("F[%d]", i)
		} else {
			name = fmt.Sprintf("%s[%d]", base, i)
		}
		names[f] = name
		nameFunctions(names, f)
	}
}
