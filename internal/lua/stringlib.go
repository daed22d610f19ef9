// Copyright 2024 The zb Authors
// SPDX-License-Identifier: MIT

package lua

import (
	"context"
	"fmt"
	"math"
	"strings"

	"punchdrunk.256lights.llc/pkg/internal/luacode"
	"punchdrunk.256lights.llc/pkg/internal/lualex"
)

// StringLibraryName is the conventional identifier for the string manipulation library.
const StringLibraryName = "string"

// maxStringSize is the largest string that string.rep will build.
const maxStringSize = 1 << 30

// openString opens the string library
// and installs the metatable shared by all strings.
//
// # Differences from de facto C implementation
//
//   - Character classes always use the C locale.
//   - string.dump produces the JSON module tree, not a luac binary chunk.
func (e *Engine) openString() *Table {
	lib := newLib(map[string]Function{
		"byte":    stringByte,
		"char":    stringChar,
		"dump":    stringDump,
		"find":    stringFind,
		"format":  stringFormat,
		"gmatch":  stringGMatch,
		"gsub":    stringGSub,
		"len":     stringLen,
		"lower":   stringLower,
		"match":   stringMatch,
		"rep":     stringRepeat,
		"reverse": stringReverse,
		"sub":     stringSub,
		"upper":   stringUpper,
	})
	e.stringMeta = NewTable()
	e.stringMeta.SetString("__index", lib)
	return lib
}

// posrelat converts a possibly negative string position
// to a position relative to the start of a string of length n.
func posrelat(pos, n int) int {
	if pos < 0 {
		pos += n + 1
	}
	return pos
}

func stringByte(ctx context.Context, e *Engine, args []Value) ([]Value, error) {
	a := newArgs("byte", args)
	s, err := a.checkString(1)
	if err != nil {
		return nil, err
	}
	i, err := a.optInt(2, 1)
	if err != nil {
		return nil, err
	}
	posi := posrelat(i, len(s))
	j, err := a.optInt(3, posi)
	if err != nil {
		return nil, err
	}
	pose := posrelat(j, len(s))
	posi = max(posi, 1)
	pose = min(pose, len(s))
	if posi > pose {
		return nil, nil
	}
	out := make([]Value, 0, pose-posi+1)
	for k := posi - 1; k < pose; k++ {
		out = append(out, Number(s[k]))
	}
	return out, nil
}

func stringChar(ctx context.Context, e *Engine, args []Value) ([]Value, error) {
	a := newArgs("char", args)
	sb := new(strings.Builder)
	sb.Grow(len(args))
	for i := range args {
		c, err := a.checkInt(i + 1)
		if err != nil {
			return nil, err
		}
		if c < 0 || c > 0xff {
			return nil, a.argError(i+1, "invalid value")
		}
		sb.WriteByte(byte(c))
	}
	return results(String(sb.String())), nil
}

func stringDump(ctx context.Context, e *Engine, args []Value) ([]Value, error) {
	a := newArgs("dump", args)
	fn, err := a.checkFunction(1)
	if err != nil {
		return nil, err
	}
	cl, ok := fn.(*Closure)
	if !ok {
		return nil, newError(RuntimeError, "unable to dump given function")
	}
	data, err := cl.proto.Encode(luacode.FormatJSON)
	if err != nil {
		return nil, err
	}
	return results(String(data)), nil
}

func stringLen(ctx context.Context, e *Engine, args []Value) ([]Value, error) {
	s, err := newArgs("len", args).checkString(1)
	if err != nil {
		return nil, err
	}
	return results(Number(len(s))), nil
}

func stringLower(ctx context.Context, e *Engine, args []Value) ([]Value, error) {
	s, err := newArgs("lower", args).checkString(1)
	if err != nil {
		return nil, err
	}
	b := []byte(s)
	for i, c := range b {
		if 'A' <= c && c <= 'Z' {
			b[i] = c + ('a' - 'A')
		}
	}
	return results(String(b)), nil
}

func stringUpper(ctx context.Context, e *Engine, args []Value) ([]Value, error) {
	s, err := newArgs("upper", args).checkString(1)
	if err != nil {
		return nil, err
	}
	b := []byte(s)
	for i, c := range b {
		if 'a' <= c && c <= 'z' {
			b[i] = c - ('a' - 'A')
		}
	}
	return results(String(b)), nil
}

func stringRepeat(ctx context.Context, e *Engine, args []Value) ([]Value, error) {
	a := newArgs("rep", args)
	s, err := a.checkString(1)
	if err != nil {
		return nil, err
	}
	n, err := a.checkInt(2)
	if err != nil {
		return nil, err
	}
	if n <= 0 || s == "" {
		return results(String("")), nil
	}
	if len(s) > maxStringSize/n {
		return nil, newError(RuntimeError, "resulting string too large")
	}
	return results(String(strings.Repeat(s, n))), nil
}

func stringReverse(ctx context.Context, e *Engine, args []Value) ([]Value, error) {
	s, err := newArgs("reverse", args).checkString(1)
	if err != nil {
		return nil, err
	}
	b := make([]byte, len(s))
	for i := range len(s) {
		b[len(s)-1-i] = s[i]
	}
	return results(String(b)), nil
}

func stringSub(ctx context.Context, e *Engine, args []Value) ([]Value, error) {
	a := newArgs("sub", args)
	s, err := a.checkString(1)
	if err != nil {
		return nil, err
	}
	i, err := a.checkInt(2)
	if err != nil {
		return nil, err
	}
	j, err := a.optInt(3, -1)
	if err != nil {
		return nil, err
	}
	start := max(posrelat(i, len(s)), 1)
	end := min(posrelat(j, len(s)), len(s))
	if start > end {
		return results(String("")), nil
	}
	return results(String(s[start-1 : end])), nil
}

// patternSpecials are the bytes that make a pattern
// require more than a plain substring search.
const patternSpecials = "^$*+?.([%-"

func stringFind(ctx context.Context, e *Engine, args []Value) ([]Value, error) {
	return e.strFind(ctx, newArgs("find", args), true)
}

func stringMatch(ctx context.Context, e *Engine, args []Value) ([]Value, error) {
	return e.strFind(ctx, newArgs("match", args), false)
}

func (e *Engine) strFind(ctx context.Context, a argList, find bool) ([]Value, error) {
	s, err := a.checkString(1)
	if err != nil {
		return nil, err
	}
	p, err := a.checkString(2)
	if err != nil {
		return nil, err
	}
	init, err := a.optInt(3, 1)
	if err != nil {
		return nil, err
	}
	init = posrelat(init, len(s)) - 1
	init = min(max(init, 0), len(s))

	if find && (ToBoolean(a.arg(4)) || !strings.ContainsAny(p, patternSpecials)) {
		i := strings.Index(s[init:], p)
		if i < 0 {
			return results(nil), nil
		}
		return results(Number(init+i+1), Number(init+i+len(p))), nil
	}

	pat, err := e.compilePattern(p, true)
	if err != nil {
		return nil, newError(RuntimeError, "%v", err)
	}
	match, err := pat.find(subjectRunes(s), init)
	if err != nil {
		return nil, err
	}
	if match == nil {
		return results(nil), nil
	}
	if !find {
		return pat.captures(s, match, true), nil
	}
	out := []Value{Number(match[0] + 1), Number(match[1])}
	return append(out, pat.captures(s, match, false)...), nil
}

func stringGMatch(ctx context.Context, e *Engine, args []Value) ([]Value, error) {
	a := newArgs("gmatch", args)
	s, err := a.checkString(1)
	if err != nil {
		return nil, err
	}
	p, err := a.checkString(2)
	if err != nil {
		return nil, err
	}
	pat, err := e.compilePattern(p, false)
	if err != nil {
		return nil, newError(RuntimeError, "%v", err)
	}
	subject := subjectRunes(s)
	src := 0
	iter := NewFunction("gmatch_aux", func(ctx context.Context, e *Engine, args []Value) ([]Value, error) {
		if src > len(subject) {
			return results(nil), nil
		}
		match, err := pat.find(subject, src)
		if err != nil {
			return nil, err
		}
		if match == nil {
			src = len(subject) + 1
			return results(nil), nil
		}
		src = match[1]
		if match[1] == match[0] {
			src++
		}
		return pat.captures(s, match, true), nil
	})
	return results(iter), nil
}

func stringGSub(ctx context.Context, e *Engine, args []Value) ([]Value, error) {
	a := newArgs("gsub", args)
	src, err := a.checkString(1)
	if err != nil {
		return nil, err
	}
	p, err := a.checkString(2)
	if err != nil {
		return nil, err
	}
	repl := a.arg(3)
	switch repl.(type) {
	case Number, String, *Table, *Closure, *GoFunction:
	default:
		return nil, a.argError(3, "string/function/table expected")
	}
	maxN, err := a.optInt(4, len(src)+1)
	if err != nil {
		return nil, err
	}

	pat, err := e.compilePattern(p, true)
	if err != nil {
		return nil, newError(RuntimeError, "%v", err)
	}
	subject := subjectRunes(src)
	sb := new(strings.Builder)
	pos, n := 0, 0
	for n < maxN {
		match, err := pat.find(subject, pos)
		if err != nil {
			return nil, err
		}
		if match == nil {
			break
		}
		n++
		sb.WriteString(src[pos:match[0]])
		if err := e.gsubReplace(ctx, sb, src, pat, match, repl); err != nil {
			return nil, err
		}
		switch {
		case match[1] > match[0]:
			pos = match[1]
		case match[0] < len(src):
			sb.WriteByte(src[match[0]])
			pos = match[0] + 1
		default:
			pos = len(src) + 1
		}
		if pos > len(src) || pat.anchored {
			break
		}
	}
	if pos < len(src) {
		sb.WriteString(src[pos:])
	}
	return results(String(sb.String()), Number(n)), nil
}

// gsubReplace appends the replacement for a single match.
func (e *Engine) gsubReplace(ctx context.Context, sb *strings.Builder, src string, pat *pattern, match []int, repl Value) error {
	whole := src[match[0]:match[1]]
	var v Value
	switch r := repl.(type) {
	case String, Number:
		news, _ := toStringCoerce(r)
		caps := pat.captures(src, match, true)
		for i := 0; i < len(news); i++ {
			c := news[i]
			if c != '%' {
				sb.WriteByte(c)
				continue
			}
			i++
			if i >= len(news) {
				break
			}
			c = news[i]
			switch {
			case c == '0':
				sb.WriteString(whole)
			case '1' <= c && c <= '9':
				idx := int(c - '1')
				if idx >= len(caps) {
					return newError(RuntimeError, "invalid capture index")
				}
				s, _ := toStringCoerce(caps[idx])
				sb.WriteString(s)
			default:
				sb.WriteByte(c)
			}
		}
		return nil
	case *Table:
		var err error
		v, err = e.index(ctx, r, pat.captures(src, match, true)[0])
		if err != nil {
			return err
		}
	default:
		res, err := e.Call(ctx, r, pat.captures(src, match, true)...)
		if err != nil {
			return err
		}
		if len(res) > 0 {
			v = res[0]
		}
	}
	if !ToBoolean(v) {
		sb.WriteString(whole)
		return nil
	}
	s, ok := toStringCoerce(v)
	if !ok {
		return newError(TypeError, "invalid replacement value (a %s)", typeName(v))
	}
	sb.WriteString(s)
	return nil
}

func stringFormat(ctx context.Context, e *Engine, args []Value) ([]Value, error) {
	a := newArgs("format", args)
	format, err := a.checkString(1)
	if err != nil {
		return nil, err
	}

	arg := 1
	sb := new(strings.Builder)
	for len(format) > 0 {
		var spec string
		spec, format, err = cutFormatSpecifier(format)
		if err != nil {
			return nil, newError(RuntimeError, "%v", err)
		}
		if !strings.HasPrefix(spec, "%") {
			sb.WriteString(spec)
			continue
		}
		c := spec[len(spec)-1]
		if c == '%' {
			sb.WriteByte('%')
			continue
		}
		arg++
		options := spec[1 : len(spec)-1]
		switch c {
		case 'd', 'i':
			n, err := a.checkNumber(arg)
			if err != nil {
				return nil, err
			}
			fmt.Fprintf(sb, "%"+options+"d", toInteger(n))
		case 'u':
			n, err := a.checkNumber(arg)
			if err != nil {
				return nil, err
			}
			fmt.Fprintf(sb, "%"+options+"d", uint64(toInteger(n)))
		case 'o', 'x', 'X':
			n, err := a.checkNumber(arg)
			if err != nil {
				return nil, err
			}
			fmt.Fprintf(sb, spec, uint64(toInteger(n)))
		case 'c':
			n, err := a.checkNumber(arg)
			if err != nil {
				return nil, err
			}
			padBytes(sb, options, string([]byte{byte(toInteger(n))}))
		case 'e', 'E', 'f', 'g', 'G':
			n, err := a.checkNumber(arg)
			if err != nil {
				return nil, err
			}
			formatFloat(sb, options, c, n)
		case 'q':
			s, err := a.checkString(arg)
			if err != nil {
				return nil, err
			}
			sb.WriteString(lualex.QuoteFormat(s))
		case 's':
			s, err := a.checkString(arg)
			if err != nil {
				return nil, err
			}
			if !strings.Contains(options, ".") && len(s) >= 100 {
				// No precision and the string is too long to be formatted.
				sb.WriteString(s)
			} else {
				padBytes(sb, options, s)
			}
		}
	}
	return results(String(sb.String())), nil
}

// formatFlags are the flags accepted in a string.format specifier.
const formatFlags = "-+ #0"

// cutFormatSpecifier splits the first directive or literal byte from s.
func cutFormatSpecifier(s string) (spec, tail string, err error) {
	if s[0] != '%' {
		i := strings.IndexByte(s, '%')
		if i < 0 {
			return s, "", nil
		}
		if i == 0 {
			i = 1
		}
		return s[:i], s[i:], nil
	}
	if strings.HasPrefix(s, "%%") {
		return "%%", s[2:], nil
	}
	i := 1
	flagsLength := findRunEnd(s[i:], formatFlags)
	if flagsLength >= len(formatFlags)+1 {
		return "", "", fmt.Errorf("invalid format (repeated flags)")
	}
	i += flagsLength
	digits := findRunEnd(s[i:], "0123456789")
	i += digits
	if digits > 2 {
		return "", "", fmt.Errorf("invalid format (width or precision too long)")
	}
	if i < len(s) && s[i] == '.' {
		i++
		digits := findRunEnd(s[i:], "0123456789")
		i += digits
		if digits > 2 {
			return "", "", fmt.Errorf("invalid format (width or precision too long)")
		}
	}
	if i >= len(s) {
		return "", "", fmt.Errorf("invalid option '%s' to 'format'", s)
	}
	switch s[i] {
	case 'd', 'i', 'u', 'c', 'o', 'x', 'X', 'e', 'E', 'f', 'g', 'G', 'q', 's':
		return s[:i+1], s[i+1:], nil
	default:
		return "", "", fmt.Errorf("invalid option '%%%c' to 'format'", s[i])
	}
}

func findRunEnd(s string, charset string) int {
	n := 0
	for n < len(s) && strings.IndexByte(charset, s[n]) != -1 {
		n++
	}
	return n
}

// formatFloat formats a floating-point directive the way C's printf does.
func formatFloat(sb *strings.Builder, options string, verb byte, f float64) {
	if math.IsInf(f, 0) || math.IsNaN(f) {
		var s string
		switch {
		case math.IsNaN(f):
			s = "nan"
		case f < 0:
			s = "-inf"
		case strings.Contains(options, "+"):
			s = "+inf"
		case strings.Contains(options, " "):
			s = " inf"
		default:
			s = "inf"
		}
		if verb == 'E' || verb == 'G' {
			s = strings.ToUpper(s)
		}
		// Zero padding and precision do not apply to non-finite values.
		width, _, _ := strings.Cut(options, ".")
		padBytes(sb, strings.ReplaceAll(width, "0", ""), s)
		return
	}
	if (verb == 'g' || verb == 'G') && !strings.Contains(options, ".") {
		// C defaults to a precision of 6 for %g.
		options += ".6"
	}
	fmt.Fprintf(sb, "%"+options+string(verb), f)
}

// padBytes writes s with the width and precision in options,
// measuring in bytes.
func padBytes(sb *strings.Builder, options string, s string) {
	flags := options[:findRunEnd(options, formatFlags)]
	leftJustify := strings.Contains(flags, "-")
	options = options[len(flags):]
	widthString, precisionString, hasPrecision := strings.Cut(options, ".")
	if hasPrecision {
		precision := atoiDigits(precisionString)
		if len(s) > precision {
			s = s[:precision]
		}
	}
	pad := atoiDigits(widthString) - len(s)
	if !leftJustify {
		for range pad {
			sb.WriteByte(' ')
		}
	}
	sb.WriteString(s)
	if leftJustify {
		for range pad {
			sb.WriteByte(' ')
		}
	}
}

// atoiDigits converts a validated run of at most two decimal digits.
func atoiDigits(s string) int {
	n := 0
	for i := 0; i < len(s); i++ {
		n = n*10 + int(s[i]-'0')
	}
	return n
}
