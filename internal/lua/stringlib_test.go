// Copyright 2024 The zb Authors
// SPDX-License-Identifier: MIT

package lua

import (
	"context"
	"math"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"punchdrunk.256lights.llc/pkg/internal/testcontext"
)

// callLib calls a standard library function and returns its results.
func callLib(ctx context.Context, tb testing.TB, e *Engine, lib, name string, args ...Value) []Value {
	tb.Helper()
	got, err := e.Execute(ctx, libFunc(tb, e, lib, name), args...)
	if err != nil {
		tb.Fatalf("%s.%s: %v", lib, name, err)
	}
	return got
}

func TestStringFormat(t *testing.T) {
	tests := []struct {
		format string
		args   []Value
		want   string
	}{
		{format: "", want: ""},
		{format: "abc", want: "abc"},
		{format: "100%%", want: "100%"},
		{format: "%5.2f", args: []Value{Number(3.14159)}, want: " 3.14"},
		{format: "%05d", args: []Value{Number(42)}, want: "00042"},
		{format: "%d", args: []Value{Number(-7)}, want: "-7"},
		{format: "%d", args: []Value{String("12")}, want: "12"},
		{format: "%x", args: []Value{Number(255)}, want: "ff"},
		{format: "%X", args: []Value{Number(255)}, want: "FF"},
		{format: "%o", args: []Value{Number(8)}, want: "10"},
		{format: "%c%c", args: []Value{Number(72), Number(105)}, want: "Hi"},
		{format: "%5s|", args: []Value{String("ab")}, want: "   ab|"},
		{format: "%-5s|", args: []Value{String("ab")}, want: "ab   |"},
		{format: "%.3s", args: []Value{String("abcdef")}, want: "abc"},
		{format: "%s", args: []Value{Number(10)}, want: "10"},
		{format: "%g", args: []Value{Number(0.1)}, want: "0.1"},
		{format: "%g", args: []Value{Number(1e20)}, want: "1e+20"},
		{format: "%e", args: []Value{Number(12345.678)}, want: "1.234568e+04"},
		{format: "%f", args: []Value{Number(math.Inf(1))}, want: "inf"},
		{format: "%5.1f", args: []Value{Number(math.Inf(-1))}, want: " -inf"},
		{format: "%s=%d", args: []Value{String("x"), Number(1)}, want: "x=1"},
	}

	ctx, cancel := testcontext.New(t)
	defer cancel()
	e := newTestEngine(t)
	for _, test := range tests {
		args := append([]Value{String(test.format)}, test.args...)
		got := callLib(ctx, t, e, StringLibraryName, "format", args...)
		if diff := cmp.Diff([]Value{String(test.want)}, got); diff != "" {
			t.Errorf("string.format(%q, ...) (-want +got):\n%s", test.format, diff)
		}
	}
}

func TestStringFormatErrors(t *testing.T) {
	tests := []struct {
		format string
		args   []Value
	}{
		{format: "%d", args: []Value{String("x")}},
		{format: "%d"},
		{format: "%y", args: []Value{Number(1)}},
		{format: "%123d", args: []Value{Number(1)}},
		{format: "%", args: []Value{Number(1)}},
	}

	ctx, cancel := testcontext.New(t)
	defer cancel()
	e := newTestEngine(t)
	format := libFunc(t, e, StringLibraryName, "format")
	for _, test := range tests {
		args := append([]Value{String(test.format)}, test.args...)
		if got, err := e.Execute(ctx, format, args...); err == nil {
			t.Errorf("string.format(%q, ...) = %v, <nil>; want error", test.format, got)
		}
	}
}

func TestStringFind(t *testing.T) {
	tests := []struct {
		s    string
		p    string
		rest []Value
		want []Value
	}{
		{s: "hello world", p: "wor", want: []Value{Number(7), Number(9)}},
		{s: "hello", p: "l+", want: []Value{Number(3), Number(4)}},
		{s: "hello", p: "xyz", want: []Value{nil}},
		{s: "hello", p: "l", rest: []Value{Number(4)}, want: []Value{Number(4), Number(4)}},
		{s: "hello", p: "l", rest: []Value{Number(-2)}, want: []Value{Number(4), Number(4)}},
		{s: "a.b", p: ".", rest: []Value{Number(1), Boolean(true)}, want: []Value{Number(2), Number(2)}},
		{s: "hello", p: "()ll()", want: []Value{Number(3), Number(4), Number(3), Number(5)}},
		{s: "hello", p: "(h)(e)", want: []Value{Number(1), Number(2), String("h"), String("e")}},
		{s: "xhello", p: "^hello", want: []Value{nil}},
		{s: "", p: "", want: []Value{Number(1), Number(0)}},
	}

	ctx, cancel := testcontext.New(t)
	defer cancel()
	e := newTestEngine(t)
	for _, test := range tests {
		args := append([]Value{String(test.s), String(test.p)}, test.rest...)
		got := callLib(ctx, t, e, StringLibraryName, "find", args...)
		if diff := cmp.Diff(test.want, got); diff != "" {
			t.Errorf("string.find(%q, %q, ...) (-want +got):\n%s", test.s, test.p, diff)
		}
	}
}

func TestStringMatch(t *testing.T) {
	tests := []struct {
		s    string
		p    string
		want []Value
	}{
		{s: "key=value", p: "(%w+)=(%w+)", want: []Value{String("key"), String("value")}},
		{s: "  trim  ", p: "^%s*(.-)%s*$", want: []Value{String("trim")}},
		{s: "2024-01-05", p: "(%d+)-(%d+)-(%d+)", want: []Value{String("2024"), String("01"), String("05")}},
		{s: "x(a(b)c)y", p: "%b()", want: []Value{String("(a(b)c)")}},
		{s: "say \"hi\" now", p: "%b\"\"", want: []Value{String("\"hi\"")}},
		{s: "THE (quick) fox", p: "%f[%a]%a+", want: []Value{String("THE")}},
		{s: "hello.world", p: "%.(%a+)", want: []Value{String("world")}},
		{s: "aaab", p: "(a)%1", want: []Value{String("a")}},
		{s: "abc", p: "[^a]+", want: []Value{String("bc")}},
		{s: "a-b", p: "[%w-]+", want: []Value{String("a-b")}},
		{s: "hello", p: "%d", want: []Value{nil}},
		{s: "end$", p: "d%$", want: []Value{String("d$")}},
	}

	ctx, cancel := testcontext.New(t)
	defer cancel()
	e := newTestEngine(t)
	for _, test := range tests {
		got := callLib(ctx, t, e, StringLibraryName, "match", String(test.s), String(test.p))
		if diff := cmp.Diff(test.want, got); diff != "" {
			t.Errorf("string.match(%q, %q) (-want +got):\n%s", test.s, test.p, diff)
		}
	}
}

func TestStringMatchMalformedPattern(t *testing.T) {
	patterns := []string{
		"(",
		")",
		"[a",
		"%",
		"%b",
		"%f",
		"(a)%2",
	}

	ctx, cancel := testcontext.New(t)
	defer cancel()
	e := newTestEngine(t)
	match := libFunc(t, e, StringLibraryName, "match")
	for _, p := range patterns {
		if got, err := e.Execute(ctx, match, String("abc"), String(p)); err == nil {
			t.Errorf("string.match(\"abc\", %q) = %v, <nil>; want error", p, got)
		}
	}
}

func TestStringGMatch(t *testing.T) {
	tests := []struct {
		s    string
		p    string
		want [][]Value
	}{
		{
			s: "one two  three",
			p: "%a+",
			want: [][]Value{
				{String("one")},
				{String("two")},
				{String("three")},
			},
		},
		{
			s: "a=1, b=2",
			p: "(%w+)=(%w+)",
			want: [][]Value{
				{String("a"), String("1")},
				{String("b"), String("2")},
			},
		},
		{
			s: "THE (quick) fox",
			p: "%f[%a]%a+",
			want: [][]Value{
				{String("THE")},
				{String("quick")},
				{String("fox")},
			},
		},
		{
			s: "ab",
			p: "x*",
			want: [][]Value{
				{String("")},
				{String("")},
				{String("")},
			},
		},
		{
			// A leading caret is not an anchor in gmatch.
			s: "^a^b",
			p: "^%a",
			want: [][]Value{
				{String("^a")},
				{String("^b")},
			},
		},
	}

	ctx, cancel := testcontext.New(t)
	defer cancel()
	e := newTestEngine(t)
	for _, test := range tests {
		iter := callLib(ctx, t, e, StringLibraryName, "gmatch", String(test.s), String(test.p))
		var got [][]Value
		for range 10 {
			values, err := e.Execute(ctx, iter[0])
			if err != nil {
				t.Fatal(err)
			}
			if len(values) == 0 || values[0] == nil {
				break
			}
			got = append(got, values)
		}
		if diff := cmp.Diff(test.want, got); diff != "" {
			t.Errorf("string.gmatch(%q, %q) (-want +got):\n%s", test.s, test.p, diff)
		}
	}
}

func TestStringGSub(t *testing.T) {
	vars := NewTable()
	vars.SetString("name", String("Bob"))
	vars.SetString("age", Number(42))
	upper := NewFunction("upper", func(ctx context.Context, e *Engine, args []Value) ([]Value, error) {
		s, _ := args[0].(String)
		return []Value{String(strings.ToUpper(string(s)))}, nil
	})
	keep := NewFunction("keep", func(ctx context.Context, e *Engine, args []Value) ([]Value, error) {
		return []Value{Boolean(false)}, nil
	})

	tests := []struct {
		s     string
		p     string
		repl  Value
		n     Value
		want  string
		count int
	}{
		{s: "hello world", p: "o", repl: String("0"), want: "hell0 w0rld", count: 2},
		{s: "hello world", p: "(%w+)", repl: String("<%1>"), want: "<hello> <world>", count: 2},
		{s: "hello world", p: "%w+", repl: String("%0 %0"), want: "hello hello world world", count: 2},
		{s: "abc", p: "", repl: String("-"), want: "-a-b-c-", count: 4},
		{s: "hello", p: "l", repl: String("L"), n: Number(1), want: "heLlo", count: 1},
		{s: "abc", p: "^a", repl: String("x"), want: "xbc", count: 1},
		{s: "aaa", p: "^a", repl: String("x"), want: "xaa", count: 1},
		{s: "$name is $age", p: "%$(%w+)", repl: vars, want: "Bob is 42", count: 2},
		{s: "$who", p: "%$(%w+)", repl: vars, want: "$who", count: 1},
		{s: "abc", p: "%w", repl: upper, want: "ABC", count: 3},
		{s: "abc", p: "%w", repl: keep, want: "abc", count: 3},
		{s: "100%", p: "%%", repl: String("%%"), want: "100%", count: 1},
		{s: "x = 1", p: "%s", repl: Number(9), want: "x9=91", count: 2},
	}

	ctx, cancel := testcontext.New(t)
	defer cancel()
	e := newTestEngine(t)
	for _, test := range tests {
		args := []Value{String(test.s), String(test.p), test.repl}
		if test.n != nil {
			args = append(args, test.n)
		}
		got := callLib(ctx, t, e, StringLibraryName, "gsub", args...)
		want := []Value{String(test.want), Number(test.count)}
		if diff := cmp.Diff(want, got); diff != "" {
			t.Errorf("string.gsub(%q, %q, %v) (-want +got):\n%s", test.s, test.p, test.repl, diff)
		}
	}
}

func TestStringBasics(t *testing.T) {
	tests := []struct {
		name string
		args []Value
		want []Value
	}{
		{name: "byte", args: []Value{String("ABC")}, want: []Value{Number(65)}},
		{name: "byte", args: []Value{String("ABC"), Number(1), Number(-1)}, want: []Value{Number(65), Number(66), Number(67)}},
		{name: "char", args: []Value{Number(72), Number(105)}, want: []Value{String("Hi")}},
		{name: "len", args: []Value{String("hello")}, want: []Value{Number(5)}},
		{name: "lower", args: []Value{String("HeLLo")}, want: []Value{String("hello")}},
		{name: "upper", args: []Value{String("HeLLo")}, want: []Value{String("HELLO")}},
		{name: "rep", args: []Value{String("ab"), Number(3)}, want: []Value{String("ababab")}},
		{name: "rep", args: []Value{String("ab"), Number(0)}, want: []Value{String("")}},
		{name: "reverse", args: []Value{String("abc")}, want: []Value{String("cba")}},
		{name: "sub", args: []Value{String("hello"), Number(2), Number(-2)}, want: []Value{String("ell")}},
		{name: "sub", args: []Value{String("hello"), Number(-3)}, want: []Value{String("llo")}},
		{name: "sub", args: []Value{String("hello"), Number(4), Number(2)}, want: []Value{String("")}},
		{name: "sub", args: []Value{String("hello"), Number(0), Number(100)}, want: []Value{String("hello")}},
	}

	ctx, cancel := testcontext.New(t)
	defer cancel()
	e := newTestEngine(t)
	for _, test := range tests {
		got := callLib(ctx, t, e, StringLibraryName, test.name, test.args...)
		if diff := cmp.Diff(test.want, got); diff != "" {
			t.Errorf("string.%s%v (-want +got):\n%s", test.name, test.args, diff)
		}
	}
}
