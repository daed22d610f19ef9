// Copyright 2024 The zb Authors
// SPDX-License-Identifier: MIT

package lua

import (
	"context"
	"testing"

	"github.com/google/go-cmp/cmp"
	"punchdrunk.256lights.llc/pkg/internal/testcontext"
)

// newSequence returns a table with the given values at keys 1..n.
func newSequence(values ...Value) *Table {
	tab := NewTable()
	for i, v := range values {
		tab.Set(Number(i+1), v)
	}
	return tab
}

// sequenceValues returns the values at keys 1..tab.Len().
func sequenceValues(tab *Table) []Value {
	values := make([]Value, tab.Len())
	for i := range values {
		values[i] = tab.Get(Number(i + 1))
	}
	return values
}

func TestTableRemove(t *testing.T) {
	ctx, cancel := testcontext.New(t)
	defer cancel()
	e := newTestEngine(t)

	tab := newSequence(String("a"), String("b"), String("c"))
	if got := tab.Len(); got != 3 {
		t.Fatalf("#t = %d; want 3", got)
	}
	got := callLib(ctx, t, e, TableLibraryName, "remove", tab, Number(2))
	if diff := cmp.Diff([]Value{String("b")}, got); diff != "" {
		t.Errorf("table.remove(t, 2) (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]Value{String("a"), String("c")}, sequenceValues(tab)); diff != "" {
		t.Errorf("t after remove (-want +got):\n%s", diff)
	}

	got = callLib(ctx, t, e, TableLibraryName, "remove", tab)
	if diff := cmp.Diff([]Value{String("c")}, got); diff != "" {
		t.Errorf("table.remove(t) (-want +got):\n%s", diff)
	}
	if got := tab.Len(); got != 1 {
		t.Errorf("#t = %d; want 1", got)
	}

	if got := callLib(ctx, t, e, TableLibraryName, "remove", NewTable()); len(got) != 0 {
		t.Errorf("table.remove({}) = %v; want no values", got)
	}
}

func TestTableInsert(t *testing.T) {
	ctx, cancel := testcontext.New(t)
	defer cancel()
	e := newTestEngine(t)

	tab := newSequence(String("a"), String("c"))
	callLib(ctx, t, e, TableLibraryName, "insert", tab, String("d"))
	callLib(ctx, t, e, TableLibraryName, "insert", tab, Number(2), String("b"))
	callLib(ctx, t, e, TableLibraryName, "insert", tab, Number(1), String("_"))
	want := []Value{String("_"), String("a"), String("b"), String("c"), String("d")}
	if diff := cmp.Diff(want, sequenceValues(tab)); diff != "" {
		t.Errorf("t after inserts (-want +got):\n%s", diff)
	}

	insert := libFunc(t, e, TableLibraryName, "insert")
	_, err := e.Execute(ctx, insert, tab, Number(1), String("x"), String("y"))
	if err == nil {
		t.Fatal("table.insert with 4 arguments did not fail")
	}
	if got, want := err.Error(), "wrong number of arguments to 'insert'"; got != want {
		t.Errorf("error = %q; want %q", got, want)
	}
}

func TestTableConcat(t *testing.T) {
	tests := []struct {
		name string
		args []Value
		want string
	}{
		{
			name: "NoSeparator",
			args: []Value{newSequence(String("a"), String("b"), String("c"))},
			want: "abc",
		},
		{
			name: "Separator",
			args: []Value{newSequence(String("a"), Number(1), String("c")), String(", ")},
			want: "a, 1, c",
		},
		{
			name: "Range",
			args: []Value{newSequence(String("a"), String("b"), String("c")), String("-"), Number(2), Number(3)},
			want: "b-c",
		},
		{
			name: "EmptyRange",
			args: []Value{newSequence(String("a")), String("-"), Number(3), Number(2)},
			want: "",
		},
		{
			name: "Empty",
			args: []Value{NewTable()},
			want: "",
		},
	}

	ctx, cancel := testcontext.New(t)
	defer cancel()
	e := newTestEngine(t)
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			got := callLib(ctx, t, e, TableLibraryName, "concat", test.args...)
			if diff := cmp.Diff([]Value{String(test.want)}, got); diff != "" {
				t.Errorf("table.concat (-want +got):\n%s", diff)
			}
		})
	}

	t.Run("InvalidValue", func(t *testing.T) {
		_, err := e.Execute(ctx, libFunc(t, e, TableLibraryName, "concat"), newSequence(String("a"), Boolean(true)))
		if err == nil {
			t.Fatal("table.concat did not fail")
		}
		if got, want := err.Error(), "invalid value (at index 2) in table for 'concat'"; got != want {
			t.Errorf("error = %q; want %q", got, want)
		}
	})
}

func TestTableSort(t *testing.T) {
	ctx, cancel := testcontext.New(t)
	defer cancel()
	e := newTestEngine(t)

	t.Run("Numbers", func(t *testing.T) {
		tab := newSequence(Number(3), Number(1), Number(2), Number(5), Number(4))
		callLib(ctx, t, e, TableLibraryName, "sort", tab)
		want := []Value{Number(1), Number(2), Number(3), Number(4), Number(5)}
		if diff := cmp.Diff(want, sequenceValues(tab)); diff != "" {
			t.Errorf("sorted (-want +got):\n%s", diff)
		}
	})

	t.Run("Strings", func(t *testing.T) {
		tab := newSequence(String("pear"), String("apple"), String("fig"))
		callLib(ctx, t, e, TableLibraryName, "sort", tab)
		want := []Value{String("apple"), String("fig"), String("pear")}
		if diff := cmp.Diff(want, sequenceValues(tab)); diff != "" {
			t.Errorf("sorted (-want +got):\n%s", diff)
		}
	})

	t.Run("Comparator", func(t *testing.T) {
		greater := NewFunction("greater", func(ctx context.Context, e *Engine, args []Value) ([]Value, error) {
			x, _ := args[0].(Number)
			y, _ := args[1].(Number)
			return []Value{Boolean(x > y)}, nil
		})
		tab := newSequence(Number(3), Number(1), Number(2))
		callLib(ctx, t, e, TableLibraryName, "sort", tab, greater)
		want := []Value{Number(3), Number(2), Number(1)}
		if diff := cmp.Diff(want, sequenceValues(tab)); diff != "" {
			t.Errorf("sorted (-want +got):\n%s", diff)
		}
	})

	t.Run("MixedTypes", func(t *testing.T) {
		tab := newSequence(Number(1), String("x"), Number(2))
		_, err := e.Execute(ctx, libFunc(t, e, TableLibraryName, "sort"), tab)
		if err == nil {
			t.Error("sorting mixed types did not fail")
		}
	})
}

func TestTableLengthFunctions(t *testing.T) {
	ctx, cancel := testcontext.New(t)
	defer cancel()
	e := newTestEngine(t)

	tab := newSequence(String("a"), String("b"))
	tab.Set(Number(10), String("j"))
	tab.Set(Number(2.5), String("frac"))

	got := callLib(ctx, t, e, TableLibraryName, "getn", tab)
	if diff := cmp.Diff([]Value{Number(2)}, got); diff != "" {
		t.Errorf("table.getn (-want +got):\n%s", diff)
	}
	got = callLib(ctx, t, e, TableLibraryName, "maxn", tab)
	if diff := cmp.Diff([]Value{Number(10)}, got); diff != "" {
		t.Errorf("table.maxn (-want +got):\n%s", diff)
	}
	_, err := e.Execute(ctx, libFunc(t, e, TableLibraryName, "setn"), tab, Number(5))
	if err == nil || err.Error() != "'setn' is obsolete" {
		t.Errorf("table.setn error = %v; want 'setn' is obsolete", err)
	}
}

func TestTableForEach(t *testing.T) {
	ctx, cancel := testcontext.New(t)
	defer cancel()
	e := newTestEngine(t)

	var visited []Value
	visit := NewFunction("visit", func(ctx context.Context, e *Engine, args []Value) ([]Value, error) {
		visited = append(visited, args[1])
		if args[1] == Value(String("stop")) {
			return []Value{String("stopped")}, nil
		}
		return nil, nil
	})
	tab := newSequence(String("a"), String("stop"), String("c"))
	got := callLib(ctx, t, e, TableLibraryName, "foreachi", tab, visit)
	if diff := cmp.Diff([]Value{String("stopped")}, got); diff != "" {
		t.Errorf("table.foreachi result (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]Value{String("a"), String("stop")}, visited); diff != "" {
		t.Errorf("table.foreachi visited (-want +got):\n%s", diff)
	}
}
