// Copyright 2024 The zb Authors
// SPDX-License-Identifier: MIT

package lua

import (
	"context"
	"sort"
	"strings"
)

// TableLibraryName is the conventional identifier for the table manipulation library.
const TableLibraryName = "table"

func (e *Engine) openTable() *Table {
	return newLib(map[string]Function{
		"concat":   tableConcat,
		"foreach":  tableForEach,
		"foreachi": tableForEachI,
		"getn":     tableGetN,
		"insert":   tableInsert,
		"maxn":     tableMaxN,
		"remove":   tableRemove,
		"setn":     tableSetN,
		"sort":     tableSort,
		"unpack":   baseUnpack,
	})
}

func tableConcat(ctx context.Context, e *Engine, args []Value) ([]Value, error) {
	a := newArgs("concat", args)
	t, err := a.checkTable(1)
	if err != nil {
		return nil, err
	}
	sep, err := a.optString(2, "")
	if err != nil {
		return nil, err
	}
	i, err := a.optInt(3, 1)
	if err != nil {
		return nil, err
	}
	last, err := a.optInt(4, t.Len())
	if err != nil {
		return nil, err
	}

	sb := new(strings.Builder)
	for ; i <= last; i++ {
		s, ok := toStringCoerce(t.Get(Number(i)))
		if !ok {
			return nil, newError(RuntimeError, "invalid value (at index %d) in table for 'concat'", i)
		}
		sb.WriteString(s)
		if i != last {
			sb.WriteString(sep)
		}
	}
	return results(String(sb.String())), nil
}

func tableGetN(ctx context.Context, e *Engine, args []Value) ([]Value, error) {
	t, err := newArgs("getn", args).checkTable(1)
	if err != nil {
		return nil, err
	}
	return results(Number(t.Len())), nil
}

func tableSetN(ctx context.Context, e *Engine, args []Value) ([]Value, error) {
	if _, err := newArgs("setn", args).checkTable(1); err != nil {
		return nil, err
	}
	return nil, newError(RuntimeError, "'setn' is obsolete")
}

func tableMaxN(ctx context.Context, e *Engine, args []Value) ([]Value, error) {
	t, err := newArgs("maxn", args).checkTable(1)
	if err != nil {
		return nil, err
	}
	return results(Number(t.maxNumericKey())), nil
}

func tableInsert(ctx context.Context, e *Engine, args []Value) ([]Value, error) {
	a := newArgs("insert", args)
	t, err := a.checkTable(1)
	if err != nil {
		return nil, err
	}
	n := t.Len() + 1
	var pos int
	switch len(args) {
	case 2:
		pos = n
	case 3:
		pos, err = a.checkInt(2)
		if err != nil {
			return nil, err
		}
		if pos > n {
			n = pos
		}
		for i := n; i > pos; i-- {
			t.Set(Number(i), t.Get(Number(i-1)))
		}
	default:
		return nil, newError(RuntimeError, "wrong number of arguments to 'insert'")
	}
	if err := t.Set(Number(pos), args[len(args)-1]); err != nil {
		return nil, newError(TypeError, "%v", err)
	}
	return nil, nil
}

func tableRemove(ctx context.Context, e *Engine, args []Value) ([]Value, error) {
	a := newArgs("remove", args)
	t, err := a.checkTable(1)
	if err != nil {
		return nil, err
	}
	n := t.Len()
	pos, err := a.optInt(2, n)
	if err != nil {
		return nil, err
	}
	if pos < 1 || pos > n {
		return nil, nil
	}
	removed := t.Get(Number(pos))
	for ; pos < n; pos++ {
		t.Set(Number(pos), t.Get(Number(pos+1)))
	}
	t.Set(Number(n), nil)
	return results(removed), nil
}

func tableForEach(ctx context.Context, e *Engine, args []Value) ([]Value, error) {
	a := newArgs("foreach", args)
	t, err := a.checkTable(1)
	if err != nil {
		return nil, err
	}
	f, err := a.checkFunction(2)
	if err != nil {
		return nil, err
	}
	var k Value
	for {
		var v Value
		k, v, err = t.Next(k)
		if err != nil {
			return nil, newError(RuntimeError, "%v", err)
		}
		if k == nil {
			return nil, nil
		}
		r, err := e.call1(ctx, f, k, v)
		if err != nil {
			return nil, err
		}
		if r != nil {
			return results(r), nil
		}
	}
}

func tableForEachI(ctx context.Context, e *Engine, args []Value) ([]Value, error) {
	a := newArgs("foreachi", args)
	t, err := a.checkTable(1)
	if err != nil {
		return nil, err
	}
	f, err := a.checkFunction(2)
	if err != nil {
		return nil, err
	}
	n := t.Len()
	for i := 1; i <= n; i++ {
		r, err := e.call1(ctx, f, Number(i), t.Get(Number(i)))
		if err != nil {
			return nil, err
		}
		if r != nil {
			return results(r), nil
		}
	}
	return nil, nil
}

func tableSort(ctx context.Context, e *Engine, args []Value) ([]Value, error) {
	a := newArgs("sort", args)
	t, err := a.checkTable(1)
	if err != nil {
		return nil, err
	}
	var less Value
	if !a.isNoneOrNil(2) {
		if less, err = a.checkFunction(2); err != nil {
			return nil, err
		}
	}
	n := t.Len()
	if n < 2 {
		return nil, nil
	}
	sorter := &tableSorter{
		ctx:  ctx,
		e:    e,
		t:    t,
		less: less,
		n:    n,
	}
	sort.Sort(sorter)
	if sorter.err != nil {
		return nil, sorter.err
	}
	return nil, nil
}

// tableSorter is the helper type that implements [sort.Interface]
// for [tableSort].
// Elements are read and written without metamethods.
type tableSorter struct {
	ctx  context.Context
	e    *Engine
	t    *Table
	less Value
	n    int
	err  error
}

func (ts *tableSorter) Len() int {
	return ts.n
}

func (ts *tableSorter) Less(i, j int) bool {
	if ts.err != nil {
		// If we errored out, pretend everything is sorted.
		return i < j
	}
	x := ts.t.Get(Number(1 + i))
	y := ts.t.Get(Number(1 + j))
	if ts.less != nil {
		var r Value
		r, ts.err = ts.e.call1(ts.ctx, ts.less, x, y)
		if ts.err != nil {
			return i < j
		}
		return ToBoolean(r)
	}
	var less bool
	less, ts.err = ts.e.lessThan(ts.ctx, x, y)
	if ts.err != nil {
		return i < j
	}
	return less
}

func (ts *tableSorter) Swap(i, j int) {
	if ts.err != nil {
		return
	}
	x := ts.t.Get(Number(1 + i))
	y := ts.t.Get(Number(1 + j))
	ts.t.Set(Number(1+i), y)
	ts.t.Set(Number(1+j), x)
}
