// Copyright 2024 The zb Authors
// SPDX-License-Identifier: MIT

package lua

import (
	"maps"
	"math"
	"slices"
)

// argList is the argument list of a Go function,
// annotated with the function's name for error messages.
// Argument numbers are 1-based.
type argList struct {
	fname  string
	values []Value
}

func newArgs(fname string, values []Value) argList {
	return argList{fname: fname, values: values}
}

func (a argList) len() int {
	return len(a.values)
}

// arg returns the n-th argument or nil if it is absent.
func (a argList) arg(n int) Value {
	if n < 1 || n > len(a.values) {
		return nil
	}
	return a.values[n-1]
}

func (a argList) present(n int) bool {
	return 1 <= n && n <= len(a.values)
}

// isNoneOrNil reports whether the n-th argument is absent or nil.
func (a argList) isNoneOrNil(n int) bool {
	return a.arg(n) == nil
}

func (a argList) argError(n int, msg string) *Error {
	return NewArgError(a.fname, n, msg)
}

func (a argList) typeError(n int, expected string) *Error {
	return NewTypeError(a.fname, n, expected, a.arg(n), a.present(n))
}

func (a argList) checkAny(n int) (Value, error) {
	if !a.present(n) {
		return nil, a.argError(n, "value expected")
	}
	return a.arg(n), nil
}

func (a argList) checkTable(n int) (*Table, error) {
	t, ok := a.arg(n).(*Table)
	if !ok {
		return nil, a.typeError(n, TypeTable.String())
	}
	return t, nil
}

func (a argList) checkFunction(n int) (Value, error) {
	v := a.arg(n)
	if !isFunction(v) {
		return nil, a.typeError(n, TypeFunction.String())
	}
	return v, nil
}

func (a argList) checkCoroutine(n int) (*Coroutine, error) {
	co, ok := a.arg(n).(*Coroutine)
	if !ok {
		return nil, a.typeError(n, "coroutine")
	}
	return co, nil
}

// checkNumber returns the n-th argument as a number,
// converting numeric strings.
func (a argList) checkNumber(n int) (float64, error) {
	f, ok := ToNumber(a.arg(n))
	if !ok {
		return 0, a.typeError(n, TypeNumber.String())
	}
	return f, nil
}

// checkInteger returns the n-th argument truncated to an integer.
func (a argList) checkInteger(n int) (int64, error) {
	f, err := a.checkNumber(n)
	if err != nil {
		return 0, err
	}
	return toInteger(f), nil
}

// checkInt is like checkInteger but returns an int.
func (a argList) checkInt(n int) (int, error) {
	i, err := a.checkInteger(n)
	return int(i), err
}

// checkString returns the n-th argument as a string,
// converting numbers.
func (a argList) checkString(n int) (string, error) {
	s, ok := toStringCoerce(a.arg(n))
	if !ok {
		return "", a.typeError(n, TypeString.String())
	}
	return s, nil
}

func (a argList) optNumber(n int, def float64) (float64, error) {
	if a.isNoneOrNil(n) {
		return def, nil
	}
	return a.checkNumber(n)
}

func (a argList) optInt(n int, def int) (int, error) {
	if a.isNoneOrNil(n) {
		return def, nil
	}
	return a.checkInt(n)
}

func (a argList) optString(n int, def string) (string, error) {
	if a.isNoneOrNil(n) {
		return def, nil
	}
	return a.checkString(n)
}

// toInteger truncates a number toward zero,
// saturating at the limits of int64.
// NaN converts to zero.
func toInteger(f float64) int64 {
	switch {
	case math.IsNaN(f):
		return 0
	case f >= math.MaxInt64:
		return math.MaxInt64
	case f <= math.MinInt64:
		return math.MinInt64
	default:
		return int64(f)
	}
}

// newLib returns a table of functions.
func newLib(reg map[string]Function) *Table {
	tab := newTable(0, len(reg))
	setFuncs(tab, reg)
	return tab
}

// setFuncs stores each function in reg into tab.
func setFuncs(tab *Table, reg map[string]Function) {
	for _, name := range slices.Sorted(maps.Keys(reg)) {
		tab.SetString(name, NewFunction(name, reg[name]))
	}
}

// results is shorthand for a Go function's result list.
func results(values ...Value) []Value {
	return values
}
