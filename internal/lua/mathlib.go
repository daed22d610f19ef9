// Copyright 2024 The zb Authors
// SPDX-License-Identifier: MIT

package lua

import (
	"context"
	"math"
)

// MathLibraryName is the conventional identifier for the [math library].
//
// [math library]: https://www.lua.org/manual/5.1/manual.html#5.6
const MathLibraryName = "math"

// Parameters of the Park-Miller "minimal standard" generator behind math.random.
const (
	randomMultiplier = 16807
	randomModulus    = 2147483647
)

func (e *Engine) openMath() *Table {
	lib := newLib(map[string]Function{
		"abs":        mathUnary("abs", math.Abs),
		"acos":       mathUnary("acos", math.Acos),
		"asin":       mathUnary("asin", math.Asin),
		"atan":       mathUnary("atan", math.Atan),
		"atan2":      mathAtan2,
		"ceil":       mathUnary("ceil", math.Ceil),
		"cos":        mathUnary("cos", math.Cos),
		"cosh":       mathUnary("cosh", math.Cosh),
		"deg":        mathUnary("deg", func(x float64) float64 { return x * 180 / math.Pi }),
		"exp":        mathUnary("exp", math.Exp),
		"floor":      mathUnary("floor", math.Floor),
		"fmod":       mathFmod,
		"frexp":      mathFrexp,
		"ldexp":      mathLdexp,
		"log":        mathLog,
		"log10":      mathUnary("log10", math.Log10),
		"max":        mathMax,
		"min":        mathMin,
		"mod":        mathFmod,
		"modf":       mathModf,
		"pow":        mathPow,
		"rad":        mathUnary("rad", func(x float64) float64 { return x * math.Pi / 180 }),
		"random":     e.mathRandom,
		"randomseed": e.mathRandomSeed,
		"sin":        mathUnary("sin", math.Sin),
		"sinh":       mathUnary("sinh", math.Sinh),
		"sqrt":       mathUnary("sqrt", math.Sqrt),
		"tan":        mathUnary("tan", math.Tan),
		"tanh":       mathUnary("tanh", math.Tanh),
	})
	lib.SetString("pi", Number(math.Pi))
	lib.SetString("huge", Number(math.Inf(1)))
	return lib
}

// mathUnary adapts a single-argument float function.
func mathUnary(fname string, f func(float64) float64) Function {
	return func(ctx context.Context, e *Engine, args []Value) ([]Value, error) {
		x, err := newArgs(fname, args).checkNumber(1)
		if err != nil {
			return nil, err
		}
		return results(Number(f(x))), nil
	}
}

// mathBinary checks the two numeric arguments of fname.
func mathBinary(fname string, args []Value) (x, y float64, err error) {
	a := newArgs(fname, args)
	x, err = a.checkNumber(1)
	if err != nil {
		return 0, 0, err
	}
	y, err = a.checkNumber(2)
	if err != nil {
		return 0, 0, err
	}
	return x, y, nil
}

func mathAtan2(ctx context.Context, e *Engine, args []Value) ([]Value, error) {
	y, x, err := mathBinary("atan2", args)
	if err != nil {
		return nil, err
	}
	return results(Number(math.Atan2(y, x))), nil
}

func mathFmod(ctx context.Context, e *Engine, args []Value) ([]Value, error) {
	x, y, err := mathBinary("fmod", args)
	if err != nil {
		return nil, err
	}
	return results(Number(math.Mod(x, y))), nil
}

func mathPow(ctx context.Context, e *Engine, args []Value) ([]Value, error) {
	x, y, err := mathBinary("pow", args)
	if err != nil {
		return nil, err
	}
	return results(Number(math.Pow(x, y))), nil
}

func mathModf(ctx context.Context, e *Engine, args []Value) ([]Value, error) {
	x, err := newArgs("modf", args).checkNumber(1)
	if err != nil {
		return nil, err
	}
	if math.IsInf(x, 0) {
		return results(Number(x), Number(0)), nil
	}
	ip, fp := math.Modf(x)
	return results(Number(ip), Number(fp)), nil
}

func mathFrexp(ctx context.Context, e *Engine, args []Value) ([]Value, error) {
	x, err := newArgs("frexp", args).checkNumber(1)
	if err != nil {
		return nil, err
	}
	frac, exp := math.Frexp(x)
	return results(Number(frac), Number(exp)), nil
}

func mathLdexp(ctx context.Context, e *Engine, args []Value) ([]Value, error) {
	a := newArgs("ldexp", args)
	frac, err := a.checkNumber(1)
	if err != nil {
		return nil, err
	}
	exp, err := a.checkInt(2)
	if err != nil {
		return nil, err
	}
	return results(Number(math.Ldexp(frac, exp))), nil
}

func mathLog(ctx context.Context, e *Engine, args []Value) ([]Value, error) {
	a := newArgs("log", args)
	x, err := a.checkNumber(1)
	if err != nil {
		return nil, err
	}
	if a.isNoneOrNil(2) {
		return results(Number(math.Log(x))), nil
	}
	base, err := a.checkNumber(2)
	if err != nil {
		return nil, err
	}
	var result float64
	switch base {
	case 2:
		result = math.Log2(x)
	case 10:
		result = math.Log10(x)
	default:
		result = math.Log(x) / math.Log(base)
	}
	return results(Number(result)), nil
}

func mathMin(ctx context.Context, e *Engine, args []Value) ([]Value, error) {
	a := newArgs("min", args)
	m, err := a.checkNumber(1)
	if err != nil {
		return nil, err
	}
	for i := 2; i <= a.len(); i++ {
		x, err := a.checkNumber(i)
		if err != nil {
			return nil, err
		}
		if x < m {
			m = x
		}
	}
	return results(Number(m)), nil
}

func mathMax(ctx context.Context, e *Engine, args []Value) ([]Value, error) {
	a := newArgs("max", args)
	m, err := a.checkNumber(1)
	if err != nil {
		return nil, err
	}
	for i := 2; i <= a.len(); i++ {
		x, err := a.checkNumber(i)
		if err != nil {
			return nil, err
		}
		if x > m {
			m = x
		}
	}
	return results(Number(m)), nil
}

// nextRandom advances the engine's generator
// and returns a number in the interval (0, 1).
func (e *Engine) nextRandom() float64 {
	e.randSeed = math.Mod(randomMultiplier*e.randSeed, randomModulus)
	return e.randSeed / randomModulus
}

func (e *Engine) mathRandom(ctx context.Context, _ *Engine, args []Value) ([]Value, error) {
	a := newArgs("random", args)
	r := e.nextRandom()
	var lo, hi int64
	switch a.len() {
	case 0:
		return results(Number(r)), nil
	case 1:
		var err error
		lo = 1
		hi, err = a.checkInteger(1)
		if err != nil {
			return nil, err
		}
		if lo > hi {
			return nil, a.argError(1, "interval is empty")
		}
	case 2:
		var err error
		lo, err = a.checkInteger(1)
		if err != nil {
			return nil, err
		}
		hi, err = a.checkInteger(2)
		if err != nil {
			return nil, err
		}
		if lo > hi {
			return nil, a.argError(2, "interval is empty")
		}
	default:
		return nil, newError(RuntimeError, "wrong number of arguments")
	}
	return results(Number(math.Floor(r*float64(hi-lo+1) + float64(lo)))), nil
}

func (e *Engine) mathRandomSeed(ctx context.Context, _ *Engine, args []Value) ([]Value, error) {
	seed, err := newArgs("randomseed", args).checkNumber(1)
	if err != nil {
		return nil, err
	}
	e.randSeed = seed
	return nil, nil
}
