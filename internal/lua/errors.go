// Copyright 2024 The zb Authors
// SPDX-License-Identifier: MIT

package lua

import (
	"errors"
	"fmt"
	"strings"

	"punchdrunk.256lights.llc/pkg/internal/luacode"
)

// ErrorKind classifies a Lua [*Error].
type ErrorKind int

// Error kinds.
const (
	// RuntimeError is an error raised by the "error" function
	// or an error that does not fit another kind.
	RuntimeError ErrorKind = iota
	// TypeError is an operation applied to a value of the wrong type.
	TypeError
	// RangeError is a bad argument value.
	RangeError
	// ProtectionError is an attempt to change a protected metatable.
	ProtectionError
	// ModuleError is a module that could not be found or loaded.
	ModuleError
	// HostError is an error returned by a [Function]
	// that is not a [*Error].
	HostError
)

// String returns the name of the kind.
func (k ErrorKind) String() string {
	switch k {
	case RuntimeError:
		return "RuntimeError"
	case TypeError:
		return "TypeError"
	case RangeError:
		return "RangeError"
	case ProtectionError:
		return "ProtectionError"
	case ModuleError:
		return "ModuleError"
	case HostError:
		return "HostError"
	default:
		return fmt.Sprintf("ErrorKind(%d)", int(k))
	}
}

// Error is a Lua error.
// Its Value is the error object seen by Lua code
// (for example, the second result of pcall).
type Error struct {
	Kind  ErrorKind
	Value Value
	// Trace is the list of Lua activations the error unwound,
	// innermost first.
	Trace []TraceFrame

	// positioned is true if Value already includes a source position
	// or must not receive one.
	positioned bool
	cause      error
}

// TraceFrame is a single entry in an [*Error]'s stack trace.
type TraceFrame struct {
	// Name is the function's name as seen by its caller,
	// "main chunk" for top-level chunks,
	// or "function" if it could not be determined.
	Name string
	// Source is the chunk's source name.
	Source string
	// Line is the line being executed, or 0 if unknown.
	Line int
}

// String formats the frame as "name [file:line]".
func (tf TraceFrame) String() string {
	if tf.Line <= 0 {
		return fmt.Sprintf("%s [%s]", tf.Name, tf.Source)
	}
	return fmt.Sprintf("%s [%s:%d]", tf.Name, tf.Source, tf.Line)
}

func newError(kind ErrorKind, format string, args ...any) *Error {
	return &Error{
		Kind:  kind,
		Value: String(fmt.Sprintf(format, args...)),
	}
}

// NewArgError returns an error for a bad argument to a Go function.
// n is the 1-based argument number.
func NewArgError(fname string, n int, msg string) *Error {
	return newError(RangeError, "bad argument #%d to '%s' (%s)", n, fname, msg)
}

// NewTypeError returns an error for an argument of the wrong type.
// got is the actual argument, or nil if it was absent and present is false.
func NewTypeError(fname string, n int, expected string, got Value, present bool) *Error {
	gotName := typeName(got)
	if !present {
		gotName = TypeNone.String()
	}
	err := NewArgError(fname, n, fmt.Sprintf("%s expected, got %s", expected, gotName))
	err.Kind = TypeError
	return err
}

// Error returns the error object formatted as a string.
func (e *Error) Error() string {
	switch v := e.Value.(type) {
	case nil:
		return "nil"
	case String, Number:
		s, _ := toStringCoerce(v)
		return s
	default:
		return fmt.Sprintf("(error object is a %s value)", typeName(v))
	}
}

// Unwrap returns the Go error that caused a [HostError].
func (e *Error) Unwrap() error {
	return e.cause
}

// Traceback returns the error's stack trace in human-readable form.
// Consecutive duplicate lines (as produced by recursion) are shown once.
func (e *Error) Traceback() string {
	sb := new(strings.Builder)
	sb.WriteString("stack traceback:")
	prev := ""
	for _, tf := range e.Trace {
		line := tf.String()
		if line == prev {
			continue
		}
		sb.WriteString("\n\t")
		sb.WriteString(line)
		prev = line
	}
	return sb.String()
}

// toError converts a Go error into a [*Error].
func toError(err error) *Error {
	if lerr, ok := err.(*Error); ok {
		return lerr
	}
	var lerr *Error
	if errors.As(err, &lerr) {
		return lerr
	}
	return &Error{
		Kind:  HostError,
		Value: String("error in host call: " + err.Error()),
		cause: err,
	}
}

// ErrorValue returns the Lua error object for err.
func ErrorValue(err error) Value {
	if err == nil {
		return nil
	}
	return toError(err).Value
}

// callSite identifies the instruction that made a call.
// The zero callSite is a call from Go.
type callSite struct {
	proto *luacode.Prototype
	pc    int
}

// where returns the "source:line: " prefix for the call site.
func (site callSite) where() string {
	if site.proto == nil {
		return ""
	}
	line := site.proto.Line(site.pc - 1)
	if line <= 0 {
		return ""
	}
	return fmt.Sprintf("%v:%d: ", site.proto.Source, line)
}

// addPosition prefixes a string error value with the call site's position
// if it does not have one already.
func addPosition(lerr *Error, site callSite) {
	if lerr.positioned {
		return
	}
	lerr.positioned = true
	if s, ok := lerr.Value.(String); ok {
		lerr.Value = String(site.where()) + s
	}
}
