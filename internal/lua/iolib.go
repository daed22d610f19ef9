// Copyright 2024 The zb Authors
// SPDX-License-Identifier: MIT

package lua

import (
	"context"
	"io"
)

// IOLibraryName is the conventional identifier for the input and output library.
const IOLibraryName = "io"

// openIO returns the io library.
// Only io.write is backed by the engine's output stream;
// there is no file system access.
func (e *Engine) openIO() *Table {
	return newLib(map[string]Function{
		"close":   unsupported("close"),
		"flush":   ioFlush,
		"input":   unsupported("input"),
		"lines":   unsupported("lines"),
		"open":    unsupported("open"),
		"output":  unsupported("output"),
		"popen":   unsupported("popen"),
		"read":    unsupported("read"),
		"tmpfile": unsupported("tmpfile"),
		"type":    unsupported("type"),
		"write":   ioWrite,
	})
}

func ioWrite(ctx context.Context, e *Engine, args []Value) ([]Value, error) {
	a := newArgs("write", args)
	for i := 1; i <= a.len(); i++ {
		s, err := a.checkString(i)
		if err != nil {
			return nil, err
		}
		if _, err := io.WriteString(e.opts.Stdout, s); err != nil {
			return results(nil, String(err.Error())), nil
		}
	}
	return results(Boolean(true)), nil
}

func ioFlush(ctx context.Context, e *Engine, args []Value) ([]Value, error) {
	if f, ok := e.opts.Stdout.(interface{ Flush() error }); ok {
		if err := f.Flush(); err != nil {
			return results(nil, String(err.Error())), nil
		}
	}
	return results(Boolean(true)), nil
}
