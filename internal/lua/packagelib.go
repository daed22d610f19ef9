// Copyright 2024 The zb Authors
// SPDX-License-Identifier: MIT

package lua

import (
	"context"
	"maps"
	"slices"
)

// PackageLibraryName is the conventional identifier for the package library.
const PackageLibraryName = "package"

// sentinelLoading marks a module in package.loaded
// whose main chunk is running.
var sentinelLoading Value = NewTable()

// openLibraries opens the standard library into the global table
// and records each library in package.loaded.
func (e *Engine) openLibraries() {
	e.openBase()
	e.loaded = NewTable()
	libs := map[string]*Table{
		CoroutineLibraryName: e.openCoroutine(),
		IOLibraryName:        e.openIO(),
		MathLibraryName:      e.openMath(),
		OSLibraryName:        e.openOS(),
		PackageLibraryName:   e.openPackage(),
		StringLibraryName:    e.openString(),
		TableLibraryName:     e.openTable(),
	}
	for _, name := range slices.Sorted(maps.Keys(libs)) {
		e.globals.SetString(name, libs[name])
		e.loaded.SetString(name, libs[name])
	}
	e.loaded.SetString(GName, e.globals)
}

func (e *Engine) openPackage() *Table {
	lib := newLib(map[string]Function{
		"loadlib": unsupported("loadlib"),
		"seeall":  packageSeeAll,
	})
	lib.SetString("path", String(e.opts.PackagePath))
	lib.SetString("cpath", String(""))
	lib.SetString("loaded", e.loaded)
	lib.SetString("preload", NewTable())
	e.globals.SetString("require", newControlFunction("require", packageRequire))
	return lib
}

// packageTable returns the field of the package library named key
// if it is still a table.
func (e *Engine) packageTable(key string) *Table {
	pkg, ok := e.globals.GetString(PackageLibraryName).(*Table)
	if !ok {
		return nil
	}
	t, _ := pkg.GetString(key).(*Table)
	return t
}

// loadedTable returns package.loaded,
// falling back to the engine's own registry
// if a program replaced it with something other than a table.
func (e *Engine) loadedTable() *Table {
	if t := e.packageTable("loaded"); t != nil {
		return t
	}
	return e.loaded
}

func packageRequire(ctx context.Context, e *Engine, args []Value, t *resultTarget) error {
	name, err := newArgs("require", args).checkString(1)
	if err != nil {
		return err
	}
	loaded := e.loadedTable()
	if v := loaded.GetString(name); v != nil {
		if v == sentinelLoading {
			return newError(ModuleError, "loop or previous error loading module '%s'", name)
		}
		return e.deliver(ctx, t, []Value{v})
	}

	var chunk Value
	if preload := e.packageTable("preload"); preload != nil {
		chunk = preload.GetString(name)
	}
	if chunk == nil {
		cl, _, err := e.findModule(ctx, name)
		if err != nil {
			return err
		}
		chunk = cl
	}
	loaded.SetString(name, sentinelLoading)
	return e.callValue(ctx, callSite{}, chunk, []Value{String(name)}, &resultTarget{
		kind:   targetRequire,
		module: name,
		next:   t,
	})
}

// packageSeeAll gives a module table access to the globals.
func packageSeeAll(ctx context.Context, e *Engine, args []Value) ([]Value, error) {
	m, err := newArgs("seeall", args).checkTable(1)
	if err != nil {
		return nil, err
	}
	mt := m.Metatable()
	if mt == nil {
		mt = NewTable()
		m.SetMetatable(mt)
	}
	mt.SetString("__index", e.globals)
	return nil, nil
}
