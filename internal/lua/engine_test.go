// Copyright 2024 The zb Authors
// SPDX-License-Identifier: MIT

package lua

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"testing"

	"github.com/google/go-cmp/cmp"
	"punchdrunk.256lights.llc/pkg/internal/luacode"
	"punchdrunk.256lights.llc/pkg/internal/testcontext"
)

// mapLoader is a [Loader] backed by a map of paths to prototypes.
type mapLoader map[string]*luacode.Prototype

func (m mapLoader) LoadChunk(ctx context.Context, candidates []string) (string, *luacode.Prototype, error) {
	for _, c := range candidates {
		if p := m[c]; p != nil {
			return c, p, nil
		}
	}
	return "", nil, fmt.Errorf("load chunk: %w", fs.ErrNotExist)
}

// libFunc returns a function from a standard library table.
func libFunc(tb testing.TB, e *Engine, lib, name string) Value {
	tb.Helper()
	t, ok := e.Global(lib).(*Table)
	if !ok {
		tb.Fatalf("%s is not a table", lib)
	}
	f := t.GetString(name)
	if f == nil {
		tb.Fatalf("%s.%s is nil", lib, name)
	}
	return f
}

func TestCoroutineResume(t *testing.T) {
	ctx, cancel := testcontext.New(t)
	defer cancel()
	e := newTestEngine(t)

	// function()
	//   coroutine.yield(1)
	//   coroutine.yield()
	//   return "done"
	// end
	body := testProto(1, 3,
		[]luacode.Value{strK("coroutine"), strK("yield"), numK(1), strK("done")},
		luacode.ABx(luacode.OpGetGlobal, 0, 0),
		luacode.ABC(luacode.OpGetTable, 0, 0, rkConst(1)),
		luacode.ABx(luacode.OpLoadK, 1, 2),
		luacode.ABC(luacode.OpCall, 0, 2, 1),
		luacode.ABx(luacode.OpGetGlobal, 0, 0),
		luacode.ABC(luacode.OpGetTable, 0, 0, rkConst(1)),
		luacode.ABC(luacode.OpCall, 0, 1, 1),
		luacode.ABx(luacode.OpLoadK, 0, 3),
		luacode.ABC(luacode.OpReturn, 0, 2, 0),
	)
	co := NewCoroutine(e.LoadPrototype(body))
	resume := libFunc(t, e, CoroutineLibraryName, "resume")

	tests := []struct {
		want       []Value
		wantStatus CoroutineStatus
	}{
		{
			want:       []Value{Boolean(true), Number(1)},
			wantStatus: CoroutineSuspended,
		},
		{
			want:       []Value{Boolean(true)},
			wantStatus: CoroutineSuspended,
		},
		{
			want:       []Value{Boolean(true), String("done")},
			wantStatus: CoroutineDead,
		},
		{
			want:       []Value{Boolean(false), String("cannot resume dead coroutine")},
			wantStatus: CoroutineDead,
		},
	}
	if got := co.Status(); got != CoroutineSuspended {
		t.Errorf("initial status = %v; want %v", got, CoroutineSuspended)
	}
	for i, test := range tests {
		got, err := e.Execute(ctx, resume, co)
		if err != nil {
			t.Fatalf("resume #%d: %v", i+1, err)
		}
		if diff := cmp.Diff(test.want, got); diff != "" {
			t.Errorf("resume #%d (-want +got):\n%s", i+1, diff)
		}
		if got := co.Status(); got != test.wantStatus {
			t.Errorf("status after resume #%d = %v; want %v", i+1, got, test.wantStatus)
		}
	}

	status, err := e.Execute(ctx, libFunc(t, e, CoroutineLibraryName, "status"), co)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]Value{String("dead")}, status); diff != "" {
		t.Errorf("coroutine.status (-want +got):\n%s", diff)
	}
}

func TestCoroutineErrorKillsCoroutine(t *testing.T) {
	ctx, cancel := testcontext.New(t)
	defer cancel()
	e := newTestEngine(t)

	co := NewCoroutine(e.Global("error"))
	resume := libFunc(t, e, CoroutineLibraryName, "resume")
	got, err := e.Execute(ctx, resume, co, String("oops"))
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]Value{Boolean(false), String("oops")}, got); diff != "" {
		t.Errorf("resume (-want +got):\n%s", diff)
	}
	if got := co.Status(); got != CoroutineDead {
		t.Errorf("status = %v; want %v", got, CoroutineDead)
	}
}

func TestYieldOutsideCoroutine(t *testing.T) {
	ctx, cancel := testcontext.New(t)
	defer cancel()
	e := newTestEngine(t)

	_, err := e.Execute(ctx, libFunc(t, e, CoroutineLibraryName, "yield"), Number(1))
	if err == nil {
		t.Fatal("yield outside of a coroutine did not fail")
	}
	const want = "attempt to yield from outside a coroutine"
	if got := err.Error(); got != want {
		t.Errorf("error = %q; want %q", got, want)
	}
}

func TestCoroutineWrapRaises(t *testing.T) {
	ctx, cancel := testcontext.New(t)
	defer cancel()
	e := newTestEngine(t)

	wrapped, err := e.Execute(ctx, libFunc(t, e, CoroutineLibraryName, "wrap"), e.Global("error"))
	if err != nil {
		t.Fatal(err)
	}
	if len(wrapped) != 1 {
		t.Fatalf("coroutine.wrap returned %d values; want 1", len(wrapped))
	}
	_, err = e.Execute(ctx, wrapped[0], String("wrapped failure"))
	var lerr *Error
	if !errors.As(err, &lerr) {
		t.Fatalf("calling wrapped function: err = %v; want *Error", err)
	}
	if got, want := lerr.Value, Value(String("wrapped failure")); got != want {
		t.Errorf("error value = %v; want %v", got, want)
	}
}

func TestSuspendResume(t *testing.T) {
	ctx, cancel := testcontext.New(t)
	defer cancel()

	var e *Engine
	fetch := NewFunction("fetch", func(ctx context.Context, _ *Engine, args []Value) ([]Value, error) {
		return nil, e.Suspend()
	})
	e = NewEngine(&Options{
		Globals: map[string]Value{"fetch": fetch},
	})
	defer func() {
		if err := e.Close(); err != nil {
			t.Error("Close:", err)
		}
	}()

	// return fetch() + 1
	p := testProto(0, 2,
		[]luacode.Value{strK("fetch"), numK(1)},
		luacode.ABx(luacode.OpGetGlobal, 0, 0),
		luacode.ABC(luacode.OpCall, 0, 1, 2),
		luacode.ABC(luacode.OpAdd, 0, 0, rkConst(1)),
		luacode.ABC(luacode.OpReturn, 0, 2, 0),
	)
	if _, err := e.Execute(ctx, e.LoadPrototype(p)); !errors.Is(err, ErrSuspended) {
		t.Fatalf("Execute(...) error = %v; want %v", err, ErrSuspended)
	}
	if got := e.Status(); got != StatusSuspended {
		t.Errorf("Status() = %v; want %v", got, StatusSuspended)
	}
	if _, err := e.Execute(ctx, e.Global("print")); err == nil {
		t.Error("Execute on suspended engine did not fail")
	}

	ran := false
	e.WhenRunning(func() { ran = true })
	if ran {
		t.Error("WhenRunning ran function while suspended")
	}

	got, err := e.Resume(ctx, Number(41))
	if err != nil {
		t.Fatal("Resume:", err)
	}
	if diff := cmp.Diff([]Value{Number(42)}, got); diff != "" {
		t.Errorf("Resume(41) (-want +got):\n%s", diff)
	}
	if !ran {
		t.Error("WhenRunning function not called after Resume")
	}
	if got := e.Status(); got != StatusRunning {
		t.Errorf("Status() after Resume = %v; want %v", got, StatusRunning)
	}

	ranAgain := false
	e.WhenRunning(func() { ranAgain = true })
	if !ranAgain {
		t.Error("WhenRunning did not run function immediately on running engine")
	}
}

func TestResumeNotSuspended(t *testing.T) {
	ctx, cancel := testcontext.New(t)
	defer cancel()
	e := newTestEngine(t)

	if _, err := e.Resume(ctx); err == nil {
		t.Error("Resume on running engine did not fail")
	}
}

func TestClosedEngine(t *testing.T) {
	ctx, cancel := testcontext.New(t)
	defer cancel()
	e := NewEngine(nil)
	if err := e.Close(); err != nil {
		t.Fatal(err)
	}
	if got := e.Status(); got != StatusDead {
		t.Errorf("Status() = %v; want %v", got, StatusDead)
	}
	if _, err := e.Execute(ctx, e.Global("print")); err == nil {
		t.Error("Execute on closed engine did not fail")
	}
}

func TestRequirePreload(t *testing.T) {
	ctx, cancel := testcontext.New(t)
	defer cancel()
	e := newTestEngine(t)

	calls := 0
	mod := NewTable()
	mod.SetString("answer", Number(42))
	preload := e.Global(PackageLibraryName).(*Table).GetString("preload").(*Table)
	preload.SetString("answers", NewFunction("answers", func(ctx context.Context, e *Engine, args []Value) ([]Value, error) {
		calls++
		if diff := cmp.Diff([]Value{String("answers")}, args); diff != "" {
			t.Errorf("loader arguments (-want +got):\n%s", diff)
		}
		return []Value{mod}, nil
	}))

	for range 2 {
		got, err := e.Execute(ctx, e.Global("require"), String("answers"))
		if err != nil {
			t.Fatal(err)
		}
		if diff := cmp.Diff([]Value{mod}, got, valueOptions); diff != "" {
			t.Errorf("require \"answers\" (-want +got):\n%s", diff)
		}
	}
	if calls != 1 {
		t.Errorf("loader called %d times; want 1", calls)
	}
	loaded := e.Global(PackageLibraryName).(*Table).GetString("loaded").(*Table)
	if got := loaded.GetString("answers"); got != mod {
		t.Errorf("package.loaded.answers = %v; want module table", got)
	}
}

func TestRequireLoader(t *testing.T) {
	ctx, cancel := testcontext.New(t)
	defer cancel()

	// return {hello = "world"}
	greet := testProto(0, 2,
		[]luacode.Value{strK("hello"), strK("world")},
		luacode.ABC(luacode.OpNewTable, 0, 0, 1),
		luacode.ABC(luacode.OpSetTable, 0, rkConst(0), rkConst(1)),
		luacode.ABC(luacode.OpReturn, 0, 2, 0),
	)
	type loadEvent struct {
		name, path string
	}
	var events []loadEvent
	e := NewEngine(&Options{
		Loader:      mapLoader{"lib/greet.lua.json": greet},
		PackagePath: "?.lua.json;lib/?.lua.json",
		OnModuleLoad: func(ctx context.Context, name, path string) {
			events = append(events, loadEvent{name, path})
		},
	})
	defer e.Close()

	got, err := e.Execute(ctx, e.Global("require"), String("greet"))
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 {
		t.Fatalf("require returned %d values; want 1", len(got))
	}
	tab, ok := got[0].(*Table)
	if !ok {
		t.Fatalf("require returned %v; want table", got[0])
	}
	if got, want := tab.GetString("hello"), Value(String("world")); got != want {
		t.Errorf("module.hello = %v; want %v", got, want)
	}
	wantEvents := []loadEvent{{"greet", "lib/greet.lua.json"}}
	if diff := cmp.Diff(wantEvents, events, cmp.AllowUnexported(loadEvent{})); diff != "" {
		t.Errorf("module loads (-want +got):\n%s", diff)
	}

	_, err = e.Execute(ctx, e.Global("require"), String("nope"))
	var lerr *Error
	if !errors.As(err, &lerr) {
		t.Fatalf("require \"nope\" error = %v; want *Error", err)
	}
	if lerr.Kind != ModuleError {
		t.Errorf("require \"nope\" error kind = %v; want %v", lerr.Kind, ModuleError)
	}
	const wantMessage = "module 'nope' not found:\n" +
		"\tno field package.preload['nope']\n" +
		"\tno file 'nope.lua.json'\n" +
		"\tno file 'lib/nope.lua.json'"
	if got := lerr.Error(); got != wantMessage {
		t.Errorf("require \"nope\" error:\n%s\nwant:\n%s", got, wantMessage)
	}
}

func TestRequireLoop(t *testing.T) {
	ctx, cancel := testcontext.New(t)
	defer cancel()
	e := newTestEngine(t)

	preload := e.Global(PackageLibraryName).(*Table).GetString("preload").(*Table)
	preload.SetString("self", NewFunction("self", func(ctx context.Context, e *Engine, args []Value) ([]Value, error) {
		return e.Call(ctx, e.Global("require"), String("self"))
	}))
	_, err := e.Execute(ctx, e.Global("require"), String("self"))
	if err == nil {
		t.Fatal("recursive require did not fail")
	}
	const want = "loop or previous error loading module 'self'"
	if got := err.Error(); got != want {
		t.Errorf("error = %q; want %q", got, want)
	}
}

func TestExpandPackagePath(t *testing.T) {
	got := expandPackagePath("?.lua.json;;modules/?/index.lua.json", "a.b")
	want := []string{"a/b.lua.json", "modules/a/b/index.lua.json"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("expandPackagePath(...) (-want +got):\n%s", diff)
	}
}
