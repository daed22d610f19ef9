// Copyright 2024 The zb Authors
// SPDX-License-Identifier: MIT

package lua

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"punchdrunk.256lights.llc/pkg/internal/luacode"
	"zombiezen.com/go/log"
)

// ErrSuspended is returned by [*Engine.Execute] and [*Engine.Resume]
// when a host function suspended the engine.
var ErrSuspended = errors.New("lua: engine suspended")

// Status is the state of an [*Engine].
type Status int

// Engine states.
const (
	// StatusRunning is an engine that is not suspended.
	// It may or may not be executing code.
	StatusRunning Status = iota
	// StatusSuspending is an engine whose host function requested suspension
	// but whose dispatch loop has not yet parked.
	StatusSuspending
	// StatusSuspended is an engine waiting for [*Engine.Resume].
	StatusSuspended
	// StatusResuming is an engine delivering values passed to [*Engine.Resume].
	StatusResuming
	// StatusDead is a closed engine.
	StatusDead
)

// String returns the lowercase name of the status.
func (status Status) String() string {
	switch status {
	case StatusRunning:
		return "running"
	case StatusSuspending:
		return "suspending"
	case StatusSuspended:
		return "suspended"
	case StatusResuming:
		return "resuming"
	case StatusDead:
		return "dead"
	default:
		return fmt.Sprintf("Status(%d)", int(status))
	}
}

// DefaultPackagePath is the default value of package.path.
const DefaultPackagePath = "?.lua.json;?.json;modules/?.lua.json;modules/?.json;modules/?/?.lua.json;modules/?/index.lua.json"

// A Loader finds and decodes compiled chunks.
type Loader interface {
	// LoadChunk returns the first of the candidate paths that exists
	// along with its decoded prototype.
	// If none of the candidates exist,
	// LoadChunk returns an error for which errors.Is(err, fs.ErrNotExist) reports true.
	LoadChunk(ctx context.Context, candidates []string) (path string, p *luacode.Prototype, err error)
}

// Options is the set of optional parameters to [NewEngine].
type Options struct {
	// Stdout is where print and io.write send output.
	// If nil, os.Stdout is used.
	Stdout io.Writer
	// Loader resolves modules for require, loadfile, and dofile.
	// If nil, only package.preload can satisfy require.
	Loader Loader
	// PackagePath is the initial value of package.path.
	// If empty, [DefaultPackagePath] is used.
	PackagePath string
	// Globals are set in the global table after the standard library is opened.
	Globals map[string]Value
	// Args populates the "arg" global table.
	Args []string

	// Now returns the current time for os.time and os.date.
	// If nil, time.Now is used.
	Now func() time.Time
	// LookupEnv looks up an environment variable for os.getenv.
	// If nil, os.LookupEnv is used.
	LookupEnv func(key string) (string, bool)
	// RandomSeed is the initial seed for math.random.
	// Zero means 1.
	RandomSeed float64

	// OnModuleLoad is called after a module is resolved.
	OnModuleLoad func(ctx context.Context, name, path string)
	// OnExecute is called when a top-level execution starts.
	OnExecute func(ctx context.Context)
	// OnError is called when a top-level execution fails.
	OnError func(ctx context.Context, err *Error)
}

// Engine is a Lua virtual machine.
// Engines are not safe for concurrent use:
// callers must not invoke methods on the same Engine from multiple goroutines at once.
type Engine struct {
	id   uuid.UUID
	opts Options

	globals    *Table
	loaded     *Table
	stringMeta *Table

	status Status
	// top is the sink of the top-level [*Engine.Execute] in progress.
	top     *hostSink
	main    thread
	current *thread
	// coroutines is the stack of running coroutines.
	coroutines []*Coroutine
	// nesting is the number of active nested host loops across all threads.
	nesting int
	// site is the call site of the Go function being called.
	site          callSite
	suspendTarget *resultTarget
	deferred      []func()

	steps      uint64
	pool       pool
	constCache map[*luacode.Prototype][]Value
	patterns   map[string]*pattern
	randSeed   float64
}

// NewEngine returns a new engine with the standard library opened.
// opts may be nil.
func NewEngine(opts *Options) *Engine {
	e := &Engine{
		id:         uuid.New(),
		globals:    NewTable(),
		constCache: make(map[*luacode.Prototype][]Value),
		patterns:   make(map[string]*pattern),
	}
	if opts != nil {
		e.opts = *opts
	}
	if e.opts.Stdout == nil {
		e.opts.Stdout = os.Stdout
	}
	if e.opts.PackagePath == "" {
		e.opts.PackagePath = DefaultPackagePath
	}
	if e.opts.Now == nil {
		e.opts.Now = time.Now
	}
	if e.opts.LookupEnv == nil {
		e.opts.LookupEnv = os.LookupEnv
	}
	e.randSeed = e.opts.RandomSeed
	if e.randSeed == 0 {
		e.randSeed = 1
	}
	e.current = &e.main
	e.openLibraries()
	for k, v := range e.opts.Globals {
		e.globals.SetString(k, v)
	}
	return e
}

// ID returns the engine's unique identifier.
func (e *Engine) ID() uuid.UUID {
	return e.id
}

// Status returns the engine's current state.
func (e *Engine) Status() Status {
	return e.status
}

// Globals returns the global table.
func (e *Engine) Globals() *Table {
	return e.globals
}

// SetGlobal sets a global variable without invoking metamethods.
func (e *Engine) SetGlobal(name string, v Value) {
	e.globals.SetString(name, v)
}

// Global returns the value of a global variable without invoking metamethods.
func (e *Engine) Global(name string) Value {
	return e.globals.GetString(name)
}

// LoadPrototype returns a function value for a compiled main chunk.
// Any upvalues the prototype declares start as nil.
func (e *Engine) LoadPrototype(p *luacode.Prototype) *Closure {
	cl := &Closure{
		id:       nextID(),
		proto:    p,
		upvalues: make([]*upvalue, p.NumUpvalues),
	}
	for i := range cl.upvalues {
		cl.upvalues[i] = closedUpvalue(nil)
	}
	return cl
}

// Load resolves a module name through package.path and the engine's [Loader]
// and returns its main chunk as a function.
// The chunk is not run.
// If the module cannot be found, Load returns a [ModuleError].
func (e *Engine) Load(ctx context.Context, name string) (*Closure, error) {
	cl, _, err := e.findModule(ctx, name)
	return cl, err
}

// LoadFile loads the chunk at the given path through the engine's [Loader].
func (e *Engine) LoadFile(ctx context.Context, path string) (*Closure, error) {
	if e.opts.Loader == nil {
		return nil, newError(ModuleError, "cannot open %s", path)
	}
	resolved, p, err := e.opts.Loader.LoadChunk(ctx, []string{path})
	if errors.Is(err, fs.ErrNotExist) {
		return nil, newError(ModuleError, "cannot open %s", path)
	}
	if err != nil {
		return nil, &Error{Kind: ModuleError, Value: String(fmt.Sprintf("cannot load %s: %v", path, err)), cause: err}
	}
	log.Debugf(ctx, "engine %v: loaded %s", e.id, resolved)
	if e.opts.OnModuleLoad != nil {
		e.opts.OnModuleLoad(ctx, path, resolved)
	}
	return e.LoadPrototype(p), nil
}

// findModule searches package.path for a module.
// It returns the main chunk and the resolved path.
func (e *Engine) findModule(ctx context.Context, name string) (*Closure, string, error) {
	path := e.opts.PackagePath
	if pkg, ok := e.globals.GetString("package").(*Table); ok {
		if s, ok := pkg.GetString("path").(String); ok {
			path = string(s)
		}
	}
	candidates := expandPackagePath(path, name)
	notFound := func() error {
		sb := new(strings.Builder)
		fmt.Fprintf(sb, "module '%s' not found:\n\tno field package.preload['%s']", name, name)
		for _, c := range candidates {
			fmt.Fprintf(sb, "\n\tno file '%s'", c)
		}
		return newError(ModuleError, "%s", sb.String())
	}
	if e.opts.Loader == nil {
		return nil, "", notFound()
	}
	resolved, p, err := e.opts.Loader.LoadChunk(ctx, candidates)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, "", notFound()
	}
	if err != nil {
		return nil, "", &Error{
			Kind:  ModuleError,
			Value: String(fmt.Sprintf("error loading module '%s': %v", name, err)),
			cause: err,
		}
	}
	log.Debugf(ctx, "engine %v: module %s resolved to %s", e.id, name, resolved)
	if e.opts.OnModuleLoad != nil {
		e.opts.OnModuleLoad(ctx, name, resolved)
	}
	return e.LoadPrototype(p), resolved, nil
}

// expandPackagePath returns the candidate file names for a module
// from a semicolon-separated list of templates.
// Each "?" is replaced by the module name with dots turned into slashes.
func expandPackagePath(path, name string) []string {
	name = strings.ReplaceAll(name, ".", "/")
	var candidates []string
	for _, tmpl := range strings.Split(path, ";") {
		if tmpl == "" {
			continue
		}
		candidates = append(candidates, strings.ReplaceAll(tmpl, "?", name))
	}
	return candidates
}

// Execute calls fn with the given arguments and runs it to completion,
// returning its results.
// If a host function suspends the engine,
// Execute returns [ErrSuspended] and the engine waits for [*Engine.Resume].
// If Execute is called while the engine is already executing
// (for example, from a host function), it behaves like [*Engine.Call].
func (e *Engine) Execute(ctx context.Context, fn Value, args ...Value) ([]Value, error) {
	if err := e.checkUsable(); err != nil {
		return nil, err
	}
	if e.top != nil {
		return e.Call(ctx, fn, args...)
	}
	log.Debugf(ctx, "engine %v: execute", e.id)
	if e.opts.OnExecute != nil {
		e.opts.OnExecute(ctx)
	}
	sink := new(hostSink)
	e.top = sink
	err := e.callValue(ctx, callSite{}, fn, args, &resultTarget{kind: targetHost, sink: sink})
	return e.finishTop(ctx, e.run(ctx, sink, err))
}

// finishTop interprets the outcome of the top-level host loop.
func (e *Engine) finishTop(ctx context.Context, runErr error) ([]Value, error) {
	if errors.Is(runErr, ErrSuspended) {
		e.status = StatusSuspended
		log.Debugf(ctx, "engine %v: suspended", e.id)
		return nil, ErrSuspended
	}
	sink := e.top
	e.top = nil
	e.reset()
	if runErr != nil {
		lerr := toError(runErr)
		if e.opts.OnError != nil {
			e.opts.OnError(ctx, lerr)
		}
		return nil, lerr
	}
	if sink.err != nil {
		log.Debugf(ctx, "engine %v: %v", e.id, sink.err)
		if e.opts.OnError != nil {
			e.opts.OnError(ctx, sink.err)
		}
		return nil, sink.err
	}
	return sink.results, nil
}

// reset drops any state left over from an aborted execution.
func (e *Engine) reset() {
	for len(e.main.frames) > 0 {
		e.popFrame(&e.main)
	}
	e.main.hostDepth = 0
	e.current = &e.main
	clear(e.coroutines)
	e.coroutines = e.coroutines[:0]
	e.nesting = 0
}

func (e *Engine) checkUsable() error {
	switch e.status {
	case StatusDead:
		return errors.New("lua: engine closed")
	case StatusSuspending, StatusSuspended, StatusResuming:
		return errors.New("lua: engine suspended")
	default:
		return nil
	}
}

// Call calls a function from Go while the engine is executing,
// for example from a host function, and returns its results.
// The call runs in a nested dispatch loop:
// Lua code it runs cannot yield across it or suspend the engine.
// If the engine is not executing, Call behaves like [*Engine.Execute].
func (e *Engine) Call(ctx context.Context, fn Value, args ...Value) ([]Value, error) {
	if e.top == nil {
		return e.Execute(ctx, fn, args...)
	}
	if e.status == StatusDead {
		return nil, errors.New("lua: engine closed")
	}
	if e.nesting >= maxHostDepth {
		return nil, newError(RuntimeError, "C stack overflow")
	}
	th := e.current
	th.hostDepth++
	e.nesting++
	defer func() {
		th.hostDepth--
		e.nesting--
	}()

	sink := new(hostSink)
	err := e.callValue(ctx, callSite{}, fn, args, &resultTarget{kind: targetHost, sink: sink})
	if err := e.run(ctx, sink, err); err != nil {
		return nil, err
	}
	if sink.err != nil {
		return nil, sink.err
	}
	return sink.results, nil
}

// Suspend requests that the engine park
// once the calling host function returns.
// The function's results are ignored;
// the values passed to [*Engine.Resume] are used in their place.
// Suspend returns an error if the engine is not executing a host function
// or if the host function was called from a nested host loop
// (a metamethod or [*Engine.Call]).
func (e *Engine) Suspend() error {
	if e.top == nil || e.status != StatusRunning {
		return errors.New("lua: suspend: engine is not running")
	}
	if e.nesting > 0 {
		return newError(RuntimeError, "attempt to yield across metamethod/C-call boundary")
	}
	e.status = StatusSuspending
	return nil
}

// Resume continues a suspended engine.
// values become the results of the host function that called [*Engine.Suspend].
// Resume returns the results of the top-level function
// or [ErrSuspended] if the engine suspended again.
func (e *Engine) Resume(ctx context.Context, values ...Value) ([]Value, error) {
	if e.status != StatusSuspended {
		return nil, fmt.Errorf("lua: resume: engine is %v", e.status)
	}
	log.Debugf(ctx, "engine %v: resume", e.id)
	e.status = StatusResuming
	t := e.suspendTarget
	e.suspendTarget = nil
	err := e.deliver(ctx, t, values)
	e.status = StatusRunning
	e.runDeferred()
	return e.finishTop(ctx, e.run(ctx, e.top, err))
}

// WhenRunning calls f immediately if the engine is not suspended.
// Otherwise, f is called once the engine resumes.
func (e *Engine) WhenRunning(f func()) {
	if e.status == StatusRunning {
		f()
		return
	}
	e.deferred = append(e.deferred, f)
}

func (e *Engine) runDeferred() {
	for len(e.deferred) > 0 && e.status == StatusRunning {
		f := e.deferred[0]
		e.deferred[0] = nil
		e.deferred = e.deferred[1:]
		f()
	}
}

// Close marks the engine dead and releases its pooled storage.
// Any suspended execution is abandoned.
func (e *Engine) Close() error {
	if e.status == StatusDead {
		return nil
	}
	e.top = nil
	e.reset()
	e.status = StatusDead
	e.suspendTarget = nil
	e.deferred = nil
	e.pool = pool{}
	clear(e.constCache)
	clear(e.patterns)
	return nil
}
