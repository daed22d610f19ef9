// Copyright 2024 The zb Authors
// SPDX-License-Identifier: MIT

/*
Package lua implements a register-based virtual machine for Lua 5.1 bytecode.
It executes [luacode.Prototype] values compiled ahead of time;
there is no compiler in this package,
so load and loadstring are not available to guest code.

[NewEngine] is the main entrypoint for this package.
An [*Engine] owns a global table populated with the standard library
and a [Loader] that resolves module names for require.

# Execution model

Lua activations are kept on explicit per-thread stacks
rather than on the Go stack,
so deep Lua recursion and coroutines do not consume goroutines.
Functions implemented in Go ([Function]) run on the Go stack;
a Go function that calls back into Lua through [*Engine.Call]
starts a nested dispatch loop
and Lua code running inside it cannot yield across it.

A Go function may park the whole engine with [*Engine.Suspend],
for example while waiting for a network fetch.
[*Engine.Execute] then returns [ErrSuspended]
and the host continues execution later with [*Engine.Resume].

# Differences from de facto C implementation

  - Memory is managed by the Go garbage collector.
    The “__gc” and “__mode” metafields have no effect
    and collectgarbage always returns 0.
  - getfenv, setfenv, load, loadstring, and most of the io library
    raise an "unsupported" error.
  - Patterns are translated to regular expressions;
    see the string library documentation for details.
*/
package lua
