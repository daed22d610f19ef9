// Copyright 2024 The zb Authors
// SPDX-License-Identifier: MIT

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"punchdrunk.256lights.llc/pkg/internal/lua"
	"punchdrunk.256lights.llc/pkg/internal/luacode"
	"zombiezen.com/go/log"
)

type runOptions struct {
	target string
	args   []string
}

func newRunCommand(g *globalConfig) *cobra.Command {
	c := &cobra.Command{
		Use:                   "run [options] [MODULE|FILE [ARG [...]]]",
		Short:                 "run a compiled Lua program",
		DisableFlagsInUseLine: true,
		Args:                  cobra.ArbitraryArgs,
		SilenceErrors:         true,
		SilenceUsage:          true,
	}
	c.Flags().SetInterspersed(false)
	c.RunE = func(cmd *cobra.Command, args []string) error {
		opts := new(runOptions)
		if len(args) > 0 {
			opts.target = args[0]
			opts.args = args[1:]
		}
		return runRun(cmd.Context(), g, opts)
	}
	return c
}

func runRun(ctx context.Context, g *globalConfig, opts *runOptions) error {
	p, err := openProject(ctx, g)
	if err != nil {
		return err
	}
	defer func() {
		if err := p.Close(); err != nil {
			log.Errorf(ctx, "%v", err)
		}
	}()

	target := opts.target
	if target == "" {
		if p.manifest == nil || p.manifest.Project.Entry == "" {
			return fmt.Errorf("no module given and no project.entry in manifest")
		}
		target = p.manifest.Project.Entry
	}
	engineOpts, err := p.engineOptions(g, opts.args)
	if err != nil {
		return err
	}
	e := lua.NewEngine(engineOpts)
	defer e.Close()
	log.Debugf(ctx, "Engine %v running %s", e.ID(), target)

	chunk, err := loadTarget(ctx, e, target)
	if err != nil {
		return err
	}
	_, err = e.Execute(ctx, chunk)
	return reportLuaError(os.Stderr, err)
}

// loadTarget loads target as a chunk file if one exists at that path
// or as a module name otherwise.
func loadTarget(ctx context.Context, e *lua.Engine, target string) (*lua.Closure, error) {
	if info, err := os.Stat(target); err == nil && info.Mode().IsRegular() {
		proto, err := readChunk(target)
		if err != nil {
			return nil, err
		}
		return e.LoadPrototype(proto), nil
	}
	return e.Load(ctx, target)
}

func readChunk(path string) (*luacode.Prototype, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return luacode.Decode(path, data)
}

// reportLuaError writes a Lua error and its traceback to w
// and converts it to an [exitError].
// Other errors are returned unchanged.
func reportLuaError(w io.Writer, err error) error {
	var lerr *lua.Error
	if !errors.As(err, &lerr) {
		return err
	}
	if code, ok := exitCode(lerr); ok {
		return exitError(code)
	}
	fmt.Fprintf(w, "punchdrunk: %v\n", lerr)
	if len(lerr.Trace) > 0 {
		fmt.Fprintln(w, lerr.Traceback())
	}
	return exitError(1)
}

// exitCode reports the status passed to os.exit, if err was raised by it.
func exitCode(err *lua.Error) (code int, ok bool) {
	var n int
	if _, scanErr := fmt.Sscanf(err.Error(), "Execution terminated [%d]", &n); scanErr != nil {
		return 0, false
	}
	return n, true
}
