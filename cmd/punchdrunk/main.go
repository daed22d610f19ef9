// Copyright 2024 The zb Authors
// SPDX-License-Identifier: MIT

// punchdrunk runs compiled Lua 5.1 programs.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync"

	"github.com/spf13/cobra"
	"zombiezen.com/go/bass/sigterm"
	"zombiezen.com/go/log"
)

func main() {
	rootCommand := &cobra.Command{
		Use:           "punchdrunk",
		Short:         "Lua 5.1 bytecode interpreter",
		SilenceErrors: true,
		SilenceUsage:  true,
	}

	g := defaultGlobalConfig()
	if err := g.mergeFiles(configFiles()); err != nil {
		initLogging(false)
		log.Errorf(context.Background(), "%v", err)
		os.Exit(1)
	}
	if err := g.mergeEnvironment(); err != nil {
		initLogging(false)
		log.Errorf(context.Background(), "%v", err)
		os.Exit(1)
	}

	rootCommand.PersistentFlags().StringVar(&g.CacheDB, "cache", g.CacheDB, "`path` to chunk cache database (empty to disable)")
	rootCommand.PersistentFlags().StringVar(&g.PackagePath, "path", g.PackagePath, "initial package.path `template`s")
	rootCommand.PersistentFlags().StringVar(&g.ModuleURL, "module-url", g.ModuleURL, "base `url` of a module server")
	rootCommand.PersistentFlags().Var(g.AllowEnv.argFlag(true), "allow-env", "allow os.getenv to read the environment `var`iable (can be passed multiple times)")
	rootCommand.PersistentFlags().Var(g.AllowEnv.allFlag(), "allow-all-env", "allow os.getenv to read any environment variable")
	rootCommand.PersistentFlags().BoolVar(&g.Debug, "debug", g.Debug, "show debugging output")
	showVersion := false
	rootCommand.Flags().BoolVar(&showVersion, "version", false, "show version information")

	rootCommand.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		initLogging(g.Debug)
		return g.validate()
	}
	rootCommand.RunE = func(cmd *cobra.Command, args []string) error {
		if !showVersion {
			return cmd.Help()
		}
		return runVersion(cmd.Context())
	}

	rootCommand.AddCommand(
		newRunCommand(g),
		newDisasmCommand(g),
		newConvertCommand(g),
		newServeCommand(g),
		newCacheCommand(g),
		newVersionCommand(g),
	)

	ctx, cancel := signal.NotifyContext(context.Background(), sigterm.Signals()...)
	err := rootCommand.ExecuteContext(ctx)
	cancel()
	var exit exitError
	if errors.As(err, &exit) {
		os.Exit(int(exit))
	}
	if err != nil {
		initLogging(g.Debug)
		log.Errorf(context.Background(), "%v", err)
		os.Exit(1)
	}
}

// exitError is returned by commands that have already reported their failure
// and only need the process to exit with the given code.
type exitError int

func (e exitError) Error() string {
	return fmt.Sprintf("exit status %d", int(e))
}

var initLogOnce sync.Once

func initLogging(showDebug bool) {
	initLogOnce.Do(func() {
		minLogLevel := log.Info
		if showDebug {
			minLogLevel = log.Debug
		}
		log.SetDefault(&log.LevelFilter{
			Min:    minLogLevel,
			Output: log.New(os.Stderr, "punchdrunk: ", log.StdFlags, nil),
		})
	})
}
