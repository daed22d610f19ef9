// Copyright 2024 The zb Authors
// SPDX-License-Identifier: MIT

package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"runtime"

	"github.com/spf13/cobra"
	"zombiezen.com/go/log"
)

// punchdrunkVersion is the version string filled in by the linker (e.g. "1.2.3").
var punchdrunkVersion string

// luaVersion is the value of the _VERSION global.
const luaVersion = "Lua 5.1"

func newVersionCommand(g *globalConfig) *cobra.Command {
	c := &cobra.Command{
		Use:                   "version",
		Short:                 "show version information",
		DisableFlagsInUseLine: true,
		Args:                  cobra.NoArgs,
		SilenceErrors:         true,
		SilenceUsage:          true,
	}
	c.RunE = func(cmd *cobra.Command, args []string) error {
		return runVersion(cmd.Context())
	}
	return c
}

func runVersion(ctx context.Context) error {
	firstLine := "punchdrunk"
	if punchdrunkVersion == "" {
		firstLine += " (version unknown)"
	} else {
		firstLine += " version " + punchdrunkVersion
	}
	fmt.Printf("%s\nLanguage:     %s\nGo:           %s\nSystem:       %s/%s\nCPUs:         %d\n",
		firstLine, luaVersion, runtime.Version(), runtime.GOOS, runtime.GOARCH, runtime.NumCPU())

	switch runtime.GOOS {
	case "linux":
		output, err := exec.CommandContext(ctx, "uname", "-srv").Output()
		if err != nil {
			log.Errorf(ctx, "uname: %v", err)
		} else {
			output = bytes.TrimSuffix(output, []byte("\n"))
			fmt.Printf("OS:           %s\n", output)
		}

		output, err = exec.CommandContext(ctx, "lsb_release", "-ds").Output()
		if errors.Is(err, exec.ErrNotFound) {
			log.Debugf(ctx, "lsb_release: %v", err)
		} else if err != nil {
			log.Errorf(ctx, "lsb_release: %v", err)
		} else {
			output = bytes.TrimSuffix(output, []byte("\n"))
			fmt.Printf("Distribution: %s\n", output)
		}

	case "darwin":
		productVersion, err := exec.CommandContext(ctx, "sw_vers", "--productVersion").Output()
		if err != nil {
			log.Errorf(ctx, "sw_vers --productVersion: %v", err)
		}
		productVersion = bytes.TrimSuffix(productVersion, []byte("\n"))
		if len(productVersion) > 0 {
			fmt.Printf("OS:           macOS %s\n", productVersion)
		}

	case "windows":
		output, err := exec.CommandContext(ctx, "cmd", "/c", "ver").Output()
		if err != nil {
			log.Errorf(ctx, "ver: %v", err)
		} else {
			output = bytes.Trim(output, "\n\r")
			fmt.Printf("OS:           %s\n", output)
		}
	}

	return nil
}
