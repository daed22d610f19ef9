// Copyright 2024 The zb Authors
// SPDX-License-Identifier: MIT

//go:build unix

package lua

import (
	"time"

	"golang.org/x/sys/unix"
)

// cpuTime returns the user and system CPU time consumed by the process.
func cpuTime() time.Duration {
	var usage unix.Rusage
	if err := unix.Getrusage(unix.RUSAGE_SELF, &usage); err != nil {
		return time.Since(processStart)
	}
	return time.Duration(usage.Utime.Nano() + usage.Stime.Nano())
}

var processStart = time.Now()
