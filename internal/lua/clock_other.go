// Copyright 2024 The zb Authors
// SPDX-License-Identifier: MIT

//go:build !unix

package lua

import "time"

var processStart = time.Now()

// cpuTime approximates the processor time used by the process
// with the wall clock time since it started.
func cpuTime() time.Duration {
	return time.Since(processStart)
}
