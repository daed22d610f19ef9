// Copyright 2024 The zb Authors
// SPDX-License-Identifier: MIT

//go:build unix

package main

import (
	"iter"
	"slices"

	"go4.org/xdgdir"
)

func cacheDir() string {
	return xdgdir.Cache.Path()
}

// systemConfigDirs returns a sequence of configuration directory paths
// in increasing order of preference (i.e. later entries should override earlier entries).
func systemConfigDirs() iter.Seq[string] {
	return func(yield func(string) bool) {
		for _, dir := range slices.Backward(xdgdir.Config.SearchPaths()) {
			if !yield(dir) {
				return
			}
		}
	}
}
