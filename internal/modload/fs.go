// Copyright 2024 The zb Authors
// SPDX-License-Identifier: MIT

package modload

import (
	"context"
	"fmt"
	"io/fs"
	"path"
	"strings"
)

// FSLoader is a [Fetcher] that reads chunks from a filesystem.
type FSLoader struct {
	FS fs.FS
	// Name is prefixed to locations to distinguish between filesystems.
	// It may be empty.
	Name string
}

// Fetch reads the file at the slash-separated path p.
// Leading "./" and "/" are ignored.
func (l *FSLoader) Fetch(ctx context.Context, p string) (data []byte, location string, err error) {
	if err := ctx.Err(); err != nil {
		return nil, "", err
	}
	name := path.Clean(strings.TrimPrefix(p, "/"))
	if !fs.ValidPath(name) {
		return nil, "", fmt.Errorf("fetch %s: %w", p, fs.ErrNotExist)
	}
	location = name
	if l.Name != "" {
		location = l.Name + "/" + name
	}
	if l.FS == nil {
		return nil, "", fmt.Errorf("fetch %s: %w", location, fs.ErrNotExist)
	}
	data, err = fs.ReadFile(l.FS, name)
	if err != nil {
		return nil, "", fmt.Errorf("fetch %s: %w", location, err)
	}
	return data, location, nil
}
