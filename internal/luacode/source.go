// Copyright (C) 1994-2012 Lua.org, PUC-Rio.
// Copyright 2024 The zb Authors
// SPDX-License-Identifier: MIT

package luacode

import "strings"

// Source is a description of a chunk that created a [Prototype].
// The zero value describes an empty literal string.
type Source string

// UnknownSource is a placeholder for an unknown [Source].
const UnknownSource Source = "=?"

// FilenameSource returns a [Source] for a filesystem path.
// The path can be retrieved later using [Source.Filename].
//
// The underlying string in a filename source starts with "@".
func FilenameSource(path string) Source {
	return Source("@" + path)
}

// AbstractSource returns a [Source] from a user-dependent description.
// The description can be retrieved later using [Source.Abstract].
//
// The underlying string in an abstract source starts with "=".
func AbstractSource(description string) Source {
	return Source("=" + description)
}

// Filename returns the file name of the chunk
// provided to [FilenameSource].
func (source Source) Filename() (_ string, isFilename bool) {
	if !strings.HasPrefix(string(source), "@") {
		return "", false
	}
	return string(source[1:]), true
}

// Abstract returns the user-dependent description of the source
// provided to [AbstractSource].
func (source Source) Abstract() (_ string, isAbstract bool) {
	if !strings.HasPrefix(string(source), "=") {
		return "", false
	}
	return string(source[1:]), true
}

const (
	// maxSourceSize is the maximum length of a string returned by [Source.String].
	maxSourceSize = 60

	sourceTruncationSignifier = "..."
)

// String formats the source in a concise manner
// suitable for error messages.
func (source Source) String() string {
	if s, ok := source.Abstract(); ok {
		if len(s) > maxSourceSize {
			return s[:maxSourceSize]
		}
		return s
	}
	if fname, ok := source.Filename(); ok {
		if len(fname) > maxSourceSize {
			const n = maxSourceSize - len(sourceTruncationSignifier)
			return sourceTruncationSignifier + fname[len(fname)-n:]
		}
		return fname
	}

	const prefix = `[string "`
	const suffix = `"]`
	const stringSize = maxSourceSize - len(prefix) - len(suffix)
	line, _, multipleLines := strings.Cut(string(source), "\n")
	if !multipleLines && len(line) <= stringSize {
		return prefix + line + suffix
	}
	if len(line)+len(sourceTruncationSignifier) > stringSize {
		line = line[:stringSize-len(sourceTruncationSignifier)]
	}
	return prefix + line + sourceTruncationSignifier + suffix
}
