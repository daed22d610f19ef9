// Copyright 2024 The zb Authors
// SPDX-License-Identifier: MIT

// Package sets provides the set types used by the interpreter and its command.
package sets

import (
	"iter"
	"maps"
)

// Set is an unordered set of comparable values,
// such as the environment variable names a script may read.
// A nil Set is empty and read-only; use make to create one to add to.
type Set[T comparable] map[T]struct{}

// Add adds the arguments to the set.
func (s Set[T]) Add(elem ...T) {
	for _, x := range elem {
		s[x] = struct{}{}
	}
}

// AddSeq adds the values from seq to the set.
func (s Set[T]) AddSeq(seq iter.Seq[T]) {
	for x := range seq {
		s[x] = struct{}{}
	}
}

// Has reports whether the set contains x.
func (s Set[T]) Has(x T) bool {
	_, present := s[x]
	return present
}

// All returns an iterator over the elements of s in no particular order.
func (s Set[T]) All() iter.Seq[T] {
	return maps.Keys(s)
}

// Clear removes all elements from the set.
func (s Set[T]) Clear() {
	clear(s)
}
