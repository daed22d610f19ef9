// Copyright 2024 The zb Authors
// SPDX-License-Identifier: MIT

package sets

import "slices"

const bitWordSize = 64

// Bit is a set of small non-negative integers stored as a bitmap,
// such as the indices of a pattern's position captures.
// The zero value is an empty set.
type Bit struct {
	words []uint64
}

// Add adds the arguments to the set.
func (s *Bit) Add(elem ...uint) {
	for _, x := range elem {
		i := x / bitWordSize
		if i >= uint(len(s.words)) {
			s.words = slices.Grow(s.words, int(i)-len(s.words)+1)
			s.words = s.words[:i+1]
		}
		s.words[i] |= 1 << (x % bitWordSize)
	}
}

// Has reports whether the set contains x.
func (s *Bit) Has(x uint) bool {
	if s == nil {
		return false
	}
	i := x / bitWordSize
	return i < uint(len(s.words)) && s.words[i]&(1<<(x%bitWordSize)) != 0
}
