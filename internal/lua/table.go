// Copyright 2024 The zb Authors
// SPDX-License-Identifier: MIT

package lua

import (
	"errors"
	"iter"
)

var (
	errNilIndex = errors.New("table index is nil")
	errNaNIndex = errors.New("table index is NaN")
)

// Table is a Lua table.
// Positive integer keys are stored in an array part when they are dense;
// all other keys are stored in an insertion-ordered side map.
// Assigning nil to a key removes it.
//
// Table methods do not consult the metatable.
// Tables are not safe for concurrent use.
type Table struct {
	id    uint64
	array []Value
	// hash maps keys to their position in entries.
	hash    map[Value]int
	entries []tableEntry
	// dead is the number of entries with a nil value.
	dead int
	meta *Table
}

type tableEntry struct {
	key   Value
	value Value
}

// NewTable returns a new empty table.
func NewTable() *Table {
	return newTable(0, 0)
}

func newTable(narray, nhash int) *Table {
	tab := &Table{id: nextID()}
	if narray > 0 {
		tab.array = make([]Value, 0, narray)
	}
	if nhash > 0 {
		tab.hash = make(map[Value]int, nhash)
		tab.entries = make([]tableEntry, 0, nhash)
	}
	return tab
}

func (tab *Table) valueType() Type { return TypeTable }

// Metatable returns the table's metatable or nil if it does not have one.
func (tab *Table) Metatable() *Table {
	if tab == nil {
		return nil
	}
	return tab.meta
}

// SetMetatable sets the table's metatable.
// Passing nil removes the metatable.
func (tab *Table) SetMetatable(meta *Table) {
	tab.meta = meta
}

// Get returns the value associated with the key.
// Get returns nil for missing keys, including nil and NaN.
func (tab *Table) Get(k Value) Value {
	if tab == nil {
		return nil
	}
	if i, ok := arrayIndex(k); ok {
		if i <= len(tab.array) {
			return tab.array[i-1]
		}
	}
	k, err := normalizeKey(k)
	if err != nil {
		return nil
	}
	i, ok := tab.hash[k]
	if !ok {
		return nil
	}
	return tab.entries[i].value
}

// GetString is shorthand for tab.Get(String(k)).
func (tab *Table) GetString(k string) Value {
	return tab.Get(String(k))
}

// Set associates the key with the value.
// Setting a nil value removes the key.
// Set returns an error if the key is nil or NaN.
func (tab *Table) Set(k, v Value) error {
	k, err := normalizeKey(k)
	if err != nil {
		return err
	}
	if i, ok := arrayIndex(k); ok {
		switch {
		case i <= len(tab.array):
			tab.array[i-1] = v
			if v == nil && i == len(tab.array) {
				tab.trimArray()
			}
			return nil
		case i == len(tab.array)+1 && v != nil:
			tab.removeHashKey(k)
			tab.array = append(tab.array, v)
			tab.migrate()
			return nil
		}
	}

	if idx, ok := tab.hash[k]; ok {
		e := &tab.entries[idx]
		switch {
		case e.value == nil && v != nil:
			tab.dead--
		case e.value != nil && v == nil:
			tab.dead++
		}
		e.value = v
		return nil
	}
	if v == nil {
		return nil
	}
	if tab.dead > 0 && tab.dead >= len(tab.entries)/2 {
		tab.compact()
	}
	if tab.hash == nil {
		tab.hash = make(map[Value]int)
	}
	tab.hash[k] = len(tab.entries)
	tab.entries = append(tab.entries, tableEntry{key: k, value: v})
	return nil
}

// SetString is shorthand for tab.Set(String(k), v).
func (tab *Table) SetString(k string, v Value) {
	// String keys are always valid.
	tab.Set(String(k), v)
}

// trimArray removes trailing nils from the array part.
func (tab *Table) trimArray() {
	n := len(tab.array)
	for n > 0 && tab.array[n-1] == nil {
		n--
	}
	clear(tab.array[n:])
	tab.array = tab.array[:n]
}

// migrate moves keys that directly follow the array part
// from the side map into the array part.
func (tab *Table) migrate() {
	for len(tab.hash) > 0 {
		k := Number(len(tab.array) + 1)
		idx, ok := tab.hash[k]
		if !ok || tab.entries[idx].value == nil {
			return
		}
		v := tab.entries[idx].value
		tab.removeHashKey(k)
		tab.array = append(tab.array, v)
	}
}

// removeHashKey removes a key from the side map entirely.
func (tab *Table) removeHashKey(k Value) {
	idx, ok := tab.hash[k]
	if !ok {
		return
	}
	delete(tab.hash, k)
	if tab.entries[idx].value != nil {
		tab.dead++
	}
	tab.entries[idx] = tableEntry{}
}

// compact drops dead entries from the side map.
// It invalidates iteration in progress,
// so it is only called when adding a new key.
func (tab *Table) compact() {
	n := 0
	for _, e := range tab.entries {
		if e.value == nil {
			if e.key != nil {
				delete(tab.hash, e.key)
			}
			continue
		}
		tab.entries[n] = e
		tab.hash[e.key] = n
		n++
	}
	clear(tab.entries[n:])
	tab.entries = tab.entries[:n]
	tab.dead = 0
}

// Len returns a border of the table,
// as the length operator does.
// If the array part has holes, any border may be returned.
func (tab *Table) Len() int {
	if tab == nil {
		return 0
	}
	j := len(tab.array)
	if j > 0 && tab.array[j-1] == nil {
		// Binary search for a border in the array part.
		i := 0
		for j-i > 1 {
			m := (i + j) / 2
			if tab.array[m-1] == nil {
				j = m
			} else {
				i = m
			}
		}
		return i
	}
	if len(tab.hash) == 0 {
		return j
	}
	return tab.unboundSearch(j)
}

// unboundSearch finds a border beyond the array part.
func (tab *Table) unboundSearch(j int) int {
	i := j
	j++
	for tab.Get(Number(j)) != nil {
		i = j
		if j > maxTableLength/2 {
			// Pathological table. Resort to a linear search.
			i = 1
			for tab.Get(Number(i)) != nil {
				i++
			}
			return i - 1
		}
		j *= 2
	}
	for j-i > 1 {
		m := (i + j) / 2
		if tab.Get(Number(m)) == nil {
			j = m
		} else {
			i = m
		}
	}
	return i
}

const maxTableLength = 1 << 30

// Next returns the key-value pair that follows k in the table's traversal order.
// Next(nil) returns the first pair.
// When there are no more pairs, Next returns (nil, nil, nil).
// The traversal visits the array part in order
// followed by the remaining keys in insertion order.
// Keys may be removed (set to nil) during traversal.
func (tab *Table) Next(k Value) (key, value Value, err error) {
	if tab == nil {
		return nil, nil, nil
	}
	start := 0 // index in the combined array + entries space
	if k != nil {
		if i, ok := arrayIndex(k); ok && i <= len(tab.array) {
			start = i
		} else {
			nk, err := normalizeKey(k)
			if err != nil {
				return nil, nil, errInvalidNextKey
			}
			idx, ok := tab.hash[nk]
			switch {
			case ok:
				start = len(tab.array) + idx + 1
			case isArrayKey(nk):
				// The array part shrank after k was removed during traversal.
				start = len(tab.array)
			default:
				return nil, nil, errInvalidNextKey
			}
		}
	}
	for i := start; i < len(tab.array); i++ {
		if v := tab.array[i]; v != nil {
			return Number(i + 1), v, nil
		}
	}
	for i := max(start-len(tab.array), 0); i < len(tab.entries); i++ {
		if e := tab.entries[i]; e.value != nil {
			return e.key, e.value, nil
		}
	}
	return nil, nil, nil
}

// All returns an iterator over the table's key-value pairs
// in the same order as [*Table.Next].
func (tab *Table) All() iter.Seq2[Value, Value] {
	return func(yield func(Value, Value) bool) {
		if tab == nil {
			return
		}
		for i, v := range tab.array {
			if v != nil && !yield(Number(i+1), v) {
				return
			}
		}
		for _, e := range tab.entries {
			if e.value != nil && !yield(e.key, e.value) {
				return
			}
		}
	}
}

var errInvalidNextKey = errors.New("invalid key to 'next'")

func isArrayKey(k Value) bool {
	_, ok := arrayIndex(k)
	return ok
}

// maxNumericKey returns the largest positive numeric key in the table.
func (tab *Table) maxNumericKey() float64 {
	var m float64
	for i := len(tab.array) - 1; i >= 0; i-- {
		if tab.array[i] != nil {
			m = float64(i + 1)
			break
		}
	}
	for _, e := range tab.entries {
		if n, ok := e.key.(Number); ok && e.value != nil && float64(n) > m {
			m = float64(n)
		}
	}
	return m
}
