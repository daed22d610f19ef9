// Copyright 2024 The zb Authors
// SPDX-License-Identifier: MIT

package lua

import (
	"errors"
	"fmt"
	"strings"

	"github.com/dlclark/regexp2"
	"golang.org/x/text/encoding/charmap"
	"punchdrunk.256lights.llc/pkg/sets"
)

// maxCaptures is the maximum number of captures in a pattern.
const maxCaptures = 32

// pattern is a compiled [Lua pattern].
// Patterns are translated to [regexp2] syntax
// and matched against subjects whose bytes are mapped one-to-one to runes,
// so that rune offsets reported by the matcher are byte offsets.
//
// [Lua pattern]: https://www.lua.org/manual/5.1/manual.html#5.4.1
type pattern struct {
	re               *regexp2.Regexp
	anchored         bool
	numCaptures      int
	positionCaptures sets.Bit
}

// compilePattern returns the compiled form of a pattern,
// reusing an earlier compilation if possible.
// If allowAnchor is false, a leading '^' matches itself.
func (e *Engine) compilePattern(p string, allowAnchor bool) (*pattern, error) {
	key := p
	if !allowAnchor {
		key = "\x00" + p
	}
	if pat := e.patterns[key]; pat != nil {
		return pat, nil
	}
	pat, err := parsePattern(p, allowAnchor)
	if err != nil {
		return nil, err
	}
	e.patterns[key] = pat
	return pat, nil
}

func parsePattern(p string, allowAnchor bool) (*pattern, error) {
	result := new(pattern)
	sb := new(strings.Builder)
	sb.Grow(len(p) * 2)
	if allowAnchor {
		p, result.anchored = strings.CutPrefix(p, "^")
	}
	if result.anchored {
		sb.WriteString(`\G`)
	}

	var open []int // indices of unclosed captures
	closed := new(sets.Bit)
	balances := 0
	for i := 0; i < len(p); {
		var set *byteSet
		switch c := p[i]; c {
		case '(':
			if result.numCaptures >= maxCaptures {
				return nil, errors.New("too many captures")
			}
			if strings.HasPrefix(p[i:], "()") {
				result.positionCaptures.Add(uint(result.numCaptures))
				closed.Add(uint(result.numCaptures))
				result.numCaptures++
				sb.WriteString("()")
				i += 2
				continue
			}
			open = append(open, result.numCaptures)
			result.numCaptures++
			sb.WriteByte('(')
			i++
			continue
		case ')':
			if len(open) == 0 {
				return nil, errors.New("invalid pattern capture")
			}
			closed.Add(uint(open[len(open)-1]))
			open = open[:len(open)-1]
			sb.WriteByte(')')
			i++
			continue
		case '$':
			if i == len(p)-1 {
				sb.WriteString(`\z`)
				i++
				continue
			}
			set = singleByte(c)
			i++
		case '.':
			set = new(byteSet).fill()
			i++
		case '[':
			var n int
			var err error
			set, n, err = parseBracketSet(p[i:])
			if err != nil {
				return nil, err
			}
			i += n
		case '%':
			if i+1 >= len(p) {
				return nil, errors.New("malformed pattern (ends with '%')")
			}
			esc := p[i+1]
			switch {
			case esc == 'b':
				if i+3 >= len(p) {
					return nil, errors.New("unbalanced pattern")
				}
				balances++
				writeBalance(sb, p[i+2], p[i+3], balances)
				i += 4
				continue
			case esc == 'f':
				i += 2
				if i >= len(p) || p[i] != '[' {
					return nil, errors.New("missing '[' after '%f' in pattern")
				}
				fset, n, err := parseBracketSet(p[i:])
				if err != nil {
					return nil, err
				}
				writeFrontier(sb, fset)
				i += n
				continue
			case '0' <= esc && esc <= '9':
				n := int(esc - '0')
				if n == 0 || n > result.numCaptures || !closed.Has(uint(n-1)) {
					return nil, fmt.Errorf("invalid capture index %%%d", n)
				}
				fmt.Fprintf(sb, `(?:\%d)`, n)
				i += 2
				continue
			default:
				set = classSet(esc)
				if set == nil {
					set = singleByte(esc)
				}
				i += 2
			}
		default:
			set = singleByte(c)
			i++
		}

		set.writeTo(sb)
		if i < len(p) {
			switch p[i] {
			case '*', '+', '?':
				sb.WriteByte(p[i])
				i++
			case '-':
				sb.WriteString("*?")
				i++
			}
		}
	}
	if len(open) > 0 {
		return nil, errors.New("unfinished capture")
	}

	var err error
	result.re, err = regexp2.Compile(sb.String(), regexp2.Singleline)
	if err != nil {
		return nil, fmt.Errorf("malformed pattern (%v)", err)
	}
	return result, nil
}

// writeBalance writes a balancing group that matches
// a string starting with x and ending with the y that balances it.
func writeBalance(sb *strings.Builder, x, y byte, n int) {
	xs, ys := singleByte(x), singleByte(y)
	if x == y {
		xs.writeTo(sb)
		xs.clone().complement().writeTo(sb)
		sb.WriteString("*")
		xs.writeTo(sb)
		return
	}
	name := fmt.Sprintf("bal%d", n)
	xs.writeTo(sb)
	sb.WriteString("(?>(?:")
	xs.clone().union(ys).complement().writeTo(sb)
	sb.WriteString("|")
	xs.writeTo(sb)
	fmt.Fprintf(sb, "(?<%s>)|", name)
	ys.writeTo(sb)
	fmt.Fprintf(sb, "(?<-%s>))*)(?(%s)(?!))", name, name)
	ys.writeTo(sb)
}

// writeFrontier writes a zero-width assertion that matches
// where the previous character is not in set and the next one is.
// The beginning and the end of the subject count as '\0'.
func writeFrontier(sb *strings.Builder, set *byteSet) {
	if set.has(0) {
		sb.WriteString("(?<=.)")
	}
	sb.WriteString("(?<!")
	set.writeTo(sb)
	sb.WriteString(")")
	if set.has(0) {
		sb.WriteString("(?:(?=")
		set.writeTo(sb)
		sb.WriteString(`)|\z)`)
	} else {
		sb.WriteString("(?=")
		set.writeTo(sb)
		sb.WriteString(")")
	}
}

// parseBracketSet parses a set beginning with '['
// and returns the number of bytes consumed.
func parseBracketSet(p string) (_ *byteSet, n int, err error) {
	set := new(byteSet)
	i := 1
	negate := false
	if i < len(p) && p[i] == '^' {
		negate = true
		i++
	}
	for first := true; ; first = false {
		if i >= len(p) {
			return nil, 0, errors.New("malformed pattern (missing ']')")
		}
		c := p[i]
		if c == ']' && !first {
			i++
			break
		}
		switch {
		case c == '%':
			i++
			if i >= len(p) {
				return nil, 0, errors.New("malformed pattern (missing ']')")
			}
			if cls := classSet(p[i]); cls != nil {
				set.union(cls)
			} else {
				set.add(p[i])
			}
			i++
		case i+2 < len(p) && p[i+1] == '-' && p[i+2] != ']':
			for b := int(c); b <= int(p[i+2]); b++ {
				set.add(byte(b))
			}
			i += 3
		default:
			set.add(c)
			i++
		}
	}
	if negate {
		set.complement()
	}
	return set, i, nil
}

// classSet returns the set for a "%x" character class
// in the C locale, or nil if c does not name a class.
func classSet(c byte) *byteSet {
	lower := c | 0x20
	var pred func(b byte) bool
	switch lower {
	case 'a':
		pred = isASCIILetter
	case 'c':
		pred = func(b byte) bool { return b < 0x20 || b == 0x7f }
	case 'd':
		pred = isASCIIDigit
	case 'l':
		pred = func(b byte) bool { return 'a' <= b && b <= 'z' }
	case 'p':
		pred = isASCIIPunctuation
	case 's':
		pred = isASCIISpace
	case 'u':
		pred = func(b byte) bool { return 'A' <= b && b <= 'Z' }
	case 'w':
		pred = func(b byte) bool { return isASCIILetter(b) || isASCIIDigit(b) }
	case 'x':
		pred = func(b byte) bool {
			return isASCIIDigit(b) || ('a' <= b|0x20 && b|0x20 <= 'f')
		}
	case 'z':
		pred = func(b byte) bool { return b == 0 }
	default:
		return nil
	}
	set := new(byteSet)
	for b := range 256 {
		if pred(byte(b)) {
			set.add(byte(b))
		}
	}
	if c != lower {
		set.complement()
	}
	return set
}

func isASCIILetter(b byte) bool {
	return 'a' <= b|0x20 && b|0x20 <= 'z'
}

func isASCIIDigit(b byte) bool {
	return '0' <= b && b <= '9'
}

func isASCIISpace(b byte) bool {
	return b == ' ' || ('\t' <= b && b <= '\r')
}

func isASCIIPunctuation(b byte) bool {
	return '!' <= b && b <= '~' && !isASCIILetter(b) && !isASCIIDigit(b)
}

// byteSet is a set of byte values.
type byteSet [4]uint64

func singleByte(b byte) *byteSet {
	set := new(byteSet)
	set.add(b)
	return set
}

func (set *byteSet) add(b byte) {
	set[b/64] |= 1 << (b % 64)
}

func (set *byteSet) has(b byte) bool {
	return set[b/64]&(1<<(b%64)) != 0
}

func (set *byteSet) fill() *byteSet {
	for i := range set {
		set[i] = ^uint64(0)
	}
	return set
}

func (set *byteSet) union(other *byteSet) *byteSet {
	for i := range set {
		set[i] |= other[i]
	}
	return set
}

func (set *byteSet) complement() *byteSet {
	for i := range set {
		set[i] = ^set[i]
	}
	return set
}

func (set *byteSet) clone() *byteSet {
	c := *set
	return &c
}

// writeTo writes the set as a regular expression character class.
func (set *byteSet) writeTo(sb *strings.Builder) {
	sb.WriteByte('[')
	empty := true
	for b := 0; b < 256; {
		if !set.has(byte(b)) {
			b++
			continue
		}
		empty = false
		end := b
		for end+1 < 256 && set.has(byte(end+1)) {
			end++
		}
		writeRegexpByte(sb, byte(b))
		if end > b {
			sb.WriteByte('-')
			writeRegexpByte(sb, byte(end))
		}
		b = end + 1
	}
	if empty {
		// Nothing matches.
		sb.WriteString(`^\x00-\xff`)
	}
	sb.WriteByte(']')
}

func writeRegexpByte(sb *strings.Builder, b byte) {
	if isASCIILetter(b) || isASCIIDigit(b) {
		sb.WriteByte(b)
		return
	}
	fmt.Fprintf(sb, `\x%02x`, b)
}

// subjectRunes maps each byte of s to the rune with the same value,
// so that rune offsets into the result are byte offsets into s.
func subjectRunes(s string) []rune {
	runes := make([]rune, len(s))
	for i := 0; i < len(s); i++ {
		runes[i] = charmap.ISO8859_1.DecodeByte(s[i])
	}
	return runes
}

// find searches subject for the pattern starting at byte offset init.
// It returns nil if there is no match.
// Otherwise, it returns the start and end offsets of the match
// followed by the start and end offsets of each capture.
// Position captures have an end offset of -1.
func (pat *pattern) find(subject []rune, init int) ([]int, error) {
	m, err := pat.re.FindRunesMatchStartingAt(subject, init)
	if err != nil {
		return nil, err
	}
	if m == nil {
		return nil, nil
	}
	match := make([]int, 2+2*pat.numCaptures)
	match[0] = m.Index
	match[1] = m.Index + m.Length
	for i := range pat.numCaptures {
		g := m.GroupByNumber(i + 1)
		switch {
		case g == nil || len(g.Captures) == 0:
			match[2+2*i] = -1
			match[3+2*i] = -1
		case pat.positionCaptures.Has(uint(i)):
			match[2+2*i] = g.Index
			match[3+2*i] = -1
		default:
			match[2+2*i] = g.Index
			match[3+2*i] = g.Index + g.Length
		}
	}
	return match, nil
}

// captures converts a match returned by [*pattern.find] to Lua values.
// If the pattern has no captures, the whole match is returned.
func (pat *pattern) captures(s string, match []int, wholeIfNone bool) []Value {
	if pat.numCaptures == 0 {
		if !wholeIfNone {
			return nil
		}
		return []Value{String(s[match[0]:match[1]])}
	}
	values := make([]Value, pat.numCaptures)
	for i := range values {
		start, end := match[2+2*i], match[3+2*i]
		switch {
		case start < 0:
			values[i] = nil
		case end < 0:
			values[i] = Number(start + 1)
		default:
			values[i] = String(s[start:end])
		}
	}
	return values
}
