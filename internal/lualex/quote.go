// Copyright 2024 The zb Authors
// SPDX-License-Identifier: MIT

// Package lualex provides the lexical conventions that the interpreter
// shares with [Lua 5.1] source code:
// numeral syntax for string-to-number coercion,
// number formatting for number-to-string coercion,
// and string literal quoting.
//
// [Lua 5.1]: https://www.lua.org/manual/5.1/manual.html#2.1
package lualex

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// Quote returns a double-quoted Lua string literal representing s.
func Quote(s string) string {
	sb := new(strings.Builder)
	sb.Grow(len(s) + 2)
	sb.WriteByte('"')
	for {
		c, size := utf8.DecodeRuneInString(s)
		switch {
		case size == 0:
			sb.WriteByte('"')
			return sb.String()
		case c == utf8.RuneError && size == 1:
			sb.WriteString(`\x`)
			for _, digit := range toHexDigits(s[0]) {
				sb.WriteByte(digit)
			}
		case c == '\\' || c == '"':
			sb.WriteByte('\\')
			sb.WriteRune(c)
		case isPrint(c):
			sb.WriteRune(c)
		case c == '\a':
			sb.WriteString(`\a`)
		case c == '\b':
			sb.WriteString(`\b`)
		case c == '\f':
			sb.WriteString(`\f`)
		case c == '\n':
			sb.WriteString(`\n`)
		case c == '\r':
			sb.WriteString(`\r`)
		case c == '\t':
			sb.WriteString(`\t`)
		case c == '\v':
			sb.WriteString(`\v`)
		case c < utf8.RuneSelf:
			fmt.Fprintf(sb, `\%03d`, c)
		default:
			sb.WriteRune(c)
		}
		s = s[size:]
	}
}

// QuoteFormat returns s quoted the way string.format's %q directive does:
// the result can be read back by the Lua 5.1 parser
// and embedded newlines are written as a backslash followed by a newline.
func QuoteFormat(s string) string {
	sb := new(strings.Builder)
	sb.Grow(len(s) + 2)
	sb.WriteByte('"')
	for i := 0; i < len(s); i++ {
		switch c := s[i]; c {
		case '"', '\\', '\n':
			sb.WriteByte('\\')
			sb.WriteByte(c)
		case '\r':
			sb.WriteString(`\r`)
		case 0:
			sb.WriteString(`\000`)
		default:
			sb.WriteByte(c)
		}
	}
	sb.WriteByte('"')
	return sb.String()
}

// isSpace reports whether the given byte represents a space in Lua source code.
// According to the [reference],
// Lua recognizes as spaces the standard ASCII whitespace characters
// space, form feed, newline, carriage return, horizontal tab, and vertical tab.
//
// [reference]: https://www.lua.org/manual/5.1/manual.html#2.1
func isSpace(c byte) bool {
	return c == ' ' || c == '\n' || c == '\t' || c == '\r' || c == '\f' || c == '\v'
}

func isDigit(c byte) bool {
	return '0' <= c && c <= '9'
}

func isHexDigit(c byte) bool {
	return isDigit(c) || 'a' <= c && c <= 'f' || 'A' <= c && c <= 'F'
}

func toHexDigits(x byte) [2]byte {
	var result [2]byte
	if hi := x >> 4; hi < 0xa {
		result[0] = hi + '0'
	} else {
		result[0] = hi - 0xa + 'a'
	}
	if lo := x & 0xf; lo < 0xa {
		result[1] = lo + '0'
	} else {
		result[1] = lo - 0xa + 'a'
	}
	return result
}

func isPrint(c rune) bool {
	return 0x20 <= c && c < 0x7f
}

func hexDigit(c byte) (byte, error) {
	switch {
	case isDigit(c):
		return c - '0', nil
	case 'a' <= c && c <= 'f':
		return c - 'a' + 0xa, nil
	case 'A' <= c && c <= 'F':
		return c - 'A' + 0xa, nil
	default:
		return 0, fmt.Errorf("unexpected %q (want hex digit)", c)
	}
}
