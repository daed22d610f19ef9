// Copyright 2024 The zb Authors
// SPDX-License-Identifier: MIT

package lualex

import (
	"errors"
	"math"
	"strconv"
	"strings"
)

// ParseNumber converts the given string to a 64-bit floating-point number
// using the numeric coercion rules of the interpreter:
// a decimal floating-point numeral with optional sign and exponent,
// or a "0x"-prefixed hexadecimal mantissa with an optional fraction
// and an optional leading minus sign.
// The literal strings "inf", "-inf", and "nan" are also accepted.
// Surrounding whitespace is permitted,
// and any error returned will be of type [*strconv.NumError].
func ParseNumber(s string) (float64, error) {
	s = trimSpace(s)
	switch s {
	case "inf":
		return math.Inf(1), nil
	case "-inf":
		return math.Inf(-1), nil
	case "nan":
		return math.NaN(), nil
	}
	syntaxError := &strconv.NumError{
		Func: "ParseNumber",
		Num:  s,
		Err:  strconv.ErrSyntax,
	}

	neg, rest := cutMinus(s)
	if h, isHex := cutHexPrefix(rest); isHex {
		f, ok := parseHexMantissa(h)
		if !ok {
			return 0, syntaxError
		}
		if neg {
			f = -f
		}
		return f, nil
	}

	if !isDecimalNumeral(s) {
		return 0, syntaxError
	}
	f, err := strconv.ParseFloat(s, 64)
	if errors.Is(err, strconv.ErrRange) {
		err = nil
	} else if err != nil {
		return 0, syntaxError
	}
	return f, err
}

// isDecimalNumeral reports whether s matches
// [+-]? digits? (. digits?)? ([eE] [+-]? digits)?
// with at least one mantissa digit.
func isDecimalNumeral(s string) bool {
	if len(s) > 0 && (s[0] == '+' || s[0] == '-') {
		s = s[1:]
	}
	mantissaDigits := 0
	for len(s) > 0 && isDigit(s[0]) {
		s = s[1:]
		mantissaDigits++
	}
	if len(s) > 0 && s[0] == '.' {
		s = s[1:]
		for len(s) > 0 && isDigit(s[0]) {
			s = s[1:]
			mantissaDigits++
		}
	}
	if mantissaDigits == 0 {
		return false
	}
	if len(s) > 0 && (s[0] == 'e' || s[0] == 'E') {
		s = s[1:]
		if len(s) > 0 && (s[0] == '+' || s[0] == '-') {
			s = s[1:]
		}
		if len(s) == 0 {
			return false
		}
		for len(s) > 0 && isDigit(s[0]) {
			s = s[1:]
		}
	}
	return len(s) == 0
}

// parseHexMantissa parses hexadecimal digits with an optional radix point.
func parseHexMantissa(h string) (float64, bool) {
	var f float64
	digits := 0
	for len(h) > 0 && isHexDigit(h[0]) {
		d, _ := hexDigit(h[0])
		f = f*16 + float64(d)
		h = h[1:]
		digits++
	}
	if len(h) > 0 && h[0] == '.' {
		h = h[1:]
		scale := 1.0 / 16
		for len(h) > 0 && isHexDigit(h[0]) {
			d, _ := hexDigit(h[0])
			f += float64(d) * scale
			scale /= 16
			h = h[1:]
			digits++
		}
	}
	return f, digits > 0 && len(h) == 0
}

// ParseIntBase converts the given string to a number
// by interpreting it as an integer numeral in the given base,
// as tonumber does when a base is given.
// Digits beyond 9 are letters in either case.
// An optional leading minus sign is permitted,
// and in base 16 an optional "0x" prefix after the sign.
// Surrounding whitespace is permitted.
// Unlike [ParseNumber], the strings "inf" and "nan" have no special meaning
// and are only accepted in bases where they are valid digit sequences.
func ParseIntBase(s string, base int) (float64, error) {
	if base < 2 || base > 36 {
		return 0, &strconv.NumError{
			Func: "ParseIntBase",
			Num:  s,
			Err:  strconv.ErrRange,
		}
	}
	orig := s
	s = trimSpace(s)
	neg, s := cutMinus(s)
	if base == 16 {
		s, _ = cutHexPrefix(s)
	}
	if s == "" {
		return 0, &strconv.NumError{Func: "ParseIntBase", Num: orig, Err: strconv.ErrSyntax}
	}
	var n float64
	for i := 0; i < len(s); i++ {
		d := digitValue(s[i])
		if d < 0 || d >= base {
			return 0, &strconv.NumError{Func: "ParseIntBase", Num: orig, Err: strconv.ErrSyntax}
		}
		n = n*float64(base) + float64(d)
	}
	if neg {
		n = -n
	}
	return n, nil
}

func digitValue(c byte) int {
	switch {
	case isDigit(c):
		return int(c - '0')
	case 'a' <= c && c <= 'z':
		return int(c-'a') + 10
	case 'A' <= c && c <= 'Z':
		return int(c-'A') + 10
	default:
		return -1
	}
}

// FormatNumber returns the shortest decimal string
// that [ParseNumber] converts back to f.
// NaN formats as "nan" and infinities as "inf" and "-inf".
// Integral values below 1e21 in magnitude are formatted without an exponent.
func FormatNumber(f float64) string {
	switch {
	case math.IsNaN(f):
		return "nan"
	case math.IsInf(f, 1):
		return "inf"
	case math.IsInf(f, -1):
		return "-inf"
	}
	if abs := math.Abs(f); abs != 0 && (abs >= 1e21 || abs < 1e-6) {
		return strconv.FormatFloat(f, 'e', -1, 64)
	}
	return strconv.FormatFloat(f, 'f', -1, 64)
}

func cutHexPrefix(s string) (rest string, hex bool) {
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		return s[2:], true
	}
	return s, false
}

func cutMinus(s string) (neg bool, rest string) {
	if len(s) > 0 && s[0] == '-' {
		return true, s[1:]
	}
	return false, s
}

func trimSpace(s string) string {
	for len(s) > 0 && isSpace(s[0]) {
		s = s[1:]
	}
	for len(s) > 0 && isSpace(s[len(s)-1]) {
		s = s[:len(s)-1]
	}
	return s
}
