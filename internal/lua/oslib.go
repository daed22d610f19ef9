// Copyright 2024 The zb Authors
// SPDX-License-Identifier: MIT

package lua

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// OSLibraryName is the conventional identifier for the operating system facilities library.
const OSLibraryName = "os"

func (e *Engine) openOS() *Table {
	return newLib(map[string]Function{
		"clock":     osClock,
		"date":      osDate,
		"difftime":  osDifftime,
		"execute":   osExecute,
		"exit":      osExit,
		"getenv":    osGetenv,
		"remove":    unsupported("remove"),
		"rename":    unsupported("rename"),
		"setlocale": unsupported("setlocale"),
		"time":      osTime,
		"tmpname":   unsupported("tmpname"),
	})
}

// osClock reports the processor time used by the program in seconds.
func osClock(ctx context.Context, e *Engine, args []Value) ([]Value, error) {
	return results(Number(cpuTime().Seconds())), nil
}

// location returns the time zone used for local dates.
func (e *Engine) location() *time.Location {
	return e.opts.Now().Location()
}

func osDate(ctx context.Context, e *Engine, args []Value) ([]Value, error) {
	a := newArgs("date", args)
	format, err := a.optString(1, "%c")
	if err != nil {
		return nil, err
	}
	var t time.Time
	if a.isNoneOrNil(2) {
		t = e.opts.Now()
	} else {
		sec, err := a.checkNumber(2)
		if err != nil {
			return nil, err
		}
		t = time.Unix(int64(sec), 0)
	}
	format, utc := strings.CutPrefix(format, "!")
	if utc {
		t = t.UTC()
	} else {
		t = t.In(e.location())
	}
	if format == "*t" {
		tab := newTable(0, 9)
		setTimeFields(tab, t)
		return results(tab), nil
	}
	s, err := strftime(t, format)
	if err != nil {
		return nil, a.argError(1, err.Error())
	}
	return results(String(s)), nil
}

func osDifftime(ctx context.Context, e *Engine, args []Value) ([]Value, error) {
	a := newArgs("difftime", args)
	t2, err := a.checkNumber(1)
	if err != nil {
		return nil, err
	}
	t1, err := a.optNumber(2, 0)
	if err != nil {
		return nil, err
	}
	return results(Number(t2 - t1)), nil
}

func osExecute(ctx context.Context, e *Engine, args []Value) ([]Value, error) {
	if len(args) > 0 {
		return nil, newError(RuntimeError, "shell is not available. You should always check first by calling os.execute with no parameters")
	}
	return results(Number(0)), nil
}

func osExit(ctx context.Context, e *Engine, args []Value) ([]Value, error) {
	code := 0
	switch v := newArgs("exit", args).arg(1).(type) {
	case Number:
		code = int(v)
	case Boolean:
		if !v {
			code = 1
		}
	}
	return nil, newError(RuntimeError, "Execution terminated [%d]", code)
}

func osGetenv(ctx context.Context, e *Engine, args []Value) ([]Value, error) {
	k, err := newArgs("getenv", args).checkString(1)
	if err != nil {
		return nil, err
	}
	v, ok := e.opts.LookupEnv(k)
	if !ok {
		return results(nil), nil
	}
	return results(String(v)), nil
}

func osTime(ctx context.Context, e *Engine, args []Value) ([]Value, error) {
	a := newArgs("time", args)
	if a.isNoneOrNil(1) {
		return results(Number(e.opts.Now().Unix())), nil
	}
	tab, err := a.checkTable(1)
	if err != nil {
		return nil, err
	}
	year, err := timeField(tab, "year", -1)
	if err != nil {
		return nil, err
	}
	month, err := timeField(tab, "month", -1)
	if err != nil {
		return nil, err
	}
	day, err := timeField(tab, "day", -1)
	if err != nil {
		return nil, err
	}
	hour, err := timeField(tab, "hour", 12)
	if err != nil {
		return nil, err
	}
	minute, err := timeField(tab, "min", 0)
	if err != nil {
		return nil, err
	}
	sec, err := timeField(tab, "sec", 0)
	if err != nil {
		return nil, err
	}
	if ToBoolean(tab.GetString("isdst")) {
		hour--
	}
	t := time.Date(year, time.Month(month), day, hour, minute, sec, 0, e.location())
	return results(Number(t.Unix())), nil
}

// timeField reads an integer field from a date table.
// A negative d means the field is required.
func timeField(tab *Table, key string, d int) (int, error) {
	v := tab.GetString(key)
	f, ok := ToNumber(v)
	if !ok {
		if v != nil {
			return 0, newError(RuntimeError, "field '%s' is not an integer", key)
		}
		if d < 0 {
			return 0, newError(RuntimeError, "field '%s' missing in date table", key)
		}
		return d, nil
	}
	if !(math.MinInt32 <= f && f <= math.MaxInt32) {
		return 0, newError(RuntimeError, "field '%s' is out-of-bound", key)
	}
	return int(f), nil
}

func setTimeFields(tab *Table, t time.Time) {
	tab.SetString("year", Number(t.Year()))
	tab.SetString("month", Number(t.Month()))
	tab.SetString("day", Number(t.Day()))
	tab.SetString("hour", Number(t.Hour()))
	tab.SetString("min", Number(t.Minute()))
	tab.SetString("sec", Number(t.Second()))
	tab.SetString("yday", Number(t.YearDay()))
	tab.SetString("wday", Number(int(t.Weekday())+1))
	tab.SetString("isdst", Boolean(t.IsDST()))
}

// appendPadded appends n as a decimal number of at least two digits.
func appendPadded(buf []byte, n int) []byte {
	if n < 10 {
		buf = append(buf, '0')
	}
	return strconv.AppendInt(buf, int64(n), 10)
}

// strftime formats t like the C function of the same name in the "C" locale.
func strftime(t time.Time, format string) (string, error) {
	buf := make([]byte, 0, len(format))
	for i := 0; i < len(format); i++ {
		c := format[i]
		if c != '%' {
			buf = append(buf, c)
			continue
		}
		i++
		if i >= len(format) {
			return string(buf), fmt.Errorf("invalid conversion specifier '%%'")
		}
		switch format[i] {
		case 'a':
			buf = t.AppendFormat(buf, "Mon")
		case 'A':
			buf = t.AppendFormat(buf, "Monday")
		case 'b', 'h':
			buf = t.AppendFormat(buf, "Jan")
		case 'B':
			buf = t.AppendFormat(buf, "January")
		case 'c':
			buf = t.AppendFormat(buf, "Mon Jan _2 15:04:05 2006")
		case 'C':
			buf = appendPadded(buf, t.Year()/100)
		case 'd':
			buf = t.AppendFormat(buf, "02")
		case 'D', 'x':
			buf = t.AppendFormat(buf, "01/02/06")
		case 'e':
			buf = t.AppendFormat(buf, "_2")
		case 'F':
			buf = t.AppendFormat(buf, "2006-01-02")
		case 'g':
			year, _ := t.ISOWeek()
			buf = appendPadded(buf, year%100)
		case 'G':
			year, _ := t.ISOWeek()
			buf = strconv.AppendInt(buf, int64(year), 10)
		case 'H':
			buf = t.AppendFormat(buf, "15")
		case 'I':
			buf = t.AppendFormat(buf, "03")
		case 'j':
			buf = t.AppendFormat(buf, "002")
		case 'm':
			buf = t.AppendFormat(buf, "01")
		case 'M':
			buf = t.AppendFormat(buf, "04")
		case 'n':
			buf = append(buf, '\n')
		case 'p':
			buf = t.AppendFormat(buf, "PM")
		case 'r':
			buf = t.AppendFormat(buf, "03:04:05 PM")
		case 'R':
			buf = t.AppendFormat(buf, "15:04")
		case 'S':
			buf = t.AppendFormat(buf, "05")
		case 't':
			buf = append(buf, '\t')
		case 'T', 'X':
			buf = t.AppendFormat(buf, "15:04:05")
		case 'u':
			wday := 1 + (int(t.Weekday())+6)%7
			buf = strconv.AppendInt(buf, int64(wday), 10)
		case 'U':
			// Weeks start on Sunday.
			buf = appendPadded(buf, (t.YearDay()+6-int(t.Weekday()))/7)
		case 'V':
			_, week := t.ISOWeek()
			buf = appendPadded(buf, week)
		case 'w':
			buf = strconv.AppendInt(buf, int64(t.Weekday()), 10)
		case 'W':
			// Weeks start on Monday.
			buf = appendPadded(buf, (t.YearDay()+6-(int(t.Weekday())+6)%7)/7)
		case 'y':
			buf = t.AppendFormat(buf, "06")
		case 'Y':
			buf = t.AppendFormat(buf, "2006")
		case 'z':
			buf = t.AppendFormat(buf, "-0700")
		case 'Z':
			buf = t.AppendFormat(buf, "MST")
		case '%':
			buf = append(buf, '%')
		default:
			return string(buf), fmt.Errorf("invalid conversion specifier '%%%c'", format[i])
		}
	}
	return string(buf), nil
}
