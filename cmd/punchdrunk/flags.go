// Copyright 2024 The zb Authors
// SPDX-License-Identifier: MIT

package main

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"slices"
	"strconv"
	"strings"

	jsonv2 "github.com/go-json-experiment/json"
	"github.com/go-json-experiment/json/jsontext"
	"github.com/spf13/pflag"
	"punchdrunk.256lights.llc/pkg/internal/luacode"
	"punchdrunk.256lights.llc/pkg/sets"
)

var (
	_ pflag.SliceValue = (*stringAllowListFlag)(nil)
	_ pflag.Value      = (*stringAllowListAllFlag)(nil)
	_ pflag.Value      = (*formatFlag)(nil)
)

// stringAllowList is an allow list of a set of strings.
// If all is true, then it is the set of all strings.
type stringAllowList struct {
	set sets.Set[string]
	all bool
}

func (list *stringAllowList) Has(s string) bool {
	if list == nil {
		return false
	}
	return list.all || list.set.Has(s)
}

// UnmarshalJSONFrom accepts either a boolean (allow all or nothing)
// or an array of strings to add to the list.
func (list *stringAllowList) UnmarshalJSONFrom(in *jsontext.Decoder) error {
	switch kind := in.PeekKind(); kind {
	case 't', 'f':
		var all bool
		if err := jsonv2.UnmarshalDecode(in, &all); err != nil {
			return err
		}
		list.all = all
		if !all {
			list.set.Clear()
		}
		return nil
	case '[':
		var elems []string
		if err := jsonv2.UnmarshalDecode(in, &elems); err != nil {
			return err
		}
		if list.set == nil {
			list.set = make(sets.Set[string])
		}
		list.set.AddSeq(slices.Values(elems))
		return nil
	default:
		return fmt.Errorf("allow list must be a boolean or an array, not %v", kind)
	}
}

func (list *stringAllowList) argFlag(csv bool) *stringAllowListFlag {
	if list.set == nil {
		list.set = make(sets.Set[string])
	}
	return &stringAllowListFlag{
		stringSetFlag: stringSetFlag{
			set: list.set,
			csv: csv,
		},
		all: &list.all,
	}
}

func (list *stringAllowList) allFlag() *stringAllowListAllFlag {
	return &stringAllowListAllFlag{list: list}
}

// stringAllowListFlag is the implementation of [github.com/spf13/pflag.Value]
// and [github.com/spf13/pflag.SliceValue]
// for [*stringAllowList.argFlag].
// If a value is specified, then all will be set to false.
type stringAllowListFlag struct {
	stringSetFlag
	all *bool
}

func (f *stringAllowListFlag) Set(s string) error {
	*f.all = false
	return f.stringSetFlag.Set(s)
}

func (f *stringAllowListFlag) Append(s string) error {
	*f.all = false
	return f.stringSetFlag.Append(s)
}

func (f *stringAllowListFlag) Replace(val []string) error {
	*f.all = false
	return f.stringSetFlag.Replace(val)
}

// stringSetFlag is similar to [github.com/spf13/pflag.StringArray],
// but prevents duplicate entries.
// If csv is true, then stringSetFlag acts like [github.com/spf13/pflag.StringSlice].
type stringSetFlag struct {
	set     sets.Set[string]
	changed bool
	csv     bool
}

func (f *stringSetFlag) Get() any { return f.set }

func (f *stringSetFlag) Type() string {
	if f.csv {
		return "stringSlice"
	}
	return "stringArray"
}

func (f *stringSetFlag) GetSlice() []string {
	s := slices.Collect(f.set.All())
	slices.Sort(s)
	return s
}

func (f *stringSetFlag) String() string {
	buf := new(bytes.Buffer)
	buf.WriteString("[")
	w := csv.NewWriter(buf)
	_ = w.Write(f.GetSlice())
	w.Flush()
	b := bytes.TrimSuffix(buf.Bytes(), []byte("\n"))
	b = append(b, "]"...)
	return string(b)
}

// Set replaces values loaded from configuration files on first use,
// then accumulates.
func (f *stringSetFlag) Set(s string) error {
	if !f.changed {
		f.set.Clear()
		f.changed = true
	}
	if f.csv {
		r := csv.NewReader(strings.NewReader(s))
		vals, err := r.Read()
		if err != nil {
			return err
		}
		f.set.AddSeq(slices.Values(vals))
	} else {
		f.set.Add(s)
	}
	return nil
}

func (f *stringSetFlag) Append(val string) error {
	f.set.Add(val)
	return nil
}

func (f *stringSetFlag) Replace(val []string) error {
	f.set.Clear()
	f.set.AddSeq(slices.Values(val))
	return nil
}

// stringAllowListAllFlag is the implementation of [github.com/spf13/pflag.Value]
// for [*stringAllowList.allFlag].
// If set false, then list.set will be cleared.
type stringAllowListAllFlag struct {
	list *stringAllowList
}

func (f *stringAllowListAllFlag) IsBoolFlag() bool { return true }
func (f *stringAllowListAllFlag) Type() string     { return "bool" }
func (f *stringAllowListAllFlag) String() string   { return strconv.FormatBool(f.list.all) }
func (f *stringAllowListAllFlag) Get() any         { return f.list.all }

func (f *stringAllowListAllFlag) Set(s string) error {
	b, err := strconv.ParseBool(s)
	f.list.all = b
	if !b {
		f.list.set.Clear()
	}
	return err
}

// formatFlag is a [github.com/spf13/pflag.Value] naming a bytecode encoding.
type formatFlag luacode.Format

func (f *formatFlag) Type() string { return "format" }
func (f formatFlag) String() string { return luacode.Format(f).String() }
func (f formatFlag) Get() any       { return luacode.Format(f) }

func (f *formatFlag) Set(s string) error {
	switch s {
	case "json":
		*f = formatFlag(luacode.FormatJSON)
	case "luac", "binary":
		*f = formatFlag(luacode.FormatBinary)
	case "cbor":
		*f = formatFlag(luacode.FormatCBOR)
	default:
		return fmt.Errorf("unknown format %q (want json, luac, or cbor)", s)
	}
	return nil
}
