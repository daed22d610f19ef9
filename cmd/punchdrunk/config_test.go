// Copyright 2024 The zb Authors
// SPDX-License-Identifier: MIT

package main

import (
	"os"
	"path/filepath"
	"slices"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"punchdrunk.256lights.llc/pkg/internal/lua"
)

func TestDefaultGlobalConfig(t *testing.T) {
	got := defaultGlobalConfig()
	if got.PackagePath != lua.DefaultPackagePath {
		t.Errorf("defaultGlobalConfig().PackagePath = %q; want %q", got.PackagePath, lua.DefaultPackagePath)
	}
	if err := got.validate(); err != nil {
		t.Errorf("defaultGlobalConfig().validate() = %v", err)
	}
}

func TestGlobalConfigMergeFiles(t *testing.T) {
	dir := t.TempDir()
	paths := []string{
		filepath.Join(dir, "config1.jwcc"),
		filepath.Join(dir, "missing.jwcc"),
		filepath.Join(dir, "config2.jwcc"),
	}
	config1 := `{
		// Comments and trailing commas are permitted.
		"debug": true,
		"packagePath": "?.json",
		"allowEnvironment": ["HOME"],
		"futureOption": {"ignored": true},
	}` + "\n"
	if err := os.WriteFile(paths[0], []byte(config1), 0o666); err != nil {
		t.Fatal(err)
	}
	config2 := `{"packagePath": "lib/?.lua.json", "allowEnvironment": ["USER"], "cacheMaxAge": "1h"}` + "\n"
	if err := os.WriteFile(paths[2], []byte(config2), 0o666); err != nil {
		t.Fatal(err)
	}

	g := defaultGlobalConfig()
	if err := g.mergeFiles(slices.Values(paths)); err != nil {
		t.Fatal("mergeFiles:", err)
	}
	if !g.Debug {
		t.Error("g.Debug = false; want true (config1.jwcc ignored)")
	}
	if got, want := g.PackagePath, "lib/?.lua.json"; got != want {
		t.Errorf("g.PackagePath = %q; want %q", got, want)
	}
	for _, name := range []string{"HOME", "USER"} {
		if !g.AllowEnv.Has(name) {
			t.Errorf("g.AllowEnv.Has(%q) = false; want true", name)
		}
	}
	if g.AllowEnv.Has("PATH") {
		t.Error("g.AllowEnv.Has(\"PATH\") = true; want false")
	}
	if got, err := g.cacheMaxAge(); err != nil || got != time.Hour {
		t.Errorf("g.cacheMaxAge() = %v, %v; want 1h, <nil>", got, err)
	}
}

func TestGlobalConfigMergeFilesErrors(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{name: "NotObject", data: `[]`},
		{name: "BadSyntax", data: `{"debug": }`},
		{name: "WrongType", data: `{"debug": "yes"}`},
		{name: "BadAllowList", data: `{"allowEnvironment": 42}`},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "config.jwcc")
			if err := os.WriteFile(path, []byte(test.data), 0o666); err != nil {
				t.Fatal(err)
			}
			if err := new(globalConfig).mergeFiles(slices.Values([]string{path})); err == nil {
				t.Errorf("mergeFiles(%q) did not return an error", test.data)
			}
		})
	}
}

func TestGlobalConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		config  globalConfig
		wantErr bool
	}{
		{name: "Empty"},
		{name: "HTTPS", config: globalConfig{ModuleURL: "https://example.com/modules/"}},
		{name: "FileURL", config: globalConfig{ModuleURL: "file:///tmp"}, wantErr: true},
		{name: "BadMaxAge", config: globalConfig{CacheMaxAge: "forever"}, wantErr: true},
		{name: "NegativeMaxAge", config: globalConfig{CacheMaxAge: "-1h"}, wantErr: true},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			err := test.config.validate()
			if (err != nil) != test.wantErr {
				t.Errorf("validate() = %v; want error = %t", err, test.wantErr)
			}
		})
	}
}

func TestAllowListFlags(t *testing.T) {
	list := new(stringAllowList)
	argFlag := list.argFlag(true)
	if err := argFlag.Set("HOME,USER"); err != nil {
		t.Fatal(err)
	}
	if err := argFlag.Set("LANG"); err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]string{"HOME", "LANG", "USER"}, argFlag.GetSlice()); diff != "" {
		t.Errorf("allow list (-want +got):\n%s", diff)
	}
	if got, want := argFlag.String(), "[HOME,LANG,USER]"; got != want {
		t.Errorf("argFlag.String() = %q; want %q", got, want)
	}

	allFlag := list.allFlag()
	if err := allFlag.Set("true"); err != nil {
		t.Fatal(err)
	}
	if !list.Has("ANYTHING") {
		t.Error("list.Has(\"ANYTHING\") = false after --allow-all-env")
	}
	if err := allFlag.Set("false"); err != nil {
		t.Fatal(err)
	}
	if list.Has("HOME") {
		t.Error("list.Has(\"HOME\") = true after --allow-all-env=false")
	}
}

func TestLookupEnv(t *testing.T) {
	t.Setenv("PUNCHDRUNK_TEST_ALLOWED", "yes")
	t.Setenv("PUNCHDRUNK_TEST_DENIED", "no")
	g := new(globalConfig)
	if err := g.AllowEnv.argFlag(false).Set("PUNCHDRUNK_TEST_ALLOWED"); err != nil {
		t.Fatal(err)
	}
	lookup := g.lookupEnv()
	if v, ok := lookup("PUNCHDRUNK_TEST_ALLOWED"); !ok || v != "yes" {
		t.Errorf("lookup(allowed) = %q, %t; want \"yes\", true", v, ok)
	}
	if v, ok := lookup("PUNCHDRUNK_TEST_DENIED"); ok {
		t.Errorf("lookup(denied) = %q, %t; want \"\", false", v, ok)
	}
}

func TestFormatFlag(t *testing.T) {
	var f formatFlag
	for _, name := range []string{"json", "luac", "cbor"} {
		if err := f.Set(name); err != nil {
			t.Errorf("Set(%q): %v", name, err)
			continue
		}
		if got := f.String(); got != name {
			t.Errorf("after Set(%q), String() = %q", name, got)
		}
	}
	if err := f.Set("xml"); err == nil {
		t.Error("Set(\"xml\") did not return an error")
	}
}
