// Copyright 2024 The zb Authors
// SPDX-License-Identifier: MIT

package main

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"punchdrunk.256lights.llc/pkg/internal/lua"
	"punchdrunk.256lights.llc/pkg/internal/luacode"
	"punchdrunk.256lights.llc/pkg/internal/modload"
	"punchdrunk.256lights.llc/pkg/internal/testcontext"
)

// returnString returns a chunk equivalent to `return s`.
func returnString(s string) *luacode.Prototype {
	return &luacode.Prototype{
		VarArg:       luacode.VarArgIsVararg,
		MaxStackSize: 2,
		Source:       luacode.AbstractSource(s),
		Constants:    []luacode.Value{luacode.StringValue(s)},
		Code: []luacode.Instruction{
			luacode.ABx(luacode.OpLoadK, 0, 0),
			luacode.ABC(luacode.OpReturn, 0, 2, 0),
			luacode.ABC(luacode.OpReturn, 0, 1, 0),
		},
		LineInfo: []int{1, 1, 1},
	}
}

func writeChunk(tb testing.TB, path string, p *luacode.Prototype, format luacode.Format) {
	tb.Helper()
	data, err := p.Encode(format)
	if err != nil {
		tb.Fatal(err)
	}
	if err := os.WriteFile(path, data, 0o666); err != nil {
		tb.Fatal(err)
	}
}

func TestLoadTarget(t *testing.T) {
	ctx, cancel := testcontext.New(t)
	defer cancel()

	dir := t.TempDir()
	writeChunk(t, filepath.Join(dir, "file.luac"), returnString("from file"), luacode.FormatBinary)
	writeChunk(t, filepath.Join(dir, "mod.lua.json"), returnString("from module"), luacode.FormatJSON)

	e := lua.NewEngine(&lua.Options{
		Loader: &modload.Resolver{
			Fetchers: []modload.Fetcher{&modload.FSLoader{FS: os.DirFS(dir)}},
		},
		PackagePath: "?.lua.json",
	})
	defer e.Close()

	tests := []struct {
		target string
		want   string
	}{
		{target: filepath.Join(dir, "file.luac"), want: "from file"},
		{target: "mod", want: "from module"},
	}
	for _, test := range tests {
		cl, err := loadTarget(ctx, e, test.target)
		if err != nil {
			t.Errorf("loadTarget(ctx, e, %q): %v", test.target, err)
			continue
		}
		got, err := e.Execute(ctx, cl)
		if err != nil {
			t.Errorf("running %q: %v", test.target, err)
			continue
		}
		if diff := cmp.Diff([]lua.Value{lua.String(test.want)}, got); diff != "" {
			t.Errorf("running %q (-want +got):\n%s", test.target, diff)
		}
	}

	if _, err := loadTarget(ctx, e, "nonexistent"); err == nil {
		t.Error("loadTarget(ctx, e, \"nonexistent\") did not return an error")
	}
}

func TestReportLuaError(t *testing.T) {
	t.Run("RuntimeError", func(t *testing.T) {
		sb := new(strings.Builder)
		err := reportLuaError(sb, &lua.Error{Kind: lua.RuntimeError, Value: lua.String("boom")})
		if got, want := err, error(exitError(1)); got != want {
			t.Errorf("reportLuaError(...) = %v; want %v", got, want)
		}
		if got, want := sb.String(), "punchdrunk: boom\n"; got != want {
			t.Errorf("output = %q; want %q", got, want)
		}
	})

	t.Run("Exit", func(t *testing.T) {
		sb := new(strings.Builder)
		err := reportLuaError(sb, &lua.Error{Kind: lua.RuntimeError, Value: lua.String("Execution terminated [3]")})
		if got, want := err, error(exitError(3)); got != want {
			t.Errorf("reportLuaError(...) = %v; want %v", got, want)
		}
		if sb.Len() > 0 {
			t.Errorf("output = %q; want empty", sb.String())
		}
	})

	t.Run("HostError", func(t *testing.T) {
		hostErr := errors.New("disk on fire")
		sb := new(strings.Builder)
		if got := reportLuaError(sb, hostErr); got != hostErr {
			t.Errorf("reportLuaError(sb, %v) = %v", hostErr, got)
		}
		if got := reportLuaError(sb, nil); got != nil {
			t.Errorf("reportLuaError(sb, nil) = %v", got)
		}
	})
}
