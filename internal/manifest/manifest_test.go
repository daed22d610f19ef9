// Copyright 2024 The zb Authors
// SPDX-License-Identifier: MIT

package manifest

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"punchdrunk.256lights.llc/pkg/internal/lua"
)

const exampleManifest = `
[project]
name = "demo"
entry = "app.main"

[modules]
dirs = ["modules", "vendor"]
path = "?.lua.json;?/init.lua.json"
url = "https://modules.example.com/"
max-age = "90m"

[globals]
debug = true
answer = 42
ratio = 0.5
greeting = "hello"
tags = ["a", "b"]

[globals.server]
port = 8080
`

func TestParse(t *testing.T) {
	got, err := Parse([]byte(exampleManifest))
	if err != nil {
		t.Fatal(err)
	}
	want := &Manifest{
		Project: Project{
			Name:  "demo",
			Entry: "app.main",
		},
		Modules: Modules{
			Dirs:   []string{"modules", "vendor"},
			Path:   "?.lua.json;?/init.lua.json",
			URL:    "https://modules.example.com/",
			MaxAge: 90 * time.Minute,
		},
		Globals: map[string]any{
			"debug":    true,
			"answer":   int64(42),
			"ratio":    0.5,
			"greeting": "hello",
			"tags":     []any{"a", "b"},
			"server":   map[string]any{"port": int64(8080)},
		},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Parse(...) (-want +got):\n%s", diff)
	}
}

func TestParseDefaults(t *testing.T) {
	got, err := Parse([]byte("[project]\nentry = \"main\"\n"))
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]string{"."}, got.Modules.Dirs); diff != "" {
		t.Errorf("Modules.Dirs (-want +got):\n%s", diff)
	}
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{name: "Syntax", data: "[project\n"},
		{name: "UnknownKey", data: "[project]\nentry = \"main\"\nbogus = 1\n"},
		{name: "BadDuration", data: "[modules]\nmax-age = \"soon\"\n"},
		{name: "UnknownKeyWithNestedGlobals", data: "[globals.server]\nport = 1\n\n[modules]\nbogus = 2\n"},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			if got, err := Parse([]byte(test.data)); err == nil {
				t.Errorf("Parse(%q) = %+v, <nil>; want error", test.data, got)
			}
		})
	}
}

func TestFind(t *testing.T) {
	root := t.TempDir()
	if err := os.WriteFile(filepath.Join(root, Filename), []byte(exampleManifest), 0o666); err != nil {
		t.Fatal(err)
	}
	sub := filepath.Join(root, "a", "b")
	if err := os.MkdirAll(sub, 0o777); err != nil {
		t.Fatal(err)
	}

	m, err := Find(sub)
	if err != nil {
		t.Fatal(err)
	}
	if m == nil {
		t.Fatal("Find(...) = nil")
	}
	wantRoot, err := filepath.Abs(root)
	if err != nil {
		t.Fatal(err)
	}
	if m.Dir != wantRoot {
		t.Errorf("m.Dir = %q; want %q", m.Dir, wantRoot)
	}
	wantDirs := []string{filepath.Join(wantRoot, "modules"), filepath.Join(wantRoot, "vendor")}
	if diff := cmp.Diff(wantDirs, m.ModuleDirs()); diff != "" {
		t.Errorf("m.ModuleDirs() (-want +got):\n%s", diff)
	}
}

func TestLuaGlobals(t *testing.T) {
	m, err := Parse([]byte(exampleManifest))
	if err != nil {
		t.Fatal(err)
	}
	globals, err := m.LuaGlobals()
	if err != nil {
		t.Fatal(err)
	}

	scalars := make(map[string]lua.Value)
	for name, v := range globals {
		if _, isTable := v.(*lua.Table); !isTable {
			scalars[name] = v
		}
	}
	wantScalars := map[string]lua.Value{
		"debug":    lua.Boolean(true),
		"answer":   lua.Number(42),
		"ratio":    lua.Number(0.5),
		"greeting": lua.String("hello"),
	}
	if diff := cmp.Diff(wantScalars, scalars, cmpopts.EquateEmpty()); diff != "" {
		t.Errorf("scalar globals (-want +got):\n%s", diff)
	}

	tags, ok := globals["tags"].(*lua.Table)
	if !ok {
		t.Fatalf("globals[\"tags\"] = %v; want table", globals["tags"])
	}
	if got := tags.Len(); got != 2 {
		t.Errorf("#tags = %d; want 2", got)
	}
	if got, want := tags.Get(lua.Number(2)), lua.Value(lua.String("b")); got != want {
		t.Errorf("tags[2] = %v; want %v", got, want)
	}

	server, ok := globals["server"].(*lua.Table)
	if !ok {
		t.Fatalf("globals[\"server\"] = %v; want table", globals["server"])
	}
	if got, want := server.GetString("port"), lua.Value(lua.Number(8080)); got != want {
		t.Errorf("server.port = %v; want %v", got, want)
	}
}
