// Copyright 2024 The zb Authors
// SPDX-License-Identifier: MIT

// Package manifest handles punchdrunk.toml project configuration.
package manifest

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"punchdrunk.256lights.llc/pkg/internal/lua"
)

// Filename is the name of a project manifest.
const Filename = "punchdrunk.toml"

// Manifest is a punchdrunk.toml project configuration.
type Manifest struct {
	Project Project        `toml:"project"`
	Modules Modules        `toml:"modules"`
	Globals map[string]any `toml:"globals"`

	// Dir is the absolute directory containing the manifest (set at load time).
	Dir string `toml:"-"`
}

// Project contains project metadata.
type Project struct {
	Name string `toml:"name"`
	// Entry is the name of the module that "punchdrunk run" starts with
	// when no module is given on the command line.
	Entry string `toml:"entry"`
}

// Modules configures where compiled chunks are found.
type Modules struct {
	// Dirs are directories (relative to the manifest) searched for chunks.
	Dirs []string `toml:"dirs"`
	// Path replaces the default package.path.
	Path string `toml:"path"`
	// URL is the base URL of a module server.
	URL string `toml:"url"`
	// Template is the URI template expanded against URL.
	Template string `toml:"template"`
	// MaxAge is how long downloaded chunks are cached, e.g. "1h".
	MaxAge time.Duration `toml:"max-age"`
}

// Parse parses the contents of a manifest.
// The returned manifest's Dir is empty.
func Parse(data []byte) (*Manifest, error) {
	m := new(Manifest)
	md, err := toml.Decode(string(data), m)
	if err != nil {
		return nil, err
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, 0, len(undecoded))
		for _, k := range undecoded {
			// Globals are free-form: nested tables are decoded into maps.
			if len(k) > 0 && k[0] == "globals" {
				continue
			}
			keys = append(keys, k.String())
		}
		if len(keys) > 0 {
			return nil, fmt.Errorf("unknown keys %s", strings.Join(keys, ", "))
		}
	}
	if len(m.Modules.Dirs) == 0 {
		m.Modules.Dirs = []string{"."}
	}
	return m, nil
}

// Load parses the punchdrunk.toml file in dir.
func Load(dir string) (*Manifest, error) {
	path := filepath.Join(dir, Filename)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	m, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %v", path, err)
	}
	m.Dir, err = filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %v", path, err)
	}
	return m, nil
}

// Find walks up from startDir to find a punchdrunk.toml file
// and loads it.
// If no manifest is found, Find returns (nil, nil).
func Find(startDir string) (*Manifest, error) {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return nil, fmt.Errorf("find manifest: %v", err)
	}
	for {
		if _, err := os.Stat(filepath.Join(dir, Filename)); err == nil {
			return Load(dir)
		} else if !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("find manifest: %v", err)
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return nil, nil
		}
		dir = parent
	}
}

// ModuleDirs returns the absolute paths of the module directories.
func (m *Manifest) ModuleDirs() []string {
	paths := make([]string, 0, len(m.Modules.Dirs))
	for _, d := range m.Modules.Dirs {
		if filepath.IsAbs(d) {
			paths = append(paths, filepath.Clean(d))
		} else {
			paths = append(paths, filepath.Join(m.Dir, filepath.FromSlash(d)))
		}
	}
	return paths
}

// LuaGlobals converts the [globals] table into Lua values.
// Strings, numbers, and booleans map directly.
// TOML tables become Lua tables and arrays become sequences.
// Dates are converted to strings in RFC 3339 format.
func (m *Manifest) LuaGlobals() (map[string]lua.Value, error) {
	if len(m.Globals) == 0 {
		return nil, nil
	}
	names := make([]string, 0, len(m.Globals))
	for name := range m.Globals {
		names = append(names, name)
	}
	sort.Strings(names)
	globals := make(map[string]lua.Value, len(names))
	for _, name := range names {
		v, err := toLua(m.Globals[name])
		if err != nil {
			return nil, fmt.Errorf("globals.%s: %v", name, err)
		}
		globals[name] = v
	}
	return globals, nil
}

func toLua(x any) (lua.Value, error) {
	switch x := x.(type) {
	case string:
		return lua.String(x), nil
	case bool:
		return lua.Boolean(x), nil
	case int64:
		return lua.Number(x), nil
	case float64:
		return lua.Number(x), nil
	case time.Time:
		return lua.String(x.Format(time.RFC3339Nano)), nil
	case []any:
		tab := lua.NewTable()
		for i, elem := range x {
			v, err := toLua(elem)
			if err != nil {
				return nil, fmt.Errorf("[%d]: %v", i+1, err)
			}
			if err := tab.Set(lua.Number(i+1), v); err != nil {
				return nil, err
			}
		}
		return tab, nil
	case []map[string]any:
		tab := lua.NewTable()
		for i, elem := range x {
			v, err := toLua(elem)
			if err != nil {
				return nil, fmt.Errorf("[%d]: %v", i+1, err)
			}
			if err := tab.Set(lua.Number(i+1), v); err != nil {
				return nil, err
			}
		}
		return tab, nil
	case map[string]any:
		keys := make([]string, 0, len(x))
		for k := range x {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		tab := lua.NewTable()
		for _, k := range keys {
			v, err := toLua(x[k])
			if err != nil {
				return nil, fmt.Errorf(".%s: %v", k, err)
			}
			tab.SetString(k, v)
		}
		return tab, nil
	default:
		return nil, fmt.Errorf("unsupported type %T", x)
	}
}
