// Copyright 2024 The zb Authors
// SPDX-License-Identifier: MIT

package main

import (
	"errors"
	"fmt"
	"iter"
	"net/url"
	"os"
	"path/filepath"
	"time"

	jsonv2 "github.com/go-json-experiment/json"
	"github.com/go-json-experiment/json/jsontext"
	"github.com/tailscale/hujson"
	"punchdrunk.256lights.llc/pkg/internal/lua"
)

type globalConfig struct {
	Debug          bool            `json:"debug"`
	PackagePath    string          `json:"packagePath"`
	ModuleURL      string          `json:"moduleURL"`
	ModuleTemplate string          `json:"moduleTemplate"`
	CacheDB        string          `json:"cacheDB"`
	CacheMaxAge    string          `json:"cacheMaxAge"`
	AllowEnv       stringAllowList `json:"allowEnvironment"`
}

func defaultGlobalConfig() *globalConfig {
	g := &globalConfig{
		PackagePath: lua.DefaultPackagePath,
		CacheMaxAge: "24h",
	}
	if cd := cacheDir(); cd != "" {
		g.CacheDB = filepath.Join(cd, "punchdrunk", "cache.db")
	}
	return g
}

// configFiles returns the paths of the global configuration files
// in increasing order of preference.
func configFiles() iter.Seq[string] {
	return func(yield func(string) bool) {
		for dir := range systemConfigDirs() {
			if !yield(filepath.Join(dir, "punchdrunk", "config.jwcc")) {
				return
			}
		}
	}
}

func (g *globalConfig) mergeEnvironment() error {
	if path, ok := os.LookupEnv("PUNCHDRUNK_PATH"); ok {
		g.PackagePath = path
	}
	if u := os.Getenv("PUNCHDRUNK_MODULE_URL"); u != "" {
		g.ModuleURL = u
	}
	if path, ok := os.LookupEnv("PUNCHDRUNK_CACHE"); ok {
		g.CacheDB = path
	}
	return nil
}

func (g *globalConfig) mergeFiles(paths iter.Seq[string]) error {
	for path := range paths {
		huJSONData, err := os.ReadFile(path)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			return err
		}
		jsonData, err := hujson.Standardize(huJSONData)
		if err != nil {
			return fmt.Errorf("read %s: %v", path, err)
		}
		if err := jsonv2.Unmarshal(jsonData, g, jsonv2.RejectUnknownMembers(false)); err != nil {
			return fmt.Errorf("read %s: %v", path, err)
		}
	}

	return nil
}

// UnmarshalJSONFrom unmarshals the configuration object from the JSON decoder,
// merging any fields in the JSON object with existing values.
func (g *globalConfig) UnmarshalJSONFrom(in *jsontext.Decoder) error {
	tok, err := in.ReadToken()
	if err != nil {
		return err
	}
	if got := tok.Kind(); got != '{' {
		return fmt.Errorf("config must be an object not a %v", got)
	}

	for {
		keyToken, err := in.ReadToken()
		if err != nil {
			return err
		}
		switch kind := keyToken.Kind(); kind {
		case '}':
			return nil
		case '"':
			// Keep going.
		default:
			return fmt.Errorf("unexpected non-string key (%v) in object", kind)
		}

		k := keyToken.String()
		var dst any
		switch k {
		case "debug":
			dst = &g.Debug
		case "packagePath":
			dst = &g.PackagePath
		case "moduleURL":
			dst = &g.ModuleURL
		case "moduleTemplate":
			dst = &g.ModuleTemplate
		case "cacheDB":
			dst = &g.CacheDB
		case "cacheMaxAge":
			dst = &g.CacheMaxAge
		case "allowEnvironment":
			dst = &g.AllowEnv
		default:
			if reject, _ := jsonv2.GetOption(in.Options(), jsonv2.RejectUnknownMembers); reject {
				return fmt.Errorf("unmarshal config: unknown field %q", k)
			}
			if err := in.SkipValue(); err != nil {
				return err
			}
			continue
		}
		if err := jsonv2.UnmarshalDecode(in, dst); err != nil {
			return fmt.Errorf("unmarshal config.%s: %w", k, err)
		}
	}
}

func (g *globalConfig) validate() error {
	if g.ModuleURL != "" {
		u, err := url.Parse(g.ModuleURL)
		if err != nil {
			return fmt.Errorf("module url: %v", err)
		}
		if u.Scheme != "http" && u.Scheme != "https" {
			return fmt.Errorf("module url %s: must be http or https", u.Redacted())
		}
	}
	if _, err := g.cacheMaxAge(); err != nil {
		return err
	}
	return nil
}

func (g *globalConfig) cacheMaxAge() (time.Duration, error) {
	if g.CacheMaxAge == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(g.CacheMaxAge)
	if err != nil {
		return 0, fmt.Errorf("cache max age: %v", err)
	}
	if d < 0 {
		return 0, fmt.Errorf("cache max age: negative duration %v", d)
	}
	return d, nil
}

// lookupEnv returns a function suitable for [lua.Options.LookupEnv]
// that only reveals allowed variables.
func (g *globalConfig) lookupEnv() func(string) (string, bool) {
	return func(key string) (string, bool) {
		if !g.AllowEnv.Has(key) {
			return "", false
		}
		return os.LookupEnv(key)
	}
}
