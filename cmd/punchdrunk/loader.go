// Copyright 2024 The zb Authors
// SPDX-License-Identifier: MIT

package main

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"path/filepath"

	"punchdrunk.256lights.llc/pkg/internal/lua"
	"punchdrunk.256lights.llc/pkg/internal/manifest"
	"punchdrunk.256lights.llc/pkg/internal/modload"
	"zombiezen.com/go/log"
)

// project is the module configuration for a command invocation,
// combining the global configuration with the nearest punchdrunk.toml.
type project struct {
	manifest *manifest.Manifest
	resolver *modload.Resolver
	cache    *modload.Cache
}

// openProject finds the manifest for the working directory
// and builds the module resolver.
func openProject(ctx context.Context, g *globalConfig) (*project, error) {
	wd, err := os.Getwd()
	if err != nil {
		return nil, err
	}
	m, err := manifest.Find(wd)
	if err != nil {
		return nil, err
	}
	p := &project{
		manifest: m,
		resolver: new(modload.Resolver),
	}

	dirs := []string{wd}
	if m != nil {
		log.Debugf(ctx, "Using manifest in %s", m.Dir)
		dirs = m.ModuleDirs()
	}
	for _, dir := range dirs {
		p.resolver.Fetchers = append(p.resolver.Fetchers, &modload.FSLoader{
			FS:   os.DirFS(dir),
			Name: filepath.ToSlash(dir),
		})
	}

	moduleURL, template := g.ModuleURL, g.ModuleTemplate
	maxAge, err := g.cacheMaxAge()
	if err != nil {
		return nil, err
	}
	if m != nil {
		if m.Modules.URL != "" {
			moduleURL = m.Modules.URL
		}
		if m.Modules.Template != "" {
			template = m.Modules.Template
		}
		if m.Modules.MaxAge != 0 {
			maxAge = m.Modules.MaxAge
		}
	}
	if moduleURL != "" {
		base, err := url.Parse(moduleURL)
		if err != nil {
			return nil, fmt.Errorf("module url: %v", err)
		}
		hl := &modload.HTTPLoader{
			Base:     base,
			Template: template,
			MaxAge:   maxAge,
		}
		if g.CacheDB != "" {
			if err := os.MkdirAll(filepath.Dir(g.CacheDB), 0o755); err != nil {
				return nil, err
			}
			p.cache = modload.OpenCache(g.CacheDB)
			hl.Cache = p.cache
		}
		p.resolver.Fetchers = append(p.resolver.Fetchers, hl)
	}
	return p, nil
}

func (p *project) Close() error {
	if p.cache == nil {
		return nil
	}
	return p.cache.Close()
}

// engineOptions returns the options for an engine running in the project.
func (p *project) engineOptions(g *globalConfig, args []string) (*lua.Options, error) {
	opts := &lua.Options{
		Loader:      p.resolver,
		PackagePath: g.PackagePath,
		Args:        args,
		LookupEnv:   g.lookupEnv(),
		OnModuleLoad: func(ctx context.Context, name, path string) {
			log.Debugf(ctx, "Loaded module %s from %s", name, path)
		},
	}
	if p.manifest != nil {
		if p.manifest.Modules.Path != "" {
			opts.PackagePath = p.manifest.Modules.Path
		}
		var err error
		opts.Globals, err = p.manifest.LuaGlobals()
		if err != nil {
			return nil, fmt.Errorf("%s: %v", filepath.Join(p.manifest.Dir, manifest.Filename), err)
		}
	}
	return opts, nil
}
