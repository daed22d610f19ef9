// Copyright 2024 The zb Authors
// SPDX-License-Identifier: MIT

// Package modload locates and decodes compiled Lua chunks for the interpreter.
// A [Resolver] probes the candidate paths produced from package.path
// against one or more [Fetcher] implementations
// and satisfies the [lua.Loader] interface.
package modload

import (
	"context"
	"errors"
	"fmt"
	"io/fs"

	"golang.org/x/sync/errgroup"
	"punchdrunk.256lights.llc/pkg/internal/lua"
	"punchdrunk.256lights.llc/pkg/internal/luacode"
	"zombiezen.com/go/log"
)

// ErrNotFound is returned when none of the candidates for a chunk exist.
// errors.Is(ErrNotFound, fs.ErrNotExist) reports true.
var ErrNotFound = fmt.Errorf("chunk %w", fs.ErrNotExist)

// DefaultConcurrency is the number of candidates a [Resolver] probes at once
// if [Resolver.Concurrency] is not set.
const DefaultConcurrency = 4

// A Fetcher retrieves the raw bytes of a compiled chunk.
type Fetcher interface {
	// Fetch returns the contents of the chunk at path
	// along with a location string that identifies where it was found
	// (for example, a file path or URL).
	// If the chunk does not exist,
	// Fetch returns an error for which errors.Is(err, fs.ErrNotExist) reports true.
	Fetch(ctx context.Context, path string) (data []byte, location string, err error)
}

var _ lua.Loader = (*Resolver)(nil)

// Resolver finds chunks by probing a list of fetchers.
// The zero value finds nothing.
// A Resolver is safe to use from multiple goroutines
// as long as its fields are not modified.
type Resolver struct {
	// Fetchers are consulted in order for each candidate path.
	Fetchers []Fetcher
	// Concurrency limits the number of in-flight probes.
	// If it is not positive, [DefaultConcurrency] is used.
	Concurrency int
}

type probeResult struct {
	data     []byte
	location string
	err      error
}

// LoadChunk probes every candidate in every fetcher concurrently
// and decodes the first candidate (in candidate order, then fetcher order) that exists.
// A probe that fails for a reason other than the chunk not existing
// is reported if no earlier candidate was found.
func (r *Resolver) LoadChunk(ctx context.Context, candidates []string) (path string, p *luacode.Prototype, err error) {
	if len(candidates) == 0 || len(r.Fetchers) == 0 {
		return "", nil, ErrNotFound
	}
	limit := r.Concurrency
	if limit <= 0 {
		limit = DefaultConcurrency
	}

	// Probes beyond the first hit are canceled.
	ctx, cancel := context.WithCancel(ctx)
	results := make([]probeResult, len(candidates)*len(r.Fetchers))
	done := make([]chan struct{}, len(results))
	for i := range done {
		done[i] = make(chan struct{})
	}
	var grp errgroup.Group
	grp.SetLimit(limit)
	spawned := make(chan struct{})
	defer func() {
		cancel()
		<-spawned
		grp.Wait()
	}()
	go func() {
		defer close(spawned)
		for i := range results {
			cand := candidates[i/len(r.Fetchers)]
			f := r.Fetchers[i%len(r.Fetchers)]
			grp.Go(func() error {
				defer close(done[i])
				if err := ctx.Err(); err != nil {
					results[i].err = err
					return nil
				}
				results[i].data, results[i].location, results[i].err = f.Fetch(ctx, cand)
				return nil
			})
		}
	}()

	for i := range results {
		select {
		case <-done[i]:
		case <-ctx.Done():
			return "", nil, ctx.Err()
		}
		res := &results[i]
		cand := candidates[i/len(r.Fetchers)]
		switch {
		case res.err == nil:
			log.Debugf(ctx, "Found %s at %s", cand, res.location)
			p, err := luacode.Decode(res.location, res.data)
			if err != nil {
				return "", nil, err
			}
			return res.location, p, nil
		case errors.Is(res.err, fs.ErrNotExist):
			log.Debugf(ctx, "Probe %s: %v", cand, res.err)
		default:
			// An earlier candidate that could not be checked
			// prevents choosing a later one.
			return "", nil, res.err
		}
	}
	return "", nil, ErrNotFound
}
