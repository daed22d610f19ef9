// Copyright 2024 The zb Authors
// SPDX-License-Identifier: MIT

package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"punchdrunk.256lights.llc/pkg/internal/modload"
	"zombiezen.com/go/log"
)

func newCacheCommand(g *globalConfig) *cobra.Command {
	c := &cobra.Command{
		Use:   "cache",
		Short: "manage the downloaded chunk cache",
		Args:  cobra.NoArgs,
	}
	c.AddCommand(
		newCachePathCommand(g),
		newCachePruneCommand(g),
	)
	return c
}

func newCachePathCommand(g *globalConfig) *cobra.Command {
	return &cobra.Command{
		Use:                   "path",
		Short:                 "print the path to the cache database",
		DisableFlagsInUseLine: true,
		Args:                  cobra.NoArgs,
		SilenceErrors:         true,
		SilenceUsage:          true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if g.CacheDB == "" {
				return fmt.Errorf("cache disabled")
			}
			fmt.Println(g.CacheDB)
			return nil
		},
	}
}

func newCachePruneCommand(g *globalConfig) *cobra.Command {
	c := &cobra.Command{
		Use:                   "prune [options]",
		Short:                 "delete stale cache entries",
		DisableFlagsInUseLine: true,
		Args:                  cobra.NoArgs,
		SilenceErrors:         true,
		SilenceUsage:          true,
	}
	olderThan := c.Flags().Duration("older-than", 0, "delete entries downloaded more than `duration` ago (defaults to the cache max age)")
	c.RunE = func(cmd *cobra.Command, args []string) error {
		return runCachePrune(cmd.Context(), g, *olderThan)
	}
	return c
}

func runCachePrune(ctx context.Context, g *globalConfig, olderThan time.Duration) error {
	if g.CacheDB == "" {
		return fmt.Errorf("cache disabled")
	}
	if olderThan == 0 {
		var err error
		olderThan, err = g.cacheMaxAge()
		if err != nil {
			return err
		}
	}
	cache := modload.OpenCache(g.CacheDB)
	defer func() {
		if err := cache.Close(); err != nil {
			log.Errorf(ctx, "%v", err)
		}
	}()
	n, err := cache.Prune(ctx, time.Now().Add(-olderThan))
	if err != nil {
		return err
	}
	log.Infof(ctx, "Removed %d cached chunk(s)", n)
	return nil
}
