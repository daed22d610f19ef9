// Copyright 2024 The zb Authors
// SPDX-License-Identifier: MIT

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/coreos/go-systemd/v22/activation"
	"github.com/gorilla/handlers"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"zombiezen.com/go/log"
	"zombiezen.com/go/xcontext"
)

type serveOptions struct {
	listenAddr string
	dir        string
}

func newServeCommand(g *globalConfig) *cobra.Command {
	c := &cobra.Command{
		Use:                   "serve [options]",
		Short:                 "serve compiled modules over HTTP",
		DisableFlagsInUseLine: true,
		Args:                  cobra.NoArgs,
		SilenceErrors:         true,
		SilenceUsage:          true,
	}
	opts := new(serveOptions)
	c.Flags().StringVar(&opts.listenAddr, "listen", "localhost:8080", "`address` to listen on if not socket-activated")
	c.Flags().StringVar(&opts.dir, "dir", "", "module `dir`ectory to serve (defaults to the project's first module directory)")
	c.RunE = func(cmd *cobra.Command, args []string) error {
		return runServe(cmd.Context(), g, opts)
	}
	return c
}

func runServe(ctx context.Context, g *globalConfig, opts *serveOptions) error {
	dir := opts.dir
	if dir == "" {
		p, err := openProject(ctx, g)
		if err != nil {
			return err
		}
		if err := p.Close(); err != nil {
			return err
		}
		dir = "."
		if p.manifest != nil {
			dir = p.manifest.ModuleDirs()[0]
		}
	}
	if info, err := os.Stat(dir); err != nil {
		return err
	} else if !info.IsDir() {
		return fmt.Errorf("serve %s: not a directory", dir)
	}

	listeners, err := activation.Listeners()
	if err != nil {
		return fmt.Errorf("socket activation: %v", err)
	}
	if len(listeners) == 0 {
		l, err := net.Listen("tcp", opts.listenAddr)
		if err != nil {
			return err
		}
		listeners = []net.Listener{l}
	}

	srv := &http.Server{
		Handler:           newModuleHandler(os.DirFS(dir), os.Stderr),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext: func(net.Listener) context.Context {
			return context.WithoutCancel(ctx)
		},
	}
	grp, grpCtx := errgroup.WithContext(ctx)
	for _, l := range listeners {
		if l == nil {
			continue
		}
		log.Infof(ctx, "Serving %s on http://%s/", dir, l.Addr())
		closer := xcontext.CloseWhenDone(grpCtx, l)
		grp.Go(func() error {
			defer closer.Close()
			err := srv.Serve(l)
			if grpCtx.Err() != nil {
				return nil
			}
			return err
		})
	}
	grp.Go(func() error {
		<-grpCtx.Done()
		if ctx.Err() != nil {
			log.Infof(ctx, "Shutting down (signal received)...")
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Warnf(ctx, "Shutdown: %v", err)
		}
		return nil
	})
	return grp.Wait()
}

// newModuleHandler returns a handler that serves chunks from fsys
// in the layout expected by [modload.HTTPLoader] with the default template.
// Access logs are written to logOutput in Combined Log Format.
func newModuleHandler(fsys fs.FS, logOutput io.Writer) http.Handler {
	files := http.FileServerFS(fsys)
	h := handlers.MethodHandler{
		http.MethodGet:  files,
		http.MethodHead: files,
	}
	return handlers.CombinedLoggingHandler(logOutput, handlers.CompressHandler(h))
}
