// Copyright 2024 The zb Authors
// SPDX-License-Identifier: MIT

package main

import (
	"context"
	"errors"
	"io"
	"os"
	"sync"

	"github.com/spf13/cobra"
	"golang.org/x/term"
	"punchdrunk.256lights.llc/pkg/internal/lua"
	"punchdrunk.256lights.llc/pkg/internal/luacode"
	"zombiezen.com/go/log"
)

type disasmOptions struct {
	target string
	list   int
	rawPC  bool
}

func newDisasmCommand(g *globalConfig) *cobra.Command {
	c := &cobra.Command{
		Use:                   "disasm [options] MODULE|FILE",
		Short:                 "print a listing of a compiled chunk",
		DisableFlagsInUseLine: true,
		Args:                  cobra.ExactArgs(1),
		SilenceErrors:         true,
		SilenceUsage:          true,
	}
	opts := new(disasmOptions)
	c.Flags().CountVarP(&opts.list, "list", "l", "include constants, locals, and upvalues when given twice")
	c.Flags().BoolVarP(&opts.rawPC, "raw-pc", "0", false, "show literal PC values")
	c.RunE = func(cmd *cobra.Command, args []string) error {
		opts.target = args[0]
		return runDisasm(cmd.Context(), g, opts)
	}
	return c
}

func runDisasm(ctx context.Context, g *globalConfig, opts *disasmOptions) error {
	p, err := openProject(ctx, g)
	if err != nil {
		return err
	}
	defer func() {
		if err := p.Close(); err != nil {
			log.Errorf(ctx, "%v", err)
		}
	}()
	engineOpts, err := p.engineOptions(g, nil)
	if err != nil {
		return err
	}
	e := lua.NewEngine(engineOpts)
	defer e.Close()
	cl, err := loadTarget(ctx, e, opts.target)
	if err != nil {
		return err
	}
	return luacode.WriteListing(os.Stdout, cl.Prototype(), &luacode.ListingOptions{
		Full:  opts.list > 1,
		RawPC: opts.rawPC,
	})
}

type convertOptions struct {
	input      string
	output     io.WriteCloser
	format     luacode.Format
	stripDebug bool
}

func newConvertCommand(g *globalConfig) *cobra.Command {
	c := &cobra.Command{
		Use:                   "convert [options] FILE",
		Short:                 "convert a compiled chunk between encodings",
		DisableFlagsInUseLine: true,
		Args:                  cobra.ExactArgs(1),
		SilenceErrors:         true,
		SilenceUsage:          true,
	}
	opts := &convertOptions{format: luacode.FormatJSON}
	c.Flags().Var((*formatFlag)(&opts.format), "format", "output `encoding` (json, luac, or cbor)")
	c.Flags().BoolVarP(&opts.stripDebug, "strip-debug", "s", false, "strip debug information")
	outputPath := c.Flags().StringP("output", "o", "", "output `file`")
	c.RunE = func(cmd *cobra.Command, args []string) error {
		switch {
		case *outputPath == "" && opts.format != luacode.FormatJSON && term.IsTerminal(int(os.Stdout.Fd())):
			return errors.New("refusing to send binary output to stdout (a tty). Pass --output=- to override.")
		case *outputPath == "" || *outputPath == "-":
			opts.output = nopWriteCloser{os.Stdout}
		default:
			var err error
			opts.output, err = os.Create(*outputPath)
			if err != nil {
				return err
			}
		}
		opts.input = args[0]
		return runConvert(cmd.Context(), opts)
	}
	return c
}

func runConvert(ctx context.Context, opts *convertOptions) error {
	closeFunc := sync.OnceValue(opts.output.Close)
	defer closeFunc()

	proto, err := readChunk(opts.input)
	if err != nil {
		return err
	}
	if opts.stripDebug {
		proto = proto.StripDebug()
	}
	data, err := proto.Encode(opts.format)
	if err != nil {
		return err
	}
	if opts.format == luacode.FormatJSON {
		data = append(data, '\n')
	}
	log.Debugf(ctx, "Converting %s to %v (%d bytes)", opts.input, opts.format, len(data))
	if _, err := opts.output.Write(data); err != nil {
		return err
	}
	return closeFunc()
}

type nopWriteCloser struct {
	io.Writer
}

func (nopWriteCloser) Close() error {
	return nil
}
