// Copyright (C) 2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package main

import (
	"bufio"
	"context"
	"io"
	"os"

	"github.com/datawire/dlib/dlog"
	"github.com/datawire/ocibuild/pkg/cliutil"
	"github.com/davecgh/go-spew/spew"
	"github.com/spf13/cobra"

	"git.lukeshu.com/btrfs-shared-usage/lib/btrfsioctl"
	"git.lukeshu.com/btrfs-shared-usage/lib/sharedextents"
	"git.lukeshu.com/btrfs-shared-usage/lib/textui"
)

func init() {
	src := newSourceFlags()
	sub := subcommand{
		Command: cobra.Command{
			Use:   "spew-segments [flags] [MOUNTPOINT]",
			Short: "Spew the resolved ownership segments of every shared extent",
			Args:  cliutil.WrapPositionalArgs(cobra.RangeArgs(0, 1)),
		},
		RunE: func(cfg globalConfig, cmd *cobra.Command, args []string) (err error) {
			fs, err := openFS(args)
			if err != nil {
				return err
			}
			if fs != nil {
				defer func() {
					if _err := fs.Close(); _err != nil && err == nil {
						err = _err
					}
				}()
			}
			return spewSegments(cmd.Context(), os.Stdout, cfg, src, fs)
		},
	}
	src.addFlags(sub.Command.Flags(), true)
	subcommands = append(subcommands, sub)
}

func spewSegments(ctx context.Context, w io.Writer, cfg globalConfig, src *sourceFlags, fs *btrfsioctl.FS) (err error) {
	rec := newRecorder(cfg.Engine)
	if err := src.forEachReference(ctx, fs, rec.record(ctx)); err != nil {
		return err
	}

	spew := spew.NewDefaultConfig()
	spew.DisablePointerAddresses = true

	out := bufio.NewWriter(w)
	defer func() {
		if _err := out.Flush(); _err != nil && err == nil {
			err = _err
		}
	}()
	stats, err := rec.engine.AnalyzeFunc(ctx, func(key sharedextents.ExtentKey, segs sharedextents.Segments[btrfsioctl.ObjID]) {
		textui.Fprintf(out, "extent %v = ", key)
		spew.Fdump(out, segs)
		_, _ = out.WriteString("\n")
	})
	if err != nil {
		return err
	}
	dlog.Infof(ctx, "%v deduplicated, %v unique",
		textui.IEC(stats.Deduplicated, "B"), textui.IEC(stats.Unique, "B"))
	return nil
}
