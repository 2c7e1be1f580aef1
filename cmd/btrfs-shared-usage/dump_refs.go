// Copyright (C) 2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package main

import (
	"os"

	"git.lukeshu.com/go/lowmemjson"
	"github.com/datawire/dlib/dlog"
	"github.com/datawire/ocibuild/pkg/cliutil"
	"github.com/spf13/cobra"

	"git.lukeshu.com/btrfs-shared-usage/lib/extentscan"
)

func init() {
	src := newSourceFlags()
	sub := subcommand{
		Command: cobra.Command{
			Use:   "dump-refs [flags] MOUNTPOINT",
			Short: "Write every file-extent reference as JSON",
			Long: "" +
				"Scan the file extents of the given subvolumes and write the " +
				"references to shared extents to stdout as a JSON array, for " +
				"use with `analyze --from-json`.",
			Args: cliutil.WrapPositionalArgs(cobra.ExactArgs(1)),
		},
		RunE: func(_ globalConfig, cmd *cobra.Command, args []string) (err error) {
			ctx := cmd.Context()
			fs, err := openFS(args)
			if err != nil {
				return err
			}
			defer func() {
				if _err := fs.Close(); _err != nil && err == nil {
					err = _err
				}
			}()

			var refs []extentscan.Reference
			stats, err := extentscan.ScanTrees(ctx, fs, src.roots.IDs, src.owner, func(ref extentscan.Reference) error {
				refs = append(refs, ref)
				return nil
			})
			if err != nil {
				return err
			}
			dlog.Infof(ctx, "%v", stats)

			dlog.Infof(ctx, "Writing %v references to stdout...", len(refs))
			if err := writeJSONFile(os.Stdout, refs, lowmemjson.ReEncoderConfig{
				Indent:                "\t",
				CompactIfUnder:        120, //nolint:gomnd // One reference per line.
				ForceTrailingNewlines: true,
			}); err != nil {
				return err
			}
			dlog.Info(ctx, "... done writing")
			return nil
		},
	}
	src.addFlags(sub.Command.Flags(), false)
	subcommands = append(subcommands, sub)
}
