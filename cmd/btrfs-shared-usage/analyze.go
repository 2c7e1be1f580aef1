// Copyright (C) 2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package main

import (
	"bufio"
	"errors"
	"os"

	"github.com/datawire/dlib/dlog"
	"github.com/datawire/ocibuild/pkg/cliutil"
	"github.com/spf13/cobra"

	"git.lukeshu.com/btrfs-shared-usage/cmd/btrfs-shared-usage/report"
	"git.lukeshu.com/btrfs-shared-usage/lib/btrfsioctl"
	"git.lukeshu.com/btrfs-shared-usage/lib/extentscan"
)

func init() {
	src := newSourceFlags()
	var outputFilename string
	var minOwned sizeFlag

	sub := subcommand{
		Command: cobra.Command{
			Use:   "analyze [flags] [MOUNTPOINT]",
			Short: "Report the disk space saved by shared extents",
			Long: "" +
				"Scan the file extents of a subvolume (or, with --owner=subvolume, " +
				"of several subvolumes), work out which bytes of each physical " +
				"extent are referenced by more than one owner, and print how much " +
				"space sharing saves.\n" +
				"\n" +
				"With --output, also write one line per file that shares data " +
				"with another: the bytes of shared extents it references, its " +
				"size, the ratio of the two, and its path.  MOUNTPOINT must be " +
				"the root of the scanned subvolume for paths to resolve.",
			Args: cliutil.WrapPositionalArgs(cobra.RangeArgs(0, 1)),
		},
		RunE: func(cfg globalConfig, cmd *cobra.Command, args []string) (err error) {
			ctx := cmd.Context()
			maybeSetErr := func(_err error) {
				if _err != nil && err == nil {
					err = _err
				}
			}

			fs, err := openFS(args)
			if err != nil {
				return err
			}
			if fs != nil {
				defer func() {
					maybeSetErr(fs.Close())
				}()
			}
			if outputFilename != "" && src.owner == extentscan.OwnerFile && fs == nil {
				return errors.New("--output with --owner=file needs a MOUNTPOINT to resolve paths")
			}

			rec := newRecorder(cfg.Engine)
			if err := src.forEachReference(ctx, fs, rec.record(ctx)); err != nil {
				return err
			}
			dlog.Infof(ctx, "recorded %v references to %v extents (skipped %v)",
				rec.stats.Recorded, rec.engine.Len(), rec.stats.Skipped)

			stats, err := rec.engine.Analyze(dlog.WithField(ctx, "btrfs-shared-usage.step", "analyze"))
			if err != nil {
				return err
			}
			if err := report.WriteSummary(os.Stdout, stats); err != nil {
				return err
			}

			if outputFilename == "" {
				return nil
			}
			ctx = dlog.WithField(ctx, "btrfs-shared-usage.step", "report")
			var tree btrfsioctl.ObjID
			if src.owner == extentscan.OwnerFile {
				if tree, err = rec.fileTree(src.roots); err != nil {
					return err
				}
			}
			fh, err := os.Create(outputFilename)
			if err != nil {
				return err
			}
			defer func() {
				maybeSetErr(fh.Close())
			}()
			buf := bufio.NewWriter(fh)
			defer func() {
				maybeSetErr(buf.Flush())
			}()
			return report.WriteOwners(ctx, buf, stats,
				rec.ownerResolver(src.owner, fs, tree),
				report.Options{MinOwned: minOwned.Bytes})
		},
	}
	src.addFlags(sub.Command.Flags(), true)
	sub.Command.Flags().StringVarP(&outputFilename, "output", "o", "", "write the per-owner report to `report.txt`")
	_ = cobra.MarkFlagFilename(sub.Command.Flags(), "output")
	sub.Command.Flags().Var(&minOwned, "min-owned", "leave owners with less than `SIZE` of shared data out of the report")
	subcommands = append(subcommands, sub)
}
