// Copyright (C) 2022-2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

// Command btrfs-shared-usage reports how much space a btrfs
// filesystem saves through shared (reflinked or deduplicated)
// extents, and which files benefit.
package main

import (
	"context"
	"os"

	"github.com/datawire/dlib/derror"
	"github.com/datawire/dlib/dgroup"
	"github.com/datawire/dlib/dlog"
	"github.com/datawire/ocibuild/pkg/cliutil"
	"github.com/spf13/cobra"

	"git.lukeshu.com/btrfs-shared-usage/lib/profile"
	"git.lukeshu.com/btrfs-shared-usage/lib/sharedextents"
	"git.lukeshu.com/btrfs-shared-usage/lib/textui"
)

type subcommand struct {
	cobra.Command
	RunE func(cfg globalConfig, cmd *cobra.Command, args []string) error
}

var subcommands []subcommand

type globalConfig struct {
	Engine sharedextents.EngineConfig
}

func main() {
	logLevelFlag := textui.LogLevelFlag{
		Level: dlog.LogLevelInfo,
	}
	var cfg globalConfig

	argparser := &cobra.Command{
		Use:   "btrfs-shared-usage {[flags]|SUBCOMMAND}",
		Short: "Measure the space shared between files on a btrfs filesystem",

		Args: cliutil.WrapPositionalArgs(cliutil.OnlySubcommands),
		RunE: cliutil.RunSubcommands,

		SilenceErrors: true, // main() will handle this after .ExecuteContext() returns
		SilenceUsage:  true, // our FlagErrorFunc will handle it

		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
	}
	argparser.SetFlagErrorFunc(cliutil.FlagErrorFunc)
	argparser.SetHelpTemplate(cliutil.HelpTemplate)
	argparser.PersistentFlags().Var(&logLevelFlag, "verbosity", "set the verbosity")
	argparser.PersistentFlags().IntVar(&cfg.Engine.KeyCacheSize, "key-cache-size", int(sharedextents.DefaultKeyCacheSize),
		"remember the keys of the `N` most recently seen extents")
	argparser.PersistentFlags().IntVar(&cfg.Engine.Workers, "workers", 0,
		"resolve extents with `N` goroutines (0 means one per CPU)")
	stopProfiling := profile.AddProfileFlags(argparser.PersistentFlags(), "profile.")

	for _, child := range subcommands {
		cmd := child.Command
		runE := child.RunE
		cmd.RunE = func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			logger := textui.NewLogger(os.Stderr, logLevelFlag.Level)
			ctx = dlog.WithLogger(ctx, logger)
			ctx = dlog.WithField(ctx, "mem", new(textui.LiveMemUse))
			dlog.SetFallbackLogger(logger.WithField("btrfs-shared-usage.THIS_IS_A_BUG", true))

			grp := dgroup.NewGroup(ctx, dgroup.GroupConfig{
				EnableSignalHandling: true,
			})
			grp.Go("main", func(ctx context.Context) error {
				cmd.SetContext(ctx)
				return runE(cfg, cmd, args)
			})
			return grp.Wait()
		}
		argparser.AddCommand(&cmd)
	}

	var errs derror.MultiError
	if err := argparser.ExecuteContext(context.Background()); err != nil {
		errs = append(errs, err)
	}
	if err := stopProfiling(); err != nil {
		errs = append(errs, err)
	}
	if len(errs) > 0 {
		var err error = errs
		if len(errs) == 1 {
			err = errs[0]
		}
		textui.Fprintf(os.Stderr, "%v: error: %v\n", argparser.CommandPath(), err)
		os.Exit(1)
	}
}
