// Copyright (C) 2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package profile

import (
	"os"

	"github.com/datawire/dlib/derror"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

type flagSet struct {
	shutdown []StopFunc
}

// Stop runs every shutdown function, in reverse order of starting.
func (fs *flagSet) Stop() error {
	var errs derror.MultiError
	for i := len(fs.shutdown) - 1; i >= 0; i-- {
		if err := fs.shutdown[i](); err != nil {
			errs = append(errs, err)
		}
	}
	fs.shutdown = nil
	if len(errs) > 0 {
		return errs
	}
	return nil
}

type flagValue struct {
	parent *flagSet
	start  startFunc
	curVal string
}

var _ pflag.Value = (*flagValue)(nil)

// String implements pflag.Value.
func (fv *flagValue) String() string { return fv.curVal }

// Set implements pflag.Value.
func (fv *flagValue) Set(filename string) error {
	if filename == "" {
		return nil
	}
	w, err := os.Create(filename)
	if err != nil {
		return err
	}
	shutdown, err := fv.start(w)
	if err != nil {
		_ = w.Close()
		return err
	}
	fv.curVal = filename
	fv.parent.shutdown = append(fv.parent.shutdown, func() error {
		err1 := shutdown()
		err2 := w.Close()
		if err1 != nil {
			return err1
		}
		return err2
	})
	return nil
}

// Type implements pflag.Value.
func (*flagValue) Type() string { return "filename" }

var flagTable = []struct {
	name  string
	start startFunc
	usage string
}{
	{"cpu", CPU, "Write a CPU profile to the file `cpu.pprof`"},
	{"trace", Trace, "Write a trace (https://pkg.go.dev/runtime/trace) to the file `trace.out`"},
	{"goroutine", Named("goroutine"), "Write a goroutine profile to the file `goroutine.pprof`"},
	{"heap", Named("heap"), "Write a heap profile to the file `heap.pprof`"},
	{"allocs", Named("allocs"), "Write an allocs profile to the file `allocs.pprof`"},
	{"mutex", Named("mutex"), "Write a mutex profile to the file `mutex.pprof`"},
}

// AddProfileFlags adds a "${prefix}${name}" flag for each supported
// profile, and returns a function to be called at program shutdown
// that finishes writing every profile that was asked for.
func AddProfileFlags(flags *pflag.FlagSet, prefix string) StopFunc {
	root := new(flagSet)
	for _, flag := range flagTable {
		flags.Var(&flagValue{parent: root, start: flag.start}, prefix+flag.name, flag.usage)
		_ = cobra.MarkFlagFilename(flags, prefix+flag.name)
	}
	return root.Stop
}
