// Copyright (C) 2022-2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"git.lukeshu.com/go/lowmemjson"
	"github.com/datawire/dlib/dlog"
	"github.com/docker/go-units"
	"github.com/spf13/pflag"

	"git.lukeshu.com/btrfs-shared-usage/lib/btrfsioctl"
	"git.lukeshu.com/btrfs-shared-usage/lib/textui"
)

type runeScanner struct {
	ctx            context.Context //nolint:containedctx // For detecting shutdown from methods
	progress       textui.Portion[int64]
	progressWriter *textui.Progress[textui.Portion[int64]]
	unreadCnt      uint64
	reader         *bufio.Reader
	closer         io.Closer
}

func newRuneScanner(ctx context.Context, fh *os.File) (*runeScanner, error) {
	fi, err := fh.Stat()
	if err != nil {
		return nil, err
	}
	ret := &runeScanner{
		ctx: ctx,
		progress: textui.Portion[int64]{
			D: fi.Size(),
		},
		progressWriter: textui.NewProgress[textui.Portion[int64]](ctx, dlog.LogLevelInfo, textui.Tunable(1*time.Second)),
		reader:         bufio.NewReader(fh),
		closer:         fh,
	}
	return ret, nil
}

func (rs *runeScanner) ReadRune() (r rune, size int, err error) {
	if err := rs.ctx.Err(); err != nil {
		return 0, 0, err
	}
	r, size, err = rs.reader.ReadRune()
	if rs.unreadCnt > 0 {
		rs.unreadCnt--
	} else {
		rs.progress.N += int64(size)
		rs.progressWriter.Set(rs.progress)
	}
	return
}

func (rs *runeScanner) UnreadRune() error {
	if err := rs.ctx.Err(); err != nil {
		return err
	}
	if err := rs.reader.UnreadRune(); err != nil {
		return err
	}
	rs.unreadCnt++
	return nil
}

func (rs *runeScanner) Close() error {
	rs.progressWriter.Done()
	return rs.closer.Close()
}

func readJSONFile[T any](ctx context.Context, filename string) (T, error) {
	var zero T
	fh, err := os.Open(filename)
	if err != nil {
		return zero, err
	}
	buf, err := newRuneScanner(dlog.WithField(ctx, "btrfs-shared-usage.read-json-file", filename), fh)
	if err != nil {
		_ = fh.Close()
		return zero, err
	}
	defer func() {
		_ = buf.Close()
	}()
	var ret T
	if err := lowmemjson.NewDecoder(buf).DecodeThenEOF(&ret); err != nil {
		return zero, fmt.Errorf("%s: %w", filename, err)
	}
	return ret, nil
}

func writeJSONFile(w io.Writer, obj any, cfg lowmemjson.ReEncoderConfig) (err error) {
	buffer := bufio.NewWriter(w)
	defer func() {
		if _err := buffer.Flush(); err == nil && _err != nil {
			err = _err
		}
	}()
	return lowmemjson.NewEncoder(lowmemjson.NewReEncoder(buffer, cfg)).Encode(obj)
}

// objIDListFlag is a repeatable flag of tree IDs.
type objIDListFlag struct {
	IDs     []btrfsioctl.ObjID
	changed bool
}

var _ pflag.Value = (*objIDListFlag)(nil)

// String implements pflag.Value.
func (f *objIDListFlag) String() string {
	strs := make([]string, len(f.IDs))
	for i, id := range f.IDs {
		strs[i] = strconv.FormatUint(uint64(id), 10)
	}
	return "[" + strings.Join(strs, ",") + "]"
}

// Set implements pflag.Value.
func (f *objIDListFlag) Set(str string) error {
	id, err := strconv.ParseUint(str, 0, 64)
	if err != nil {
		return err
	}
	if !f.changed {
		// Replace the default rather than appending to it.
		f.IDs = nil
		f.changed = true
	}
	f.IDs = append(f.IDs, btrfsioctl.ObjID(id))
	return nil
}

// Type implements pflag.Value.
func (*objIDListFlag) Type() string { return "treeID" }

// sizeFlag is a byte count that accepts human-friendly sizes such as
// "4KiB", "1.5MB", or "4096".
type sizeFlag struct {
	Bytes uint64
}

var _ pflag.Value = (*sizeFlag)(nil)

// String implements pflag.Value.
func (f *sizeFlag) String() string {
	return units.BytesSize(float64(f.Bytes))
}

// Set implements pflag.Value.
func (f *sizeFlag) Set(str string) error {
	var (
		n   int64
		err error
	)
	if strings.Contains(strings.ToLower(str), "i") {
		n, err = units.RAMInBytes(str)
	} else {
		n, err = units.FromHumanSize(str)
	}
	if err != nil {
		return err
	}
	if n < 0 {
		return fmt.Errorf("invalid size: %q", str)
	}
	f.Bytes = uint64(n)
	return nil
}

// Type implements pflag.Value.
func (*sizeFlag) Type() string { return "size" }
