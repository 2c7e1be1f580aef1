// Copyright (C) 2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

// Package report renders the results of a shared-extent analysis
// for humans.
package report

import (
	"context"
	"fmt"
	"io"

	"github.com/datawire/dlib/dlog"
	"golang.org/x/exp/constraints"
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"

	"git.lukeshu.com/btrfs-shared-usage/lib/sharedextents"
	"git.lukeshu.com/btrfs-shared-usage/lib/textui"
)

// WriteSummary writes the filesystem-wide totals.
func WriteSummary[O constraints.Ordered](w io.Writer, stats sharedextents.Stats[O]) error {
	lines := []struct {
		label string
		val   fmt.Stringer
	}{
		{"Disk space gained by dedup/reflink:", textui.IEC(stats.Shared(), "B")},
		{"Disk space used only by one file:", textui.IEC(stats.Unique, "B")},
		{"Total disk space used by files:", textui.IEC(stats.Deduplicated, "B")},
		{"Percentage gained by dedup:", textui.Ratio[uint64]{N: stats.Shared(), D: stats.Deduplicated}},
	}
	for _, line := range lines {
		if _, err := textui.Fprintf(w, "%s %v\n", line.label, line.val); err != nil {
			return err
		}
	}
	return nil
}

// An OwnerInfo describes an owner for the per-owner report.
type OwnerInfo struct {
	Name string
	Size uint64 // the owner's logical size; 0 if unknown
}

// An OwnerResolver looks up the name and size of an owner.  An owner
// that no longer exists is reported as an error, and left out of the
// report.
type OwnerResolver[O constraints.Ordered] interface {
	ResolveOwner(ctx context.Context, owner O) (OwnerInfo, error)
}

// OwnerResolverFunc adapts a plain function to OwnerResolver.
type OwnerResolverFunc[O constraints.Ordered] func(ctx context.Context, owner O) (OwnerInfo, error)

func (fn OwnerResolverFunc[O]) ResolveOwner(ctx context.Context, owner O) (OwnerInfo, error) {
	return fn(ctx, owner)
}

type Options struct {
	// MinOwned leaves out owners with fewer than this many bytes
	// of shared-extent footprint.
	MinOwned uint64
}

type ownerStats struct {
	Owners   textui.Portion[int]
	Written  int
	Skipped  int
	Filtered int
}

func (s ownerStats) String() string {
	return textui.Sprintf("resolved %v owners: wrote %v, skipped %v unresolvable, filtered %v",
		s.Owners, s.Written, s.Skipped, s.Filtered)
}

// WriteOwners writes one line per owner whose footprint in the
// analyzed extents is smaller than its logical size; that is, every
// owner that benefits from sharing.  Lines are
//
//	OWNED SIZE PERCENT NAME
//
// in ascending owner order.
func WriteOwners[O constraints.Ordered](ctx context.Context, w io.Writer, stats sharedextents.Stats[O], resolver OwnerResolver[O], opts Options) error {
	owners := maps.Keys(stats.PerOwner)
	slices.Sort(owners)

	progress := ownerStats{Owners: textui.Portion[int]{D: len(owners)}}
	defer func() {
		dlog.Info(ctx, progress)
	}()
	for _, owner := range owners {
		if err := ctx.Err(); err != nil {
			return err
		}
		progress.Owners.N++
		owned := stats.PerOwner[owner]
		if owned < opts.MinOwned {
			progress.Filtered++
			continue
		}
		info, err := resolver.ResolveOwner(ctx, owner)
		if err != nil {
			dlog.Debugf(ctx, "skipping owner %v: %v", owner, err)
			progress.Skipped++
			continue
		}
		if info.Size == 0 || owned >= info.Size {
			continue
		}
		if _, err := textui.Fprintf(w, "%9s %9s %7s %s\n",
			textui.IEC(owned, "B").String(),
			textui.IEC(info.Size, "B").String(),
			textui.Ratio[uint64]{N: owned, D: info.Size}.String(),
			info.Name); err != nil {
			return err
		}
		progress.Written++
	}
	return nil
}
