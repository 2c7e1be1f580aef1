// Copyright (C) 2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

// Package extentscan turns the EXTENT_DATA items of subvolume trees
// into references to physical extents.
package extentscan

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/datawire/dlib/dlog"

	"git.lukeshu.com/btrfs-shared-usage/lib/btrfsioctl"
	"git.lukeshu.com/btrfs-shared-usage/lib/textui"
)

// An ItemSource walks the items of a tree in key order.
// *btrfsioctl.FS is the live implementation.
type ItemSource interface {
	SearchTree(ctx context.Context, treeID btrfsioctl.ObjID, fn func(btrfsioctl.Item) error) error
}

var _ ItemSource = (*btrfsioctl.FS)(nil)

// OwnerMode selects what a Reference's Owner is.
type OwnerMode int

const (
	// OwnerFile makes each inode an owner; only one tree may be
	// scanned, since inode numbers are per-subvolume.
	OwnerFile OwnerMode = iota
	// OwnerSubvolume makes each subvolume (tree) an owner.
	OwnerSubvolume
)

func (m OwnerMode) String() string {
	switch m {
	case OwnerFile:
		return "file"
	case OwnerSubvolume:
		return "subvolume"
	default:
		return fmt.Sprintf("OwnerMode(%d)", int(m))
	}
}

// Set implements pflag.Value.
func (m *OwnerMode) Set(str string) error {
	switch str {
	case "file":
		*m = OwnerFile
	case "subvolume":
		*m = OwnerSubvolume
	default:
		return fmt.Errorf("invalid owner mode %q (must be one of: file, subvolume)", str)
	}
	return nil
}

// Type implements pflag.Value.
func (*OwnerMode) Type() string { return "owner-mode" }

// A Reference is one file's use of part of a physical extent.
type Reference struct {
	PhysOffset uint64 // disk_bytenr
	PhysLength uint64 // disk_num_bytes
	Start      uint64 // offset within the physical extent
	Stop       uint64
	Owner      btrfsioctl.ObjID
	Tree       btrfsioctl.ObjID // the subvolume the reference was found in
}

type ScanStats struct {
	Items   int
	Refs    int
	Inline  int
	Holes   int
	Inodes  int
	LastKey btrfsioctl.Key
}

func (s ScanStats) String() string {
	return textui.Sprintf("scanned %v items: %v references (%v inodes), skipped %v inline and %v holes",
		s.Items, s.Refs, s.Inodes, s.Inline, s.Holes)
}

var ErrTooManyTrees = errors.New("per-file ownership can only scan one subvolume")

// CheckTrees returns an error if the list of trees cannot be scanned
// in this mode.
func (m OwnerMode) CheckTrees(trees []btrfsioctl.ObjID) error {
	if len(trees) == 0 {
		return errors.New("no trees to scan")
	}
	if m == OwnerFile && len(trees) > 1 {
		return fmt.Errorf("%w: got %v trees", ErrTooManyTrees, len(trees))
	}
	return nil
}

// ScanTrees calls ScanTree for each tree in turn.
func ScanTrees(ctx context.Context, src ItemSource, trees []btrfsioctl.ObjID, mode OwnerMode, fn func(Reference) error) (ScanStats, error) {
	if err := mode.CheckTrees(trees); err != nil {
		return ScanStats{}, err
	}
	var total ScanStats
	for _, treeID := range trees {
		stats, err := ScanTree(ctx, src, treeID, mode, fn)
		total.Items += stats.Items
		total.Refs += stats.Refs
		total.Inline += stats.Inline
		total.Holes += stats.Holes
		total.Inodes += stats.Inodes
		total.LastKey = stats.LastKey
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

// ScanTree walks every file extent in the tree treeID and calls fn
// with a Reference for each one that refers to a real on-disk
// extent.  Inline extents and holes are counted and skipped.
func ScanTree(ctx context.Context, src ItemSource, treeID btrfsioctl.ObjID, mode OwnerMode, fn func(Reference) error) (ScanStats, error) {
	ctx = dlog.WithField(ctx, "btrfs-shared-usage.scan.tree", treeID)
	dlog.Infof(ctx, "scanning tree %v...", treeID)

	var stats ScanStats
	progressWriter := textui.NewProgress[ScanStats](ctx, dlog.LogLevelInfo, textui.Tunable(1*time.Second))
	progressWriter.Set(stats)
	defer progressWriter.Done()

	lastInode := btrfsioctl.ObjID(0)
	err := src.SearchTree(ctx, treeID, func(item btrfsioctl.Item) error {
		stats.Items++
		stats.LastKey = item.Key
		defer progressWriter.Set(stats)
		if item.Key.ItemType != btrfsioctl.EXTENT_DATA_KEY {
			return nil
		}
		if item.Key.ObjectID != lastInode {
			stats.Inodes++
			lastInode = item.Key.ObjectID
		}

		var fe btrfsioctl.FileExtent
		if _, err := fe.UnmarshalBinary(item.Data); err != nil {
			return fmt.Errorf("item %v: %w", item.Key, err)
		}
		if fe.Type == btrfsioctl.FILE_EXTENT_INLINE {
			stats.Inline++
			return nil
		}
		if fe.BodyExtent.DiskByteNr == 0 {
			stats.Holes++
			return nil
		}

		ref := Reference{
			PhysOffset: fe.BodyExtent.DiskByteNr,
			PhysLength: fe.BodyExtent.DiskNumBytes,
			Start:      fe.BodyExtent.Offset,
			Stop:       fe.BodyExtent.Offset + fe.BodyExtent.NumBytes,
			Owner:      item.Key.ObjectID,
			Tree:       treeID,
		}
		if mode == OwnerSubvolume {
			ref.Owner = treeID
		}
		stats.Refs++
		if err := fn(ref); err != nil {
			return fmt.Errorf("item %v: %w", item.Key, err)
		}
		return nil
	})
	if err != nil {
		return stats, fmt.Errorf("tree %v: %w", treeID, err)
	}
	return stats, nil
}
