// Copyright (C) 2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

//go:build linux

package btrfsioctl

import (
	"bytes"
	"context"
	"fmt"
	"math"
	"os"
	"unsafe"

	"github.com/dennwc/ioctl"
)

const ioctlMagic = 0x94

// struct btrfs_ioctl_search_key
type searchKey struct {
	TreeID      uint64
	MinObjectID uint64
	MaxObjectID uint64
	MinOffset   uint64
	MaxOffset   uint64
	MinTransID  uint64
	MaxTransID  uint64
	MinType     uint32
	MaxType     uint32
	NrItems     uint32
	_           uint32
	_           [4]uint64
}

const (
	searchBufSize  = 64 * 1024
	searchMaxItems = 4096
)

// struct btrfs_ioctl_search_args_v2, with a fixed-size buffer
type searchArgsV2 struct {
	Key     searchKey
	BufSize uint64
	Buf     [searchBufSize]byte
}

// struct btrfs_ioctl_ino_lookup_args
type inoLookupArgs struct {
	TreeID   uint64
	ObjectID uint64
	Name     [4080]byte
}

var (
	// The size encoded in the request is that of the fixed part
	// of the struct, without the flexible buffer.
	iocTreeSearchV2 = ioctl.IOWR(ioctlMagic, 17, unsafe.Sizeof(searchKey{})+8)
	iocInoLookup    = ioctl.IOWR(ioctlMagic, 18, unsafe.Sizeof(inoLookupArgs{}))
)

func treeSearch(ctx context.Context, dir *os.File, treeID ObjID, fn func(Item) error) error {
	args := new(searchArgsV2)
	args.Key = searchKey{
		TreeID:      uint64(treeID),
		MaxObjectID: math.MaxUint64,
		MaxOffset:   math.MaxUint64,
		MaxTransID:  math.MaxUint64,
		MaxType:     math.MaxUint8,
	}
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		args.Key.NrItems = searchMaxItems
		args.BufSize = searchBufSize
		if err := ioctl.Do(dir, iocTreeSearchV2, args); err != nil {
			return fmt.Errorf("tree search: tree=%v min=(%v %v %v): %w",
				treeID, args.Key.MinObjectID, args.Key.MinType, args.Key.MinOffset, err)
		}
		if args.Key.NrItems == 0 {
			return nil
		}

		last, err := parseSearchItems(args.Buf[:], args.Key.NrItems, fn)
		if err != nil {
			return fmt.Errorf("tree search: tree=%v: %w", treeID, err)
		}

		next, ok := last.next()
		if !ok {
			return nil
		}
		args.Key.MinObjectID = uint64(next.ObjectID)
		args.Key.MinType = uint32(next.ItemType)
		args.Key.MinOffset = next.Offset
	}
}

func inoLookup(dir *os.File, treeID, inode ObjID) (string, error) {
	args := &inoLookupArgs{
		TreeID:   uint64(treeID),
		ObjectID: uint64(inode),
	}
	if err := ioctl.Do(dir, iocInoLookup, args); err != nil {
		return "", fmt.Errorf("inode lookup: tree=%v inode=%v: %w", treeID, inode, err)
	}
	name := args.Name[:]
	if i := bytes.IndexByte(name, 0); i >= 0 {
		name = name[:i]
	}
	return string(name), nil
}
