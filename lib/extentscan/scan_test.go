// Copyright (C) 2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package extentscan_test

import (
	"context"
	"errors"
	"testing"

	"github.com/datawire/dlib/dlog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"git.lukeshu.com/btrfs-shared-usage/lib/btrfsioctl"
	"git.lukeshu.com/btrfs-shared-usage/lib/extentscan"
)

type fakeSource map[btrfsioctl.ObjID][]btrfsioctl.Item

func (src fakeSource) SearchTree(ctx context.Context, treeID btrfsioctl.ObjID, fn func(btrfsioctl.Item) error) error {
	items, ok := src[treeID]
	if !ok {
		return errors.New("no such tree")
	}
	for _, item := range items {
		if err := fn(item); err != nil {
			return err
		}
	}
	return nil
}

func extentItem(t *testing.T, inode btrfsioctl.ObjID, fileOff uint64, fe btrfsioctl.FileExtent) btrfsioctl.Item {
	t.Helper()
	dat, err := fe.MarshalBinary()
	require.NoError(t, err)
	return btrfsioctl.Item{
		Key: btrfsioctl.Key{
			ObjectID: inode,
			ItemType: btrfsioctl.EXTENT_DATA_KEY,
			Offset:   fileOff,
		},
		Data: dat,
	}
}

func regular(diskByteNr, diskNumBytes, offset, numBytes uint64) btrfsioctl.FileExtent {
	return btrfsioctl.FileExtent{
		Type: btrfsioctl.FILE_EXTENT_REG,
		BodyExtent: btrfsioctl.FileExtentExtent{
			DiskByteNr:   diskByteNr,
			DiskNumBytes: diskNumBytes,
			Offset:       offset,
			NumBytes:     numBytes,
		},
	}
}

func testTrees(t *testing.T) fakeSource {
	return fakeSource{
		5: {
			{Key: btrfsioctl.Key{ObjectID: 256, ItemType: btrfsioctl.INODE_ITEM_KEY}},
			extentItem(t, 256, 0, regular(0x10000, 8192, 0, 8192)),
			extentItem(t, 256, 8192, regular(0, 0, 0, 4096)), // hole
			{Key: btrfsioctl.Key{ObjectID: 257, ItemType: btrfsioctl.INODE_ITEM_KEY}},
			extentItem(t, 257, 0, regular(0x10000, 8192, 4096, 4096)),
			extentItem(t, 258, 0, btrfsioctl.FileExtent{
				Type:       btrfsioctl.FILE_EXTENT_INLINE,
				BodyInline: []byte("tiny"),
			}),
		},
		256: {
			extentItem(t, 257, 0, regular(0x10000, 8192, 0, 4096)),
		},
	}
}

func TestScanTreeFile(t *testing.T) {
	t.Parallel()
	ctx := dlog.NewTestContext(t, false)

	var refs []extentscan.Reference
	stats, err := extentscan.ScanTree(ctx, testTrees(t), 5, extentscan.OwnerFile, func(ref extentscan.Reference) error {
		refs = append(refs, ref)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []extentscan.Reference{
		{PhysOffset: 0x10000, PhysLength: 8192, Start: 0, Stop: 8192, Owner: 256, Tree: 5},
		{PhysOffset: 0x10000, PhysLength: 8192, Start: 4096, Stop: 8192, Owner: 257, Tree: 5},
	}, refs)
	assert.Equal(t, 6, stats.Items)
	assert.Equal(t, 2, stats.Refs)
	assert.Equal(t, 1, stats.Holes)
	assert.Equal(t, 1, stats.Inline)
	assert.Equal(t, 3, stats.Inodes)
}

func TestScanTreesSubvolume(t *testing.T) {
	t.Parallel()
	ctx := dlog.NewTestContext(t, false)

	owners := make(map[btrfsioctl.ObjID]int)
	stats, err := extentscan.ScanTrees(ctx, testTrees(t), []btrfsioctl.ObjID{5, 256}, extentscan.OwnerSubvolume, func(ref extentscan.Reference) error {
		assert.Equal(t, ref.Tree, ref.Owner)
		owners[ref.Owner]++
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, map[btrfsioctl.ObjID]int{5: 2, 256: 1}, owners)
	assert.Equal(t, 3, stats.Refs)
}

func TestScanTreesFileRejectsMultipleTrees(t *testing.T) {
	t.Parallel()
	ctx := dlog.NewTestContext(t, false)
	_, err := extentscan.ScanTrees(ctx, testTrees(t), []btrfsioctl.ObjID{5, 256}, extentscan.OwnerFile, func(extentscan.Reference) error {
		return nil
	})
	assert.ErrorIs(t, err, extentscan.ErrTooManyTrees)
}

func TestScanTreeErrors(t *testing.T) {
	t.Parallel()
	ctx := dlog.NewTestContext(t, false)

	t.Run("callback", func(t *testing.T) {
		errStop := errors.New("stop")
		_, err := extentscan.ScanTree(ctx, testTrees(t), 5, extentscan.OwnerFile, func(extentscan.Reference) error {
			return errStop
		})
		assert.ErrorIs(t, err, errStop)
	})
	t.Run("malformed", func(t *testing.T) {
		src := fakeSource{5: {{
			Key:  btrfsioctl.Key{ObjectID: 256, ItemType: btrfsioctl.EXTENT_DATA_KEY},
			Data: []byte{1, 2, 3},
		}}}
		_, err := extentscan.ScanTree(ctx, src, 5, extentscan.OwnerFile, func(extentscan.Reference) error {
			return nil
		})
		assert.Error(t, err)
	})
	t.Run("missing-tree", func(t *testing.T) {
		_, err := extentscan.ScanTree(ctx, testTrees(t), 999, extentscan.OwnerFile, func(extentscan.Reference) error {
			return nil
		})
		assert.Error(t, err)
	})
}

func TestOwnerModeFlag(t *testing.T) {
	t.Parallel()
	var m extentscan.OwnerMode
	require.NoError(t, m.Set("subvolume"))
	assert.Equal(t, extentscan.OwnerSubvolume, m)
	assert.Equal(t, "subvolume", m.String())
	require.NoError(t, m.Set("file"))
	assert.Equal(t, extentscan.OwnerFile, m)
	assert.Error(t, m.Set("block-group"))
	assert.Equal(t, "owner-mode", m.Type())
}

func TestCheckTrees(t *testing.T) {
	t.Parallel()
	assert.Error(t, extentscan.OwnerFile.CheckTrees(nil))
	assert.NoError(t, extentscan.OwnerFile.CheckTrees([]btrfsioctl.ObjID{5}))
	assert.ErrorIs(t, extentscan.OwnerFile.CheckTrees([]btrfsioctl.ObjID{5, 256}), extentscan.ErrTooManyTrees)
	assert.NoError(t, extentscan.OwnerSubvolume.CheckTrees([]btrfsioctl.ObjID{5, 256}))
}
