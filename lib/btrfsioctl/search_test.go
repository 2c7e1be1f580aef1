// Copyright (C) 2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package btrfsioctl

import (
	"errors"
	"testing"
	"unsafe"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"git.lukeshu.com/btrfs-shared-usage/lib/binstruct"
)

func TestHostEndian(t *testing.T) {
	t.Parallel()
	x := uint32(0x01020304)
	mem := (*[4]byte)(unsafe.Pointer(&x))
	assert.Equal(t, x, hostEndian.Uint32(mem[:]))
}

func searchItem(t *testing.T, key Key, transID uint64, data []byte) []byte {
	t.Helper()
	hdr, err := binstruct.Marshal(searchHeader{
		TransID:  hostU64(transID),
		ObjectID: hostU64(key.ObjectID),
		Offset:   hostU64(key.Offset),
		Type:     hostU32(key.ItemType),
		Len:      hostU32(len(data)),
	})
	require.NoError(t, err)
	require.Len(t, hdr, 32)
	return append(hdr, data...)
}

func TestParseSearchItems(t *testing.T) {
	t.Parallel()
	k1 := Key{ObjectID: 256, ItemType: INODE_ITEM_KEY}
	k2 := Key{ObjectID: 256, ItemType: EXTENT_DATA_KEY, Offset: 4096}
	var buf []byte
	buf = append(buf, searchItem(t, k1, 10, []byte("inode"))...)
	buf = append(buf, searchItem(t, k2, 11, []byte("extent"))...)
	// Trailing garbage past the reported count is ignored.
	buf = append(buf, make([]byte, 64)...)

	var items []Item
	last, err := parseSearchItems(buf, 2, func(item Item) error {
		items = append(items, item)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, k2, last)
	assert.Equal(t, []Item{
		{Key: k1, TransID: 10, Data: []byte("inode")},
		{Key: k2, TransID: 11, Data: []byte("extent")},
	}, items)
}

func TestParseSearchItemsTruncated(t *testing.T) {
	t.Parallel()
	full := searchItem(t, Key{ObjectID: 257, ItemType: EXTENT_DATA_KEY}, 1, make([]byte, 53))
	nop := func(Item) error { return nil }

	_, err := parseSearchItems(full[:20], 1, nop)
	assert.Error(t, err, "short header")

	_, err = parseSearchItems(full[:40], 1, nop)
	assert.ErrorContains(t, err, "need 53 bytes of data")

	errStop := errors.New("stop")
	_, err = parseSearchItems(full, 1, func(Item) error { return errStop })
	assert.ErrorIs(t, err, errStop)
}
