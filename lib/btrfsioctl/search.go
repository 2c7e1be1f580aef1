// Copyright (C) 2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package btrfsioctl

import (
	"encoding/binary"
	"fmt"
	"unsafe"

	"git.lukeshu.com/btrfs-shared-usage/lib/binstruct"
	"git.lukeshu.com/btrfs-shared-usage/lib/binstruct/binutil"
)

// The ioctl argument structs are native-endian C structs; item data
// is in the on-disk little-endian format.
var hostEndian binary.ByteOrder = func() binary.ByteOrder {
	x := uint16(1)
	if *(*byte)(unsafe.Pointer(&x)) == 1 {
		return binary.LittleEndian
	}
	return binary.BigEndian
}()

type hostU32 uint32

func (hostU32) BinaryStaticSize() int { return 4 }
func (x hostU32) MarshalBinary() ([]byte, error) {
	var buf [4]byte
	hostEndian.PutUint32(buf[:], uint32(x))
	return buf[:], nil
}

func (x *hostU32) UnmarshalBinary(dat []byte) (int, error) {
	if err := binutil.NeedNBytes(dat, 4); err != nil {
		return 0, err
	}
	*x = hostU32(hostEndian.Uint32(dat))
	return 4, nil
}

type hostU64 uint64

func (hostU64) BinaryStaticSize() int { return 8 }
func (x hostU64) MarshalBinary() ([]byte, error) {
	var buf [8]byte
	hostEndian.PutUint64(buf[:], uint64(x))
	return buf[:], nil
}

func (x *hostU64) UnmarshalBinary(dat []byte) (int, error) {
	if err := binutil.NeedNBytes(dat, 8); err != nil {
		return 0, err
	}
	*x = hostU64(hostEndian.Uint64(dat))
	return 8, nil
}

// struct btrfs_ioctl_search_header
type searchHeader struct {
	TransID  hostU64 `bin:"off=0x0, siz=0x8"`
	ObjectID hostU64 `bin:"off=0x8, siz=0x8"`
	Offset   hostU64 `bin:"off=0x10, siz=0x8"`
	Type     hostU32 `bin:"off=0x18, siz=0x4"`
	Len      hostU32 `bin:"off=0x1c, siz=0x4"`

	binstruct.End `bin:"off=0x20"`
}

// parseSearchItems calls fn for each of the nr items packed in a
// TREE_SEARCH_V2 result buffer, and returns the key of the last one.
func parseSearchItems(buf []byte, nr uint32, fn func(Item) error) (Key, error) {
	var last Key
	for i := uint32(0); i < nr; i++ {
		var hdr searchHeader
		n, err := binstruct.Unmarshal(buf, &hdr)
		if err != nil {
			return last, fmt.Errorf("item %v: %w", i, err)
		}
		buf = buf[n:]
		item := Item{
			TransID: uint64(hdr.TransID),
			Key: Key{
				ObjectID: ObjID(hdr.ObjectID),
				ItemType: ItemType(hdr.Type),
				Offset:   uint64(hdr.Offset),
			},
		}
		if uint64(len(buf)) < uint64(hdr.Len) {
			return last, fmt.Errorf("item %v %v: need %v bytes of data, only have %v",
				i, item.Key, hdr.Len, len(buf))
		}
		item.Data = buf[:hdr.Len]
		buf = buf[hdr.Len:]
		if err := fn(item); err != nil {
			return last, err
		}
		last = item.Key
	}
	return last, nil
}
