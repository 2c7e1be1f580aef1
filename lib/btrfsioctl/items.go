// Copyright (C) 2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

// Package btrfsioctl talks to a mounted btrfs filesystem through the
// kernel's ioctl interface, and decodes the few item types that
// btrfs-shared-usage cares about.
package btrfsioctl

import (
	"fmt"

	"git.lukeshu.com/btrfs-shared-usage/lib/binstruct"
)

type ObjID uint64

const FS_TREE_OBJECTID ObjID = 5 // the top-level subvolume

type ItemType uint8

const (
	INODE_ITEM_KEY  ItemType = 1
	INODE_REF_KEY   ItemType = 12
	EXTENT_DATA_KEY ItemType = 108
)

func (t ItemType) String() string {
	switch t {
	case INODE_ITEM_KEY:
		return "INODE_ITEM"
	case INODE_REF_KEY:
		return "INODE_REF"
	case EXTENT_DATA_KEY:
		return "EXTENT_DATA"
	default:
		return fmt.Sprintf("%d", uint8(t))
	}
}

type Key struct {
	ObjectID ObjID
	ItemType ItemType
	Offset   uint64
}

func (k Key) String() string {
	return fmt.Sprintf("(%v %v %v)", k.ObjectID, k.ItemType, k.Offset)
}

// next returns the smallest key greater than k, or false if k is
// the greatest possible key.
func (k Key) next() (Key, bool) {
	switch {
	case k.Offset < ^uint64(0):
		k.Offset++
	case k.ItemType < ^ItemType(0):
		k.ItemType++
		k.Offset = 0
	case k.ObjectID < ^ObjID(0):
		k.ObjectID++
		k.ItemType = 0
		k.Offset = 0
	default:
		return k, false
	}
	return k, true
}

// An Item is one item from a tree search.  Data is in the on-disk
// (little-endian) format.
type Item struct {
	Key     Key
	TransID uint64
	Data    []byte
}

type FileExtentType uint8

const (
	FILE_EXTENT_INLINE FileExtentType = iota
	FILE_EXTENT_REG
	FILE_EXTENT_PREALLOC
)

var fileExtentTypeNames = []string{
	"inline",
	"regular",
	"prealloc",
}

func (t FileExtentType) String() string {
	if int(t) < len(fileExtentTypeNames) {
		return fileExtentTypeNames[t]
	}
	return fmt.Sprintf("FileExtentType(%d)", uint8(t))
}

// key.objectid = inode
// key.offset = offset within file
type FileExtent struct { // EXTENT_DATA=108
	Generation uint64 `bin:"off=0x0, siz=0x8"` // transaction ID that created this extent
	RAMBytes   int64  `bin:"off=0x8, siz=0x8"` // upper bound of what compressed data will decompress to

	Compression   uint8  `bin:"off=0x10, siz=0x1"`
	Encryption    uint8  `bin:"off=0x11, siz=0x1"`
	OtherEncoding uint16 `bin:"off=0x12, siz=0x2"`

	Type FileExtentType `bin:"off=0x14, siz=0x1"`

	binstruct.End `bin:"off=0x15"`

	// only one of these, depending on .Type
	BodyInline []byte           `bin:"-"` // .Type == FILE_EXTENT_INLINE
	BodyExtent FileExtentExtent `bin:"-"` // .Type == FILE_EXTENT_REG or FILE_EXTENT_PREALLOC
}

type FileExtentExtent struct {
	// Position and size of the extent on disk (logical
	// addresses); DiskByteNr == 0 is a hole.
	DiskByteNr   uint64 `bin:"off=0x0, siz=0x8"`
	DiskNumBytes uint64 `bin:"off=0x8, siz=0x8"`

	// Position of the referenced data within the extent.
	Offset uint64 `bin:"off=0x10, siz=0x8"`

	// Number of bytes of the extent that are referenced.
	NumBytes uint64 `bin:"off=0x18, siz=0x8"`

	binstruct.End `bin:"off=0x20"`
}

// UnmarshalBinary decodes an EXTENT_DATA item.  BodyInline aliases
// dat.
func (o *FileExtent) UnmarshalBinary(dat []byte) (int, error) {
	*o = FileExtent{}
	n, err := binstruct.UnmarshalWithoutInterface(dat, o)
	if err != nil {
		return n, err
	}
	switch o.Type {
	case FILE_EXTENT_INLINE:
		o.BodyInline = dat[n:]
		n += len(o.BodyInline)
	case FILE_EXTENT_REG, FILE_EXTENT_PREALLOC:
		_n, err := binstruct.Unmarshal(dat[n:], &o.BodyExtent)
		n += _n
		if err != nil {
			return n, err
		}
	default:
		return n, fmt.Errorf("unknown file extent type %v", o.Type)
	}
	return n, nil
}

func (o FileExtent) MarshalBinary() ([]byte, error) {
	dat, err := binstruct.MarshalWithoutInterface(o)
	if err != nil {
		return dat, err
	}
	switch o.Type {
	case FILE_EXTENT_INLINE:
		dat = append(dat, o.BodyInline...)
	case FILE_EXTENT_REG, FILE_EXTENT_PREALLOC:
		bs, err := binstruct.Marshal(o.BodyExtent)
		dat = append(dat, bs...)
		if err != nil {
			return dat, err
		}
	default:
		return dat, fmt.Errorf("unknown file extent type %v", o.Type)
	}
	return dat, nil
}
