// Copyright (C) 2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package btrfsioctl

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
)

// ErrUnsupported is returned by the ioctl wrappers on platforms
// without btrfs.
var ErrUnsupported = errors.New("btrfs ioctls are only supported on Linux")

// FS is a handle on a mounted btrfs filesystem (or any directory
// within one).  Tree searches require CAP_SYS_ADMIN.
type FS struct {
	dir  *os.File
	path string
}

// Open opens the directory at path for issuing ioctls.
func Open(path string) (*FS, error) {
	dir, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	return &FS{
		dir:  dir,
		path: path,
	}, nil
}

func (fs *FS) Close() error {
	return fs.dir.Close()
}

// Path returns the path that the FS was opened at.
func (fs *FS) Path() string {
	return fs.path
}

// SearchTree calls fn for every item in the tree treeID, in key
// order.  The Item's Data is only valid until fn returns.
func (fs *FS) SearchTree(ctx context.Context, treeID ObjID, fn func(Item) error) error {
	return treeSearch(ctx, fs.dir, treeID, fn)
}

// InodePath returns the path of inode within subvolume treeID,
// joined to the path the FS was opened at.  The FS must have been
// opened at the root of that subvolume for the result to be a usable
// filename.
func (fs *FS) InodePath(treeID, inode ObjID) (string, error) {
	rel, err := inoLookup(fs.dir, treeID, inode)
	if err != nil {
		return "", err
	}
	return filepath.Join(fs.path, strings.TrimSuffix(rel, "/")), nil
}
