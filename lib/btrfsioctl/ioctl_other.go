// Copyright (C) 2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

//go:build !linux

package btrfsioctl

import (
	"context"
	"os"
)

func treeSearch(context.Context, *os.File, ObjID, func(Item) error) error {
	return ErrUnsupported
}

func inoLookup(*os.File, ObjID, ObjID) (string, error) {
	return "", ErrUnsupported
}
