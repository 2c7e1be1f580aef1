// Copyright (C) 2022-2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package containers

import (
	"golang.org/x/exp/constraints"
)

// Ordered is implemented by types that know how to compare
// themselves; Compare returns <0, 0, or >0.
type Ordered[T any] interface {
	Compare(T) int
}

// NativeCompare is Compare for the built-in ordered types.
func NativeCompare[T constraints.Ordered](a, b T) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}
