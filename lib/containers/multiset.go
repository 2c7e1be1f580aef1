// Copyright (C) 2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package containers

import (
	"golang.org/x/exp/constraints"
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
)

// Multiset is a reference-counted set: a member stays in the set
// until it has been deleted as many times as it was inserted.  A
// zero Multiset is not usable; use make(Multiset[T]).
type Multiset[T constraints.Ordered] map[T]int

func (o Multiset[T]) Insert(v T) {
	o[v]++
}

// Delete drops one reference to v.  Deleting a value that is not a
// member is a no-op.
func (o Multiset[T]) Delete(v T) {
	switch n := o[v]; {
	case n > 1:
		o[v] = n - 1
	case n == 1:
		delete(o, v)
	}
}

// Len returns the number of distinct members.
func (o Multiset[T]) Len() int {
	return len(o)
}

// Members returns the distinct members in ascending order.  The
// returned slice is freshly allocated; a nil slice is returned for
// an empty set.
func (o Multiset[T]) Members() []T {
	if len(o) == 0 {
		return nil
	}
	ret := maps.Keys(o)
	slices.Sort(ret)
	return ret
}
