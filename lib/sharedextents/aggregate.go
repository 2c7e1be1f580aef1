// Copyright (C) 2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package sharedextents

import (
	"golang.org/x/exp/constraints"
)

// Stats summarizes the resolved ownership of one or more extents.
type Stats[O constraints.Ordered] struct {
	// Deduplicated is the number of bytes covered by at least one
	// owner, each byte counted once no matter how many owners
	// share it.
	Deduplicated uint64
	// Unique is the number of bytes covered by exactly one owner;
	// the bytes that deleting that owner would free.
	Unique uint64
	// PerOwner maps each owner to the number of bytes it
	// references, whether shared or not.  Owners with no bytes
	// are absent.
	PerOwner map[O]uint64
}

// Shared returns the number of bytes referenced by two or more
// owners.
func (s Stats[O]) Shared() uint64 {
	return s.Deduplicated - s.Unique
}

func (s *Stats[O]) add(start, stop uint64, owners []O) {
	if len(owners) == 0 {
		return
	}
	size := stop - start
	s.Deduplicated += size
	if len(owners) == 1 {
		s.Unique += size
	}
	if s.PerOwner == nil {
		s.PerOwner = make(map[O]uint64)
	}
	for _, owner := range owners {
		s.PerOwner[owner] += size
	}
}

// Merge folds other in to s.  Merging is associative and
// commutative, so partial Stats computed for disjoint sets of extents
// may be combined in any order.
func (s *Stats[O]) Merge(other Stats[O]) {
	s.Deduplicated += other.Deduplicated
	s.Unique += other.Unique
	if len(other.PerOwner) > 0 && s.PerOwner == nil {
		s.PerOwner = make(map[O]uint64, len(other.PerOwner))
	}
	for owner, size := range other.PerOwner {
		s.PerOwner[owner] += size
	}
}

// Aggregate computes the Stats for a set of extents in a single pass.
func Aggregate[O constraints.Ordered](all ...Segments[O]) Stats[O] {
	var ret Stats[O]
	for _, segs := range all {
		segs.Each(ret.add)
	}
	return ret
}

// TotalDeduplicatedBytes returns the number of bytes covered by at
// least one owner; the on-disk footprint of the data, not counting
// RAID duplication.
func TotalDeduplicatedBytes[O constraints.Ordered](all []Segments[O]) uint64 {
	var total uint64
	for _, segs := range all {
		segs.Each(func(start, stop uint64, owners []O) {
			if len(owners) > 0 {
				total += stop - start
			}
		})
	}
	return total
}

// TotalUniqueBytes returns the number of bytes covered by exactly one
// owner.
func TotalUniqueBytes[O constraints.Ordered](all []Segments[O]) uint64 {
	var total uint64
	for _, segs := range all {
		segs.Each(func(start, stop uint64, owners []O) {
			if len(owners) == 1 {
				total += stop - start
			}
		})
	}
	return total
}

// PerOwnerTotals returns, for every owner that references at least
// one byte, the number of bytes it references.
func PerOwnerTotals[O constraints.Ordered](all []Segments[O]) map[O]uint64 {
	ret := make(map[O]uint64)
	for _, segs := range all {
		segs.Each(func(start, stop uint64, owners []O) {
			for _, owner := range owners {
				ret[owner] += stop - start
			}
		})
	}
	return ret
}
