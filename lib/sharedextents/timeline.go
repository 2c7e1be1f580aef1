// Copyright (C) 2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package sharedextents

import (
	"fmt"
	"sort"

	"golang.org/x/exp/constraints"
	"golang.org/x/exp/slices"

	"git.lukeshu.com/btrfs-shared-usage/lib/containers"
)

// An Observation records that Owner references the bytes
// [Start, Stop) of a physical extent, relative to the start of that
// extent.
type Observation[O constraints.Ordered] struct {
	Start, Stop uint64
	Owner       O
}

// A Breakpoint is a position within an extent at which the set of
// owners may change.  Owners is sorted and duplicate-free, and
// covers the range from Pos up to the next breakpoint.
type Breakpoint[O constraints.Ordered] struct {
	Pos    uint64
	Owners []O
}

// Segments is the resolved ownership of one extent: breakpoints in
// strictly increasing order, the last of which always has no owners.
type Segments[O constraints.Ordered] []Breakpoint[O]

// Each calls fn for every range [start, stop) between consecutive
// breakpoints, including ranges without owners.
func (segs Segments[O]) Each(fn func(start, stop uint64, owners []O)) {
	for i := 0; i+1 < len(segs); i++ {
		fn(segs[i].Pos, segs[i+1].Pos, segs[i].Owners)
	}
}

// A Timeline collects the observations for a single extent until
// they are resolved into Segments.  A zero Timeline is ready to use.
// A Timeline is not safe for concurrent use.
type Timeline[O constraints.Ordered] struct {
	obs      []Observation[O]
	resolved bool
}

// Add records that owner references [start, stop).  Overlapping,
// nested, and duplicate observations are all fine.
func (tl *Timeline[O]) Add(start, stop uint64, owner O) error {
	if tl.resolved {
		return fmt.Errorf("add [%v,%v): %w", start, stop, ErrResolvedTwice)
	}
	if start >= stop {
		return fmt.Errorf("%w: [%v,%v)", ErrInvalidRange, start, stop)
	}
	tl.obs = append(tl.obs, Observation[O]{
		Start: start,
		Stop:  stop,
		Owner: owner,
	})
	return nil
}

// Len returns the number of observations waiting to be resolved.
func (tl *Timeline[O]) Len() int {
	return len(tl.obs)
}

// Resolve sweeps over the observations and returns, for every
// position at which some observation starts or stops, the set of
// owners covering the range that begins there.  An owner whose range
// stops at a position is not part of that position's set; an owner
// whose range starts there is.
//
// Resolve consumes the Timeline; the observations are dropped and
// any further Resolve or Add returns ErrResolvedTwice.
func (tl *Timeline[O]) Resolve() (Segments[O], error) {
	if tl.resolved {
		return nil, fmt.Errorf("resolve: %w", ErrResolvedTwice)
	}
	tl.resolved = true
	byStart := tl.obs
	tl.obs = nil
	if len(byStart) == 0 {
		return nil, nil
	}

	byStop := slices.Clone(byStart)
	sort.Slice(byStart, func(i, j int) bool { return byStart[i].Start < byStart[j].Start })
	sort.Slice(byStop, func(i, j int) bool { return byStop[i].Stop < byStop[j].Stop })

	positions := make([]uint64, 0, 2*len(byStart))
	for _, ob := range byStart {
		positions = append(positions, ob.Start, ob.Stop)
	}
	slices.Sort(positions)
	positions = slices.Compact(positions)

	active := make(containers.Multiset[O])
	ret := make(Segments[O], 0, len(positions))
	nextStart, nextStop := 0, 0
	for _, pos := range positions {
		for ; nextStart < len(byStart) && byStart[nextStart].Start == pos; nextStart++ {
			active.Insert(byStart[nextStart].Owner)
		}
		for ; nextStop < len(byStop) && byStop[nextStop].Stop == pos; nextStop++ {
			active.Delete(byStop[nextStop].Owner)
		}
		ret = append(ret, Breakpoint[O]{
			Pos:    pos,
			Owners: active.Members(),
		})
	}
	if active.Len() != 0 {
		panic(fmt.Errorf("should not happen: owners %v still active after the last breakpoint", active.Members()))
	}
	return ret, nil
}
