// Copyright (C) 2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package sharedextents

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"pgregory.net/rapid"
)

func TestAggregate(t *testing.T) {
	t.Parallel()
	type testcase struct {
		Obs      []Observation[string]
		Dedup    uint64
		Unique   uint64
		PerOwner map[string]uint64
	}
	testcases := map[string]testcase{
		"single": {
			Obs:      []Observation[string]{{0, 4096, "A"}},
			Dedup:    4096,
			Unique:   4096,
			PerOwner: map[string]uint64{"A": 4096},
		},
		"full-overlap": {
			Obs:      []Observation[string]{{0, 4096, "A"}, {0, 4096, "B"}},
			Dedup:    4096,
			Unique:   0,
			PerOwner: map[string]uint64{"A": 4096, "B": 4096},
		},
		"partial-overlap": {
			Obs:      []Observation[string]{{0, 100, "A"}, {50, 150, "B"}},
			Dedup:    150,
			Unique:   100,
			PerOwner: map[string]uint64{"A": 100, "B": 100},
		},
		"gap": {
			Obs:      []Observation[string]{{0, 10, "A"}, {20, 30, "A"}},
			Dedup:    20,
			Unique:   20,
			PerOwner: map[string]uint64{"A": 20},
		},
		"same-owner-twice": {
			Obs:      []Observation[string]{{0, 100, "A"}, {0, 100, "A"}},
			Dedup:    100,
			Unique:   100,
			PerOwner: map[string]uint64{"A": 100},
		},
	}
	for tcName, tc := range testcases {
		tc := tc
		t.Run(tcName, func(t *testing.T) {
			t.Parallel()
			all := []Segments[string]{resolve(t, tc.Obs...)}

			stats := Aggregate(all...)
			assert.Equal(t, tc.Dedup, stats.Deduplicated)
			assert.Equal(t, tc.Unique, stats.Unique)
			assert.Equal(t, tc.PerOwner, stats.PerOwner)
			assert.Equal(t, tc.Dedup-tc.Unique, stats.Shared())

			assert.Equal(t, tc.Dedup, TotalDeduplicatedBytes(all))
			assert.Equal(t, tc.Unique, TotalUniqueBytes(all))
			assert.Equal(t, tc.PerOwner, PerOwnerTotals(all))
		})
	}
}

func TestAggregateEmpty(t *testing.T) {
	t.Parallel()
	stats := Aggregate[string]()
	assert.Zero(t, stats.Deduplicated)
	assert.Zero(t, stats.Unique)
	assert.Empty(t, stats.PerOwner)
	assert.Empty(t, PerOwnerTotals[string](nil))
}

func TestAggregateProperties(t *testing.T) {
	t.Parallel()
	rapid.Check(t, func(t *rapid.T) {
		var all []Segments[string]
		numExtents := rapid.IntRange(1, 5).Draw(t, "numExtents")
		for i := 0; i < numExtents; i++ {
			var tl Timeline[string]
			for _, ob := range observationsGen(1 << 20).Draw(t, "obs") {
				if err := tl.Add(ob.Start, ob.Stop, ob.Owner); err != nil {
					t.Fatal(err)
				}
			}
			segs, err := tl.Resolve()
			if err != nil {
				t.Fatal(err)
			}
			all = append(all, segs)
		}

		stats := Aggregate(all...)

		// unique + multiply-owned == deduplicated
		var multi uint64
		for _, segs := range all {
			segs.Each(func(start, stop uint64, owners []string) {
				if len(owners) >= 2 {
					multi += stop - start
				}
			})
		}
		if stats.Unique+multi != stats.Deduplicated {
			t.Fatalf("unique(%v) + multi(%v) != dedup(%v)", stats.Unique, multi, stats.Deduplicated)
		}

		// no owner can reference more than the total, and the
		// sum over owners is at least the total
		var sum uint64
		for owner, size := range stats.PerOwner {
			if size == 0 || size > stats.Deduplicated {
				t.Fatalf("owner %v has %v bytes of %v", owner, size, stats.Deduplicated)
			}
			sum += size
		}
		if sum < stats.Deduplicated {
			t.Fatalf("sum over owners %v < dedup %v", sum, stats.Deduplicated)
		}

		// fan-in order does not matter
		split := rapid.IntRange(0, len(all)).Draw(t, "split")
		left, right := Aggregate(all[:split]...), Aggregate(all[split:]...)
		var merged1, merged2 Stats[string]
		merged1.Merge(left)
		merged1.Merge(right)
		merged2.Merge(right)
		merged2.Merge(left)
		if merged1.Deduplicated != stats.Deduplicated || merged1.Unique != stats.Unique ||
			merged2.Deduplicated != stats.Deduplicated || merged2.Unique != stats.Unique {
			t.Fatalf("merge mismatch: %+v %+v %+v", stats, merged1, merged2)
		}
		for owner, size := range stats.PerOwner {
			if merged1.PerOwner[owner] != size || merged2.PerOwner[owner] != size {
				t.Fatalf("merge mismatch for owner %v", owner)
			}
		}
		if len(merged1.PerOwner) != len(stats.PerOwner) || len(merged2.PerOwner) != len(stats.PerOwner) {
			t.Fatalf("merge owner count mismatch")
		}
	})
}
