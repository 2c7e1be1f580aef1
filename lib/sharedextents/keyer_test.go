// Copyright (C) 2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package sharedextents

import (
	"math"
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

// unpair inverts pair.
func unpair(k ExtentKey) (x, y uint64) {
	z := k.big()
	s := new(big.Int).Sqrt(z)
	rem := new(big.Int).Sub(z, new(big.Int).Mul(s, s))
	if rem.Cmp(s) < 0 {
		return rem.Uint64(), s.Uint64()
	}
	return s.Uint64(), new(big.Int).Sub(rem, s).Uint64()
}

func TestPairSmall(t *testing.T) {
	t.Parallel()
	// Szudzik's pairing enumerates the n×n square as exactly
	// [0, n²).
	const n = 256
	seen := make(map[ExtentKey][2]uint64, n*n)
	for x := uint64(0); x < n; x++ {
		for y := uint64(0); y < n; y++ {
			k := pair(x, y)
			if prev, dup := seen[k]; dup {
				t.Fatalf("pair(%v,%v) = pair(%v,%v) = %v", x, y, prev[0], prev[1], k)
			}
			seen[k] = [2]uint64{x, y}
			assert.Zero(t, k.Hi)
			assert.Less(t, k.Lo, uint64(n*n))
		}
	}
	assert.Len(t, seen, n*n)
}

func TestPairKnown(t *testing.T) {
	t.Parallel()
	type testcase struct {
		X, Y uint64
		Key  ExtentKey
	}
	for _, tc := range []testcase{
		{0, 0, ExtentKey{0, 0}},
		{0, 1, ExtentKey{0, 1}},
		{1, 0, ExtentKey{0, 2}},
		{1, 1, ExtentKey{0, 3}},
		{0, 2, ExtentKey{0, 4}},
		{2, 0, ExtentKey{0, 6}},
		{1000, 4096, ExtentKey{0, 4096*4096 + 1000}},
		{1 << 32, 0, ExtentKey{1, 1 << 32}},
		{math.MaxUint64, math.MaxUint64, ExtentKey{math.MaxUint64, math.MaxUint64}},
	} {
		assert.Equal(t, tc.Key, pair(tc.X, tc.Y), "pair(%v, %v)", tc.X, tc.Y)
	}
}

func TestPairInjective(t *testing.T) {
	t.Parallel()
	rapid.Check(t, func(t *rapid.T) {
		x := rapid.Uint64().Draw(t, "offset")
		y := rapid.Uint64().Draw(t, "length")
		gotX, gotY := unpair(pair(x, y))
		if gotX != x || gotY != y {
			t.Fatalf("unpair(pair(%v, %v)) = (%v, %v)", x, y, gotX, gotY)
		}
	})
}

func TestPairDistinctRealistic(t *testing.T) {
	t.Parallel()
	rapid.Check(t, func(t *rapid.T) {
		// offsets within 1PiB, lengths up to 128MiB (the btrfs
		// maximum extent size).
		o1 := rapid.Uint64Range(0, 1<<50).Draw(t, "o1")
		l1 := rapid.Uint64Range(1, 128<<20).Draw(t, "l1")
		o2 := rapid.Uint64Range(0, 1<<50).Draw(t, "o2")
		l2 := rapid.Uint64Range(1, 128<<20).Draw(t, "l2")
		if o1 == o2 && l1 == l2 {
			return
		}
		if pair(o1, l1) == pair(o2, l2) {
			t.Fatalf("collision: (%v,%v) and (%v,%v)", o1, l1, o2, l2)
		}
	})
}

func TestExtentKeyOrder(t *testing.T) {
	t.Parallel()
	assert.Equal(t, -1, ExtentKey{0, 5}.Compare(ExtentKey{1, 0}))
	assert.Equal(t, 1, ExtentKey{0, 6}.Compare(ExtentKey{0, 5}))
	assert.Equal(t, 0, ExtentKey{2, 3}.Compare(ExtentKey{2, 3}))
	// pairing is increasing in each argument
	assert.Equal(t, -1, pair(1000, 4096).Compare(pair(1001, 4096)))
	assert.Equal(t, -1, pair(1000, 4096).Compare(pair(1000, 4097)))
}

func TestExtentKeyString(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "16778216", pair(1000, 4096).String())
	assert.Equal(t, "18446744073709551616", ExtentKey{1, 0}.String())
	assert.Equal(t, "340282366920938463463374607431768211455",
		ExtentKey{math.MaxUint64, math.MaxUint64}.String())
}

func TestKeyerCache(t *testing.T) {
	t.Parallel()
	keyer := NewKeyer(2)
	assert.Equal(t, pair(1000, 4096), keyer.Key(1000, 4096))
	assert.Equal(t, pair(1000, 4096), keyer.Key(1000, 4096))
	assert.Equal(t, 1, keyer.cache.Len())

	keyer.Key(1, 2)
	keyer.Key(3, 4)
	require.Equal(t, 2, keyer.cache.Len())
	_, ok := keyer.cache.Get(physExtent{1000, 4096})
	assert.False(t, ok, "oldest key should have been evicted")
	assert.Equal(t, pair(1000, 4096), keyer.Key(1000, 4096))

	// caches are not shared between keyers
	other := NewKeyer(0)
	assert.Equal(t, 0, other.cache.Len())
}
