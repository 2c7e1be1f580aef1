// Copyright (C) 2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package sharedextents

import (
	"fmt"
	"math/big"
	"math/bits"

	"git.lukeshu.com/btrfs-shared-usage/lib/containers"
	"git.lukeshu.com/btrfs-shared-usage/lib/textui"
)

// ExtentKey identifies one physical extent.  It is a 128-bit
// unsigned integer, so that every (offset, length) pair maps to a
// distinct key without overflow.
type ExtentKey struct {
	Hi, Lo uint64
}

var _ containers.Ordered[ExtentKey] = ExtentKey{}

func (k ExtentKey) Compare(o ExtentKey) int {
	if d := containers.NativeCompare(k.Hi, o.Hi); d != 0 {
		return d
	}
	return containers.NativeCompare(k.Lo, o.Lo)
}

func (k ExtentKey) big() *big.Int {
	ret := new(big.Int).SetUint64(k.Hi)
	ret.Lsh(ret, 64)
	return ret.Or(ret, new(big.Int).SetUint64(k.Lo))
}

// String renders the key in decimal.
func (k ExtentKey) String() string {
	if k.Hi == 0 {
		return fmt.Sprintf("%d", k.Lo)
	}
	return k.big().String()
}

// pair is Szudzik's pairing function, computed in 128 bits:
//
//	x >= y : x² + x + y
//	x <  y : y² + x
//
// The largest possible result, for x = y = 2⁶⁴-1, is 2¹²⁸-1, so the
// high word never overflows.
func pair(x, y uint64) ExtentKey {
	var hi, lo, carry uint64
	if x >= y {
		hi, lo = bits.Mul64(x, x)
		lo, carry = bits.Add64(lo, x, 0)
		hi += carry
		lo, carry = bits.Add64(lo, y, 0)
		hi += carry
	} else {
		hi, lo = bits.Mul64(y, y)
		lo, carry = bits.Add64(lo, x, 0)
		hi += carry
	}
	return ExtentKey{Hi: hi, Lo: lo}
}

// DefaultKeyCacheSize is the number of (offset, length) pairs a
// Keyer remembers if not told otherwise.
var DefaultKeyCacheSize = textui.Tunable(1024)

type physExtent struct {
	Offset, Length uint64
}

// A Keyer derives ExtentKeys, remembering the most recently used
// ones; the same physical extent is typically seen once per file
// referencing it.  A Keyer is safe for concurrent use.
type Keyer struct {
	cache *containers.LRUCache[physExtent, ExtentKey]
}

// NewKeyer returns a Keyer that caches up to cacheSize keys; a
// non-positive cacheSize selects DefaultKeyCacheSize.
func NewKeyer(cacheSize int) *Keyer {
	if cacheSize <= 0 {
		cacheSize = DefaultKeyCacheSize
	}
	return &Keyer{
		cache: containers.NewLRUCache[physExtent, ExtentKey](cacheSize),
	}
}

// Key returns the key for the physical extent at physOffset spanning
// physLength bytes.
func (k *Keyer) Key(physOffset, physLength uint64) ExtentKey {
	return k.cache.GetOrElse(physExtent{Offset: physOffset, Length: physLength}, func() ExtentKey {
		return pair(physOffset, physLength)
	})
}
