// Copyright (C) 2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package sharedextents_test

import (
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/datawire/dlib/dlog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"git.lukeshu.com/btrfs-shared-usage/lib/sharedextents"
)

type ref struct {
	PhysOffset, PhysLength uint64
	Start, Stop            uint64
	Owner                  string
}

func analyze(t *testing.T, refs ...ref) sharedextents.Stats[string] {
	t.Helper()
	ctx := dlog.NewTestContext(t, false)
	engine := sharedextents.NewEngine[string](sharedextents.EngineConfig{})
	for _, r := range refs {
		require.NoError(t, engine.Record(r.PhysOffset, r.PhysLength, r.Start, r.Stop, r.Owner))
	}
	stats, err := engine.Analyze(ctx)
	require.NoError(t, err)
	return stats
}

func TestEngineSingleObservation(t *testing.T) {
	t.Parallel()
	stats := analyze(t, ref{1000, 4096, 0, 4096, "A"})
	assert.Equal(t, uint64(4096), stats.Deduplicated)
	assert.Equal(t, uint64(4096), stats.Unique)
	assert.Equal(t, map[string]uint64{"A": 4096}, stats.PerOwner)
}

func TestEngineFullOverlap(t *testing.T) {
	t.Parallel()
	stats := analyze(t,
		ref{1000, 4096, 0, 4096, "A"},
		ref{1000, 4096, 0, 4096, "B"})
	assert.Equal(t, uint64(4096), stats.Deduplicated)
	assert.Equal(t, uint64(0), stats.Unique)
	assert.Equal(t, map[string]uint64{"A": 4096, "B": 4096}, stats.PerOwner)
}

func TestEnginePartialOverlap(t *testing.T) {
	t.Parallel()
	stats := analyze(t,
		ref{1 << 20, 4096, 0, 100, "A"},
		ref{1 << 20, 4096, 50, 150, "B"})
	assert.Equal(t, uint64(150), stats.Deduplicated)
	assert.Equal(t, uint64(100), stats.Unique)
	assert.Equal(t, map[string]uint64{"A": 100, "B": 100}, stats.PerOwner)
}

func TestEngineDistinctExtents(t *testing.T) {
	t.Parallel()
	// Same subrange of different physical extents (including
	// swapped offset/length) must not be merged.
	stats := analyze(t,
		ref{1000, 4096, 0, 1000, "A"},
		ref{4096, 1000, 0, 1000, "B"},
		ref{1000, 8192, 0, 1000, "C"})
	assert.Equal(t, uint64(3000), stats.Deduplicated)
	assert.Equal(t, uint64(3000), stats.Unique)
	assert.Equal(t, map[string]uint64{"A": 1000, "B": 1000, "C": 1000}, stats.PerOwner)
}

func TestEngineEmpty(t *testing.T) {
	t.Parallel()
	stats := analyze(t)
	assert.Zero(t, stats.Deduplicated)
	assert.Zero(t, stats.Unique)
	assert.NotNil(t, stats.PerOwner)
	assert.Empty(t, stats.PerOwner)
}

func TestEngineErrors(t *testing.T) {
	t.Parallel()
	ctx := dlog.NewTestContext(t, false)
	engine := sharedextents.NewEngine[string](sharedextents.EngineConfig{Workers: 2})

	err := engine.Record(1000, 4096, 10, 10, "A")
	assert.True(t, errors.Is(err, sharedextents.ErrInvalidRange), err)
	assert.Equal(t, 0, engine.Len())

	require.NoError(t, engine.Record(1000, 4096, 0, 10, "A"))
	assert.Equal(t, 1, engine.Len())

	_, err = engine.Analyze(ctx)
	require.NoError(t, err)

	_, err = engine.Analyze(ctx)
	assert.True(t, errors.Is(err, sharedextents.ErrResolvedTwice), err)

	err = engine.Record(1000, 4096, 0, 10, "B")
	assert.True(t, errors.Is(err, sharedextents.ErrResolvedTwice), err)
}

func TestEngineAnalyzeFunc(t *testing.T) {
	t.Parallel()
	ctx := dlog.NewTestContext(t, false)
	engine := sharedextents.NewEngine[string](sharedextents.EngineConfig{Workers: 3})
	for i := uint64(0); i < 10; i++ {
		require.NoError(t, engine.Record(i*4096, 4096, 0, 4096, "A"))
		require.NoError(t, engine.Record(i*4096, 4096, 1024, 2048, "B"))
	}
	keyer := sharedextents.NewKeyer(0)

	visited := make(map[sharedextents.ExtentKey]sharedextents.Segments[string])
	stats, err := engine.AnalyzeFunc(ctx, func(key sharedextents.ExtentKey, segs sharedextents.Segments[string]) {
		visited[key] = segs
	})
	require.NoError(t, err)
	assert.Len(t, visited, 10)
	for i := uint64(0); i < 10; i++ {
		assert.Equal(t,
			sharedextents.Segments[string]{
				{Pos: 0, Owners: []string{"A"}},
				{Pos: 1024, Owners: []string{"A", "B"}},
				{Pos: 2048, Owners: []string{"A"}},
				{Pos: 4096, Owners: nil},
			},
			visited[keyer.Key(i*4096, 4096)])
	}
	assert.Equal(t, uint64(10*4096), stats.Deduplicated)
	assert.Equal(t, uint64(10*3072), stats.Unique)
	assert.Equal(t, map[string]uint64{"A": 10 * 4096, "B": 10 * 1024}, stats.PerOwner)
}

func TestEngineConcurrentRecord(t *testing.T) {
	t.Parallel()
	const (
		numWriters = 8
		numExtents = 50
	)
	var refs []ref
	for w := 0; w < numWriters; w++ {
		for e := uint64(0); e < numExtents; e++ {
			refs = append(refs, ref{
				PhysOffset: e * 1 << 20,
				PhysLength: 1 << 20,
				Start:      uint64(w) * 4096,
				Stop:       uint64(w)*4096 + 8192,
				Owner:      fmt.Sprintf("file-%d", w),
			})
		}
	}
	serial := analyze(t, refs...)

	ctx := dlog.NewTestContext(t, false)
	engine := sharedextents.NewEngine[string](sharedextents.EngineConfig{KeyCacheSize: 16})
	var wg sync.WaitGroup
	errs := make([]error, numWriters)
	for w := 0; w < numWriters; w++ {
		w := w
		wg.Add(1)
		go func() {
			defer wg.Done()
			for _, r := range refs[w*numExtents : (w+1)*numExtents] {
				if err := engine.Record(r.PhysOffset, r.PhysLength, r.Start, r.Stop, r.Owner); err != nil {
					errs[w] = err
					return
				}
			}
		}()
	}
	wg.Wait()
	for _, err := range errs {
		require.NoError(t, err)
	}
	assert.Equal(t, numExtents, engine.Len())
	parallel, err := engine.Analyze(ctx)
	require.NoError(t, err)
	assert.Equal(t, serial, parallel)

	// 8 overlapping 8KiB windows stepping by 4KiB cover 9×4KiB;
	// the first and last 4KiB have a single owner.
	assert.Equal(t, uint64(numExtents*9*4096), parallel.Deduplicated)
	assert.Equal(t, uint64(numExtents*2*4096), parallel.Unique)
}
