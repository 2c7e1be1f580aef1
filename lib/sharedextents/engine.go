// Copyright (C) 2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package sharedextents

import (
	"context"
	"fmt"
	"runtime"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"git.lukeshu.com/go/typedsync"
	"github.com/datawire/dlib/dgroup"
	"github.com/datawire/dlib/dlog"
	"golang.org/x/exp/constraints"

	"git.lukeshu.com/btrfs-shared-usage/lib/textui"
)

type EngineConfig struct {
	// KeyCacheSize is the capacity of the ExtentKey memo cache;
	// 0 means DefaultKeyCacheSize.
	KeyCacheSize int
	// Workers is how many goroutines resolve extents in parallel
	// during Analyze; 0 means runtime.GOMAXPROCS(0).
	Workers int
}

type timelineSlot[O constraints.Ordered] struct {
	mu sync.Mutex
	tl Timeline[O]
}

// An Engine collects references to shared physical extents and then,
// once, works out how many bytes are shared and by whom.
//
// Record may be called from many goroutines at once; writers to
// different extents do not contend.  Analyze must not be called
// concurrently with Record.
type Engine[O constraints.Ordered] struct {
	cfg   EngineConfig
	keyer *Keyer

	timelines  typedsync.Map[ExtentKey, *timelineSlot[O]]
	numExtents atomic.Int64
	analyzed   atomic.Bool
}

func NewEngine[O constraints.Ordered](cfg EngineConfig) *Engine[O] {
	return &Engine[O]{
		cfg:   cfg,
		keyer: NewKeyer(cfg.KeyCacheSize),
	}
}

// Record notes that owner references the bytes [start, stop) of the
// physical extent that begins at physOffset and is physLength bytes
// long.
func (e *Engine[O]) Record(physOffset, physLength, start, stop uint64, owner O) error {
	if e.analyzed.Load() {
		return fmt.Errorf("record: %w", ErrResolvedTwice)
	}
	if start >= stop {
		return fmt.Errorf("%w: [%v,%v) in extent %v+%v",
			ErrInvalidRange, start, stop, physOffset, physLength)
	}
	key := e.keyer.Key(physOffset, physLength)
	slot, ok := e.timelines.Load(key)
	if !ok {
		var loaded bool
		slot, loaded = e.timelines.LoadOrStore(key, new(timelineSlot[O]))
		if !loaded {
			e.numExtents.Add(1)
		}
	}
	slot.mu.Lock()
	defer slot.mu.Unlock()
	return slot.tl.Add(start, stop, owner)
}

// Len returns the number of distinct physical extents recorded.
func (e *Engine[O]) Len() int {
	return int(e.numExtents.Load())
}

type analyzeStats struct {
	Extents textui.Portion[int]
}

func (s analyzeStats) String() string {
	return textui.Sprintf("resolved %v extents", s.Extents)
}

// Analyze resolves every recorded extent and returns the totals.  It
// may only be called once per Engine.
func (e *Engine[O]) Analyze(ctx context.Context) (Stats[O], error) {
	return e.AnalyzeFunc(ctx, nil)
}

// AnalyzeFunc is like Analyze, but also passes each extent's resolved
// segments to visit (if non-nil).  Calls to visit are serialized, but
// are not in any particular order.
func (e *Engine[O]) AnalyzeFunc(ctx context.Context, visit func(ExtentKey, Segments[O])) (Stats[O], error) {
	if e.analyzed.Swap(true) {
		return Stats[O]{}, fmt.Errorf("analyze: %w", ErrResolvedTwice)
	}

	var keys []ExtentKey
	e.timelines.Range(func(key ExtentKey, _ *timelineSlot[O]) bool {
		keys = append(keys, key)
		return true
	})
	sort.Slice(keys, func(i, j int) bool {
		return keys[i].Compare(keys[j]) < 0
	})

	numWorkers := e.cfg.Workers
	if numWorkers <= 0 {
		numWorkers = runtime.GOMAXPROCS(0)
	}
	if numWorkers > len(keys) {
		numWorkers = len(keys)
	}
	dlog.Debugf(ctx, "extent key cache holds %v entries", e.keyer.cache.Len())
	dlog.Infof(ctx, "resolving %v extents with %v workers...", len(keys), numWorkers)

	var (
		mu       sync.Mutex
		total    Stats[O]
		progress = analyzeStats{Extents: textui.Portion[int]{D: len(keys)}}
	)
	progressWriter := textui.NewProgress[analyzeStats](ctx, dlog.LogLevelInfo, textui.Tunable(1*time.Second))
	progressWriter.Set(progress)

	grp := dgroup.NewGroup(ctx, dgroup.GroupConfig{})
	for w := 0; w < numWorkers; w++ {
		w := w
		grp.Go(fmt.Sprintf("resolve-%d", w), func(ctx context.Context) error {
			var partial Stats[O]
			for i := w; i < len(keys); i += numWorkers {
				if err := ctx.Err(); err != nil {
					return err
				}
				key := keys[i]
				slot, _ := e.timelines.LoadAndDelete(key)
				slot.mu.Lock()
				segs, err := slot.tl.Resolve()
				slot.mu.Unlock()
				if err != nil {
					return fmt.Errorf("extent %v: %w", key, err)
				}
				segs.Each(partial.add)

				mu.Lock()
				if visit != nil {
					visit(key, segs)
				}
				progress.Extents.N++
				progressWriter.Set(progress)
				mu.Unlock()
			}
			mu.Lock()
			total.Merge(partial)
			mu.Unlock()
			return nil
		})
	}
	err := grp.Wait()
	progressWriter.Done()
	if err != nil {
		return Stats[O]{}, err
	}
	if total.PerOwner == nil {
		total.PerOwner = make(map[O]uint64)
	}
	dlog.Infof(ctx, "... resolved %v extents: %v deduplicated, %v unique",
		len(keys), textui.IEC(total.Deduplicated, "B"), textui.IEC(total.Unique, "B"))
	return total, nil
}
