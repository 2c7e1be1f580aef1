// Copyright (C) 2022-2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package textui

import (
	"fmt"
	"runtime"
	"sync"
	"time"
)

// LiveMemUse is a fmt.Stringer that reports the Go runtime's current
// memory use; attach it to a context with dlog.WithField so that
// every log line carries it.  Timelines for a large filesystem can
// get big, so it is nice to watch.
type LiveMemUse struct {
	mu    sync.Mutex
	stats runtime.MemStats
	last  time.Time
}

var _ fmt.Stringer = (*LiveMemUse)(nil)

var LiveMemUseUpdateInterval = Tunable(1 * time.Second)

func (o *LiveMemUse) String() string {
	o.mu.Lock()
	defer o.mu.Unlock()

	// runtime.ReadMemStats() stops the world; rate-limit it.
	if now := time.Now(); now.Sub(o.last) > LiveMemUseUpdateInterval {
		runtime.ReadMemStats(&o.stats)
		o.last = now
	}

	// Sys counts both "ready" memory and memory that has been
	// released back to the OS but is still mapped ("prepared").
	prepared := o.stats.HeapReleased
	ready := o.stats.Sys - prepared

	return Sprintf("Ready+Prepared=%.1f (Ready=%.1f (heap:%.1f) ; Prepared=%.1f)",
		IEC(ready+prepared, "B"),
		IEC(ready, "B"),
		IEC(o.stats.HeapAlloc, "B"),
		IEC(prepared, "B"))
}
