// Copyright (C) 2022-2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package textui

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/datawire/dlib/dlog"
)

type Stats interface {
	comparable
	fmt.Stringer
}

// Progress periodically logs the most recent value passed to .Set,
// skipping the log line if nothing changed since the last one.
type Progress[T Stats] struct {
	ctx      context.Context //nolint:containedctx // For logging from the background goroutine
	lvl      dlog.LogLevel
	interval time.Duration

	cancel   context.CancelFunc
	done     chan struct{}
	doneOnce sync.Once

	cur     atomic.Value // Value[T]
	oldStat T
	oldLine string
}

func NewProgress[T Stats](ctx context.Context, lvl dlog.LogLevel, interval time.Duration) *Progress[T] {
	ctx, cancel := context.WithCancel(ctx)
	ret := &Progress[T]{
		ctx:      ctx,
		lvl:      lvl,
		interval: interval,

		cancel: cancel,
		done:   make(chan struct{}),
	}
	return ret
}

// Set updates the current value; the first call starts the
// background logger.
func (p *Progress[T]) Set(val T) {
	if p.cur.Swap(val) == nil {
		go p.run()
	}
}

// Done logs the final value (if it hasn't been logged yet) and stops
// the background logger.  It is safe to call Done without ever
// calling Set.
func (p *Progress[T]) Done() {
	p.cancel()
	if p.cur.Load() == nil {
		p.doneOnce.Do(func() { close(p.done) })
	}
	<-p.done
}

func (p *Progress[T]) flush(force bool) {
	//nolint:forcetypeassert // It wasn't worth it to me (yet?) to make a typed wrapper around atomic.Value.
	cur := p.cur.Load().(T)
	if !force && cur == p.oldStat {
		return
	}
	defer func() { p.oldStat = cur }()

	line := cur.String()
	if !force && line == p.oldLine {
		return
	}
	defer func() { p.oldLine = line }()

	dlog.Log(p.ctx, p.lvl, line)
}

func (p *Progress[T]) run() {
	p.flush(true)
	ticker := time.NewTicker(p.interval)
	for {
		select {
		case <-p.ctx.Done():
			ticker.Stop()
			p.flush(false)
			p.doneOnce.Do(func() { close(p.done) })
			return
		case <-ticker.C:
			p.flush(false)
		}
	}
}
