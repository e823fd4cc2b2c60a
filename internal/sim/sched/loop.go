// Package sched is a single-threaded cooperative scheduler. A Loop keeps a
// virtual clock that only moves when its owner calls Step, so delayed
// callbacks and per-frame callbacks always run on the owner's goroutine and
// never overlap.
package sched

import (
	"container/heap"
	"time"
)

// Handle cancels a scheduled timer or frame subscription.
// Stop reports whether the call cancelled something that was still pending.
type Handle interface {
	Stop() bool
}

type Loop struct {
	now    time.Duration
	seq    uint64
	timers timerHeap
	frames []*frameSub
}

func NewLoop() *Loop {
	return &Loop{}
}

// Now returns the virtual time elapsed since the loop was created.
func (l *Loop) Now() time.Duration { return l.now }

// AfterFunc registers fn to run once the virtual clock has advanced by d.
func (l *Loop) AfterFunc(d time.Duration, fn func()) Handle {
	if d < 0 {
		d = 0
	}
	l.seq++
	t := &timer{loop: l, at: l.now + d, seq: l.seq, fn: fn, index: -1}
	heap.Push(&l.timers, t)
	return t
}

// OnFrame registers fn to run once per Step with the step's delta.
func (l *Loop) OnFrame(fn func(dt time.Duration)) Handle {
	f := &frameSub{fn: fn}
	l.frames = append(l.frames, f)
	return f
}

// Step advances the clock by dt. Timers due within the step fire first, in
// deadline order (registration order breaks ties), each seeing Now() equal to
// its own deadline. Frame subscribers then run in subscription order.
func (l *Loop) Step(dt time.Duration) {
	if dt < 0 {
		dt = 0
	}
	target := l.now + dt
	for len(l.timers) > 0 && l.timers[0].at <= target {
		t := heap.Pop(&l.timers).(*timer)
		if t.at > l.now {
			l.now = t.at
		}
		t.fired = true
		t.fn()
	}
	l.now = target

	// Subscribers added during this step run from the next step on.
	n := len(l.frames)
	for i := 0; i < n; i++ {
		f := l.frames[i]
		if f.stopped {
			continue
		}
		f.fn(dt)
	}
	l.compactFrames()
}

// Pending returns the number of timers that have not fired or been stopped.
func (l *Loop) Pending() int { return len(l.timers) }

// Subscribers returns the number of active frame subscriptions.
func (l *Loop) Subscribers() int {
	n := 0
	for _, f := range l.frames {
		if !f.stopped {
			n++
		}
	}
	return n
}

func (l *Loop) compactFrames() {
	kept := l.frames[:0]
	for _, f := range l.frames {
		if !f.stopped {
			kept = append(kept, f)
		}
	}
	for i := len(kept); i < len(l.frames); i++ {
		l.frames[i] = nil
	}
	l.frames = kept
}

type timer struct {
	loop  *Loop
	at    time.Duration
	seq   uint64
	fn    func()
	index int
	fired bool
}

func (t *timer) Stop() bool {
	if t.fired || t.index < 0 {
		return false
	}
	heap.Remove(&t.loop.timers, t.index)
	return true
}

type frameSub struct {
	fn      func(dt time.Duration)
	stopped bool
}

func (f *frameSub) Stop() bool {
	if f.stopped {
		return false
	}
	f.stopped = true
	return true
}

type timerHeap []*timer

func (h timerHeap) Len() int { return len(h) }

func (h timerHeap) Less(i, j int) bool {
	if h[i].at != h[j].at {
		return h[i].at < h[j].at
	}
	return h[i].seq < h[j].seq
}

func (h timerHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *timerHeap) Push(x any) {
	t := x.(*timer)
	t.index = len(*h)
	*h = append(*h, t)
}

func (h *timerHeap) Pop() any {
	old := *h
	n := len(old)
	t := old[n-1]
	old[n-1] = nil
	t.index = -1
	*h = old[:n-1]
	return t
}
