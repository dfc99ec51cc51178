package router

import (
	"time"

	"github.com/google/btree"
)

// TimerWheel is the router engine's ordered set of pending deadlines
// (spec §4.H "the timer wheel (absolute deadlines, O(log n) heap)").
// It is not goroutine-safe: like every other structure in §3, it is
// touched only from the single cooperative loop (spec §5).
type TimerWheel struct {
	tree *btree.BTreeG[timerEntry]
	seq  uint64
}

type timerEntry struct {
	deadline time.Time
	seq      uint64
	fn       func(now time.Time)
}

func timerLess(a, b timerEntry) bool {
	if !a.deadline.Equal(b.deadline) {
		return a.deadline.Before(b.deadline)
	}
	return a.seq < b.seq
}

// NewTimerWheel creates an empty wheel.
func NewTimerWheel() *TimerWheel {
	return &TimerWheel{tree: btree.NewG(32, timerLess)}
}

// TimerHandle identifies a scheduled callback for later cancellation.
type TimerHandle struct {
	deadline time.Time
	seq      uint64
}

// Schedule arms fn to run at deadline and returns a handle to cancel it.
func (w *TimerWheel) Schedule(deadline time.Time, fn func(now time.Time)) TimerHandle {
	w.seq++
	e := timerEntry{deadline: deadline, seq: w.seq, fn: fn}
	w.tree.ReplaceOrInsert(e)
	return TimerHandle{deadline: deadline, seq: e.seq}
}

// Cancel removes a previously scheduled timer. Cancelling a timer that
// has already fired is a no-op (spec §5 "Cancellation").
func (w *TimerWheel) Cancel(h TimerHandle) {
	w.tree.Delete(timerEntry{deadline: h.deadline, seq: h.seq})
}

// Next reports the deadline of the earliest pending timer, if any — used
// by the event loop to bound its next blocking wait.
func (w *TimerWheel) Next() (time.Time, bool) {
	var out timerEntry
	found := false
	w.tree.Ascend(func(e timerEntry) bool {
		out = e
		found = true
		return false
	})
	return out.deadline, found
}

// FireReady runs and removes every timer whose deadline is <= now, in
// deadline order. Each callback is run to completion before the next one
// starts (spec §5 "Each step runs to completion before the loop picks
// the next event").
func (w *TimerWheel) FireReady(now time.Time) {
	for {
		min, ok := w.tree.Min()
		if !ok || min.deadline.After(now) {
			return
		}
		w.tree.DeleteMin()
		min.fn(now)
	}
}

// Len reports the number of pending timers.
func (w *TimerWheel) Len() int {
	return w.tree.Len()
}
