package router

import (
	"testing"
	"time"
)

func TestFireReadyRunsInDeadlineOrder(t *testing.T) {
	w := NewTimerWheel()
	base := time.Now()
	var order []string

	w.Schedule(base.Add(3*time.Second), func(time.Time) { order = append(order, "third") })
	w.Schedule(base.Add(1*time.Second), func(time.Time) { order = append(order, "first") })
	w.Schedule(base.Add(2*time.Second), func(time.Time) { order = append(order, "second") })

	w.FireReady(base.Add(5 * time.Second))
	if len(order) != 3 || order[0] != "first" || order[1] != "second" || order[2] != "third" {
		t.Fatalf("order = %v, want [first second third]", order)
	}
}

func TestFireReadyLeavesFutureTimersPending(t *testing.T) {
	w := NewTimerWheel()
	base := time.Now()
	fired := false
	w.Schedule(base.Add(10*time.Second), func(time.Time) { fired = true })

	w.FireReady(base.Add(1 * time.Second))
	if fired {
		t.Fatal("timer fired before its deadline")
	}
	if w.Len() != 1 {
		t.Fatalf("Len() = %d, want 1", w.Len())
	}
}

func TestCancelPreventsFiring(t *testing.T) {
	w := NewTimerWheel()
	base := time.Now()
	fired := false
	h := w.Schedule(base.Add(1*time.Second), func(time.Time) { fired = true })
	w.Cancel(h)

	w.FireReady(base.Add(2 * time.Second))
	if fired {
		t.Fatal("cancelled timer fired anyway")
	}
}

func TestNextReportsEarliestDeadline(t *testing.T) {
	w := NewTimerWheel()
	base := time.Now()
	w.Schedule(base.Add(5*time.Second), func(time.Time) {})
	w.Schedule(base.Add(1*time.Second), func(time.Time) {})

	next, ok := w.Next()
	if !ok {
		t.Fatal("expected a pending timer")
	}
	if !next.Equal(base.Add(1 * time.Second)) {
		t.Fatalf("Next() = %v, want %v", next, base.Add(1*time.Second))
	}
}
