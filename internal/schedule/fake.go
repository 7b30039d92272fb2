package schedule

import (
	"sync"
	"time"
)

// Fake is a test double that only fires actions when Advance is called.
// Actions run synchronously on the caller's goroutine, in due-time order.
type Fake struct {
	mu      sync.Mutex
	now     time.Duration // elapsed virtual time
	next    Handle
	entries map[Handle]*fakeEntry

	// Fired counts every action invocation.
	Fired int
}

type fakeEntry struct {
	due    time.Duration
	period time.Duration // 0 = one-shot
	fn     func()
}

// NewFake creates a Fake scheduler at virtual time zero.
func NewFake() *Fake {
	return &Fake{entries: make(map[Handle]*fakeEntry)}
}

// ScheduleOnce records a one-shot action.
func (f *Fake) ScheduleOnce(delay time.Duration, fn func()) Handle {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.next++
	f.entries[f.next] = &fakeEntry{due: f.now + delay, fn: fn}
	return f.next
}

// SchedulePeriodic records a periodic action.
func (f *Fake) SchedulePeriodic(period time.Duration, fn func()) Handle {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.next++
	f.entries[f.next] = &fakeEntry{due: f.now + period, period: period, fn: fn}
	return f.next
}

// Cancel removes the action identified by h.
func (f *Fake) Cancel(h Handle) {
	f.mu.Lock()
	delete(f.entries, h)
	f.mu.Unlock()
}

// Advance moves virtual time forward by d, firing every action that
// becomes due. Actions may schedule or cancel other actions.
func (f *Fake) Advance(d time.Duration) {
	f.mu.Lock()
	target := f.now + d
	for {
		h, e := f.earliest(target)
		if e == nil {
			break
		}
		f.now = e.due
		if e.period > 0 {
			e.due += e.period
		} else {
			delete(f.entries, h)
		}
		f.Fired++
		fn := e.fn
		f.mu.Unlock()
		fn()
		f.mu.Lock()
	}
	f.now = target
	f.mu.Unlock()
}

// earliest returns the due entry with the lowest due time, ties broken
// by handle order. Caller holds f.mu.
func (f *Fake) earliest(limit time.Duration) (Handle, *fakeEntry) {
	var (
		bestH Handle
		best  *fakeEntry
	)
	for h, e := range f.entries {
		if e.due > limit {
			continue
		}
		if best == nil || e.due < best.due || (e.due == best.due && h < bestH) {
			bestH, best = h, e
		}
	}
	return bestH, best
}

// Now returns the elapsed virtual time.
func (f *Fake) Now() time.Duration {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

// Pending returns the number of scheduled actions.
func (f *Fake) Pending() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.entries)
}

// PeriodicCount returns the number of scheduled periodic actions.
func (f *Fake) PeriodicCount() int {
	return f.count(true)
}

// OnceCount returns the number of scheduled one-shot actions.
func (f *Fake) OnceCount() int {
	return f.count(false)
}

func (f *Fake) count(periodic bool) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, e := range f.entries {
		if (e.period > 0) == periodic {
			n++
		}
	}
	return n
}
