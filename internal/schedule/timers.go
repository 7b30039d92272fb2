package schedule

import (
	"sync"
	"time"
)

// Timers is a Scheduler backed by time.AfterFunc and time.Ticker.
// Callbacks run on their own goroutines.
type Timers struct {
	mu     sync.Mutex
	next   Handle
	active map[Handle]func() // handle -> stop
}

// NewTimers creates an empty Timers scheduler.
func NewTimers() *Timers {
	return &Timers{active: make(map[Handle]func())}
}

// ScheduleOnce runs fn once after delay.
func (t *Timers) ScheduleOnce(delay time.Duration, fn func()) Handle {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.next++
	h := t.next
	timer := time.AfterFunc(delay, func() {
		t.mu.Lock()
		_, live := t.active[h]
		delete(t.active, h)
		t.mu.Unlock()
		if live {
			fn()
		}
	})
	t.active[h] = func() { timer.Stop() }
	return h
}

// SchedulePeriodic runs fn every period until cancelled.
func (t *Timers) SchedulePeriodic(period time.Duration, fn func()) Handle {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.next++
	h := t.next
	ticker := time.NewTicker(period)
	done := make(chan struct{})
	go func() {
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				// A tick racing with Cancel may still be delivered;
				// re-check under the lock before running.
				t.mu.Lock()
				_, live := t.active[h]
				t.mu.Unlock()
				if !live {
					return
				}
				fn()
			}
		}
	}()
	t.active[h] = func() {
		ticker.Stop()
		close(done)
	}
	return h
}

// Cancel stops the action identified by h.
func (t *Timers) Cancel(h Handle) {
	t.mu.Lock()
	stop, ok := t.active[h]
	delete(t.active, h)
	t.mu.Unlock()
	if ok {
		stop()
	}
}

// Len returns the number of live scheduled actions.
func (t *Timers) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.active)
}

// Close cancels every scheduled action.
func (t *Timers) Close() {
	t.mu.Lock()
	stops := make([]func(), 0, len(t.active))
	for h, stop := range t.active {
		stops = append(stops, stop)
		delete(t.active, h)
	}
	t.mu.Unlock()
	for _, stop := range stops {
		stop()
	}
}
