// Package schedule provides one-shot and periodic delayed callbacks.
// The real implementation uses runtime timers.
// The fake implementation advances a manual clock for tests.
package schedule

import "time"

// Handle identifies a scheduled action. The zero Handle is never issued,
// so it can be used as "nothing scheduled".
type Handle uint64

// Scheduler runs actions after a delay or on a fixed period.
type Scheduler interface {
	// ScheduleOnce runs fn once after delay.
	ScheduleOnce(delay time.Duration, fn func()) Handle

	// SchedulePeriodic runs fn every period until cancelled.
	// The first run happens one period from now.
	SchedulePeriodic(period time.Duration, fn func()) Handle

	// Cancel stops a scheduled action. Unknown or already-fired
	// handles are ignored. An action already running when Cancel is
	// called is not interrupted; callers that need stronger guarantees
	// must check their own state inside fn.
	Cancel(h Handle)
}
