package watchdog

import (
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/sweeney/power-watchdog/internal/gpio"
	"github.com/sweeney/power-watchdog/internal/schedule"
)

// Config holds controller timing.
type Config struct {
	TTL            int           // seconds; <= 0 means DefaultTTL
	TickPeriod     time.Duration // <= 0 means DefaultTickPeriod
	SettleInterval time.Duration // <= 0 means DefaultSettleInterval
}

// Option configures a Controller.
type Option func(*Controller)

// WithClock replaces time.Now. Used for uptime and event timestamps.
func WithClock(now func() time.Time) Option {
	return func(c *Controller) {
		c.now = now
	}
}

// Controller owns the watchdog state and is the only writer of the
// power output. All operations, including scheduler callbacks, are
// serialized by mu.
//
// Events are delivered under emitMu, which is taken before mu is
// released, so subscribers see them in the order the state changed.
//
// Scheduler callbacks carry the generation they were scheduled under;
// a callback whose generation is stale is ignored. This suppresses a
// tick or re-energize that was already in flight when it was cancelled.
type Controller struct {
	mu     sync.Mutex
	emitMu sync.Mutex
	out    gpio.Output
	sched  schedule.Scheduler
	events *EventBus
	log    zerolog.Logger
	now    func() time.Time

	tickPeriod time.Duration
	settle     time.Duration

	mode     Mode
	ttl      int
	counter  int
	resets   uint64
	faults   uint64
	seq      uint64
	bootTime time.Time

	tick    schedule.Handle
	tickGen uint64

	pendingReboot bool
	reboot        schedule.Handle
	rebootGen     uint64
}

// New creates a controller in AUTO mode with a full countdown. Nothing is
// scheduled and the output is not touched until Start.
func New(out gpio.Output, sched schedule.Scheduler, cfg Config, log zerolog.Logger, opts ...Option) *Controller {
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}
	if cfg.TickPeriod <= 0 {
		cfg.TickPeriod = DefaultTickPeriod
	}
	if cfg.SettleInterval <= 0 {
		cfg.SettleInterval = DefaultSettleInterval
	}

	c := &Controller{
		out:        out,
		sched:      sched,
		log:        log,
		now:        time.Now,
		tickPeriod: cfg.TickPeriod,
		settle:     cfg.SettleInterval,
		mode:       ModeAuto,
		ttl:        cfg.TTL,
		counter:    cfg.TTL,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.events = NewEventBus(log)
	c.bootTime = c.now()
	return c
}

// Events returns the bus on which state changes are published.
// Handlers run synchronously, one event at a time, and must not call
// back into the Controller. Slow consumers belong behind a Relay.
func (c *Controller) Events() *EventBus {
	return c.events
}

// Start energizes the output and arms the countdown.
func (c *Controller) Start() {
	c.mu.Lock()
	c.drive(true)
	c.mu.Unlock()
	c.ArmAuto()
}

// Stop cancels every scheduled action. A reboot still in its settle
// window is completed immediately so the device is not left unpowered.
func (c *Controller) Stop() {
	c.mu.Lock()
	c.stopTick()
	if c.cancelReboot() {
		c.log.Warn().Msg("stopping during reboot, re-energizing early")
		c.drive(true)
	}
	c.mu.Unlock()
}

// Feed restarts the countdown. It is valid in every mode: in a manual
// mode it primes the counter for when AUTO resumes.
func (c *Controller) Feed() int {
	c.mu.Lock()
	c.counter = c.ttl
	ev := c.event(EventFeed)
	c.log.Debug().Int("counter", ev.Counter).Msg("fed")
	c.publish(ev)
	return ev.Counter
}

// SetTTL changes the countdown length, clamping the current counter to it.
// A non-positive ttl is rejected with a *ValidationError and nothing
// changes. The effective ttl is returned in both cases.
func (c *Controller) SetTTL(ttl int) (int, error) {
	c.mu.Lock()
	if ttl <= 0 {
		cur := c.ttl
		c.mu.Unlock()
		return cur, &ValidationError{Input: strconv.Itoa(ttl), Reason: "must be positive"}
	}
	c.ttl = ttl
	if c.counter > ttl {
		c.counter = ttl
	}
	ev := c.event(EventTTLSet)
	c.log.Info().Int("ttl", ttl).Int("counter", ev.Counter).Msg("ttl set")
	c.publish(ev)
	return ttl, nil
}

// ArmAuto (re)starts the countdown from a full ttl and hands the output
// to it. Re-arming while already in AUTO still restarts the countdown.
// A reboot in progress is left to finish.
func (c *Controller) ArmAuto() {
	c.mu.Lock()
	c.stopTick()
	c.counter = c.ttl
	c.mode = ModeAuto
	c.startTick()
	ev := c.event(EventModeAuto)
	c.log.Info().Int("ttl", ev.TTL).Msg("watchdog armed")
	c.publish(ev)
}

// ForceOn pins the output energized, suspending the countdown and
// superseding any reboot in progress.
func (c *Controller) ForceOn() {
	c.force(ModeManualOn, true, EventModeOn)
}

// ForceOff pins the output de-energized, suspending the countdown and
// superseding any reboot in progress.
func (c *Controller) ForceOff() {
	c.force(ModeManualOff, false, EventModeOff)
}

func (c *Controller) force(mode Mode, on bool, typ EventType) {
	var evs []Event

	c.mu.Lock()
	c.stopTick()
	superseded := c.cancelReboot()
	c.mode = mode
	c.drive(on)
	if superseded {
		evs = append(evs, c.event(EventRebootSuperseded))
	}
	evs = append(evs, c.event(typ))

	if superseded {
		c.log.Warn().Str("mode", string(mode)).Msg("reboot superseded by manual override")
	}
	c.log.Info().Str("mode", string(mode)).Msg("manual override")
	c.publish(evs...)
}

// TriggerReboot power-cycles the device: the output is de-energized now
// and re-energized after the settle interval. The mode is unchanged.
// A trigger while a reboot is already in progress is coalesced into it:
// started is false and the reset count is not incremented.
func (c *Controller) TriggerReboot() (resets uint64, started bool) {
	c.mu.Lock()
	ev, started := c.triggerReboot()
	resets = c.resets
	if !started {
		c.mu.Unlock()
		return resets, false
	}
	c.publish(ev)
	return resets, true
}

// onTick advances the countdown by one step.
func (c *Controller) onTick(gen uint64) {
	c.mu.Lock()
	if gen != c.tickGen || c.mode != ModeAuto {
		c.mu.Unlock()
		return
	}

	c.counter--
	if c.counter > 0 {
		c.mu.Unlock()
		return
	}

	c.counter = 0
	evs := []Event{c.event(EventExpired)}
	c.counter = c.ttl
	ev, started := c.triggerReboot()
	if started {
		evs = append(evs, ev)
	}

	c.log.Warn().Bool("coalesced", !started).Msg("countdown expired")
	c.publish(evs...)
}

// finishReboot is the delayed second phase of a reboot.
func (c *Controller) finishReboot(gen uint64) {
	c.mu.Lock()
	if gen != c.rebootGen || !c.pendingReboot {
		c.mu.Unlock()
		return
	}
	c.pendingReboot = false
	c.reboot = 0
	c.drive(true)
	ev := c.event(EventRebootDone)
	c.log.Info().Uint64("resets", ev.ResetCount).Msg("reboot complete")
	c.publish(ev)
}

// Snapshot returns a consistent view of the controller state.
// The energized flag is read from the output itself.
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Snapshot{
		Mode:           c.mode,
		Counter:        c.counter,
		TTL:            c.ttl,
		Energized:      c.out.Energized(),
		ResetCount:     c.resets,
		PendingReboot:  c.pendingReboot,
		HardwareFaults: c.faults,
		BootTime:       c.bootTime,
		Now:            c.now(),
	}
}

// The helpers below require c.mu to be held.

func (c *Controller) triggerReboot() (Event, bool) {
	if c.pendingReboot {
		c.log.Debug().Msg("reboot already in progress, coalescing")
		return Event{}, false
	}
	c.resets++
	c.pendingReboot = true
	c.drive(false)

	c.rebootGen++
	gen := c.rebootGen
	c.reboot = c.sched.ScheduleOnce(c.settle, func() { c.finishReboot(gen) })

	c.log.Warn().Uint64("resets", c.resets).Dur("settle", c.settle).Msg("power-cycling device")
	return c.event(EventRebootStart), true
}

// cancelReboot abandons a reboot in progress, reporting whether there was one.
func (c *Controller) cancelReboot() bool {
	if !c.pendingReboot {
		return false
	}
	c.sched.Cancel(c.reboot)
	c.reboot = 0
	c.rebootGen++
	c.pendingReboot = false
	return true
}

func (c *Controller) startTick() {
	c.tickGen++
	gen := c.tickGen
	c.tick = c.sched.SchedulePeriodic(c.tickPeriod, func() { c.onTick(gen) })
}

func (c *Controller) stopTick() {
	if c.tick != 0 {
		c.sched.Cancel(c.tick)
		c.tick = 0
	}
	c.tickGen++
}

// drive sets the output. Failures are logged and counted, never retried.
func (c *Controller) drive(on bool) {
	var err error
	if on {
		err = c.out.Energize()
	} else {
		err = c.out.DeEnergize()
	}
	if err != nil {
		c.faults++
		c.log.Error().Err(err).Bool("energize", on).Msg("hardware fault driving output")
	}
}

func (c *Controller) event(typ EventType) Event {
	c.seq++
	return Event{
		Seq:        c.seq,
		Time:       c.now(),
		Type:       typ,
		Mode:       c.mode,
		Counter:    c.counter,
		TTL:        c.ttl,
		ResetCount: c.resets,
		Energized:  c.out.Energized(),
	}
}

// publish releases c.mu and delivers evs. emitMu is acquired first so a
// later state change cannot overtake these events.
func (c *Controller) publish(evs ...Event) {
	c.emitMu.Lock()
	defer c.emitMu.Unlock()
	c.mu.Unlock()
	for _, ev := range evs {
		c.events.Emit(ev)
	}
}
