// Package watchdog contains the countdown and power-cycle state machine.
// It has no direct dependency on GPIO, timers, or the network: the power
// output, scheduler and clock are injected.
package watchdog

import "time"

// Mode selects who governs the power output.
type Mode string

const (
	// ModeAuto lets the countdown govern the output.
	ModeAuto Mode = "AUTO"
	// ModeManualOn pins the output energized with the countdown suspended.
	ModeManualOn Mode = "MANUAL_ON"
	// ModeManualOff pins the output de-energized with the countdown suspended.
	ModeManualOff Mode = "MANUAL_OFF"
)

// Defaults.
const (
	DefaultTTL            = 300
	DefaultTickPeriod     = time.Second
	DefaultSettleInterval = 10 * time.Second
)

// EventType names a controller state change.
type EventType string

const (
	EventModeAuto         EventType = "MODE_AUTO"
	EventModeOn           EventType = "MODE_ON"
	EventModeOff          EventType = "MODE_OFF"
	EventRebootStart      EventType = "REBOOT_START"
	EventRebootDone       EventType = "REBOOT_DONE"
	EventRebootSuperseded EventType = "REBOOT_SUPERSEDED"
	EventExpired          EventType = "EXPIRED"
	EventTTLSet           EventType = "TTL_SET"
	EventFeed             EventType = "FEED"
)

// Event describes a state change, with the state as it was right after it.
type Event struct {
	Seq        uint64    `json:"seq"` // increases by one per event from a controller
	Time       time.Time `json:"time"`
	Type       EventType `json:"type"`
	Mode       Mode      `json:"mode"`
	Counter    int       `json:"counter"`
	TTL        int       `json:"ttl"`
	ResetCount uint64    `json:"resets"`
	Energized  bool      `json:"mosfet_on"`
}

// Snapshot is a point-in-time view of the controller.
// It is a value type: safe to use after the lock is released.
type Snapshot struct {
	Mode           Mode
	Counter        int
	TTL            int
	Energized      bool
	ResetCount     uint64
	PendingReboot  bool
	HardwareFaults uint64
	BootTime       time.Time
	Now            time.Time
}

// Running reports whether the countdown governs the output.
func (s Snapshot) Running() bool {
	return s.Mode == ModeAuto
}

// Uptime returns the duration since the controller was created.
func (s Snapshot) Uptime() time.Duration {
	return s.Now.Sub(s.BootTime)
}
