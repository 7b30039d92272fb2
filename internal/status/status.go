// Package status combines the watchdog snapshot with daemon information
// (configuration, network, MQTT connectivity) for HTTP and MQTT consumers.
package status

import (
	"sync"
	"time"

	"github.com/sweeney/power-watchdog/internal/watchdog"
)

// NetworkInfo contains network state as reported by pi-helper.
type NetworkInfo struct {
	Type       string
	IP         string
	Status     string
	Gateway    string
	WifiStatus string
	SSID       string
}

// Config contains daemon configuration for display.
type Config struct {
	TickMs    int64
	SettleMs  int64
	Pin       int
	ActiveLow bool
	DryRun    bool
	Broker    string // empty = MQTT disabled
	HTTPAddr  string
	Journal   bool
}

// Source provides watchdog snapshots. Satisfied by *watchdog.Controller.
type Source interface {
	Snapshot() watchdog.Snapshot
}

// Snapshot is a point-in-time view of daemon state.
// It is a value type: safe to use after the lock is released.
type Snapshot struct {
	Watchdog      watchdog.Snapshot
	MQTTConnected bool
	Network       *NetworkInfo
	Config        Config
	Now           time.Time
}

// Uptime returns the duration since the controller started.
func (s Snapshot) Uptime() time.Duration {
	return s.Watchdog.Uptime()
}

// Tracker holds daemon state behind an RWMutex and reads watchdog state
// from its source on every Snapshot.
type Tracker struct {
	src Source

	mu            sync.RWMutex
	cfg           Config
	mqttConnected bool
	network       *NetworkInfo
}

// NewTracker creates a Tracker reading from src.
func NewTracker(src Source, cfg Config) *Tracker {
	return &Tracker{src: src, cfg: cfg}
}

// SetMQTTConnected sets the MQTT connection status.
func (t *Tracker) SetMQTTConnected(connected bool) {
	t.mu.Lock()
	t.mqttConnected = connected
	t.mu.Unlock()
}

// SetNetwork sets the network info.
func (t *Tracker) SetNetwork(info *NetworkInfo) {
	t.mu.Lock()
	t.network = info
	t.mu.Unlock()
}

// Snapshot returns a point-in-time copy of the daemon state.
func (t *Tracker) Snapshot() Snapshot {
	wd := t.src.Snapshot()
	t.mu.RLock()
	s := Snapshot{
		Watchdog:      wd,
		MQTTConnected: t.mqttConnected,
		Network:       t.network,
		Config:        t.cfg,
		Now:           wd.Now,
	}
	t.mu.RUnlock()
	return s
}
