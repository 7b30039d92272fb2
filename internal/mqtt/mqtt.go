// Package mqtt publishes watchdog events over MQTT and accepts feeds,
// with abstraction for testing.
package mqtt

import (
	"encoding/json"
	"time"

	"github.com/rs/zerolog"

	"github.com/sweeney/power-watchdog/internal/watchdog"
)

// Topic suffixes, appended to the configured prefix.
const (
	TopicEvents = "events"
	TopicSystem = "system"
	TopicFeed   = "feed"
)

// Publisher publishes events to MQTT.
type Publisher interface {
	// Publish sends a watchdog event to the broker.
	// Returns error if publishing fails (should not crash the process).
	Publish(event watchdog.Event) error

	// PublishSystem sends a system lifecycle event to the broker.
	PublishSystem(event SystemEvent) error

	// Close disconnects from the broker.
	Close() error
}

// ConnectionStatus reports whether the MQTT connection is active.
type ConnectionStatus interface {
	IsConnected() bool
}

// SystemEvent represents a system lifecycle event (e.g., startup, shutdown, heartbeat).
type SystemEvent struct {
	Timestamp  time.Time
	Event      string // e.g., "STARTUP", "SHUTDOWN", "HEARTBEAT"
	Reason     string // e.g., "SIGTERM", "SIGINT" (shutdown only)
	RawPayload []byte // Pre-formatted JSON payload; if set, FormatSystemPayload returns it directly
	Retained   bool   // Whether the message should be retained by the broker
}

// Payload represents the MQTT message payload for a watchdog event.
type Payload struct {
	Watchdog WatchdogPayload `json:"watchdog"`
}

// WatchdogPayload contains the event details.
type WatchdogPayload struct {
	Timestamp string `json:"timestamp"`
	Event     string `json:"event"`
	Mode      string `json:"mode"`
	Counter   int    `json:"counter"`
	TTL       int    `json:"ttl"`
	Resets    uint64 `json:"resets"`
	MosfetOn  bool   `json:"mosfet_on"`
}

// FormatPayload creates the JSON payload for a watchdog event.
func FormatPayload(event watchdog.Event) ([]byte, error) {
	payload := Payload{
		Watchdog: WatchdogPayload{
			Timestamp: event.Time.UTC().Format(time.RFC3339),
			Event:     string(event.Type),
			Mode:      string(event.Mode),
			Counter:   event.Counter,
			TTL:       event.TTL,
			Resets:    event.ResetCount,
			MosfetOn:  event.Energized,
		},
	}
	return json.Marshal(payload)
}

// SystemPayload represents the MQTT message payload for system events.
// Used for simple events (LWT) that don't carry a full status snapshot.
type SystemPayload struct {
	System SystemPayloadInner `json:"system"`
}

// SystemPayloadInner contains the system event details.
type SystemPayloadInner struct {
	Timestamp string `json:"timestamp,omitempty"`
	Event     string `json:"event"`
	Reason    string `json:"reason,omitempty"`
}

// FormatSystemPayload creates the JSON payload for a system event.
// If event.RawPayload is set, it is returned directly (used for full status snapshots).
func FormatSystemPayload(event SystemEvent) ([]byte, error) {
	if event.RawPayload != nil {
		return event.RawPayload, nil
	}

	inner := SystemPayloadInner{
		Event:  event.Event,
		Reason: event.Reason,
	}
	if !event.Timestamp.IsZero() {
		inner.Timestamp = event.Timestamp.UTC().Format(time.RFC3339)
	}
	return json.Marshal(SystemPayload{System: inner})
}

// WillPayload is the last-will message the broker publishes on our behalf
// if the connection drops uncleanly.
func WillPayload() []byte {
	data, _ := FormatSystemPayload(SystemEvent{Event: "OFFLINE", Reason: "connection lost"})
	return data
}

// Publishable reports whether an event type is sent to the broker.
// Feeds arrive every few seconds from a healthy device and are not published.
func Publishable(t watchdog.EventType) bool {
	return t != watchdog.EventFeed
}

// Forward subscribes p to the controller's events. Publish failures are
// logged and dropped. Returns an unsubscribe function.
func Forward(bus watchdog.Subscriber, p Publisher, log zerolog.Logger) func() {
	return bus.Subscribe(func(e watchdog.Event) {
		if !Publishable(e.Type) {
			return
		}
		if err := p.Publish(e); err != nil {
			log.Error().Err(err).Str("event", string(e.Type)).Msg("publish error")
		}
	})
}
