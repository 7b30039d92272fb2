// Package store keeps a bounded on-disk history of watchdog events.
// The history is for diagnostics only and is never used to restore state.
package store

import (
	"github.com/rs/zerolog"

	"github.com/sweeney/power-watchdog/internal/watchdog"
)

// DefaultKeep is the number of events retained when none is configured.
const DefaultKeep = 500

// Journal records watchdog events.
type Journal interface {
	Append(e watchdog.Event) error
	// Recent returns up to n events, newest first.
	Recent(n int) ([]watchdog.Event, error)
	Close() error
}

// Nop is a Journal that records nothing.
type Nop struct{}

func (Nop) Append(watchdog.Event) error            { return nil }
func (Nop) Recent(int) ([]watchdog.Event, error) { return []watchdog.Event{}, nil }
func (Nop) Close() error                           { return nil }

// Record appends every event from bus to j, except feeds, which arrive
// every few seconds from a healthy device. Returns an unsubscribe function.
func Record(bus watchdog.Subscriber, j Journal, log zerolog.Logger) func() {
	return bus.Subscribe(func(e watchdog.Event) {
		if e.Type == watchdog.EventFeed {
			return
		}
		if err := j.Append(e); err != nil {
			log.Error().Err(err).Str("event", string(e.Type)).Msg("journal append failed")
		}
	})
}
