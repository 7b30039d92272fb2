package internal

import (
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sweeney/power-watchdog/internal/gpio"
	"github.com/sweeney/power-watchdog/internal/mqtt"
	"github.com/sweeney/power-watchdog/internal/schedule"
	"github.com/sweeney/power-watchdog/internal/store"
	"github.com/sweeney/power-watchdog/internal/watchdog"
)

type rig struct {
	ctl     *watchdog.Controller
	out     *gpio.FakeOutput
	sched   *schedule.Fake
	pub     *mqtt.FakePublisher
	journal *store.BoltJournal
}

var rigStart = time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

func newRig(t *testing.T, ttl int) *rig {
	t.Helper()
	r := &rig{
		out:   gpio.NewFakeOutput(false),
		sched: schedule.NewFake(),
		pub:   mqtt.NewFakePublisher(),
	}
	j, err := store.NewBoltJournal(filepath.Join(t.TempDir(), "journal.db"), 50)
	require.NoError(t, err)
	t.Cleanup(func() { j.Close() })
	r.journal = j

	clock := func() time.Time { return rigStart.Add(r.sched.Now()) }
	r.ctl = watchdog.New(r.out, r.sched, watchdog.Config{TTL: ttl}, zerolog.Nop(), watchdog.WithClock(clock))
	mqtt.Forward(r.ctl.Events(), r.pub, zerolog.Nop())
	store.Record(r.ctl.Events(), j, zerolog.Nop())
	require.NoError(t, r.pub.SubscribeFeed(func() { r.ctl.Feed() }))
	r.ctl.Start()
	return r
}

func (r *rig) journalTypes(t *testing.T) []watchdog.EventType {
	t.Helper()
	events, err := r.journal.Recent(100)
	require.NoError(t, err)
	out := make([]watchdog.EventType, len(events))
	for i, e := range events {
		// Oldest first for readability.
		out[len(events)-1-i] = e.Type
	}
	return out
}

// TestIntegrationExpiryFlow runs a device that stops feeding through a full
// power cycle and checks what reaches the broker and the journal.
func TestIntegrationExpiryFlow(t *testing.T) {
	r := newRig(t, 5)

	// Device feeds over MQTT for a while.
	for i := 0; i < 4; i++ {
		r.sched.Advance(3 * time.Second)
		r.pub.Feed()
	}
	assert.Equal(t, 5, r.ctl.Snapshot().Counter)
	assert.Equal(t, uint64(0), r.ctl.Snapshot().ResetCount)

	// Then goes silent.
	r.sched.Advance(5 * time.Second)
	snap := r.ctl.Snapshot()
	assert.Equal(t, uint64(1), snap.ResetCount)
	assert.True(t, snap.PendingReboot)
	assert.False(t, r.out.Energized())

	r.sched.Advance(watchdog.DefaultSettleInterval)
	snap = r.ctl.Snapshot()
	assert.False(t, snap.PendingReboot)
	assert.True(t, r.out.Energized())
	assert.Equal(t, uint64(1), snap.ResetCount, "expiries inside the settle window are coalesced")

	want := []watchdog.EventType{
		watchdog.EventModeAuto,
		watchdog.EventExpired,
		watchdog.EventRebootStart,
		watchdog.EventExpired,
		watchdog.EventExpired,
		watchdog.EventRebootDone,
	}
	assert.Equal(t, want, r.pub.EventTypes(), "feeds are not published")
	assert.Equal(t, want, r.journalTypes(t))
	assert.Equal(t, []bool{true, false, true}, r.out.Transitions())
}

// TestIntegrationManualOverrideDuringReboot checks that forcing the output
// on supersedes the pending re-energize and that nothing fires afterwards.
func TestIntegrationManualOverrideDuringReboot(t *testing.T) {
	r := newRig(t, 300)

	r.ctl.TriggerReboot()
	r.sched.Advance(2 * time.Second)
	r.ctl.ForceOn()
	assert.True(t, r.out.Energized())
	assert.Equal(t, 0, r.sched.Pending())

	r.sched.Advance(time.Hour)
	assert.Equal(t, []bool{true, false, true}, r.out.Transitions())
	assert.Equal(t, []watchdog.EventType{
		watchdog.EventModeAuto,
		watchdog.EventRebootStart,
		watchdog.EventRebootSuperseded,
		watchdog.EventModeOn,
	}, r.pub.EventTypes())
}

// TestIntegrationFeedInManualPrimesCounter verifies feeds keep arriving in
// manual mode and AUTO resumes from a full countdown.
func TestIntegrationFeedInManualPrimesCounter(t *testing.T) {
	r := newRig(t, 10)

	r.ctl.ForceOff()
	r.sched.Advance(time.Minute)
	r.pub.Feed()
	assert.Equal(t, 10, r.ctl.Snapshot().Counter)
	assert.Equal(t, uint64(0), r.ctl.Snapshot().ResetCount)

	r.ctl.ArmAuto()
	r.sched.Advance(9 * time.Second)
	assert.Equal(t, 1, r.ctl.Snapshot().Counter)
	assert.False(t, r.out.Energized(), "arming does not touch the output")
}

// TestIntegrationPublishFailureDoesNotCrash verifies the watchdog keeps
// running when the broker rejects every publish.
func TestIntegrationPublishFailureDoesNotCrash(t *testing.T) {
	r := newRig(t, 2)
	r.pub.PublishError = errors.New("broker down")

	r.sched.Advance(2 * time.Second)
	assert.Equal(t, uint64(1), r.ctl.Snapshot().ResetCount)
	assert.Contains(t, r.journalTypes(t), watchdog.EventRebootStart)
}

// TestIntegrationPayloadFormat checks the broker payload of a reboot.
func TestIntegrationPayloadFormat(t *testing.T) {
	r := newRig(t, 300)
	r.sched.Advance(7 * time.Second)
	r.ctl.TriggerReboot()

	require.Len(t, r.pub.Payloads, 2)
	var p mqtt.Payload
	require.NoError(t, json.Unmarshal(r.pub.Payloads[1], &p))
	assert.Equal(t, "REBOOT_START", p.Watchdog.Event)
	assert.Equal(t, "AUTO", p.Watchdog.Mode)
	assert.Equal(t, 293, p.Watchdog.Counter)
	assert.Equal(t, uint64(1), p.Watchdog.Resets)
	assert.False(t, p.Watchdog.MosfetOn)
	assert.Equal(t, "2026-01-01T12:00:07Z", p.Watchdog.Timestamp)
}
