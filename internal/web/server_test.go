package web

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"nhooyr.io/websocket"

	"github.com/sweeney/power-watchdog/internal/gpio"
	"github.com/sweeney/power-watchdog/internal/schedule"
	"github.com/sweeney/power-watchdog/internal/status"
	"github.com/sweeney/power-watchdog/internal/store"
	"github.com/sweeney/power-watchdog/internal/watchdog"
)

var start = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

type fixture struct {
	ts    *httptest.Server
	ctl   *watchdog.Controller
	sched *schedule.Fake
	out   *gpio.FakeOutput
	tr    *status.Tracker
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	f := &fixture{
		sched: schedule.NewFake(),
		out:   gpio.NewFakeOutput(false),
	}
	clock := func() time.Time { return start.Add(f.sched.Now()) }
	f.ctl = watchdog.New(f.out, f.sched, watchdog.Config{}, zerolog.Nop(), watchdog.WithClock(clock))
	f.ctl.Start()

	f.tr = status.NewTracker(f.ctl, status.Config{
		TickMs:   1000,
		SettleMs: 10000,
		Pin:      16,
		Broker:   "tcp://192.168.1.200:1883",
		HTTPAddr: ":80",
	})
	srv := New(":0", f.ctl, f.tr, zerolog.Nop(), opts...)
	f.ts = httptest.NewServer(srv.Router())
	t.Cleanup(f.ts.Close)
	return f
}

func (f *fixture) get(t *testing.T, path string, v interface{}) *http.Response {
	t.Helper()
	resp, err := http.Get(f.ts.URL + path)
	require.NoError(t, err)
	defer resp.Body.Close()
	if v != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(v))
	}
	return resp
}

func TestStatusRoute(t *testing.T) {
	f := newFixture(t)
	f.sched.Advance(90 * time.Second)

	var got StatusResponse
	resp := f.get(t, "/", &got)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))

	assert.Equal(t, 210, got.Counter)
	assert.Equal(t, 300, got.TTL)
	assert.True(t, got.MosfetOn)
	assert.Equal(t, uint64(0), got.Resets)
	assert.True(t, got.Running)
	assert.Equal(t, int64(90), got.Uptime)
}

func TestStatusFieldNames(t *testing.T) {
	f := newFixture(t)

	var raw map[string]interface{}
	f.get(t, "/", &raw)
	for _, k := range []string{"counter", "ttl", "mosfet_on", "resets", "running", "uptime"} {
		assert.Contains(t, raw, k)
	}
	assert.Len(t, raw, 6)
}

func TestOffRoute(t *testing.T) {
	f := newFixture(t)

	var got ModeResponse
	f.get(t, "/off", &got)
	assert.Equal(t, ModeResponse{Mosfet: "off", Watchdog: "off"}, got)

	snap := f.ctl.Snapshot()
	assert.Equal(t, watchdog.ModeManualOff, snap.Mode)
	assert.False(t, f.out.Energized())

	var st StatusResponse
	f.get(t, "/", &st)
	assert.False(t, st.Running)
	assert.False(t, st.MosfetOn)
}

func TestOnRoute(t *testing.T) {
	f := newFixture(t)
	f.get(t, "/off", nil)

	var got ModeResponse
	f.get(t, "/on", &got)
	assert.Equal(t, ModeResponse{Mosfet: "on", Watchdog: "off"}, got)
	assert.Equal(t, watchdog.ModeManualOn, f.ctl.Snapshot().Mode)
	assert.True(t, f.out.Energized())
}

func TestAutoRoute(t *testing.T) {
	f := newFixture(t)
	f.get(t, "/off", nil)
	f.sched.Advance(5 * time.Second)

	var got ModeResponse
	f.get(t, "/auto", &got)
	assert.Equal(t, ModeResponse{Mosfet: "auto", Watchdog: "on"}, got)

	snap := f.ctl.Snapshot()
	assert.Equal(t, watchdog.ModeAuto, snap.Mode)
	assert.Equal(t, snap.TTL, snap.Counter)
	assert.Equal(t, 1, f.sched.PeriodicCount())
}

func TestRebootRoute(t *testing.T) {
	f := newFixture(t)

	var got RebootResponse
	f.get(t, "/reboot", &got)
	assert.True(t, got.Reboot)
	assert.Equal(t, uint64(1), got.ResetCount)
	assert.False(t, f.out.Energized())

	// A second request inside the settle window is coalesced.
	f.get(t, "/reboot", &got)
	assert.Equal(t, uint64(1), got.ResetCount)
	assert.Equal(t, 1, f.sched.OnceCount())

	f.sched.Advance(watchdog.DefaultSettleInterval)
	assert.True(t, f.out.Energized())

	f.get(t, "/reboot", &got)
	assert.Equal(t, uint64(2), got.ResetCount)
}

func TestFeedRoute(t *testing.T) {
	f := newFixture(t)
	f.sched.Advance(100 * time.Second)
	require.Equal(t, 200, f.ctl.Snapshot().Counter)

	var got FeedResponse
	f.get(t, "/feed", &got)
	assert.True(t, got.WatchdogFeed)
	assert.Equal(t, 300, got.Counter)
	assert.Equal(t, 300, f.ctl.Snapshot().Counter)
}

func TestTTLRoute(t *testing.T) {
	tests := []struct {
		name   string
		query  string
		wantOp string
		want   int
	}{
		{"no param", "", "get", 300},
		{"empty param", "?ttl=", "get", 300},
		{"valid", "?ttl=60", "set", 60},
		{"zero", "?ttl=0", "get", 300},
		{"negative", "?ttl=-5", "get", 300},
		{"non numeric", "?ttl=abc", "get", 300},
		{"fraction", "?ttl=1.5", "get", 300},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)

			var got TTLResponse
			f.get(t, "/ttl"+tt.query, &got)
			assert.Equal(t, tt.wantOp, got.Op)
			assert.Equal(t, tt.want, got.TTL)
			assert.Equal(t, tt.want, f.ctl.Snapshot().TTL)
		})
	}
}

func TestTTLRouteClampsCounter(t *testing.T) {
	f := newFixture(t)
	f.sched.Advance(10 * time.Second)

	var got TTLResponse
	f.get(t, "/ttl?ttl=30", &got)
	assert.Equal(t, TTLResponse{Op: "set", TTL: 30}, got)
	assert.Equal(t, 30, f.ctl.Snapshot().Counter)
}

func TestTTLRouteRejectLeavesCounter(t *testing.T) {
	f := newFixture(t)
	f.sched.Advance(10 * time.Second)

	f.get(t, "/ttl?ttl=-1", nil)
	snap := f.ctl.Snapshot()
	assert.Equal(t, 300, snap.TTL)
	assert.Equal(t, 290, snap.Counter)
}

type lockedBuffer struct {
	mu sync.Mutex
	sb strings.Builder
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.sb.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.sb.String()
}

func TestTTLRejectLoggedAtDebug(t *testing.T) {
	f := newFixture(t)

	for _, tt := range []struct {
		level  zerolog.Level
		logged bool
	}{
		{zerolog.InfoLevel, false},
		{zerolog.DebugLevel, true},
	} {
		t.Run(tt.level.String(), func(t *testing.T) {
			var buf lockedBuffer
			srv := New(":0", f.ctl, f.tr, zerolog.New(&buf).Level(tt.level))
			ts := httptest.NewServer(srv.Router())
			defer ts.Close()

			resp, err := http.Get(ts.URL + "/ttl?ttl=abc")
			require.NoError(t, err)
			resp.Body.Close()

			assert.Equal(t, tt.logged, strings.Contains(buf.String(), "ttl rejected"))
		})
	}
}

func TestTTLRouteAcceptsForm(t *testing.T) {
	f := newFixture(t)

	resp, err := http.PostForm(f.ts.URL+"/ttl", url.Values{"ttl": {"45"}})
	require.NoError(t, err)
	defer resp.Body.Close()

	var got TTLResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&got))
	assert.Equal(t, TTLResponse{Op: "set", TTL: 45}, got)
}

func TestControlRoutesAnyMethod(t *testing.T) {
	f := newFixture(t)

	resp, err := http.Post(f.ts.URL+"/off", "text/plain", nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, watchdog.ModeManualOff, f.ctl.Snapshot().Mode)
}

func TestStatusJSONRoute(t *testing.T) {
	f := newFixture(t)
	f.tr.SetMQTTConnected(true)
	f.get(t, "/reboot", nil)

	var got status.StatusJSON
	resp := f.get(t, "/status.json", &got)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))

	s := got.Status
	assert.Equal(t, "AUTO", s.Mode)
	assert.True(t, s.Running)
	assert.True(t, s.PendingReboot)
	assert.False(t, s.MosfetOn)
	assert.Equal(t, uint64(1), s.Resets)
	assert.True(t, s.MQTT.Connected)
	assert.Equal(t, "tcp://192.168.1.200:1883", s.MQTT.Broker)
	assert.Equal(t, 16, s.Config.Pin)
}

func TestIndexHTML(t *testing.T) {
	f := newFixture(t)
	f.tr.SetNetwork(&status.NetworkInfo{Type: "wifi", IP: "192.168.1.42", Status: "connected", SSID: "MyNet"})

	resp, err := http.Get(f.ts.URL + "/index.html")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/html; charset=utf-8", resp.Header.Get("Content-Type"))
	html := string(body)
	assert.Contains(t, html, "Power Watchdog")
	assert.Contains(t, html, "AUTO")
	assert.Contains(t, html, "192.168.1.42")
	assert.Contains(t, html, `href="/reboot"`)
	assert.NotContains(t, html, "new WebSocket", "no live script without a hub")
}

func TestIndexHTMLLive(t *testing.T) {
	hub := NewWSHub(zerolog.Nop())
	f := newFixture(t, WithHub(hub))

	resp, err := http.Get(f.ts.URL + "/index.html")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	assert.Contains(t, string(body), "new WebSocket")
}

func TestEventsWithoutJournal(t *testing.T) {
	f := newFixture(t)

	resp, err := http.Get(f.ts.URL + "/events")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "[]", strings.TrimSpace(string(body)))
}

func TestEventsWithJournal(t *testing.T) {
	j, err := store.NewBoltJournal(filepath.Join(t.TempDir(), "j.db"), 100)
	require.NoError(t, err)
	t.Cleanup(func() { j.Close() })

	f := newFixture(t, WithJournal(j))
	store.Record(f.ctl.Events(), j, zerolog.Nop())

	f.get(t, "/off", nil)
	f.get(t, "/on", nil)
	f.get(t, "/feed", nil)
	f.get(t, "/auto", nil)

	var got []watchdog.Event
	f.get(t, "/events", &got)
	require.Len(t, got, 3)
	assert.Equal(t, watchdog.EventModeAuto, got[0].Type)
	assert.Equal(t, watchdog.EventModeOn, got[1].Type)
	assert.Equal(t, watchdog.EventModeOff, got[2].Type)

	f.get(t, "/events?limit=1", &got)
	require.Len(t, got, 1)
	assert.Equal(t, watchdog.EventModeAuto, got[0].Type)
}

func TestEventsBadLimit(t *testing.T) {
	f := newFixture(t)
	for _, q := range []string{"?limit=0", "?limit=-3", "?limit=x"} {
		var got ErrorResponse
		resp := f.get(t, "/events"+q, &got)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode, q)
		assert.NotEmpty(t, got.Error)
	}
}

type limitJournal struct {
	store.Nop
	asked int
}

func (l *limitJournal) Recent(n int) ([]watchdog.Event, error) {
	l.asked = n
	return []watchdog.Event{}, nil
}

func TestEventsLimitCapped(t *testing.T) {
	j := &limitJournal{}
	f := newFixture(t, WithJournal(j))

	f.get(t, "/events?limit=100000", nil)
	assert.Equal(t, MaxEventLimit, j.asked)

	f.get(t, "/events", nil)
	assert.Equal(t, DefaultEventLimit, j.asked)
}

func TestHealthz(t *testing.T) {
	f := newFixture(t)
	var got map[string]bool
	resp := f.get(t, "/healthz", &got)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, map[string]bool{"ok": true}, got)
}

func TestNotFound(t *testing.T) {
	f := newFixture(t)
	var got ErrorResponse
	resp := f.get(t, "/nope", &got)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "not found", got.Error)
}

func TestWSNotRegisteredWithoutHub(t *testing.T) {
	f := newFixture(t)
	resp := f.get(t, "/ws", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestWSStreamsEvents(t *testing.T) {
	hub := NewWSHub(zerolog.Nop())
	go hub.Run()
	t.Cleanup(hub.Stop)

	f := newFixture(t, WithHub(hub))
	hub.Attach(f.ctl.Events())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	wsURL := "ws" + strings.TrimPrefix(f.ts.URL, "http") + "/ws"
	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	require.NoError(t, err)
	defer conn.Close(websocket.StatusNormalClosure, "")

	require.Eventually(t, func() bool { return hub.Clients() == 1 }, 2*time.Second, 5*time.Millisecond)

	f.get(t, "/off", nil)

	_, data, err := conn.Read(ctx)
	require.NoError(t, err)

	var e watchdog.Event
	require.NoError(t, json.Unmarshal(data, &e))
	assert.Equal(t, watchdog.EventModeOff, e.Type)
	assert.Equal(t, watchdog.ModeManualOff, e.Mode)
	assert.False(t, e.Energized)
}
