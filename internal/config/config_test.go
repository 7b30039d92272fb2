package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestDefault(t *testing.T) {
	c := Default()
	assert.Equal(t, 300, c.Watchdog.TTL)
	assert.Equal(t, 10*time.Second, c.Watchdog.Settle)
	assert.Equal(t, time.Second, c.Watchdog.Tick)
	assert.Equal(t, "gpiochip0", c.GPIO.Chip)
	assert.Equal(t, 16, c.GPIO.Pin)
	assert.Equal(t, ":80", c.HTTP.Listen)
	assert.False(t, c.MQTT.Enabled)
	assert.True(t, c.MQTT.Feed)
	assert.Equal(t, 15*time.Minute, c.MQTT.Heartbeat)
	assert.Empty(t, c.Store.Path)
	assert.NoError(t, c.Validate())
}

func TestLoadEmptyPath(t *testing.T) {
	c, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default(), c)
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
watchdog:
  ttl: 120
  settle: 5s
gpio:
  pin: 21
  active_low: true
mqtt:
  enabled: true
  broker: tcp://broker.lan:1883
  heartbeat: 1m
store:
  path: /var/lib/power-watchdog/journal.db
log:
  level: debug
  format: json
`)
	c, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 120, c.Watchdog.TTL)
	assert.Equal(t, 5*time.Second, c.Watchdog.Settle)
	assert.Equal(t, time.Second, c.Watchdog.Tick, "unset keys keep defaults")
	assert.Equal(t, 21, c.GPIO.Pin)
	assert.True(t, c.GPIO.ActiveLow)
	assert.Equal(t, "gpiochip0", c.GPIO.Chip)
	assert.True(t, c.MQTT.Enabled)
	assert.Equal(t, "tcp://broker.lan:1883", c.MQTT.Broker)
	assert.Equal(t, time.Minute, c.MQTT.Heartbeat)
	assert.True(t, c.MQTT.Feed)
	assert.Equal(t, "watchdog", c.MQTT.TopicPrefix)
	assert.Equal(t, "/var/lib/power-watchdog/journal.db", c.Store.Path)
	assert.Equal(t, 500, c.Store.Keep)
	assert.Equal(t, "debug", c.Log.Level)
	assert.Equal(t, "json", c.Log.Format)
	assert.NoError(t, c.Validate())
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.ErrorContains(t, err, "read config")
}

func TestLoadMalformed(t *testing.T) {
	_, err := Load(writeConfig(t, "watchdog: [unterminated"))
	assert.ErrorContains(t, err, "parse config")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"zero ttl", func(c *Config) { c.Watchdog.TTL = 0 }, "watchdog.ttl"},
		{"negative ttl", func(c *Config) { c.Watchdog.TTL = -5 }, "watchdog.ttl"},
		{"zero settle", func(c *Config) { c.Watchdog.Settle = 0 }, "watchdog.settle"},
		{"zero tick", func(c *Config) { c.Watchdog.Tick = 0 }, "watchdog.tick"},
		{"negative pin", func(c *Config) { c.GPIO.Pin = -1 }, "gpio.pin"},
		{"empty listen", func(c *Config) { c.HTTP.Listen = "" }, "http.listen"},
		{"mqtt without broker", func(c *Config) {
			c.MQTT.Enabled = true
			c.MQTT.Broker = ""
		}, "mqtt.broker"},
		{"mqtt negative heartbeat", func(c *Config) {
			c.MQTT.Enabled = true
			c.MQTT.Heartbeat = -time.Second
		}, "mqtt.heartbeat"},
		{"negative keep", func(c *Config) { c.Store.Keep = -1 }, "store.keep"},
		{"bad log format", func(c *Config) { c.Log.Format = "xml" }, "log.format"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := Default()
			tt.mutate(c)
			assert.ErrorContains(t, c.Validate(), tt.want)
		})
	}
}

func TestLoadZeroHeartbeatDisables(t *testing.T) {
	c, err := Load(writeConfig(t, `
mqtt:
  enabled: true
  heartbeat: 0s
`))
	require.NoError(t, err)
	assert.Equal(t, time.Duration(0), c.MQTT.Heartbeat)
	assert.NoError(t, c.Validate())
}

func TestValidateMQTTDisabledIgnoresBroker(t *testing.T) {
	c := Default()
	c.MQTT.Broker = ""
	assert.NoError(t, c.Validate())
}
