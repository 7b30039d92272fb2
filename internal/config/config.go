// Package config loads the daemon configuration from a YAML file.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the daemon configuration. Zero-valued fields in the file keep
// their defaults.
type Config struct {
	Watchdog struct {
		TTL    int           `yaml:"ttl"`
		Settle time.Duration `yaml:"settle"`
		Tick   time.Duration `yaml:"tick"`
	} `yaml:"watchdog"`
	GPIO struct {
		Chip      string `yaml:"chip"`
		Pin       int    `yaml:"pin"`
		ActiveLow bool   `yaml:"active_low"`
	} `yaml:"gpio"`
	HTTP struct {
		Listen string `yaml:"listen"`
	} `yaml:"http"`
	MQTT struct {
		Enabled     bool          `yaml:"enabled"`
		Broker      string        `yaml:"broker"`
		ClientID    string        `yaml:"client_id"`
		TopicPrefix string        `yaml:"topic_prefix"`
		Username    string        `yaml:"username"`
		Password    string        `yaml:"password"`
		Heartbeat   time.Duration `yaml:"heartbeat"`
		Feed        bool          `yaml:"feed"`
	} `yaml:"mqtt"`
	Store struct {
		Path string `yaml:"path"`
		Keep int    `yaml:"keep"`
	} `yaml:"store"`
	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"log"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	var c Config
	c.Watchdog.TTL = 300
	c.Watchdog.Settle = 10 * time.Second
	c.Watchdog.Tick = time.Second
	c.GPIO.Chip = "gpiochip0"
	c.GPIO.Pin = 16
	c.HTTP.Listen = ":80"
	c.MQTT.Broker = "tcp://localhost:1883"
	c.MQTT.ClientID = "power-watchdog"
	c.MQTT.TopicPrefix = "watchdog"
	c.MQTT.Heartbeat = 15 * time.Minute
	c.MQTT.Feed = true
	c.Store.Keep = 500
	c.Log.Level = "info"
	c.Log.Format = "console"
	return &c
}

// Load reads path over the defaults. An empty path returns the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	if c.Watchdog.TTL <= 0 {
		return fmt.Errorf("watchdog.ttl must be positive, got %d", c.Watchdog.TTL)
	}
	if c.Watchdog.Settle <= 0 {
		return fmt.Errorf("watchdog.settle must be positive, got %s", c.Watchdog.Settle)
	}
	if c.Watchdog.Tick <= 0 {
		return fmt.Errorf("watchdog.tick must be positive, got %s", c.Watchdog.Tick)
	}
	if c.GPIO.Pin < 0 {
		return fmt.Errorf("gpio.pin must not be negative, got %d", c.GPIO.Pin)
	}
	if c.HTTP.Listen == "" {
		return errors.New("http.listen is required")
	}
	if c.MQTT.Enabled && c.MQTT.Broker == "" {
		return errors.New("mqtt.broker is required when mqtt is enabled")
	}
	if c.MQTT.Enabled && c.MQTT.Heartbeat < 0 {
		return fmt.Errorf("mqtt.heartbeat must not be negative, got %s", c.MQTT.Heartbeat)
	}
	if c.Store.Keep < 0 {
		return fmt.Errorf("store.keep must not be negative, got %d", c.Store.Keep)
	}
	switch c.Log.Format {
	case "console", "json":
	default:
		return fmt.Errorf("log.format must be console or json, got %q", c.Log.Format)
	}
	return nil
}
