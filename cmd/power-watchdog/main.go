// Command power-watchdog power-cycles a supervised device through a GPIO-driven
// MOSFET when it stops feeding the watchdog, with HTTP and MQTT control.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/sweeney/power-watchdog/internal/config"
	"github.com/sweeney/power-watchdog/internal/gpio"
	"github.com/sweeney/power-watchdog/internal/mqtt"
	"github.com/sweeney/power-watchdog/internal/schedule"
	"github.com/sweeney/power-watchdog/internal/status"
	"github.com/sweeney/power-watchdog/internal/store"
	"github.com/sweeney/power-watchdog/internal/watchdog"
	"github.com/sweeney/power-watchdog/internal/web"
)

// version is set at build time via -ldflags "-X main.version=..."
var version = "dev"

// statusRefresh is how often MQTT connectivity is copied into the status tracker.
const statusRefresh = 5 * time.Second

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "power-watchdog",
		Short: "Power-cycle a device that stops feeding the watchdog",
		Long: `power-watchdog holds a device powered through a GPIO-driven MOSFET and
counts down from a configurable ttl. The device feeds the watchdog over HTTP
(/feed) or MQTT (<prefix>/feed). If the countdown reaches zero the device is
switched off, left to settle, and switched back on.`,
		CompletionOptions: cobra.CompletionOptions{HiddenDefaultCmd: true},
		SilenceUsage:      true,
		Args:              cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			fs := cmd.Flags()
			path, _ := fs.GetString("config")
			dryRun, _ := fs.GetBool("dry-run")

			cfg, err := loadConfig(path, fs)
			if err != nil {
				return err
			}
			return run(cfg, dryRun, newLogger(cfg, os.Stderr))
		},
	}

	fs := cmd.Flags()
	fs.StringP("config", "c", "", "YAML config file (defaults apply when omitted)")
	fs.String("listen", "", "HTTP listen address (overrides http.listen)")
	fs.Int("pin", gpio.DefaultPin, "GPIO line driving the MOSFET (overrides gpio.pin)")
	fs.Int("ttl", watchdog.DefaultTTL, "countdown in seconds (overrides watchdog.ttl)")
	fs.String("log-level", "", "log level: trace, debug, info, warn, error (overrides log.level)")
	fs.Bool("dry-run", false, "simulate the output instead of driving GPIO")

	cmd.AddCommand(newVersionCmd())
	return cmd
}

// loadConfig reads the file at path, applies explicitly set flags over it
// and validates the result.
func loadConfig(path string, fs *pflag.FlagSet) (*config.Config, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if fs.Changed("listen") {
		cfg.HTTP.Listen, _ = fs.GetString("listen")
	}
	if fs.Changed("pin") {
		cfg.GPIO.Pin, _ = fs.GetInt("pin")
	}
	if fs.Changed("ttl") {
		cfg.Watchdog.TTL, _ = fs.GetInt("ttl")
	}
	if fs.Changed("log-level") {
		cfg.Log.Level, _ = fs.GetString("log-level")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version and exit",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "power-watchdog %s\n", version)
		},
	}
}

func newLogger(cfg *config.Config, w io.Writer) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.Log.Level)
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}

	var logger zerolog.Logger
	if cfg.Log.Format == "json" {
		logger = zerolog.New(w).With().Timestamp().Str("service", "power-watchdog").Str("version", version).Logger()
	} else {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}).With().Timestamp().Logger()
	}
	return logger.Level(level)
}

func component(log zerolog.Logger, name string) zerolog.Logger {
	return log.With().Str("component", name).Logger()
}

func openOutput(cfg *config.Config, dryRun bool, log zerolog.Logger) (gpio.Output, error) {
	if dryRun {
		log.Warn().Msg("dry run: GPIO is not driven")
		return gpio.NewFakeOutput(false), nil
	}
	out, err := gpio.NewRealOutput(cfg.GPIO.Chip, cfg.GPIO.Pin, cfg.GPIO.ActiveLow)
	if err != nil {
		return nil, fmt.Errorf("init gpio: %w", err)
	}
	return out, nil
}

func run(cfg *config.Config, dryRun bool, log zerolog.Logger) error {
	mainLog := component(log, "main")
	mainLog.Info().Str("version", version).Msg("starting power-watchdog")

	out, err := openOutput(cfg, dryRun, mainLog)
	if err != nil {
		return err
	}
	defer out.Close()

	sched := schedule.NewTimers()
	defer sched.Close()

	ctl := watchdog.New(out, sched, watchdog.Config{
		TTL:            cfg.Watchdog.TTL,
		TickPeriod:     cfg.Watchdog.Tick,
		SettleInterval: cfg.Watchdog.Settle,
	}, component(log, "watchdog"))

	// The journal and broker can block; they get events off the timer path.
	relay := watchdog.NewRelay(ctl.Events(), 0, component(log, "events"))
	defer relay.Close()

	var journal store.Journal = store.Nop{}
	if cfg.Store.Path != "" {
		j, err := store.NewBoltJournal(cfg.Store.Path, cfg.Store.Keep)
		if err != nil {
			return fmt.Errorf("open journal: %w", err)
		}
		defer j.Close()
		journal = j
		store.Record(relay, j, component(log, "store"))
		mainLog.Info().Str("path", cfg.Store.Path).Int("keep", cfg.Store.Keep).Msg("event journal enabled")
	}

	ctl.Start()
	defer ctl.Stop()

	broker := ""
	if cfg.MQTT.Enabled {
		broker = cfg.MQTT.Broker
	}
	tracker := status.NewTracker(ctl, status.Config{
		TickMs:    cfg.Watchdog.Tick.Milliseconds(),
		SettleMs:  cfg.Watchdog.Settle.Milliseconds(),
		Pin:       cfg.GPIO.Pin,
		ActiveLow: cfg.GPIO.ActiveLow,
		DryRun:    dryRun,
		Broker:    broker,
		HTTPAddr:  cfg.HTTP.Listen,
		Journal:   cfg.Store.Path != "",
	})
	if net := readNetworkInfo(); net != nil {
		tracker.SetNetwork(net)
	}

	var (
		publisher *mqtt.RealPublisher
		heartbeat <-chan time.Time
	)
	if cfg.MQTT.Enabled {
		mqttLog := component(log, "mqtt")
		publisher, err = mqtt.NewRealPublisher(mqtt.Config{
			Broker:      cfg.MQTT.Broker,
			ClientID:    cfg.MQTT.ClientID,
			TopicPrefix: cfg.MQTT.TopicPrefix,
			Username:    cfg.MQTT.Username,
			Password:    cfg.MQTT.Password,
		}, mqttLog)
		if err != nil {
			return fmt.Errorf("init mqtt: %w", err)
		}
		defer publisher.Close()

		mqtt.Forward(relay, publisher, mqttLog)
		if cfg.MQTT.Feed {
			if err := publisher.SubscribeFeed(func() { ctl.Feed() }); err != nil {
				mqttLog.Error().Err(err).Msg("feed subscription failed, will retry on reconnect")
			}
		}

		tracker.SetMQTTConnected(publisher.IsConnected())
		publishStartup(publisher, tracker, mainLog)

		var stopHeartbeat func()
		heartbeat, stopHeartbeat = newHeartbeat(cfg.MQTT.Heartbeat)
		defer stopHeartbeat()
	}

	hub := web.NewWSHub(component(log, "ws"))
	go hub.Run()
	defer hub.Stop()
	hub.Attach(ctl.Events())

	srv := web.New(cfg.HTTP.Listen, ctl, tracker, component(log, "http"),
		web.WithJournal(journal), web.WithHub(hub))
	serveErr := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			mainLog.Error().Err(err).Msg("http shutdown")
		}
	}()
	mainLog.Info().
		Str("addr", cfg.HTTP.Listen).
		Int("ttl", cfg.Watchdog.TTL).
		Dur("settle", cfg.Watchdog.Settle).
		Int("pin", cfg.GPIO.Pin).
		Bool("mqtt", cfg.MQTT.Enabled).
		Msg("started")

	refresh := time.NewTicker(statusRefresh)
	defer refresh.Stop()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	d := &daemon{
		tracker: tracker,
		log:     mainLog,
		now:     time.Now,
	}
	if publisher != nil {
		d.publisher = publisher
		d.mqttStatus = publisher
	}
	err = d.runLoop(heartbeat, refresh.C, sigCh, serveErr)
	// Stop scheduled actions and flush queued events before the journal
	// and publisher close.
	ctl.Stop()
	relay.Close()
	return err
}

// newHeartbeat returns the heartbeat channel and a function to stop it.
// A zero interval disables heartbeats: the channel is nil and never ready.
func newHeartbeat(every time.Duration) (<-chan time.Time, func()) {
	if every <= 0 {
		return nil, func() {}
	}
	t := time.NewTicker(every)
	return t.C, t.Stop
}

func publishStartup(p mqtt.Publisher, tracker *status.Tracker, log zerolog.Logger) {
	snap := tracker.Snapshot()
	ev := mqtt.SystemEvent{
		Timestamp:  snap.Now,
		Event:      "STARTUP",
		Retained:   true,
		RawPayload: status.FormatStatusEvent(snap, "STARTUP", ""),
	}
	if err := p.PublishSystem(ev); err != nil {
		log.Error().Err(err).Msg("failed to publish startup event")
		return
	}
	log.Info().Msg("published startup event")
}

// daemon holds what the main loop reports on. publisher and mqttStatus
// are nil when MQTT is disabled.
type daemon struct {
	publisher  mqtt.Publisher
	mqttStatus mqtt.ConnectionStatus
	tracker    *status.Tracker
	log        zerolog.Logger
	now        func() time.Time
}

// runLoop blocks until a shutdown signal or an HTTP server failure.
// The watchdog itself runs on its own timers and is not driven from here.
func (d *daemon) runLoop(heartbeat, refresh <-chan time.Time, sig <-chan os.Signal, serveErr <-chan error) error {
	for {
		select {
		case s := <-sig:
			name := signalName(s)
			d.log.Info().Str("signal", name).Msg("shutting down")
			d.publishSystem("SHUTDOWN", name, true)
			return nil

		case err := <-serveErr:
			d.log.Error().Err(err).Msg("http server failed")
			d.publishSystem("SHUTDOWN", "HTTP_ERROR", true)
			return fmt.Errorf("http server: %w", err)

		case <-heartbeat:
			// Refresh network info for heartbeat
			if net := readNetworkInfo(); net != nil {
				d.tracker.SetNetwork(net)
			}
			snap := d.publishSystem("HEARTBEAT", "", false)
			d.log.Info().
				Str("mode", string(snap.Watchdog.Mode)).
				Int("counter", snap.Watchdog.Counter).
				Uint64("resets", snap.Watchdog.ResetCount).
				Dur("uptime", snap.Uptime().Truncate(time.Second)).
				Msg("heartbeat")

		case <-refresh:
			d.syncMQTT()
		}
	}
}

func (d *daemon) syncMQTT() {
	if d.mqttStatus != nil {
		d.tracker.SetMQTTConnected(d.mqttStatus.IsConnected())
	}
}

// publishSystem publishes a system event carrying the full status and
// returns the snapshot it was built from.
func (d *daemon) publishSystem(event, reason string, retained bool) status.Snapshot {
	d.syncMQTT()
	snap := d.tracker.Snapshot()
	if d.publisher == nil {
		return snap
	}
	ev := mqtt.SystemEvent{
		Timestamp:  d.now(),
		Event:      event,
		Reason:     reason,
		Retained:   retained,
		RawPayload: status.FormatStatusEvent(snap, event, reason),
	}
	if err := d.publisher.PublishSystem(ev); err != nil {
		d.log.Error().Err(err).Str("event", event).Msg("failed to publish system event")
	}
	return snap
}

func signalName(s os.Signal) string {
	switch s {
	case syscall.SIGINT:
		return "SIGINT"
	case syscall.SIGTERM:
		return "SIGTERM"
	}
	return "UNKNOWN"
}

// pi-helper env var names (written to /run/pi-helper.env).
const (
	envNetworkType       = "NETWORK_TYPE"
	envNetworkIP         = "NETWORK_IP"
	envNetworkStatus     = "NETWORK_STATUS"
	envNetworkGateway    = "NETWORK_GATEWAY"
	envNetworkWifiStatus = "NETWORK_WIFI_STATUS"
	envNetworkWifiSSID   = "NETWORK_WIFI_SSID"
)

func readNetworkInfo() *status.NetworkInfo {
	s := os.Getenv(envNetworkStatus)
	if s == "" {
		return nil
	}
	return &status.NetworkInfo{
		Type:       os.Getenv(envNetworkType),
		IP:         os.Getenv(envNetworkIP),
		Status:     s,
		Gateway:    os.Getenv(envNetworkGateway),
		WifiStatus: os.Getenv(envNetworkWifiStatus),
		SSID:       os.Getenv(envNetworkWifiSSID),
	}
}
