package mqtt

import (
	"fmt"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"

	"github.com/sweeney/power-watchdog/internal/watchdog"
)

// DefaultBufferSize is the number of messages held while disconnected.
const DefaultBufferSize = 100

// Config holds broker connection settings.
type Config struct {
	Broker      string
	ClientID    string
	TopicPrefix string
	Username    string
	Password    string
	BufferSize  int // <= 0 means DefaultBufferSize
}

// RealPublisher publishes to an actual MQTT broker. Messages published
// while the connection is down are buffered and replayed on reconnect.
type RealPublisher struct {
	client paho.Client
	prefix string
	log    zerolog.Logger

	mu     sync.Mutex
	buf    *outbox
	onFeed func()
}

// NewRealPublisher creates a publisher for the given broker. The broker
// being unreachable at startup is not an error: the client keeps retrying
// in the background and messages are buffered until it connects.
func NewRealPublisher(cfg Config, log zerolog.Logger) (*RealPublisher, error) {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = DefaultBufferSize
	}
	p := &RealPublisher{
		prefix: cfg.TopicPrefix,
		log:    log,
		buf:    newOutbox(cfg.BufferSize, log),
	}

	opts := paho.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(cfg.ClientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5*time.Second).
		SetWill(p.topic(TopicSystem), string(WillPayload()), 1, true).
		SetOnConnectHandler(p.onConnect).
		SetConnectionLostHandler(func(_ paho.Client, err error) {
			log.Warn().Err(err).Msg("connection lost")
		})
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}

	p.client = paho.NewClient(opts)
	token := p.client.Connect()
	if !token.WaitTimeout(10 * time.Second) {
		log.Warn().Str("broker", cfg.Broker).Msg("broker not reachable yet, retrying in background")
		return p, nil
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("connect to broker: %w", err)
	}
	return p, nil
}

func (p *RealPublisher) topic(suffix string) string {
	if p.prefix == "" {
		return suffix
	}
	return p.prefix + "/" + suffix
}

// onConnect resubscribes and replays anything buffered while offline.
func (p *RealPublisher) onConnect(c paho.Client) {
	p.log.Info().Msg("connected to broker")

	p.mu.Lock()
	fn := p.onFeed
	pending, dropped := p.buf.drain()
	p.mu.Unlock()

	if fn != nil {
		p.subscribeFeed(c, fn)
	}
	if len(pending) > 0 {
		p.log.Info().Int("count", len(pending)).Msg("replaying buffered messages")
	}
	for topic, n := range dropped {
		p.log.Warn().Str("topic", topic).Int("dropped", n).Msg("messages lost while offline")
	}
	for _, m := range pending {
		t := c.Publish(m.topic, m.qos, m.retained, m.payload)
		if !t.WaitTimeout(5*time.Second) || t.Error() != nil {
			p.log.Error().Err(t.Error()).Str("topic", m.topic).Msg("replay failed")
		}
	}
}

// SubscribeFeed calls fn for every message on <prefix>/feed. The
// subscription is renewed after every reconnect.
func (p *RealPublisher) SubscribeFeed(fn func()) error {
	p.mu.Lock()
	p.onFeed = fn
	p.mu.Unlock()

	if !p.client.IsConnectionOpen() {
		return nil
	}
	return p.subscribeFeed(p.client, fn)
}

func (p *RealPublisher) subscribeFeed(c paho.Client, fn func()) error {
	t := c.Subscribe(p.topic(TopicFeed), 0, func(_ paho.Client, _ paho.Message) {
		fn()
	})
	if !t.WaitTimeout(5 * time.Second) {
		return fmt.Errorf("subscribe timeout")
	}
	if err := t.Error(); err != nil {
		p.log.Error().Err(err).Msg("feed subscription failed")
		return fmt.Errorf("subscribe: %w", err)
	}
	return nil
}

// Publish sends a watchdog event to the MQTT broker.
func (p *RealPublisher) Publish(event watchdog.Event) error {
	payload, err := FormatPayload(event)
	if err != nil {
		return fmt.Errorf("format payload: %w", err)
	}
	// QoS 0 (at-most-once), not retained
	return p.send(bufferedMsg{topic: p.topic(TopicEvents), payload: payload})
}

// PublishSystem sends a system lifecycle event to the MQTT broker.
func (p *RealPublisher) PublishSystem(event SystemEvent) error {
	payload, err := FormatSystemPayload(event)
	if err != nil {
		return fmt.Errorf("format system payload: %w", err)
	}
	// QoS 1 (at-least-once) for lifecycle events
	return p.send(bufferedMsg{topic: p.topic(TopicSystem), payload: payload, qos: 1, retained: event.Retained})
}

func (p *RealPublisher) send(m bufferedMsg) error {
	if !p.client.IsConnectionOpen() {
		p.mu.Lock()
		p.buf.push(m)
		p.mu.Unlock()
		return nil
	}

	token := p.client.Publish(m.topic, m.qos, m.retained, m.payload)
	if !token.WaitTimeout(5 * time.Second) {
		return fmt.Errorf("publish timeout")
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish: %w", err)
	}
	return nil
}

// IsConnected reports whether the client currently holds a broker connection.
func (p *RealPublisher) IsConnected() bool {
	return p.client.IsConnectionOpen()
}

// Close disconnects from the broker.
func (p *RealPublisher) Close() error {
	p.client.Disconnect(1000) // 1 second timeout
	return nil
}
