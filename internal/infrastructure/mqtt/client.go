package mqtt

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/nerrad567/lwm2m-gateway/internal/infrastructure/config"
)

// Logger is the subset of logging.Logger the client uses.
type Logger interface {
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Client publishes gateway telemetry to one broker. The broker holds a
// retained presence message on Topics().GatewayStatus() for as long as the
// gateway is connected, backed by a Last Will for unclean exits.
//
// Client is safe for concurrent use.
type Client struct {
	paho   pahomqtt.Client
	cfg    config.MQTTConfig
	topics Topics
	logger Logger

	online   atomic.Bool
	connects atomic.Int64
	since    time.Time
}

// Connect dials the broker and waits until the session is up, ctx is done
// or defaultConnectTimeout passes. A nil logger discards messages.
//
// After a successful Connect the client reconnects on its own; lost and
// restored sessions are logged.
func Connect(ctx context.Context, cfg config.MQTTConfig, logger Logger) (*Client, error) {
	if logger == nil {
		logger = noopLogger{}
	}
	c := &Client{
		cfg:    cfg,
		topics: NewTopics(cfg.TopicPrefix),
		logger: logger,
		since:  time.Now().UTC(),
	}

	opts := clientOptions(cfg)
	opts.SetWill(c.topics.GatewayStatus(), string(presencePayload(cfg.Broker.ClientID, statusOffline, reasonLost, c.since)), 1, true)
	opts.SetOnConnectHandler(func(_ pahomqtt.Client) { c.onConnect() })
	opts.SetConnectionLostHandler(func(_ pahomqtt.Client, err error) { c.onConnectionLost(err) })

	c.paho = pahomqtt.NewClient(opts)
	token := c.paho.Connect()

	timer := time.NewTimer(defaultConnectTimeout)
	defer timer.Stop()

	select {
	case <-token.Done():
	case <-timer.C:
		c.paho.Disconnect(0)
		return nil, fmt.Errorf("%w: no session after %v", ErrConnectionFailed, defaultConnectTimeout)
	case <-ctx.Done():
		c.paho.Disconnect(0)
		return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, ctx.Err())
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}

	// The connect handler runs on its own goroutine and may not have run yet.
	c.online.Store(true)
	return c, nil
}

func (c *Client) onConnect() {
	c.online.Store(true)
	if c.connects.Add(1) > 1 {
		c.logger.Info("MQTT session restored", "client_id", c.cfg.Broker.ClientID)
	}
	payload := presencePayload(c.cfg.Broker.ClientID, statusOnline, "", c.since)
	c.paho.Publish(c.topics.GatewayStatus(), byte(c.cfg.QoS), true, payload)
}

func (c *Client) onConnectionLost(err error) {
	c.online.Store(false)
	c.logger.Warn("MQTT session lost, reconnecting", "error", err)
}

// Topics returns the topic builder for the configured prefix.
func (c *Client) Topics() Topics {
	return c.topics
}

// IsConnected reports whether the broker session is currently up.
func (c *Client) IsConnected() bool {
	return c.paho != nil && c.online.Load() && c.paho.IsConnected()
}

// HealthCheck returns ErrNotConnected while the session is down.
func (c *Client) HealthCheck(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("mqtt health check: %w", err)
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}
	return nil
}

// Close replaces the retained presence with a graceful offline message and
// disconnects. It is a no-op on a client that never connected.
func (c *Client) Close() error {
	if c.paho == nil {
		return nil
	}
	if c.IsConnected() {
		payload := presencePayload(c.cfg.Broker.ClientID, statusOffline, reasonShutdown, c.since)
		c.paho.Publish(c.topics.GatewayStatus(), byte(c.cfg.QoS), true, payload).WaitTimeout(defaultPublishTimeout)
	}
	c.online.Store(false)
	c.paho.Disconnect(defaultDisconnectQuiesce)
	return nil
}
