// Package mqtt publishes offline cache lifecycle events to an MQTT broker.
package mqtt

import (
	"context"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"github.com/liftmate/liftmate/internal/errors"
	"github.com/liftmate/liftmate/internal/logger"
)

const (
	connectTimeout  = 10 * time.Second
	publishTimeout  = 5 * time.Second
	disconnectQuiet = 250 // milliseconds
	// connectCooldown is the minimum time between connection attempts.
	connectCooldown = 5 * time.Second
	// statusSuffix is appended to the base topic for the online/offline
	// status, which is also the last will.
	statusSuffix = "/status"
)

// ErrConnectCooldown is returned when Connect is called too soon after the
// previous attempt.
var ErrConnectCooldown = errors.NewStd("connection attempt too recent")

// ErrNotConnected is returned when publishing without a connection.
var ErrNotConnected = errors.NewStd("mqtt client not connected")

// Client is the broker connection used by the Publisher.
type Client interface {
	Connect(ctx context.Context) error
	Publish(ctx context.Context, topic string, payload []byte) error
	IsConnected() bool
	Disconnect()
}

// Config configures the broker connection.
type Config struct {
	Broker   string
	ClientID string
	Username string
	Password string
	// Topic is the base topic; lifecycle events go to <Topic>/lifecycle/<kind>.
	Topic  string
	Retain bool
}

type client struct {
	cfg  Config
	log  logger.Logger
	opts *paho.ClientOptions

	mu          sync.Mutex
	conn        paho.Client
	lastAttempt time.Time
}

// NewClient creates a client. No connection is made until Connect.
func NewClient(cfg Config, log logger.Logger) (Client, error) {
	if cfg.Broker == "" {
		return nil, errors.Newf("mqtt broker must be set").
			Component("mqtt").
			Category(errors.CategoryConfig).
			Build()
	}
	if cfg.ClientID == "" {
		cfg.ClientID = "liftmate"
	}
	if log == nil {
		log = logger.Default()
	}
	c := &client{
		cfg: cfg,
		log: log.With(logger.String("component", "mqtt"), logger.String("broker", cfg.Broker)),
	}

	statusTopic := cfg.Topic + statusSuffix
	c.opts = paho.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(cfg.ClientID).
		SetUsername(cfg.Username).
		SetPassword(cfg.Password).
		SetConnectTimeout(connectTimeout).
		SetAutoReconnect(true).
		SetCleanSession(true).
		SetWill(statusTopic, "offline", 1, true).
		SetOnConnectHandler(func(conn paho.Client) {
			c.log.Info("connected to mqtt broker")
			conn.Publish(statusTopic, 1, true, "online")
		}).
		SetConnectionLostHandler(func(_ paho.Client, err error) {
			c.log.Warn("mqtt connection lost", logger.Error(err))
		})
	return c, nil
}

// Connect dials the broker and waits until connected or ctx ends.
func (c *client) Connect(ctx context.Context) error {
	c.mu.Lock()
	if !c.lastAttempt.IsZero() && time.Since(c.lastAttempt) < connectCooldown {
		c.mu.Unlock()
		return errors.New(ErrConnectCooldown).
			Component("mqtt").
			Category(errors.CategoryNetwork).
			Build()
	}
	c.lastAttempt = time.Now()
	if c.conn == nil {
		c.conn = paho.NewClient(c.opts)
	}
	conn := c.conn
	c.mu.Unlock()

	if err := wait(ctx, conn.Connect()); err != nil {
		return errors.New(err).
			Component("mqtt").
			Category(errors.CategoryNetwork).
			Context("operation", "connect").
			Build()
	}
	return nil
}

// Publish sends payload with QoS 1.
func (c *client) Publish(ctx context.Context, topic string, payload []byte) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil || !conn.IsConnected() {
		return ErrNotConnected
	}

	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()
	if err := wait(ctx, conn.Publish(topic, 1, c.cfg.Retain, payload)); err != nil {
		return errors.New(err).
			Component("mqtt").
			Category(errors.CategoryNetwork).
			Context("topic", topic).
			Build()
	}
	return nil
}

// IsConnected reports whether the broker connection is up.
func (c *client) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil && c.conn.IsConnected()
}

// Disconnect publishes the offline status and closes the connection.
func (c *client) Disconnect() {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil || !conn.IsConnected() {
		return
	}
	conn.Publish(c.cfg.Topic+statusSuffix, 1, true, "offline").WaitTimeout(time.Second)
	conn.Disconnect(disconnectQuiet)
}

// wait blocks until token completes or ctx ends.
func wait(ctx context.Context, token paho.Token) error {
	select {
	case <-token.Done():
		return token.Error()
	case <-ctx.Done():
		return ctx.Err()
	}
}
