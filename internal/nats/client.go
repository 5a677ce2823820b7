// Package nats publishes dispatch events so that other services can see
// which sessions were started. Nothing is ever received.
package nats

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/dante-gpu/dante-sweep/internal/config"
	"github.com/dante-gpu/dante-sweep/internal/models"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// Publisher announces launched sessions.
type Publisher interface {
	PublishDispatch(event *models.DispatchEvent) error
	Close()
}

// NoopPublisher drops every event. Used when no NATS URL is configured.
type NoopPublisher struct{}

func (NoopPublisher) PublishDispatch(*models.DispatchEvent) error { return nil }

func (NoopPublisher) Close() {}

// conn is the part of *nats.Conn the client uses.
type conn interface {
	Publish(subj string, data []byte) error
	FlushTimeout(timeout time.Duration) error
	Drain() error
	Close()
}

// Client publishes dispatch events over a plain NATS connection.
type Client struct {
	nc     conn
	logger *zap.Logger
	cfg    config.NatsConfig
}

// NewClient connects to cfg.URL.
func NewClient(cfg config.NatsConfig, logger *zap.Logger) (*Client, error) {
	nc, err := nats.Connect(
		cfg.URL,
		nats.Name("dante-sweep"),
		nats.Timeout(cfg.ConnectTimeout),
		nats.MaxReconnects(3),
		nats.ReconnectWait(time.Second),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			logger.Warn("NATS disconnected", zap.Error(err))
		}),
		nats.ClosedHandler(func(nc *nats.Conn) {
			logger.Debug("NATS connection closed")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS at %s: %w", cfg.URL, err)
	}

	logger.Info("Connected to NATS", zap.String("address", cfg.URL))
	return &Client{nc: nc, logger: logger, cfg: cfg}, nil
}

// NewPublisher returns a NATS client, or a NoopPublisher when no URL is set
// or the server cannot be reached. Publishing is best effort.
func NewPublisher(cfg config.NatsConfig, logger *zap.Logger) Publisher {
	if cfg.URL == "" {
		return NoopPublisher{}
	}
	c, err := NewClient(cfg, logger)
	if err != nil {
		logger.Warn("Dispatch events will not be published", zap.Error(err))
		return NoopPublisher{}
	}
	return c
}

// Subject returns the subject events of runID are published on.
func Subject(prefix, runID string) string {
	return prefix + "." + runID
}

// PublishDispatch sends the event as JSON and flushes.
func (c *Client) PublishDispatch(event *models.DispatchEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal dispatch event: %w", err)
	}

	subject := Subject(c.cfg.SubjectPrefix, event.RunID)
	c.logger.Debug("Publishing dispatch event",
		zap.String("subject", subject),
		zap.String("session", event.Session),
	)
	if err := c.nc.Publish(subject, data); err != nil {
		return fmt.Errorf("failed to publish dispatch event to %s: %w", subject, err)
	}
	return c.nc.FlushTimeout(c.cfg.ConnectTimeout)
}

// Close drains and closes the connection.
func (c *Client) Close() {
	if c.nc == nil {
		return
	}
	c.logger.Info("Draining NATS connection...")
	if err := c.nc.Drain(); err != nil {
		c.logger.Error("Error draining NATS connection", zap.Error(err))
	}
	c.nc.Close()
}
