// Package events publishes copy outcomes to NATS.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// Publisher publishes JSON events under a subject prefix.
type Publisher interface {
	Publish(ctx context.Context, event string, payload any) error
	Close()
}

// Conn is the part of *nats.Conn the publisher needs.
type Conn interface {
	Publish(subject string, data []byte) error
	Drain() error
	IsClosed() bool
	Close()
}

// NATSPublisher sends events as NATS messages on "<prefix>.<event>".
type NATSPublisher struct {
	nc     Conn
	prefix string
	logger *zap.Logger
}

// Connect dials NATS. An empty URL returns a publisher that drops every event.
func Connect(url, prefix string, logger *zap.Logger) (Publisher, error) {
	if url == "" {
		return Nop{}, nil
	}

	opts := []nats.Option{
		nats.Name("listing-copier"),
		nats.Timeout(5 * time.Second),
		nats.ErrorHandler(func(_ *nats.Conn, sub *nats.Subscription, err error) {
			subject := ""
			if sub != nil {
				subject = sub.Subject
			}
			logger.Error("NATS error", zap.String("subject", subject), zap.Error(err))
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			logger.Info("NATS connection closed")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("NATS reconnected", zap.String("url", nc.ConnectedUrl()))
		}),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn("NATS disconnected", zap.Error(err))
		}),
	}

	nc, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	logger.Info("Connected to NATS", zap.String("url", nc.ConnectedUrl()))

	return NewNATSPublisher(nc, prefix, logger), nil
}

// NewNATSPublisher wraps an established connection.
func NewNATSPublisher(nc Conn, prefix string, logger *zap.Logger) *NATSPublisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &NATSPublisher{nc: nc, prefix: prefix, logger: logger}
}

// Subject returns the full subject of an event.
func (p *NATSPublisher) Subject(event string) string {
	if p.prefix == "" {
		return event
	}
	return p.prefix + "." + event
}

// Publish implements Publisher
func (p *NATSPublisher) Publish(_ context.Context, event string, payload any) error {
	subject := p.Subject(event)
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal event for %s: %w", subject, err)
	}
	if err := p.nc.Publish(subject, data); err != nil {
		p.logger.Error("Failed to publish NATS message", zap.String("subject", subject), zap.Error(err))
		return fmt.Errorf("failed to publish NATS message for %s: %w", subject, err)
	}
	p.logger.Debug("Published NATS message", zap.String("subject", subject))
	return nil
}

// Close drains and closes the connection.
func (p *NATSPublisher) Close() {
	if p.nc == nil || p.nc.IsClosed() {
		return
	}
	if err := p.nc.Drain(); err != nil {
		p.logger.Error("Error draining NATS connection", zap.Error(err))
	}
	p.nc.Close()
	p.logger.Info("NATS publisher connection closed")
}

// Nop discards every event.
type Nop struct{}

// Publish implements Publisher
func (Nop) Publish(context.Context, string, any) error { return nil }

// Close implements Publisher
func (Nop) Close() {}
