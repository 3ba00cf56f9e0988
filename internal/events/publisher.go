// Package events publishes domain events to NATS.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
)

// Envelope wraps every published payload.
type Envelope struct {
	ID      string    `json:"id"`
	Subject string    `json:"subject"`
	Time    time.Time `json:"time"`
	Source  string    `json:"source"`
	Data    any       `json:"data"`
}

// conn is the part of *nats.Conn the publisher uses.
type conn interface {
	Publish(subj string, data []byte) error
	Drain() error
}

// NATSPublisher publishes JSON envelopes under a subject prefix.
type NATSPublisher struct {
	nc     conn
	prefix string
	source string
	logger *slog.Logger
	now    func() time.Time
}

// Connect dials url and returns a publisher prefixing every subject with
// prefix. The connection reconnects forever.
func Connect(url, prefix, name string, logger *slog.Logger) (*NATSPublisher, error) {
	if logger == nil {
		logger = slog.Default()
	}
	nc, err := nats.Connect(url,
		nats.Name(name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("nats reconnected", "url", nc.ConnectedUrl())
		}),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("nats disconnected", "error", err)
			}
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to nats: %w", err)
	}
	return newPublisher(nc, prefix, name, logger), nil
}

func newPublisher(nc conn, prefix, source string, logger *slog.Logger) *NATSPublisher {
	return &NATSPublisher{
		nc:     nc,
		prefix: strings.Trim(prefix, "."),
		source: source,
		logger: logger,
		now:    time.Now,
	}
}

// Subject returns the full subject for name.
func (p *NATSPublisher) Subject(name string) string {
	if p.prefix == "" {
		return name
	}
	return p.prefix + "." + name
}

// Publish sends payload on the prefixed subject.
func (p *NATSPublisher) Publish(ctx context.Context, subject string, payload any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	full := p.Subject(subject)
	data, err := json.Marshal(Envelope{
		ID:      uuid.NewString(),
		Subject: full,
		Time:    p.now().UTC(),
		Source:  p.source,
		Data:    payload,
	})
	if err != nil {
		return fmt.Errorf("encode %s event: %w", full, err)
	}
	if err := p.nc.Publish(full, data); err != nil {
		return fmt.Errorf("publish %s: %w", full, err)
	}
	p.logger.Debug("event published", "subject", full, "bytes", len(data))
	return nil
}

// Close drains pending messages and closes the connection.
func (p *NATSPublisher) Close() error {
	return p.nc.Drain()
}

// NopPublisher drops every event. It is used when NATS is not configured.
type NopPublisher struct{}

// Publish does nothing.
func (NopPublisher) Publish(context.Context, string, any) error { return nil }
