package events

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/goccy/go-json"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// NATSPublisher publishes JSON-encoded events on <prefix>.<type>
type NATSPublisher struct {
	conn   *nats.Conn
	prefix string
	logger *zap.Logger
}

// ConnectNATS dials the bus; reconnection is handled by the client
func ConnectNATS(url, prefix string, logger *zap.Logger) (*NATSPublisher, error) {
	logger = logger.Named("events")

	conn, err := nats.Connect(url,
		nats.Name("election-engine"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn("NATS disconnected", zap.Error(err))
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info("NATS reconnected", zap.String("url", c.ConnectedUrl()))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	return &NATSPublisher{conn: conn, prefix: prefix, logger: logger}, nil
}

// Subject returns the subject an event is published on
func (p *NATSPublisher) Subject(ev Event) string {
	return Subject(p.prefix, ev)
}

func (p *NATSPublisher) Publish(ctx context.Context, ev Event) error {
	payload, err := Encode(ev)
	if err != nil {
		return err
	}

	msg := nats.NewMsg(p.Subject(ev))
	msg.Data = payload
	msg.Header.Set("Election-Id", strconv.FormatInt(ev.ElectionID, 10))

	if err := p.conn.PublishMsg(msg); err != nil {
		return fmt.Errorf("failed to publish: %w", err)
	}
	if err := p.conn.FlushWithContext(ctx); err != nil {
		return fmt.Errorf("failed to flush: %w", err)
	}
	return nil
}

// Close drains pending messages and closes the connection
func (p *NATSPublisher) Close() error {
	if err := p.conn.Drain(); err != nil {
		return fmt.Errorf("draining NATS connection: %w", err)
	}
	return nil
}

// Subject builds <prefix>.<type>
func Subject(prefix string, ev Event) string {
	return prefix + "." + string(ev.Type)
}

// Encode renders an event as JSON
func Encode(ev Event) ([]byte, error) {
	payload, err := json.Marshal(ev)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal event: %w", err)
	}
	return payload, nil
}
