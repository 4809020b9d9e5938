package events

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/ernie/whitelist-warden/internal/domain"
)

// NATSSink publishes each event as JSON on <prefix>.<event type>
type NATSSink struct {
	conn   *nats.Conn
	prefix string
	log    *zap.Logger
}

// ConnectNATS dials the broker. The connection reconnects on its own.
func ConnectNATS(url, prefix string, log *zap.Logger) (*NATSSink, error) {
	if log == nil {
		log = zap.NewNop()
	}
	log = log.Named("nats")

	conn, err := nats.Connect(url,
		nats.Name("whitelist-warden"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Warn("disconnected from nats", zap.Error(err))
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			log.Info("reconnected to nats", zap.String("url", c.ConnectedUrl()))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connecting to nats: %w", err)
	}

	return &NATSSink{conn: conn, prefix: prefix, log: log}, nil
}

// Subject returns the subject an event type is published on
func (s *NATSSink) Subject(eventType string) string {
	if s.prefix == "" {
		return eventType
	}
	return s.prefix + "." + eventType
}

// Publish sends event. Failures are logged; the bus never retries.
func (s *NATSSink) Publish(event domain.Event) {
	data, err := json.Marshal(event)
	if err != nil {
		s.log.Error("marshaling event", zap.String("event", event.Type), zap.Error(err))
		return
	}
	if err := s.conn.Publish(s.Subject(event.Type), data); err != nil {
		s.log.Warn("publishing event", zap.String("event", event.Type), zap.Error(err))
	}
}

// Close flushes pending messages and closes the connection
func (s *NATSSink) Close() error {
	return s.conn.Drain()
}
