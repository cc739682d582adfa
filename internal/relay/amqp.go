package relay

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"

	"chatinbox/internal/bus"
)

// DefaultExchange is used when AMQPSinkConfig.Exchange is empty.
const DefaultExchange = "chatinbox.events"

type publisher interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// AMQPSinkConfig configures an AMQPSink.
type AMQPSinkConfig struct {
	URL      string
	Exchange string
	AppID    string
	Logger   *slog.Logger
}

// AMQPSink publishes events to a topic exchange with routing key
// "<tenant>.<event>". The connection is opened lazily and re-opened after
// a failed publish.
type AMQPSink struct {
	url      string
	exchange string
	appID    string
	logger   *slog.Logger

	mu   sync.Mutex
	conn *amqp.Connection
	ch   publisher
	open func() (publisher, error)
}

func NewAMQPSink(cfg AMQPSinkConfig) *AMQPSink {
	if cfg.Exchange == "" {
		cfg.Exchange = DefaultExchange
	}
	if cfg.AppID == "" {
		cfg.AppID = "chatinbox"
	}
	s := &AMQPSink{url: cfg.URL, exchange: cfg.Exchange, appID: cfg.AppID, logger: cfg.Logger}
	s.open = s.dial
	return s
}

func (s *AMQPSink) dial() (publisher, error) {
	conn, err := amqp.Dial(s.url)
	if err != nil {
		return nil, fmt.Errorf("amqp dial: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("amqp channel: %w", err)
	}
	if err := ch.ExchangeDeclare(s.exchange, "topic", true, false, false, false, nil); err != nil {
		conn.Close()
		return nil, fmt.Errorf("amqp exchange declare: %w", err)
	}
	s.conn = conn
	return ch, nil
}

// RoutingKey returns the key an event is published under.
func RoutingKey(e bus.Event) string {
	return e.TenantID + "." + e.Type
}

// Handle is a bus.EventHandler.
func (s *AMQPSink) Handle(ctx context.Context, e bus.Event) error {
	body, err := NewEnvelope(e).encode()
	if err != nil {
		return fmt.Errorf("encode relay event: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ch == nil {
		ch, err := s.open()
		if err != nil {
			return err
		}
		s.ch = ch
	}

	err = s.ch.PublishWithContext(ctx, s.exchange, RoutingKey(e), false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    e.ID,
		Type:         e.Type,
		Timestamp:    e.Timestamp,
		AppId:        s.appID,
		Body:         body,
	})
	if err != nil {
		s.resetLocked()
		return fmt.Errorf("amqp publish %s: %w", RoutingKey(e), err)
	}
	return nil
}

func (s *AMQPSink) resetLocked() {
	if s.ch != nil {
		s.ch.Close()
		s.ch = nil
	}
	if s.conn != nil {
		s.conn.Close()
		s.conn = nil
	}
}

// Close releases the broker connection.
func (s *AMQPSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resetLocked()
	return nil
}
