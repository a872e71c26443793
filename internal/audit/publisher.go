package audit

import (
	"context"
	"encoding/json"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"
)

// Publisher ships audit envelopes to a broker.
type Publisher interface {
	Publish(ctx context.Context, routingKey string, event any) error
	Close() error
}

// NewPublisher dials RabbitMQ and declares a durable topic exchange. When the URL is empty
// or the broker is unreachable it falls back to a publisher that only logs.
func NewPublisher(amqpURL, exchange string, logger zerolog.Logger) Publisher {
	log := logger.With().Str("component", "audit_publisher").Logger()
	if amqpURL == "" {
		log.Info().Msg("amqp url empty, audit events are logged only")
		return noopPublisher{reason: "empty amqp url", logger: log}
	}

	conn, err := amqp.Dial(amqpURL)
	if err != nil {
		log.Warn().Err(err).Msg("amqp unavailable, audit events are logged only")
		return noopPublisher{reason: err.Error(), logger: log}
	}

	ch, err := conn.Channel()
	if err != nil {
		log.Warn().Err(err).Msg("amqp channel failed, audit events are logged only")
		_ = conn.Close()
		return noopPublisher{reason: err.Error(), logger: log}
	}

	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		log.Warn().Err(err).Str("exchange", exchange).Msg("amqp exchange declare failed, audit events are logged only")
		_ = ch.Close()
		_ = conn.Close()
		return noopPublisher{reason: err.Error(), logger: log}
	}

	log.Info().Str("exchange", exchange).Msg("audit publisher connected")
	return &amqpPublisher{conn: conn, ch: ch, exchange: exchange, logger: log}
}

type amqpPublisher struct {
	conn     *amqp.Connection
	ch       *amqp.Channel
	exchange string
	logger   zerolog.Logger
}

func (p *amqpPublisher) Publish(ctx context.Context, routingKey string, event any) error {
	body, err := json.Marshal(event)
	if err != nil {
		return err
	}

	err = p.ch.PublishWithContext(ctx, p.exchange, routingKey, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now().UTC(),
		Body:         body,
	})
	if err != nil {
		p.logger.Warn().Err(err).Str("routing_key", routingKey).Msg("audit publish failed")
	}
	return err
}

func (p *amqpPublisher) Close() error {
	if p.ch != nil {
		_ = p.ch.Close()
	}
	if p.conn != nil {
		return p.conn.Close()
	}
	return nil
}

type noopPublisher struct {
	reason string
	logger zerolog.Logger
}

func (p noopPublisher) Publish(_ context.Context, routingKey string, event any) error {
	entry := p.logger.Debug().Str("routing_key", routingKey)
	if envelope, ok := event.(Envelope); ok {
		entry = entry.Str("action", envelope.Action).Uint("chat_id", envelope.ChatID)
	}
	entry.Msg("audit event (noop)")
	return nil
}

func (noopPublisher) Close() error {
	return nil
}

// Mode reports whether the publisher talks to a broker.
func Mode(p Publisher) string {
	switch p.(type) {
	case *amqpPublisher:
		return "amqp"
	case noopPublisher:
		return "noop"
	default:
		return "unknown"
	}
}

// NoopReason explains why the broker is not used.
func NoopReason(p Publisher) string {
	if publisher, ok := p.(noopPublisher); ok {
		return publisher.reason
	}
	return ""
}
