package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/noah-isme/gema-chat/internal/dto"
	"github.com/noah-isme/gema-chat/internal/observability"
)

type relayEnvelope struct {
	Source string        `json:"source"`
	SentAt time.Time     `json:"sent_at"`
	Event  dto.ChatEvent `json:"event"`
}

// Start subscribes to events relayed by other nodes. The subscription is confirmed before
// Start returns and ends when ctx is cancelled.
func (g *Gateway) Start(ctx context.Context) error {
	switch {
	case g.nats != nil:
		return g.consumeNATS(ctx)
	case g.redis != nil:
		return g.consumeRedis(ctx)
	default:
		g.logger.Info().Msg("no relay configured, realtime events stay on this node")
		return nil
	}
}

func (g *Gateway) relay(ctx context.Context, event dto.ChatEvent) error {
	if g.nats == nil && g.redis == nil {
		return nil
	}

	payload, err := json.Marshal(relayEnvelope{
		Source: g.nodeID,
		SentAt: time.Now().UTC(),
		Event:  event,
	})
	if err != nil {
		return err
	}

	if g.nats != nil {
		return g.nats.Publish(g.natsSubject, payload)
	}
	return g.redis.Publish(ctx, g.redisChannel, payload).Err()
}

func (g *Gateway) consumeRedis(ctx context.Context) error {
	pubsub := g.redis.Subscribe(ctx, g.redisChannel)
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return fmt.Errorf("subscribe to %s: %w", g.redisChannel, err)
	}

	go func() {
		defer func() {
			_ = pubsub.Close()
		}()
		for {
			msg, err := pubsub.ReceiveMessage(ctx)
			if err != nil {
				if errors.Is(err, context.Canceled) || ctx.Err() != nil {
					return
				}
				g.logger.Error().Err(err).Msg("realtime redis subscription closed")
				return
			}
			g.handleRelay([]byte(msg.Payload))
		}
	}()

	g.logger.Info().Str("channel", g.redisChannel).Msg("realtime relay subscribed to redis")
	return nil
}

func (g *Gateway) consumeNATS(ctx context.Context) error {
	// Every node receives every event.
	sub, err := g.nats.Subscribe(g.natsSubject, func(msg *nats.Msg) {
		g.handleRelay(msg.Data)
	})
	if err != nil {
		return fmt.Errorf("subscribe to %s: %w", g.natsSubject, err)
	}
	if err := g.nats.Flush(); err != nil {
		g.logger.Warn().Err(err).Msg("failed to flush nats subscription")
	}

	go func() {
		<-ctx.Done()
		if err := sub.Drain(); err != nil {
			g.logger.Warn().Err(err).Msg("failed to drain realtime nats subscription")
		}
	}()

	g.logger.Info().Str("subject", g.natsSubject).Msg("realtime relay subscribed to nats")
	return nil
}

func (g *Gateway) handleRelay(data []byte) {
	var payload json.RawMessage
	envelope := relayEnvelope{Event: dto.ChatEvent{Payload: &payload}}
	if err := json.Unmarshal(data, &envelope); err != nil {
		g.logger.Warn().Err(err).Msg("invalid relayed realtime event")
		return
	}

	if envelope.Source == g.nodeID {
		return
	}

	observability.RealtimeEvents().WithLabelValues(envelope.Event.Name, "relayed").Inc()
	g.deliverLocal(envelope.Event)
}
