package audit

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/noah-isme/gema-chat/internal/middleware"
)

// Envelope is the audit message written to the exchange.
type Envelope struct {
	SchemaVersion int               `json:"schema_version"`
	EventType     string            `json:"event_type"`
	Action        string            `json:"action"`
	OccurredAt    string            `json:"occurred_at"`
	Service       string            `json:"service"`
	Environment   string            `json:"environment"`
	RequestID     string            `json:"request_id,omitempty"`
	ActorID       string            `json:"actor_id"`
	ChatID        uint              `json:"chat_id"`
	Attributes    map[string]string `json:"attributes,omitempty"`
}

// Emitter turns moderation actions into envelopes.
type Emitter struct {
	publisher   Publisher
	routingKey  string
	service     string
	environment string
	logger      zerolog.Logger
	now         func() time.Time
}

// NewEmitter constructs an emitter publishing on routingKey.
func NewEmitter(publisher Publisher, routingKey, service, environment string, logger zerolog.Logger) *Emitter {
	return &Emitter{
		publisher:   publisher,
		routingKey:  routingKey,
		service:     service,
		environment: environment,
		logger:      logger.With().Str("component", "audit").Logger(),
		now:         time.Now,
	}
}

// Record publishes a moderation action. Failures are logged and never returned.
func (e *Emitter) Record(ctx context.Context, action, actorID string, chatID uint, attrs map[string]string) {
	if e == nil || e.publisher == nil {
		return
	}

	envelope := Envelope{
		SchemaVersion: 1,
		EventType:     "chat_audit",
		Action:        action,
		OccurredAt:    e.now().UTC().Format(time.RFC3339Nano),
		Service:       e.service,
		Environment:   e.environment,
		RequestID:     middleware.CorrelationIDFromContext(ctx),
		ActorID:       actorID,
		ChatID:        chatID,
		Attributes:    attrs,
	}

	if err := e.publisher.Publish(ctx, e.routingKey, envelope); err != nil {
		e.logger.Warn().Err(err).Str("action", action).Uint("chat_id", chatID).Msg("audit publish failed")
	}
}
