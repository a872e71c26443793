package realtime

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/noah-isme/gema-chat/internal/dto"
	"github.com/noah-isme/gema-chat/internal/observability"
	"github.com/noah-isme/gema-chat/internal/service"
)

var (
	errMalformedPayload = fmt.Errorf("malformed event payload: %w", service.ErrValidation)
	errUnknownEvent     = fmt.Errorf("unknown event: %w", service.ErrValidation)
	errNotInRoom        = fmt.Errorf("not subscribed to chat: %w", service.ErrForbidden)
)

func (g *Gateway) readLoop(ctx context.Context, c *client) {
	for {
		var envelope dto.SocketEnvelope
		if err := c.conn.ReadJSON(&envelope); err != nil {
			if !c.isClosed() {
				c.logger.Debug().Err(err).Msg("realtime read loop ended")
			}
			return
		}

		observability.RealtimeEvents().WithLabelValues(envelope.Event, "inbound").Inc()

		result, err := g.dispatch(ctx, c, envelope)
		if err != nil {
			c.logger.Warn().Err(err).Str("event", envelope.Event).Msg("realtime event rejected")
			c.reply(dto.EventError, envelope.RequestID, dto.ErrorPayload{
				Event:   envelope.Event,
				Code:    service.ErrorCode(err),
				Message: err.Error(),
			})
			continue
		}

		switch {
		case envelope.Event == dto.EventPing:
			c.reply(dto.EventPong, envelope.RequestID, nil)
		case envelope.RequestID != "":
			c.reply(dto.EventAck, envelope.RequestID, dto.AckPayload{Event: envelope.Event, Result: result})
		}
	}
}

func (g *Gateway) dispatch(ctx context.Context, c *client, envelope dto.SocketEnvelope) (interface{}, error) {
	delegate := g.chat()

	switch envelope.Event {
	case dto.EventPing:
		g.refreshPresence(c)
		return nil, nil

	case dto.EventTyping:
		var payload dto.SocketTypingPayload
		if err := g.decode(envelope.Data, &payload); err != nil {
			return nil, err
		}
		if !g.rooms.contains(payload.ChatID, c.userID) {
			return nil, errNotInRoom
		}
		g.Publish(ctx, dto.ChatEvent{
			Name:          dto.EventTyping,
			ChatID:        payload.ChatID,
			Payload:       dto.TypingPayload{ChatID: payload.ChatID, UserID: c.userID, IsTyping: payload.IsTyping},
			ExcludeUserID: c.userID,
		})
		return nil, nil

	case dto.EventMessage:
		var payload dto.SocketMessagePayload
		if err := g.decode(envelope.Data, &payload); err != nil {
			return nil, err
		}
		return delegate.SendMessage(ctx, payload.ChatID, c.userID, payload.SendMessageRequest)

	case dto.EventMessageStatus:
		var payload dto.SocketStatusPayload
		if err := g.decode(envelope.Data, &payload); err != nil {
			return nil, err
		}
		return delegate.UpdateMessageStatus(ctx, payload.ChatID, payload.MessageID, c.userID, payload.Status)

	case dto.EventMarkRead:
		var payload dto.SocketChatPayload
		if err := g.decode(envelope.Data, &payload); err != nil {
			return nil, err
		}
		return delegate.MarkMessagesAsRead(ctx, payload.ChatID, c.userID)

	case dto.EventJoinChat:
		var payload dto.SocketChatPayload
		if err := g.decode(envelope.Data, &payload); err != nil {
			return nil, err
		}
		member, err := delegate.IsParticipant(ctx, payload.ChatID, c.userID)
		if err != nil {
			return nil, err
		}
		if !member {
			return nil, service.ErrNotParticipant
		}
		g.rooms.join(payload.ChatID, c.userID)
		return payload, nil

	case dto.EventLeaveChat:
		var payload dto.SocketChatPayload
		if err := g.decode(envelope.Data, &payload); err != nil {
			return nil, err
		}
		g.rooms.leave(payload.ChatID, c.userID)
		return payload, nil

	default:
		return nil, errUnknownEvent
	}
}

func (g *Gateway) decode(raw json.RawMessage, target interface{}) error {
	if len(raw) == 0 {
		return errMalformedPayload
	}
	if err := json.Unmarshal(raw, target); err != nil {
		return errMalformedPayload
	}
	return g.validator.Struct(target)
}
