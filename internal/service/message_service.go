package service

import (
	"context"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/noah-isme/gema-chat/internal/dto"
	"github.com/noah-isme/gema-chat/internal/models"
	"github.com/noah-isme/gema-chat/internal/observability"
)

// DeletedMessagePlaceholder replaces the chat preview of a message deleted for everyone.
const DeletedMessagePlaceholder = "This message was deleted"

func (s *chatService) SendMessage(ctx context.Context, chatID uint, senderID string, req dto.SendMessageRequest) (response dto.MessageResponse, err error) {
	ctx, span := s.tracer.Start(ctx, "chat.send_message", trace.WithAttributes(
		attribute.Int64("chat.id", int64(chatID)),
		attribute.String("chat.sender_id", senderID),
		attribute.String("chat.type", req.Type),
	))
	defer func() { endSpan(span, err) }()

	if err := s.validator.Struct(req); err != nil {
		return dto.MessageResponse{}, err
	}

	chat, err := s.loadChat(ctx, chatID)
	if err != nil {
		return dto.MessageResponse{}, err
	}
	if err := s.checkCanPost(chat, senderID); err != nil {
		return dto.MessageResponse{}, err
	}

	messageType := models.MessageType(strings.TrimSpace(req.Type))
	if messageType == "" {
		messageType = models.MessageTypeText
	}
	if !messageType.Valid() {
		return dto.MessageResponse{}, ErrInvalidType
	}

	content := cleanText(s.sanitizer, req.Content)
	if err := requireContent(messageType, content, len(req.Attachments)); err != nil {
		return dto.MessageResponse{}, err
	}

	message := models.Message{
		ChatID:   chatID,
		SenderID: senderID,
		Content:  content,
		Type:     messageType,
	}

	attachments := make([]models.Attachment, 0, len(req.Attachments))
	for _, attachment := range req.Attachments {
		attachments = append(attachments, attachment.Model())
	}
	message.SetAttachments(attachments)

	if req.ReplyToID != nil {
		original, err := s.loadMessage(ctx, *req.ReplyToID)
		if err != nil {
			return dto.MessageResponse{}, err
		}
		if original.ChatID != chatID {
			return dto.MessageResponse{}, ErrMessageNotFound
		}
		message.SetReplyTo(original.Reference())
	}

	return s.deliver(ctx, chat, &message)
}

func (s *chatService) ReplyToMessage(ctx context.Context, chatID, originalID uint, userID string, req dto.ReplyMessageRequest) (dto.MessageResponse, error) {
	if err := s.validator.Struct(req); err != nil {
		return dto.MessageResponse{}, err
	}

	original, err := s.loadMessage(ctx, originalID)
	if err != nil {
		return dto.MessageResponse{}, err
	}
	if original.ChatID != chatID {
		return dto.MessageResponse{}, ErrMessageNotFound
	}

	return s.SendMessage(ctx, chatID, userID, dto.SendMessageRequest{
		Content:   req.Content,
		Type:      string(models.MessageTypeText),
		ReplyToID: &originalID,
	})
}

func (s *chatService) ForwardMessage(ctx context.Context, messageID, targetChatID uint, userID string) (response dto.MessageResponse, err error) {
	ctx, span := s.tracer.Start(ctx, "chat.forward_message", trace.WithAttributes(
		attribute.Int64("chat.message_id", int64(messageID)),
		attribute.Int64("chat.target_id", int64(targetChatID)),
	))
	defer func() { endSpan(span, err) }()

	source, err := s.loadMessage(ctx, messageID)
	if err != nil {
		return dto.MessageResponse{}, err
	}
	sourceChat, err := s.loadChat(ctx, source.ChatID)
	if err != nil {
		return dto.MessageResponse{}, err
	}
	if !sourceChat.HasParticipant(userID) {
		return dto.MessageResponse{}, ErrNotParticipant
	}
	if source.DeletedForEveryone {
		return dto.MessageResponse{}, ErrMessageDeleted
	}

	target, err := s.loadChat(ctx, targetChatID)
	if err != nil {
		return dto.MessageResponse{}, err
	}
	if err := s.checkCanPost(target, userID); err != nil {
		return dto.MessageResponse{}, err
	}

	forwarded := models.Message{
		ChatID:   targetChatID,
		SenderID: userID,
		Content:  source.Content,
		Type:     source.Type,
	}
	forwarded.SetAttachments(source.AttachmentList())
	forwarded.SetForwardedFrom(source.Reference())

	return s.deliver(ctx, target, &forwarded)
}

func (s *chatService) EditMessage(ctx context.Context, chatID, messageID uint, userID string, req dto.EditMessageRequest) (response dto.MessageResponse, err error) {
	ctx, span := s.tracer.Start(ctx, "chat.edit_message", trace.WithAttributes(attribute.Int64("chat.message_id", int64(messageID))))
	defer func() { endSpan(span, err) }()

	if err := s.validator.Struct(req); err != nil {
		return dto.MessageResponse{}, err
	}

	message, err := s.loadMessage(ctx, messageID)
	if err != nil {
		return dto.MessageResponse{}, err
	}
	if message.ChatID != chatID {
		return dto.MessageResponse{}, ErrMessageNotFound
	}
	if message.SenderID != userID {
		return dto.MessageResponse{}, ErrNotSender
	}
	if message.DeletedForEveryone {
		return dto.MessageResponse{}, ErrMessageDeleted
	}

	content := cleanText(s.sanitizer, req.Content)
	if content == "" {
		return dto.MessageResponse{}, ErrEmptyMessage
	}

	if err := s.messages.UpdateContent(ctx, messageID, content); err != nil {
		return dto.MessageResponse{}, s.translate(err, ErrMessageNotFound)
	}

	updated, err := s.loadMessage(ctx, messageID)
	if err != nil {
		return dto.MessageResponse{}, err
	}

	if chat, err := s.loadChat(ctx, chatID); err == nil {
		s.refreshPreview(ctx, chat, messageID, func(preview *models.LastMessage) {
			preview.Content = updated.Content
		})
	}

	response = dto.NewMessageResponse(updated)
	s.events.Publish(ctx, dto.ChatEvent{Name: dto.EventMessageUpdated, ChatID: chatID, Payload: response})
	return response, nil
}

func (s *chatService) DeleteMessage(ctx context.Context, messageID uint, userID string, forEveryone bool) (err error) {
	ctx, span := s.tracer.Start(ctx, "chat.delete_message", trace.WithAttributes(
		attribute.Int64("chat.message_id", int64(messageID)),
		attribute.Bool("chat.for_everyone", forEveryone),
	))
	defer func() { endSpan(span, err) }()

	message, err := s.loadMessage(ctx, messageID)
	if err != nil {
		return err
	}

	if !forEveryone {
		chat, err := s.loadChat(ctx, message.ChatID)
		if err != nil {
			return err
		}
		if !chat.HasParticipant(userID) {
			return ErrNotParticipant
		}
		return s.messages.HideForUser(ctx, messageID, userID)
	}

	if message.SenderID != userID {
		return ErrNotSender
	}
	if message.DeletedForEveryone {
		return nil
	}

	if err := s.messages.DeleteForEveryone(ctx, messageID); err != nil {
		return s.translate(err, ErrMessageNotFound)
	}

	if chat, err := s.loadChat(ctx, message.ChatID); err == nil {
		s.refreshPreview(ctx, chat, messageID, func(preview *models.LastMessage) {
			preview.Content = DeletedMessagePlaceholder
		})
	}

	s.events.Publish(ctx, dto.ChatEvent{
		Name:    dto.EventMessageDeleted,
		ChatID:  message.ChatID,
		Payload: dto.MessageDeletedPayload{ChatID: message.ChatID, MessageID: messageID},
	})
	s.audit.Record(ctx, auditMessageDeleted, userID, message.ChatID, map[string]string{
		"message_id": strconv.FormatUint(uint64(messageID), 10),
	})
	return nil
}

func (s *chatService) AddReaction(ctx context.Context, messageID uint, userID string, req dto.ReactionRequest) (response dto.MessageResponse, err error) {
	ctx, span := s.tracer.Start(ctx, "chat.add_reaction", trace.WithAttributes(attribute.Int64("chat.message_id", int64(messageID))))
	defer func() { endSpan(span, err) }()

	if err := s.validator.Struct(req); err != nil {
		return dto.MessageResponse{}, err
	}

	message, err := s.loadMessage(ctx, messageID)
	if err != nil {
		return dto.MessageResponse{}, err
	}
	if err := s.requireMember(ctx, message.ChatID, userID); err != nil {
		return dto.MessageResponse{}, err
	}

	reaction := models.MessageReaction{
		MessageID: messageID,
		UserID:    userID,
		Emoji:     strings.TrimSpace(req.Emoji),
		CreatedAt: time.Now(),
	}
	if err := s.messages.UpsertReaction(ctx, &reaction); err != nil {
		return dto.MessageResponse{}, err
	}

	updated, err := s.loadMessage(ctx, messageID)
	if err != nil {
		return dto.MessageResponse{}, err
	}

	reactionResponse := dto.NewReactionResponse(reaction)
	s.events.Publish(ctx, dto.ChatEvent{
		Name:   dto.EventMessageReaction,
		ChatID: message.ChatID,
		Payload: dto.MessageReactionPayload{
			ChatID:    message.ChatID,
			MessageID: messageID,
			UserID:    userID,
			Reaction:  &reactionResponse,
		},
	})
	return dto.NewMessageResponse(updated), nil
}

func (s *chatService) RemoveReaction(ctx context.Context, messageID uint, userID string) (response dto.MessageResponse, err error) {
	ctx, span := s.tracer.Start(ctx, "chat.remove_reaction", trace.WithAttributes(attribute.Int64("chat.message_id", int64(messageID))))
	defer func() { endSpan(span, err) }()

	message, err := s.loadMessage(ctx, messageID)
	if err != nil {
		return dto.MessageResponse{}, err
	}
	if err := s.requireMember(ctx, message.ChatID, userID); err != nil {
		return dto.MessageResponse{}, err
	}

	removed, err := s.messages.RemoveReaction(ctx, messageID, userID)
	if err != nil {
		return dto.MessageResponse{}, err
	}

	updated, err := s.loadMessage(ctx, messageID)
	if err != nil {
		return dto.MessageResponse{}, err
	}

	if removed {
		s.events.Publish(ctx, dto.ChatEvent{
			Name:   dto.EventMessageReaction,
			ChatID: message.ChatID,
			Payload: dto.MessageReactionPayload{
				ChatID:    message.ChatID,
				MessageID: messageID,
				UserID:    userID,
			},
		})
	}
	return dto.NewMessageResponse(updated), nil
}

func (s *chatService) MarkMessagesAsRead(ctx context.Context, chatID uint, userID string) (response dto.MarkReadResponse, err error) {
	ctx, span := s.tracer.Start(ctx, "chat.mark_read", trace.WithAttributes(attribute.Int64("chat.id", int64(chatID))))
	defer func() { endSpan(span, err) }()

	chat, err := s.loadChat(ctx, chatID)
	if err != nil {
		return dto.MarkReadResponse{}, err
	}
	if !chat.HasParticipant(userID) {
		return dto.MarkReadResponse{}, ErrNotParticipant
	}

	ids, err := s.messages.MarkChatRead(ctx, chatID, userID)
	if err != nil {
		return dto.MarkReadResponse{}, err
	}
	span.SetAttributes(attribute.Int("chat.read_count", len(ids)))

	for _, id := range ids {
		s.events.Publish(ctx, dto.ChatEvent{
			Name:    dto.EventMessageStatus,
			ChatID:  chatID,
			Payload: dto.MessageStatusPayload{ChatID: chatID, MessageID: id, Status: string(models.MessageStatusRead), UserID: userID},
		})
	}
	if len(ids) > 0 {
		changed := make(map[uint]struct{}, len(ids))
		for _, id := range ids {
			changed[id] = struct{}{}
		}
		if preview, ok := chat.Preview(); ok {
			if _, hit := changed[preview.ID]; hit {
				s.refreshPreview(ctx, chat, preview.ID, func(p *models.LastMessage) {
					p.Status = models.MessageStatusRead
				})
			}
		}
	}

	return dto.MarkReadResponse{ChatID: chatID, Updated: len(ids)}, nil
}

func (s *chatService) UpdateMessageStatus(ctx context.Context, chatID, messageID uint, userID, status string) (response dto.MessageStatusPayload, err error) {
	ctx, span := s.tracer.Start(ctx, "chat.update_status", trace.WithAttributes(
		attribute.Int64("chat.message_id", int64(messageID)),
		attribute.String("chat.status", status),
	))
	defer func() { endSpan(span, err) }()

	next := models.MessageStatus(strings.TrimSpace(status))
	if next != models.MessageStatusDelivered && next != models.MessageStatusRead {
		return dto.MessageStatusPayload{}, ErrInvalidStatus
	}

	message, err := s.loadMessage(ctx, messageID)
	if err != nil {
		return dto.MessageStatusPayload{}, err
	}
	if message.ChatID != chatID {
		return dto.MessageStatusPayload{}, ErrMessageNotFound
	}
	chat, err := s.loadChat(ctx, chatID)
	if err != nil {
		return dto.MessageStatusPayload{}, err
	}
	if !chat.HasParticipant(userID) {
		return dto.MessageStatusPayload{}, ErrNotParticipant
	}
	if message.SenderID == userID {
		return dto.MessageStatusPayload{}, ErrOwnMessageStatus
	}

	changed, err := s.messages.AdvanceStatus(ctx, messageID, next)
	if err != nil {
		return dto.MessageStatusPayload{}, err
	}

	current := message.Status
	if changed {
		current = next
	}
	response = dto.MessageStatusPayload{ChatID: chatID, MessageID: messageID, Status: string(current), UserID: userID}

	if changed {
		s.refreshPreview(ctx, chat, messageID, func(p *models.LastMessage) { p.Status = next })
		s.events.Publish(ctx, dto.ChatEvent{Name: dto.EventMessageStatus, ChatID: chatID, Payload: response})
	}
	return response, nil
}

// MarkDelivered flips a sent message to delivered. It is a no-op for any other status.
func (s *chatService) MarkDelivered(ctx context.Context, messageID uint) (bool, error) {
	changed, err := s.messages.AdvanceStatus(ctx, messageID, models.MessageStatusDelivered)
	if err != nil || !changed {
		return false, err
	}

	message, err := s.loadMessage(ctx, messageID)
	if err != nil {
		return true, err
	}
	if chat, err := s.loadChat(ctx, message.ChatID); err == nil {
		s.refreshPreview(ctx, chat, messageID, func(p *models.LastMessage) {
			p.Status = models.MessageStatusDelivered
		})
	}

	s.events.Publish(ctx, dto.ChatEvent{
		Name:   dto.EventMessageStatus,
		ChatID: message.ChatID,
		Payload: dto.MessageStatusPayload{
			ChatID:    message.ChatID,
			MessageID: messageID,
			Status:    string(models.MessageStatusDelivered),
		},
	})
	return true, nil
}

func (s *chatService) ListMessages(ctx context.Context, chatID uint, userID string, query dto.MessageHistoryQuery) ([]dto.MessageResponse, error) {
	if err := s.validator.Struct(query); err != nil {
		return nil, err
	}

	if err := s.requireMember(ctx, chatID, userID); err != nil {
		return nil, err
	}

	before := time.Time{}
	if query.Before != nil {
		before = *query.Before
	}

	messages, err := s.messages.ListByChat(ctx, chatID, userID, before, query.Limit)
	if err != nil {
		return nil, err
	}
	return dto.NewMessageResponseSlice(messages), nil
}

// deliver persists a message, refreshes the chat preview and announces it to the room.
// A failed preview update is logged and does not fail the send.
func (s *chatService) deliver(ctx context.Context, chat models.Chat, message *models.Message) (dto.MessageResponse, error) {
	message.Status = models.MessageStatusSent
	if err := s.messages.Create(ctx, message); err != nil {
		return dto.MessageResponse{}, err
	}

	if err := s.chats.SetLastMessage(ctx, chat.ID, message.Preview()); err != nil {
		s.logger.Warn().Err(err).Uint("chat_id", chat.ID).Uint("message_id", message.ID).Msg("failed to refresh chat preview")
	}

	observability.ChatMessagesSent().WithLabelValues(string(message.Type)).Inc()

	response := dto.NewMessageResponse(*message)
	s.events.Publish(ctx, dto.ChatEvent{
		Name:     dto.EventMessage,
		ChatID:   chat.ID,
		Payload:  response,
		Delivery: &dto.DeliveryTarget{MessageID: message.ID, SenderID: message.SenderID},
	})
	return response, nil
}

// checkCanPost applies membership, block and group posting rules.
func (s *chatService) checkCanPost(chat models.Chat, senderID string) error {
	if !chat.HasParticipant(senderID) {
		return ErrNotParticipant
	}

	switch variant := chat.Variant().(type) {
	case models.DirectChat:
		if variant.IsBlocked(variant.Counterpart(senderID), senderID) {
			return ErrSenderBlocked
		}
	case models.GroupChat:
		if !variant.CanPost(senderID) {
			return ErrPostingRestrict
		}
	}
	return nil
}

func (s *chatService) requireMember(ctx context.Context, chatID uint, userID string) error {
	chat, err := s.loadChat(ctx, chatID)
	if err != nil {
		return err
	}
	if !chat.HasParticipant(userID) {
		return ErrNotParticipant
	}
	return nil
}

func (s *chatService) loadMessage(ctx context.Context, messageID uint) (models.Message, error) {
	message, err := s.messages.GetByID(ctx, messageID)
	if err != nil {
		return models.Message{}, s.translate(err, ErrMessageNotFound)
	}
	return message, nil
}

// refreshPreview rewrites the cached last message when it is messageID. The write is
// skipped when a newer message replaced the preview after chat was loaded. The chat's
// activity timestamp is left alone.
func (s *chatService) refreshPreview(ctx context.Context, chat models.Chat, messageID uint, mutate func(*models.LastMessage)) {
	preview, ok := chat.Preview()
	if !ok || preview.ID != messageID {
		return
	}
	mutate(&preview)
	updated, err := s.chats.RefreshLastMessage(ctx, chat.ID, preview)
	if err != nil {
		s.logger.Warn().Err(err).Uint("chat_id", chat.ID).Uint("message_id", messageID).Msg("failed to update chat preview")
		return
	}
	if !updated {
		s.logger.Debug().Uint("chat_id", chat.ID).Uint("message_id", messageID).Msg("chat preview moved on, skipping refresh")
	}
}

func requireContent(messageType models.MessageType, content string, attachments int) error {
	switch messageType {
	case models.MessageTypeText, models.MessageTypeSystem, models.MessageTypeLocation:
		if content == "" {
			return ErrEmptyMessage
		}
	default:
		if content == "" && attachments == 0 {
			return ErrEmptyMessage
		}
	}
	return nil
}
