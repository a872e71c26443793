package service

import (
	"context"
	"errors"
	"fmt"
	"html"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/microcosm-cc/bluemonday"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"github.com/noah-isme/gema-chat/internal/dto"
	"github.com/noah-isme/gema-chat/internal/models"
	"github.com/noah-isme/gema-chat/internal/repository"
)

// EventPublisher fans chat events out to connected clients.
type EventPublisher interface {
	Publish(ctx context.Context, event dto.ChatEvent)
}

// AuditRecorder receives moderation actions.
type AuditRecorder interface {
	Record(ctx context.Context, action, actorID string, chatID uint, attrs map[string]string)
}

type noopEvents struct{}

func (noopEvents) Publish(context.Context, dto.ChatEvent) {}

type noopAudit struct{}

func (noopAudit) Record(context.Context, string, string, uint, map[string]string) {}

// ChatService is the only component that mutates chats and messages. Every accepted
// mutation is persisted first and then announced through the EventPublisher.
type ChatService interface {
	CreateDirectChat(ctx context.Context, creatorID string, req dto.CreateDirectChatRequest) (dto.ChatResponse, error)
	CreateGroupChat(ctx context.Context, creatorID string, req dto.CreateGroupChatRequest) (dto.ChatResponse, error)
	GetChat(ctx context.Context, chatID uint, userID string) (dto.ChatResponse, error)
	ListChats(ctx context.Context, userID string) ([]dto.ChatResponse, error)
	ChatIDsForUser(ctx context.Context, userID string) ([]uint, error)
	IsParticipant(ctx context.Context, chatID uint, userID string) (bool, error)

	SendMessage(ctx context.Context, chatID uint, senderID string, req dto.SendMessageRequest) (dto.MessageResponse, error)
	EditMessage(ctx context.Context, chatID, messageID uint, userID string, req dto.EditMessageRequest) (dto.MessageResponse, error)
	DeleteMessage(ctx context.Context, messageID uint, userID string, forEveryone bool) error
	ReplyToMessage(ctx context.Context, chatID, originalID uint, userID string, req dto.ReplyMessageRequest) (dto.MessageResponse, error)
	ForwardMessage(ctx context.Context, messageID, targetChatID uint, userID string) (dto.MessageResponse, error)
	AddReaction(ctx context.Context, messageID uint, userID string, req dto.ReactionRequest) (dto.MessageResponse, error)
	RemoveReaction(ctx context.Context, messageID uint, userID string) (dto.MessageResponse, error)
	MarkMessagesAsRead(ctx context.Context, chatID uint, userID string) (dto.MarkReadResponse, error)
	UpdateMessageStatus(ctx context.Context, chatID, messageID uint, userID, status string) (dto.MessageStatusPayload, error)
	MarkDelivered(ctx context.Context, messageID uint) (bool, error)
	ListMessages(ctx context.Context, chatID uint, userID string, query dto.MessageHistoryQuery) ([]dto.MessageResponse, error)

	AddGroupMember(ctx context.Context, chatID uint, userID, addedBy string) (dto.ChatResponse, error)
	RemoveGroupMember(ctx context.Context, chatID uint, userID, removedBy string) (dto.ChatResponse, error)
	UpdateGroupAdmin(ctx context.Context, chatID uint, userID, updatedBy string, isAdmin bool) (dto.ChatResponse, error)
	UpdateGroupSettings(ctx context.Context, chatID uint, userID string, settings dto.GroupSettingsPayload) (dto.ChatResponse, error)
	UpdateGroupInfo(ctx context.Context, chatID uint, userID string, req dto.UpdateGroupInfoRequest) (dto.ChatResponse, error)
	LeaveGroup(ctx context.Context, chatID uint, userID string) error
	DeleteChat(ctx context.Context, chatID uint, userID string) error
	BlockChat(ctx context.Context, chatID uint, userID string) (dto.BlockResponse, error)
	ClearChat(ctx context.Context, chatID uint, userID string) (dto.ClearChatResponse, error)
}

type chatService struct {
	chats     repository.ChatRepository
	messages  repository.MessageRepository
	directory AccountDirectory
	events    EventPublisher
	audit     AuditRecorder
	validator *validator.Validate
	logger    zerolog.Logger
	tracer    trace.Tracer
	sanitizer *bluemonday.Policy
	strict    *bluemonday.Policy
}

// NewChatService wires the chat service. events and audit may be nil.
func NewChatService(
	chats repository.ChatRepository,
	messages repository.MessageRepository,
	directory AccountDirectory,
	events EventPublisher,
	audit AuditRecorder,
	validate *validator.Validate,
	logger zerolog.Logger,
) ChatService {
	sanitizer := bluemonday.UGCPolicy()
	sanitizer.AllowElements("br")

	if events == nil {
		events = noopEvents{}
	}
	if audit == nil {
		audit = noopAudit{}
	}
	if validate == nil {
		validate = validator.New()
	}

	return &chatService{
		chats:     chats,
		messages:  messages,
		directory: directory,
		events:    events,
		audit:     audit,
		validator: validate,
		logger:    logger.With().Str("component", "chat_service").Logger(),
		tracer:    otel.Tracer("github.com/noah-isme/gema-chat/internal/service/chat"),
		sanitizer: sanitizer,
		strict:    bluemonday.StrictPolicy(),
	}
}

func (s *chatService) CreateDirectChat(ctx context.Context, creatorID string, req dto.CreateDirectChatRequest) (response dto.ChatResponse, err error) {
	ctx, span := s.tracer.Start(ctx, "chat.create_direct", trace.WithAttributes(attribute.String("chat.creator_id", creatorID)))
	defer func() { endSpan(span, err) }()

	if err := s.validator.Struct(req); err != nil {
		return dto.ChatResponse{}, err
	}

	participantID := strings.TrimSpace(req.ParticipantID)
	chat, err := models.NewDirectChat(creatorID, participantID)
	if err != nil {
		return dto.ChatResponse{}, ErrSelfChat
	}

	accounts, err := s.directory.Resolve(ctx, []string{creatorID, participantID})
	if err != nil {
		return dto.ChatResponse{}, err
	}
	for _, id := range []string{creatorID, participantID} {
		if _, ok := accounts[id]; !ok {
			return dto.ChatResponse{}, fmt.Errorf("%w: %s", ErrAccountNotFound, id)
		}
	}

	if _, err := s.chats.FindDirect(ctx, creatorID, participantID); err == nil {
		return dto.ChatResponse{}, ErrDirectChatExists
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		return dto.ChatResponse{}, err
	}

	if err := s.chats.Create(ctx, chat); err != nil {
		if _, lookupErr := s.chats.FindDirect(ctx, creatorID, participantID); lookupErr == nil {
			return dto.ChatResponse{}, ErrDirectChatExists
		}
		return dto.ChatResponse{}, err
	}

	stored, err := s.loadChat(ctx, chat.ID)
	if err != nil {
		return dto.ChatResponse{}, err
	}

	s.publishChatUpdated(ctx, stored, "created", stored.ParticipantIDs(), nil)
	s.logger.Info().Uint("chat_id", stored.ID).Str("creator_id", creatorID).Msg("direct chat created")

	return dto.NewChatResponse(stored, creatorID, accounts), nil
}

func (s *chatService) CreateGroupChat(ctx context.Context, creatorID string, req dto.CreateGroupChatRequest) (response dto.ChatResponse, err error) {
	ctx, span := s.tracer.Start(ctx, "chat.create_group", trace.WithAttributes(
		attribute.String("chat.creator_id", creatorID),
		attribute.Int("chat.requested_members", len(req.Participants)),
	))
	defer func() { endSpan(span, err) }()

	if err := s.validator.Struct(req); err != nil {
		return dto.ChatResponse{}, err
	}

	name := cleanText(s.strict, req.Name)
	if name == "" {
		return dto.ChatResponse{}, ErrEmptyGroupName
	}

	settings := models.GroupSettings{}
	if req.Settings != nil {
		settings = req.Settings.Model()
	}

	chat, err := models.NewGroupChat(creatorID, name, req.Participants, settings)
	if err != nil {
		return dto.ChatResponse{}, fmt.Errorf("%w: %s", ErrAccountNotFound, creatorID)
	}
	chat.Avatar = strings.TrimSpace(req.Avatar)
	chat.Description = cleanText(s.strict, req.Description)

	members := chat.ParticipantIDs()
	accounts, err := s.directory.Resolve(ctx, members)
	if err != nil {
		return dto.ChatResponse{}, err
	}
	for _, id := range members {
		if _, ok := accounts[id]; !ok {
			return dto.ChatResponse{}, fmt.Errorf("%w: %s", ErrAccountNotFound, id)
		}
	}

	if err := s.chats.Create(ctx, chat); err != nil {
		return dto.ChatResponse{}, err
	}

	stored, err := s.loadChat(ctx, chat.ID)
	if err != nil {
		return dto.ChatResponse{}, err
	}

	s.publishChatUpdated(ctx, stored, "created", stored.ParticipantIDs(), nil)
	s.logger.Info().Uint("chat_id", stored.ID).Int("members", len(members)).Msg("group chat created")

	return dto.NewChatResponse(stored, creatorID, accounts), nil
}

func (s *chatService) GetChat(ctx context.Context, chatID uint, userID string) (dto.ChatResponse, error) {
	chat, err := s.loadChat(ctx, chatID)
	if err != nil {
		return dto.ChatResponse{}, err
	}
	if !chat.HasParticipant(userID) {
		return dto.ChatResponse{}, ErrNotParticipant
	}
	return s.chatResponse(ctx, chat, userID), nil
}

func (s *chatService) ListChats(ctx context.Context, userID string) ([]dto.ChatResponse, error) {
	chats, err := s.chats.ListForUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	counterparts := make([]string, 0, len(chats))
	for i := range chats {
		if direct, ok := chats[i].Variant().(models.DirectChat); ok {
			counterparts = append(counterparts, direct.Counterpart(userID))
		}
	}
	accounts, err := s.directory.Resolve(ctx, counterparts)
	if err != nil {
		s.logger.Warn().Err(err).Str("user_id", userID).Msg("failed to resolve chat counterparts")
		accounts = map[string]dto.Account{}
	}

	out := make([]dto.ChatResponse, 0, len(chats))
	for _, chat := range chats {
		out = append(out, dto.NewChatResponse(chat, userID, accounts))
	}
	return out, nil
}

func (s *chatService) ChatIDsForUser(ctx context.Context, userID string) ([]uint, error) {
	return s.chats.ChatIDsForUser(ctx, userID)
}

func (s *chatService) IsParticipant(ctx context.Context, chatID uint, userID string) (bool, error) {
	chat, err := s.loadChat(ctx, chatID)
	if err != nil {
		return false, err
	}
	return chat.HasParticipant(userID), nil
}

func (s *chatService) AddGroupMember(ctx context.Context, chatID uint, userID, addedBy string) (response dto.ChatResponse, err error) {
	ctx, span := s.tracer.Start(ctx, "chat.add_member", trace.WithAttributes(attribute.Int64("chat.id", int64(chatID))))
	defer func() { endSpan(span, err) }()

	chat, err := s.loadChat(ctx, chatID)
	if err != nil {
		return dto.ChatResponse{}, err
	}
	group, ok := chat.Variant().(models.GroupChat)
	if !ok {
		return dto.ChatResponse{}, ErrGroupOnly
	}
	if _, err := s.directory.Get(ctx, userID); err != nil {
		return dto.ChatResponse{}, err
	}
	if !group.HasParticipant(addedBy) {
		return dto.ChatResponse{}, ErrNotParticipant
	}
	if !group.CanAddMembers(addedBy) {
		return dto.ChatResponse{}, ErrAddingRestrict
	}

	added, err := s.chats.AddParticipant(ctx, chatID, strings.TrimSpace(userID))
	if err != nil {
		return dto.ChatResponse{}, s.translate(err, ErrChatNotFound)
	}

	stored, err := s.loadChat(ctx, chatID)
	if err != nil {
		return dto.ChatResponse{}, err
	}
	if added {
		s.publishChatUpdated(ctx, stored, "member_added", []string{userID}, nil)
	}
	return s.chatResponse(ctx, stored, addedBy), nil
}

func (s *chatService) RemoveGroupMember(ctx context.Context, chatID uint, userID, removedBy string) (response dto.ChatResponse, err error) {
	ctx, span := s.tracer.Start(ctx, "chat.remove_member", trace.WithAttributes(attribute.Int64("chat.id", int64(chatID))))
	defer func() { endSpan(span, err) }()

	chat, err := s.loadChat(ctx, chatID)
	if err != nil {
		return dto.ChatResponse{}, err
	}
	if _, err := s.requireAdmin(chat, removedBy); err != nil {
		return dto.ChatResponse{}, err
	}
	if !chat.HasParticipant(userID) {
		return dto.ChatResponse{}, ErrMemberNotFound
	}

	if _, err := s.chats.RemoveParticipant(ctx, chatID, userID); err != nil {
		return dto.ChatResponse{}, s.translate(err, ErrChatNotFound)
	}

	stored, err := s.loadChat(ctx, chatID)
	if err != nil {
		return dto.ChatResponse{}, err
	}
	s.publishChatUpdated(ctx, stored, "member_removed", nil, []string{userID})
	s.audit.Record(ctx, auditMemberRemoved, removedBy, chatID, map[string]string{"user_id": userID})

	return s.chatResponse(ctx, stored, removedBy), nil
}

func (s *chatService) UpdateGroupAdmin(ctx context.Context, chatID uint, userID, updatedBy string, isAdmin bool) (response dto.ChatResponse, err error) {
	ctx, span := s.tracer.Start(ctx, "chat.update_admin", trace.WithAttributes(
		attribute.Int64("chat.id", int64(chatID)),
		attribute.Bool("chat.is_admin", isAdmin),
	))
	defer func() { endSpan(span, err) }()

	chat, err := s.loadChat(ctx, chatID)
	if err != nil {
		return dto.ChatResponse{}, err
	}
	if _, err := s.requireAdmin(chat, updatedBy); err != nil {
		return dto.ChatResponse{}, err
	}
	if !chat.HasParticipant(userID) {
		return dto.ChatResponse{}, ErrMemberNotFound
	}

	if err := s.chats.SetAdmin(ctx, chatID, userID, isAdmin); err != nil {
		return dto.ChatResponse{}, s.translate(err, ErrMemberNotFound)
	}

	stored, err := s.loadChat(ctx, chatID)
	if err != nil {
		return dto.ChatResponse{}, err
	}
	s.publishChatUpdated(ctx, stored, "admin_changed", nil, nil)
	s.audit.Record(ctx, auditAdminChanged, updatedBy, chatID, map[string]string{
		"user_id":  userID,
		"is_admin": fmt.Sprintf("%t", isAdmin),
	})

	return s.chatResponse(ctx, stored, updatedBy), nil
}

func (s *chatService) UpdateGroupSettings(ctx context.Context, chatID uint, userID string, settings dto.GroupSettingsPayload) (response dto.ChatResponse, err error) {
	ctx, span := s.tracer.Start(ctx, "chat.update_settings", trace.WithAttributes(attribute.Int64("chat.id", int64(chatID))))
	defer func() { endSpan(span, err) }()

	chat, err := s.loadChat(ctx, chatID)
	if err != nil {
		return dto.ChatResponse{}, err
	}
	if _, err := s.requireAdmin(chat, userID); err != nil {
		return dto.ChatResponse{}, err
	}

	if err := s.chats.UpdateSettings(ctx, chatID, settings.Model()); err != nil {
		return dto.ChatResponse{}, s.translate(err, ErrChatNotFound)
	}

	stored, err := s.loadChat(ctx, chatID)
	if err != nil {
		return dto.ChatResponse{}, err
	}
	s.publishChatUpdated(ctx, stored, "settings_changed", nil, nil)
	return s.chatResponse(ctx, stored, userID), nil
}

func (s *chatService) UpdateGroupInfo(ctx context.Context, chatID uint, userID string, req dto.UpdateGroupInfoRequest) (response dto.ChatResponse, err error) {
	ctx, span := s.tracer.Start(ctx, "chat.update_info", trace.WithAttributes(attribute.Int64("chat.id", int64(chatID))))
	defer func() { endSpan(span, err) }()

	if err := s.validator.Struct(req); err != nil {
		return dto.ChatResponse{}, err
	}

	chat, err := s.loadChat(ctx, chatID)
	if err != nil {
		return dto.ChatResponse{}, err
	}
	if _, err := s.requireAdmin(chat, userID); err != nil {
		return dto.ChatResponse{}, err
	}

	update := repository.ChatInfoUpdate{}
	if req.Name != nil {
		name := cleanText(s.strict, *req.Name)
		if name == "" {
			return dto.ChatResponse{}, ErrEmptyGroupName
		}
		update.Name = &name
	}
	if req.Avatar != nil {
		avatar := strings.TrimSpace(*req.Avatar)
		update.Avatar = &avatar
	}
	if req.Description != nil {
		description := cleanText(s.strict, *req.Description)
		update.Description = &description
	}

	if err := s.chats.UpdateInfo(ctx, chatID, update); err != nil {
		return dto.ChatResponse{}, s.translate(err, ErrChatNotFound)
	}

	stored, err := s.loadChat(ctx, chatID)
	if err != nil {
		return dto.ChatResponse{}, err
	}
	s.publishChatUpdated(ctx, stored, "info_changed", nil, nil)
	return s.chatResponse(ctx, stored, userID), nil
}

// LeaveGroup removes the caller. The last admin may leave, leaving the group without admins.
func (s *chatService) LeaveGroup(ctx context.Context, chatID uint, userID string) (err error) {
	ctx, span := s.tracer.Start(ctx, "chat.leave", trace.WithAttributes(attribute.Int64("chat.id", int64(chatID))))
	defer func() { endSpan(span, err) }()

	chat, err := s.loadChat(ctx, chatID)
	if err != nil {
		return err
	}
	if _, ok := chat.Variant().(models.GroupChat); !ok {
		return ErrGroupOnly
	}
	if !chat.HasParticipant(userID) {
		return ErrNotParticipant
	}

	if _, err := s.chats.RemoveParticipant(ctx, chatID, userID); err != nil {
		return s.translate(err, ErrChatNotFound)
	}

	stored, err := s.loadChat(ctx, chatID)
	if err != nil {
		return err
	}
	s.publishChatUpdated(ctx, stored, "member_left", nil, []string{userID})
	return nil
}

func (s *chatService) DeleteChat(ctx context.Context, chatID uint, userID string) (err error) {
	ctx, span := s.tracer.Start(ctx, "chat.delete", trace.WithAttributes(attribute.Int64("chat.id", int64(chatID))))
	defer func() { endSpan(span, err) }()

	chat, err := s.loadChat(ctx, chatID)
	if err != nil {
		return err
	}
	if !chat.HasParticipant(userID) {
		return ErrNotParticipant
	}

	if err := s.chats.Delete(ctx, chatID); err != nil {
		return s.translate(err, ErrChatNotFound)
	}

	s.events.Publish(ctx, dto.ChatEvent{
		Name:        dto.EventChatDeleted,
		ChatID:      chatID,
		Payload:     dto.ChatDeletedPayload{ChatID: chatID, DeletedBy: userID},
		Unsubscribe: chat.ParticipantIDs(),
	})
	s.audit.Record(ctx, auditChatDeleted, userID, chatID, map[string]string{"type": string(chat.Type)})
	s.logger.Info().Uint("chat_id", chatID).Str("user_id", userID).Msg("chat deleted")
	return nil
}

func (s *chatService) BlockChat(ctx context.Context, chatID uint, userID string) (response dto.BlockResponse, err error) {
	ctx, span := s.tracer.Start(ctx, "chat.block", trace.WithAttributes(attribute.Int64("chat.id", int64(chatID))))
	defer func() { endSpan(span, err) }()

	chat, err := s.loadChat(ctx, chatID)
	if err != nil {
		return dto.BlockResponse{}, err
	}
	direct, ok := chat.Variant().(models.DirectChat)
	if !ok {
		return dto.BlockResponse{}, ErrDirectOnly
	}
	if !direct.HasParticipant(userID) {
		return dto.BlockResponse{}, ErrNotParticipant
	}

	other := direct.Counterpart(userID)
	blocked, err := s.chats.ToggleBlock(ctx, chatID, userID, other)
	if err != nil {
		return dto.BlockResponse{}, s.translate(err, ErrChatNotFound)
	}

	action := auditChatUnblocked
	if blocked {
		action = auditChatBlocked
	}
	s.audit.Record(ctx, action, userID, chatID, map[string]string{"blocked_id": other})

	return dto.BlockResponse{ChatID: chatID, Blocked: blocked}, nil
}

func (s *chatService) ClearChat(ctx context.Context, chatID uint, userID string) (response dto.ClearChatResponse, err error) {
	ctx, span := s.tracer.Start(ctx, "chat.clear", trace.WithAttributes(attribute.Int64("chat.id", int64(chatID))))
	defer func() { endSpan(span, err) }()

	chat, err := s.loadChat(ctx, chatID)
	if err != nil {
		return dto.ClearChatResponse{}, err
	}
	if !chat.HasParticipant(userID) {
		return dto.ClearChatResponse{}, ErrNotParticipant
	}

	hidden, err := s.messages.HideChatForUser(ctx, chatID, userID)
	if err != nil {
		return dto.ClearChatResponse{}, err
	}
	return dto.ClearChatResponse{ChatID: chatID, Hidden: hidden}, nil
}

// cleanText strips markup the policy rejects and stores the rest as plain text, so
// "1 < 2" keeps its bracket. Decoding repeats until stable so entity-encoded tags are
// sanitized too; input that never settles is kept escaped.
func cleanText(policy *bluemonday.Policy, raw string) string {
	text := raw
	for i := 0; i < 4; i++ {
		next := html.UnescapeString(policy.Sanitize(text))
		if next == text {
			return strings.TrimSpace(text)
		}
		text = next
	}
	return strings.TrimSpace(policy.Sanitize(text))
}

func (s *chatService) loadChat(ctx context.Context, chatID uint) (models.Chat, error) {
	chat, err := s.chats.GetByID(ctx, chatID)
	if err != nil {
		return models.Chat{}, s.translate(err, ErrChatNotFound)
	}
	return chat, nil
}

func (s *chatService) requireAdmin(chat models.Chat, userID string) (models.GroupChat, error) {
	group, ok := chat.Variant().(models.GroupChat)
	if !ok {
		return models.GroupChat{}, ErrGroupOnly
	}
	if !group.HasParticipant(userID) {
		return models.GroupChat{}, ErrNotParticipant
	}
	if !group.IsAdmin(userID) {
		return models.GroupChat{}, ErrNotAdmin
	}
	return group, nil
}

func (s *chatService) chatResponse(ctx context.Context, chat models.Chat, viewerID string) dto.ChatResponse {
	accounts := map[string]dto.Account{}
	if direct, ok := chat.Variant().(models.DirectChat); ok && viewerID != "" {
		resolved, err := s.directory.Resolve(ctx, []string{direct.Counterpart(viewerID)})
		if err != nil {
			s.logger.Warn().Err(err).Uint("chat_id", chat.ID).Msg("failed to resolve direct chat counterpart")
		} else {
			accounts = resolved
		}
	}
	return dto.NewChatResponse(chat, viewerID, accounts)
}

func (s *chatService) publishChatUpdated(ctx context.Context, chat models.Chat, change string, subscribe, unsubscribe []string) {
	s.events.Publish(ctx, dto.ChatEvent{
		Name:   dto.EventChatUpdated,
		ChatID: chat.ID,
		Payload: dto.ChatUpdatedPayload{
			Change: change,
			Chat:   dto.NewChatResponse(chat, "", nil),
		},
		Subscribe:   subscribe,
		Unsubscribe: unsubscribe,
	})
}

// translate maps a missing row onto the domain not-found error.
func (s *chatService) translate(err, notFound error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return notFound
	}
	return err
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, ErrorCode(err))
	}
	span.End()
}

const (
	auditChatDeleted    = "chat.deleted"
	auditMemberRemoved  = "group.member_removed"
	auditAdminChanged   = "group.admin_changed"
	auditChatBlocked    = "chat.blocked"
	auditChatUnblocked  = "chat.unblocked"
	auditMessageDeleted = "message.deleted_for_everyone"
)
