package dto

import (
	"time"

	"github.com/noah-isme/gema-chat/internal/models"
)

// Account is the directory view of a user.
type Account struct {
	ID          string `json:"id"`
	FirstName   string `json:"first_name"`
	LastName    string `json:"last_name"`
	DisplayName string `json:"display_name"`
	Email       string `json:"email,omitempty"`
	Avatar      string `json:"avatar,omitempty"`
}

// NewAccount converts an account model into a DTO.
func NewAccount(model models.Account) Account {
	return Account{
		ID:          model.ID,
		FirstName:   model.FirstName,
		LastName:    model.LastName,
		DisplayName: model.DisplayName(),
		Email:       model.Email,
		Avatar:      model.Avatar,
	}
}

// GroupSettingsPayload mirrors the group permission toggles.
type GroupSettingsPayload struct {
	OnlyAdminsCanPost       bool `json:"only_admins_can_post"`
	OnlyAdminsCanAddMembers bool `json:"only_admins_can_add_members"`
	OnlyAdminsCanChangeInfo bool `json:"only_admins_can_change_info"`
}

// Model converts the payload into the stored settings.
func (p GroupSettingsPayload) Model() models.GroupSettings {
	return models.GroupSettings{
		OnlyAdminsCanPost:       p.OnlyAdminsCanPost,
		OnlyAdminsCanAddMembers: p.OnlyAdminsCanAddMembers,
		OnlyAdminsCanChangeInfo: p.OnlyAdminsCanChangeInfo,
	}
}

func newGroupSettingsPayload(settings models.GroupSettings) GroupSettingsPayload {
	return GroupSettingsPayload{
		OnlyAdminsCanPost:       settings.OnlyAdminsCanPost,
		OnlyAdminsCanAddMembers: settings.OnlyAdminsCanAddMembers,
		OnlyAdminsCanChangeInfo: settings.OnlyAdminsCanChangeInfo,
	}
}

// CreateDirectChatRequest opens a one-to-one conversation.
type CreateDirectChatRequest struct {
	ParticipantID string `json:"participant_id" validate:"required,max=64"`
}

// CreateGroupChatRequest opens a group conversation.
type CreateGroupChatRequest struct {
	Name         string                `json:"name" validate:"required,min=1,max=255"`
	Participants []string              `json:"participants" validate:"omitempty,max=256,dive,required,max=64"`
	Settings     *GroupSettingsPayload `json:"settings"`
	Avatar       string                `json:"avatar" validate:"omitempty,max=512"`
	Description  string                `json:"description" validate:"omitempty,max=2000"`
}

// UpdateGroupInfoRequest changes the group profile. Nil fields are left unchanged.
type UpdateGroupInfoRequest struct {
	Name        *string `json:"name" validate:"omitempty,min=1,max=255"`
	Avatar      *string `json:"avatar" validate:"omitempty,max=512"`
	Description *string `json:"description" validate:"omitempty,max=2000"`
}

// GroupMemberRequest targets a member of a group.
type GroupMemberRequest struct {
	UserID string `json:"user_id" validate:"required,max=64"`
}

// GroupAdminRequest grants or revokes admin rights.
type GroupAdminRequest struct {
	IsAdmin bool `json:"is_admin"`
}

// LastMessageResponse is the chat list preview.
type LastMessageResponse struct {
	ID        uint      `json:"id"`
	Content   string    `json:"content"`
	Type      string    `json:"type"`
	SenderID  string    `json:"sender_id"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
}

// GroupDetails holds the fields that only exist on group chats.
type GroupDetails struct {
	Description string               `json:"description"`
	Settings    GroupSettingsPayload `json:"settings"`
}

// DirectDetails holds the fields that only exist on direct chats, seen from the viewer.
type DirectDetails struct {
	CounterpartID string `json:"counterpart_id,omitempty"`
	BlockedByMe   bool   `json:"blocked_by_me"`
	BlockedMe     bool   `json:"blocked_me"`
}

// ChatResponse is the serialized chat. Exactly one of Group or Direct is set.
type ChatResponse struct {
	ID           uint                 `json:"id"`
	Type         string               `json:"type"`
	CreatorID    string               `json:"creator_id"`
	Name         string               `json:"name"`
	Avatar       string               `json:"avatar,omitempty"`
	Participants []string             `json:"participants"`
	Admins       []string             `json:"admins"`
	LastMessage  *LastMessageResponse `json:"last_message,omitempty"`
	Group        *GroupDetails        `json:"group,omitempty"`
	Direct       *DirectDetails       `json:"direct,omitempty"`
	CreatedAt    time.Time            `json:"created_at"`
	UpdatedAt    time.Time            `json:"updated_at"`
}

// NewChatResponse converts a chat into a DTO for viewerID. Direct chats take the name and
// avatar of the other participant when it is present in accounts.
func NewChatResponse(chat models.Chat, viewerID string, accounts map[string]Account) ChatResponse {
	response := ChatResponse{
		ID:           chat.ID,
		Type:         string(chat.Type),
		CreatorID:    chat.CreatorID,
		Name:         chat.Name,
		Avatar:       chat.Avatar,
		Participants: chat.ParticipantIDs(),
		Admins:       chat.AdminIDs(),
		CreatedAt:    chat.CreatedAt,
		UpdatedAt:    chat.UpdatedAt,
	}

	if preview, ok := chat.Preview(); ok {
		response.LastMessage = &LastMessageResponse{
			ID:        preview.ID,
			Content:   preview.Content,
			Type:      string(preview.Type),
			SenderID:  preview.SenderID,
			Status:    string(preview.Status),
			CreatedAt: preview.CreatedAt,
		}
	}

	switch variant := chat.Variant().(type) {
	case models.GroupChat:
		response.Group = &GroupDetails{
			Description: variant.Description,
			Settings:    newGroupSettingsPayload(variant.Settings()),
		}
	case models.DirectChat:
		details := &DirectDetails{}
		if viewerID != "" {
			other := variant.Counterpart(viewerID)
			details.CounterpartID = other
			details.BlockedByMe = variant.IsBlocked(viewerID, other)
			details.BlockedMe = variant.IsBlocked(other, viewerID)
			if account, ok := accounts[other]; ok {
				response.Name = account.DisplayName
				response.Avatar = account.Avatar
			}
		}
		response.Direct = details
	}

	return response
}

// SendMessageRequest is the payload to post a message into a chat.
type SendMessageRequest struct {
	Content     string              `json:"content" validate:"max=4000"`
	Type        string              `json:"type" validate:"omitempty,oneof=text image file system audio video location"`
	Attachments []AttachmentPayload `json:"attachments" validate:"omitempty,max=10,dive"`
	ReplyToID   *uint               `json:"reply_to_id" validate:"omitempty,min=1"`
}

// ReplyMessageRequest answers an existing message.
type ReplyMessageRequest struct {
	Content string `json:"content" validate:"required,min=1,max=4000"`
}

// EditMessageRequest replaces the content of an existing message.
type EditMessageRequest struct {
	Content string `json:"content" validate:"required,min=1,max=4000"`
}

// ForwardMessageRequest copies a message into another chat.
type ForwardMessageRequest struct {
	TargetChatID uint `json:"target_chat_id" validate:"required,min=1"`
}

// ReactionRequest adds or replaces the caller's reaction.
type ReactionRequest struct {
	Emoji string `json:"emoji" validate:"required,max=32"`
}

// MessageStatusRequest reports that a message was delivered to or read by the caller.
type MessageStatusRequest struct {
	Status string `json:"status" validate:"required,oneof=delivered read"`
}

// MessageHistoryQuery paginates backwards through a chat.
type MessageHistoryQuery struct {
	Before *time.Time `query:"before"`
	Limit  int        `query:"limit" validate:"omitempty,min=1,max=100"`
}

// AttachmentPayload describes a file attached to a message.
type AttachmentPayload struct {
	Type      string  `json:"type" validate:"required,oneof=image file audio video"`
	URL       string  `json:"url" validate:"required,url,max=1024"`
	Name      string  `json:"name" validate:"max=255"`
	Size      int64   `json:"size" validate:"min=0"`
	Thumbnail string  `json:"thumbnail,omitempty" validate:"omitempty,url,max=1024"`
	Duration  float64 `json:"duration,omitempty" validate:"min=0"`
}

// Model converts the payload into the stored attachment.
func (a AttachmentPayload) Model() models.Attachment {
	return models.Attachment{
		Type:      a.Type,
		URL:       a.URL,
		Name:      a.Name,
		Size:      a.Size,
		Thumbnail: a.Thumbnail,
		Duration:  a.Duration,
	}
}

// MessageReferenceResponse is a reply or forward snapshot.
type MessageReferenceResponse struct {
	MessageID uint   `json:"message_id"`
	ChatID    uint   `json:"chat_id"`
	SenderID  string `json:"sender_id"`
	Content   string `json:"content"`
	Type      string `json:"type"`
}

// ReactionResponse is one user's reaction.
type ReactionResponse struct {
	UserID    string    `json:"user_id"`
	Emoji     string    `json:"emoji"`
	CreatedAt time.Time `json:"created_at"`
}

// NewReactionResponse converts a reaction model into a DTO.
func NewReactionResponse(model models.MessageReaction) ReactionResponse {
	return ReactionResponse{UserID: model.UserID, Emoji: model.Emoji, CreatedAt: model.CreatedAt}
}

// MessageResponse is the serialized representation of a chat message.
type MessageResponse struct {
	ID                 uint                      `json:"id"`
	ChatID             uint                      `json:"chat_id"`
	SenderID           string                    `json:"sender_id"`
	Content            string                    `json:"content"`
	Type               string                    `json:"type"`
	Status             string                    `json:"status"`
	Attachments        []AttachmentPayload       `json:"attachments"`
	Reactions          []ReactionResponse        `json:"reactions"`
	ReplyTo            *MessageReferenceResponse `json:"reply_to,omitempty"`
	ForwardedFrom      *MessageReferenceResponse `json:"forwarded_from,omitempty"`
	IsEdited           bool                      `json:"is_edited"`
	IsDeleted          bool                      `json:"is_deleted"`
	DeletedForEveryone bool                      `json:"deleted_for_everyone"`
	CreatedAt          time.Time                 `json:"created_at"`
	UpdatedAt          time.Time                 `json:"updated_at"`
}

// NewMessageResponse converts a model into a DTO.
func NewMessageResponse(message models.Message) MessageResponse {
	response := MessageResponse{
		ID:                 message.ID,
		ChatID:             message.ChatID,
		SenderID:           message.SenderID,
		Content:            message.Content,
		Type:               string(message.Type),
		Status:             string(message.Status),
		Attachments:        make([]AttachmentPayload, 0),
		Reactions:          make([]ReactionResponse, 0, len(message.Reactions)),
		IsEdited:           message.IsEdited,
		IsDeleted:          message.IsDeleted,
		DeletedForEveryone: message.DeletedForEveryone,
		CreatedAt:          message.CreatedAt,
		UpdatedAt:          message.UpdatedAt,
	}

	for _, attachment := range message.AttachmentList() {
		response.Attachments = append(response.Attachments, AttachmentPayload{
			Type:      attachment.Type,
			URL:       attachment.URL,
			Name:      attachment.Name,
			Size:      attachment.Size,
			Thumbnail: attachment.Thumbnail,
			Duration:  attachment.Duration,
		})
	}
	for _, reaction := range message.Reactions {
		response.Reactions = append(response.Reactions, NewReactionResponse(reaction))
	}
	if ref, ok := message.ReplyReference(); ok {
		response.ReplyTo = newReferenceResponse(ref)
	}
	if ref, ok := message.ForwardReference(); ok {
		response.ForwardedFrom = newReferenceResponse(ref)
	}

	return response
}

// NewMessageResponseSlice converts a slice of models into DTOs.
func NewMessageResponseSlice(messages []models.Message) []MessageResponse {
	out := make([]MessageResponse, 0, len(messages))
	for _, message := range messages {
		out = append(out, NewMessageResponse(message))
	}
	return out
}

func newReferenceResponse(ref models.MessageReference) *MessageReferenceResponse {
	return &MessageReferenceResponse{
		MessageID: ref.MessageID,
		ChatID:    ref.ChatID,
		SenderID:  ref.SenderID,
		Content:   ref.Content,
		Type:      string(ref.Type),
	}
}

// MarkReadResponse reports how many messages were flipped to read.
type MarkReadResponse struct {
	ChatID  uint `json:"chat_id"`
	Updated int  `json:"updated"`
}

// BlockResponse reports the block state after a toggle.
type BlockResponse struct {
	ChatID  uint `json:"chat_id"`
	Blocked bool `json:"blocked"`
}

// ClearChatResponse reports how many messages were hidden for the caller.
type ClearChatResponse struct {
	ChatID uint  `json:"chat_id"`
	Hidden int64 `json:"hidden"`
}

// PresenceResponse reports whether a user has a live connection on this node.
type PresenceResponse struct {
	UserID string `json:"user_id"`
	Online bool   `json:"online"`
}
