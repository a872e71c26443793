package models

import (
	"encoding/json"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// MessageType classifies message payloads.
type MessageType string

const (
	MessageTypeText     MessageType = "text"
	MessageTypeImage    MessageType = "image"
	MessageTypeFile     MessageType = "file"
	MessageTypeSystem   MessageType = "system"
	MessageTypeAudio    MessageType = "audio"
	MessageTypeVideo    MessageType = "video"
	MessageTypeLocation MessageType = "location"
)

// Valid reports whether the type is one of the known message types.
func (t MessageType) Valid() bool {
	switch t {
	case MessageTypeText, MessageTypeImage, MessageTypeFile, MessageTypeSystem,
		MessageTypeAudio, MessageTypeVideo, MessageTypeLocation:
		return true
	default:
		return false
	}
}

// MessageStatus tracks delivery progress. Sending and error are client-side states.
type MessageStatus string

const (
	MessageStatusSending   MessageStatus = "sending"
	MessageStatusSent      MessageStatus = "sent"
	MessageStatusDelivered MessageStatus = "delivered"
	MessageStatusRead      MessageStatus = "read"
	MessageStatusError     MessageStatus = "error"
)

// Rank orders the forward-only lifecycle. Error has no rank.
func (s MessageStatus) Rank() int {
	switch s {
	case MessageStatusSending:
		return 0
	case MessageStatusSent:
		return 1
	case MessageStatusDelivered:
		return 2
	case MessageStatusRead:
		return 3
	default:
		return -1
	}
}

// PersistedBelow lists the stored statuses that may advance to s.
func (s MessageStatus) PersistedBelow() []MessageStatus {
	statuses := make([]MessageStatus, 0, 2)
	for _, candidate := range []MessageStatus{MessageStatusSent, MessageStatusDelivered} {
		if candidate.Rank() < s.Rank() {
			statuses = append(statuses, candidate)
		}
	}
	return statuses
}

// Attachment describes a file referenced by a message.
type Attachment struct {
	Type      string  `json:"type"`
	URL       string  `json:"url"`
	Name      string  `json:"name"`
	Size      int64   `json:"size"`
	Thumbnail string  `json:"thumbnail,omitempty"`
	Duration  float64 `json:"duration,omitempty"`
}

// MessageReference is an immutable snapshot of another message, taken when replying or forwarding.
type MessageReference struct {
	MessageID uint        `json:"message_id"`
	ChatID    uint        `json:"chat_id"`
	SenderID  string      `json:"sender_id"`
	Content   string      `json:"content"`
	Type      MessageType `json:"type"`
}

// Message is a single chat entry.
type Message struct {
	ID                 uint              `gorm:"primaryKey" json:"id"`
	ChatID             uint              `gorm:"not null;index:idx_messages_chat_created,priority:1" json:"chat_id"`
	SenderID           string            `gorm:"size:64;not null;index" json:"sender_id"`
	Content            string            `gorm:"type:text" json:"content"`
	Type               MessageType       `gorm:"size:16;not null;default:text" json:"type"`
	Status             MessageStatus     `gorm:"size:16;not null;default:sent;index" json:"status"`
	Attachments        datatypes.JSON    `gorm:"type:json" json:"-"`
	ReplyTo            datatypes.JSON    `gorm:"type:json" json:"-"`
	ForwardedFrom      datatypes.JSON    `gorm:"type:json" json:"-"`
	IsEdited           bool              `gorm:"not null;default:false" json:"is_edited"`
	IsDeleted          bool              `gorm:"not null;default:false" json:"is_deleted"`
	DeletedForEveryone bool              `gorm:"not null;default:false" json:"deleted_for_everyone"`
	CreatedAt          time.Time         `gorm:"index:idx_messages_chat_created,priority:2" json:"created_at"`
	UpdatedAt          time.Time         `json:"updated_at"`
	Reactions          []MessageReaction `gorm:"foreignKey:MessageID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE" json:"reactions"`
	Deletions          []MessageDeletion `gorm:"foreignKey:MessageID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE" json:"-"`
}

// MessageReaction is one user's emoji on a message.
type MessageReaction struct {
	MessageID uint      `gorm:"primaryKey;autoIncrement:false" json:"message_id"`
	UserID    string    `gorm:"primaryKey;size:64" json:"user_id"`
	Emoji     string    `gorm:"size:32;not null" json:"emoji"`
	CreatedAt time.Time `json:"created_at"`
}

// MessageDeletion hides a message from a single user's history.
type MessageDeletion struct {
	MessageID uint      `gorm:"primaryKey;autoIncrement:false" json:"message_id"`
	UserID    string    `gorm:"primaryKey;size:64;index" json:"user_id"`
	CreatedAt time.Time `json:"created_at"`
}

// BeforeCreate ensures JSON columns never persist as NULL.
func (m *Message) BeforeCreate(_ *gorm.DB) error {
	if len(m.Attachments) == 0 {
		m.SetAttachments(nil)
	}
	if len(m.ReplyTo) == 0 {
		m.ReplyTo = datatypes.JSON([]byte("{}"))
	}
	if len(m.ForwardedFrom) == 0 {
		m.ForwardedFrom = datatypes.JSON([]byte("{}"))
	}
	return nil
}

// SetAttachments serializes the attachment list.
func (m *Message) SetAttachments(attachments []Attachment) {
	if attachments == nil {
		attachments = []Attachment{}
	}
	data, err := json.Marshal(attachments)
	if err != nil {
		m.Attachments = datatypes.JSON([]byte("[]"))
		return
	}
	m.Attachments = datatypes.JSON(data)
}

// AttachmentList deserializes the stored attachments.
func (m Message) AttachmentList() []Attachment {
	if len(m.Attachments) == 0 {
		return nil
	}

	var attachments []Attachment
	if err := json.Unmarshal(m.Attachments, &attachments); err != nil {
		return nil
	}
	return attachments
}

// SetReplyTo stores the reply snapshot.
func (m *Message) SetReplyTo(ref MessageReference) {
	m.ReplyTo = encodeReference(ref)
}

// ReplyReference returns the reply snapshot, if any.
func (m Message) ReplyReference() (MessageReference, bool) {
	return decodeReference(m.ReplyTo)
}

// SetForwardedFrom stores the forward snapshot.
func (m *Message) SetForwardedFrom(ref MessageReference) {
	m.ForwardedFrom = encodeReference(ref)
}

// ForwardReference returns the forward snapshot, if any.
func (m Message) ForwardReference() (MessageReference, bool) {
	return decodeReference(m.ForwardedFrom)
}

// Reference captures a snapshot of the message for replies and forwards.
func (m Message) Reference() MessageReference {
	return MessageReference{
		MessageID: m.ID,
		ChatID:    m.ChatID,
		SenderID:  m.SenderID,
		Content:   m.Content,
		Type:      m.Type,
	}
}

// Preview builds the chat-list snapshot for this message.
func (m Message) Preview() LastMessage {
	return LastMessage{
		ID:        m.ID,
		Content:   m.Content,
		Type:      m.Type,
		SenderID:  m.SenderID,
		Status:    m.Status,
		CreatedAt: m.CreatedAt,
	}
}

func encodeReference(ref MessageReference) datatypes.JSON {
	data, err := json.Marshal(ref)
	if err != nil {
		return datatypes.JSON([]byte("{}"))
	}
	return datatypes.JSON(data)
}

func decodeReference(raw datatypes.JSON) (MessageReference, bool) {
	if len(raw) == 0 {
		return MessageReference{}, false
	}
	var ref MessageReference
	if err := json.Unmarshal(raw, &ref); err != nil {
		return MessageReference{}, false
	}
	return ref, ref.MessageID != 0
}
