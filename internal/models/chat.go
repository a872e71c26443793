package models

import (
	"encoding/json"
	"errors"
	"sort"
	"strings"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// ChatType distinguishes one-to-one conversations from groups.
type ChatType string

const (
	ChatTypeDirect ChatType = "direct"
	ChatTypeGroup  ChatType = "group"
)

// ErrInvalidParticipants is returned when a chat cannot be built from the given members.
var ErrInvalidParticipants = errors.New("invalid chat participants")

// GroupSettings holds the permission toggles of a group chat.
type GroupSettings struct {
	OnlyAdminsCanPost       bool `json:"only_admins_can_post"`
	OnlyAdminsCanAddMembers bool `json:"only_admins_can_add_members"`
	OnlyAdminsCanChangeInfo bool `json:"only_admins_can_change_info"`
}

// LastMessage is the denormalized preview of the most recent message in a chat.
type LastMessage struct {
	ID        uint          `json:"id"`
	Content   string        `json:"content"`
	Type      MessageType   `json:"type"`
	SenderID  string        `json:"sender_id"`
	Status    MessageStatus `json:"status"`
	CreatedAt time.Time     `json:"created_at"`
}

// Chat is a conversation between two users (direct) or many (group).
type Chat struct {
	ID            uint              `gorm:"primaryKey" json:"id"`
	Type          ChatType          `gorm:"size:16;not null;index" json:"type"`
	CreatorID     string            `gorm:"size:64;not null;index" json:"creator_id"`
	Name          string            `gorm:"size:255" json:"name"`
	Avatar        string            `gorm:"size:512" json:"avatar"`
	Description   string            `gorm:"type:text" json:"description"`
	DirectKey     *string           `gorm:"size:160;uniqueIndex" json:"-"`
	Settings      datatypes.JSON    `gorm:"type:json" json:"-"`
	LastMessage   datatypes.JSON    `gorm:"type:json" json:"-"`
	// LastMessageID mirrors LastMessage.ID so preview writes can be made conditional.
	LastMessageID uint              `gorm:"not null;default:0;index" json:"-"`
	CreatedAt     time.Time         `json:"created_at"`
	UpdatedAt     time.Time         `gorm:"index" json:"updated_at"`
	Participants  []ChatParticipant `gorm:"foreignKey:ChatID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE" json:"participants"`
	Blocks        []ChatBlock       `gorm:"foreignKey:ChatID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE" json:"-"`
}

// ChatParticipant is a membership row. Position keeps the join order.
type ChatParticipant struct {
	ChatID   uint      `gorm:"primaryKey;autoIncrement:false" json:"chat_id"`
	UserID   string    `gorm:"primaryKey;size:64;index" json:"user_id"`
	IsAdmin  bool      `gorm:"not null;default:false" json:"is_admin"`
	Position int       `gorm:"not null;default:0" json:"position"`
	JoinedAt time.Time `json:"joined_at"`
}

// ChatBlock records that Blocker no longer accepts messages from Blocked in a direct chat.
type ChatBlock struct {
	ChatID    uint      `gorm:"primaryKey;autoIncrement:false" json:"chat_id"`
	BlockerID string    `gorm:"primaryKey;size:64" json:"blocker_id"`
	BlockedID string    `gorm:"primaryKey;size:64" json:"blocked_id"`
	CreatedAt time.Time `json:"created_at"`
}

// BeforeCreate ensures JSON columns never persist as NULL.
func (c *Chat) BeforeCreate(_ *gorm.DB) error {
	if len(c.Settings) == 0 {
		c.SetSettings(GroupSettings{})
	}
	if len(c.LastMessage) == 0 {
		c.SetLastMessage(LastMessage{})
	}
	return nil
}

// SetSettings serializes group settings into the JSON column.
func (c *Chat) SetSettings(settings GroupSettings) {
	data, err := json.Marshal(settings)
	if err != nil {
		c.Settings = datatypes.JSON([]byte("{}"))
		return
	}
	c.Settings = datatypes.JSON(data)
}

// GroupSettings returns the stored settings, defaulting every flag to false.
func (c Chat) GroupSettings() GroupSettings {
	var settings GroupSettings
	if len(c.Settings) == 0 {
		return settings
	}
	_ = json.Unmarshal(c.Settings, &settings)
	return settings
}

// SetLastMessage serializes the preview snapshot.
func (c *Chat) SetLastMessage(preview LastMessage) {
	c.LastMessageID = preview.ID
	data, err := json.Marshal(preview)
	if err != nil {
		c.LastMessage = datatypes.JSON([]byte("{}"))
		return
	}
	c.LastMessage = datatypes.JSON(data)
}

// Preview returns the last message snapshot. ok is false when the chat has no messages yet.
func (c Chat) Preview() (LastMessage, bool) {
	var preview LastMessage
	if len(c.LastMessage) == 0 {
		return preview, false
	}
	if err := json.Unmarshal(c.LastMessage, &preview); err != nil {
		return LastMessage{}, false
	}
	return preview, preview.ID != 0
}

// ParticipantIDs lists members in join order.
func (c Chat) ParticipantIDs() []string {
	members := append([]ChatParticipant(nil), c.Participants...)
	sort.SliceStable(members, func(i, j int) bool { return members[i].Position < members[j].Position })

	ids := make([]string, 0, len(members))
	for _, member := range members {
		ids = append(ids, member.UserID)
	}
	return ids
}

// AdminIDs lists the members flagged as admins, in join order.
func (c Chat) AdminIDs() []string {
	members := append([]ChatParticipant(nil), c.Participants...)
	sort.SliceStable(members, func(i, j int) bool { return members[i].Position < members[j].Position })

	ids := make([]string, 0)
	for _, member := range members {
		if member.IsAdmin {
			ids = append(ids, member.UserID)
		}
	}
	return ids
}

// HasParticipant reports membership.
func (c Chat) HasParticipant(userID string) bool {
	for _, member := range c.Participants {
		if member.UserID == userID {
			return true
		}
	}
	return false
}

// IsAdmin reports whether the member holds the admin flag.
func (c Chat) IsAdmin(userID string) bool {
	for _, member := range c.Participants {
		if member.UserID == userID {
			return member.IsAdmin
		}
	}
	return false
}

// ChatVariant is implemented by DirectChat and GroupChat.
type ChatVariant interface {
	Kind() ChatType
}

// DirectChat exposes the data that only exists on one-to-one chats.
type DirectChat struct {
	*Chat
}

// Kind implements ChatVariant.
func (DirectChat) Kind() ChatType { return ChatTypeDirect }

// Counterpart returns the other member of the conversation.
func (d DirectChat) Counterpart(userID string) string {
	for _, id := range d.ParticipantIDs() {
		if id != userID {
			return id
		}
	}
	return ""
}

// IsBlocked reports whether blocker has blocked blocked.
func (d DirectChat) IsBlocked(blocker, blocked string) bool {
	for _, block := range d.Blocks {
		if block.BlockerID == blocker && block.BlockedID == blocked {
			return true
		}
	}
	return false
}

// GroupChat exposes the data that only exists on group chats.
type GroupChat struct {
	*Chat
}

// Kind implements ChatVariant.
func (GroupChat) Kind() ChatType { return ChatTypeGroup }

// Settings returns the group permission toggles.
func (g GroupChat) Settings() GroupSettings {
	return g.GroupSettings()
}

// CanPost applies the onlyAdminsCanPost rule.
func (g GroupChat) CanPost(userID string) bool {
	if !g.HasParticipant(userID) {
		return false
	}
	return !g.Settings().OnlyAdminsCanPost || g.IsAdmin(userID)
}

// CanAddMembers applies the onlyAdminsCanAddMembers rule.
func (g GroupChat) CanAddMembers(userID string) bool {
	if !g.HasParticipant(userID) {
		return false
	}
	return !g.Settings().OnlyAdminsCanAddMembers || g.IsAdmin(userID)
}

// Variant returns the typed view of the chat.
func (c *Chat) Variant() ChatVariant {
	if c.Type == ChatTypeGroup {
		return GroupChat{Chat: c}
	}
	return DirectChat{Chat: c}
}

// DirectChatKey builds the order-independent unique key of a direct chat.
func DirectChatKey(a, b string) string {
	pair := []string{a, b}
	sort.Strings(pair)
	return strings.Join(pair, "|")
}

// NewDirectChat builds an unsaved direct chat. The creator is the sole admin.
func NewDirectChat(creatorID, participantID string) (*Chat, error) {
	creatorID = strings.TrimSpace(creatorID)
	participantID = strings.TrimSpace(participantID)
	if creatorID == "" || participantID == "" || creatorID == participantID {
		return nil, ErrInvalidParticipants
	}

	key := DirectChatKey(creatorID, participantID)
	now := time.Now().UTC()
	chat := &Chat{
		Type:      ChatTypeDirect,
		CreatorID: creatorID,
		DirectKey: &key,
		Participants: []ChatParticipant{
			{UserID: creatorID, IsAdmin: true, Position: 0, JoinedAt: now},
			{UserID: participantID, Position: 1, JoinedAt: now},
		},
	}
	chat.SetSettings(GroupSettings{})
	chat.SetLastMessage(LastMessage{})
	return chat, nil
}

// NewGroupChat builds an unsaved group chat. Duplicate members are collapsed and the
// creator is placed first as the sole admin.
func NewGroupChat(creatorID, name string, participants []string, settings GroupSettings) (*Chat, error) {
	creatorID = strings.TrimSpace(creatorID)
	if creatorID == "" {
		return nil, ErrInvalidParticipants
	}

	now := time.Now().UTC()
	members := []ChatParticipant{{UserID: creatorID, IsAdmin: true, Position: 0, JoinedAt: now}}
	seen := map[string]struct{}{creatorID: {}}
	for _, id := range participants {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		members = append(members, ChatParticipant{UserID: id, Position: len(members), JoinedAt: now})
	}

	chat := &Chat{
		Type:         ChatTypeGroup,
		CreatorID:    creatorID,
		Name:         strings.TrimSpace(name),
		Participants: members,
	}
	chat.SetSettings(settings)
	chat.SetLastMessage(LastMessage{})
	return chat, nil
}
