package dto

import "encoding/json"

// Realtime event names shared by the service and the gateway.
const (
	EventMessage         = "message"
	EventMessageStatus   = "messageStatus"
	EventMessageReaction = "messageReaction"
	EventMessageUpdated  = "messageUpdated"
	EventMessageDeleted  = "messageDeleted"
	EventTyping          = "typing"
	EventUserStatus      = "userStatus"
	EventChatUpdated     = "chatUpdated"
	EventChatDeleted     = "chatDeleted"
	EventJoinChat        = "joinChat"
	EventLeaveChat       = "leaveChat"
	EventMarkRead        = "markRead"
	EventPing            = "ping"
	EventPong            = "pong"
	EventAck             = "ack"
	EventError           = "error"
)

// User presence values carried by userStatus events.
const (
	PresenceOnline  = "online"
	PresenceOffline = "offline"
)

// DeliveryTarget marks a message event whose successful push should flip the message
// to delivered.
type DeliveryTarget struct {
	MessageID uint   `json:"message_id"`
	SenderID  string `json:"sender_id"`
}

// ChatEvent is a room-scoped event. Subscribe joins connected users to the room before
// fan-out and Unsubscribe removes them afterwards. Rooms widens the audience to further
// chats; every recipient receives the event once.
type ChatEvent struct {
	Name          string          `json:"event"`
	ChatID        uint            `json:"chat_id"`
	Rooms         []uint          `json:"rooms,omitempty"`
	Payload       interface{}     `json:"data"`
	ExcludeUserID string          `json:"exclude_user_id,omitempty"`
	Subscribe     []string        `json:"subscribe,omitempty"`
	Unsubscribe   []string        `json:"unsubscribe,omitempty"`
	Delivery      *DeliveryTarget `json:"delivery,omitempty"`
}

// SocketEnvelope is a frame received from a client.
type SocketEnvelope struct {
	Event     string          `json:"event"`
	Data      json.RawMessage `json:"data,omitempty"`
	RequestID string          `json:"requestId,omitempty"`
}

// SocketFrame is a frame written to a client.
type SocketFrame struct {
	Event     string      `json:"event"`
	Data      interface{} `json:"data,omitempty"`
	RequestID string      `json:"requestId,omitempty"`
}

// SocketChatPayload targets a chat for joinChat, leaveChat and markRead.
type SocketChatPayload struct {
	ChatID uint `json:"chat_id" validate:"required,min=1"`
}

// SocketTypingPayload is relayed to the rest of the room.
type SocketTypingPayload struct {
	ChatID   uint `json:"chat_id" validate:"required,min=1"`
	IsTyping bool `json:"is_typing"`
}

// SocketMessagePayload posts a message over the socket.
type SocketMessagePayload struct {
	ChatID uint `json:"chat_id" validate:"required,min=1"`
	SendMessageRequest
}

// SocketStatusPayload reports delivered or read for a single message.
type SocketStatusPayload struct {
	ChatID    uint   `json:"chat_id" validate:"required,min=1"`
	MessageID uint   `json:"message_id" validate:"required,min=1"`
	Status    string `json:"status" validate:"required,oneof=delivered read"`
}

// TypingPayload is the outbound typing event.
type TypingPayload struct {
	ChatID   uint   `json:"chat_id"`
	UserID   string `json:"user_id"`
	IsTyping bool   `json:"is_typing"`
}

// UserStatusPayload is the outbound presence event.
type UserStatusPayload struct {
	UserID string `json:"user_id"`
	Status string `json:"status"`
}

// MessageStatusPayload is the outbound status event.
type MessageStatusPayload struct {
	ChatID    uint   `json:"chat_id"`
	MessageID uint   `json:"message_id"`
	Status    string `json:"status"`
	UserID    string `json:"user_id,omitempty"`
}

// MessageReactionPayload carries the full reaction on add and only the user on removal.
type MessageReactionPayload struct {
	ChatID    uint              `json:"chat_id"`
	MessageID uint              `json:"message_id"`
	UserID    string            `json:"user_id"`
	Reaction  *ReactionResponse `json:"reaction,omitempty"`
}

// MessageDeletedPayload announces a deletion for everyone.
type MessageDeletedPayload struct {
	ChatID    uint `json:"chat_id"`
	MessageID uint `json:"message_id"`
}

// ChatDeletedPayload announces that a chat and its history are gone.
type ChatDeletedPayload struct {
	ChatID    uint   `json:"chat_id"`
	DeletedBy string `json:"deleted_by"`
}

// ChatUpdatedPayload carries the refreshed chat and what changed.
type ChatUpdatedPayload struct {
	Change string       `json:"change"`
	Chat   ChatResponse `json:"chat"`
}

// AckPayload confirms an inbound event that carried a requestId.
type AckPayload struct {
	Event  string      `json:"event"`
	Result interface{} `json:"result,omitempty"`
}

// ErrorPayload is sent to the originating connection when an inbound event fails.
type ErrorPayload struct {
	Event   string `json:"event,omitempty"`
	Code    string `json:"code"`
	Message string `json:"message"`
}
