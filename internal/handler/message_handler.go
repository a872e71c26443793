package handler

import (
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/noah-isme/gema-chat/internal/dto"
	"github.com/noah-isme/gema-chat/internal/service"
	"github.com/noah-isme/gema-chat/internal/utils"
)

// MessageHandler exposes message history and message mutations over REST.
type MessageHandler struct {
	service      service.ChatService
	historyLimit int
	logger       zerolog.Logger
}

// NewMessageHandler creates a message handler instance. historyLimit is the page size used
// when a request does not ask for one.
func NewMessageHandler(service service.ChatService, historyLimit int, logger zerolog.Logger) *MessageHandler {
	return &MessageHandler{
		service:      service,
		historyLimit: historyLimit,
		logger:       logger.With().Str("component", "message_handler").Logger(),
	}
}

// Register binds message routes. sendLimit, when set, guards the routes that create messages.
func (h *MessageHandler) Register(router fiber.Router, sendLimit fiber.Handler) {
	if sendLimit == nil {
		sendLimit = func(c *fiber.Ctx) error { return c.Next() }
	}

	router.Get("/chats/:chatId/messages", h.listMessages)
	router.Post("/chats/:chatId/messages", sendLimit, h.sendMessage)
	router.Post("/chats/:chatId/messages/:messageId/reply", sendLimit, h.reply)
	router.Patch("/chats/:chatId/messages/:messageId", h.edit)
	router.Post("/chats/:chatId/messages/:messageId/status", h.updateStatus)
	router.Post("/chats/:chatId/read", h.markRead)

	router.Delete("/messages/:messageId", h.delete)
	router.Post("/messages/:messageId/forward", sendLimit, h.forward)
	router.Put("/messages/:messageId/reactions", h.addReaction)
	router.Delete("/messages/:messageId/reactions", h.removeReaction)
}

func (h *MessageHandler) listMessages(c *fiber.Ctx) error {
	userID := userIDStringFromContext(c)
	if userID == "" {
		return unauthenticated(c)
	}
	chatID, err := parseUintParam(c, "chatId")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	var query dto.MessageHistoryQuery
	if before := strings.TrimSpace(c.Query("before")); before != "" {
		parsed, err := time.Parse(time.RFC3339Nano, before)
		if err != nil {
			return utils.SendError(c, fiber.StatusBadRequest, "invalid before timestamp")
		}
		query.Before = &parsed
	}
	limit, err := parseQueryInt(c, "limit")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid limit")
	}
	if limit == 0 {
		limit = h.historyLimit
	}
	query.Limit = limit

	messages, err := h.service.ListMessages(withRequestContext(c), chatID, userID, query)
	if err != nil {
		return respondError(c, h.logger, err)
	}

	meta := fiber.Map{"count": len(messages)}
	if len(messages) > 0 {
		meta["next_before"] = messages[0].CreatedAt.UTC().Format(time.RFC3339Nano)
	}
	return utils.OK(c, messages, "messages", meta)
}

func (h *MessageHandler) sendMessage(c *fiber.Ctx) error {
	userID := userIDStringFromContext(c)
	if userID == "" {
		return unauthenticated(c)
	}
	chatID, err := parseUintParam(c, "chatId")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	var payload dto.SendMessageRequest
	if err := c.BodyParser(&payload); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid payload")
	}

	message, err := h.service.SendMessage(withRequestContext(c), chatID, userID, payload)
	if err != nil {
		return respondError(c, h.logger, err)
	}

	return utils.SendSuccessWithStatus(c, fiber.StatusCreated, "message sent", message)
}

func (h *MessageHandler) reply(c *fiber.Ctx) error {
	userID := userIDStringFromContext(c)
	if userID == "" {
		return unauthenticated(c)
	}
	chatID, err := parseUintParam(c, "chatId")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}
	messageID, err := parseUintParam(c, "messageId")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	var payload dto.ReplyMessageRequest
	if err := c.BodyParser(&payload); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid payload")
	}

	message, err := h.service.ReplyToMessage(withRequestContext(c), chatID, messageID, userID, payload)
	if err != nil {
		return respondError(c, h.logger, err)
	}

	return utils.SendSuccessWithStatus(c, fiber.StatusCreated, "reply sent", message)
}

func (h *MessageHandler) edit(c *fiber.Ctx) error {
	userID := userIDStringFromContext(c)
	if userID == "" {
		return unauthenticated(c)
	}
	chatID, err := parseUintParam(c, "chatId")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}
	messageID, err := parseUintParam(c, "messageId")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	var payload dto.EditMessageRequest
	if err := c.BodyParser(&payload); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid payload")
	}

	message, err := h.service.EditMessage(withRequestContext(c), chatID, messageID, userID, payload)
	if err != nil {
		return respondError(c, h.logger, err)
	}

	return utils.SendSuccess(c, "message updated", message)
}

func (h *MessageHandler) updateStatus(c *fiber.Ctx) error {
	userID := userIDStringFromContext(c)
	if userID == "" {
		return unauthenticated(c)
	}
	chatID, err := parseUintParam(c, "chatId")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}
	messageID, err := parseUintParam(c, "messageId")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	var payload dto.MessageStatusRequest
	if err := c.BodyParser(&payload); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid payload")
	}

	status, err := h.service.UpdateMessageStatus(withRequestContext(c), chatID, messageID, userID, payload.Status)
	if err != nil {
		return respondError(c, h.logger, err)
	}

	return utils.SendSuccess(c, "message status", status)
}

func (h *MessageHandler) markRead(c *fiber.Ctx) error {
	userID := userIDStringFromContext(c)
	if userID == "" {
		return unauthenticated(c)
	}
	chatID, err := parseUintParam(c, "chatId")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	result, err := h.service.MarkMessagesAsRead(withRequestContext(c), chatID, userID)
	if err != nil {
		return respondError(c, h.logger, err)
	}

	return utils.SendSuccess(c, "messages marked as read", result)
}

func (h *MessageHandler) delete(c *fiber.Ctx) error {
	userID := userIDStringFromContext(c)
	if userID == "" {
		return unauthenticated(c)
	}
	messageID, err := parseUintParam(c, "messageId")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	forEveryone := c.QueryBool("for_everyone", false)
	if err := h.service.DeleteMessage(withRequestContext(c), messageID, userID, forEveryone); err != nil {
		return respondError(c, h.logger, err)
	}

	return utils.SendSuccess(c, "message deleted", fiber.Map{"message_id": messageID, "for_everyone": forEveryone})
}

func (h *MessageHandler) forward(c *fiber.Ctx) error {
	userID := userIDStringFromContext(c)
	if userID == "" {
		return unauthenticated(c)
	}
	messageID, err := parseUintParam(c, "messageId")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	var payload dto.ForwardMessageRequest
	if err := c.BodyParser(&payload); err != nil || payload.TargetChatID == 0 {
		return utils.SendError(c, fiber.StatusBadRequest, "target_chat_id required")
	}

	message, err := h.service.ForwardMessage(withRequestContext(c), messageID, payload.TargetChatID, userID)
	if err != nil {
		return respondError(c, h.logger, err)
	}

	return utils.SendSuccessWithStatus(c, fiber.StatusCreated, "message forwarded", message)
}

func (h *MessageHandler) addReaction(c *fiber.Ctx) error {
	userID := userIDStringFromContext(c)
	if userID == "" {
		return unauthenticated(c)
	}
	messageID, err := parseUintParam(c, "messageId")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	var payload dto.ReactionRequest
	if err := c.BodyParser(&payload); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid payload")
	}

	message, err := h.service.AddReaction(withRequestContext(c), messageID, userID, payload)
	if err != nil {
		return respondError(c, h.logger, err)
	}

	return utils.SendSuccess(c, "reaction saved", message)
}

func (h *MessageHandler) removeReaction(c *fiber.Ctx) error {
	userID := userIDStringFromContext(c)
	if userID == "" {
		return unauthenticated(c)
	}
	messageID, err := parseUintParam(c, "messageId")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	message, err := h.service.RemoveReaction(withRequestContext(c), messageID, userID)
	if err != nil {
		return respondError(c, h.logger, err)
	}

	return utils.SendSuccess(c, "reaction removed", message)
}
