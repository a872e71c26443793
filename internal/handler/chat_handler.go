package handler

import (
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/noah-isme/gema-chat/internal/dto"
	"github.com/noah-isme/gema-chat/internal/service"
	"github.com/noah-isme/gema-chat/internal/utils"
)

// ChatHandler exposes chat and group management over REST.
type ChatHandler struct {
	service service.ChatService
	logger  zerolog.Logger
}

// NewChatHandler creates a chat handler instance.
func NewChatHandler(service service.ChatService, logger zerolog.Logger) *ChatHandler {
	return &ChatHandler{
		service: service,
		logger:  logger.With().Str("component", "chat_handler").Logger(),
	}
}

// Register binds chat routes under the provided router group.
func (h *ChatHandler) Register(router fiber.Router) {
	router.Get("/chats", h.listChats)
	router.Post("/chats/direct", h.createDirect)
	router.Post("/chats/group", h.createGroup)
	router.Get("/chats/:chatId", h.getChat)
	router.Delete("/chats/:chatId", h.deleteChat)
	router.Post("/chats/:chatId/block", h.blockChat)
	router.Post("/chats/:chatId/clear", h.clearChat)
	router.Post("/chats/:chatId/leave", h.leaveGroup)
	router.Patch("/chats/:chatId/info", h.updateInfo)
	router.Patch("/chats/:chatId/settings", h.updateSettings)
	router.Post("/chats/:chatId/members", h.addMember)
	router.Delete("/chats/:chatId/members/:userId", h.removeMember)
	router.Put("/chats/:chatId/admins/:userId", h.updateAdmin)
}

func (h *ChatHandler) listChats(c *fiber.Ctx) error {
	userID := userIDStringFromContext(c)
	if userID == "" {
		return unauthenticated(c)
	}

	chats, err := h.service.ListChats(withRequestContext(c), userID)
	if err != nil {
		return respondError(c, h.logger, err)
	}

	return utils.OK(c, chats, "chats", fiber.Map{"count": len(chats)})
}

func (h *ChatHandler) createDirect(c *fiber.Ctx) error {
	userID := userIDStringFromContext(c)
	if userID == "" {
		return unauthenticated(c)
	}

	var payload dto.CreateDirectChatRequest
	if err := c.BodyParser(&payload); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid payload")
	}

	chat, err := h.service.CreateDirectChat(withRequestContext(c), userID, payload)
	if err != nil {
		return respondError(c, h.logger, err)
	}

	return utils.SendSuccessWithStatus(c, fiber.StatusCreated, "chat created", chat)
}

func (h *ChatHandler) createGroup(c *fiber.Ctx) error {
	userID := userIDStringFromContext(c)
	if userID == "" {
		return unauthenticated(c)
	}

	var payload dto.CreateGroupChatRequest
	if err := c.BodyParser(&payload); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid payload")
	}

	chat, err := h.service.CreateGroupChat(withRequestContext(c), userID, payload)
	if err != nil {
		return respondError(c, h.logger, err)
	}

	return utils.SendSuccessWithStatus(c, fiber.StatusCreated, "group created", chat)
}

func (h *ChatHandler) getChat(c *fiber.Ctx) error {
	userID := userIDStringFromContext(c)
	if userID == "" {
		return unauthenticated(c)
	}
	chatID, err := parseUintParam(c, "chatId")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	chat, err := h.service.GetChat(withRequestContext(c), chatID, userID)
	if err != nil {
		return respondError(c, h.logger, err)
	}

	return utils.SendSuccess(c, "chat", chat)
}

func (h *ChatHandler) deleteChat(c *fiber.Ctx) error {
	userID := userIDStringFromContext(c)
	if userID == "" {
		return unauthenticated(c)
	}
	chatID, err := parseUintParam(c, "chatId")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	if err := h.service.DeleteChat(withRequestContext(c), chatID, userID); err != nil {
		return respondError(c, h.logger, err)
	}

	return utils.SendSuccess(c, "chat deleted", fiber.Map{"chat_id": chatID})
}

func (h *ChatHandler) blockChat(c *fiber.Ctx) error {
	userID := userIDStringFromContext(c)
	if userID == "" {
		return unauthenticated(c)
	}
	chatID, err := parseUintParam(c, "chatId")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	result, err := h.service.BlockChat(withRequestContext(c), chatID, userID)
	if err != nil {
		return respondError(c, h.logger, err)
	}

	message := "chat unblocked"
	if result.Blocked {
		message = "chat blocked"
	}
	return utils.SendSuccess(c, message, result)
}

func (h *ChatHandler) clearChat(c *fiber.Ctx) error {
	userID := userIDStringFromContext(c)
	if userID == "" {
		return unauthenticated(c)
	}
	chatID, err := parseUintParam(c, "chatId")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	result, err := h.service.ClearChat(withRequestContext(c), chatID, userID)
	if err != nil {
		return respondError(c, h.logger, err)
	}

	return utils.SendSuccess(c, "chat cleared", result)
}

func (h *ChatHandler) leaveGroup(c *fiber.Ctx) error {
	userID := userIDStringFromContext(c)
	if userID == "" {
		return unauthenticated(c)
	}
	chatID, err := parseUintParam(c, "chatId")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	if err := h.service.LeaveGroup(withRequestContext(c), chatID, userID); err != nil {
		return respondError(c, h.logger, err)
	}

	return utils.SendSuccess(c, "left group", fiber.Map{"chat_id": chatID})
}

func (h *ChatHandler) updateInfo(c *fiber.Ctx) error {
	userID := userIDStringFromContext(c)
	if userID == "" {
		return unauthenticated(c)
	}
	chatID, err := parseUintParam(c, "chatId")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	var payload dto.UpdateGroupInfoRequest
	if err := c.BodyParser(&payload); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid payload")
	}

	chat, err := h.service.UpdateGroupInfo(withRequestContext(c), chatID, userID, payload)
	if err != nil {
		return respondError(c, h.logger, err)
	}

	return utils.SendSuccess(c, "group updated", chat)
}

func (h *ChatHandler) updateSettings(c *fiber.Ctx) error {
	userID := userIDStringFromContext(c)
	if userID == "" {
		return unauthenticated(c)
	}
	chatID, err := parseUintParam(c, "chatId")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	var payload dto.GroupSettingsPayload
	if err := c.BodyParser(&payload); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid payload")
	}

	chat, err := h.service.UpdateGroupSettings(withRequestContext(c), chatID, userID, payload)
	if err != nil {
		return respondError(c, h.logger, err)
	}

	return utils.SendSuccess(c, "group settings updated", chat)
}

func (h *ChatHandler) addMember(c *fiber.Ctx) error {
	userID := userIDStringFromContext(c)
	if userID == "" {
		return unauthenticated(c)
	}
	chatID, err := parseUintParam(c, "chatId")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	var payload dto.GroupMemberRequest
	if err := c.BodyParser(&payload); err != nil || payload.UserID == "" {
		return utils.SendError(c, fiber.StatusBadRequest, "user_id required")
	}

	chat, err := h.service.AddGroupMember(withRequestContext(c), chatID, payload.UserID, userID)
	if err != nil {
		return respondError(c, h.logger, err)
	}

	return utils.SendSuccess(c, "member added", chat)
}

func (h *ChatHandler) removeMember(c *fiber.Ctx) error {
	userID := userIDStringFromContext(c)
	if userID == "" {
		return unauthenticated(c)
	}
	chatID, err := parseUintParam(c, "chatId")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	chat, err := h.service.RemoveGroupMember(withRequestContext(c), chatID, c.Params("userId"), userID)
	if err != nil {
		return respondError(c, h.logger, err)
	}

	return utils.SendSuccess(c, "member removed", chat)
}

func (h *ChatHandler) updateAdmin(c *fiber.Ctx) error {
	userID := userIDStringFromContext(c)
	if userID == "" {
		return unauthenticated(c)
	}
	chatID, err := parseUintParam(c, "chatId")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	var payload dto.GroupAdminRequest
	if err := c.BodyParser(&payload); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid payload")
	}

	chat, err := h.service.UpdateGroupAdmin(withRequestContext(c), chatID, c.Params("userId"), userID, payload.IsAdmin)
	if err != nil {
		return respondError(c, h.logger, err)
	}

	return utils.SendSuccess(c, "group admins updated", chat)
}
