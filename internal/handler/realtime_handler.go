package handler

import (
	"context"
	"errors"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/noah-isme/gema-chat/internal/dto"
	"github.com/noah-isme/gema-chat/internal/middleware"
	"github.com/noah-isme/gema-chat/internal/realtime"
	"github.com/noah-isme/gema-chat/internal/service"
	"github.com/noah-isme/gema-chat/internal/utils"
)

const maxSocketFrameBytes = 64 * 1024

// RealtimeGateway is the part of the gateway the HTTP layer needs.
type RealtimeGateway interface {
	Serve(ctx context.Context, conn realtime.Conn, userID, correlationID string) error
	Online(ctx context.Context, userID string) bool
}

// Authenticator resolves the caller of a request from its bearer token.
type Authenticator interface {
	Authenticate(c *fiber.Ctx) (middleware.Identity, error)
}

// RealtimeHandler upgrades authenticated requests to websocket sessions and answers
// presence queries.
type RealtimeHandler struct {
	gateway RealtimeGateway
	auth    Authenticator
	origins []string
	logger  zerolog.Logger
}

// NewRealtimeHandler creates the websocket handler. origins limits the handshake Origin
// header; empty allows any origin.
func NewRealtimeHandler(gateway RealtimeGateway, auth Authenticator, origins []string, logger zerolog.Logger) *RealtimeHandler {
	return &RealtimeHandler{
		gateway: gateway,
		auth:    auth,
		origins: origins,
		logger:  logger.With().Str("component", "realtime_handler").Logger(),
	}
}

// RegisterSocket binds the websocket endpoint. It authenticates on its own since browsers
// pass the token as a query parameter during the handshake.
func (h *RealtimeHandler) RegisterSocket(router fiber.Router) {
	router.Get("/ws", h.handshake, websocket.New(h.serve, websocket.Config{
		Origins:         h.origins,
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
	}))
}

// RegisterPresence binds presence routes. The router is expected to be authenticated.
func (h *RealtimeHandler) RegisterPresence(router fiber.Router) {
	router.Get("/users/:id/presence", h.presence)
}

func (h *RealtimeHandler) handshake(c *fiber.Ctx) error {
	_, span := otel.Tracer("github.com/noah-isme/gema-chat/internal/handler/realtime").Start(withRequestContext(c), "ws.handshake")
	defer span.End()

	identity, err := h.auth.Authenticate(c)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		reqLogger := middleware.RequestLogger(h.logger, c)
		reqLogger.Warn().Err(err).Str("ip", c.IP()).Msg("websocket handshake rejected")
		return utils.Fail(c, fiber.StatusUnauthorized, err.Error(), fiber.Map{"code": service.CodeAuth})
	}
	span.SetAttributes(attribute.String("chat.user_id", identity.UserID))

	if !websocket.IsWebSocketUpgrade(c) {
		return fiber.ErrUpgradeRequired
	}
	return c.Next()
}

func (h *RealtimeHandler) serve(conn *websocket.Conn) {
	userID, _ := conn.Locals("user_id").(string)
	correlationID, _ := conn.Locals("correlation_id").(string)
	if strings.TrimSpace(userID) == "" {
		_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "unauthenticated"))
		_ = conn.Close()
		return
	}

	conn.SetReadLimit(maxSocketFrameBytes)

	ctx, cancel := context.WithCancel(middleware.ContextWithCorrelation(context.Background(), correlationID))
	defer cancel()

	if err := h.gateway.Serve(ctx, conn, userID, correlationID); err != nil {
		logger := h.logger.With().Str("user_id", userID).Str("correlation_id", correlationID).Logger()
		if errors.Is(err, realtime.ErrNotBound) {
			logger.Error().Err(err).Msg("realtime gateway is not ready")
			return
		}
		logger.Warn().Err(err).Msg("realtime session ended with error")
	}
}

func (h *RealtimeHandler) presence(c *fiber.Ctx) error {
	if userIDStringFromContext(c) == "" {
		return unauthenticated(c)
	}

	target := strings.TrimSpace(c.Params("id"))
	if target == "" {
		return utils.SendError(c, fiber.StatusBadRequest, "id required")
	}

	return utils.SendSuccess(c, "presence", dto.PresenceResponse{
		UserID: target,
		Online: h.gateway.Online(withRequestContext(c), target),
	})
}
