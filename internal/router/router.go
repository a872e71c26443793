package router

import (
	"github.com/gofiber/fiber/v2"

	"github.com/noah-isme/gema-chat/internal/config"
	"github.com/noah-isme/gema-chat/internal/handler"
	"github.com/noah-isme/gema-chat/internal/observability"
)

// Dependencies groups router dependencies for registration.
type Dependencies struct {
	ChatHandler     *handler.ChatHandler
	MessageHandler  *handler.MessageHandler
	RealtimeHandler *handler.RealtimeHandler
	UploadHandler   *handler.UploadHandler
	HealthProbes    []handler.Probe
	JWTMiddleware   fiber.Handler
	SendRateLimit   fiber.Handler
}

// Register wires the HTTP routes into the fiber application.
func Register(app *fiber.App, cfg config.Config, deps Dependencies) {
	api := app.Group("/api/v1", func(c *fiber.Ctx) error {
		c.Set("X-Application", cfg.AppName)
		return c.Next()
	})
	api.Get("/health", handler.HealthCheck(cfg, deps.HealthProbes...))
	app.Get("/metrics", observability.MetricsHandler())

	jwtMiddleware := deps.JWTMiddleware
	if jwtMiddleware == nil {
		jwtMiddleware = func(c *fiber.Ctx) error { return c.Next() }
	}

	// The socket route authenticates during the handshake itself, so it is registered
	// before the JWT guarded group.
	if deps.RealtimeHandler != nil {
		deps.RealtimeHandler.RegisterSocket(app.Group("/api/v2/chat"))
	}

	chat := app.Group("/api/v2/chat", jwtMiddleware)

	if deps.ChatHandler != nil {
		deps.ChatHandler.Register(chat)
	}
	if deps.MessageHandler != nil {
		deps.MessageHandler.Register(chat, deps.SendRateLimit)
	}
	if deps.RealtimeHandler != nil {
		deps.RealtimeHandler.RegisterPresence(chat)
	}
	if deps.UploadHandler != nil {
		deps.UploadHandler.Register(chat)
	}
}
