package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"github.com/noah-isme/gema-chat/internal/audit"
	"github.com/noah-isme/gema-chat/internal/config"
	"github.com/noah-isme/gema-chat/internal/database"
	"github.com/noah-isme/gema-chat/internal/handler"
	"github.com/noah-isme/gema-chat/internal/middleware"
	"github.com/noah-isme/gema-chat/internal/observability"
	"github.com/noah-isme/gema-chat/internal/realtime"
	"github.com/noah-isme/gema-chat/internal/repository"
	"github.com/noah-isme/gema-chat/internal/router"
	"github.com/noah-isme/gema-chat/internal/service"
	cloud "github.com/noah-isme/gema-chat/pkg/cloudinary"
)

func main() {
	logger := zerolog.New(os.Stdout).With().Timestamp().Str("service", "gema-chat").Logger()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load configuration")
	}
	if cfg.AppEnv == "development" {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	} else {
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := observability.SetupTracing(ctx, observability.TracingConfig{
		Endpoint:    cfg.OTelEndpoint,
		Insecure:    cfg.OTelInsecure,
		ServiceName: "gema-chat",
		Environment: cfg.AppEnv,
		SampleRatio: cfg.OTelSampleRatio,
	}, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to set up tracing")
	}

	db, err := database.ConnectPostgres(cfg.DatabaseURL, database.PoolConfig{
		MaxOpenConns:    cfg.DBMaxOpenConns,
		MaxIdleConns:    cfg.DBMaxIdleConns,
		ConnMaxLifetime: cfg.DBConnLifetime,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	if err := database.Migrate(db); err != nil {
		logger.Fatal().Err(err).Msg("failed to migrate database")
	}

	redisClient, err := database.ConnectRedis(ctx, cfg.RedisURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to redis")
	}
	defer redisClient.Close()

	var natsConn *nats.Conn
	if cfg.NATSURL != "" {
		natsConn, err = database.ConnectNATS(cfg.NATSURL, cfg.AppName, logger)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to connect to nats")
		}
		defer natsConn.Close()
	}

	auditPublisher := audit.NewPublisher(cfg.AMQPURL, cfg.AMQPExchange, logger)
	defer func() {
		if err := auditPublisher.Close(); err != nil {
			logger.Warn().Err(err).Msg("failed to close audit publisher")
		}
	}()
	logger.Info().Str("mode", audit.Mode(auditPublisher)).Str("reason", audit.NoopReason(auditPublisher)).Msg("audit publisher configured")
	auditEmitter := audit.NewEmitter(auditPublisher, "chat.moderation", "gema-chat", cfg.AppEnv, logger)

	validate := validator.New(validator.WithRequiredStructEnabled())

	gateway := realtime.NewGateway(redisClient, natsConn, realtime.Options{
		ChannelBase:  cfg.ChannelBase,
		SendBuffer:   cfg.SendBuffer,
		PingInterval: cfg.PingInterval,
	}, validate, logger)

	chatRepo := repository.NewChatRepository(db)
	messageRepo := repository.NewMessageRepository(db)
	accountRepo := repository.NewAccountRepository(db)
	uploadRepo := repository.NewUploadRepository(db)

	directory := service.NewAccountDirectory(accountRepo, redisClient, cfg.DirectoryCacheTTL, logger)
	chatService := service.NewChatService(chatRepo, messageRepo, directory, gateway, auditEmitter, validate, logger)
	gateway.Bind(chatService)

	if err := gateway.Start(ctx); err != nil {
		logger.Fatal().Err(err).Msg("failed to start realtime relay")
	}

	tokens := middleware.NewTokenValidator(cfg.JWTSecret)

	var uploadHandler *handler.UploadHandler
	uploader, err := cloud.New(cloud.Config{
		CloudName: cfg.CloudinaryCloudName,
		APIKey:    cfg.CloudinaryAPIKey,
		APISecret: cfg.CloudinaryAPISecret,
		Folder:    cfg.CloudinaryUploadFolder,
	}, logger)
	if err != nil {
		logger.Warn().Err(err).Msg("attachment uploads disabled")
	} else {
		uploadService := service.NewUploadService(uploader, uploadRepo, cfg.UploadMaxMB, logger)
		uploadHandler = handler.NewUploadHandler(uploadService, logger)
	}

	app := fiber.New(fiber.Config{
		AppName:      cfg.AppName,
		ServerHeader: cfg.AppName,
		BodyLimit:    (cfg.UploadMaxMB + 1) * 1024 * 1024,
	})

	middleware.Register(app, middleware.Config{
		Logger:       &logger,
		AllowOrigins: cfg.AllowedOrigins,
		AccessLog:    cfg.AccessLog,
	})
	router.Register(app, cfg, router.Dependencies{
		ChatHandler:     handler.NewChatHandler(chatService, logger),
		MessageHandler:  handler.NewMessageHandler(chatService, cfg.HistoryLimit, logger),
		RealtimeHandler: handler.NewRealtimeHandler(gateway, tokens, cfg.AllowedOrigins, logger),
		UploadHandler:   uploadHandler,
		HealthProbes:    healthProbes(db, redisClient, natsConn),
		JWTMiddleware:   tokens.Protected(),
		SendRateLimit:   middleware.RateLimit("chat:send", cfg.MessageRateLimit, cfg.MessageRateWindow),
	})

	go func() {
		if err := app.Listen(cfg.HTTPAddress()); err != nil {
			logger.Fatal().Err(err).Msg("failed to start server")
		}
	}()

	<-ctx.Done()
	waitForShutdown(app, gateway, shutdownTracing, logger)
}

func waitForShutdown(app *fiber.App, gateway *realtime.Gateway, shutdownTracing func(context.Context) error, logger zerolog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	logger.Info().Int("connections", gateway.ConnectionCount()).Msg("shutting down")

	if err := app.ShutdownWithContext(ctx); err != nil {
		logger.Error().Err(err).Msg("graceful shutdown failed")
	}
	if err := shutdownTracing(ctx); err != nil {
		logger.Warn().Err(err).Msg("failed to flush traces")
	}

	logger.Info().Msg("server stopped")
}
