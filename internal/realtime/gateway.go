package realtime

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/noah-isme/gema-chat/internal/dto"
	"github.com/noah-isme/gema-chat/internal/observability"
)

const (
	defaultSendBuffer   = 32
	defaultPingInterval = 30 * time.Second
	deliveryTimeout     = 5 * time.Second
)

// ErrNotBound is returned by Serve before a chat delegate has been bound.
var ErrNotBound = errors.New("realtime gateway has no chat delegate")

// ChatDelegate is the part of the chat service the gateway routes inbound events to.
type ChatDelegate interface {
	ChatIDsForUser(ctx context.Context, userID string) ([]uint, error)
	IsParticipant(ctx context.Context, chatID uint, userID string) (bool, error)
	SendMessage(ctx context.Context, chatID uint, senderID string, req dto.SendMessageRequest) (dto.MessageResponse, error)
	UpdateMessageStatus(ctx context.Context, chatID, messageID uint, userID, status string) (dto.MessageStatusPayload, error)
	MarkMessagesAsRead(ctx context.Context, chatID uint, userID string) (dto.MarkReadResponse, error)
	MarkDelivered(ctx context.Context, messageID uint) (bool, error)
}

// Options tune the gateway.
type Options struct {
	// ChannelBase namespaces the redis channel, NATS subject and presence keys.
	ChannelBase  string
	SendBuffer   int
	PingInterval time.Duration
	NodeID       string
}

// Gateway keeps websocket sessions, maps them onto chat rooms and fans events out to them.
// Events are relayed to other nodes through NATS when connected, otherwise redis pub/sub.
type Gateway struct {
	mu       sync.RWMutex
	delegate ChatDelegate

	sessions *sessionRegistry
	rooms    *rooms

	redis        *redis.Client
	redisChannel string
	presenceKey  string
	nats         *nats.Conn
	natsSubject  string
	nodeID       string

	validator    *validator.Validate
	logger       zerolog.Logger
	sendBuffer   int
	pingInterval time.Duration

	pending sync.Map
}

// NewGateway creates a gateway. redisClient and natsConn may be nil for a single node.
func NewGateway(redisClient *redis.Client, natsConn *nats.Conn, opts Options, validate *validator.Validate, logger zerolog.Logger) *Gateway {
	if opts.SendBuffer <= 0 {
		opts.SendBuffer = defaultSendBuffer
	}
	if opts.PingInterval <= 0 {
		opts.PingInterval = defaultPingInterval
	}
	if opts.NodeID == "" {
		opts.NodeID = uuid.NewString()
	}
	if validate == nil {
		validate = validator.New()
	}

	base := strings.TrimSpace(opts.ChannelBase)
	if base == "" {
		base = "gema"
	}

	return &Gateway{
		sessions:     newSessionRegistry(),
		rooms:        newRooms(),
		redis:        redisClient,
		redisChannel: base + ":chat:events",
		presenceKey:  base + ":chat:presence:",
		nats:         natsConn,
		natsSubject:  strings.ReplaceAll(base, ":", ".") + ".chat.events",
		nodeID:       opts.NodeID,
		validator:    validate,
		logger:       logger.With().Str("component", "realtime_gateway").Logger(),
		sendBuffer:   opts.SendBuffer,
		pingInterval: opts.PingInterval,
	}
}

// Bind attaches the chat delegate. It must be called before Serve.
func (g *Gateway) Bind(delegate ChatDelegate) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.delegate = delegate
}

func (g *Gateway) chat() ChatDelegate {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.delegate
}

// NodeID identifies this gateway in relayed events.
func (g *Gateway) NodeID() string {
	return g.nodeID
}

// Serve runs a connection for an authenticated user until it closes. A newer connection
// for the same user replaces this one.
func (g *Gateway) Serve(ctx context.Context, conn Conn, userID, correlationID string) error {
	delegate := g.chat()
	if delegate == nil {
		_ = conn.Close()
		return ErrNotBound
	}
	if ctx == nil {
		ctx = context.Background()
	}

	chatIDs, err := delegate.ChatIDsForUser(ctx, userID)
	if err != nil {
		g.logger.Error().Err(err).Str("user_id", userID).Str("correlation_id", correlationID).Msg("failed to load chats for connection")
		_ = conn.Close()
		return err
	}

	c := newClient(g, conn, userID, correlationID)
	g.sessions.withUser(userID, func() {
		if previous := g.sessions.Swap(userID, c); previous != nil {
			c.logger.Info().Str("replaced_connection_id", previous.id).Msg("replacing previous connection")
			previous.close()
		}
		for _, chatID := range chatIDs {
			g.rooms.join(chatID, userID)
		}
		g.refreshPresence(c)
		g.broadcastPresence(ctx, userID, dto.PresenceOnline, chatIDs)
	})

	observability.ChatConnectionsTotal().Inc()
	observability.ChatConnectionsActive().Inc()
	defer observability.ChatConnectionsActive().Dec()
	c.logger.Info().Int("rooms", len(chatIDs)).Msg("realtime client connected")

	go c.writer()
	g.readLoop(ctx, c)

	g.disconnect(ctx, c)
	return nil
}

func (g *Gateway) disconnect(ctx context.Context, c *client) {
	c.close()
	g.sessions.withUser(c.userID, func() {
		if !g.sessions.RemoveIf(c.userID, c) {
			c.logger.Debug().Msg("connection already replaced")
			return
		}

		chatIDs := g.rooms.leaveAll(c.userID)
		g.clearPresence(c)
		g.broadcastPresence(context.WithoutCancel(ctx), c.userID, dto.PresenceOffline, chatIDs)
		c.logger.Info().Msg("realtime client disconnected")
	})
}

// Publish fans the event out locally and relays it to the other nodes.
func (g *Gateway) Publish(ctx context.Context, event dto.ChatEvent) {
	g.deliverLocal(event)
	if err := g.relay(ctx, event); err != nil {
		g.logger.Warn().Err(err).Str("event", event.Name).Uint("chat_id", event.ChatID).Msg("failed to relay realtime event")
	}
}

// Online reports whether the user has a live connection on any node.
func (g *Gateway) Online(ctx context.Context, userID string) bool {
	if g.sessions.Get(userID) != nil {
		return true
	}
	if g.redis == nil {
		return false
	}
	exists, err := g.redis.Exists(ctx, g.presenceKey+userID).Result()
	if err != nil {
		g.logger.Warn().Err(err).Str("user_id", userID).Msg("failed to read presence")
		return false
	}
	return exists > 0
}

// ConnectionCount reports the sessions held by this node.
func (g *Gateway) ConnectionCount() int {
	return g.sessions.Count()
}

func (g *Gateway) deliverLocal(event dto.ChatEvent) {
	for _, userID := range event.Subscribe {
		if g.sessions.Get(userID) != nil {
			g.rooms.join(event.ChatID, userID)
		}
	}

	targets := make([]uint, 0, len(event.Rooms)+1)
	if event.ChatID != 0 {
		targets = append(targets, event.ChatID)
	}
	targets = append(targets, event.Rooms...)

	frame := dto.SocketFrame{Event: event.Name, Data: event.Payload}
	for _, userID := range g.rooms.audience(targets...) {
		if userID == event.ExcludeUserID {
			continue
		}
		if c := g.sessions.Get(userID); c != nil {
			c.enqueue(outbound{frame: frame, delivery: event.Delivery})
		}
	}

	for _, userID := range event.Unsubscribe {
		g.rooms.leave(event.ChatID, userID)
	}
}

// confirmDelivery flips a message to delivered once per message at a time; the chat
// delegate announces the status change itself.
func (g *Gateway) confirmDelivery(messageID uint) {
	if _, inFlight := g.pending.LoadOrStore(messageID, struct{}{}); inFlight {
		return
	}
	delegate := g.chat()
	if delegate == nil {
		g.pending.Delete(messageID)
		return
	}

	go func() {
		defer g.pending.Delete(messageID)
		ctx, cancel := context.WithTimeout(context.Background(), deliveryTimeout)
		defer cancel()
		if _, err := delegate.MarkDelivered(ctx, messageID); err != nil {
			g.logger.Warn().Err(err).Uint("message_id", messageID).Msg("failed to mark message delivered")
		}
	}()
}

func (g *Gateway) broadcastPresence(ctx context.Context, userID, status string, chatIDs []uint) {
	if len(chatIDs) == 0 {
		return
	}
	g.Publish(ctx, dto.ChatEvent{
		Name:          dto.EventUserStatus,
		Rooms:         chatIDs,
		Payload:       dto.UserStatusPayload{UserID: userID, Status: status},
		ExcludeUserID: userID,
	})
}

func (g *Gateway) refreshPresence(c *client) {
	if g.redis == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := g.redis.Set(ctx, g.presenceKey+c.userID, c.id, 3*g.pingInterval).Err(); err != nil {
		c.logger.Debug().Err(err).Msg("failed to refresh presence")
	}
}

func (g *Gateway) clearPresence(c *client) {
	if g.redis == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	key := g.presenceKey + c.userID
	current, err := g.redis.Get(ctx, key).Result()
	if err != nil {
		return
	}
	if current == c.id {
		_ = g.redis.Del(ctx, key).Err()
	}
}
