package realtime

import (
	"sync"
	"time"

	"github.com/gofiber/websocket/v2"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/noah-isme/gema-chat/internal/dto"
	"github.com/noah-isme/gema-chat/internal/observability"
)

// Conn is the subset of a websocket connection the gateway drives.
type Conn interface {
	ReadJSON(v interface{}) error
	WriteJSON(v interface{}) error
	WriteMessage(messageType int, data []byte) error
	Close() error
}

type outbound struct {
	frame    dto.SocketFrame
	delivery *dto.DeliveryTarget
}

type client struct {
	id            string
	userID        string
	correlationID string
	conn          Conn
	send          chan outbound
	closed        chan struct{}
	once          sync.Once
	gateway       *Gateway
	logger        zerolog.Logger
}

func newClient(g *Gateway, conn Conn, userID, correlationID string) *client {
	id := uuid.NewString()
	return &client{
		id:            id,
		userID:        userID,
		correlationID: correlationID,
		conn:          conn,
		send:          make(chan outbound, g.sendBuffer),
		closed:        make(chan struct{}),
		gateway:       g,
		logger: g.logger.With().
			Str("user_id", userID).
			Str("connection_id", id).
			Str("correlation_id", correlationID).
			Logger(),
	}
}

// enqueue never blocks. A full queue drops the frame for this client only.
func (c *client) enqueue(o outbound) bool {
	select {
	case <-c.closed:
		return false
	default:
	}

	select {
	case c.send <- o:
		return true
	default:
		observability.RealtimeDrops().WithLabelValues(o.frame.Event).Inc()
		c.logger.Warn().Str("event", o.frame.Event).Msg("dropping realtime frame for slow client")
		return false
	}
}

func (c *client) reply(event, requestID string, data interface{}) {
	c.enqueue(outbound{frame: dto.SocketFrame{Event: event, Data: data, RequestID: requestID}})
}

func (c *client) writer() {
	defer c.close()

	ticker := time.NewTicker(c.gateway.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case o := <-c.send:
			if err := c.conn.WriteJSON(o.frame); err != nil {
				c.logger.Debug().Err(err).Msg("realtime write loop terminated")
				return
			}
			observability.RealtimeEvents().WithLabelValues(o.frame.Event, "outbound").Inc()
			if o.delivery != nil && o.delivery.SenderID != c.userID {
				c.gateway.confirmDelivery(o.delivery.MessageID)
			}
		case <-ticker.C:
			if err := c.conn.WriteMessage(websocket.PingMessage, []byte("keepalive")); err != nil {
				c.logger.Debug().Err(err).Msg("realtime ping failed")
				return
			}
			c.gateway.refreshPresence(c)
		case <-c.closed:
			return
		}
	}
}

func (c *client) close() {
	c.once.Do(func() {
		close(c.closed)
		_ = c.conn.Close()
	})
}

func (c *client) isClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}
