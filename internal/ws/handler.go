package ws

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/fathima-sithara/chat-app/internal/apperrors"
	"github.com/fathima-sithara/chat-app/internal/events"
	"github.com/fathima-sithara/chat-app/internal/hub"
	"github.com/fathima-sithara/chat-app/internal/presence"
	"github.com/fathima-sithara/chat-app/internal/utils"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

type TokenVerifier interface {
	VerifyToken(token string) (string, error)
}

type Options struct {
	PingInterval   time.Duration
	PongWait       time.Duration
	WriteDeadline  time.Duration
	MaxMessageSize int64
	SendBuffer     int
	EventsPerSec   int
}

func (o *Options) defaults() {
	if o.PingInterval <= 0 {
		o.PingInterval = 25 * time.Second
	}
	if o.PongWait <= o.PingInterval {
		o.PongWait = o.PingInterval * 2
	}
	if o.WriteDeadline <= 0 {
		o.WriteDeadline = 10 * time.Second
	}
	if o.MaxMessageSize <= 0 {
		o.MaxMessageSize = 64 * 1024
	}
	if o.SendBuffer <= 0 {
		o.SendBuffer = 64
	}
	if o.EventsPerSec <= 0 {
		o.EventsPerSec = 20
	}
}

// Handler upgrades authenticated requests and runs one reader and one
// writer goroutine per connection.
type Handler struct {
	hub        *hub.Hub
	presence   *presence.Registry
	dispatcher *Dispatcher
	tokens     TokenVerifier
	opts       Options
	log        *zap.Logger
}

func NewHandler(h *hub.Hub, reg *presence.Registry, d *Dispatcher, tokens TokenVerifier, opts Options, log *zap.Logger) *Handler {
	opts.defaults()
	return &Handler{hub: h, presence: reg, dispatcher: d, tokens: tokens, opts: opts, log: log}
}

// Upgrade rejects non-websocket and unauthenticated requests before the
// handshake. The token comes from ?token= or the Authorization header.
func (h *Handler) Upgrade(c *fiber.Ctx) error {
	if !websocket.IsWebSocketUpgrade(c) {
		return fiber.ErrUpgradeRequired
	}
	token := c.Query("token")
	if token == "" {
		token = strings.TrimPrefix(c.Get(fiber.HeaderAuthorization), "Bearer ")
	}
	userID, err := h.tokens.VerifyToken(token)
	if err != nil || token == "" {
		return utils.JSONAppError(c, apperrors.ErrUnauthenticated)
	}
	c.Locals("user_id", userID)

	// clients may pick their own connection id so HTTP calls can exclude it
	connID := c.Query("conn_id")
	if _, err := uuid.Parse(connID); err != nil {
		connID = uuid.NewString()
	}
	c.Locals("conn_id", connID)
	return c.Next()
}

func (h *Handler) Serve() fiber.Handler {
	return websocket.New(h.serve)
}

func (h *Handler) serve(conn *websocket.Conn) {
	userID, _ := conn.Locals("user_id").(string)
	connID, _ := conn.Locals("conn_id").(string)

	client := hub.NewClient(connID, userID, h.opts.SendBuffer)
	if !h.hub.Register(client) {
		// a stale socket still holds the requested id
		client = hub.NewClient(uuid.NewString(), userID, h.opts.SendBuffer)
		h.hub.Register(client)
	}
	log := h.log.With(zap.String("conn_id", client.ID), zap.String("user_id", userID))
	log.Info("ws connected", zap.Bool("requested_id", client.ID == connID))

	// written before the writer starts so it is always the first frame
	if err := h.writeConnected(conn, client.ID); err != nil {
		log.Debug("ws hello failed", zap.Error(err))
		h.hub.Unregister(client.ID)
		_ = conn.Close()
		return
	}

	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		h.writePump(conn, client, done, log)
	}()

	defer func() {
		close(done)
		wg.Wait()
		h.presence.SetOffline(client.ID)
		h.hub.Unregister(client.ID)
		_ = conn.Close()
		log.Info("ws disconnected")
	}()

	if snap, err := h.presence.Snapshot(); err == nil {
		h.hub.SendTo(client.ID, snap)
	}
	h.readPump(conn, client, log)
}

func (h *Handler) writeConnected(conn *websocket.Conn, connID string) error {
	frame, err := events.Marshal(events.Connected{ConnID: connID})
	if err != nil {
		return err
	}
	_ = conn.SetWriteDeadline(time.Now().Add(h.opts.WriteDeadline))
	return conn.WriteMessage(websocket.TextMessage, frame)
}

func (h *Handler) readPump(conn *websocket.Conn, client *hub.Client, log *zap.Logger) {
	conn.SetReadLimit(h.opts.MaxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(h.opts.PongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(h.opts.PongWait))
	})
	limiter := rate.NewLimiter(rate.Limit(h.opts.EventsPerSec), h.opts.EventsPerSec)

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Debug("ws read failed", zap.Error(err))
			}
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(h.opts.PongWait))

		if !limiter.Allow() {
			h.hub.SendTo(client.ID, errorFrame(errRateLimited))
			continue
		}
		if reply := h.dispatcher.Handle(context.Background(), client.ID, client.UserID, data); reply != nil {
			h.hub.SendTo(client.ID, reply)
		}
	}
}

func (h *Handler) writePump(conn *websocket.Conn, client *hub.Client, done <-chan struct{}, log *zap.Logger) {
	ticker := time.NewTicker(h.opts.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case msg := <-client.Send:
			_ = conn.SetWriteDeadline(time.Now().Add(h.opts.WriteDeadline))
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				log.Debug("ws write failed", zap.Error(err))
				// unblock the reader so cleanup runs
				_ = conn.Close()
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(h.opts.WriteDeadline))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				_ = conn.Close()
				return
			}
		case <-done:
			_ = conn.SetWriteDeadline(time.Now().Add(h.opts.WriteDeadline))
			_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}
