package api

import (
	"context"
	"time"

	"github.com/fathima-sithara/chat-app/internal/hub"
	"github.com/fathima-sithara/chat-app/internal/media"
	"github.com/fathima-sithara/chat-app/internal/metrics"
	"github.com/fathima-sithara/chat-app/internal/presence"
	"github.com/fathima-sithara/chat-app/internal/service"
	"github.com/fathima-sithara/chat-app/internal/utils"
	"github.com/fathima-sithara/chat-app/internal/ws"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"go.uber.org/zap"
)

type Pinger interface {
	Ping(ctx context.Context) error
}

type Options struct {
	AppName           string
	BodyLimit         int
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
	RequestsPerMinute int
	AuthPerMinute     int
	Burst             int
	// StaticDir is served at StaticPrefix when media is stored locally.
	StaticDir    string
	StaticPrefix string
}

type Deps struct {
	Users    *service.UserService
	Messages *service.MessageService
	Media    *media.Service
	Hub      *hub.Hub
	Presence *presence.Registry
	WS       *ws.Handler
	Tokens   TokenVerifier
	Store    Pinger
	Log      *zap.Logger
}

type Server struct {
	users    *service.UserService
	messages *service.MessageService
	media    *media.Service
	hub      *hub.Hub
	presence *presence.Registry
	store    Pinger
	log      *zap.Logger
}

// NewServer builds the fiber app. ctx bounds background work such as the
// rate limiter sweep.
func NewServer(ctx context.Context, opts Options, d Deps) *fiber.App {
	app := fiber.New(fiber.Config{
		AppName:      opts.AppName,
		BodyLimit:    opts.BodyLimit,
		ReadTimeout:  opts.ReadTimeout,
		WriteTimeout: opts.WriteTimeout,
		ErrorHandler: ErrorHandler(d.Log),
	})
	s := &Server{
		users:    d.Users,
		messages: d.Messages,
		media:    d.Media,
		hub:      d.Hub,
		presence: d.Presence,
		store:    d.Store,
		log:      d.Log,
	}

	app.Use(recover.New())
	app.Use(RequestLogger(d.Log))

	app.Get("/healthz", s.health)
	app.Get("/metrics", adaptor.HTTPHandler(metrics.Handler()))
	if opts.StaticDir != "" {
		app.Static(opts.StaticPrefix, opts.StaticDir)
	}

	limiter := NewIPRateLimiter(ctx, opts.RequestsPerMinute, opts.Burst, d.Log)
	authLimiter := NewIPRateLimiter(ctx, opts.AuthPerMinute, opts.Burst, d.Log)
	requireAuth := JWTAuth(d.Tokens, d.Log)

	v1 := app.Group("/api/v1")

	authGroup := v1.Group("/auth", authLimiter.Handler())
	authGroup.Post("/register", s.register)
	authGroup.Post("/login", s.login)

	if d.WS != nil {
		v1.Get("/ws", d.WS.Upgrade, d.WS.Serve())
	}

	p := v1.Group("", requireAuth, limiter.Handler())

	p.Get("/users/me", s.me)
	p.Put("/users/profile", s.updateProfile)
	p.Get("/users/search", s.searchUsers)
	p.Get("/users", s.listUsers)
	p.Get("/users/:id", s.getUser)
	p.Post("/users/last-seen", s.touchLastSeen)
	p.Get("/presence", s.onlineIDs)

	p.Post("/threads/open", s.openThread)
	p.Get("/threads", s.listThreads)
	p.Post("/threads/:thread_id/messages", s.sendMessage)
	p.Get("/threads/:thread_id/messages", s.listMessages)
	p.Put("/threads/:thread_id/read", s.markThreadRead)

	p.Patch("/messages/:msg_id", s.editMessage)
	p.Delete("/messages/:msg_id", s.deleteMessage)
	p.Put("/messages/:msg_id/read", s.markRead)

	p.Post("/upload", s.upload)

	app.Use(func(c *fiber.Ctx) error {
		return fiber.ErrNotFound
	})
	return app
}

func (s *Server) health(c *fiber.Ctx) error {
	if s.store != nil {
		ctx, cancel := context.WithTimeout(c.UserContext(), 2*time.Second)
		defer cancel()
		if err := s.store.Ping(ctx); err != nil {
			s.log.Warn("health check failed", zap.Error(err))
			return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"status": "unavailable"})
		}
	}
	return utils.JSONSuccess(c, fiber.StatusOK, fiber.Map{"connections": s.hub.ConnectionCount()})
}
