package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/fathima-sithara/chat-app/internal/api"
	"github.com/fathima-sithara/chat-app/internal/auth"
	"github.com/fathima-sithara/chat-app/internal/config"
	"github.com/fathima-sithara/chat-app/internal/discovery"
	"github.com/fathima-sithara/chat-app/internal/events"
	"github.com/fathima-sithara/chat-app/internal/hub"
	"github.com/fathima-sithara/chat-app/internal/kafka"
	"github.com/fathima-sithara/chat-app/internal/media"
	"github.com/fathima-sithara/chat-app/internal/metrics"
	"github.com/fathima-sithara/chat-app/internal/presence"
	"github.com/fathima-sithara/chat-app/internal/repository"
	"github.com/fathima-sithara/chat-app/internal/service"
	"github.com/fathima-sithara/chat-app/internal/utils"
	"github.com/fathima-sithara/chat-app/internal/ws"
	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load(configPath())
	if err != nil {
		log.Fatalf("config load: %v", err)
	}
	logger, err := utils.NewLogger(cfg.Development(), cfg.Log.Level)
	if err != nil {
		log.Fatalf("logger init: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatal("server exited", zap.Error(err))
	}
}

func configPath() string {
	if p := os.Getenv("DM_CONFIG_FILE"); p != "" {
		return p
	}
	if _, err := os.Stat("config/config.yaml"); err == nil {
		return "config/config.yaml"
	}
	return ""
}

func run(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	metrics.Init()

	store, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close(context.Background()) }()

	pub := openPublishers(cfg, logger)
	defer func() { _ = pub.Close() }()

	secret := cfg.JWT.Secret
	if secret == "" {
		secret = uuid.NewString()
		logger.Warn("jwt.secret not set, using an ephemeral development secret")
	}
	jwtm := auth.NewJWTManager(secret, cfg.JWTTTL)

	users := service.NewUserService(store, jwtm, logger)
	messages := service.NewMessageService(store, pub, logger, service.MessageOptions{
		Tombstone:     cfg.Chat.Tombstone,
		MaxTextLength: cfg.Chat.MaxTextLength,
	})

	h := hub.New()
	var regOpts []presence.Option
	if cfg.Redis.Enabled {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			logger.Warn("redis unreachable, presence mirror will retry per call", zap.Error(err))
		}
		regOpts = append(regOpts, presence.WithMirror(presence.NewRedisMirror(rdb, cfg.Redis.Prefix, cfg.PresenceTTL)))
	}
	regOpts = append(regOpts, presence.WithOfflineHook(func(userID string) {
		tctx, cancel := context.WithTimeout(context.Background(), cfg.StoreOpTimeout)
		defer cancel()
		users.TouchLastSeen(tctx, userID)
	}))
	registry := presence.NewRegistry(h, logger, regOpts...)

	mediaStore, staticDir, err := openMediaStore(ctx, cfg)
	if err != nil {
		return err
	}
	mediaSvc := media.NewService(mediaStore, media.Options{
		MaxBytes:       int64(cfg.Media.MaxUploadMB) << 20,
		ThumbnailWidth: cfg.Media.ThumbnailWidth,
	}, logger)

	dispatcher := ws.NewDispatcher(h, registry, messages, logger, cfg.StoreOpTimeout)
	wsHandler := ws.NewHandler(h, registry, dispatcher, jwtm, ws.Options{
		PingInterval:   cfg.PingInterval,
		PongWait:       cfg.PongWait,
		WriteDeadline:  cfg.WriteDeadline,
		MaxMessageSize: cfg.WS.MaxMessageSize,
		SendBuffer:     cfg.WS.SendBuffer,
	}, logger)

	app := api.NewServer(ctx, api.Options{
		AppName:           cfg.App.Name,
		BodyLimit:         cfg.Server.BodyLimitMB << 20,
		ReadTimeout:       cfg.ReadTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		RequestsPerMinute: cfg.RateLimit.RequestsPerMinute,
		AuthPerMinute:     cfg.RateLimit.AuthPerMinute,
		Burst:             cfg.RateLimit.Burst,
		StaticDir:         staticDir,
		StaticPrefix:      cfg.Media.PublicBaseURL,
	}, api.Deps{
		Users:    users,
		Messages: messages,
		Media:    mediaSvc,
		Hub:      h,
		Presence: registry,
		WS:       wsHandler,
		Tokens:   jwtm,
		Store:    store,
		Log:      logger,
	})

	if cfg.Consul.Enabled {
		agent, err := registerConsul(cfg, logger)
		if err != nil {
			logger.Warn("consul registration failed", zap.Error(err))
		} else {
			defer func() { _ = agent.Deregister() }()
		}
	}

	errCh := make(chan error, 1)
	go func() {
		addr := fmt.Sprintf(":%d", cfg.Server.Port)
		logger.Info("chat server listening", zap.String("addr", addr), zap.String("store", cfg.Store.Driver))
		errCh <- app.Listen(addr)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	sctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	return app.ShutdownWithContext(sctx)
}

// openStore connects to the configured driver, retrying while the database
// comes up, and wraps it in a circuit breaker.
func openStore(ctx context.Context, cfg *config.Config, logger *zap.Logger) (repository.Store, error) {
	var inner repository.Store
	connect := func() error {
		cctx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		var err error
		switch cfg.Store.Driver {
		case "mongo":
			inner, err = repository.NewMongoStore(cctx, cfg.Mongo.URI, cfg.Mongo.Database, cfg.StoreOpTimeout)
		case "postgres":
			inner, err = repository.NewPostgresStore(cctx, cfg.Postgres.DSN, repository.PostgresOptions{
				MaxOpenConns: cfg.Postgres.MaxOpenConns,
				MaxIdleConns: cfg.Postgres.MaxIdleConns,
				OpTimeout:    cfg.StoreOpTimeout,
			})
		default:
			inner = repository.NewMemoryStore()
		}
		if err != nil {
			logger.Warn("store connect failed", zap.String("driver", cfg.Store.Driver), zap.Error(err))
		}
		return err
	}
	b := backoff.NewExponentialBackOff()
	b.MaxElapsedTime = time.Minute
	if err := backoff.Retry(connect, backoff.WithContext(b, ctx)); err != nil {
		return nil, fmt.Errorf("open %s store: %w", cfg.Store.Driver, err)
	}
	if cfg.Store.Driver == "memory" {
		logger.Warn("using in-memory store, data is lost on restart")
		return inner, nil
	}
	return repository.NewBreakerStore(inner, repository.BreakerSettings{
		MaxRequests:      cfg.Breaker.MaxRequests,
		Interval:         time.Duration(cfg.Breaker.IntervalSeconds) * time.Second,
		Timeout:          time.Duration(cfg.Breaker.TimeoutSeconds) * time.Second,
		FailureThreshold: cfg.Breaker.FailureThreshold,
	}, logger), nil
}

func openPublishers(cfg *config.Config, logger *zap.Logger) events.Publisher {
	var pubs events.Multi
	if cfg.Kafka.Enabled {
		pubs = append(pubs, kafka.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.Topic))
	}
	if cfg.NATS.Enabled {
		np, err := events.NewNATSPublisher(cfg.NATS.URL, cfg.NATS.SubjectPrefix)
		if err != nil {
			logger.Warn("nats disabled", zap.Error(err))
		} else {
			pubs = append(pubs, np)
		}
	}
	if len(pubs) == 0 {
		return events.NopPublisher()
	}
	return pubs
}

func openMediaStore(ctx context.Context, cfg *config.Config) (media.Storage, string, error) {
	if cfg.Media.Driver == "s3" {
		st, err := media.NewS3Store(ctx, media.S3Options{
			Region:     cfg.AWS.Region,
			Bucket:     cfg.AWS.Bucket,
			Endpoint:   cfg.AWS.Endpoint,
			PublicRead: cfg.AWS.PublicRead,
		})
		return st, "", err
	}
	st, err := media.NewLocalStore(cfg.Media.LocalDir, cfg.Media.PublicBaseURL)
	if err != nil {
		return nil, "", err
	}
	return st, cfg.Media.LocalDir, nil
}

func registerConsul(cfg *config.Config, logger *zap.Logger) (*discovery.Agent, error) {
	agent, err := discovery.NewAgent(cfg.Consul.Addr, logger)
	if err != nil {
		return nil, err
	}
	id := cfg.App.InstanceID
	if id == "" {
		host, _ := os.Hostname()
		id = fmt.Sprintf("%s-%s-%d", cfg.Consul.ServiceName, host, cfg.Server.Port)
	}
	if err := agent.Register(discovery.Registration{
		ServiceName: cfg.Consul.ServiceName,
		InstanceID:  id,
		Address:     cfg.Consul.ServiceAddress,
		Port:        cfg.Server.Port,
		Tags:        []string{cfg.App.Env},
	}); err != nil {
		return nil, err
	}
	return agent, nil
}
