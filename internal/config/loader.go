package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.env", "development")
	v.SetDefault("app.name", "chat-app")
	v.SetDefault("app.instance_id", "")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout_seconds", 15)
	v.SetDefault("server.write_timeout_seconds", 15)
	v.SetDefault("server.shutdown_seconds", 15)
	v.SetDefault("server.body_limit_mb", 25)
	v.SetDefault("store.driver", "memory")
	v.SetDefault("store.op_timeout_seconds", 3)
	v.SetDefault("mongodb.uri", "mongodb://localhost:27017")
	v.SetDefault("mongodb.database", "chat_app")
	v.SetDefault("postgres.dsn", "")
	v.SetDefault("postgres.max_open_conns", 25)
	v.SetDefault("postgres.max_idle_conns", 5)
	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.prefix", "chat")
	v.SetDefault("redis.presence_ttl_seconds", 120)
	v.SetDefault("kafka.enabled", false)
	v.SetDefault("kafka.brokers", []string{"localhost:9092"})
	v.SetDefault("kafka.topic", "chat.messages")
	v.SetDefault("nats.enabled", false)
	v.SetDefault("nats.url", "nats://localhost:4222")
	v.SetDefault("nats.subject_prefix", "chat")
	v.SetDefault("jwt.secret", "")
	v.SetDefault("jwt.ttl_hours", 24*7)
	v.SetDefault("ws.ping_interval_seconds", 25)
	v.SetDefault("ws.pong_wait_seconds", 60)
	v.SetDefault("ws.write_deadline_seconds", 10)
	v.SetDefault("ws.max_message_size", 65536)
	v.SetDefault("ws.send_buffer", 64)
	v.SetDefault("ratelimit.requests_per_minute", 600)
	v.SetDefault("ratelimit.auth_per_minute", 20)
	v.SetDefault("ratelimit.burst", 20)
	v.SetDefault("breaker.max_requests", 1)
	v.SetDefault("breaker.interval_seconds", 60)
	v.SetDefault("breaker.timeout_seconds", 10)
	v.SetDefault("breaker.failure_threshold", 5)
	v.SetDefault("media.driver", "local")
	v.SetDefault("media.local_dir", "uploads")
	v.SetDefault("media.public_base_url", "/uploads")
	v.SetDefault("media.max_upload_mb", 20)
	v.SetDefault("media.thumbnail_width", 320)
	v.SetDefault("aws.region", "us-east-1")
	v.SetDefault("aws.bucket", "")
	v.SetDefault("aws.endpoint", "")
	v.SetDefault("aws.public_read", false)
	v.SetDefault("consul.enabled", false)
	v.SetDefault("consul.addr", "localhost:8500")
	v.SetDefault("consul.service_name", "chat-app")
	v.SetDefault("consul.service_address", "")
	v.SetDefault("chat.tombstone", "This message was deleted")
	v.SetDefault("chat.max_text_length", 4000)
	v.SetDefault("log.level", "info")
}

// Load reads the yaml file at path (optional) and applies DM_* env overrides,
// e.g. DM_STORE_DRIVER=mongo or DM_JWT_SECRET=...
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix("DM")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	cfg.derive()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) derive() {
	c.ReadTimeout = time.Duration(c.Server.ReadTimeoutSeconds) * time.Second
	c.WriteTimeout = time.Duration(c.Server.WriteTimeoutSeconds) * time.Second
	c.ShutdownTimeout = time.Duration(c.Server.ShutdownSeconds) * time.Second
	c.StoreOpTimeout = time.Duration(c.Store.OpTimeoutSeconds) * time.Second
	c.PingInterval = time.Duration(c.WS.PingIntervalSeconds) * time.Second
	c.PongWait = time.Duration(c.WS.PongWaitSeconds) * time.Second
	c.WriteDeadline = time.Duration(c.WS.WriteDeadlineSeconds) * time.Second
	c.PresenceTTL = time.Duration(c.Redis.PresenceTTLSeconds) * time.Second
	c.JWTTTL = time.Duration(c.JWT.TTLHours) * time.Hour
}

func (c *Config) validate() error {
	switch c.Store.Driver {
	case "memory", "mongo", "postgres":
	default:
		return fmt.Errorf("store.driver %q not supported", c.Store.Driver)
	}
	if c.Store.Driver == "postgres" && c.Postgres.DSN == "" {
		return errors.New("postgres.dsn is required for the postgres driver")
	}
	switch c.Media.Driver {
	case "local", "s3":
	default:
		return fmt.Errorf("media.driver %q not supported", c.Media.Driver)
	}
	if c.Media.Driver == "s3" && c.AWS.Bucket == "" {
		return errors.New("aws.bucket is required for the s3 media driver")
	}
	if c.JWT.Secret == "" && !c.Development() {
		return errors.New("jwt.secret is required outside development")
	}
	if c.PongWait <= c.PingInterval {
		return errors.New("ws.pong_wait_seconds must exceed ws.ping_interval_seconds")
	}
	return nil
}
