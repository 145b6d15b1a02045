package config

import "time"

type AppConfig struct {
	Env        string `mapstructure:"env"`
	Name       string `mapstructure:"name"`
	InstanceID string `mapstructure:"instance_id"`
}

type ServerConfig struct {
	Port                int `mapstructure:"port"`
	ReadTimeoutSeconds  int `mapstructure:"read_timeout_seconds"`
	WriteTimeoutSeconds int `mapstructure:"write_timeout_seconds"`
	ShutdownSeconds     int `mapstructure:"shutdown_seconds"`
	BodyLimitMB         int `mapstructure:"body_limit_mb"`
}

type StoreConfig struct {
	Driver           string `mapstructure:"driver"` // memory, mongo or postgres
	OpTimeoutSeconds int    `mapstructure:"op_timeout_seconds"`
}

type MongoConfig struct {
	URI      string `mapstructure:"uri"`
	Database string `mapstructure:"database"`
}

type PostgresConfig struct {
	DSN          string `mapstructure:"dsn"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`
	MaxIdleConns int    `mapstructure:"max_idle_conns"`
}

type RedisConfig struct {
	Enabled            bool   `mapstructure:"enabled"`
	Addr               string `mapstructure:"addr"`
	Password           string `mapstructure:"password"`
	DB                 int    `mapstructure:"db"`
	Prefix             string `mapstructure:"prefix"`
	PresenceTTLSeconds int    `mapstructure:"presence_ttl_seconds"`
}

type KafkaConfig struct {
	Enabled bool     `mapstructure:"enabled"`
	Brokers []string `mapstructure:"brokers"`
	Topic   string   `mapstructure:"topic"`
}

type NATSConfig struct {
	Enabled       bool   `mapstructure:"enabled"`
	URL           string `mapstructure:"url"`
	SubjectPrefix string `mapstructure:"subject_prefix"`
}

type JWTConfig struct {
	Secret   string `mapstructure:"secret"`
	TTLHours int    `mapstructure:"ttl_hours"`
}

type WSConfig struct {
	PingIntervalSeconds  int   `mapstructure:"ping_interval_seconds"`
	PongWaitSeconds      int   `mapstructure:"pong_wait_seconds"`
	WriteDeadlineSeconds int   `mapstructure:"write_deadline_seconds"`
	MaxMessageSize       int64 `mapstructure:"max_message_size"`
	SendBuffer           int   `mapstructure:"send_buffer"`
}

type RateLimitConfig struct {
	RequestsPerMinute int `mapstructure:"requests_per_minute"`
	AuthPerMinute     int `mapstructure:"auth_per_minute"`
	Burst             int `mapstructure:"burst"`
}

type BreakerConfig struct {
	MaxRequests      uint32 `mapstructure:"max_requests"`
	IntervalSeconds  int    `mapstructure:"interval_seconds"`
	TimeoutSeconds   int    `mapstructure:"timeout_seconds"`
	FailureThreshold uint32 `mapstructure:"failure_threshold"`
}

type MediaConfig struct {
	Driver         string `mapstructure:"driver"` // local or s3
	LocalDir       string `mapstructure:"local_dir"`
	PublicBaseURL  string `mapstructure:"public_base_url"`
	MaxUploadMB    int    `mapstructure:"max_upload_mb"`
	ThumbnailWidth int    `mapstructure:"thumbnail_width"`
}

type AWSConfig struct {
	Region     string `mapstructure:"region"`
	Bucket     string `mapstructure:"bucket"`
	Endpoint   string `mapstructure:"endpoint"`
	PublicRead bool   `mapstructure:"public_read"`
}

type ConsulConfig struct {
	Enabled        bool   `mapstructure:"enabled"`
	Addr           string `mapstructure:"addr"`
	ServiceName    string `mapstructure:"service_name"`
	ServiceAddress string `mapstructure:"service_address"`
}

type ChatConfig struct {
	Tombstone     string `mapstructure:"tombstone"`
	MaxTextLength int    `mapstructure:"max_text_length"`
}

type Config struct {
	App       AppConfig       `mapstructure:"app"`
	Server    ServerConfig    `mapstructure:"server"`
	Store     StoreConfig     `mapstructure:"store"`
	Mongo     MongoConfig     `mapstructure:"mongodb"`
	Postgres  PostgresConfig  `mapstructure:"postgres"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Kafka     KafkaConfig     `mapstructure:"kafka"`
	NATS      NATSConfig      `mapstructure:"nats"`
	JWT       JWTConfig       `mapstructure:"jwt"`
	WS        WSConfig        `mapstructure:"ws"`
	RateLimit RateLimitConfig `mapstructure:"ratelimit"`
	Breaker   BreakerConfig   `mapstructure:"breaker"`
	Media     MediaConfig     `mapstructure:"media"`
	AWS       AWSConfig       `mapstructure:"aws"`
	Consul    ConsulConfig    `mapstructure:"consul"`
	Chat      ChatConfig      `mapstructure:"chat"`
	Log       struct {
		Level string `mapstructure:"level"`
	} `mapstructure:"log"`

	// derived
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
	StoreOpTimeout  time.Duration
	PingInterval    time.Duration
	PongWait        time.Duration
	WriteDeadline   time.Duration
	PresenceTTL     time.Duration
	JWTTTL          time.Duration
}

func (c *Config) Development() bool {
	return c.App.Env == "development"
}
