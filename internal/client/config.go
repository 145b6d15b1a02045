package client

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	ServerURL          string `yaml:"server_url"`
	WSURL              string `yaml:"ws_url"`
	Email              string `yaml:"email"`
	Password           string `yaml:"password"`
	Token              string `yaml:"token"`
	RequestTimeoutSecs int    `yaml:"request_timeout_seconds"`
	SendTimeoutSecs    int    `yaml:"send_timeout_seconds"`
	RetryMaxElapsedSec int    `yaml:"retry_max_elapsed_seconds"`
	LogLevel           string `yaml:"log_level"`
}

func (c *Config) RequestTimeout() time.Duration {
	return time.Duration(c.RequestTimeoutSecs) * time.Second
}

func (c *Config) SendTimeout() time.Duration {
	return time.Duration(c.SendTimeoutSecs) * time.Second
}

func (c *Config) RetryMaxElapsed() time.Duration {
	return time.Duration(c.RetryMaxElapsedSec) * time.Second
}

// LoadConfig reads path (optional; "" skips the file) and applies DM_CLIENT_*
// environment overrides.
func LoadConfig(path string) (*Config, error) {
	cfg := &Config{
		ServerURL:          "http://localhost:8080",
		RequestTimeoutSecs: 10,
		SendTimeoutSecs:    10,
		RetryMaxElapsedSec: 15,
		LogLevel:           "info",
	}
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("read client config: %w", err)
		}
		if err == nil {
			if err := yaml.Unmarshal(b, cfg); err != nil {
				return nil, fmt.Errorf("parse client config: %w", err)
			}
		}
	}
	applyEnv(cfg)
	if cfg.WSURL == "" {
		cfg.WSURL = httpToWS(cfg.ServerURL)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	str := map[string]*string{
		"DM_CLIENT_SERVER_URL": &cfg.ServerURL,
		"DM_CLIENT_WS_URL":     &cfg.WSURL,
		"DM_CLIENT_EMAIL":      &cfg.Email,
		"DM_CLIENT_PASSWORD":   &cfg.Password,
		"DM_CLIENT_TOKEN":      &cfg.Token,
		"DM_CLIENT_LOG_LEVEL":  &cfg.LogLevel,
	}
	for k, p := range str {
		if v, ok := os.LookupEnv(k); ok {
			*p = v
		}
	}
	ints := map[string]*int{
		"DM_CLIENT_REQUEST_TIMEOUT_SECONDS":   &cfg.RequestTimeoutSecs,
		"DM_CLIENT_SEND_TIMEOUT_SECONDS":      &cfg.SendTimeoutSecs,
		"DM_CLIENT_RETRY_MAX_ELAPSED_SECONDS": &cfg.RetryMaxElapsedSec,
	}
	for k, p := range ints {
		if v, ok := os.LookupEnv(k); ok {
			if n, err := strconv.Atoi(v); err == nil {
				*p = n
			}
		}
	}
}

func httpToWS(u string) string {
	switch {
	case len(u) >= 8 && u[:8] == "https://":
		return "wss://" + u[8:]
	case len(u) >= 7 && u[:7] == "http://":
		return "ws://" + u[7:]
	}
	return u
}

func (c *Config) validate() error {
	if c.ServerURL == "" {
		return errors.New("server_url is required")
	}
	if c.Token == "" && (c.Email == "" || c.Password == "") {
		return errors.New("either token or email and password are required")
	}
	if c.SendTimeoutSecs <= 0 || c.RequestTimeoutSecs <= 0 {
		return errors.New("timeouts must be positive")
	}
	return nil
}
