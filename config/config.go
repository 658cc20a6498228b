// Package config loads server configuration from the environment.
package config

import (
	"time"

	env "github.com/Netflix/go-env"
)

// Config holds every tunable of the chat server.
type Config struct {
	Host     string `env:"HOST,default=0.0.0.0"`
	Port     int    `env:"PORT,default=8080"`
	LogLevel string `env:"LOG_LEVEL,default=info"`

	JWTSecret  string        `env:"JWT_SECRET,required=true"`
	TokenTTL   time.Duration `env:"TOKEN_TTL,default=2h"`
	RefreshTTL time.Duration `env:"REFRESH_TOKEN_TTL,default=72h"`

	BadgerPath string `env:"BADGER_PATH,default=./data"`

	// Per-connection outbound queue capacity.
	OutboundQueueSize int `env:"OUTBOUND_QUEUE_SIZE,default=256"`
	// Consecutive failed enqueues before a slow consumer is evicted.
	SlowConsumerDropLimit int `env:"SLOW_CONSUMER_DROP_LIMIT,default=8"`
	// Hard cap on an inbound WebSocket frame.
	MaxMessageBytes int64 `env:"MAX_MESSAGE_BYTES,default=8192"`

	PingInterval    time.Duration `env:"PING_INTERVAL,default=30s"`
	WriteTimeout    time.Duration `env:"WRITE_TIMEOUT,default=10s"`
	ReadTimeout     time.Duration `env:"READ_TIMEOUT,default=60s"`
	ReadBufferSize  int           `env:"READ_BUFFER_SIZE,default=1024"`
	WriteBufferSize int           `env:"WRITE_BUFFER_SIZE,default=1024"`
}

// Load reads the configuration from environment variables.
func Load() (*Config, error) {
	var cfg Config
	if _, err := env.UnmarshalFromEnviron(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns the configuration used when no environment is set,
// as in tests.
func Default() *Config {
	return &Config{
		Host:                  "0.0.0.0",
		Port:                  8080,
		LogLevel:              "info",
		JWTSecret:             "test-secret",
		TokenTTL:              2 * time.Hour,
		RefreshTTL:            72 * time.Hour,
		OutboundQueueSize:     256,
		SlowConsumerDropLimit: 8,
		MaxMessageBytes:       8192,
		PingInterval:          30 * time.Second,
		WriteTimeout:          10 * time.Second,
		ReadTimeout:           60 * time.Second,
		ReadBufferSize:        1024,
		WriteBufferSize:       1024,
	}
}
