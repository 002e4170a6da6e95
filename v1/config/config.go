// Package config loads the host and client settings from the environment.
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config holds the settings of the host process.
type Config struct {
	// ListenAddr is the address of the request/reply and push endpoints.
	ListenAddr string `env:"IPC_LISTEN_ADDR" envDefault:"0.0.0.0:3000"`

	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"text"`

	MetricsEnabled bool `env:"METRICS_ENABLED" envDefault:"true"`
	TraceStdout    bool `env:"TRACE_STDOUT" envDefault:"false"`

	Heartbeat time.Duration `env:"HEARTBEAT_INTERVAL" envDefault:"5s"`

	PushBus PushBusConfig `envPrefix:"PUSHBUS_"`
}

// PushBusConfig selects the external push ingress.
type PushBusConfig struct {
	// Backend is one of memory, redis, nats or kafka.
	Backend      string   `env:"BACKEND" envDefault:"memory"`
	Topic        string   `env:"TOPIC" envDefault:"ipcbridge.push"`
	RedisAddr    string   `env:"REDIS_ADDR" envDefault:"localhost:6379"`
	NATSURL      string   `env:"NATS_URL" envDefault:"nats://127.0.0.1:4222"`
	KafkaBrokers []string `env:"KAFKA_BROKERS" envSeparator:"," envDefault:"localhost:9092"`
}

// ClientConfig holds the settings of a detached client.
type ClientConfig struct {
	BaseURL        string        `env:"IPC_BASE_URL" envDefault:"http://127.0.0.1:3000"`
	ReconnectDelay time.Duration `env:"IPC_RECONNECT_DELAY" envDefault:"2s"`
	LogLevel       string        `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat      string        `env:"LOG_FORMAT" envDefault:"text"`

	// PushBus is used by clients publishing into a host's push bus.
	PushBus PushBusConfig `envPrefix:"PUSHBUS_"`
}

// Load parses the host configuration from the environment.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return cfg, fmt.Errorf("parse env: %w", err)
	}
	return cfg, nil
}

// LoadClient parses the client configuration from the environment.
func LoadClient() (ClientConfig, error) {
	var cfg ClientConfig
	if err := env.Parse(&cfg); err != nil {
		return cfg, fmt.Errorf("parse env: %w", err)
	}
	return cfg, nil
}
