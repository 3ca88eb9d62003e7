package config

import (
	"fmt"
	"time"
)

// Transport kinds.
const (
	TransportMemory = "memory"
	TransportRedis  = "redis"
	TransportNATS   = "nats"
)

// Config holds cluster configuration values.
type Config struct {
	LogLevel        string          `mapstructure:"log_level" yaml:"log_level"`
	ShutdownTimeout time.Duration   `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
	ChatPool        int             `mapstructure:"chat_pool" yaml:"chat_pool"`
	Transport       TransportConfig `mapstructure:"transport" yaml:"transport"`
	Gateway         GatewayConfig   `mapstructure:"gateway" yaml:"gateway"`
}

// TransportConfig selects and tunes the message transport.
type TransportConfig struct {
	Kind        string `mapstructure:"kind" yaml:"kind"`
	QueueBuffer int    `mapstructure:"queue_buffer" yaml:"queue_buffer"`
	BusBuffer   int    `mapstructure:"bus_buffer" yaml:"bus_buffer"`
	RedisAddr   string `mapstructure:"redis_addr" yaml:"redis_addr"`
	// Prefix namespaces keys and subjects on the networked transports.
	Prefix      string `mapstructure:"prefix" yaml:"prefix"`
	NATSURL     string `mapstructure:"nats_url" yaml:"nats_url"`
}

// GatewayConfig holds the client-facing listeners. An empty address disables the listener.
type GatewayConfig struct {
	TCPAddr           string        `mapstructure:"tcp_addr" yaml:"tcp_addr"`
	HTTPAddr          string        `mapstructure:"http_addr" yaml:"http_addr"`
	ReadHeaderTimeout time.Duration `mapstructure:"read_header_timeout" yaml:"read_header_timeout"`
	MaxLineBytes      int           `mapstructure:"max_line_bytes" yaml:"max_line_bytes"`
	// RateLimit is the number of lines a connection may send per minute; 0 disables it.
	RateLimit         int           `mapstructure:"rate_limit" yaml:"rate_limit"`
}

// Default returns configuration with reasonable starter defaults.
func Default() Config {
	return Config{
		LogLevel:        "info",
		ShutdownTimeout: 5 * time.Second,
		ChatPool:        3,
		Transport: TransportConfig{
			Kind:        TransportMemory,
			QueueBuffer: 1024,
			BusBuffer:   256,
			RedisAddr:   "localhost:6379",
			Prefix:      "wirechat",
			NATSURL:     "nats://localhost:4222",
		},
		Gateway: GatewayConfig{
			TCPAddr:           ":5555",
			HTTPAddr:          ":8080",
			ReadHeaderTimeout: 5 * time.Second,
			MaxLineBytes:      4096,
			RateLimit:         600,
		},
	}
}

// UpdateFrom overwrites non-zero values from other config into receiver.
func (c *Config) UpdateFrom(other Config) {
	if other.LogLevel != "" {
		c.LogLevel = other.LogLevel
	}
	if other.ShutdownTimeout != 0 {
		c.ShutdownTimeout = other.ShutdownTimeout
	}
	if other.ChatPool != 0 {
		c.ChatPool = other.ChatPool
	}
	if other.Transport.Kind != "" {
		c.Transport.Kind = other.Transport.Kind
	}
	if other.Transport.QueueBuffer != 0 {
		c.Transport.QueueBuffer = other.Transport.QueueBuffer
	}
	if other.Transport.BusBuffer != 0 {
		c.Transport.BusBuffer = other.Transport.BusBuffer
	}
	if other.Transport.RedisAddr != "" {
		c.Transport.RedisAddr = other.Transport.RedisAddr
	}
	if other.Transport.Prefix != "" {
		c.Transport.Prefix = other.Transport.Prefix
	}
	if other.Transport.NATSURL != "" {
		c.Transport.NATSURL = other.Transport.NATSURL
	}
	if other.Gateway.TCPAddr != "" {
		c.Gateway.TCPAddr = other.Gateway.TCPAddr
	}
	if other.Gateway.HTTPAddr != "" {
		c.Gateway.HTTPAddr = other.Gateway.HTTPAddr
	}
	if other.Gateway.ReadHeaderTimeout != 0 {
		c.Gateway.ReadHeaderTimeout = other.Gateway.ReadHeaderTimeout
	}
	if other.Gateway.MaxLineBytes != 0 {
		c.Gateway.MaxLineBytes = other.Gateway.MaxLineBytes
	}
	if other.Gateway.RateLimit != 0 {
		c.Gateway.RateLimit = other.Gateway.RateLimit
	}
}

// Validate reports the first setting the cluster cannot start with.
func (c Config) Validate() error {
	switch c.Transport.Kind {
	case TransportMemory, TransportRedis, TransportNATS:
	default:
		return fmt.Errorf("config: unknown transport kind %q", c.Transport.Kind)
	}
	if c.ChatPool < 1 {
		return fmt.Errorf("config: chat_pool must be at least 1, got %d", c.ChatPool)
	}
	if c.Gateway.MaxLineBytes < 1 {
		return fmt.Errorf("config: gateway.max_line_bytes must be positive, got %d", c.Gateway.MaxLineBytes)
	}
	return nil
}
