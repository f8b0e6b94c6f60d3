package grpc

import (
	"fmt"
	"time"
)

// KeepaliveConfig holds keepalive settings for gRPC connections.
type KeepaliveConfig struct {
	// Time is the interval between keepalive pings.
	Time time.Duration `mapstructure:"time"`
	// Timeout is the time to wait for a keepalive ping ack before closing.
	Timeout time.Duration `mapstructure:"timeout"`
	// PermitWithoutStream allows keepalive pings when there are no active RPCs.
	PermitWithoutStream bool `mapstructure:"permit_without_stream"`
}

// Config holds configuration for a gRPC client channel.
type Config struct {
	// ConnectTimeout bounds channel establishment.
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
	// CallTimeout is the default timeout applied to unary RPCs that carry
	// no deadline of their own.
	CallTimeout time.Duration `mapstructure:"call_timeout"`
	// MaxRecvMsgSize is the maximum message size the client can receive (bytes).
	MaxRecvMsgSize int `mapstructure:"max_recv_msg_size"`
	// MaxSendMsgSize is the maximum message size the client can send (bytes).
	MaxSendMsgSize int `mapstructure:"max_send_msg_size"`
	// Keepalive holds keepalive configuration.
	Keepalive KeepaliveConfig `mapstructure:"keepalive"`
}

const (
	defaultConnectTimeout   = 5 * time.Second
	defaultCallTimeout      = 30 * time.Second
	defaultMaxRecvMsgSize   = 4 * 1024 * 1024 // 4 MB
	defaultMaxSendMsgSize   = 4 * 1024 * 1024 // 4 MB
	defaultKeepaliveTime    = 30 * time.Second
	defaultKeepaliveTimeout = 10 * time.Second
)

// ApplyDefaults fills in zero-value fields with sensible defaults.
func (c *Config) ApplyDefaults() {
	if c.ConnectTimeout == 0 {
		c.ConnectTimeout = defaultConnectTimeout
	}
	if c.CallTimeout == 0 {
		c.CallTimeout = defaultCallTimeout
	}
	if c.MaxRecvMsgSize == 0 {
		c.MaxRecvMsgSize = defaultMaxRecvMsgSize
	}
	if c.MaxSendMsgSize == 0 {
		c.MaxSendMsgSize = defaultMaxSendMsgSize
	}
	if c.Keepalive.Time == 0 {
		c.Keepalive.Time = defaultKeepaliveTime
	}
	if c.Keepalive.Timeout == 0 {
		c.Keepalive.Timeout = defaultKeepaliveTimeout
	}
}

// Validate checks that the configuration is valid.
func (c *Config) Validate() error {
	if c.MaxRecvMsgSize <= 0 {
		return fmt.Errorf("grpc: max_recv_msg_size must be positive, got %d", c.MaxRecvMsgSize)
	}
	if c.MaxSendMsgSize <= 0 {
		return fmt.Errorf("grpc: max_send_msg_size must be positive, got %d", c.MaxSendMsgSize)
	}
	if c.ConnectTimeout < 0 || c.CallTimeout < 0 {
		return fmt.Errorf("grpc: timeouts must not be negative")
	}
	return nil
}
