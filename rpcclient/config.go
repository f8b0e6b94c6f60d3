package rpcclient

import (
	"fmt"
	"time"

	grpcx "github.com/chao243/SharpServer/grpc"
)

// BackoffConfig tunes the exponential retry backoff.
type BackoffConfig struct {
	// BaseMs is the delay before the first retry, in milliseconds.
	BaseMs int `mapstructure:"base_ms"`
	// Multiplier grows the delay per attempt.
	Multiplier float64 `mapstructure:"multiplier"`
	// MaxExponent caps the growth exponent.
	MaxExponent int `mapstructure:"max_exponent"`
	// MaxMs caps the delay, in milliseconds.
	MaxMs int `mapstructure:"max_ms"`
}

// Config holds RPC client manager configuration.
type Config struct {
	// ServiceName is the fleet this client calls.
	ServiceName string `mapstructure:"service_name"`

	// MaxRetries is the default number of retries after the first attempt.
	MaxRetries int `mapstructure:"max_retries"`

	// MaxConnectionsPerService bounds concurrent in-flight leases per
	// back-end instance.
	MaxConnectionsPerService int `mapstructure:"max_connections_per_service"`

	// ConnectionTimeout bounds channel establishment.
	ConnectionTimeout time.Duration `mapstructure:"connection_timeout"`

	// OperationTimeout bounds each attempt, not the total retry budget.
	OperationTimeout time.Duration `mapstructure:"operation_timeout"`

	// EnableTls allows TLS channels to instances advertising https.
	EnableTls bool `mapstructure:"enable_tls"`

	// RetryBackoff tunes the delay between attempts.
	RetryBackoff BackoffConfig `mapstructure:"retry_backoff"`

	// ReconcileInterval is how often pools are reconciled against the
	// registry.
	ReconcileInterval time.Duration `mapstructure:"reconcile_interval"`

	// IdleTimeout is the age after which an idle pooled channel is
	// considered unhealthy and disposed.
	IdleTimeout time.Duration `mapstructure:"idle_timeout"`
}

// ApplyDefaults fills zero-valued fields with sensible defaults.
func (c *Config) ApplyDefaults() {
	if c.MaxRetries == 0 {
		c.MaxRetries = 3
	}
	if c.MaxConnectionsPerService <= 0 {
		c.MaxConnectionsPerService = 10
	}
	if c.ConnectionTimeout == 0 {
		c.ConnectionTimeout = 5 * time.Second
	}
	if c.OperationTimeout == 0 {
		c.OperationTimeout = 30 * time.Second
	}
	if c.ReconcileInterval == 0 {
		c.ReconcileInterval = 30 * time.Second
	}
	if c.IdleTimeout == 0 {
		c.IdleTimeout = 5 * time.Minute
	}
	if c.RetryBackoff.BaseMs == 0 {
		c.RetryBackoff.BaseMs = 100
	}
	if c.RetryBackoff.Multiplier == 0 {
		c.RetryBackoff.Multiplier = 2.0
	}
	if c.RetryBackoff.MaxExponent == 0 {
		c.RetryBackoff.MaxExponent = 5
	}
	if c.RetryBackoff.MaxMs == 0 {
		c.RetryBackoff.MaxMs = 5000
	}
}

// Validate checks that required fields are present and consistent.
func (c *Config) Validate() error {
	if c.ServiceName == "" {
		return fmt.Errorf("rpcclient: service_name is required")
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("rpcclient: max_retries must not be negative")
	}
	if c.RetryBackoff.Multiplier < 1 {
		return fmt.Errorf("rpcclient: retry_backoff.multiplier must be >= 1")
	}
	return nil
}

// channelConfig derives the transport channel settings for pooled wrappers.
func (c *Config) channelConfig() grpcx.Config {
	return grpcx.Config{
		ConnectTimeout: c.ConnectionTimeout,
		CallTimeout:    c.OperationTimeout,
	}
}
