package registry

import (
	"fmt"
	"strings"
)

// RedisConfig holds Redis backend settings.
type RedisConfig struct {
	// ConnectionString is a redis URL, e.g. "redis://localhost:6379/0".
	ConnectionString string `mapstructure:"connection_string"`
}

// EtcdConfig holds etcd backend settings.
type EtcdConfig struct {
	// Endpoint is the etcd endpoint, e.g. "localhost:2379".
	Endpoint string `mapstructure:"endpoint"`
}

// ConsulConfig holds Consul backend settings.
type ConsulConfig struct {
	// Address is the Consul agent address (host:port).
	Address string `mapstructure:"address"`
	// Scheme is the URI scheme for Consul ("http" or "https").
	Scheme string `mapstructure:"scheme"`
	// Token is the Consul ACL token for authentication.
	Token string `mapstructure:"token"`
	// Datacenter is the Consul datacenter name.
	Datacenter string `mapstructure:"datacenter"`
}

// Config holds service registry configuration.
type Config struct {
	// Provider selects the registry backend: "redis", "etcd", or "consul"
	// (case-insensitive).
	Provider string `mapstructure:"provider"`

	// KeyPrefix namespaces all registry keys. Default: "sharpserver".
	KeyPrefix string `mapstructure:"key_prefix"`

	Redis  RedisConfig  `mapstructure:"redis"`
	Etcd   EtcdConfig   `mapstructure:"etcd"`
	Consul ConsulConfig `mapstructure:"consul"`
}

// ApplyDefaults fills zero-valued fields with sensible defaults.
func (c *Config) ApplyDefaults() {
	if c.KeyPrefix == "" {
		c.KeyPrefix = DefaultKeyPrefix
	}
	if c.Consul.Address == "" {
		c.Consul.Address = "localhost:8500"
	}
	if c.Consul.Scheme == "" {
		c.Consul.Scheme = "http"
	}
}

// Validate checks that required fields are present and consistent.
func (c *Config) Validate() error {
	switch strings.ToLower(c.Provider) {
	case "redis":
		if c.Redis.ConnectionString == "" {
			return fmt.Errorf("redis.connection_string is required when provider is redis")
		}
	case "etcd":
		if c.Etcd.Endpoint == "" {
			return fmt.Errorf("etcd.endpoint is required when provider is etcd")
		}
	case "consul", "memory":
	default:
		return fmt.Errorf("unsupported registry provider %q", c.Provider)
	}
	return nil
}
