package agent

import (
	"fmt"
	"time"

	"github.com/chao243/SharpServer/registry"
)

// Config holds registration agent configuration.
type Config struct {
	// ServiceName is the logical fleet name to register under.
	ServiceName string `mapstructure:"service_name"`

	// ServiceID is the unique instance id; a UUID is generated when empty.
	ServiceID string `mapstructure:"service_id"`

	// Address, Port, and Scheme describe the advertised endpoint. An unset
	// Address or Port is inferred from the hosting listener; an unset Scheme
	// is not inferred and defaults to http. Explicit values are never
	// overridden.
	Address string          `mapstructure:"address"`
	Port    uint16          `mapstructure:"port"`
	Scheme  registry.Scheme `mapstructure:"scheme"`

	// Version is the advertised service version.
	Version string `mapstructure:"version"`

	// Metadata is arbitrary key-value metadata attached to the registration.
	Metadata map[string]string `mapstructure:"metadata"`

	// HeartbeatInterval is how often the lease is refreshed.
	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval"`

	// RegistrationTtl is the lease TTL requested on register and refresh.
	RegistrationTtl time.Duration `mapstructure:"registration_ttl"`
}

// ApplyDefaults fills zero-valued fields with sensible defaults.
func (c *Config) ApplyDefaults() {
	if c.HeartbeatInterval == 0 {
		c.HeartbeatInterval = 30 * time.Second
	}
	if c.RegistrationTtl == 0 {
		c.RegistrationTtl = 2 * time.Minute
	}
}

// Validate checks that required fields are present and that one missed
// refresh cannot expire the lease.
func (c *Config) Validate() error {
	if c.ServiceName == "" {
		return fmt.Errorf("registration: service_name is required")
	}
	if c.HeartbeatInterval <= 0 {
		return fmt.Errorf("registration: heartbeat_interval must be positive")
	}
	if c.HeartbeatInterval >= c.RegistrationTtl/2 {
		return fmt.Errorf("registration: heartbeat_interval %v must be below half of registration_ttl %v",
			c.HeartbeatInterval, c.RegistrationTtl)
	}
	return nil
}
