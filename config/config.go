package config

import (
	"fmt"

	"github.com/chao243/SharpServer/agent"
	"github.com/chao243/SharpServer/logger"
	"github.com/chao243/SharpServer/registry"
	"github.com/chao243/SharpServer/rpcclient"
)

// ServiceConfig contains the essential fields every service needs.
type ServiceConfig struct {
	Name        string `yaml:"name" mapstructure:"name"`
	Environment string `yaml:"environment" mapstructure:"environment"`
	Version     string `yaml:"version" mapstructure:"version"`
	Debug       bool   `yaml:"debug" mapstructure:"debug"`
}

// ApplyDefaults applies default values to the base configuration.
func (c *ServiceConfig) ApplyDefaults() {
	if c.Environment == "" {
		c.Environment = "development"
	}
	if c.Environment == "development" {
		c.Debug = true
	}
}

// Validate validates the base configuration fields.
func (c *ServiceConfig) Validate() error {
	if c.Name == "" {
		return fmt.Errorf("config.name is required")
	}
	validEnvs := []string{"development", "staging", "production"}
	for _, v := range validEnvs {
		if c.Environment == v {
			return nil
		}
	}
	return fmt.Errorf("config.environment must be one of [development, staging, production] (got: %s)", c.Environment)
}

// ServerConfig describes the endpoint this process serves on, used for
// self-registration.
type ServerConfig struct {
	Address string          `mapstructure:"address"`
	Port    uint16          `mapstructure:"port"`
	Scheme  registry.Scheme `mapstructure:"scheme"`
}

// FabricConfig aggregates every fabric section.
type FabricConfig struct {
	Service         ServiceConfig    `mapstructure:"service"`
	Logging         logger.Config    `mapstructure:"logging"`
	ServiceRegistry registry.Config  `mapstructure:"service_registry"`
	Server          ServerConfig     `mapstructure:"server"`
	RpcClient       rpcclient.Config `mapstructure:"rpc_client"`
	Registration    agent.Config     `mapstructure:"registration"`
}

// ApplyDefaults applies defaults to every section.
func (c *FabricConfig) ApplyDefaults() {
	c.Service.ApplyDefaults()
	c.Logging.ApplyDefaults()
	c.ServiceRegistry.ApplyDefaults()
	c.RpcClient.ApplyDefaults()
	c.Registration.ApplyDefaults()
}

// Validate validates every section that carries requirements. Sections for
// features the process does not use (no RPC client, no registration) are
// validated lazily at wiring time instead.
func (c *FabricConfig) Validate() error {
	if err := c.Service.Validate(); err != nil {
		return err
	}
	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("config.logging: %w", err)
	}
	if c.ServiceRegistry.Provider != "" {
		if err := c.ServiceRegistry.Validate(); err != nil {
			return fmt.Errorf("config.service_registry: %w", err)
		}
	}
	return nil
}

// RegistrationConfig returns the agent configuration with the advertised
// endpoint filled in from the Server section where registration left it
// unset.
func (c *FabricConfig) RegistrationConfig() agent.Config {
	cfg := c.Registration
	if cfg.ServiceName == "" {
		cfg.ServiceName = c.Service.Name
	}
	if cfg.Address == "" {
		cfg.Address = c.Server.Address
	}
	if cfg.Port == 0 {
		cfg.Port = c.Server.Port
	}
	if cfg.Scheme == "" {
		cfg.Scheme = c.Server.Scheme
	}
	if cfg.Version == "" {
		cfg.Version = c.Service.Version
	}
	return cfg
}
