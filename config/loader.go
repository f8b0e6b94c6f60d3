package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// LoaderOption customizes LoadConfig.
type LoaderOption func(*loaderOptions)

type loaderOptions struct {
	configFile string
	envFile    string
}

// WithConfigFile sets an explicit config file path.
func WithConfigFile(path string) LoaderOption {
	return func(o *loaderOptions) { o.configFile = path }
}

// WithEnvFile sets an explicit .env file path.
func WithEnvFile(path string) LoaderOption {
	return func(o *loaderOptions) { o.envFile = path }
}

// LoadConfig loads the fabric configuration for the named service.
//
// Sources, later ones winning: config.yml (searched in standard locations
// unless given explicitly), a .env file if present, and SHARPSERVER_*
// environment variables (section separators become underscores, e.g.
// SHARPSERVER_SERVICE_REGISTRY_PROVIDER). Environment variables, including
// those set from the .env file, override only keys that the config file
// sets; a key absent from the file is not read from the environment.
func LoadConfig(serviceName string, opts ...LoaderOption) (*FabricConfig, error) {
	options := loaderOptions{}
	for _, opt := range opts {
		opt(&options)
	}

	envFile := options.envFile
	if envFile == "" {
		envFile = findFirst(".env."+serviceName, ".env")
	}
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil {
			return nil, fmt.Errorf("config: load env file %s: %w", envFile, err)
		}
	}

	v := viper.New()
	v.SetEnvPrefix("SHARPSERVER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	configFile := options.configFile
	if configFile == "" {
		configFile = findFirst(
			fmt.Sprintf("./cmd/%s/config.yml", serviceName),
			"./config/config.yml",
			"./config.yml",
		)
	}
	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: read %s: %w", configFile, err)
		}
	}

	cfg := &FabricConfig{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}

	if cfg.Service.Name == "" {
		cfg.Service.Name = serviceName
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func findFirst(paths ...string) string {
	for _, path := range paths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}
