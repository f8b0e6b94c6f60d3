package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/chao243/SharpServer/registry"
)

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadConfigFromFile(t *testing.T) {
	path := writeConfigFile(t, `
service:
  name: gateway
  environment: production
  version: "2.3"
logging:
  level: debug
  format: json
service_registry:
  provider: Redis
  key_prefix: sharpserver
  redis:
    connection_string: redis://localhost:6379/0
server:
  address: 10.0.0.9
  port: 8443
  scheme: https
rpc_client:
  service_name: GameServer
  max_retries: 5
  max_connections_per_service: 8
  connection_timeout: 2s
  operation_timeout: 10s
  enable_tls: true
  retry_backoff:
    base_ms: 50
    multiplier: 2.0
    max_exponent: 4
    max_ms: 2000
registration:
  heartbeat_interval: 15s
  registration_ttl: 90s
  metadata:
    zone: eu-1
`)

	cfg, err := LoadConfig("gateway", WithConfigFile(path))
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if cfg.Service.Name != "gateway" || cfg.Service.Environment != "production" {
		t.Fatalf("service section: %+v", cfg.Service)
	}
	if cfg.Logging.Level != "debug" || cfg.Logging.Format != "json" {
		t.Fatalf("logging section: %+v", cfg.Logging)
	}
	if cfg.ServiceRegistry.Provider != "Redis" {
		t.Fatalf("registry provider: %+v", cfg.ServiceRegistry)
	}
	if cfg.RpcClient.MaxRetries != 5 || cfg.RpcClient.OperationTimeout != 10*time.Second {
		t.Fatalf("rpc client section: %+v", cfg.RpcClient)
	}
	if cfg.RpcClient.RetryBackoff.BaseMs != 50 || cfg.RpcClient.RetryBackoff.MaxExponent != 4 {
		t.Fatalf("backoff section: %+v", cfg.RpcClient.RetryBackoff)
	}
	if cfg.Registration.HeartbeatInterval != 15*time.Second {
		t.Fatalf("registration section: %+v", cfg.Registration)
	}
	if cfg.Registration.Metadata["zone"] != "eu-1" {
		t.Fatalf("registration metadata: %+v", cfg.Registration.Metadata)
	}
}

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig("standalone")
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if cfg.Service.Name != "standalone" {
		t.Fatalf("expected service name fallback, got %q", cfg.Service.Name)
	}
	if cfg.Service.Environment != "development" || !cfg.Service.Debug {
		t.Fatalf("expected development defaults, got %+v", cfg.Service)
	}
	if cfg.RpcClient.MaxRetries != 3 {
		t.Fatalf("expected default retries, got %d", cfg.RpcClient.MaxRetries)
	}
	if cfg.Registration.HeartbeatInterval != 30*time.Second || cfg.Registration.RegistrationTtl != 2*time.Minute {
		t.Fatalf("expected registration defaults, got %+v", cfg.Registration)
	}
	if cfg.ServiceRegistry.KeyPrefix != registry.DefaultKeyPrefix {
		t.Fatalf("expected default key prefix, got %q", cfg.ServiceRegistry.KeyPrefix)
	}
}

func TestLoadConfigRejectsInvalidRegistry(t *testing.T) {
	path := writeConfigFile(t, `
service:
  name: gateway
service_registry:
  provider: redis
`)

	if _, err := LoadConfig("gateway", WithConfigFile(path)); err == nil {
		t.Fatal("expected error for redis provider without connection string")
	}
}

func TestRegistrationConfigFillsFromServer(t *testing.T) {
	cfg := &FabricConfig{
		Service: ServiceConfig{Name: "game", Version: "1.2"},
		Server: ServerConfig{
			Address: "10.0.0.2",
			Port:    7144,
			Scheme:  registry.SchemeHTTP,
		},
	}
	cfg.ApplyDefaults()

	rc := cfg.RegistrationConfig()
	if rc.ServiceName != "game" {
		t.Fatalf("service name: %q", rc.ServiceName)
	}
	if rc.Address != "10.0.0.2" || rc.Port != 7144 || rc.Scheme != registry.SchemeHTTP {
		t.Fatalf("endpoint: %+v", rc)
	}
	if rc.Version != "1.2" {
		t.Fatalf("version: %q", rc.Version)
	}

	// Explicit registration values win over the server section.
	cfg.Registration.Address = "192.168.1.1"
	rc = cfg.RegistrationConfig()
	if rc.Address != "192.168.1.1" {
		t.Fatalf("explicit address overridden: %q", rc.Address)
	}
}
