package registry

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/chao243/SharpServer/logger"
)

// Common registry errors.
var (
	ErrInstanceNotFound = errors.New("service instance not found")
	ErrNoUpInstances    = errors.New("no instances with status Up")
)

// Registry is the uniform contract over a TTL-leased registry backend.
type Registry interface {
	// Register persists the instance with an expiry of ttl and sets its
	// last heartbeat to now. Re-registration with the same service id
	// replaces the prior record and extends the TTL.
	Register(ctx context.Context, instance *ServiceInstance, ttl time.Duration) error

	// Unregister removes the instance and its indices. A missing instance
	// is not an error.
	Unregister(ctx context.Context, serviceID string) error

	// Discover returns every instance of the named service whose status
	// is Up. Records that fail to deserialize are skipped.
	Discover(ctx context.Context, serviceName string) ([]ServiceInstance, error)

	// Get returns the instance registered under serviceID, or nil if absent.
	Get(ctx context.Context, serviceID string) (*ServiceInstance, error)

	// Refresh re-registers the existing record under a fresh TTL and
	// updates its last heartbeat.
	Refresh(ctx context.Context, serviceID string, ttl time.Duration) error

	// Close releases any resources held by the registry.
	Close() error
}

// Watcher is optionally implemented by backends that can push membership
// changes. The channel emits the current Up instance set on every change
// and closes when ctx is cancelled.
type Watcher interface {
	Watch(ctx context.Context, serviceName string) (<-chan []ServiceInstance, error)
}

// ProviderFactory creates a Registry from a Config.
type ProviderFactory func(cfg Config, log *logger.Logger) (Registry, error)

var providerFactories = make(map[string]ProviderFactory)

// RegisterProviderFactory registers a registry backend factory under the
// given provider name. Adapter packages call this in an init function to
// make themselves available to New.
func RegisterProviderFactory(name string, f ProviderFactory) {
	providerFactories[strings.ToLower(name)] = f
}

// New creates a Registry for the configured provider. Provider names are
// matched case-insensitively.
func New(cfg Config, log *logger.Logger) (Registry, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("registry config: %w", err)
	}

	f, ok := providerFactories[strings.ToLower(cfg.Provider)]
	if !ok {
		return nil, fmt.Errorf("unsupported registry provider %q (not registered)", cfg.Provider)
	}
	return f(cfg, log)
}
