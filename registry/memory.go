package registry

import (
	"context"
	"sync"
	"time"

	"github.com/chao243/SharpServer/logger"
)

func init() {
	RegisterProviderFactory("memory", func(cfg Config, _ *logger.Logger) (Registry, error) {
		return NewMemoryRegistry(), nil
	})
}

type memoryEntry struct {
	instance ServiceInstance
	expiry   time.Time
}

// MemoryRegistry is an in-process Registry honoring TTL expiry. Used by
// tests and local development.
type MemoryRegistry struct {
	mu      sync.RWMutex
	entries map[string]memoryEntry // keyed by service id
}

// NewMemoryRegistry creates an empty in-memory registry.
func NewMemoryRegistry() *MemoryRegistry {
	return &MemoryRegistry{entries: make(map[string]memoryEntry)}
}

var _ Registry = (*MemoryRegistry)(nil)

// Register stores the instance under its service id with a TTL.
func (m *MemoryRegistry) Register(ctx context.Context, instance *ServiceInstance, ttl time.Duration) error {
	inst := *instance
	inst.Normalize()
	inst.LastHeartbeat = time.Now().UTC()
	if err := inst.Validate(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[inst.ServiceID] = memoryEntry{
		instance: inst,
		expiry:   time.Now().Add(ttl),
	}
	return nil
}

// Unregister removes the instance. Missing instances are not an error.
func (m *MemoryRegistry) Unregister(ctx context.Context, serviceID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, serviceID)
	return nil
}

// Discover returns the live Up instances of the named service.
func (m *MemoryRegistry) Discover(ctx context.Context, serviceName string) ([]ServiceInstance, error) {
	now := time.Now()

	m.mu.RLock()
	defer m.mu.RUnlock()
	instances := make([]ServiceInstance, 0, len(m.entries))
	for _, e := range m.entries {
		if e.instance.ServiceName != serviceName || now.After(e.expiry) {
			continue
		}
		if e.instance.IsUp() {
			instances = append(instances, e.instance)
		}
	}
	return instances, nil
}

// Get returns the live instance registered under serviceID, or nil.
func (m *MemoryRegistry) Get(ctx context.Context, serviceID string) (*ServiceInstance, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.entries[serviceID]
	if !ok || time.Now().After(e.expiry) {
		return nil, nil
	}
	inst := e.instance
	return &inst, nil
}

// Refresh extends the TTL of an existing registration.
func (m *MemoryRegistry) Refresh(ctx context.Context, serviceID string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[serviceID]
	if !ok || time.Now().After(e.expiry) {
		return ErrInstanceNotFound
	}
	e.instance.LastHeartbeat = time.Now().UTC()
	e.expiry = time.Now().Add(ttl)
	m.entries[serviceID] = e
	return nil
}

// Close releases nothing; the registry lives in process memory.
func (m *MemoryRegistry) Close() error {
	return nil
}
