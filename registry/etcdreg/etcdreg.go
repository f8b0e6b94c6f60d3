// Package etcdreg provides the etcd-backed implementation of the fabric
// registry built on the etcd v3 client.
//
// Registration grants a TTL lease and puts both the name-scoped record and
// the reverse index under it, so the pair expires atomically when the lease
// lapses. Discovery is a prefix range read.
package etcdreg

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	clientv3 "go.etcd.io/etcd/client/v3"

	"github.com/chao243/SharpServer/logger"
	"github.com/chao243/SharpServer/registry"
)

func init() {
	registry.RegisterProviderFactory("etcd", func(cfg registry.Config, log *logger.Logger) (registry.Registry, error) {
		return New(cfg, log)
	})
}

// Etcd implements registry.Registry on top of an etcd cluster.
type Etcd struct {
	client *clientv3.Client
	keys   registry.Keys
	log    *logger.Logger

	mu     sync.Mutex
	leases map[string]clientv3.LeaseID // service id -> current lease
}

// New creates an etcd registry from the given configuration.
func New(cfg registry.Config, log *logger.Logger) (*Etcd, error) {
	client, err := clientv3.New(clientv3.Config{
		Endpoints:   []string{cfg.Etcd.Endpoint},
		DialTimeout: 5 * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("etcd registry: %w", err)
	}
	return NewWithClient(client, cfg.KeyPrefix, log), nil
}

// NewWithClient creates an etcd registry on an existing client.
func NewWithClient(client *clientv3.Client, keyPrefix string, log *logger.Logger) *Etcd {
	return &Etcd{
		client: client,
		keys:   registry.NewKeys(keyPrefix),
		log:    log.WithComponent("registry.etcd"),
		leases: make(map[string]clientv3.LeaseID),
	}
}

var _ registry.Registry = (*Etcd)(nil)
var _ registry.Watcher = (*Etcd)(nil)

// Register grants a fresh lease and puts the value record and the reverse
// index under it. Any prior lease held for this id is revoked best-effort.
func (e *Etcd) Register(ctx context.Context, instance *registry.ServiceInstance, ttl time.Duration) error {
	inst := *instance
	inst.Normalize()
	inst.LastHeartbeat = time.Now().UTC()
	if err := inst.Validate(); err != nil {
		return fmt.Errorf("etcd registry: %w", err)
	}

	raw, err := json.Marshal(&inst)
	if err != nil {
		return fmt.Errorf("etcd registry: marshal instance: %w", err)
	}

	lease, err := e.client.Grant(ctx, leaseSeconds(ttl))
	if err != nil {
		return fmt.Errorf("etcd registry: grant lease: %w", err)
	}

	_, err = e.client.Txn(ctx).Then(
		clientv3.OpPut(e.keys.Service(inst.ServiceName, inst.ServiceID), string(raw), clientv3.WithLease(lease.ID)),
		clientv3.OpPut(e.keys.Index(inst.ServiceID), inst.ServiceName, clientv3.WithLease(lease.ID)),
	).Commit()
	if err != nil {
		return fmt.Errorf("etcd registry: register %s: %w", inst.ServiceID, err)
	}

	e.mu.Lock()
	prior, had := e.leases[inst.ServiceID]
	e.leases[inst.ServiceID] = lease.ID
	e.mu.Unlock()

	if had && prior != lease.ID {
		// Lazy cleanup; a missing lease is fine.
		if _, err := e.client.Revoke(ctx, prior); err != nil {
			e.log.Debug("prior lease revoke failed", logger.Fields(
				logger.FieldServiceID, inst.ServiceID,
				logger.FieldError, err.Error(),
			))
		}
	}

	e.log.Debug("service registered", logger.Fields(
		logger.FieldServiceID, inst.ServiceID,
		logger.FieldServiceName, inst.ServiceName,
		"ttl", ttl.String(),
	))
	return nil
}

// Unregister deletes both keys and revokes the lease. A missing instance is
// not an error.
func (e *Etcd) Unregister(ctx context.Context, serviceID string) error {
	resp, err := e.client.Get(ctx, e.keys.Index(serviceID))
	if err != nil {
		return fmt.Errorf("etcd registry: unregister %s: %w", serviceID, err)
	}
	if len(resp.Kvs) == 0 {
		return nil
	}
	name := string(resp.Kvs[0].Value)

	_, err = e.client.Txn(ctx).Then(
		clientv3.OpDelete(e.keys.Service(name, serviceID)),
		clientv3.OpDelete(e.keys.Index(serviceID)),
	).Commit()
	if err != nil {
		return fmt.Errorf("etcd registry: unregister %s: %w", serviceID, err)
	}

	e.mu.Lock()
	lease, had := e.leases[serviceID]
	delete(e.leases, serviceID)
	e.mu.Unlock()

	if had {
		// Revoking a missing lease is swallowed.
		e.client.Revoke(ctx, lease)
	}

	e.log.Debug("service unregistered", logger.Fields(logger.FieldServiceID, serviceID))
	return nil
}

// Discover range-reads the service prefix and returns the Up instances.
func (e *Etcd) Discover(ctx context.Context, serviceName string) ([]registry.ServiceInstance, error) {
	resp, err := e.client.Get(ctx, e.keys.ServicePrefix(serviceName), clientv3.WithPrefix())
	if err != nil {
		return nil, fmt.Errorf("etcd registry: discover %s: %w", serviceName, err)
	}

	instances := make([]registry.ServiceInstance, 0, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		var inst registry.ServiceInstance
		if err := json.Unmarshal(kv.Value, &inst); err != nil {
			e.log.Warn("skipping malformed registry record", logger.Fields(
				logger.FieldServiceName, serviceName,
				"key", string(kv.Key),
				logger.FieldError, err.Error(),
			))
			continue
		}
		if inst.IsUp() {
			instances = append(instances, inst)
		}
	}
	return instances, nil
}

// Get resolves the service name through the reverse index and reads the
// value record. Returns nil when the instance is absent.
func (e *Etcd) Get(ctx context.Context, serviceID string) (*registry.ServiceInstance, error) {
	resp, err := e.client.Get(ctx, e.keys.Index(serviceID))
	if err != nil {
		return nil, fmt.Errorf("etcd registry: get %s: %w", serviceID, err)
	}
	if len(resp.Kvs) == 0 {
		return nil, nil
	}
	name := string(resp.Kvs[0].Value)

	resp, err = e.client.Get(ctx, e.keys.Service(name, serviceID))
	if err != nil {
		return nil, fmt.Errorf("etcd registry: get %s: %w", serviceID, err)
	}
	if len(resp.Kvs) == 0 {
		return nil, nil
	}

	var inst registry.ServiceInstance
	if err := json.Unmarshal(resp.Kvs[0].Value, &inst); err != nil {
		return nil, fmt.Errorf("etcd registry: get %s: unmarshal: %w", serviceID, err)
	}
	return &inst, nil
}

// Refresh re-registers the existing record under a fresh lease.
func (e *Etcd) Refresh(ctx context.Context, serviceID string, ttl time.Duration) error {
	inst, err := e.Get(ctx, serviceID)
	if err != nil {
		return err
	}
	if inst == nil {
		return registry.ErrInstanceNotFound
	}
	return e.Register(ctx, inst, ttl)
}

// Watch emits the current Up instance set whenever the service prefix
// changes. The channel closes when ctx is cancelled.
func (e *Etcd) Watch(ctx context.Context, serviceName string) (<-chan []registry.ServiceInstance, error) {
	ch := make(chan []registry.ServiceInstance, 1)

	go func() {
		defer close(ch)
		watchChan := e.client.Watch(ctx, e.keys.ServicePrefix(serviceName), clientv3.WithPrefix())
		for range watchChan {
			instances, err := e.Discover(ctx, serviceName)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				e.log.Warn("watch refetch failed", logger.Fields(
					logger.FieldServiceName, serviceName,
					logger.FieldError, err.Error(),
				))
				continue
			}
			select {
			case ch <- instances:
			case <-ctx.Done():
				return
			}
		}
	}()

	return ch, nil
}

// Close closes the underlying etcd client.
func (e *Etcd) Close() error {
	return e.client.Close()
}

// leaseSeconds converts a TTL to whole lease seconds, rounding up so short
// TTLs are not truncated to zero.
func leaseSeconds(ttl time.Duration) int64 {
	secs := int64((ttl + time.Second - 1) / time.Second)
	if secs < 1 {
		secs = 1
	}
	return secs
}
