// Package consulreg provides the Consul-backed implementation of the fabric
// registry built on the HashiCorp Consul API client.
//
// Registration uses a TTL check: the record stays passing for as long as the
// owner keeps refreshing, and Consul deregisters it after the check has been
// critical for twice the TTL. Endpoint attributes that Consul has no native
// field for (scheme, version, status) travel in the service metadata.
package consulreg

import (
	"context"
	"fmt"
	"time"

	"github.com/hashicorp/consul/api"

	"github.com/chao243/SharpServer/logger"
	"github.com/chao243/SharpServer/registry"
)

// Metadata keys used to carry instance attributes through Consul.
const (
	metaScheme  = "sharpserver-scheme"
	metaVersion = "sharpserver-version"
	metaStatus  = "sharpserver-status"
)

func init() {
	registry.RegisterProviderFactory("consul", func(cfg registry.Config, log *logger.Logger) (registry.Registry, error) {
		return New(cfg, log)
	})
}

// Consul implements registry.Registry on top of a Consul agent.
type Consul struct {
	client *api.Client
	log    *logger.Logger
}

// New creates a Consul registry from the given configuration.
func New(cfg registry.Config, log *logger.Logger) (*Consul, error) {
	apiCfg := api.DefaultConfig()
	apiCfg.Address = cfg.Consul.Address
	apiCfg.Scheme = cfg.Consul.Scheme
	apiCfg.Token = cfg.Consul.Token
	if cfg.Consul.Datacenter != "" {
		apiCfg.Datacenter = cfg.Consul.Datacenter
	}

	client, err := api.NewClient(apiCfg)
	if err != nil {
		return nil, fmt.Errorf("consul registry: %w", err)
	}
	return &Consul{
		client: client,
		log:    log.WithComponent("registry.consul"),
	}, nil
}

var _ registry.Registry = (*Consul)(nil)
var _ registry.Watcher = (*Consul)(nil)

// Register registers the instance with a TTL check and marks it passing.
func (c *Consul) Register(ctx context.Context, instance *registry.ServiceInstance, ttl time.Duration) error {
	inst := *instance
	inst.Normalize()
	inst.LastHeartbeat = time.Now().UTC()
	if err := inst.Validate(); err != nil {
		return fmt.Errorf("consul registry: %w", err)
	}

	meta := make(map[string]string, len(inst.Metadata)+3)
	for k, v := range inst.Metadata {
		meta[k] = v
	}
	meta[metaScheme] = string(inst.Scheme)
	meta[metaVersion] = inst.Version
	meta[metaStatus] = string(inst.Status)

	reg := &api.AgentServiceRegistration{
		ID:      inst.ServiceID,
		Name:    inst.ServiceName,
		Address: inst.Address,
		Port:    int(inst.Port),
		Meta:    meta,
		Check: &api.AgentServiceCheck{
			CheckID:                        checkID(inst.ServiceID),
			TTL:                            ttl.String(),
			DeregisterCriticalServiceAfter: (2 * ttl).String(),
		},
	}

	if err := c.client.Agent().ServiceRegister(reg); err != nil {
		return fmt.Errorf("consul registry: register %s: %w", inst.ServiceID, err)
	}
	if err := c.client.Agent().UpdateTTL(checkID(inst.ServiceID), "registered", api.HealthPassing); err != nil {
		return fmt.Errorf("consul registry: register %s: pass check: %w", inst.ServiceID, err)
	}

	c.log.Debug("service registered", logger.Fields(
		logger.FieldServiceID, inst.ServiceID,
		logger.FieldServiceName, inst.ServiceName,
		"ttl", ttl.String(),
	))
	return nil
}

// Unregister removes the instance. A missing instance is not an error.
func (c *Consul) Unregister(ctx context.Context, serviceID string) error {
	if err := c.client.Agent().ServiceDeregister(serviceID); err != nil {
		return fmt.Errorf("consul registry: unregister %s: %w", serviceID, err)
	}
	c.log.Debug("service unregistered", logger.Fields(logger.FieldServiceID, serviceID))
	return nil
}

// Discover queries Consul for passing instances of the named service.
func (c *Consul) Discover(ctx context.Context, serviceName string) ([]registry.ServiceInstance, error) {
	entries, _, err := c.client.Health().Service(serviceName, "", true, (&api.QueryOptions{}).WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("consul registry: discover %s: %w", serviceName, err)
	}

	instances := make([]registry.ServiceInstance, 0, len(entries))
	for _, entry := range entries {
		inst := entryToInstance(entry.Service)
		if inst.IsUp() {
			instances = append(instances, inst)
		}
	}
	return instances, nil
}

// Get looks the instance up in the local agent's service table. Returns nil
// when absent.
func (c *Consul) Get(ctx context.Context, serviceID string) (*registry.ServiceInstance, error) {
	services, err := c.client.Agent().Services()
	if err != nil {
		return nil, fmt.Errorf("consul registry: get %s: %w", serviceID, err)
	}
	svc, ok := services[serviceID]
	if !ok {
		return nil, nil
	}
	inst := entryToInstance(svc)
	return &inst, nil
}

// Refresh passes the TTL check, keeping the registration alive. The check
// TTL is fixed at registration time; Consul has no per-refresh TTL.
func (c *Consul) Refresh(ctx context.Context, serviceID string, ttl time.Duration) error {
	if err := c.client.Agent().UpdateTTL(checkID(serviceID), "heartbeat", api.HealthPassing); err != nil {
		return fmt.Errorf("consul registry: refresh %s: %w", serviceID, err)
	}
	return nil
}

// Watch emits the passing instance set whenever membership changes, using
// Consul blocking queries.
func (c *Consul) Watch(ctx context.Context, serviceName string) (<-chan []registry.ServiceInstance, error) {
	ch := make(chan []registry.ServiceInstance, 1)

	go func() {
		defer close(ch)
		var lastIndex uint64
		for {
			select {
			case <-ctx.Done():
				return
			default:
			}

			opts := (&api.QueryOptions{
				WaitIndex: lastIndex,
				WaitTime:  30 * time.Second,
			}).WithContext(ctx)

			entries, meta, err := c.client.Health().Service(serviceName, "", true, opts)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				c.log.Warn("consul watch error", logger.Fields(
					logger.FieldServiceName, serviceName,
					logger.FieldError, err.Error(),
				))
				time.Sleep(time.Second)
				continue
			}

			if meta.LastIndex == lastIndex {
				continue
			}
			lastIndex = meta.LastIndex

			instances := make([]registry.ServiceInstance, 0, len(entries))
			for _, entry := range entries {
				inst := entryToInstance(entry.Service)
				if inst.IsUp() {
					instances = append(instances, inst)
				}
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

// Close is a no-op; the HTTP client does not require explicit closing.
func (c *Consul) Close() error {
	return nil
}

func checkID(serviceID string) string {
	return "service:" + serviceID
}

func entryToInstance(svc *api.AgentService) registry.ServiceInstance {
	inst := registry.ServiceInstance{
		ServiceID:   svc.ID,
		ServiceName: svc.Service,
		Address:     svc.Address,
		Port:        uint16(svc.Port),
		Metadata:    make(map[string]string, len(svc.Meta)),
	}
	for k, v := range svc.Meta {
		switch k {
		case metaScheme:
			inst.Scheme = registry.Scheme(v)
		case metaVersion:
			inst.Version = v
		case metaStatus:
			inst.Status = registry.Status(v)
		default:
			inst.Metadata[k] = v
		}
	}
	inst.Normalize()
	return inst
}
