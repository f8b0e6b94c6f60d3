// Package redisreg provides the Redis-backed implementation of the fabric
// registry built on go-redis.
//
// Each instance is stored three ways under one logical TTL: the name-scoped
// value key, the reverse index mapping id to service name, and membership in
// a per-service id set that makes discovery a set read plus MGET instead of
// a keyspace scan.
package redisreg

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/chao243/SharpServer/logger"
	"github.com/chao243/SharpServer/registry"
)

func init() {
	registry.RegisterProviderFactory("redis", func(cfg registry.Config, log *logger.Logger) (registry.Registry, error) {
		return New(cfg, log)
	})
}

// Redis implements registry.Registry on top of a Redis server.
type Redis struct {
	rdb  *goredis.Client
	keys registry.Keys
	log  *logger.Logger
}

// New creates a Redis registry from the given configuration.
func New(cfg registry.Config, log *logger.Logger) (*Redis, error) {
	opts, err := goredis.ParseURL(cfg.Redis.ConnectionString)
	if err != nil {
		return nil, fmt.Errorf("redis registry: parse connection string: %w", err)
	}
	return &Redis{
		rdb:  goredis.NewClient(opts),
		keys: registry.NewKeys(cfg.KeyPrefix),
		log:  log.WithComponent("registry.redis"),
	}, nil
}

// NewWithClient creates a Redis registry on an existing client. The caller
// retains ownership of the client; Close still closes it.
func NewWithClient(rdb *goredis.Client, keyPrefix string, log *logger.Logger) *Redis {
	return &Redis{
		rdb:  rdb,
		keys: registry.NewKeys(keyPrefix),
		log:  log.WithComponent("registry.redis"),
	}
}

var _ registry.Registry = (*Redis)(nil)

// Register publishes the value record, the reverse index, and the set
// membership under one logical TTL.
func (r *Redis) Register(ctx context.Context, instance *registry.ServiceInstance, ttl time.Duration) error {
	inst := *instance
	inst.Normalize()
	inst.LastHeartbeat = time.Now().UTC()
	if err := inst.Validate(); err != nil {
		return fmt.Errorf("redis registry: %w", err)
	}

	raw, err := json.Marshal(&inst)
	if err != nil {
		return fmt.Errorf("redis registry: marshal instance: %w", err)
	}

	pipe := r.rdb.TxPipeline()
	pipe.Set(ctx, r.keys.Service(inst.ServiceName, inst.ServiceID), raw, ttl)
	pipe.Set(ctx, r.keys.Index(inst.ServiceID), inst.ServiceName, ttl)
	pipe.SAdd(ctx, r.keys.List(inst.ServiceName), inst.ServiceID)
	pipe.Expire(ctx, r.keys.List(inst.ServiceName), ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis registry: register %s: %w", inst.ServiceID, err)
	}

	r.log.Debug("service registered", logger.Fields(
		logger.FieldServiceID, inst.ServiceID,
		logger.FieldServiceName, inst.ServiceName,
		"ttl", ttl.String(),
	))
	return nil
}

// Unregister deletes the value record, the reverse index, and the set
// membership. A missing instance is not an error.
func (r *Redis) Unregister(ctx context.Context, serviceID string) error {
	name, err := r.rdb.Get(ctx, r.keys.Index(serviceID)).Result()
	if err == goredis.Nil {
		return nil
	}
	if err != nil {
		return fmt.Errorf("redis registry: unregister %s: %w", serviceID, err)
	}

	pipe := r.rdb.TxPipeline()
	pipe.Del(ctx, r.keys.Service(name, serviceID))
	pipe.Del(ctx, r.keys.Index(serviceID))
	pipe.SRem(ctx, r.keys.List(name), serviceID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis registry: unregister %s: %w", serviceID, err)
	}

	r.log.Debug("service unregistered", logger.Fields(logger.FieldServiceID, serviceID))
	return nil
}

// Discover reads the id set for the service and fetches all value records
// in one MGET. Set members whose records expired are pruned opportunistically.
func (r *Redis) Discover(ctx context.Context, serviceName string) ([]registry.ServiceInstance, error) {
	ids, err := r.rdb.SMembers(ctx, r.keys.List(serviceName)).Result()
	if err != nil {
		return nil, fmt.Errorf("redis registry: discover %s: %w", serviceName, err)
	}
	if len(ids) == 0 {
		return []registry.ServiceInstance{}, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = r.keys.Service(serviceName, id)
	}
	values, err := r.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("redis registry: discover %s: %w", serviceName, err)
	}

	instances := make([]registry.ServiceInstance, 0, len(values))
	var stale []interface{}
	for i, v := range values {
		if v == nil {
			// Record expired but the set member lingers; prune it.
			stale = append(stale, ids[i])
			continue
		}
		raw, ok := v.(string)
		if !ok {
			continue
		}
		var inst registry.ServiceInstance
		if err := json.Unmarshal([]byte(raw), &inst); err != nil {
			r.log.Warn("skipping malformed registry record", logger.Fields(
				logger.FieldServiceName, serviceName,
				logger.FieldServiceID, ids[i],
				logger.FieldError, err.Error(),
			))
			continue
		}
		if inst.IsUp() {
			instances = append(instances, inst)
		}
	}

	if len(stale) > 0 {
		if err := r.rdb.SRem(ctx, r.keys.List(serviceName), stale...).Err(); err != nil {
			r.log.Warn("failed to prune stale set members", logger.Fields(
				logger.FieldServiceName, serviceName,
				logger.FieldError, err.Error(),
			))
		}
	}

	return instances, nil
}

// Get resolves the service name through the reverse index and reads the
// value record. Returns nil when the instance is absent.
func (r *Redis) Get(ctx context.Context, serviceID string) (*registry.ServiceInstance, error) {
	name, err := r.rdb.Get(ctx, r.keys.Index(serviceID)).Result()
	if err == goredis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis registry: get %s: %w", serviceID, err)
	}

	raw, err := r.rdb.Get(ctx, r.keys.Service(name, serviceID)).Result()
	if err == goredis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis registry: get %s: %w", serviceID, err)
	}

	var inst registry.ServiceInstance
	if err := json.Unmarshal([]byte(raw), &inst); err != nil {
		return nil, fmt.Errorf("redis registry: get %s: unmarshal: %w", serviceID, err)
	}
	return &inst, nil
}

// Refresh re-registers the existing record under a fresh TTL and updates
// its last heartbeat.
func (r *Redis) Refresh(ctx context.Context, serviceID string, ttl time.Duration) error {
	inst, err := r.Get(ctx, serviceID)
	if err != nil {
		return err
	}
	if inst == nil {
		return registry.ErrInstanceNotFound
	}
	return r.Register(ctx, inst, ttl)
}

// Close closes the underlying Redis connection.
func (r *Redis) Close() error {
	return r.rdb.Close()
}
