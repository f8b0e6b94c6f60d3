package redisreg

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"github.com/chao243/SharpServer/logger"
	"github.com/chao243/SharpServer/registry"
)

// newTestRegistry creates a Redis registry backed by miniredis.
func newTestRegistry(t *testing.T) (*Redis, *miniredis.Miniredis) {
	t.Helper()
	mini, err := miniredis.Run()
	if err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}
	t.Cleanup(func() { mini.Close() })

	log := logger.NewDefault("redisreg-test")
	reg, err := New(registry.Config{
		Provider:  "redis",
		KeyPrefix: "sharpserver",
		Redis:     registry.RedisConfig{ConnectionString: "redis://" + mini.Addr()},
	}, log)
	if err != nil {
		t.Fatalf("failed to create registry: %v", err)
	}
	t.Cleanup(func() { reg.Close() })
	return reg, mini
}

func gameServer(id string) *registry.ServiceInstance {
	return &registry.ServiceInstance{
		ServiceID:   id,
		ServiceName: "GameServer",
		Address:     "10.0.0.1",
		Port:        7144,
		Scheme:      registry.SchemeHTTP,
		Status:      registry.StatusUp,
	}
}

func TestRegisterAndDiscover(t *testing.T) {
	reg, _ := newTestRegistry(t)
	ctx := context.Background()

	if err := reg.Register(ctx, gameServer("g1"), time.Minute); err != nil {
		t.Fatalf("register: %v", err)
	}

	instances, err := reg.Discover(ctx, "GameServer")
	if err != nil {
		t.Fatalf("discover: %v", err)
	}
	if len(instances) != 1 {
		t.Fatalf("expected 1 instance, got %d", len(instances))
	}
	inst := instances[0]
	if inst.ServiceID != "g1" || inst.Status != registry.StatusUp {
		t.Fatalf("unexpected instance: %+v", inst)
	}
	if inst.LastHeartbeat.IsZero() {
		t.Fatal("expected last heartbeat to be set")
	}
}

func TestRegisterIsIdempotent(t *testing.T) {
	reg, _ := newTestRegistry(t)
	ctx := context.Background()

	if err := reg.Register(ctx, gameServer("g1"), time.Minute); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := reg.Register(ctx, gameServer("g1"), time.Minute); err != nil {
		t.Fatalf("re-register: %v", err)
	}

	instances, err := reg.Discover(ctx, "GameServer")
	if err != nil {
		t.Fatalf("discover: %v", err)
	}
	if len(instances) != 1 {
		t.Fatalf("expected exactly 1 record after re-register, got %d", len(instances))
	}
}

func TestExpiry(t *testing.T) {
	reg, mini := newTestRegistry(t)
	ctx := context.Background()

	if err := reg.Register(ctx, gameServer("g1"), 2*time.Second); err != nil {
		t.Fatalf("register: %v", err)
	}

	mini.FastForward(3 * time.Second)

	instances, err := reg.Discover(ctx, "GameServer")
	if err != nil {
		t.Fatalf("discover: %v", err)
	}
	if len(instances) != 0 {
		t.Fatalf("expected no instances after expiry, got %+v", instances)
	}

	got, err := reg.Get(ctx, "g1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got != nil {
		t.Fatalf("expected nil after expiry, got %+v", got)
	}
}

func TestRefreshExtendsTTL(t *testing.T) {
	reg, mini := newTestRegistry(t)
	ctx := context.Background()

	if err := reg.Register(ctx, gameServer("g1"), 2*time.Second); err != nil {
		t.Fatalf("register: %v", err)
	}

	mini.FastForward(1 * time.Second)
	if err := reg.Refresh(ctx, "g1", 2*time.Second); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	mini.FastForward(1500 * time.Millisecond)

	// Past the original TTL but within the refreshed one.
	instances, err := reg.Discover(ctx, "GameServer")
	if err != nil {
		t.Fatalf("discover: %v", err)
	}
	if len(instances) != 1 {
		t.Fatalf("expected instance to survive refresh, got %d", len(instances))
	}
}

func TestRefreshMissing(t *testing.T) {
	reg, _ := newTestRegistry(t)
	if err := reg.Refresh(context.Background(), "ghost", time.Minute); err != registry.ErrInstanceNotFound {
		t.Fatalf("expected ErrInstanceNotFound, got %v", err)
	}
}

func TestUnregisterCleansIndices(t *testing.T) {
	reg, _ := newTestRegistry(t)
	ctx := context.Background()

	if err := reg.Register(ctx, gameServer("g1"), time.Minute); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := reg.Unregister(ctx, "g1"); err != nil {
		t.Fatalf("unregister: %v", err)
	}

	n, err := reg.rdb.Exists(ctx, "sharpserver/service/GameServer/g1", "sharpserver/index/g1").Result()
	if err != nil {
		t.Fatalf("exists: %v", err)
	}
	if n != 0 {
		t.Fatalf("expected value record and reverse index to be deleted, %d keys remain", n)
	}

	instances, err := reg.Discover(ctx, "GameServer")
	if err != nil {
		t.Fatalf("discover: %v", err)
	}
	if len(instances) != 0 {
		t.Fatalf("expected empty discovery, got %+v", instances)
	}
}

func TestUnregisterMissingIsNotAnError(t *testing.T) {
	reg, _ := newTestRegistry(t)
	if err := reg.Unregister(context.Background(), "ghost"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestDiscoverFiltersNonUp(t *testing.T) {
	reg, _ := newTestRegistry(t)
	ctx := context.Background()

	down := gameServer("g2")
	down.Status = registry.StatusDown
	reg.Register(ctx, gameServer("g1"), time.Minute)
	reg.Register(ctx, down, time.Minute)

	instances, err := reg.Discover(ctx, "GameServer")
	if err != nil {
		t.Fatalf("discover: %v", err)
	}
	if len(instances) != 1 || instances[0].ServiceID != "g1" {
		t.Fatalf("expected only g1, got %+v", instances)
	}
}

func TestDiscoverPrunesStaleSetMembers(t *testing.T) {
	reg, _ := newTestRegistry(t)
	ctx := context.Background()

	reg.Register(ctx, gameServer("g1"), time.Minute)
	// Simulate a lingering member whose record already expired.
	if err := reg.rdb.SAdd(ctx, "sharpserver/list/GameServer", "ghost").Err(); err != nil {
		t.Fatalf("sadd: %v", err)
	}

	instances, err := reg.Discover(ctx, "GameServer")
	if err != nil {
		t.Fatalf("discover: %v", err)
	}
	if len(instances) != 1 {
		t.Fatalf("expected 1 instance, got %d", len(instances))
	}

	members, err := reg.rdb.SMembers(ctx, "sharpserver/list/GameServer").Result()
	if err != nil {
		t.Fatalf("smembers: %v", err)
	}
	if len(members) != 1 || members[0] != "g1" {
		t.Fatalf("expected ghost to be pruned, got %v", members)
	}
}

func TestDiscoverSkipsMalformedRecords(t *testing.T) {
	reg, mini := newTestRegistry(t)
	ctx := context.Background()

	reg.Register(ctx, gameServer("g1"), time.Minute)
	if err := mini.Set("sharpserver/service/GameServer/bad", "{not json"); err != nil {
		t.Fatalf("set: %v", err)
	}
	if err := reg.rdb.SAdd(ctx, "sharpserver/list/GameServer", "bad").Err(); err != nil {
		t.Fatalf("sadd: %v", err)
	}

	instances, err := reg.Discover(ctx, "GameServer")
	if err != nil {
		t.Fatalf("discover: %v", err)
	}
	if len(instances) != 1 || instances[0].ServiceID != "g1" {
		t.Fatalf("expected only the valid record, got %+v", instances)
	}
}

func TestGetViaReverseIndex(t *testing.T) {
	reg, _ := newTestRegistry(t)
	ctx := context.Background()

	reg.Register(ctx, gameServer("g1"), time.Minute)

	got, err := reg.Get(ctx, "g1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got == nil || got.ServiceName != "GameServer" {
		t.Fatalf("unexpected result: %+v", got)
	}

	missing, err := reg.Get(ctx, "ghost")
	if err != nil {
		t.Fatalf("get missing: %v", err)
	}
	if missing != nil {
		t.Fatalf("expected nil for missing id, got %+v", missing)
	}
}
