package registry

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/chao243/SharpServer/logger"
)

func testInstance(id, name string) *ServiceInstance {
	return &ServiceInstance{
		ServiceID:   id,
		ServiceName: name,
		Address:     "10.0.0.1",
		Port:        7144,
		Scheme:      SchemeHTTP,
		Status:      StatusUp,
	}
}

func TestInstanceJSONRoundtrip(t *testing.T) {
	inst := testInstance("g1", "GameServer")
	inst.Normalize()
	inst.LastHeartbeat = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	inst.Metadata["zone"] = "eu-1"

	raw, err := json.Marshal(inst)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var got ServiceInstance
	if err := json.Unmarshal(raw, &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got.ServiceID != "g1" || got.ServiceName != "GameServer" {
		t.Fatalf("identity fields lost: %+v", got)
	}
	if got.Status != StatusUp || got.Scheme != SchemeHTTP {
		t.Fatalf("enum fields lost: %+v", got)
	}
	if !got.LastHeartbeat.Equal(inst.LastHeartbeat) {
		t.Fatalf("heartbeat mismatch: %v vs %v", got.LastHeartbeat, inst.LastHeartbeat)
	}
	if got.Metadata["zone"] != "eu-1" {
		t.Fatalf("metadata lost: %+v", got.Metadata)
	}
}

func TestInstanceJSONIgnoresUnknownFields(t *testing.T) {
	raw := []byte(`{"service_id":"g1","service_name":"GameServer","address":"h","port":80,"scheme":"http","status":"Up","future_field":42}`)
	var got ServiceInstance
	if err := json.Unmarshal(raw, &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got.ServiceID != "g1" {
		t.Fatalf("unexpected instance: %+v", got)
	}
}

func TestInstanceURI(t *testing.T) {
	inst := testInstance("g1", "GameServer")
	if uri := inst.URI(); uri != "http://10.0.0.1:7144" {
		t.Fatalf("unexpected URI %s", uri)
	}
	inst.Scheme = SchemeHTTPS
	if uri := inst.URI(); uri != "https://10.0.0.1:7144" {
		t.Fatalf("unexpected URI %s", uri)
	}
}

func TestInstanceValidate(t *testing.T) {
	inst := testInstance("g1", "GameServer")
	if err := inst.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	bad := *inst
	bad.Scheme = "ftp"
	if err := bad.Validate(); err == nil {
		t.Fatal("expected error for bad scheme")
	}

	bad = *inst
	bad.ServiceID = ""
	if err := bad.Validate(); err == nil {
		t.Fatal("expected error for missing id")
	}
}

func TestKeys(t *testing.T) {
	k := NewKeys("sharpserver")
	if got := k.Service("GameServer", "g1"); got != "sharpserver/service/GameServer/g1" {
		t.Fatalf("service key: %s", got)
	}
	if got := k.ServicePrefix("GameServer"); got != "sharpserver/service/GameServer/" {
		t.Fatalf("service prefix: %s", got)
	}
	if got := k.Index("g1"); got != "sharpserver/index/g1" {
		t.Fatalf("index key: %s", got)
	}
	if got := k.List("GameServer"); got != "sharpserver/list/GameServer" {
		t.Fatalf("list key: %s", got)
	}

	// Empty prefix falls back to the default.
	k = NewKeys("")
	if got := k.Index("g1"); got != "sharpserver/index/g1" {
		t.Fatalf("default prefix: %s", got)
	}
}

func TestMemoryRegistryRoundtrip(t *testing.T) {
	reg := NewMemoryRegistry()
	ctx := context.Background()

	if err := reg.Register(ctx, testInstance("g1", "GameServer"), time.Minute); err != nil {
		t.Fatalf("register: %v", err)
	}

	instances, err := reg.Discover(ctx, "GameServer")
	if err != nil {
		t.Fatalf("discover: %v", err)
	}
	if len(instances) != 1 || instances[0].ServiceID != "g1" {
		t.Fatalf("unexpected instances: %+v", instances)
	}
	if instances[0].LastHeartbeat.IsZero() {
		t.Fatal("expected last heartbeat to be set")
	}

	got, err := reg.Get(ctx, "g1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got == nil || got.ServiceName != "GameServer" {
		t.Fatalf("unexpected get result: %+v", got)
	}
}

func TestMemoryRegistryExpiry(t *testing.T) {
	reg := NewMemoryRegistry()
	ctx := context.Background()

	if err := reg.Register(ctx, testInstance("g1", "GameServer"), 30*time.Millisecond); err != nil {
		t.Fatalf("register: %v", err)
	}
	time.Sleep(60 * time.Millisecond)

	instances, err := reg.Discover(ctx, "GameServer")
	if err != nil {
		t.Fatalf("discover: %v", err)
	}
	if len(instances) != 0 {
		t.Fatalf("expected expiry, got %+v", instances)
	}

	got, err := reg.Get(ctx, "g1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got != nil {
		t.Fatalf("expected nil after expiry, got %+v", got)
	}

	if err := reg.Refresh(ctx, "g1", time.Minute); err != ErrInstanceNotFound {
		t.Fatalf("expected ErrInstanceNotFound, got %v", err)
	}
}

func TestMemoryRegistryFiltersDown(t *testing.T) {
	reg := NewMemoryRegistry()
	ctx := context.Background()

	down := testInstance("g2", "GameServer")
	down.Status = StatusMaintenance
	reg.Register(ctx, testInstance("g1", "GameServer"), time.Minute)
	reg.Register(ctx, down, time.Minute)

	instances, err := reg.Discover(ctx, "GameServer")
	if err != nil {
		t.Fatalf("discover: %v", err)
	}
	if len(instances) != 1 || instances[0].ServiceID != "g1" {
		t.Fatalf("expected only Up instance, got %+v", instances)
	}
}

func TestNewUnknownProvider(t *testing.T) {
	_, err := New(Config{Provider: "zookeeper"}, logger.NewDefault("test"))
	if err == nil {
		t.Fatal("expected error for unknown provider")
	}
}

func TestNewProviderCaseInsensitive(t *testing.T) {
	reg, err := New(Config{Provider: "Memory"}, logger.NewDefault("test"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer reg.Close()
	if _, ok := reg.(*MemoryRegistry); !ok {
		t.Fatalf("expected memory registry, got %T", reg)
	}
}
