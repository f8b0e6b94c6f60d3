package rpcclient

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"google.golang.org/grpc"

	"github.com/chao243/SharpServer/logger"
	"github.com/chao243/SharpServer/registry"
)

func poolInstance(id string) registry.ServiceInstance {
	return registry.ServiceInstance{
		ServiceID:   id,
		ServiceName: "GameServer",
		Address:     "10.0.0.1",
		Port:        7144,
		Scheme:      registry.SchemeHTTP,
		Status:      registry.StatusUp,
	}
}

// newTestPool creates a pool whose dial function is a counting stub, so no
// real channels are built.
func newTestPool(t *testing.T, maxConns int, idleTimeout time.Duration) (*ClientPool, *atomic.Int32) {
	t.Helper()
	cfg := Config{
		ServiceName:              "GameServer",
		MaxConnectionsPerService: maxConns,
		IdleTimeout:              idleTimeout,
	}
	cfg.ApplyDefaults()

	pool := newClientPool(poolInstance("g1"), cfg, logger.NewDefault("pool-test"))

	dials := &atomic.Int32{}
	pool.dial = func(target string, secure bool) (*grpc.ClientConn, error) {
		dials.Add(1)
		return nil, nil
	}
	return pool, dials
}

func TestPoolRentReturnsReusableWrapper(t *testing.T) {
	pool, dials := newTestPool(t, 2, time.Minute)
	ctx := context.Background()

	w, err := pool.Rent(ctx)
	if err != nil {
		t.Fatalf("rent: %v", err)
	}
	pool.Return(w)

	again, err := pool.Rent(ctx)
	if err != nil {
		t.Fatalf("rent: %v", err)
	}
	pool.Return(again)

	if w != again {
		t.Fatal("expected the idle wrapper to be reused")
	}
	if dials.Load() != 1 {
		t.Fatalf("expected 1 dial, got %d", dials.Load())
	}
}

func TestPoolPermitBound(t *testing.T) {
	pool, _ := newTestPool(t, 1, time.Minute)
	ctx := context.Background()

	w, err := pool.Rent(ctx)
	if err != nil {
		t.Fatalf("rent: %v", err)
	}

	// The single permit is held; a second rent must block until timeout.
	bounded, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer cancel()
	if _, err := pool.Rent(bounded); err == nil {
		t.Fatal("expected rent to block and time out")
	}

	pool.Return(w)
	w2, err := pool.Rent(ctx)
	if err != nil {
		t.Fatalf("rent after return: %v", err)
	}
	pool.Discard(w2)
}

func TestPoolPermitConservation(t *testing.T) {
	pool, _ := newTestPool(t, 3, time.Minute)
	ctx := context.Background()

	for i := 0; i < 20; i++ {
		w, err := pool.Rent(ctx)
		if err != nil {
			t.Fatalf("rent: %v", err)
		}
		if i%2 == 0 {
			pool.Return(w)
		} else {
			pool.Discard(w)
		}
	}

	if n := pool.InFlight(); n != 0 {
		t.Fatalf("expected 0 in flight, got %d", n)
	}
}

func TestPoolDrainsStaleWrappers(t *testing.T) {
	pool, dials := newTestPool(t, 2, 20*time.Millisecond)
	ctx := context.Background()

	w, err := pool.Rent(ctx)
	if err != nil {
		t.Fatalf("rent: %v", err)
	}
	pool.Return(w)

	time.Sleep(40 * time.Millisecond)

	w2, err := pool.Rent(ctx)
	if err != nil {
		t.Fatalf("rent: %v", err)
	}
	pool.Discard(w2)

	if dials.Load() != 2 {
		t.Fatalf("expected a fresh dial after staleness eviction, got %d", dials.Load())
	}
}

func TestPoolRentCancellation(t *testing.T) {
	pool, _ := newTestPool(t, 1, time.Minute)
	ctx := context.Background()

	w, err := pool.Rent(ctx)
	if err != nil {
		t.Fatalf("rent: %v", err)
	}
	defer pool.Return(w)

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	if _, err := pool.Rent(cancelled); err == nil {
		t.Fatal("expected cancellation error")
	}
}

func TestPoolUpdateInstanceDrainsOnMove(t *testing.T) {
	pool, _ := newTestPool(t, 2, time.Minute)
	ctx := context.Background()

	w, err := pool.Rent(ctx)
	if err != nil {
		t.Fatalf("rent: %v", err)
	}
	pool.Return(w)

	moved := poolInstance("g1")
	moved.Port = 7199
	pool.UpdateInstance(moved)

	if len(pool.idle) != 0 {
		t.Fatal("expected idle wrappers drained after endpoint move")
	}

	same := moved
	pool.UpdateInstance(same)
	w2, err := pool.Rent(ctx)
	if err != nil {
		t.Fatalf("rent: %v", err)
	}
	pool.Return(w2)
	if len(pool.idle) != 1 {
		t.Fatal("expected idle wrapper kept when endpoint unchanged")
	}
}
