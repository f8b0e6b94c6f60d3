package rpcclient

import (
	"context"
	"fmt"
	"sync"
	"time"

	"google.golang.org/grpc"

	grpcx "github.com/chao243/SharpServer/grpc"
	"github.com/chao243/SharpServer/logger"
	"github.com/chao243/SharpServer/registry"
)

// clientWrapper owns one transport channel rented out of a pool.
type clientWrapper struct {
	conn     *grpc.ClientConn
	lastUsed time.Time
}

// dispose closes the underlying channel.
func (w *clientWrapper) dispose() {
	if w.conn != nil {
		w.conn.Close()
	}
}

// ClientPool caches reusable transport channels to one back-end instance.
//
// A counting semaphore bounds concurrent in-flight leases; the idle queue is
// a buffered channel acting as a FIFO. Every rented wrapper reaches exactly
// one of Return or Discard, which releases its permit.
type ClientPool struct {
	cfg Config
	log *logger.Logger

	mu       sync.Mutex
	instance registry.ServiceInstance

	idle    chan *clientWrapper
	permits chan struct{}

	dial func(target string, secure bool) (*grpc.ClientConn, error)
}

// newClientPool creates a pool for the given instance. Channels are created
// lazily on demand.
func newClientPool(instance registry.ServiceInstance, cfg Config, log *logger.Logger) *ClientPool {
	p := &ClientPool{
		cfg:      cfg,
		log:      log.WithComponent("rpcclient.pool"),
		instance: instance,
		idle:     make(chan *clientWrapper, cfg.MaxConnectionsPerService),
		permits:  make(chan struct{}, cfg.MaxConnectionsPerService),
	}
	for i := 0; i < cfg.MaxConnectionsPerService; i++ {
		p.permits <- struct{}{}
	}
	p.dial = func(target string, secure bool) (*grpc.ClientConn, error) {
		return grpcx.NewConn(target, secure, cfg.channelConfig(), p.log)
	}
	return p
}

// Rent waits for a permit, then reuses an idle healthy wrapper or creates a
// new one. The permit is released by exactly one of Return or Discard.
func (p *ClientPool) Rent(ctx context.Context) (*clientWrapper, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-p.permits:
	}

	// Drain wrappers that idled past the staleness bound.
	for {
		select {
		case w := <-p.idle:
			if time.Since(w.lastUsed) >= p.cfg.IdleTimeout {
				w.dispose()
				continue
			}
			return w, nil
		default:
		}
		break
	}

	p.mu.Lock()
	inst := p.instance
	p.mu.Unlock()

	secure := inst.Scheme == registry.SchemeHTTPS && p.cfg.EnableTls
	conn, err := p.dial(inst.Target(), secure)
	if err != nil {
		p.permits <- struct{}{}
		return nil, fmt.Errorf("pool %s: create channel: %w", inst.ServiceID, err)
	}
	return &clientWrapper{conn: conn, lastUsed: time.Now()}, nil
}

// Return puts a healthy wrapper back on the idle queue and releases its
// permit.
func (p *ClientPool) Return(w *clientWrapper) {
	w.lastUsed = time.Now()
	select {
	case p.idle <- w:
	default:
		w.dispose()
	}
	p.permits <- struct{}{}
}

// Discard disposes the wrapper's channel and releases its permit.
func (p *ClientPool) Discard(w *clientWrapper) {
	w.dispose()
	p.permits <- struct{}{}
}

// UpdateInstance adopts the latest registration of the backing instance.
// When the endpoint moved, cached channels to the old endpoint are drained.
func (p *ClientPool) UpdateInstance(instance registry.ServiceInstance) {
	p.mu.Lock()
	moved := p.instance.URI() != instance.URI()
	p.instance = instance
	p.mu.Unlock()

	if moved {
		p.drainIdle()
	}
}

// InFlight returns the number of currently rented wrappers.
func (p *ClientPool) InFlight() int {
	return p.cfg.MaxConnectionsPerService - len(p.permits)
}

// Close drains and disposes all queued wrappers.
func (p *ClientPool) Close() {
	p.drainIdle()
}

func (p *ClientPool) drainIdle() {
	for {
		select {
		case w := <-p.idle:
			w.dispose()
		default:
			return
		}
	}
}
