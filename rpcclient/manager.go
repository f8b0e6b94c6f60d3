package rpcclient

import (
	"context"
	"sync"
	"time"

	"google.golang.org/grpc"

	"github.com/chao243/SharpServer/balancer"
	"github.com/chao243/SharpServer/component"
	"github.com/chao243/SharpServer/errors"
	"github.com/chao243/SharpServer/logger"
	"github.com/chao243/SharpServer/registry"
)

// Op is one RPC attempt against a pooled channel.
type Op func(ctx context.Context, conn *grpc.ClientConn) error

// CallOption customizes a single Execute/Invoke call.
type CallOption func(*callOptions)

type callOptions struct {
	affinityKey string
	maxRetries  int
	hasRetries  bool
}

// WithAffinityKey pins the call to the instance the affinity key maps to
// under consistent-hash selection.
func WithAffinityKey(key string) CallOption {
	return func(o *callOptions) { o.affinityKey = key }
}

// WithMaxRetries overrides the configured retry budget for this call.
func WithMaxRetries(n int) CallOption {
	return func(o *callOptions) {
		o.maxRetries = n
		o.hasRetries = true
	}
}

// Manager pools connections per back-end instance and executes RPC calls
// with discovery, load balancing, and bounded retry.
type Manager struct {
	cfg Config
	reg registry.Registry
	lb  balancer.Strategy
	log *logger.Logger

	mu    sync.Mutex
	pools map[string]*ClientPool // keyed by service id

	cancel context.CancelFunc
	done   chan struct{}
}

// NewManager creates a Manager. The load-balancing strategy is fixed at
// wiring time.
func NewManager(cfg Config, reg registry.Registry, lb balancer.Strategy, log *logger.Logger) (*Manager, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Manager{
		cfg:   cfg,
		reg:   reg,
		lb:    lb,
		log:   log.WithComponent("rpcclient"),
		pools: make(map[string]*ClientPool),
	}, nil
}

var _ component.Component = (*Manager)(nil)

// Name returns the component name.
func (m *Manager) Name() string { return "rpc-client-manager" }

// Start launches the background pool reconciler.
func (m *Manager) Start(ctx context.Context) error {
	loopCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	m.mu.Lock()
	m.cancel = cancel
	m.done = done
	m.mu.Unlock()

	go m.reconcileLoop(loopCtx, done)
	return nil
}

// Stop cancels the reconciler and disposes every pool.
func (m *Manager) Stop(ctx context.Context) error {
	m.mu.Lock()
	cancel := m.cancel
	done := m.done
	m.cancel = nil
	m.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for id, pool := range m.pools {
		pool.Close()
		delete(m.pools, id)
	}
	return nil
}

// Health reports healthy while the manager can discover its fleet.
func (m *Manager) Health(ctx context.Context) component.Health {
	h := component.Health{Name: m.Name(), Status: component.StatusHealthy}
	if _, err := m.reg.Discover(ctx, m.cfg.ServiceName); err != nil {
		h.Status = component.StatusDegraded
		h.Message = err.Error()
	}
	return h
}

// Execute runs op with discovery, selection, and bounded retry. It returns
// the success of one attempt, the first terminal error, or the last
// retryable error once the retry budget is exhausted.
func (m *Manager) Execute(ctx context.Context, op Op, opts ...CallOption) error {
	_, err := Invoke(ctx, m, func(ctx context.Context, conn *grpc.ClientConn) (struct{}, error) {
		return struct{}{}, op(ctx, conn)
	}, opts...)
	return err
}

// Invoke is the result-carrying form of Execute.
func Invoke[R any](ctx context.Context, m *Manager, fn func(ctx context.Context, conn *grpc.ClientConn) (R, error), opts ...CallOption) (R, error) {
	var zero R

	options := callOptions{}
	for _, opt := range opts {
		opt(&options)
	}
	maxRetries := m.cfg.MaxRetries
	if options.hasRetries {
		maxRetries = options.maxRetries
	}
	if maxRetries < 0 {
		maxRetries = 0
	}

	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			if err := sleepBackoff(ctx, m.cfg.RetryBackoff, attempt-1); err != nil {
				return zero, errors.Cancelled(err)
			}
		}
		if ctx.Err() != nil {
			return zero, errors.Cancelled(ctx.Err())
		}

		instances, err := m.reg.Discover(ctx, m.cfg.ServiceName)
		if err != nil {
			// Registry failures are retried like transient transport errors.
			lastErr = errors.RegistryIO("discover", err)
			m.log.Warn("discovery failed", logger.Fields(
				logger.FieldServiceName, m.cfg.ServiceName,
				logger.FieldAttempt, attempt,
				logger.FieldError, err.Error(),
			))
			continue
		}

		picked := m.lb.Select(m.cfg.ServiceName, instances, options.affinityKey)
		if picked == nil {
			return zero, errors.NoAvailableInstance(m.cfg.ServiceName)
		}

		pool := m.pool(*picked)
		wrapper, err := pool.Rent(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return zero, errors.Cancelled(ctx.Err())
			}
			m.lb.RecordFailure(picked.ServiceID, err)
			lastErr = errors.TransportRetryable(picked.ServiceID, err)
			m.log.Warn("channel lease failed", logger.Fields(
				logger.FieldServiceID, picked.ServiceID,
				logger.FieldAttempt, attempt,
				logger.FieldError, err.Error(),
			))
			continue
		}

		attemptCtx := ctx
		var cancelAttempt context.CancelFunc
		if m.cfg.OperationTimeout > 0 {
			attemptCtx, cancelAttempt = context.WithTimeout(ctx, m.cfg.OperationTimeout)
		}
		result, err := fn(attemptCtx, wrapper.conn)
		if cancelAttempt != nil {
			cancelAttempt()
		}

		if err == nil {
			m.lb.RecordSuccess(picked.ServiceID)
			pool.Return(wrapper)
			return result, nil
		}

		// A cancelled wrapper is discarded, never returned.
		pool.Discard(wrapper)

		if ctx.Err() != nil {
			return zero, errors.Cancelled(ctx.Err())
		}
		if !isRetryable(err) {
			return zero, err
		}

		m.lb.RecordFailure(picked.ServiceID, err)
		lastErr = err
		m.log.Warn("retryable call failure", logger.Fields(
			logger.FieldServiceID, picked.ServiceID,
			logger.FieldAttempt, attempt,
			logger.FieldError, err.Error(),
		))
	}

	return zero, lastErr
}

// pool returns the pool for the picked instance, creating it lazily and
// adopting the latest registration otherwise.
func (m *Manager) pool(picked registry.ServiceInstance) *ClientPool {
	m.mu.Lock()
	defer m.mu.Unlock()

	pool, ok := m.pools[picked.ServiceID]
	if !ok {
		pool = newClientPool(picked, m.cfg, m.log)
		m.pools[picked.ServiceID] = pool
		m.log.Debug("pool created", logger.Fields(logger.FieldServiceID, picked.ServiceID))
	} else {
		pool.UpdateInstance(picked)
	}
	return pool
}

// reconcileLoop drops pools for instances the registry no longer knows.
// Pools are only ever created lazily on demand.
func (m *Manager) reconcileLoop(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(m.cfg.ReconcileInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.reconcile(ctx)
		}
	}
}

func (m *Manager) reconcile(ctx context.Context) {
	instances, err := m.reg.Discover(ctx, m.cfg.ServiceName)
	if err != nil {
		if ctx.Err() == nil {
			m.log.Warn("pool reconcile skipped", logger.Fields(logger.FieldError, err.Error()))
		}
		return
	}

	present := make(map[string]struct{}, len(instances))
	for _, inst := range instances {
		present[inst.ServiceID] = struct{}{}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for id, pool := range m.pools {
		if _, ok := present[id]; ok {
			continue
		}
		pool.Close()
		delete(m.pools, id)
		m.log.Info("pool dropped for departed instance", logger.Fields(logger.FieldServiceID, id))
	}
}
