// Package agent keeps a process's presence in the service registry accurate
// for as long as it is serving.
//
// The agent registers the local instance at startup, refreshes its lease on
// every heartbeat tick, and unregisters on graceful shutdown. Refresh
// failures are logged and retried on the next tick; they are never fatal to
// the host.
package agent

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/chao243/SharpServer/component"
	"github.com/chao243/SharpServer/errors"
	"github.com/chao243/SharpServer/logger"
	"github.com/chao243/SharpServer/registry"
)

// Agent registers and heartbeats one service instance.
type Agent struct {
	cfg      Config
	reg      registry.Registry
	log      *logger.Logger
	listener net.Listener

	mu       sync.Mutex
	instance *registry.ServiceInstance
	cancel   context.CancelFunc
	done     chan struct{}
	lastErr  error
}

// Option customizes an Agent.
type Option func(*Agent)

// WithListener supplies the hosting transport's listener, used to infer
// the advertised endpoint when config leaves it unset.
func WithListener(l net.Listener) Option {
	return func(a *Agent) { a.listener = l }
}

// New creates a registration agent for the given registry.
func New(cfg Config, reg registry.Registry, log *logger.Logger, opts ...Option) *Agent {
	a := &Agent{
		cfg: cfg,
		reg: reg,
		log: log.WithComponent("agent"),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

var _ component.Component = (*Agent)(nil)

// Name returns the component name.
func (a *Agent) Name() string { return "registration-agent" }

// Instance returns the instance registered by Start, or nil before Start.
func (a *Agent) Instance() *registry.ServiceInstance {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.instance == nil {
		return nil
	}
	inst := *a.instance
	return &inst
}

// Start builds the service instance, registers it, and launches the
// heartbeat loop.
func (a *Agent) Start(ctx context.Context) error {
	a.cfg.ApplyDefaults()
	if err := a.cfg.Validate(); err != nil {
		return err
	}

	inst, err := a.buildInstance()
	if err != nil {
		return err
	}

	if err := a.reg.Register(ctx, inst, a.cfg.RegistrationTtl); err != nil {
		return errors.RegistrationFailure(inst.ServiceID, err)
	}

	loopCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	a.mu.Lock()
	a.instance = inst
	a.cancel = cancel
	a.done = done
	a.mu.Unlock()

	go a.heartbeatLoop(loopCtx, done, inst.ServiceID)

	a.log.Info("service registered", logger.Fields(
		logger.FieldServiceID, inst.ServiceID,
		logger.FieldServiceName, inst.ServiceName,
		logger.FieldAddress, inst.URI(),
		"ttl", a.cfg.RegistrationTtl.String(),
	))
	return nil
}

// Stop cancels the heartbeat loop and unregisters the instance.
func (a *Agent) Stop(ctx context.Context) error {
	a.mu.Lock()
	cancel := a.cancel
	done := a.done
	inst := a.instance
	a.cancel = nil
	a.mu.Unlock()

	if cancel == nil {
		return nil
	}
	cancel()
	<-done

	if err := a.reg.Unregister(ctx, inst.ServiceID); err != nil {
		return errors.RegistrationFailure(inst.ServiceID, err)
	}
	a.log.Info("service unregistered", logger.Fields(logger.FieldServiceID, inst.ServiceID))
	return nil
}

// Health reports degraded when the most recent refresh failed.
func (a *Agent) Health(ctx context.Context) component.Health {
	a.mu.Lock()
	defer a.mu.Unlock()

	h := component.Health{Name: a.Name(), Status: component.StatusHealthy}
	if a.instance == nil {
		h.Status = component.StatusUnhealthy
		h.Message = "not started"
	} else if a.lastErr != nil {
		h.Status = component.StatusDegraded
		h.Message = a.lastErr.Error()
	}
	return h
}

// heartbeatLoop refreshes the lease every HeartbeatInterval until cancelled.
// Cancellation exits without unregistering; Stop handles that separately.
func (a *Agent) heartbeatLoop(ctx context.Context, done chan struct{}, serviceID string) {
	defer close(done)

	ticker := time.NewTicker(a.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			err := a.reg.Refresh(ctx, serviceID, a.cfg.RegistrationTtl)
			a.mu.Lock()
			a.lastErr = err
			a.mu.Unlock()
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				a.log.Warn("lease refresh failed, retrying next tick", logger.Fields(
					logger.FieldServiceID, serviceID,
					logger.FieldError, err.Error(),
				))
				continue
			}
			a.log.Debug("lease refreshed", logger.Fields(logger.FieldServiceID, serviceID))
		}
	}
}

// buildInstance assembles the ServiceInstance from config plus endpoint
// inference. Explicitly configured values win over inferred ones.
func (a *Agent) buildInstance() (*registry.ServiceInstance, error) {
	inst := &registry.ServiceInstance{
		ServiceID:   a.cfg.ServiceID,
		ServiceName: a.cfg.ServiceName,
		Address:     a.cfg.Address,
		Port:        a.cfg.Port,
		Scheme:      a.cfg.Scheme,
		Version:     a.cfg.Version,
		Metadata:    a.cfg.Metadata,
		Status:      registry.StatusUp,
	}
	if inst.ServiceID == "" {
		inst.ServiceID = uuid.NewString()
	}

	if (inst.Address == "" || inst.Port == 0) && a.listener != nil {
		host, port, err := splitListenerAddr(a.listener.Addr())
		if err != nil {
			return nil, fmt.Errorf("registration: infer endpoint: %w", err)
		}
		if inst.Address == "" {
			inst.Address = host
		}
		if inst.Port == 0 {
			inst.Port = port
		}
	}

	inst.Normalize()
	if err := inst.Validate(); err != nil {
		return nil, fmt.Errorf("registration: %w", err)
	}
	return inst, nil
}

// splitListenerAddr extracts host and port from a bound listener address,
// substituting a routable local IP for wildcard binds.
func splitListenerAddr(addr net.Addr) (string, uint16, error) {
	host, portStr, err := net.SplitHostPort(addr.String())
	if err != nil {
		return "", 0, err
	}
	port, err := strconv.ParseUint(portStr, 10, 16)
	if err != nil {
		return "", 0, err
	}

	ip := net.ParseIP(host)
	if host == "" || (ip != nil && ip.IsUnspecified()) {
		host = localIP()
	}
	return host, uint16(port), nil
}

// localIP returns the first non-loopback unicast IPv4 address, falling back
// to loopback when none is found.
func localIP() string {
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return "127.0.0.1"
	}
	for _, addr := range addrs {
		ipNet, ok := addr.(*net.IPNet)
		if !ok || ipNet.IP.IsLoopback() {
			continue
		}
		if v4 := ipNet.IP.To4(); v4 != nil {
			return v4.String()
		}
	}
	return "127.0.0.1"
}
