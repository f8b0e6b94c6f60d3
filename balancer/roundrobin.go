package balancer

import (
	"math"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/chao243/SharpServer/logger"
	"github.com/chao243/SharpServer/registry"
)

// RoundRobinConfig tunes health evaluation for the round-robin strategy.
type RoundRobinConfig struct {
	// EvaluationWindow is the time constant of the exponential decay
	// applied to success/failure counters.
	EvaluationWindow time.Duration `mapstructure:"evaluation_window"`
	// MinimumSampleSize is the decayed sample count below which an
	// instance is never judged unhealthy.
	MinimumSampleSize float64 `mapstructure:"minimum_sample_size"`
	// FailureThreshold is the decayed failure rate above which an
	// instance is unhealthy.
	FailureThreshold float64 `mapstructure:"failure_threshold"`
	// OpenCircuitDuration is how long a tripped circuit stays open.
	OpenCircuitDuration time.Duration `mapstructure:"open_circuit_duration"`
}

// DefaultRoundRobinConfig returns the default health tuning.
func DefaultRoundRobinConfig() RoundRobinConfig {
	return RoundRobinConfig{
		EvaluationWindow:    60 * time.Second,
		MinimumSampleSize:   5,
		FailureThreshold:    0.5,
		OpenCircuitDuration: 30 * time.Second,
	}
}

// healthRecord tracks decayed call outcomes for one instance.
type healthRecord struct {
	mu               sync.Mutex
	successes        float64
	failures         float64
	lastSample       time.Time
	circuitOpenUntil time.Time
}

// RoundRobin rotates through healthy Up instances per service name. When no
// instance is healthy it fails open and rotates through all Up instances.
type RoundRobin struct {
	cfg RoundRobinConfig
	log *logger.Logger

	mu       sync.Mutex
	counters map[string]*atomic.Uint32 // per service name
	health   map[string]*healthRecord  // per service id
}

// NewRoundRobin creates a round-robin strategy with the given tuning.
func NewRoundRobin(cfg RoundRobinConfig, log *logger.Logger) *RoundRobin {
	if cfg.EvaluationWindow <= 0 {
		cfg.EvaluationWindow = 60 * time.Second
	}
	if cfg.MinimumSampleSize <= 0 {
		cfg.MinimumSampleSize = 5
	}
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 0.5
	}
	if cfg.OpenCircuitDuration <= 0 {
		cfg.OpenCircuitDuration = 30 * time.Second
	}
	return &RoundRobin{
		cfg:      cfg,
		log:      log.WithComponent("balancer.roundrobin"),
		counters: make(map[string]*atomic.Uint32),
		health:   make(map[string]*healthRecord),
	}
}

var _ Strategy = (*RoundRobin)(nil)

// Select rotates through the healthy Up instances of the named service.
// The counter is per-name so distinct fleets rotate independently; its
// wrap-around is harmless because the index is reduced modulo the
// candidate count.
func (rr *RoundRobin) Select(serviceName string, instances []registry.ServiceInstance, _ string) *registry.ServiceInstance {
	up := registry.FilterUp(instances)
	if len(up) == 0 {
		return nil
	}
	sort.Slice(up, func(i, j int) bool { return up[i].ServiceID < up[j].ServiceID })

	now := time.Now()
	candidates := make([]registry.ServiceInstance, 0, len(up))
	for _, inst := range up {
		if rr.isHealthy(inst.ServiceID, now) {
			candidates = append(candidates, inst)
		}
	}
	if len(candidates) == 0 {
		// Fail open: a fleet with every circuit tripped still gets traffic.
		candidates = up
	}

	idx := rr.counter(serviceName).Add(1) - 1
	picked := candidates[int(idx%uint32(len(candidates)))]
	return &picked
}

// RecordSuccess decays and increments the success counter and closes the
// circuit for the instance.
func (rr *RoundRobin) RecordSuccess(serviceID string) {
	rec := rr.record(serviceID)
	now := time.Now()

	rec.mu.Lock()
	defer rec.mu.Unlock()
	rr.decayLocked(rec, now)
	rec.successes++
	rec.circuitOpenUntil = time.Time{}
}

// RecordFailure decays and increments the failure counter; when the failure
// rate crosses the threshold the circuit opens for OpenCircuitDuration.
func (rr *RoundRobin) RecordFailure(serviceID string, err error) {
	rec := rr.record(serviceID)
	now := time.Now()

	rec.mu.Lock()
	defer rec.mu.Unlock()
	rr.decayLocked(rec, now)
	rec.failures++

	total := rec.successes + rec.failures
	if total >= rr.cfg.MinimumSampleSize && rec.failures/total > rr.cfg.FailureThreshold {
		rec.circuitOpenUntil = now.Add(rr.cfg.OpenCircuitDuration)
		rr.log.Warn("circuit opened", logger.Fields(
			logger.FieldServiceID, serviceID,
			"failure_rate", rec.failures/total,
			"open_until", rec.circuitOpenUntil.Format(time.RFC3339),
		))
	}
}

func (rr *RoundRobin) isHealthy(serviceID string, now time.Time) bool {
	rr.mu.Lock()
	rec, ok := rr.health[serviceID]
	rr.mu.Unlock()
	if !ok {
		return true
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()
	if now.Before(rec.circuitOpenUntil) {
		return false
	}
	rr.decayLocked(rec, now)
	total := rec.successes + rec.failures
	if total >= rr.cfg.MinimumSampleSize && rec.failures/total > rr.cfg.FailureThreshold {
		return false
	}
	return true
}

// decayLocked applies exponential decay since the last sample. Caller holds
// rec.mu.
func (rr *RoundRobin) decayLocked(rec *healthRecord, now time.Time) {
	if !rec.lastSample.IsZero() {
		dt := now.Sub(rec.lastSample)
		if dt > 0 {
			factor := math.Exp(-dt.Seconds() / rr.cfg.EvaluationWindow.Seconds())
			rec.successes *= factor
			rec.failures *= factor
		}
	}
	rec.lastSample = now
}

func (rr *RoundRobin) counter(serviceName string) *atomic.Uint32 {
	rr.mu.Lock()
	defer rr.mu.Unlock()
	c, ok := rr.counters[serviceName]
	if !ok {
		c = &atomic.Uint32{}
		rr.counters[serviceName] = c
	}
	return c
}

func (rr *RoundRobin) record(serviceID string) *healthRecord {
	rr.mu.Lock()
	defer rr.mu.Unlock()
	rec, ok := rr.health[serviceID]
	if !ok {
		rec = &healthRecord{}
		rr.health[serviceID] = rec
	}
	return rec
}
