// Package balancer provides client-side load balancing strategies for the
// SharpServer fabric.
//
// Two strategies implement the common Strategy contract:
//
//   - RoundRobin: per-service rotation over healthy instances, with
//     exponentially decayed success/failure tracking and a per-instance
//     circuit breaker.
//   - ConsistentHash: affinity-key routing over a ring of virtual nodes,
//     rebuilt lazily when the instance set changes.
//
// The strategy is chosen once at wiring time; both accept success/failure
// feedback so callers stay strategy-agnostic.
package balancer
