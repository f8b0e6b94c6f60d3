// Package registry provides service registration and discovery for the
// SharpServer fabric.
//
// It defines the ServiceInstance model, the Registry contract
// (Register/Unregister/Discover/Get/Refresh on top of a TTL-leased KV
// store), and the provider factory through which backend adapters plug in.
//
// # Backends
//
//   - registry/redisreg: Redis-backed registry (value keys, name-scoped id
//     sets, reverse index, shared TTL)
//   - registry/etcdreg: etcd-backed registry (lease grant, puts under lease,
//     prefix range reads)
//   - registry/consulreg: Consul-backed registry (TTL checks, blocking
//     queries)
//
// The in-memory provider in this package serves tests and local development.
package registry
