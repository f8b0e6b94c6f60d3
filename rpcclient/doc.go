// Package rpcclient manages resilient RPC calls against a discovered fleet.
//
// A Manager owns one connection pool per back-end instance and exposes
// Execute/Invoke primitives that run discover -> select -> rent -> invoke ->
// record with bounded exponential backoff. Transient transport statuses are
// retried against a freshly selected instance; everything else propagates
// immediately. A background reconciler drops pools for instances that left
// the registry.
package rpcclient
