// Package errors provides structured error handling for the RPC fabric.
//
// It defines FabricError, a typed error carrying a machine-readable code and
// a retryable flag, plus constructors for the error kinds surfaced by the
// fabric: missing instances, retryable and terminal transport failures,
// cancellation, registry I/O failures, and registration failures.
//
// The retryable flag is the only semantic distinction the fabric acts on;
// everything else is propagation.
package errors
