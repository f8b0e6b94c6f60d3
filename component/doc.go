// Package component defines the lifecycle contract shared by the fabric's
// long-running pieces: the registration agent and the RPC client manager. Hosts start and stop them uniformly and poll
// health through the same interface.
package component
