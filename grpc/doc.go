// Package grpc assembles client channels for the fabric's RPC transport.
//
// It builds grpc.ClientConn instances with keepalive, message-size limits,
// per-call timeout and logging interceptors, and TLS credentials when the
// target scheme requires them. The rpcclient pools own the channels this
// package creates.
package grpc
