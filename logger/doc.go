// Package logger provides structured logging for SharpServer services.
//
// It wraps rs/zerolog with service and component tagging, console and JSON
// output formats, and helpers for building structured field maps. All fabric
// packages (registry, balancer, rpcclient, agent) log through this package.
package logger
