package grpc

import (
	"crypto/tls"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/backoff"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/keepalive"

	"github.com/chao243/SharpServer/grpc/interceptor"
	"github.com/chao243/SharpServer/logger"
)

// NewConn creates a gRPC client channel to target. TLS with the system
// certificate pool is used when secure is true, plaintext otherwise.
// Connection establishment is lazy; the channel connects on first use.
func NewConn(target string, secure bool, cfg Config, log *logger.Logger) (*grpc.ClientConn, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("grpc client config: %w", err)
	}

	conn, err := grpc.NewClient(target, buildDialOptions(secure, cfg, log)...)
	if err != nil {
		return nil, fmt.Errorf("grpc: failed to create client for %s: %w", target, err)
	}

	log.Debug("gRPC channel created", map[string]interface{}{
		"target": target,
		"tls":    secure,
	})
	return conn, nil
}

// buildDialOptions assembles all gRPC dial options from config.
func buildDialOptions(secure bool, cfg Config, log *logger.Logger) []grpc.DialOption {
	var creds credentials.TransportCredentials
	if secure {
		creds = credentials.NewTLS(&tls.Config{MinVersion: tls.VersionTLS12})
	} else {
		creds = insecure.NewCredentials()
	}

	opts := []grpc.DialOption{
		grpc.WithTransportCredentials(creds),
		grpc.WithConnectParams(grpc.ConnectParams{
			Backoff:           backoff.DefaultConfig,
			MinConnectTimeout: cfg.ConnectTimeout,
		}),
		grpc.WithKeepaliveParams(keepalive.ClientParameters{
			Time:                cfg.Keepalive.Time,
			Timeout:             cfg.Keepalive.Timeout,
			PermitWithoutStream: cfg.Keepalive.PermitWithoutStream,
		}),
		grpc.WithDefaultCallOptions(
			grpc.MaxCallRecvMsgSize(cfg.MaxRecvMsgSize),
			grpc.MaxCallSendMsgSize(cfg.MaxSendMsgSize),
		),
	}

	// Unary interceptors: timeout, then logging.
	var unary []grpc.UnaryClientInterceptor
	if cfg.CallTimeout > 0 {
		unary = append(unary, interceptor.UnaryClientTimeoutInterceptor(cfg.CallTimeout))
	}
	unary = append(unary, interceptor.UnaryClientLoggingInterceptor(log))
	opts = append(opts, grpc.WithChainUnaryInterceptor(unary...))

	return opts
}
