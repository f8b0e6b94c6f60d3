package interceptor

import (
	"context"
	"path"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/status"

	"github.com/chao243/SharpServer/logger"
)

// UnaryClientLoggingInterceptor returns a unary client interceptor that logs
// each RPC call with method, duration, and status.
func UnaryClientLoggingInterceptor(log *logger.Logger) grpc.UnaryClientInterceptor {
	return func(
		ctx context.Context,
		method string,
		req, reply interface{},
		cc *grpc.ClientConn,
		invoker grpc.UnaryInvoker,
		opts ...grpc.CallOption,
	) error {
		start := time.Now()
		err := invoker(ctx, method, req, reply, cc, opts...)

		fields := map[string]interface{}{
			"method":      path.Base(method),
			"duration_ms": time.Since(start).Milliseconds(),
			"target":      cc.Target(),
		}

		if err != nil {
			st := status.Convert(err)
			fields["status"] = st.Code().String()
			fields["error"] = st.Message()
			log.Debug("gRPC call failed", fields)
		} else {
			fields["status"] = "OK"
			log.Debug("gRPC call completed", fields)
		}

		return err
	}
}
