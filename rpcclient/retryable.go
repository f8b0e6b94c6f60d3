package rpcclient

import (
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/chao243/SharpServer/errors"
)

// retryableCodes is the exact transport status whitelist the fabric retries.
// Every other status is terminal.
var retryableCodes = map[codes.Code]bool{
	codes.Unavailable:       true,
	codes.DeadlineExceeded:  true,
	codes.ResourceExhausted: true,
	codes.Aborted:           true,
	codes.Internal:          true,
}

// isRetryable reports whether err warrants another attempt. Fabric errors
// carry their own retryable flag; transport errors are classified by their
// gRPC status code.
func isRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.CodeOf(err) != "" {
		return errors.IsRetryable(err)
	}
	if st, ok := status.FromError(err); ok {
		return retryableCodes[st.Code()]
	}
	return false
}
