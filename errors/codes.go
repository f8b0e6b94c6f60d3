package errors

// ErrorCode represents a machine-readable error code.
type ErrorCode string

// Error codes surfaced by the fabric.
const (
	// ErrCodeNoAvailableInstance indicates discovery returned no usable instance.
	ErrCodeNoAvailableInstance ErrorCode = "NO_AVAILABLE_INSTANCE"
	// ErrCodeTransportRetryable indicates a transient transport failure.
	ErrCodeTransportRetryable ErrorCode = "TRANSPORT_RETRYABLE"
	// ErrCodeTransportTerminal indicates a transport failure that must not be retried.
	ErrCodeTransportTerminal ErrorCode = "TRANSPORT_TERMINAL"
	// ErrCodeCancelled indicates the caller cancelled the operation.
	ErrCodeCancelled ErrorCode = "CANCELLED"
	// ErrCodeRegistryIO indicates a registry backend failure.
	ErrCodeRegistryIO ErrorCode = "REGISTRY_IO"
	// ErrCodeRegistrationFailure indicates a registration agent failure.
	ErrCodeRegistrationFailure ErrorCode = "REGISTRATION_FAILURE"
)

var retryableCodes = map[ErrorCode]bool{
	ErrCodeTransportRetryable: true,
	ErrCodeRegistryIO:         true,
}

// IsRetryableCode reports whether the given code is retryable.
func IsRetryableCode(code ErrorCode) bool {
	return retryableCodes[code]
}
