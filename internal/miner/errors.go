package miner

import (
	"errors"
	"fmt"
)

// Domain errors for the miner API package.
var (
	// ErrNotConnected is returned when an operation requires an open
	// connection but the transport is closed.
	ErrNotConnected = errors.New("miner: not connected")

	// ErrConnectionFailed is returned when the TCP connection to the
	// miner cannot be established. It is a distinct category from
	// protocol errors: callers typically wait for the next polling
	// cycle rather than entering the protocol retry loop.
	ErrConnectionFailed = errors.New("miner: connection failed")

	// ErrInvalidEndpoint is returned when a host:port specification
	// cannot be parsed or lacks a port.
	ErrInvalidEndpoint = errors.New("miner: invalid endpoint")

	// ErrSocketException is returned when the socket reports an
	// exceptional condition during a readiness poll. This should not
	// occur in practice with the cgminer protocol family.
	ErrSocketException = errors.New("miner: exceptional condition on socket")

	// ErrBadResponse is returned when a response cannot be decoded or
	// does not have the shape the protocol requires.
	ErrBadResponse = errors.New("miner: malformed response")
)

// RetryKind classifies a device-reported error for retry handling.
type RetryKind int

const (
	// KindFatal marks errors that must never be retried. The caller is
	// expected to abort the current operation.
	KindFatal RetryKind = iota

	// KindWarning marks degraded-but-usable conditions, such as an
	// unrecognized success code. Not retried; data is still returned.
	KindWarning

	// KindRetryShort marks transient busy/not-ready conditions.
	// Retry after a brief, linearly growing pause.
	KindRetryShort

	// KindRetryLong marks disconnected-device or empty-response
	// conditions. Retry after a longer pause.
	KindRetryLong
)

// String returns the lowercase name of the retry kind.
func (k RetryKind) String() string {
	switch k {
	case KindFatal:
		return "fatal"
	case KindWarning:
		return "warning"
	case KindRetryShort:
		return "retry_short"
	case KindRetryLong:
		return "retry_long"
	default:
		return fmt.Sprintf("RetryKind(%d)", int(k))
	}
}

// MinerError is a device or protocol error tagged with a retry
// classification. It is both an error value and a control-flow signal:
// the executor inspects Kind to decide between aborting and backing off.
type MinerError struct {
	// Kind is the retry classification of this error.
	Kind RetryKind

	// Message describes the failure, usually including the device's
	// own error text.
	Message string
}

// Error implements the error interface.
func (e *MinerError) Error() string {
	return fmt.Sprintf("miner: %s (%s)", e.Message, e.Kind)
}

// IsRetryable reports whether the executor may retry after this error.
func (e *MinerError) IsRetryable() bool {
	return e.Kind == KindRetryShort || e.Kind == KindRetryLong
}

// IsFatal reports whether this error must abort the operation.
func (e *MinerError) IsFatal() bool {
	return e.Kind == KindFatal
}

// IsWarning reports whether this error is only advisory.
func (e *MinerError) IsWarning() bool {
	return e.Kind == KindWarning
}

// newMinerError builds a MinerError with a formatted message.
func newMinerError(kind RetryKind, format string, args ...any) *MinerError {
	return &MinerError{
		Kind:    kind,
		Message: fmt.Sprintf(format, args...),
	}
}
