package ioreactor

import (
	"errors"
	"fmt"
)

// Sentinel errors for the error-handling table, checked with errors.Is the
// way the teacher declares ErrLoopAlreadyRunning, ErrLoopTerminated, and
// friends as package-level errors.New values.
var (
	// ErrNoFreeConnections is returned by Pool.Get when the freelist is
	// empty and a reclamation pass against the reusable LRU also failed.
	ErrNoFreeConnections = errors.New("ioreactor: no free connections")

	// ErrBackendUnsupported is returned by a Backend's Init on platforms
	// with no concrete edge-triggered implementation wired up.
	ErrBackendUnsupported = errors.New("ioreactor: readiness backend unsupported on this platform")

	// ErrAcceptMutexHeld is returned by acceptMutex.TryLock when another
	// worker currently holds the lock.
	ErrAcceptMutexHeld = errors.New("ioreactor: accept mutex held by another worker")

	// ErrReactorClosed is returned by operations attempted after Close or
	// GracefulShutdown has completed.
	ErrReactorClosed = errors.New("ioreactor: reactor closed")

	// ErrListenFailed names a listen-time configuration error. Listener.Open
	// does not wrap it; Open wraps the underlying syscall error instead.
	ErrListenFailed = errors.New("ioreactor: listen failed")

	// ErrInvalidHandle is returned when a handle does not resolve to a live
	// connection slot.
	ErrInvalidHandle = errors.New("ioreactor: stale or invalid handle")

	// ErrTimerNotFound names a delete of an untracked timer. The timer
	// index does not return it: DelTimer on an untracked event is a no-op.
	ErrTimerNotFound = errors.New("ioreactor: timer not found")
)

// LogPolicy controls how a Connection's I/O failures are reported, mirroring
// nginx's per-connection log_error directive values.
type LogPolicy uint8

const (
	LogPolicyAlert LogPolicy = iota
	LogPolicyError
	LogPolicyInfo
	LogPolicyIgnoreConnReset
	LogPolicyIgnoreInval
)

// WrapError wraps an error with a message, preserving it for errors.Is /
// errors.As matching against the sentinel values above.
func WrapError(message string, cause error) error {
	return fmt.Errorf("%s: %w", message, cause)
}
