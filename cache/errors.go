package cache

import "fmt"

// Reason classifies the failure kinds a CacheError can carry. They
// correspond to the taxonomy in the engine's error-handling design:
// everything that is not a verbatim producer error.
type Reason int

const (
	// ReasonCallbackFailure means the producer panicked; the owner's own
	// caller observes the re-raised panic, and every waiter receives a
	// CacheError with this reason instead.
	ReasonCallbackFailure Reason = iota
	// ReasonOwnerFailure means the owner's context concluded before it
	// released — the owner vanished without fulfilling its obligation.
	ReasonOwnerFailure
	// ReasonRetryFailure means a waiter re-checked the Store after a
	// successful production and still found the key absent, most likely
	// because it was purged between insertion and the re-check. The owner
	// itself returns its produced value and never re-checks.
	ReasonRetryFailure
	// ReasonCoordinatorTimeout means a waiter gave up waiting for the
	// owner's release after AcquireTimeout — a safety net, not an expected
	// outcome.
	ReasonCoordinatorTimeout
)

func (r Reason) String() string {
	switch r {
	case ReasonCallbackFailure:
		return "callback_failure"
	case ReasonOwnerFailure:
		return "owner_failure"
	case ReasonRetryFailure:
		return "retry_failure"
	case ReasonCoordinatorTimeout:
		return "coordinator_timeout"
	default:
		return "unknown"
	}
}

// CacheError is the engine's own synthesized error, as distinct from an
// error returned verbatim by a producer. Cause holds the recovered panic
// value for ReasonCallbackFailure; it is nil for the other reasons.
type CacheError struct {
	Reason Reason
	Cause  any
}

func (e *CacheError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("cache: %s: %v", e.Reason, e.Cause)
	}
	return fmt.Sprintf("cache: %s", e.Reason)
}

// errRetry is the internal "re-consult the Store" sentinel delivered to
// waiters after a successful production, per the engine's retry-sentinel
// design: waiters never receive the literal produced value directly, so
// that a value purged between insertion and delivery is visible as an
// explicit, testable retry_failure rather than silently returning stale
// or zero data.
var errRetry = &retrySentinel{}

type retrySentinel struct{}

func (*retrySentinel) Error() string { return "cache: retry" }

func isRetry(err error) bool {
	_, ok := err.(*retrySentinel)
	return ok
}
