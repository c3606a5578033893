// Package apierrors defines the error taxonomy of spec.md §7 as distinct
// types rather than a shared error-code field, so call sites use errors.As
// instead of comparing strings. The teacher (execution_service.go's
// checkCriticalError, trend_analyzer.go's "-1121" check) compares raw
// Binance error-message substrings directly; that pattern is kept only at
// the Binance-API boundary, where the underlying error genuinely is a
// string from the exchange, and translated into these typed kinds before
// propagating past the Market Source.
package apierrors

import "fmt"

// TransportError wraps a REST/WebSocket failure. It is always recoverable
// locally by backoff and is never fatal to the engine.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string { return fmt.Sprintf("transport error during %s: %v", e.Op, e.Err) }
func (e *TransportError) Unwrap() error { return e.Err }

// GapDetected signals that the live feed missed one or more bars and gap
// repair must run. Attempt counts the repair attempts made so far.
type GapDetected struct {
	Interval       string
	FromOpenTimeMs int64
	ToOpenTimeMs   int64
	Attempt        int
}

func (e *GapDetected) Error() string {
	return fmt.Sprintf("gap detected on %s: (%d, %d] attempt=%d", e.Interval, e.FromOpenTimeMs, e.ToOpenTimeMs, e.Attempt)
}

// BadMessage is a malformed or unparseable wire message. The caller logs and
// drops it; the state machine does not advance.
type BadMessage struct {
	Raw string
	Err error
}

func (e *BadMessage) Error() string { return fmt.Sprintf("bad message: %v (raw=%q)", e.Err, e.Raw) }
func (e *BadMessage) Unwrap() error { return e.Err }

// InvariantViolated is returned by the matcher when an entry needs more than
// the available balance or the daily-loss limit is breached. The pipeline
// raises an alert and keeps running every strategy; no strategy is
// quarantined and no account is frozen by it.
type InvariantViolated struct {
	Strategy string
	Detail   string
}

func (e *InvariantViolated) Error() string {
	return fmt.Sprintf("invariant violated in strategy %s: %s", e.Strategy, e.Detail)
}

// StorageError wraps a DAO write/read failure. The DAO makes one attempt
// and does not retry; the pipeline raises an alert for each failure and
// keeps running on its in-memory state. Failed writes are not replayed once
// storage recovers.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string { return fmt.Sprintf("storage error during %s: %v", e.Op, e.Err) }
func (e *StorageError) Unwrap() error { return e.Err }

// SubscriberTimeout means a single fan-out subscriber failed to drain its
// queue within the send timeout; only that subscriber is closed.
type SubscriberTimeout struct {
	SubscriberID string
}

func (e *SubscriberTimeout) Error() string {
	return fmt.Sprintf("subscriber %s exceeded send timeout", e.SubscriberID)
}
