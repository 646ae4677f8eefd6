// Package cerr defines the error kinds the channel and its retry machinery
// classify against. Two base kinds exist: temporary errors are retry
// candidates, permanent errors surface to the caller. Consumer loss, stop and
// the two authentication failures are tagged refinements of those bases.
package cerr

import (
	"errors"
	"fmt"
)

// TemporaryError marks a failure worth retrying.
type TemporaryError struct {
	Err error
}

func (e *TemporaryError) Error() string { return e.Err.Error() }
func (e *TemporaryError) Unwrap() error { return e.Err }

// PermanentError marks a failure that must surface to the caller as is.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string { return e.Err.Error() }
func (e *PermanentError) Unwrap() error { return e.Err }

// ConsumerError signals that the server no longer recognises the consumer
// instance. It is temporary, but the retry driver never retries it locally:
// the run loop has to reset local state and create a fresh consumer.
type ConsumerError struct {
	Err error
}

func (e *ConsumerError) Error() string { return e.Err.Error() }
func (e *ConsumerError) Unwrap() error { return e.Err }

// StopError reports that an operation was abandoned because a stop was
// requested. It is permanent inside the retry driver; the run loop converts
// it to a clean exit at its boundary.
type StopError struct {
	Err error
}

func (e *StopError) Error() string { return e.Err.Error() }
func (e *StopError) Unwrap() error { return e.Err }

// PermanentAuthenticationError reports that the auth endpoint rejected the
// configured credentials.
type PermanentAuthenticationError struct {
	Err error
}

func (e *PermanentAuthenticationError) Error() string { return e.Err.Error() }
func (e *PermanentAuthenticationError) Unwrap() error { return e.Err }

// TemporaryAuthenticationError reports that the auth endpoint was unreachable
// or answered something unexpected.
type TemporaryAuthenticationError struct {
	Err error
}

func (e *TemporaryAuthenticationError) Error() string { return e.Err.Error() }
func (e *TemporaryAuthenticationError) Unwrap() error { return e.Err }

func Temporary(format string, args ...any) error {
	return &TemporaryError{Err: fmt.Errorf(format, args...)}
}

func Permanent(format string, args ...any) error {
	return &PermanentError{Err: fmt.Errorf(format, args...)}
}

func ConsumerLoss(format string, args ...any) error {
	return &ConsumerError{Err: fmt.Errorf(format, args...)}
}

func Stop(format string, args ...any) error {
	return &StopError{Err: fmt.Errorf(format, args...)}
}

func PermanentAuth(format string, args ...any) error {
	return &PermanentAuthenticationError{Err: fmt.Errorf(format, args...)}
}

func TemporaryAuth(format string, args ...any) error {
	return &TemporaryAuthenticationError{Err: fmt.Errorf(format, args...)}
}

// IsPermanent reports whether err carries any of the permanent tags. Untagged
// errors are not permanent: transport failures pass through the executor
// unchanged and stay retryable.
func IsPermanent(err error) bool {
	var pe *PermanentError
	var se *StopError
	var pa *PermanentAuthenticationError
	return errors.As(err, &pe) || errors.As(err, &se) || errors.As(err, &pa)
}

// IsTemporary reports whether err carries one of the temporary tags.
func IsTemporary(err error) bool {
	var te *TemporaryError
	var ce *ConsumerError
	var ta *TemporaryAuthenticationError
	return errors.As(err, &te) || errors.As(err, &ce) || errors.As(err, &ta)
}

// IsConsumerLoss reports whether err signals a lost server-side consumer.
func IsConsumerLoss(err error) bool {
	var ce *ConsumerError
	return errors.As(err, &ce)
}

// IsStop reports whether err was caused by a stop request.
func IsStop(err error) bool {
	var se *StopError
	return errors.As(err, &se)
}

// IsRetryable is the retry driver's gate: anything not explicitly permanent
// and not a consumer loss may be retried.
func IsRetryable(err error) bool {
	return err != nil && !IsPermanent(err) && !IsConsumerLoss(err)
}
