package ingest

import "errors"

// PermanentError marks a failure that retrying cannot fix. The runner sends
// jobs that fail with one straight to their terminal error status instead of
// requeuing them.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string { return e.Err.Error() }

func (e *PermanentError) Unwrap() error { return e.Err }

// Permanent wraps err so the runner will not retry it. Wrapping nil returns nil.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}

// IsPermanent reports whether any error in the chain is marked permanent.
func IsPermanent(err error) bool {
	var pe *PermanentError
	return errors.As(err, &pe)
}

// ThrottledError marks a failure caused by an exhausted quota window. The
// runner returns such jobs to the queue without charging an attempt; the
// next window clears the condition.
type ThrottledError struct {
	Err error
}

func (e *ThrottledError) Error() string { return e.Err.Error() }

func (e *ThrottledError) Unwrap() error { return e.Err }

// Throttled wraps err so the runner defers the job instead of counting a
// failed attempt. Wrapping nil returns nil.
func Throttled(err error) error {
	if err == nil {
		return nil
	}
	return &ThrottledError{Err: err}
}

// IsThrottled reports whether any error in the chain is a quota deferral.
func IsThrottled(err error) bool {
	var te *ThrottledError
	return errors.As(err, &te)
}
