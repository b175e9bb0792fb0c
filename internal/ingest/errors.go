package ingest

import "errors"

// classifiedError tags a handler failure as permanent or transient. Only
// transient failures feed the retry path.
type classifiedError struct {
	err       error
	permanent bool
}

func (e *classifiedError) Error() string { return e.err.Error() }
func (e *classifiedError) Unwrap() error { return e.err }

// Transient marks err as retriable (downstream timeout, temporary outage).
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &classifiedError{err: err}
}

// Permanent marks err as terminal (business-rule rejection); the event fails
// immediately with no retries.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &classifiedError{err: err, permanent: true}
}

// IsPermanent reports whether err was marked permanent. Unclassified errors
// count as transient: a handler that forgot to classify gets the safer
// bounded-retry treatment.
func IsPermanent(err error) bool {
	var ce *classifiedError
	if errors.As(err, &ce) {
		return ce.permanent
	}
	return false
}
