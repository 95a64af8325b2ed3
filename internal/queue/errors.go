package queue

import "errors"

// permanentError marks failures no redelivery can fix: malformed payloads,
// missing records, unreadable input. Consumers route these to the
// dead-letter channel instead of retrying.
type permanentError struct {
	err error
}

func (e permanentError) Error() string { return e.err.Error() }
func (e permanentError) Unwrap() error { return e.err }

func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return permanentError{err: err}
}

func IsPermanent(err error) bool {
	var p permanentError
	return errors.As(err, &p)
}
