package transcribe

import (
	"errors"
	"fmt"
)

// TransientError marks an ASR failure worth retrying: timeouts, transport
// errors, rate limiting, server-side 5xx. Anything else is permanent and
// exhausts the segment immediately.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("transient: %v", e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// Transient reports whether err should be retried.
func Transient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}
