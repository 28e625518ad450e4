package breaker

import (
	"errors"
	"fmt"
	"time"
)

// OpenError is returned when admission is rejected because the circuit is
// open (or the half-open probe budget is exhausted). RetryAfter tells the
// caller how long to wait before the breaker will consider probing again.
type OpenError struct {
	Dependency string
	RetryAfter time.Duration
}

func (e *OpenError) Error() string {
	return fmt.Sprintf("circuit open for dependency %q, retry after %s", e.Dependency, e.RetryAfter)
}

// IsOpen reports whether err is a circuit-open rejection.
func IsOpen(err error) bool {
	var oe *OpenError
	return errors.As(err, &oe)
}
