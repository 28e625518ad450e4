package supervisor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"syscall"
)

// DependencyError is a classified failure from an external service. A zero
// StatusCode means the request never produced an HTTP response (connection
// failure).
type DependencyError struct {
	Dependency string
	StatusCode int
	Message    string
}

func (e *DependencyError) Error() string {
	if e.StatusCode == 0 {
		return fmt.Sprintf("dependency %q: %s", e.Dependency, e.Message)
	}

	return fmt.Sprintf("dependency %q returned status %d: %s", e.Dependency, e.StatusCode, e.Message)
}

// Transient reports whether err is worth retrying: timeouts, connection
// failures, and 5xx responses qualify; user cancellation and 4xx rejections
// never do.
func Transient(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, context.Canceled) {
		return false
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var depErr *DependencyError
	if errors.As(err, &depErr) {
		return depErr.StatusCode == 0 || depErr.StatusCode >= 500
	}

	if errors.Is(err, syscall.ECONNRESET) || errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}

	var netErr net.Error
	return errors.As(err, &netErr)
}

// IsFailure classifies errors for breaker accounting. Cancellation and
// non-transient dependency rejections (the 4xx, model-not-found class)
// must not erode an otherwise healthy dependency's budget.
func IsFailure(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, context.Canceled) {
		return false
	}

	var depErr *DependencyError
	if errors.As(err, &depErr) && depErr.StatusCode >= 400 && depErr.StatusCode < 500 {
		return false
	}

	return true
}
