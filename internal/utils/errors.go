package utils

import (
	"context"
	"errors"
	"net"
	"strings"
)

// IsTransientError reports whether a storage error is worth retrying.
// Timeouts, connection drops and serialization conflicts are transient;
// everything else is surfaced to the caller as-is.
func IsTransientError(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	transientFragments := []string{
		"connection refused",
		"connection reset",
		"broken pipe",
		"deadlock detected",
		"could not serialize access",
		"driver: bad connection",
	}

	msg := err.Error()
	for _, fragment := range transientFragments {
		if strings.Contains(msg, fragment) {
			return true
		}
	}
	return false
}
