package agent

import (
	"errors"
	"fmt"
	"strings"
)

// Errors local to a single tool call. The agent recovers from these by
// turning them into a tool-role error message; the run continues.
var (
	ErrToolNotFound     = errors.New("tool not found")
	ErrToolBlocked      = errors.New("tool is blocked")
	ErrToolNotAllowed   = errors.New("tool is not in the allowed set")
	ErrToolRateLimited  = errors.New("tool rate limit exceeded")
	ErrInvalidArguments = errors.New("invalid tool arguments")
)

// ErrTimeout marks a backend request or run that lost its race against the
// configured timeout.
var ErrTimeout = errors.New("operation timed out")

// ProviderError wraps a transport or API failure from the model backend.
// These are retried with exponential backoff and become fatal to the run
// once retries are exhausted.
type ProviderError struct {
	Provider string
	Err      error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("provider %s: %v", e.Provider, e.Err)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// IsRetryableError reports whether a backend failure is worth retrying.
func IsRetryableError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrTimeout) {
		return true
	}

	msg := err.Error()

	// Network errors
	if strings.Contains(msg, "connection reset") || strings.Contains(msg, "timeout") ||
		strings.Contains(msg, "ECONNRESET") || strings.Contains(msg, "ETIMEDOUT") {
		return true
	}

	// Rate limits
	if strings.Contains(msg, "429") || strings.Contains(msg, "rate limit") {
		return true
	}

	// Server errors
	for _, code := range []string{"500", "502", "503", "504"} {
		if strings.Contains(msg, code) {
			return true
		}
	}

	return false
}
