package embedding

import (
	"context"
	"errors"
	"fmt"
)

// ErrDimensionMismatch means the provider returned vectors of a different
// dimension than configured. This is a fatal configuration error (wrong model
// or wrong dimensions setting), never a transient one.
var ErrDimensionMismatch = errors.New("embedding dimension mismatch")

// ProviderError is an error returned by the embedding provider.
type ProviderError struct {
	Status    int    // HTTP status, 0 for transport errors
	Message   string // provider error body snippet
	Retryable bool   // quota/timeouts retry; malformed input does not
}

func (e *ProviderError) Error() string {
	if e.Status == 0 {
		return fmt.Sprintf("embedding provider: %s", e.Message)
	}
	return fmt.Sprintf("embedding provider: status %d: %s", e.Status, e.Message)
}

// IsRetryable reports whether err is worth retrying with backoff. Provider
// quota and server errors are retryable; malformed-input rejections and
// dimension mismatches are not. Context cancellation is treated as retryable
// on the ingestion path (the work is still valid, the attempt was cut short).
func IsRetryable(err error) bool {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Retryable
	}
	if errors.Is(err, ErrDimensionMismatch) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return true
	}
	return false
}
