package reasoning

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// RetryClass indicates whether a backend error should be retried.
type RetryClass string

const (
	RetryClassRetryable    RetryClass = "retryable"
	RetryClassMaybe        RetryClass = "maybe" // retry with a tighter attempt cap
	RetryClassNonRetryable RetryClass = "non_retryable"
)

// BackendError wraps a provider error with classification metadata.
type BackendError struct {
	Err        error
	Class      RetryClass
	HTTPStatus int
	RetryAfter string // Retry-After header value if present
}

func (e *BackendError) Error() string {
	if e.Err != nil {
		return e.Err.Error()
	}
	return fmt.Sprintf("backend error: %s", e.Class)
}

func (e *BackendError) Unwrap() error {
	return e.Err
}

// Classify buckets a provider error into a retry class. Providers return
// opaque errors, so classification is by status code and message content.
func Classify(err error) RetryClass {
	if err == nil {
		return RetryClassNonRetryable
	}

	var be *BackendError
	if errors.As(err, &be) && be.Class != "" {
		return be.Class
	}

	errStr := strings.ToLower(err.Error())

	// Rate limits and server errors: retryable.
	if strings.Contains(errStr, "429") ||
		strings.Contains(errStr, "rate limit") ||
		strings.Contains(errStr, "too many requests") ||
		strings.Contains(errStr, "500") ||
		strings.Contains(errStr, "502") ||
		strings.Contains(errStr, "503") ||
		strings.Contains(errStr, "504") ||
		strings.Contains(errStr, "internal server error") ||
		strings.Contains(errStr, "bad gateway") ||
		strings.Contains(errStr, "service unavailable") ||
		strings.Contains(errStr, "gateway timeout") {
		return RetryClassRetryable
	}

	// Network failures: retryable.
	if strings.Contains(errStr, "timeout") ||
		strings.Contains(errStr, "connection reset") ||
		strings.Contains(errStr, "connection refused") ||
		strings.Contains(errStr, "no such host") ||
		strings.Contains(errStr, "temporary failure") {
		return RetryClassRetryable
	}

	// Deadline expiry: limited retries only.
	if strings.Contains(errStr, "deadline exceeded") ||
		strings.Contains(errStr, "context length") ||
		strings.Contains(errStr, "token limit") {
		return RetryClassMaybe
	}

	// Auth, bad request, quota: never retry.
	if strings.Contains(errStr, "401") ||
		strings.Contains(errStr, "403") ||
		strings.Contains(errStr, "unauthorized") ||
		strings.Contains(errStr, "forbidden") ||
		strings.Contains(errStr, "invalid api key") ||
		strings.Contains(errStr, "400") ||
		strings.Contains(errStr, "bad request") ||
		strings.Contains(errStr, "quota") ||
		strings.Contains(errStr, "billing") {
		return RetryClassNonRetryable
	}

	return RetryClassNonRetryable
}

// wrapProviderError attaches classification so retry logic need not
// re-parse the message on every attempt.
func wrapProviderError(err error, httpStatus int, retryAfter string) error {
	if err == nil {
		return nil
	}
	return &BackendError{
		Err:        err,
		Class:      Classify(err),
		HTTPStatus: httpStatus,
		RetryAfter: retryAfter,
	}
}

// retryAfterHint extracts a provider-supplied wait duration, if any.
func retryAfterHint(err error) time.Duration {
	var be *BackendError
	if errors.As(err, &be) && be.RetryAfter != "" {
		var seconds int
		if _, serr := fmt.Sscanf(be.RetryAfter, "%d", &seconds); serr == nil {
			return time.Duration(seconds) * time.Second
		}
		if t, terr := time.Parse(time.RFC1123, be.RetryAfter); terr == nil {
			if now := time.Now(); t.After(now) {
				return t.Sub(now)
			}
		}
	}
	return 0
}

// RetryExhaustedError indicates all retry attempts were consumed.
type RetryExhaustedError struct {
	LastErr  error
	Attempts int
}

func (e *RetryExhaustedError) Error() string {
	return fmt.Sprintf("retries exhausted after %d attempts: %v", e.Attempts, e.LastErr)
}

func (e *RetryExhaustedError) Unwrap() error {
	return e.LastErr
}

// IsRetryExhausted reports whether err is a RetryExhaustedError.
func IsRetryExhausted(err error) bool {
	var re *RetryExhaustedError
	return errors.As(err, &re)
}
