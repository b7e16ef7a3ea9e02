package retry

import (
	"errors"
	"fmt"
	"net/http"
)

// HTTPStatusError carries the status code of a failed vendor call so the
// retry loop can classify it.
type HTTPStatusError struct {
	StatusCode int
	Endpoint   string
	Body       string
}

func (e *HTTPStatusError) Error() string {
	if e.Body != "" {
		return fmt.Sprintf("%s returned HTTP %d: %s", e.Endpoint, e.StatusCode, e.Body)
	}
	return fmt.Sprintf("%s returned HTTP %d", e.Endpoint, e.StatusCode)
}

// Retryable reports whether the status code is worth retrying: 429 and 5xx
// are; everything else in the 4xx range is a caller error.
func (e *HTTPStatusError) Retryable() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// IsRateLimit reports whether the status is an HTTP 429.
func (e *HTTPStatusError) IsRateLimit() bool {
	return e.StatusCode == http.StatusTooManyRequests
}

// IsAuthError reports whether the status is an HTTP 401 or 403.
func (e *HTTPStatusError) IsAuthError() bool {
	return e.StatusCode == http.StatusUnauthorized || e.StatusCode == http.StatusForbidden
}

// IsRateLimit reports whether the error is an HTTP 429.
func IsRateLimit(err error) bool {
	var httpErr *HTTPStatusError
	return errors.As(err, &httpErr) && httpErr.StatusCode == http.StatusTooManyRequests
}

// IsAuthError reports whether the error is an HTTP 401 or 403.
func IsAuthError(err error) bool {
	var httpErr *HTTPStatusError
	if !errors.As(err, &httpErr) {
		return false
	}
	return httpErr.StatusCode == http.StatusUnauthorized || httpErr.StatusCode == http.StatusForbidden
}
