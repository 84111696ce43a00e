package retry

import (
	"errors"
	"net"
	"syscall"
)

// statusCoder is satisfied by errors carrying an HTTP-like status, such as
// the model provider's API errors.
type statusCoder interface {
	HTTPStatus() int
}

// categorized is satisfied by errors carrying a provider error category
// (e.g. "rate_limit_error").
type categorized interface {
	ErrorCategory() string
}

// retryableStatuses are the HTTP-like statuses treated as transient.
// 529 is the provider's "overloaded" status.
var retryableStatuses = map[int]bool{
	429: true,
	500: true,
	502: true,
	503: true,
	504: true,
	529: true,
}

// retryableCategories are provider error categories treated as transient.
var retryableCategories = map[string]bool{
	"rate_limit_error": true,
	"overloaded_error": true,
	"api_error":        true,
}

// DefaultRetryable classifies an error as transient or permanent.
//
// Transient: rate limiting and upstream 5xx statuses, provider rate-limit /
// overloaded / generic API-error categories, and common network failures
// (timeouts, connection reset, connection refused). Permanent: 400, 401,
// 403, 404, and anything not explicitly classified as transient.
func DefaultRetryable(err error) bool {
	if err == nil {
		return false
	}

	if status, ok := httpStatus(err); ok {
		if retryableStatuses[status] {
			return true
		}
		switch status {
		case 400, 401, 403, 404:
			return false
		}
	}

	var cat categorized
	if errors.As(err, &cat) && retryableCategories[cat.ErrorCategory()] {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	if errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.ECONNREFUSED) {
		return true
	}

	return false
}

// httpStatus extracts an HTTP-like status code if the error carries one.
func httpStatus(err error) (int, bool) {
	var sc statusCoder
	if errors.As(err, &sc) {
		return sc.HTTPStatus(), true
	}
	return 0, false
}
