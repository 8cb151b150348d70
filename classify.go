package modelmux

import (
	"errors"
	"strings"
)

// retryableStatus holds the non-5xx status codes that warrant switching
// backends. 401/403 are included deliberately: a rejected credential on one
// backend is no reason to fail the call when another backend may be
// configured correctly.
var retryableStatus = map[int]bool{
	401: true,
	403: true,
	408: true,
	409: true,
	413: true,
	429: true,
	498: true,
}

// retryableMarkers are matched case-insensitively against the error message
// when no status code is available.
var retryableMarkers = []string{
	"overloaded",
	"rate limit",
	"rate_limit",
	"ratelimit",
	"too many requests",
	"timeout",
	"service unavailable",
	"bad gateway",
	"internal server error",
	"gateway timeout",
	"invalid api key",
	"429",
	"500",
	"502",
	"503",
	"504",
}

// DefaultRetryable is the default error classifier: it reports whether a
// failure is transient or capacity-related and therefore eligible to trigger
// a backend switch. Errors it rejects are fatal and propagate immediately.
//
// If the error carries an HTTP status code (via StatusCoder), the code alone
// decides; otherwise the message is scanned for overload, rate-limit,
// timeout, and credential-misconfiguration markers.
func DefaultRetryable(err error) bool {
	if err == nil {
		return false
	}
	var sc StatusCoder
	if errors.As(err, &sc) {
		if code := sc.StatusCode(); code != 0 {
			return code >= 500 || retryableStatus[code]
		}
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range retryableMarkers {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}
