// Upstream failure classification.
package provider

import (
	"bytes"
	"net/http"
)

// providerErrorPatterns mark response bodies that reflect provider-side
// state even when the status alone is ambiguous.
var providerErrorPatterns = [][]byte{
	[]byte("rate limit"),
	[]byte("rate_limit"),
	[]byte("billing"),
	[]byte("insufficient_quota"),
	[]byte("quota exceeded"),
	[]byte("overloaded"),
	[]byte("capacity"),
	[]byte("model unavailable"),
	[]byte("model_not_available"),
	[]byte("temporarily unavailable"),
}

// Classify maps an upstream status + body to an error kind and retryability.
func Classify(status int, body []byte) (kind string, retryable bool) {
	lower := bytes.ToLower(body)

	switch {
	case status == http.StatusTooManyRequests:
		return KindRate, true
	case status >= 500:
		return KindCapacity, true
	case status == http.StatusPaymentRequired:
		return KindBilling, true
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return KindAuth, false
	}

	for _, p := range providerErrorPatterns {
		if bytes.Contains(lower, p) {
			if bytes.Contains(lower, []byte("billing")) || bytes.Contains(lower, []byte("quota")) {
				return KindBilling, true
			}
			if bytes.Contains(lower, []byte("rate")) {
				return KindRate, true
			}
			return KindCapacity, true
		}
	}

	return KindOther, false
}

// NewNetworkError wraps a transport failure as a retryable provider error.
func NewNetworkError(providerID string, err error) *ProviderError {
	return &ProviderError{
		ProviderID: providerID,
		Kind:       KindNetwork,
		Retryable:  true,
		Err:        err,
	}
}
