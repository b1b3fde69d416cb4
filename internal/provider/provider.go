// Package provider defines the upstream contract and its implementations.
//
// DESIGN: The gateway speaks to every upstream through one small interface.
// Execute is the only operation allowed to block on the network; it returns
// either a Response or a *ProviderError whose Retryable flag drives the
// fallback loop. The retryable / non-retryable split is load-bearing:
// provider-side state (rate limits, capacity, billing, 5xx, network) moves
// to the next model in the chain, client-side mistakes fail fast.
package provider

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/blockrun/blockrun-gateway/internal/catalog"
)

// Request is one upstream attempt.
type Request struct {
	// Model is the catalog id being attempted; the provider maps it to its
	// upstream name.
	Model string
	// Body is the outgoing JSON payload (stream already forced false).
	Body []byte
	// Header carries client headers worth forwarding; auth strategies add
	// credentials on top.
	Header http.Header
}

// Response is a successful upstream result. Body must be closed by the
// caller.
type Response struct {
	Status int
	Header http.Header
	Body   io.ReadCloser
}

// Error kinds, closed set.
const (
	KindNetwork  = "network"
	KindAuth     = "auth"
	KindRate     = "rate"
	KindCapacity = "capacity"
	KindBilling  = "billing"
	KindOther    = "other"
)

// ProviderError is a classified upstream failure.
type ProviderError struct {
	ProviderID string
	Status     int // 0 for network errors
	Body       []byte
	Kind       string
	Retryable  bool
	Err        error // underlying transport error, if any
}

func (e *ProviderError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("provider %s: %s: %v", e.ProviderID, e.Kind, e.Err)
	}
	return fmt.Sprintf("provider %s: %s (status %d)", e.ProviderID, e.Kind, e.Status)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// AuthStrategy attaches credentials to an outgoing request.
// Implementations derive headers per request; PrepareHeaders does not change
// strategy state.
type AuthStrategy interface {
	// PrepareHeaders mutates the outgoing request's headers.
	PrepareHeaders(req *http.Request) error
}

// AuthFailureHandler is the optional retry hook for payment-style auth:
// a 401/402 may be recoverable with fresh headers.
type AuthFailureHandler interface {
	// HandleAuthFailure inspects a failed response. When retryable is true
	// the attempt is repeated once with newHeaders layered on top.
	HandleAuthFailure(status int, body []byte) (retryable bool, newHeaders http.Header)
}

// Provider executes typed requests against one upstream.
type Provider interface {
	ID() string
	Priority() int

	// Initialize loads credentials. It must not block beyond a single
	// bounded handshake.
	Initialize(ctx context.Context) error

	// ListModels returns the provider's authoritative model list.
	ListModels() []catalog.Model

	// IsAvailable reports whether the provider serves a model id.
	IsAvailable(modelID string) bool

	// Execute performs the upstream call. The only networked operation.
	Execute(ctx context.Context, req *Request) (*Response, error)

	// EstimateCost predicts the USD cost of a request.
	EstimateCost(req *Request) float64

	// HealthCheck is non-authoritative; used for readiness reporting only.
	HealthCheck(ctx context.Context) bool

	Cleanup() error
}
