package razorpay

import (
	"errors"
	"fmt"
)

// Kind classifies a failed gateway call.
type Kind int

const (
	// KindUnknown is reported for errors that did not come from this package.
	KindUnknown Kind = iota
	// KindMalformedResponse means the gateway answered with a body that is not a usable order.
	KindMalformedResponse
	// KindUpstreamStatus means the gateway answered with a non-2xx status.
	KindUpstreamStatus
	// KindTimeout means the call did not complete within the configured timeout.
	KindTimeout
	// KindTransport covers connection failures and an open circuit breaker.
	KindTransport
)

func (k Kind) String() string {
	switch k {
	case KindMalformedResponse:
		return "malformed_response"
	case KindUpstreamStatus:
		return "upstream_status"
	case KindTimeout:
		return "timeout"
	case KindTransport:
		return "transport"
	default:
		return "unknown"
	}
}

// GatewayError describes a failed order-creation call. Description is the
// gateway's own error.description and is safe to show to shoppers; Body and
// Err are for server-side logs only.
type GatewayError struct {
	Kind        Kind
	Status      int
	Code        string
	Description string
	Body        string
	Err         error
}

func (e *GatewayError) Error() string {
	switch {
	case e.Err != nil:
		return fmt.Sprintf("razorpay %s (status %d): %v", e.Kind, e.Status, e.Err)
	case e.Description != "":
		return fmt.Sprintf("razorpay %s (status %d): %s", e.Kind, e.Status, e.Description)
	default:
		return fmt.Sprintf("razorpay %s (status %d)", e.Kind, e.Status)
	}
}

func (e *GatewayError) Unwrap() error { return e.Err }

// KindOf extracts the Kind from err, or KindUnknown.
func KindOf(err error) Kind {
	var gwErr *GatewayError
	if errors.As(err, &gwErr) {
		return gwErr.Kind
	}
	return KindUnknown
}
