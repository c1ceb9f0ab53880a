package entity

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Workflow errors
var (
	ErrWorkflowBusy     = errors.New("a provisioning attempt is already in flight")
	ErrWorkflowDisposed = errors.New("workflow has been disposed")
	ErrHandleConsumed   = errors.New("payment method handle has already been used")
	ErrMissingProfile   = errors.New("billing profile is required")
	ErrMissingCardInput = errors.New("card input is required")
)

// Payment errors
var (
	ErrPaymentDeclined    = errors.New("payment was declined")
	ErrInsufficientFunds  = errors.New("insufficient funds")
	ErrCardExpired        = errors.New("card has expired")
	ErrPaymentFailed      = errors.New("payment failed")
	ErrGatewayUnavailable = errors.New("payment gateway unavailable")
)

// Backend errors
var (
	ErrCustomerNotFound     = errors.New("customer not found")
	ErrSubscriptionNotFound = errors.New("subscription not found")
	ErrOrganizationNotFound = errors.New("organization not found")
)

// ValidationError carries a structured field -> messages map from a failed
// backend call. It is recoverable: the caller routes the messages onto form
// fields rather than aborting.
type ValidationError struct {
	Fields map[string][]string
}

func (e *ValidationError) Error() string {
	if len(e.Fields) == 0 {
		return "validation failed"
	}
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return fmt.Sprintf("validation failed: %s", strings.Join(keys, ", "))
}

// GatewayError is an error reported by the payment gateway or its SDK,
// carrying the gateway's own error code and, for declines, a decline code.
type GatewayError struct {
	Code        string
	DeclineCode string
	Message     string
	Err         error
}

func (e *GatewayError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("gateway error %s: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("gateway error %s", e.Code)
}

func (e *GatewayError) Unwrap() error { return e.Err }

// TransportError is a generic request failure (network error or an
// unexpected HTTP status). It is terminal for the current attempt; callers
// surface a flat message and wait for the user to resubmit.
type TransportError struct {
	Op         string
	StatusCode int
	Err        error
}

func (e *TransportError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s: unexpected status %d", e.Op, e.StatusCode)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }
