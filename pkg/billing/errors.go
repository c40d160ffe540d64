package billing

import (
	"errors"
	"fmt"
)

var (
	ErrSubscriptionNotFound = errors.New("subscription not found")
	ErrSubscriptionExists   = errors.New("active subscription already exists")
	ErrSubscriptionTerminal = errors.New("subscription is in a terminal state")
	ErrSamePlan             = errors.New("subscription already on requested plan")
	ErrInvalidInput         = errors.New("invalid input")

	ErrGateway                   = errors.New("payment gateway error")
	ErrWebhookVerificationFailed = errors.New("webhook signature verification failed")
	ErrUnknownWebhookEvent       = errors.New("unknown webhook event")
)

// GatewayError wraps a payment processor failure with the processor's
// error code and message. It unwraps to ErrGateway so callers can match
// with errors.Is without caring about the concrete processor.
type GatewayError struct {
	Op      string // gateway operation that failed, e.g. "create_customer"
	Code    string
	Message string
	Cause   error
}

func (e *GatewayError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("gateway %s failed: %s (%s)", e.Op, e.Message, e.Code)
	}
	return fmt.Sprintf("gateway %s failed: %s", e.Op, e.Message)
}

func (e *GatewayError) Unwrap() []error {
	if e.Cause != nil {
		return []error{ErrGateway, e.Cause}
	}
	return []error{ErrGateway}
}

func newGatewayError(op string, cause error) *GatewayError {
	msg := "unknown error"
	if cause != nil {
		msg = cause.Error()
	}
	return &GatewayError{Op: op, Message: msg, Cause: cause}
}
