package billing

import (
	"log/slog"
	"time"
)

// ServiceOption configures a Service instance.
type ServiceOption func(*service)

// WithLogger sets the logger used by the service.
func WithLogger(log *slog.Logger) ServiceOption {
	return func(s *service) {
		if log != nil {
			s.log = log
		}
	}
}

// WithInvoiceEvents wires the handler that receives invoice payment outcomes
// from gateway webhooks. Without it, invoice events are logged and skipped.
func WithInvoiceEvents(h InvoiceEventHandler) ServiceOption {
	return func(s *service) {
		if h != nil {
			s.invoiceEvents = h
		}
	}
}

// WithEventDedup enables webhook replay protection backed by the given store.
// TTL bounds how long event IDs are remembered; gateway redelivery windows
// are typically measured in days.
func WithEventDedup(store ProcessedEventStore, ttl time.Duration) ServiceOption {
	return func(s *service) {
		if store != nil {
			s.events = store
		}
		if ttl > 0 {
			s.eventTTL = ttl
		}
	}
}

// WithGatewayTimeout bounds individual payment gateway calls.
func WithGatewayTimeout(d time.Duration) ServiceOption {
	return func(s *service) {
		if d > 0 {
			s.gatewayTimeout = d
		}
	}
}

// WithClock overrides the time source. Intended for tests.
func WithClock(now func() time.Time) ServiceOption {
	return func(s *service) {
		if now != nil {
			s.now = now
		}
	}
}
