package invoice

import "errors"

var (
	ErrInvoiceNotFound     = errors.New("invoice not found")
	ErrInvoiceAlreadyPaid  = errors.New("invoice already paid")
	ErrNoProviderReference = errors.New("invoice has no payment gateway reference")
	ErrInvalidPeriod       = errors.New("invalid billing period")
)
