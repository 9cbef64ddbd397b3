package domain

import "errors"

var (
	ErrInvalidAmount      = errors.New("invalid_amount")
	ErrInvalidCurrency    = errors.New("invalid_currency")
	ErrInvalidAction      = errors.New("invalid_action")
	ErrInvalidTransition  = errors.New("invalid_transition")
	ErrInvalidPaymentID   = errors.New("invalid_payment_id")
	ErrPaymentNotFound    = errors.New("payment_not_found")
	ErrMissingExternalID  = errors.New("missing_external_id")
	ErrStatusConflict     = errors.New("status_conflict")
	ErrInvalidSignature   = errors.New("invalid_signature")
	ErrInvalidPayload     = errors.New("invalid_payload")
	ErrInvalidProvider    = errors.New("invalid_provider")
	ErrProviderNotFound   = errors.New("provider_not_found")
	ErrInvalidConfig      = errors.New("invalid_config")
	ErrListingUnsupported = errors.New("listing_unsupported")
	ErrAdapterTimeout     = errors.New("adapter_timeout")
	ErrUnsupportedAction  = errors.New("unsupported_action")
)
