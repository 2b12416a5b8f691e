// Package services defines the business logic for payments, scheduled
// payments, and bills. This file centralizes common service-level error
// values so that they can be consistently returned by service methods and
// checked by callers.
//
// These errors are intended for internal use by the service layer; translation
// into user-facing messages or HTTP status codes should be performed at the
// handler/controller layer.
package services

import "errors"

// Payment-related errors.
var (
	// ErrPaymentNotFound indicates that the requested payment does not exist.
	ErrPaymentNotFound = errors.New("payment not found")

	// ErrBillNotFound indicates that the referenced bill does not exist.
	ErrBillNotFound = errors.New("bill not found")

	// ErrCardTokenNotFound indicates that the supplied card token is unknown
	// to the tokenization store.
	ErrCardTokenNotFound = errors.New("card token not found")

	// ErrDuplicatePayment is returned when an idempotency key is already
	// bound to a payment with a different payload. A replay with an
	// identical payload is not an error; it returns the original response.
	ErrDuplicatePayment = errors.New("idempotency key already used with a different payload")

	// ErrInvalidAmount is returned when a payment amount is zero or negative.
	ErrInvalidAmount = errors.New("amount must be positive")

	// ErrInvalidCurrency is returned when the currency is not a known
	// ISO 4217 code.
	ErrInvalidCurrency = errors.New("unknown currency code")

	// ErrInvalidIdempotencyKey is returned when a caller-supplied key is
	// empty or exceeds the maximum length.
	ErrInvalidIdempotencyKey = errors.New("invalid idempotency key")

	// ErrPaymentNotAuthorized is returned when a capture is requested for a
	// payment that has no live authorization.
	ErrPaymentNotAuthorized = errors.New("payment not authorized")

	// ErrAlreadyProcessing is returned when an execution is requested for a
	// payment another worker is already executing.
	ErrAlreadyProcessing = errors.New("payment is already processing")

	// ErrScheduleNotFound indicates that the scheduled payment does not exist.
	ErrScheduleNotFound = errors.New("scheduled payment not found")

	// ErrInvalidSchedule is returned when a scheduled date is missing or in
	// the past at scheduling time.
	ErrInvalidSchedule = errors.New("scheduled date must be in the future")

	// ErrCardTokenRequired is returned when a scheduled order is submitted
	// without a card token. The batch executor runs unattended and has no way
	// to obtain one later.
	ErrCardTokenRequired = errors.New("card token required")
)
