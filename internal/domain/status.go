// Package domain – payment status state machine.
//
// The transition table below is the single source of truth for legal payment
// status changes. Every component that needs to move a payment forward calls
// ValidateTransition before persisting; an illegal pair is rejected before
// any database write happens.
package domain

import "fmt"

// PaymentStatus is the closed set of payment lifecycle states.
type PaymentStatus string

// Payment lifecycle states.
const (
	StatusCreated         PaymentStatus = "CREATED"
	StatusScheduled       PaymentStatus = "SCHEDULED"
	StatusApprovalPending PaymentStatus = "APPROVAL_PENDING"
	StatusApproved        PaymentStatus = "APPROVED"
	StatusRejected        PaymentStatus = "REJECTED"
	StatusProcessing      PaymentStatus = "PROCESSING"
	StatusSuccess         PaymentStatus = "SUCCESS"
	StatusFailed          PaymentStatus = "FAILED"
	StatusCancelled       PaymentStatus = "CANCELLED"
	// Acquirer-side states reached through the outbox dispatcher.
	StatusAuthorized PaymentStatus = "AUTHORIZED"
	StatusCaptured   PaymentStatus = "CAPTURED"
)

// AllPaymentStatuses lists every state; exhaustive transition tests iterate
// over this slice.
var AllPaymentStatuses = []PaymentStatus{
	StatusCreated, StatusScheduled, StatusApprovalPending, StatusApproved,
	StatusRejected, StatusProcessing, StatusSuccess, StatusFailed,
	StatusCancelled, StatusAuthorized, StatusCaptured,
}

// allowedTransitions maps each source state to its legal targets.
var allowedTransitions = map[PaymentStatus][]PaymentStatus{
	StatusCreated:         {StatusApprovalPending, StatusApproved, StatusCancelled, StatusAuthorized, StatusFailed},
	StatusScheduled:       {StatusApprovalPending, StatusApproved, StatusCancelled, StatusProcessing},
	StatusApprovalPending: {StatusApproved, StatusRejected},
	StatusApproved:        {StatusProcessing},
	StatusProcessing:      {StatusSuccess, StatusFailed},
	StatusRejected:        {StatusCancelled},
	StatusAuthorized:      {StatusCaptured, StatusFailed},
}

// InvalidTransitionError reports an attempted payment status change outside
// the allowed table. It is fatal to the request and never coerced.
type InvalidTransitionError struct {
	From PaymentStatus
	To   PaymentStatus
}

// Error implements the error interface.
func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid payment status transition: %s -> %s", e.From, e.To)
}

// ValidateTransition returns nil when current → next is in the allowed table
// and an *InvalidTransitionError otherwise. An empty current status is always
// invalid.
func ValidateTransition(current, next PaymentStatus) error {
	for _, allowed := range allowedTransitions[current] {
		if allowed == next {
			return nil
		}
	}
	return &InvalidTransitionError{From: current, To: next}
}

// ScheduleStatus is the closed set of scheduled payment states.
type ScheduleStatus string

// Scheduled payment lifecycle states. PROCESSING is the claim barrier: the
// executor flips SCHEDULED → PROCESSING atomically before doing any work so a
// concurrent run cannot select the same row twice.
const (
	ScheduleStatusScheduled  ScheduleStatus = "SCHEDULED"
	ScheduleStatusProcessing ScheduleStatus = "PROCESSING"
	ScheduleStatusCompleted  ScheduleStatus = "COMPLETED"
	ScheduleStatusFailed     ScheduleStatus = "FAILED"
	ScheduleStatusCanceled   ScheduleStatus = "CANCELED"
)
