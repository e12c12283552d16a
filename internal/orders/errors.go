package orders

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrNotFound               = errors.New("order not found")
	ErrReturnDetailRequired   = errors.New("return detail required before completing a rental")
	ErrDeliveryMethodRequired = errors.New("delivery method must be set before shipping")
	ErrExtendNotAllowed       = errors.New("order does not allow extension")
	ErrTransitionInFlight     = errors.New("another transition for this order is in flight")
	ErrStaleOrder             = errors.New("order changed on the server, refresh before retrying")
	ErrAlreadyPaid            = errors.New("order payment already confirmed")
)

// ValidationError marks missing or out-of-range input.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// InvalidTransitionError is returned locally, before any network call, when
// the requested edge is not legal from the current status.
type InvalidTransitionError struct {
	OrderID string
	From    Status
	Op      Op
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("order %s: cannot %s from %s", e.OrderID, e.Op, e.From)
}

// NetworkError wraps a transport failure talking to the order service.
type NetworkError struct {
	Op  string
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("%s: network: %v", e.Op, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// ServiceRejectedError is an isSuccess=false envelope.
type ServiceRejectedError struct {
	Op       string
	Code     string
	Messages []string
}

func (e *ServiceRejectedError) Error() string {
	msg := strings.Join(e.Messages, "; ")
	if msg == "" {
		msg = "rejected"
	}
	return fmt.Sprintf("%s: %s", e.Op, msg)
}

// StateConflictError means the order was mutated concurrently; local state
// must be refreshed before another attempt.
type StateConflictError struct {
	OrderID string
}

func (e *StateConflictError) Error() string {
	return fmt.Sprintf("order %s: concurrent modification", e.OrderID)
}

// DuplicateReconciliationError rejects a second return detail or a second
// reconciliation for the same order.
type DuplicateReconciliationError struct {
	OrderID string
}

func (e *DuplicateReconciliationError) Error() string {
	return fmt.Sprintf("order %s: already reconciled", e.OrderID)
}

// Wire error codes carried in the response envelope.
const (
	CodeValidation              = "VALIDATION"
	CodeInvalidTransition       = "INVALID_TRANSITION"
	CodeStateConflict           = "STATE_CONFLICT"
	CodeDuplicateReconciliation = "DUPLICATE_RECONCILIATION"
	CodeNotFound                = "NOT_FOUND"
	CodeInternal                = "INTERNAL"
)

// ErrorCode classifies err for the wire.
func ErrorCode(err error) string {
	var (
		ve *ValidationError
		it *InvalidTransitionError
		sc *StateConflictError
		dr *DuplicateReconciliationError
	)
	switch {
	case errors.As(err, &ve):
		return CodeValidation
	case errors.As(err, &it):
		return CodeInvalidTransition
	case errors.As(err, &sc):
		return CodeStateConflict
	case errors.As(err, &dr):
		return CodeDuplicateReconciliation
	case errors.Is(err, ErrNotFound):
		return CodeNotFound
	case errors.Is(err, ErrReturnDetailRequired),
		errors.Is(err, ErrDeliveryMethodRequired),
		errors.Is(err, ErrExtendNotAllowed),
		errors.Is(err, ErrAlreadyPaid):
		return CodeValidation
	}
	return CodeInternal
}
