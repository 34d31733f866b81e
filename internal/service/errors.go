package service

import (
	"errors"

	"github.com/septivank/occupancy-billing-worker/internal/identity"
	"github.com/septivank/occupancy-billing-worker/internal/validator"
)

var (
	// ErrInvalidAddress is returned for malformed trigger device addresses
	ErrInvalidAddress = validator.ErrInvalidAddress
	// ErrTriggerDeviceNotFound is returned when no trigger device has the address
	ErrTriggerDeviceNotFound = errors.New("trigger device not found")
	// ErrDirectionConflict is returned when an explicit direction contradicts the ledger
	ErrDirectionConflict = errors.New("direction conflicts with trigger history")
	// ErrInvariant signals ledger corruption, e.g. a missing open bill
	ErrInvariant = errors.New("ledger invariant violated")
)

// Error codes published on the result topic
const (
	CodeMACInvalid        = "MAC_INVALID"
	CodeNotFound          = "NOT_FOUND"
	CodeTokenInvalid      = "TOKEN_INVALID"
	CodeTokenExpired      = "TOKEN_EXPIRED"
	CodeScopeInsufficient = "SCOPE_INSUFFICIENT"
	CodeUserNotFound      = "USER_NOT_FOUND"
	CodeDirectionConflict = "DIRECTION_CONFLICT"
	CodeServer            = "SERVER"
)

// ErrorCode maps an error returned by ProcessTrigger to its wire code.
// Anything unexpected is reported as SERVER.
func ErrorCode(err error) string {
	switch {
	case errors.Is(err, ErrInvalidAddress):
		return CodeMACInvalid
	case errors.Is(err, ErrTriggerDeviceNotFound):
		return CodeNotFound
	case errors.Is(err, identity.ErrTokenExpired):
		return CodeTokenExpired
	case errors.Is(err, identity.ErrInsufficientScope):
		return CodeScopeInsufficient
	case errors.Is(err, identity.ErrUnknownUser):
		return CodeUserNotFound
	case errors.Is(err, identity.ErrTokenInvalid):
		return CodeTokenInvalid
	case errors.Is(err, ErrDirectionConflict):
		return CodeDirectionConflict
	default:
		return CodeServer
	}
}
