package errutil

import "errors"

// Domain error taxonomy. Services wrap these in a BaseError so callers can
// match with errors.Is and still read a transport status with errors.As.
var (
	ErrInvalidArgument        = errors.New("invalid argument")
	ErrInvalidTenant          = errors.New("invalid tenant")
	ErrTenantNotSet           = errors.New("tenant not set")
	ErrNotFound               = errors.New("not found")
	ErrInvalidTransition      = errors.New("invalid transition")
	ErrOrganizationInactive   = errors.New("organization inactive")
	ErrPlanLimitExceeded      = errors.New("plan limit exceeded")
	ErrDuplicateEmail         = errors.New("duplicate email")
	ErrConcurrentModification = errors.New("concurrent modification")
	ErrSigningFailure         = errors.New("signing failure")
)
