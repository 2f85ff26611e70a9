package errors

import "errors"

var (
	// ErrNotFound is a generic sentinel for missing resources.
	ErrNotFound = errors.New("not found")
	// ErrInvalidArgument is a generic sentinel for invalid input.
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrTenantUnresolvable means a file record has no reachable company.
	ErrTenantUnresolvable = errors.New("tenant unresolvable")
	// ErrConfiguration marks missing credentials or tenant wiring.
	ErrConfiguration = errors.New("configuration error")
)
