package adhoc

import "errors"

var (
	// ErrNotFound is returned when a stored query identifier does not resolve.
	ErrNotFound = errors.New("adhoc: stored query not found")
	// ErrUnsupportedConstruct is returned for stored constraints that select
	// by identifier.
	ErrUnsupportedConstruct = errors.New("adhoc: unsupported construct")
)
