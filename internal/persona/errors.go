package persona

import "errors"

var (
	// ErrDuplicateName is returned when a persona name is already registered.
	ErrDuplicateName = errors.New("persona: duplicate name")
	// ErrInvalidDefinition is returned for malformed definitions (e.g. no triggers).
	ErrInvalidDefinition = errors.New("persona: invalid definition")
	// ErrNotFound is returned when a persona name is not registered.
	ErrNotFound = errors.New("persona: not found")
)
