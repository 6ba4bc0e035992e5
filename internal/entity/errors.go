package entity

import "errors"

// Domain-specific errors for entity operations.
var (
	// ErrEntityNotFound is returned when an entity id has no state.
	ErrEntityNotFound = errors.New("entity: not found")

	// ErrInvalidEntityID is returned for ids not of the form domain.object_id.
	ErrInvalidEntityID = errors.New("entity: invalid entity id")

	// ErrInvalidSeed is returned when the seed file cannot be used.
	ErrInvalidSeed = errors.New("entity: invalid seed file")
)
