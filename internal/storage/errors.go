package storage

import "errors"

// Sentinel errors returned by repositories. Services pass these through
// unchanged so the API layer can map them to status codes.
var (
	// ErrNotFound means the requested record does not exist.
	ErrNotFound = errors.New("record not found")

	// ErrAlreadyInProgress means a non-terminal backfill job already exists
	// for the product.
	ErrAlreadyInProgress = errors.New("backfill job already in progress for product")

	// ErrInvalidTransition means a status mutation was attempted from a state
	// the transition table does not allow.
	ErrInvalidTransition = errors.New("invalid status transition")

	// ErrAlreadyTerminal means the target job or link is in a terminal status.
	ErrAlreadyTerminal = errors.New("record already in terminal status")
)
