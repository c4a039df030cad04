package engine

import "errors"

// Boundary error kinds. Everything else surfacing from the engine is a
// bug. Internal misses (empty tokenization, unknown cues, alias misses)
// return empty values, not errors.
var (
	ErrNotFound     = errors.New("not found")
	ErrInvalidInput = errors.New("invalid input")
	ErrCapacity     = errors.New("at capacity")
	ErrConflict     = errors.New("conflicting concurrent mutation")
	ErrPersistence  = errors.New("persistence failure")
)
