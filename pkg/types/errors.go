package types

import "errors"

// Record-related errors
var (
	// ErrInvalidChangeKind is returned when a stored history_type is not a known tag
	ErrInvalidChangeKind = errors.New("invalid change kind")
	// ErrNoPrimaryKey is returned when a model declares no primary key field
	ErrNoPrimaryKey = errors.New("model has no primary key")
)
