package storage

import "errors"

// Common storage errors.
var (
	// ErrNotFound is returned when no update is stored for a point.
	ErrNotFound = errors.New("point not found")
)
