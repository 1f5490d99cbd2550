package repository

import "errors"

var (
	// ErrNotFound is returned when no record lives at the requested key.
	ErrNotFound = errors.New("entity not found")

	// ErrAlreadyExists is returned when a record already occupies the key.
	ErrAlreadyExists = errors.New("entity already exists")

	// ErrConflict is returned when a store gives up on a contended read-modify-write.
	ErrConflict = errors.New("concurrent modification")
)
