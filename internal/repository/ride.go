package repository

import (
	"context"

	"rideledger/internal/domain"
)

// MutateFunc inspects and changes a ride inside a store's atomic read-modify-write.
// Returning an error aborts the write and leaves the stored record untouched.
type MutateFunc func(ride *domain.Ride) error

// RideRepository defines the persistence operations for rides. Records are only
// addressable by their derived key.
type RideRepository interface {
	// Create persists a new ride. Returns ErrAlreadyExists if the key is taken.
	Create(ctx context.Context, ride *domain.Ride) error

	// GetByKey retrieves a ride by key.
	GetByKey(ctx context.Context, key domain.Key) (*domain.Ride, error)

	// Update loads the ride, applies fn and stores the result atomically.
	Update(ctx context.Context, key domain.Key, fn MutateFunc) (*domain.Ride, error)

	// Remove loads the ride, runs fn and deletes the record atomically if fn succeeds.
	// The removed ride is returned.
	Remove(ctx context.Context, key domain.Key, fn MutateFunc) (*domain.Ride, error)
}
