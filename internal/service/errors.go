package service

import (
	"errors"
	"fmt"

	"rideledger/internal/repository"
)

var (
	// ErrAlreadyExists is returned when a ride already lives at the derived key.
	ErrAlreadyExists = errors.New("ride already exists")

	// ErrInvalidRideState is returned when the ride is not in the status the operation requires.
	ErrInvalidRideState = errors.New("invalid ride state for operation")

	// ErrRideAlreadyCompleted is returned when cancelling a completed ride.
	ErrRideAlreadyCompleted = errors.New("ride already completed")

	// ErrUnauthorized is returned when the caller may not perform the operation.
	ErrUnauthorized = errors.New("caller not authorized for ride")

	// ErrSelfAcceptance is returned when a rider tries to accept their own ride.
	ErrSelfAcceptance = fmt.Errorf("%w: rider cannot accept own ride", ErrUnauthorized)

	// ErrInvalidRiderID is returned when the rider identity is empty.
	ErrInvalidRiderID = errors.New("invalid rider id")

	// ErrNotFound is returned when no ride lives at the derived key.
	ErrNotFound = repository.ErrNotFound
)
