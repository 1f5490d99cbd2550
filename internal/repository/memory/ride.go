// Package memory provides an in-process ride store for development and tests.
package memory

import (
	"context"
	"sync"
	"time"

	"rideledger/internal/domain"
	"rideledger/internal/repository"
)

// Ensure RideRepository implements repository.RideRepository.
var _ repository.RideRepository = (*RideRepository)(nil)

// RideRepository keeps rides in a map guarded by a single mutex. Every
// read-modify-write runs under the lock, so operations on a key are serialized.
type RideRepository struct {
	mu    sync.Mutex
	rides map[domain.Key]domain.Ride
	now   func() time.Time
}

// NewRideRepository creates an empty store.
func NewRideRepository() *RideRepository {
	return &RideRepository{
		rides: make(map[domain.Key]domain.Ride),
		now:   time.Now,
	}
}

func (r *RideRepository) Create(ctx context.Context, ride *domain.Ride) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.rides[ride.Key]; ok {
		return repository.ErrAlreadyExists
	}
	r.rides[ride.Key] = *ride
	return nil
}

func (r *RideRepository) GetByKey(ctx context.Context, key domain.Key) (*domain.Ride, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	ride, ok := r.rides[key]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &ride, nil
}

func (r *RideRepository) Update(ctx context.Context, key domain.Key, fn repository.MutateFunc) (*domain.Ride, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	current, ok := r.rides[key]
	if !ok {
		return nil, repository.ErrNotFound
	}

	next := current
	if err := fn(&next); err != nil {
		return nil, err
	}
	next.Key = current.Key
	next.UpdatedAt = r.now()
	r.rides[key] = next

	out := next
	return &out, nil
}

func (r *RideRepository) Remove(ctx context.Context, key domain.Key, fn repository.MutateFunc) (*domain.Ride, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	current, ok := r.rides[key]
	if !ok {
		return nil, repository.ErrNotFound
	}

	snapshot := current
	if err := fn(&snapshot); err != nil {
		return nil, err
	}
	delete(r.rides, key)
	return &current, nil
}

// Len returns the number of stored rides.
func (r *RideRepository) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.rides)
}
