package redis

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"rideledger/internal/domain"
	"rideledger/internal/repository"
)

// Ensure RideStore implements repository.RideRepository.
var _ repository.RideRepository = (*RideStore)(nil)

const (
	ridePrefix = "ride:"

	// maxTxRetries bounds optimistic retries when a watched key changes underneath us.
	maxTxRetries = 5
)

// RideStore persists rides as JSON values. Mutations use WATCH/MULTI so a
// concurrent writer on the same key forces a retry instead of a lost update.
type RideStore struct {
	client *redis.Client
}

// NewRideStore creates a new RideStore.
func NewRideStore(client *redis.Client) *RideStore {
	return &RideStore{client: client}
}

func rideKey(key domain.Key) string {
	return ridePrefix + key.String()
}

// Create stores the ride only if its key is free.
func (s *RideStore) Create(ctx context.Context, ride *domain.Ride) error {
	data, err := encodeRide(ride)
	if err != nil {
		return err
	}
	ok, err := s.client.SetNX(ctx, rideKey(ride.Key), data, 0).Result()
	if err != nil {
		return err
	}
	if !ok {
		return repository.ErrAlreadyExists
	}
	return nil
}

func (s *RideStore) GetByKey(ctx context.Context, key domain.Key) (*domain.Ride, error) {
	data, err := s.client.Get(ctx, rideKey(key)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	return decodeRide(data)
}

func (s *RideStore) Update(ctx context.Context, key domain.Key, fn repository.MutateFunc) (*domain.Ride, error) {
	var out *domain.Ride
	err := s.watch(ctx, key, func(tx *redis.Tx, ride *domain.Ride) error {
		if err := fn(ride); err != nil {
			return err
		}
		ride.Key = key
		ride.UpdatedAt = time.Now().UTC()

		data, err := encodeRide(ride)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, rideKey(key), data, 0)
			return nil
		})
		if err == nil {
			out = ride
		}
		return err
	})
	return out, err
}

func (s *RideStore) Remove(ctx context.Context, key domain.Key, fn repository.MutateFunc) (*domain.Ride, error) {
	var out *domain.Ride
	err := s.watch(ctx, key, func(tx *redis.Tx, ride *domain.Ride) error {
		snapshot := *ride
		if err := fn(&snapshot); err != nil {
			return err
		}
		_, err := tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Del(ctx, rideKey(key))
			return nil
		})
		if err == nil {
			out = ride
		}
		return err
	})
	return out, err
}

// watch loads the ride under WATCH and runs apply, retrying when the key was
// modified before EXEC.
func (s *RideStore) watch(ctx context.Context, key domain.Key, apply func(tx *redis.Tx, ride *domain.Ride) error) error {
	k := rideKey(key)
	txf := func(tx *redis.Tx) error {
		data, err := tx.Get(ctx, k).Bytes()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				return repository.ErrNotFound
			}
			return err
		}
		ride, err := decodeRide(data)
		if err != nil {
			return err
		}
		return apply(tx, ride)
	}

	return retryTx(func() error {
		return s.client.Watch(ctx, txf, k)
	})
}

// retryTx runs attempt until it finishes without a WATCH conflict, at most
// maxTxRetries times.
func retryTx(attempt func() error) error {
	for i := 0; i < maxTxRetries; i++ {
		err := attempt()
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return err
	}
	return repository.ErrConflict
}
