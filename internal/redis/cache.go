package redis

import (
	"bytes"
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"rideledger/internal/domain"
)

// CacheStore handles read-through caching of rides in Redis.
//
// Invalidation writes a tombstone instead of deleting the entry, and fills use
// SETNX, so a reader that loaded a ride before a write committed cannot put the
// stale copy back after the writer invalidated it.
type CacheStore struct {
	client *redis.Client
	ttl    time.Duration
}

// RideCacheTTL bounds how stale a cached ride can be if an invalidation is lost.
// Tombstones live as long, which also bounds how long a slow reader is fenced off.
const RideCacheTTL = 10 * time.Second

const rideCachePrefix = "cache:ride:"

var tombstone = []byte("-")

// NewCacheStore creates a new CacheStore.
func NewCacheStore(client *redis.Client) *CacheStore {
	return &CacheStore{client: client, ttl: RideCacheTTL}
}

// GetRide retrieves a ride from cache. A miss or a tombstone returns nil, nil.
func (s *CacheStore) GetRide(ctx context.Context, key domain.Key) (*domain.Ride, error) {
	data, err := s.client.Get(ctx, rideCachePrefix+key.String()).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil // Cache miss
		}
		return nil, err
	}
	if isTombstone(data) {
		return nil, nil
	}
	return decodeRide(data)
}

// SetRide fills an empty slot. It never overwrites a tombstone or a newer fill.
func (s *CacheStore) SetRide(ctx context.Context, ride *domain.Ride) error {
	data, err := encodeRide(ride)
	if err != nil {
		return err
	}
	return s.client.SetNX(ctx, rideCachePrefix+ride.Key.String(), data, s.ttl).Err()
}

// InvalidateRide replaces any cached copy with a tombstone.
func (s *CacheStore) InvalidateRide(ctx context.Context, key domain.Key) error {
	return s.client.Set(ctx, rideCachePrefix+key.String(), tombstone, s.ttl).Err()
}

func isTombstone(data []byte) bool {
	return bytes.Equal(data, tombstone)
}
