package redis

import (
	"context"

	"rideledger/internal/domain"
)

// RideCacheInterface defines the ride cache operations used by the service layer.
type RideCacheInterface interface {
	GetRide(ctx context.Context, key domain.Key) (*domain.Ride, error)
	SetRide(ctx context.Context, ride *domain.Ride) error
	InvalidateRide(ctx context.Context, key domain.Key) error
}

// Ensure concrete types implement interfaces.
var _ RideCacheInterface = (*CacheStore)(nil)
