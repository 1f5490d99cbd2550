package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"rideledger/internal/address"
	"rideledger/internal/auth"
	"rideledger/internal/bond"
	"rideledger/internal/domain"
	"rideledger/internal/metrics"
	"rideledger/internal/redis"
	"rideledger/internal/repository"
)

// RideService runs the ride state machine over keyed records.
//
// Every operation re-derives the record key from the rider and unique id, checks
// the caller's proof of control, then performs all remaining checks inside the
// store's atomic read-modify-write. A rejected operation leaves the record as it was.
type RideService struct {
	rideRepo      repository.RideRepository
	verifier      auth.Verifier
	funder        bond.Funder
	schedule      bond.Schedule
	namespace     address.Namespace
	cache         redis.RideCacheInterface
	notifications *NotificationService
	metrics       *metrics.Metrics
	logger        *slog.Logger
	tracer        trace.Tracer
	now           func() time.Time
}

// RideServiceDeps contains the collaborators of RideService. Cache, Metrics,
// Notifications and Logger are optional.
type RideServiceDeps struct {
	RideRepo      repository.RideRepository
	Verifier      auth.Verifier
	Funder        bond.Funder
	Schedule      bond.Schedule
	Namespace     address.Namespace
	Cache         redis.RideCacheInterface
	Notifications *NotificationService
	Metrics       *metrics.Metrics
	Logger        *slog.Logger
}

// NewRideService creates a new RideService.
func NewRideService(deps RideServiceDeps) *RideService {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	notifications := deps.Notifications
	if notifications == nil {
		notifications = NewNotificationService(nil, logger, deps.Metrics)
	}
	return &RideService{
		rideRepo:      deps.RideRepo,
		verifier:      deps.Verifier,
		funder:        deps.Funder,
		schedule:      deps.Schedule,
		namespace:     deps.Namespace,
		cache:         deps.Cache,
		notifications: notifications,
		metrics:       deps.Metrics,
		logger:        logger,
		tracer:        otel.Tracer("rideledger/service"),
		now:           time.Now,
	}
}

// Caller is an identity together with its proof of control.
type Caller struct {
	Identity domain.Identity
	Proof    string
}

// RideRef names a ride by its routing input. Key is an optional caller claim
// that must equal the derived key.
type RideRef struct {
	Rider    domain.Identity
	UniqueID uint64
	Key      *domain.Key
}

// CreateRideRequest contains the parameters for creating a ride. The caller is the rider.
type CreateRideRequest struct {
	Caller   Caller
	UniqueID uint64
	Fare     uint64
	Distance uint64
	Key      *domain.Key
}

// CloseRideResponse contains the removed ride and the bond returned to the rider.
type CloseRideResponse struct {
	Ride     *domain.Ride
	Refunded uint64
}

// KeyResponse is a derived ride key with its bump.
type KeyResponse struct {
	Key  domain.Key
	Bump uint8
}

// DeriveKey returns the key a ride would live at. It touches no state.
func (s *RideService) DeriveKey(rider domain.Identity, uniqueID uint64) (*KeyResponse, error) {
	if rider.IsZero() {
		return nil, ErrInvalidRiderID
	}
	key, bump, err := address.DeriveKey(s.namespace, rider, uniqueID)
	if err != nil {
		return nil, err
	}
	return &KeyResponse{Key: key, Bump: bump}, nil
}

// CreateRide opens a ride at the key derived from the caller and unique id and
// locks the storage bond for it.
func (s *RideService) CreateRide(ctx context.Context, req CreateRideRequest) (ride *domain.Ride, err error) {
	ref := RideRef{Rider: req.Caller.Identity, UniqueID: req.UniqueID, Key: req.Key}
	ctx, span := s.startSpan(ctx, "create", ref)
	defer func() { s.finish(ctx, span, "create", err) }()

	if req.Caller.Identity.IsZero() {
		return nil, auth.ErrMissingIdentity
	}
	key, bump, err := s.resolve(ref)
	if err != nil {
		return nil, err
	}
	if err := s.verifier.VerifyControl(ctx, req.Caller.Identity, req.Caller.Proof); err != nil {
		return nil, err
	}

	if _, err := s.rideRepo.GetByKey(ctx, key); err == nil {
		return nil, ErrAlreadyExists
	} else if !errors.Is(err, repository.ErrNotFound) {
		return nil, err
	}

	amount := s.schedule.RideBond()
	bondRef, err := s.funder.Lock(ctx, req.Caller.Identity, key, amount)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	ride = &domain.Ride{
		Key:       key,
		Bump:      bump,
		Rider:     req.Caller.Identity,
		UniqueID:  req.UniqueID,
		Fare:      req.Fare,
		Distance:  req.Distance,
		Status:    domain.RideStatusRequested,
		Bond:      amount,
		BondRef:   bondRef,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := s.rideRepo.Create(ctx, ride); err != nil {
		if _, relErr := s.funder.Release(ctx, req.Caller.Identity, bondRef); relErr != nil {
			s.logger.ErrorContext(ctx, "failed to release bond after create failure",
				"ride_key", key.String(), "bond_ref", bondRef, "error", relErr)
		}
		if errors.Is(err, repository.ErrAlreadyExists) {
			return nil, ErrAlreadyExists
		}
		return nil, err
	}

	if s.metrics != nil {
		s.metrics.BondLockedTotal.Add(float64(amount))
		s.metrics.OpenRides.Inc()
	}
	s.logger.InfoContext(ctx, "ride created",
		"ride_key", key.String(), "rider", ride.Rider.String(), "unique_id", ride.UniqueID, "bond", amount)
	s.notifications.NotifyRideCreated(ctx, ride)

	return ride, nil
}

// GetRide returns the ride at the derived key. Reads need no proof.
func (s *RideService) GetRide(ctx context.Context, ref RideRef) (*domain.Ride, error) {
	key, bump, err := s.resolve(ref)
	if err != nil {
		return nil, err
	}

	if s.cache != nil {
		cached, err := s.cache.GetRide(ctx, key)
		if err != nil {
			s.logger.WarnContext(ctx, "ride cache read failed", "ride_key", key.String(), "error", err)
		} else if cached != nil {
			return cached, nil
		}
	}

	ride, err := s.rideRepo.GetByKey(ctx, key)
	if err != nil {
		return nil, err
	}
	if ride.Bump != bump {
		return nil, address.ErrKeyMismatch
	}

	if s.cache != nil {
		if err := s.cache.SetRide(ctx, ride); err != nil {
			s.logger.WarnContext(ctx, "ride cache write failed", "ride_key", key.String(), "error", err)
		}
	}
	return ride, nil
}

// AcceptRide binds the caller as driver of a requested ride.
func (s *RideService) AcceptRide(ctx context.Context, ref RideRef, caller Caller) (*domain.Ride, error) {
	ride, err := s.transition(ctx, "accept", ref, caller, func(r *domain.Ride) error {
		if caller.Identity == r.Rider {
			return ErrSelfAcceptance
		}
		if !domain.CanTransition(r.Status, domain.RideStatusAccepted) {
			return ErrInvalidRideState
		}
		r.Driver = caller.Identity
		r.Status = domain.RideStatusAccepted
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.notifications.NotifyRideAccepted(ctx, ride)
	return ride, nil
}

// CompleteRide finishes an accepted ride. Either party may complete it.
func (s *RideService) CompleteRide(ctx context.Context, ref RideRef, caller Caller) (*domain.Ride, error) {
	ride, err := s.transition(ctx, "complete", ref, caller, func(r *domain.Ride) error {
		if !r.IsParty(caller.Identity) {
			return ErrUnauthorized
		}
		if !domain.CanTransition(r.Status, domain.RideStatusCompleted) {
			return ErrInvalidRideState
		}
		r.Status = domain.RideStatusCompleted
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.notifications.NotifyRideCompleted(ctx, ride)
	return ride, nil
}

// CancelRide cancels any ride that has not completed. byRider is informational
// and only travels with the emitted event.
func (s *RideService) CancelRide(ctx context.Context, ref RideRef, caller Caller, byRider bool) (*domain.Ride, error) {
	ride, err := s.transition(ctx, "cancel", ref, caller, func(r *domain.Ride) error {
		if !r.IsParty(caller.Identity) {
			return ErrUnauthorized
		}
		if !domain.CanTransition(r.Status, domain.RideStatusCancelled) {
			return ErrRideAlreadyCompleted
		}
		r.Status = domain.RideStatusCancelled
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.notifications.NotifyRideCancelled(ctx, ride, byRider)
	return ride, nil
}

// CloseRide deletes the ride record in any status and refunds the bond to the rider.
func (s *RideService) CloseRide(ctx context.Context, ref RideRef, caller Caller) (resp *CloseRideResponse, err error) {
	ctx, span := s.startSpan(ctx, "close", ref)
	defer func() { s.finish(ctx, span, "close", err) }()

	key, bump, err := s.resolve(ref)
	if err != nil {
		return nil, err
	}
	if err := s.verifier.VerifyControl(ctx, caller.Identity, caller.Proof); err != nil {
		return nil, err
	}

	ride, err := s.rideRepo.Remove(ctx, key, func(r *domain.Ride) error {
		if err := checkRecord(r, ref, bump); err != nil {
			return err
		}
		if caller.Identity != r.Rider {
			return ErrUnauthorized
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.invalidate(ctx, key)
	if s.metrics != nil {
		s.metrics.OpenRides.Dec()
	}

	resp = &CloseRideResponse{Ride: ride}
	if ride.BondRef != "" {
		refunded, err := s.funder.Release(ctx, ride.Rider, ride.BondRef)
		if err != nil {
			s.logger.ErrorContext(ctx, "ride closed but bond release failed",
				"ride_key", key.String(), "bond_ref", ride.BondRef, "error", err)
			return resp, fmt.Errorf("release bond %s: %w", ride.BondRef, err)
		}
		resp.Refunded = refunded
		if s.metrics != nil {
			s.metrics.BondRefundTotal.Add(float64(refunded))
		}
	}

	s.logger.InfoContext(ctx, "ride closed", "ride_key", key.String(), "refunded", resp.Refunded)
	s.notifications.NotifyRideClosed(ctx, ride, resp.Refunded)
	return resp, nil
}

// transition runs apply on the stored ride after the key, proof and bump checks.
func (s *RideService) transition(ctx context.Context, op string, ref RideRef, caller Caller, apply repository.MutateFunc) (ride *domain.Ride, err error) {
	ctx, span := s.startSpan(ctx, op, ref)
	defer func() { s.finish(ctx, span, op, err) }()

	key, bump, err := s.resolve(ref)
	if err != nil {
		return nil, err
	}
	if err := s.verifier.VerifyControl(ctx, caller.Identity, caller.Proof); err != nil {
		return nil, err
	}

	var from domain.RideStatus
	ride, err = s.rideRepo.Update(ctx, key, func(r *domain.Ride) error {
		if err := checkRecord(r, ref, bump); err != nil {
			return err
		}
		from = r.Status
		return apply(r)
	})
	if err != nil {
		return nil, err
	}
	s.invalidate(ctx, key)

	s.logger.InfoContext(ctx, "ride transitioned",
		"operation", op,
		"ride_key", key.String(),
		"from", from,
		"to", ride.Status,
		"terminal", ride.Status.IsTerminal(),
		"caller", caller.Identity.String(),
	)
	return ride, nil
}

// resolve derives the key for ref and rejects a claimed key that differs.
func (s *RideService) resolve(ref RideRef) (domain.Key, uint8, error) {
	if ref.Rider.IsZero() {
		return domain.Key{}, 0, ErrInvalidRiderID
	}
	key, bump, err := address.DeriveKey(s.namespace, ref.Rider, ref.UniqueID)
	if err != nil {
		return domain.Key{}, 0, err
	}
	if ref.Key != nil && *ref.Key != key {
		return domain.Key{}, 0, address.ErrKeyMismatch
	}
	return key, bump, nil
}

// checkRecord rejects a stored ride whose derivation inputs disagree with ref.
func checkRecord(r *domain.Ride, ref RideRef, bump uint8) error {
	if r.Bump != bump || r.Rider != ref.Rider || r.UniqueID != ref.UniqueID {
		return address.ErrKeyMismatch
	}
	return nil
}

func (s *RideService) invalidate(ctx context.Context, key domain.Key) {
	if s.cache == nil {
		return
	}
	if err := s.cache.InvalidateRide(ctx, key); err != nil {
		s.logger.WarnContext(ctx, "ride cache invalidation failed", "ride_key", key.String(), "error", err)
	}
}

func (s *RideService) startSpan(ctx context.Context, op string, ref RideRef) (context.Context, trace.Span) {
	return s.tracer.Start(ctx, "RideService."+op, trace.WithAttributes(
		attribute.String("ride.rider", ref.Rider.String()),
		attribute.String("ride.unique_id", strconv.FormatUint(ref.UniqueID, 10)),
	))
}

func (s *RideService) finish(ctx context.Context, span trace.Span, op string, err error) {
	s.metrics.ObserveOperation(op, err)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		if !isRejection(err) {
			s.logger.ErrorContext(ctx, "ride operation failed", "operation", op, "error", err)
		}
	}
	span.End()
}

// isRejection reports whether err is an expected business outcome rather than a fault.
func isRejection(err error) bool {
	for _, target := range []error{
		ErrAlreadyExists, ErrInvalidRideState, ErrRideAlreadyCompleted, ErrUnauthorized,
		ErrInvalidRiderID, repository.ErrNotFound, address.ErrKeyMismatch,
		auth.ErrInvalidProof, auth.ErrMissingIdentity, bond.ErrInsufficientFunds,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
