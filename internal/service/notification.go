package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"rideledger/internal/domain"
	"rideledger/internal/events"
	"rideledger/internal/metrics"
)

// NotificationService turns committed ride changes into lifecycle events.
// Delivery is best effort: a failed publish is logged and counted, never
// surfaced to the caller whose operation already committed.
type NotificationService struct {
	publisher events.Publisher
	logger    *slog.Logger
	metrics   *metrics.Metrics
}

// NewNotificationService creates a new NotificationService.
func NewNotificationService(publisher events.Publisher, logger *slog.Logger, m *metrics.Metrics) *NotificationService {
	if logger == nil {
		logger = slog.Default()
	}
	if publisher == nil {
		publisher = events.NewLogPublisher(logger)
	}
	return &NotificationService{publisher: publisher, logger: logger, metrics: m}
}

// NotifyRideCreated tells the rider their request is open.
func (s *NotificationService) NotifyRideCreated(ctx context.Context, ride *domain.Ride) {
	s.send(ctx, newEvent(events.TypeRideCreated, ride, ride.Rider,
		"Ride Requested",
		fmt.Sprintf("Ride %d requested: fare %d, distance %d", ride.UniqueID, ride.Fare, ride.Distance),
	))
}

// NotifyRideAccepted tells the rider a driver took the ride.
func (s *NotificationService) NotifyRideAccepted(ctx context.Context, ride *domain.Ride) {
	s.send(ctx, newEvent(events.TypeRideAccepted, ride, ride.Rider,
		"Driver Assigned",
		fmt.Sprintf("Ride accepted by driver %s", ride.Driver),
	))
}

// NotifyRideCompleted tells the rider the ride finished.
func (s *NotificationService) NotifyRideCompleted(ctx context.Context, ride *domain.Ride) {
	s.send(ctx, newEvent(events.TypeRideCompleted, ride, ride.Rider,
		"Ride Completed",
		fmt.Sprintf("Ride completed. Fare: %d", ride.Fare),
	))
}

// NotifyRideCancelled notifies the other party about a cancellation.
func (s *NotificationService) NotifyRideCancelled(ctx context.Context, ride *domain.Ride, byRider bool) {
	recipient := ride.Rider
	message := "The driver has cancelled the ride"
	if byRider {
		recipient = ride.Driver
		message = "The rider has cancelled the ride"
	}

	event := newEvent(events.TypeRideCancelled, ride, recipient, "Ride Cancelled", message)
	event.ByRider = &byRider
	s.send(ctx, event)
}

// NotifyRideClosed tells the rider the record is gone and the bond refunded.
func (s *NotificationService) NotifyRideClosed(ctx context.Context, ride *domain.Ride, refunded uint64) {
	event := newEvent(events.TypeRideClosed, ride, ride.Rider,
		"Ride Closed",
		fmt.Sprintf("Ride record closed, %d refunded", refunded),
	)
	event.Amount = refunded
	s.send(ctx, event)
}

func newEvent(t events.Type, ride *domain.Ride, recipient domain.Identity, title, message string) events.Event {
	e := events.Event{
		ID:         uuid.New().String(),
		Type:       t,
		RideKey:    ride.Key.String(),
		Rider:      ride.Rider.String(),
		Status:     string(ride.Status),
		Title:      title,
		Message:    message,
		OccurredAt: time.Now().UTC(),
	}
	if ride.HasDriver() {
		e.Driver = ride.Driver.String()
	}
	if !recipient.IsZero() {
		e.Recipient = recipient.String()
	}
	return e
}

func (s *NotificationService) send(ctx context.Context, event events.Event) {
	if err := s.publisher.Publish(ctx, event); err != nil {
		s.logger.ErrorContext(ctx, "failed to publish ride event",
			"event_id", event.ID,
			"type", event.Type,
			"ride_key", event.RideKey,
			"error", err,
		)
		if s.metrics != nil {
			s.metrics.EventPublishErrs.Inc()
		}
	}
}
