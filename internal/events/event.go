// Package events publishes ride lifecycle events to downstream consumers.
package events

import (
	"context"
	"time"
)

// Type names a lifecycle event.
type Type string

const (
	TypeRideCreated   Type = "RIDE_CREATED"
	TypeRideAccepted  Type = "RIDE_ACCEPTED"
	TypeRideCompleted Type = "RIDE_COMPLETED"
	TypeRideCancelled Type = "RIDE_CANCELLED"
	TypeRideClosed    Type = "RIDE_CLOSED"
)

// Event is one committed change to a ride record.
type Event struct {
	ID         string    `json:"id"`
	Type       Type      `json:"type"`
	RideKey    string    `json:"ride_key"`
	Rider      string    `json:"rider"`
	Driver     string    `json:"driver,omitempty"`
	Recipient  string    `json:"recipient,omitempty"`
	Status     string    `json:"status,omitempty"`
	ByRider    *bool     `json:"by_rider,omitempty"`
	Amount     uint64    `json:"amount,omitempty"`
	Title      string    `json:"title"`
	Message    string    `json:"message"`
	OccurredAt time.Time `json:"occurred_at"`
}

// Publisher delivers events. Implementations must be safe for concurrent use.
type Publisher interface {
	Publish(ctx context.Context, event Event) error
	Close() error
}
