package domain

import "time"

// RideStatus represents the current status of a ride.
type RideStatus string

const (
	RideStatusRequested RideStatus = "REQUESTED"
	RideStatusAccepted  RideStatus = "ACCEPTED"
	RideStatusCompleted RideStatus = "COMPLETED"
	RideStatusCancelled RideStatus = "CANCELLED"
)

// RecordSize is the persisted width of a ride record in bytes:
// discriminator, rider, driver, unique id, fare, distance, status, bump.
const RecordSize = 8 + 32 + 32 + 8 + 8 + 8 + 1 + 1

// allowedTransitions is the ride state flow as code. Close is not a
// transition; it is available from every status.
var allowedTransitions = map[RideStatus][]RideStatus{
	RideStatusRequested: {RideStatusAccepted, RideStatusCancelled},
	RideStatusAccepted:  {RideStatusCompleted, RideStatusCancelled},
	RideStatusCancelled: {RideStatusCancelled},
}

// CanTransition reports whether a ride may move from one status to another.
func CanTransition(from, to RideStatus) bool {
	for _, next := range allowedTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no further business transition leaves the status.
func (s RideStatus) IsTerminal() bool {
	return s == RideStatusCompleted || s == RideStatusCancelled
}

// Valid reports whether s is a known status.
func (s RideStatus) Valid() bool {
	switch s {
	case RideStatusRequested, RideStatusAccepted, RideStatusCompleted, RideStatusCancelled:
		return true
	default:
		return false
	}
}

// Ride is the persisted record of one ride, addressed by its derived Key.
type Ride struct {
	Key       Key
	Bump      uint8
	Rider     Identity
	Driver    Identity // zero until accepted
	UniqueID  uint64
	Fare      uint64
	Distance  uint64 // meters
	Status    RideStatus
	Bond      uint64 // storage bond held for the record
	BondRef   string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// HasDriver reports whether a driver is bound to the ride.
func (r *Ride) HasDriver() bool {
	return !r.Driver.IsZero()
}

// IsParty reports whether id is the rider or the bound driver.
func (r *Ride) IsParty(id Identity) bool {
	if id.IsZero() {
		return false
	}
	return id == r.Rider || (r.HasDriver() && id == r.Driver)
}
