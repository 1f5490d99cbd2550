package redis

import (
	"fmt"
	"time"

	"github.com/goccy/go-json"

	"rideledger/internal/domain"
)

// rideDoc is the JSON form of a ride kept in Redis.
type rideDoc struct {
	Key       string    `json:"key"`
	Bump      uint8     `json:"bump"`
	Rider     string    `json:"rider"`
	Driver    string    `json:"driver,omitempty"`
	UniqueID  uint64    `json:"unique_id"`
	Fare      uint64    `json:"fare"`
	Distance  uint64    `json:"distance"`
	Status    string    `json:"status"`
	Bond      uint64    `json:"bond"`
	BondRef   string    `json:"bond_ref"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func encodeRide(ride *domain.Ride) ([]byte, error) {
	doc := rideDoc{
		Key:       ride.Key.String(),
		Bump:      ride.Bump,
		Rider:     ride.Rider.String(),
		UniqueID:  ride.UniqueID,
		Fare:      ride.Fare,
		Distance:  ride.Distance,
		Status:    string(ride.Status),
		Bond:      ride.Bond,
		BondRef:   ride.BondRef,
		CreatedAt: ride.CreatedAt,
		UpdatedAt: ride.UpdatedAt,
	}
	if ride.HasDriver() {
		doc.Driver = ride.Driver.String()
	}
	return json.Marshal(doc)
}

func decodeRide(data []byte) (*domain.Ride, error) {
	var doc rideDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	if !domain.RideStatus(doc.Status).Valid() {
		return nil, fmt.Errorf("corrupt ride document: unknown status %q", doc.Status)
	}

	key, err := domain.ParseKey(doc.Key)
	if err != nil {
		return nil, err
	}
	rider, err := domain.ParseIdentity(doc.Rider)
	if err != nil {
		return nil, err
	}
	var driver domain.Identity
	if doc.Driver != "" {
		if driver, err = domain.ParseIdentity(doc.Driver); err != nil {
			return nil, err
		}
	}

	return &domain.Ride{
		Key:       key,
		Bump:      doc.Bump,
		Rider:     rider,
		Driver:    driver,
		UniqueID:  doc.UniqueID,
		Fare:      doc.Fare,
		Distance:  doc.Distance,
		Status:    domain.RideStatus(doc.Status),
		Bond:      doc.Bond,
		BondRef:   doc.BondRef,
		CreatedAt: doc.CreatedAt,
		UpdatedAt: doc.UpdatedAt,
	}, nil
}
