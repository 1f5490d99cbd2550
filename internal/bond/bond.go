// Package bond funds and refunds the storage bond that backs each ride record.
package bond

import (
	"context"
	"errors"

	"rideledger/internal/domain"
)

var (
	// ErrInsufficientFunds is returned when the owner cannot fund the bond.
	ErrInsufficientFunds = errors.New("insufficient funds for storage bond")

	// ErrHoldNotFound is returned when releasing an unknown or already released bond.
	ErrHoldNotFound = errors.New("bond hold not found")

	// ErrNotOwner is returned when a bond is released to someone other than its owner.
	ErrNotOwner = errors.New("bond not owned by identity")
)

// Funder locks a bond when a record is allocated and releases it when the record is closed.
type Funder interface {
	// Lock holds amount from owner for the record at key and returns a reference to the hold.
	Lock(ctx context.Context, owner domain.Identity, key domain.Key, amount uint64) (string, error)

	// Release returns the held amount to owner.
	Release(ctx context.Context, owner domain.Identity, ref string) (uint64, error)
}

// Schedule prices storage. The bond for a record is (OverheadBytes + size) * RatePerByte.
type Schedule struct {
	OverheadBytes uint64
	RatePerByte   uint64
}

// DefaultSchedule mirrors a two-year rent exemption at 3480 units per byte-year.
var DefaultSchedule = Schedule{OverheadBytes: 128, RatePerByte: 6960}

// Amount returns the bond for a record of size bytes.
func (s Schedule) Amount(size uint64) uint64 {
	return (s.OverheadBytes + size) * s.RatePerByte
}

// RideBond returns the bond for one ride record.
func (s Schedule) RideBond() uint64 {
	return s.Amount(domain.RecordSize)
}
