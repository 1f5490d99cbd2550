package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"rideledger/internal/domain"
	"rideledger/internal/repository"
)

// Ensure RideRepository implements repository.RideRepository.
var _ repository.RideRepository = (*RideRepository)(nil)

// RideRepository is a PostgreSQL implementation of repository.RideRepository.
type RideRepository struct {
	db *sqlx.DB
}

// NewRideRepository creates a new PostgreSQL ride repository.
func NewRideRepository(db *sqlx.DB) *RideRepository {
	return &RideRepository{db: db}
}

// rideRow is the column layout of the rides table. Unsigned fields are stored
// as the bit pattern of a signed BIGINT.
type rideRow struct {
	Key       []byte    `db:"key"`
	Bump      int16     `db:"bump"`
	Rider     []byte    `db:"rider"`
	Driver    []byte    `db:"driver"`
	UniqueID  int64     `db:"unique_id"`
	Fare      int64     `db:"fare"`
	Distance  int64     `db:"distance"`
	Status    string    `db:"status"`
	Bond      int64     `db:"bond"`
	BondRef   string    `db:"bond_ref"`
	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`
}

func toRow(ride *domain.Ride) rideRow {
	var driver []byte
	if ride.HasDriver() {
		driver = ride.Driver[:]
	}
	return rideRow{
		Key:       ride.Key[:],
		Bump:      int16(ride.Bump),
		Rider:     ride.Rider[:],
		Driver:    driver,
		UniqueID:  int64(ride.UniqueID),
		Fare:      int64(ride.Fare),
		Distance:  int64(ride.Distance),
		Status:    string(ride.Status),
		Bond:      int64(ride.Bond),
		BondRef:   ride.BondRef,
		CreatedAt: ride.CreatedAt,
		UpdatedAt: ride.UpdatedAt,
	}
}

func (row rideRow) toDomain() (*domain.Ride, error) {
	if len(row.Key) != 32 || len(row.Rider) != 32 || (row.Driver != nil && len(row.Driver) != 32) {
		return nil, fmt.Errorf("corrupt ride row: bad key or identity width")
	}
	if !domain.RideStatus(row.Status).Valid() {
		return nil, fmt.Errorf("corrupt ride row: unknown status %q", row.Status)
	}
	ride := &domain.Ride{
		Bump:      uint8(row.Bump),
		UniqueID:  uint64(row.UniqueID),
		Fare:      uint64(row.Fare),
		Distance:  uint64(row.Distance),
		Status:    domain.RideStatus(row.Status),
		Bond:      uint64(row.Bond),
		BondRef:   row.BondRef,
		CreatedAt: row.CreatedAt,
		UpdatedAt: row.UpdatedAt,
	}
	copy(ride.Key[:], row.Key)
	copy(ride.Rider[:], row.Rider)
	copy(ride.Driver[:], row.Driver)
	return ride, nil
}

// Create persists a new ride.
func (r *RideRepository) Create(ctx context.Context, ride *domain.Ride) error {
	row := toRow(ride)
	result, err := r.db.ExecContext(ctx, createRideQuery,
		row.Key, row.Bump, row.Rider, row.Driver, row.UniqueID, row.Fare, row.Distance,
		row.Status, row.Bond, row.BondRef, row.CreatedAt, row.UpdatedAt,
	)
	if err != nil {
		return err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rowsAffected == 0 {
		return repository.ErrAlreadyExists
	}
	return nil
}

const createRideQuery = `
INSERT INTO rides (key, bump, rider, driver, unique_id, fare, distance, status, bond, bond_ref, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
ON CONFLICT (key) DO NOTHING
`

// GetByKey retrieves a ride by key.
func (r *RideRepository) GetByKey(ctx context.Context, key domain.Key) (*domain.Ride, error) {
	return getRide(ctx, r.db, getRideQuery, key)
}

const getRideQuery = `SELECT * FROM rides WHERE key = $1`

const getRideForUpdateQuery = `SELECT * FROM rides WHERE key = $1 FOR UPDATE`

// Update locks the row, applies fn and writes the mutable columns back.
func (r *RideRepository) Update(ctx context.Context, key domain.Key, fn repository.MutateFunc) (*domain.Ride, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	ride, err := getRide(ctx, tx, getRideForUpdateQuery, key)
	if err != nil {
		return nil, err
	}

	if err := fn(ride); err != nil {
		return nil, err
	}
	ride.Key = key
	ride.UpdatedAt = time.Now().UTC()

	row := toRow(ride)
	if _, err := tx.ExecContext(ctx, updateRideQuery, row.Driver, row.Status, row.UpdatedAt, row.Key); err != nil {
		return nil, err
	}

	return ride, tx.Commit()
}

const updateRideQuery = `UPDATE rides SET driver = $1, status = $2, updated_at = $3 WHERE key = $4`

// Remove locks the row, runs fn and deletes the row in the same transaction.
func (r *RideRepository) Remove(ctx context.Context, key domain.Key, fn repository.MutateFunc) (*domain.Ride, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	ride, err := getRide(ctx, tx, getRideForUpdateQuery, key)
	if err != nil {
		return nil, err
	}

	snapshot := *ride
	if err := fn(&snapshot); err != nil {
		return nil, err
	}

	if _, err := tx.ExecContext(ctx, deleteRideQuery, key[:]); err != nil {
		return nil, err
	}

	return ride, tx.Commit()
}

const deleteRideQuery = `DELETE FROM rides WHERE key = $1`

func getRide(ctx context.Context, q Querier, query string, key domain.Key) (*domain.Ride, error) {
	var row rideRow
	err := q.GetContext(ctx, &row, query, key[:])
	if errors.Is(err, sql.ErrNoRows) {
		return nil, repository.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return row.toDomain()
}
