package tests

import (
	"context"
	"crypto/ed25519"
	"fmt"
	"sync"
	"sync/atomic"

	"rideledger/internal/address"
	"rideledger/internal/auth"
	"rideledger/internal/bond"
	"rideledger/internal/domain"
	"rideledger/internal/events"
	"rideledger/internal/repository"
)

// ──────────────────────────────────────────────
// MOCK RIDE REPOSITORY
// ──────────────────────────────────────────────

// MockRideRepository is a mock implementation of RideRepository.
type MockRideRepository struct {
	mu    sync.Mutex
	rides map[domain.Key]domain.Ride

	// Counters for verification
	CreateCallCount int32
	UpdateCallCount int32
	RemoveCallCount int32

	// Error injection
	CreateError error
	UpdateError error
}

// NewMockRideRepository creates a new mock ride repository.
func NewMockRideRepository() *MockRideRepository {
	return &MockRideRepository{
		rides: make(map[domain.Key]domain.Ride),
	}
}

// Ensure MockRideRepository implements repository.RideRepository.
var _ repository.RideRepository = (*MockRideRepository)(nil)

// AddRide seeds a ride directly.
func (m *MockRideRepository) AddRide(ride *domain.Ride) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rides[ride.Key] = *ride
}

func (m *MockRideRepository) Create(ctx context.Context, ride *domain.Ride) error {
	atomic.AddInt32(&m.CreateCallCount, 1)
	if m.CreateError != nil {
		return m.CreateError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.rides[ride.Key]; ok {
		return repository.ErrAlreadyExists
	}
	m.rides[ride.Key] = *ride
	return nil
}

func (m *MockRideRepository) GetByKey(ctx context.Context, key domain.Key) (*domain.Ride, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ride, ok := m.rides[key]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &ride, nil
}

func (m *MockRideRepository) Update(ctx context.Context, key domain.Key, fn repository.MutateFunc) (*domain.Ride, error) {
	atomic.AddInt32(&m.UpdateCallCount, 1)
	if m.UpdateError != nil {
		return nil, m.UpdateError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	current, ok := m.rides[key]
	if !ok {
		return nil, repository.ErrNotFound
	}
	next := current
	if err := fn(&next); err != nil {
		return nil, err
	}
	m.rides[key] = next
	return &next, nil
}

func (m *MockRideRepository) Remove(ctx context.Context, key domain.Key, fn repository.MutateFunc) (*domain.Ride, error) {
	atomic.AddInt32(&m.RemoveCallCount, 1)
	m.mu.Lock()
	defer m.mu.Unlock()
	current, ok := m.rides[key]
	if !ok {
		return nil, repository.ErrNotFound
	}
	snapshot := current
	if err := fn(&snapshot); err != nil {
		return nil, err
	}
	delete(m.rides, key)
	return &current, nil
}

// HookedRideRepository runs AfterGet once, right after the next GetByKey read.
type HookedRideRepository struct {
	*MockRideRepository
	AfterGet func()
}

func (r *HookedRideRepository) GetByKey(ctx context.Context, key domain.Key) (*domain.Ride, error) {
	ride, err := r.MockRideRepository.GetByKey(ctx, key)
	if hook := r.AfterGet; hook != nil {
		r.AfterGet = nil
		hook()
	}
	return ride, err
}

// GetRide returns a ride for test assertions.
func (m *MockRideRepository) GetRide(key domain.Key) (domain.Ride, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ride, ok := m.rides[key]
	return ride, ok
}

// ──────────────────────────────────────────────
// MOCK FUNDER
// ──────────────────────────────────────────────

type mockHold struct {
	owner  domain.Identity
	amount uint64
}

// MockFunder records bond holds without any balance bookkeeping.
type MockFunder struct {
	mu    sync.Mutex
	holds map[string]mockHold
	seq   int

	LockCallCount    int32
	ReleaseCallCount int32

	LockError    error
	ReleaseError error
}

// NewMockFunder creates a new mock funder.
func NewMockFunder() *MockFunder {
	return &MockFunder{holds: make(map[string]mockHold)}
}

// Ensure MockFunder implements bond.Funder.
var _ bond.Funder = (*MockFunder)(nil)

func (m *MockFunder) Lock(ctx context.Context, owner domain.Identity, key domain.Key, amount uint64) (string, error) {
	atomic.AddInt32(&m.LockCallCount, 1)
	if m.LockError != nil {
		return "", m.LockError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq++
	ref := fmt.Sprintf("hold-%d", m.seq)
	m.holds[ref] = mockHold{owner: owner, amount: amount}
	return ref, nil
}

func (m *MockFunder) Release(ctx context.Context, owner domain.Identity, ref string) (uint64, error) {
	atomic.AddInt32(&m.ReleaseCallCount, 1)
	if m.ReleaseError != nil {
		return 0, m.ReleaseError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	h, ok := m.holds[ref]
	if !ok {
		return 0, bond.ErrHoldNotFound
	}
	if h.owner != owner {
		return 0, bond.ErrNotOwner
	}
	delete(m.holds, ref)
	return h.amount, nil
}

// Outstanding returns the number of unreleased holds.
func (m *MockFunder) Outstanding() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.holds)
}

// ──────────────────────────────────────────────
// STUB VERIFIER
// ──────────────────────────────────────────────

// StubVerifier accepts exactly the proofs produced by ProofFor.
type StubVerifier struct {
	CallCount int32
}

// Ensure StubVerifier implements auth.Verifier.
var _ auth.Verifier = (*StubVerifier)(nil)

// ProofFor returns the only proof StubVerifier accepts for id.
func ProofFor(id domain.Identity) string {
	return "proof:" + id.String()
}

func (v *StubVerifier) VerifyControl(ctx context.Context, identity domain.Identity, proof string) error {
	atomic.AddInt32(&v.CallCount, 1)
	if identity.IsZero() {
		return auth.ErrMissingIdentity
	}
	if proof != ProofFor(identity) {
		return auth.ErrInvalidProof
	}
	return nil
}

// ──────────────────────────────────────────────
// RECORDING PUBLISHER
// ──────────────────────────────────────────────

// RecordingPublisher keeps published events in memory.
type RecordingPublisher struct {
	mu     sync.Mutex
	events []events.Event

	PublishError error
}

// Ensure RecordingPublisher implements events.Publisher.
var _ events.Publisher = (*RecordingPublisher)(nil)

func (p *RecordingPublisher) Publish(ctx context.Context, event events.Event) error {
	if p.PublishError != nil {
		return p.PublishError
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return nil
}

func (p *RecordingPublisher) Close() error { return nil }

// Types returns the types of published events in order.
func (p *RecordingPublisher) Types() []events.Type {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]events.Type, len(p.events))
	for i, e := range p.events {
		out[i] = e.Type
	}
	return out
}

// Events returns a copy of published events.
func (p *RecordingPublisher) Events() []events.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]events.Event(nil), p.events...)
}

// ──────────────────────────────────────────────
// MOCK RIDE CACHE
// ──────────────────────────────────────────────

// MockRideCache is an in-memory RideCacheInterface with the same fill rules as
// the Redis cache: invalidation leaves a tombstone and fills never overwrite.
type MockRideCache struct {
	mu         sync.Mutex
	rides      map[domain.Key]domain.Ride
	tombstones map[domain.Key]bool

	HitCount        int32
	SetCount        int32
	InvalidateCount int32
}

// NewMockRideCache creates an empty cache.
func NewMockRideCache() *MockRideCache {
	return &MockRideCache{
		rides:      make(map[domain.Key]domain.Ride),
		tombstones: make(map[domain.Key]bool),
	}
}

func (c *MockRideCache) GetRide(ctx context.Context, key domain.Key) (*domain.Ride, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ride, ok := c.rides[key]
	if !ok {
		return nil, nil
	}
	atomic.AddInt32(&c.HitCount, 1)
	return &ride, nil
}

func (c *MockRideCache) SetRide(ctx context.Context, ride *domain.Ride) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.rides[ride.Key]; ok || c.tombstones[ride.Key] {
		return nil
	}
	atomic.AddInt32(&c.SetCount, 1)
	c.rides[ride.Key] = *ride
	return nil
}

func (c *MockRideCache) InvalidateRide(ctx context.Context, key domain.Key) error {
	atomic.AddInt32(&c.InvalidateCount, 1)
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.rides, key)
	c.tombstones[key] = true
	return nil
}

// Cached reports whether a live entry exists for key.
func (c *MockRideCache) Cached(key domain.Key) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.rides[key]
	return ok
}

// ──────────────────────────────────────────────
// FIXTURES
// ──────────────────────────────────────────────

// testNamespace is the namespace every test ride is derived in.
var testNamespace = address.Namespace{Tag: address.DefaultTag, Program: [32]byte{7, 7, 7}}

// identity returns a deterministic Ed25519 identity for seed.
func identity(seed byte) domain.Identity {
	var s [ed25519.SeedSize]byte
	s[0] = seed
	id, _ := domain.IdentityFromPublicKey(ed25519.NewKeyFromSeed(s[:]).Public().(ed25519.PublicKey))
	return id
}
