package tests

import (
	"context"
	"errors"
	"sync"
	"testing"

	"rideledger/internal/address"
	"rideledger/internal/auth"
	"rideledger/internal/bond"
	"rideledger/internal/domain"
	"rideledger/internal/events"
	"rideledger/internal/repository"
	"rideledger/internal/service"
)

var testSchedule = bond.Schedule{OverheadBytes: 128, RatePerByte: 10}

type harness struct {
	svc       *service.RideService
	repo      *MockRideRepository
	funder    *MockFunder
	verifier  *StubVerifier
	publisher *RecordingPublisher
	cache     *MockRideCache
}

func newHarness() *harness {
	h := &harness{
		repo:      NewMockRideRepository(),
		funder:    NewMockFunder(),
		verifier:  &StubVerifier{},
		publisher: &RecordingPublisher{},
		cache:     NewMockRideCache(),
	}
	h.svc = service.NewRideService(service.RideServiceDeps{
		RideRepo:      h.repo,
		Verifier:      h.verifier,
		Funder:        h.funder,
		Schedule:      testSchedule,
		Namespace:     testNamespace,
		Cache:         h.cache,
		Notifications: service.NewNotificationService(h.publisher, nil, nil),
	})
	return h
}

func as(id domain.Identity) service.Caller {
	return service.Caller{Identity: id, Proof: ProofFor(id)}
}

func ref(rider domain.Identity, uniqueID uint64) service.RideRef {
	return service.RideRef{Rider: rider, UniqueID: uniqueID}
}

func (h *harness) create(t *testing.T, rider domain.Identity, uniqueID, fare, distance uint64) *domain.Ride {
	t.Helper()
	ride, err := h.svc.CreateRide(context.Background(), service.CreateRideRequest{
		Caller:   as(rider),
		UniqueID: uniqueID,
		Fare:     fare,
		Distance: distance,
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	return ride
}

var (
	rider    = identity(1)
	driver   = identity(2)
	stranger = identity(3)
)

func TestScenario_AcceptCompleteClose(t *testing.T) {
	h := newHarness()
	ctx := context.Background()

	ride := h.create(t, rider, 1, 500, 3000)
	if ride.Status != domain.RideStatusRequested || ride.HasDriver() || ride.Fare != 500 || ride.Distance != 3000 {
		t.Fatalf("unexpected created ride %+v", ride)
	}
	if ride.Bond != testSchedule.RideBond() {
		t.Errorf("expected bond %d, got %d", testSchedule.RideBond(), ride.Bond)
	}

	ride, err := h.svc.AcceptRide(ctx, ref(rider, 1), as(driver))
	if err != nil {
		t.Fatalf("accept: %v", err)
	}
	if ride.Status != domain.RideStatusAccepted || ride.Driver != driver {
		t.Fatalf("expected accepted by driver, got %+v", ride)
	}

	ride, err = h.svc.CompleteRide(ctx, ref(rider, 1), as(driver))
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if ride.Status != domain.RideStatusCompleted {
		t.Fatalf("expected COMPLETED, got %s", ride.Status)
	}

	if _, err := h.svc.CancelRide(ctx, ref(rider, 1), as(rider), true); !errors.Is(err, service.ErrRideAlreadyCompleted) {
		t.Fatalf("expected ErrRideAlreadyCompleted, got %v", err)
	}

	resp, err := h.svc.CloseRide(ctx, ref(rider, 1), as(rider))
	if err != nil {
		t.Fatalf("close: %v", err)
	}
	if resp.Refunded != testSchedule.RideBond() {
		t.Errorf("expected refund %d, got %d", testSchedule.RideBond(), resp.Refunded)
	}
	if h.funder.Outstanding() != 0 {
		t.Errorf("expected no outstanding holds, got %d", h.funder.Outstanding())
	}

	want := []events.Type{events.TypeRideCreated, events.TypeRideAccepted, events.TypeRideCompleted, events.TypeRideClosed}
	got := h.publisher.Types()
	if len(got) != len(want) {
		t.Fatalf("expected events %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("event %d: expected %s, got %s", i, want[i], got[i])
		}
	}
}

func TestScenario_CancelThenClose(t *testing.T) {
	h := newHarness()
	ctx := context.Background()

	h.create(t, rider, 2, 100, 500)

	ride, err := h.svc.CancelRide(ctx, ref(rider, 2), as(rider), false)
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if ride.Status != domain.RideStatusCancelled {
		t.Fatalf("expected CANCELLED, got %s", ride.Status)
	}

	if _, err := h.svc.AcceptRide(ctx, ref(rider, 2), as(driver)); !errors.Is(err, service.ErrInvalidRideState) {
		t.Fatalf("expected ErrInvalidRideState, got %v", err)
	}

	if _, err := h.svc.CloseRide(ctx, ref(rider, 2), as(rider)); err != nil {
		t.Fatalf("close: %v", err)
	}

	evs := h.publisher.Events()
	cancelled := evs[1]
	if cancelled.Type != events.TypeRideCancelled || cancelled.ByRider == nil || *cancelled.ByRider {
		t.Errorf("expected cancel event with by_rider=false, got %+v", cancelled)
	}
}

func TestCreateThenClose_RecordGone(t *testing.T) {
	h := newHarness()
	ctx := context.Background()

	h.create(t, rider, 3, 10, 10)
	resp, err := h.svc.CloseRide(ctx, ref(rider, 3), as(rider))
	if err != nil {
		t.Fatalf("close: %v", err)
	}
	if resp.Refunded != testSchedule.RideBond() {
		t.Errorf("expected full bond refund, got %d", resp.Refunded)
	}

	ops := map[string]func() error{
		"get": func() error {
			_, err := h.svc.GetRide(ctx, ref(rider, 3))
			return err
		},
		"accept": func() error {
			_, err := h.svc.AcceptRide(ctx, ref(rider, 3), as(driver))
			return err
		},
		"complete": func() error {
			_, err := h.svc.CompleteRide(ctx, ref(rider, 3), as(rider))
			return err
		},
		"cancel": func() error {
			_, err := h.svc.CancelRide(ctx, ref(rider, 3), as(rider), true)
			return err
		},
		"close": func() error {
			_, err := h.svc.CloseRide(ctx, ref(rider, 3), as(rider))
			return err
		},
	}
	for name, op := range ops {
		if err := op(); !errors.Is(err, service.ErrNotFound) {
			t.Errorf("%s after close: expected ErrNotFound, got %v", name, err)
		}
	}
}

// rideIn creates a ride at uniqueID and drives it into status.
func rideIn(t *testing.T, h *harness, uniqueID uint64, status domain.RideStatus) {
	t.Helper()
	ctx := context.Background()
	h.create(t, rider, uniqueID, 100, 100)

	var err error
	switch status {
	case domain.RideStatusAccepted:
		_, err = h.svc.AcceptRide(ctx, ref(rider, uniqueID), as(driver))
	case domain.RideStatusCompleted:
		if _, err = h.svc.AcceptRide(ctx, ref(rider, uniqueID), as(driver)); err == nil {
			_, err = h.svc.CompleteRide(ctx, ref(rider, uniqueID), as(driver))
		}
	case domain.RideStatusCancelled:
		_, err = h.svc.CancelRide(ctx, ref(rider, uniqueID), as(rider), true)
	}
	if err != nil {
		t.Fatalf("drive ride to %s: %v", status, err)
	}
}

func TestTransitionTotality(t *testing.T) {
	type op func(h *harness, id uint64) error
	accept := func(h *harness, id uint64) error {
		_, err := h.svc.AcceptRide(context.Background(), ref(rider, id), as(driver))
		return err
	}
	complete := func(h *harness, id uint64) error {
		_, err := h.svc.CompleteRide(context.Background(), ref(rider, id), as(rider))
		return err
	}
	cancel := func(h *harness, id uint64) error {
		_, err := h.svc.CancelRide(context.Background(), ref(rider, id), as(rider), true)
		return err
	}
	closeRide := func(h *harness, id uint64) error {
		_, err := h.svc.CloseRide(context.Background(), ref(rider, id), as(rider))
		return err
	}

	testCases := []struct {
		from    domain.RideStatus
		name    string
		op      op
		wantErr error
	}{
		{domain.RideStatusRequested, "accept", accept, nil},
		{domain.RideStatusRequested, "complete", complete, service.ErrInvalidRideState},
		{domain.RideStatusRequested, "cancel", cancel, nil},
		{domain.RideStatusRequested, "close", closeRide, nil},

		{domain.RideStatusAccepted, "accept", accept, service.ErrInvalidRideState},
		{domain.RideStatusAccepted, "complete", complete, nil},
		{domain.RideStatusAccepted, "cancel", cancel, nil},
		{domain.RideStatusAccepted, "close", closeRide, nil},

		{domain.RideStatusCompleted, "accept", accept, service.ErrInvalidRideState},
		{domain.RideStatusCompleted, "complete", complete, service.ErrInvalidRideState},
		{domain.RideStatusCompleted, "cancel", cancel, service.ErrRideAlreadyCompleted},
		{domain.RideStatusCompleted, "close", closeRide, nil},

		{domain.RideStatusCancelled, "accept", accept, service.ErrInvalidRideState},
		{domain.RideStatusCancelled, "complete", complete, service.ErrInvalidRideState},
		{domain.RideStatusCancelled, "cancel", cancel, nil},
		{domain.RideStatusCancelled, "close", closeRide, nil},
	}

	for i, tc := range testCases {
		t.Run(string(tc.from)+"/"+tc.name, func(t *testing.T) {
			h := newHarness()
			id := uint64(100 + i)
			rideIn(t, h, id, tc.from)
			key, _, _ := address.DeriveKey(testNamespace, rider, id)
			before, _ := h.repo.GetRide(key)

			err := tc.op(h, id)
			if tc.wantErr == nil {
				if err != nil {
					t.Fatalf("expected success, got %v", err)
				}
				return
			}
			if !errors.Is(err, tc.wantErr) {
				t.Fatalf("expected %v, got %v", tc.wantErr, err)
			}
			after, _ := h.repo.GetRide(key)
			if after != before {
				t.Errorf("rejected operation changed the record: %+v -> %+v", before, after)
			}
		})
	}
}

func TestAccept_SelfAcceptanceRejected(t *testing.T) {
	h := newHarness()
	h.create(t, rider, 4, 1, 1)

	_, err := h.svc.AcceptRide(context.Background(), ref(rider, 4), as(rider))
	if !errors.Is(err, service.ErrSelfAcceptance) || !errors.Is(err, service.ErrUnauthorized) {
		t.Fatalf("expected ErrSelfAcceptance wrapping ErrUnauthorized, got %v", err)
	}

	ride, _ := h.svc.GetRide(context.Background(), ref(rider, 4))
	if ride.Status != domain.RideStatusRequested || ride.HasDriver() {
		t.Errorf("self acceptance changed the ride: %+v", ride)
	}
}

func TestAccept_TwiceRejected(t *testing.T) {
	h := newHarness()
	ctx := context.Background()
	h.create(t, rider, 5, 1, 1)

	if _, err := h.svc.AcceptRide(ctx, ref(rider, 5), as(driver)); err != nil {
		t.Fatalf("first accept: %v", err)
	}

	for _, d := range []domain.Identity{driver, stranger} {
		if _, err := h.svc.AcceptRide(ctx, ref(rider, 5), as(d)); !errors.Is(err, service.ErrInvalidRideState) {
			t.Errorf("second accept: expected ErrInvalidRideState, got %v", err)
		}
	}

	ride, _ := h.svc.GetRide(ctx, ref(rider, 5))
	if ride.Driver != driver {
		t.Errorf("driver was rebound to %s", ride.Driver)
	}
}

func TestAuthorization(t *testing.T) {
	ctx := context.Background()

	testCases := []struct {
		name    string
		run     func(h *harness) error
		wantErr error
	}{
		{"stranger completes", func(h *harness) error {
			_, err := h.svc.CompleteRide(ctx, ref(rider, 6), as(stranger))
			return err
		}, service.ErrUnauthorized},
		{"stranger cancels", func(h *harness) error {
			_, err := h.svc.CancelRide(ctx, ref(rider, 6), as(stranger), false)
			return err
		}, service.ErrUnauthorized},
		{"driver closes", func(h *harness) error {
			_, err := h.svc.CloseRide(ctx, ref(rider, 6), as(driver))
			return err
		}, service.ErrUnauthorized},
		{"forged proof", func(h *harness) error {
			_, err := h.svc.CompleteRide(ctx, ref(rider, 6), service.Caller{Identity: driver, Proof: ProofFor(rider)})
			return err
		}, auth.ErrInvalidProof},
		{"anonymous", func(h *harness) error {
			_, err := h.svc.CancelRide(ctx, ref(rider, 6), service.Caller{}, true)
			return err
		}, auth.ErrMissingIdentity},
		{"proof checked before existence", func(h *harness) error {
			_, err := h.svc.AcceptRide(ctx, ref(rider, 999), service.Caller{Identity: driver})
			return err
		}, auth.ErrInvalidProof},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			h := newHarness()
			rideIn(t, h, 6, domain.RideStatusAccepted)

			if err := tc.run(h); !errors.Is(err, tc.wantErr) {
				t.Fatalf("expected %v, got %v", tc.wantErr, err)
			}

			ride, err := h.svc.GetRide(ctx, ref(rider, 6))
			if err != nil || ride.Status != domain.RideStatusAccepted {
				t.Errorf("record changed after rejected call: %+v, %v", ride, err)
			}
		})
	}
}

func TestCreate_AlreadyExists(t *testing.T) {
	h := newHarness()
	h.create(t, rider, 7, 1, 1)

	_, err := h.svc.CreateRide(context.Background(), service.CreateRideRequest{Caller: as(rider), UniqueID: 7, Fare: 9, Distance: 9})
	if !errors.Is(err, service.ErrAlreadyExists) {
		t.Fatalf("expected ErrAlreadyExists, got %v", err)
	}
	if h.funder.LockCallCount != 1 || h.funder.Outstanding() != 1 {
		t.Errorf("duplicate create touched the funder: locks=%d outstanding=%d", h.funder.LockCallCount, h.funder.Outstanding())
	}

	// Another rider may reuse the same unique id.
	h.create(t, driver, 7, 1, 1)
}

func TestCreate_BondFailures(t *testing.T) {
	ctx := context.Background()

	t.Run("insufficient funds", func(t *testing.T) {
		h := newHarness()
		h.funder.LockError = bond.ErrInsufficientFunds

		_, err := h.svc.CreateRide(ctx, service.CreateRideRequest{Caller: as(rider), UniqueID: 8})
		if !errors.Is(err, bond.ErrInsufficientFunds) {
			t.Fatalf("expected ErrInsufficientFunds, got %v", err)
		}
		if h.repo.CreateCallCount != 0 {
			t.Error("record created without a bond")
		}
	})

	t.Run("store failure releases bond", func(t *testing.T) {
		h := newHarness()
		h.repo.CreateError = errors.New("disk full")

		if _, err := h.svc.CreateRide(ctx, service.CreateRideRequest{Caller: as(rider), UniqueID: 8}); err == nil {
			t.Fatal("expected error")
		}
		if h.funder.Outstanding() != 0 {
			t.Errorf("expected bond released, %d holds outstanding", h.funder.Outstanding())
		}
	})

	t.Run("lost race releases bond", func(t *testing.T) {
		h := newHarness()
		h.repo.CreateError = repository.ErrAlreadyExists

		_, err := h.svc.CreateRide(ctx, service.CreateRideRequest{Caller: as(rider), UniqueID: 8})
		if !errors.Is(err, service.ErrAlreadyExists) {
			t.Fatalf("expected ErrAlreadyExists, got %v", err)
		}
		if h.funder.Outstanding() != 0 {
			t.Error("expected bond released")
		}
	})
}

func TestClose_ReleaseFailureReported(t *testing.T) {
	h := newHarness()
	h.create(t, rider, 9, 1, 1)
	h.funder.ReleaseError = errors.New("funder down")

	if _, err := h.svc.CloseRide(context.Background(), ref(rider, 9), as(rider)); err == nil {
		t.Fatal("expected release error")
	}
	if _, err := h.svc.GetRide(context.Background(), ref(rider, 9)); !errors.Is(err, service.ErrNotFound) {
		t.Errorf("expected record removed, got %v", err)
	}
}

func TestKeyChecks(t *testing.T) {
	h := newHarness()
	ctx := context.Background()
	h.create(t, rider, 10, 1, 1)

	wrong, _, _ := address.DeriveKey(testNamespace, rider, 11)
	claimed := service.RideRef{Rider: rider, UniqueID: 10, Key: &wrong}
	if _, err := h.svc.AcceptRide(ctx, claimed, as(driver)); !errors.Is(err, address.ErrKeyMismatch) {
		t.Errorf("expected ErrKeyMismatch for claimed key, got %v", err)
	}

	_, err := h.svc.CreateRide(ctx, service.CreateRideRequest{Caller: as(rider), UniqueID: 12, Key: &wrong})
	if !errors.Is(err, address.ErrKeyMismatch) {
		t.Errorf("expected ErrKeyMismatch on create, got %v", err)
	}

	// A stored record with a non-canonical bump is rejected.
	key, bump, _ := address.DeriveKey(testNamespace, rider, 13)
	h.repo.AddRide(&domain.Ride{Key: key, Bump: bump - 1, Rider: rider, UniqueID: 13, Status: domain.RideStatusRequested})
	if _, err := h.svc.AcceptRide(ctx, ref(rider, 13), as(driver)); !errors.Is(err, address.ErrKeyMismatch) {
		t.Errorf("expected ErrKeyMismatch for bad bump, got %v", err)
	}

	if _, err := h.svc.GetRide(ctx, service.RideRef{UniqueID: 1}); !errors.Is(err, service.ErrInvalidRiderID) {
		t.Errorf("expected ErrInvalidRiderID, got %v", err)
	}
}

func TestCompleteAndCancel_OnlyOneCommits(t *testing.T) {
	h := newHarness()
	ctx := context.Background()

	for i := uint64(0); i < 50; i++ {
		id := 1000 + i
		rideIn(t, h, id, domain.RideStatusAccepted)

		var wg sync.WaitGroup
		var completeErr, cancelErr error
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, completeErr = h.svc.CompleteRide(ctx, ref(rider, id), as(driver))
		}()
		go func() {
			defer wg.Done()
			_, cancelErr = h.svc.CancelRide(ctx, ref(rider, id), as(rider), true)
		}()
		wg.Wait()

		switch {
		case completeErr == nil && errors.Is(cancelErr, service.ErrRideAlreadyCompleted):
		case cancelErr == nil && errors.Is(completeErr, service.ErrInvalidRideState):
		default:
			t.Fatalf("ride %d: expected exactly one commit, got complete=%v cancel=%v", id, completeErr, cancelErr)
		}
	}
}

func TestGetRide_UsesCacheAndInvalidates(t *testing.T) {
	h := newHarness()
	ctx := context.Background()
	h.create(t, rider, 14, 1, 1)

	if _, err := h.svc.GetRide(ctx, ref(rider, 14)); err != nil {
		t.Fatalf("get: %v", err)
	}
	if _, err := h.svc.GetRide(ctx, ref(rider, 14)); err != nil {
		t.Fatalf("get: %v", err)
	}
	if h.cache.HitCount != 1 {
		t.Errorf("expected 1 cache hit, got %d", h.cache.HitCount)
	}

	if _, err := h.svc.AcceptRide(ctx, ref(rider, 14), as(driver)); err != nil {
		t.Fatalf("accept: %v", err)
	}
	ride, _ := h.svc.GetRide(ctx, ref(rider, 14))
	if ride.Status != domain.RideStatusAccepted {
		t.Errorf("stale cached status %s after accept", ride.Status)
	}
}

func TestNotifications_PublishFailureDoesNotFailOperation(t *testing.T) {
	h := newHarness()
	h.publisher.PublishError = errors.New("broker down")

	h.create(t, rider, 15, 1, 1)
	if _, err := h.svc.AcceptRide(context.Background(), ref(rider, 15), as(driver)); err != nil {
		t.Fatalf("accept: %v", err)
	}
}

func TestDeriveKey_MatchesAddressing(t *testing.T) {
	h := newHarness()

	got, err := h.svc.DeriveKey(rider, 16)
	if err != nil {
		t.Fatalf("derive: %v", err)
	}
	key, bump, _ := address.DeriveKey(testNamespace, rider, 16)
	if got.Key != key || got.Bump != bump {
		t.Errorf("service derived %s/%d, addressing derived %s/%d", got.Key, got.Bump, key, bump)
	}

	ride := h.create(t, rider, 16, 1, 1)
	if ride.Key != key || ride.Bump != bump {
		t.Error("created ride not stored at derived key")
	}
}

func TestGetRide_CloseDuringReadDoesNotRefillCache(t *testing.T) {
	ctx := context.Background()
	repo := &HookedRideRepository{MockRideRepository: NewMockRideRepository()}
	cache := NewMockRideCache()
	svc := service.NewRideService(service.RideServiceDeps{
		RideRepo:      repo,
		Verifier:      &StubVerifier{},
		Funder:        NewMockFunder(),
		Schedule:      testSchedule,
		Namespace:     testNamespace,
		Cache:         cache,
		Notifications: service.NewNotificationService(&RecordingPublisher{}, nil, nil),
	})

	if _, err := svc.CreateRide(ctx, service.CreateRideRequest{Caller: as(rider), UniqueID: 17, Fare: 1, Distance: 1}); err != nil {
		t.Fatalf("create: %v", err)
	}

	// The close commits and invalidates between the store read and the fill.
	repo.AfterGet = func() {
		if _, err := svc.CloseRide(ctx, ref(rider, 17), as(rider)); err != nil {
			t.Errorf("close: %v", err)
		}
	}
	if _, err := svc.GetRide(ctx, ref(rider, 17)); err != nil {
		t.Fatalf("first get: %v", err)
	}

	key, _, _ := address.DeriveKey(testNamespace, rider, 17)
	if cache.Cached(key) {
		t.Error("stale ride was written to the cache after invalidation")
	}
	if ride, err := svc.GetRide(ctx, ref(rider, 17)); !errors.Is(err, service.ErrNotFound) {
		t.Fatalf("get after close: expected ErrNotFound, got %+v, %v", ride, err)
	}
}

func TestGetRide_TransitionDuringReadDoesNotRefillCache(t *testing.T) {
	ctx := context.Background()
	repo := &HookedRideRepository{MockRideRepository: NewMockRideRepository()}
	cache := NewMockRideCache()
	svc := service.NewRideService(service.RideServiceDeps{
		RideRepo:  repo,
		Verifier:  &StubVerifier{},
		Funder:    NewMockFunder(),
		Schedule:  testSchedule,
		Namespace: testNamespace,
		Cache:     cache,
	})

	if _, err := svc.CreateRide(ctx, service.CreateRideRequest{Caller: as(rider), UniqueID: 18}); err != nil {
		t.Fatalf("create: %v", err)
	}
	repo.AfterGet = func() {
		if _, err := svc.AcceptRide(ctx, ref(rider, 18), as(driver)); err != nil {
			t.Errorf("accept: %v", err)
		}
	}
	if _, err := svc.GetRide(ctx, ref(rider, 18)); err != nil {
		t.Fatalf("first get: %v", err)
	}

	ride, err := svc.GetRide(ctx, ref(rider, 18))
	if err != nil {
		t.Fatalf("second get: %v", err)
	}
	if ride.Status != domain.RideStatusAccepted {
		t.Errorf("expected ACCEPTED after concurrent accept, got %s", ride.Status)
	}
}
