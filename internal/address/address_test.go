package address

import (
	"crypto/ed25519"
	"errors"
	"testing"

	"rideledger/internal/domain"
)

func testNamespace() Namespace {
	var program [32]byte
	for i := range program {
		program[i] = byte(i + 1)
	}
	return NewNamespace(program)
}

func testRider(seed byte) domain.Identity {
	var s [ed25519.SeedSize]byte
	s[0] = seed
	pub := ed25519.NewKeyFromSeed(s[:]).Public().(ed25519.PublicKey)
	id, _ := domain.IdentityFromPublicKey(pub)
	return id
}

func TestDeriveKey_Deterministic(t *testing.T) {
	ns := testNamespace()
	rider := testRider(1)

	k1, b1, err := DeriveKey(ns, rider, 42)
	if err != nil {
		t.Fatalf("derive: %v", err)
	}
	k2, b2, err := DeriveKey(ns, rider, 42)
	if err != nil {
		t.Fatalf("derive: %v", err)
	}

	if k1 != k2 || b1 != b2 {
		t.Errorf("expected identical derivation, got %s/%d and %s/%d", k1, b1, k2, b2)
	}
}

func TestDeriveKey_DistinctInputs(t *testing.T) {
	ns := testNamespace()
	riderA := testRider(1)
	riderB := testRider(2)

	testCases := []struct {
		name  string
		rider domain.Identity
		id    uint64
	}{
		{"rider a id 1", riderA, 1},
		{"rider a id 2", riderA, 2},
		{"rider b id 1", riderB, 1},
		{"rider a max id", riderA, ^uint64(0)},
	}

	seen := make(map[domain.Key]string)
	for _, tc := range testCases {
		k, _, err := DeriveKey(ns, tc.rider, tc.id)
		if err != nil {
			t.Fatalf("%s: derive: %v", tc.name, err)
		}
		if prev, ok := seen[k]; ok {
			t.Errorf("%s collides with %s", tc.name, prev)
		}
		seen[k] = tc.name
	}
}

func TestDeriveKey_NamespaceChangesKey(t *testing.T) {
	rider := testRider(1)
	ns := testNamespace()
	other := ns
	other.Program[0] ^= 0xff

	k1, _, _ := DeriveKey(ns, rider, 7)
	k2, _, _ := DeriveKey(other, rider, 7)
	if k1 == k2 {
		t.Error("expected different keys for different programs")
	}

	tagged := ns
	tagged.Tag = "trip"
	k3, _, _ := DeriveKey(tagged, rider, 7)
	if k1 == k3 {
		t.Error("expected different keys for different tags")
	}
}

func TestDeriveKey_KeyIsOffCurve(t *testing.T) {
	ns := testNamespace()
	for i := uint64(0); i < 32; i++ {
		k, _, err := DeriveKey(ns, testRider(3), i)
		if err != nil {
			t.Fatalf("derive: %v", err)
		}
		if onCurve(k) {
			t.Errorf("unique id %d: derived key %s is a valid curve point", i, k)
		}
	}
}

func TestDeriveKey_RejectsBadTag(t *testing.T) {
	rider := testRider(1)

	testCases := []struct {
		name string
		tag  string
	}{
		{"empty", ""},
		{"too long", "0123456789abcdef0123456789abcdef!"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			ns := testNamespace()
			ns.Tag = tc.tag
			_, _, err := DeriveKey(ns, rider, 1)
			if !errors.Is(err, ErrInvalidSeed) {
				t.Errorf("expected ErrInvalidSeed, got %v", err)
			}
		})
	}
}

func TestVerifyKey(t *testing.T) {
	ns := testNamespace()
	rider := testRider(1)
	key, bump, err := DeriveKey(ns, rider, 9)
	if err != nil {
		t.Fatalf("derive: %v", err)
	}

	if err := VerifyKey(ns, rider, 9, key, bump); err != nil {
		t.Errorf("expected valid key, got %v", err)
	}

	if err := VerifyKey(ns, rider, 10, key, bump); !errors.Is(err, ErrKeyMismatch) {
		t.Errorf("expected ErrKeyMismatch for wrong unique id, got %v", err)
	}

	if err := VerifyKey(ns, testRider(2), 9, key, bump); !errors.Is(err, ErrKeyMismatch) {
		t.Errorf("expected ErrKeyMismatch for wrong rider, got %v", err)
	}

	if err := VerifyKey(ns, rider, 9, key, bump-1); !errors.Is(err, ErrKeyMismatch) {
		t.Errorf("expected ErrKeyMismatch for wrong bump, got %v", err)
	}
}
