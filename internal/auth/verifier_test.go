package auth

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v4"

	"rideledger/internal/domain"
)

func newKey(t *testing.T) (domain.Identity, ed25519.PrivateKey) {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	id, err := domain.IdentityFromPublicKey(pub)
	if err != nil {
		t.Fatalf("identity: %v", err)
	}
	return id, priv
}

func TestVerifyControl_ValidProof(t *testing.T) {
	id, priv := newKey(t)
	proof, err := MintProof(priv, "rides", time.Minute)
	if err != nil {
		t.Fatalf("mint: %v", err)
	}

	v := NewJWTVerifier("rides", 5*time.Minute)
	if err := v.VerifyControl(context.Background(), id, proof); err != nil {
		t.Errorf("expected valid proof, got %v", err)
	}
}

func TestVerifyControl_Rejects(t *testing.T) {
	id, priv := newKey(t)
	other, otherPriv := newKey(t)

	valid, _ := MintProof(priv, "rides", time.Minute)
	foreign, _ := MintProof(otherPriv, "rides", time.Minute)
	wrongAud, _ := MintProof(priv, "elsewhere", time.Minute)
	expired, _ := MintProof(priv, "rides", -time.Minute)

	noExpiry, _ := jwt.NewWithClaims(jwt.SigningMethodEdDSA, jwt.RegisteredClaims{
		Subject:  id.String(),
		IssuedAt: jwt.NewNumericDate(time.Now()),
		Audience: jwt.ClaimStrings{"rides"},
	}).SignedString(priv)

	hmac, _ := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   id.String(),
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Minute)),
	}).SignedString([]byte("shared"))

	testCases := []struct {
		name     string
		identity domain.Identity
		proof    string
		wantErr  error
	}{
		{"zero identity", domain.Identity{}, valid, ErrMissingIdentity},
		{"empty proof", id, "", ErrInvalidProof},
		{"garbage", id, "not-a-jwt", ErrInvalidProof},
		{"signed by someone else", id, foreign, ErrInvalidProof},
		{"proof for other identity", other, valid, ErrInvalidProof},
		{"wrong audience", id, wrongAud, ErrInvalidProof},
		{"expired", id, expired, ErrInvalidProof},
		{"no expiry", id, noExpiry, ErrInvalidProof},
		{"hmac signed", id, hmac, ErrInvalidProof},
	}

	v := NewJWTVerifier("rides", 5*time.Minute)
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			err := v.VerifyControl(context.Background(), tc.identity, tc.proof)
			if !errors.Is(err, tc.wantErr) {
				t.Errorf("expected %v, got %v", tc.wantErr, err)
			}
		})
	}
}

func TestVerifyControl_MaxAge(t *testing.T) {
	id, priv := newKey(t)
	proof, _ := MintProof(priv, "", time.Hour)

	v := NewJWTVerifier("", time.Minute)
	v.now = func() time.Time { return time.Now().Add(10 * time.Minute) }

	if err := v.VerifyControl(context.Background(), id, proof); !errors.Is(err, ErrInvalidProof) {
		t.Errorf("expected ErrInvalidProof for stale proof, got %v", err)
	}
}
