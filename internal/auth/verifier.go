// Package auth verifies that a caller controls the identity it claims.
//
// A proof is a short-lived EdDSA JWT whose subject is the hex identity and which is
// signed by that identity's Ed25519 private key. Verification needs no key registry:
// the claimed identity is itself the public key.
package auth

import (
	"context"
	"crypto/ed25519"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v4"

	"rideledger/internal/domain"
)

var (
	// ErrInvalidProof is returned when a proof does not establish control of the identity.
	ErrInvalidProof = errors.New("invalid proof of control")

	// ErrMissingIdentity is returned when no identity was supplied.
	ErrMissingIdentity = errors.New("missing caller identity")
)

// Verifier validates proof-of-control claims.
type Verifier interface {
	VerifyControl(ctx context.Context, identity domain.Identity, proof string) error
}

// Ensure JWTVerifier implements Verifier.
var _ Verifier = (*JWTVerifier)(nil)

// JWTVerifier checks EdDSA-signed JWT proofs.
type JWTVerifier struct {
	audience string
	maxAge   time.Duration
	now      func() time.Time
}

// NewJWTVerifier creates a verifier. An empty audience disables the audience check;
// a zero maxAge disables the issued-at age check.
func NewJWTVerifier(audience string, maxAge time.Duration) *JWTVerifier {
	return &JWTVerifier{
		audience: audience,
		maxAge:   maxAge,
		now:      time.Now,
	}
}

// VerifyControl returns nil if proof was signed by identity and is currently valid.
func (v *JWTVerifier) VerifyControl(ctx context.Context, identity domain.Identity, proof string) error {
	if identity.IsZero() {
		return ErrMissingIdentity
	}
	if proof == "" {
		return ErrInvalidProof
	}

	claims := &jwt.RegisteredClaims{}
	parser := jwt.Parser{ValidMethods: []string{jwt.SigningMethodEdDSA.Alg()}}
	token, err := parser.ParseWithClaims(proof, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodEd25519); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return identity.PublicKey(), nil
	})
	if err != nil || !token.Valid {
		return fmt.Errorf("%w: %v", ErrInvalidProof, err)
	}

	if claims.Subject != identity.String() {
		return fmt.Errorf("%w: subject does not match identity", ErrInvalidProof)
	}
	if claims.ExpiresAt == nil {
		return fmt.Errorf("%w: proof has no expiry", ErrInvalidProof)
	}
	if v.audience != "" && !claims.VerifyAudience(v.audience, true) {
		return fmt.Errorf("%w: wrong audience", ErrInvalidProof)
	}
	if v.maxAge > 0 {
		if claims.IssuedAt == nil || v.now().Sub(claims.IssuedAt.Time) > v.maxAge {
			return fmt.Errorf("%w: proof too old", ErrInvalidProof)
		}
	}

	return nil
}

// MintProof signs a proof for the identity of priv, valid for ttl.
func MintProof(priv ed25519.PrivateKey, audience string, ttl time.Duration) (string, error) {
	id, err := domain.IdentityFromPublicKey(priv.Public().(ed25519.PublicKey))
	if err != nil {
		return "", err
	}

	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:   id.String(),
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	if audience != "" {
		claims.Audience = jwt.ClaimStrings{audience}
	}

	return jwt.NewWithClaims(jwt.SigningMethodEdDSA, claims).SignedString(priv)
}
