package domain

import (
	"crypto/ed25519"
	"encoding/hex"
	"errors"
)

// ErrInvalidIdentity is returned when an identity or key cannot be parsed.
var ErrInvalidIdentity = errors.New("invalid identity")

// Identity is an Ed25519 public key naming a rider or driver.
type Identity [32]byte

// ParseIdentity decodes a hex-encoded 32-byte public key.
func ParseIdentity(s string) (Identity, error) {
	var id Identity
	if err := decode32(s, id[:]); err != nil {
		return Identity{}, err
	}
	return id, nil
}

// IdentityFromPublicKey converts an Ed25519 public key.
func IdentityFromPublicKey(pub ed25519.PublicKey) (Identity, error) {
	var id Identity
	if len(pub) != ed25519.PublicKeySize {
		return Identity{}, ErrInvalidIdentity
	}
	copy(id[:], pub)
	return id, nil
}

// PublicKey returns the identity as an Ed25519 public key.
func (id Identity) PublicKey() ed25519.PublicKey {
	return ed25519.PublicKey(id[:])
}

func (id Identity) IsZero() bool {
	return id == Identity{}
}

func (id Identity) String() string {
	return hex.EncodeToString(id[:])
}

// Key is the derived address of a ride record.
type Key [32]byte

// ParseKey decodes a hex-encoded record key.
func ParseKey(s string) (Key, error) {
	var k Key
	if err := decode32(s, k[:]); err != nil {
		return Key{}, err
	}
	return k, nil
}

func (k Key) IsZero() bool {
	return k == Key{}
}

func (k Key) String() string {
	return hex.EncodeToString(k[:])
}

func decode32(s string, dst []byte) error {
	if hex.DecodedLen(len(s)) != 32 {
		return ErrInvalidIdentity
	}
	if _, err := hex.Decode(dst, []byte(s)); err != nil {
		return ErrInvalidIdentity
	}
	return nil
}
