// Package address derives the deterministic key under which a ride record lives.
//
// A key is SHA-256 over the namespace tag, the rider identity, the little-endian
// unique id, a one-byte bump, the program id and a fixed domain separator. Bumps are
// tried from 255 downwards and the first digest that does not decode as an Ed25519
// point is taken, so record keys never coincide with a signing identity. The bump is
// stored with the record and lets anyone re-check the derivation.
package address

import (
	"crypto/sha256"
	"encoding/binary"
	"errors"

	"filippo.io/edwards25519"

	"rideledger/internal/domain"
)

// DefaultTag is the namespace tag for ride records.
const DefaultTag = "ride"

const (
	maxSeedLen = 32
	marker     = "ProgramDerivedAddress"
)

var (
	// ErrKeyMismatch is returned when a key or bump does not match the re-derived value.
	ErrKeyMismatch = errors.New("ride key does not match derived key")

	// ErrNoViableBump is returned when every bump lands on the curve.
	ErrNoViableBump = errors.New("no viable bump for seeds")

	// ErrInvalidSeed is returned when the namespace tag is empty or too long.
	ErrInvalidSeed = errors.New("invalid namespace seed")
)

// Namespace is the immutable part of every ride key.
type Namespace struct {
	Tag     string
	Program [32]byte
}

// NewNamespace returns a namespace for the given program id with the default tag.
func NewNamespace(program [32]byte) Namespace {
	return Namespace{Tag: DefaultTag, Program: program}
}

func (ns Namespace) validate() error {
	if len(ns.Tag) == 0 || len(ns.Tag) > maxSeedLen {
		return ErrInvalidSeed
	}
	return nil
}

// DeriveKey returns the key and canonical bump for a rider's ride.
func DeriveKey(ns Namespace, rider domain.Identity, uniqueID uint64) (domain.Key, uint8, error) {
	if err := ns.validate(); err != nil {
		return domain.Key{}, 0, err
	}
	for bump := 255; bump >= 0; bump-- {
		candidate := hashSeeds(ns, rider, uniqueID, uint8(bump))
		if !onCurve(candidate) {
			return candidate, uint8(bump), nil
		}
	}
	return domain.Key{}, 0, ErrNoViableBump
}

// VerifyKey checks that key and bump are exactly what DeriveKey yields for the inputs.
func VerifyKey(ns Namespace, rider domain.Identity, uniqueID uint64, key domain.Key, bump uint8) error {
	derived, derivedBump, err := DeriveKey(ns, rider, uniqueID)
	if err != nil {
		return err
	}
	if derived != key || derivedBump != bump {
		return ErrKeyMismatch
	}
	return nil
}

func hashSeeds(ns Namespace, rider domain.Identity, uniqueID uint64, bump uint8) domain.Key {
	var id [8]byte
	binary.LittleEndian.PutUint64(id[:], uniqueID)

	h := sha256.New()
	h.Write([]byte(ns.Tag))
	h.Write(rider[:])
	h.Write(id[:])
	h.Write([]byte{bump})
	h.Write(ns.Program[:])
	h.Write([]byte(marker))

	var k domain.Key
	copy(k[:], h.Sum(nil))
	return k
}

func onCurve(k domain.Key) bool {
	_, err := new(edwards25519.Point).SetBytes(k[:])
	return err == nil
}
