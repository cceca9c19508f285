// Package chain verifies access grants recorded on a Solana-style ledger:
// deterministic program-derived addresses, fixed-offset account decoding,
// and read-only JSON-RPC lookups.
package chain

import (
	"crypto/sha256"
	"errors"
	"fmt"

	"filippo.io/edwards25519"
	"github.com/mr-tron/base58"
)

// PublicKey is a raw 32-byte ledger identity.
type PublicKey [32]byte

// PublicKeyFromBase58 decodes a base58 identity string.
func PublicKeyFromBase58(s string) (PublicKey, error) {
	var pk PublicKey
	raw, err := base58.Decode(s)
	if err != nil {
		return pk, fmt.Errorf("chain: decode pubkey: %w", err)
	}
	if len(raw) != len(pk) {
		return pk, fmt.Errorf("chain: pubkey must be %d bytes, got %d", len(pk), len(raw))
	}
	copy(pk[:], raw)
	return pk, nil
}

// PublicKeyFromBytes copies a raw 32-byte identity.
func PublicKeyFromBytes(b []byte) (PublicKey, error) {
	var pk PublicKey
	if len(b) != len(pk) {
		return pk, fmt.Errorf("chain: pubkey must be %d bytes, got %d", len(pk), len(b))
	}
	copy(pk[:], b)
	return pk, nil
}

func (p PublicKey) Bytes() []byte { return p[:] }

func (p PublicKey) String() string { return base58.Encode(p[:]) }

// IsOnCurve reports whether the bytes decode to an ed25519 curve point.
// Derived addresses must be off-curve so no private key can ever sign for
// them.
func (p PublicKey) IsOnCurve() bool {
	_, err := new(edwards25519.Point).SetBytes(p[:])
	return err == nil
}

const (
	maxSeedLength = 32
	maxSeeds      = 16

	pdaMarker = "ProgramDerivedAddress"
)

var errNoViableBump = errors.New("chain: unable to find a viable program address bump")

// FindProgramAddress derives the canonical off-curve address for the ordered
// seed list under programID, probing bump seeds from 255 downward. The
// result is a pure function of its inputs.
func FindProgramAddress(seeds [][]byte, programID PublicKey) (PublicKey, uint8, error) {
	if len(seeds) > maxSeeds {
		return PublicKey{}, 0, fmt.Errorf("chain: too many seeds (%d)", len(seeds))
	}
	for _, seed := range seeds {
		if len(seed) > maxSeedLength {
			return PublicKey{}, 0, fmt.Errorf("chain: seed exceeds %d bytes", maxSeedLength)
		}
	}
	for bump := 255; bump >= 0; bump-- {
		h := sha256.New()
		for _, seed := range seeds {
			h.Write(seed)
		}
		h.Write([]byte{byte(bump)})
		h.Write(programID[:])
		h.Write([]byte(pdaMarker))

		var candidate PublicKey
		copy(candidate[:], h.Sum(nil))
		if !candidate.IsOnCurve() {
			return candidate, uint8(bump), nil
		}
	}
	return PublicKey{}, 0, errNoViableBump
}

// DeriveGrantAddress derives the grant account address for
// (owner, grantee, scope_hash) under programID. Seed order is the contract:
// "grant", owner bytes, grantee bytes, scope hash bytes.
func DeriveGrantAddress(programID, owner, grantee PublicKey, scopeHash []byte) (PublicKey, error) {
	addr, _, err := FindProgramAddress([][]byte{
		[]byte("grant"),
		owner.Bytes(),
		grantee.Bytes(),
		scopeHash,
	}, programID)
	return addr, err
}

// DeriveRevokeAddress derives the revocation-record address for a grant
// account. Seeds: "revoke", grant address bytes.
func DeriveRevokeAddress(programID, grant PublicKey) (PublicKey, error) {
	addr, _, err := FindProgramAddress([][]byte{
		[]byte("revoke"),
		grant.Bytes(),
	}, programID)
	return addr, err
}
