// Package pda implements deterministic account address derivation.
//
// Every on-chain entity lives at an address computed from fixed seed tags
// plus an identifying string, so any client can locate it without a
// directory lookup. Derivation is pure: mis-seeding never fails locally,
// it just points at a different (empty) account.
package pda

import (
	"crypto/sha256"
	"fmt"

	"github.com/mr-tron/base58"
)

// Address is a 32-byte account address, rendered as base58 text.
type Address [32]byte

const derivationTag = "agrox:pda:v1"

func (a Address) String() string {
	return base58.Encode(a[:])
}

// IsZero reports whether a is the all-zero address.
func (a Address) IsZero() bool {
	return a == Address{}
}

func (a Address) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}

func (a *Address) UnmarshalText(text []byte) error {
	parsed, err := Parse(string(text))
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}

// Parse decodes a base58 address string.
func Parse(s string) (Address, error) {
	raw, err := base58.Decode(s)
	if err != nil {
		return Address{}, fmt.Errorf("parse address: %w", err)
	}
	if len(raw) != len(Address{}) {
		return Address{}, fmt.Errorf("parse address: want %d bytes, got %d", len(Address{}), len(raw))
	}
	var a Address
	copy(a[:], raw)
	return a, nil
}

// Derive maps an ordered seed tuple plus a program namespace to a
// deterministic address and its collision salt ("bump"). Identical inputs
// always yield the identical address; distinct tuples yield distinct
// addresses with overwhelming probability (sha256).
func Derive(program Address, seeds ...[]byte) (Address, uint8) {
	h := sha256.New()
	for _, s := range seeds {
		// Length-prefix each seed so ("ab","c") and ("a","bc") differ.
		h.Write([]byte{byte(len(s))})
		h.Write(s)
	}
	h.Write(program[:])
	h.Write([]byte(derivationTag))

	var a Address
	copy(a[:], h.Sum(nil))
	return a, a[31]
}
