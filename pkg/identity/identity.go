// Package identity defines the 32-byte identity type used throughout the
// slab: admin, account owner, collateral mint/vault, oracle, and matcher
// program/context identities. Solana pubkeys are 32 bytes; go-ethereum's
// common.Hash (also 32 bytes) is the closest existing primitive at hand, so
// ID is a thin rename over it rather than a bespoke byte array, the same way
// common.Address/common.Hash get used as identity types elsewhere.
package identity

import (
	"github.com/ethereum/go-ethereum/common"
)

// ID is a 32-byte identity.
type ID = common.Hash

// Zero is the zeroed identity. Per spec.md §3 Header, a zeroed admin value
// denotes a burned admin disabling admin ops.
var Zero ID

// IsZero reports whether id is the all-zero identity.
func IsZero(id ID) bool { return id == Zero }

// FromAddress left-pads a 20-byte go-ethereum address into a 32-byte ID. Used
// by the auth package to turn a verified signer's address into a slab-native
// owner identity.
func FromAddress(addr common.Address) ID {
	var id ID
	copy(id[12:], addr[:])
	return id
}

// FromBytes32 copies a raw 32-byte slice into an ID, e.g. when decoding an
// instruction payload field.
func FromBytes32(b [32]byte) ID {
	return ID(b)
}
