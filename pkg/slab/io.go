package slab

import (
	"crypto/sha256"
	"fmt"

	"github.com/hyperslab/percolator/pkg/identity"
)

// Len is the full slab's fixed byte length: Header + MarketConfig +
// RiskEngine concatenated in that order (spec.md §3, §4.9).
const Len = HeaderLen + MarketConfigLen + RiskEngineLen

// Slab bundles the three decoded regions, the in-memory mirror of the
// on-disk/on-chain byte buffer.
type Slab struct {
	Header       Header
	MarketConfig MarketConfig
	Engine       *RiskEngine
}

// Marshal concatenates all three regions into a single Len-byte buffer.
func (s *Slab) Marshal() []byte {
	out := make([]byte, 0, Len)
	out = append(out, s.Header.Marshal()...)
	out = append(out, s.MarketConfig.Marshal()...)
	out = append(out, s.Engine.Marshal()...)
	return out
}

// Unmarshal decodes an exactly-Len-byte buffer into a Slab. A length
// mismatch is fatal, never silently truncated (spec.md §4.9).
func Unmarshal(b []byte) (*Slab, error) {
	if len(b) != Len {
		return nil, fmt.Errorf("slab: %w: got %d want %d", ErrLengthMismatch, len(b), Len)
	}
	h, err := UnmarshalHeader(b[:HeaderLen])
	if err != nil {
		return nil, fmt.Errorf("slab: header: %w", err)
	}
	cfg, err := UnmarshalMarketConfig(b[HeaderLen : HeaderLen+MarketConfigLen])
	if err != nil {
		return nil, fmt.Errorf("slab: market config: %w", err)
	}
	eng, err := UnmarshalRiskEngine(b[HeaderLen+MarketConfigLen:])
	if err != nil {
		return nil, fmt.Errorf("slab: risk engine: %w", err)
	}
	return &Slab{Header: h, MarketConfig: cfg, Engine: eng}, nil
}

// VaultSeedPrefix mirrors the original program's PDA seed literal
// (`[b"vault", slab_key.as_ref()]`) — supplemented from original_source/
// since the distilled spec drops Solana's program-derived-address
// mechanics but still names `vault_authority_bump` on Header (spec.md §3).
// A Go deployment has no PDA derivation step, but keeping the same
// seed-hash shape lets an operator deterministically recompute which
// authority identity is allowed to move vault funds for a given slab,
// without storing that derived identity redundantly on-slab.
var VaultSeedPrefix = []byte("vault")

// DeriveVaultSeed computes a deterministic 32-byte identity from the vault
// seed prefix and the slab's own identity, the same role Solana's
// find_program_address PDA played in the original program: binding a
// single authority identity to one slab instance that the collateral
// collaborator can check before honoring a withdraw.
func DeriveVaultSeed(slabID identity.ID) identity.ID {
	h := sha256.New()
	h.Write(VaultSeedPrefix)
	h.Write(slabID[:])
	var out identity.ID
	copy(out[:], h.Sum(nil))
	return out
}
