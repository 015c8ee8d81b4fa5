// Package slab defines the engine's three concatenated POD regions — Header,
// MarketConfig, RiskEngine — and their byte-exact read/write (the same
// discipline a persistence layer's key schema follows: every persisted
// field has one fixed encode/decode path, just keyed by byte offset here
// instead of a store key). Go has no repr(C)/bytemuck equivalent, so each
// region implements its own little-endian Marshal/Unmarshal instead of an
// unsafe pointer cast — the idiomatic Go shape of the same "unaligned byte
// copy of exactly sizeof(region) bytes" contract spec.md §4.9 describes.
package slab

import (
	"encoding/binary"
	"errors"

	"github.com/hyperslab/percolator/pkg/fx128"
	"github.com/hyperslab/percolator/pkg/identity"
)

// Magic is the 64-bit sentinel identifying an initialized slab ("PERCOLAT"
// read as 8 ASCII bytes, the same constant the original program used).
const Magic uint64 = 0x504552434f4c4154

// Version is the build-time slab layout version. A mismatch against a
// loaded slab's Header.Version is fatal (spec.md §6: "A slab is considered
// initialized iff Header.magic equals the sentinel and Header.version
// equals the build value").
const Version uint32 = 1

// MaxAccountsCap is the engine's compile-time account-table capacity. A
// deployed RiskParams.MaxAccounts must be <= MaxAccountsCap; the slab's
// account array is always this wide regardless of the configured cap, so
// that the slab's total byte length is fixed at build time (spec.md §3).
const MaxAccountsCap = 1024

const bitmapWords = (MaxAccountsCap + 63) / 64

// NoFreeIndex sentinels the end of the free-list / an unused slot.
const NoFreeIndex uint32 = 0xFFFFFFFF

// AccountKind distinguishes a User account from an LP account.
type AccountKind uint8

const (
	KindUser AccountKind = iota
	KindLP
)

// ErrLengthMismatch is returned by any region's Unmarshal when the supplied
// byte slice is not exactly the region's fixed length. Per spec.md §4.9,
// length mismatches are fatal, never silently truncated or zero-padded.
var ErrLengthMismatch = errors.New("slab: region length mismatch")

// Header is the first fixed-length region of the slab.
type Header struct {
	Magic              uint64
	Version            uint32
	Admin              identity.ID // zeroed denotes a burned admin (spec.md §3)
	VaultAuthorityBump uint8
	Nonce              uint64 // monotonic matcher-call request id, spec.md §4.4
}

// HeaderLen is Header's fixed on-slab byte length.
const HeaderLen = 8 + 4 + 32 + 1 + 8 + 11 // + reserved padding

// IsInitialized reports whether h carries the build's magic and version.
func (h Header) IsInitialized() bool {
	return h.Magic == Magic && h.Version == Version
}

// Marshal encodes h into a fixed HeaderLen-byte little-endian buffer.
func (h Header) Marshal() []byte {
	b := make([]byte, HeaderLen)
	binary.LittleEndian.PutUint64(b[0:8], h.Magic)
	binary.LittleEndian.PutUint32(b[8:12], h.Version)
	copy(b[12:44], h.Admin[:])
	b[44] = h.VaultAuthorityBump
	binary.LittleEndian.PutUint64(b[45:53], h.Nonce)
	return b
}

// UnmarshalHeader decodes a HeaderLen-byte buffer into a Header.
func UnmarshalHeader(b []byte) (Header, error) {
	if len(b) != HeaderLen {
		return Header{}, ErrLengthMismatch
	}
	var h Header
	h.Magic = binary.LittleEndian.Uint64(b[0:8])
	h.Version = binary.LittleEndian.Uint32(b[8:12])
	copy(h.Admin[:], b[12:44])
	h.VaultAuthorityBump = b[44]
	h.Nonce = binary.LittleEndian.Uint64(b[45:53])
	return h, nil
}

// MarketConfig is the slab's second fixed-length region.
type MarketConfig struct {
	CollateralMint      identity.ID
	Vault               identity.ID
	IndexOracle         identity.ID
	CollateralOracle    identity.ID
	MaxStalenessSlots    uint64
	ConfFilterBps        uint16
	Invert               bool
	UnitScale            uint32 // 0 disables base-token -> unit conversion
	InitialMarkPriceE6   uint64 // required non-zero in Hyperp mode
	OraclePriceCapE2Bps  uint32 // per-slot index-chase cap; 0 disables smoothing
}

// MarketConfigLen is MarketConfig's fixed on-slab byte length.
const MarketConfigLen = 32*4 + 8 + 2 + 1 + 4 + 8 + 4 + 5 // + reserved padding

// Marshal encodes c into a fixed MarketConfigLen-byte little-endian buffer.
func (c MarketConfig) Marshal() []byte {
	b := make([]byte, MarketConfigLen)
	off := 0
	putID := func(id identity.ID) {
		copy(b[off:off+32], id[:])
		off += 32
	}
	putID(c.CollateralMint)
	putID(c.Vault)
	putID(c.IndexOracle)
	putID(c.CollateralOracle)
	binary.LittleEndian.PutUint64(b[off:off+8], c.MaxStalenessSlots)
	off += 8
	binary.LittleEndian.PutUint16(b[off:off+2], c.ConfFilterBps)
	off += 2
	if c.Invert {
		b[off] = 1
	}
	off++
	binary.LittleEndian.PutUint32(b[off:off+4], c.UnitScale)
	off += 4
	binary.LittleEndian.PutUint64(b[off:off+8], c.InitialMarkPriceE6)
	off += 8
	binary.LittleEndian.PutUint32(b[off:off+4], c.OraclePriceCapE2Bps)
	return b
}

// UnmarshalMarketConfig decodes a MarketConfigLen-byte buffer.
func UnmarshalMarketConfig(b []byte) (MarketConfig, error) {
	if len(b) != MarketConfigLen {
		return MarketConfig{}, ErrLengthMismatch
	}
	var c MarketConfig
	off := 0
	getID := func() identity.ID {
		var id identity.ID
		copy(id[:], b[off:off+32])
		off += 32
		return id
	}
	c.CollateralMint = getID()
	c.Vault = getID()
	c.IndexOracle = getID()
	c.CollateralOracle = getID()
	c.MaxStalenessSlots = binary.LittleEndian.Uint64(b[off : off+8])
	off += 8
	c.ConfFilterBps = binary.LittleEndian.Uint16(b[off : off+2])
	off += 2
	c.Invert = b[off] != 0
	off++
	c.UnitScale = binary.LittleEndian.Uint32(b[off : off+4])
	off += 4
	c.InitialMarkPriceE6 = binary.LittleEndian.Uint64(b[off : off+8])
	off += 8
	c.OraclePriceCapE2Bps = binary.LittleEndian.Uint32(b[off : off+4])
	return c, nil
}

// RiskParams holds the fee/margin/liquidation settings that parameterize
// every operation (spec.md §3 table). Field order matches the wire order
// used by InitMarket's payload.
type RiskParams struct {
	WarmupPeriodSlots      uint64
	MaintenanceMarginBps   uint64
	InitialMarginBps       uint64
	TradingFeeBps          uint64
	MaxAccounts            uint64
	NewAccountFee          fx128.UInt128
	RiskReductionThreshold fx128.UInt128
	MaintenanceFeePerSlot  fx128.UInt128
	MaxCrankStalenessSlots uint64
	LiquidationFeeBps      uint64
	LiquidationFeeCap      fx128.UInt128
	LiquidationBufferBps   uint64
	MinLiquidationAbs      fx128.UInt128
}

// RiskParamsLen is RiskParams' fixed encoded byte length.
const RiskParamsLen = 8*8 + 16*5

// Marshal encodes p into a fixed RiskParamsLen-byte little-endian buffer.
func (p RiskParams) Marshal() []byte {
	b := make([]byte, RiskParamsLen)
	off := 0
	putU64 := func(v uint64) {
		binary.LittleEndian.PutUint64(b[off:off+8], v)
		off += 8
	}
	putU128 := func(v fx128.UInt128) {
		bb := v.Bytes16()
		copy(b[off:off+16], bb[:])
		off += 16
	}
	putU64(p.WarmupPeriodSlots)
	putU64(p.MaintenanceMarginBps)
	putU64(p.InitialMarginBps)
	putU64(p.TradingFeeBps)
	putU64(p.MaxAccounts)
	putU128(p.NewAccountFee)
	putU128(p.RiskReductionThreshold)
	putU128(p.MaintenanceFeePerSlot)
	putU64(p.MaxCrankStalenessSlots)
	putU64(p.LiquidationFeeBps)
	putU128(p.LiquidationFeeCap)
	putU64(p.LiquidationBufferBps)
	putU128(p.MinLiquidationAbs)
	return b
}

// UnmarshalRiskParams decodes a RiskParamsLen-byte buffer.
func UnmarshalRiskParams(b []byte) (RiskParams, error) {
	if len(b) != RiskParamsLen {
		return RiskParams{}, ErrLengthMismatch
	}
	var p RiskParams
	off := 0
	getU64 := func() uint64 {
		v := binary.LittleEndian.Uint64(b[off : off+8])
		off += 8
		return v
	}
	getU128 := func() fx128.UInt128 {
		var bb [16]byte
		copy(bb[:], b[off:off+16])
		off += 16
		return fx128.U128SetBytes16(bb)
	}
	p.WarmupPeriodSlots = getU64()
	p.MaintenanceMarginBps = getU64()
	p.InitialMarginBps = getU64()
	p.TradingFeeBps = getU64()
	p.MaxAccounts = getU64()
	p.NewAccountFee = getU128()
	p.RiskReductionThreshold = getU128()
	p.MaintenanceFeePerSlot = getU128()
	p.MaxCrankStalenessSlots = getU64()
	p.LiquidationFeeBps = getU64()
	p.LiquidationFeeCap = getU128()
	p.LiquidationBufferBps = getU64()
	p.MinLiquidationAbs = getU128()
	return p, nil
}

// AccountRecord is one fixed-stride slot of the account table.
//
// Capital is an Int128, not the UInt128 that spec.md §3 calls it at rest:
// §4.7's insolvency sweep explicitly tests `capital < 0` mid-crank, before
// the shortfall is absorbed by the insurance fund within the same pass.
// Resolved by making the ledger field itself signed so that transient
// state is representable without a separate shadow type.
type AccountRecord struct {
	Kind                     AccountKind
	Owner                    identity.ID
	Capital                  fx128.Int128
	PositionSize             fx128.Int128
	EntryPriceE6             fx128.UInt128
	LastFundingIndexSnapshot fx128.Int128
	RealizedPnLWarming       fx128.Int128
	WarmingStartSlot         uint64
	MatcherProgram           identity.ID // LP-only, immutable after registration
	MatcherContext           identity.ID // LP-only, immutable after registration
	LPAccountID              uint64      // LP-only rolling counter, binds matcher returns
	PendingExcludeEpoch      uint16      // CloseAccount refuses while non-zero and equal to PendingEpoch; no engine operation sets it and the crank does not read it
}

// AccountRecordLen is AccountRecord's fixed encoded byte length.
const AccountRecordLen = 1 + 32 + 16*5 + 8 + 32 + 32 + 8 + 2 + 5 // + reserved padding

// Marshal encodes a into a fixed AccountRecordLen-byte little-endian buffer.
func (a AccountRecord) Marshal() []byte {
	b := make([]byte, AccountRecordLen)
	off := 0
	b[off] = byte(a.Kind)
	off++
	copy(b[off:off+32], a.Owner[:])
	off += 32
	putU128 := func(v fx128.UInt128) {
		bb := v.Bytes16()
		copy(b[off:off+16], bb[:])
		off += 16
	}
	putI128 := func(v fx128.Int128) {
		bb := v.Bytes16()
		copy(b[off:off+16], bb[:])
		off += 16
	}
	putI128(a.Capital)
	putI128(a.PositionSize)
	putU128(a.EntryPriceE6)
	putI128(a.LastFundingIndexSnapshot)
	putI128(a.RealizedPnLWarming)
	binary.LittleEndian.PutUint64(b[off:off+8], a.WarmingStartSlot)
	off += 8
	copy(b[off:off+32], a.MatcherProgram[:])
	off += 32
	copy(b[off:off+32], a.MatcherContext[:])
	off += 32
	binary.LittleEndian.PutUint64(b[off:off+8], a.LPAccountID)
	off += 8
	binary.LittleEndian.PutUint16(b[off:off+2], a.PendingExcludeEpoch)
	return b
}

// UnmarshalAccountRecord decodes an AccountRecordLen-byte buffer.
func UnmarshalAccountRecord(b []byte) (AccountRecord, error) {
	if len(b) != AccountRecordLen {
		return AccountRecord{}, ErrLengthMismatch
	}
	var a AccountRecord
	off := 0
	a.Kind = AccountKind(b[off])
	off++
	copy(a.Owner[:], b[off:off+32])
	off += 32
	getU128 := func() fx128.UInt128 {
		var bb [16]byte
		copy(bb[:], b[off:off+16])
		off += 16
		return fx128.U128SetBytes16(bb)
	}
	getI128 := func() fx128.Int128 {
		var bb [16]byte
		copy(bb[:], b[off:off+16])
		off += 16
		return fx128.I128SetBytes16(bb)
	}
	a.Capital = getI128()
	a.PositionSize = getI128()
	a.EntryPriceE6 = getU128()
	a.LastFundingIndexSnapshot = getI128()
	a.RealizedPnLWarming = getI128()
	a.WarmingStartSlot = binary.LittleEndian.Uint64(b[off : off+8])
	off += 8
	copy(a.MatcherProgram[:], b[off:off+32])
	off += 32
	copy(a.MatcherContext[:], b[off:off+32])
	off += 32
	a.LPAccountID = binary.LittleEndian.Uint64(b[off : off+8])
	off += 8
	a.PendingExcludeEpoch = binary.LittleEndian.Uint16(b[off : off+2])
	return a, nil
}
