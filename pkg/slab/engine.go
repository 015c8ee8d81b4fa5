package slab

import (
	"encoding/binary"

	"github.com/hyperslab/percolator/pkg/fx128"
	"github.com/hyperslab/percolator/pkg/identity"
)

// RiskEngine is the slab's third and largest fixed-length region: the
// account table plus every piece of engine-global ledger state described in
// spec.md §3 "Global engine state".
type RiskEngine struct {
	Params RiskParams

	Accounts [MaxAccountsCap]AccountRecord
	InUse    [bitmapWords]uint64

	FreeListHead     uint32
	NumUsedAccounts  uint32

	TotalOpenInterest          fx128.UInt128
	CumulativeFundingIndexE6   fx128.Int128
	LastMarkPriceE6            fx128.UInt128
	LastEffectivePriceE6       fx128.UInt128
	InsuranceFundBalance       fx128.UInt128
	HaircutRatioE6             uint64
	RiskReductionThresholdEWMA fx128.UInt128
	PendingEpoch               uint16
	LastCrankSlot              uint64

	// UncoveredLosses accumulates liquidation shortfall the insurance fund
	// could not absorb; the crank's haircut pass drains it pro-rata against
	// positive warming PnL (spec.md §4.7/§4.8).
	UncoveredLosses fx128.UInt128

	// DustBase is residual sub-unit rounding kept out of Σcapital so the
	// vault-balance invariant (#1) holds exactly.
	DustBase fx128.UInt128

	// NextLPAccountID is a monotonic counter, never reused even when an LP
	// slot is freed and its index recycled (spec.md §9: bind matcher
	// returns to a specific LP allocation, not a reusable index).
	NextLPAccountID uint64

	// Hyperp admin-pushed oracle state (spec.md §6).
	OracleAuthority        identity.ID
	OracleAuthorityPriceE6 fx128.UInt128
	OracleAuthoritySlot    uint64
}

// bitmapWordLen is InUse's fixed encoded byte length.
const bitmapWordLen = bitmapWords * 8

// RiskEngineLen is RiskEngine's fixed encoded byte length: RiskParams, the
// full fixed-capacity account array, the in-use bitmap, and every scalar
// global field, in declaration order.
const RiskEngineLen = RiskParamsLen +
	MaxAccountsCap*AccountRecordLen +
	bitmapWordLen +
	4 + 4 + // FreeListHead, NumUsedAccounts
	16 + 16 + 16 + 16 + 16 + // TotalOpenInterest..InsuranceFundBalance
	8 + // HaircutRatioE6
	16 + // RiskReductionThresholdEWMA
	2 + 8 + // PendingEpoch, LastCrankSlot
	16 + 16 + // UncoveredLosses, DustBase
	8 + // NextLPAccountID
	32 + 16 + 8 // OracleAuthority, OracleAuthorityPriceE6, OracleAuthoritySlot

// NewRiskEngine returns a zeroed engine with params installed, an empty
// free-list threaded through every account slot, and the haircut ratio at
// its identity value (1e6, "no haircut") per spec.md invariant 7.
func NewRiskEngine(params RiskParams) *RiskEngine {
	e := &RiskEngine{Params: params}
	e.HaircutRatioE6 = fx128.E6Scale
	e.FreeListHead = NoFreeIndex
	for i := int(params.MaxAccounts) - 1; i >= 0; i-- {
		e.freePush(uint32(i))
	}
	return e
}

// freePush threads idx onto the head of the free-list by overwriting its
// WarmingStartSlot field as a next-pointer — the only field wide enough and
// otherwise meaningless on a free slot.
func (e *RiskEngine) freePush(idx uint32) {
	e.Accounts[idx] = AccountRecord{WarmingStartSlot: uint64(e.FreeListHead)}
	e.FreeListHead = idx
}

// freePop removes and returns the free-list head, or (0, false) if empty.
func (e *RiskEngine) freePop() (uint32, bool) {
	if e.FreeListHead == NoFreeIndex {
		return 0, false
	}
	idx := e.FreeListHead
	e.FreeListHead = uint32(e.Accounts[idx].WarmingStartSlot)
	return idx, true
}

func (e *RiskEngine) bitmapSet(idx uint32, used bool) {
	word, bit := idx/64, idx%64
	if used {
		e.InUse[word] |= 1 << bit
	} else {
		e.InUse[word] &^= 1 << bit
	}
}

// Allocate pops a slot off the free-list, marks it in-use, and returns its
// index. ok is false if the table (bounded by Params.MaxAccounts) is full.
func (e *RiskEngine) Allocate() (idx uint32, ok bool) {
	idx, ok = e.freePop()
	if !ok {
		return 0, false
	}
	e.Accounts[idx] = AccountRecord{}
	e.bitmapSet(idx, true)
	e.NumUsedAccounts++
	return idx, true
}

// Release clears idx's in-use bit, zeroes its record, and returns it to the
// free-list. Callers must have already verified idx is closable.
func (e *RiskEngine) Release(idx uint32) {
	e.bitmapSet(idx, false)
	e.NumUsedAccounts--
	e.freePush(idx)
}

// IsUsed reports whether idx is a live, in-use account slot.
func (e *RiskEngine) IsUsed(idx uint32) bool {
	if idx >= uint32(len(e.Accounts)) {
		return false
	}
	word, bit := idx/64, idx%64
	return e.InUse[word]&(1<<bit) != 0
}

// Marshal encodes e into a fixed RiskEngineLen-byte little-endian buffer.
func (e *RiskEngine) Marshal() []byte {
	b := make([]byte, 0, RiskEngineLen)
	b = append(b, e.Params.Marshal()...)
	for i := range e.Accounts {
		b = append(b, e.Accounts[i].Marshal()...)
	}
	bm := make([]byte, bitmapWordLen)
	for i, w := range e.InUse {
		binary.LittleEndian.PutUint64(bm[i*8:i*8+8], w)
	}
	b = append(b, bm...)

	var scalar [4 + 4]byte
	binary.LittleEndian.PutUint32(scalar[0:4], e.FreeListHead)
	binary.LittleEndian.PutUint32(scalar[4:8], e.NumUsedAccounts)
	b = append(b, scalar[:]...)

	put128 := func(v interface{ Bytes16() [16]byte }) {
		bb := v.Bytes16()
		b = append(b, bb[:]...)
	}
	put128(e.TotalOpenInterest)
	put128(e.CumulativeFundingIndexE6)
	put128(e.LastMarkPriceE6)
	put128(e.LastEffectivePriceE6)
	put128(e.InsuranceFundBalance)

	var u64b [8]byte
	binary.LittleEndian.PutUint64(u64b[:], e.HaircutRatioE6)
	b = append(b, u64b[:]...)

	put128(e.RiskReductionThresholdEWMA)

	var u16b [2]byte
	binary.LittleEndian.PutUint16(u16b[:], e.PendingEpoch)
	b = append(b, u16b[:]...)
	binary.LittleEndian.PutUint64(u64b[:], e.LastCrankSlot)
	b = append(b, u64b[:]...)

	put128(e.UncoveredLosses)
	put128(e.DustBase)

	binary.LittleEndian.PutUint64(u64b[:], e.NextLPAccountID)
	b = append(b, u64b[:]...)

	b = append(b, e.OracleAuthority[:]...)
	put128(e.OracleAuthorityPriceE6)
	binary.LittleEndian.PutUint64(u64b[:], e.OracleAuthoritySlot)
	b = append(b, u64b[:]...)

	return b
}

// UnmarshalRiskEngine decodes an exactly-RiskEngineLen-byte buffer.
func UnmarshalRiskEngine(b []byte) (*RiskEngine, error) {
	if len(b) != RiskEngineLen {
		return nil, ErrLengthMismatch
	}
	e := &RiskEngine{}
	off := 0

	params, err := UnmarshalRiskParams(b[off : off+RiskParamsLen])
	if err != nil {
		return nil, err
	}
	e.Params = params
	off += RiskParamsLen

	for i := range e.Accounts {
		rec, err := UnmarshalAccountRecord(b[off : off+AccountRecordLen])
		if err != nil {
			return nil, err
		}
		e.Accounts[i] = rec
		off += AccountRecordLen
	}

	for i := range e.InUse {
		e.InUse[i] = binary.LittleEndian.Uint64(b[off : off+8])
		off += 8
	}

	e.FreeListHead = binary.LittleEndian.Uint32(b[off : off+4])
	off += 4
	e.NumUsedAccounts = binary.LittleEndian.Uint32(b[off : off+4])
	off += 4

	get128u := func() fx128.UInt128 {
		var bb [16]byte
		copy(bb[:], b[off:off+16])
		off += 16
		return fx128.U128SetBytes16(bb)
	}
	get128i := func() fx128.Int128 {
		var bb [16]byte
		copy(bb[:], b[off:off+16])
		off += 16
		return fx128.I128SetBytes16(bb)
	}

	e.TotalOpenInterest = get128u()
	e.CumulativeFundingIndexE6 = get128i()
	e.LastMarkPriceE6 = get128u()
	e.LastEffectivePriceE6 = get128u()
	e.InsuranceFundBalance = get128u()

	e.HaircutRatioE6 = binary.LittleEndian.Uint64(b[off : off+8])
	off += 8

	e.RiskReductionThresholdEWMA = get128u()

	e.PendingEpoch = binary.LittleEndian.Uint16(b[off : off+2])
	off += 2
	e.LastCrankSlot = binary.LittleEndian.Uint64(b[off : off+8])
	off += 8

	e.UncoveredLosses = get128u()
	e.DustBase = get128u()

	e.NextLPAccountID = binary.LittleEndian.Uint64(b[off : off+8])
	off += 8

	copy(e.OracleAuthority[:], b[off:off+32])
	off += 32
	e.OracleAuthorityPriceE6 = get128u()
	e.OracleAuthoritySlot = binary.LittleEndian.Uint64(b[off : off+8])

	return e, nil
}
