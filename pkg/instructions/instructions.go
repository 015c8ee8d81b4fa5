// Package instructions decodes the engine's tag-prefixed little-endian
// instruction set (spec.md §6, §9 "Sum-type instructions") into typed Go
// values cmd/node dispatches to pkg/engine/pkg/accounts. Grounded in shape
// on pkg/matcher's CallFrame/ReturnFrame decode (fixed-offset
// encoding/binary reads, a single length-mismatch error for any shortage)
// generalized from one fixed frame to a tag-selected family of them — the
// same "per-arm payload is a fixed-length struct" idiom spec.md §9 asks
// for, here dispatched by the leading tag byte instead of a single known
// shape.
//
// This package is the "instruction decoder" spec.md §1 names as an
// external collaborator boundary, not part of the engine proper — so
// decode failures return a plain error rather than an errkind.Kind; only
// once an instruction is decoded does its payload cross into engine calls
// that return errkind errors.
package instructions

import (
	"encoding/binary"
	"fmt"

	"github.com/hyperslab/percolator/pkg/fx128"
	"github.com/hyperslab/percolator/pkg/identity"
	"github.com/hyperslab/percolator/pkg/slab"
)

// ErrInvalidInstruction is the single decode-failure sentinel spec.md §9
// asks for ("decoding fails with a single 'invalid instruction' kind on
// any shortage") — wrap it with %w so callers can errors.Is against it
// regardless of which arm or length check failed.
var ErrInvalidInstruction = fmt.Errorf("instructions: invalid instruction")

// Tag identifies an instruction's payload shape (spec.md §6 table).
type Tag uint8

const (
	TagInitMarket         Tag = 0
	TagInitUser           Tag = 1
	TagInitLP             Tag = 2
	TagDeposit            Tag = 3
	TagWithdraw           Tag = 4
	TagKeeperCrank        Tag = 5
	TagTradeNoCpi         Tag = 6
	TagLiquidateAtOracle  Tag = 7
	TagCloseAccount       Tag = 8
	TagTopUpInsurance     Tag = 9
	TagTradeCpi           Tag = 10
	TagSetRiskThreshold   Tag = 11
	TagCloseSlab          Tag = 13
	TagSetOracleAuthority Tag = 16
	TagPushOraclePrice    Tag = 17
)

// Instruction is the decoded sum type: exactly one of the payload fields is
// non-nil, selected by Tag.
type Instruction struct {
	Tag Tag

	InitMarket         *InitMarket
	InitUser           *InitUser
	InitLP             *InitLP
	Deposit            *Deposit
	Withdraw           *Withdraw
	KeeperCrank        *KeeperCrank
	Trade              *Trade // shared payload shape for TradeNoCpi and TradeCpi
	LiquidateAtOracle  *LiquidateAtOracle
	CloseAccount       *CloseAccount
	TopUpInsurance     *TopUpInsurance
	SetRiskThreshold   *SetRiskThreshold
	SetOracleAuthority *SetOracleAuthority
	PushOraclePrice    *PushOraclePrice
	// CloseSlab carries no payload; Tag == TagCloseSlab is the whole of it.
}

type InitMarket struct {
	Admin             identity.ID
	Mint              identity.ID
	OracleIdx         identity.ID
	OracleCol         identity.ID
	MaxStalenessSlots uint64
	ConfBps           uint16
	Invert            bool
	UnitScale         uint32
	InitialMarkE6     uint64
	RiskParams        slab.RiskParams
}

type InitUser struct {
	Fee fx128.UInt128
}

type InitLP struct {
	MatcherProgram identity.ID
	MatcherContext identity.ID
	Fee            fx128.UInt128
}

type Deposit struct {
	UserIdx uint16
	Amount  fx128.UInt128
}

type Withdraw struct {
	UserIdx uint16
	Amount  fx128.UInt128
}

type KeeperCrank struct {
	CallerIdx   uint16
	FundingHint int64
	AllowPanic  bool
}

// Trade is shared by TradeNoCpi (tag 6, disabled in Hyperp mode) and
// TradeCpi (tag 10) — spec.md §6 gives both tags the identical payload
// shape, differing only in the CPI collaborator boundary Trade crosses,
// which is out of scope for this engine (spec.md §1).
type Trade struct {
	LPIdx   uint16
	UserIdx uint16
	Size    fx128.Int128
}

type LiquidateAtOracle struct {
	TargetIdx uint16
}

type CloseAccount struct {
	UserIdx uint16
}

type TopUpInsurance struct {
	Amount fx128.UInt128
}

type SetRiskThreshold struct {
	NewThreshold fx128.UInt128
}

type SetOracleAuthority struct {
	NewAuthority identity.ID
}

type PushOraclePrice struct {
	PriceE6   uint64
	Timestamp int64
}

// Decode reads the leading tag byte and dispatches to the matching
// fixed-length payload decoder. Any shortage — an unknown tag, or a
// payload shorter than its fixed length — fails with ErrInvalidInstruction.
func Decode(b []byte) (Instruction, error) {
	if len(b) < 1 {
		return Instruction{}, fmt.Errorf("%w: empty buffer", ErrInvalidInstruction)
	}
	tag := Tag(b[0])
	body := b[1:]

	switch tag {
	case TagInitMarket:
		p, err := decodeInitMarket(body)
		if err != nil {
			return Instruction{}, err
		}
		return Instruction{Tag: tag, InitMarket: &p}, nil
	case TagInitUser:
		p, err := decodeInitUser(body)
		if err != nil {
			return Instruction{}, err
		}
		return Instruction{Tag: tag, InitUser: &p}, nil
	case TagInitLP:
		p, err := decodeInitLP(body)
		if err != nil {
			return Instruction{}, err
		}
		return Instruction{Tag: tag, InitLP: &p}, nil
	case TagDeposit:
		p, err := decodeUserIdxAmount(body)
		if err != nil {
			return Instruction{}, err
		}
		return Instruction{Tag: tag, Deposit: &Deposit{UserIdx: p.UserIdx, Amount: p.Amount}}, nil
	case TagWithdraw:
		p, err := decodeUserIdxAmount(body)
		if err != nil {
			return Instruction{}, err
		}
		return Instruction{Tag: tag, Withdraw: &Withdraw{UserIdx: p.UserIdx, Amount: p.Amount}}, nil
	case TagKeeperCrank:
		p, err := decodeKeeperCrank(body)
		if err != nil {
			return Instruction{}, err
		}
		return Instruction{Tag: tag, KeeperCrank: &p}, nil
	case TagTradeNoCpi, TagTradeCpi:
		p, err := decodeTrade(body)
		if err != nil {
			return Instruction{}, err
		}
		return Instruction{Tag: tag, Trade: &p}, nil
	case TagLiquidateAtOracle:
		p, err := decodeLiquidateAtOracle(body)
		if err != nil {
			return Instruction{}, err
		}
		return Instruction{Tag: tag, LiquidateAtOracle: &p}, nil
	case TagCloseAccount:
		p, err := decodeCloseAccount(body)
		if err != nil {
			return Instruction{}, err
		}
		return Instruction{Tag: tag, CloseAccount: &p}, nil
	case TagTopUpInsurance:
		p, err := decodeTopUpInsurance(body)
		if err != nil {
			return Instruction{}, err
		}
		return Instruction{Tag: tag, TopUpInsurance: &p}, nil
	case TagSetRiskThreshold:
		p, err := decodeSetRiskThreshold(body)
		if err != nil {
			return Instruction{}, err
		}
		return Instruction{Tag: tag, SetRiskThreshold: &p}, nil
	case TagCloseSlab:
		if len(body) != 0 {
			return Instruction{}, fmt.Errorf("%w: close_slab takes no payload, got %d bytes", ErrInvalidInstruction, len(body))
		}
		return Instruction{Tag: tag}, nil
	case TagSetOracleAuthority:
		p, err := decodeSetOracleAuthority(body)
		if err != nil {
			return Instruction{}, err
		}
		return Instruction{Tag: tag, SetOracleAuthority: &p}, nil
	case TagPushOraclePrice:
		p, err := decodePushOraclePrice(body)
		if err != nil {
			return Instruction{}, err
		}
		return Instruction{Tag: tag, PushOraclePrice: &p}, nil
	default:
		return Instruction{}, fmt.Errorf("%w: unknown tag %d", ErrInvalidInstruction, tag)
	}
}

func need(b []byte, n int, what string) error {
	if len(b) != n {
		return fmt.Errorf("%w: %s payload length %d, want %d", ErrInvalidInstruction, what, len(b), n)
	}
	return nil
}

func getID(b []byte, off int) identity.ID {
	var id identity.ID
	copy(id[:], b[off:off+32])
	return id
}

func getU128(b []byte, off int) fx128.UInt128 {
	var bb [16]byte
	copy(bb[:], b[off:off+16])
	return fx128.U128SetBytes16(bb)
}

func getI128(b []byte, off int) fx128.Int128 {
	var bb [16]byte
	copy(bb[:], b[off:off+16])
	return fx128.I128SetBytes16(bb)
}

// initMarketLen is InitMarket's fixed payload length: four 32-byte
// identities, max_staleness(8), conf_bps(2), invert(1), unit_scale(4),
// initial_mark_e6(8), then the full RiskParams region (spec.md §6).
const initMarketLen = 32*4 + 8 + 2 + 1 + 4 + 8 + slab.RiskParamsLen

func decodeInitMarket(b []byte) (InitMarket, error) {
	if err := need(b, initMarketLen, "init_market"); err != nil {
		return InitMarket{}, err
	}
	off := 0
	p := InitMarket{}
	p.Admin = getID(b, off)
	off += 32
	p.Mint = getID(b, off)
	off += 32
	p.OracleIdx = getID(b, off)
	off += 32
	p.OracleCol = getID(b, off)
	off += 32
	p.MaxStalenessSlots = binary.LittleEndian.Uint64(b[off : off+8])
	off += 8
	p.ConfBps = binary.LittleEndian.Uint16(b[off : off+2])
	off += 2
	p.Invert = b[off] != 0
	off++
	p.UnitScale = binary.LittleEndian.Uint32(b[off : off+4])
	off += 4
	p.InitialMarkE6 = binary.LittleEndian.Uint64(b[off : off+8])
	off += 8
	params, err := slab.UnmarshalRiskParams(b[off : off+slab.RiskParamsLen])
	if err != nil {
		return InitMarket{}, fmt.Errorf("%w: init_market risk params: %v", ErrInvalidInstruction, err)
	}
	p.RiskParams = params
	return p, nil
}

func decodeInitUser(b []byte) (InitUser, error) {
	if err := need(b, 8, "init_user"); err != nil {
		return InitUser{}, err
	}
	return InitUser{Fee: fx128.U128FromUint64(binary.LittleEndian.Uint64(b))}, nil
}

func decodeInitLP(b []byte) (InitLP, error) {
	if err := need(b, 32+32+8, "init_lp"); err != nil {
		return InitLP{}, err
	}
	return InitLP{
		MatcherProgram: getID(b, 0),
		MatcherContext: getID(b, 32),
		Fee:            fx128.U128FromUint64(binary.LittleEndian.Uint64(b[64:72])),
	}, nil
}

type userIdxAmount struct {
	UserIdx uint16
	Amount  fx128.UInt128
}

func decodeUserIdxAmount(b []byte) (userIdxAmount, error) {
	if err := need(b, 2+8, "user_idx+amount"); err != nil {
		return userIdxAmount{}, err
	}
	return userIdxAmount{
		UserIdx: binary.LittleEndian.Uint16(b[0:2]),
		Amount:  fx128.U128FromUint64(binary.LittleEndian.Uint64(b[2:10])),
	}, nil
}

func decodeKeeperCrank(b []byte) (KeeperCrank, error) {
	if err := need(b, 2+8+1, "keeper_crank"); err != nil {
		return KeeperCrank{}, err
	}
	return KeeperCrank{
		CallerIdx:   binary.LittleEndian.Uint16(b[0:2]),
		FundingHint: int64(binary.LittleEndian.Uint64(b[2:10])),
		AllowPanic:  b[10] != 0,
	}, nil
}

func decodeTrade(b []byte) (Trade, error) {
	if err := need(b, 2+2+16, "trade"); err != nil {
		return Trade{}, err
	}
	return Trade{
		LPIdx:   binary.LittleEndian.Uint16(b[0:2]),
		UserIdx: binary.LittleEndian.Uint16(b[2:4]),
		Size:    getI128(b, 4),
	}, nil
}

func decodeLiquidateAtOracle(b []byte) (LiquidateAtOracle, error) {
	if err := need(b, 2, "liquidate_at_oracle"); err != nil {
		return LiquidateAtOracle{}, err
	}
	return LiquidateAtOracle{TargetIdx: binary.LittleEndian.Uint16(b)}, nil
}

func decodeCloseAccount(b []byte) (CloseAccount, error) {
	if err := need(b, 2, "close_account"); err != nil {
		return CloseAccount{}, err
	}
	return CloseAccount{UserIdx: binary.LittleEndian.Uint16(b)}, nil
}

func decodeTopUpInsurance(b []byte) (TopUpInsurance, error) {
	if err := need(b, 8, "top_up_insurance"); err != nil {
		return TopUpInsurance{}, err
	}
	return TopUpInsurance{Amount: fx128.U128FromUint64(binary.LittleEndian.Uint64(b))}, nil
}

func decodeSetRiskThreshold(b []byte) (SetRiskThreshold, error) {
	if err := need(b, 16, "set_risk_threshold"); err != nil {
		return SetRiskThreshold{}, err
	}
	return SetRiskThreshold{NewThreshold: getU128(b, 0)}, nil
}

func decodeSetOracleAuthority(b []byte) (SetOracleAuthority, error) {
	if err := need(b, 32, "set_oracle_authority"); err != nil {
		return SetOracleAuthority{}, err
	}
	return SetOracleAuthority{NewAuthority: getID(b, 0)}, nil
}

func decodePushOraclePrice(b []byte) (PushOraclePrice, error) {
	if err := need(b, 8+8, "push_oracle_price"); err != nil {
		return PushOraclePrice{}, err
	}
	return PushOraclePrice{
		PriceE6:   binary.LittleEndian.Uint64(b[0:8]),
		Timestamp: int64(binary.LittleEndian.Uint64(b[8:16])),
	}, nil
}
