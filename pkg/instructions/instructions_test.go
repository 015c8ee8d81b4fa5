package instructions

import (
	"encoding/binary"
	"errors"
	"testing"

	"github.com/hyperslab/percolator/pkg/fx128"
	"github.com/hyperslab/percolator/pkg/identity"
	"github.com/hyperslab/percolator/pkg/slab"
)

func baseRiskParamsBytes() []byte {
	p := slab.RiskParams{
		WarmupPeriodSlots:      100,
		MaintenanceMarginBps:   500,
		InitialMarginBps:       1000,
		TradingFeeBps:          10,
		MaxAccounts:            8,
		NewAccountFee:          fx128.ZeroU128(),
		RiskReductionThreshold: fx128.ZeroU128(),
		MaintenanceFeePerSlot:  fx128.ZeroU128(),
		MaxCrankStalenessSlots: 1000,
		LiquidationFeeBps:      500,
		LiquidationFeeCap:      fx128.U128FromUint64(1_000_000_000),
		LiquidationBufferBps:   100,
		MinLiquidationAbs:      fx128.ZeroU128(),
	}
	return p.Marshal()
}

func TestDecodeInitMarket(t *testing.T) {
	var admin, mint, oracleIdx, oracleCol identity.ID
	admin[0] = 1
	mint[0] = 2
	oracleIdx[0] = 3
	oracleCol[0] = 4

	body := make([]byte, 0, initMarketLen)
	body = append(body, admin[:]...)
	body = append(body, mint[:]...)
	body = append(body, oracleIdx[:]...)
	body = append(body, oracleCol[:]...)
	var u64b [8]byte
	binary.LittleEndian.PutUint64(u64b[:], 1500)
	body = append(body, u64b[:]...)
	var u16b [2]byte
	binary.LittleEndian.PutUint16(u16b[:], 25)
	body = append(body, u16b[:]...)
	body = append(body, 1) // invert
	var u32b [4]byte
	binary.LittleEndian.PutUint32(u32b[:], 1_000_000)
	body = append(body, u32b[:]...)
	binary.LittleEndian.PutUint64(u64b[:], 2_000_000)
	body = append(body, u64b[:]...)
	body = append(body, baseRiskParamsBytes()...)

	raw := append([]byte{byte(TagInitMarket)}, body...)
	ins, err := Decode(raw)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if ins.Tag != TagInitMarket || ins.InitMarket == nil {
		t.Fatalf("expected InitMarket payload, got %+v", ins)
	}
	got := ins.InitMarket
	if got.Admin != admin || got.Mint != mint || got.OracleIdx != oracleIdx || got.OracleCol != oracleCol {
		t.Fatalf("identity fields mismatch: %+v", got)
	}
	if got.MaxStalenessSlots != 1500 || got.ConfBps != 25 || !got.Invert || got.UnitScale != 1_000_000 || got.InitialMarkE6 != 2_000_000 {
		t.Fatalf("scalar fields mismatch: %+v", got)
	}
	if got.RiskParams.MaxAccounts != 8 || got.RiskParams.LiquidationBufferBps != 100 {
		t.Fatalf("risk params mismatch: %+v", got.RiskParams)
	}
}

func TestDecodeDepositAndWithdraw(t *testing.T) {
	body := make([]byte, 10)
	binary.LittleEndian.PutUint16(body[0:2], 7)
	binary.LittleEndian.PutUint64(body[2:10], 500_000)

	deposit, err := Decode(append([]byte{byte(TagDeposit)}, body...))
	if err != nil {
		t.Fatalf("Decode deposit: %v", err)
	}
	if deposit.Deposit == nil || deposit.Deposit.UserIdx != 7 || deposit.Deposit.Amount.Uint64() != 500_000 {
		t.Fatalf("unexpected deposit: %+v", deposit.Deposit)
	}

	withdraw, err := Decode(append([]byte{byte(TagWithdraw)}, body...))
	if err != nil {
		t.Fatalf("Decode withdraw: %v", err)
	}
	if withdraw.Withdraw == nil || withdraw.Withdraw.UserIdx != 7 || withdraw.Withdraw.Amount.Uint64() != 500_000 {
		t.Fatalf("unexpected withdraw: %+v", withdraw.Withdraw)
	}
}

func TestDecodeTradeSharedByNoCpiAndCpi(t *testing.T) {
	body := make([]byte, 2+2+16)
	binary.LittleEndian.PutUint16(body[0:2], 1)
	binary.LittleEndian.PutUint16(body[2:4], 2)
	sz := fx128.I128FromInt64(-30).Bytes16()
	copy(body[4:20], sz[:])

	for _, tag := range []Tag{TagTradeNoCpi, TagTradeCpi} {
		ins, err := Decode(append([]byte{byte(tag)}, body...))
		if err != nil {
			t.Fatalf("Decode tag %d: %v", tag, err)
		}
		if ins.Trade == nil || ins.Trade.LPIdx != 1 || ins.Trade.UserIdx != 2 || ins.Trade.Size.Int64() != -30 {
			t.Fatalf("unexpected trade decode for tag %d: %+v", tag, ins.Trade)
		}
	}
}

func TestDecodeCloseSlabTakesNoPayload(t *testing.T) {
	ins, err := Decode([]byte{byte(TagCloseSlab)})
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if ins.Tag != TagCloseSlab {
		t.Fatalf("tag = %v, want TagCloseSlab", ins.Tag)
	}

	_, err = Decode([]byte{byte(TagCloseSlab), 0})
	if !errors.Is(err, ErrInvalidInstruction) {
		t.Fatalf("expected ErrInvalidInstruction, got %v", err)
	}
}

func TestDecodeRejectsShortPayload(t *testing.T) {
	_, err := Decode([]byte{byte(TagDeposit), 1, 2, 3})
	if !errors.Is(err, ErrInvalidInstruction) {
		t.Fatalf("expected ErrInvalidInstruction, got %v", err)
	}
}

func TestDecodeRejectsUnknownTag(t *testing.T) {
	_, err := Decode([]byte{200})
	if !errors.Is(err, ErrInvalidInstruction) {
		t.Fatalf("expected ErrInvalidInstruction, got %v", err)
	}
}

func TestDecodeRejectsEmptyBuffer(t *testing.T) {
	_, err := Decode(nil)
	if !errors.Is(err, ErrInvalidInstruction) {
		t.Fatalf("expected ErrInvalidInstruction, got %v", err)
	}
}

func TestDecodePushOraclePrice(t *testing.T) {
	body := make([]byte, 16)
	binary.LittleEndian.PutUint64(body[0:8], 1_234_000)
	binary.LittleEndian.PutUint64(body[8:16], uint64(int64(-5)))

	ins, err := Decode(append([]byte{byte(TagPushOraclePrice)}, body...))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if ins.PushOraclePrice == nil || ins.PushOraclePrice.PriceE6 != 1_234_000 || ins.PushOraclePrice.Timestamp != -5 {
		t.Fatalf("unexpected push_oracle_price: %+v", ins.PushOraclePrice)
	}
}
