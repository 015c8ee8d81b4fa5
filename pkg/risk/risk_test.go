package risk

import (
	"testing"

	"github.com/hyperslab/percolator/pkg/fx128"
	"github.com/hyperslab/percolator/pkg/slab"
)

func TestUnrealizedPnLLong(t *testing.T) {
	rec := slab.AccountRecord{
		PositionSize: fx128.I128FromInt64(100),
		EntryPriceE6: fx128.U128FromUint64(1_000_000),
		Capital:      fx128.I128FromInt64(1_000_000),
	}
	pnl, err := UnrealizedPnL(rec, 1_100_000)
	if err != nil {
		t.Fatalf("UnrealizedPnL: %v", err)
	}
	if pnl.Int64() != 10 {
		t.Fatalf("pnl = %v, want 10", pnl)
	}
}

func TestUnrealizedPnLShortLosesOnRally(t *testing.T) {
	rec := slab.AccountRecord{
		PositionSize: fx128.I128FromInt64(-100),
		EntryPriceE6: fx128.U128FromUint64(1_000_000),
	}
	pnl, err := UnrealizedPnL(rec, 1_100_000)
	if err != nil {
		t.Fatalf("UnrealizedPnL: %v", err)
	}
	if pnl.Int64() != -10 {
		t.Fatalf("pnl = %v, want -10", pnl)
	}
}

func TestRequiredMarginAndMeetsRequirement(t *testing.T) {
	notional, err := NotionalE6(fx128.I128FromInt64(100), 1_000_000)
	if err != nil {
		t.Fatalf("NotionalE6: %v", err)
	}
	req, err := RequiredMargin(notional, 1000) // 10%
	if err != nil {
		t.Fatalf("RequiredMargin: %v", err)
	}
	if req.Uint64() != 10_000_000 {
		t.Fatalf("required margin = %s, want 10000000", req)
	}

	ok := MeetsRequirement(fx128.I128FromInt64(10_000_000), req)
	if !ok {
		t.Fatalf("expected equity to exactly meet requirement")
	}
	notMet := MeetsRequirement(fx128.I128FromInt64(9_999_999), req)
	if notMet {
		t.Fatalf("expected equity below requirement to fail")
	}
}
