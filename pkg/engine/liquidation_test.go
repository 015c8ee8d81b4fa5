package engine

import (
	"testing"

	"github.com/hyperslab/percolator/pkg/errkind"
	"github.com/hyperslab/percolator/pkg/fx128"
)

func setUpShortPosition(t *testing.T, e *Engine, capital uint64) uint32 {
	t.Helper()
	idx := mustAddUser(t, e, capital)
	e.state().Accounts[idx].PositionSize = fx128.I128FromInt64(-1000)
	e.state().Accounts[idx].EntryPriceE6 = fx128.U128FromUint64(1_000_000)
	oi, err := e.state().TotalOpenInterest.Add(fx128.U128FromUint64(1000))
	if err != nil {
		t.Fatalf("seed open interest: %v", err)
	}
	e.state().TotalOpenInterest = oi
	return idx
}

func TestLiquidateAtOracleRejectsHealthyAccount(t *testing.T) {
	e := newTestSlab(t, baseRiskParams())
	idx := setUpShortPosition(t, e, 1_000_000_000)

	_, err := e.LiquidateAtOracle(idx, 1, 1_000_000)
	if !errkind.Is(err, errkind.Unauthorized) {
		t.Fatalf("expected Unauthorized, got %v", err)
	}
}

func TestLiquidateAtOracleClosesPositionAndChargesFee(t *testing.T) {
	e := newTestSlab(t, baseRiskParams())
	idx := setUpShortPosition(t, e, 100_000)

	fee, err := e.LiquidateAtOracle(idx, 1, 1_050_000)
	if err != nil {
		t.Fatalf("LiquidateAtOracle: %v", err)
	}
	if fee.IsZero() {
		t.Fatalf("expected a nonzero liquidation fee")
	}
	rec := e.state().Accounts[idx]
	if !rec.PositionSize.IsZero() {
		t.Fatalf("position not closed: %v", rec.PositionSize)
	}
	if !rec.EntryPriceE6.IsZero() {
		t.Fatalf("entry price not reset: %s", rec.EntryPriceE6)
	}
	assertInvariants(t, e)
}

func TestLiquidateAtOracleRejectsFlatAccount(t *testing.T) {
	e := newTestSlab(t, baseRiskParams())
	idx := mustAddUser(t, e, 1_000_000)

	_, err := e.LiquidateAtOracle(idx, 1, 1_000_000)
	if !errkind.Is(err, errkind.PositionSizeMismatch) {
		t.Fatalf("expected PositionSizeMismatch, got %v", err)
	}
}

func TestLiquidateAtOracleShortfallDrawsInsuranceThenUncoveredLosses(t *testing.T) {
	e := newTestSlab(t, baseRiskParams())
	idx := setUpShortPosition(t, e, 100_000)
	if err := e.TopUpInsurance(fx128.U128FromUint64(10_000)); err != nil {
		t.Fatalf("TopUpInsurance: %v", err)
	}

	if _, err := e.LiquidateAtOracle(idx, 1, 1_050_000); err != nil {
		t.Fatalf("LiquidateAtOracle: %v", err)
	}
	rec := e.state().Accounts[idx]
	if rec.Capital.Sign() < 0 {
		t.Fatalf("account capital left negative after liquidation: %v", rec.Capital)
	}
	// The shortfall here far exceeds both the account's own capital and the
	// 10,000-unit insurance top-up, so the fund should be fully drained and
	// the remainder tracked as uncovered.
	if !e.state().InsuranceFundBalance.IsZero() {
		t.Fatalf("expected insurance fund fully drawn down, got %s", e.state().InsuranceFundBalance)
	}
	if e.state().UncoveredLosses.IsZero() {
		t.Fatalf("expected a nonzero uncovered loss after the fund was exhausted")
	}
}
