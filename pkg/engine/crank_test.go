package engine

import (
	"testing"

	"github.com/hyperslab/percolator/pkg/errkind"
	"github.com/hyperslab/percolator/pkg/fx128"
	"github.com/hyperslab/percolator/pkg/identity"
)

func TestKeeperCrankTracksOraclePriceWithNoSmoothing(t *testing.T) {
	e := newTestSlab(t, baseRiskParams()) // OraclePriceCapE2Bps defaults to 0: smoothing disabled

	if err := e.KeeperCrank(NoCaller, identity.ID{}, 10, 1_100_000); err != nil {
		t.Fatalf("KeeperCrank: %v", err)
	}
	if e.state().LastMarkPriceE6.Uint64() != 1_100_000 {
		t.Fatalf("last_mark_price_e6 = %s, want 1100000", e.state().LastMarkPriceE6)
	}
	if e.state().LastEffectivePriceE6.Uint64() != 1_100_000 {
		t.Fatalf("last_effective_price_e6 = %s, want 1100000 (smoothing disabled)", e.state().LastEffectivePriceE6)
	}
}

func TestKeeperCrankSmoothingCapsEffectivePriceMovement(t *testing.T) {
	e := newTestSlab(t, baseRiskParams())
	e.Slab.MarketConfig.OraclePriceCapE2Bps = 10_000 // 1% per crank (e2bps: 100 units == 1 bps)
	e.state().LastEffectivePriceE6 = fx128.U128FromUint64(1_000_000)
	e.state().LastMarkPriceE6 = fx128.U128FromUint64(1_000_000)

	if err := e.KeeperCrank(NoCaller, identity.ID{}, 10, 2_000_000); err != nil {
		t.Fatalf("KeeperCrank: %v", err)
	}
	// Effective price may move at most 1% of its prior value (10,000) toward
	// the new mark price, landing at 1,010,000 — far short of the 2,000,000
	// mark it is chasing.
	if got := e.state().LastEffectivePriceE6.Uint64(); got != 1_010_000 {
		t.Fatalf("last_effective_price_e6 = %d, want 1010000 (capped)", got)
	}
	if e.state().LastMarkPriceE6.Uint64() != 2_000_000 {
		t.Fatalf("last_mark_price_e6 = %s, want 2000000 (uncapped)", e.state().LastMarkPriceE6)
	}
}

func TestKeeperCrankConvertsWarmedUpPositivePnL(t *testing.T) {
	params := baseRiskParams()
	params.WarmupPeriodSlots = 50
	e := newTestSlab(t, params)
	idx := mustAddUser(t, e, 100_000)
	e.state().Accounts[idx].RealizedPnLWarming = fx128.I128FromInt64(1_000)
	e.state().Accounts[idx].WarmingStartSlot = 0

	if err := e.KeeperCrank(NoCaller, identity.ID{}, 100, 1_000_000); err != nil {
		t.Fatalf("KeeperCrank: %v", err)
	}
	rec := e.state().Accounts[idx]
	if !rec.RealizedPnLWarming.IsZero() {
		t.Fatalf("warming pnl not converted: %v", rec.RealizedPnLWarming)
	}
	if rec.Capital.Int64() != 101_000 {
		t.Fatalf("capital after warmup conversion = %v, want 101000 (full haircut ratio)", rec.Capital)
	}
}

func TestKeeperCrankLeavesWarmingUntouchedBeforePeriodElapses(t *testing.T) {
	params := baseRiskParams()
	params.WarmupPeriodSlots = 1000
	e := newTestSlab(t, params)
	idx := mustAddUser(t, e, 100_000)
	e.state().Accounts[idx].RealizedPnLWarming = fx128.I128FromInt64(1_000)
	e.state().Accounts[idx].WarmingStartSlot = 90

	if err := e.KeeperCrank(NoCaller, identity.ID{}, 100, 1_000_000); err != nil {
		t.Fatalf("KeeperCrank: %v", err)
	}
	rec := e.state().Accounts[idx]
	if rec.RealizedPnLWarming.Int64() != 1_000 {
		t.Fatalf("warming pnl converted too early: %v", rec.RealizedPnLWarming)
	}
	if rec.Capital.Int64() != 100_000 {
		t.Fatalf("capital changed before warmup elapsed: %v", rec.Capital)
	}
}

func TestKeeperCrankSweepsInsolventAccountAgainstInsurance(t *testing.T) {
	e := newTestSlab(t, baseRiskParams())
	idx := mustAddUser(t, e, 0)
	e.state().Accounts[idx].Capital = fx128.I128FromInt64(-500)
	if err := e.TopUpInsurance(fx128.U128FromUint64(1_000)); err != nil {
		t.Fatalf("TopUpInsurance: %v", err)
	}

	if err := e.KeeperCrank(NoCaller, identity.ID{}, 10, 1_000_000); err != nil {
		t.Fatalf("KeeperCrank: %v", err)
	}
	rec := e.state().Accounts[idx]
	if rec.Capital.Sign() < 0 {
		t.Fatalf("account still insolvent after sweep: %v", rec.Capital)
	}
	if e.state().InsuranceFundBalance.Uint64() != 500 {
		t.Fatalf("insurance balance = %s, want 500 after covering the 500-unit shortfall", e.state().InsuranceFundBalance)
	}
}

func TestKeeperCrankAdvancesEpochAndCrankSlot(t *testing.T) {
	e := newTestSlab(t, baseRiskParams())
	startEpoch := e.state().PendingEpoch

	if err := e.KeeperCrank(NoCaller, identity.ID{}, 42, 1_000_000); err != nil {
		t.Fatalf("KeeperCrank: %v", err)
	}
	if e.state().PendingEpoch != startEpoch+1 {
		t.Fatalf("pending_epoch = %d, want %d", e.state().PendingEpoch, startEpoch+1)
	}
	if e.state().LastCrankSlot != 42 {
		t.Fatalf("last_crank_slot = %d, want 42", e.state().LastCrankSlot)
	}
}

func TestKeeperCrankSameSlotReinvocationLeavesSmoothingUnchanged(t *testing.T) {
	e := newTestSlab(t, baseRiskParams())
	e.Slab.MarketConfig.OraclePriceCapE2Bps = 10_000
	e.state().LastEffectivePriceE6 = fx128.U128FromUint64(1_000_000)
	e.state().LastMarkPriceE6 = fx128.U128FromUint64(1_000_000)

	if err := e.KeeperCrank(NoCaller, identity.ID{}, 10, 2_000_000); err != nil {
		t.Fatalf("first crank: %v", err)
	}
	afterFirst := e.state().LastEffectivePriceE6.Uint64()

	// Re-invoking the crank at the same slot must leave last_effective_price_e6
	// untouched — a same-slot crank is idempotent (spec.md §4.7/§8).
	if err := e.KeeperCrank(NoCaller, identity.ID{}, 10, 2_000_000); err != nil {
		t.Fatalf("second crank: %v", err)
	}
	if got := e.state().LastEffectivePriceE6.Uint64(); got != afterFirst {
		t.Fatalf("last_effective_price_e6 changed on same-slot re-invocation: %d, want %d", got, afterFirst)
	}
}

func TestKeeperCrankRejectsWrongOwnerForInUseCallerIdx(t *testing.T) {
	e := newTestSlab(t, baseRiskParams())
	userIdx := mustAddUser(t, e, 1_000_000)

	var impostor identity.ID
	impostor[0] = 0xFF
	err := e.KeeperCrank(userIdx, impostor, 10, 1_000_000)
	if !errkind.Is(err, errkind.Unauthorized) {
		t.Fatalf("expected Unauthorized for mismatched caller_idx owner, got %v", err)
	}

	owner := e.state().Accounts[userIdx].Owner
	if err := e.KeeperCrank(userIdx, owner, 10, 1_000_000); err != nil {
		t.Fatalf("KeeperCrank with matching owner: %v", err)
	}
}
