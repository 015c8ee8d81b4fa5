package engine

import (
	"testing"

	"github.com/hyperslab/percolator/pkg/errkind"
	"github.com/hyperslab/percolator/pkg/fx128"
	"github.com/hyperslab/percolator/pkg/identity"
	"github.com/hyperslab/percolator/pkg/slab"
)

func newTestSlab(t *testing.T, params slab.RiskParams) *Engine {
	t.Helper()
	if params.MaxAccounts == 0 {
		params.MaxAccounts = 8
	}
	s := &slab.Slab{
		Header:       slab.Header{Magic: slab.Magic, Version: slab.Version},
		MarketConfig: slab.MarketConfig{InitialMarkPriceE6: 1_000_000},
		Engine:       slab.NewRiskEngine(params),
	}
	return New(s)
}

// assertInvariants checks the slab-wide properties spec.md §3/§8 require to
// hold after every operation: Σposition_size == 0, total_open_interest ==
// Σ|position_size|, and haircut_ratio_e6 stays within [0, 1e6].
func assertInvariants(t *testing.T, e *Engine) {
	t.Helper()
	st := e.state()

	sumPos := fx128.ZeroI128()
	for i := 0; i < int(st.Params.MaxAccounts); i++ {
		if !st.IsUsed(uint32(i)) {
			continue
		}
		var err error
		sumPos, err = sumPos.Add(st.Accounts[i].PositionSize)
		if err != nil {
			t.Fatalf("summing position sizes: %v", err)
		}
	}
	if !sumPos.IsZero() {
		t.Fatalf("invariant violated: sum of position sizes = %s, want 0", sumPos)
	}

	gotOI, err := RecomputeTotalOpenInterest(e.Slab)
	if err != nil {
		t.Fatalf("recompute open interest: %v", err)
	}
	if gotOI.Cmp(st.TotalOpenInterest) != 0 {
		t.Fatalf("invariant violated: total_open_interest = %s, recomputed %s", st.TotalOpenInterest, gotOI)
	}

	if st.HaircutRatioE6 > fx128.E6Scale {
		t.Fatalf("invariant violated: haircut_ratio_e6 = %d exceeds 1e6", st.HaircutRatioE6)
	}
}

func baseRiskParams() slab.RiskParams {
	return slab.RiskParams{
		MaxAccounts:            8,
		NewAccountFee:          fx128.ZeroU128(),
		MaintenanceMarginBps:   500,  // 5%
		InitialMarginBps:       1000, // 10%
		TradingFeeBps:          10,   // 0.1%
		RiskReductionThreshold: fx128.ZeroU128(),
		LiquidationFeeBps:      500,
		LiquidationFeeCap:      fx128.U128FromUint64(1_000_000_000),
		LiquidationBufferBps:   100,
		MinLiquidationAbs:      fx128.ZeroU128(),
		WarmupPeriodSlots:      100,
		MaxCrankStalenessSlots: 1000,
	}
}

func mustAddUser(t *testing.T, e *Engine, capital uint64) uint32 {
	t.Helper()
	var owner identity.ID
	owner[0] = byte(e.state().NumUsedAccounts + 1)
	idx, err := e.AddUser(owner, fx128.U128FromUint64(capital))
	if err != nil {
		t.Fatalf("AddUser: %v", err)
	}
	return idx
}

func mustAddLP(t *testing.T, e *Engine, capital uint64) uint32 {
	t.Helper()
	var owner, mp, mc identity.ID
	owner[0] = byte(e.state().NumUsedAccounts + 1)
	idx, err := e.AddLP(owner, mp, mc, fx128.U128FromUint64(capital))
	if err != nil {
		t.Fatalf("AddLP: %v", err)
	}
	return idx
}

func TestDepositWithdrawRoundTrip(t *testing.T) {
	e := newTestSlab(t, baseRiskParams())
	idx := mustAddUser(t, e, 1_000_000)

	if err := e.Deposit(idx, 10, fx128.U128FromUint64(500_000)); err != nil {
		t.Fatalf("Deposit: %v", err)
	}
	if e.state().Accounts[idx].Capital.Int64() != 1_500_000 {
		t.Fatalf("capital after deposit = %v, want 1500000", e.state().Accounts[idx].Capital)
	}

	if err := e.Withdraw(idx, 11, fx128.U128FromUint64(500_000), 1_000_000); err != nil {
		t.Fatalf("Withdraw: %v", err)
	}
	if e.state().Accounts[idx].Capital.Int64() != 1_000_000 {
		t.Fatalf("capital after withdraw = %v, want 1000000", e.state().Accounts[idx].Capital)
	}
	assertInvariants(t, e)
}

func TestWithdrawRejectsUndercollateralizing(t *testing.T) {
	e := newTestSlab(t, baseRiskParams())
	idx := mustAddUser(t, e, 1_000_000)
	e.state().Accounts[idx].PositionSize = fx128.I128FromInt64(10_000)
	e.state().Accounts[idx].EntryPriceE6 = fx128.U128FromUint64(1_000_000)

	err := e.Withdraw(idx, 10, fx128.U128FromUint64(999_000), 1_000_000)
	if !errkind.Is(err, errkind.Undercollateralized) {
		t.Fatalf("expected Undercollateralized, got %v", err)
	}
}

func TestCloseAccountRefundsCapital(t *testing.T) {
	e := newTestSlab(t, baseRiskParams())
	idx := mustAddUser(t, e, 1_000_000)

	refund, err := e.CloseAccount(idx, 5)
	if err != nil {
		t.Fatalf("CloseAccount: %v", err)
	}
	if refund.Int64() != 1_000_000 {
		t.Fatalf("refund = %v, want 1000000", refund)
	}
}

func TestTopUpInsuranceCreditsBalance(t *testing.T) {
	e := newTestSlab(t, baseRiskParams())
	if err := e.TopUpInsurance(fx128.U128FromUint64(5_000)); err != nil {
		t.Fatalf("TopUpInsurance: %v", err)
	}
	if e.state().InsuranceFundBalance.Uint64() != 5_000 {
		t.Fatalf("insurance balance = %s, want 5000", e.state().InsuranceFundBalance)
	}
}

