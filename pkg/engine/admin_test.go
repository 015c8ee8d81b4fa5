package engine

import (
	"testing"

	"github.com/hyperslab/percolator/pkg/errkind"
	"github.com/hyperslab/percolator/pkg/fx128"
	"github.com/hyperslab/percolator/pkg/identity"
	"github.com/hyperslab/percolator/pkg/slab"
)

func newTestSlabWithAdmin(t *testing.T, admin identity.ID, params slab.RiskParams) *Engine {
	t.Helper()
	if params.MaxAccounts == 0 {
		params.MaxAccounts = 8
	}
	s := &slab.Slab{
		Header:       slab.Header{Magic: slab.Magic, Version: slab.Version, Admin: admin},
		MarketConfig: slab.MarketConfig{InitialMarkPriceE6: 1_000_000},
		Engine:       slab.NewRiskEngine(params),
	}
	return New(s)
}

func TestSetRiskThresholdRequiresMatchingAdmin(t *testing.T) {
	var admin identity.ID
	admin[0] = 0xAA
	e := newTestSlabWithAdmin(t, admin, baseRiskParams())

	var impostor identity.ID
	impostor[0] = 0xBB
	if err := e.SetRiskThreshold(impostor, fx128.U128FromUint64(42)); !errkind.Is(err, errkind.Unauthorized) {
		t.Fatalf("expected Unauthorized for wrong admin, got %v", err)
	}

	if err := e.SetRiskThreshold(admin, fx128.U128FromUint64(42)); err != nil {
		t.Fatalf("SetRiskThreshold: %v", err)
	}
	if e.state().Params.RiskReductionThreshold.Uint64() != 42 {
		t.Fatalf("risk_reduction_threshold = %s, want 42", e.state().Params.RiskReductionThreshold)
	}
}

func TestSetRiskThresholdRejectsBurnedAdmin(t *testing.T) {
	e := newTestSlab(t, baseRiskParams()) // Header.Admin left at zero
	var caller identity.ID
	if err := e.SetRiskThreshold(caller, fx128.U128FromUint64(1)); !errkind.Is(err, errkind.Unauthorized) {
		t.Fatalf("expected Unauthorized with a burned admin, got %v", err)
	}
}

func TestSetOracleAuthorityUpdatesAndClearsPushedPrice(t *testing.T) {
	var admin identity.ID
	admin[0] = 0xAA
	e := newTestSlabWithAdmin(t, admin, baseRiskParams())
	e.state().OracleAuthorityPriceE6 = fx128.U128FromUint64(1_000_000)
	e.state().OracleAuthoritySlot = 7

	var newAuthority identity.ID
	newAuthority[0] = 0xCC
	if err := e.SetOracleAuthority(admin, newAuthority); err != nil {
		t.Fatalf("SetOracleAuthority: %v", err)
	}
	if e.state().OracleAuthority != newAuthority {
		t.Fatalf("oracle authority not updated")
	}
	if !e.state().OracleAuthorityPriceE6.IsZero() || e.state().OracleAuthoritySlot != 0 {
		t.Fatalf("expected pushed price/slot cleared on authority change")
	}
}

func TestCloseSlabRequiresDrainedState(t *testing.T) {
	e := newTestSlab(t, baseRiskParams())
	idx := mustAddUser(t, e, 1_000_000)

	if err := e.CloseSlab(); !errkind.Is(err, errkind.InsufficientBalance) {
		t.Fatalf("expected InsufficientBalance while capital remains, got %v", err)
	}

	if _, err := e.CloseAccount(idx, 1); err != nil {
		t.Fatalf("CloseAccount: %v", err)
	}

	if err := e.CloseSlab(); err != nil {
		t.Fatalf("CloseSlab after fully drained state: %v", err)
	}
	if e.Slab.Header.IsInitialized() {
		t.Fatalf("expected header de-initialized after CloseSlab")
	}
}

func TestCloseSlabRejectsNonZeroInsuranceOrDust(t *testing.T) {
	e := newTestSlab(t, baseRiskParams())
	e.state().InsuranceFundBalance = fx128.U128FromUint64(1)
	if err := e.CloseSlab(); !errkind.Is(err, errkind.InsufficientBalance) {
		t.Fatalf("expected InsufficientBalance for nonzero insurance, got %v", err)
	}
	e.state().InsuranceFundBalance = fx128.ZeroU128()

	e.state().DustBase = fx128.U128FromUint64(1)
	if err := e.CloseSlab(); !errkind.Is(err, errkind.InsufficientBalance) {
		t.Fatalf("expected InsufficientBalance for nonzero dust_base, got %v", err)
	}
}
