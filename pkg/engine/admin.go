package engine

import (
	"github.com/hyperslab/percolator/pkg/errkind"
	"github.com/hyperslab/percolator/pkg/fx128"
	"github.com/hyperslab/percolator/pkg/identity"
)

// requireAdmin enforces the admin-burn semantics SPEC_FULL.md §12 assigns to
// SetOracleAuthority/SetRiskThreshold: a zeroed Header.Admin disables admin
// ops permanently, and any non-zero admin must match callerAdmin exactly
// (an already-verified signer identity, resolved the same way every other
// owner check in this package is — upstream of the engine, per spec.md §1).
func (e *Engine) requireAdmin(callerAdmin identity.ID) error {
	if identity.IsZero(e.Slab.Header.Admin) {
		return errkind.New(errkind.Unauthorized, "admin is burned")
	}
	if callerAdmin != e.Slab.Header.Admin {
		return errkind.New(errkind.Unauthorized, "caller is not the market admin")
	}
	return nil
}

// SetRiskThreshold updates risk_reduction_threshold, gated on a matching,
// non-burned admin (spec.md §6 SetRiskThreshold; SPEC_FULL.md §12 admin burn
// semantics).
func (e *Engine) SetRiskThreshold(callerAdmin identity.ID, newThreshold fx128.UInt128) error {
	if err := e.requireAdmin(callerAdmin); err != nil {
		return err
	}
	e.state().Params.RiskReductionThreshold = newThreshold
	return nil
}

// SetOracleAuthority updates the Hyperp admin-pushed oracle authority
// identity, gated the same way as SetRiskThreshold. The previously pushed
// authority price/slot are cleared along with the authority change — a
// stale price attributed to the outgoing authority must not be read as if
// the incoming one had pushed it.
func (e *Engine) SetOracleAuthority(callerAdmin identity.ID, newAuthority identity.ID) error {
	if err := e.requireAdmin(callerAdmin); err != nil {
		return err
	}
	st := e.state()
	st.OracleAuthority = newAuthority
	st.OracleAuthorityPriceE6 = fx128.ZeroU128()
	st.OracleAuthoritySlot = 0
	return nil
}

// CloseSlab enforces spec.md §4.9/§6's close precondition — the slab may
// only be torn down once every piece of value it tracks has been fully
// drained out: insurance_fund_balance == 0, Σ capital == 0, and
// dust_base == 0 (spec.md §8 edge case: "CloseSlab fails while dust_base >
// 0"). On success the header is de-initialized (Magic/Version zeroed),
// matching Header.IsInitialized's own definition of "initialized" in
// reverse.
func (e *Engine) CloseSlab() error {
	st := e.state()
	if !st.InsuranceFundBalance.IsZero() {
		return errkind.New(errkind.InsufficientBalance, "close_slab: insurance_fund_balance must be zero, got %s", st.InsuranceFundBalance)
	}
	if !st.DustBase.IsZero() {
		return errkind.New(errkind.InsufficientBalance, "close_slab: dust_base must be zero, got %s", st.DustBase)
	}
	sumCapital, err := SumCapital(e.Slab)
	if err != nil {
		return err
	}
	if !sumCapital.IsZero() {
		return errkind.New(errkind.InsufficientBalance, "close_slab: sum of account capital must be zero, got %s", sumCapital)
	}
	e.Slab.Header.Magic = 0
	e.Slab.Header.Version = 0
	return nil
}
