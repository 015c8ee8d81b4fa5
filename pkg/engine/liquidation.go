package engine

import (
	"github.com/hyperslab/percolator/pkg/accounts"
	"github.com/hyperslab/percolator/pkg/errkind"
	"github.com/hyperslab/percolator/pkg/fx128"
	"github.com/hyperslab/percolator/pkg/risk"
)

// LiquidateAtOracle fully closes idx's position at an oracle-derived price
// when its equity has fallen below the maintenance margin requirement plus
// a liquidation_buffer_bps share of notional (spec.md §4.6, C6, §8
// scenario S6). The liquidation price is pushed
// against the position by liquidation_buffer_bps before the liquidation fee
// (bounded between min_liquidation_abs and liquidation_fee_cap) is charged;
// any resulting capital shortfall is drawn from the insurance fund, with
// whatever the fund cannot cover added to UncoveredLosses for the crank's
// haircut pass to recover later (spec.md §4.8, invariant 7).
//
// Returns the liquidation fee actually charged.
func (e *Engine) LiquidateAtOracle(idx uint32, now uint64, oraclePriceE6 uint64) (fx128.UInt128, error) {
	st := e.state()
	if err := e.settle(idx, now); err != nil {
		return fx128.UInt128{}, err
	}
	rec, err := accounts.Get(st, idx)
	if err != nil {
		return fx128.UInt128{}, err
	}
	if rec.PositionSize.IsZero() {
		return fx128.UInt128{}, errkind.New(errkind.PositionSizeMismatch, "index %d has no open position to liquidate", idx)
	}

	equity, err := risk.Equity(rec, oraclePriceE6)
	if err != nil {
		return fx128.UInt128{}, err
	}
	notional, err := risk.NotionalE6(rec.PositionSize, oraclePriceE6)
	if err != nil {
		return fx128.UInt128{}, err
	}
	maintenanceReq, err := risk.RequiredMargin(notional, st.Params.MaintenanceMarginBps)
	if err != nil {
		return fx128.UInt128{}, err
	}
	// spec.md §4.6 step 2: not liquidatable while equity still clears the
	// maintenance requirement by at least a liquidation_buffer_bps margin of
	// safety on top — the same buffer bufferedLiquidationPrice applies to
	// the settlement price below, applied here to the eligibility notional
	// instead.
	bufferMargin, err := notional.BpsOf(st.Params.LiquidationBufferBps)
	if err != nil {
		return fx128.UInt128{}, errkind.New(errkind.Overflow, "liquidation buffer margin: %v", err)
	}
	eligibilityReq, err := maintenanceReq.Add(bufferMargin)
	if err != nil {
		return fx128.UInt128{}, errkind.New(errkind.Overflow, "liquidation eligibility requirement: %v", err)
	}
	if risk.MeetsRequirement(equity, eligibilityReq) {
		// spec.md §7 policy: liquidation attempts on solvent accounts fail
		// Unauthorized, not a retryable/invalid-argument condition.
		return fx128.UInt128{}, errkind.New(errkind.Unauthorized, "index %d meets maintenance margin plus buffer (equity %s >= required %s)", idx, equity, eligibilityReq)
	}

	bufferedPriceE6, err := bufferedLiquidationPrice(oraclePriceE6, rec.PositionSize, st.Params.LiquidationBufferBps)
	if err != nil {
		return fx128.UInt128{}, err
	}

	bufferedNotional, err := risk.NotionalE6(rec.PositionSize, bufferedPriceE6)
	if err != nil {
		return fx128.UInt128{}, err
	}
	fee, err := bufferedNotional.BpsOf(st.Params.LiquidationFeeBps)
	if err != nil {
		return fx128.UInt128{}, errkind.New(errkind.Overflow, "liquidation fee: %v", err)
	}
	if fee.Lt(st.Params.MinLiquidationAbs) {
		fee = st.Params.MinLiquidationAbs
	}
	if fee.Gt(st.Params.LiquidationFeeCap) {
		fee = st.Params.LiquidationFeeCap
	}

	entryI, err := fx128.I128FromBig(rec.EntryPriceE6.Big())
	if err != nil {
		return fx128.UInt128{}, errkind.New(errkind.Overflow, "entry price range: %v", err)
	}
	bufferedI := fx128.I128FromInt64(int64(bufferedPriceE6))
	priceDelta, err := bufferedI.Sub(entryI)
	if err != nil {
		return fx128.UInt128{}, errkind.New(errkind.Overflow, "liquidation price delta: %v", err)
	}
	pnl, err := rec.PositionSize.MulDivE6(priceDelta)
	if err != nil {
		return fx128.UInt128{}, errkind.New(errkind.Overflow, "liquidation pnl: %v", err)
	}
	feeI, err := fx128.I128FromBig(fee.Big())
	if err != nil {
		return fx128.UInt128{}, errkind.New(errkind.Overflow, "liquidation fee range: %v", err)
	}
	postCloseCapital, err := rec.Capital.Add(pnl)
	if err != nil {
		return fx128.UInt128{}, errkind.New(errkind.Overflow, "post-close capital: %v", err)
	}
	postCloseCapital, err = postCloseCapital.Sub(feeI)
	if err != nil {
		return fx128.UInt128{}, errkind.New(errkind.Overflow, "post-fee capital: %v", err)
	}

	newCapital := postCloseCapital
	newInsurance := st.InsuranceFundBalance
	newUncovered := st.UncoveredLosses
	if postCloseCapital.Sign() < 0 {
		shortfallI, err := postCloseCapital.Neg()
		if err != nil {
			return fx128.UInt128{}, errkind.New(errkind.Overflow, "shortfall magnitude: %v", err)
		}
		shortfall, err := fx128.U128FromBig(shortfallI.Big())
		if err != nil {
			return fx128.UInt128{}, errkind.New(errkind.Overflow, "shortfall range: %v", err)
		}
		if st.InsuranceFundBalance.Cmp(shortfall) >= 0 {
			newInsurance, err = st.InsuranceFundBalance.Sub(shortfall)
			if err != nil {
				return fx128.UInt128{}, errkind.New(errkind.Overflow, "insurance draw-down: %v", err)
			}
		} else {
			uncovered := shortfall.SaturatingSub(st.InsuranceFundBalance)
			newInsurance = fx128.ZeroU128()
			newUncovered, err = st.UncoveredLosses.Add(uncovered)
			if err != nil {
				return fx128.UInt128{}, errkind.New(errkind.Overflow, "uncovered losses: %v", err)
			}
		}
		newCapital = fx128.ZeroI128()
	}

	oldAbs, err := absOI(rec.PositionSize)
	if err != nil {
		return fx128.UInt128{}, err
	}
	newOI, err := st.TotalOpenInterest.Sub(oldAbs)
	if err != nil {
		return fx128.UInt128{}, errkind.New(errkind.Overflow, "open interest: %v", err)
	}

	st.Accounts[idx].PositionSize = fx128.ZeroI128()
	st.Accounts[idx].EntryPriceE6 = fx128.ZeroU128()
	st.Accounts[idx].Capital = newCapital
	st.InsuranceFundBalance = newInsurance
	st.UncoveredLosses = newUncovered
	st.TotalOpenInterest = newOI

	return fee, nil
}

// bufferedLiquidationPrice pushes oraclePriceE6 against pos's direction by
// bufferBps: a long liquidates into a lower price, a short into a higher
// one, so the liquidation always realizes at least as much loss as the raw
// oracle price would (spec.md §4.6).
func bufferedLiquidationPrice(oraclePriceE6 uint64, pos fx128.Int128, bufferBps uint64) (uint64, error) {
	base := fx128.U128FromUint64(oraclePriceE6)
	adj, err := base.BpsOf(bufferBps)
	if err != nil {
		return 0, errkind.New(errkind.Overflow, "liquidation buffer: %v", err)
	}
	var buffered fx128.UInt128
	if pos.Sign() >= 0 {
		buffered, err = base.Sub(adj)
	} else {
		buffered, err = base.Add(adj)
	}
	if err != nil {
		return 0, errkind.New(errkind.Overflow, "buffered liquidation price: %v", err)
	}
	return buffered.Uint64(), nil
}
