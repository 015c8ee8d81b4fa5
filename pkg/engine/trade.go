package engine

import (
	"github.com/hyperslab/percolator/pkg/errkind"
	"github.com/hyperslab/percolator/pkg/fx128"
	"github.com/hyperslab/percolator/pkg/matcher"
	"github.com/hyperslab/percolator/pkg/oracle"
	"github.com/hyperslab/percolator/pkg/risk"
	"github.com/hyperslab/percolator/pkg/slab"
)

// ExecuteTrade runs the full trade pipeline (spec.md §4.5, C5) between a user
// account and the LP account it trades against, via m:
//
//  1. validate req_size is non-zero and not i128::MIN
//  2. reject TradeNoCpi outright in Hyperp mode (isCpi distinguishes the two
//     identically-shaped instruction tags, spec.md §9)
//  3. settle funding on both sides
//  4. gate on risk-reduction-only mode if the insurance fund is below
//     risk_reduction_threshold
//  5. gate the user's projected post-trade equity against initial margin
//  6. issue the matcher call frame and validate its return (nonce advances
//     only on success — a rejected/invalid return leaves no state change)
//  7. apply the settled exec_size/exec_price_e6 to both accounts' position
//     and entry price
//  8. charge the trading fee, split between the filling LP and the
//     insurance fund
//
// last_effective_price_e6 (maintained by the keeper crank's index-smoothing
// pass, spec.md §4.7) gates step 5's margin check; oraclePriceE6 is the
// literal price carried in the matcher call frame and is what actually
// settles the trade once the matcher returns exec_price_e6. This split — a
// smoothed price for risk gating, the raw input for execution — is this
// repo's reading of spec.md §4.5 step 2's terse "compute effective price";
// see DESIGN.md.
//
// isCpi reports which instruction tag invoked the trade: true for TradeCpi
// (tag 10, always permitted), false for TradeNoCpi (tag 6, disabled in
// Hyperp mode — spec.md §6 tag table, §9 "Hyperp mode").
func (e *Engine) ExecuteTrade(m matcher.Matcher, userIdx, lpIdx uint32, now uint64, oraclePriceE6 uint64, reqSize fx128.Int128, isCpi bool) error {
	st := e.state()

	if reqSize.IsZero() {
		return errkind.New(errkind.PositionSizeMismatch, "req_size is zero")
	}
	if _, err := reqSize.Abs(); err != nil {
		return errkind.New(errkind.Overflow, "req_size is i128::MIN")
	}
	if !isCpi && oracle.IsHyperpFeed(e.Slab.MarketConfig.IndexOracle) {
		return errkind.New(errkind.HyperpTradeNoCpiDisabled, "trade_no_cpi is disabled while the market runs in Hyperp mode")
	}

	userRec := st.Accounts[userIdx]
	if !st.IsUsed(userIdx) {
		return errkind.New(errkind.AccountNotFound, "index %d not in use", userIdx)
	}
	if userRec.Kind != slab.KindUser {
		return errkind.New(errkind.AccountKindMismatch, "index %d is not a user account", userIdx)
	}
	lpRec := st.Accounts[lpIdx]
	if !st.IsUsed(lpIdx) {
		return errkind.New(errkind.AccountNotFound, "index %d not in use", lpIdx)
	}
	if lpRec.Kind != slab.KindLP {
		return errkind.New(errkind.NotAnLPAccount, "index %d is not an LP account", lpIdx)
	}

	if err := e.settle(userIdx, now); err != nil {
		return err
	}
	if err := e.settle(lpIdx, now); err != nil {
		return err
	}
	userRec = st.Accounts[userIdx]
	lpRec = st.Accounts[lpIdx]

	// spec.md §8 S5 phrases the gate as insurance_fund_balance <= threshold.
	// A zero threshold is the sentinel for "gate disabled" rather than a
	// literal always-trip comparison: a fresh market's balance also starts
	// at zero, and S1's matched-long scenario (no threshold configured)
	// still expects an ordinary opening trade to succeed.
	if !st.Params.RiskReductionThreshold.IsZero() && !st.InsuranceFundBalance.Gt(st.Params.RiskReductionThreshold) {
		if !reducesPosition(userRec.PositionSize, reqSize) {
			return errkind.New(errkind.RiskReductionOnlyMode, "insurance fund below threshold, trade must reduce position")
		}
	}

	effectivePriceE6 := st.LastEffectivePriceE6.Uint64()
	if effectivePriceE6 == 0 {
		effectivePriceE6 = oraclePriceE6
	}
	if err := gateProjectedMargin(st, userRec, reqSize, effectivePriceE6); err != nil {
		return err
	}

	reqID := e.Slab.Header.Nonce + 1
	call := matcher.CallFrame{
		ReqID:         reqID,
		LPIdx:         uint16(lpIdx),
		LPAccountID:   lpRec.LPAccountID,
		OraclePriceE6: oraclePriceE6,
		ReqSize:       reqSize,
	}
	raw, err := m.Execute(call)
	if err != nil {
		return errkind.New(errkind.InvalidMatchingEngine, "matcher execute: %v", err)
	}
	ret, err := matcher.Validate(call, raw)
	if err != nil {
		return err
	}

	// Nothing below this line can fail on an account-table capacity or
	// matcher-ABI ground; from here on only arithmetic-range errors abort,
	// and the nonce only commits once we're past them.
	newUserPos, newUserEntry, err := applyFill(userRec.PositionSize, userRec.EntryPriceE6, ret.ExecSize, ret.ExecPriceE6)
	if err != nil {
		return err
	}
	negExecSize, err := ret.ExecSize.Neg()
	if err != nil {
		return errkind.New(errkind.Overflow, "exec_size negation: %v", err)
	}
	newLPPos, newLPEntry, err := applyFill(lpRec.PositionSize, lpRec.EntryPriceE6, negExecSize, ret.ExecPriceE6)
	if err != nil {
		return err
	}

	notionalExec, err := risk.NotionalE6(ret.ExecSize, ret.ExecPriceE6)
	if err != nil {
		return err
	}
	fee, err := notionalExec.BpsOf(st.Params.TradingFeeBps)
	if err != nil {
		return errkind.New(errkind.Overflow, "trading fee: %v", err)
	}
	lpShare, err := fee.BpsOf(feeSplitLPBps)
	if err != nil {
		return errkind.New(errkind.Overflow, "fee split: %v", err)
	}
	insuranceShare, err := fee.Sub(lpShare)
	if err != nil {
		return errkind.New(errkind.Overflow, "fee split: %v", err)
	}
	feeI, err := fx128.I128FromBig(fee.Big())
	if err != nil {
		return errkind.New(errkind.Overflow, "fee out of range: %v", err)
	}
	lpShareI, err := fx128.I128FromBig(lpShare.Big())
	if err != nil {
		return errkind.New(errkind.Overflow, "fee share out of range: %v", err)
	}
	newUserCapital, err := userRec.Capital.Sub(feeI)
	if err != nil {
		return errkind.New(errkind.InsufficientBalance, "trade fee exceeds capital: %v", err)
	}
	newLPCapital, err := lpRec.Capital.Add(lpShareI)
	if err != nil {
		return errkind.New(errkind.Overflow, "lp fee credit: %v", err)
	}
	newInsurance, err := st.InsuranceFundBalance.Add(insuranceShare)
	if err != nil {
		return errkind.New(errkind.Overflow, "insurance fee credit: %v", err)
	}

	oldUserAbs, err := absOI(userRec.PositionSize)
	if err != nil {
		return err
	}
	oldLPAbs, err := absOI(lpRec.PositionSize)
	if err != nil {
		return err
	}
	newUserAbs, err := absOI(newUserPos)
	if err != nil {
		return err
	}
	newLPAbs, err := absOI(newLPPos)
	if err != nil {
		return err
	}
	newOI, err := st.TotalOpenInterest.Sub(oldUserAbs)
	if err != nil {
		return errkind.New(errkind.Overflow, "open interest: %v", err)
	}
	newOI, err = newOI.Sub(oldLPAbs)
	if err != nil {
		return errkind.New(errkind.Overflow, "open interest: %v", err)
	}
	newOI, err = newOI.Add(newUserAbs)
	if err != nil {
		return errkind.New(errkind.Overflow, "open interest: %v", err)
	}
	newOI, err = newOI.Add(newLPAbs)
	if err != nil {
		return errkind.New(errkind.Overflow, "open interest: %v", err)
	}

	e.Slab.Header.Nonce = reqID
	st.Accounts[userIdx].PositionSize = newUserPos
	st.Accounts[userIdx].EntryPriceE6 = newUserEntry
	st.Accounts[userIdx].Capital = newUserCapital
	st.Accounts[lpIdx].PositionSize = newLPPos
	st.Accounts[lpIdx].EntryPriceE6 = newLPEntry
	st.Accounts[lpIdx].Capital = newLPCapital
	st.InsuranceFundBalance = newInsurance
	st.TotalOpenInterest = newOI
	st.LastMarkPriceE6 = fx128.U128FromUint64(oraclePriceE6)

	return nil
}

// reducesPosition reports whether applying delta to pos strictly does not
// grow its magnitude — the risk-reduction-only gate (spec.md §4.5, §8 S5).
func reducesPosition(pos, delta fx128.Int128) bool {
	newPos, err := pos.Add(delta)
	if err != nil {
		return false
	}
	oldAbs, err := pos.Abs()
	if err != nil {
		return false
	}
	newAbs, err := newPos.Abs()
	if err != nil {
		return false
	}
	return newAbs.Cmp(oldAbs) <= 0
}

// gateProjectedMargin rejects Undercollateralized if opening/growing a
// user's position by reqSize, priced at priceE6 and fee-adjusted, would
// leave projected equity below the initial margin requirement on the
// resulting size (spec.md §4.5 step 3). The projection reuses the account's
// current entry price as a stand-in for unrealized PnL, since the actual
// post-trade entry price depends on exec_price_e6 which the matcher has not
// yet returned — a conservative pre-check, not the final settled state.
func gateProjectedMargin(st *slab.RiskEngine, rec slab.AccountRecord, reqSize fx128.Int128, priceE6 uint64) error {
	newPos, err := rec.PositionSize.Add(reqSize)
	if err != nil {
		return errkind.New(errkind.Overflow, "projected position: %v", err)
	}
	notional, err := risk.NotionalE6(newPos, priceE6)
	if err != nil {
		return err
	}
	required, err := risk.RequiredMargin(notional, st.Params.InitialMarginBps)
	if err != nil {
		return err
	}
	feeNotional, err := risk.NotionalE6(reqSize, priceE6)
	if err != nil {
		return err
	}
	fee, err := feeNotional.BpsOf(st.Params.TradingFeeBps)
	if err != nil {
		return errkind.New(errkind.Overflow, "projected fee: %v", err)
	}
	feeI, err := fx128.I128FromBig(fee.Big())
	if err != nil {
		return errkind.New(errkind.Overflow, "projected fee out of range: %v", err)
	}
	projectedCapital, err := rec.Capital.Sub(feeI)
	if err != nil {
		return errkind.New(errkind.InsufficientBalance, "projected fee exceeds capital: %v", err)
	}
	projectedRec := rec
	projectedRec.PositionSize = newPos
	pnl, err := risk.UnrealizedPnL(projectedRec, priceE6)
	if err != nil {
		return err
	}
	equity, err := projectedCapital.Add(pnl)
	if err != nil {
		return errkind.New(errkind.Overflow, "projected equity: %v", err)
	}
	if !risk.MeetsRequirement(equity, required) {
		return errkind.New(errkind.Undercollateralized, "projected equity %s below required margin %s", equity, required)
	}
	return nil
}

// applyFill applies a signed delta to a position at execPriceE6 and returns
// the new position and entry price (spec.md §4.5 step 6):
//
//   - delta == 0: no-op (a PARTIAL_OK zero fill)
//   - resulting position is zero: entry price resets to zero (flat)
//   - sign is preserved across the trade (including partial reduction
//     without a flip): the entry price becomes the size-weighted average of
//     the old position at its old entry price and delta at execPriceE6
//   - sign flips or the account crosses through zero: entry price becomes
//     execPriceE6 for the residual
func applyFill(pos fx128.Int128, entry fx128.UInt128, delta fx128.Int128, execPriceE6 uint64) (fx128.Int128, fx128.UInt128, error) {
	newPos, err := pos.Add(delta)
	if err != nil {
		return fx128.Int128{}, fx128.UInt128{}, errkind.New(errkind.Overflow, "position update: %v", err)
	}
	if newPos.IsZero() {
		return newPos, fx128.ZeroU128(), nil
	}
	if pos.Sign() != 0 && pos.Sign() == newPos.Sign() {
		absOld, err := pos.Abs()
		if err != nil {
			return fx128.Int128{}, fx128.UInt128{}, errkind.New(errkind.Overflow, "abs old position: %v", err)
		}
		absDelta, err := delta.Abs()
		if err != nil {
			return fx128.Int128{}, fx128.UInt128{}, errkind.New(errkind.Overflow, "abs delta: %v", err)
		}
		absOldU, err := fx128.U128FromBig(absOld.Big())
		if err != nil {
			return fx128.Int128{}, fx128.UInt128{}, errkind.New(errkind.Overflow, "abs old position range: %v", err)
		}
		absDeltaU, err := fx128.U128FromBig(absDelta.Big())
		if err != nil {
			return fx128.Int128{}, fx128.UInt128{}, errkind.New(errkind.Overflow, "abs delta range: %v", err)
		}
		oldTerm, err := absOldU.Mul(entry)
		if err != nil {
			return fx128.Int128{}, fx128.UInt128{}, errkind.New(errkind.Overflow, "weighted entry: %v", err)
		}
		newTerm, err := absDeltaU.Mul(fx128.U128FromUint64(execPriceE6))
		if err != nil {
			return fx128.Int128{}, fx128.UInt128{}, errkind.New(errkind.Overflow, "weighted entry: %v", err)
		}
		sum, err := oldTerm.Add(newTerm)
		if err != nil {
			return fx128.Int128{}, fx128.UInt128{}, errkind.New(errkind.Overflow, "weighted entry: %v", err)
		}
		weight, err := absOldU.Add(absDeltaU)
		if err != nil {
			return fx128.Int128{}, fx128.UInt128{}, errkind.New(errkind.Overflow, "weighted entry: %v", err)
		}
		newEntry, err := sum.Div(weight)
		if err != nil {
			return fx128.Int128{}, fx128.UInt128{}, errkind.New(errkind.Overflow, "weighted entry: %v", err)
		}
		return newPos, newEntry, nil
	}
	return newPos, fx128.U128FromUint64(execPriceE6), nil
}

// absOI returns |pos| as a UInt128, the shared shape total_open_interest
// bookkeeping needs on both sides of a trade.
func absOI(pos fx128.Int128) (fx128.UInt128, error) {
	abs, err := pos.Abs()
	if err != nil {
		return fx128.UInt128{}, errkind.New(errkind.Overflow, "position abs: %v", err)
	}
	absU, err := fx128.U128FromBig(abs.Big())
	if err != nil {
		return fx128.UInt128{}, errkind.New(errkind.Overflow, "position range: %v", err)
	}
	return absU, nil
}
