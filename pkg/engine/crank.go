package engine

import (
	"github.com/hyperslab/percolator/pkg/errkind"
	"github.com/hyperslab/percolator/pkg/funding"
	"github.com/hyperslab/percolator/pkg/fx128"
	"github.com/hyperslab/percolator/pkg/identity"
	"github.com/hyperslab/percolator/pkg/slab"
)

// NoCaller is the caller_idx sentinel for a permissionless crank
// invocation — spec.md §4.7 only requires an owner-match when caller_idx
// names an in-use account; this value can never collide with a real slot
// since account indices are bounded by slab.MaxAccountsCap.
const NoCaller uint32 = 0xFFFFFFFF

// ewmaShift sets the threshold EWMA's smoothing factor at 1/16 — a cheap
// shift-based exponential moving average, the same shape a rolling
// latency/throughput gauge would use, here tracking the threshold's target
// (risk_units) to smooth the risk-reduction trigger threshold against
// single-crank noise.
const ewmaShift = 4

// thresholdEWMAStepBps and thresholdEWMAMinStep bound the threshold EWMA's
// per-crank movement: max_step = max(current*thresholdEWMAStepBps/1e4,
// thresholdEWMAMinStep), per spec.md §4.7. spec.md names the clamp shape
// but not its numeric parameters, which have no corresponding RiskParams
// field (see DESIGN.md); these two constants are this repo's choice, not a
// transcription of a spec.md or original_source value.
const (
	thresholdEWMAStepBps = 1000
	thresholdEWMAMinStep = 1
)

// KeeperCrank runs the engine's single periodic maintenance pass, in the
// fixed order spec.md §4.7 requires: index smoothing, funding index
// accrual, an insolvency sweep settling every open account against the new
// index, warmup PnL conversion, the haircut ratio update, the
// risk-reduction threshold EWMA, and the epoch tick. No pass is reordered;
// each one observes the output of the one before it. The only pass ever
// skipped is funding accrual, when more than MaxCrankStalenessSlots have
// elapsed since the previous crank.
//
// callerIdx/callerOwner implement spec.md §4.7's crank authorization rule:
// "if caller_idx refers to an in-use account, its owner must sign." Pass
// NoCaller for a permissionless invocation (no account claims to be the
// crank's caller); any other value naming an in-use account is checked
// against callerOwner and rejected on mismatch. An unused or out-of-range
// caller_idx is not an in-use account, so it carries no authorization
// requirement either.
func (e *Engine) KeeperCrank(callerIdx uint32, callerOwner identity.ID, now uint64, oraclePriceE6 uint64) error {
	st := e.state()

	if callerIdx != NoCaller && uint64(callerIdx) < st.Params.MaxAccounts && st.IsUsed(callerIdx) {
		if st.Accounts[callerIdx].Owner != callerOwner {
			return errkind.New(errkind.Unauthorized, "caller_idx %d is in use by a different owner", callerIdx)
		}
	}

	// elapsed == 0 means "this exact slot already cranked" (a same-slot
	// re-invocation, spec.md §4.7/§8's idempotency requirement) and must
	// leave index smoothing untouched. The very first crank a market ever
	// sees has no prior slot to measure against, so it is treated as a
	// single elapsed slot rather than zero.
	elapsed := uint64(1)
	if st.LastCrankSlot != 0 {
		elapsed = 0
		if now > st.LastCrankSlot {
			elapsed = now - st.LastCrankSlot
		}
	}

	if err := applyIndexSmoothing(e.Slab, oraclePriceE6, elapsed); err != nil {
		return err
	}

	// spec.md §4.7: a crank invoked past max_crank_staleness_slots skips
	// funding accrual but still runs every other pass. The very first
	// crank (LastCrankSlot == 0, elapsed == 1 by construction above) always
	// accrues — there is no prior crank slot to measure staleness against.
	if st.LastCrankSlot == 0 || elapsed <= st.Params.MaxCrankStalenessSlots {
		if err := accrueFunding(st, elapsed); err != nil {
			return err
		}
	}

	preHaircutRatio := st.HaircutRatioE6
	totalPositiveWarming := fx128.ZeroU128()
	for i := 0; i < int(st.Params.MaxAccounts); i++ {
		idx := uint32(i)
		if !st.IsUsed(idx) {
			continue
		}
		if err := funding.Settle(st, idx, now); err != nil {
			return err
		}
		if err := sweepInsolvency(st, idx); err != nil {
			return err
		}
		if st.Accounts[idx].RealizedPnLWarming.Sign() > 0 {
			pos, err := fx128.U128FromBig(st.Accounts[idx].RealizedPnLWarming.Big())
			if err != nil {
				return errkind.New(errkind.Overflow, "warming pnl range: %v", err)
			}
			totalPositiveWarming, err = totalPositiveWarming.Add(pos)
			if err != nil {
				return errkind.New(errkind.Overflow, "total warming pnl: %v", err)
			}
		}
	}

	for i := 0; i < int(st.Params.MaxAccounts); i++ {
		idx := uint32(i)
		if !st.IsUsed(idx) {
			continue
		}
		if _, err := funding.ConvertWarmup(st, idx, now, preHaircutRatio); err != nil {
			return err
		}
	}

	if err := updateHaircutRatio(st, totalPositiveWarming); err != nil {
		return err
	}

	if err := updateThresholdEWMA(st); err != nil {
		return err
	}

	st.PendingEpoch++
	st.LastCrankSlot = now
	return nil
}

// applyIndexSmoothing updates last_mark_price_e6 to the latest oracle read
// and chases last_effective_price_e6 toward it by at most
// oracle_price_cap_e2bps per elapsed slot; a zero cap disables smoothing
// entirely (last_effective_price_e6 tracks the mark price exactly, spec.md
// §3 MarketConfig.oracle_price_cap_e2bps). Scaling the cap by elapsed slots
// (and no-opping the chase at elapsed == 0) is what makes a same-slot crank
// idempotent, per spec.md §4.7/§8 — otherwise two back-to-back cranks with
// no time passage would each apply a full step even though nothing should
// have moved between them.
func applyIndexSmoothing(s *slab.Slab, oraclePriceE6 uint64, elapsed uint64) error {
	st := s.Engine
	st.LastMarkPriceE6 = fx128.U128FromUint64(oraclePriceE6)

	cap := s.MarketConfig.OraclePriceCapE2Bps
	if cap == 0 || st.LastEffectivePriceE6.IsZero() {
		st.LastEffectivePriceE6 = st.LastMarkPriceE6
		return nil
	}
	if elapsed == 0 {
		return nil
	}

	mark := st.LastMarkPriceE6
	eff := st.LastEffectivePriceE6
	maxStep, err := eff.MulDiv(fx128.U128FromUint64(uint64(cap)*elapsed), fx128.U128FromUint64(1_000_000))
	if err != nil {
		return errkind.New(errkind.Overflow, "index smoothing cap: %v", err)
	}
	if mark.Cmp(eff) >= 0 {
		step := mark.SaturatingSub(eff)
		if step.Cmp(maxStep) > 0 {
			step = maxStep
		}
		newEff, err := eff.Add(step)
		if err != nil {
			return errkind.New(errkind.Overflow, "index smoothing: %v", err)
		}
		st.LastEffectivePriceE6 = newEff
	} else {
		step := eff.SaturatingSub(mark)
		if step.Cmp(maxStep) > 0 {
			step = maxStep
		}
		st.LastEffectivePriceE6 = eff.SaturatingSub(step)
	}
	return nil
}

// accrueFunding advances the global funding index by the gap between the
// raw mark price (LastMarkPriceE6) and the smoothed effective price
// (LastEffectivePriceE6) (a premium component, pulling
// positions toward convergence) plus a flat carrying cost proportional to
// elapsed slots (maintenance_fee_per_slot, spec.md §3 RiskParams). Every
// open account picks this up uniformly the next time funding.Settle runs.
func accrueFunding(st *slab.RiskEngine, elapsed uint64) error {
	markI, err := fx128.I128FromBig(st.LastMarkPriceE6.Big())
	if err != nil {
		return errkind.New(errkind.Overflow, "mark price range: %v", err)
	}
	effI, err := fx128.I128FromBig(st.LastEffectivePriceE6.Big())
	if err != nil {
		return errkind.New(errkind.Overflow, "effective price range: %v", err)
	}
	premium, err := markI.Sub(effI)
	if err != nil {
		return errkind.New(errkind.Overflow, "funding premium: %v", err)
	}

	carryU, err := st.Params.MaintenanceFeePerSlot.Mul(fx128.U128FromUint64(elapsed))
	if err != nil {
		return errkind.New(errkind.Overflow, "maintenance fee accrual: %v", err)
	}
	carry, err := fx128.I128FromBig(carryU.Big())
	if err != nil {
		return errkind.New(errkind.Overflow, "maintenance fee range: %v", err)
	}

	accrual, err := premium.Add(carry)
	if err != nil {
		return errkind.New(errkind.Overflow, "funding accrual: %v", err)
	}
	newIndex, err := st.CumulativeFundingIndexE6.Add(accrual)
	if err != nil {
		return errkind.New(errkind.Overflow, "cumulative funding index: %v", err)
	}
	st.CumulativeFundingIndexE6 = newIndex
	return nil
}

// sweepInsolvency draws the insurance fund down to cover any account whose
// post-settle capital is negative (spec.md §4.7), zeroing the account's
// capital afterward. A shortfall the fund cannot fully cover is added to
// UncoveredLosses for the haircut pass to recover from future warming PnL.
func sweepInsolvency(st *slab.RiskEngine, idx uint32) error {
	rec := &st.Accounts[idx]
	if rec.Capital.Sign() >= 0 {
		return nil
	}
	shortfallI, err := rec.Capital.Neg()
	if err != nil {
		return errkind.New(errkind.Overflow, "insolvency shortfall magnitude: %v", err)
	}
	shortfall, err := fx128.U128FromBig(shortfallI.Big())
	if err != nil {
		return errkind.New(errkind.Overflow, "insolvency shortfall range: %v", err)
	}
	if st.InsuranceFundBalance.Cmp(shortfall) >= 0 {
		newBal, err := st.InsuranceFundBalance.Sub(shortfall)
		if err != nil {
			return errkind.New(errkind.Overflow, "insurance draw-down: %v", err)
		}
		st.InsuranceFundBalance = newBal
	} else {
		uncovered := shortfall.SaturatingSub(st.InsuranceFundBalance)
		st.InsuranceFundBalance = fx128.ZeroU128()
		newUncovered, err := st.UncoveredLosses.Add(uncovered)
		if err != nil {
			return errkind.New(errkind.Overflow, "uncovered losses: %v", err)
		}
		st.UncoveredLosses = newUncovered
	}
	rec.Capital = fx128.ZeroI128()
	return nil
}

// updateHaircutRatio recovers UncoveredLosses pro-rata against the pool of
// positive warming PnL this crank is about to convert (spec.md §4.8,
// invariant 7: haircut_ratio_e6 stays within [0, 1e6] and never increases
// mid-crank). If there is nothing uncovered, or nothing warming to draw
// from, the ratio sits at its identity value (1e6, no haircut).
func updateHaircutRatio(st *slab.RiskEngine, totalPositiveWarming fx128.UInt128) error {
	if st.UncoveredLosses.IsZero() || totalPositiveWarming.IsZero() {
		st.HaircutRatioE6 = fx128.E6Scale
		return nil
	}
	if st.UncoveredLosses.Cmp(totalPositiveWarming) >= 0 {
		// Warming PnL alone cannot cover the loss this crank; haircut
		// everything and let UncoveredLosses carry the remainder forward.
		remaining, err := st.UncoveredLosses.Sub(totalPositiveWarming)
		if err != nil {
			return errkind.New(errkind.Overflow, "uncovered losses remainder: %v", err)
		}
		st.UncoveredLosses = remaining
		st.HaircutRatioE6 = 0
		return nil
	}
	ratio, err := fx128.U128FromUint64(fx128.E6Scale).Sub(func() fx128.UInt128 {
		r, _ := st.UncoveredLosses.MulDiv(fx128.U128FromUint64(fx128.E6Scale), totalPositiveWarming)
		return r
	}())
	if err != nil {
		return errkind.New(errkind.Overflow, "haircut ratio: %v", err)
	}
	st.UncoveredLosses = fx128.ZeroU128()
	st.HaircutRatioE6 = ratio.Uint64()
	return nil
}

// computeRiskUnits implements spec.md §4.7's threshold-EWMA input:
// risk_units = |Σ position_size| + max|position_size| across every in-use
// account — the net directional imbalance (usually near zero once trades
// have matched two counterparties, invariant 2) plus the single largest
// concentrated exposure.
func computeRiskUnits(st *slab.RiskEngine) (fx128.UInt128, error) {
	net := fx128.ZeroI128()
	maxAbs := fx128.ZeroU128()
	for i := 0; i < int(st.Params.MaxAccounts); i++ {
		if !st.IsUsed(uint32(i)) {
			continue
		}
		pos := st.Accounts[i].PositionSize
		var err error
		net, err = net.Add(pos)
		if err != nil {
			return fx128.UInt128{}, errkind.New(errkind.Overflow, "risk units net position: %v", err)
		}
		abs, err := pos.Abs()
		if err != nil {
			return fx128.UInt128{}, errkind.New(errkind.Overflow, "risk units position abs: %v", err)
		}
		absU, err := fx128.U128FromBig(abs.Big())
		if err != nil {
			return fx128.UInt128{}, errkind.New(errkind.Overflow, "risk units position range: %v", err)
		}
		if absU.Cmp(maxAbs) > 0 {
			maxAbs = absU
		}
	}
	netAbs, err := net.Abs()
	if err != nil {
		return fx128.UInt128{}, errkind.New(errkind.Overflow, "risk units net abs: %v", err)
	}
	netAbsU, err := fx128.U128FromBig(netAbs.Big())
	if err != nil {
		return fx128.UInt128{}, errkind.New(errkind.Overflow, "risk units net range: %v", err)
	}
	riskUnits, err := netAbsU.Add(maxAbs)
	if err != nil {
		return fx128.UInt128{}, errkind.New(errkind.Overflow, "risk units total: %v", err)
	}
	return riskUnits, nil
}

// thresholdTarget is f(risk_units, params) from spec.md §4.7 — the
// EWMA's target value. spec.md leaves f unspecified; risk_units is a sum
// of base-unit position sizes (no price factor), and scaling it by the same
// maintenance-margin fraction the engine already gates collateral against
// (RiskParams.MaintenanceMarginBps) ties the threshold to "how much margin
// this much concentrated risk would require" rather than introducing a
// parameter with no RiskParams field to back it.
func thresholdTarget(riskUnits fx128.UInt128, params *slab.RiskParams) (fx128.UInt128, error) {
	target, err := riskUnits.BpsOf(params.MaintenanceMarginBps)
	if err != nil {
		return fx128.UInt128{}, errkind.New(errkind.Overflow, "threshold target: %v", err)
	}
	return target, nil
}

// updateThresholdEWMA moves RiskReductionThresholdEWMA toward
// thresholdTarget(risk_units, params) under a per-interval clamp
// max_step = max(current*thresholdEWMAStepBps/1e4, thresholdEWMAMinStep),
// special-casing current == 0 to jump straight to target on its first
// positive step (spec.md §4.7, §9 "EWMA zero floor bug": a pure
// multiplicative update starting from zero can never climb back out).
func updateThresholdEWMA(st *slab.RiskEngine) error {
	riskUnits, err := computeRiskUnits(st)
	if err != nil {
		return err
	}
	target, err := thresholdTarget(riskUnits, &st.Params)
	if err != nil {
		return err
	}

	old := st.RiskReductionThresholdEWMA
	if old.IsZero() {
		st.RiskReductionThresholdEWMA = target
		return nil
	}

	diff := target.SaturatingSub(old)
	grow := true
	if diff.IsZero() {
		diff = old.SaturatingSub(target)
		grow = false
	}

	step, err := diff.MulDiv(fx128.U128FromUint64(1), fx128.U128FromUint64(1<<ewmaShift))
	if err != nil {
		return errkind.New(errkind.Overflow, "threshold ewma step: %v", err)
	}
	stepFromCurrent, err := old.BpsOf(thresholdEWMAStepBps)
	if err != nil {
		return errkind.New(errkind.Overflow, "threshold ewma max step: %v", err)
	}
	maxStep := stepFromCurrent
	if maxStep.Cmp(fx128.U128FromUint64(thresholdEWMAMinStep)) < 0 {
		maxStep = fx128.U128FromUint64(thresholdEWMAMinStep)
	}
	if step.Cmp(maxStep) > 0 {
		step = maxStep
	}

	var next fx128.UInt128
	if grow {
		next, err = old.Add(step)
		if err != nil {
			return errkind.New(errkind.Overflow, "threshold ewma grow: %v", err)
		}
	} else {
		next = old.SaturatingSub(step)
	}
	st.RiskReductionThresholdEWMA = next
	return nil
}
