// Package funding implements the per-account funding/mark ledger (spec.md
// §4.3, C3): settling an account against the engine's global funding index,
// and converting warmed-up positive PnL into spendable capital. Grounded on
// an UpdatePosition/ApplyFees pattern — validate, then mutate one record's
// ledger fields in place — generalized from plain realized-PnL bookkeeping
// to signed funding-index accrual and a warmup delay.
package funding

import (
	"github.com/hyperslab/percolator/pkg/errkind"
	"github.com/hyperslab/percolator/pkg/fx128"
	"github.com/hyperslab/percolator/pkg/slab"
)

// Settle applies funding accrual to account idx against the engine's
// current cumulative_funding_index_e6 (spec.md §4.3):
//
//	delta = current_index - last_funding_index_snapshot
//	pnl   = saturating(position_size * delta / 1e6)
//	negative pnl reduces capital immediately; positive pnl accrues into
//	realized_pnl_warming and resets warming_start_slot to now.
//
// Every account touch (trade, deposit, withdraw, liquidation, sweep) must
// call Settle first.
func Settle(e *slab.RiskEngine, idx uint32, now uint64) error {
	if !e.IsUsed(idx) {
		return errkind.New(errkind.AccountNotFound, "index %d not in use", idx)
	}
	rec := &e.Accounts[idx]

	delta, err := e.CumulativeFundingIndexE6.Sub(rec.LastFundingIndexSnapshot)
	if err != nil {
		return errkind.New(errkind.Overflow, "funding delta: %v", err)
	}
	pnl := rec.PositionSize.SaturatingMulDivE6(delta)

	switch pnl.Sign() {
	case -1:
		newCapital, err := rec.Capital.Add(pnl)
		if err != nil {
			return errkind.New(errkind.Overflow, "capital debit: %v", err)
		}
		rec.Capital = newCapital
	case 1:
		newWarming, err := rec.RealizedPnLWarming.Add(pnl)
		if err != nil {
			return errkind.New(errkind.Overflow, "warming credit: %v", err)
		}
		rec.RealizedPnLWarming = newWarming
		rec.WarmingStartSlot = now
	}
	rec.LastFundingIndexSnapshot = e.CumulativeFundingIndexE6
	return nil
}

// ConvertWarmup converts idx's warmed-up positive realized PnL into
// spendable capital, scaled by haircutRatioE6 (spec.md §4.7, the sampled
// ratio from before the same sweep's haircut update — callers pass the
// pre-update value). Reports whether a conversion happened.
//
// Negative warming PnL is never held here: Settle already routes it
// straight to capital, so RealizedPnLWarming is always >= 0 by the time
// ConvertWarmup runs.
func ConvertWarmup(e *slab.RiskEngine, idx uint32, now uint64, haircutRatioE6 uint64) (bool, error) {
	if !e.IsUsed(idx) {
		return false, errkind.New(errkind.AccountNotFound, "index %d not in use", idx)
	}
	rec := &e.Accounts[idx]
	if rec.RealizedPnLWarming.Sign() <= 0 {
		return false, nil
	}
	if now-rec.WarmingStartSlot < e.Params.WarmupPeriodSlots {
		return false, nil
	}

	scaled, err := rec.RealizedPnLWarming.MulDivE6(fx128.I128FromInt64(int64(haircutRatioE6)))
	if err != nil {
		return false, errkind.New(errkind.Overflow, "haircut scaling: %v", err)
	}
	newCapital, err := rec.Capital.Add(scaled)
	if err != nil {
		return false, errkind.New(errkind.Overflow, "capital credit: %v", err)
	}
	rec.Capital = newCapital
	rec.RealizedPnLWarming = fx128.ZeroI128()
	return true, nil
}
