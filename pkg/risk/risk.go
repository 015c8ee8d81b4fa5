// Package risk holds the margin/equity math shared by the trade pipeline
// (C5), liquidation (C6), and withdraw's margin check: unrealized PnL at a
// given mark price, equity, and required-margin sizing at either the
// initial or maintenance rate (spec.md §3 invariant 5, §4.5, §4.6).
// Grounded on an account ledger's UnrealizedPnL/TotalEquity/MarginRatio
// methods, generalized from a float64 price model to e6 fixed-point
// Int128/UInt128.
package risk

import (
	"github.com/hyperslab/percolator/pkg/errkind"
	"github.com/hyperslab/percolator/pkg/fx128"
	"github.com/hyperslab/percolator/pkg/slab"
)

// UnrealizedPnL returns position_size * (priceE6 - entry_price_e6) / 1e6.
func UnrealizedPnL(rec slab.AccountRecord, priceE6 uint64) (fx128.Int128, error) {
	price := fx128.I128FromInt64(int64(priceE6))
	entry, err := fx128.I128FromBig(rec.EntryPriceE6.Big())
	if err != nil {
		return fx128.Int128{}, errkind.New(errkind.Overflow, "entry price out of range: %v", err)
	}
	delta, err := price.Sub(entry)
	if err != nil {
		return fx128.Int128{}, errkind.New(errkind.Overflow, "price delta: %v", err)
	}
	pnl, err := rec.PositionSize.MulDivE6(delta)
	if err != nil {
		return fx128.Int128{}, errkind.New(errkind.Overflow, "unrealized pnl: %v", err)
	}
	return pnl, nil
}

// Equity returns capital + UnrealizedPnL at priceE6.
func Equity(rec slab.AccountRecord, priceE6 uint64) (fx128.Int128, error) {
	pnl, err := UnrealizedPnL(rec, priceE6)
	if err != nil {
		return fx128.Int128{}, err
	}
	eq, err := rec.Capital.Add(pnl)
	if err != nil {
		return fx128.Int128{}, errkind.New(errkind.Overflow, "equity: %v", err)
	}
	return eq, nil
}

// NotionalE6 returns |positionSize| * priceE6 as a UInt128.
func NotionalE6(positionSize fx128.Int128, priceE6 uint64) (fx128.UInt128, error) {
	abs, err := positionSize.Abs()
	if err != nil {
		return fx128.UInt128{}, errkind.New(errkind.Overflow, "position size abs: %v", err)
	}
	absU, err := fx128.U128FromBig(abs.Big())
	if err != nil {
		return fx128.UInt128{}, errkind.New(errkind.Overflow, "position size range: %v", err)
	}
	return fx128.NotionalE6(absU, fx128.U128FromUint64(priceE6))
}

// RequiredMargin returns notionalE6 * bps / 10_000, the shared shape behind
// both initial-margin (opening/growing) and maintenance-margin (holding)
// requirements (spec.md §3 invariant 5).
func RequiredMargin(notionalE6 fx128.UInt128, bps uint64) (fx128.UInt128, error) {
	m, err := notionalE6.BpsOf(bps)
	if err != nil {
		return fx128.UInt128{}, errkind.New(errkind.Overflow, "required margin: %v", err)
	}
	return m, nil
}

// MeetsRequirement reports whether equity >= requiredMargin (e6).
func MeetsRequirement(equity fx128.Int128, requiredMargin fx128.UInt128) bool {
	req, err := fx128.I128FromBig(requiredMargin.Big())
	if err != nil {
		return false
	}
	return equity.Cmp(req) >= 0
}
