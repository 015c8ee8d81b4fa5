// Package accounts implements the account table (spec.md §4.1, C2):
// allocation, ownership, and the close_account lifecycle over a
// slab.RiskEngine's fixed-capacity record array. Grounded in shape on an
// AccountManager's Deposit/Withdraw/lifecycle methods, which operate the
// same way — validate, then mutate a single record by index — just over a
// map instead of a fixed-capacity slab array.
package accounts

import (
	"github.com/hyperslab/percolator/pkg/errkind"
	"github.com/hyperslab/percolator/pkg/fx128"
	"github.com/hyperslab/percolator/pkg/identity"
	"github.com/hyperslab/percolator/pkg/slab"
)

// AddUser allocates a new User account. fee must be >= Params.NewAccountFee;
// any excess is credited to the new account's capital rather than trapped
// (spec.md §4.1, §9 "Fee overpayment").
func AddUser(e *slab.RiskEngine, owner identity.ID, fee fx128.UInt128) (uint32, error) {
	return addAccount(e, slab.KindUser, owner, identity.Zero, identity.Zero, fee)
}

// AddLP allocates a new LP account bound permanently to matcherProgram and
// matcherContext (spec.md invariant 4: immutable after registration), and
// assigns it a fresh rolling LPAccountID used to bind matcher returns to
// this specific allocation (spec.md §9).
func AddLP(e *slab.RiskEngine, owner, matcherProgram, matcherContext identity.ID, fee fx128.UInt128) (uint32, error) {
	return addAccount(e, slab.KindLP, owner, matcherProgram, matcherContext, fee)
}

func addAccount(e *slab.RiskEngine, kind slab.AccountKind, owner, matcherProgram, matcherContext identity.ID, fee fx128.UInt128) (uint32, error) {
	if fee.Lt(e.Params.NewAccountFee) {
		return 0, errkind.New(errkind.InsufficientBalance, "fee %s below new_account_fee %s", fee, e.Params.NewAccountFee)
	}
	if e.NumUsedAccounts >= uint32(e.Params.MaxAccounts) {
		return 0, errkind.New(errkind.AccountNotFound, "account table at capacity (%d)", e.Params.MaxAccounts)
	}
	excessU128, err := fee.Sub(e.Params.NewAccountFee)
	if err != nil {
		return 0, errkind.New(errkind.Overflow, "fee accounting: %v", err)
	}
	excess, err := fx128.I128FromBig(excessU128.Big())
	if err != nil {
		return 0, errkind.New(errkind.Overflow, "fee accounting: %v", err)
	}
	idx, ok := e.Allocate()
	if !ok {
		return 0, errkind.New(errkind.AccountNotFound, "no free account slot")
	}
	e.Accounts[idx] = slab.AccountRecord{
		Kind:           kind,
		Owner:          owner,
		Capital:        excess,
		MatcherProgram: matcherProgram,
		MatcherContext: matcherContext,
	}
	if kind == slab.KindLP {
		e.NextLPAccountID++
		e.Accounts[idx].LPAccountID = e.NextLPAccountID
	}
	return idx, nil
}

// SetOwner rebinds idx's owner. Callers authenticate the prior owner's
// signature before calling this; the package itself does no signer
// verification (out of scope per spec.md §1).
func SetOwner(e *slab.RiskEngine, idx uint32, owner identity.ID) error {
	if !e.IsUsed(idx) {
		return errkind.New(errkind.AccountNotFound, "index %d not in use", idx)
	}
	e.Accounts[idx].Owner = owner
	return nil
}

// IsUsed reports whether idx is a live account.
func IsUsed(e *slab.RiskEngine, idx uint32) bool {
	return e.IsUsed(idx)
}

// Get returns a copy of idx's record, failing if it is not in use.
func Get(e *slab.RiskEngine, idx uint32) (slab.AccountRecord, error) {
	if !e.IsUsed(idx) {
		return slab.AccountRecord{}, errkind.New(errkind.AccountNotFound, "index %d not in use", idx)
	}
	return e.Accounts[idx], nil
}

// CloseAccount closes idx and returns its spendable capital as a refund.
// It fails unless position_size == 0, warming PnL has been fully converted
// to capital (RealizedPnLWarming == 0), and the account is not currently
// excluded by the crank's pending-epoch marker (spec.md §4.1).
//
// Callers must call funding.Settle(e, idx, now) immediately before this so
// any pending funding PnL has already been applied.
func CloseAccount(e *slab.RiskEngine, idx uint32, currentEpoch uint16) (fx128.Int128, error) {
	rec, err := Get(e, idx)
	if err != nil {
		return fx128.Int128{}, err
	}
	if !rec.PositionSize.IsZero() {
		return fx128.Int128{}, errkind.New(errkind.PositionSizeMismatch, "cannot close with open position %s", rec.PositionSize)
	}
	if !rec.RealizedPnLWarming.IsZero() {
		return fx128.Int128{}, errkind.New(errkind.PnlNotWarmedUp, "warming PnL %s not yet converted", rec.RealizedPnLWarming)
	}
	// PendingExcludeEpoch 0 is the zero-value "never marked" sentinel, not a
	// real epoch number: PendingEpoch itself starts at 0 on a fresh engine,
	// so comparing unconditionally would reject closing a never-cranked
	// account that was never excluded by anything.
	if rec.PendingExcludeEpoch != 0 && rec.PendingExcludeEpoch == currentEpoch {
		return fx128.Int128{}, errkind.New(errkind.PnlNotWarmedUp, "account excluded by pending epoch %d", currentEpoch)
	}
	refund := rec.Capital
	e.Release(idx)
	return refund, nil
}
