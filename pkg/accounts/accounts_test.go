package accounts

import (
	"testing"

	"github.com/hyperslab/percolator/pkg/errkind"
	"github.com/hyperslab/percolator/pkg/fx128"
	"github.com/hyperslab/percolator/pkg/identity"
	"github.com/hyperslab/percolator/pkg/slab"
)

func newTestEngine(t *testing.T) *slab.RiskEngine {
	t.Helper()
	return slab.NewRiskEngine(slab.RiskParams{
		MaxAccounts:   4,
		NewAccountFee: fx128.U128FromUint64(1_000),
	})
}

func TestAddUserCreditsExcessFee(t *testing.T) {
	e := newTestEngine(t)
	var owner identity.ID
	owner[0] = 1

	idx, err := AddUser(e, owner, fx128.U128FromUint64(1_500))
	if err != nil {
		t.Fatalf("AddUser: %v", err)
	}
	rec, err := Get(e, idx)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if rec.Capital.Int64() != 500 {
		t.Fatalf("capital = %v, want 500", rec.Capital)
	}
	if rec.Kind != slab.KindUser || rec.Owner != owner {
		t.Fatalf("unexpected record: %+v", rec)
	}
}

func TestAddUserInsufficientFee(t *testing.T) {
	e := newTestEngine(t)
	var owner identity.ID
	_, err := AddUser(e, owner, fx128.U128FromUint64(999))
	if !errkind.Is(err, errkind.InsufficientBalance) {
		t.Fatalf("expected InsufficientBalance, got %v", err)
	}
}

func TestAddLPAssignsRollingAccountID(t *testing.T) {
	e := newTestEngine(t)
	var owner, matcherProgram, matcherContext identity.ID
	owner[0] = 1
	matcherProgram[0] = 2
	matcherContext[0] = 3

	idx1, err := AddLP(e, owner, matcherProgram, matcherContext, fx128.U128FromUint64(1_000))
	if err != nil {
		t.Fatalf("AddLP: %v", err)
	}
	idx2, err := AddLP(e, owner, matcherProgram, matcherContext, fx128.U128FromUint64(1_000))
	if err != nil {
		t.Fatalf("AddLP: %v", err)
	}
	rec1, _ := Get(e, idx1)
	rec2, _ := Get(e, idx2)
	if rec1.LPAccountID == 0 || rec2.LPAccountID == 0 || rec1.LPAccountID == rec2.LPAccountID {
		t.Fatalf("expected distinct nonzero LP account ids, got %d and %d", rec1.LPAccountID, rec2.LPAccountID)
	}
}

func TestCloseAccountRejectsOpenPosition(t *testing.T) {
	e := newTestEngine(t)
	var owner identity.ID
	idx, _ := AddUser(e, owner, fx128.U128FromUint64(1_000))
	e.Accounts[idx].PositionSize = fx128.I128FromInt64(10)

	if _, err := CloseAccount(e, idx, 0); !errkind.Is(err, errkind.PositionSizeMismatch) {
		t.Fatalf("expected PositionSizeMismatch, got %v", err)
	}
}

func TestCloseAccountReleasesSlotForReuse(t *testing.T) {
	e := newTestEngine(t)
	var owner identity.ID
	idx, _ := AddUser(e, owner, fx128.U128FromUint64(1_000))

	refund, err := CloseAccount(e, idx, 0)
	if err != nil {
		t.Fatalf("CloseAccount: %v", err)
	}
	if refund.Sign() != 0 {
		t.Fatalf("expected zero refund, got %v", refund)
	}
	if IsUsed(e, idx) {
		t.Fatalf("expected slot %d to be released", idx)
	}
	idx2, err := AddUser(e, owner, fx128.U128FromUint64(1_000))
	if err != nil {
		t.Fatalf("AddUser after close: %v", err)
	}
	if idx2 != idx {
		t.Fatalf("expected released slot %d to be reused, got %d", idx, idx2)
	}
}

func TestAccountTableCapacityExhausted(t *testing.T) {
	e := newTestEngine(t)
	for i := 0; i < 4; i++ {
		var owner identity.ID
		owner[0] = byte(i + 1)
		if _, err := AddUser(e, owner, fx128.U128FromUint64(1_000)); err != nil {
			t.Fatalf("AddUser %d: %v", i, err)
		}
	}
	var owner identity.ID
	if _, err := AddUser(e, owner, fx128.U128FromUint64(1_000)); !errkind.Is(err, errkind.AccountNotFound) {
		t.Fatalf("expected capacity error, got %v", err)
	}
}
