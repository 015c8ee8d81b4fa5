// Package errkind defines the engine's closed error-kind enum, grounded on
// the original program's RiskError -> PercolatorError 1:1 status-code
// mapping (_examples/original_source/src/percolator.rs, mod error). Every
// engine package returns one of these, wrapped with %w so callers can both
// inspect the kind with errors.As and read a human message.
package errkind

import (
	"errors"
	"fmt"
)

// Kind is a closed set of engine-level failure categories. Host callers map
// these 1:1 to status codes (spec.md §7); the set is intentionally closed —
// adding a new failure mode means adding a Kind here, never improvising a
// bare error string at a call site.
type Kind int

const (
	InsufficientBalance Kind = iota + 1
	Undercollateralized
	Unauthorized
	InvalidMatchingEngine
	PnlNotWarmedUp
	Overflow
	AccountNotFound
	NotAnLPAccount
	PositionSizeMismatch
	RiskReductionOnlyMode
	AccountKindMismatch
	HyperpTradeNoCpiDisabled
)

var names = map[Kind]string{
	InsufficientBalance:      "insufficient_balance",
	Undercollateralized:      "undercollateralized",
	Unauthorized:             "unauthorized",
	InvalidMatchingEngine:    "invalid_matching_engine",
	PnlNotWarmedUp:           "pnl_not_warmed_up",
	Overflow:                 "overflow",
	AccountNotFound:          "account_not_found",
	NotAnLPAccount:           "not_an_lp_account",
	PositionSizeMismatch:     "position_size_mismatch",
	RiskReductionOnlyMode:    "risk_reduction_only_mode",
	AccountKindMismatch:      "account_kind_mismatch",
	HyperpTradeNoCpiDisabled: "hyperp_trade_no_cpi_disabled",
}

func (k Kind) String() string {
	if s, ok := names[k]; ok {
		return s
	}
	return "unknown"
}

// Error pairs a Kind with a human-readable message. Compare with
// errors.Is/As against a *Error, or use Is(err, kind) below.
type Error struct {
	Kind Kind
	Msg  string
}

func (e *Error) Error() string {
	if e.Msg == "" {
		return e.Kind.String()
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

// New constructs an *Error for kind with a formatted message.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// Is reports whether err (or anything it wraps) is an *Error of kind.
func Is(err error, kind Kind) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	return e.Kind == kind
}
