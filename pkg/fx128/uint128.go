// Package fx128 provides the engine's fixed-point and wide-integer arithmetic:
// e6 (micro-unit) prices, basis-point helpers, and checked/saturating 128-bit
// integers. Every monetary quantity in the slab is either a UInt128 (insurance
// fund, configured minimums) or an Int128 (capital, signed PnL and position
// deltas); both overflow by returning an error rather than wrapping.
package fx128

import (
	"errors"
	"math/big"

	"github.com/holiman/uint256"
)

// ErrOverflow is returned by any checked operation that would exceed the
// 128-bit range. Per spec.md §3, overflow is fatal and must abort the whole
// engine operation.
var ErrOverflow = errors.New("fx128: overflow")

var max128 = func() *uint256.Int {
	one := uint256.NewInt(1)
	shifted := new(uint256.Int).Lsh(one, 128)
	return new(uint256.Int).Sub(shifted, uint256.NewInt(1))
}()

// UInt128 is an unsigned 128-bit integer backed by uint256.Int (holiman/uint256,
// also used transitively by go-ethereum). uint256 already ships checked
// AddOverflow/SubOverflow/MulOverflow; UInt128 narrows their 256-bit range
// down to this engine's 128-bit fields.
type UInt128 struct {
	v uint256.Int
}

// ZeroU128 is the additive identity.
func ZeroU128() UInt128 { return UInt128{} }

// U128FromUint64 constructs a UInt128 from a u64 (the wire width of most
// instruction payload fields, e.g. deposit/withdraw amounts).
func U128FromUint64(x uint64) UInt128 {
	var u UInt128
	u.v.SetUint64(x)
	return u
}

// U128FromBig constructs a UInt128 from a big.Int, erroring if it is negative
// or exceeds 2^128-1.
func U128FromBig(b *big.Int) (UInt128, error) {
	if b.Sign() < 0 {
		return UInt128{}, ErrOverflow
	}
	v, overflow := uint256.FromBig(b)
	if overflow || v.Cmp(max128) > 0 {
		return UInt128{}, ErrOverflow
	}
	return UInt128{v: *v}, nil
}

// Big returns the value as a big.Int (used at slab I/O boundaries and tests).
func (u UInt128) Big() *big.Int { return u.v.ToBig() }

// Uint64 truncates to a u64; callers must only use this where the value is
// already known to fit (e.g. re-encoding a fee amount that came in as u64).
func (u UInt128) Uint64() uint64 { return u.v.Uint64() }

// IsZero reports whether the value is zero.
func (u UInt128) IsZero() bool { return u.v.IsZero() }

// Cmp compares u to o: -1, 0, +1.
func (u UInt128) Cmp(o UInt128) int { return u.v.Cmp(&o.v) }

// Lt reports u < o.
func (u UInt128) Lt(o UInt128) bool { return u.v.Lt(&o.v) }

// Gt reports u > o.
func (u UInt128) Gt(o UInt128) bool { return u.v.Gt(&o.v) }

// Add returns u+o, erroring on overflow past 2^128-1.
func (u UInt128) Add(o UInt128) (UInt128, error) {
	var sum uint256.Int
	_, overflow := sum.AddOverflow(&u.v, &o.v)
	if overflow || sum.Cmp(max128) > 0 {
		return UInt128{}, ErrOverflow
	}
	return UInt128{v: sum}, nil
}

// Sub returns u-o, erroring if the result would be negative.
func (u UInt128) Sub(o UInt128) (UInt128, error) {
	var diff uint256.Int
	_, underflow := diff.SubOverflow(&u.v, &o.v)
	if underflow {
		return UInt128{}, ErrOverflow
	}
	return UInt128{v: diff}, nil
}

// SaturatingSub returns u-o, clamped to zero instead of erroring. Used by the
// crank's insolvency sweep where a negative residual is meaningful but the
// unsigned ledger field it feeds (insurance draw-down) must never go negative.
func (u UInt128) SaturatingSub(o UInt128) UInt128 {
	if u.Lt(o) {
		return UInt128{}
	}
	d, _ := u.Sub(o)
	return d
}

// Mul returns u*o, erroring on overflow past 2^128-1.
func (u UInt128) Mul(o UInt128) (UInt128, error) {
	var prod uint256.Int
	_, overflow := prod.MulOverflow(&u.v, &o.v)
	if overflow || prod.Cmp(max128) > 0 {
		return UInt128{}, ErrOverflow
	}
	return UInt128{v: prod}, nil
}

// MulDiv computes (u*mul)/div with full 256-bit intermediate precision,
// erroring only if the final result overflows 128 bits or div is zero. This is
// the core of every bps computation (notional * bps / 10_000).
func (u UInt128) MulDiv(mul, div UInt128) (UInt128, error) {
	if div.v.IsZero() {
		return UInt128{}, ErrOverflow
	}
	var prod uint256.Int
	if _, overflow := prod.MulOverflow(&u.v, &mul.v); overflow {
		return UInt128{}, ErrOverflow
	}
	var q uint256.Int
	q.Div(&prod, &div.v)
	if q.Cmp(max128) > 0 {
		return UInt128{}, ErrOverflow
	}
	return UInt128{v: q}, nil
}

// Div returns u/o, erroring if o is zero.
func (u UInt128) Div(o UInt128) (UInt128, error) {
	if o.v.IsZero() {
		return UInt128{}, ErrOverflow
	}
	var q uint256.Int
	q.Div(&u.v, &o.v)
	return UInt128{v: q}, nil
}

// BpsOf returns v * bps / 10_000, the shared basis-point scaling used by
// margin, fee, and liquidation-buffer math throughout C3/C5/C6.
func (u UInt128) BpsOf(bps uint64) (UInt128, error) {
	return u.MulDiv(U128FromUint64(bps), U128FromUint64(10_000))
}

// String renders the value in base 10 (diagnostics/logging only).
func (u UInt128) String() string { return u.v.Dec() }
