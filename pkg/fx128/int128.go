package fx128

import "math/big"

// Int128 is a signed 128-bit integer. The pack carries no signed wide-integer
// library (holiman/uint256 is unsigned-only; go-ethereum's big.Int is
// arbitrary precision, not fixed-width) — see DESIGN.md and SPEC_FULL.md §11.1
// for why this one piece is a justified, range-checked wrapper around the
// stdlib's math/big instead of a pack dependency. It backs every genuinely
// signed spec field: position_size, cumulative_funding_index_e6,
// last_funding_index_snapshot, realized_pnl_warming, and matcher
// exec_size/req_size.
type Int128 struct {
	v big.Int
}

var (
	minI128 = new(big.Int).Lsh(big.NewInt(-1), 127)
	maxI128 = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 127), big.NewInt(1))
)

// ZeroI128 is the additive identity.
func ZeroI128() Int128 { return Int128{} }

// I128FromInt64 constructs an Int128 from an i64 (the wire width of funding
// hints and most signed instruction fields other than req/exec size).
func I128FromInt64(x int64) Int128 {
	var i Int128
	i.v.SetInt64(x)
	return i
}

// I128FromBig constructs an Int128 from a big.Int, checking range.
func I128FromBig(b *big.Int) (Int128, error) {
	if b.Cmp(minI128) < 0 || b.Cmp(maxI128) > 0 {
		return Int128{}, ErrOverflow
	}
	var i Int128
	i.v.Set(b)
	return i, nil
}

// Big returns the value as a big.Int.
func (i Int128) Big() *big.Int { return new(big.Int).Set(&i.v) }

// Int64 truncates to an i64; callers must only use this where the value is
// already known to fit.
func (i Int128) Int64() int64 { return i.v.Int64() }

// Sign returns -1, 0, or 1.
func (i Int128) Sign() int { return i.v.Sign() }

// IsZero reports whether the value is zero.
func (i Int128) IsZero() bool { return i.v.Sign() == 0 }

// Cmp compares i to o: -1, 0, +1.
func (i Int128) Cmp(o Int128) int { return i.v.Cmp(&o.v) }

// Abs returns the absolute value, erroring only on the i128::MIN edge case
// (spec.md §8: "i128::MIN sizes must be rejected by validation" — the one
// value whose absolute value does not fit back in range).
func (i Int128) Abs() (Int128, error) {
	var a big.Int
	a.Abs(&i.v)
	return I128FromBig(&a)
}

// Neg returns -i, subject to the same i128::MIN caveat as Abs.
func (i Int128) Neg() (Int128, error) {
	var n big.Int
	n.Neg(&i.v)
	return I128FromBig(&n)
}

// Add returns i+o, erroring on overflow past ±2^127.
func (i Int128) Add(o Int128) (Int128, error) {
	var sum big.Int
	sum.Add(&i.v, &o.v)
	return I128FromBig(&sum)
}

// Sub returns i-o, erroring on overflow past ±2^127.
func (i Int128) Sub(o Int128) (Int128, error) {
	var diff big.Int
	diff.Sub(&i.v, &o.v)
	return I128FromBig(&diff)
}

// Mul returns i*o, erroring on overflow past ±2^127.
func (i Int128) Mul(o Int128) (Int128, error) {
	var prod big.Int
	prod.Mul(&i.v, &o.v)
	return I128FromBig(&prod)
}

// MulDivE6 computes round-toward-zero (i * mul) / 1_000_000 with full
// intermediate precision — the shape every funding-index accrual
// (`position_size · delta / 1e6`, spec.md §4.3) takes.
func (i Int128) MulDivE6(mul Int128) (Int128, error) {
	var prod big.Int
	prod.Mul(&i.v, &mul.v)
	var q big.Int
	q.Quo(&prod, big.NewInt(1_000_000))
	return I128FromBig(&q)
}

// SaturatingMulDivE6 is MulDivE6 but clamps to ±2^127-1 instead of erroring,
// matching spec.md §4.3's "pnl = saturating(position_size · delta / 1e6)" —
// funding settlement must never abort a touch operation on overflow.
func (i Int128) SaturatingMulDivE6(mul Int128) Int128 {
	var prod big.Int
	prod.Mul(&i.v, &mul.v)
	var q big.Int
	q.Quo(&prod, big.NewInt(1_000_000))
	if q.Cmp(minI128) < 0 {
		return Int128{v: *new(big.Int).Set(minI128)}
	}
	if q.Cmp(maxI128) > 0 {
		return Int128{v: *new(big.Int).Set(maxI128)}
	}
	return Int128{v: q}
}

// String renders the value in base 10 (diagnostics/logging only).
func (i Int128) String() string { return i.v.String() }
