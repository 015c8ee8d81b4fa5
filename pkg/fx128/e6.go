package fx128

// E6Scale is the fixed-point scale for all price fields: 1.000000 == 1_000_000.
const E6Scale = 1_000_000

// BpsDenominator is the basis-point denominator used by every margin, fee, and
// liquidation-economics field in RiskParams.
const BpsDenominator = 10_000

// NotionalE6 computes |size| * price_e6 as a UInt128, the shared notional
// calculation behind margin checks, fees, and liquidation sizing. size must
// already be non-negative (callers pass Int128.Abs()).
func NotionalE6(absSize, priceE6 UInt128) (UInt128, error) {
	return absSize.Mul(priceE6)
}
