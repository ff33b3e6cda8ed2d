package pool

import "math/big"

// Fixed point scales used throughout the pool. Amounts, risk factors,
// oracle prices and auction modifiers carry seven decimal places while
// exchange rates carry nine to limit drift across repeated accruals.
var (
	Scalar7 = big.NewInt(10_000_000)
	Scalar9 = big.NewInt(1_000_000_000)

	// maxFixed bounds every fixed point result to the signed 128-bit
	// range so settlement amounts stay bit-reproducible across
	// implementations.
	maxFixed = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 127), big.NewInt(1))
	minFixed = new(big.Int).Neg(new(big.Int).Lsh(big.NewInt(1), 127))
)

func checkRange(v *big.Int) (*big.Int, error) {
	if v.Cmp(maxFixed) > 0 || v.Cmp(minFixed) < 0 {
		return nil, ErrArithmeticOverflow
	}
	return v, nil
}

// mulFloor computes a*b/scalar rounded toward negative infinity.
func mulFloor(a, b, scalar *big.Int) (*big.Int, error) {
	if a == nil || b == nil {
		return big.NewInt(0), nil
	}
	product := new(big.Int).Mul(a, b)
	// big.Int.Div floors for a positive divisor.
	return checkRange(product.Div(product, scalar))
}

// mulCeil computes a*b/scalar rounded toward positive infinity.
func mulCeil(a, b, scalar *big.Int) (*big.Int, error) {
	if a == nil || b == nil {
		return big.NewInt(0), nil
	}
	product := new(big.Int).Mul(a, b)
	product.Neg(product)
	product.Div(product, scalar)
	return checkRange(product.Neg(product))
}

// divFloor computes a*scalar/b rounded toward negative infinity.
func divFloor(a, b, scalar *big.Int) (*big.Int, error) {
	if a == nil || b == nil || b.Sign() == 0 {
		return nil, ErrArithmeticOverflow
	}
	numerator := new(big.Int).Mul(a, scalar)
	return checkRange(numerator.Div(numerator, b))
}

// divCeil computes a*scalar/b rounded toward positive infinity.
func divCeil(a, b, scalar *big.Int) (*big.Int, error) {
	if a == nil || b == nil || b.Sign() == 0 {
		return nil, ErrArithmeticOverflow
	}
	numerator := new(big.Int).Mul(a, scalar)
	numerator.Neg(numerator)
	numerator.Div(numerator, b)
	return checkRange(numerator.Neg(numerator))
}
