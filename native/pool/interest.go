package pool

import "math/big"

// Blocks assumed per year when annual rates are compounded per block.
const blocksPerYear = 31_536_000

var (
	irModMin = big.NewInt(100_000_000)    // 0.1 in 9 decimals
	irModMax = big.NewInt(10_000_000_000) // 10.0 in 9 decimals
)

// curveRate evaluates the piecewise linear rate curve at the supplied
// utilization, before the adaptive modifier is applied. Both the input
// and the returned annual rate carry seven decimals.
//
//	u <= target: base + r_one * u / target
//	u >  target: base + r_one + r_two * (u - target) / (1 - target)
func curveRate(cfg *ReserveConfig, util *big.Int) (*big.Int, error) {
	rate := new(big.Int).Set(cfg.RBase)
	if util.Sign() == 0 {
		return rate, nil
	}
	target := cfg.Util
	if target.Sign() == 0 || util.Cmp(target) <= 0 {
		slope, err := divFloor(util, maxInt(target, big.NewInt(1)), cfg.ROne)
		if err != nil {
			return nil, err
		}
		return rate.Add(rate, slope), nil
	}
	rate.Add(rate, cfg.ROne)
	excess := new(big.Int).Sub(util, target)
	span := new(big.Int).Sub(Scalar7, target)
	if span.Sign() <= 0 {
		span = big.NewInt(1)
	}
	slope, err := divFloor(excess, span, cfg.RTwo)
	if err != nil {
		return nil, err
	}
	return rate.Add(rate, slope), nil
}

// calcAccrual compounds the rate curve over the elapsed blocks and
// drifts the adaptive modifier toward the utilization target. It
// returns the nine decimal accrual ratio (>= Scalar9) and the updated
// modifier.
func calcAccrual(cfg *ReserveConfig, util, irMod *big.Int, deltaBlocks uint64) (*big.Int, *big.Int, error) {
	rate, err := curveRate(cfg, util)
	if err != nil {
		return nil, nil, err
	}
	modified, err := mulFloor(rate, irMod, Scalar9)
	if err != nil {
		return nil, nil, err
	}

	// Annual 7-decimal rate to a 9-decimal per-elapsed-period ratio.
	accrued := new(big.Int).Mul(modified, big.NewInt(100))
	accrued.Mul(accrued, new(big.Int).SetUint64(deltaBlocks))
	accrued.Div(accrued, big.NewInt(blocksPerYear))
	ratio, err := checkRange(new(big.Int).Add(Scalar9, accrued))
	if err != nil {
		return nil, nil, err
	}

	// The modifier re-centres the curve on target utilization: running
	// hot pushes rates up, running cold lets them decay.
	utilError := new(big.Int).Sub(util, cfg.Util)
	utilError.Mul(utilError, new(big.Int).SetUint64(cfg.Reactivity))
	utilError.Mul(utilError, new(big.Int).SetUint64(deltaBlocks))
	utilError.Div(utilError, Scalar7)
	nextMod := new(big.Int).Add(irMod, utilError)
	if nextMod.Cmp(irModMin) < 0 {
		nextMod.Set(irModMin)
	} else if nextMod.Cmp(irModMax) > 0 {
		nextMod.Set(irModMax)
	}
	return ratio, nextMod, nil
}

func maxInt(a, b *big.Int) *big.Int {
	if a.Cmp(b) >= 0 {
		return a
	}
	return b
}
