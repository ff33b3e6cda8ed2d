package pool

import "math/big"

// NewReserve initialises a reserve at par exchange rates.
func NewReserve(cfg ReserveConfig) *Reserve {
	return &Reserve{
		Config: cfg,
		Data: ReserveData{
			BRate:          new(big.Int).Set(Scalar9),
			DRate:          new(big.Int).Set(Scalar9),
			IRMod:          new(big.Int).Set(Scalar9),
			BSupply:        big.NewInt(0),
			DSupply:        big.NewInt(0),
			BackstopCredit: big.NewInt(0),
		},
	}
}

// TotalSupplyUnderlying converts the outstanding supply shares to
// underlying, rounding against suppliers.
func (r *Reserve) TotalSupplyUnderlying() (*big.Int, error) {
	return r.ToAssetFromBToken(r.Data.BSupply)
}

// TotalLiabilityUnderlying converts the outstanding debt shares to
// underlying, rounding against borrowers.
func (r *Reserve) TotalLiabilityUnderlying() (*big.Int, error) {
	return r.ToAssetFromDToken(r.Data.DSupply)
}

// Utilization returns debt over supply with seven decimals, capped at
// one.
func (r *Reserve) Utilization() (*big.Int, error) {
	supply, err := r.TotalSupplyUnderlying()
	if err != nil {
		return nil, err
	}
	if supply.Sign() == 0 {
		return big.NewInt(0), nil
	}
	debt, err := r.TotalLiabilityUnderlying()
	if err != nil {
		return nil, err
	}
	util, err := divFloor(debt, supply, Scalar7)
	if err != nil {
		return nil, err
	}
	if util.Cmp(Scalar7) > 0 {
		util.Set(Scalar7)
	}
	return util, nil
}

// Accrue compounds interest over the blocks elapsed since the last
// accrual, credits the backstop its share and writes the new exchange
// rates. bstopRate is the seven decimal portion of interest routed to
// the backstop.
func (r *Reserve) Accrue(currentBlock uint64, bstopRate *big.Int) error {
	if currentBlock <= r.Data.LastBlock {
		return nil
	}
	delta := currentBlock - r.Data.LastBlock
	if r.Data.DSupply.Sign() == 0 {
		r.Data.LastBlock = currentBlock
		return nil
	}

	debtBefore, err := r.TotalLiabilityUnderlying()
	if err != nil {
		return err
	}
	supplyBefore, err := r.TotalSupplyUnderlying()
	if err != nil {
		return err
	}
	util, err := r.Utilization()
	if err != nil {
		return err
	}

	ratio, nextMod, err := calcAccrual(&r.Config, util, r.Data.IRMod, delta)
	if err != nil {
		return err
	}

	nextDRate, err := mulFloor(r.Data.DRate, ratio, Scalar9)
	if err != nil {
		return err
	}
	if nextDRate.Cmp(r.Data.DRate) > 0 {
		r.Data.DRate = nextDRate
	}
	r.Data.IRMod = nextMod

	debtAfter, err := r.TotalLiabilityUnderlying()
	if err != nil {
		return err
	}
	interest := new(big.Int).Sub(debtAfter, debtBefore)
	if interest.Sign() > 0 {
		backstopShare, err := mulFloor(interest, bstopRate, Scalar7)
		if err != nil {
			return err
		}
		r.Data.BackstopCredit = new(big.Int).Add(r.Data.BackstopCredit, backstopShare)

		if r.Data.BSupply.Sign() > 0 {
			supplierTotal := new(big.Int).Add(supplyBefore, new(big.Int).Sub(interest, backstopShare))
			nextBRate, err := divFloor(supplierTotal, r.Data.BSupply, Scalar9)
			if err != nil {
				return err
			}
			if nextBRate.Cmp(r.Data.BRate) > 0 {
				r.Data.BRate = nextBRate
			}
		}
	}

	r.Data.LastBlock = currentBlock
	return nil
}

// Share and asset conversions. Every direction rounds against the
// caller: redeemed underlying and minted supply shares round down,
// owed underlying and minted debt shares round up, so dust never
// drifts against the protocol.

// ToAssetFromBToken converts supply shares to underlying, floor.
func (r *Reserve) ToAssetFromBToken(amount *big.Int) (*big.Int, error) {
	return mulFloor(amount, r.Data.BRate, Scalar9)
}

// ToAssetFromDToken converts debt shares to underlying owed, ceiling.
func (r *Reserve) ToAssetFromDToken(amount *big.Int) (*big.Int, error) {
	return mulCeil(amount, r.Data.DRate, Scalar9)
}

// ToBTokenFromAsset converts an underlying amount to supply shares,
// floor. Deposits mint slightly fewer shares than the exact quotient.
func (r *Reserve) ToBTokenFromAsset(amount *big.Int) (*big.Int, error) {
	return divFloor(amount, r.Data.BRate, Scalar9)
}

// ToDTokenFromAsset converts an underlying amount to debt shares,
// floor. Repayments burn slightly fewer shares than the exact
// quotient.
func (r *Reserve) ToDTokenFromAsset(amount *big.Int) (*big.Int, error) {
	return divFloor(amount, r.Data.DRate, Scalar9)
}

// ToDTokenFromAssetCeil converts an underlying amount to debt shares,
// ceiling. Borrows mint slightly more shares than the exact quotient.
func (r *Reserve) ToDTokenFromAssetCeil(amount *big.Int) (*big.Int, error) {
	return divCeil(amount, r.Data.DRate, Scalar9)
}

// ToEffectiveAssetFromBToken applies the collateral factor haircut on
// top of the share conversion, flooring at each step.
func (r *Reserve) ToEffectiveAssetFromBToken(amount *big.Int) (*big.Int, error) {
	asset, err := r.ToAssetFromBToken(amount)
	if err != nil {
		return nil, err
	}
	return mulFloor(asset, r.Config.CFactor, Scalar7)
}

// ToEffectiveAssetFromDToken scales the owed underlying up by the
// inverse of the liability factor.
func (r *Reserve) ToEffectiveAssetFromDToken(amount *big.Int) (*big.Int, error) {
	asset, err := r.ToAssetFromDToken(amount)
	if err != nil {
		return nil, err
	}
	if r.Config.LFactor.Sign() == 0 {
		return nil, ErrArithmeticOverflow
	}
	return divCeil(asset, r.Config.LFactor, Scalar7)
}

// RequireBackedDebt enforces the reserve invariant that outstanding
// debt never exceeds the effectively supplied underlying.
func (r *Reserve) RequireBackedDebt() error {
	supply, err := r.TotalSupplyUnderlying()
	if err != nil {
		return err
	}
	debt, err := r.TotalLiabilityUnderlying()
	if err != nil {
		return err
	}
	if debt.Cmp(supply) > 0 {
		return ErrInsufficientLiquidity
	}
	return nil
}
