package pool

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// PositionOf values a user's aggregate holdings in the base unit as of
// the current reserve and oracle state.
func (e *Engine) PositionOf(user common.Address) (*PositionData, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	positions, err := e.loadPositions(user)
	if err != nil {
		return nil, err
	}
	return e.computePosition(user, positions, nil)
}

// computePosition aggregates collateral and liability exposure across
// every reserve the usage bitmask marks active, folding an optional
// hypothetical delta into its reserve's contribution exactly once.
// Reserves are accrued in memory only; nothing is persisted here.
func (e *Engine) computePosition(user common.Address, positions *Positions, delta *PositionDelta) (*PositionData, error) {
	assets, err := e.state.ReserveList()
	if err != nil {
		return nil, err
	}

	data := &PositionData{
		CollateralBase: big.NewInt(0),
		LiabilityBase:  big.NewInt(0),
	}
	for _, asset := range assets {
		deltaApplies := delta != nil && delta.Asset == asset
		reserve, err := e.state.GetReserve(asset)
		if err != nil {
			return nil, err
		}
		if reserve == nil {
			return nil, ErrReserveNotFound
		}
		index := reserve.Config.Index
		if !positions.Usage.IsActive(index) && !deltaApplies {
			continue
		}
		if err := reserve.Accrue(e.blockHeight, e.bstopRate); err != nil {
			return nil, err
		}
		price, err := e.price(asset)
		if err != nil {
			return nil, err
		}

		if positions.Usage.IsCollateral(index) {
			if err := addCollateralValue(data, reserve, price, positions.CollateralShares(index)); err != nil {
				return nil, err
			}
		}
		if positions.Usage.IsLiability(index) {
			if err := addLiabilityValue(data, reserve, price, positions.LiabilityShares(index)); err != nil {
				return nil, err
			}
		}
		if deltaApplies {
			if delta.BTokenDelta != nil && delta.BTokenDelta.Sign() != 0 {
				if err := addCollateralValue(data, reserve, price, delta.BTokenDelta); err != nil {
					return nil, err
				}
			}
			if delta.DTokenDelta != nil && delta.DTokenDelta.Sign() != 0 {
				if err := addLiabilityValue(data, reserve, price, delta.DTokenDelta); err != nil {
					return nil, err
				}
			}
		}
	}
	return data, nil
}

func addCollateralValue(data *PositionData, reserve *Reserve, price, shares *big.Int) error {
	effective, err := reserve.ToEffectiveAssetFromBToken(shares)
	if err != nil {
		return err
	}
	base, err := mulFloor(effective, price, Scalar7)
	if err != nil {
		return err
	}
	data.CollateralBase = new(big.Int).Add(data.CollateralBase, base)
	return nil
}

func addLiabilityValue(data *PositionData, reserve *Reserve, price, shares *big.Int) error {
	effective, err := reserve.ToEffectiveAssetFromDToken(shares)
	if err != nil {
		return err
	}
	base, err := mulFloor(effective, price, Scalar7)
	if err != nil {
		return err
	}
	data.LiabilityBase = new(big.Int).Add(data.LiabilityBase, base)
	return nil
}
