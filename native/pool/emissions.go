package pool

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// updateEmissions advances a reserve token's cumulative reward index
// and settles the user's accrued rewards against it. It must run
// before any change to the user's share balance for that token, since
// the old balance earns at the old index.
func (e *Engine) updateEmissions(tokenID uint32, totalShares *big.Int, user common.Address, userShares *big.Int) error {
	emission, err := e.state.GetReserveEmission(tokenID)
	if err != nil {
		return err
	}
	if emission == nil {
		// Reserve token has no emission configured.
		return nil
	}
	if emission.Index == nil {
		emission.Index = big.NewInt(0)
	}

	until := e.timestamp
	if until > emission.Expiration {
		until = emission.Expiration
	}
	if until > emission.LastTime && emission.EPS > 0 && totalShares != nil && totalShares.Sign() > 0 {
		accrued := new(big.Int).SetUint64(until - emission.LastTime)
		accrued.Mul(accrued, new(big.Int).SetUint64(emission.EPS))
		step, err := divFloor(accrued, totalShares, Scalar7)
		if err != nil {
			return err
		}
		emission.Index = new(big.Int).Add(emission.Index, step)
	}
	if e.timestamp > emission.LastTime {
		emission.LastTime = e.timestamp
	}
	if err := e.state.PutReserveEmission(tokenID, emission); err != nil {
		return err
	}

	userEmission, err := e.state.GetUserEmission(tokenID, user)
	if err != nil {
		return err
	}
	if userEmission == nil {
		userEmission = &UserEmission{Index: big.NewInt(0), Accrued: big.NewInt(0)}
	}
	if userShares != nil && userShares.Sign() > 0 {
		gap := new(big.Int).Sub(emission.Index, userEmission.Index)
		if gap.Sign() > 0 {
			earned, err := mulFloor(userShares, gap, Scalar7)
			if err != nil {
				return err
			}
			userEmission.Accrued = new(big.Int).Add(userEmission.Accrued, earned)
		}
	}
	userEmission.Index = new(big.Int).Set(emission.Index)
	return e.state.PutUserEmission(tokenID, user, userEmission)
}

// SetEmissionConfig configures the emission rate for one reserve token.
// The index accrued under the previous configuration is preserved.
func (e *Engine) SetEmissionConfig(tokenID uint32, eps uint64, expiration uint64) error {
	if err := e.ready(); err != nil {
		return err
	}
	emission, err := e.state.GetReserveEmission(tokenID)
	if err != nil {
		return err
	}
	if emission == nil {
		emission = &ReserveEmission{Index: big.NewInt(0), LastTime: e.timestamp}
	}
	emission.EPS = eps
	emission.Expiration = expiration
	return e.state.PutReserveEmission(tokenID, emission)
}

// ClaimEmissions settles and zeroes the user's accrued rewards across
// the given reserve tokens, returning the claimable total. Paying the
// total out is the caller's concern.
func (e *Engine) ClaimEmissions(user common.Address, tokenIDs []uint32) (*big.Int, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	positions, err := e.loadPositions(user)
	if err != nil {
		return nil, err
	}
	total := big.NewInt(0)
	for _, tokenID := range tokenIDs {
		index := tokenID / 2
		_, reserve, err := e.reserveByIndex(index)
		if err != nil {
			return nil, err
		}
		var shares, supply *big.Int
		if tokenID%2 == 0 {
			shares = positions.LiabilityShares(index)
			supply = reserve.Data.DSupply
		} else {
			shares = positions.CollateralShares(index)
			supply = reserve.Data.BSupply
		}
		if err := e.updateEmissions(tokenID, supply, user, shares); err != nil {
			return nil, err
		}
		userEmission, err := e.state.GetUserEmission(tokenID, user)
		if err != nil {
			return nil, err
		}
		if userEmission == nil || userEmission.Accrued == nil || userEmission.Accrued.Sign() == 0 {
			continue
		}
		total.Add(total, userEmission.Accrued)
		userEmission.Accrued = big.NewInt(0)
		if err := e.state.PutUserEmission(tokenID, user, userEmission); err != nil {
			return nil, err
		}
	}
	return total, nil
}

func (e *Engine) reserveByIndex(index uint32) (common.Address, *Reserve, error) {
	list, err := e.state.ReserveList()
	if err != nil {
		return common.Address{}, nil, err
	}
	for _, asset := range list {
		reserve, err := e.state.GetReserve(asset)
		if err != nil {
			return common.Address{}, nil, err
		}
		if reserve != nil && reserve.Config.Index == index {
			return asset, reserve, nil
		}
	}
	return common.Address{}, nil, ErrReserveNotFound
}
