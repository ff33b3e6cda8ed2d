package pool

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// liquidationAuction resolves a single undercollateralized position.
// Its composition is chosen by the caller at creation time, so the
// generic create path is closed to it.
type liquidationAuction struct{}

func (liquidationAuction) create(*Engine) (*AuctionData, error) {
	return nil, ErrBadRequest
}

// CreateLiquidation opens a liquidation auction for an unhealthy user.
// Bid holds the named liability amounts as debt shares owed by the
// filler, lot the named collateral as supply shares to be seized. The
// lot's base value is capped at the bid's value plus the liquidation
// bonus so the filler can never over-seize.
func (e *Engine) CreateLiquidation(user common.Address, metadata LiquidationMetadata) (*AuctionData, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	exists, err := e.state.HasAuction(UserLiquidation, user)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, ErrBadRequest
	}
	positions, err := e.loadPositions(user)
	if err != nil {
		return nil, err
	}
	position, err := e.computePosition(user, positions, nil)
	if err != nil {
		return nil, err
	}
	if position.Healthy() {
		return nil, ErrInvalidHealthFactor
	}

	data := &AuctionData{
		Bid: make(map[uint32]*big.Int),
		Lot: make(map[uint32]*big.Int),
	}
	bidBase := big.NewInt(0)
	for asset, amount := range metadata.Liability {
		if amount == nil || amount.Sign() <= 0 {
			return nil, ErrInvalidAmount
		}
		reserve, err := e.loadReserve(asset)
		if err != nil {
			return nil, err
		}
		price, err := e.price(asset)
		if err != nil {
			return nil, err
		}
		shares, err := reserve.ToDTokenFromAsset(amount)
		if err != nil {
			return nil, err
		}
		if held := positions.LiabilityShares(reserve.Config.Index); shares.Cmp(held) > 0 {
			shares = new(big.Int).Set(held)
		}
		if shares.Sign() == 0 {
			continue
		}
		underlying, err := reserve.ToAssetFromDToken(shares)
		if err != nil {
			return nil, err
		}
		value, err := mulFloor(underlying, price, Scalar7)
		if err != nil {
			return nil, err
		}
		bidBase.Add(bidBase, value)
		data.Bid[reserve.Config.Index] = shares
	}

	lotBase := big.NewInt(0)
	for asset, amount := range metadata.Collateral {
		if amount == nil || amount.Sign() <= 0 {
			return nil, ErrInvalidAmount
		}
		reserve, err := e.loadReserve(asset)
		if err != nil {
			return nil, err
		}
		price, err := e.price(asset)
		if err != nil {
			return nil, err
		}
		shares, err := reserve.ToBTokenFromAsset(amount)
		if err != nil {
			return nil, err
		}
		if held := positions.CollateralShares(reserve.Config.Index); shares.Cmp(held) > 0 {
			shares = new(big.Int).Set(held)
		}
		if shares.Sign() == 0 {
			continue
		}
		underlying, err := reserve.ToAssetFromBToken(shares)
		if err != nil {
			return nil, err
		}
		value, err := mulFloor(underlying, price, Scalar7)
		if err != nil {
			return nil, err
		}
		lotBase.Add(lotBase, value)
		data.Lot[reserve.Config.Index] = shares
	}

	if len(data.Bid) == 0 || len(data.Lot) == 0 {
		return nil, ErrBadRequest
	}

	// Cap the lot at bid value plus the liquidation bonus margin.
	maxLot, err := mulFloor(bidBase, new(big.Int).Add(Scalar7, e.liqBonus), Scalar7)
	if err != nil {
		return nil, err
	}
	if lotBase.Cmp(maxLot) > 0 {
		scale, err := divFloor(maxLot, lotBase, Scalar7)
		if err != nil {
			return nil, err
		}
		for index, shares := range data.Lot {
			scaled, err := mulFloor(shares, scale, Scalar7)
			if err != nil {
				return nil, err
			}
			data.Lot[index] = scaled
		}
	}

	data.Block = e.blockHeight
	if err := e.state.PutAuction(UserLiquidation, user, data); err != nil {
		return nil, err
	}
	e.emit(NewAuctionCreatedEvent(UserLiquidation, user, data.Block))
	return data, nil
}

func (liquidationAuction) fill(e *Engine, data *AuctionData, subject, filler common.Address, bidMod, lotMod *big.Int, quote *AuctionQuote) error {
	assets, err := e.assetsByIndex()
	if err != nil {
		return err
	}
	subjectPos, err := e.loadPositions(subject)
	if err != nil {
		return err
	}
	fillerPos, err := e.loadPositions(filler)
	if err != nil {
		return err
	}

	for _, index := range sortedKeys(data.Bid) {
		asset, ok := assets[index]
		if !ok {
			return ErrReserveNotFound
		}
		shares, err := mulFloor(data.Bid[index], bidMod, Scalar7)
		if err != nil {
			return err
		}
		if held := subjectPos.LiabilityShares(index); shares.Cmp(held) > 0 {
			shares = new(big.Int).Set(held)
		}
		if shares.Sign() == 0 {
			continue
		}
		underlying, err := e.fillDebtToken(subject, filler, asset, shares, subjectPos)
		if err != nil {
			return err
		}
		quote.Bid = append(quote.Bid, AssetAmount{Asset: asset, Amount: underlying})
	}

	for _, index := range sortedKeys(data.Lot) {
		asset, ok := assets[index]
		if !ok {
			return ErrReserveNotFound
		}
		shares, err := mulFloor(data.Lot[index], lotMod, Scalar7)
		if err != nil {
			return err
		}
		if held := subjectPos.CollateralShares(index); shares.Cmp(held) > 0 {
			shares = new(big.Int).Set(held)
		}
		if shares.Sign() == 0 {
			continue
		}
		reserve, err := e.loadReserve(asset)
		if err != nil {
			return err
		}
		if err := e.updateEmissions(SupplyTokenID(index), reserve.Data.BSupply, subject, subjectPos.CollateralShares(index)); err != nil {
			return err
		}
		if err := e.updateEmissions(SupplyTokenID(index), reserve.Data.BSupply, filler, fillerPos.CollateralShares(index)); err != nil {
			return err
		}
		subjectPos.AddCollateral(index, new(big.Int).Neg(shares))
		fillerPos.AddCollateral(index, shares)
		if err := e.state.PutReserve(reserve); err != nil {
			return err
		}
		quote.Lot = append(quote.Lot, AssetAmount{Asset: asset, Amount: shares})
	}

	// A position stripped of all collateral cannot repay what remains;
	// the backstop absorbs the residual debt for a later bad debt
	// auction.
	if err := e.absorbBadDebt(subjectPos); err != nil {
		return err
	}

	if err := e.state.PutPositions(subject, subjectPos); err != nil {
		return err
	}
	return e.state.PutPositions(filler, fillerPos)
}

// fillDebtToken repays debt shares on behalf of a position from the
// spender's underlying balance. The underlying amount collected is
// returned.
func (e *Engine) fillDebtToken(user, spender common.Address, asset common.Address, shares *big.Int, positions *Positions) (*big.Int, error) {
	reserve, err := e.loadReserve(asset)
	if err != nil {
		return nil, err
	}
	index := reserve.Config.Index
	if err := e.updateEmissions(LiabilityTokenID(index), reserve.Data.DSupply, user, positions.LiabilityShares(index)); err != nil {
		return nil, err
	}
	underlying, err := reserve.ToAssetFromDToken(shares)
	if err != nil {
		return nil, err
	}
	reserve.Data.DSupply = new(big.Int).Sub(reserve.Data.DSupply, shares)
	positions.AddLiability(index, new(big.Int).Neg(shares))
	if err := e.tokens.TransferFrom(asset, spender, spender, e.poolAddress, underlying); err != nil {
		return nil, err
	}
	if err := e.state.PutReserve(reserve); err != nil {
		return nil, err
	}
	return underlying, nil
}

// absorbBadDebt moves any liabilities left on a fully de-collateralized
// position onto the backstop.
func (e *Engine) absorbBadDebt(positions *Positions) error {
	if len(positions.Liability) == 0 || len(positions.Collateral) != 0 {
		return nil
	}
	backstop, err := e.state.GetBackstop()
	if err != nil {
		return err
	}
	if backstop == nil {
		backstop = NewBackstopData()
	}
	for index, shares := range positions.Liability {
		prior := backstop.BadDebt[index]
		if prior == nil {
			prior = big.NewInt(0)
		}
		backstop.BadDebt[index] = new(big.Int).Add(prior, shares)
		positions.Usage.SetLiability(index, false)
	}
	positions.Liability = make(map[uint32]*big.Int)
	return e.state.PutBackstop(backstop)
}
