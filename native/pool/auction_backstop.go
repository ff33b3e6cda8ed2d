package pool

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// badDebtAuction sells backstop tokens to a filler willing to cover
// debt the protocol absorbed after failed liquidations.
type badDebtAuction struct{}

func (badDebtAuction) create(e *Engine) (*AuctionData, error) {
	backstop, err := e.state.GetBackstop()
	if err != nil {
		return nil, err
	}
	if backstop == nil || len(backstop.BadDebt) == 0 {
		return nil, ErrBadRequest
	}
	assets, err := e.assetsByIndex()
	if err != nil {
		return nil, err
	}

	data := &AuctionData{
		Bid: make(map[uint32]*big.Int),
		Lot: make(map[uint32]*big.Int),
	}
	bidBase := big.NewInt(0)
	for _, index := range sortedKeys(backstop.BadDebt) {
		asset, ok := assets[index]
		if !ok {
			return nil, ErrReserveNotFound
		}
		reserve, err := e.loadReserve(asset)
		if err != nil {
			return nil, err
		}
		price, err := e.price(asset)
		if err != nil {
			return nil, err
		}
		shares := new(big.Int).Set(backstop.BadDebt[index])
		underlying, err := reserve.ToAssetFromDToken(shares)
		if err != nil {
			return nil, err
		}
		value, err := mulFloor(underlying, price, Scalar7)
		if err != nil {
			return nil, err
		}
		bidBase.Add(bidBase, value)
		data.Bid[index] = shares
	}

	lotBase, err := mulFloor(bidBase, new(big.Int).Add(Scalar7, e.liqBonus), Scalar7)
	if err != nil {
		return nil, err
	}
	backstopPrice, err := e.price(e.backstopToken)
	if err != nil {
		return nil, err
	}
	lotAmount, err := divFloor(lotBase, backstopPrice, Scalar7)
	if err != nil {
		return nil, err
	}
	data.Lot[BackstopTokenKey] = lotAmount
	return data, nil
}

func (badDebtAuction) fill(e *Engine, data *AuctionData, _, filler common.Address, bidMod, lotMod *big.Int, quote *AuctionQuote) error {
	backstop, err := e.state.GetBackstop()
	if err != nil {
		return err
	}
	if backstop == nil {
		backstop = NewBackstopData()
	}
	assets, err := e.assetsByIndex()
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
		if owed := backstop.BadDebt[index]; owed == nil || shares.Cmp(owed) > 0 {
			if owed == nil {
				shares = big.NewInt(0)
			} else {
				shares = new(big.Int).Set(owed)
			}
		}
		if shares.Sign() == 0 {
			continue
		}
		reserve, err := e.loadReserve(asset)
		if err != nil {
			return err
		}
		underlying, err := reserve.ToAssetFromDToken(shares)
		if err != nil {
			return err
		}
		reserve.Data.DSupply = new(big.Int).Sub(reserve.Data.DSupply, shares)
		remaining := new(big.Int).Sub(backstop.BadDebt[index], shares)
		if remaining.Sign() > 0 {
			backstop.BadDebt[index] = remaining
		} else {
			delete(backstop.BadDebt, index)
		}
		if err := e.tokens.TransferFrom(asset, filler, filler, e.poolAddress, underlying); err != nil {
			return err
		}
		if err := e.state.PutReserve(reserve); err != nil {
			return err
		}
		quote.Bid = append(quote.Bid, AssetAmount{Asset: asset, Amount: underlying})
	}

	lotAmount, err := mulFloor(data.Lot[BackstopTokenKey], lotMod, Scalar7)
	if err != nil {
		return err
	}
	if lotAmount.Sign() > 0 {
		if err := e.tokens.Transfer(e.backstopToken, e.backstopAddress, filler, lotAmount); err != nil {
			return err
		}
		quote.Lot = append(quote.Lot, AssetAmount{Asset: e.backstopToken, Amount: lotAmount})
	}
	return e.state.PutBackstop(backstop)
}

// interestAuction converts the backstop's accrued interest credit
// across reserves into a single backstop token payment.
type interestAuction struct{}

func (interestAuction) create(e *Engine) (*AuctionData, error) {
	list, err := e.state.ReserveList()
	if err != nil {
		return nil, err
	}

	data := &AuctionData{
		Bid: make(map[uint32]*big.Int),
		Lot: make(map[uint32]*big.Int),
	}
	lotBase := big.NewInt(0)
	for _, asset := range list {
		reserve, err := e.loadReserve(asset)
		if err != nil {
			return nil, err
		}
		credit := reserve.Data.BackstopCredit
		if credit == nil || credit.Sign() == 0 {
			continue
		}
		price, err := e.price(asset)
		if err != nil {
			return nil, err
		}
		value, err := mulFloor(credit, price, Scalar7)
		if err != nil {
			return nil, err
		}
		lotBase.Add(lotBase, value)
		data.Lot[reserve.Config.Index] = new(big.Int).Set(credit)

		// The credit is committed to this auction; whatever the decay
		// curve forgives later is protocol loss, not a refund.
		reserve.Data.BackstopCredit = big.NewInt(0)
		if err := e.state.PutReserve(reserve); err != nil {
			return nil, err
		}
	}
	if len(data.Lot) == 0 {
		return nil, ErrBadRequest
	}

	backstopPrice, err := e.price(e.backstopToken)
	if err != nil {
		return nil, err
	}
	bidAmount, err := divCeil(lotBase, backstopPrice, Scalar7)
	if err != nil {
		return nil, err
	}
	data.Bid[BackstopTokenKey] = bidAmount
	return data, nil
}

func (interestAuction) fill(e *Engine, data *AuctionData, _, filler common.Address, bidMod, lotMod *big.Int, quote *AuctionQuote) error {
	assets, err := e.assetsByIndex()
	if err != nil {
		return err
	}

	bidAmount, err := mulFloor(data.Bid[BackstopTokenKey], bidMod, Scalar7)
	if err != nil {
		return err
	}
	if bidAmount.Sign() > 0 {
		if err := e.tokens.TransferFrom(e.backstopToken, filler, filler, e.backstopAddress, bidAmount); err != nil {
			return err
		}
		quote.Bid = append(quote.Bid, AssetAmount{Asset: e.backstopToken, Amount: bidAmount})
	}

	for _, index := range sortedKeys(data.Lot) {
		asset, ok := assets[index]
		if !ok {
			return ErrReserveNotFound
		}
		amount, err := mulFloor(data.Lot[index], lotMod, Scalar7)
		if err != nil {
			return err
		}
		if amount.Sign() == 0 {
			continue
		}
		if err := e.tokens.Transfer(asset, e.poolAddress, filler, amount); err != nil {
			return err
		}
		quote.Lot = append(quote.Lot, AssetAmount{Asset: asset, Amount: amount})
	}
	return nil
}
