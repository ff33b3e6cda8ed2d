package pool

import (
	"math/big"
	"sort"

	"github.com/ethereum/go-ethereum/common"
)

// perBlockScalar is the auction decay rate: 0.5% per block in seven
// decimals.
var perBlockScalar = big.NewInt(50_000)

var (
	decayBidStart = new(big.Int).Mul(big.NewInt(200), Scalar7)
	decayBidEnd   = new(big.Int).Mul(big.NewInt(400), Scalar7)
)

// auctionVariant is the behaviour behind one auction kind. Creation
// derives bid and lot from protocol state; fill settles the
// modifier-scaled amounts against the filler.
type auctionVariant interface {
	create(e *Engine) (*AuctionData, error)
	fill(e *Engine, data *AuctionData, subject, filler common.Address, bidMod, lotMod *big.Int, quote *AuctionQuote) error
}

func variantFor(auctionType AuctionType) (auctionVariant, error) {
	switch auctionType {
	case UserLiquidation:
		return liquidationAuction{}, nil
	case BadDebtAuction:
		return badDebtAuction{}, nil
	case InterestAuction:
		return interestAuction{}, nil
	default:
		return nil, ErrBadRequest
	}
}

// fillModifiers returns the (bid, lot) modifiers in seven decimals for
// an auction created at auctionBlock. For the first 200 blocks the
// filler pays full bid price for a linearly growing share of the lot;
// from 200 to 400 the lot is whole and the bid price decays to zero;
// past 400 the auction is free, guaranteeing eventual resolution.
func fillModifiers(currentBlock, auctionBlock uint64) (*big.Int, *big.Int) {
	elapsed := uint64(0)
	if currentBlock > auctionBlock {
		elapsed = currentBlock - auctionBlock
	}
	blockDif := new(big.Int).Mul(new(big.Int).SetUint64(elapsed), Scalar7)

	switch {
	case blockDif.Cmp(decayBidEnd) > 0:
		return big.NewInt(0), new(big.Int).Set(Scalar7)
	case blockDif.Cmp(decayBidStart) > 0:
		decay, _ := mulFloor(blockDif, perBlockScalar, Scalar7)
		bid := new(big.Int).Sub(new(big.Int).Mul(big.NewInt(2), Scalar7), decay)
		return bid, new(big.Int).Set(Scalar7)
	default:
		lot, _ := mulFloor(blockDif, perBlockScalar, Scalar7)
		return new(big.Int).Set(Scalar7), lot
	}
}

// Create opens a bad debt or interest auction against the backstop.
// Creating a user liquidation through this entry point is rejected:
// liquidations need caller-chosen composition and go through
// CreateLiquidation.
func (e *Engine) Create(auctionType AuctionType) (*AuctionData, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	if auctionType == UserLiquidation {
		return nil, ErrBadRequest
	}
	variant, err := variantFor(auctionType)
	if err != nil {
		return nil, err
	}
	exists, err := e.state.HasAuction(auctionType, e.backstopAddress)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, ErrBadRequest
	}

	data, err := variant.create(e)
	if err != nil {
		return nil, err
	}
	data.Block = e.blockHeight
	if err := e.state.PutAuction(auctionType, e.backstopAddress, data); err != nil {
		return nil, err
	}
	e.emit(NewAuctionCreatedEvent(auctionType, e.backstopAddress, data.Block))
	return data, nil
}

// Fill settles an auction at the current decay-curve price and deletes
// the record. There are no partial fills: one fill consumes the whole
// record, with the amounts scaled by the modifiers.
func (e *Engine) Fill(auctionType AuctionType, subject, filler common.Address) (*AuctionQuote, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	variant, err := variantFor(auctionType)
	if err != nil {
		return nil, err
	}
	data, err := e.state.GetAuction(auctionType, subject)
	if err != nil {
		return nil, err
	}
	if data == nil {
		return nil, ErrBadRequest
	}

	bidMod, lotMod := fillModifiers(e.blockHeight, data.Block)
	quote := &AuctionQuote{Block: data.Block}
	if err := variant.fill(e, data, subject, filler, bidMod, lotMod, quote); err != nil {
		return nil, err
	}
	if err := e.state.DeleteAuction(auctionType, subject); err != nil {
		return nil, err
	}
	e.emit(NewAuctionFilledEvent(auctionType, subject, filler, data.Block))
	return quote, nil
}

// PreviewFill computes the modifier-scaled quote for an auction without
// mutating any state. Liquidation quotes are clamped to the shares the
// subject still holds so a preview never exceeds what a fill would
// move.
func (e *Engine) PreviewFill(auctionType AuctionType, subject common.Address) (*AuctionQuote, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	if _, err := variantFor(auctionType); err != nil {
		return nil, err
	}
	data, err := e.state.GetAuction(auctionType, subject)
	if err != nil {
		return nil, err
	}
	if data == nil {
		return nil, ErrBadRequest
	}

	assets, err := e.assetsByIndex()
	if err != nil {
		return nil, err
	}
	var bidHeld, lotHeld func(uint32) *big.Int
	if auctionType == UserLiquidation {
		positions, err := e.loadPositions(subject)
		if err != nil {
			return nil, err
		}
		bidHeld = positions.LiabilityShares
		lotHeld = positions.CollateralShares
	}
	bidMod, lotMod := fillModifiers(e.blockHeight, data.Block)
	quote := &AuctionQuote{Block: data.Block}
	quote.Bid, err = scaleEntries(data.Bid, bidMod, assets, e.backstopToken, bidHeld)
	if err != nil {
		return nil, err
	}
	quote.Lot, err = scaleEntries(data.Lot, lotMod, assets, e.backstopToken, lotHeld)
	if err != nil {
		return nil, err
	}
	return quote, nil
}

// DeleteLiquidation cancels a liquidation auction whose subject has
// regained health. Only the user liquidation variant can be cancelled.
func (e *Engine) DeleteLiquidation(user common.Address) error {
	if err := e.ready(); err != nil {
		return err
	}
	exists, err := e.state.HasAuction(UserLiquidation, user)
	if err != nil {
		return err
	}
	if !exists {
		return ErrBadRequest
	}
	positions, err := e.loadPositions(user)
	if err != nil {
		return err
	}
	data, err := e.computePosition(user, positions, nil)
	if err != nil {
		return err
	}
	if data.CollateralBase.Cmp(data.LiabilityBase) <= 0 {
		return ErrInvalidHealthFactor
	}
	if err := e.state.DeleteAuction(UserLiquidation, user); err != nil {
		return err
	}
	e.emit(NewAuctionDeletedEvent(UserLiquidation, user))
	return nil
}

// assetsByIndex resolves reserve indexes back to asset addresses for
// quote construction.
func (e *Engine) assetsByIndex() (map[uint32]common.Address, error) {
	list, err := e.state.ReserveList()
	if err != nil {
		return nil, err
	}
	out := make(map[uint32]common.Address, len(list))
	for _, asset := range list {
		reserve, err := e.state.GetReserve(asset)
		if err != nil {
			return nil, err
		}
		if reserve == nil {
			return nil, ErrReserveNotFound
		}
		out[reserve.Config.Index] = asset
	}
	return out, nil
}

func scaleEntries(entries map[uint32]*big.Int, modifier *big.Int, assets map[uint32]common.Address, backstopToken common.Address, held func(uint32) *big.Int) ([]AssetAmount, error) {
	out := make([]AssetAmount, 0, len(entries))
	for _, index := range sortedKeys(entries) {
		scaled, err := mulFloor(entries[index], modifier, Scalar7)
		if err != nil {
			return nil, err
		}
		if held != nil {
			if h := held(index); scaled.Cmp(h) > 0 {
				scaled = new(big.Int).Set(h)
			}
		}
		asset := backstopToken
		if index != BackstopTokenKey {
			resolved, ok := assets[index]
			if !ok {
				return nil, ErrReserveNotFound
			}
			asset = resolved
		}
		out = append(out, AssetAmount{Asset: asset, Amount: scaled})
	}
	return out, nil
}

func sortedKeys(entries map[uint32]*big.Int) []uint32 {
	keys := make([]uint32, 0, len(entries))
	for k := range entries {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}
