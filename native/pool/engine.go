package pool

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	nativecommon "basalt/native/common"
)

const moduleName = "pool"

// State is the keyed persistence surface the engine operates against.
// Durability and per-invocation atomicity are the host's concern; the
// engine re-loads records at the start of every action and never caches
// them across invocations.
type State interface {
	ReserveList() ([]common.Address, error)
	GetReserve(asset common.Address) (*Reserve, error)
	PutReserve(reserve *Reserve) error
	GetPositions(user common.Address) (*Positions, error)
	PutPositions(user common.Address, positions *Positions) error
	HasAuction(auctionType AuctionType, subject common.Address) (bool, error)
	GetAuction(auctionType AuctionType, subject common.Address) (*AuctionData, error)
	PutAuction(auctionType AuctionType, subject common.Address, data *AuctionData) error
	DeleteAuction(auctionType AuctionType, subject common.Address) error
	GetBackstop() (*BackstopData, error)
	PutBackstop(data *BackstopData) error
	GetReserveEmission(tokenID uint32) (*ReserveEmission, error)
	PutReserveEmission(tokenID uint32, emission *ReserveEmission) error
	GetUserEmission(tokenID uint32, user common.Address) (*UserEmission, error)
	PutUserEmission(tokenID uint32, user common.Address, emission *UserEmission) error
}

// Oracle resolves an asset to its base unit price with seven decimals.
// Freshness is guaranteed by the collaborator; a zero or missing price
// is a fatal precondition failure.
type Oracle interface {
	GetPrice(asset common.Address) (*big.Int, error)
}

// TokenLedger moves underlying asset balances. Failures propagate as
// fatal errors aborting the whole invocation.
type TokenLedger interface {
	Transfer(asset, from, to common.Address, amount *big.Int) error
	TransferFrom(asset, spender, from, to common.Address, amount *big.Int) error
}

// Emitter receives protocol events. A nil emitter disables emission.
type Emitter interface {
	Emit(event *Event)
}

// Engine orchestrates reserve accounting, position valuation and
// auction resolution for one lending pool.
type Engine struct {
	state           State
	oracle          Oracle
	tokens          TokenLedger
	emitter         Emitter
	poolAddress     common.Address
	backstopAddress common.Address
	backstopToken   common.Address
	// bstopRate is the seven decimal share of interest routed to the
	// backstop on every accrual.
	bstopRate *big.Int
	// liqBonus is the seven decimal margin granted to auction fillers
	// over the value of the debt they cover.
	liqBonus    *big.Int
	blockHeight uint64
	timestamp   uint64
	pauses      nativecommon.PauseView
}

// NewEngine constructs an engine bound to the pool and backstop
// treasury addresses.
func NewEngine(poolAddr, backstopAddr, backstopToken common.Address, bstopRate, liqBonus *big.Int) *Engine {
	e := &Engine{
		poolAddress:     poolAddr,
		backstopAddress: backstopAddr,
		backstopToken:   backstopToken,
		bstopRate:       big.NewInt(0),
		liqBonus:        big.NewInt(0),
	}
	if bstopRate != nil {
		e.bstopRate = new(big.Int).Set(bstopRate)
	}
	if liqBonus != nil {
		e.liqBonus = new(big.Int).Set(liqBonus)
	}
	return e
}

// SetState wires the engine to the external persistence layer.
func (e *Engine) SetState(state State) { e.state = state }

// SetOracle wires the price oracle collaborator.
func (e *Engine) SetOracle(oracle Oracle) { e.oracle = oracle }

// SetTokenLedger wires the token transfer collaborator.
func (e *Engine) SetTokenLedger(tokens TokenLedger) { e.tokens = tokens }

// SetEmitter wires the event sink.
func (e *Engine) SetEmitter(emitter Emitter) { e.emitter = emitter }

// SetPauses wires the module pause switchboard.
func (e *Engine) SetPauses(p nativecommon.PauseView) { e.pauses = p }

// SetBlockHeight records the sequence number used for accrual deltas
// and auction decay.
func (e *Engine) SetBlockHeight(height uint64) { e.blockHeight = height }

// SetTimestamp records the time unit used by emission accrual.
func (e *Engine) SetTimestamp(ts uint64) { e.timestamp = ts }

func (e *Engine) ready() error {
	if e == nil || e.state == nil || e.oracle == nil || e.tokens == nil {
		return ErrNilState
	}
	return nativecommon.Guard(e.pauses, moduleName)
}

func (e *Engine) emit(event *Event) {
	if e.emitter != nil && event != nil {
		e.emitter.Emit(event)
	}
}

// loadReserve fetches a reserve and accrues it to the current block.
// The caller persists it after mutation.
func (e *Engine) loadReserve(asset common.Address) (*Reserve, error) {
	reserve, err := e.state.GetReserve(asset)
	if err != nil {
		return nil, err
	}
	if reserve == nil {
		return nil, ErrReserveNotFound
	}
	if err := reserve.Accrue(e.blockHeight, e.bstopRate); err != nil {
		return nil, err
	}
	return reserve, nil
}

func (e *Engine) loadPositions(user common.Address) (*Positions, error) {
	positions, err := e.state.GetPositions(user)
	if err != nil {
		return nil, err
	}
	if positions == nil {
		positions = NewPositions()
	}
	return positions, nil
}

func (e *Engine) price(asset common.Address) (*big.Int, error) {
	price, err := e.oracle.GetPrice(asset)
	if err != nil {
		return nil, err
	}
	if price == nil || price.Sign() <= 0 {
		return nil, ErrInvalidPrice
	}
	return price, nil
}

// Supply deposits underlying into a reserve and mints supply shares at
// the current exchange rate. The minted share amount is returned.
func (e *Engine) Supply(user common.Address, asset common.Address, amount *big.Int) (*big.Int, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	if amount == nil || amount.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}
	reserve, err := e.loadReserve(asset)
	if err != nil {
		return nil, err
	}
	positions, err := e.loadPositions(user)
	if err != nil {
		return nil, err
	}
	if err := e.updateEmissions(SupplyTokenID(reserve.Config.Index), reserve.Data.BSupply, user, positions.CollateralShares(reserve.Config.Index)); err != nil {
		return nil, err
	}

	shares, err := reserve.ToBTokenFromAsset(amount)
	if err != nil {
		return nil, err
	}
	if shares.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}
	if err := e.tokens.Transfer(asset, user, e.poolAddress, amount); err != nil {
		return nil, err
	}

	positions.AddCollateral(reserve.Config.Index, shares)
	reserve.Data.BSupply = new(big.Int).Add(reserve.Data.BSupply, shares)

	if err := e.state.PutPositions(user, positions); err != nil {
		return nil, err
	}
	if err := e.state.PutReserve(reserve); err != nil {
		return nil, err
	}
	e.emit(NewSuppliedEvent(user, asset, amount, shares))
	return shares, nil
}

// Withdraw burns supply shares and releases the underlying back to the
// user, provided the position stays healthy. The redeemed underlying
// amount is returned.
func (e *Engine) Withdraw(user common.Address, asset common.Address, shares *big.Int) (*big.Int, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	if shares == nil || shares.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}
	reserve, err := e.loadReserve(asset)
	if err != nil {
		return nil, err
	}
	positions, err := e.loadPositions(user)
	if err != nil {
		return nil, err
	}
	if positions.CollateralShares(reserve.Config.Index).Cmp(shares) < 0 {
		return nil, ErrInsufficientShares
	}
	if err := e.updateEmissions(SupplyTokenID(reserve.Config.Index), reserve.Data.BSupply, user, positions.CollateralShares(reserve.Config.Index)); err != nil {
		return nil, err
	}

	delta := &PositionDelta{Asset: asset, BTokenDelta: new(big.Int).Neg(shares)}
	data, err := e.computePosition(user, positions, delta)
	if err != nil {
		return nil, err
	}
	if !data.Healthy() {
		return nil, ErrHealthCheckFailed
	}

	underlying, err := reserve.ToAssetFromBToken(shares)
	if err != nil {
		return nil, err
	}
	reserve.Data.BSupply = new(big.Int).Sub(reserve.Data.BSupply, shares)
	if err := reserve.RequireBackedDebt(); err != nil {
		return nil, err
	}
	if err := e.tokens.Transfer(asset, e.poolAddress, user, underlying); err != nil {
		return nil, err
	}
	positions.AddCollateral(reserve.Config.Index, new(big.Int).Neg(shares))

	if err := e.state.PutPositions(user, positions); err != nil {
		return nil, err
	}
	if err := e.state.PutReserve(reserve); err != nil {
		return nil, err
	}
	e.emit(NewWithdrawnEvent(user, asset, underlying, shares))
	return underlying, nil
}

// Borrow mints debt shares for the requested underlying and transfers
// it to the borrower, provided the projected position stays healthy.
// The minted debt share amount is returned.
func (e *Engine) Borrow(user common.Address, asset common.Address, amount *big.Int) (*big.Int, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	if amount == nil || amount.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}
	reserve, err := e.loadReserve(asset)
	if err != nil {
		return nil, err
	}
	positions, err := e.loadPositions(user)
	if err != nil {
		return nil, err
	}
	if err := e.updateEmissions(LiabilityTokenID(reserve.Config.Index), reserve.Data.DSupply, user, positions.LiabilityShares(reserve.Config.Index)); err != nil {
		return nil, err
	}

	shares, err := reserve.ToDTokenFromAssetCeil(amount)
	if err != nil {
		return nil, err
	}
	if shares.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}

	delta := &PositionDelta{Asset: asset, DTokenDelta: shares}
	data, err := e.computePosition(user, positions, delta)
	if err != nil {
		return nil, err
	}
	if !data.Healthy() {
		return nil, ErrHealthCheckFailed
	}

	reserve.Data.DSupply = new(big.Int).Add(reserve.Data.DSupply, shares)
	if err := reserve.RequireBackedDebt(); err != nil {
		return nil, err
	}
	if err := e.tokens.Transfer(asset, e.poolAddress, user, amount); err != nil {
		return nil, err
	}
	positions.AddLiability(reserve.Config.Index, shares)

	if err := e.state.PutPositions(user, positions); err != nil {
		return nil, err
	}
	if err := e.state.PutReserve(reserve); err != nil {
		return nil, err
	}
	e.emit(NewBorrowedEvent(user, asset, amount, shares))
	return shares, nil
}

// Repay burns debt shares for the supplied underlying, clamped to the
// outstanding debt. The underlying amount actually collected is
// returned.
func (e *Engine) Repay(user common.Address, asset common.Address, amount *big.Int) (*big.Int, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	if amount == nil || amount.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}
	reserve, err := e.loadReserve(asset)
	if err != nil {
		return nil, err
	}
	positions, err := e.loadPositions(user)
	if err != nil {
		return nil, err
	}
	held := positions.LiabilityShares(reserve.Config.Index)
	if held.Sign() == 0 {
		return nil, ErrNoDebt
	}
	if err := e.updateEmissions(LiabilityTokenID(reserve.Config.Index), reserve.Data.DSupply, user, held); err != nil {
		return nil, err
	}

	shares, err := reserve.ToDTokenFromAsset(amount)
	if err != nil {
		return nil, err
	}
	collected := new(big.Int).Set(amount)
	if shares.Cmp(held) >= 0 {
		shares = new(big.Int).Set(held)
		collected, err = reserve.ToAssetFromDToken(shares)
		if err != nil {
			return nil, err
		}
	}
	if shares.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}
	if err := e.tokens.Transfer(asset, user, e.poolAddress, collected); err != nil {
		return nil, err
	}

	reserve.Data.DSupply = new(big.Int).Sub(reserve.Data.DSupply, shares)
	positions.AddLiability(reserve.Config.Index, new(big.Int).Neg(shares))

	if err := e.state.PutPositions(user, positions); err != nil {
		return nil, err
	}
	if err := e.state.PutReserve(reserve); err != nil {
		return nil, err
	}
	e.emit(NewRepaidEvent(user, asset, collected, shares))
	return collected, nil
}
