package pool

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// AuctionType identifies the three auction variants resolved by the
// engine.
type AuctionType uint32

const (
	UserLiquidation AuctionType = iota
	BadDebtAuction
	InterestAuction
)

// BackstopTokenKey is the synthetic bid/lot index used for the backstop
// token, which is not itself a reserve.
const BackstopTokenKey uint32 = 1<<32 - 1

// ReserveConfig holds the governance supplied parameters for a single
// reserve. Factors and the utilization target carry seven decimals.
type ReserveConfig struct {
	Asset    common.Address
	Decimals uint32
	// CFactor discounts collateral value, LFactor scales liability
	// value up by its inverse. Both live in [0, Scalar7].
	CFactor *big.Int
	LFactor *big.Int
	// Util is the target utilization of the interest rate curve.
	Util *big.Int
	// RBase, ROne and RTwo shape the piecewise linear rate curve.
	RBase *big.Int
	ROne  *big.Int
	RTwo  *big.Int
	// Reactivity scales how quickly IRMod drifts toward matching the
	// utilization target.
	Reactivity uint64
	// Index addresses this reserve inside usage bitmasks and auction
	// bid/lot maps.
	Index uint32
}

// ReserveData is the mutable accounting state of a reserve. Rates carry
// nine decimals and only ever grow; share totals carry seven.
type ReserveData struct {
	BRate *big.Int
	DRate *big.Int
	// IRMod is the adaptive modifier applied to the rate curve output.
	IRMod          *big.Int
	BSupply        *big.Int
	DSupply        *big.Int
	BackstopCredit *big.Int
	LastBlock      uint64
}

// Reserve pairs a reserve's configuration with its accounting state.
type Reserve struct {
	Config ReserveConfig
	Data   ReserveData
}

// Positions tracks one user's share balances across all reserves along
// with the usage bitmask that lets valuation skip untouched reserves.
type Positions struct {
	Usage      ReserveUsage
	Collateral map[uint32]*big.Int
	Liability  map[uint32]*big.Int
}

// NewPositions returns an empty position record.
func NewPositions() *Positions {
	return &Positions{
		Collateral: make(map[uint32]*big.Int),
		Liability:  make(map[uint32]*big.Int),
	}
}

// CollateralShares returns the b-token balance for a reserve index,
// zero when absent.
func (p *Positions) CollateralShares(index uint32) *big.Int {
	if p == nil || p.Collateral == nil {
		return big.NewInt(0)
	}
	if v, ok := p.Collateral[index]; ok && v != nil {
		return v
	}
	return big.NewInt(0)
}

// LiabilityShares returns the d-token balance for a reserve index,
// zero when absent.
func (p *Positions) LiabilityShares(index uint32) *big.Int {
	if p == nil || p.Liability == nil {
		return big.NewInt(0)
	}
	if v, ok := p.Liability[index]; ok && v != nil {
		return v
	}
	return big.NewInt(0)
}

// AddCollateral adjusts the collateral share balance and keeps the
// usage bit in sync.
func (p *Positions) AddCollateral(index uint32, delta *big.Int) {
	next := new(big.Int).Add(p.CollateralShares(index), delta)
	if next.Sign() <= 0 {
		delete(p.Collateral, index)
		p.Usage.SetCollateral(index, false)
		return
	}
	p.Collateral[index] = next
	p.Usage.SetCollateral(index, true)
}

// AddLiability adjusts the debt share balance and keeps the usage bit
// in sync.
func (p *Positions) AddLiability(index uint32, delta *big.Int) {
	next := new(big.Int).Add(p.LiabilityShares(index), delta)
	if next.Sign() <= 0 {
		delete(p.Liability, index)
		p.Usage.SetLiability(index, false)
		return
	}
	p.Liability[index] = next
	p.Usage.SetLiability(index, true)
}

// AuctionData is the persisted record of one active auction. Bid and
// lot map reserve indexes to share amounts; Block is immutable once the
// record is written.
type AuctionData struct {
	Bid   map[uint32]*big.Int
	Lot   map[uint32]*big.Int
	Block uint64
}

// AssetAmount pairs an asset with an underlying or share amount inside
// an auction quote.
type AssetAmount struct {
	Asset  common.Address
	Amount *big.Int
}

// AuctionQuote is the transient, modifier-scaled view of an auction
// returned to fillers and previewers. It is never persisted.
type AuctionQuote struct {
	Bid   []AssetAmount
	Lot   []AssetAmount
	Block uint64
}

// LiquidationMetadata names the collateral and liability underlying
// amounts a liquidation auction should be composed of. It is consumed
// only at creation time.
type LiquidationMetadata struct {
	Collateral map[common.Address]*big.Int
	Liability  map[common.Address]*big.Int
}

// PositionDelta describes a hypothetical not-yet-committed share change
// folded into a position valuation, so borrow and withdraw paths can be
// health-checked before any state is written.
type PositionDelta struct {
	Asset       common.Address
	BTokenDelta *big.Int
	DTokenDelta *big.Int
}

// PositionData is the ephemeral result of valuing one user's holdings
// in the common base unit. It is recomputed on every solvency check.
type PositionData struct {
	CollateralBase *big.Int
	LiabilityBase  *big.Int
}

// Healthy reports whether the position's collateral covers its
// liability. Equality counts as healthy, and a position without
// liabilities is always healthy: conservative rounding on a
// hypothetical collateral delta can push the net collateral value a
// dust unit below zero, which must not trap a debt-free balance.
func (p *PositionData) Healthy() bool {
	if p.LiabilityBase.Sign() == 0 {
		return true
	}
	return p.CollateralBase.Cmp(p.LiabilityBase) >= 0
}

// BackstopData records the protocol backstop's residual bad debt per
// reserve index, absorbed after failed liquidations.
type BackstopData struct {
	BadDebt map[uint32]*big.Int
}

// NewBackstopData returns an empty backstop record.
func NewBackstopData() *BackstopData {
	return &BackstopData{BadDebt: make(map[uint32]*big.Int)}
}

// ReserveEmission tracks a reserve token's emission configuration and
// its cumulative reward index.
type ReserveEmission struct {
	EPS        uint64
	Expiration uint64
	Index      *big.Int
	LastTime   uint64
}

// UserEmission tracks a user's last observed reward index and the
// rewards accrued but not yet claimed for one reserve token.
type UserEmission struct {
	Index   *big.Int
	Accrued *big.Int
}
