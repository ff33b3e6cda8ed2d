package pool

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

const (
	EventTypeSupplied       = "pool.supplied"
	EventTypeWithdrawn      = "pool.withdrawn"
	EventTypeBorrowed       = "pool.borrowed"
	EventTypeRepaid         = "pool.repaid"
	EventTypeAuctionCreated = "pool.auction.created"
	EventTypeAuctionFilled  = "pool.auction.filled"
	EventTypeAuctionDeleted = "pool.auction.deleted"
)

// Event is the canonical payload handed to the configured emitter.
type Event struct {
	Type       string
	Attributes map[string]string
}

func newActionEvent(eventType string, user, asset common.Address, amount, shares *big.Int) *Event {
	return &Event{
		Type: eventType,
		Attributes: map[string]string{
			"user":   user.Hex(),
			"asset":  asset.Hex(),
			"amount": amount.String(),
			"shares": shares.String(),
		},
	}
}

// NewSuppliedEvent returns the canonical event payload for a deposit
// into a reserve.
func NewSuppliedEvent(user, asset common.Address, amount, shares *big.Int) *Event {
	return newActionEvent(EventTypeSupplied, user, asset, amount, shares)
}

// NewWithdrawnEvent returns the canonical event payload for a supply
// share redemption.
func NewWithdrawnEvent(user, asset common.Address, amount, shares *big.Int) *Event {
	return newActionEvent(EventTypeWithdrawn, user, asset, amount, shares)
}

// NewBorrowedEvent returns the canonical event payload for a new debt
// position.
func NewBorrowedEvent(user, asset common.Address, amount, shares *big.Int) *Event {
	return newActionEvent(EventTypeBorrowed, user, asset, amount, shares)
}

// NewRepaidEvent returns the canonical event payload for a debt
// repayment.
func NewRepaidEvent(user, asset common.Address, amount, shares *big.Int) *Event {
	return newActionEvent(EventTypeRepaid, user, asset, amount, shares)
}

// NewAuctionCreatedEvent returns the canonical event payload for a new
// auction record.
func NewAuctionCreatedEvent(auctionType AuctionType, subject common.Address, block uint64) *Event {
	return &Event{
		Type: EventTypeAuctionCreated,
		Attributes: map[string]string{
			"auctionType": fmt.Sprintf("%d", auctionType),
			"subject":     subject.Hex(),
			"block":       fmt.Sprintf("%d", block),
		},
	}
}

// NewAuctionFilledEvent returns the canonical event payload for a
// settled auction.
func NewAuctionFilledEvent(auctionType AuctionType, subject, filler common.Address, block uint64) *Event {
	return &Event{
		Type: EventTypeAuctionFilled,
		Attributes: map[string]string{
			"auctionType": fmt.Sprintf("%d", auctionType),
			"subject":     subject.Hex(),
			"filler":      filler.Hex(),
			"block":       fmt.Sprintf("%d", block),
		},
	}
}

// NewAuctionDeletedEvent returns the canonical event payload for a
// cancelled liquidation auction.
func NewAuctionDeletedEvent(auctionType AuctionType, subject common.Address) *Event {
	return &Event{
		Type: EventTypeAuctionDeleted,
		Attributes: map[string]string{
			"auctionType": fmt.Sprintf("%d", auctionType),
			"subject":     subject.Hex(),
		},
	}
}
