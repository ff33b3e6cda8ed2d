package pool

import "errors"

var (
	// ErrBadRequest covers malformed auction interactions: unknown or
	// disallowed auction types, duplicate creation, and lookups for
	// auctions that do not exist.
	ErrBadRequest = errors.New("pool engine: bad request")
	// ErrInvalidHealthFactor is returned when a liquidation auction is
	// created for a healthy position or deleted while the position is
	// still underwater.
	ErrInvalidHealthFactor = errors.New("pool engine: invalid health factor")
	// ErrArithmeticOverflow is fatal: a fixed point operation left the
	// representable range and the invocation must abort.
	ErrArithmeticOverflow = errors.New("pool engine: arithmetic overflow")

	ErrNilState              = errors.New("pool engine: state not configured")
	ErrInvalidAmount         = errors.New("pool engine: amount must be positive")
	ErrReserveNotFound       = errors.New("pool engine: reserve not found")
	ErrInvalidPrice          = errors.New("pool engine: oracle price must be positive")
	ErrInsufficientBalance   = errors.New("pool engine: insufficient balance")
	ErrInsufficientAllowance = errors.New("pool engine: insufficient allowance")
	ErrInsufficientShares    = errors.New("pool engine: insufficient share balance")
	ErrInsufficientLiquidity = errors.New("pool engine: insufficient liquidity")
	ErrHealthCheckFailed     = errors.New("pool engine: position health factor below 1")
	ErrNoDebt                = errors.New("pool engine: no outstanding debt")
)
