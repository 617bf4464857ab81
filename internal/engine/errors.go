package engine

import "errors"

// Every public entry point fails with one of these kinds, wrapped with
// operation context. Callers match with errors.Is.
var (
	ErrNotInitialized         = errors.New("engine not initialized")
	ErrUnauthorized           = errors.New("unauthorized")
	ErrInvalidAsset           = errors.New("invalid asset")
	ErrAssetNotSupported      = errors.New("asset not supported")
	ErrInvalidAmount          = errors.New("invalid amount")
	ErrInsufficientBalance    = errors.New("insufficient balance")
	ErrInsufficientCollateral = errors.New("insufficient collateral")
	ErrPriceUnavailable       = errors.New("price unavailable")
	ErrPriceStale             = errors.New("price stale")
	ErrUnhealthyPosition      = errors.New("action would breach minimum health factor")
	ErrPoolFrozen             = errors.New("pool frozen")
	ErrBorrowingDisabled      = errors.New("borrowing disabled")
	ErrSupplyDisabled         = errors.New("supply disabled")
	ErrSwapFailed             = errors.New("swap failed")
	ErrNotLiquidatable        = errors.New("position not liquidatable")
	ErrProtectionFailed       = errors.New("liquidation protection failed")
	ErrDeadlineExceeded       = errors.New("deadline exceeded")
)
