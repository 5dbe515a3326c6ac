package domain

import "errors"

var (
	ErrNotFound             = errors.New("not found")
	ErrMarketClosed         = errors.New("market is closed to trading")
	ErrAmountOutOfBounds    = errors.New("amount outside market limits")
	ErrInsufficientBalance  = errors.New("insufficient balance")
	ErrInsufficientShares   = errors.New("insufficient shares")
	ErrPricingUnavailable   = errors.New("pricing unavailable at probability bound")
	ErrAlreadyResolved      = errors.New("market already resolved")
	ErrSettlementAlreadyRun = errors.New("settlement already run")
	ErrExecutionFailed      = errors.New("order execution failed")
	ErrRateLimited          = errors.New("rate limited")
	ErrUnauthorized         = errors.New("unauthorized")
	ErrLockHeld             = errors.New("lock already held")
)
