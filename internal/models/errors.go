package models

import (
	"errors"
	"fmt"
)

// Domain errors form a closed set so callers can branch on kind with
// errors.Is/errors.As instead of parsing text. All of them are recoverable
// client errors; the engine never aborts on one.
var (
	ErrUserNotFound       = errors.New("user not found")
	ErrUsernameTaken      = errors.New("username already exists")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrMarketNotFound     = errors.New("market not found")
	ErrMarketExists       = errors.New("market already exists")
	ErrMarketSettled      = errors.New("market is settled")
	ErrNotMarketCreator   = errors.New("only the market creator can settle")
)

// InsufficientFundsError reports a balance shortfall.
type InsufficientFundsError struct {
	Required  uint64
	Available uint64
}

func (e *InsufficientFundsError) Error() string {
	return fmt.Sprintf("insufficient funds: required %d, available %d", e.Required, e.Available)
}

// InsufficientStockError reports a per-stock holdings shortfall on a sell.
type InsufficientStockError struct {
	Stock     StockType
	Required  uint64
	Available uint64
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock: required %d of %s, available %d", e.Required, e.Stock, e.Available)
}

// InsufficientHoldingsError reports that a merge needs more complete A+B
// pairs than the user holds.
type InsufficientHoldingsError struct {
	Required uint64
	StockA   uint64
	StockB   uint64
}

func (e *InsufficientHoldingsError) Error() string {
	return fmt.Sprintf("insufficient holdings: required %d of each stock, available %d/%d", e.Required, e.StockA, e.StockB)
}
