package models

import (
	"fmt"
	"time"
)

// StockType identifies one of the two complementary stocks in a market.
// Payouts of a full A+B pair always sum to one collateral unit.
type StockType string

const (
	StockA StockType = "stock_a"
	StockB StockType = "stock_b"
)

// Side is the direction of an order.
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// WinningOutcome records how a market resolved.
type WinningOutcome string

const (
	OutcomeA       WinningOutcome = "a"
	OutcomeB       WinningOutcome = "b"
	OutcomeNeither WinningOutcome = "neither" // draw or invalid market
)

// Order is a single limit instruction. Quantity is the remaining unfilled
// amount; the book drops an order once it reaches zero. Timestamp documents
// insertion order only; FIFO ties are broken by queue position, not by
// wall-clock precision. Market orders are never stored as Orders.
type Order struct {
	Price     uint64    `json:"price"`
	Quantity  uint64    `json:"quantity"`
	Stock     StockType `json:"stock"`
	Username  string    `json:"username"`
	Timestamp time.Time `json:"timestamp"`
	Side      Side      `json:"side"`
	MarketID  string    `json:"market_id"`
}

// Trade is an immutable record of one match. From is always the seller,
// To always the buyer.
type Trade struct {
	From     string    `json:"from"`
	To       string    `json:"to"`
	Quantity uint64    `json:"quantity"`
	Price    uint64    `json:"price"`
	Stock    StockType `json:"stock"`
}

func (t Trade) String() string {
	return fmt.Sprintf("Trade{from: %q, to: %q, qty: %d, price: %d, stock: %s}",
		t.From, t.To, t.Quantity, t.Price, t.Stock)
}

// UserHoldings is a user's position in one market.
type UserHoldings struct {
	StockA uint64 `json:"stock_a"`
	StockB uint64 `json:"stock_b"`
}

// Stock returns a pointer to the quantity for the given stock side.
func (h *UserHoldings) Stock(stock StockType) *uint64 {
	if stock == StockA {
		return &h.StockA
	}
	return &h.StockB
}

// User is a registered account. Balance is in the smallest collateral
// denomination and can never go negative: orders lock funds and stock
// before any matching happens.
type User struct {
	Username     string
	PasswordHash string
	Balance      uint64
	Holdings     map[string]*UserHoldings
}

func NewUser(username, passwordHash string, balance uint64) *User {
	return &User{
		Username:     username,
		PasswordHash: passwordHash,
		Balance:      balance,
		Holdings:     make(map[string]*UserHoldings),
	}
}

// HoldingsFor returns the user's holdings for a market, creating the zero
// entry on first use.
func (u *User) HoldingsFor(marketID string) *UserHoldings {
	h, ok := u.Holdings[marketID]
	if !ok {
		h = &UserHoldings{}
		u.Holdings[marketID] = h
	}
	return h
}
