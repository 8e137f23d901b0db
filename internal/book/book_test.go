package book

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/predx/exchange/internal/models"
)

const testMarket = "market-1"

func newBuyer(name string, balance uint64) *models.User {
	return models.NewUser(name, "", balance)
}

func newSeller(name string, stockA uint64) *models.User {
	u := models.NewUser(name, "", 0)
	u.HoldingsFor(testMarket).StockA = stockA
	return u
}

func limitOrder(username string, side models.Side, price, quantity uint64) *models.Order {
	return &models.Order{
		Price:     price,
		Quantity:  quantity,
		Stock:     models.StockA,
		Username:  username,
		Timestamp: time.Now(),
		Side:      side,
		MarketID:  testMarket,
	}
}

func restSell(t *testing.T, b *OrderBook, seller *models.User, price, quantity uint64) {
	t.Helper()
	trades, err := b.AddLimitOrder(limitOrder(seller.Username, models.SideSell, price, quantity), seller)
	require.NoError(t, err)
	require.Empty(t, trades)
}

func TestAddLimitOrder_BuyRestsAndLocksFunds(t *testing.T) {
	b := New()
	buyer := newBuyer("alice", 1000)

	trades, err := b.AddLimitOrder(limitOrder("alice", models.SideBuy, 40, 5), buyer)
	require.NoError(t, err)
	assert.Empty(t, trades)

	// Full collateral locked before any match.
	assert.Equal(t, uint64(1000-200), buyer.Balance)

	snap := b.Snapshot()
	require.Len(t, snap.Buy, 1)
	assert.Equal(t, uint64(40), snap.Buy[0].Price)
	require.Len(t, snap.Buy[0].Orders, 1)
	assert.Equal(t, uint64(5), snap.Buy[0].Orders[0].Quantity)
	assert.Empty(t, snap.Sell)
}

func TestAddLimitOrder_InsufficientFunds(t *testing.T) {
	b := New()
	buyer := newBuyer("alice", 100)

	_, err := b.AddLimitOrder(limitOrder("alice", models.SideBuy, 50, 3), buyer)
	var fundsErr *models.InsufficientFundsError
	require.ErrorAs(t, err, &fundsErr)
	assert.Equal(t, uint64(150), fundsErr.Required)
	assert.Equal(t, uint64(100), fundsErr.Available)

	// Nothing debited, nothing rested.
	assert.Equal(t, uint64(100), buyer.Balance)
	assert.Empty(t, b.Snapshot().Buy)
}

func TestAddLimitOrder_SellLocksStock(t *testing.T) {
	b := New()
	seller := newSeller("bob", 100)

	restSell(t, b, seller, 50, 10)
	assert.Equal(t, uint64(90), seller.HoldingsFor(testMarket).StockA)

	snap := b.Snapshot()
	require.Len(t, snap.Sell, 1)
	assert.Equal(t, uint64(50), snap.Sell[0].Price)
}

func TestAddLimitOrder_InsufficientStock(t *testing.T) {
	b := New()
	seller := newSeller("bob", 5)

	_, err := b.AddLimitOrder(limitOrder("bob", models.SideSell, 50, 10), seller)
	var stockErr *models.InsufficientStockError
	require.ErrorAs(t, err, &stockErr)
	assert.Equal(t, models.StockA, stockErr.Stock)
	assert.Equal(t, uint64(10), stockErr.Required)
	assert.Equal(t, uint64(5), stockErr.Available)

	assert.Equal(t, uint64(5), seller.HoldingsFor(testMarket).StockA)
	assert.Empty(t, b.Snapshot().Sell)
}

func TestAddLimitOrder_ExecutesAtRestingPrice(t *testing.T) {
	b := New()
	seller := newSeller("bob", 100)
	buyer := newBuyer("alice", 5000)

	restSell(t, b, seller, 50, 10)

	// Buyer is willing to pay 60 but the resting ask wins.
	trades, err := b.AddLimitOrder(limitOrder("alice", models.SideBuy, 60, 5), buyer)
	require.NoError(t, err)
	require.Len(t, trades, 1)
	assert.Equal(t, models.Trade{From: "bob", To: "alice", Quantity: 5, Price: 50, Stock: models.StockA}, trades[0])

	// The book locked the buyer at their own limit; the rebate is the
	// processor's job, not the book's.
	assert.Equal(t, uint64(5000-300), buyer.Balance)

	// Partially filled resting order keeps its place at the level head.
	snap := b.Snapshot()
	require.Len(t, snap.Sell, 1)
	assert.Equal(t, uint64(5), snap.Sell[0].Orders[0].Quantity)
	assert.Empty(t, snap.Buy)
}

func TestAddLimitOrder_FIFOWithinLevel(t *testing.T) {
	b := New()
	first := newSeller("first", 100)
	second := newSeller("second", 100)
	buyer := newBuyer("alice", 5000)

	restSell(t, b, first, 50, 3)
	restSell(t, b, second, 50, 10)

	trades, err := b.AddLimitOrder(limitOrder("alice", models.SideBuy, 50, 5), buyer)
	require.NoError(t, err)
	require.Len(t, trades, 2)

	// Oldest order at the level fills first regardless of size.
	assert.Equal(t, "first", trades[0].From)
	assert.Equal(t, uint64(3), trades[0].Quantity)
	assert.Equal(t, "second", trades[1].From)
	assert.Equal(t, uint64(2), trades[1].Quantity)
}

func TestAddLimitOrder_PricePriorityAcrossLevels(t *testing.T) {
	b := New()
	expensive := newSeller("expensive", 100)
	cheap := newSeller("cheap", 100)
	buyer := newBuyer("alice", 5000)

	// The better price was placed later; price still dominates age.
	restSell(t, b, expensive, 50, 5)
	restSell(t, b, cheap, 40, 5)

	trades, err := b.AddLimitOrder(limitOrder("alice", models.SideBuy, 60, 8), buyer)
	require.NoError(t, err)
	require.Len(t, trades, 2)
	assert.Equal(t, "cheap", trades[0].From)
	assert.Equal(t, uint64(40), trades[0].Price)
	assert.Equal(t, uint64(5), trades[0].Quantity)
	assert.Equal(t, "expensive", trades[1].From)
	assert.Equal(t, uint64(50), trades[1].Price)
	assert.Equal(t, uint64(3), trades[1].Quantity)
}

func TestAddLimitOrder_BuyBelowAskRests(t *testing.T) {
	b := New()
	seller := newSeller("bob", 100)
	buyer := newBuyer("alice", 5000)

	restSell(t, b, seller, 50, 10)

	trades, err := b.AddLimitOrder(limitOrder("alice", models.SideBuy, 40, 5), buyer)
	require.NoError(t, err)
	assert.Empty(t, trades)
	assert.Equal(t, uint64(4800), buyer.Balance)

	snap := b.Snapshot()
	require.Len(t, snap.Buy, 1)
	require.Len(t, snap.Sell, 1)
}

func TestAddLimitOrder_RemainderRestsAfterPartialFill(t *testing.T) {
	b := New()
	seller := newSeller("bob", 100)
	buyer := newBuyer("alice", 5000)

	restSell(t, b, seller, 50, 4)

	trades, err := b.AddLimitOrder(limitOrder("alice", models.SideBuy, 50, 10), buyer)
	require.NoError(t, err)
	require.Len(t, trades, 1)
	assert.Equal(t, uint64(4), trades[0].Quantity)

	// Remaining 6 rest at the buy level; ask side is now empty.
	snap := b.Snapshot()
	assert.Empty(t, snap.Sell)
	require.Len(t, snap.Buy, 1)
	assert.Equal(t, uint64(50), snap.Buy[0].Price)
	assert.Equal(t, uint64(6), snap.Buy[0].Orders[0].Quantity)
}

func TestAddLimitOrder_SellMatchesHighestBidFirst(t *testing.T) {
	b := New()
	low := newBuyer("low", 5000)
	high := newBuyer("high", 5000)
	seller := newSeller("bob", 100)

	_, err := b.AddLimitOrder(limitOrder("low", models.SideBuy, 40, 5), low)
	require.NoError(t, err)
	_, err = b.AddLimitOrder(limitOrder("high", models.SideBuy, 45, 5), high)
	require.NoError(t, err)

	trades, err := b.AddLimitOrder(limitOrder("bob", models.SideSell, 40, 8), seller)
	require.NoError(t, err)
	require.Len(t, trades, 2)

	// Best bid consumed first; trades execute at the resting bid price.
	assert.Equal(t, uint64(45), trades[0].Price)
	assert.Equal(t, "high", trades[0].To)
	assert.Equal(t, uint64(40), trades[1].Price)
	assert.Equal(t, "low", trades[1].To)
	assert.Equal(t, uint64(3), trades[1].Quantity)
}

func TestExecuteMarketOrder_BuyNoLiquidity(t *testing.T) {
	b := New()
	buyer := newBuyer("alice", 5000)

	trades, err := b.ExecuteMarketOrder("alice", models.SideBuy, 10, buyer, testMarket, models.StockA)
	require.NoError(t, err)
	assert.Empty(t, trades)
	assert.Equal(t, uint64(5000), buyer.Balance)
}

func TestExecuteMarketOrder_BuyStopsWhenNextFillUnaffordable(t *testing.T) {
	b := New()
	seller := newSeller("bob", 100)
	restSell(t, b, seller, 50, 10)

	// 120 cannot cover the whole 10-unit fill at 50; matching stops before
	// it, leaving the balance intact.
	buyer := newBuyer("alice", 120)
	trades, err := b.ExecuteMarketOrder("alice", models.SideBuy, 10, buyer, testMarket, models.StockA)
	require.NoError(t, err)
	assert.Empty(t, trades)
	assert.Equal(t, uint64(120), buyer.Balance)
}

func TestExecuteMarketOrder_BuyDebitsPerFill(t *testing.T) {
	b := New()
	cheap := newSeller("cheap", 100)
	expensive := newSeller("expensive", 100)
	restSell(t, b, cheap, 10, 5)
	restSell(t, b, expensive, 100, 5)

	// Affords the whole first fill (50) but not the second (500); executes
	// as far as funds allow and discards the remainder.
	buyer := newBuyer("alice", 60)
	trades, err := b.ExecuteMarketOrder("alice", models.SideBuy, 10, buyer, testMarket, models.StockA)
	require.NoError(t, err)
	require.Len(t, trades, 1)
	assert.Equal(t, uint64(10), trades[0].Price)
	assert.Equal(t, uint64(5), trades[0].Quantity)
	assert.Equal(t, uint64(10), buyer.Balance)

	// The unmatched remainder never rests.
	assert.Empty(t, b.Snapshot().Buy)
}

func TestExecuteMarketOrder_SellInsufficientStock(t *testing.T) {
	b := New()
	seller := newSeller("bob", 5)

	_, err := b.ExecuteMarketOrder("bob", models.SideSell, 10, seller, testMarket, models.StockA)
	var stockErr *models.InsufficientStockError
	require.ErrorAs(t, err, &stockErr)
	assert.Equal(t, uint64(10), stockErr.Required)
	assert.Equal(t, uint64(5), stockErr.Available)
	assert.Equal(t, uint64(5), seller.HoldingsFor(testMarket).StockA)
}

func TestExecuteMarketOrder_SellKeepsUnmatchedRemainder(t *testing.T) {
	b := New()
	buyer := newBuyer("alice", 5000)
	_, err := b.AddLimitOrder(limitOrder("alice", models.SideBuy, 40, 4), buyer)
	require.NoError(t, err)

	seller := newSeller("bob", 10)
	trades, err := b.ExecuteMarketOrder("bob", models.SideSell, 10, seller, testMarket, models.StockA)
	require.NoError(t, err)
	require.Len(t, trades, 1)
	assert.Equal(t, uint64(4), trades[0].Quantity)
	assert.Equal(t, uint64(40), trades[0].Price)

	// Only the filled quantity left the holdings; the remainder did not rest.
	assert.Equal(t, uint64(6), seller.HoldingsFor(testMarket).StockA)
	assert.Empty(t, b.Snapshot().Sell)
	assert.Empty(t, b.Snapshot().Buy)
}

func TestSnapshot_Empty(t *testing.T) {
	b := New()
	snap := b.Snapshot()
	assert.Empty(t, snap.Buy)
	assert.Empty(t, snap.Sell)
}

func TestSnapshot_IsACopy(t *testing.T) {
	b := New()
	seller := newSeller("bob", 100)
	restSell(t, b, seller, 50, 10)

	snap := b.Snapshot()
	snap.Sell[0].Orders[0].Quantity = 1

	assert.Equal(t, uint64(10), b.Snapshot().Sell[0].Orders[0].Quantity)
}
