package market

import (
	"github.com/google/uuid"

	"github.com/predx/exchange/internal/book"
	"github.com/predx/exchange/internal/models"
)

// Market pairs the two complementary stock books under one identifier and
// aggregates every trade executed against either of them. Settlement state
// is stored here but enforced by the processor, keeping the books
// settlement-agnostic.
type Market struct {
	ID        string
	CreatedBy string
	Name      string
	StockA    *book.OrderBook
	StockB    *book.OrderBook
	Trades    []models.Trade
	Outcome   *models.WinningOutcome
	IsSettled bool
}

func New(name, createdBy string) *Market {
	return &Market{
		ID:        uuid.NewString(),
		CreatedBy: createdBy,
		Name:      name,
		StockA:    book.New(),
		StockB:    book.New(),
	}
}

func (m *Market) bookFor(stock models.StockType) *book.OrderBook {
	if stock == models.StockA {
		return m.StockA
	}
	return m.StockB
}

// AddLimitOrder dispatches to the stock's book and appends produced trades
// to the market history.
func (m *Market) AddLimitOrder(order *models.Order, user *models.User) ([]models.Trade, error) {
	trades, err := m.bookFor(order.Stock).AddLimitOrder(order, user)
	if err != nil {
		return nil, err
	}
	m.Trades = append(m.Trades, trades...)
	return trades, nil
}

// ExecuteMarketOrder dispatches to the stock's book and appends produced
// trades to the market history.
func (m *Market) ExecuteMarketOrder(username string, side models.Side, quantity uint64, stock models.StockType, user *models.User) ([]models.Trade, error) {
	trades, err := m.bookFor(stock).ExecuteMarketOrder(username, side, quantity, user, m.ID, stock)
	if err != nil {
		return nil, err
	}
	m.Trades = append(m.Trades, trades...)
	return trades, nil
}

// Orderbooks is a point-in-time copy of both stock books.
type Orderbooks struct {
	StockA book.Snapshot `json:"stock_a"`
	StockB book.Snapshot `json:"stock_b"`
}

func (m *Market) Snapshot() Orderbooks {
	return Orderbooks{
		StockA: m.StockA.Snapshot(),
		StockB: m.StockB.Snapshot(),
	}
}
