package book

import (
	"github.com/tidwall/btree"

	"github.com/predx/exchange/internal/models"
)

// priceLevel holds the resting orders at one price, oldest first. A level
// never contains an exhausted order and is removed as soon as it empties,
// so orders[0] is always a live order.
type priceLevel struct {
	orders []*models.Order
}

// OrderBook stores resting limit orders for a single stock. Both sides are
// keyed by price: the best buy is the maximum key, the best sell the
// minimum. Matching is price-time priority — better price first, and strict
// FIFO within a level.
type OrderBook struct {
	buy  *btree.Map[uint64, *priceLevel]
	sell *btree.Map[uint64, *priceLevel]
}

func New() *OrderBook {
	return &OrderBook{
		buy:  btree.NewMap[uint64, *priceLevel](32),
		sell: btree.NewMap[uint64, *priceLevel](32),
	}
}

// rest appends an order to the tail of its price level, creating the level
// if needed. Tail insertion preserves FIFO for future matches.
func rest(side *btree.Map[uint64, *priceLevel], order *models.Order) {
	level, ok := side.Get(order.Price)
	if !ok {
		level = &priceLevel{}
		side.Set(order.Price, level)
	}
	level.orders = append(level.orders, order)
}

// fill consumes qty from the head order of a level and deletes the level
// from its side once empty.
func fill(side *btree.Map[uint64, *priceLevel], price uint64, level *priceLevel, qty uint64) {
	head := level.orders[0]
	head.Quantity -= qty
	if head.Quantity == 0 {
		level.orders = level.orders[1:]
		if len(level.orders) == 0 {
			side.Delete(price)
		}
	}
}

// AddLimitOrder locks the submitting user's resource for the full order
// size, matches what it can against the opposite side and rests any
// remainder. Trades always execute at the resting order's price, so any
// price improvement favors neither side's surprise: the incoming buyer's
// overpayment is rebated by the processor, the incoming seller simply
// receives the higher resting bid.
//
// Locking the full resource up front is what keeps balances and holdings
// non-negative even when the remainder rests indefinitely.
func (b *OrderBook) AddLimitOrder(order *models.Order, user *models.User) ([]models.Trade, error) {
	var trades []models.Trade

	switch order.Side {
	case models.SideBuy:
		required := order.Price * order.Quantity
		if user.Balance < required {
			return nil, &models.InsufficientFundsError{Required: required, Available: user.Balance}
		}
		user.Balance -= required

		for order.Quantity > 0 {
			price, level, ok := b.sell.Min()
			if !ok || price > order.Price {
				break
			}
			resting := level.orders[0]
			qty := min(order.Quantity, resting.Quantity)
			order.Quantity -= qty
			trades = append(trades, models.Trade{
				From:     resting.Username,
				To:       order.Username,
				Quantity: qty,
				Price:    price,
				Stock:    resting.Stock,
			})
			fill(b.sell, price, level, qty)
		}
		if order.Quantity > 0 {
			rest(b.buy, order)
		}

	case models.SideSell:
		available := user.HoldingsFor(order.MarketID).Stock(order.Stock)
		if *available < order.Quantity {
			return nil, &models.InsufficientStockError{Stock: order.Stock, Required: order.Quantity, Available: *available}
		}
		*available -= order.Quantity

		for order.Quantity > 0 {
			price, level, ok := b.buy.Max()
			if !ok || price < order.Price {
				break
			}
			resting := level.orders[0]
			qty := min(order.Quantity, resting.Quantity)
			order.Quantity -= qty
			trades = append(trades, models.Trade{
				From:     order.Username,
				To:       resting.Username,
				Quantity: qty,
				Price:    price,
				Stock:    resting.Stock,
			})
			fill(b.buy, price, level, qty)
		}
		if order.Quantity > 0 {
			rest(b.sell, order)
		}
	}

	return trades, nil
}

// ExecuteMarketOrder matches immediately against resting liquidity and never
// rests. Buys are funded per fill and stop as soon as the next whole fill is
// unaffordable; sells require the full quantity up front and deduct holdings
// per fill, so an unmatched remainder stays with the seller. An empty trade
// list means no liquidity, which is not an error.
func (b *OrderBook) ExecuteMarketOrder(username string, side models.Side, quantity uint64, user *models.User, marketID string, stock models.StockType) ([]models.Trade, error) {
	var trades []models.Trade

	switch side {
	case models.SideBuy:
		for quantity > 0 {
			price, level, ok := b.sell.Min()
			if !ok {
				break
			}
			resting := level.orders[0]
			qty := min(quantity, resting.Quantity)
			if user.Balance < qty*price {
				break
			}
			quantity -= qty
			user.Balance -= qty * price
			trades = append(trades, models.Trade{
				From:     resting.Username,
				To:       username,
				Quantity: qty,
				Price:    price,
				Stock:    resting.Stock,
			})
			fill(b.sell, price, level, qty)
		}

	case models.SideSell:
		available := user.HoldingsFor(marketID).Stock(stock)
		if *available < quantity {
			return nil, &models.InsufficientStockError{Stock: stock, Required: quantity, Available: *available}
		}
		for quantity > 0 {
			price, level, ok := b.buy.Max()
			if !ok {
				break
			}
			resting := level.orders[0]
			qty := min(quantity, resting.Quantity)
			quantity -= qty
			*available -= qty
			trades = append(trades, models.Trade{
				From:     username,
				To:       resting.Username,
				Quantity: qty,
				Price:    price,
				Stock:    resting.Stock,
			})
			fill(b.buy, price, level, qty)
		}
	}

	return trades, nil
}
