package book

import (
	"github.com/tidwall/btree"

	"github.com/predx/exchange/internal/models"
)

// LevelSnapshot is one price level in a snapshot, orders oldest first.
type LevelSnapshot struct {
	Price  uint64         `json:"price"`
	Orders []models.Order `json:"orders"`
}

// Snapshot is a deep copy of a book taken at one point in time. Levels are
// in ascending price order on both sides.
type Snapshot struct {
	Buy  []LevelSnapshot `json:"buy"`
	Sell []LevelSnapshot `json:"sell"`
}

// Snapshot copies the book. The copy shares nothing with live state, so
// callers can hold it across requests.
func (b *OrderBook) Snapshot() Snapshot {
	return Snapshot{
		Buy:  snapshotSide(b.buy),
		Sell: snapshotSide(b.sell),
	}
}

func snapshotSide(side *btree.Map[uint64, *priceLevel]) []LevelSnapshot {
	levels := make([]LevelSnapshot, 0, side.Len())
	side.Scan(func(price uint64, level *priceLevel) bool {
		orders := make([]models.Order, len(level.orders))
		for i, o := range level.orders {
			orders[i] = *o
		}
		levels = append(levels, LevelSnapshot{Price: price, Orders: orders})
		return true
	})
	return levels
}
