// Package book implements the central limit order book: FIFO price levels
// ordered by price-time priority, with order-id and trader-id indices for
// O(1) cancels.
package book

import (
	"errors"
	"sort"
	"sync"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"github.com/tidwall/btree"
)

var (
	ErrInvalidOrder  = errors.New("invalid order")
	ErrEmptyTraderID = errors.New("trader_id cannot be empty")
)

type levels = btree.BTreeG[*PriceLevel]

type indexEntry struct {
	side     Side
	price    float64
	traderID string
}

// OrderBook is safe for concurrent use; every public method takes its own
// lock, except IndexRemove and TreeFor, which expect the caller to hold it
// via WithLock. Its order-id counter is per-instance, not process-global,
// so two sessions never collide.
type OrderBook struct {
	mu sync.Mutex

	tickSize      decimal.Decimal
	quoteLifetime float64

	bids *levels // sorted greatest price first
	asks *levels // sorted least price first

	orderIndex   map[int64]indexEntry
	traderOrders map[string]map[int64]struct{}

	nextOrderID int64

	totalAdded    int64
	totalCanceled int64
	totalExpired  int64
}

// New creates an order book. tickSize must be positive. quoteLifetime of
// zero disables expiry.
func New(tickSize, quoteLifetime float64) *OrderBook {
	if tickSize <= 0 {
		tickSize = 0.01
	}
	return &OrderBook{
		tickSize:      decimal.NewFromFloat(tickSize),
		quoteLifetime: quoteLifetime,
		bids: btree.NewBTreeG(func(a, b *PriceLevel) bool {
			return a.Price > b.Price
		}),
		asks: btree.NewBTreeG(func(a, b *PriceLevel) bool {
			return a.Price < b.Price
		}),
		orderIndex:   make(map[int64]indexEntry),
		traderOrders: make(map[string]map[int64]struct{}),
	}
}

// snapPrice rounds price onto the tick grid using exact decimal arithmetic
// so repeated snapping never drifts the way float rounding can.
func (b *OrderBook) snapPrice(price float64) float64 {
	d := decimal.NewFromFloat(price)
	ticks := d.DivRound(b.tickSize, 0).Round(0)
	snapped, _ := ticks.Mul(b.tickSize).Round(8).Float64()
	return snapped
}

func (b *OrderBook) treeFor(side Side) *levels {
	if side == Buy {
		return b.bids
	}
	return b.asks
}

// Add inserts a new resting order, snapping its price to the tick grid and
// assigning it the next monotonic order id for this book. The order is
// appended to the back of its price level's FIFO queue.
func (b *OrderBook) Add(traderID string, side Side, price float64, quantity int64, timestamp float64) (*Order, error) {
	if traderID == "" {
		return nil, ErrEmptyTraderID
	}
	if quantity <= 0 || price <= 0 {
		return nil, ErrInvalidOrder
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextOrderID++
	order := &Order{
		OrderID:       b.nextOrderID,
		TraderID:      traderID,
		Side:          side,
		Price:         b.snapPrice(price),
		Quantity:      quantity,
		TotalQuantity: quantity,
		Timestamp:     timestamp,
	}

	tree := b.treeFor(side)
	level, ok := tree.Get(&PriceLevel{Price: order.Price})
	if ok {
		level.Orders = append(level.Orders, order)
	} else {
		tree.Set(&PriceLevel{Price: order.Price, Orders: []*Order{order}})
	}

	b.indexAdd(order)
	b.totalAdded++

	log.Debug().
		Int64("order_id", order.OrderID).
		Str("trader_id", traderID).
		Str("side", side.String()).
		Float64("price", order.Price).
		Int64("quantity", quantity).
		Msg("order resting")

	return order, nil
}

func (b *OrderBook) indexAdd(o *Order) {
	b.orderIndex[o.OrderID] = indexEntry{side: o.Side, price: o.Price, traderID: o.TraderID}
	set, ok := b.traderOrders[o.TraderID]
	if !ok {
		set = make(map[int64]struct{})
		b.traderOrders[o.TraderID] = set
	}
	set[o.OrderID] = struct{}{}
}

// IndexRemove drops orderID from the order-id and trader-id indices.
// Assumes the caller already holds the book's lock, e.g. inside a
// WithLock callback — it exists so the matching engine can keep the
// indices in sync with the price levels it mutates directly via TreeFor.
func (b *OrderBook) IndexRemove(orderID int64) {
	b.indexRemove(orderID)
}

// indexRemove assumes the caller holds b.mu.
func (b *OrderBook) indexRemove(orderID int64) {
	entry, ok := b.orderIndex[orderID]
	if !ok {
		return
	}
	delete(b.orderIndex, orderID)
	if set, ok := b.traderOrders[entry.traderID]; ok {
		delete(set, orderID)
		if len(set) == 0 {
			delete(b.traderOrders, entry.traderID)
		}
	}
}

// removeFromLevel drops the order with the given id from its resting level,
// pruning the level itself if it becomes empty. Assumes b.mu held.
func (b *OrderBook) removeFromLevel(side Side, price float64, orderID int64) bool {
	tree := b.treeFor(side)
	level, ok := tree.Get(&PriceLevel{Price: price})
	if !ok {
		return false
	}
	idx := -1
	for i, o := range level.Orders {
		if o.OrderID == orderID {
			idx = i
			break
		}
	}
	if idx == -1 {
		return false
	}
	level.Orders = append(level.Orders[:idx], level.Orders[idx+1:]...)
	if len(level.Orders) == 0 {
		tree.Delete(&PriceLevel{Price: price})
	}
	return true
}

// CancelByID removes a single resting order. Returns false if it no longer exists.
func (b *OrderBook) CancelByID(orderID int64) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	entry, ok := b.orderIndex[orderID]
	if !ok {
		return false
	}
	if !b.removeFromLevel(entry.side, entry.price, orderID) {
		b.indexRemove(orderID)
		return false
	}
	b.indexRemove(orderID)
	b.totalCanceled++
	return true
}

// CancelTrader cancels every resting order owned by traderID, optionally
// restricted to one side. Returns the number of orders removed.
func (b *OrderBook) CancelTrader(traderID string, side *Side) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	ids, ok := b.traderOrders[traderID]
	if !ok || len(ids) == 0 {
		return 0
	}

	targets := make([]int64, 0, len(ids))
	for oid := range ids {
		entry, ok := b.orderIndex[oid]
		if !ok {
			continue
		}
		if side != nil && entry.side != *side {
			continue
		}
		targets = append(targets, oid)
	}

	removed := 0
	for _, oid := range targets {
		entry := b.orderIndex[oid]
		if b.removeFromLevel(entry.side, entry.price, oid) {
			removed++
		}
		b.indexRemove(oid)
	}
	b.totalCanceled += int64(removed)
	return removed
}

// Expire drops every resting order whose age exceeds the book's configured
// quote lifetime as of currentTime. Returns the count removed. A zero
// quoteLifetime disables expiry entirely.
func (b *OrderBook) Expire(currentTime float64) int {
	if b.quoteLifetime <= 0 {
		return 0
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	cutoff := currentTime - b.quoteLifetime
	expired := 0

	for _, side := range []Side{Buy, Sell} {
		tree := b.treeFor(side)
		var stale []float64
		tree.Scan(func(level *PriceLevel) bool {
			kept := level.Orders[:0:0]
			for _, o := range level.Orders {
				if o.Timestamp >= cutoff {
					kept = append(kept, o)
				} else {
					expired++
					b.indexRemove(o.OrderID)
				}
			}
			level.Orders = kept
			if len(kept) == 0 {
				stale = append(stale, level.Price)
			}
			return true
		})
		for _, p := range stale {
			tree.Delete(&PriceLevel{Price: p})
		}
	}

	b.totalExpired += int64(expired)
	return expired
}

// BestBidAsk returns the top of book on each side, nil when a side is empty.
func (b *OrderBook) BestBidAsk() (bid, ask *float64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.bestBidAskLocked()
}

func (b *OrderBook) bestBidAskLocked() (bid, ask *float64) {
	if top, ok := b.bids.Min(); ok {
		p := top.Price
		bid = &p
	}
	if top, ok := b.asks.Min(); ok {
		p := top.Price
		ask = &p
	}
	return
}

// Spread returns ask-bid, nil if either side is empty.
func (b *OrderBook) Spread() *float64 {
	bid, ask := b.BestBidAsk()
	if bid == nil || ask == nil {
		return nil
	}
	s := *ask - *bid
	return &s
}

// MidPrice returns the midpoint of the top of book, nil if either side is empty.
func (b *OrderBook) MidPrice() *float64 {
	bid, ask := b.BestBidAsk()
	if bid == nil || ask == nil {
		return nil
	}
	m := (*bid + *ask) / 2.0
	return &m
}

// Depth returns up to n aggregated rows per side, best price first.
func (b *OrderBook) Depth(n int) (bids, asks []DepthEntry) {
	b.mu.Lock()
	defer b.mu.Unlock()

	collect := func(tree *levels) []DepthEntry {
		var out []DepthEntry
		tree.Scan(func(level *PriceLevel) bool {
			var qty int64
			for _, o := range level.Orders {
				qty += o.Quantity
			}
			out = append(out, DepthEntry{Price: level.Price, Quantity: qty})
			return len(out) < n
		})
		return out
	}
	return collect(b.bids), collect(b.asks)
}

// OrdersByTrader returns a trader's resting orders ordered by time priority.
func (b *OrderBook) OrdersByTrader(traderID string) []*Order {
	b.mu.Lock()
	defer b.mu.Unlock()

	ids, ok := b.traderOrders[traderID]
	if !ok {
		return nil
	}
	out := make([]*Order, 0, len(ids))
	for oid := range ids {
		entry, ok := b.orderIndex[oid]
		if !ok {
			continue
		}
		tree := b.treeFor(entry.side)
		level, ok := tree.Get(&PriceLevel{Price: entry.price})
		if !ok {
			continue
		}
		for _, o := range level.Orders {
			if o.OrderID == oid {
				out = append(out, o)
				break
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Less(out[j]) })
	return out
}

// TotalQuantity sums resting quantity on one side of the book.
func (b *OrderBook) TotalQuantity(side Side) int64 {
	b.mu.Lock()
	defer b.mu.Unlock()

	var total int64
	b.treeFor(side).Scan(func(level *PriceLevel) bool {
		for _, o := range level.Orders {
			total += o.Quantity
		}
		return true
	})
	return total
}

// Bids returns a snapshot of the bid side, best price first.
func (b *OrderBook) Bids() []*PriceLevel {
	b.mu.Lock()
	defer b.mu.Unlock()
	return snapshot(b.bids)
}

// Asks returns a snapshot of the ask side, best price first.
func (b *OrderBook) Asks() []*PriceLevel {
	b.mu.Lock()
	defer b.mu.Unlock()
	return snapshot(b.asks)
}

func snapshot(tree *levels) []*PriceLevel {
	var out []*PriceLevel
	tree.Scan(func(level *PriceLevel) bool {
		out = append(out, level)
		return true
	})
	return out
}

// Stats reports book-wide counters for analytics and diagnostics.
func (b *OrderBook) Stats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()

	bid, ask := b.bestBidAskLocked()
	var bidQty, askQty int64
	b.bids.Scan(func(l *PriceLevel) bool {
		for _, o := range l.Orders {
			bidQty += o.Quantity
		}
		return true
	})
	b.asks.Scan(func(l *PriceLevel) bool {
		for _, o := range l.Orders {
			askQty += o.Quantity
		}
		return true
	})

	return Stats{
		TotalOrdersAdded:    b.totalAdded,
		TotalOrdersCanceled: b.totalCanceled,
		TotalOrdersExpired:  b.totalExpired,
		ActiveBidLevels:     b.bids.Len(),
		ActiveAskLevels:     b.asks.Len(),
		TotalBidQuantity:    bidQty,
		TotalAskQuantity:    askQty,
		BestBid:             bid,
		BestAsk:             ask,
		ActiveTraders:       len(b.traderOrders),
	}
}

// Clear empties the book and all indices.
func (b *OrderBook) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.bids = btree.NewBTreeG(func(a, c *PriceLevel) bool { return a.Price > c.Price })
	b.asks = btree.NewBTreeG(func(a, c *PriceLevel) bool { return a.Price < c.Price })
	b.orderIndex = make(map[int64]indexEntry)
	b.traderOrders = make(map[string]map[int64]struct{})
}

// WithLock runs fn with the book's lock held. The matching engine uses this
// to mutate price levels and the indices atomically with respect to any
// other book access without exposing the mutex itself.
func (b *OrderBook) WithLock(fn func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	fn()
}

// TreeFor exposes the ordered level tree for a side to the matching engine,
// which needs direct access to mutate quantities and pop FIFO heads inside
// a single held lock (see WithLock).
func (b *OrderBook) TreeFor(side Side) *btree.BTreeG[*PriceLevel] {
	return b.treeFor(side)
}
