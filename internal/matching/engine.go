// Package matching implements price-time priority crossing over an
// internal/book.OrderBook: the maker is whichever resting order is older by
// (timestamp, order id), execution happens at the maker's price, and
// self-trades are silently dropped rather than executed.
package matching

import (
	"github.com/rs/zerolog/log"
	"github.com/tidwall/btree"

	"marketsim/internal/book"
)

// MatchEvent is an immutable record of one execution. Downstream consumers
// (risk, the trader ledger, analytics) must treat it as read-only.
type MatchEvent struct {
	MatchID   int64
	BuyerID   string
	SellerID  string
	Price     float64
	Quantity  int64
	TakerID   string
	Timestamp float64
}

// Listener receives each MatchEvent as it executes. A listener that panics
// is isolated from the rest of the fan-out.
type Listener func(MatchEvent)

// Engine drives crossing for a single book. Its match-id counter is
// per-instance, mirroring the book's own per-instance order-id counter.
type Engine struct {
	Book *book.OrderBook

	listeners []Listener

	matchIDCounter int64
	totalMatches   int64
	totalVolume    float64
}

func New(b *book.OrderBook) *Engine {
	return &Engine{Book: b}
}

// Subscribe registers a listener for every match this engine produces.
func (e *Engine) Subscribe(l Listener) {
	e.listeners = append(e.listeners, l)
}

// Match drains every crossing pair at the top of book, in price-time
// priority, until the book is uncrossed (bid < ask) or one side is empty.
// currentTime stamps every event this call produces.
func (e *Engine) Match(currentTime float64) []MatchEvent {
	var matches []MatchEvent

	e.Book.WithLock(func() {
		bids := e.Book.TreeFor(book.Buy)
		asks := e.Book.TreeFor(book.Sell)

		for {
			bestBid, bidOk := bids.Min()
			bestAsk, askOk := asks.Min()
			if !bidOk || !askOk || bestBid.Price < bestAsk.Price {
				break
			}
			if len(bestBid.Orders) == 0 || len(bestAsk.Orders) == 0 {
				if len(bestBid.Orders) == 0 {
					bids.Delete(bestBid)
				}
				if len(bestAsk.Orders) == 0 {
					asks.Delete(bestAsk)
				}
				continue
			}

			bidOrder := bestBid.Orders[0]
			askOrder := bestAsk.Orders[0]

			// Older order is maker; newer is taker, per (timestamp, order id).
			bidIsMaker := bidOrder.Less(askOrder)

			var executionPrice float64
			var takerID string
			if bidIsMaker {
				executionPrice = bidOrder.Price
				takerID = askOrder.TraderID
			} else {
				executionPrice = askOrder.Price
				takerID = bidOrder.TraderID
			}

			if bidOrder.TraderID == askOrder.TraderID {
				// Self-trade prevention: drop the taker's order deterministically
				// and keep sweeping; no event is produced.
				if bidIsMaker {
					e.popHead(asks, bestAsk)
				} else {
					e.popHead(bids, bestBid)
				}
				log.Debug().Str("trader_id", bidOrder.TraderID).Msg("self-trade suppressed")
				continue
			}

			matchQty := min(bidOrder.Quantity, askOrder.Quantity)

			e.matchIDCounter++
			event := MatchEvent{
				MatchID:   e.matchIDCounter,
				BuyerID:   bidOrder.TraderID,
				SellerID:  askOrder.TraderID,
				Price:     executionPrice,
				Quantity:  matchQty,
				TakerID:   takerID,
				Timestamp: currentTime,
			}
			matches = append(matches, event)
			e.totalMatches++
			e.totalVolume += float64(matchQty) * executionPrice

			bidOrder.Quantity -= matchQty
			askOrder.Quantity -= matchQty

			if bidOrder.Quantity == 0 {
				e.popHead(bids, bestBid)
			}
			if askOrder.Quantity == 0 {
				e.popHead(asks, bestAsk)
			}

			e.notify(event)
		}
	})

	if len(matches) > 0 {
		log.Info().Int("count", len(matches)).Msg("matches executed")
	}
	return matches
}

// popHead removes the FIFO head of level, sweeping it from the book's
// order-id/trader-id indices so a fully filled or self-trade-dropped order
// doesn't linger there, and deletes the level from tree if it becomes
// empty. Assumes the book's lock is held.
func (e *Engine) popHead(tree *btree.BTreeG[*book.PriceLevel], level *book.PriceLevel) {
	e.Book.IndexRemove(level.Orders[0].OrderID)
	level.Orders = level.Orders[1:]
	if len(level.Orders) == 0 {
		tree.Delete(level)
	}
}

func (e *Engine) notify(event MatchEvent) {
	for _, l := range e.listeners {
		func() {
			defer func() {
				if r := recover(); r != nil {
					log.Error().Interface("panic", r).Msg("match listener panicked")
				}
			}()
			l(event)
		}()
	}
}

// Stats reports cumulative matching activity.
func (e *Engine) Stats() (totalMatches int64, totalVolume float64, listeners int) {
	return e.totalMatches, e.totalVolume, len(e.listeners)
}

// ResetStats zeroes the match-id counter and cumulative stats, mirroring
// the original engine's reset_stats. The simulator does not call it.
func (e *Engine) ResetStats() {
	e.matchIDCounter = 0
	e.totalMatches = 0
	e.totalVolume = 0
}
