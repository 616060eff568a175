package matching

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"marketsim/internal/book"
)

func TestMatch_PriceTimePriority_MakerPaysRestingPrice(t *testing.T) {
	b := book.New(0.1, 0)
	eng := New(b)

	_, err := b.Add("alice", book.Sell, 100.0, 10, 1.0) // resting maker
	require.NoError(t, err)
	_, err = b.Add("bob", book.Buy, 100.0, 10, 2.0) // incoming taker
	require.NoError(t, err)

	matches := eng.Match(3.0)
	require.Len(t, matches, 1)
	assert.Equal(t, "bob", matches[0].BuyerID)
	assert.Equal(t, "alice", matches[0].SellerID)
	assert.Equal(t, "bob", matches[0].TakerID, "later order is the taker")
	assert.Equal(t, 100.0, matches[0].Price)
	assert.Equal(t, int64(10), matches[0].Quantity)
}

func TestMatch_PartialFillAcrossLevels(t *testing.T) {
	b := book.New(0.1, 0)
	eng := New(b)

	_, _ = b.Add("alice", book.Sell, 100.0, 5, 1.0)
	_, _ = b.Add("alice2", book.Sell, 101.0, 10, 2.0)
	_, _ = b.Add("bob", book.Buy, 101.0, 12, 3.0)

	matches := eng.Match(4.0)
	require.Len(t, matches, 2)
	assert.Equal(t, 100.0, matches[0].Price)
	assert.Equal(t, int64(5), matches[0].Quantity)
	assert.Equal(t, 101.0, matches[1].Price)
	assert.Equal(t, int64(7), matches[1].Quantity)

	asks := b.Asks()
	require.Len(t, asks, 1)
	assert.Equal(t, int64(3), asks[0].Orders[0].Quantity)
}

func TestMatch_SelfTradeSuppressed(t *testing.T) {
	b := book.New(0.1, 0)
	eng := New(b)

	_, _ = b.Add("alice", book.Sell, 100.0, 10, 1.0)
	_, _ = b.Add("alice", book.Buy, 100.0, 10, 2.0)

	matches := eng.Match(3.0)
	assert.Empty(t, matches, "self-trade must not produce a fill")

	bid, ask := b.BestBidAsk()
	assert.Nil(t, bid, "the newer (taker) order is dropped")
	assert.NotNil(t, ask, "the older (maker) order keeps resting")
}

func TestMatch_NoCrossWhenSpreadPositive(t *testing.T) {
	b := book.New(0.1, 0)
	eng := New(b)

	_, _ = b.Add("alice", book.Buy, 99.0, 10, 1.0)
	_, _ = b.Add("bob", book.Sell, 101.0, 10, 2.0)

	matches := eng.Match(3.0)
	assert.Empty(t, matches)
}

func TestMatch_ListenerFanoutIsolatesPanics(t *testing.T) {
	b := book.New(0.1, 0)
	eng := New(b)

	var received []MatchEvent
	eng.Subscribe(func(MatchEvent) { panic("boom") })
	eng.Subscribe(func(e MatchEvent) { received = append(received, e) })

	_, _ = b.Add("alice", book.Sell, 100.0, 10, 1.0)
	_, _ = b.Add("bob", book.Buy, 100.0, 10, 2.0)

	matches := eng.Match(3.0)
	require.Len(t, matches, 1)
	require.Len(t, received, 1, "second listener still runs despite the first panicking")
}
