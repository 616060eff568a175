package trader

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestApplyFill_UpdatesPositionAndCash(t *testing.T) {
	l := New("alice", false, 0)

	l.ApplyFill(Fill{Price: 100, Quantity: 10, Side: BuySide, Timestamp: 1})
	assert.Equal(t, int64(10), l.Position())
	assert.Equal(t, -1000.0, l.Cash())

	l.ApplyFill(Fill{Price: 105, Quantity: 4, Side: SellSide, Timestamp: 2, Fee: 1.5})
	assert.Equal(t, int64(6), l.Position())
	assert.InDelta(t, -1000+420-1.5, l.Cash(), 1e-9)
	assert.Equal(t, 1.5, l.FeesPaid())
}

func TestVWAP(t *testing.T) {
	l := New("alice", false, 0)
	l.ApplyFill(Fill{Price: 100, Quantity: 10, Side: BuySide, Timestamp: 1})
	l.ApplyFill(Fill{Price: 110, Quantity: 10, Side: BuySide, Timestamp: 2})

	assert.InDelta(t, 105.0, l.VWAP(), 1e-9)
}

func TestMarkToMarket(t *testing.T) {
	l := New("alice", false, 0)
	l.ApplyFill(Fill{Price: 100, Quantity: 10, Side: BuySide, Timestamp: 1})

	assert.InDelta(t, -1000+10*105, l.MarkToMarket(105), 1e-9)
}

func TestAverageCostBasis_LongVsShortVsFlat(t *testing.T) {
	l := New("alice", false, 0)
	assert.Equal(t, 0.0, l.AverageCostBasis())

	l.ApplyFill(Fill{Price: 100, Quantity: 10, Side: BuySide, Timestamp: 1})
	assert.InDelta(t, 100.0, l.AverageCostBasis(), 1e-9)

	l.ApplyFill(Fill{Price: 120, Quantity: 20, Side: SellSide, Timestamp: 2})
	assert.InDelta(t, 120.0, l.AverageCostBasis(), 1e-9, "now net short, basis is avg sell price")
}

func TestUpdateAdverseSelection_EMA(t *testing.T) {
	l := New("alice", false, 0)

	l.UpdateAdverseSelection(100, 102, true) // bought below FV, favorable
	assert.InDelta(t, 0.15*2, l.AdverseSelection(), 1e-9)

	l.UpdateAdverseSelection(105, 100, true) // bought above FV, adverse
	expected := 0.85*(0.15*2) + 0.15*(-5)
	assert.InDelta(t, expected, l.AdverseSelection(), 1e-9)
}

func TestSharpeRatio_RequiresAtLeastTwoFills(t *testing.T) {
	l := New("alice", false, 0)
	assert.Equal(t, 0.0, l.SharpeRatio(100, 10))

	l.ApplyFill(Fill{Price: 100, Quantity: 1, Side: BuySide, Timestamp: 1})
	assert.Equal(t, 0.0, l.SharpeRatio(100, 10))
}

func TestReset_ClearsEverything(t *testing.T) {
	l := New("alice", false, 500)
	l.ApplyFill(Fill{Price: 100, Quantity: 10, Side: BuySide, Timestamp: 1})
	l.Reset()

	assert.Equal(t, int64(0), l.Position())
	assert.Equal(t, 0.0, l.Cash())
	assert.Equal(t, 0, l.NumFills())
}
