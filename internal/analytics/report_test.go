package analytics

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"

	"marketsim/internal/trader"
)

func TestCalculatePnLAttribution_SplitsGrossAndFees(t *testing.T) {
	l := trader.New("alice", false, 0)
	l.ApplyFill(trader.Fill{Price: 100, Quantity: 10, Side: trader.BuySide, Timestamp: 1, Fee: 5})

	p := CalculatePnLAttribution(l, 110)
	assert.InDelta(t, 95.0, p.NetPnL, 1e-9) // cash -1005 + 10*110 = 95
	assert.InDelta(t, 100.0, p.GrossPnL, 1e-9)
	assert.InDelta(t, 5.0, p.FeesPaid, 1e-9)
}

func TestCalculatePnLAttribution_ZeroFillsIsAllZero(t *testing.T) {
	l := trader.New("alice", false, 0)
	p := CalculatePnLAttribution(l, 100)
	assert.Equal(t, 0.0, p.NetPnL)
	assert.Equal(t, 0.0, p.FeesPaid)
}

func TestCalculateExecutionQuality_NoFillsReturnsZeroValue(t *testing.T) {
	l := trader.New("alice", false, 0)
	q := CalculateExecutionQuality(l, 100)
	assert.Equal(t, ExecutionQuality{}, q)
}

func TestCalculateExecutionQuality_TracksAdverseFillRate(t *testing.T) {
	l := trader.New("alice", false, 0)
	l.ApplyFill(trader.Fill{Price: 100, Quantity: 1, Side: trader.BuySide, Timestamp: 1})
	l.ApplyFill(trader.Fill{Price: 110, Quantity: 1, Side: trader.BuySide, Timestamp: 2})

	q := CalculateExecutionQuality(l, 105)
	// first fill: (105-100)*1=+5 favorable; second: (105-110)*1=-5 adverse
	assert.InDelta(t, 50.0, q.AdverseFillRatePct, 1e-9)
	assert.Equal(t, 2, q.TotalTrades)
}

func TestCalculateRiskAdjustedReturns_SortinoIsInfWithNoDownside(t *testing.T) {
	l := trader.New("alice", false, 0)
	l.ApplyFill(trader.Fill{Price: 100, Quantity: 1, Side: trader.BuySide, Timestamp: 1})
	l.ApplyFill(trader.Fill{Price: 100, Quantity: 1, Side: trader.BuySide, Timestamp: 2})
	l.ApplyFill(trader.Fill{Price: 100, Quantity: 1, Side: trader.BuySide, Timestamp: 3})

	r := CalculateRiskAdjustedReturns(l, 150, 1000)
	assert.True(t, math.IsInf(r.SortinoRatio, 1), "monotonically rising P&L (returns 50, 50) has no downside, so sortino is +Inf")
}

func TestCalculateRiskAdjustedReturns_NoFillsIsZeroValue(t *testing.T) {
	l := trader.New("alice", false, 0)
	r := CalculateRiskAdjustedReturns(l, 100, 1000)
	assert.Equal(t, RiskAdjustedReturns{}, r)
}

func TestGeneratePerformanceReport_PopulatesSummary(t *testing.T) {
	l := trader.New("bot-1", true, 0)
	l.ApplyFill(trader.Fill{Price: 100, Quantity: 3, Side: trader.BuySide, Timestamp: 1})

	report := GeneratePerformanceReport(l, 100, 1000)
	assert.Equal(t, "bot-1", report.Summary.TraderID)
	assert.Equal(t, int64(3), report.Summary.FinalPosition)
	assert.Equal(t, 1, report.Summary.TotalFills)
}

func TestRankPercentile_OrdersAgainstPopulation(t *testing.T) {
	population := []float64{10, 20, 30, 40}
	assert.Equal(t, 0.0, RankPercentile(5, population))
	assert.Equal(t, 100.0, RankPercentile(50, population))
	assert.Equal(t, 50.0, RankPercentile(25, population))
}
