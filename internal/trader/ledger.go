// Package trader implements the event-sourced trader ledger: an append-only
// fill history plus a small set of mutable aggregates (position, cash,
// fees), with every other metric (VWAP, mark-to-market, average cost basis,
// realized P&L, Sharpe-style return, adverse selection) a pure function of
// that state.
package trader

import "math"

// Side is the direction of a single fill.
type Side int

const (
	BuySide Side = iota
	SellSide
)

// Fill is an immutable execution record. Once appended to a Ledger it is
// never mutated.
type Fill struct {
	Price        float64
	Quantity     int64
	Side         Side
	Timestamp    float64
	Counterparty string
	Fee          float64
}

// NotionalValue is price times quantity.
func (f Fill) NotionalValue() float64 {
	return f.Price * float64(f.Quantity)
}

// PnLContribution is this fill's P&L if the position were marked at
// settlementPrice today, ignoring fees.
func (f Fill) PnLContribution(settlementPrice float64) float64 {
	if f.Side == BuySide {
		return (settlementPrice - f.Price) * float64(f.Quantity)
	}
	return (f.Price - settlementPrice) * float64(f.Quantity)
}

// SignedQuantity is positive for buys, negative for sells.
func (f Fill) SignedQuantity() int64 {
	if f.Side == BuySide {
		return f.Quantity
	}
	return -f.Quantity
}

const emaAlpha = 0.15

// Ledger tracks one trader's position, cash, and fee state plus its
// immutable fill history. It is not safe for concurrent mutation — fills
// are meant to be applied from the single-threaded simulation tick.
type Ledger struct {
	TraderID string
	IsBot    bool

	position int64
	cash     float64
	feesPaid float64
	fills    []Fill

	adverseSelectionScore float64
}

// New creates a ledger with zero position and the given starting cash.
// Starting cash is part of Cash(), so it is also included in MarkToMarket.
func New(traderID string, isBot bool, initialCash float64) *Ledger {
	return &Ledger{TraderID: traderID, IsBot: isBot, cash: initialCash}
}

func (l *Ledger) Position() int64         { return l.position }
func (l *Ledger) Cash() float64           { return l.cash }
func (l *Ledger) FeesPaid() float64       { return l.feesPaid }
func (l *Ledger) NumFills() int           { return len(l.fills) }
func (l *Ledger) AdverseSelection() float64 { return l.adverseSelectionScore }

// Fills returns a copy of the fill history so callers can't mutate it.
func (l *Ledger) Fills() []Fill {
	out := make([]Fill, len(l.fills))
	copy(out, l.fills)
	return out
}

// ApplyFill records a matched execution: it updates position, cash, and
// fees, then appends the fill to history. Besides ApplyFill, only
// UpdateAdverseSelection, ApplyLiquidation, and Reset change ledger state.
func (l *Ledger) ApplyFill(f Fill) {
	if f.Side == BuySide {
		l.position += f.Quantity
		l.cash -= f.NotionalValue()
	} else {
		l.position -= f.Quantity
		l.cash += f.NotionalValue()
	}
	l.cash -= f.Fee
	l.feesPaid += f.Fee
	l.fills = append(l.fills, f)
}

// MarkToMarket is cash + position*markPrice: total P&L including realized,
// unrealized, and fees.
func (l *Ledger) MarkToMarket(markPrice float64) float64 {
	return l.cash + float64(l.position)*markPrice
}

// VWAP is the volume-weighted average fill price across all history.
func (l *Ledger) VWAP() float64 {
	if len(l.fills) == 0 {
		return 0
	}
	var totalValue float64
	var totalQty int64
	for _, f := range l.fills {
		totalValue += f.NotionalValue()
		totalQty += f.Quantity
	}
	if totalQty == 0 {
		return 0
	}
	return totalValue / float64(totalQty)
}

// averageCost is the average price of the fills on the same side as the
// current net position (buy-side average if long, sell-side average if
// short, zero if flat).
func (l *Ledger) averageCost() float64 {
	if len(l.fills) == 0 {
		return 0
	}
	var buyValue, sellValue float64
	var buyQty, sellQty int64
	for _, f := range l.fills {
		if f.Side == BuySide {
			buyValue += f.NotionalValue()
			buyQty += f.Quantity
		} else {
			sellValue += f.NotionalValue()
			sellQty += f.Quantity
		}
	}
	switch {
	case l.position > 0:
		if buyQty == 0 {
			return 0
		}
		return buyValue / float64(buyQty)
	case l.position < 0:
		if sellQty == 0 {
			return 0
		}
		return sellValue / float64(sellQty)
	default:
		return 0
	}
}

// AverageCostBasis exposes averageCost for reporting.
func (l *Ledger) AverageCostBasis() float64 { return l.averageCost() }

// RealizedPnL approximates closed-position P&L by subtracting the
// unrealized component (open position marked against its own average
// cost) from total mark-to-market.
func (l *Ledger) RealizedPnL(currentPrice float64) float64 {
	total := l.MarkToMarket(currentPrice)
	unrealized := float64(l.position) * (currentPrice - l.averageCost())
	return total - unrealized
}

// ReturnPct is mark-to-market P&L as a percentage of initialCapital.
func (l *Ledger) ReturnPct(currentPrice, initialCapital float64) float64 {
	if initialCapital == 0 {
		return 0
	}
	return (l.MarkToMarket(currentPrice) / initialCapital) * 100.0
}

// SharpeRatio is a simplified risk-adjusted return over the last numPeriods
// fills: mean P&L contribution divided by its standard deviation.
func (l *Ledger) SharpeRatio(currentPrice float64, numPeriods int) float64 {
	if len(l.fills) < 2 {
		return 0
	}
	start := len(l.fills) - numPeriods
	if start < 0 {
		start = 0
	}
	recent := l.fills[start:]
	if len(recent) == 0 {
		return 0
	}

	returns := make([]float64, len(recent))
	var sum float64
	for i, f := range recent {
		returns[i] = f.PnLContribution(currentPrice)
		sum += returns[i]
	}
	mean := sum / float64(len(returns))

	var variance float64
	for _, r := range returns {
		d := r - mean
		variance += d * d
	}
	variance /= float64(len(returns))
	stdDev := math.Sqrt(variance)
	if stdDev == 0 {
		return 0
	}
	return mean / stdDev
}

// UpdateAdverseSelection folds one fill's edge against fair value into the
// trader's EMA-smoothed toxicity score. Positive means favorable fills,
// negative means the trader is being picked off.
func (l *Ledger) UpdateAdverseSelection(fillPrice, fairValue float64, isBuyer bool) {
	var edge float64
	if isBuyer {
		edge = fairValue - fillPrice
	} else {
		edge = fillPrice - fairValue
	}
	l.adverseSelectionScore = (1-emaAlpha)*l.adverseSelectionScore + emaAlpha*edge
}

// FillSummary aggregates simple fill-count/volume statistics.
type FillSummary struct {
	TotalFills  int
	BuyFills    int
	SellFills   int
	TotalVolume float64
	AvgPrice    float64
	AvgSize     float64
}

func (l *Ledger) FillSummary() FillSummary {
	if len(l.fills) == 0 {
		return FillSummary{}
	}
	var buys, sells int
	var totalVolume float64
	var totalQty int64
	for _, f := range l.fills {
		if f.Side == BuySide {
			buys++
		} else {
			sells++
		}
		totalVolume += f.NotionalValue()
		totalQty += f.Quantity
	}
	return FillSummary{
		TotalFills:  len(l.fills),
		BuyFills:    buys,
		SellFills:   sells,
		TotalVolume: totalVolume,
		AvgPrice:    l.VWAP(),
		AvgSize:     float64(totalQty) / float64(len(l.fills)),
	}
}

// PerformanceMetrics is the full reporting snapshot for a trader at a point
// in time. Unlike the original's cached dict, this is always recomputed —
// Go gives us no sync-bug-prone mutable cache to invalidate, and the
// computation is cheap relative to a tick.
type PerformanceMetrics struct {
	Position              int64
	Cash                  float64
	FeesPaid              float64
	MTMPnL                float64
	VWAP                  float64
	NumFills              int
	AdverseSelectionScore float64
	ReturnPct             float64
	SharpeRatio           float64
	AvgCostBasis          float64
	FillSummary           FillSummary
}

func (l *Ledger) PerformanceMetrics(currentPrice float64) PerformanceMetrics {
	return PerformanceMetrics{
		Position:              l.position,
		Cash:                  l.cash,
		FeesPaid:              l.feesPaid,
		MTMPnL:                l.MarkToMarket(currentPrice),
		VWAP:                  l.VWAP(),
		NumFills:              len(l.fills),
		AdverseSelectionScore: l.adverseSelectionScore,
		ReturnPct:             l.ReturnPct(currentPrice, 1000.0),
		SharpeRatio:           l.SharpeRatio(currentPrice, 10),
		AvgCostBasis:          l.averageCost(),
		FillSummary:           l.FillSummary(),
	}
}

// ApplyLiquidation force-flattens the position at liquidationPrice,
// adjusting cash as if the position were closed in a single trade, and
// does not append a Fill — a forced liquidation is not a matched order and
// has no counterparty. Used by the risk manager on a margin call.
func (l *Ledger) ApplyLiquidation(liquidationPrice float64) {
	if l.position == 0 {
		return
	}
	if l.position > 0 {
		l.cash += float64(l.position) * liquidationPrice
	} else {
		l.cash -= float64(-l.position) * liquidationPrice
	}
	l.position = 0
}

// Reset clears all history and balances. Used between sessions.
func (l *Ledger) Reset() {
	l.position = 0
	l.cash = 0
	l.feesPaid = 0
	l.fills = nil
	l.adverseSelectionScore = 0
}
