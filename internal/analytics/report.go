// Package analytics implements stateless P&L attribution, execution-quality,
// and risk-adjusted return reporting over a trader.Ledger snapshot. Every
// function is pure: same ledger and settlement price always yield the same
// report, which keeps this package trivially testable and cacheable at the
// call site.
package analytics

import (
	"math"

	"marketsim/internal/trader"
)

// PnLAttribution breaks a ledger's P&L into its components at a given
// settlement price.
type PnLAttribution struct {
	GrossPnL      float64
	NetPnL        float64
	RealizedPnL   float64
	UnrealizedPnL float64
	FeesPaid      float64
	FeeRatePct    float64
}

// CalculatePnLAttribution splits net P&L into a fee-free gross figure and a
// realized/unrealized split approximated from VWAP (exact cost-basis
// tracking per trade is out of scope, matching the original's own
// simplification).
func CalculatePnLAttribution(l *trader.Ledger, settlement float64) PnLAttribution {
	netPnL := l.MarkToMarket(settlement)
	fees := l.FeesPaid()
	grossPnL := netPnL + fees

	vwap := l.VWAP()
	unrealizedPnL := 0.0
	if vwap > 0 {
		unrealizedPnL = float64(l.Position()) * (settlement - vwap)
	}
	realizedPnL := grossPnL - unrealizedPnL

	feeRate := 0.0
	if grossPnL != 0 {
		feeRate = (fees / grossPnL) * 100.0
	}

	return PnLAttribution{
		GrossPnL:      grossPnL,
		NetPnL:        netPnL,
		RealizedPnL:   realizedPnL,
		UnrealizedPnL: unrealizedPnL,
		FeesPaid:      fees,
		FeeRatePct:    feeRate,
	}
}

// ExecutionQuality measures how favorably a ledger's fills executed
// relative to a settlement price.
type ExecutionQuality struct {
	VWAP              float64
	AvgEdge           float64
	AdverseFillRatePct float64
	VWAPVsSettlement  float64
	TotalTrades       int
}

// CalculateExecutionQuality reports VWAP, average per-fill edge, the share
// of fills that lost money against settlement, and whether the trader's
// net fills executed favorably relative to settlement.
func CalculateExecutionQuality(l *trader.Ledger, settlement float64) ExecutionQuality {
	fills := l.Fills()
	if len(fills) == 0 {
		return ExecutionQuality{}
	}

	vwap := l.VWAP()

	var totalEdge float64
	var adverseCount int
	for _, f := range fills {
		edge := f.PnLContribution(settlement)
		totalEdge += edge
		if edge < 0 {
			adverseCount++
		}
	}
	avgEdge := totalEdge / float64(len(fills))
	adverseRate := (float64(adverseCount) / float64(len(fills))) * 100.0

	var vwapVsSettlement float64
	switch {
	case l.Position() > 0:
		vwapVsSettlement = settlement - vwap
	case l.Position() < 0:
		vwapVsSettlement = vwap - settlement
	}

	return ExecutionQuality{
		VWAP:               vwap,
		AvgEdge:            avgEdge,
		AdverseFillRatePct: adverseRate,
		VWAPVsSettlement:   vwapVsSettlement,
		TotalTrades:        len(fills),
	}
}

// RiskAdjustedReturns reports return percentage plus Sharpe/Sortino-style
// risk-adjusted metrics and max drawdown over the ledger's running P&L.
type RiskAdjustedReturns struct {
	ReturnPct    float64
	SharpeRatio  float64
	SortinoRatio float64
	MaxDrawdown  float64
	Volatility   float64
}

// CalculateRiskAdjustedReturns walks the ledger's fills in order, building
// a running P&L series, then derives volatility, Sharpe, Sortino (using
// math.Inf(1) for a positive mean return with zero downside variance, same
// as the original), and max peak-to-trough drawdown.
func CalculateRiskAdjustedReturns(l *trader.Ledger, currentPrice, initialCapital float64) RiskAdjustedReturns {
	fills := l.Fills()
	if len(fills) == 0 {
		return RiskAdjustedReturns{}
	}

	pnlSeries := make([]float64, len(fills))
	running := 0.0
	for i, f := range fills {
		running += f.PnLContribution(currentPrice)
		pnlSeries[i] = running
	}

	finalPnL := l.MarkToMarket(currentPrice)
	returnPct := 0.0
	if initialCapital != 0 {
		returnPct = (finalPnL / initialCapital) * 100.0
	}

	var returns []float64
	if len(pnlSeries) < 2 {
		returns = []float64{0.0}
	} else {
		returns = make([]float64, len(pnlSeries)-1)
		for i := 1; i < len(pnlSeries); i++ {
			returns[i-1] = pnlSeries[i] - pnlSeries[i-1]
		}
	}

	var sum float64
	for _, r := range returns {
		sum += r
	}
	meanReturn := sum / float64(len(returns))

	var variance float64
	for _, r := range returns {
		d := r - meanReturn
		variance += d * d
	}
	variance /= float64(len(returns))
	volatility := math.Sqrt(variance)

	sharpe := 0.0
	if volatility > 0 {
		sharpe = meanReturn / volatility
	}

	var downside []float64
	for _, r := range returns {
		if r < 0 {
			downside = append(downside, r)
		}
	}
	sortino := 0.0
	if len(downside) > 0 {
		var downsideVariance float64
		for _, r := range downside {
			downsideVariance += r * r
		}
		downsideVariance /= float64(len(downside))
		downsideVol := math.Sqrt(downsideVariance)
		if downsideVol > 0 {
			sortino = meanReturn / downsideVol
		}
	} else if meanReturn > 0 {
		sortino = math.Inf(1)
	}

	peak := pnlSeries[0]
	maxDrawdown := 0.0
	for _, pnl := range pnlSeries {
		if pnl > peak {
			peak = pnl
		}
		if drawdown := peak - pnl; drawdown > maxDrawdown {
			maxDrawdown = drawdown
		}
	}

	return RiskAdjustedReturns{
		ReturnPct:    returnPct,
		SharpeRatio:  sharpe,
		SortinoRatio: sortino,
		MaxDrawdown:  maxDrawdown,
		Volatility:   volatility,
	}
}

// Summary is the basic identity/activity block of a performance report.
type Summary struct {
	TraderID               string
	FinalPosition          int64
	TotalFills             int
	AdverseSelectionScore  float64
}

// Report bundles every analytics dimension for one trader at one point in
// time.
type Report struct {
	PnL          PnLAttribution
	Execution    ExecutionQuality
	RiskAdjusted RiskAdjustedReturns
	Summary      Summary
}

// GeneratePerformanceReport computes the full report for l against
// settlement, using initialCapital for percentage-return figures.
func GeneratePerformanceReport(l *trader.Ledger, settlement, initialCapital float64) Report {
	return Report{
		PnL:          CalculatePnLAttribution(l, settlement),
		Execution:    CalculateExecutionQuality(l, settlement),
		RiskAdjusted: CalculateRiskAdjustedReturns(l, settlement, initialCapital),
		Summary: Summary{
			TraderID:              l.TraderID,
			FinalPosition:         l.Position(),
			TotalFills:            l.NumFills(),
			AdverseSelectionScore: l.AdverseSelection(),
		},
	}
}

// RankPercentile returns the percentile (0-100) of subjectPnL within the
// population of comparisonPnLs — used for the "vs bots" leaderboard
// comparison the original's UI derives from generate_performance_report
// plus a leaderboard pass.
func RankPercentile(subjectPnL float64, comparisonPnLs []float64) float64 {
	if len(comparisonPnLs) == 0 {
		return 100.0
	}
	below := 0
	for _, p := range comparisonPnLs {
		if p < subjectPnL {
			below++
		}
	}
	return (float64(below) / float64(len(comparisonPnLs))) * 100.0
}
