// Package risk implements the pre-trade, real-time, and margin-call layers
// of risk control over a trader.Ledger: position/order-size/concentration
// checks before an order is admitted, and margin-call/loss-limit sweeps
// driven by the simulation tick.
package risk

import (
	"fmt"
	"math"

	"github.com/rs/zerolog/log"

	"marketsim/internal/trader"
)

// Violation tags the kind of risk rule that fired.
type Violation string

const (
	ViolationPositionLimit Violation = "position_limit"
	ViolationMarginCall    Violation = "margin_call"
	ViolationLossLimit     Violation = "loss_limit"
	ViolationOrderSize     Violation = "order_size"
	ViolationConcentration Violation = "concentration"
)

// Event is an immutable audit record of a risk decision.
type Event struct {
	Timestamp     float64
	TraderID      string
	Violation     Violation
	Severity      string // "warning" | "critical"
	Details       string
	ActionTaken   string // "blocked" | "liquidated" | "trading_halted"
}

const liquidationSlippageTicks = 5.0

// Manager holds the limits for one session and a bounded audit trail. It
// performs no locking of its own — the simulator calls it from its single
// tick goroutine.
type Manager struct {
	PositionLimit       int64
	MarginThreshold     float64
	LossLimit           float64
	MaxOrderSize        int64
	ConcentrationLimit  float64

	events []Event

	totalBlocks       int64
	totalLiquidations int64
	totalWarnings     int64
}

func New(positionLimit int64, marginThreshold, lossLimit float64, maxOrderSize int64, concentrationLimit float64) *Manager {
	return &Manager{
		PositionLimit:      positionLimit,
		MarginThreshold:    marginThreshold,
		LossLimit:          lossLimit,
		MaxOrderSize:       maxOrderSize,
		ConcentrationLimit: concentrationLimit,
	}
}

// CanAddPosition pre-checks a buy of quantity lots.
func (m *Manager) CanAddPosition(l *trader.Ledger, quantity int64) (bool, string) {
	newPosition := l.Position() + quantity
	if abs64(newPosition) > m.PositionLimit {
		m.totalBlocks++
		return false, fmt.Sprintf("position limit (%d) would be exceeded", m.PositionLimit)
	}
	if quantity > m.MaxOrderSize {
		m.totalBlocks++
		return false, fmt.Sprintf("order size (%d) exceeds max (%d)", quantity, m.MaxOrderSize)
	}
	return true, ""
}

// CanReducePosition pre-checks a sell of quantity lots.
func (m *Manager) CanReducePosition(l *trader.Ledger, quantity int64) (bool, string) {
	newPosition := l.Position() - quantity
	if abs64(newPosition) > m.PositionLimit {
		m.totalBlocks++
		return false, fmt.Sprintf("position limit (%d) would be exceeded", m.PositionLimit)
	}
	if quantity > m.MaxOrderSize {
		m.totalBlocks++
		return false, fmt.Sprintf("order size (%d) exceeds max (%d)", quantity, m.MaxOrderSize)
	}
	return true, ""
}

// ValidateOrder combines size/price sanity and position-limit checks into a
// single pre-admission call.
func (m *Manager) ValidateOrder(l *trader.Ledger, side trader.Side, quantity int64, price float64) (bool, string) {
	if quantity <= 0 {
		return false, "quantity must be positive"
	}
	if quantity > m.MaxOrderSize {
		m.totalBlocks++
		return false, fmt.Sprintf("order size exceeds maximum (%d)", m.MaxOrderSize)
	}
	if price <= 0 {
		return false, "price must be positive"
	}
	if side == trader.BuySide {
		return m.CanAddPosition(l, quantity)
	}
	return m.CanReducePosition(l, quantity)
}

// CheckMarginCall liquidates l's entire position if its mark-to-market P&L
// has fallen below the margin threshold. Returns true if liquidation fired.
func (m *Manager) CheckMarginCall(l *trader.Ledger, fairValue, currentTime float64) bool {
	pnl := l.MarkToMarket(fairValue)
	if pnl >= m.MarginThreshold {
		return false
	}

	m.liquidate(l, fairValue)
	m.totalLiquidations++

	m.record(Event{
		Timestamp:   currentTime,
		TraderID:    l.TraderID,
		Violation:   ViolationMarginCall,
		Severity:    "critical",
		Details:     fmt.Sprintf("P&L %.2f below threshold %.2f", pnl, m.MarginThreshold),
		ActionTaken: "liquidated",
	})
	log.Warn().
		Str("trader_id", l.TraderID).
		Float64("pnl", pnl).
		Float64("threshold", m.MarginThreshold).
		Msg("margin call: position liquidated")

	return true
}

// CheckLossLimit reports (without liquidating) whether l has breached the
// session loss limit. The caller decides how to act (e.g. halt the trader).
func (m *Manager) CheckLossLimit(l *trader.Ledger, fairValue, currentTime float64) bool {
	pnl := l.MarkToMarket(fairValue)
	if pnl >= m.LossLimit {
		return false
	}

	m.totalWarnings++
	m.record(Event{
		Timestamp:   currentTime,
		TraderID:    l.TraderID,
		Violation:   ViolationLossLimit,
		Severity:    "critical",
		Details:     fmt.Sprintf("daily loss limit hit: %.2f < %.2f", pnl, m.LossLimit),
		ActionTaken: "trading_halted",
	})
	log.Error().Str("trader_id", l.TraderID).Float64("pnl", pnl).Msg("loss limit breached")
	return true
}

// CalculateVaR is a simplified Value-at-Risk estimate: position size times
// the standard deviation of the trader's last 10 fill prices, scaled by a
// z-score and the square root of the time horizon fraction of a day.
func (m *Manager) CalculateVaR(l *trader.Ledger, confidence float64, horizonSeconds int) float64 {
	fills := l.Fills()
	if len(fills) < 2 {
		return 0
	}

	recent := fills
	if len(recent) > 10 {
		recent = recent[len(recent)-10:]
	}

	var sum float64
	for _, f := range recent {
		sum += f.Price
	}
	mean := sum / float64(len(recent))

	var variance float64
	for _, f := range recent {
		d := f.Price - mean
		variance += d * d
	}
	variance /= float64(len(recent))
	volatility := math.Sqrt(variance)

	zScore := 2.33
	if confidence == 0.95 {
		zScore = 1.65
	}
	timeFraction := math.Sqrt(float64(horizonSeconds) / 86400.0)

	return math.Abs(float64(l.Position())) * volatility * zScore * timeFraction
}

// CheckConcentration rejects an order whose size is too large a share of
// totalBookDepth, the resting quantity the caller passes in (the bot
// manager passes both sides of the book combined).
func (m *Manager) CheckConcentration(orderSize, totalBookDepth int64) (bool, string) {
	if totalBookDepth == 0 {
		return false, "no liquidity available"
	}
	concentration := float64(orderSize) / float64(totalBookDepth)
	if concentration > m.ConcentrationLimit {
		return false, fmt.Sprintf("order represents %.1f%% of book depth, limit is %.1f%%",
			concentration*100, m.ConcentrationLimit*100)
	}
	return true, ""
}

func (m *Manager) liquidate(l *trader.Ledger, fairValue float64) {
	if l.Position() == 0 {
		return
	}
	var liquidationPrice float64
	if l.Position() > 0 {
		liquidationPrice = fairValue - liquidationSlippageTicks
	} else {
		liquidationPrice = fairValue + liquidationSlippageTicks
	}
	l.ApplyLiquidation(liquidationPrice)
}

// Metrics is the risk snapshot surfaced to analytics/UI for one trader.
type Metrics struct {
	Position             int64
	PositionLimit        int64
	PositionUtilization  float64
	MTMPnL               float64
	MarginThreshold      float64
	MarginCushion        float64
	LossLimit            float64
	VaR95                float64
	AtRisk               bool
}

// GetRiskMetrics reports a trader's current standing against every limit.
// AtRisk is true once the margin cushion has fallen to within 20% of the
// threshold's magnitude.
func (m *Manager) GetRiskMetrics(l *trader.Ledger, currentPrice float64) Metrics {
	pnl := l.MarkToMarket(currentPrice)
	cushion := pnl - m.MarginThreshold
	band := 0.0
	if m.MarginThreshold != 0 {
		band = 0.2 * math.Abs(m.MarginThreshold)
	}

	utilization := 0.0
	if m.PositionLimit > 0 {
		utilization = float64(abs64(l.Position())) / float64(m.PositionLimit)
	}

	return Metrics{
		Position:            l.Position(),
		PositionLimit:       m.PositionLimit,
		PositionUtilization: utilization,
		MTMPnL:              pnl,
		MarginThreshold:     m.MarginThreshold,
		MarginCushion:       cushion,
		LossLimit:           m.LossLimit,
		VaR95:               m.CalculateVaR(l, 0.95, 60),
		AtRisk:              cushion <= band,
	}
}

// Stats summarizes manager-wide activity.
type Stats struct {
	TotalBlocks       int64
	TotalLiquidations int64
	TotalWarnings     int64
	TotalEvents       int
}

func (m *Manager) Stats() Stats {
	return Stats{
		TotalBlocks:       m.totalBlocks,
		TotalLiquidations: m.totalLiquidations,
		TotalWarnings:     m.totalWarnings,
		TotalEvents:       len(m.events),
	}
}

const maxEventHistory = 500

func (m *Manager) record(e Event) {
	m.events = append(m.events, e)
	if len(m.events) > maxEventHistory {
		m.events = m.events[len(m.events)-maxEventHistory:]
	}
}

// RecentEvents returns up to n of the most recent risk events, oldest first.
func (m *Manager) RecentEvents(n int) []Event {
	if n >= len(m.events) {
		out := make([]Event, len(m.events))
		copy(out, m.events)
		return out
	}
	out := make([]Event, n)
	copy(out, m.events[len(m.events)-n:])
	return out
}

func abs64(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}
