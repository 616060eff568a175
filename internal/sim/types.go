package sim

import "marketsim/internal/book"

// GameState is the session lifecycle state.
type GameState string

const (
	NotStarted   GameState = "not_started"
	RoundActive  GameState = "round_active"
	RoundEnding  GameState = "round_ending"
	GameComplete GameState = "game_complete"
)

// EventType tags the kind of MarketEvent emitted onto the event stream.
type EventType string

const (
	EventRoundStart      EventType = "round_start"
	EventRoundEnd        EventType = "round_end"
	EventDigitReveal     EventType = "digit_reveal"
	EventTradeExecuted   EventType = "trade_executed"
	EventPositionChange  EventType = "position_change"
	EventRiskAlert       EventType = "risk_alert"
	EventVolatilitySpike EventType = "volatility_spike"
	EventMarginCall      EventType = "margin_call"
	EventLeaderboard     EventType = "leaderboard"
)

// MarketEvent is an immutable record appended to the session's event stream
// and fanned out to every event subscriber.
type MarketEvent struct {
	Timestamp float64
	Type      EventType
	Data      map[string]any
	Message   string
}

// LeaderboardEntry pairs a trader id with its mark-to-market P&L.
type LeaderboardEntry struct {
	TraderID string
	PnL      float64
}

// MarketSnapshot is the full read-only state of a session at one instant,
// the contract every UI or recorder consumes instead of reaching into the
// Simulator's internals.
type MarketSnapshot struct {
	Timestamp      float64
	GameState      GameState
	CurrentRound   int
	TotalRounds    int
	TimeRemaining  int
	FairValue      float64
	TheoreticalStd float64
	Volatility     float64
	Digits         []*int
	MaskedDigits   []string

	BestBid  *float64
	BestAsk  *float64
	Spread   *float64
	MidPrice *float64
	Bids     []book.DepthEntry
	Asks     []book.DepthEntry

	UserPosition  int64
	UserCash      float64
	UserFees      float64
	UserPnL       float64
	UserVWAP      float64
	UserToxicity  float64

	Delta float64
	Gamma float64
	Vega  float64
	Theta float64

	PositionUtilization float64
	MarginCushion       float64
	VaR95               float64
	AtRisk              bool

	RecentTrades []string
	RecentAlerts []string

	BotPositions map[string]int64
	BotPnLs      map[string]float64
	Leaderboard  []LeaderboardEntry

	SettlementPrice *int
	TotalVolume     float64
	NumMatches      int64
	BookDepth       int
}
