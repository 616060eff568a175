// Package config holds the tunable game parameters for a simulated session.
package config

// Difficulty controls market and bot behavior for a session. position_limit
// is fixed at 2 across every tier; it's a hard game rule, not a difficulty knob.
type Difficulty struct {
	Name                string
	RoundTime           int     // seconds per round
	QuoteLifetime       float64 // seconds before a resting order expires
	PositionLimit       int
	TakerFee            float64
	BotLatencyMult      float64
	ToxicityThreshold   float64
	VolatilityCap       float64
	EnableSuddenEvents  bool
	TotalRounds         int
}

func Easy() Difficulty {
	return Difficulty{
		Name:               "EASY",
		RoundTime:          120,
		QuoteLifetime:      9.0,
		PositionLimit:      2,
		TakerFee:           0.00,
		BotLatencyMult:     2.0,
		ToxicityThreshold:  10.0,
		VolatilityCap:      3.0,
		EnableSuddenEvents: false,
		TotalRounds:        6,
	}
}

func Medium() Difficulty {
	return Difficulty{
		Name:               "MEDIUM",
		RoundTime:          90,
		QuoteLifetime:      7.0,
		PositionLimit:      2,
		TakerFee:           0.10,
		BotLatencyMult:     1.2,
		ToxicityThreshold:  4.0,
		VolatilityCap:      4.5,
		EnableSuddenEvents: true,
		TotalRounds:        6,
	}
}

func Hard() Difficulty {
	return Difficulty{
		Name:               "HARD",
		RoundTime:          75,
		QuoteLifetime:      6.0,
		PositionLimit:      2,
		TakerFee:           0.15,
		BotLatencyMult:     0.9,
		ToxicityThreshold:  3.0,
		VolatilityCap:      6.0,
		EnableSuddenEvents: true,
		TotalRounds:        6,
	}
}

func Axxela() Difficulty {
	return Difficulty{
		Name:               "AXXELA",
		RoundTime:          60,
		QuoteLifetime:      5.0,
		PositionLimit:      2,
		TakerFee:           0.20,
		BotLatencyMult:     0.65,
		ToxicityThreshold:  2.0,
		VolatilityCap:      7.0,
		EnableSuddenEvents: true,
		TotalRounds:        6,
	}
}
