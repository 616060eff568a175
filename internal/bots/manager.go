package bots

import (
	"fmt"
	"math/rand"
	"strings"

	"github.com/rs/zerolog/log"

	"marketsim/internal/book"
	"marketsim/internal/config"
	"marketsim/internal/risk"
	"marketsim/internal/trader"
)

// rosterSpec is the per-difficulty headcount and shared tuning knobs for
// the four archetypes.
type rosterSpec struct {
	mm, momentum, arbitrage, noise int
	latencyMult                    float64
	aggression                     float64
}

func rosterFor(difficultyName string) rosterSpec {
	switch strings.ToLower(difficultyName) {
	case "hard", "axxela":
		return rosterSpec{mm: 4, momentum: 4, arbitrage: 3, noise: 10, latencyMult: 0.9, aggression: 0.55}
	case "easy":
		return rosterSpec{mm: 2, momentum: 2, arbitrage: 1, noise: 6, latencyMult: 1.6, aggression: 0.25}
	default: // medium
		return rosterSpec{mm: 3, momentum: 3, arbitrage: 2, noise: 8, latencyMult: 1.2, aggression: 0.40}
	}
}

// buildRoster constructs the closed bot lineup for a difficulty tier. Names
// and per-archetype tuning mirror the fixed archetype identities the
// simulation ships with.
func buildRoster(spec rosterSpec) []Config {
	var out []Config

	for i := 0; i < spec.mm; i++ {
		out = append(out, Config{
			Name:                fmt.Sprintf("MM_Citadel_%d", i+1),
			Kind:                HFTMarketMaker,
			BaseLatency:         0.10 * spec.latencyMult,
			QuoteSize:           1,
			Aggression:          0.10,
			RiskAversion:        0.70,
			InventorySkew:       1.1,
			ToxicitySensitivity: 1.4,
			RefreshMinS:         0.18,
			StickinessTicks:     1,
		})
	}
	for i := 0; i < spec.momentum; i++ {
		out = append(out, Config{
			Name:                fmt.Sprintf("Mom_Trend_%d", i+1),
			Kind:                Momentum,
			BaseLatency:         0.22 * spec.latencyMult,
			QuoteSize:           1,
			Aggression:          spec.aggression,
			RiskAversion:        0.25,
			InventorySkew:       0.4,
			ToxicitySensitivity: 0.6,
			RefreshMinS:         0.22,
			StickinessTicks:     1,
		})
	}
	for i := 0; i < spec.arbitrage; i++ {
		aggression := spec.aggression + 0.15
		if aggression > 0.80 {
			aggression = 0.80
		}
		out = append(out, Config{
			Name:                fmt.Sprintf("Arb_Vulture_%d", i+1),
			Kind:                Arbitrage,
			BaseLatency:         0.14 * spec.latencyMult,
			QuoteSize:           1,
			Aggression:          aggression,
			RiskAversion:        0.35,
			InventorySkew:       0.6,
			ToxicitySensitivity: 0.8,
			RefreshMinS:         0.20,
			StickinessTicks:     1,
		})
	}
	for i := 0; i < spec.noise; i++ {
		out = append(out, Config{
			Name:                fmt.Sprintf("Retail_%d", i+1),
			Kind:                Noise,
			BaseLatency:         0.55 * spec.latencyMult,
			QuoteSize:           1,
			Aggression:          0.35,
			RiskAversion:        0.10,
			InventorySkew:       0.2,
			ToxicitySensitivity: 0.2,
			RefreshMinS:         0.30,
			StickinessTicks:     2,
		})
	}

	return out
}

// Manager owns the bot roster for one session and drives their per-tick
// quoting and liquidity-taking against the book.
type Manager struct {
	difficulty config.Difficulty
	rng        *rand.Rand
	bots       []*Bot
	tape       []Print
}

// New builds a Manager and its fixed bot roster for the given difficulty.
// seed is used directly (the simulation is expected to supply a
// deterministic per-session seed); pass 12345 to match the reference
// default.
func New(difficulty config.Difficulty, seed int64) *Manager {
	spec := rosterFor(difficulty.Name)
	cfgs := buildRoster(spec)
	rng := rand.New(rand.NewSource(seed))

	bots := make([]*Bot, 0, len(cfgs))
	for _, cfg := range cfgs {
		bots = append(bots, newBot(cfg, rng))
	}

	return &Manager{difficulty: difficulty, rng: rng, bots: bots}
}

// GetBotNames returns the roster's names in construction order.
func (m *Manager) GetBotNames() []string {
	out := make([]string, len(m.bots))
	for i, b := range m.bots {
		out[i] = b.cfg.Name
	}
	return out
}

// RecordPrint appends a tape entry for momentum bots' flow-imbalance signal,
// keeping only the most recent window.
func (m *Manager) RecordPrint(p Print) {
	m.tape = append(m.tape, p)
	if len(m.tape) > 120 {
		m.tape = m.tape[len(m.tape)-120:]
	}
}

// allowed combines order validation and concentration checks into the
// single gate every bot order (passive or IOC) must clear. An empty book
// always passes concentration — otherwise no bot could ever place the
// first order of a round.
func allowed(rm *risk.Manager, l *trader.Ledger, side trader.Side, quantity int64, price float64, bookDepthTotal int64) bool {
	if rm == nil {
		return true
	}
	if ok, _ := rm.ValidateOrder(l, side, quantity, price); !ok {
		return false
	}
	if bookDepthTotal == 0 {
		return true
	}
	ok, _ := rm.CheckConcentration(quantity, bookDepthTotal)
	return ok
}

func bookSide(s book.Side) trader.Side {
	if s == book.Buy {
		return trader.BuySide
	}
	return trader.SellSide
}

// UpdateQuotesInput bundles the per-tick market context every bot reacts to.
type UpdateQuotesInput struct {
	Book          *book.OrderBook
	Ledgers       map[string]*trader.Ledger
	FairValue     float64
	Volatility    float64
	UserToxicity  float64
	Now           float64
	RiskManager   *risk.Manager
	PositionLimit int64
}

// UpdateQuotes is the per-tick bot orchestration: latency-gate each bot,
// ask it to decide, replace its resting quotes when the refresh policy says
// to, then place any IOC intentions as marketable limit orders gated by
// position and risk checks. Returns the order ids of IOC orders placed this
// tick so the caller can cancel whatever fails to match immediately.
func (m *Manager) UpdateQuotes(in UpdateQuotesInput) []int64 {
	var iocOrderIDs []int64
	tickSize := 0.1

	bestBid, bestAsk := in.Book.BestBidAsk()

	for _, b := range m.bots {
		ledger, ok := in.Ledgers[b.cfg.Name]
		if !ok {
			continue
		}
		if !b.LatencyReady(in.Now, m.difficulty.BotLatencyMult) {
			continue
		}

		decision := b.decide(decisionInput{
			now:           in.Now,
			book:          in.Book,
			ledger:        ledger,
			tickSize:      tickSize,
			fairValue:     in.FairValue,
			volatility:    in.Volatility,
			userToxicity:  in.UserToxicity,
			positionLimit: in.PositionLimit,
			tape:          m.tape,
		})

		if b.shouldRefresh(tickSize, decision.Bid, decision.Ask, in.Now) {
			in.Book.CancelTrader(b.cfg.Name, nil)

			totalDepth := in.Book.TotalQuantity(book.Buy) + in.Book.TotalQuantity(book.Sell)
			if decision.Bid != nil && allowed(in.RiskManager, ledger, trader.BuySide, b.cfg.QuoteSize, *decision.Bid, totalDepth) {
				if _, err := in.Book.Add(b.cfg.Name, book.Buy, *decision.Bid, b.cfg.QuoteSize, in.Now); err != nil {
					log.Debug().Err(err).Str("bot", b.cfg.Name).Msg("bot quote rejected")
				}
			}
			if decision.Ask != nil && allowed(in.RiskManager, ledger, trader.SellSide, b.cfg.QuoteSize, *decision.Ask, totalDepth) {
				if _, err := in.Book.Add(b.cfg.Name, book.Sell, *decision.Ask, b.cfg.QuoteSize, in.Now); err != nil {
					log.Debug().Err(err).Str("bot", b.cfg.Name).Msg("bot quote rejected")
				}
			}

			b.state.lastBid = decision.Bid
			b.state.lastAsk = decision.Ask
			b.state.lastQuoteTime = in.Now
		}

		for _, ioc := range decision.IOCs {
			var price float64
			switch ioc.Side {
			case book.Buy:
				if bestAsk == nil {
					continue
				}
				price = *bestAsk
			default:
				if bestBid == nil {
					continue
				}
				price = *bestBid
			}

			totalDepth := in.Book.TotalQuantity(book.Buy) + in.Book.TotalQuantity(book.Sell)
			if !allowed(in.RiskManager, ledger, bookSide(ioc.Side), ioc.Quantity, price, totalDepth) {
				continue
			}

			order, err := in.Book.Add(b.cfg.Name, ioc.Side, price, ioc.Quantity, in.Now)
			if err != nil {
				log.Debug().Err(err).Str("bot", b.cfg.Name).Msg("bot IOC rejected")
				continue
			}
			iocOrderIDs = append(iocOrderIDs, order.OrderID)
		}
	}

	return iocOrderIDs
}
