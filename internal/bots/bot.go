// Package bots implements the closed set of bot archetypes that provide and
// take liquidity against the simulated book: HFT market makers, momentum
// traders, arbitrageurs, and noise traders. Archetypes are dispatched by a
// tagged Kind rather than open subclassing, matching the bounded roster the
// simulation is built around.
package bots

import (
	"math"
	"math/rand"

	"marketsim/internal/book"
	"marketsim/internal/trader"
)

// Kind tags which decision function a bot runs.
type Kind int

const (
	HFTMarketMaker Kind = iota
	Momentum
	Arbitrage
	Noise
)

// Config is the per-bot parameterization. Values are set by buildRoster per
// difficulty tier and archetype, not hand-tuned per instance.
type Config struct {
	Name        string
	Kind        Kind
	BaseLatency float64

	QuoteSize            int64
	Aggression           float64
	RiskAversion         float64
	InventorySkew        float64
	ToxicitySensitivity  float64
	RefreshMinS          float64
	StickinessTicks      int
}

// ewma is an exponentially weighted moving average with no warm-up period:
// the first observation seeds the value directly.
type ewma struct {
	alpha float64
	value float64
	init  bool
}

func (e *ewma) update(x float64) float64 {
	if !e.init {
		e.value = x
		e.init = true
		return e.value
	}
	e.value = e.alpha*x + (1-e.alpha)*e.value
	return e.value
}

// state is a bot's mutable working memory across ticks.
type state struct {
	nextActionTime float64
	lastQuoteTime  float64
	lastBid        *float64
	lastAsk        *float64

	emaFast ewma
	emaSlow ewma
}

// Print is one tape entry describing an aggressive fill, fed to momentum
// bots for order-flow-imbalance signals.
type Print struct {
	Timestamp float64
	Price     float64
	Quantity  int64
	TakerSide book.Side
}

// Decision is what a bot wants to do this tick: two-sided resting quotes
// (either may be nil, meaning "don't quote that side") plus zero or more
// immediate-or-cancel intentions.
type Decision struct {
	Bid  *float64
	Ask  *float64
	IOCs []IOCIntent
}

type IOCIntent struct {
	Side     book.Side
	Quantity int64
}

// Bot is one running strategy instance.
type Bot struct {
	cfg   Config
	rng   *rand.Rand
	state state
}

func newBot(cfg Config, rng *rand.Rand) *Bot {
	return &Bot{
		cfg: cfg,
		rng: rng,
		state: state{
			emaFast: ewma{alpha: 0.35},
			emaSlow: ewma{alpha: 0.08},
		},
	}
}

// LatencyReady reports whether the bot may act this tick, advancing its
// next permitted action time with a jittered version of its base latency
// scaled by the difficulty's bot latency multiplier.
func (b *Bot) LatencyReady(now, latencyMult float64) bool {
	if now < b.state.nextActionTime {
		return false
	}
	jitter := 0.25 * b.cfg.BaseLatency
	wait := (b.cfg.BaseLatency + (b.rng.Float64()*2-1)*jitter) * latencyMult
	if wait < 0.01 {
		wait = 0.01
	}
	b.state.nextActionTime = now + wait
	return true
}

func snap(tickSize, px float64) float64 {
	ticks := math.Round(px / tickSize)
	return math.Round(ticks*tickSize*1e8) / 1e8
}

// shouldRefresh decides whether to cancel+replace resting quotes this tick:
// publish immediately if there's no prior quote, skip if the last quote was
// too recent, and otherwise only refresh if either side moved by at least
// the configured stickiness threshold.
func (b *Bot) shouldRefresh(tickSize float64, bid, ask *float64, now float64) bool {
	if b.state.lastBid == nil && b.state.lastAsk == nil {
		return true
	}
	if now-b.state.lastQuoteTime < b.cfg.RefreshMinS {
		return false
	}

	threshold := float64(b.cfg.StickinessTicks) * tickSize
	changed := func(a, c *float64) bool {
		if a == nil && c == nil {
			return false
		}
		if (a == nil) != (c == nil) {
			return true
		}
		return math.Abs(*a-*c) >= threshold
	}
	return changed(b.state.lastBid, bid) || changed(b.state.lastAsk, ask)
}

// decisionInput bundles everything a Decide implementation needs so the
// signature stays stable across archetypes.
type decisionInput struct {
	now            float64
	book           *book.OrderBook
	ledger         *trader.Ledger
	tickSize       float64
	fairValue      float64
	volatility     float64
	userToxicity   float64
	positionLimit  int64
	tape           []Print
}

func (b *Bot) decide(in decisionInput) Decision {
	switch b.cfg.Kind {
	case HFTMarketMaker:
		return b.decideHFTMarketMaker(in)
	case Momentum:
		return b.decideMomentum(in)
	case Arbitrage:
		return b.decideArbitrage(in)
	default:
		return b.decideNoise(in)
	}
}

func ptr(v float64) *float64 { return &v }

func clampSpread(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func positionGate(pos, limit int64, bid, ask *float64) (*float64, *float64) {
	if pos >= limit {
		bid = nil
	}
	if pos <= -limit {
		ask = nil
	}
	return bid, ask
}

// decideHFTMarketMaker posts two-sided quotes, tight in calm markets and
// widened/skewed against toxicity and inventory (Avellaneda-Stoikov
// flavored reservation price). The bid is dropped at the long position
// limit and the ask at the short limit.
func (b *Bot) decideHFTMarketMaker(in decisionInput) Decision {
	pos := in.ledger.Position()
	vol := math.Max(0.25, in.volatility)

	ownTox := math.Abs(in.ledger.AdverseSelection())
	tox := math.Abs(in.userToxicity)*0.7 + ownTox*0.3
	toxMult := 1.0 + b.cfg.ToxicitySensitivity*math.Max(0, tox)*0.12

	baseSpread := (0.9 + 1.2*vol) * toxMult
	spread := clampSpread(baseSpread, 0.8, 5.0)

	limit := in.positionLimit
	if limit < 1 {
		limit = 1
	}
	inv := float64(pos) / float64(limit)
	reservation := in.fairValue - (b.cfg.InventorySkew*b.cfg.RiskAversion*inv*vol*vol)*0.8

	bid := snap(in.tickSize, reservation-spread/2.0)
	ask := snap(in.tickSize, reservation+spread/2.0)
	if bid >= ask {
		ask = snap(in.tickSize, bid+in.tickSize)
	}

	bidP, askP := positionGate(pos, in.positionLimit, ptr(bid), ptr(ask))
	return Decision{Bid: bidP, Ask: askP}
}

// decideMomentum watches order-flow imbalance on the tape and a dual-EMA
// mid-price trend filter, taking liquidity when both agree.
func (b *Bot) decideMomentum(in decisionInput) Decision {
	bidP, askP := in.book.BestBidAsk()
	if bidP == nil || askP == nil {
		return Decision{}
	}
	mid := (*bidP + *askP) / 2.0
	fast := b.state.emaFast.update(mid)
	slow := b.state.emaSlow.update(mid)
	trend := fast - slow

	var flow int64
	tape := in.tape
	if len(tape) > 12 {
		tape = tape[len(tape)-12:]
	}
	for _, p := range tape {
		if p.TakerSide == book.Buy {
			flow += p.Quantity
		} else {
			flow -= p.Quantity
		}
	}

	vol := math.Max(0.25, in.volatility)
	thrTrend := 0.25 * vol
	thrFlow := 2.0

	var iocs []IOCIntent
	pos := in.ledger.Position()
	if pos < in.positionLimit && trend > thrTrend && float64(flow) > thrFlow {
		if b.rng.Float64() < b.cfg.Aggression {
			iocs = append(iocs, IOCIntent{Side: book.Buy, Quantity: 1})
		}
	}
	if pos > -in.positionLimit && trend < -thrTrend && float64(flow) < -thrFlow {
		if b.rng.Float64() < b.cfg.Aggression {
			iocs = append(iocs, IOCIntent{Side: book.Sell, Quantity: 1})
		}
	}

	spread := clampSpread(1.2+0.9*vol, 1.0, 4.0)
	lean := clampSpread(trend/math.Max(1e-6, 2.0*thrTrend), -1.0, 1.0) * 0.25 * spread

	bid := snap(in.tickSize, in.fairValue-spread/2.0+lean)
	ask := snap(in.tickSize, in.fairValue+spread/2.0+lean)
	bidR, askR := positionGate(pos, in.positionLimit, ptr(bid), ptr(ask))

	return Decision{Bid: bidR, Ask: askR, IOCs: iocs}
}

// decideArbitrage compares the book mid against the tick's true fair value
// and hits the book when the deviation exceeds an edge threshold.
func (b *Bot) decideArbitrage(in decisionInput) Decision {
	bidP, askP := in.book.BestBidAsk()
	if bidP == nil || askP == nil {
		return Decision{}
	}
	mid := (*bidP + *askP) / 2.0
	vol := math.Max(0.25, in.volatility)
	edge := math.Max(0.8, 0.9*vol)

	pos := in.ledger.Position()
	var iocs []IOCIntent
	switch {
	case mid < in.fairValue-edge && pos < in.positionLimit:
		if b.rng.Float64() < b.cfg.Aggression {
			iocs = append(iocs, IOCIntent{Side: book.Buy, Quantity: 1})
		}
	case mid > in.fairValue+edge && pos > -in.positionLimit:
		if b.rng.Float64() < b.cfg.Aggression {
			iocs = append(iocs, IOCIntent{Side: book.Sell, Quantity: 1})
		}
	}

	spread := clampSpread(1.0+0.7*vol, 1.0, 4.0)
	bid := snap(in.tickSize, in.fairValue-spread/2.0)
	ask := snap(in.tickSize, in.fairValue+spread/2.0)
	bidR, askR := positionGate(pos, in.positionLimit, ptr(bid), ptr(ask))

	return Decision{Bid: bidR, Ask: askR, IOCs: iocs}
}

// decideNoise fires random IOC orders regardless of fair value and rests
// wide passive quotes so it never dominates liquidity.
func (b *Bot) decideNoise(in decisionInput) Decision {
	var iocs []IOCIntent
	pos := in.ledger.Position()
	if b.rng.Float64() < 0.08 && b.rng.Float64() < b.cfg.Aggression {
		if b.rng.Float64() < 0.5 && pos < in.positionLimit {
			iocs = append(iocs, IOCIntent{Side: book.Buy, Quantity: 1})
		} else if pos > -in.positionLimit {
			iocs = append(iocs, IOCIntent{Side: book.Sell, Quantity: 1})
		}
	}

	vol := math.Max(0.25, in.volatility)
	spread := 3.5 + 0.8*vol
	bid := snap(in.tickSize, in.fairValue-spread/2.0)
	ask := snap(in.tickSize, in.fairValue+spread/2.0)
	bidR, askR := positionGate(pos, in.positionLimit, ptr(bid), ptr(ask))

	return Decision{Bid: bidR, Ask: askR, IOCs: iocs}
}
